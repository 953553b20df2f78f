// Relay — signaling relay server entry point.
//
// Fans room-scoped signaling messages out between the two parties of a call.
// Configuration comes from chatter.yaml / CHATTER_* environment variables,
// with flags taking precedence.
package main

import (
	"flag"
	"os"

	"github.com/gin-gonic/gin"

	"github.com/chatter-io/chatter/internal/config"
	"github.com/chatter-io/chatter/internal/relay"
	"github.com/chatter-io/chatter/internal/util"
)

func main() {
	configPath := flag.String("config", "", "Directory holding chatter.yaml (optional)")
	listen := flag.String("listen", "", "Listen address, e.g. :8080 (overrides config)")
	secret := flag.String("secret", "", "JWT secret; enables auth when set (overrides config)")
	debugMode := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if *debugMode {
		util.EnableDebug()
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		util.LogError("load config: %v", err)
		os.Exit(1)
	}
	if *listen != "" {
		cfg.Relay.Listen = *listen
	}
	if *secret != "" {
		cfg.Relay.JWTSecret = *secret
	}

	srv := relay.NewServer(relay.Options{
		JWTSecret:      cfg.Relay.JWTSecret,
		AllowedOrigins: cfg.Relay.AllowedOrigins,
	})

	util.LogInfo("relay listening on %s (auth: %v)", cfg.Relay.Listen, cfg.Relay.JWTSecret != "")
	if err := srv.Run(cfg.Relay.Listen); err != nil {
		util.LogError("relay stopped: %v", err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	return config.LoadEnv()
}

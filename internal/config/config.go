// Package config loads configuration from chatter.yaml and CHATTER_-prefixed
// environment variables.
package config

import (
	"os"
	"time"

	"github.com/kkyr/fig"
)

const EnvPrefix = "CHATTER"

// Config holds every tunable for the client and the relay.
type Config struct {
	Relay  Relay  `fig:"relay"`
	Signal Signal `fig:"signal"`

	// ICEServers are handed to the peer transport for candidate gathering.
	ICEServers []string `fig:"ice_servers" default:"[stun:stun.l.google.com:19302,stun:stun1.l.google.com:19302]"`
}

// Relay configures both sides of the relay contract: where the client dials
// and where the server listens.
type Relay struct {
	URL            string   `fig:"url" default:"ws://127.0.0.1:8080/ws"`
	Listen         string   `fig:"listen" default:":8080"`
	JWTSecret      string   `fig:"jwt_secret"`
	AllowedOrigins []string `fig:"allowed_origins"`
}

// Signal configures the channel's reconnect policy.
type Signal struct {
	ReconnectAttempts int           `fig:"reconnect_attempts" default:"5"`
	ReconnectDelay    time.Duration `fig:"reconnect_delay" default:"1s"`
}

// Load reads chatter.yaml from the given path (or the usual lookup dirs when
// empty) and applies environment overrides.
func Load(path string) (*Config, error) {
	dirs := []string{path}
	if path == "" {
		dirs = append(dirs, ".", "configs")
		if home, err := os.UserHomeDir(); err == nil {
			dirs = append(dirs, home+"/.chatter")
		}
	}
	var cfg Config
	if err := fig.Load(&cfg, fig.File("chatter.yaml"), fig.Dirs(dirs...), fig.UseEnv(EnvPrefix)); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadEnv builds a config from defaults and environment variables only.
func LoadEnv() (*Config, error) {
	var cfg Config
	if err := fig.Load(&cfg, fig.IgnoreFile(), fig.UseEnv(EnvPrefix)); err != nil {
		return nil, err
	}
	return &cfg, nil
}

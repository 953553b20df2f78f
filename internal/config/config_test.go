package config

import (
	"testing"
	"time"
)

func TestLoadEnvDefaults(t *testing.T) {
	cfg, err := LoadEnv()
	if err != nil {
		t.Fatalf("LoadEnv: %v", err)
	}

	if cfg.Relay.URL != "ws://127.0.0.1:8080/ws" {
		t.Errorf("relay url = %q", cfg.Relay.URL)
	}
	if cfg.Relay.Listen != ":8080" {
		t.Errorf("listen = %q", cfg.Relay.Listen)
	}
	if cfg.Signal.ReconnectAttempts != 5 {
		t.Errorf("reconnect attempts = %d, want 5", cfg.Signal.ReconnectAttempts)
	}
	if cfg.Signal.ReconnectDelay != time.Second {
		t.Errorf("reconnect delay = %s, want 1s", cfg.Signal.ReconnectDelay)
	}
	if len(cfg.ICEServers) != 2 {
		t.Errorf("ice servers = %v, want the two STUN defaults", cfg.ICEServers)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("CHATTER_RELAY_URL", "ws://relay.example:9000/ws")
	t.Setenv("CHATTER_SIGNAL_RECONNECT_ATTEMPTS", "8")

	cfg, err := LoadEnv()
	if err != nil {
		t.Fatalf("LoadEnv: %v", err)
	}

	if cfg.Relay.URL != "ws://relay.example:9000/ws" {
		t.Errorf("relay url = %q, env override not applied", cfg.Relay.URL)
	}
	if cfg.Signal.ReconnectAttempts != 8 {
		t.Errorf("reconnect attempts = %d, want 8", cfg.Signal.ReconnectAttempts)
	}
}

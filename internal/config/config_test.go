package config

import (
	"os"
	"testing"
	"time"
)

func TestLoad_DefaultsAndEnv(t *testing.T) {
	os.Setenv("HTTP_ADDRESS", "")
	os.Setenv("ICE_SERVERS_JSON", "")
	os.Setenv("REALTIME_MODEL", "")
	os.Setenv("HEALTH_TIMEOUT", "")
	cfg := Load()
	if cfg.HTTPAddress == "" {
		t.Fatalf("expected default http address")
	}
	if cfg.ICEServersJSON == "" {
		t.Fatalf("expected default ice servers json")
	}
	if cfg.RealtimeModel == "" {
		t.Fatalf("expected default realtime model")
	}
	if cfg.HealthTimeout != 10*time.Second {
		t.Fatalf("expected default health timeout, got %s", cfg.HealthTimeout)
	}
	if cfg.TTSProvider != "deepgram" {
		t.Fatalf("expected default tts provider, got %q", cfg.TTSProvider)
	}
}

func TestLoad_HealthTimeoutOverride(t *testing.T) {
	os.Setenv("HEALTH_TIMEOUT", "3s")
	defer os.Unsetenv("HEALTH_TIMEOUT")
	cfg := Load()
	if cfg.HealthTimeout != 3*time.Second {
		t.Fatalf("expected 3s health timeout, got %s", cfg.HealthTimeout)
	}
}

func TestLoad_InvalidHealthTimeoutFallsBack(t *testing.T) {
	os.Setenv("HEALTH_TIMEOUT", "soon")
	defer os.Unsetenv("HEALTH_TIMEOUT")
	cfg := Load()
	if cfg.HealthTimeout != 10*time.Second {
		t.Fatalf("expected fallback health timeout, got %s", cfg.HealthTimeout)
	}
}

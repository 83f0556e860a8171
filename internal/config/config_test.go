package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.FlushFragmentCount != 3 {
		t.Fatalf("FlushFragmentCount = %d, want 3", cfg.FlushFragmentCount)
	}
	if cfg.FlushByteCeiling != 256<<10 {
		t.Fatalf("FlushByteCeiling = %d, want %d", cfg.FlushByteCeiling, 256<<10)
	}
	if cfg.TurnTimeout != 12*time.Second {
		t.Fatalf("TurnTimeout = %v, want 12s", cfg.TurnTimeout)
	}
	if cfg.MaxPollAttempts != 12 {
		t.Fatalf("MaxPollAttempts = %d, want 12", cfg.MaxPollAttempts)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("APP_FLUSH_FRAGMENT_COUNT", "5")
	t.Setenv("APP_TURN_TIMEOUT", "8s")
	t.Setenv("APP_ALLOW_ANY_ORIGIN", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.FlushFragmentCount != 5 {
		t.Fatalf("FlushFragmentCount = %d, want 5", cfg.FlushFragmentCount)
	}
	if cfg.TurnTimeout != 8*time.Second {
		t.Fatalf("TurnTimeout = %v, want 8s", cfg.TurnTimeout)
	}
	if !cfg.AllowAnyOrigin {
		t.Fatalf("AllowAnyOrigin = false, want true")
	}
}

func TestLoadConfigFileWithEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "voxcart.yaml")
	body := "flush_fragment_count: 4\nsynthesis_voice_id: shop-voice\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	t.Setenv("VOXCART_CONFIG_FILE", path)
	t.Setenv("APP_FLUSH_FRAGMENT_COUNT", "2")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.SynthesisVoiceID != "shop-voice" {
		t.Fatalf("SynthesisVoiceID = %q, want %q", cfg.SynthesisVoiceID, "shop-voice")
	}
	// Environment wins over the file.
	if cfg.FlushFragmentCount != 2 {
		t.Fatalf("FlushFragmentCount = %d, want 2", cfg.FlushFragmentCount)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"APP_FLUSH_FRAGMENT_COUNT": "0",
		"APP_TURN_TIMEOUT":         "200ms",
		"APP_MAX_POLL_ATTEMPTS":    "0",
		"APP_SESSION_IDLE_TIMEOUT": "1s",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			if _, err := Load(); err == nil {
				t.Fatalf("Load() with %s=%s should fail", key, value)
			}
		})
	}
}

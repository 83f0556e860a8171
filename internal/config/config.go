package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config contains all runtime settings for the voice-shopping relay.
type Config struct {
	BindAddr         string        `yaml:"bind_addr"`
	ShutdownTimeout  time.Duration `yaml:"shutdown_timeout"`
	MetricsNamespace string        `yaml:"metrics_namespace"`
	AllowAnyOrigin   bool          `yaml:"allow_any_origin"`

	// Flush thresholds: buffered audio is sent to the understanding backend
	// when either limit is hit, whichever comes first.
	FlushFragmentCount int `yaml:"flush_fragment_count"`
	FlushByteCeiling   int `yaml:"flush_byte_ceiling"`

	TurnTimeout        time.Duration `yaml:"turn_timeout"`
	ToolTimeout        time.Duration `yaml:"tool_timeout"`
	PollInterval       time.Duration `yaml:"poll_interval"`
	MaxPollAttempts    int           `yaml:"max_poll_attempts"`
	SessionIdleTimeout time.Duration `yaml:"session_idle_timeout"`

	UnderstandURL   string `yaml:"understand_url"`
	UnderstandToken string `yaml:"understand_token"`

	SynthesisURL     string `yaml:"synthesis_url"`
	SynthesisAPIKey  string `yaml:"synthesis_api_key"`
	SynthesisVoiceID string `yaml:"synthesis_voice_id"`
	SynthesisModelID string `yaml:"synthesis_model_id"`

	ToolProxyURL string `yaml:"tool_proxy_url"`

	DatabaseURL string `yaml:"database_url"`
}

// Load reads the optional YAML config file, then applies environment
// overrides and safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:           ":8080",
		ShutdownTimeout:    15 * time.Second,
		MetricsNamespace:   "voxcart",
		FlushFragmentCount: 3,
		FlushByteCeiling:   256 << 10,
		TurnTimeout:        12 * time.Second,
		ToolTimeout:        4 * time.Second,
		PollInterval:       750 * time.Millisecond,
		MaxPollAttempts:    12,
		SessionIdleTimeout: 90 * time.Second,
		SynthesisModelID:   "eleven_multilingual_v2",
	}

	if path := envTrim("VOXCART_CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.BindAddr = envOrDefault("APP_BIND_ADDR", cfg.BindAddr)
	cfg.MetricsNamespace = envOrDefault("APP_METRICS_NAMESPACE", cfg.MetricsNamespace)
	cfg.UnderstandURL = envOrDefault("UNDERSTAND_URL", cfg.UnderstandURL)
	cfg.UnderstandToken = envOrDefault("UNDERSTAND_TOKEN", cfg.UnderstandToken)
	cfg.SynthesisURL = envOrDefault("SYNTHESIS_URL", cfg.SynthesisURL)
	cfg.SynthesisAPIKey = envOrDefault("SYNTHESIS_API_KEY", cfg.SynthesisAPIKey)
	cfg.SynthesisVoiceID = envOrDefault("SYNTHESIS_VOICE_ID", cfg.SynthesisVoiceID)
	cfg.SynthesisModelID = envOrDefault("SYNTHESIS_MODEL_ID", cfg.SynthesisModelID)
	cfg.ToolProxyURL = envOrDefault("TOOL_PROXY_URL", cfg.ToolProxyURL)
	cfg.DatabaseURL = envOrDefault("DATABASE_URL", cfg.DatabaseURL)

	var err error
	if cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout); err != nil {
		return Config{}, err
	}
	if cfg.TurnTimeout, err = durationFromEnv("APP_TURN_TIMEOUT", cfg.TurnTimeout); err != nil {
		return Config{}, err
	}
	if cfg.ToolTimeout, err = durationFromEnv("APP_TOOL_TIMEOUT", cfg.ToolTimeout); err != nil {
		return Config{}, err
	}
	if cfg.PollInterval, err = durationFromEnv("APP_POLL_INTERVAL", cfg.PollInterval); err != nil {
		return Config{}, err
	}
	if cfg.SessionIdleTimeout, err = durationFromEnv("APP_SESSION_IDLE_TIMEOUT", cfg.SessionIdleTimeout); err != nil {
		return Config{}, err
	}
	if cfg.FlushFragmentCount, err = intFromEnv("APP_FLUSH_FRAGMENT_COUNT", cfg.FlushFragmentCount); err != nil {
		return Config{}, err
	}
	if cfg.FlushByteCeiling, err = intFromEnv("APP_FLUSH_BYTE_CEILING", cfg.FlushByteCeiling); err != nil {
		return Config{}, err
	}
	if cfg.MaxPollAttempts, err = intFromEnv("APP_MAX_POLL_ATTEMPTS", cfg.MaxPollAttempts); err != nil {
		return Config{}, err
	}
	if cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin); err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.FlushFragmentCount < 1 {
		return fmt.Errorf("APP_FLUSH_FRAGMENT_COUNT must be at least 1")
	}
	if c.FlushByteCeiling < 1024 {
		return fmt.Errorf("APP_FLUSH_BYTE_CEILING must be at least 1024 bytes")
	}
	if c.TurnTimeout < time.Second {
		return fmt.Errorf("APP_TURN_TIMEOUT must be at least 1s")
	}
	if c.ToolTimeout <= 0 || c.ToolTimeout >= c.TurnTimeout {
		return fmt.Errorf("APP_TOOL_TIMEOUT must be positive and shorter than APP_TURN_TIMEOUT")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("APP_POLL_INTERVAL must be positive")
	}
	if c.MaxPollAttempts < 1 {
		return fmt.Errorf("APP_MAX_POLL_ATTEMPTS must be at least 1")
	}
	if c.SessionIdleTimeout < 5*time.Second {
		return fmt.Errorf("APP_SESSION_IDLE_TIMEOUT must be at least 5s")
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envTrim(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := envTrim(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := envTrim(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(envTrim(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}

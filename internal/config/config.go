// Package config provides application configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// LLM providers.
const (
	ProviderOpenRouter = "openrouter"
	ProviderGemini     = "gemini"
	ProviderScripted   = "scripted"
)

// Counter backends.
const (
	CountersSQLite = "sqlite"
	CountersKV     = "kv"
	CountersMemory = "memory"
)

// Config holds all application configuration.
type Config struct {
	Port               string
	GRPCHealthPort     string
	FrontendURL        string
	LogLevel           slog.Level
	SessionTTL         time.Duration
	SweepInterval      time.Duration
	MaxRequestBodySize int64
	RateLimit          RateLimitConfig
	LLM                LLMConfig
	Pacing             PacingConfig
	Counters           CountersConfig
	Transcript         TranscriptConfig
}

// LLMConfig selects and tunes the text generator.
type LLMConfig struct {
	Provider      string
	Model         string
	BaseURL       string
	OpenRouterKey string
	GoogleKey     string
	Timeout       time.Duration
	MaxRetries    int
	HistoryWindow int
}

// PacingConfig controls simulated typing on the producing side.
type PacingConfig struct {
	CharDelay  time.Duration
	MessageGap time.Duration
}

// CountersConfig selects the counter store.
type CountersConfig struct {
	Backend string
	DBPath  string
	KVURL   string
	KVToken string
}

// RateLimitConfig bounds chat requests per visitor.
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
}

// TranscriptConfig controls the rotated NDJSON transcript log.
type TranscriptConfig struct {
	Enabled    bool
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	QueueSize  int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	provider := strings.ToLower(getEnv("LLM_PROVIDER", ProviderOpenRouter))
	defaultModel := "openai/gpt-4o-mini"
	if provider == ProviderGemini {
		defaultModel = "gemini-2.5-flash"
	}

	cfg := &Config{
		Port:               getEnv("PORT", "8080"),
		GRPCHealthPort:     getEnv("GRPC_HEALTH_PORT", "9090"),
		FrontendURL:        getEnv("FRONTEND_URL", ""),
		LogLevel:           getEnvLevel("LOG_LEVEL", slog.LevelInfo),
		SessionTTL:         getEnvDuration("SESSION_TTL", time.Hour),
		SweepInterval:      getEnvDuration("SESSION_SWEEP_INTERVAL", 5*time.Minute),
		MaxRequestBodySize: int64(getEnvInt("MAX_REQUEST_BODY_SIZE", 1<<20)),
		RateLimit: RateLimitConfig{
			Requests: getEnvInt("RATE_LIMIT_REQUESTS", 30),
			Window:   getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		LLM: LLMConfig{
			Provider:      provider,
			Model:         getEnv("LLM_MODEL", defaultModel),
			BaseURL:       getEnv("LLM_BASE_URL", "https://openrouter.ai/api/v1"),
			OpenRouterKey: getEnv("OPENROUTER_API_KEY", ""),
			GoogleKey:     getEnv("GOOGLE_API_KEY", ""),
			Timeout:       getEnvDuration("LLM_TIMEOUT", 30*time.Second),
			MaxRetries:    getEnvInt("LLM_MAX_RETRIES", 2),
			HistoryWindow: getEnvInt("LLM_HISTORY_WINDOW", 5),
		},
		Pacing: PacingConfig{
			CharDelay:  getEnvDuration("PACING_CHAR_DELAY", 20*time.Millisecond),
			MessageGap: getEnvDuration("PACING_MESSAGE_GAP", 1200*time.Millisecond),
		},
		Counters: CountersConfig{
			Backend: strings.ToLower(getEnv("COUNTERS_BACKEND", CountersSQLite)),
			DBPath:  getEnv("DB_PATH", "./data/counters.db"),
			KVURL:   getEnv("KV_REST_API_URL", ""),
			KVToken: getEnv("KV_REST_API_TOKEN", ""),
		},
		Transcript: TranscriptConfig{
			Enabled:    getEnvBool("TRANSCRIPT_LOG_ENABLED", true),
			Path:       getEnv("TRANSCRIPT_LOG_PATH", "./data/logs/transcript.ndjson"),
			MaxSizeMB:  getEnvInt("TRANSCRIPT_LOG_MAX_SIZE_MB", 50),
			MaxBackups: getEnvInt("TRANSCRIPT_LOG_MAX_BACKUPS", 5),
			MaxAgeDays: getEnvInt("TRANSCRIPT_LOG_MAX_AGE_DAYS", 14),
			QueueSize:  getEnvInt("TRANSCRIPT_LOG_QUEUE_SIZE", 1000),
		},
	}

	cfg.LLM.Provider = cfg.effectiveProvider()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// effectiveProvider falls back to the scripted provider when the selected one
// has no credentials.
func (c *Config) effectiveProvider() string {
	switch c.LLM.Provider {
	case ProviderOpenRouter:
		if c.LLM.OpenRouterKey == "" {
			slog.Warn("OPENROUTER_API_KEY not set, using scripted replies")
			return ProviderScripted
		}
	case ProviderGemini:
		if c.LLM.GoogleKey == "" {
			slog.Warn("GOOGLE_API_KEY not set, using scripted replies")
			return ProviderScripted
		}
	}
	return c.LLM.Provider
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be > 0")
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("SESSION_SWEEP_INTERVAL must be > 0")
	}
	if c.MaxRequestBodySize <= 0 {
		return fmt.Errorf("MAX_REQUEST_BODY_SIZE must be > 0")
	}
	if c.RateLimit.Requests <= 0 || c.RateLimit.Window <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS and RATE_LIMIT_WINDOW must be > 0")
	}

	switch c.LLM.Provider {
	case ProviderOpenRouter, ProviderGemini, ProviderScripted:
	default:
		return fmt.Errorf("LLM_PROVIDER %q is not one of openrouter, gemini, scripted", c.LLM.Provider)
	}
	if c.LLM.Timeout <= 0 {
		return fmt.Errorf("LLM_TIMEOUT must be > 0")
	}
	if c.LLM.MaxRetries < 0 {
		return fmt.Errorf("LLM_MAX_RETRIES must be >= 0")
	}
	if c.LLM.HistoryWindow <= 0 {
		return fmt.Errorf("LLM_HISTORY_WINDOW must be > 0")
	}
	if c.Pacing.CharDelay < 0 || c.Pacing.MessageGap < 0 {
		return fmt.Errorf("pacing delays cannot be negative")
	}

	switch c.Counters.Backend {
	case CountersSQLite:
		if c.Counters.DBPath == "" {
			return fmt.Errorf("DB_PATH cannot be empty")
		}
	case CountersKV:
		if c.Counters.KVURL == "" || c.Counters.KVToken == "" {
			return fmt.Errorf("KV_REST_API_URL and KV_REST_API_TOKEN are required for the kv backend")
		}
	case CountersMemory:
	default:
		return fmt.Errorf("COUNTERS_BACKEND %q is not one of sqlite, kv, memory", c.Counters.Backend)
	}

	if c.Transcript.Enabled {
		if c.Transcript.Path == "" {
			return fmt.Errorf("TRANSCRIPT_LOG_PATH cannot be empty")
		}
		if c.Transcript.QueueSize <= 0 {
			return fmt.Errorf("TRANSCRIPT_LOG_QUEUE_SIZE must be > 0")
		}
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// AllowedOrigins returns the CORS origins.
func (c *Config) AllowedOrigins() []string {
	if c.FrontendURL == "" {
		return []string{"*"}
	}
	return []string{c.FrontendURL}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

func getEnvLevel(key string, fallback slog.Level) slog.Level {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(value))); err != nil {
		return fallback
	}
	return l
}

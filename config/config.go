package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds process configuration, loaded from the environment. User-
// mutable settings (enabled, cache TTL, model selection) live in the settings
// store instead, because the processor reacts to changes at runtime.
type Config struct {
	Port        string
	Environment string
	LogLevel    string

	// Result cache store
	RedisURL     string // preferred store when set
	SQLitePath   string // fallback store
	SettingsPath string

	// Ollama
	OllamaHost            string
	OllamaModel           string
	OllamaContextTokens   int
	OllamaMaxOutputTokens int
	OllamaTemperature     float64

	// Timeout budget: base + per-KiB of prompt.
	OllamaBaseTimeout  time.Duration
	OllamaTimeoutPerKB time.Duration

	// IMAP mail store
	IMAPAddr         string
	IMAPUsername     string
	IMAPPassword     string
	IMAPPollInterval time.Duration

	// Queue
	InterItemDelay time.Duration // gap between background inference calls
	RetryDelay     time.Duration // pause length after an inference failure
	MinBodyLength  int           // below this, cache a placeholder instead of calling inference

	// Backfill
	BackfillDays int

	// Cache maintenance
	CleanupSchedule string // cron spec for TTL cleanup + orphan sweep
	CacheTTLDays    int    // default; settings store may override at runtime
	L1TTL           time.Duration
	L1MaxItems      int
}

func Load() (*Config, error) {
	return &Config{
		Port:        getEnv("PORT", "8765"),
		Environment: getEnv("ENV", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		RedisURL:     getEnv("REDIS_URL", ""),
		SQLitePath:   getEnv("SQLITE_PATH", "mailmind.db"),
		SettingsPath: getEnv("SETTINGS_PATH", "settings.yaml"),

		OllamaHost:            getEnv("OLLAMA_HOST", "http://127.0.0.1:11434"),
		OllamaModel:           getEnv("OLLAMA_MODEL", "llama3.2"),
		OllamaContextTokens:   getEnvInt("OLLAMA_CONTEXT_TOKENS", 8192),
		OllamaMaxOutputTokens: getEnvInt("OLLAMA_MAX_OUTPUT_TOKENS", 1536),
		OllamaTemperature:     getEnvFloat("OLLAMA_TEMPERATURE", 0.1),
		OllamaBaseTimeout:     time.Duration(getEnvInt("OLLAMA_BASE_TIMEOUT_SEC", 60)) * time.Second,
		OllamaTimeoutPerKB:    time.Duration(getEnvInt("OLLAMA_TIMEOUT_PER_KB_SEC", 5)) * time.Second,

		IMAPAddr:         getEnv("IMAP_ADDR", ""),
		IMAPUsername:     getEnv("IMAP_USERNAME", ""),
		IMAPPassword:     getEnv("IMAP_PASSWORD", ""),
		IMAPPollInterval: time.Duration(getEnvInt("IMAP_POLL_INTERVAL_SEC", 60)) * time.Second,

		InterItemDelay: time.Duration(getEnvInt("QUEUE_INTER_ITEM_DELAY_MS", 2000)) * time.Millisecond,
		RetryDelay:     time.Duration(getEnvInt("QUEUE_RETRY_DELAY_SEC", 120)) * time.Second,
		MinBodyLength:  getEnvInt("QUEUE_MIN_BODY_LENGTH", 40),

		BackfillDays: getEnvInt("BACKFILL_DAYS", 7),

		CleanupSchedule: getEnv("CLEANUP_SCHEDULE", "@every 6h"),
		CacheTTLDays:    getEnvInt("CACHE_TTL_DAYS", 14),
		L1TTL:           time.Duration(getEnvInt("L1_TTL_SEC", 300)) * time.Second,
		L1MaxItems:      getEnvInt("L1_MAX_ITEMS", 2000),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

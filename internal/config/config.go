// Package config loads the engine configuration from environment
// variables. All credentials MUST come from the environment; there are no
// fallback defaults for security-sensitive values.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config carries every runtime setting. It is built once at startup and
// handed down explicitly; components never read the environment themselves.
type Config struct {
	DatabaseURL string
	RedisURL    string
	Port        string

	// Detection
	SimilarityThreshold float64 // trigram similarity cutoff τ
	PairLimit           int     // max pairs per detection query

	// LLM validation
	AnthropicAPIKey string // absent = validator disabled
	LLMModel        string
	LLMBatchSize    int
	LLMThreshold    float64 // minimum confidence for suggestion-based approval
	LLMCacheTTL     time.Duration

	// Enrichment
	EnrichmentEnabled bool
	MaxCEPsPerMember  int
	CEPCacheTTL       time.Duration
	RegistryCacheTTL  time.Duration
	GoogleCacheTTL    time.Duration
	GoogleAPIKey      string // absent = geocoder/places disabled

	// Timeouts
	HTTPTimeout time.Duration // per external request
	TxTimeout   time.Duration // merge/revert transaction wall clock

	// Background scans; 0 disables the scheduler.
	ScanInterval time.Duration
}

// Load reads the environment and validates required settings. A missing
// DATABASE_URL is a configuration failure: the caller exits 1.
func Load() (*Config, error) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("required environment variable DATABASE_URL is not set")
	}

	cfg := &Config{
		DatabaseURL: dbURL,
		RedisURL:    getEnvOrDefault("REDIS_URL", "redis://localhost:6379/0"),
		Port:        getEnvOrDefault("PORT", "3002"),

		SimilarityThreshold: floatEnv("THRESHOLD_SIMILARIDADE", 0.4),
		PairLimit:           intEnv("LIMITE_PARES_POR_EXECUCAO", 200),

		AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
		LLMModel:        getEnvOrDefault("LLM_MODEL", "claude-3-5-haiku-20241022"),
		LLMBatchSize:    intEnv("LLM_BATCH_SIZE", 10),
		LLMThreshold:    floatEnv("THRESHOLD_LLM", 0.8),
		LLMCacheTTL:     days(intEnv("LLM_CACHE_TTL_DIAS", 7)),

		EnrichmentEnabled: boolEnv("ENRIQUECIMENTO_HABILITADO", true),
		MaxCEPsPerMember:  intEnv("VIACEP_MAX_CEPS_POR_MEMBRO", 10),
		CEPCacheTTL:       days(intEnv("VIACEP_CACHE_TTL_DIAS", 7)),
		RegistryCacheTTL:  days(intEnv("IBGE_CACHE_TTL_DIAS", 30)),
		GoogleCacheTTL:    days(intEnv("GOOGLE_CACHE_TTL_DIAS", 30)),
		GoogleAPIKey:      os.Getenv("GOOGLE_MAPS_API_KEY"),

		HTTPTimeout: time.Duration(intEnv("HTTP_TIMEOUT_SEGUNDOS", 5)) * time.Second,
		TxTimeout:   time.Duration(intEnv("TX_TIMEOUT_SEGUNDOS", 30)) * time.Second,

		ScanInterval: time.Duration(intEnv("SCAN_INTERVAL_MINUTOS", 0)) * time.Minute,
	}

	if cfg.SimilarityThreshold <= 0 || cfg.SimilarityThreshold > 1 {
		return nil, fmt.Errorf("THRESHOLD_SIMILARIDADE must be in (0,1], got %v", cfg.SimilarityThreshold)
	}
	if cfg.PairLimit <= 0 {
		return nil, fmt.Errorf("LIMITE_PARES_POR_EXECUCAO must be positive, got %d", cfg.PairLimit)
	}

	return cfg, nil
}

func days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}

// getEnvOrDefault returns the env var value or a safe default for
// non-secret settings.
func getEnvOrDefault(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func intEnv(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return fallback
}

func floatEnv(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return fallback
}

func boolEnv(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return fallback
}

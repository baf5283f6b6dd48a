// Package config loads and validates environment variables at startup.
// Fail-fast: if a required variable is missing, the process exits.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all runtime configuration for the core service.
type Config struct {
	Port        string
	DatabaseURL string
	RedisURL    string

	// Source adapter credentials. An adapter with missing credentials
	// skips fetching and logs a warning instead of failing the poll.
	AdzunaAppID   string
	AdzunaAppKey  string
	AdzunaCountry string // e.g. "us", "gb", "fr"

	// Provider credentials and endpoints.
	LLMAPIKey        string
	LLMBaseURL       string
	AnthropicAPIKey  string
	AnthropicBaseURL string
	EmbeddingAPIKey  string
	EmbeddingBaseURL string
	EmbeddingModel   string
	EmbeddingDims    int

	// AdminEmails is the env-protected allow-list: these accounts can
	// never be demoted through the admin API.
	AdminEmails []string

	SurfaceIntervalMinutes int
	PollBudgetMinutes      int
}

// Load reads environment variables (and an optional .env file) and returns
// a validated Config.
func Load() (*Config, error) {
	// Best-effort: absence of a .env file is the normal production case.
	_ = godotenv.Load()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		return nil, fmt.Errorf("REDIS_URL is required")
	}

	port := os.Getenv("CORE_PORT")
	if port == "" {
		port = "8083"
	}

	country := os.Getenv("ADZUNA_COUNTRY")
	if country == "" {
		country = "us"
	}

	surfaceInterval, err := intEnv("SURFACE_INTERVAL_MINUTES", 15)
	if err != nil {
		return nil, err
	}
	pollBudget, err := intEnv("POLL_BUDGET_MINUTES", 10)
	if err != nil {
		return nil, err
	}
	embDims, err := intEnv("EMBEDDING_DIMENSIONS", 1536)
	if err != nil {
		return nil, err
	}

	embModel := os.Getenv("EMBEDDING_MODEL")
	if embModel == "" {
		embModel = "text-embedding-3-small"
	}

	return &Config{
		Port:                   port,
		DatabaseURL:            dbURL,
		RedisURL:               redisURL,
		AdzunaAppID:            os.Getenv("ADZUNA_APP_ID"),
		AdzunaAppKey:           os.Getenv("ADZUNA_APP_KEY"),
		AdzunaCountry:          country,
		LLMAPIKey:              os.Getenv("LLM_API_KEY"),
		LLMBaseURL:             os.Getenv("LLM_BASE_URL"),
		AnthropicAPIKey:        os.Getenv("ANTHROPIC_API_KEY"),
		AnthropicBaseURL:       os.Getenv("ANTHROPIC_BASE_URL"),
		EmbeddingAPIKey:        os.Getenv("EMBEDDING_API_KEY"),
		EmbeddingBaseURL:       os.Getenv("EMBEDDING_BASE_URL"),
		EmbeddingModel:         embModel,
		EmbeddingDims:          embDims,
		AdminEmails:            ParseAdminEmails(os.Getenv("ADMIN_EMAILS")),
		SurfaceIntervalMinutes: surfaceInterval,
		PollBudgetMinutes:      pollBudget,
	}, nil
}

// ParseAdminEmails splits the comma-separated ADMIN_EMAILS value, trimming
// whitespace and lowercasing (email comparison is case-insensitive).
func ParseAdminEmails(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, e := range strings.Split(raw, ",") {
		e = strings.ToLower(strings.TrimSpace(e))
		if e != "" {
			out = append(out, e)
		}
	}
	return out
}

func intEnv(name string, def int) (int, error) {
	s := os.Getenv(name)
	if s == "" {
		return def, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 1 {
		return 0, fmt.Errorf("%s must be a positive integer, got %q", name, s)
	}
	return v, nil
}

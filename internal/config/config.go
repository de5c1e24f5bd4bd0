package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	APIPort            string
	BackendAPIKey      string // API key for authenticating requests (empty = no auth, dev mode)
	CorsAllowedOrigins string // Comma-separated allowed origins (empty = *, dev mode)

	// Database
	DatabaseURL string

	// Redis (empty = render events are only logged)
	RedisURL string

	// Supabase
	SupabaseURL           string
	SupabaseServiceKey    string
	SupabaseStorageBucket string

	// OpenAI (auto-draft refinement; empty = heuristic drafts only)
	OpenAIKey        string
	OpenAIDraftModel string

	// Veo (enabled when GEMINI_API_KEY is set)
	GeminiKey string
	VeoModel  string

	// xAI Grok Imagine Video
	XAIEnabled bool
	XAIAPIKey  string

	// Render queue
	RenderDelay         time.Duration // Pause between batch items
	RenderRatePerMinute int           // Batch starts allowed per minute per API instance

	// Logging
	LogLevel  string
	LogFormat string // "text" or "json"
}

func Load() (*Config, error) {
	// Load .env file if it exists (ignore error in production)
	_ = godotenv.Load()

	cfg := &Config{
		APIPort:               getEnv("API_PORT", "8080"),
		BackendAPIKey:         getEnv("BACKEND_API_KEY", ""),
		CorsAllowedOrigins:    getEnv("CORS_ALLOWED_ORIGINS", ""),
		DatabaseURL:           getEnv("DATABASE_URL", ""),
		RedisURL:              getEnv("REDIS_URL", ""),
		SupabaseURL:           getEnv("SUPABASE_URL", ""),
		SupabaseServiceKey:    getEnv("SUPABASE_SERVICE_KEY", ""),
		SupabaseStorageBucket: getEnv("SUPABASE_STORAGE_BUCKET", "scene-renders"),
		OpenAIKey:             getEnv("OPENAI_API_KEY", ""),
		OpenAIDraftModel:      getEnv("OPENAI_DRAFT_MODEL", ""),
		GeminiKey:             getEnv("GEMINI_API_KEY", ""),
		VeoModel:              getEnv("VEO_MODEL", "veo-3.1-generate-preview"),
		XAIEnabled:            getEnvBool("XAI_VIDEO_ENABLED", false),
		XAIAPIKey:             getEnv("XAI_API_KEY", ""),
		RenderDelay:           time.Duration(getEnvInt("RENDER_DELAY_MS", 2000)) * time.Millisecond,
		RenderRatePerMinute:   getEnvInt("RENDER_RATE_PER_MINUTE", 10),
		LogLevel:              getEnv("LOG_LEVEL", "info"),
		LogFormat:             getEnv("LOG_FORMAT", "text"),
	}

	// Validate required fields
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.XAIEnabled && cfg.XAIAPIKey == "" {
		return nil, fmt.Errorf("XAI_API_KEY is required when XAI_VIDEO_ENABLED is set")
	}

	// Rendered clips have nowhere to go without storage
	if cfg.VideoGenerationEnabled() && (cfg.SupabaseURL == "" || cfg.SupabaseServiceKey == "") {
		return nil, fmt.Errorf("SUPABASE_URL and SUPABASE_SERVICE_KEY are required when video generation is enabled")
	}

	if cfg.RenderDelay < 0 {
		return nil, fmt.Errorf("RENDER_DELAY_MS must not be negative")
	}

	if cfg.RenderRatePerMinute <= 0 {
		return nil, fmt.Errorf("RENDER_RATE_PER_MINUTE must be positive")
	}

	return cfg, nil
}

// VideoGenerationEnabled reports whether any video provider is configured.
func (c *Config) VideoGenerationEnabled() bool {
	return c.GeminiKey != "" || c.XAIEnabled
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		b, err := strconv.ParseBool(value)
		if err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		i, err := strconv.Atoi(value)
		if err == nil {
			return i
		}
	}
	return defaultValue
}

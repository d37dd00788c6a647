package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env      string
	Port     int
	LogLevel string

	DatabaseURL string
	JWTSecret   string

	// Entitlement policy
	DailyCreationLimit int
	FreeSaveSlots      int
	AnonDailyLimit     int
	CreationPackSize   int
	SaveSlotPackSize   int

	// Vision provider configuration
	VisionProvider       string // "mock", "openai" or "anthropic"
	OpenAIAPIKey         string
	OpenAIModel          string
	AnthropicAPIKey      string
	AnthropicModel       string
	VisionMaxRetries     int
	VisionRetryBaseDelay time.Duration
	VisionRequestTimeout time.Duration

	// Stripe billing configuration.
	// When these are empty, billing endpoints degrade to unavailable rather
	// than failing startup, so development works without a Stripe account.
	StripeSecretKey           string
	StripeWebhookSecret       string
	StripeCreationPackPriceID string
	StripeSavePackPriceID     string
	StripeProPriceID          string

	// CORS
	AllowedOrigins []string

	// Metrics endpoint authentication.
	// If both are empty, /metrics is unprotected (not recommended).
	MetricsUsername string
	MetricsPassword string
}

func Load() (*Config, error) {
	// Load .env file if it exists (ignored in production)
	_ = godotenv.Load()

	cfg := &Config{
		Env:      getEnv("ENV", "development"),
		Port:     getEnvInt("PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "debug"),

		DailyCreationLimit: getEnvInt("DAILY_CREATION_LIMIT", 5),
		FreeSaveSlots:      getEnvInt("FREE_SAVE_SLOTS", 3),
		AnonDailyLimit:     getEnvInt("ANON_DAILY_LIMIT", 3),
		CreationPackSize:   getEnvInt("CREATION_PACK_SIZE", 10),
		SaveSlotPackSize:   getEnvInt("SAVE_SLOT_PACK_SIZE", 5),

		VisionProvider:       getEnv("VISION_PROVIDER", "mock"),
		OpenAIAPIKey:         getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:          getEnv("OPENAI_MODEL", "gpt-4o"),
		AnthropicAPIKey:      getEnv("ANTHROPIC_API_KEY", ""),
		AnthropicModel:       getEnv("ANTHROPIC_MODEL", "claude-3-5-sonnet-20241022"),
		VisionMaxRetries:     getEnvInt("VISION_MAX_RETRIES", 3),
		VisionRetryBaseDelay: getEnvDuration("VISION_RETRY_BASE_DELAY", 1*time.Second),
		VisionRequestTimeout: getEnvDuration("VISION_REQUEST_TIMEOUT", 60*time.Second),

		StripeSecretKey:           getEnv("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret:       getEnv("STRIPE_WEBHOOK_SECRET", ""),
		StripeCreationPackPriceID: getEnv("STRIPE_CREATION_PACK_PRICE_ID", ""),
		StripeSavePackPriceID:     getEnv("STRIPE_SAVE_PACK_PRICE_ID", ""),
		StripeProPriceID:          getEnv("STRIPE_PRO_PRICE_ID", ""),

		MetricsUsername: getEnv("METRICS_USERNAME", ""),
		MetricsPassword: getEnv("METRICS_PASSWORD", ""),
	}

	// Parse allowed origins from comma-separated environment variable.
	originsStr := getEnv("SNAPSELL_ALLOWED_ORIGINS", "*")
	for _, origin := range strings.Split(originsStr, ",") {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			cfg.AllowedOrigins = append(cfg.AllowedOrigins, trimmed)
		}
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}

	// Required
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	// Validate vision provider configuration
	switch cfg.VisionProvider {
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is required when VISION_PROVIDER is 'openai'")
		}
	case "anthropic":
		if cfg.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY is required when VISION_PROVIDER is 'anthropic'")
		}
	case "mock":
	default:
		return nil, fmt.Errorf("VISION_PROVIDER must be 'mock', 'openai' or 'anthropic', got: %s", cfg.VisionProvider)
	}

	return cfg, nil
}

// BillingConfigured reports whether Stripe credentials are present.
func (c *Config) BillingConfigured() bool {
	return c.StripeSecretKey != "" && c.StripeWebhookSecret != ""
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

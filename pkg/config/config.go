// ==============================================================================
// CONFIG PACKAGE - pkg/config/config.go
// ==============================================================================
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	JWT        JWTConfig
	Stripe     StripeConfig
	App        AppConfig
	Email      EmailConfig
	RabbitMQ   RabbitMQConfig
	Onboarding OnboardingConfig
}

type ServerConfig struct {
	Host         string
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL      string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret string
}

// StripeConfig holds the provider credential and the fee schedule donors may cover.
type StripeConfig struct {
	SecretKey         string
	WebhookSecret     string
	Currency          string
	FeeRatePercent    decimal.Decimal
	FixedFee          decimal.Decimal
	AccountCountry    string
	BusinessType      string
	MaxNetworkRetries int64
	EventDedupeTTL    time.Duration
	PlanName          string
	PlanAmount        int64
	PlanInterval      string
}

// AppConfig drives absolute URL construction for onboarding links.
type AppConfig struct {
	BaseURL            string
	TrustForwardedHost bool
	FallbackBaseURL    string
	AdminPath          string
	DirectoryCacheTTL  time.Duration
	AllowedOrigins     []string
}

type EmailConfig struct {
	SMTPHost       string
	SMTPPort       int
	SMTPUsername   string
	SMTPPassword   string
	SMTPFrom       string
	SMTPUseTLS     bool
	AdminRecipient string
}

type RabbitMQConfig struct {
	URL      string
	Exchange string
}

type OnboardingConfig struct {
	SyncSchedule   string
	ProviderRetry  int
	RetryMaxWait   time.Duration
	PruneSchedule  string
	EventRetention time.Duration
}

func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnv("SERVER_PORT", "8080"),
			ReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:  getDurationEnv("SERVER_IDLE_TIMEOUT", 120*time.Second),
		},
		Database: DatabaseConfig{
			URL:             getEnv("DATABASE_URL", ""),
			MaxOpenConns:    getIntEnv("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getIntEnv("DB_MAX_IDLE_CONNS", 25),
			ConnMaxLifetime: getDurationEnv("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL:      normalizeRedisURL(getEnv("REDIS_URL", "localhost:6379")),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getIntEnv("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret: getEnv("JWT_SECRET", ""),
		},
		Stripe: StripeConfig{
			SecretKey:         getEnv("STRIPE_SECRET_KEY", ""),
			WebhookSecret:     getEnv("STRIPE_WEBHOOK_SECRET", ""),
			Currency:          strings.ToLower(getEnv("STRIPE_CURRENCY", "eur")),
			FeeRatePercent:    getDecimalEnv("STRIPE_FEE_RATE", decimal.RequireFromString("0.017")),
			FixedFee:          getDecimalEnv("STRIPE_FIXED_FEE", decimal.RequireFromString("0.25")),
			AccountCountry:    strings.ToUpper(getEnv("STRIPE_ACCOUNT_COUNTRY", "FR")),
			BusinessType:      getEnv("STRIPE_BUSINESS_TYPE", "non_profit"),
			MaxNetworkRetries: int64(getIntEnv("STRIPE_MAX_NETWORK_RETRIES", 0)),
			EventDedupeTTL:    getDurationEnv("STRIPE_EVENT_DEDUPE_TTL", 72*time.Hour),
			PlanName:          getEnv("STRIPE_PLATFORM_PLAN_NAME", "Sadaqah Platform Subscription"),
			PlanAmount:        int64(getIntEnv("STRIPE_PLATFORM_PLAN_AMOUNT", 1000)),
			PlanInterval:      getEnv("STRIPE_PLATFORM_PLAN_INTERVAL", "month"),
		},
		App: AppConfig{
			BaseURL:            getEnv("APP_BASE_URL", ""),
			TrustForwardedHost: getBoolEnv("APP_TRUST_FORWARDED_HOST", false),
			FallbackBaseURL:    getEnv("APP_FALLBACK_BASE_URL", ""),
			AdminPath:          getEnv("APP_ADMIN_PATH", "/admin/mosquee"),
			DirectoryCacheTTL:  getDurationEnv("DIRECTORY_CACHE_TTL", 10*time.Minute),
			AllowedOrigins:     getListEnv("CORS_ALLOWED_ORIGINS"),
		},
		Email: EmailConfig{
			SMTPHost:       getEnv("SMTP_HOST", "smtp.gmail.com"),
			SMTPPort:       getIntEnv("SMTP_PORT", 587),
			SMTPUsername:   getEnv("SMTP_USERNAME", ""),
			SMTPPassword:   getEnv("SMTP_PASSWORD", ""),
			SMTPFrom:       getEnv("SMTP_FROM", ""),
			SMTPUseTLS:     getBoolEnv("SMTP_USE_TLS", true),
			AdminRecipient: getEnv("REGISTRATION_ADMIN_EMAIL", ""),
		},
		RabbitMQ: RabbitMQConfig{
			URL:      getEnv("RABBITMQ_URL", ""),
			Exchange: getEnv("RABBITMQ_EXCHANGE", "sadaqah_events"),
		},
		Onboarding: OnboardingConfig{
			SyncSchedule:   getEnv("ONBOARDING_SYNC_SCHEDULE", "@every 15m"),
			ProviderRetry:  getIntEnv("ONBOARDING_PROVIDER_RETRIES", 3),
			RetryMaxWait:   getDurationEnv("ONBOARDING_RETRY_MAX_WAIT", 5*time.Second),
			PruneSchedule:  getEnv("WEBHOOK_PRUNE_SCHEDULE", "@daily"),
			EventRetention: getDurationEnv("WEBHOOK_EVENT_RETENTION", 30*24*time.Hour),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func normalizeRedisURL(url string) string {
	// Strip redis:// or redis+tls:// scheme if present
	if strings.HasPrefix(url, "redis+tls://") {
		return url[len("redis+tls://"):]
	}
	if strings.HasPrefix(url, "redis://") {
		return url[len("redis://"):]
	}
	return url
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getDecimalEnv(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(strings.TrimSpace(value)); err == nil {
			return d
		}
	}
	return defaultValue
}

func getListEnv(key string) []string {
	var out []string
	for _, v := range strings.Split(os.Getenv(key), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return defaultValue
}

// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "json" or "text"; empty picks by Env
	LogFile   string // optional rotated log file

	// Database
	DatabaseURL    string // PostgreSQL connection string (optional, uses in-memory if not set)
	DBMaxOpenConns int
	DBMaxIdleConns int
	DBConnMaxLife  time.Duration
	AutoMigrate    bool

	// Redis fans negotiation events out across instances (optional)
	RedisURL string

	// Auth
	JWTSecret string
	JWTTTL    time.Duration

	// Advisory model
	GeminiAPIKey    string
	GeminiModel     string
	AdvisoryTimeout time.Duration

	// Payments
	StripeSecretKey     string
	StripeWebhookSecret string

	// Weather
	WeatherAPIKey    string
	WeatherLatitude  float64
	WeatherLongitude float64
	WeatherAlertHour int // UTC hour of the daily farmer alert

	// Notification relay (optional, notifications are logged when empty)
	NotifyWebhookURL    string
	NotifyWebhookSecret string

	// Crop profiles catalogue (optional, built-in when empty)
	CropProfilesFile string

	// Tracing
	OTelEndpoint string

	// Security
	RateLimitRPM int
	CORSOrigins  string // comma-separated; empty allows any origin
}

// Defaults
const (
	DefaultPort            = "8080"
	DefaultEnv             = "development"
	DefaultLogLevel        = "info"
	DefaultRateLimit       = 120
	DefaultJWTTTL          = 24 * time.Hour
	DefaultAdvisoryTimeout = 20 * time.Second
	DefaultDBMaxOpenConns  = 25
	DefaultDBMaxIdleConns  = 10
	DefaultDBConnMaxLife   = 5 * time.Minute
	DefaultWeatherLat      = 18.52
	DefaultWeatherLon      = 73.85
	DefaultWeatherHour     = 1 // 06:30 IST
	devJWTSecret           = "krishiconnect-dev-secret-change-me"
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                getEnv("PORT", DefaultPort),
		Env:                 getEnv("ENV", DefaultEnv),
		LogLevel:            getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:           os.Getenv("LOG_FORMAT"),
		LogFile:             os.Getenv("LOG_FILE"),
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		DBMaxOpenConns:      int(getEnvInt64("DB_MAX_OPEN_CONNS", DefaultDBMaxOpenConns)),
		DBMaxIdleConns:      int(getEnvInt64("DB_MAX_IDLE_CONNS", DefaultDBMaxIdleConns)),
		DBConnMaxLife:       getEnvDuration("DB_CONN_MAX_LIFETIME", DefaultDBConnMaxLife),
		AutoMigrate:         getEnvBool("AUTO_MIGRATE", false),
		RedisURL:            os.Getenv("REDIS_URL"),
		JWTSecret:           os.Getenv("JWT_SECRET"),
		JWTTTL:              getEnvDuration("JWT_TTL", DefaultJWTTTL),
		GeminiAPIKey:        os.Getenv("GEMINI_API_KEY"),
		GeminiModel:         os.Getenv("GEMINI_MODEL"),
		AdvisoryTimeout:     getEnvDuration("ADVISORY_TIMEOUT", DefaultAdvisoryTimeout),
		StripeSecretKey:     os.Getenv("STRIPE_SECRET_KEY"),
		StripeWebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		WeatherAPIKey:       os.Getenv("WEATHER_API_KEY"),
		WeatherLatitude:     getEnvFloat("WEATHER_LAT", DefaultWeatherLat),
		WeatherLongitude:    getEnvFloat("WEATHER_LON", DefaultWeatherLon),
		WeatherAlertHour:    int(getEnvInt64("WEATHER_ALERT_HOUR", DefaultWeatherHour)),
		NotifyWebhookURL:    os.Getenv("NOTIFY_WEBHOOK_URL"),
		NotifyWebhookSecret: os.Getenv("NOTIFY_WEBHOOK_SECRET"),
		CropProfilesFile:    os.Getenv("CROP_PROFILES_FILE"),
		OTelEndpoint:        os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		RateLimitRPM:        int(getEnvInt64("RATE_LIMIT_RPM", DefaultRateLimit)),
		CORSOrigins:         os.Getenv("CORS_ORIGINS"),
	}

	if cfg.JWTSecret == "" && !cfg.IsProduction() {
		cfg.JWTSecret = devJWTSecret
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.IsProduction() {
		if c.JWTSecret == "" || c.JWTSecret == devJWTSecret {
			return fmt.Errorf("JWT_SECRET is required in production")
		}
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required in production")
		}
	}
	if len(c.JWTSecret) < 16 {
		return fmt.Errorf("JWT_SECRET must be at least 16 characters")
	}
	if c.StripeSecretKey != "" && c.StripeWebhookSecret == "" {
		return fmt.Errorf("STRIPE_WEBHOOK_SECRET is required when STRIPE_SECRET_KEY is set")
	}
	if c.NotifyWebhookURL != "" && c.IsProduction() && c.NotifyWebhookSecret == "" {
		return fmt.Errorf("NOTIFY_WEBHOOK_SECRET is required in production when NOTIFY_WEBHOOK_URL is set")
	}
	if c.WeatherAlertHour < 0 || c.WeatherAlertHour > 23 {
		return fmt.Errorf("WEATHER_ALERT_HOUR must be between 0 and 23")
	}
	if c.WeatherLatitude < -90 || c.WeatherLatitude > 90 || c.WeatherLongitude < -180 || c.WeatherLongitude > 180 {
		return fmt.Errorf("WEATHER_LAT/WEATHER_LON are out of range")
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

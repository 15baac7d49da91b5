package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the merchant sync service
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	NATS     NATSConfig     `mapstructure:"nats"`
	Sentry   SentryConfig   `mapstructure:"sentry"`
	Merchant MerchantConfig `mapstructure:"merchant"`
	Security SecurityConfig `mapstructure:"security"`
	Services ServicesConfig `mapstructure:"services"`
	Sync     SyncConfig     `mapstructure:"sync"`
}

// RedisConfig holds Redis cache configuration
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AppConfig holds application configuration
type AppConfig struct {
	Name string `mapstructure:"name"`
	Env  string `mapstructure:"env"`
	Port string `mapstructure:"port"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"name"`
	SSLMode  string `mapstructure:"ssl_mode"`
}

// NATSConfig holds NATS configuration
type NATSConfig struct {
	URL string `mapstructure:"url"`
}

// SentryConfig holds Sentry error tracking configuration
type SentryConfig struct {
	DSN         string `mapstructure:"dsn"`
	Environment string `mapstructure:"environment"`
	Release     string `mapstructure:"release"`
}

// MerchantConfig holds the remote merchant platform configuration
type MerchantConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccountID string `mapstructure:"account_id"`
	Tier      string `mapstructure:"tier"` // free, standard, premium
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	AdminAPIKey string `mapstructure:"admin_api_key"`
	LicenseKey  string `mapstructure:"license_key"`
}

// ServicesConfig holds URLs for other microservices
type ServicesConfig struct {
	CatalogURL      string `mapstructure:"catalog_url"`
	LicenseURL      string `mapstructure:"license_url"`
	NotificationURL string `mapstructure:"notification_url"`
}

// SyncConfig holds sync engine cadences
type SyncConfig struct {
	DrainInterval    time.Duration `mapstructure:"drain_interval"`
	AnalyticsTime    string        `mapstructure:"analytics_time"` // "HH:MM" local
	ImportBatchDelay time.Duration `mapstructure:"import_batch_delay"`
	CacheTTL         time.Duration `mapstructure:"cache_ttl"`
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	v := viper.New()

	// Automatically load environment variables
	v.AutomaticEnv()
	v.SetEnvPrefix("") // No prefix, read exact variable names

	// Bind specific environment variables
	_ = v.BindEnv("app.name", "APP_NAME")
	_ = v.BindEnv("app.env", "APP_ENV")
	_ = v.BindEnv("app.port", "APP_PORT")

	_ = v.BindEnv("database.host", "DB_HOST")
	_ = v.BindEnv("database.port", "DB_PORT")
	_ = v.BindEnv("database.user", "DB_USER")
	_ = v.BindEnv("database.password", "DB_PASSWORD")
	_ = v.BindEnv("database.name", "DB_NAME")
	_ = v.BindEnv("database.ssl_mode", "DB_SSLMODE")

	_ = v.BindEnv("nats.url", "NATS_URL")

	// Redis
	_ = v.BindEnv("redis.host", "REDIS_HOST")
	_ = v.BindEnv("redis.port", "REDIS_PORT")
	_ = v.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = v.BindEnv("redis.db", "REDIS_DB")

	_ = v.BindEnv("sentry.dsn", "SENTRY_DSN")
	_ = v.BindEnv("sentry.environment", "APP_ENV")
	_ = v.BindEnv("sentry.release", "APP_VERSION")

	// Merchant platform
	_ = v.BindEnv("merchant.endpoint", "MERCHANT_API_ENDPOINT")
	_ = v.BindEnv("merchant.account_id", "MERCHANT_ACCOUNT_ID")
	_ = v.BindEnv("merchant.tier", "MERCHANT_QUOTA_TIER")

	// Security
	_ = v.BindEnv("security.admin_api_key", "ADMIN_API_KEY")
	_ = v.BindEnv("security.license_key", "LICENSE_KEY")

	// Services
	_ = v.BindEnv("services.catalog_url", "SERVICE_CATALOG_URL")
	_ = v.BindEnv("services.license_url", "SERVICE_LICENSE_URL")
	_ = v.BindEnv("services.notification_url", "SERVICE_NOTIFICATION_URL")

	// Sync engine
	_ = v.BindEnv("sync.drain_interval", "SYNC_DRAIN_INTERVAL")
	_ = v.BindEnv("sync.analytics_time", "SYNC_ANALYTICS_TIME")
	_ = v.BindEnv("sync.import_batch_delay", "SYNC_IMPORT_BATCH_DELAY")
	_ = v.BindEnv("sync.cache_ttl", "SYNC_CACHE_TTL")

	// Set defaults
	setDefaults(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	// App
	v.SetDefault("app.name", "service-merchant")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8011")

	// Database
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.ssl_mode", "disable")

	// NATS
	v.SetDefault("nats.url", "nats://localhost:4222")

	// Redis
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", "6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	// Merchant platform
	v.SetDefault("merchant.endpoint", "https://merchantapi.example.com/rpc")
	v.SetDefault("merchant.tier", "free")

	// Services
	v.SetDefault("services.catalog_url", "http://localhost:8082")
	v.SetDefault("services.license_url", "http://localhost:8084")
	v.SetDefault("services.notification_url", "http://localhost:8085")

	// Sync engine
	v.SetDefault("sync.drain_interval", 5*time.Minute)
	v.SetDefault("sync.analytics_time", "04:30")
	v.SetDefault("sync.import_batch_delay", 30*time.Second)
	v.SetDefault("sync.cache_ttl", 10*time.Minute)

	// Sentry
	v.SetDefault("sentry.dsn", "")
	v.SetDefault("sentry.environment", "development")
	v.SetDefault("sentry.release", "1.0.0")
}

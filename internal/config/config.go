package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

type Config struct {
	Port               string
	Environment        string
	LogLevel           string
	StoreDriver        string // STORE_DRIVER: postgres | memory
	MigrationsPath     string
	RedisURL           string // REDIS_URL: quota snapshots; empty keeps them in memory
	AppBaseURL         string // APP_BASE_URL: public URL used for OAuth redirect and webhook callbacks
	OperatorAPIKeyHash string // OPERATOR_API_KEY_HASH: bcrypt hash guarding /v1
	Database           DatabaseConfig
	Shopify            ShopifyConfig
	RateLimit          RateLimitConfig
	Sync               SyncConfig
	Webhooks           WebhookConfig
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// DSN returns the lib/pq keyword connection string
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// URL returns the postgres:// form expected by golang-migrate
func (d DatabaseConfig) URL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.User, d.Password),
		Host:     d.Host + ":" + d.Port,
		Path:     "/" + d.DBName,
		RawQuery: "sslmode=" + url.QueryEscape(d.SSLMode),
	}
	return u.String()
}

type ShopifyConfig struct {
	APIVersion    string
	ClientID      string
	ClientSecret  string
	WebhookSecret string // SHOPIFY_WEBHOOK_SECRET: app-level secret for X-Shopify-Hmac-Sha256
	Scopes        string
	BaseURL       string // SHOPIFY_BASE_URL: overrides https://{shop}/admin/api/{version}, for local testing
	HTTPTimeout   time.Duration
	MaxRetries    int
}

type RateLimitConfig struct {
	Capacity        int
	RefillPerSecond float64
	PollInterval    time.Duration
}

type SyncConfig struct {
	PageSize      int
	ProgressEvery int
	Workers       int
	QueueSize     int
	OrderWindow   time.Duration
	// ScheduleInterval starts an incremental sync for every active tenant on this period; 0 disables it
	ScheduleInterval time.Duration
}

type WebhookConfig struct {
	Workers   int
	QueueSize int
}

func Load() (*Config, error) {
	viper.SetConfigType("env")
	viper.SetConfigName(".env")
	viper.AddConfigPath(".")
	viper.AddConfigPath("..")
	viper.AddConfigPath("../..")

	viper.SetDefault("PORT", "8080")
	viper.SetDefault("ENVIRONMENT", "development")
	viper.SetDefault("DB_PORT", "5432")
	viper.SetDefault("DB_SSLMODE", "disable")
	viper.SetDefault("LOG_LEVEL", "info")

	viper.AutomaticEnv()

	// .env is optional
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var errs []string
	intVal := func(key string, def int) int {
		raw := getEnvOrViper(key, strconv.Itoa(def))
		n, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s must be an integer, got %q", key, raw))
			return def
		}
		return n
	}
	floatVal := func(key string, def float64) float64 {
		raw := getEnvOrViper(key, strconv.FormatFloat(def, 'f', -1, 64))
		f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s must be a number, got %q", key, raw))
			return def
		}
		return f
	}
	durationVal := func(key string, def time.Duration) time.Duration {
		raw := getEnvOrViper(key, def.String())
		d, err := time.ParseDuration(strings.TrimSpace(raw))
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s must be a duration, got %q", key, raw))
			return def
		}
		return d
	}

	cfg := &Config{
		Port:               getEnvOrViper("PORT", "8080"),
		Environment:        getEnvOrViper("ENVIRONMENT", "development"),
		LogLevel:           getEnvOrViper("LOG_LEVEL", "info"),
		StoreDriver:        strings.ToLower(strings.TrimSpace(getEnvOrViper("STORE_DRIVER", StoreDriverPostgres))),
		MigrationsPath:     getEnvOrViper("MIGRATIONS_PATH", "migrations"),
		RedisURL:           strings.TrimSpace(getEnvOrViper("REDIS_URL", "")),
		AppBaseURL:         strings.TrimRight(strings.TrimSpace(getEnvOrViper("APP_BASE_URL", "http://localhost:8080")), "/"),
		OperatorAPIKeyHash: strings.TrimSpace(getEnvOrViper("OPERATOR_API_KEY_HASH", "")),
		Database: DatabaseConfig{
			Host:     getEnvOrViper("DB_HOST", "localhost"),
			Port:     getEnvOrViper("DB_PORT", "5432"),
			User:     getEnvOrViper("DB_USER", "postgres"),
			Password: getEnvOrViper("DB_PASSWORD", "postgres"),
			DBName:   getEnvOrViper("DB_NAME", "catalogsync"),
			SSLMode:  getEnvOrViper("DB_SSLMODE", "disable"),
		},
		Shopify: ShopifyConfig{
			APIVersion:    getEnvOrViper("SHOPIFY_API_VERSION", "2024-01"),
			ClientID:      strings.TrimSpace(getEnvOrViper("SHOPIFY_CLIENT_ID", "")),
			ClientSecret:  strings.TrimSpace(getEnvOrViper("SHOPIFY_CLIENT_SECRET", "")),
			WebhookSecret: strings.TrimSpace(getEnvOrViper("SHOPIFY_WEBHOOK_SECRET", "")),
			Scopes:        getEnvOrViper("SHOPIFY_SCOPES", "read_products,read_orders,read_inventory"),
			BaseURL:       strings.TrimSpace(getEnvOrViper("SHOPIFY_BASE_URL", "")),
			HTTPTimeout:   durationVal("HTTP_TIMEOUT", 30*time.Second),
			MaxRetries:    intVal("VENDOR_MAX_RETRIES", 3),
		},
		RateLimit: RateLimitConfig{
			Capacity:        intVal("RATE_LIMIT_CAPACITY", 40),
			RefillPerSecond: floatVal("RATE_LIMIT_REFILL_PER_SEC", 2),
			PollInterval:    durationVal("RATE_LIMIT_POLL_INTERVAL", 100*time.Millisecond),
		},
		Sync: SyncConfig{
			PageSize:         intVal("SYNC_PAGE_SIZE", 250),
			ProgressEvery:    intVal("SYNC_PROGRESS_EVERY", 50),
			Workers:          intVal("SYNC_WORKERS", 4),
			QueueSize:        intVal("SYNC_QUEUE_SIZE", 32),
			OrderWindow:      durationVal("ORDER_SYNC_WINDOW", 1440*time.Hour),
			ScheduleInterval: durationVal("SYNC_SCHEDULE_INTERVAL", 0),
		},
		Webhooks: WebhookConfig{
			Workers:   intVal("WEBHOOK_WORKERS", 8),
			QueueSize: intVal("WEBHOOK_QUEUE_SIZE", 256),
		},
	}

	errs = append(errs, cfg.validate()...)
	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}
	return cfg, nil
}

func (c *Config) validate() []string {
	var errs []string
	if c.StoreDriver != StoreDriverPostgres && c.StoreDriver != StoreDriverMemory {
		errs = append(errs, fmt.Sprintf("STORE_DRIVER must be %q or %q", StoreDriverPostgres, StoreDriverMemory))
	}
	if c.RateLimit.Capacity <= 0 {
		errs = append(errs, "RATE_LIMIT_CAPACITY must be positive")
	}
	if c.RateLimit.RefillPerSecond <= 0 {
		errs = append(errs, "RATE_LIMIT_REFILL_PER_SEC must be positive")
	}
	if c.Shopify.MaxRetries < 0 {
		errs = append(errs, "VENDOR_MAX_RETRIES must not be negative")
	}
	if c.Sync.PageSize < 1 || c.Sync.PageSize > 250 {
		errs = append(errs, "SYNC_PAGE_SIZE must be between 1 and 250")
	}
	if c.Sync.ProgressEvery < 1 {
		errs = append(errs, "SYNC_PROGRESS_EVERY must be positive")
	}
	if c.Sync.Workers < 1 || c.Webhooks.Workers < 1 {
		errs = append(errs, "SYNC_WORKERS and WEBHOOK_WORKERS must be positive")
	}
	if c.Sync.ScheduleInterval < 0 {
		errs = append(errs, "SYNC_SCHEDULE_INTERVAL must not be negative")
	}
	if c.Sync.QueueSize < 0 || c.Webhooks.QueueSize < 0 {
		errs = append(errs, "queue sizes must not be negative")
	}
	return errs
}

// IsProduction reports whether ENVIRONMENT is production
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

func getEnvOrViper(key, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	if viper.IsSet(key) {
		return viper.GetString(key)
	}
	return defaultValue
}

package config

import (
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration values.
type Config struct {
	AppPort           string `mapstructure:"APP_PORT"`
	DatabaseURL       string `mapstructure:"DATABASE_URL"`
	DatabaseName      string `mapstructure:"DATABASE_NAME"`
	Env               string `mapstructure:"ENV"`
	LogLevel          string `mapstructure:"LOG_LEVEL"`
	MaxRequestsPerMin int    `mapstructure:"MAX_REQUESTS_PER_MIN"`

	// Booking transaction.
	TxTimeoutMs             int `mapstructure:"TX_TIMEOUT_MS"`
	TxMaxWaitMs             int `mapstructure:"TX_MAX_WAIT_MS"`
	BookingMaxRetryAttempts int `mapstructure:"BOOKING_MAX_RETRY_ATTEMPTS"`

	// Outbound HTTP.
	HTTPDefaultTimeoutMs  int `mapstructure:"HTTP_DEFAULT_TIMEOUT_MS"`
	HTTPCalendarTimeoutMs int `mapstructure:"HTTP_CALENDAR_TIMEOUT_MS"`
	HTTPPaymentTimeoutMs  int `mapstructure:"HTTP_PAYMENT_TIMEOUT_MS"`
	HTTPBotTimeoutMs      int `mapstructure:"HTTP_BOT_TIMEOUT_MS"`
	HTTPRetryMaxAttempts  int `mapstructure:"HTTP_RETRY_MAX_ATTEMPTS"`
	HTTPRetryBaseDelayMs  int `mapstructure:"HTTP_RETRY_BASE_DELAY_MS"`

	// Calendar sync.
	CalendarSyncIntervalMs    int    `mapstructure:"CALENDAR_SYNC_INTERVAL_MS"`
	CalendarSyncLookaheadDays int    `mapstructure:"CALENDAR_SYNC_LOOKAHEAD_DAYS"`
	CalendarBackfillBatch     int    `mapstructure:"CALENDAR_BACKFILL_BATCH"`
	CalendarFollowUpMode      string `mapstructure:"CALENDAR_FOLLOWUP_MODE"`

	// Alerts.
	AlertMinIntervalMs  int    `mapstructure:"ALERT_MIN_INTERVAL_MS"`
	AlertThrottleStore  string `mapstructure:"ALERT_THROTTLE_STORE"`
	TelegramBotToken    string `mapstructure:"TELEGRAM_BOT_TOKEN"`
	TelegramAlertChatID string `mapstructure:"TELEGRAM_ALERT_CHAT_ID"`
	TelegramAPIURL      string `mapstructure:"TELEGRAM_API_URL"`

	// Redis configuration.
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisAlertDB  int    `mapstructure:"REDIS_ALERT_DB"`
	RedisQueueDB  int    `mapstructure:"REDIS_QUEUE_DB"`

	// Google Calendar OAuth.
	GoogleClientID     string `mapstructure:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `mapstructure:"GOOGLE_CLIENT_SECRET"`
	GoogleRedirectURL  string `mapstructure:"GOOGLE_REDIRECT_URL"`
	TokenEncryptionKey string `mapstructure:"TOKEN_ENCRYPTION_KEY"`

	// Admin API. Tokens are HS256 JWTs signed with this secret.
	AdminJWTSecret string `mapstructure:"ADMIN_JWT_SECRET"`

	// Payment providers.
	YooKassaShopID      string `mapstructure:"YOOKASSA_SHOP_ID"`
	YooKassaSecretKey   string `mapstructure:"YOOKASSA_SECRET_KEY"`
	YooKassaAPIURL      string `mapstructure:"YOOKASSA_API_URL"`
	PaymentReturnURL    string `mapstructure:"PAYMENT_RETURN_URL"`
	StripeKey           string `mapstructure:"STRIPE_KEY"`
	StripeWebhookSecret string `mapstructure:"STRIPE_WEBHOOK_SECRET"`

	// Domain events.
	AMQPURL      string `mapstructure:"AMQP_URL"`
	AMQPExchange string `mapstructure:"AMQP_EXCHANGE"`
}

var AppConfig Config

var defaults = map[string]interface{}{
	"APP_PORT":                     "8080",
	"ENV":                          "development",
	"LOG_LEVEL":                    "info",
	"MAX_REQUESTS_PER_MIN":         100,
	"DATABASE_URL":                 "mongodb://localhost:27017/?replicaSet=rs0",
	"DATABASE_NAME":                "psychology",
	"TX_TIMEOUT_MS":                5000,
	"TX_MAX_WAIT_MS":               2000,
	"BOOKING_MAX_RETRY_ATTEMPTS":   2,
	"HTTP_DEFAULT_TIMEOUT_MS":      10000,
	"HTTP_CALENDAR_TIMEOUT_MS":     0,
	"HTTP_PAYMENT_TIMEOUT_MS":      0,
	"HTTP_BOT_TIMEOUT_MS":          0,
	"HTTP_RETRY_MAX_ATTEMPTS":      3,
	"HTTP_RETRY_BASE_DELAY_MS":     500,
	"CALENDAR_SYNC_INTERVAL_MS":    300000,
	"CALENDAR_SYNC_LOOKAHEAD_DAYS": 30,
	"CALENDAR_BACKFILL_BATCH":      50,
	"CALENDAR_FOLLOWUP_MODE":       "inline",
	"ALERT_MIN_INTERVAL_MS":        900000,
	"ALERT_THROTTLE_STORE":         "memory",
	"TELEGRAM_BOT_TOKEN":           "",
	"TELEGRAM_ALERT_CHAT_ID":       "",
	"TELEGRAM_API_URL":             "https://api.telegram.org",
	"REDIS_ADDR":                   "localhost:6379",
	"REDIS_PASSWORD":               "",
	"REDIS_ALERT_DB":               0,
	"REDIS_QUEUE_DB":               1,
	"GOOGLE_CLIENT_ID":             "",
	"GOOGLE_CLIENT_SECRET":         "",
	"GOOGLE_REDIRECT_URL":          "",
	"TOKEN_ENCRYPTION_KEY":         "",
	"ADMIN_JWT_SECRET":             "",
	"YOOKASSA_SHOP_ID":             "",
	"YOOKASSA_SECRET_KEY":          "",
	"YOOKASSA_API_URL":             "https://api.yookassa.ru/v3",
	"PAYMENT_RETURN_URL":           "",
	"STRIPE_KEY":                   "",
	"STRIPE_WEBHOOK_SECRET":        "",
	"AMQP_URL":                     "",
	"AMQP_EXCHANGE":                "psychology.events",
}

// Load reads configuration from the environment, an optional .env file and an
// optional config.yaml in the current or "config" directory.
func Load() (Config, error) {
	// .env is a local convenience; real deployments inject the environment.
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AutomaticEnv()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadConfig populates AppConfig and exits the process on failure.
func LoadConfig() {
	cfg, err := Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	AppConfig = cfg
}

// Validate rejects values the services cannot run with.
func (c Config) Validate() error {
	if c.BookingMaxRetryAttempts < 0 {
		return fmt.Errorf("BOOKING_MAX_RETRY_ATTEMPTS must be >= 0, got %d", c.BookingMaxRetryAttempts)
	}
	if c.HTTPRetryMaxAttempts < 1 {
		return fmt.Errorf("HTTP_RETRY_MAX_ATTEMPTS must be >= 1, got %d", c.HTTPRetryMaxAttempts)
	}
	if c.CalendarSyncIntervalMs <= 0 {
		return fmt.Errorf("CALENDAR_SYNC_INTERVAL_MS must be positive")
	}
	switch c.CalendarFollowUpMode {
	case "inline", "queue":
	default:
		return fmt.Errorf("CALENDAR_FOLLOWUP_MODE must be inline or queue, got %q", c.CalendarFollowUpMode)
	}
	switch c.AlertThrottleStore {
	case "memory", "redis":
	default:
		return fmt.Errorf("ALERT_THROTTLE_STORE must be memory or redis, got %q", c.AlertThrottleStore)
	}
	if c.GoogleClientID != "" && c.AdminJWTSecret == "" {
		return fmt.Errorf("GOOGLE_CLIENT_ID requires ADMIN_JWT_SECRET for the integration endpoints")
	}
	return nil
}

func ms(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}

func (c Config) TxTimeout() time.Duration { return ms(c.TxTimeoutMs) }

func (c Config) TxMaxWait() time.Duration { return ms(c.TxMaxWaitMs) }

func (c Config) HTTPTimeout() time.Duration { return ms(c.HTTPDefaultTimeoutMs) }

// ServiceTimeout returns the per-service override, falling back to the default timeout.
func (c Config) ServiceTimeout(service string) time.Duration {
	var override int
	switch service {
	case "calendar":
		override = c.HTTPCalendarTimeoutMs
	case "payment":
		override = c.HTTPPaymentTimeoutMs
	case "bot":
		override = c.HTTPBotTimeoutMs
	}
	if override > 0 {
		return ms(override)
	}
	return c.HTTPTimeout()
}

func (c Config) RetryBaseDelay() time.Duration { return ms(c.HTTPRetryBaseDelayMs) }

func (c Config) SyncInterval() time.Duration { return ms(c.CalendarSyncIntervalMs) }

func (c Config) SyncLookahead() time.Duration {
	return time.Duration(c.CalendarSyncLookaheadDays) * 24 * time.Hour
}

func (c Config) AlertMinInterval() time.Duration { return ms(c.AlertMinIntervalMs) }

func GetEnv() string {
	return AppConfig.Env
}

func IsProduction() bool {
	return GetEnv() == "production"
}

/**
 * @description
 * Configuration management for the ambassador payout service. Settings come from
 * environment variables (and an optional .env file) through Viper, followed by a
 * normalization pass that validates the values the pipeline cannot run without.
 *
 * @dependencies
 * - github.com/spf13/viper: configuration loading and env binding.
 */

package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the service.
type Config struct {
	ServerPort     string `mapstructure:"SERVER_PORT"`
	DatabaseURL    string `mapstructure:"DATABASE_URL"`
	AutoMigrate    bool   `mapstructure:"AUTO_MIGRATE"`
	RedisURL       string `mapstructure:"REDIS_URL"`
	RabbitMQURL    string `mapstructure:"RABBITMQ_URL"`
	InternalAPIKey string `mapstructure:"INTERNAL_API_KEY"`
	LogLevel       string `mapstructure:"LOG_LEVEL"`
	LogFile        string `mapstructure:"LOG_FILE"`

	PayoutAmount        int64         `mapstructure:"PAYOUT_AMOUNT"`
	PayoutCurrency      string        `mapstructure:"PAYOUT_CURRENCY"`
	PayoutBatchSchedule string        `mapstructure:"PAYOUT_BATCH_SCHEDULE"`
	PayoutBatchSize     int           `mapstructure:"PAYOUT_BATCH_SIZE"`
	QueueDrainInterval  time.Duration `mapstructure:"QUEUE_DRAIN_INTERVAL"`
	ProviderTimeout     time.Duration `mapstructure:"PROVIDER_TIMEOUT"`

	TrustThreshold  int    `mapstructure:"TRUST_THRESHOLD"`
	TrustWeightsRaw string `mapstructure:"TRUST_WEIGHTS"`
	// TrustWeights is TRUST_WEIGHTS parsed; only the listed factors are overridden.
	TrustWeights map[string]int `mapstructure:"-"`

	SMSRateLimitPerMinute int    `mapstructure:"SMS_RATE_LIMIT_PER_MINUTE"`
	RedisRateLimitPrefix  string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`

	TwilioBaseURL           string `mapstructure:"TWILIO_BASE_URL"`
	TwilioAccountSID        string `mapstructure:"TWILIO_ACCOUNT_SID"`
	TwilioAuthToken         string `mapstructure:"TWILIO_AUTH_TOKEN"`
	TwilioFromNumber        string `mapstructure:"TWILIO_FROM_NUMBER"`
	TwilioValidateSignature bool   `mapstructure:"TWILIO_VALIDATE_SIGNATURE"`
	PublicWebhookURL        string `mapstructure:"PUBLIC_WEBHOOK_URL"`

	StripeBaseURL   string `mapstructure:"STRIPE_BASE_URL"`
	StripeSecretKey string `mapstructure:"STRIPE_SECRET_KEY"`

	PayPalBaseURL      string `mapstructure:"PAYPAL_BASE_URL"`
	PayPalClientID     string `mapstructure:"PAYPAL_CLIENT_ID"`
	PayPalClientSecret string `mapstructure:"PAYPAL_CLIENT_SECRET"`

	ProviderRateLimitPerSecond float64 `mapstructure:"PROVIDER_RATE_LIMIT_PER_SECOND"`

	OperatorEmailsRaw string   `mapstructure:"OPERATOR_EMAILS"`
	OperatorEmails    []string `mapstructure:"-"`
	SMTPHost          string   `mapstructure:"SMTP_HOST"`
	SMTPPort          int      `mapstructure:"SMTP_PORT"`
	SMTPUsername      string   `mapstructure:"SMTP_USERNAME"`
	SMTPPassword      string   `mapstructure:"SMTP_PASSWORD"`
	SMTPFrom          string   `mapstructure:"SMTP_FROM"`

	UpgradeURL string `mapstructure:"UPGRADE_URL"`
}

var boundKeys = []string{
	"SERVER_PORT", "DATABASE_URL", "AUTO_MIGRATE", "REDIS_URL", "RABBITMQ_URL", "INTERNAL_API_KEY",
	"LOG_LEVEL", "LOG_FILE",
	"PAYOUT_AMOUNT", "PAYOUT_CURRENCY", "PAYOUT_BATCH_SCHEDULE", "PAYOUT_BATCH_SIZE",
	"QUEUE_DRAIN_INTERVAL", "PROVIDER_TIMEOUT",
	"TRUST_THRESHOLD", "TRUST_WEIGHTS",
	"SMS_RATE_LIMIT_PER_MINUTE", "REDIS_RATE_LIMIT_PREFIX",
	"TWILIO_BASE_URL", "TWILIO_ACCOUNT_SID", "TWILIO_AUTH_TOKEN", "TWILIO_FROM_NUMBER",
	"TWILIO_VALIDATE_SIGNATURE", "PUBLIC_WEBHOOK_URL",
	"STRIPE_BASE_URL", "STRIPE_SECRET_KEY",
	"PAYPAL_BASE_URL", "PAYPAL_CLIENT_ID", "PAYPAL_CLIENT_SECRET",
	"PROVIDER_RATE_LIMIT_PER_SECOND",
	"OPERATOR_EMAILS", "SMTP_HOST", "SMTP_PORT", "SMTP_USERNAME", "SMTP_PASSWORD", "SMTP_FROM",
	"UPGRADE_URL",
}

// LoadConfig reads configuration from the environment and an optional .env file in path.
func LoadConfig(path string) (Config, error) {
	var config Config

	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AutomaticEnv()

	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("PAYOUT_AMOUNT", 5000) // $50.00 in cents
	viper.SetDefault("PAYOUT_CURRENCY", "usd")
	viper.SetDefault("PAYOUT_BATCH_SCHEDULE", "@every 5m")
	viper.SetDefault("PAYOUT_BATCH_SIZE", 50)
	viper.SetDefault("QUEUE_DRAIN_INTERVAL", "1s")
	viper.SetDefault("PROVIDER_TIMEOUT", "30s")
	viper.SetDefault("TRUST_THRESHOLD", -8)
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "ambassador:rate_limit")
	viper.SetDefault("SMS_RATE_LIMIT_PER_MINUTE", 0)
	viper.SetDefault("TWILIO_BASE_URL", "https://api.twilio.com")
	viper.SetDefault("STRIPE_BASE_URL", "https://api.stripe.com")
	viper.SetDefault("PAYPAL_BASE_URL", "https://api-m.paypal.com")
	viper.SetDefault("PROVIDER_RATE_LIMIT_PER_SECOND", 5)
	viper.SetDefault("SMTP_PORT", 587)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	for _, key := range boundKeys {
		_ = viper.BindEnv(key)
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return config, fmt.Errorf("read config file: %w", err)
		}
	}

	if err := viper.Unmarshal(&config); err != nil {
		return config, err
	}

	if err := normalize(&config); err != nil {
		return config, err
	}
	return config, nil
}

func normalize(config *Config) error {
	config.ServerPort = strings.TrimSpace(config.ServerPort)
	config.InternalAPIKey = strings.TrimSpace(config.InternalAPIKey)
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.PayoutCurrency = strings.ToLower(strings.TrimSpace(config.PayoutCurrency))
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "ambassador:rate_limit"
	}

	if strings.TrimSpace(config.DatabaseURL) == "" {
		return fmt.Errorf("DATABASE_URL must be set")
	}
	if config.PayoutBatchSize <= 0 {
		return fmt.Errorf("PAYOUT_BATCH_SIZE must be positive, got %d", config.PayoutBatchSize)
	}
	if config.QueueDrainInterval <= 0 {
		return fmt.Errorf("QUEUE_DRAIN_INTERVAL must be positive, got %s", config.QueueDrainInterval)
	}
	if config.ProviderTimeout <= 0 {
		return fmt.Errorf("PROVIDER_TIMEOUT must be positive, got %s", config.ProviderTimeout)
	}
	if config.TrustThreshold >= 0 {
		return fmt.Errorf("TRUST_THRESHOLD must be negative, got %d", config.TrustThreshold)
	}

	weights, err := ParseWeights(config.TrustWeightsRaw)
	if err != nil {
		return err
	}
	config.TrustWeights = weights
	config.OperatorEmails = splitList(config.OperatorEmailsRaw)

	// PAYOUT_AMOUNT is checked per disbursement task, not at boot.
	return nil
}

// ParseWeights parses "factor=weight,factor=weight" into a map.
func ParseWeights(raw string) (map[string]int, error) {
	weights := map[string]int{}
	for _, pair := range splitList(raw) {
		name, value, ok := strings.Cut(pair, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("TRUST_WEIGHTS entry %q must be factor=weight", pair)
		}
		weight, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return nil, fmt.Errorf("TRUST_WEIGHTS entry %q: %w", pair, err)
		}
		weights[name] = weight
	}
	return weights, nil
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

/**
 * @description
 * This package handles configuration management for the service. It uses the
 * Viper library to read configuration from environment variables, providing a
 * centralized and straightforward way to manage application settings.
 *
 * Monetary settings are accepted in whole currency units (e.g.
 * HIGH_VALUE_THRESHOLD=50000 or 50000.00) and converted to kobo through the
 * domain's decimal parser, so the rule table and approval thresholds are
 * defined in exactly one place and injected into the validator and policy at
 * construction time.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/harborbank/transaction-service/internal/domain"
	"github.com/harborbank/transaction-service/internal/rules"
)

// Config holds all the configuration variables for the transaction-service.
// These values are loaded from environment variables. Amount fields are in kobo.
type Config struct {
	ServerPort           string `mapstructure:"SERVER_PORT"`
	DatabaseURL          string `mapstructure:"DATABASE_URL"`
	RedisURL             string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL          string `mapstructure:"RABBITMQ_URL"`
	NotificationExchange string `mapstructure:"NOTIFICATION_EXCHANGE"`
	ApprovalEventQueue   string `mapstructure:"APPROVAL_EVENT_QUEUE"`
	InternalAPIKey       string `mapstructure:"INTERNAL_API_KEY"`
	StaffJWTSecret       string `mapstructure:"STAFF_JWT_SECRET"`

	HighValueThreshold       int64 `mapstructure:"-"`
	ManagerApprovalThreshold int64 `mapstructure:"-"`

	SubmissionRateLimitPerMinute int `mapstructure:"SUBMISSION_RATE_LIMIT_PER_MINUTE"`

	// Rules is the per-account-type limit table, defaults overridden by env.
	Rules map[domain.AccountType]rules.RuleSet `mapstructure:"-"`
}

// LoadConfig reads configuration from environment variables from the given path.
// It uses Viper to automatically bind environment variables to the Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("NOTIFICATION_EXCHANGE", "harborbank.events")
	viper.SetDefault("APPROVAL_EVENT_QUEUE", "transaction_service.approval_decisions")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "harborbank:rate_limit")
	viper.SetDefault("SUBMISSION_RATE_LIMIT_PER_MINUTE", 60)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("NOTIFICATION_EXCHANGE")
	_ = viper.BindEnv("APPROVAL_EVENT_QUEUE")
	_ = viper.BindEnv("INTERNAL_API_KEY")
	_ = viper.BindEnv("STAFF_JWT_SECRET")
	_ = viper.BindEnv("SUBMISSION_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("HIGH_VALUE_THRESHOLD")
	_ = viper.BindEnv("MANAGER_APPROVAL_THRESHOLD")
	for _, accountType := range []string{"MINOR", "MAJOR", "SAVINGS", "CURRENT"} {
		_ = viper.BindEnv("DAILY_LIMIT_" + accountType)
		_ = viper.BindEnv("MINIMUM_BALANCE_" + accountType)
		_ = viper.BindEnv("SINGLE_TRANSFER_CAP_" + accountType)
	}

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	// Unmarshal the configuration into the Config struct.
	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "harborbank:rate_limit"
	}
	if config.SubmissionRateLimitPerMinute < 0 {
		log.Printf("level=warn component=config msg=\"negative submission rate limit configured; disabling\" value=%d", config.SubmissionRateLimitPerMinute)
		config.SubmissionRateLimitPerMinute = 0
	}

	// Approval thresholds, in whole currency units in the environment.
	config.HighValueThreshold = amountFromEnv("HIGH_VALUE_THRESHOLD", 5_000_000)
	config.ManagerApprovalThreshold = amountFromEnv("MANAGER_APPROVAL_THRESHOLD", 20_000_000)
	if config.ManagerApprovalThreshold < config.HighValueThreshold {
		log.Printf("level=warn component=config msg=\"manager threshold below high-value threshold; aligning\" manager_kobo=%d high_value_kobo=%d",
			config.ManagerApprovalThreshold, config.HighValueThreshold)
		config.ManagerApprovalThreshold = config.HighValueThreshold
	}

	// Per-account-type rule table, defaults overridden per field from env.
	table := rules.Defaults()
	for accountType, envSuffix := range map[domain.AccountType]string{
		domain.AccountTypeMinor:   "MINOR",
		domain.AccountTypeMajor:   "MAJOR",
		domain.AccountTypeSavings: "SAVINGS",
		domain.AccountTypeCurrent: "CURRENT",
	} {
		rs := table[accountType]
		rs.DailyLimit = amountFromEnv("DAILY_LIMIT_"+envSuffix, rs.DailyLimit)
		rs.MinimumBalance = amountFromEnv("MINIMUM_BALANCE_"+envSuffix, rs.MinimumBalance)
		rs.SingleTransferCap = amountFromEnv("SINGLE_TRANSFER_CAP_"+envSuffix, rs.SingleTransferCap)
		table[accountType] = rs
	}
	config.Rules = table

	return
}

// amountFromEnv reads a whole-currency amount from viper and converts it to
// kobo, keeping the fallback when the variable is unset or malformed.
func amountFromEnv(key string, fallbackKobo int64) int64 {
	if !viper.IsSet(key) {
		return fallbackKobo
	}
	raw := strings.TrimSpace(viper.GetString(key))
	if raw == "" {
		return fallbackKobo
	}
	kobo, err := domain.ParseAmount(raw)
	if err != nil {
		log.Printf("level=warn component=config msg=\"invalid amount; keeping default\" key=%s value=%q err=%v", key, raw, err)
		return fallbackKobo
	}
	if kobo < 0 {
		log.Printf("level=warn component=config msg=\"negative amount configured; keeping default\" key=%s value=%q", key, raw)
		return fallbackKobo
	}
	return kobo
}

/**
 * @description
 * This package handles the configuration management for the service. It uses the
 * Viper library to read configuration from environment variables, providing a
 * centralized and straightforward way to manage application settings.
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
)

// Config holds all the configuration variables for the fraud-review-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort                    string `mapstructure:"SERVER_PORT"`
	DatabaseURL                   string `mapstructure:"DATABASE_URL"`
	RedisURL                      string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix          string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL                   string `mapstructure:"RABBITMQ_URL"`
	FlaggedEventQueue             string `mapstructure:"FLAGGED_EVENT_QUEUE"`
	EventsExchange                string `mapstructure:"EVENTS_EXCHANGE"`
	OperatorJWKSURL               string `mapstructure:"OPERATOR_JWKS_URL"`
	InternalAPIKey                string `mapstructure:"INTERNAL_API_KEY"`
	AuditLogPath                  string `mapstructure:"AUDIT_LOG_PATH"`
	OpenAIAPIKey                  string `mapstructure:"OPENAI_API_KEY"`
	AgentModel                    string `mapstructure:"AGENT_MODEL"`
	VerificationMaxAttempts       int    `mapstructure:"VERIFICATION_MAX_ATTEMPTS"`
	VerificationLockoutSeconds    int    `mapstructure:"VERIFICATION_LOCKOUT_SECONDS"`
	LookupRateLimitPerMinute      int    `mapstructure:"LOOKUP_RATE_LIMIT_PER_MINUTE"`
	VerifyRateLimitPerMinute      int    `mapstructure:"VERIFY_RATE_LIMIT_PER_MINUTE"`
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
	viper.SetDefault("SERVER_PORT", "8086")
	viper.SetDefault("FLAGGED_EVENT_QUEUE", "fraud_review_service.flagged_transactions")
	viper.SetDefault("EVENTS_EXCHANGE", "fraud.events")
	viper.SetDefault("AUDIT_LOG_PATH", "case_outcomes.jsonl")
	viper.SetDefault("AGENT_MODEL", "gpt-4o-mini")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "fraud:rate_limit")
	viper.SetDefault("VERIFICATION_MAX_ATTEMPTS", 3)
	viper.SetDefault("VERIFICATION_LOCKOUT_SECONDS", 600)
	viper.SetDefault("LOOKUP_RATE_LIMIT_PER_MINUTE", 30)
	viper.SetDefault("VERIFY_RATE_LIMIT_PER_MINUTE", 60)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "FRAUD_REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("FLAGGED_EVENT_QUEUE")
	_ = viper.BindEnv("EVENTS_EXCHANGE")
	_ = viper.BindEnv("OPERATOR_JWKS_URL")
	_ = viper.BindEnv("INTERNAL_API_KEY", "INTERNAL_API_KEY", "FRAUD_SERVICE_INTERNAL_API_KEY")
	_ = viper.BindEnv("AUDIT_LOG_PATH")
	_ = viper.BindEnv("OPENAI_API_KEY")
	_ = viper.BindEnv("AGENT_MODEL")
	_ = viper.BindEnv("VERIFICATION_MAX_ATTEMPTS")
	_ = viper.BindEnv("VERIFICATION_LOCKOUT_SECONDS")
	_ = viper.BindEnv("LOOKUP_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("VERIFY_RATE_LIMIT_PER_MINUTE")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		// If the config file is not found, we can ignore the error.
		// For other errors, we should return them.
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
	config.InternalAPIKey = strings.TrimSpace(config.InternalAPIKey)
	if config.InternalAPIKey == "" {
		config.InternalAPIKey = strings.TrimSpace(os.Getenv("FRAUD_SERVICE_INTERNAL_API_KEY"))
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "fraud:rate_limit"
	}

	if config.VerificationMaxAttempts <= 0 {
		log.Printf("level=warn component=config msg=\"non-positive verification max attempts; using default\" value=%d", config.VerificationMaxAttempts)
		config.VerificationMaxAttempts = 3
	}
	if config.VerificationLockoutSeconds <= 0 {
		log.Printf("level=warn component=config msg=\"non-positive verification lockout; using default\" value=%d", config.VerificationLockoutSeconds)
		config.VerificationLockoutSeconds = 600
	}
	if config.LookupRateLimitPerMinute <= 0 {
		config.LookupRateLimitPerMinute = 30
	}
	if config.VerifyRateLimitPerMinute <= 0 {
		config.VerifyRateLimitPerMinute = 60
	}

	return
}

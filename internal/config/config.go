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

// Config holds all the configuration variables for the vault-mirror-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort                string `mapstructure:"SERVER_PORT"`
	DatabaseURL               string `mapstructure:"DATABASE_URL"`
	RedisURL                  string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix      string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL               string `mapstructure:"RABBITMQ_URL"`
	EventsExchange            string `mapstructure:"EVENTS_EXCHANGE"`
	ReconcileRetryQueue       string `mapstructure:"RECONCILE_RETRY_QUEUE"`
	ReconcileRetryRoutingKey  string `mapstructure:"RECONCILE_RETRY_ROUTING_KEY"`
	VaultProgramID            string `mapstructure:"VAULT_PROGRAM_ID"`
	WebhookSecret             string `mapstructure:"WEBHOOK_SECRET"`
	WebhookCallbackURL        string `mapstructure:"WEBHOOK_CALLBACK_URL"`
	HeliusAPIBaseURL          string `mapstructure:"HELIUS_API_BASE_URL"`
	HeliusAPIKey              string `mapstructure:"HELIUS_API_KEY"`
	AuthJWKSURL               string `mapstructure:"AUTH_JWKS_URL"`
	BalanceRateLimitPerMinute int    `mapstructure:"BALANCE_RATE_LIMIT_PER_MINUTE"`
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
	viper.SetDefault("EVENTS_EXCHANGE", "vault_mirror.events")
	viper.SetDefault("RECONCILE_RETRY_QUEUE", "vault_mirror.reconcile_retry")
	viper.SetDefault("RECONCILE_RETRY_ROUTING_KEY", "vault.reconcile.retry")
	viper.SetDefault("HELIUS_API_BASE_URL", "https://api.helius.xyz")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "vault_mirror:rate_limit")
	viper.SetDefault("BALANCE_RATE_LIMIT_PER_MINUTE", 120)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("EVENTS_EXCHANGE")
	_ = viper.BindEnv("RECONCILE_RETRY_QUEUE")
	_ = viper.BindEnv("RECONCILE_RETRY_ROUTING_KEY")
	_ = viper.BindEnv("VAULT_PROGRAM_ID")
	_ = viper.BindEnv("WEBHOOK_SECRET", "WEBHOOK_SECRET", "HELIUS_WEBHOOK_SECRET")
	_ = viper.BindEnv("WEBHOOK_CALLBACK_URL")
	_ = viper.BindEnv("HELIUS_API_BASE_URL")
	_ = viper.BindEnv("HELIUS_API_KEY")
	_ = viper.BindEnv("AUTH_JWKS_URL")
	_ = viper.BindEnv("BALANCE_RATE_LIMIT_PER_MINUTE")

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
	config.VaultProgramID = strings.TrimSpace(config.VaultProgramID)
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "vault_mirror:rate_limit"
	}
	if strings.TrimSpace(config.WebhookSecret) == "" {
		config.WebhookSecret = strings.TrimSpace(os.Getenv("HELIUS_WEBHOOK_SECRET"))
	}

	if config.BalanceRateLimitPerMinute < 0 {
		log.Printf("level=warn component=config msg=\"negative balance rate limit configured; disabling limiter\" per_minute=%d", config.BalanceRateLimitPerMinute)
		config.BalanceRateLimitPerMinute = 0
	}

	return
}

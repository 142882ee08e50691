/**
 * @description
 * This package handles the configuration management for Sakhi. It uses the Viper library to
 * read configuration from environment variables and an optional .env file.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"errors"
	"log"
	"os"
	"strings"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

const (
	defaultRateLimitPrefix    = "sakhi:rate_limit"
	defaultInboundRateLimit   = 20
	defaultRefreshSchedule    = "0 2 * * *"
	defaultRefreshConcurrency = 4
)

// Config holds all the configuration variables for Sakhi.
type Config struct {
	ServerPort                string `mapstructure:"SERVER_PORT"`
	DatabaseURL               string `mapstructure:"DATABASE_URL"`
	RedisURL                  string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix      string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	InboundRateLimitPerMinute int    `mapstructure:"INBOUND_RATE_LIMIT_PER_MINUTE"`
	RabbitMQURL               string `mapstructure:"RABBITMQ_URL"`
	EventsExchange            string `mapstructure:"EVENTS_EXCHANGE"`
	InboundMessageQueue       string `mapstructure:"INBOUND_MESSAGE_QUEUE"`
	TelegramBotToken          string `mapstructure:"TELEGRAM_BOT_TOKEN"`
	ScoreRefreshSchedule      string `mapstructure:"SCORE_REFRESH_SCHEDULE"`
	ScoreRefreshConcurrency   int    `mapstructure:"SCORE_REFRESH_CONCURRENCY"`
	CORSAllowedOrigins        string `mapstructure:"CORS_ALLOWED_ORIGINS"`
	LogLevel                  string `mapstructure:"LOG_LEVEL"`
	MigrationsAutoApply       bool   `mapstructure:"MIGRATIONS_AUTO_APPLY"`
}

// LoadConfig reads configuration from environment variables and an optional .env file in path.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", defaultRateLimitPrefix)
	viper.SetDefault("INBOUND_RATE_LIMIT_PER_MINUTE", defaultInboundRateLimit)
	viper.SetDefault("EVENTS_EXCHANGE", "sakhi.events")
	viper.SetDefault("INBOUND_MESSAGE_QUEUE", "sakhi.chat.inbound")
	viper.SetDefault("SCORE_REFRESH_SCHEDULE", defaultRefreshSchedule) // At 02:00 every day.
	viper.SetDefault("SCORE_REFRESH_CONCURRENCY", defaultRefreshConcurrency)
	viper.SetDefault("CORS_ALLOWED_ORIGINS", "*")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("MIGRATIONS_AUTO_APPLY", true)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("INBOUND_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("EVENTS_EXCHANGE")
	_ = viper.BindEnv("INBOUND_MESSAGE_QUEUE")
	_ = viper.BindEnv("TELEGRAM_BOT_TOKEN")
	_ = viper.BindEnv("SCORE_REFRESH_SCHEDULE")
	_ = viper.BindEnv("SCORE_REFRESH_CONCURRENCY")
	_ = viper.BindEnv("CORS_ALLOWED_ORIGINS")
	_ = viper.BindEnv("LOG_LEVEL")
	_ = viper.BindEnv("MIGRATIONS_AUTO_APPLY")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
		err = nil
	}

	if err = viper.Unmarshal(&config); err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.DatabaseURL = strings.TrimSpace(config.DatabaseURL)
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RabbitMQURL = strings.TrimSpace(config.RabbitMQURL)
	config.TelegramBotToken = strings.TrimSpace(config.TelegramBotToken)

	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = defaultRateLimitPrefix
	}
	if config.InboundRateLimitPerMinute <= 0 {
		log.Printf("level=warn component=config msg=\"non-positive inbound rate limit configured; using default\" value=%d default=%d", config.InboundRateLimitPerMinute, defaultInboundRateLimit)
		config.InboundRateLimitPerMinute = defaultInboundRateLimit
	}
	if config.ScoreRefreshConcurrency <= 0 {
		log.Printf("level=warn component=config msg=\"non-positive refresh concurrency configured; using default\" value=%d default=%d", config.ScoreRefreshConcurrency, defaultRefreshConcurrency)
		config.ScoreRefreshConcurrency = defaultRefreshConcurrency
	}

	config.ScoreRefreshSchedule = strings.TrimSpace(config.ScoreRefreshSchedule)
	if _, parseErr := cron.ParseStandard(config.ScoreRefreshSchedule); parseErr != nil {
		log.Printf("level=warn component=config msg=\"invalid SCORE_REFRESH_SCHEDULE; using default\" value=%q err=%v", config.ScoreRefreshSchedule, parseErr)
		config.ScoreRefreshSchedule = defaultRefreshSchedule
	}
	return
}

// RequireDatabase returns an error when no database URL is configured.
func (c Config) RequireDatabase() error {
	if c.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}
	return nil
}

// AllowedOrigins splits CORS_ALLOWED_ORIGINS on commas.
func (c Config) AllowedOrigins() []string {
	var out []string
	for _, origin := range strings.Split(c.CORSAllowedOrigins, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			out = append(out, origin)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Database   Database   `mapstructure:"database"`
	Logger     Logger     `mapstructure:"logger"`
	Server     Server     `mapstructure:"server"`
	Matching   Matching   `mapstructure:"matching"`
	Settlement Settlement `mapstructure:"settlement"`
	Queue      Queue      `mapstructure:"queue"`
	Fee        Fee        `mapstructure:"fee"`
	Alerting   Alerting   `mapstructure:"alerting"`
	Events     Events     `mapstructure:"events"`
}

// Database holds the configuration for the database.
type Database struct {
	Driver       string `mapstructure:"driver"` // "sqlite" or "postgres"
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

// Logger holds the configuration for the logger.
type Logger struct {
	Level       string   `mapstructure:"level"`
	Format      string   `mapstructure:"format"`
	OutputPaths []string `mapstructure:"output_paths"`
}

// Server holds the configuration for the REST API.
type Server struct {
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Matching holds the configuration for counter-order discovery.
type Matching struct {
	ChunkSize int `mapstructure:"chunk_size"`
}

// Settlement holds the retry policy applied to every settlement task.
type Settlement struct {
	MaxAttempts    int   `mapstructure:"max_attempts"`
	BackoffSeconds []int `mapstructure:"backoff_seconds"`
}

// Backoff returns the configured delays as durations.
func (s Settlement) Backoff() []time.Duration {
	delays := make([]time.Duration, 0, len(s.BackoffSeconds))
	for _, sec := range s.BackoffSeconds {
		delays = append(delays, time.Duration(sec)*time.Second)
	}
	return delays
}

// Queue holds the configuration for the durable job queue and its workers.
type Queue struct {
	Workers                  int `mapstructure:"workers"`
	PollIntervalMs           int `mapstructure:"poll_interval_ms"`
	VisibilityTimeoutSeconds int `mapstructure:"visibility_timeout_seconds"`
	MaxAttempts              int `mapstructure:"max_attempts"`
	RetryDelaySeconds        int `mapstructure:"retry_delay_seconds"`
}

// Fee selects and parameterises the fee strategy.
type Fee struct {
	Strategy    string `mapstructure:"strategy"` // "tiered" or "flat"
	MinFee      int64  `mapstructure:"min_fee"`
	MaxFee      int64  `mapstructure:"max_fee"`
	FlatRateBps int64  `mapstructure:"flat_rate_bps"`
}

// Alerting holds the operator webhook used when a settlement chain fails.
type Alerting struct {
	WebhookURL     string  `mapstructure:"webhook_url"`
	RateLimit      float64 `mapstructure:"rate_limit"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
}

// Events holds the Kafka settings for the trade stream. Empty brokers disable it.
type Events struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (config Config, err error) {
	// A missing .env is fine; the environment may already be populated.
	_ = godotenv.Load()

	viper.AddConfigPath(path)
	viper.SetConfigName("config")
	viper.SetConfigType("yml")

	// Allow environment variables to override config file
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults()

	err = viper.ReadInConfig()
	if err != nil {
		return
	}

	err = viper.Unmarshal(&config)
	return
}

func setDefaults() {
	viper.SetDefault("database.driver", "sqlite")
	viper.SetDefault("database.dsn", "file:gold.db?_busy_timeout=5000&_journal_mode=WAL")
	viper.SetDefault("database.max_open_conns", 10)

	viper.SetDefault("logger.level", "info")
	viper.SetDefault("logger.format", "json")

	viper.SetDefault("server.port", 8080)

	viper.SetDefault("matching.chunk_size", 100)

	viper.SetDefault("settlement.max_attempts", 3)
	viper.SetDefault("settlement.backoff_seconds", []int{5, 15, 30})

	viper.SetDefault("queue.workers", 4)
	viper.SetDefault("queue.poll_interval_ms", 500)
	viper.SetDefault("queue.visibility_timeout_seconds", 300)
	viper.SetDefault("queue.max_attempts", 3)
	viper.SetDefault("queue.retry_delay_seconds", 10)

	viper.SetDefault("fee.strategy", "tiered")
	viper.SetDefault("fee.min_fee", 500_000)
	viper.SetDefault("fee.max_fee", 50_000_000)
	viper.SetDefault("fee.flat_rate_bps", 100)

	viper.SetDefault("alerting.rate_limit", 5)
	viper.SetDefault("alerting.rate_limit_burst", 1)
	viper.SetDefault("alerting.timeout_seconds", 10)

	viper.SetDefault("events.topic", "gold.trades")
}

package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database DatabaseConfig
	Redis    RedisConfig
	CORS     CORSConfig
	Log      LogConfig
	Bayzat   BayzatConfig
	Queue    QueueConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// BayzatConfig governs the sync pipeline: the per-record backoff curve, the
// client's bounded in-call retry, and the background loops. Per-company
// values (api key, rate limit delay, page size, max retry attempts) live in
// the database, not here.
type BayzatConfig struct {
	MaxRetryAttempts   int
	BackoffBase        time.Duration
	BackoffCap         time.Duration
	ClientRetries      int
	ClientRetryBackoff time.Duration
	RequestTimeout     time.Duration
	SchedulerInterval  time.Duration
	SweepInterval      time.Duration
	SweepLimit         int
}

// QueueConfig tunes the background job queue. This retry layer is separate
// from the per-record Bayzat retry policy.
type QueueConfig struct {
	Workers    int
	BufferSize int
	MaxRetries int
	RetryDelay time.Duration
	JobTimeout time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Bayzat = BayzatConfig{
		MaxRetryAttempts:   v.GetInt("BAYZAT_MAX_RETRY_ATTEMPTS"),
		BackoffBase:        parseDuration(v.GetString("BAYZAT_BACKOFF_BASE"), 30*time.Second),
		BackoffCap:         parseDuration(v.GetString("BAYZAT_BACKOFF_CAP"), time.Hour),
		ClientRetries:      v.GetInt("BAYZAT_CLIENT_RETRIES"),
		ClientRetryBackoff: parseDuration(v.GetString("BAYZAT_CLIENT_RETRY_BACKOFF"), 500*time.Millisecond),
		RequestTimeout:     parseDuration(v.GetString("BAYZAT_REQUEST_TIMEOUT"), 30*time.Second),
		SchedulerInterval:  parseDuration(v.GetString("BAYZAT_SCHEDULER_INTERVAL"), 5*time.Minute),
		SweepInterval:      parseDuration(v.GetString("BAYZAT_SWEEP_INTERVAL"), 15*time.Minute),
		SweepLimit:         v.GetInt("BAYZAT_SWEEP_LIMIT"),
	}

	cfg.Queue = QueueConfig{
		Workers:    v.GetInt("QUEUE_WORKERS"),
		BufferSize: v.GetInt("QUEUE_BUFFER_SIZE"),
		MaxRetries: v.GetInt("QUEUE_MAX_RETRIES"),
		RetryDelay: parseDuration(v.GetString("QUEUE_RETRY_DELAY"), time.Minute),
		JobTimeout: parseDuration(v.GetString("QUEUE_JOB_TIMEOUT"), 10*time.Minute),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "bayzat_sync")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("BAYZAT_MAX_RETRY_ATTEMPTS", 5)
	v.SetDefault("BAYZAT_BACKOFF_BASE", "30s")
	v.SetDefault("BAYZAT_BACKOFF_CAP", "1h")
	v.SetDefault("BAYZAT_CLIENT_RETRIES", 2)
	v.SetDefault("BAYZAT_CLIENT_RETRY_BACKOFF", "500ms")
	v.SetDefault("BAYZAT_REQUEST_TIMEOUT", "30s")
	v.SetDefault("BAYZAT_SCHEDULER_INTERVAL", "5m")
	v.SetDefault("BAYZAT_SWEEP_INTERVAL", "15m")
	v.SetDefault("BAYZAT_SWEEP_LIMIT", 100)

	v.SetDefault("QUEUE_WORKERS", 4)
	v.SetDefault("QUEUE_BUFFER_SIZE", 64)
	v.SetDefault("QUEUE_MAX_RETRIES", 3)
	v.SetDefault("QUEUE_RETRY_DELAY", "1m")
	v.SetDefault("QUEUE_JOB_TIMEOUT", "10m")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}

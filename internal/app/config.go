package app

import (
	"os"
	"strconv"
	"time"
)

// StorageDriver задаёт бэкенд хранилища приложения.
type StorageDriver string

const (
	// StorageDriverMemory — in-memory хранилище для разработки и тестов.
	StorageDriverMemory StorageDriver = "memory"
	// StorageDriverPostgres — основное хранилище PostgreSQL.
	StorageDriverPostgres StorageDriver = "postgres"
)

// Config описывает настройки запуска приложения.
type Config struct {
	HTTPAddr    string
	MetricsAddr string

	StorageDriver       StorageDriver
	PostgresDSN         string
	PostgresAutoMigrate bool

	RedisAddr    string
	KafkaBrokers string

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration

	PendingSweepInterval time.Duration
	PendingBatchSize     int

	AssignInterval  time.Duration
	AssignBatchSize int
	AssignMaxActive int32
}

// DefaultConfig возвращает базовые настройки для локального запуска.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:    ":8080",
		MetricsAddr: ":9090",

		StorageDriver:       StorageDriverMemory,
		PostgresAutoMigrate: true,

		OutboxPollInterval: 5 * time.Second,
		OutboxBatchSize:    100,
		OutboxMaxAttempts:  3,
		OutboxRetryDelay:   200 * time.Millisecond,

		PendingSweepInterval: 30 * time.Second,
		PendingBatchSize:     50,

		AssignInterval:  10 * time.Second,
		AssignBatchSize: 50,
		AssignMaxActive: 10,
	}
}

// ConfigFromEnv собирает конфигурацию из переменных окружения поверх
// значений по умолчанию.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()

	cfg.HTTPAddr = envString("RETAIL_HTTP_ADDR", cfg.HTTPAddr)
	cfg.MetricsAddr = envString("RETAIL_METRICS_ADDR", cfg.MetricsAddr)

	cfg.PostgresDSN = envString("RETAIL_POSTGRES_DSN", cfg.PostgresDSN)
	if cfg.PostgresDSN != "" {
		cfg.StorageDriver = StorageDriverPostgres
	}
	if v := envString("RETAIL_STORAGE_DRIVER", ""); v != "" {
		cfg.StorageDriver = StorageDriver(v)
	}
	cfg.PostgresAutoMigrate = envBool("RETAIL_POSTGRES_AUTO_MIGRATE", cfg.PostgresAutoMigrate)

	cfg.RedisAddr = envString("RETAIL_REDIS_ADDR", cfg.RedisAddr)
	cfg.KafkaBrokers = envString("RETAIL_KAFKA_BROKERS", cfg.KafkaBrokers)

	cfg.OutboxPollInterval = envDuration("RETAIL_OUTBOX_POLL_INTERVAL", cfg.OutboxPollInterval)
	cfg.OutboxBatchSize = envInt("RETAIL_OUTBOX_BATCH_SIZE", cfg.OutboxBatchSize)
	cfg.OutboxMaxAttempts = envInt("RETAIL_OUTBOX_MAX_ATTEMPTS", cfg.OutboxMaxAttempts)
	cfg.OutboxRetryDelay = envDuration("RETAIL_OUTBOX_RETRY_DELAY", cfg.OutboxRetryDelay)

	cfg.PendingSweepInterval = envDuration("RETAIL_PENDING_SWEEP_INTERVAL", cfg.PendingSweepInterval)
	cfg.PendingBatchSize = envInt("RETAIL_PENDING_BATCH_SIZE", cfg.PendingBatchSize)

	cfg.AssignInterval = envDuration("RETAIL_ASSIGN_INTERVAL", cfg.AssignInterval)
	cfg.AssignBatchSize = envInt("RETAIL_ASSIGN_BATCH_SIZE", cfg.AssignBatchSize)
	cfg.AssignMaxActive = int32(envInt("RETAIL_ASSIGN_MAX_ACTIVE", int(cfg.AssignMaxActive)))

	return cfg
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

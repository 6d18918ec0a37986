package app

import (
	"fmt"
	"strings"
	"time"
)

const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"

	CacheDriverNone   = "none"
	CacheDriverMemory = "memory"
	CacheDriverRedis  = "redis"

	BrokerNone     = "none"
	BrokerKafka    = "kafka"
	BrokerRabbitMQ = "rabbitmq"
)

// Config описывает настройки запуска сервиса.
type Config struct {
	HTTPAddr    string
	GRPCAddr    string
	MetricsAddr string

	StorageDriver       string
	PostgresDSN         string
	PostgresAutoMigrate bool
	// TxMaxAttempts ограничивает повтор транзакции после временной ошибки Postgres.
	TxMaxAttempts int

	CacheDriver string
	RedisAddr   string
	CacheTTL    time.Duration

	Broker         string
	KafkaBrokers   string
	KafkaTopic     string
	KafkaDLQTopic  string
	RabbitMQURL    string
	RabbitExchange string

	OutboxPollInterval  time.Duration
	OutboxBatchSize     int
	OutboxMaxAttempts   int
	OutboxRetryDelay    time.Duration
	BreakerMaxFailures  int
	BreakerResetTimeout time.Duration

	IdempotencyTTL              time.Duration
	IdempotencyCleanupInterval  time.Duration
	IdempotencyCleanupBatchSize int

	ShutdownTimeout time.Duration
}

// DefaultConfig возвращает конфигурацию для локального запуска без внешних зависимостей.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:    ":8080",
		GRPCAddr:    ":50051",
		MetricsAddr: ":9090",

		StorageDriver:       StorageDriverMemory,
		PostgresAutoMigrate: true,
		TxMaxAttempts:       5,

		CacheDriver: CacheDriverMemory,
		CacheTTL:    5 * time.Minute,

		Broker:         BrokerNone,
		KafkaTopic:     "dealer.order.events",
		KafkaDLQTopic:  "dealer.order.dlq",
		RabbitExchange: "dealer.orders",

		OutboxPollInterval:  time.Second,
		OutboxBatchSize:     100,
		OutboxMaxAttempts:   3,
		OutboxRetryDelay:    50 * time.Millisecond,
		BreakerMaxFailures:  5,
		BreakerResetTimeout: 30 * time.Second,

		IdempotencyTTL:              24 * time.Hour,
		IdempotencyCleanupInterval:  10 * time.Minute,
		IdempotencyCleanupBatchSize: 500,

		ShutdownTimeout: 5 * time.Second,
	}
}

// Validate проверяет согласованность выбранных драйверов.
func (c Config) Validate() error {
	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			return fmt.Errorf("postgres dsn is required for storage driver %q", c.StorageDriver)
		}
	default:
		return fmt.Errorf("unsupported storage driver: %q", c.StorageDriver)
	}

	switch c.CacheDriver {
	case CacheDriverNone, CacheDriverMemory:
	case CacheDriverRedis:
		if strings.TrimSpace(c.RedisAddr) == "" {
			return fmt.Errorf("redis addr is required for cache driver %q", c.CacheDriver)
		}
	default:
		return fmt.Errorf("unsupported cache driver: %q", c.CacheDriver)
	}

	switch c.Broker {
	case BrokerNone:
	case BrokerKafka:
		if len(c.kafkaBrokerList()) == 0 {
			return fmt.Errorf("kafka brokers are required for broker %q", c.Broker)
		}
	case BrokerRabbitMQ:
		if strings.TrimSpace(c.RabbitMQURL) == "" {
			return fmt.Errorf("rabbitmq url is required for broker %q", c.Broker)
		}
	default:
		return fmt.Errorf("unsupported broker: %q", c.Broker)
	}

	return nil
}

func (c Config) kafkaBrokerList() []string {
	var brokers []string
	for _, b := range strings.Split(c.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

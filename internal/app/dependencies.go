package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/dealership/internal/cache"
	"github.com/vladislavdragonenkov/dealership/internal/domain"
	"github.com/vladislavdragonenkov/dealership/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/dealership/internal/messaging/rabbitmq"
	"github.com/vladislavdragonenkov/dealership/internal/retry"
	"github.com/vladislavdragonenkov/dealership/internal/service/notifier"
	"github.com/vladislavdragonenkov/dealership/internal/storage/memory"
	"github.com/vladislavdragonenkov/dealership/internal/storage/postgres"
)

const redisKeyPrefix = "dealer"

// runtimeDependencies: внешние ресурсы, которые нужно закрыть при остановке.
type runtimeDependencies struct {
	storage      domain.Storage
	cache        domain.Cache
	redis        *cache.Redis
	publisher    domain.OutboxPublisher
	dlqPublisher domain.OutboxPublisher
	closers      []func() error
}

// close освобождает ресурсы в обратном порядке открытия.
func (d *runtimeDependencies) close(logger *log.Entry) {
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			logger.WithError(err).Warn("failed to close dependency")
		}
	}
	d.closers = nil
}

// initRuntimeDependencies открывает хранилище, кэш и брокер по конфигурации.
// При ошибке всё уже открытое закрывается.
func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	deps := &runtimeDependencies{}
	for _, step := range []func(context.Context, Config, *log.Entry) error{
		deps.initStorage,
		deps.initCache,
		deps.initBroker,
	} {
		if err := step(ctx, cfg, logger); err != nil {
			deps.close(logger)
			return nil, err
		}
	}
	return deps, nil
}

func (d *runtimeDependencies) initStorage(ctx context.Context, cfg Config, logger *log.Entry) error {
	if cfg.StorageDriver == StorageDriverMemory {
		d.storage = memory.NewStore()
		logger.Info("using in-memory storage")
		return nil
	}

	txRetry := retry.DefaultConfig()
	if cfg.TxMaxAttempts > 0 {
		txRetry.MaxAttempts = cfg.TxMaxAttempts
	}
	storeLogger := logger.WithField("component", "postgres-store")

	// База может подниматься одновременно с сервисом: подключение повторяется.
	connect := retry.NewExecutor(retry.Config{
		MaxAttempts:   5,
		InitialDelay:  200 * time.Millisecond,
		MaxDelay:      2 * time.Second,
		BackoffFactor: 2,
	}, func(err error) bool { return !errors.Is(err, context.Canceled) }, logger)

	var store *postgres.Store
	err := connect.Do(ctx, "postgres.open", func(ctx context.Context) error {
		var openErr error
		store, openErr = postgres.Open(ctx, cfg.PostgresDSN,
			postgres.WithRetryConfig(txRetry),
			postgres.WithLogger(storeLogger),
		)
		return openErr
	})
	if err != nil {
		return fmt.Errorf("init postgres storage: %w", err)
	}
	d.storage = store
	d.closers = append(d.closers, store.Close)

	if cfg.PostgresAutoMigrate {
		if err := store.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("apply postgres migrations: %w", err)
		}
		logger.Info("postgres migrations applied")
	}
	logger.Info("using postgres storage")
	return nil
}

func (d *runtimeDependencies) initCache(ctx context.Context, cfg Config, logger *log.Entry) error {
	switch cfg.CacheDriver {
	case CacheDriverRedis:
		redisCache, err := cache.DialRedis(ctx, cfg.RedisAddr, redisKeyPrefix)
		if err != nil {
			return fmt.Errorf("init redis cache: %w", err)
		}
		d.cache = redisCache
		d.redis = redisCache
		d.closers = append(d.closers, redisCache.Close)
		logger.WithField("addr", cfg.RedisAddr).Info("using redis cache")
	case CacheDriverMemory:
		d.cache = cache.NewMemory()
	default:
		d.cache = nil
	}
	return nil
}

func (d *runtimeDependencies) initBroker(ctx context.Context, cfg Config, logger *log.Entry) error {
	switch cfg.Broker {
	case BrokerKafka:
		brokers := cfg.kafkaBrokerList()
		producer, err := kafka.NewProducer(brokers, logger.WithField("component", "kafka-producer"))
		if err != nil {
			return fmt.Errorf("init kafka producer: %w", err)
		}
		d.closers = append(d.closers, producer.Close)
		d.publisher = kafka.NewOutboxPublisher(producer, cfg.KafkaTopic)
		d.dlqPublisher = kafka.NewOutboxPublisher(producer, cfg.KafkaDLQTopic)
		logger.WithField("brokers", brokers).Info("kafka producer initialized")
	case BrokerRabbitMQ:
		publisher, err := rabbitmq.Dial(ctx, cfg.RabbitMQURL, cfg.RabbitExchange, logger.WithField("component", "rabbitmq-publisher"))
		if err != nil {
			return fmt.Errorf("init rabbitmq publisher: %w", err)
		}
		d.closers = append(d.closers, publisher.Close)
		d.publisher = publisher
		logger.WithField("exchange", cfg.RabbitExchange).Info("rabbitmq publisher initialized")
	default:
		d.publisher = notifier.NewLogPublisher(logger.WithField("component", "log-publisher"))
		logger.Info("broker is not configured, outbox events are written to log")
	}

	// Для RabbitMQ и режима без брокера DLQ пишется в лог.
	if d.dlqPublisher == nil {
		d.dlqPublisher = notifier.NewLogPublisher(logger.WithField("component", "dlq-log-publisher"))
	}
	return nil
}

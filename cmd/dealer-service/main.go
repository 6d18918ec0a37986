package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/dealership/internal/app"
	"github.com/vladislavdragonenkov/dealership/internal/version"
)

const (
	envHTTPAddr            = "DEALER_HTTP_ADDR"
	envGRPCAddr            = "DEALER_GRPC_ADDR"
	envMetricsAddr         = "DEALER_METRICS_ADDR"
	envStorageDriver       = "DEALER_STORAGE_DRIVER"
	envPostgresDSN         = "DEALER_POSTGRES_DSN"
	envPostgresAutoMigrate = "DEALER_POSTGRES_AUTO_MIGRATE"
	envTxMaxAttempts       = "DEALER_TX_MAX_ATTEMPTS"

	envCacheDriver = "DEALER_CACHE_DRIVER"
	envRedisAddr   = "DEALER_REDIS_ADDR"
	envCacheTTL    = "DEALER_CACHE_TTL"

	envBroker         = "DEALER_BROKER"
	envKafkaBrokers   = "DEALER_KAFKA_BROKERS"
	envKafkaTopic     = "DEALER_KAFKA_TOPIC"
	envKafkaDLQTopic  = "DEALER_KAFKA_DLQ_TOPIC"
	envRabbitMQURL    = "DEALER_RABBITMQ_URL"
	envRabbitExchange = "DEALER_RABBITMQ_EXCHANGE"

	envOutboxPollInterval  = "DEALER_OUTBOX_POLL_INTERVAL"
	envOutboxBatchSize     = "DEALER_OUTBOX_BATCH_SIZE"
	envOutboxMaxAttempts   = "DEALER_OUTBOX_MAX_ATTEMPTS"
	envOutboxRetryDelay    = "DEALER_OUTBOX_RETRY_DELAY"
	envBreakerMaxFailures  = "DEALER_BREAKER_MAX_FAILURES"
	envBreakerResetTimeout = "DEALER_BREAKER_RESET_TIMEOUT"

	envIdempotencyTTL              = "DEALER_IDEMPOTENCY_TTL"
	envIdempotencyCleanupInterval  = "DEALER_IDEMPOTENCY_CLEANUP_INTERVAL"
	envIdempotencyCleanupBatchSize = "DEALER_IDEMPOTENCY_CLEANUP_BATCH_SIZE"

	envShutdownTimeout = "DEALER_SHUTDOWN_TIMEOUT"
	envLogLevel        = "DEALER_LOG_LEVEL"
	envLogFormat       = "DEALER_LOG_FORMAT"
)

func main() {
	warnings := setupLogger(os.LookupEnv)
	cfg, cfgWarnings := readConfigFromEnv(os.LookupEnv)
	for _, warning := range append(warnings, cfgWarnings...) {
		log.WithField("warning", warning).Warn("invalid environment value ignored, default is used")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(version.Fields()).WithFields(log.Fields{
		"http_addr":    cfg.HTTPAddr,
		"grpc_addr":    cfg.GRPCAddr,
		"metrics_addr": cfg.MetricsAddr,
	}).Info("запускаем dealer-service")

	if err := app.Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("приложение завершилось с ошибкой")
	}

	log.Info("dealer-service остановлен")
}

// Package app собирает сервис заказов дилерского центра: хранилище, кэш, брокер,
// фоновые воркеры, REST API, метрики и служебный gRPC.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	healthcheck "github.com/vladislavdragonenkov/dealership/internal/health"
	"github.com/vladislavdragonenkov/dealership/internal/metrics"
	"github.com/vladislavdragonenkov/dealership/internal/retry"
	"github.com/vladislavdragonenkov/dealership/internal/service/catalog"
	httpsvc "github.com/vladislavdragonenkov/dealership/internal/service/http"
	"github.com/vladislavdragonenkov/dealership/internal/service/idempotency"
	"github.com/vladislavdragonenkov/dealership/internal/service/orders"
	"github.com/vladislavdragonenkov/dealership/internal/service/outbox"
	"github.com/vladislavdragonenkov/dealership/internal/version"
)

// Run запускает сервис и блокируется до отмены ctx или падения одного из серверов.
// При отмене ctx возвращает ctx.Err().
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithFields(version.Fields()).WithField("component", "app")

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.close(logger)

	workflowMetrics := metrics.NewWorkflowMetrics()
	orderService := orders.NewService(deps.storage,
		orders.WithLogger(logger.WithField("component", "order-workflow")),
		orders.WithMetrics(workflowMetrics),
		orders.WithCache(deps.cache, cfg.CacheTTL),
		orders.WithIdempotencyTTL(cfg.IdempotencyTTL),
	)
	catalogService := catalog.NewService(deps.storage,
		catalog.WithLogger(logger.WithField("component", "catalog")),
	)

	breaker := retry.NewCircuitBreaker(cfg.BreakerMaxFailures, cfg.BreakerResetTimeout,
		logger.WithField("component", "broker-breaker"))
	outboxWorker := outbox.NewWorker(deps.storage.Outbox(), deps.publisher,
		outbox.WithLogger(logger.WithField("component", "outbox-worker")),
		outbox.WithDLQPublisher(deps.dlqPublisher),
		outbox.WithCircuitBreaker(breaker),
		outbox.WithPollInterval(cfg.OutboxPollInterval),
		outbox.WithBatchSize(cfg.OutboxBatchSize),
		outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
		outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
	)
	cleanupWorker := idempotency.NewCleanupWorker(deps.storage.Idempotency(),
		idempotency.WithLogger(logger.WithField("component", "idempotency-cleanup-worker")),
		idempotency.WithInterval(cfg.IdempotencyCleanupInterval),
		idempotency.WithBatchSize(cfg.IdempotencyCleanupBatchSize),
	)

	healthHandler := newHealthHandler(deps, breaker)

	listeners, err := listenAll(cfg.HTTPAddr, cfg.MetricsAddr, cfg.GRPCAddr)
	if err != nil {
		return err
	}
	apiLis, metricsLis, grpcLis := listeners[0], listeners[1], listeners[2]

	apiServer := &http.Server{
		Handler:           httpsvc.NewHandler(orderService, catalogService, workflowMetrics, logger.WithField("layer", "http")).Router(),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	metricsServer := &http.Server{
		Handler:           newMetricsHandler(healthHandler),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	grpcServer, grpcHealth := newAdminGRPCServer(logger)

	logger.WithFields(log.Fields{
		"http_addr":    apiLis.Addr().String(),
		"metrics_addr": metricsLis.Addr().String(),
		"grpc_addr":    grpcLis.Addr().String(),
		"storage":      cfg.StorageDriver,
		"cache":        cfg.CacheDriver,
		"broker":       cfg.Broker,
	}).Info("dealer service started")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		outboxWorker.Run(gctx)
		return nil
	})
	g.Go(func() error {
		cleanupWorker.Run(gctx)
		return nil
	})
	g.Go(func() error {
		watchReadiness(gctx, healthHandler, grpcHealth, readinessCheckInterval)
		return nil
	})
	g.Go(func() error {
		if err := serveHTTP(apiServer, apiLis); err != nil {
			return fmt.Errorf("http api server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := serveHTTP(metricsServer, metricsLis); err != nil {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := grpcServer.Serve(grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc admin server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down dealer service")
		shutdownHTTP(apiServer, cfg.ShutdownTimeout, logger)
		stopGRPC(grpcServer, cfg.ShutdownTimeout, logger)
		shutdownHTTP(metricsServer, cfg.ShutdownTimeout, logger)
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// newHealthHandler регистрирует проверки: хранилище критично, кэш и брокер нет.
func newHealthHandler(deps *runtimeDependencies, breaker *retry.CircuitBreaker) *healthcheck.Handler {
	h := healthcheck.NewHandler(version.Current().Version)
	h.RegisterChecker("storage", healthcheck.CheckFunc(deps.storage.Ping))
	if deps.redis != nil {
		h.RegisterOptional("cache", healthcheck.CheckFunc(deps.redis.Ping))
	}
	h.RegisterOptional("broker", healthcheck.CheckFunc(func(context.Context) error {
		if breaker.State() == retry.CircuitOpen {
			return retry.ErrCircuitOpen
		}
		return nil
	}))
	return h
}

// listenAll открывает listeners по порядку адресов; при ошибке закрывает уже открытые.
func listenAll(addrs ...string) ([]net.Listener, error) {
	listeners := make([]net.Listener, 0, len(addrs))
	for _, addr := range addrs {
		lis, err := net.Listen("tcp", addr)
		if err != nil {
			for _, opened := range listeners {
				_ = opened.Close()
			}
			return nil, fmt.Errorf("listen %s: %w", addr, err)
		}
		listeners = append(listeners, lis)
	}
	return listeners, nil
}

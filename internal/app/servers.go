package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	healthcheck "github.com/vladislavdragonenkov/dealership/internal/health"
	"github.com/vladislavdragonenkov/dealership/internal/metrics"
)

const (
	readHeaderTimeout      = 5 * time.Second
	readinessCheckInterval = 5 * time.Second
)

// newMetricsHandler собирает служебные маршруты: метрики и проверки здоровья.
func newMetricsHandler(healthHandler *healthcheck.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)
	return mux
}

// serveHTTP обслуживает listener до Shutdown; штатная остановка не считается ошибкой.
func serveHTTP(srv *http.Server, lis net.Listener) error {
	if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, timeout time.Duration, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http server shutdown with error")
	}
}

// newAdminGRPCServer создаёт служебный gRPC-сервер: grpc.health.v1 и reflection.
// Статус здоровья выставляет watchReadiness.
func newAdminGRPCServer(logger *log.Entry) (*grpc.Server, *grpchealth.Server) {
	grpcMetrics := metrics.Register(prometheus.DefaultRegisterer, promgrpc.NewServerMetrics())

	server := grpc.NewServer(grpc.ChainUnaryInterceptor(
		grpcMetrics.UnaryServerInterceptor(),
		logUnaryCalls(logger),
	))
	healthServer := grpchealth.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(server, healthServer)
	reflection.Register(server)
	grpcMetrics.InitializeMetrics(server)

	return server, healthServer
}

// logUnaryCalls пишет каждый вызов служебного gRPC: ошибки на Warn, остальное на Debug.
func logUnaryCalls(logger *log.Entry) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		started := time.Now()
		resp, err := handler(ctx, req)
		entry := logger.WithFields(log.Fields{
			"grpc_method": info.FullMethod,
			"duration_ms": time.Since(started).Milliseconds(),
		})
		if err != nil {
			entry.WithError(err).Warn("admin grpc call failed")
		} else {
			entry.Debug("admin grpc call")
		}
		return resp, err
	}
}

// stopGRPC пытается остановиться штатно и обрывает соединения по таймауту.
func stopGRPC(server *grpc.Server, timeout time.Duration, logger *log.Entry) {
	stopped := make(chan struct{})
	go func() {
		server.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(timeout):
		logger.Warn("grpc graceful stop timed out, forcing stop")
		server.Stop()
	}
}

// watchReadiness переносит результат readiness-проверок в статус gRPC health,
// пока не отменён ctx.
func watchReadiness(ctx context.Context, healthHandler *healthcheck.Handler, healthServer *grpchealth.Server, interval time.Duration) {
	update := func() {
		status := healthpb.HealthCheckResponse_NOT_SERVING
		if healthHandler.Ready(ctx) {
			status = healthpb.HealthCheckResponse_SERVING
		}
		healthServer.SetServingStatus("", status)
	}

	update()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			healthServer.Shutdown()
			return
		case <-ticker.C:
			update()
		}
	}
}

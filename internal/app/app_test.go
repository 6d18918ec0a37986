package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	healthcheck "github.com/vladislavdragonenkov/dealership/internal/health"
	"github.com/vladislavdragonenkov/dealership/internal/retry"
	"github.com/vladislavdragonenkov/dealership/internal/storage/memory"
)

// localConfig слушает случайные порты и быстро опрашивает outbox.
func localConfig() Config {
	cfg := DefaultConfig()
	cfg.HTTPAddr = "127.0.0.1:0"
	cfg.GRPCAddr = "127.0.0.1:0"
	cfg.MetricsAddr = "127.0.0.1:0"
	cfg.OutboxPollInterval = 10 * time.Millisecond
	return cfg
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	err := Run(ctx, localConfig())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRunRejectsBadStartup(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{
			name:   "unknown storage driver",
			mutate: func(c *Config) { c.StorageDriver = "sqlite" },
			want:   "unsupported storage driver",
		},
		{
			name:   "unknown broker",
			mutate: func(c *Config) { c.Broker = "nats" },
			want:   "unsupported broker",
		},
		{
			name:   "bad listen address",
			mutate: func(c *Config) { c.MetricsAddr = "256.0.0.1:0" },
			want:   "listen 256.0.0.1:0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := localConfig()
			tt.mutate(&cfg)
			assert.ErrorContains(t, Run(context.Background(), cfg), tt.want)
		})
	}
}

func TestHealthHandlerDegradesWhenBreakerOpens(t *testing.T) {
	breaker := retry.NewCircuitBreaker(1, time.Hour, nil)
	h := newHealthHandler(&runtimeDependencies{storage: memory.NewStore()}, breaker)

	readyz := func() int {
		w := httptest.NewRecorder()
		h.ReadinessHandler(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		return w.Code
	}

	assert.Equal(t, http.StatusOK, readyz())
	assert.Equal(t, healthcheck.StatusHealthy, h.Evaluate(context.Background()).Status)

	_ = breaker.Execute("publish", func() error { return assert.AnError })
	require.Equal(t, retry.CircuitOpen, breaker.State())

	// брокер необязателен: readiness остаётся зелёным, общий статус деградирует.
	assert.Equal(t, http.StatusOK, readyz())
	resp := h.Evaluate(context.Background())
	assert.Equal(t, healthcheck.StatusDegraded, resp.Status)
	assert.Equal(t, retry.ErrCircuitOpen.Error(), resp.Checks["broker"].Message)
}

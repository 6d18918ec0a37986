package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	up   = CheckFunc(func(context.Context) error { return nil })
	down = CheckFunc(func(context.Context) error { return errors.New("connection refused") })
)

func healthz(t *testing.T, handler *Handler) (int, Response) {
	t.Helper()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	var response Response
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&response))
	return rec.Code, response
}

func TestHandler_Statuses(t *testing.T) {
	tests := []struct {
		name     string
		storage  Checker
		cache    Checker
		wantCode int
		want     Status
	}{
		{name: "all up", storage: up, cache: up, wantCode: http.StatusOK, want: StatusHealthy},
		{name: "cache down", storage: up, cache: down, wantCode: http.StatusOK, want: StatusDegraded},
		{name: "storage down", storage: down, cache: up, wantCode: http.StatusServiceUnavailable, want: StatusUnhealthy},
		{name: "everything down", storage: down, cache: down, wantCode: http.StatusServiceUnavailable, want: StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewHandler("v1.2.3")
			handler.RegisterChecker("storage", tt.storage)
			handler.RegisterOptional("cache", tt.cache)

			code, response := healthz(t, handler)
			assert.Equal(t, tt.wantCode, code)
			assert.Equal(t, tt.want, response.Status)
			assert.Equal(t, "v1.2.3", response.Version)
			assert.Len(t, response.Checks, 2)
			assert.True(t, response.Checks["storage"].Critical)
			assert.False(t, response.Checks["cache"].Critical)
			assert.Equal(t, tt.want != StatusUnhealthy, handler.Ready(context.Background()))
		})
	}
}

func TestHandler_ReportsFailureMessage(t *testing.T) {
	handler := NewHandler("dev")
	handler.RegisterOptional("cache", down)

	_, response := healthz(t, handler)
	assert.Equal(t, StatusDegraded, response.Checks["cache"].Status)
	assert.Equal(t, "connection refused", response.Checks["cache"].Message)
}

func TestHandler_ChecksRunConcurrentlyUnderTimeout(t *testing.T) {
	handler := NewHandler("dev")
	handler.timeout = 50 * time.Millisecond
	hang := CheckFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	handler.RegisterChecker("storage", hang)
	handler.RegisterOptional("cache", hang)

	started := time.Now()
	response := handler.Evaluate(context.Background())

	assert.Less(t, time.Since(started), time.Second)
	assert.Equal(t, StatusUnhealthy, response.Status)
	assert.Contains(t, response.Checks["storage"].Message, "deadline exceeded")
	assert.Equal(t, StatusDegraded, response.Checks["cache"].Status)
}

func TestHandler_ReRegisterReplaces(t *testing.T) {
	handler := NewHandler("dev")
	handler.RegisterChecker("storage", down)
	handler.RegisterChecker("storage", up)

	assert.True(t, handler.Ready(context.Background()))
}

func TestProbeHandlers(t *testing.T) {
	rec := httptest.NewRecorder()
	LivenessHandler(rec, httptest.NewRequest(http.MethodGet, "/livez", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	for _, tt := range []struct {
		checker Checker
		code    int
		body    string
	}{
		{checker: up, code: http.StatusOK, body: "ready"},
		{checker: down, code: http.StatusServiceUnavailable, body: "not ready"},
	} {
		handler := NewHandler("dev")
		handler.RegisterChecker("storage", tt.checker)

		rec := httptest.NewRecorder()
		handler.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		assert.Equal(t, tt.code, rec.Code)
		assert.Equal(t, tt.body, rec.Body.String())
	}
}

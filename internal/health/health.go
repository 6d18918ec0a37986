// Package health отдаёт состояние сервиса для probe и мониторинга.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// Status: итог проверки компонента или сервиса целиком.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

const defaultCheckTimeout = 2 * time.Second

// Check: результат проверки одного компонента.
type Check struct {
	Name       string `json:"name"`
	Status     Status `json:"status"`
	Critical   bool   `json:"critical"`
	Message    string `json:"message,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// Response: тело ответа /healthz.
type Response struct {
	Status        Status           `json:"status"`
	Timestamp     time.Time        `json:"timestamp"`
	Checks        map[string]Check `json:"checks,omitempty"`
	Version       string           `json:"version,omitempty"`
	UptimeSeconds int64            `json:"uptime_seconds"`
}

// Checker проверяет доступность одного компонента.
type Checker interface {
	Check(ctx context.Context) error
}

// CheckFunc позволяет использовать функцию вида Ping(ctx) как Checker.
type CheckFunc func(ctx context.Context) error

func (f CheckFunc) Check(ctx context.Context) error { return f(ctx) }

type probe struct {
	name     string
	checker  Checker
	critical bool
}

// Handler выполняет зарегистрированные проверки и отдаёт сводный статус.
// Отказ критичной проверки делает сервис unhealthy, некритичной только degraded.
type Handler struct {
	mu      sync.RWMutex
	probes  map[string]probe
	version string
	started time.Time
	timeout time.Duration
	now     func() time.Time
}

func NewHandler(version string) *Handler {
	return &Handler{
		probes:  make(map[string]probe),
		version: version,
		started: time.Now(),
		timeout: defaultCheckTimeout,
		now:     time.Now,
	}
}

// RegisterChecker регистрирует критичную проверку.
func (h *Handler) RegisterChecker(name string, checker Checker) {
	h.register(probe{name: name, checker: checker, critical: true})
}

// RegisterOptional регистрирует некритичную проверку.
func (h *Handler) RegisterOptional(name string, checker Checker) {
	h.register(probe{name: name, checker: checker})
}

func (h *Handler) register(p probe) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.probes[p.name] = p
}

// Evaluate запускает проверки параллельно с общим таймаутом.
func (h *Handler) Evaluate(ctx context.Context) Response {
	h.mu.RLock()
	probes := make([]probe, 0, len(h.probes))
	for _, p := range h.probes {
		probes = append(probes, p)
	}
	h.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	results := make([]Check, len(probes))
	var wg sync.WaitGroup
	for i, p := range probes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = p.run(ctx)
		}()
	}
	wg.Wait()

	response := Response{
		Status:        StatusHealthy,
		Timestamp:     h.now().UTC(),
		Checks:        make(map[string]Check, len(results)),
		Version:       h.version,
		UptimeSeconds: int64(h.now().Sub(h.started).Seconds()),
	}
	for _, check := range results {
		response.Checks[check.Name] = check
		response.Status = worse(response.Status, check.Status)
	}
	return response
}

func (p probe) run(ctx context.Context) Check {
	started := time.Now()
	err := p.checker.Check(ctx)

	check := Check{
		Name:       p.name,
		Status:     StatusHealthy,
		Critical:   p.critical,
		DurationMs: time.Since(started).Milliseconds(),
	}
	if err != nil {
		check.Message = err.Error()
		check.Status = StatusDegraded
		if p.critical {
			check.Status = StatusUnhealthy
		}
	}
	return check
}

func worse(a, b Status) Status {
	rank := map[Status]int{StatusHealthy: 0, StatusDegraded: 1, StatusUnhealthy: 2}
	if rank[b] > rank[a] {
		return b
	}
	return a
}

// Ready сообщает, что все критичные компоненты доступны.
func (h *Handler) Ready(ctx context.Context) bool {
	return h.Evaluate(ctx).Status != StatusUnhealthy
}

// ServeHTTP отдаёт Response в JSON; unhealthy отвечает 503.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	response := h.Evaluate(r.Context())

	code := http.StatusOK
	if response.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(response)
}

// ReadinessHandler: probe для балансировщика: 200 "ready" или 503 "not ready".
func (h *Handler) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	if h.Ready(r.Context()) {
		writeText(w, http.StatusOK, "ready")
		return
	}
	writeText(w, http.StatusServiceUnavailable, "not ready")
}

// LivenessHandler отвечает 200, пока процесс жив.
func LivenessHandler(w http.ResponseWriter, _ *http.Request) {
	writeText(w, http.StatusOK, "ok")
}

func writeText(w http.ResponseWriter, code int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(body))
}

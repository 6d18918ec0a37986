// Package metrics содержит Prometheus-метрики бизнес-операций с заказами и HTTP API.
package metrics

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Результаты операций для label result.
const (
	ResultSuccess  = "success"
	ResultReplayed = "replayed"
	ResultFailed   = "failed"
)

// WorkflowMetrics содержит метрики операций над заказами.
type WorkflowMetrics struct {
	operations        *prometheus.CounterVec
	idempotentReplays *prometheus.CounterVec

	operationDuration *prometheus.HistogramVec

	// Движение остатков
	unitsReserved *prometheus.CounterVec
	unitsReleased *prometheus.CounterVec

	timelineEvents prometheus.Counter
	outboxEvents   prometheus.Counter

	activeOperations prometheus.Gauge

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// NewWorkflowMetrics регистрирует метрики в DefaultRegisterer.
func NewWorkflowMetrics() *WorkflowMetrics {
	return NewWorkflowMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWorkflowMetricsWithRegisterer регистрирует метрики в переданном registerer.
// Повторная регистрация возвращает уже существующие коллекторы.
func NewWorkflowMetricsWithRegisterer(registerer prometheus.Registerer) *WorkflowMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &WorkflowMetrics{
		operations: Register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dealer_order_operations_total",
			Help: "Order workflow operations by operation and result.",
		}, []string{"operation", "result"})),
		idempotentReplays: Register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dealer_idempotent_replays_total",
			Help: "Requests answered from a stored idempotency record.",
		}, []string{"operation"})),
		operationDuration: Register(registerer, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dealer_order_operation_duration_seconds",
			Help:    "Order workflow operation latency.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2.5, 10),
		}, []string{"operation"})),
		unitsReserved: Register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dealer_inventory_units_reserved_total",
			Help: "Car units taken from stock.",
		}, []string{"car_model_id"})),
		unitsReleased: Register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dealer_inventory_units_released_total",
			Help: "Car units returned to stock.",
		}, []string{"car_model_id"})),
		timelineEvents: Register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dealer_timeline_events_total",
			Help: "Entries appended to order timelines.",
		})),
		outboxEvents: Register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dealer_outbox_events_total",
			Help: "Events written to the transactional outbox.",
		})),
		activeOperations: Register(registerer, prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dealer_active_order_operations",
			Help: "Order workflow operations in flight.",
		})),
		httpRequests: Register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dealer_http_requests_total",
			Help: "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"})),
		httpDuration: Register(registerer, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dealer_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"})),
	}
}

// Register регистрирует коллектор. Если такой уже зарегистрирован, возвращает
// существующий; коллектор другого типа с тем же именем считается ошибкой программы.
func Register[C prometheus.Collector](registerer prometheus.Registerer, collector C) C {
	err := registerer.Register(collector)
	if err == nil {
		return collector
	}
	var are prometheus.AlreadyRegisteredError
	if !errors.As(err, &are) {
		panic(fmt.Sprintf("register collector: %v", err))
	}
	existing, ok := are.ExistingCollector.(C)
	if !ok {
		panic(fmt.Sprintf("collector %T already registered as %T", collector, are.ExistingCollector))
	}
	return existing
}

// OperationStarted отмечает начало операции и возвращает функцию завершения,
// которая записывает длительность и результат.
func (m *WorkflowMetrics) OperationStarted(operation string) func(result string) {
	if m == nil {
		return func(string) {}
	}
	m.activeOperations.Inc()
	started := time.Now()
	return func(result string) {
		m.activeOperations.Dec()
		m.operations.WithLabelValues(operation, result).Inc()
		m.operationDuration.WithLabelValues(operation).Observe(time.Since(started).Seconds())
		if result == ResultReplayed {
			m.idempotentReplays.WithLabelValues(operation).Inc()
		}
	}
}

// RecordReserved учитывает списанные со склада единицы.
func (m *WorkflowMetrics) RecordReserved(carModelID string, units int32) {
	if m == nil || units <= 0 {
		return
	}
	m.unitsReserved.WithLabelValues(carModelID).Add(float64(units))
}

// RecordReleased учитывает возвращённые на склад единицы.
func (m *WorkflowMetrics) RecordReleased(carModelID string, units int32) {
	if m == nil || units <= 0 {
		return
	}
	m.unitsReleased.WithLabelValues(carModelID).Add(float64(units))
}

// RecordTimelineEvent учитывает запись в историю заказа.
func (m *WorkflowMetrics) RecordTimelineEvent() {
	if m == nil {
		return
	}
	m.timelineEvents.Inc()
}

// RecordOutboxEvent учитывает событие, поставленное в outbox.
func (m *WorkflowMetrics) RecordOutboxEvent() {
	if m == nil {
		return
	}
	m.outboxEvents.Inc()
}

// RecordHTTPRequest записывает метрики обработанного HTTP-запроса.
func (m *WorkflowMetrics) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

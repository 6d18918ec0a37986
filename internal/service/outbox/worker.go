// Package outbox доставляет события из transactional outbox во внешний брокер.
package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/dealership/internal/domain"
	"github.com/vladislavdragonenkov/dealership/internal/retry"
)

const (
	defaultPollInterval   = time.Second
	defaultBatchSize      = 100
	defaultMaxAttempts    = 3
	defaultRetryBaseDelay = 50 * time.Millisecond
	maxRetryDelay         = 5 * time.Second
)

var (
	publishAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dealer_outbox_publish_attempts_total",
		Help: "Outbox publish attempts by result.",
	}, []string{"result"})
	pendingRecords = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dealer_outbox_pending_records",
		Help: "Pending records in the transactional outbox.",
	})
	oldestPendingAge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dealer_outbox_oldest_pending_age_seconds",
		Help: "Age of the oldest pending outbox record.",
	})
)

// Option настраивает Worker.
type Option func(*Worker)

func WithLogger(logger *log.Entry) Option {
	return func(w *Worker) { w.logger = logger }
}

// WithDLQPublisher задаёт получателя событий, которые не удалось доставить за maxAttempts.
func WithDLQPublisher(publisher domain.OutboxPublisher) Option {
	return func(w *Worker) { w.dlqPublisher = publisher }
}

// WithCircuitBreaker пропускает публикацию через breaker. Пока он разомкнут,
// сообщения остаются pending до следующего цикла.
func WithCircuitBreaker(cb *retry.CircuitBreaker) Option {
	return func(w *Worker) { w.breaker = cb }
}

func WithPollInterval(interval time.Duration) Option {
	return func(w *Worker) { w.pollInterval = interval }
}

func WithBatchSize(size int) Option {
	return func(w *Worker) { w.batchSize = size }
}

func WithMaxAttempts(attempts int) Option {
	return func(w *Worker) { w.maxAttempts = attempts }
}

// WithRetryBaseDelay задаёт первую паузу между попытками; дальше она удваивается.
func WithRetryBaseDelay(delay time.Duration) Option {
	return func(w *Worker) { w.retryBaseDelay = delay }
}

func WithClock(clock func() time.Time) Option {
	return func(w *Worker) { w.now = clock }
}

// BatchResult: итог одного цикла опроса.
type BatchResult struct {
	Sent         int
	DeadLettered int
	// Postponed выставляется, когда цикл прерван разомкнутым breaker.
	Postponed bool
}

// Worker публикует pending-сообщения из outbox в брокер.
type Worker struct {
	repo         domain.OutboxRepository
	publisher    domain.OutboxPublisher
	dlqPublisher domain.OutboxPublisher
	breaker      *retry.CircuitBreaker
	logger       *log.Entry
	retrier      *retry.Executor

	pollInterval   time.Duration
	batchSize      int
	maxAttempts    int
	retryBaseDelay time.Duration
	now            func() time.Time
}

func NewWorker(repo domain.OutboxRepository, publisher domain.OutboxPublisher, options ...Option) *Worker {
	w := &Worker{
		repo:           repo,
		publisher:      publisher,
		pollInterval:   defaultPollInterval,
		batchSize:      defaultBatchSize,
		maxAttempts:    defaultMaxAttempts,
		retryBaseDelay: defaultRetryBaseDelay,
		now:            time.Now,
	}
	for _, option := range options {
		option(w)
	}

	if w.logger == nil {
		w.logger = log.WithField("component", "outbox-worker")
	}
	if w.pollInterval <= 0 {
		w.pollInterval = defaultPollInterval
	}
	if w.batchSize <= 0 {
		w.batchSize = defaultBatchSize
	}
	if w.maxAttempts <= 0 {
		w.maxAttempts = defaultMaxAttempts
	}
	w.retryBaseDelay = max(w.retryBaseDelay, 0)
	if w.now == nil {
		w.now = time.Now
	}

	w.retrier = retry.NewExecutor(w.retryConfig(), isRetryablePublishError, w.logger)
	return w
}

func (w *Worker) retryConfig() retry.Config {
	return retry.Config{
		MaxAttempts:   w.maxAttempts,
		InitialDelay:  w.retryBaseDelay,
		MaxDelay:      maxRetryDelay,
		BackoffFactor: 2,
	}
}

// Разомкнутый breaker и отмена контекста не лечатся повтором в рамках цикла.
func isRetryablePublishError(err error) bool {
	return !errors.Is(err, retry.ErrCircuitOpen) &&
		!errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded)
}

// Run опрашивает outbox каждые pollInterval до отмены ctx.
func (w *Worker) Run(ctx context.Context) {
	if w.repo == nil || w.publisher == nil {
		w.logger.Warn("outbox worker is disabled: repo or publisher is nil")
		return
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		w.ProcessOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ProcessOnce публикует одну пачку pending-сообщений в порядке их создания.
func (w *Worker) ProcessOnce(ctx context.Context) BatchResult {
	var result BatchResult
	if ctx.Err() != nil {
		return result
	}

	events, err := w.repo.PullPending(ctx, w.batchSize)
	if err != nil {
		w.logger.WithError(err).Warn("failed to pull pending outbox messages")
		return result
	}
	defer w.refreshBacklogMetrics(ctx)

	for _, event := range events {
		if ctx.Err() != nil {
			return result
		}
		logger := w.logger.WithFields(log.Fields{
			"outbox_id":    event.ID,
			"event_type":   event.EventType,
			"aggregate_id": event.AggregateID,
		})

		err := w.retrier.Do(ctx, "outbox.publish", func(ctx context.Context) error {
			return w.publish(ctx, event)
		})
		switch {
		case err == nil:
			result.Sent++
			if err := w.repo.MarkSent(ctx, event.ID); err != nil {
				logger.WithError(err).Warn("failed to mark outbox message as sent")
			}
		case errors.Is(err, retry.ErrCircuitOpen):
			publishAttempts.WithLabelValues("circuit_open").Inc()
			logger.Warn("broker circuit is open, postponing outbox batch")
			result.Postponed = true
			return result
		case ctx.Err() != nil:
			return result
		default:
			result.DeadLettered++
			w.deadLetter(ctx, event, err, logger)
		}
	}
	return result
}

func (w *Worker) publish(ctx context.Context, event domain.OutboxMessage) error {
	call := func() error { return w.publisher.Publish(ctx, event) }

	var err error
	if w.breaker == nil {
		err = call()
	} else {
		err = w.breaker.Execute("outbox.publish", call)
	}

	switch {
	case err == nil:
		publishAttempts.WithLabelValues("sent").Inc()
	case !errors.Is(err, retry.ErrCircuitOpen):
		publishAttempts.WithLabelValues("error").Inc()
	}
	return err
}

// deadLetter отправляет событие в DLQ и помечает его failed, чтобы оно не блокировало очередь.
func (w *Worker) deadLetter(ctx context.Context, event domain.OutboxMessage, cause error, logger *log.Entry) {
	logger.WithError(cause).WithField("attempts", w.maxAttempts).Error("outbox publish failed after retries")
	publishAttempts.WithLabelValues("failed").Inc()

	if err := w.publishToDLQ(ctx, event, cause); err != nil {
		logger.WithError(err).Warn("failed to publish to DLQ")
		publishAttempts.WithLabelValues("dlq_failed").Inc()
	}
	if err := w.repo.MarkFailed(ctx, event.ID); err != nil {
		logger.WithError(err).Warn("failed to mark outbox message as failed")
	}
}

func (w *Worker) refreshBacklogMetrics(ctx context.Context) {
	stats, err := w.repo.Stats(ctx)
	if err != nil {
		w.logger.WithError(err).Warn("failed to collect outbox backlog stats")
		return
	}

	pendingRecords.Set(float64(stats.PendingCount))
	age := 0.0
	if stats.PendingCount > 0 && !stats.OldestPendingAt.IsZero() {
		age = max(w.now().Sub(stats.OldestPendingAt).Seconds(), 0)
	}
	oldestPendingAge.Set(age)
}

// DeadLetter: тело DLQ-сообщения: событие, которое не удалось доставить, и причина.
type DeadLetter struct {
	OutboxID       string          `json:"outbox_id"`
	AggregateType  string          `json:"aggregate_type"`
	AggregateID    string          `json:"aggregate_id"`
	EventType      string          `json:"event_type"`
	Payload        json.RawMessage `json:"payload"`
	PublishError   string          `json:"publish_error"`
	DLQPublishedAt time.Time       `json:"dlq_published_at"`
}

func (w *Worker) publishToDLQ(ctx context.Context, event domain.OutboxMessage, cause error) error {
	if w.dlqPublisher == nil {
		return nil
	}

	body, err := json.Marshal(DeadLetter{
		OutboxID:       event.ID,
		AggregateType:  event.AggregateType,
		AggregateID:    event.AggregateID,
		EventType:      event.EventType,
		Payload:        json.RawMessage(event.Payload),
		PublishError:   cause.Error(),
		DLQPublishedAt: w.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode dead letter: %w", err)
	}

	letter := event
	letter.Payload = body
	if err := w.dlqPublisher.Publish(ctx, letter); err != nil {
		return fmt.Errorf("publish to dlq: %w", err)
	}
	return nil
}

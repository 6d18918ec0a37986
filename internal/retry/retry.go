// Package retry содержит стратегию повторного выполнения и circuit breaker,
// общие для транзакций хранилища и публикации событий.
package retry

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
)

var retryAttempts = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "dealer_retry_attempts_total",
		Help: "Number of repeated attempts after a transient failure",
	},
	[]string{"operation"},
)

// Config конфигурация для retry логики.
type Config struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultConfig возвращает конфигурацию по умолчанию.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:   5,
		InitialDelay:  20 * time.Millisecond,
		MaxDelay:      time.Second,
		BackoffFactor: 2.0,
	}
}

func (c Config) normalized() Config {
	def := DefaultConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 1
	}
	if c.InitialDelay < 0 {
		c.InitialDelay = 0
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = def.MaxDelay
	}
	if c.BackoffFactor < 1 {
		c.BackoffFactor = 1
	}
	return c
}

// Classifier решает, стоит ли повторять операцию при данной ошибке.
type Classifier func(err error) bool

// Executor повторяет операцию с экспоненциальной задержкой, пока ошибка временная.
type Executor struct {
	config    Config
	retryable Classifier
	logger    *log.Entry
}

// NewExecutor создаёт исполнителя. Без classifier ни одна ошибка не считается временной.
func NewExecutor(config Config, retryable Classifier, logger *log.Entry) *Executor {
	if logger == nil {
		logger = log.WithField("component", "retry")
	}
	if retryable == nil {
		retryable = func(error) bool { return false }
	}
	return &Executor{
		config:    config.normalized(),
		retryable: retryable,
		logger:    logger,
	}
}

// Do выполняет fn до MaxAttempts раз. Отмена контекста прерывает ожидание между попытками.
func (e *Executor) Do(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	delay := e.config.InitialDelay
	var lastErr error

	for attempt := 1; attempt <= e.config.MaxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			if attempt > 1 {
				e.logger.WithFields(log.Fields{
					"operation": operation,
					"attempt":   attempt,
				}).Info("Operation succeeded after retry")
			}
			return nil
		}
		lastErr = err

		if !e.retryable(err) {
			return err
		}
		if attempt == e.config.MaxAttempts {
			break
		}

		e.logger.WithFields(log.Fields{
			"operation": operation,
			"attempt":   attempt,
			"delay":     delay,
			"error":     err,
		}).Warn("Transient failure, retrying")
		retryAttempts.WithLabelValues(operation).Inc()

		if err := sleep(ctx, delay); err != nil {
			return err
		}
		delay = time.Duration(float64(delay) * e.config.BackoffFactor)
		if delay > e.config.MaxDelay {
			delay = e.config.MaxDelay
		}
	}

	e.logger.WithFields(log.Fields{
		"operation":    operation,
		"max_attempts": e.config.MaxAttempts,
		"error":        lastErr,
	}).Error("Operation failed after all retry attempts")
	return lastErr
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

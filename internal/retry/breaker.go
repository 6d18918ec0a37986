package retry

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
)

// ErrCircuitOpen возвращается, пока breaker разомкнут.
var ErrCircuitOpen = errors.New("circuit breaker is open")

var breakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "dealer_circuit_breaker_state",
	Help: "Circuit breaker state by operation: 0 closed, 1 open, 2 half-open.",
}, []string{"operation"})

// CircuitState: состояние circuit breaker.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// CircuitBreaker размыкается после maxFailures ошибок подряд. Через resetTimeout
// он пропускает ровно один пробный вызов: успех замыкает цепь, ошибка снова размыкает.
type CircuitBreaker struct {
	maxFailures  int
	resetTimeout time.Duration
	now          func() time.Time
	logger       *log.Entry

	mu       sync.Mutex
	state    CircuitState
	failures int
	openedAt time.Time
	probing  bool
}

func NewCircuitBreaker(maxFailures int, resetTimeout time.Duration, logger *log.Entry) *CircuitBreaker {
	if logger == nil {
		logger = log.WithField("component", "circuit-breaker")
	}
	return &CircuitBreaker{
		maxFailures:  max(maxFailures, 1),
		resetTimeout: resetTimeout,
		now:          time.Now,
		logger:       logger,
	}
}

func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Execute вызывает fn, если цепь это позволяет; иначе сразу возвращает ErrCircuitOpen.
func (cb *CircuitBreaker) Execute(operation string, fn func() error) error {
	if !cb.allow(operation) {
		return ErrCircuitOpen
	}
	err := fn()
	cb.record(operation, err)
	return err
}

func (cb *CircuitBreaker) allow(operation string) bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return true
	case CircuitOpen:
		if cb.now().Sub(cb.openedAt) <= cb.resetTimeout {
			return false
		}
		cb.transition(operation, CircuitHalfOpen)
	}

	// half-open: пока пробный вызов не завершился, остальные получают отказ.
	if cb.probing {
		return false
	}
	cb.probing = true
	return true
}

func (cb *CircuitBreaker) record(operation string, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.probing = false
	if err == nil {
		cb.failures = 0
		if cb.state != CircuitClosed {
			cb.transition(operation, CircuitClosed)
		}
		return
	}

	cb.failures++
	if cb.state == CircuitHalfOpen || cb.failures >= cb.maxFailures {
		cb.openedAt = cb.now()
		if cb.state != CircuitOpen {
			cb.transition(operation, CircuitOpen)
		}
	}
}

// transition вызывается под mu.
func (cb *CircuitBreaker) transition(operation string, to CircuitState) {
	cb.logger.WithFields(log.Fields{
		"operation": operation,
		"from":      cb.state.String(),
		"to":        to.String(),
		"failures":  cb.failures,
	}).Warn("circuit breaker state changed")
	cb.state = to
	breakerState.WithLabelValues(operation).Set(float64(to))
}

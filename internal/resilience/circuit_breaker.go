package resilience

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/prepwise/voice-interview/internal/observability"
)

// ErrCircuitOpen is returned by Call while the breaker rejects requests.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitState is exported as the breaker state gauge, so the values are fixed.
type CircuitState int

const (
	StateClosed CircuitState = iota
	StateOpen
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// probeLimit is how many calls a half-open breaker lets through, and how many
// of them must succeed before it closes again.
const probeLimit = 3

// Counts is a snapshot of a breaker's bookkeeping.
type Counts struct {
	Requests            int64
	Failures            int64
	ConsecutiveFailures int
}

// CircuitBreaker guards calls to one upstream: the speech model, Deepgram,
// the backend RPC service or the feedback LLM.
type CircuitBreaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration
	logger       zerolog.Logger

	mu       sync.Mutex
	state    CircuitState
	openedAt time.Time
	probes   int
	passed   int
	counts   Counts
}

// NewCircuitBreaker creates a closed breaker that opens after maxFailures
// consecutive failures and probes again after resetTimeout.
func NewCircuitBreaker(name string, maxFailures int, resetTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		name:         name,
		maxFailures:  max(maxFailures, 1),
		resetTimeout: resetTimeout,
		logger:       observability.GetLogger().With().Str("breaker", name).Logger(),
	}
}

func (cb *CircuitBreaker) Name() string { return cb.name }

// Call runs fn unless the breaker is open. Any non-nil error from fn counts as a failure.
func (cb *CircuitBreaker) Call(fn func() error) error {
	if !cb.allowRequest() {
		observability.IncrementCircuitBreakerFailures(cb.name)
		return ErrCircuitOpen
	}
	err := fn()
	cb.RecordResult(err == nil)
	return err
}

func (cb *CircuitBreaker) allowRequest() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if time.Since(cb.openedAt) < cb.resetTimeout {
			return false
		}
		cb.transition(StateHalfOpen)
	}
	if cb.state == StateHalfOpen {
		if cb.probes >= probeLimit {
			return false
		}
		cb.probes++
	}
	return true
}

// RecordResult records the outcome of a request made outside Call, such as a
// streaming connection whose failure is only known later.
func (cb *CircuitBreaker) RecordResult(success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.counts.Requests++
	if success {
		cb.counts.ConsecutiveFailures = 0
		if cb.state == StateHalfOpen {
			cb.passed++
			if cb.passed >= probeLimit {
				cb.transition(StateClosed)
			}
		}
		return
	}

	cb.counts.Failures++
	cb.counts.ConsecutiveFailures++
	observability.IncrementCircuitBreakerFailures(cb.name)

	switch {
	case cb.state == StateHalfOpen:
		cb.transition(StateOpen)
	case cb.state == StateClosed && cb.counts.ConsecutiveFailures >= cb.maxFailures:
		cb.transition(StateOpen)
	}
}

// transition must be called with mu held.
func (cb *CircuitBreaker) transition(to CircuitState) {
	from := cb.state
	cb.state = to
	cb.probes, cb.passed = 0, 0
	if to == StateOpen {
		cb.openedAt = time.Now()
	}
	if to == StateClosed {
		cb.counts.ConsecutiveFailures = 0
	}

	observability.UpdateCircuitBreakerState(cb.name, int(to))
	event := cb.logger.Info()
	if to == StateOpen {
		event = cb.logger.Warn().Int("consecutive_failures", cb.counts.ConsecutiveFailures)
	}
	event.Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
}

func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) Counts() Counts {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.counts
}

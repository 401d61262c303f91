// Package infra provides shared infrastructure for the Confluence pipeline:
// a lazily expiring cache, request coalescing and a circuit breaker. Nothing
// in this package starts goroutines or timers of its own.
package infra

import (
	"context"
	"sync"
	"time"
)

// RequestDeduplicator coalesces identical in-flight requests. When several
// goroutines ask for the same key at once, fn runs once and every waiter
// receives its result.
type RequestDeduplicator[V any] struct {
	mu       sync.Mutex
	inflight map[string]*inflightRequest[V]
}

// inflightRequest tracks a request in progress with waiters
type inflightRequest[V any] struct {
	done    chan struct{}
	result  V
	err     error
	waiters int
}

// NewRequestDeduplicator creates a new request deduplicator
func NewRequestDeduplicator[V any]() *RequestDeduplicator[V] {
	return &RequestDeduplicator[V]{
		inflight: make(map[string]*inflightRequest[V]),
	}
}

// Do executes fn only if no request with the same key is in flight; otherwise
// it waits for that request. It returns the result, whether it was shared
// from another caller, and any error. A waiter whose ctx ends stops waiting
// without affecting the running request.
func (d *RequestDeduplicator[V]) Do(ctx context.Context, key string, fn func(context.Context) (V, error)) (V, bool, error) {
	d.mu.Lock()

	if req, ok := d.inflight[key]; ok {
		req.waiters++
		d.mu.Unlock()

		select {
		case <-req.done:
			return req.result, true, req.err
		case <-ctx.Done():
			var zero V
			return zero, false, ctx.Err()
		}
	}

	req := &inflightRequest[V]{
		done:    make(chan struct{}),
		waiters: 1,
	}
	d.inflight[key] = req
	d.mu.Unlock()

	req.result, req.err = fn(ctx)
	close(req.done)

	d.mu.Lock()
	delete(d.inflight, key)
	d.mu.Unlock()

	return req.result, false, req.err
}

// InFlight returns the current number of in-flight requests
func (d *RequestDeduplicator[V]) InFlight() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.inflight)
}

// CircuitBreaker fails fast when the remote API keeps failing. It never
// retries on its own; callers see ErrCircuitOpen and decide what to do.
type CircuitBreaker struct {
	mu sync.Mutex

	failureThreshold int           // Consecutive failures before opening
	resetTimeout     time.Duration // Time to wait before letting a trial request through
	halfOpenMax      int           // Max trial requests allowed in half-open state
	now              func() time.Time

	state            CircuitState
	consecutiveFails int
	lastFailure      time.Time
	halfOpenCount    int
}

// CircuitState represents the current state of the circuit breaker
type CircuitState int

const (
	CircuitClosed   CircuitState = iota // Normal operation
	CircuitOpen                         // Failing fast, rejecting requests
	CircuitHalfOpen                     // Probing whether the service recovered
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig configures a CircuitBreaker. Zero fields take defaults.
type CircuitBreakerConfig struct {
	FailureThreshold int
	ResetTimeout     time.Duration
	HalfOpenMax      int
	Now              func() time.Time
}

// NewCircuitBreaker creates a circuit breaker: 5 consecutive failures open
// it, a trial request is allowed after 30 seconds.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 1
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &CircuitBreaker{
		failureThreshold: cfg.FailureThreshold,
		resetTimeout:     cfg.ResetTimeout,
		halfOpenMax:      cfg.HalfOpenMax,
		now:              cfg.Now,
		state:            CircuitClosed,
	}
}

// Allow returns nil if a request may proceed, or *ErrCircuitOpen.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return nil

	case CircuitOpen:
		if cb.now().Sub(cb.lastFailure) >= cb.resetTimeout {
			cb.state = CircuitHalfOpen
			cb.halfOpenCount = 1
			return nil
		}

	case CircuitHalfOpen:
		if cb.halfOpenCount < cb.halfOpenMax {
			cb.halfOpenCount++
			return nil
		}
	}

	return &ErrCircuitOpen{
		State:    cb.state.String(),
		RetryAt:  cb.lastFailure.Add(cb.resetTimeout),
		Failures: cb.consecutiveFails,
	}
}

// RecordSuccess records a successful request, closing a half-open circuit
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFails = 0
	if cb.state == CircuitHalfOpen {
		cb.state = CircuitClosed
		cb.halfOpenCount = 0
	}
}

// RecordFailure records a failed request, potentially opening the circuit
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFails++
	cb.lastFailure = cb.now()

	switch cb.state {
	case CircuitClosed:
		if cb.consecutiveFails >= cb.failureThreshold {
			cb.state = CircuitOpen
		}
	case CircuitHalfOpen:
		cb.state = CircuitOpen
		cb.halfOpenCount = 0
	}
}

// State returns the current circuit state
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Stats returns circuit breaker statistics
func (cb *CircuitBreaker) Stats() CircuitBreakerStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return CircuitBreakerStats{
		State:            cb.state.String(),
		ConsecutiveFails: cb.consecutiveFails,
		LastFailure:      cb.lastFailure,
	}
}

// CircuitBreakerStats contains circuit breaker statistics
type CircuitBreakerStats struct {
	State            string    `json:"state"`
	ConsecutiveFails int       `json:"consecutive_failures"`
	LastFailure      time.Time `json:"last_failure,omitempty"`
}

// ErrCircuitOpen is returned when the circuit breaker rejects a request
type ErrCircuitOpen struct {
	State    string
	RetryAt  time.Time
	Failures int
}

func (e *ErrCircuitOpen) Error() string {
	return "circuit breaker is " + e.State + ": Confluence is failing repeatedly, retry after " + e.RetryAt.Format(time.RFC3339)
}

package breaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrOpen is returned when the breaker rejects a call without invoking the
// protected operation. Callers must not retry through the breaker.
var ErrOpen = errors.New("circuit breaker is open")

// State of the circuit breaker.
type State int

const (
	// StateClosed indicates normal operation.
	StateClosed State = iota
	// StateOpen indicates calls fail fast without touching the dependency.
	StateOpen
	// StateHalfOpen indicates recovery probes are admitted.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config controls state transition thresholds. Immutable after construction.
type Config struct {
	FailureThreshold int           // failures to open the circuit
	RecoveryTimeout  time.Duration // wait before admitting a recovery probe
	SuccessThreshold int           // half-open successes needed to close
	OperationTimeout time.Duration // per-call deadline applied to the operation
}

// DefaultConfig matches the extraction dependency profile: open after 3
// failures, probe after 2 minutes, close after 2 successes.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 3,
		RecoveryTimeout:  2 * time.Minute,
		SuccessThreshold: 2,
		OperationTimeout: 60 * time.Second,
	}
}

// Stats is a point-in-time snapshot for observability.
type Stats struct {
	Name                 string        `json:"name"`
	State                string        `json:"state"`
	FailureCount         int           `json:"failure_count"`
	SuccessCount         int           `json:"success_count"`
	LastFailureTime      time.Time     `json:"last_failure_time"`
	TimeSinceLastFailure time.Duration `json:"time_since_last_failure"`
}

// Breaker protects a single dependency from cascading failures. All state
// transitions are serialized on one mutex; Execute may be called concurrently.
type Breaker struct {
	name   string
	cfg    Config
	logger *zap.Logger

	mu              sync.Mutex
	state           State
	failureCount    int
	successCount    int
	lastFailureTime time.Time

	now func() time.Time
}

func New(name string, cfg Config, logger *zap.Logger) *Breaker {
	b := &Breaker{
		name:   name,
		cfg:    cfg,
		logger: logger.With(zap.String("breaker", name)),
		state:  StateClosed,
		now:    time.Now,
	}
	b.logger.Info("Circuit breaker initialized",
		zap.Int("failure_threshold", cfg.FailureThreshold),
		zap.Duration("recovery_timeout", cfg.RecoveryTimeout))
	return b
}

// Execute runs op under breaker protection. When the circuit is open the call
// is rejected with ErrOpen and op is never invoked. Failures of op propagate
// unchanged after being recorded.
func (b *Breaker) Execute(ctx context.Context, op func(context.Context) error) error {
	if err := b.allowRequest(); err != nil {
		return err
	}

	if b.cfg.OperationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.cfg.OperationTimeout)
		defer cancel()
	}

	start := b.now()
	err := op(ctx)
	elapsed := b.now().Sub(start)

	if err != nil {
		b.recordFailure()
		b.logger.Warn("Protected call failed",
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
		return err
	}

	b.recordSuccess()
	b.logger.Debug("Protected call succeeded", zap.Duration("elapsed", elapsed))
	return nil
}

func (b *Breaker) allowRequest() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		if b.now().Sub(b.lastFailureTime) >= b.cfg.RecoveryTimeout {
			b.state = StateHalfOpen
			b.successCount = 0
			b.logger.Info("Circuit breaker moving to HALF_OPEN state")
			return nil
		}
		return fmt.Errorf("%w: breaker %q, last failure %s ago",
			ErrOpen, b.name, b.now().Sub(b.lastFailureTime).Round(time.Millisecond))
	case StateHalfOpen:
		return nil
	}
	return fmt.Errorf("%w: breaker %q in unknown state", ErrOpen, b.name)
}

func (b *Breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		b.successCount++
		if b.successCount >= b.cfg.SuccessThreshold {
			b.state = StateClosed
			b.failureCount = 0
			b.logger.Info("Circuit breaker CLOSED after recovery")
		}
	case StateClosed:
		// Successes slowly heal sporadic failures, floored at zero.
		if b.failureCount > 0 {
			b.failureCount--
		}
	}
}

func (b *Breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount++
	b.lastFailureTime = b.now()

	switch {
	case b.state == StateHalfOpen:
		b.state = StateOpen
		b.logger.Warn("Circuit breaker OPENED again after half-open failure")
	case b.state == StateClosed && b.failureCount >= b.cfg.FailureThreshold:
		b.state = StateOpen
		b.logger.Error("Circuit breaker OPENED",
			zap.Int("failure_count", b.failureCount))
	}
}

// State returns the current breaker state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Stats returns a snapshot of the breaker counters.
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	var since time.Duration
	if !b.lastFailureTime.IsZero() {
		since = b.now().Sub(b.lastFailureTime)
	}

	return Stats{
		Name:                 b.name,
		State:                b.state.String(),
		FailureCount:         b.failureCount,
		SuccessCount:         b.successCount,
		LastFailureTime:      b.lastFailureTime,
		TimeSinceLastFailure: since,
	}
}

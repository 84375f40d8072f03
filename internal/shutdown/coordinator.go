package shutdown

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrShuttingDown is returned by AdmitRequest once drain has begun.
var ErrShuttingDown = errors.New("service is shutting down")

// Callback is a named cleanup action run during shutdown, in registration order.
type Callback struct {
	Name string
	Fn   func() error
}

// Coordinator stops admitting new work on shutdown while letting in-flight
// requests finish, then runs cleanup callbacks in a fixed order. The active
// request counter is only ever mutated through AdmitRequest's release pair.
type Coordinator struct {
	drainTimeout time.Duration
	pollInterval time.Duration
	logger       *zap.Logger

	mu             sync.Mutex
	isShuttingDown bool
	activeRequests int
	callbacks      []Callback
}

func NewCoordinator(drainTimeout, pollInterval time.Duration, logger *zap.Logger) *Coordinator {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	c := &Coordinator{
		drainTimeout: drainTimeout,
		pollInterval: pollInterval,
		logger:       logger.With(zap.String("component", "shutdown")),
	}
	c.logger.Info("Graceful shutdown coordinator initialized",
		zap.Duration("drain_timeout", drainTimeout))
	return c
}

// AdmitRequest registers an in-flight request. It fails fast once shutdown
// has begun, without touching the counter. The returned release function is
// idempotent and must be called on every exit path.
func (c *Coordinator) AdmitRequest() (release func(), err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.isShuttingDown {
		return nil, ErrShuttingDown
	}
	c.activeRequests++

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			c.activeRequests--
			c.mu.Unlock()
		})
	}, nil
}

// RegisterCallback appends a cleanup action. Intended call sites include
// closing the connection manager and purging temporary files.
func (c *Coordinator) RegisterCallback(name string, fn func() error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callbacks = append(c.callbacks, Callback{Name: name, Fn: fn})
	c.logger.Debug("Registered shutdown callback", zap.String("callback", name))
}

// IsShuttingDown reports whether drain has begun.
func (c *Coordinator) IsShuttingDown() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isShuttingDown
}

// ActiveRequests returns the current in-flight request count.
func (c *Coordinator) ActiveRequests() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeRequests
}

// BeginShutdown sets the shutdown flag, waits for in-flight requests to drain
// (bounded by the drain timeout, then proceeds anyway), and runs every
// registered callback in order. A repeat call is a logged no-op.
func (c *Coordinator) BeginShutdown() {
	c.mu.Lock()
	if c.isShuttingDown {
		c.mu.Unlock()
		c.logger.Warn("Shutdown already in progress")
		return
	}
	c.isShuttingDown = true
	c.mu.Unlock()

	c.logger.Info("Starting graceful shutdown process")
	c.waitForDrain()
	c.runCallbacks()
	c.logger.Info("Graceful shutdown completed")
}

func (c *Coordinator) waitForDrain() {
	deadline := time.Now().Add(c.drainTimeout)

	for {
		active := c.ActiveRequests()
		if active <= 0 {
			c.logger.Info("All active requests completed")
			return
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			// Forced drain: lingering requests get no guarantee of success.
			c.logger.Warn("Shutdown drain timeout reached",
				zap.Int("active_requests", active))
			return
		}

		c.logger.Info("Waiting for active requests to complete",
			zap.Int("active_requests", active),
			zap.Duration("remaining", remaining))
		time.Sleep(c.pollInterval)
	}
}

func (c *Coordinator) runCallbacks() {
	c.mu.Lock()
	callbacks := make([]Callback, len(c.callbacks))
	copy(callbacks, c.callbacks)
	c.mu.Unlock()

	c.logger.Info("Executing shutdown callbacks", zap.Int("count", len(callbacks)))

	for _, cb := range callbacks {
		c.logger.Debug("Executing shutdown callback", zap.String("callback", cb.Name))
		if err := cb.Fn(); err != nil {
			c.logger.Error("Error in shutdown callback",
				zap.String("callback", cb.Name),
				zap.Error(err))
		}
	}
}

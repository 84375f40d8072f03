package redisconn

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrExhausted is returned when the coordination store stays unreachable
// after the configured number of connection attempts.
var ErrExhausted = errors.New("redis connection attempts exhausted")

// Options controls connection and retry behavior. Immutable after construction.
type Options struct {
	Addr     string
	Password string
	DB       int

	MaxRetries          int
	InitialRetryDelay   time.Duration
	MaxRetryDelay       time.Duration
	BackoffMultiplier   float64
	HealthCheckInterval time.Duration

	DialTimeout time.Duration
	ReadTimeout time.Duration
}

func DefaultOptions(addr string) Options {
	return Options{
		Addr:                addr,
		MaxRetries:          5,
		InitialRetryDelay:   time.Second,
		MaxRetryDelay:       60 * time.Second,
		BackoffMultiplier:   2.0,
		HealthCheckInterval: 30 * time.Second,
		DialTimeout:         5 * time.Second,
		ReadTimeout:         5 * time.Second,
	}
}

// HealthStatus is the read-only connectivity probe result consumed by the
// health aggregator. Probe failures produce an unhealthy status, never an error.
type HealthStatus struct {
	Healthy          bool    `json:"healthy"`
	Connected        bool    `json:"connected"`
	MemoryUsedBytes  int64   `json:"memory_used_bytes"`
	MemoryUsedMB     float64 `json:"memory_used_mb"`
	ConnectedClients int64   `json:"connected_clients"`
	UptimeSeconds    int64   `json:"uptime_seconds"`
	RedisVersion     string  `json:"redis_version"`
	Error            string  `json:"error,omitempty"`
}

// Manager owns the single live connection to the coordination store and
// self-heals it after transient outages. No other component holds a direct
// client reference.
type Manager struct {
	opts   Options
	logger *zap.Logger

	// connMu serializes connection replacement so concurrent reconnects
	// never thrash the backoff timers.
	connMu          sync.Mutex
	client          *redis.Client
	isHealthy       bool
	lastHealthCheck time.Time
	closed          bool

	// newClient is swapped in tests.
	newClient func() *redis.Client
}

func NewManager(opts Options, logger *zap.Logger) *Manager {
	m := &Manager{
		opts:   opts,
		logger: logger.With(zap.String("component", "redis_manager")),
	}
	m.newClient = func() *redis.Client {
		return redis.NewClient(&redis.Options{
			Addr:        opts.Addr,
			Password:    opts.Password,
			DB:          opts.DB,
			DialTimeout: opts.DialTimeout,
			ReadTimeout: opts.ReadTimeout,
			// The manager implements its own retry policy.
			MaxRetries: -1,
		})
	}
	return m
}

// GetConnection returns a healthy client, reconnecting with bounded
// exponential backoff when the cached one is stale or dead. Fails with
// ErrExhausted after MaxRetries attempts.
func (m *Manager) GetConnection(ctx context.Context, forceReconnect bool) (*redis.Client, error) {
	m.connMu.Lock()
	defer m.connMu.Unlock()

	if m.closed {
		return nil, fmt.Errorf("%w: manager is closed", ErrExhausted)
	}

	now := time.Now()

	// Fast path: cached, healthy, and recently verified.
	if !forceReconnect && m.client != nil && m.isHealthy &&
		now.Sub(m.lastHealthCheck) < m.opts.HealthCheckInterval {
		return m.client, nil
	}

	// Probe the existing connection before paying for a reconnect.
	if !forceReconnect && m.client != nil {
		if err := m.client.Ping(ctx).Err(); err == nil {
			m.isHealthy = true
			m.lastHealthCheck = now
			return m.client, nil
		}
		m.logger.Warn("Existing Redis connection is unhealthy, reconnecting")
	}

	for attempt := 0; attempt < m.opts.MaxRetries; attempt++ {
		m.logger.Info("Attempting to connect to Redis",
			zap.Int("attempt", attempt+1),
			zap.Int("max_retries", m.opts.MaxRetries))

		client := m.newClient()
		if err := client.Ping(ctx).Err(); err == nil {
			if m.client != nil && m.client != client {
				_ = m.client.Close()
			}
			m.client = client
			m.isHealthy = true
			m.lastHealthCheck = time.Now()
			m.logger.Info("Successfully connected to Redis")
			return client, nil
		} else {
			m.logger.Error("Redis connection attempt failed",
				zap.Int("attempt", attempt+1),
				zap.Error(err))
			_ = client.Close()
		}

		if attempt < m.opts.MaxRetries-1 {
			if err := m.waitWithBackoff(ctx, attempt); err != nil {
				m.isHealthy = false
				return nil, err
			}
		}
	}

	m.isHealthy = false
	return nil, fmt.Errorf("%w: failed after %d attempts", ErrExhausted, m.opts.MaxRetries)
}

// ExecuteWithRetry runs op against a managed connection, retrying only
// connection-class failures with the backoff policy. Application errors
// propagate immediately.
func (m *Manager) ExecuteWithRetry(ctx context.Context, op func(ctx context.Context, client *redis.Client) error) error {
	var lastErr error

	for attempt := 0; attempt < m.opts.MaxRetries; attempt++ {
		client, err := m.GetConnection(ctx, false)
		if err != nil {
			return err
		}

		err = op(ctx, client)
		if err == nil {
			return nil
		}

		if !isConnectionError(err) {
			// Retrying semantic application errors is never correct.
			m.logger.Error("Redis operation error (non-retryable)", zap.Error(err))
			return err
		}

		lastErr = err
		m.logger.Warn("Redis operation failed",
			zap.Int("attempt", attempt+1),
			zap.Error(err))

		m.markUnhealthy()

		if attempt < m.opts.MaxRetries-1 {
			if werr := m.waitWithBackoff(ctx, attempt); werr != nil {
				return werr
			}
		}
	}

	return fmt.Errorf("%w: %v", ErrExhausted, lastErr)
}

// Ping verifies store connectivity through the managed connection.
func (m *Manager) Ping(ctx context.Context) error {
	return m.ExecuteWithRetry(ctx, func(ctx context.Context, client *redis.Client) error {
		return client.Ping(ctx).Err()
	})
}

// GetKey fetches a value; a missing key is reported as found=false, not an error.
func (m *Manager) GetKey(ctx context.Context, key string) (string, bool, error) {
	var value string
	found := true

	err := m.ExecuteWithRetry(ctx, func(ctx context.Context, client *redis.Client) error {
		v, err := client.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			found = false
			return nil
		}
		if err != nil {
			return err
		}
		value = v
		return nil
	})
	if err != nil {
		return "", false, err
	}
	return value, found, nil
}

// SetKey stores a value with a TTL.
func (m *Manager) SetKey(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return m.ExecuteWithRetry(ctx, func(ctx context.Context, client *redis.Client) error {
		return client.Set(ctx, key, value, ttl).Err()
	})
}

// HealthStatus probes the store and reports connectivity plus basic stats.
// Never returns an error; failures yield an unhealthy status.
func (m *Manager) HealthStatus(ctx context.Context) HealthStatus {
	client, err := m.GetConnection(ctx, false)
	if err != nil {
		return HealthStatus{Healthy: false, Connected: false, Error: err.Error()}
	}

	info, err := client.Info(ctx, "memory", "clients", "server").Result()
	if err != nil {
		return HealthStatus{Healthy: false, Connected: false, Error: err.Error()}
	}

	fields := parseInfo(info)
	memUsed, _ := strconv.ParseInt(fields["used_memory"], 10, 64)
	clients, _ := strconv.ParseInt(fields["connected_clients"], 10, 64)
	uptime, _ := strconv.ParseInt(fields["uptime_in_seconds"], 10, 64)

	version := fields["redis_version"]
	if version == "" {
		version = "unknown"
	}

	return HealthStatus{
		Healthy:          true,
		Connected:        true,
		MemoryUsedBytes:  memUsed,
		MemoryUsedMB:     float64(memUsed) / (1024 * 1024),
		ConnectedClients: clients,
		UptimeSeconds:    uptime,
		RedisVersion:     version,
	}
}

// IsHealthy reports the cached health flag without probing.
func (m *Manager) IsHealthy() bool {
	m.connMu.Lock()
	defer m.connMu.Unlock()
	return m.isHealthy
}

// Close tears down the connection. Idempotent.
func (m *Manager) Close() error {
	m.connMu.Lock()
	defer m.connMu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	m.isHealthy = false

	if m.client != nil {
		err := m.client.Close()
		m.client = nil
		if err != nil {
			m.logger.Warn("Error closing Redis connection", zap.Error(err))
			return err
		}
	}
	m.logger.Info("Redis connection closed")
	return nil
}

func (m *Manager) markUnhealthy() {
	m.connMu.Lock()
	m.isHealthy = false
	m.connMu.Unlock()
}

// waitWithBackoff sleeps min(initial*multiplier^attempt, max), honoring ctx.
func (m *Manager) waitWithBackoff(ctx context.Context, attempt int) error {
	delay := backoffDelay(m.opts.InitialRetryDelay, m.opts.BackoffMultiplier, m.opts.MaxRetryDelay, attempt)
	m.logger.Info("Waiting before retry",
		zap.Duration("delay", delay),
		zap.Int("next_attempt", attempt+2))

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func backoffDelay(initial time.Duration, multiplier float64, max time.Duration, attempt int) time.Duration {
	d := time.Duration(float64(initial) * math.Pow(multiplier, float64(attempt)))
	if d > max || d < 0 {
		return max
	}
	return d
}

// isConnectionError distinguishes transport failures (retryable) from
// application errors (never retried by this layer).
func isConnectionError(err error) bool {
	if err == nil || errors.Is(err, redis.Nil) {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	// go-redis reports a closed client pool with a plain error value.
	return strings.Contains(err.Error(), "client is closed") ||
		strings.Contains(err.Error(), "connection pool")
}

func parseInfo(info string) map[string]string {
	fields := make(map[string]string)
	for _, line := range strings.Split(info, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if k, v, ok := strings.Cut(line, ":"); ok {
			fields[k] = v
		}
	}
	return fields
}

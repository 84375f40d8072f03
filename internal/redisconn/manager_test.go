package redisconn

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func testOptions() Options {
	return Options{
		// Nothing listens here; connection attempts fail fast.
		Addr:                "127.0.0.1:1",
		MaxRetries:          3,
		InitialRetryDelay:   time.Millisecond,
		MaxRetryDelay:       5 * time.Millisecond,
		BackoffMultiplier:   2.0,
		HealthCheckInterval: 30 * time.Second,
		DialTimeout:         50 * time.Millisecond,
		ReadTimeout:         50 * time.Millisecond,
	}
}

func TestGetConnectionExhaustsRetries(t *testing.T) {
	m := NewManager(testOptions(), zaptest.NewLogger(t))

	attempts := 0
	orig := m.newClient
	m.newClient = func() *redis.Client {
		attempts++
		return orig()
	}

	_, err := m.GetConnection(context.Background(), false)
	require.ErrorIs(t, err, ErrExhausted)
	assert.Equal(t, 3, attempts, "must attempt exactly MaxRetries connections")
	assert.False(t, m.IsHealthy())
}

func TestGetConnectionHonorsContextDuringBackoff(t *testing.T) {
	opts := testOptions()
	opts.InitialRetryDelay = time.Second
	opts.MaxRetryDelay = time.Second
	m := NewManager(opts, zaptest.NewLogger(t))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := m.GetConnection(ctx, false)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 3*time.Second, "backoff wait must honor context cancellation")
}

func TestHealthStatusUnreachableStore(t *testing.T) {
	m := NewManager(testOptions(), zaptest.NewLogger(t))

	status := m.HealthStatus(context.Background())
	assert.False(t, status.Healthy)
	assert.False(t, status.Connected)
	assert.NotEmpty(t, status.Error)
}

func TestCloseIsIdempotent(t *testing.T) {
	m := NewManager(testOptions(), zaptest.NewLogger(t))

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	_, err := m.GetConnection(context.Background(), false)
	require.ErrorIs(t, err, ErrExhausted)
}

func TestBackoffDelayBounds(t *testing.T) {
	tests := []struct {
		name     string
		attempt  int
		expected time.Duration
	}{
		{"first attempt", 0, time.Second},
		{"second attempt", 1, 2 * time.Second},
		{"third attempt", 2, 4 * time.Second},
		{"capped at max", 10, 10 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := backoffDelay(time.Second, 2.0, 10*time.Second, tt.attempt)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestIsConnectionError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil", nil, false},
		{"missing key", redis.Nil, false},
		{"application error", errors.New("WRONGTYPE Operation against a key"), false},
		{"eof", io.EOF, true},
		{"unexpected eof", io.ErrUnexpectedEOF, true},
		{"deadline", context.DeadlineExceeded, true},
		{"net op error", &net.OpError{Op: "dial", Err: errors.New("connection refused")}, true},
		{"closed client", errors.New("redis: client is closed"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, isConnectionError(tt.err))
		})
	}
}

func TestParseInfo(t *testing.T) {
	info := "# Memory\r\nused_memory:1048576\r\nconnected_clients:4\r\n\r\nredis_version:7.2.0\r\n"
	fields := parseInfo(info)

	assert.Equal(t, "1048576", fields["used_memory"])
	assert.Equal(t, "4", fields["connected_clients"])
	assert.Equal(t, "7.2.0", fields["redis_version"])
}

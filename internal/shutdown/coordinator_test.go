package shutdown

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestCoordinator(t *testing.T) *Coordinator {
	t.Helper()
	return NewCoordinator(200*time.Millisecond, 10*time.Millisecond, zaptest.NewLogger(t))
}

func TestAdmitAndRelease(t *testing.T) {
	c := newTestCoordinator(t)

	release, err := c.AdmitRequest()
	require.NoError(t, err)
	assert.Equal(t, 1, c.ActiveRequests())

	release()
	assert.Equal(t, 0, c.ActiveRequests())

	// Release is idempotent; a double call must not go negative.
	release()
	assert.Equal(t, 0, c.ActiveRequests())
}

func TestAdmitAfterShutdownFails(t *testing.T) {
	c := newTestCoordinator(t)
	c.BeginShutdown()

	release, err := c.AdmitRequest()
	require.ErrorIs(t, err, ErrShuttingDown)
	assert.Nil(t, release)
	assert.Equal(t, 0, c.ActiveRequests(), "rejected admission must not touch the counter")
}

func TestDrainUnblocksWhenRequestsFinish(t *testing.T) {
	c := NewCoordinator(5*time.Second, 10*time.Millisecond, zaptest.NewLogger(t))

	release, err := c.AdmitRequest()
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		c.BeginShutdown()
		close(done)
	}()

	// Give BeginShutdown time to set the flag and start polling.
	require.Eventually(t, c.IsShuttingDown, time.Second, 5*time.Millisecond)

	select {
	case <-done:
		t.Fatal("shutdown completed while a request was still active")
	case <-time.After(50 * time.Millisecond):
	}

	release()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown did not unblock after the last request released")
	}
}

func TestDrainTimeoutForcesShutdown(t *testing.T) {
	c := NewCoordinator(50*time.Millisecond, 10*time.Millisecond, zaptest.NewLogger(t))

	_, err := c.AdmitRequest()
	require.NoError(t, err)

	start := time.Now()
	c.BeginShutdown()

	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	assert.Equal(t, 1, c.ActiveRequests(), "forced drain proceeds with requests still active")
}

func TestConcurrentBeginShutdownRunsOnce(t *testing.T) {
	c := newTestCoordinator(t)

	var calls int32
	c.RegisterCallback("count", func() error {
		atomic.AddInt32(&calls, 1)
		return nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.BeginShutdown()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "callbacks must run exactly once")
}

func TestCallbacksRunInOrderDespiteErrors(t *testing.T) {
	c := newTestCoordinator(t)

	var order []string
	c.RegisterCallback("first", func() error {
		order = append(order, "first")
		return errors.New("first callback failed")
	})
	c.RegisterCallback("second", func() error {
		order = append(order, "second")
		return nil
	})

	c.BeginShutdown()

	assert.Equal(t, []string{"first", "second"}, order,
		"a failing callback must not abort the remaining ones")
}

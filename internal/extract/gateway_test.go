package extract

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redlabs-sc/document-extract-service/internal/breaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type stubBackend struct {
	calls int32
	delay time.Duration
	err   error
	text  string
}

func (b *stubBackend) Extract(ctx context.Context, path string) (*Result, error) {
	atomic.AddInt32(&b.calls, 1)
	if b.delay > 0 {
		select {
		case <-time.After(b.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if b.err != nil {
		return nil, b.err
	}
	return &Result{Text: b.text, Metadata: map[string]any{}}, nil
}

func newTestGateway(t *testing.T, backend Backend, cfg breaker.Config, soft, hard time.Duration) *Gateway {
	t.Helper()
	cb := breaker.New("extraction", cfg, zaptest.NewLogger(t))
	return NewGateway(backend, cb, soft, hard, zaptest.NewLogger(t))
}

func TestGatewayPassesThroughResult(t *testing.T) {
	backend := &stubBackend{text: "hello"}
	g := newTestGateway(t, backend, breaker.DefaultConfig(), time.Second, 2*time.Second)

	result, err := g.Extract(context.Background(), "ignored.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello", result.Text)
}

func TestGatewaySoftDeadline(t *testing.T) {
	backend := &stubBackend{delay: time.Second, text: "too late"}
	g := newTestGateway(t, backend, breaker.DefaultConfig(), 50*time.Millisecond, 2*time.Second)

	start := time.Now()
	_, err := g.Extract(context.Background(), "slow.txt")
	require.ErrorIs(t, err, ErrTimedOut)
	assert.Less(t, time.Since(start), 500*time.Millisecond,
		"caller must get the timeout at the soft deadline, not the hard one")
}

func TestGatewayBreakerOpensAndShedsLoad(t *testing.T) {
	backend := &stubBackend{err: errors.New("extraction backend down")}
	g := newTestGateway(t, backend, breaker.Config{
		FailureThreshold: 3,
		RecoveryTimeout:  time.Minute,
		SuccessThreshold: 2,
	}, time.Second, 2*time.Second)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := g.Extract(ctx, "doomed.txt")
		require.Error(t, err)
		require.NotErrorIs(t, err, breaker.ErrOpen)
	}

	_, err := g.Extract(ctx, "doomed.txt")
	require.ErrorIs(t, err, breaker.ErrOpen)
	assert.Equal(t, int32(3), atomic.LoadInt32(&backend.calls),
		"the rejected call must never reach the backend")
}

func TestPlainTextBackendRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "note.txt")
	content := "some document content\nwith two lines\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	backend := NewPlainTextBackend(1024)
	result, err := backend.Extract(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, content, result.Text)
	assert.Equal(t, "note.txt", result.Metadata["filename"])
	assert.Equal(t, ".txt", result.Metadata["extension"])
	assert.Equal(t, int64(len(content)), result.Metadata["size_bytes"])
}

func TestPlainTextBackendSizeLimit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "big.txt")
	require.NoError(t, os.WriteFile(path, make([]byte, 100), 0644))

	backend := NewPlainTextBackend(10)
	_, err := backend.Extract(context.Background(), path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "file too large")
}

func TestRouterUnsupportedFormat(t *testing.T) {
	router := NewRouter()
	router.Register(NewPlainTextBackend(1024), ".txt")

	_, err := router.Extract(context.Background(), "report.pdf")
	require.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestRouterDispatchesByExtension(t *testing.T) {
	router := NewRouter()
	txt := &stubBackend{text: "from txt"}
	md := &stubBackend{text: "from md"}
	router.Register(txt, ".txt")
	router.Register(md, ".md")

	result, err := router.Extract(context.Background(), "doc.MD")
	require.NoError(t, err)
	assert.Equal(t, "from md", result.Text)
	assert.Equal(t, int32(0), atomic.LoadInt32(&txt.calls))
}

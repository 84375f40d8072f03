package extract

import (
	"context"
	"errors"
	"time"

	"github.com/redlabs-sc/document-extract-service/internal/breaker"
	"go.uber.org/zap"
)

// ErrTimedOut indicates the soft extraction deadline elapsed. The in-flight
// backend call is abandoned and forcibly cancelled at the hard deadline.
var ErrTimedOut = errors.New("extraction timed out")

// Gateway wraps every extraction call in the circuit breaker and enforces the
// soft/hard deadline policy. It is used by both the synchronous request path
// and the job workers.
type Gateway struct {
	backend     Backend
	breaker     *breaker.Breaker
	softTimeout time.Duration
	hardTimeout time.Duration
	logger      *zap.Logger
}

func NewGateway(backend Backend, cb *breaker.Breaker, softTimeout, hardTimeout time.Duration, logger *zap.Logger) *Gateway {
	return &Gateway{
		backend:     backend,
		breaker:     cb,
		softTimeout: softTimeout,
		hardTimeout: hardTimeout,
		logger:      logger.With(zap.String("component", "extraction_gateway")),
	}
}

// Breaker exposes the guarding breaker for health reporting.
func (g *Gateway) Breaker() *breaker.Breaker {
	return g.breaker
}

// Extract runs the backend under breaker protection. Exceeding the soft
// deadline returns ErrTimedOut while the backend call keeps running until the
// hard deadline cancels it; its result is discarded.
func (g *Gateway) Extract(ctx context.Context, path string) (*Result, error) {
	var result *Result

	err := g.breaker.Execute(ctx, func(ctx context.Context) error {
		r, err := g.extractWithDeadlines(ctx, path)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

type backendResult struct {
	result *Result
	err    error
}

func (g *Gateway) extractWithDeadlines(ctx context.Context, path string) (*Result, error) {
	// The hard deadline must survive the caller giving up at the soft
	// deadline, so the backend context is detached from cancellation.
	hardCtx, hardCancel := context.WithTimeout(context.WithoutCancel(ctx), g.hardTimeout)

	resultCh := make(chan backendResult, 1)
	go func() {
		defer hardCancel()
		r, err := g.backend.Extract(hardCtx, path)
		resultCh <- backendResult{result: r, err: err}
	}()

	softTimer := time.NewTimer(g.softTimeout)
	defer softTimer.Stop()

	select {
	case br := <-resultCh:
		return br.result, br.err
	case <-softTimer.C:
		g.logger.Warn("Extraction exceeded soft deadline, abandoning call",
			zap.String("path", path),
			zap.Duration("soft_timeout", g.softTimeout))
		return nil, ErrTimedOut
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/redlabs-sc/document-extract-service/internal/breaker"
	"github.com/redlabs-sc/document-extract-service/internal/extract"
	"go.uber.org/zap"
)

// ErrQueueFull signals the execution backend cannot accept more work; callers
// should treat it as overload, not retry it here.
var ErrQueueFull = errors.New("job queue is full")

// Store persists job state in the coordination store. Implemented by the
// resilient connection manager; tests use an in-memory fake.
type Store interface {
	GetKey(ctx context.Context, key string) (string, bool, error)
	SetKey(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Tracker unifies synchronous and deferred extraction behind one status
// model. Submit hands work to the worker pool and returns immediately;
// Status reports pending until a terminal record lands in the store.
type Tracker struct {
	store     Store
	gateway   *extract.Gateway
	queue     chan *Job
	resultTTL time.Duration
	logger    *zap.Logger
}

func NewTracker(store Store, gateway *extract.Gateway, queueCapacity int, resultTTL time.Duration, logger *zap.Logger) *Tracker {
	return &Tracker{
		store:     store,
		gateway:   gateway,
		queue:     make(chan *Job, queueCapacity),
		resultTTL: resultTTL,
		logger:    logger.With(zap.String("component", "job_tracker")),
	}
}

// Submit allocates a job id, records the pending state and enqueues the work.
// It never blocks on completion.
func (t *Tracker) Submit(ctx context.Context, inputPath, displayName string) (string, error) {
	job := &Job{
		ID:          uuid.New().String(),
		Status:      StatusPending,
		InputPath:   inputPath,
		DisplayName: displayName,
		CreatedAt:   time.Now().UTC(),
	}

	if err := t.persist(ctx, job); err != nil {
		return "", fmt.Errorf("record pending job: %w", err)
	}

	select {
	case t.queue <- job:
	default:
		return "", ErrQueueFull
	}

	t.logger.Info("Job submitted",
		zap.String("job_id", job.ID),
		zap.String("filename", displayName))
	return job.ID, nil
}

// Status returns the job record for id. An unknown id is reported as a
// pending job, matching the at-least-once eventual-consistency semantics of
// the backing store.
func (t *Tracker) Status(ctx context.Context, id string) (*Job, error) {
	raw, found, err := t.store.GetKey(ctx, jobKey(id))
	if err != nil {
		return nil, fmt.Errorf("query job %s: %w", id, err)
	}
	if !found {
		return &Job{ID: id, Status: StatusPending}, nil
	}

	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", id, err)
	}
	return &job, nil
}

// RunExtraction is the actual unit of work, shared by the synchronous request
// path and the job workers. It always produces a terminal job and removes the
// temporary input regardless of outcome. The underlying extraction error is
// returned alongside so the synchronous path can map it to a status code.
func (t *Tracker) RunExtraction(ctx context.Context, inputPath, displayName string) (*Job, error) {
	job := &Job{
		Status:      StatusPending,
		InputPath:   inputPath,
		DisplayName: displayName,
		CreatedAt:   time.Now().UTC(),
	}
	err := t.complete(ctx, job)
	return job, err
}

// QueueDepth reports pending entries in the execution queue.
func (t *Tracker) QueueDepth() int {
	return len(t.queue)
}

func (t *Tracker) complete(ctx context.Context, job *Job) error {
	defer func() {
		if err := os.Remove(job.InputPath); err != nil && !os.IsNotExist(err) {
			t.logger.Warn("Failed to clean up input file",
				zap.String("path", job.InputPath),
				zap.Error(err))
		}
	}()

	result, err := t.gateway.Extract(ctx, job.InputPath)
	job.CompletedAt = time.Now().UTC()

	switch {
	case err == nil:
		job.Status = StatusSucceeded
		job.Text = result.Text
		job.Metadata = result.Metadata
	case errors.Is(err, extract.ErrTimedOut):
		job.Status = StatusFailed
		job.Error = "extraction timed out"
	case errors.Is(err, breaker.ErrOpen):
		job.Status = StatusFailed
		job.Error = "document processing temporarily unavailable"
	default:
		job.Status = StatusFailed
		job.Error = err.Error()
	}
	return err
}

func (t *Tracker) persist(ctx context.Context, job *Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return t.store.SetKey(ctx, jobKey(job.ID), data, t.resultTTL)
}

func jobKey(id string) string {
	return "job:" + id
}

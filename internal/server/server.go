package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/redlabs-sc/document-extract-service/config"
	"github.com/redlabs-sc/document-extract-service/internal/breaker"
	"github.com/redlabs-sc/document-extract-service/internal/cleanup"
	"github.com/redlabs-sc/document-extract-service/internal/extract"
	"github.com/redlabs-sc/document-extract-service/internal/health"
	"github.com/redlabs-sc/document-extract-service/internal/jobs"
	"github.com/redlabs-sc/document-extract-service/internal/metrics"
	"github.com/redlabs-sc/document-extract-service/internal/shutdown"
	"go.uber.org/zap"
)

// Server is the conversion API surface. Every convert request registers with
// the shutdown coordinator before any work happens.
type Server struct {
	cfg         *config.Config
	coordinator *shutdown.Coordinator
	tracker     *jobs.Tracker
	janitor     *cleanup.Janitor
	collector   *metrics.Collector
	aggregator  *health.Aggregator
	formats     []string
	logger      *zap.Logger
	httpServer  *http.Server
}

func NewServer(
	cfg *config.Config,
	coordinator *shutdown.Coordinator,
	tracker *jobs.Tracker,
	janitor *cleanup.Janitor,
	collector *metrics.Collector,
	aggregator *health.Aggregator,
	formats []string,
	logger *zap.Logger,
) *Server {
	s := &Server{
		cfg:         cfg,
		coordinator: coordinator,
		tracker:     tracker,
		janitor:     janitor,
		collector:   collector,
		aggregator:  aggregator,
		formats:     formats,
		logger:      logger.With(zap.String("component", "api_server")),
	}
	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.ServerPort),
		Handler: s.Handler(),
	}
	return s
}

// Handler builds the routed and middleware-wrapped API handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /convert", s.requireAPIKey(s.handleConvert))
	mux.HandleFunc("GET /task/{id}", s.requireAPIKey(s.handleTaskStatus))
	mux.HandleFunc("POST /cleanup", s.requireAPIKey(s.handleCleanup))
	mux.HandleFunc("GET /formats", s.handleFormats)
	mux.HandleFunc("GET /status", s.handleStatus)

	return s.rateLimit(mux)
}

// Start serves the API until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("Starting API server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for handlers to return.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	release, err := s.coordinator.AdmitRequest()
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "Service is shutting down",
		})
		return
	}
	defer release()

	start := time.Now()
	success := false
	defer func() {
		s.collector.RecordRequest(success, time.Since(start))
	}()

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes())

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "No file provided"})
		return
	}
	defer file.Close()

	if header.Filename == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "No file selected"})
		return
	}

	inputPath, err := s.saveUpload(file, header.Filename)
	if err != nil {
		s.logger.Error("Failed to save uploaded file", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to store uploaded file"})
		return
	}
	s.logger.Info("Saved uploaded file", zap.String("path", inputPath))

	if r.URL.Query().Get("async") == "true" {
		taskID, err := s.tracker.Submit(r.Context(), inputPath, header.Filename)
		if err != nil {
			os.Remove(inputPath)
			if errors.Is(err, jobs.ErrQueueFull) {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{
					"error": "Service overloaded, try again later",
				})
				return
			}
			s.logger.Error("Failed to submit job", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to schedule processing"})
			return
		}

		success = true
		writeJSON(w, http.StatusAccepted, map[string]string{
			"task_id": taskID,
			"status":  "processing",
			"message": "Document processing started",
		})
		return
	}

	job, extractErr := s.tracker.RunExtraction(r.Context(), inputPath, header.Filename)

	switch {
	case extractErr == nil:
		success = true
		writeJSON(w, http.StatusOK, map[string]any{
			"filename": job.DisplayName,
			"text":     job.Text,
			"metadata": job.Metadata,
			"status":   "completed",
		})
	case errors.Is(extractErr, breaker.ErrOpen):
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error":  "Document processing temporarily unavailable",
			"status": "circuit_breaker_open",
		})
	case errors.Is(extractErr, extract.ErrTimedOut):
		writeJSON(w, http.StatusGatewayTimeout, map[string]string{
			"error":  job.Error,
			"status": "failed",
		})
	case errors.Is(extractErr, extract.ErrUnsupportedFormat):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"error":  job.Error,
			"status": "failed",
		})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error":  job.Error,
			"status": "failed",
		})
	}
}

func (s *Server) handleTaskStatus(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("id")

	job, err := s.tracker.Status(r.Context(), taskID)
	if err != nil {
		s.logger.Error("Error getting task status",
			zap.String("task_id", taskID),
			zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"task_id": taskID,
			"error":   "Failed to query task status",
		})
		return
	}

	switch job.Status {
	case jobs.StatusSucceeded:
		writeJSON(w, http.StatusOK, map[string]any{
			"task_id":  taskID,
			"status":   "completed",
			"text":     job.Text,
			"metadata": job.Metadata,
		})
	case jobs.StatusFailed:
		writeJSON(w, http.StatusOK, map[string]string{
			"task_id": taskID,
			"status":  "failed",
			"error":   job.Error,
		})
	default:
		writeJSON(w, http.StatusOK, map[string]string{
			"task_id": taskID,
			"status":  "processing",
			"message": "Task is waiting to be processed",
		})
	}
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	report := s.janitor.PurgeOlderThan(s.cfg.TempFileMaxAge)
	s.logger.Info("Manual cleanup triggered",
		zap.Int("deleted_count", report.DeletedCount),
		zap.Int64("deleted_bytes", report.DeletedBytes))
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleFormats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"supported_formats": s.formats,
		"timestamp":         time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	verdict := s.aggregator.Summarize(r.Context())
	snap := s.collector.Snapshot()

	writeJSON(w, http.StatusOK, map[string]any{
		"service":         "document-extract-service",
		"status":          verdict.Status,
		"uptime_seconds":  snap.UptimeSeconds,
		"active_requests": s.coordinator.ActiveRequests(),
		"total_requests":  snap.TotalRequests,
		"timestamp":       verdict.Timestamp,
	})
}

// saveUpload writes the uploaded file under a uuid-prefixed name so the
// janitor can recognize it.
func (s *Server) saveUpload(src io.Reader, filename string) (string, error) {
	name := fmt.Sprintf("doc_%s_%s", uuid.New().String(), sanitizeFilename(filename))
	path := filepath.Join(s.cfg.UploadDir, name)

	dst, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

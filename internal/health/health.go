package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/redlabs-sc/document-extract-service/internal/breaker"
	"github.com/redlabs-sc/document-extract-service/internal/metrics"
	"github.com/redlabs-sc/document-extract-service/internal/redisconn"
	"github.com/redlabs-sc/document-extract-service/internal/shutdown"
	"go.uber.org/zap"
)

// StoreProber reports coordination store connectivity. Implemented by the
// resilient connection manager.
type StoreProber interface {
	HealthStatus(ctx context.Context) redisconn.HealthStatus
}

// TempUsage reports bytes used by temporary upload files.
type TempUsage interface {
	TotalBytesUsed() int64
}

// QueueDepther reports pending entries in the job queue.
type QueueDepther interface {
	QueueDepth() int
}

// Verdict is the composite health result. Status is one of healthy, warning
// or critical.
type Verdict struct {
	Status     string         `json:"status"`
	Timestamp  string         `json:"timestamp"`
	Warnings   []string       `json:"warnings"`
	Critical   []string       `json:"critical"`
	Components map[string]any `json:"components"`
}

// Aggregator reads state from every resilience component and produces one
// verdict. Pure read side; it holds no state of its own and never fails —
// a broken sub-probe is reported unhealthy and aggregation continues.
type Aggregator struct {
	breaker     *breaker.Breaker
	store       StoreProber
	coordinator *shutdown.Coordinator
	collector   *metrics.Collector
	tempUsage   TempUsage
	queue       QueueDepther
	tempSizeCap int64
}

func NewAggregator(
	cb *breaker.Breaker,
	store StoreProber,
	coordinator *shutdown.Coordinator,
	collector *metrics.Collector,
	tempUsage TempUsage,
	queue QueueDepther,
	tempSizeCap int64,
) *Aggregator {
	return &Aggregator{
		breaker:     cb,
		store:       store,
		coordinator: coordinator,
		collector:   collector,
		tempUsage:   tempUsage,
		queue:       queue,
		tempSizeCap: tempSizeCap,
	}
}

// Summarize produces the composite verdict and refreshes the component gauges.
func (a *Aggregator) Summarize(ctx context.Context) Verdict {
	v := Verdict{
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Warnings:   []string{},
		Critical:   []string{},
		Components: make(map[string]any),
	}

	// Circuit breaker
	stats := a.breaker.Stats()
	v.Components["circuit_breaker"] = stats
	metrics.BreakerState.Set(float64(a.breaker.State()))
	switch stats.State {
	case "open":
		v.Critical = append(v.Critical, "extraction circuit breaker is open")
	case "half_open":
		v.Warnings = append(v.Warnings, "extraction circuit breaker is probing recovery")
	}

	// Coordination store
	storeStatus := a.store.HealthStatus(ctx)
	v.Components["redis"] = storeStatus
	if !storeStatus.Healthy {
		v.Critical = append(v.Critical, fmt.Sprintf("coordination store unhealthy: %s", storeStatus.Error))
	}

	// Shutdown state
	active := a.coordinator.ActiveRequests()
	metrics.ActiveRequests.Set(float64(active))
	v.Components["shutdown"] = map[string]any{
		"is_shutting_down": a.coordinator.IsShuttingDown(),
		"active_requests":  active,
	}
	if a.coordinator.IsShuttingDown() {
		v.Warnings = append(v.Warnings, "service is draining")
	}

	// Rolling request metrics
	snap := a.collector.Snapshot()
	v.Components["requests"] = snap
	if snap.TotalRequests >= 10 && snap.SuccessRate < 0.5 {
		v.Warnings = append(v.Warnings, fmt.Sprintf("low request success rate: %.0f%%", snap.SuccessRate*100))
	}

	// Temp file usage against the configured cap
	used := a.tempUsage.TotalBytesUsed()
	metrics.TempBytesUsed.Set(float64(used))
	v.Components["temp_files"] = map[string]any{
		"bytes_used":     used,
		"size_cap_bytes": a.tempSizeCap,
	}
	if a.tempSizeCap > 0 {
		usedPct := float64(used) / float64(a.tempSizeCap) * 100
		if usedPct > 90 {
			v.Critical = append(v.Critical, fmt.Sprintf("high temp file usage: %.1f%%", usedPct))
		} else if usedPct > 70 {
			v.Warnings = append(v.Warnings, fmt.Sprintf("moderate temp file usage: %.1f%%", usedPct))
		}
	}

	// Job queue
	depth := a.queue.QueueDepth()
	metrics.JobQueueDepth.Set(float64(depth))
	v.Components["jobs"] = map[string]any{"queue_depth": depth}

	switch {
	case len(v.Critical) > 0:
		v.Status = "critical"
	case len(v.Warnings) > 0:
		v.Status = "warning"
	default:
		v.Status = "healthy"
	}
	return v
}

// StartHealthServer starts the health check HTTP server
func StartHealthServer(port int, agg *Aggregator, coordinator *shutdown.Coordinator, logger *zap.Logger) {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		verdict := agg.Summarize(r.Context())

		w.Header().Set("Content-Type", "application/json")
		if verdict.Status == "critical" {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"status":    verdict.Status,
			"timestamp": verdict.Timestamp,
		})
	})

	mux.HandleFunc("/health/detailed", func(w http.ResponseWriter, r *http.Request) {
		verdict := agg.Summarize(r.Context())

		w.Header().Set("Content-Type", "application/json")
		if verdict.Status == "critical" {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		json.NewEncoder(w).Encode(verdict)
	})

	mux.HandleFunc("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		// Readiness check - can we process requests?
		if coordinator.IsShuttingDown() {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("not ready"))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready"))
	})

	mux.HandleFunc("/health/live", func(w http.ResponseWriter, r *http.Request) {
		// Liveness check - is the process alive?
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("alive"))
	})

	addr := fmt.Sprintf(":%d", port)
	logger.Info("Starting health check server", zap.String("addr", addr))

	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error("Health server error", zap.Error(err))
		}
	}()
}

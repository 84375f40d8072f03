package metrics

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var (
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docextract_requests_total",
			Help: "Number of conversion requests by outcome",
		},
		[]string{"outcome"},
	)

	RequestDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "docextract_request_duration_seconds",
			Help:    "Time to serve a conversion request",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
	)

	ActiveRequests = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "docextract_active_requests",
			Help: "Requests currently admitted by the shutdown coordinator",
		},
	)

	BreakerState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "docextract_breaker_state",
			Help: "Extraction circuit breaker state (0=closed, 1=open, 2=half_open)",
		},
	)

	JobsInflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "docextract_jobs_inflight",
			Help: "Jobs currently being processed by extract workers",
		},
	)

	JobQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "docextract_job_queue_depth",
			Help: "Submitted jobs waiting for a worker",
		},
	)

	JobsCompleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docextract_jobs_completed_total",
			Help: "Finished jobs by terminal status",
		},
		[]string{"status"},
	)

	TempBytesUsed = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "docextract_temp_bytes_used",
			Help: "Bytes currently used by temporary upload files",
		},
	)
)

func init() {
	prometheus.MustRegister(RequestsTotal)
	prometheus.MustRegister(RequestDuration)
	prometheus.MustRegister(ActiveRequests)
	prometheus.MustRegister(BreakerState)
	prometheus.MustRegister(JobsInflight)
	prometheus.MustRegister(JobQueueDepth)
	prometheus.MustRegister(JobsCompleted)
	prometheus.MustRegister(TempBytesUsed)
}

// maxResponseTimes caps the rolling response-time window.
const maxResponseTimes = 1000

// Collector keeps rolling request counters feeding the health aggregator.
// Prometheus handles long-term series; this window answers "how are the last
// N requests doing" for the composite verdict.
type Collector struct {
	startTime time.Time

	mu            sync.Mutex
	total         int64
	successful    int64
	failed        int64
	responseTimes []time.Duration
}

func NewCollector() *Collector {
	return &Collector{
		startTime:     time.Now(),
		responseTimes: make([]time.Duration, 0, maxResponseTimes),
	}
}

// RecordRequest records one finished request in both the rolling window and
// the Prometheus series.
func (c *Collector) RecordRequest(success bool, elapsed time.Duration) {
	c.mu.Lock()
	c.total++
	if success {
		c.successful++
	} else {
		c.failed++
	}
	c.responseTimes = append(c.responseTimes, elapsed)
	if len(c.responseTimes) > maxResponseTimes {
		c.responseTimes = c.responseTimes[1:]
	}
	c.mu.Unlock()

	outcome := "success"
	if !success {
		outcome = "failure"
	}
	RequestsTotal.WithLabelValues(outcome).Inc()
	RequestDuration.Observe(elapsed.Seconds())
}

// Snapshot is the rolling request summary.
type Snapshot struct {
	UptimeSeconds       float64 `json:"uptime_seconds"`
	TotalRequests       int64   `json:"total_requests"`
	SuccessfulRequests  int64   `json:"successful_requests"`
	FailedRequests      int64   `json:"failed_requests"`
	AverageResponseTime float64 `json:"average_response_time"`
	SuccessRate         float64 `json:"success_rate"`
}

func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	var avg float64
	if len(c.responseTimes) > 0 {
		var sum time.Duration
		for _, rt := range c.responseTimes {
			sum += rt
		}
		avg = sum.Seconds() / float64(len(c.responseTimes))
	}

	rate := 1.0
	if c.total > 0 {
		rate = float64(c.successful) / float64(c.total)
	}

	return Snapshot{
		UptimeSeconds:       time.Since(c.startTime).Seconds(),
		TotalRequests:       c.total,
		SuccessfulRequests:  c.successful,
		FailedRequests:      c.failed,
		AverageResponseTime: avg,
		SuccessRate:         rate,
	}
}

// StartMetricsServer starts the Prometheus metrics HTTP server
func StartMetricsServer(port int, logger *zap.Logger) {
	// Create a new HTTP mux for metrics to avoid conflicts
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	addr := fmt.Sprintf(":%d", port)
	logger.Info("Starting metrics server", zap.String("addr", addr))

	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error("Metrics server error", zap.Error(err))
		}
	}()
}

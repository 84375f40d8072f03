package cleanup

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/redlabs-sc/document-extract-service/internal/metrics"
	"go.uber.org/zap"
)

// uploadPattern matches the uuid-prefixed temp files written by the upload
// handler.
const uploadPattern = "doc_*"

// Report summarizes one cleanup pass.
type Report struct {
	DeletedCount int   `json:"deleted_count"`
	DeletedBytes int64 `json:"deleted_bytes"`
	CurrentBytes int64 `json:"current_bytes"`
}

// Janitor removes stale temporary upload files and enforces a size cap on the
// upload directory.
type Janitor struct {
	dir      string
	maxAge   time.Duration
	sizeCap  int64
	interval time.Duration
	logger   *zap.Logger
}

func NewJanitor(dir string, maxAge time.Duration, sizeCap int64, logger *zap.Logger) *Janitor {
	return &Janitor{
		dir:      dir,
		maxAge:   maxAge,
		sizeCap:  sizeCap,
		interval: time.Hour,
		logger:   logger.With(zap.String("component", "temp_cleanup")),
	}
}

// Start runs a cleanup pass immediately, then hourly until ctx is cancelled.
func (j *Janitor) Start(ctx context.Context) {
	j.logger.Info("Temp file cleanup service started",
		zap.Duration("max_age", j.maxAge),
		zap.Int64("size_cap_bytes", j.sizeCap))

	j.runOnce()

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("Temp file cleanup service stopping")
			return
		case <-ticker.C:
			j.runOnce()
		}
	}
}

func (j *Janitor) runOnce() {
	report := j.PurgeOlderThan(j.maxAge)
	metrics.TempBytesUsed.Set(float64(report.CurrentBytes))

	if report.DeletedCount > 0 {
		j.logger.Info("Cleanup pass finished",
			zap.Int("deleted_count", report.DeletedCount),
			zap.Int64("deleted_bytes", report.DeletedBytes),
			zap.Int64("current_bytes", report.CurrentBytes))
	}
}

// PurgeOlderThan deletes temp files older than maxAge, then deletes
// oldest-first down to 90% of the size cap when the directory is still over
// it. Unreadable files are skipped.
func (j *Janitor) PurgeOlderThan(maxAge time.Duration) Report {
	var report Report
	cutoff := time.Now().Add(-maxAge)

	type entry struct {
		path    string
		modTime time.Time
		size    int64
	}
	var remaining []entry

	paths, err := filepath.Glob(filepath.Join(j.dir, uploadPattern))
	if err != nil {
		j.logger.Error("Error listing temp files", zap.Error(err))
		return report
	}

	for _, path := range paths {
		fi, err := os.Stat(path)
		if err != nil {
			continue
		}
		if fi.ModTime().Before(cutoff) {
			if err := os.Remove(path); err == nil {
				report.DeletedCount++
				report.DeletedBytes += fi.Size()
				j.logger.Debug("Deleted old temp file", zap.String("path", path))
			}
			continue
		}
		remaining = append(remaining, entry{path: path, modTime: fi.ModTime(), size: fi.Size()})
	}

	var currentBytes int64
	for _, e := range remaining {
		currentBytes += e.size
	}

	if j.sizeCap > 0 && currentBytes > j.sizeCap {
		j.logger.Warn("Temp directory over size cap",
			zap.Int64("current_bytes", currentBytes),
			zap.Int64("size_cap_bytes", j.sizeCap))

		sort.Slice(remaining, func(a, b int) bool {
			return remaining[a].modTime.Before(remaining[b].modTime)
		})

		target := j.sizeCap * 9 / 10
		for _, e := range remaining {
			if currentBytes <= target {
				break
			}
			if err := os.Remove(e.path); err == nil {
				report.DeletedCount++
				report.DeletedBytes += e.size
				currentBytes -= e.size
				j.logger.Debug("Deleted temp file due to size cap", zap.String("path", e.path))
			}
		}
	}

	report.CurrentBytes = currentBytes
	return report
}

// TotalBytesUsed reports bytes currently used by temp upload files.
func (j *Janitor) TotalBytesUsed() int64 {
	var total int64
	paths, err := filepath.Glob(filepath.Join(j.dir, uploadPattern))
	if err != nil {
		return 0
	}
	for _, path := range paths {
		if fi, err := os.Stat(path); err == nil {
			total += fi.Size()
		}
	}
	return total
}

package cleanup

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func writeTempFile(t *testing.T, dir, name string, size int, age time.Duration) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0644))
	if age > 0 {
		old := time.Now().Add(-age)
		require.NoError(t, os.Chtimes(path, old, old))
	}
	return path
}

func TestPurgeOlderThanRemovesStaleFiles(t *testing.T) {
	dir := t.TempDir()
	j := NewJanitor(dir, 24*time.Hour, 0, zaptest.NewLogger(t))

	stale := writeTempFile(t, dir, "doc_abc_old.txt", 100, 48*time.Hour)
	fresh := writeTempFile(t, dir, "doc_def_new.txt", 50, 0)
	// Files outside the upload pattern are never touched.
	other := writeTempFile(t, dir, "unrelated.txt", 10, 48*time.Hour)

	report := j.PurgeOlderThan(24 * time.Hour)

	assert.Equal(t, 1, report.DeletedCount)
	assert.Equal(t, int64(100), report.DeletedBytes)

	_, err := os.Stat(stale)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(fresh)
	assert.NoError(t, err)
	_, err = os.Stat(other)
	assert.NoError(t, err)
}

func TestPurgeEnforcesSizeCap(t *testing.T) {
	dir := t.TempDir()
	// 1000 byte cap; three fresh files totalling 1500 bytes.
	j := NewJanitor(dir, 24*time.Hour, 1000, zaptest.NewLogger(t))

	oldest := writeTempFile(t, dir, "doc_a_1.txt", 500, 3*time.Hour)
	middle := writeTempFile(t, dir, "doc_b_2.txt", 500, 2*time.Hour)
	newest := writeTempFile(t, dir, "doc_c_3.txt", 500, time.Hour)

	report := j.PurgeOlderThan(24 * time.Hour)

	// Oldest files go first until usage drops to 90% of the cap.
	_, err := os.Stat(oldest)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(middle)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(newest)
	assert.NoError(t, err)

	assert.Equal(t, 2, report.DeletedCount)
	assert.Equal(t, int64(500), report.CurrentBytes)
}

func TestPurgeEverythingOnShutdown(t *testing.T) {
	dir := t.TempDir()
	j := NewJanitor(dir, 24*time.Hour, 0, zaptest.NewLogger(t))

	writeTempFile(t, dir, "doc_x_a.txt", 10, time.Second)
	writeTempFile(t, dir, "doc_y_b.txt", 10, time.Second)

	// maxAge 0 deletes every upload temp file, as done during shutdown.
	report := j.PurgeOlderThan(0)
	assert.Equal(t, 2, report.DeletedCount)
	assert.Equal(t, int64(0), j.TotalBytesUsed())
}

func TestTotalBytesUsed(t *testing.T) {
	dir := t.TempDir()
	j := NewJanitor(dir, 24*time.Hour, 0, zaptest.NewLogger(t))

	assert.Equal(t, int64(0), j.TotalBytesUsed())

	writeTempFile(t, dir, "doc_a_x.txt", 128, 0)
	writeTempFile(t, dir, "doc_b_y.txt", 256, 0)
	writeTempFile(t, dir, "ignored.bin", 512, 0)

	assert.Equal(t, int64(384), j.TotalBytesUsed())
}

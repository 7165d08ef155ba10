package observability

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	t.Parallel()

	var m *Metrics
	m.AddRows("build", "contents", 3)
	m.FileRead("merge")
	m.FileFailed("merge", "read")
	m.GroupMerged(2)
	m.Label("Positive")
	m.ClassifierFailed()
	m.ObserveStage("merge", time.Now(), nil)
	require.NoError(t, m.WriteTextfile(filepath.Join(t.TempDir(), "x.prom")))
}

func TestMetricsCountAndFlush(t *testing.T) {
	t.Parallel()

	m := NewMetrics()
	m.AddRows("build", "comments", 4)
	m.AddRows("build", "comments", 2)
	m.GroupMerged(2)
	m.Label("Neutral")
	m.ObserveStage("analyze", time.Now(), errors.New("boom"))

	assert.Equal(t, 6.0, testutil.ToFloat64(m.RowsProcessed.WithLabelValues("build", "comments")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.GroupsMerged))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ShardsDeleted))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.StageLastSuccess.WithLabelValues("analyze")))

	path := filepath.Join(t.TempDir(), "sentiment.prom")
	require.NoError(t, m.WriteTextfile(path))
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(b), "sentiment_pipeline_rows_processed_total"))
}

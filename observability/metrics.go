package observability

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the counters of a single batch run. Binaries flush it to a node-exporter
// textfile when they exit; a nil *Metrics is valid and records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	RowsProcessed      *prometheus.CounterVec
	FilesRead          *prometheus.CounterVec
	FileFailures       *prometheus.CounterVec
	GroupsMerged       prometheus.Counter
	ShardsDeleted      prometheus.Counter
	SentimentLabels    *prometheus.CounterVec
	ClassifierFailures prometheus.Counter
	StageDuration      *prometheus.GaugeVec
	StageLastSuccess   *prometheus.GaugeVec
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		RowsProcessed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sentiment_pipeline_rows_processed_total",
			Help: "Rows written by a pipeline stage",
		}, []string{"stage", "kind"}),
		FilesRead: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sentiment_pipeline_files_read_total",
			Help: "CSV files successfully read by a pipeline stage",
		}, []string{"stage"}),
		FileFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sentiment_pipeline_file_failures_total",
			Help: "CSV files a pipeline stage could not read or write",
		}, []string{"stage", "op"}),
		GroupsMerged: f.NewCounter(prometheus.CounterOpts{
			Name: "sentiment_pipeline_shard_groups_merged_total",
			Help: "Shard groups fused into a single file",
		}),
		ShardsDeleted: f.NewCounter(prometheus.CounterOpts{
			Name: "sentiment_pipeline_shards_deleted_total",
			Help: "Shard files removed after their group was merged",
		}),
		SentimentLabels: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sentiment_pipeline_labels_total",
			Help: "Calibrated sentiment labels assigned",
		}, []string{"label"}),
		ClassifierFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "sentiment_pipeline_classifier_failures_total",
			Help: "Classifier calls that failed and fell back to the neutral default",
		}),
		StageDuration: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sentiment_pipeline_stage_duration_seconds",
			Help: "Wall time of the last run of a stage",
		}, []string{"stage"}),
		StageLastSuccess: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sentiment_pipeline_stage_last_success_timestamp_seconds",
			Help: "Unix time the stage last completed without a stage-level error",
		}, []string{"stage"}),
	}
}

func (m *Metrics) AddRows(stage, kind string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.RowsProcessed.WithLabelValues(stage, kind).Add(float64(n))
}

func (m *Metrics) FileRead(stage string) {
	if m == nil {
		return
	}
	m.FilesRead.WithLabelValues(stage).Inc()
}

func (m *Metrics) FileFailed(stage, op string) {
	if m == nil {
		return
	}
	m.FileFailures.WithLabelValues(stage, op).Inc()
}

func (m *Metrics) GroupMerged(deleted int) {
	if m == nil {
		return
	}
	m.GroupsMerged.Inc()
	m.ShardsDeleted.Add(float64(deleted))
}

func (m *Metrics) Label(label string) {
	if m == nil {
		return
	}
	m.SentimentLabels.WithLabelValues(label).Inc()
}

func (m *Metrics) ClassifierFailed() {
	if m == nil {
		return
	}
	m.ClassifierFailures.Inc()
}

// ObserveStage records how long a stage ran and, when err is nil, when it last succeeded.
func (m *Metrics) ObserveStage(stage string, started time.Time, err error) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Set(time.Since(started).Seconds())
	if err == nil {
		m.StageLastSuccess.WithLabelValues(stage).SetToCurrentTime()
	}
}

// WriteTextfile dumps the registry in the text exposition format for the node-exporter
// textfile collector. An empty path is a no-op.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.Registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}

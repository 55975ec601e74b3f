// Package metrics collects per-run Prometheus metrics and writes them in the
// node exporter textfile format.
//
// Every Collector owns its own registry, so concurrent runs in one process,
// as in tests, never share or collide on metric state.
//
// # Basic Usage
//
//	c := metrics.NewCollector("convert")
//	c.AddRecords(metrics.OutcomeExtracted, n)
//	c.ObserveStage("extract", d)
//	c.ObserveGroup(rows, size)
//	c.ObserveRun(elapsed, true)
//	if err := c.WriteTextfile("/var/lib/node_exporter/healthetl.prom"); err != nil {
//	    return err
//	}
package metrics

import (
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ajitpratap0/healthetl/pkg/etlerrors"
)

const namespace = "healthetl"

// Record outcomes.
const (
	OutcomeExtracted = "extracted"
	OutcomeSkipped   = "skipped"
	OutcomeGrouped   = "grouped"
)

// Field reconciliation actions.
const (
	FieldPadded  = "padded"
	FieldDropped = "dropped"
)

// Collector holds the metrics of one run.
type Collector struct {
	registry *prometheus.Registry

	records       *prometheus.CounterVec
	fields        *prometheus.CounterVec
	groups        prometheus.Counter
	entries       prometheus.Counter
	bytesRead     prometheus.Counter
	stageDuration *prometheus.GaugeVec
	groupRows     prometheus.Histogram
	groupBytes    prometheus.Histogram
	runDuration   prometheus.Gauge
	throughput    prometheus.Gauge
	lastSuccess   prometheus.Gauge
	runSucceeded  prometheus.Gauge
}

// NewCollector creates a collector whose metrics carry the given command
// label.
func NewCollector(command string) *Collector {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	labels := prometheus.Labels{"command": command}

	return &Collector{
		registry: reg,
		records: f.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "records_total",
			Help:        "Records by outcome",
			ConstLabels: labels,
		}, []string{"outcome"}),
		fields: f.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "fields_reconciled_total",
			Help:        "Fields padded or dropped to match a group header",
			ConstLabels: labels,
		}, []string{"action"}),
		groups: f.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "groups_total",
			Help:        "Groups emitted by the grouping stage",
			ConstLabels: labels,
		}),
		entries: f.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "entries_written_total",
			Help:        "Entries appended to the output container",
			ConstLabels: labels,
		}),
		bytesRead: f.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "source_bytes_total",
			Help:        "Source bytes scanned",
			ConstLabels: labels,
		}),
		stageDuration: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "stage_duration_seconds",
			Help:        "Wall time of each pipeline stage",
			ConstLabels: labels,
		}, []string{"stage"}),
		groupRows: f.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "group_rows",
			Help:        "Rows per written group",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(1, 10, 8), // 1 .. 10M
		}),
		groupBytes: f.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "group_bytes",
			Help:        "Uncompressed bytes per written group",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(1024, 8, 8), // 1KiB .. 2GiB
		}),
		runDuration: f.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "run_duration_seconds",
			Help:        "Wall time of the run",
			ConstLabels: labels,
		}),
		throughput: f.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "throughput_records_per_second",
			Help:        "Extracted records per second of wall time",
			ConstLabels: labels,
		}),
		lastSuccess: f.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "last_success_timestamp_seconds",
			Help:        "Unix time the last successful run finished",
			ConstLabels: labels,
		}),
		runSucceeded: f.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "run_success",
			Help:        "1 when the run succeeded, 0 otherwise",
			ConstLabels: labels,
		}),
	}
}

// Registry exposes the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// AddRecords counts n records with the given outcome.
func (c *Collector) AddRecords(outcome string, n int64) {
	c.records.WithLabelValues(outcome).Add(float64(n))
}

// AddFields counts n reconciled fields.
func (c *Collector) AddFields(action string, n int64) {
	c.fields.WithLabelValues(action).Add(float64(n))
}

// AddGroups counts emitted groups and written entries.
func (c *Collector) AddGroups(emitted, written int64) {
	c.groups.Add(float64(emitted))
	c.entries.Add(float64(written))
}

// AddBytes counts scanned source bytes.
func (c *Collector) AddBytes(n int64) {
	c.bytesRead.Add(float64(n))
}

// ObserveStage records the wall time of one stage.
func (c *Collector) ObserveStage(stage string, d time.Duration) {
	c.stageDuration.WithLabelValues(stage).Set(d.Seconds())
}

// ObserveGroup records the size of one written group.
func (c *Collector) ObserveGroup(rows int, bytes uint64) {
	c.groupRows.Observe(float64(rows))
	c.groupBytes.Observe(float64(bytes))
}

// ObserveRun records the outcome of the run.
func (c *Collector) ObserveRun(elapsed time.Duration, extracted int64, ok bool) {
	c.runDuration.Set(elapsed.Seconds())
	if elapsed > 0 {
		c.throughput.Set(float64(extracted) / elapsed.Seconds())
	}
	if ok {
		c.runSucceeded.Set(1)
		c.lastSuccess.SetToCurrentTime()
		return
	}
	c.runSucceeded.Set(0)
}

// WriteTextfile writes every metric to path atomically, creating parent
// directories as needed.
func (c *Collector) WriteTextfile(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return etlerrors.Wrap(err, etlerrors.ErrorTypeIO, "failed to create metrics directory").
				WithDetail("path", dir)
		}
	}
	if err := prometheus.WriteToTextfile(path, c.registry); err != nil {
		return etlerrors.Wrap(err, etlerrors.ErrorTypeIO, "failed to write metrics textfile").
			WithDetail("path", path)
	}
	return nil
}

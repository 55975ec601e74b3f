package metrics

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/healthetl/pkg/etlerrors"
)

func TestCollectorRecordsRun(t *testing.T) {
	c := NewCollector("convert")
	c.AddRecords(OutcomeExtracted, 9999)
	c.AddRecords(OutcomeSkipped, 1)
	c.AddFields(FieldPadded, 3)
	c.AddGroups(2, 2)
	c.AddBytes(4096)
	c.ObserveStage("extract", 1500*time.Millisecond)
	c.ObserveGroup(10, 2048)
	c.ObserveGroup(9989, 1<<20)
	c.ObserveRun(2*time.Second, 9999, true)

	assert.Equal(t, 9999.0, testutil.ToFloat64(c.records.WithLabelValues(OutcomeExtracted)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.records.WithLabelValues(OutcomeSkipped)))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.fields.WithLabelValues(FieldPadded)))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.entries))
	assert.Equal(t, 1.5, testutil.ToFloat64(c.stageDuration.WithLabelValues("extract")))
	assert.InDelta(t, 4999.5, testutil.ToFloat64(c.throughput), 0.001)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.runSucceeded))
	assert.Positive(t, testutil.ToFloat64(c.lastSuccess))

	n, err := testutil.GatherAndCount(c.Registry(), "healthetl_group_rows")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestCollectorFailedRun(t *testing.T) {
	c := NewCollector("convert")
	c.ObserveRun(time.Second, 0, false)
	assert.Zero(t, testutil.ToFloat64(c.runSucceeded))
	assert.Zero(t, testutil.ToFloat64(c.lastSuccess))
}

func TestCollectorsAreIndependent(t *testing.T) {
	a, b := NewCollector("convert"), NewCollector("convert")
	a.AddRecords(OutcomeExtracted, 5)
	assert.Zero(t, testutil.ToFloat64(b.records.WithLabelValues(OutcomeExtracted)))
}

func TestWriteTextfile(t *testing.T) {
	c := NewCollector("convert")
	c.AddRecords(OutcomeExtracted, 42)
	c.ObserveStage("load", time.Second)

	path := filepath.Join(t.TempDir(), "textfile", "healthetl.prom")
	require.NoError(t, c.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, `healthetl_records_total{command="convert",outcome="extracted"} 42`)
	assert.Contains(t, text, `healthetl_stage_duration_seconds{command="convert",stage="load"} 1`)
	assert.Contains(t, text, "# TYPE healthetl_group_rows histogram")
}

func TestWriteTextfileError(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o600))

	err := NewCollector("convert").WriteTextfile(filepath.Join(blocker, "sub", "m.prom"))
	require.Error(t, err)
	assert.True(t, etlerrors.IsType(err, etlerrors.ErrorTypeIO))
}

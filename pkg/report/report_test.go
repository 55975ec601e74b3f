package report

import (
	"bytes"
	"context"
	"testing"
	"time"

	gojson "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/healthetl/pkg/etlerrors"
)

func sample() *Report {
	r := &Report{
		Input:   "export.zip",
		Output:  "out.zip",
		Format:  "zip",
		Workers: Workers{Extract: 4, Transform: 4, Load: 2},
		Counters: Counters{
			RecordsExtracted: 9999,
			RecordsSkipped:   1,
			Groups:           5,
			EntriesWritten:   5,
			BytesRead:        2 << 20,
		},
		Elapsed:   2 * time.Second,
		Resources: ResourceUsage{PeakRSSBytes: 150 << 20},
		Stages: []Stage{
			{Name: "extract", Duration: 1200 * time.Millisecond},
			{Name: "load", Duration: 300 * time.Millisecond},
		},
	}
	r.Finish()
	return r
}

func TestFinish(t *testing.T) {
	r := sample()
	assert.InDelta(t, 4999.5, r.RecordsPerSecond, 0.001)
	assert.InDelta(t, float64(1<<20), r.BytesPerSecond, 0.001)

	empty := &Report{}
	empty.Finish()
	assert.Zero(t, empty.RecordsPerSecond)
}

func TestRenderText(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, sample().Render(&buf, FormatText))
	out := buf.String()

	assert.Contains(t, out, "9999 extracted, 1 skipped")
	assert.Contains(t, out, "out.zip (zip)")
	assert.Contains(t, out, "150.0 MiB")
	assert.Contains(t, out, "extract 1.2s, load 300ms")
	assert.NotContains(t, out, "padded", "field counts are omitted when nothing was reconciled")
}

func TestRenderTextShowsZeroSkipped(t *testing.T) {
	r := sample()
	r.Counters.RecordsSkipped = 0
	var buf bytes.Buffer
	require.NoError(t, r.Render(&buf, ""))
	assert.Contains(t, buf.String(), "0 skipped")
}

func TestRenderJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, sample().Render(&buf, FormatJSON))

	var decoded map[string]interface{}
	require.NoError(t, gojson.Unmarshal(buf.Bytes(), &decoded))
	counters := decoded["counters"].(map[string]interface{})
	assert.Equal(t, 1.0, counters["records_skipped"])
	assert.Equal(t, "zip", decoded["format"])
	assert.Equal(t, float64(2*time.Second), decoded["elapsed_ns"])
}

func TestRenderUnknownFormat(t *testing.T) {
	err := sample().Render(&bytes.Buffer{}, "yaml")
	require.Error(t, err)
	assert.True(t, etlerrors.IsType(err, etlerrors.ErrorTypeConfig))
}

func TestFormatBytes(t *testing.T) {
	tests := map[uint64]string{
		0:             "0 B",
		1023:          "1023 B",
		1024:          "1.0 KiB",
		1536:          "1.5 KiB",
		5 << 30:       "5.0 GiB",
		3<<40 + 1<<39: "3.5 TiB",
	}
	for n, want := range tests {
		assert.Equal(t, want, FormatBytes(n))
	}
}

func TestResourceMonitor(t *testing.T) {
	rm := NewResourceMonitor()
	rm.Start(context.Background(), time.Millisecond)

	ballast := make([]byte, 8<<20)
	for i := range ballast {
		ballast[i] = byte(i)
	}
	time.Sleep(10 * time.Millisecond)

	usage := rm.Stop()
	assert.Positive(t, usage.PeakGoroutines)
	assert.Greater(t, usage.PeakRSSBytes, uint64(len(ballast)), "peak includes the touched ballast")
	assert.NotZero(t, ballast[len(ballast)-1])

	// Stop is idempotent.
	again := rm.Stop()
	assert.GreaterOrEqual(t, again.PeakRSSBytes, usage.PeakRSSBytes)
}

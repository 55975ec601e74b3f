// Package report renders the end-of-run summary printed by the CLI.
package report

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	gojson "github.com/goccy/go-json"

	"github.com/ajitpratap0/healthetl/pkg/etlerrors"
)

// Output formats.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// Counters are the record and group totals of a run.
type Counters struct {
	RecordsExtracted int64 `json:"records_extracted"`
	RecordsSkipped   int64 `json:"records_skipped"`
	Groups           int64 `json:"groups"`
	EntriesWritten   int64 `json:"entries_written"`
	BytesRead        int64 `json:"bytes_read"`
	FieldsPadded     int64 `json:"fields_padded"`
	FieldsDropped    int64 `json:"fields_dropped"`
}

// Stage is the wall time of one pipeline stage.
type Stage struct {
	Name     string        `json:"name"`
	Duration time.Duration `json:"duration_ns"`
}

// Workers are the pool sizes a run used.
type Workers struct {
	Extract   int `json:"extract"`
	Transform int `json:"transform"`
	Load      int `json:"load"`
}

// Report is the summary of one run.
type Report struct {
	Input            string        `json:"input"`
	Output           string        `json:"output"`
	Format           string        `json:"format"`
	Workers          Workers       `json:"workers"`
	Counters         Counters      `json:"counters"`
	Elapsed          time.Duration `json:"elapsed_ns"`
	RecordsPerSecond float64       `json:"records_per_second"`
	BytesPerSecond   float64       `json:"bytes_per_second"`
	Resources        ResourceUsage `json:"resources"`
	Stages           []Stage       `json:"stages"`
}

// Finish derives the throughput figures from the counters and elapsed time.
func (r *Report) Finish() {
	if s := r.Elapsed.Seconds(); s > 0 {
		r.RecordsPerSecond = float64(r.Counters.RecordsExtracted) / s
		r.BytesPerSecond = float64(r.Counters.BytesRead) / s
	}
}

// Render writes the report in the given format.
func (r *Report) Render(w io.Writer, format string) error {
	switch format {
	case "", FormatText:
		return r.renderText(w)
	case FormatJSON:
		data, err := gojson.MarshalIndent(r, "", "  ")
		if err != nil {
			return etlerrors.Wrap(err, etlerrors.ErrorTypeInternal, "failed to marshal report")
		}
		data = append(data, '\n')
		if _, err := w.Write(data); err != nil {
			return etlerrors.Wrap(err, etlerrors.ErrorTypeIO, "failed to write report")
		}
		return nil
	}
	return etlerrors.Newf(etlerrors.ErrorTypeConfig, "unknown report format %q", format)
}

func (r *Report) renderText(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	c := r.Counters

	fmt.Fprintln(tw, "Conversion completed")
	fmt.Fprintf(tw, "  input:\t%s\n", r.Input)
	fmt.Fprintf(tw, "  output:\t%s (%s)\n", r.Output, r.Format)
	fmt.Fprintf(tw, "  workers:\t%d extract, %d transform, %d load\n", r.Workers.Extract, r.Workers.Transform, r.Workers.Load)
	fmt.Fprintf(tw, "  records:\t%d extracted, %d skipped\n", c.RecordsExtracted, c.RecordsSkipped)
	fmt.Fprintf(tw, "  groups:\t%d (%d entries written)\n", c.Groups, c.EntriesWritten)
	if c.FieldsPadded > 0 || c.FieldsDropped > 0 {
		fmt.Fprintf(tw, "  fields:\t%d padded, %d dropped\n", c.FieldsPadded, c.FieldsDropped)
	}
	fmt.Fprintf(tw, "  elapsed:\t%.2fs\n", r.Elapsed.Seconds())
	fmt.Fprintf(tw, "  throughput:\t%.0f records/s, %s/s\n", r.RecordsPerSecond, FormatBytes(uint64(r.BytesPerSecond)))
	if r.Resources.PeakRSSBytes > 0 {
		fmt.Fprintf(tw, "  peak rss:\t%s\n", FormatBytes(r.Resources.PeakRSSBytes))
	}
	if r.Resources.CPUSeconds > 0 {
		fmt.Fprintf(tw, "  cpu:\t%.2fs (%.0f%%)\n", r.Resources.CPUSeconds, r.Resources.CPUPercent)
	}
	if len(r.Stages) > 0 {
		names := make([]string, len(r.Stages))
		for i, s := range r.Stages {
			names[i] = fmt.Sprintf("%s %s", s.Name, s.Duration.Round(time.Millisecond))
		}
		fmt.Fprintf(tw, "  stages:\t%s\n", strings.Join(names, ", "))
	}
	if err := tw.Flush(); err != nil {
		return etlerrors.Wrap(err, etlerrors.ErrorTypeIO, "failed to write report")
	}
	return nil
}

// FormatBytes renders n with a binary unit.
func FormatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

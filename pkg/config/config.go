package config

import (
	"runtime"
	"strings"

	"github.com/ajitpratap0/healthetl/pkg/compression"
	"github.com/ajitpratap0/healthetl/pkg/etlerrors"
	"github.com/ajitpratap0/healthetl/pkg/logger"
)

// Config is the complete configuration of one run.
type Config struct {
	// Pipeline sizes the worker pools and channels.
	Pipeline PipelineConfig `yaml:"pipeline" json:"pipeline" mapstructure:"pipeline"`

	// Output selects the container and how tables are rendered.
	Output OutputConfig `yaml:"output" json:"output" mapstructure:"output"`

	Logging logger.Config `yaml:"logging" json:"logging" mapstructure:"logging"`

	Metrics MetricsConfig `yaml:"metrics" json:"metrics" mapstructure:"metrics"`

	Tracing TracingConfig `yaml:"tracing" json:"tracing" mapstructure:"tracing"`
}

// PipelineConfig contains the pool and buffer sizes. A worker count of zero
// falls back to Threads, and a Threads of zero to the number of CPUs.
type PipelineConfig struct {
	// Threads sizes every pool not set individually
	Threads int `yaml:"threads" json:"threads" mapstructure:"threads"`
	// ExtractWorkers is the number of spans scanned concurrently
	ExtractWorkers int `yaml:"extract_workers" json:"extract_workers" mapstructure:"extract_workers"`
	// TransformWorkers group records and sort the groups
	TransformWorkers int `yaml:"transform_workers" json:"transform_workers" mapstructure:"transform_workers"`
	// LoadWorkers render and compress groups
	LoadWorkers int `yaml:"load_workers" json:"load_workers" mapstructure:"load_workers"`
	// RecordBuffer is the capacity of the records channel
	RecordBuffer int `yaml:"record_buffer" json:"record_buffer" mapstructure:"record_buffer"`
	// Shards is the number of grouping shards, rounded up to a power of two
	Shards int `yaml:"shards" json:"shards" mapstructure:"shards"`
	// MinChunkSize is the smallest span handed to one extract worker
	MinChunkSize int64 `yaml:"min_chunk_size" json:"min_chunk_size" mapstructure:"min_chunk_size"`
	// TempDir holds decompressed inputs; empty means the system default
	TempDir string `yaml:"temp_dir" json:"temp_dir" mapstructure:"temp_dir"`
}

// OutputConfig selects the output container and table rendering.
type OutputConfig struct {
	// Format is a registered sink name. Empty selects by output extension.
	Format string `yaml:"format" json:"format" mapstructure:"format"`
	// HeaderPolicy is "pad" or "reject"
	HeaderPolicy string `yaml:"header_policy" json:"header_policy" mapstructure:"header_policy"`
	// CompressionLevel is fastest, default, better or best
	CompressionLevel string `yaml:"compression_level" json:"compression_level" mapstructure:"compression_level"`
}

// MetricsConfig controls the run report and the metrics textfile.
type MetricsConfig struct {
	// Enabled prints the run report
	Enabled bool `yaml:"enabled" json:"enabled" mapstructure:"enabled"`
	// ReportFormat is "text" or "json"
	ReportFormat string `yaml:"report_format" json:"report_format" mapstructure:"report_format"`
	// File receives the metrics in Prometheus textfile format when set
	File string `yaml:"file" json:"file" mapstructure:"file"`
}

// TracingConfig controls span export.
type TracingConfig struct {
	// File receives finished spans as JSON lines when set
	File string `yaml:"file" json:"file" mapstructure:"file"`
	// SampleRatio is the fraction of runs traced, 0 to 1
	SampleRatio float64 `yaml:"sample_ratio" json:"sample_ratio" mapstructure:"sample_ratio"`
}

// Default returns the compiled defaults.
func Default() *Config {
	return &Config{
		Pipeline: PipelineConfig{
			RecordBuffer: 8192,
			Shards:       64,
			MinChunkSize: 2 << 20,
		},
		Output: OutputConfig{
			HeaderPolicy:     "pad",
			CompressionLevel: "default",
		},
		Logging: logger.Config{
			Level:    "info",
			Encoding: "console",
		},
		Metrics: MetricsConfig{
			Enabled:      true,
			ReportFormat: "text",
		},
		Tracing: TracingConfig{
			SampleRatio: 1,
		},
	}
}

// Validate checks ranges and enumerations. Every failure is a configuration
// error naming the offending key.
func (c *Config) Validate() error {
	ints := []struct {
		key   string
		value int
	}{
		{"pipeline.threads", c.Pipeline.Threads},
		{"pipeline.extract_workers", c.Pipeline.ExtractWorkers},
		{"pipeline.transform_workers", c.Pipeline.TransformWorkers},
		{"pipeline.load_workers", c.Pipeline.LoadWorkers},
	}
	for _, f := range ints {
		if f.value < 0 {
			return invalid(f.key, "must not be negative, got %d", f.value)
		}
	}
	if c.Pipeline.RecordBuffer < 1 {
		return invalid("pipeline.record_buffer", "must be at least 1, got %d", c.Pipeline.RecordBuffer)
	}
	if c.Pipeline.Shards < 1 {
		return invalid("pipeline.shards", "must be at least 1, got %d", c.Pipeline.Shards)
	}
	if c.Pipeline.MinChunkSize < 1 {
		return invalid("pipeline.min_chunk_size", "must be at least 1, got %d", c.Pipeline.MinChunkSize)
	}

	switch strings.ToLower(c.Output.HeaderPolicy) {
	case "", "pad", "reject":
	default:
		return invalid("output.header_policy", "must be pad or reject, got %q", c.Output.HeaderPolicy)
	}
	if _, err := compression.ParseLevel(c.Output.CompressionLevel); err != nil {
		return invalid("output.compression_level", "%v", err)
	}

	switch c.Metrics.ReportFormat {
	case "", "text", "json":
	default:
		return invalid("metrics.report_format", "must be text or json, got %q", c.Metrics.ReportFormat)
	}

	switch c.Logging.Encoding {
	case "", "console", "json":
	default:
		return invalid("logging.encoding", "must be console or json, got %q", c.Logging.Encoding)
	}

	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return invalid("tracing.sample_ratio", "must be between 0 and 1, got %v", c.Tracing.SampleRatio)
	}
	return nil
}

// Workers resolves the three pool sizes: an explicit per-stage count wins,
// then Threads, then the number of CPUs.
func (p *PipelineConfig) Workers() (extract, transform, load int) {
	fallback := p.Threads
	if fallback <= 0 {
		fallback = runtime.NumCPU()
	}
	pick := func(n int) int {
		if n > 0 {
			return n
		}
		return fallback
	}
	return pick(p.ExtractWorkers), pick(p.TransformWorkers), pick(p.LoadWorkers)
}

// Level parses the configured compression level.
func (o *OutputConfig) Level() compression.Level {
	l, err := compression.ParseLevel(o.CompressionLevel)
	if err != nil {
		return compression.Default
	}
	return l
}

func invalid(key, format string, args ...interface{}) *etlerrors.Error {
	return etlerrors.Newf(etlerrors.ErrorTypeConfig, key+" "+format, args...).WithDetail("key", key)
}

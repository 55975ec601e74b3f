package main

import (
	"context"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/ajitpratap0/healthetl/internal/pipeline"
	"github.com/ajitpratap0/healthetl/pkg/config"
	"github.com/ajitpratap0/healthetl/pkg/connector/core"
	"github.com/ajitpratap0/healthetl/pkg/connector/destinations/csv"
	"github.com/ajitpratap0/healthetl/pkg/connector/registry"
	"github.com/ajitpratap0/healthetl/pkg/connector/sources/healthxml"
	"github.com/ajitpratap0/healthetl/pkg/etlerrors"
	"github.com/ajitpratap0/healthetl/pkg/logger"
	"github.com/ajitpratap0/healthetl/pkg/metrics"
	"github.com/ajitpratap0/healthetl/pkg/observability"
	"github.com/ajitpratap0/healthetl/pkg/report"
	"github.com/ajitpratap0/healthetl/pkg/source"
)

// convertFlags maps command line flags to configuration keys.
var convertFlags = []struct {
	flag string
	key  string
}{
	{"threads", "pipeline.threads"},
	{"extract-threads", "pipeline.extract_workers"},
	{"transform-threads", "pipeline.transform_workers"},
	{"load-threads", "pipeline.load_workers"},
	{"record-buffer", "pipeline.record_buffer"},
	{"temp-dir", "pipeline.temp_dir"},
	{"format", "output.format"},
	{"header-policy", "output.header_policy"},
	{"compression-level", "output.compression_level"},
	{"report-format", "metrics.report_format"},
	{"metrics-file", "metrics.file"},
	{"trace-file", "tracing.file"},
	{"log-format", "logging.encoding"},
}

type convertOptions struct {
	input     string
	output    string
	cpuFile   string
	memFile   string
	verbose   bool
	noMetrics bool
}

func newConvertCommand() *cobra.Command {
	var opts convertOptions
	def := config.Default()

	cmd := &cobra.Command{
		Use:   "convert <input> <output>",
		Short: "Convert an export into one CSV table per record type",
		Long: `Convert reads an Apple Health export and writes one CSV table per record type
into the output archive. The archive format follows the output extension
(.zip, .tar.zst, .tzst, .tar.lz4) unless --format is given.

Example:
  healthetl convert export.zip health.zip --threads 8
  healthetl convert export.xml.zst health.tar.zst --header-policy reject`,
		Args: exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.input, opts.output = args[0], args[1]

			v := viper.New()
			for _, f := range convertFlags {
				if err := v.BindPFlag(f.key, cmd.Flags().Lookup(f.flag)); err != nil {
					return etlerrors.Wrap(err, etlerrors.ErrorTypeInternal, "failed to bind flag").
						WithDetail("flag", f.flag)
				}
			}
			path, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(v, path)
			if err != nil {
				return err
			}
			if opts.verbose {
				cfg.Logging.Level = "debug"
			}
			if opts.noMetrics {
				cfg.Metrics.Enabled = false
			}

			stopProfiles, err := startProfiles(opts.cpuFile, opts.memFile)
			if err != nil {
				return err
			}
			runErr := runConvert(cmd.Context(), cfg, opts.input, opts.output, cmd.OutOrStdout())
			if err := stopProfiles(); err != nil && runErr == nil {
				return err
			}
			return runErr
		},
	}

	f := cmd.Flags()
	f.Int("threads", def.Pipeline.Threads, "Workers for every stage (0 = number of CPUs)")
	f.Int("extract-threads", def.Pipeline.ExtractWorkers, "Extraction workers, overrides --threads")
	f.Int("transform-threads", def.Pipeline.TransformWorkers, "Grouping workers, overrides --threads")
	f.Int("load-threads", def.Pipeline.LoadWorkers, "Render and compression workers, overrides --threads")
	f.Int("record-buffer", def.Pipeline.RecordBuffer, "Capacity of the channel between extraction and grouping")
	f.String("temp-dir", def.Pipeline.TempDir, "Directory for decompressed inputs (default system temp)")
	f.String("format", def.Output.Format, "Output format: zip, tar.zst or tar.lz4 (default from output extension)")
	f.String("header-policy", def.Output.HeaderPolicy, "Records whose fields differ from the header: pad or reject")
	f.String("compression-level", def.Output.CompressionLevel, "fastest, default, better or best")
	f.String("report-format", def.Metrics.ReportFormat, "Run report format: text or json")
	f.String("metrics-file", def.Metrics.File, "Write Prometheus textfile metrics to this path")
	f.String("trace-file", def.Tracing.File, "Write OpenTelemetry spans to this path")
	f.String("log-format", def.Logging.Encoding, "Log encoding: console or json")
	f.BoolVarP(&opts.verbose, "verbose", "v", false, "Enable debug logging")
	f.BoolVar(&opts.noMetrics, "no-metrics", false, "Do not print the run report")
	f.StringVar(&opts.cpuFile, "cpu-profile", "", "Write a CPU profile to this path")
	f.StringVar(&opts.memFile, "mem-profile", "", "Write a heap profile to this path")

	return cmd
}

// runConvert performs one conversion. The output exists if and only if it
// returns nil.
func runConvert(ctx context.Context, cfg *config.Config, input, output string, stdout io.Writer) (err error) {
	if err := logger.Init(cfg.Logging); err != nil {
		return etlerrors.Wrap(err, etlerrors.ErrorTypeConfig, "invalid logging configuration")
	}
	log := logger.Component("cli")
	start := time.Now()

	shutdown, err := observability.InitTracing(observability.TracingConfig{
		ServiceName:    "healthetl",
		ServiceVersion: version,
		File:           cfg.Tracing.File,
		SampleRatio:    cfg.Tracing.SampleRatio,
	}, log)
	if err != nil {
		return err
	}
	defer func() {
		if serr := shutdown(context.Background()); serr != nil {
			log.Warn("failed to flush trace", zap.Error(serr))
		}
	}()

	reg := registry.GetRegistry()
	format, err := resolveFormat(reg, cfg.Output.Format, output)
	if err != nil {
		return err
	}
	extractor, err := reg.NewExtractor(healthxml.Name, registry.ExtractorOptions{
		MinChunkSize: cfg.Pipeline.MinChunkSize,
		Logger:       logger.Get(),
	})
	if err != nil {
		return err
	}
	encoder, err := reg.NewEncoder(csv.Name, registry.EncoderOptions{HeaderPolicy: cfg.Output.HeaderPolicy})
	if err != nil {
		return err
	}

	extractWorkers, transformWorkers, loadWorkers := cfg.Pipeline.Workers()
	log.Info("starting conversion",
		zap.String("input", input),
		zap.String("output", output),
		zap.String("format", format),
		zap.Int("extract_workers", extractWorkers),
		zap.Int("transform_workers", transformWorkers),
		zap.Int("load_workers", loadWorkers))

	src, err := source.Open(ctx, input, source.Options{TempDir: cfg.Pipeline.TempDir, Logger: logger.Get()})
	if err != nil {
		return err
	}
	defer src.Close()
	log.Debug("input opened", zap.String("kind", string(src.Kind())), zap.Int64("bytes", src.Len()))

	sink, err := reg.NewSink(format, registry.SinkOptions{Path: output, Level: cfg.Output.Level(), Logger: logger.Get()})
	if err != nil {
		return err
	}
	engine, err := pipeline.NewEngine(&pipeline.Config{
		ExtractWorkers: extractWorkers,
		GroupWorkers:   transformWorkers,
		LoadWorkers:    loadWorkers,
		RecordBuffer:   cfg.Pipeline.RecordBuffer,
		Shards:         cfg.Pipeline.Shards,
	}, extractor, encoder, sink, logger.Get())
	if err != nil {
		_ = sink.Abort()
		return err
	}

	monitor := report.NewResourceMonitor()
	monitor.Start(ctx, report.DefaultSampleInterval)
	res, runErr := engine.Run(ctx, src)
	usage := monitor.Stop()
	elapsed := time.Since(start)

	if cfg.Metrics.File != "" {
		collector := collect(engine, res, elapsed, runErr == nil)
		if werr := collector.WriteTextfile(cfg.Metrics.File); werr != nil {
			if runErr == nil {
				return werr
			}
			log.Warn("failed to write metrics", zap.Error(werr))
		}
	}
	if runErr != nil {
		return runErr
	}

	log.Info("conversion completed",
		zap.String("output", output),
		zap.Int64("records", res.Counters.RecordsExtracted),
		zap.Int64("skipped", res.Counters.RecordsSkipped),
		zap.Int64("groups", res.Counters.GroupsEmitted),
		zap.Duration("elapsed", elapsed))

	if !cfg.Metrics.Enabled {
		return nil
	}
	r := buildReport(input, output, format, res, usage, elapsed)
	r.Workers = report.Workers{Extract: extractWorkers, Transform: transformWorkers, Load: loadWorkers}
	return r.Render(stdout, cfg.Metrics.ReportFormat)
}

// resolveFormat validates an explicit format or infers one from the output
// path.
func resolveFormat(reg *registry.Registry, format, output string) (string, error) {
	names := reg.Names(core.ConnectorTypeSink)
	if format != "" {
		if !slices.Contains(names, format) {
			return "", etlerrors.Newf(etlerrors.ErrorTypeConfig, "unknown output format %q (available: %s)",
				format, strings.Join(names, ", "))
		}
		return format, nil
	}
	name, ok := reg.SinkForPath(output)
	if !ok {
		return "", etlerrors.Newf(etlerrors.ErrorTypeConfig,
			"cannot infer output format from %q; use --format (available: %s)", output, strings.Join(names, ", ")).
			WithDetail("path", output)
	}
	return name, nil
}

// collect builds the metrics of a run. On failure res is nil and the
// engine's counters so far are used.
func collect(engine *pipeline.Engine, res *pipeline.Result, elapsed time.Duration, ok bool) *metrics.Collector {
	c := metrics.NewCollector("convert")
	snap := engine.Counters()
	if res != nil {
		snap = res.Counters
		for _, s := range res.Stages {
			c.ObserveStage(s.Name, s.Duration)
		}
		for _, e := range res.Entries {
			c.ObserveGroup(e.Rows, e.Size)
		}
	}
	c.AddRecords(metrics.OutcomeExtracted, snap.RecordsExtracted)
	c.AddRecords(metrics.OutcomeSkipped, snap.RecordsSkipped)
	c.AddRecords(metrics.OutcomeGrouped, snap.RecordsGrouped)
	c.AddFields(metrics.FieldPadded, snap.FieldsPadded)
	c.AddFields(metrics.FieldDropped, snap.FieldsDropped)
	c.AddGroups(snap.GroupsEmitted, snap.EntriesWritten)
	c.AddBytes(snap.BytesRead)
	c.ObserveRun(elapsed, snap.RecordsExtracted, ok)
	return c
}

func buildReport(input, output, format string, res *pipeline.Result, usage report.ResourceUsage, elapsed time.Duration) *report.Report {
	r := &report.Report{
		Input:  input,
		Output: output,
		Format: format,
		Counters: report.Counters{
			RecordsExtracted: res.Counters.RecordsExtracted,
			RecordsSkipped:   res.Counters.RecordsSkipped,
			Groups:           res.Counters.GroupsEmitted,
			EntriesWritten:   res.Counters.EntriesWritten,
			BytesRead:        res.Counters.BytesRead,
			FieldsPadded:     res.Counters.FieldsPadded,
			FieldsDropped:    res.Counters.FieldsDropped,
		},
		Elapsed:   elapsed,
		Resources: usage,
	}
	for _, s := range res.Stages {
		r.Stages = append(r.Stages, report.Stage{Name: s.Name, Duration: s.Duration})
	}
	r.Finish()
	return r
}

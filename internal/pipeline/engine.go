// Package pipeline runs the three-stage extract, group and load engine.
//
// # Architecture
//
// An Engine owns three worker pools connected by bounded channels:
//
//	source -> extract pool -> records (chan) -> group pool -> Grouper
//	       -> barrier -> Finalize -> groups (chan) -> load pool -> reorder -> Sink
//
// Extraction workers each scan one span of the source and block on the
// records channel when grouping falls behind. Grouping workers insert into a
// sharded Grouper. Once every extraction worker has returned and the group
// pool has drained, the Grouper is finalized into ordered groups. Load workers
// render groups in parallel; a single writer appends them to the Sink in key
// order through a bounded reorder buffer.
//
// # Basic Usage
//
//	engine, err := pipeline.NewEngine(pipeline.DefaultConfig(), extractor, encoder, sink, logger)
//	if err != nil {
//	    return err
//	}
//	result, err := engine.Run(ctx, src)
//
// Output depends only on the input bytes and the encoder and sink
// configuration, never on pool sizes.
package pipeline

import (
	"context"
	"runtime"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/healthetl/pkg/connector/core"
	"github.com/ajitpratap0/healthetl/pkg/etlerrors"
	"github.com/ajitpratap0/healthetl/pkg/models"
	"github.com/ajitpratap0/healthetl/pkg/source"
)

const tracerName = "github.com/ajitpratap0/healthetl/internal/pipeline"

// Config sizes the worker pools and channels of an Engine.
type Config struct {
	// ExtractWorkers is the number of spans the source is split into.
	ExtractWorkers int
	// GroupWorkers consume the records channel and sort groups on Finalize.
	GroupWorkers int
	// LoadWorkers render groups. The groups channel holds LoadWorkers groups
	// and at most 2*LoadWorkers groups are in flight.
	LoadWorkers int
	// RecordBuffer is the capacity of the records channel.
	RecordBuffer int
	// Shards is the number of Grouper shards.
	Shards int
}

// DefaultConfig sizes every pool to the number of CPUs.
func DefaultConfig() *Config {
	n := runtime.NumCPU()
	return &Config{
		ExtractWorkers: n,
		GroupWorkers:   n,
		LoadWorkers:    n,
		RecordBuffer:   8192,
		Shards:         DefaultShards,
	}
}

// Validate checks that every size is positive.
func (c *Config) Validate() error {
	checks := []struct {
		name  string
		value int
	}{
		{"extract workers", c.ExtractWorkers},
		{"group workers", c.GroupWorkers},
		{"load workers", c.LoadWorkers},
		{"record buffer", c.RecordBuffer},
		{"shards", c.Shards},
	}
	for _, check := range checks {
		if check.value < 1 {
			return etlerrors.Newf(etlerrors.ErrorTypeConfig, "%s must be at least 1, got %d", check.name, check.value)
		}
	}
	return nil
}

// StageTiming is the wall time spent in one stage.
type StageTiming struct {
	Name     string        `json:"name"`
	Duration time.Duration `json:"duration"`
}

// EntryInfo describes one entry written to the sink.
type EntryInfo struct {
	Name string `json:"name"`
	Key  string `json:"key"`
	Rows int    `json:"rows"`
	Size uint64 `json:"size"`
}

// Result summarizes a completed run.
type Result struct {
	Counters Snapshot      `json:"counters"`
	Elapsed  time.Duration `json:"elapsed"`
	Stages   []StageTiming `json:"stages"`
	Entries  []EntryInfo   `json:"entries"`
}

// Engine runs one pipeline. It is single use.
type Engine struct {
	cfg       Config
	extractor core.Extractor
	encoder   core.Encoder
	sink      core.Sink
	logger    *zap.Logger
	tracer    trace.Tracer

	grouper  *Grouper
	counters Counters
	state    stateMachine

	stagesMu sync.Mutex
	stages   []StageTiming
}

// NewEngine wires an extractor, an encoder and a sink into an engine.
func NewEngine(cfg *Config, extractor core.Extractor, encoder core.Encoder, sink core.Sink, logger *zap.Logger) (*Engine, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if extractor == nil || encoder == nil || sink == nil {
		return nil, etlerrors.New(etlerrors.ErrorTypeConfig, "engine requires an extractor, an encoder and a sink")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		cfg:       *cfg,
		extractor: extractor,
		encoder:   encoder,
		sink:      sink,
		logger:    logger.With(zap.String("component", "pipeline")),
		tracer:    otel.Tracer(tracerName),
		grouper:   NewGrouper(cfg.Shards, cfg.GroupWorkers),
	}, nil
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	return e.state.current()
}

// Counters returns a snapshot of the run counters.
func (e *Engine) Counters() Snapshot {
	return e.counters.Snapshot()
}

// Run drives src through every stage and closes the sink. On failure the sink
// is aborted, so no partial output remains, and the returned error carries
// the failing stage in its "stage" detail. The source must stay open until
// Run returns because records may alias its bytes.
func (e *Engine) Run(ctx context.Context, src source.ByteSource) (res *Result, err error) {
	if err := e.state.transition(StateExtracting); err != nil {
		return nil, err
	}
	start := time.Now()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	ctx, span := e.tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("source.name", src.Name()),
		attribute.Int64("source.bytes", src.Len()),
		attribute.String("sink", e.sink.Name()),
	))
	defer span.End()

	e.logger.Info("starting pipeline",
		zap.String("source", src.Name()),
		zap.Int64("bytes", src.Len()),
		zap.String("extractor", e.extractor.Name()),
		zap.String("sink", e.sink.Name()),
		zap.Int("extract_workers", e.cfg.ExtractWorkers),
		zap.Int("group_workers", e.cfg.GroupWorkers),
		zap.Int("load_workers", e.cfg.LoadWorkers))

	defer func() {
		if err == nil {
			return
		}
		cancel()
		_ = e.state.transition(StateFailed)
		if abortErr := e.sink.Abort(); abortErr != nil {
			e.logger.Warn("failed to remove partial output", zap.Error(abortErr))
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.logger.Error("pipeline failed",
			zap.Error(err),
			zap.Duration("elapsed", time.Since(start)))
	}()

	if err = e.extractAndGroup(ctx, src); err != nil {
		return nil, err
	}
	if err = e.state.transition(StateGrouping); err != nil {
		return nil, err
	}

	groups := e.finalize(ctx)

	if err = e.state.transition(StateLoading); err != nil {
		return nil, err
	}
	entries, err := e.load(ctx, groups)
	if err != nil {
		return nil, err
	}

	closeStart := time.Now()
	if err = e.sink.Close(ctx); err != nil {
		return nil, stageError(err, "load")
	}
	e.recordStage("close", time.Since(closeStart))

	if err = e.state.transition(StateDone); err != nil {
		return nil, err
	}

	res = &Result{
		Counters: e.counters.Snapshot(),
		Elapsed:  time.Since(start),
		Stages:   e.stageTimings(),
		Entries:  entries,
	}
	span.SetAttributes(
		attribute.Int64("records.extracted", res.Counters.RecordsExtracted),
		attribute.Int64("records.skipped", res.Counters.RecordsSkipped),
		attribute.Int64("groups", res.Counters.GroupsEmitted),
	)

	e.logger.Info("pipeline completed",
		zap.Int64("records_extracted", res.Counters.RecordsExtracted),
		zap.Int64("records_skipped", res.Counters.RecordsSkipped),
		zap.Int64("groups", res.Counters.GroupsEmitted),
		zap.Int64("entries_written", res.Counters.EntriesWritten),
		zap.Duration("duration", res.Elapsed),
		zap.Float64("throughput_rps", float64(res.Counters.RecordsExtracted)/res.Elapsed.Seconds()))
	return res, nil
}

// extractAndGroup runs the extraction and grouping pools concurrently. The
// records channel is closed only once every extraction worker has returned.
func (e *Engine) extractAndGroup(ctx context.Context, src source.ByteSource) error {
	start := time.Now()
	spans, err := e.extractor.Partition(src, e.cfg.ExtractWorkers)
	if err != nil {
		return stageError(err, "extract")
	}
	e.logger.Debug("source partitioned", zap.Int("spans", len(spans)))

	records := make(chan *models.Record, e.cfg.RecordBuffer)
	g, gctx := errgroup.WithContext(ctx)

	extractCtx, extractSpan := e.tracer.Start(gctx, "extract", trace.WithAttributes(attribute.Int("spans", len(spans))))
	_, groupSpan := e.tracer.Start(gctx, "group", trace.WithAttributes(attribute.Int("workers", e.cfg.GroupWorkers)))

	var barrier sync.WaitGroup
	for i, sp := range spans {
		i, sp := i, sp
		barrier.Add(1)
		g.Go(func() error {
			defer barrier.Done()
			return e.extractSpan(extractCtx, src, i, sp, records)
		})
	}
	g.Go(func() error {
		barrier.Wait()
		close(records)
		extractSpan.End()
		e.recordStage("extract", time.Since(start))
		return nil
	})

	for w := 0; w < e.cfg.GroupWorkers; w++ {
		g.Go(func() error {
			return e.groupWorker(gctx, records)
		})
	}

	err = g.Wait()
	groupSpan.End()
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return stageError(err, "group")
	}
	e.recordStage("group", time.Since(start))
	return nil
}

type prefetcher interface {
	Prefetch(start, end int64)
}

func (e *Engine) extractSpan(ctx context.Context, src source.ByteSource, idx int, sp core.Span, out chan<- *models.Record) error {
	if p, ok := src.(prefetcher); ok {
		p.Prefetch(sp.Start, sp.End)
	}

	stats, err := e.extractor.Extract(ctx, src, sp, func(r *models.Record) error {
		select {
		case out <- r:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	e.counters.RecordsExtracted.Add(stats.Records)
	e.counters.RecordsSkipped.Add(stats.Skipped)
	e.counters.BytesRead.Add(stats.Bytes)

	if err != nil {
		return stageError(err, "extract").WithDetail("span", idx)
	}
	e.logger.Debug("span extracted",
		zap.Int("span", idx),
		zap.Int64("records", stats.Records),
		zap.Int64("skipped", stats.Skipped))
	return nil
}

func (e *Engine) groupWorker(ctx context.Context, in <-chan *models.Record) error {
	for {
		select {
		case r, ok := <-in:
			if !ok {
				return nil
			}
			if err := e.grouper.Insert(r); err != nil {
				return stageError(err, "group")
			}
			e.counters.RecordsGrouped.Add(1)
		case <-ctx.Done():
			return stageError(ctx.Err(), "group")
		}
	}
}

func (e *Engine) finalize(ctx context.Context) []*models.Group {
	start := time.Now()
	_, span := e.tracer.Start(ctx, "finalize")
	defer span.End()

	groups := e.grouper.Finalize()
	e.counters.GroupsEmitted.Store(int64(len(groups)))
	span.SetAttributes(attribute.Int("groups", len(groups)))
	e.recordStage("finalize", time.Since(start))

	e.logger.Debug("groups finalized", zap.Int("groups", len(groups)))
	return groups
}

type loadJob struct {
	index int
	name  string
	group *models.Group
}

type rendered struct {
	index int
	entry *core.Entry
}

// load renders groups in parallel and writes them in index order. At most
// 2*LoadWorkers groups are between dispatch and write at any time, which
// bounds the reorder buffer.
func (e *Engine) load(ctx context.Context, groups []*models.Group) ([]EntryInfo, error) {
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "load", trace.WithAttributes(attribute.Int("groups", len(groups))))
	defer span.End()

	window := 2 * e.cfg.LoadWorkers
	tokens := make(chan struct{}, window)
	jobs := make(chan loadJob, e.cfg.LoadWorkers)
	done := make(chan rendered, window)
	entries := make([]EntryInfo, 0, len(groups))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(jobs)
		for i, grp := range groups {
			name := e.sink.EntryName(grp.Key, e.encoder.Extension())
			select {
			case tokens <- struct{}{}:
			case <-gctx.Done():
				return stageError(gctx.Err(), "load")
			}
			select {
			case jobs <- loadJob{index: i, name: name, group: grp}:
				groups[i] = nil
			case <-gctx.Done():
				return stageError(gctx.Err(), "load")
			}
		}
		return nil
	})

	var renderers sync.WaitGroup
	for w := 0; w < e.cfg.LoadWorkers; w++ {
		renderers.Add(1)
		g.Go(func() error {
			defer renderers.Done()
			for job := range jobs {
				entry, err := e.render(job)
				if err != nil {
					return err
				}
				select {
				case done <- rendered{index: job.index, entry: entry}:
				case <-gctx.Done():
					return stageError(gctx.Err(), "load")
				}
			}
			return nil
		})
	}
	g.Go(func() error {
		renderers.Wait()
		close(done)
		return nil
	})

	g.Go(func() error {
		pending := make(map[int]*core.Entry, window)
		next := 0
		for r := range done {
			pending[r.index] = r.entry
			for {
				entry, ok := pending[next]
				if !ok {
					break
				}
				delete(pending, next)
				if err := e.sink.AcceptGroup(gctx, entry); err != nil {
					return stageError(err, "load").WithDetail("entry", entry.Name)
				}
				e.counters.EntriesWritten.Add(1)
				entries = append(entries, EntryInfo{Name: entry.Name, Key: entry.Key, Rows: entry.Rows, Size: entry.Size})
				next++
				<-tokens
			}
		}
		if err := gctx.Err(); err != nil {
			return stageError(err, "load")
		}
		if next != len(groups) {
			return etlerrors.Newf(etlerrors.ErrorTypeInternal, "wrote %d of %d entries", next, len(groups)).
				WithDetail("stage", "load")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	e.recordStage("load", time.Since(start))
	return entries, nil
}

func (e *Engine) render(job loadJob) (*core.Entry, error) {
	payload, stats, err := e.encoder.Encode(job.group)
	if err != nil {
		return nil, stageError(err, "load").WithDetail("group", job.group.Key)
	}
	e.counters.FieldsPadded.Add(stats.FieldsPadded)
	e.counters.FieldsDropped.Add(stats.FieldsDropped)

	entry, err := e.sink.Prepare(job.name, payload)
	if err != nil {
		return nil, stageError(err, "load").WithDetail("entry", job.name)
	}
	entry.Key = job.group.Key
	entry.Rows = stats.Rows
	return entry, nil
}

func (e *Engine) recordStage(name string, d time.Duration) {
	e.stagesMu.Lock()
	e.stages = append(e.stages, StageTiming{Name: name, Duration: d})
	e.stagesMu.Unlock()
}

func (e *Engine) stageTimings() []StageTiming {
	e.stagesMu.Lock()
	defer e.stagesMu.Unlock()
	return append([]StageTiming(nil), e.stages...)
}

// stageError wraps err, keeping its type, and tags the stage it came from.
func stageError(err error, stage string) *etlerrors.Error {
	return etlerrors.Wrap(err, etlerrors.GetType(err), stage+" stage failed").WithDetail("stage", stage)
}

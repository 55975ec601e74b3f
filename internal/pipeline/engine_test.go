package pipeline

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ajitpratap0/healthetl/pkg/connector/core"
	"github.com/ajitpratap0/healthetl/pkg/connector/destinations/archive"
	"github.com/ajitpratap0/healthetl/pkg/connector/destinations/csv"
	"github.com/ajitpratap0/healthetl/pkg/connector/sources/healthxml"
	"github.com/ajitpratap0/healthetl/pkg/etlerrors"
	"github.com/ajitpratap0/healthetl/pkg/source"
	"github.com/ajitpratap0/healthetl/pkg/testutil"
)

type runOptions struct {
	cfg    *Config
	policy csv.HeaderPolicy
	ctx    context.Context
	sink   func(path string) core.Sink
	logger *zap.Logger
}

func smallConfig(workers int) *Config {
	return &Config{
		ExtractWorkers: workers,
		GroupWorkers:   workers,
		LoadWorkers:    workers,
		RecordBuffer:   64,
		Shards:         8,
	}
}

func runEngine(t *testing.T, doc []byte, opts runOptions) (string, *Result, *Engine, error) {
	t.Helper()
	if opts.cfg == nil {
		opts.cfg = smallConfig(4)
	}
	if opts.ctx == nil {
		opts.ctx = context.Background()
	}
	if opts.logger == nil {
		opts.logger = testutil.TestLogger(t)
	}

	out := filepath.Join(t.TempDir(), "out.zip")
	var sink core.Sink
	if opts.sink != nil {
		sink = opts.sink(out)
	} else {
		zs, err := archive.NewZipSink(archive.ZipConfig{Path: out, Logger: opts.logger})
		require.NoError(t, err)
		sink = zs
	}

	extractor := healthxml.NewExtractor(healthxml.Config{MinChunkSize: 1, Logger: opts.logger})
	engine, err := NewEngine(opts.cfg, extractor, csv.NewEncoder(opts.policy), sink, opts.logger)
	require.NoError(t, err)

	src := source.FromBytes("test.xml", doc)
	defer src.Close()
	res, err := engine.Run(opts.ctx, src)
	return out, res, engine, err
}

func TestEngineGroupsAndOrdersByType(t *testing.T) {
	doc := testutil.Export(
		testutil.Rec("HKQuantityTypeIdentifierStepCount", "2024-01-02 08:00:00 +0000", "300"),
		testutil.Rec("HKQuantityTypeIdentifierHeartRate", "2024-01-01 12:00:00 +0000", "80"),
		testutil.Rec("HKQuantityTypeIdentifierStepCount", "2024-01-01 08:00:00 +0000", "100"),
		testutil.Rec("HKQuantityTypeIdentifierHeartRate", "2024-01-01 10:00:00 +0000", "70"),
		testutil.Rec("HKQuantityTypeIdentifierHeartRate", "2024-01-01 11:00:00 +0000", "75"),
	)
	out, res, engine, err := runEngine(t, doc, runOptions{})
	require.NoError(t, err)
	assert.Equal(t, StateDone, engine.State())

	assert.Equal(t, int64(5), res.Counters.RecordsExtracted)
	assert.Equal(t, int64(5), res.Counters.RecordsGrouped)
	assert.Equal(t, int64(2), res.Counters.GroupsEmitted)
	assert.Equal(t, int64(2), res.Counters.EntriesWritten)
	assert.Zero(t, res.Counters.RecordsSkipped)
	require.Len(t, res.Entries, 2)
	assert.Equal(t, 3, res.Entries[0].Rows)

	entries := testutil.ReadZip(t, out)
	require.Equal(t, []string{"HeartRate.csv", "StepCount.csv"}, testutil.EntryNames(entries))

	header, rows := testutil.Table(t, entries[0].Data)
	assert.Equal(t, []string{"type", "sourceName", "unit", "startDate", "endDate", "value"}, header)
	assert.Equal(t, []string{"70", "75", "80"}, testutil.Column(t, header, rows, "value"))

	header, rows = testutil.Table(t, entries[1].Data)
	assert.Equal(t, []string{"100", "300"}, testutil.Column(t, header, rows, "value"))

	var names []string
	for _, s := range res.Stages {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"extract", "group", "finalize", "load", "close"}, names)
}

func TestEngineSkipsMalformedRecord(t *testing.T) {
	const n = 10000
	doc := testutil.Synthetic(n, 5, 4321)
	out, res, _, err := runEngine(t, doc, runOptions{cfg: smallConfig(8)})
	require.NoError(t, err)

	assert.Equal(t, int64(n-1), res.Counters.RecordsExtracted)
	assert.Equal(t, int64(1), res.Counters.RecordsSkipped)
	assert.Equal(t, int64(5), res.Counters.GroupsEmitted)
	assert.Positive(t, res.Counters.BytesRead)

	total := 0
	for _, e := range testutil.ReadZip(t, out) {
		_, rows := testutil.Table(t, e.Data)
		total += len(rows)
	}
	assert.Equal(t, n-1, total)
}

func TestEngineTruncatedInputFails(t *testing.T) {
	doc := testutil.Synthetic(1000, 3, -1)
	doc = doc[:len(doc)*2/3]

	out, res, engine, err := runEngine(t, doc, runOptions{})
	require.Error(t, err)
	assert.Nil(t, res)
	assert.True(t, etlerrors.IsType(err, etlerrors.ErrorTypeSourceCorrupt), "got %v", err)
	assert.Equal(t, 4, etlerrors.ExitCode(err))

	var typed *etlerrors.Error
	require.ErrorAs(t, err, &typed)
	stage, _ := typed.Detail("stage")
	assert.Equal(t, "extract", stage)

	assert.Equal(t, StateFailed, engine.State())
	assert.NoFileExists(t, out)
	left, _ := os.ReadDir(filepath.Dir(out))
	assert.Empty(t, left, "no partial output left behind")
}

func TestEngineOutputIndependentOfParallelism(t *testing.T) {
	doc := testutil.Synthetic(20000, 11, 777)

	var outputs [][]byte
	for _, cfg := range []*Config{
		smallConfig(1),
		{ExtractWorkers: 8, GroupWorkers: 3, LoadWorkers: 5, RecordBuffer: 7, Shards: 2},
		{ExtractWorkers: 3, GroupWorkers: 16, LoadWorkers: 1, RecordBuffer: 1, Shards: 64},
	} {
		out, res, _, err := runEngine(t, doc, runOptions{cfg: cfg})
		require.NoError(t, err)
		assert.Equal(t, int64(19999), res.Counters.RecordsExtracted)

		data, err := os.ReadFile(out)
		require.NoError(t, err)
		outputs = append(outputs, data)
	}
	for i := 1; i < len(outputs); i++ {
		assert.True(t, bytes.Equal(outputs[0], outputs[i]), "run %d differs from run 0", i)
	}
}

func TestEngineRecordsWithoutSortKeyGoLast(t *testing.T) {
	doc := testutil.Export(
		testutil.Element{Name: "Record", Attrs: []testutil.Attr{{Name: "type", Value: "T"}, {Name: "value", Value: "undated-1"}}},
		testutil.Rec("T", "2024-01-02 00:00:00 +0000", "late"),
		testutil.Element{Name: "Record", Attrs: []testutil.Attr{{Name: "type", Value: "T"}, {Name: "value", Value: "undated-2"}}},
		testutil.Rec("T", "2024-01-01 00:00:00 +0000", "early"),
	)
	out, _, _, err := runEngine(t, doc, runOptions{})
	require.NoError(t, err)

	entries := testutil.ReadZip(t, out)
	require.Len(t, entries, 1)
	header, rows := testutil.Table(t, entries[0].Data)
	assert.Equal(t, []string{"type", "sourceName", "unit", "startDate", "endDate", "value"}, header,
		"first record in sorted order defines the header")
	assert.Equal(t, []string{"early", "late", "undated-1", "undated-2"}, testutil.Column(t, header, rows, "value"))
	assert.Equal(t, []string{"", ""}, testutil.Column(t, header, rows, "startDate")[2:])
}

func TestEngineRejectPolicyFailsLoad(t *testing.T) {
	doc := testutil.ExportRaw(
		`<Record type="T" startDate="2024-01-01 00:00:00 +0000" value="1"/>`,
		`<Record type="T" startDate="2024-01-02 00:00:00 +0000"/>`,
	)

	out, res, _, err := runEngine(t, doc, runOptions{policy: csv.PolicyReject})
	require.Error(t, err)
	assert.Nil(t, res)
	assert.True(t, etlerrors.IsType(err, etlerrors.ErrorTypeEncoding), "got %v", err)
	assert.Contains(t, err.Error(), "stage=load")
	assert.NoFileExists(t, out)

	out, res, _, err = runEngine(t, doc, runOptions{policy: csv.PolicyPad})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Counters.FieldsPadded)
	assert.FileExists(t, out)
}

func TestEngineCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out, _, engine, err := runEngine(t, testutil.Synthetic(5000, 3, -1), runOptions{ctx: ctx})
	require.Error(t, err)
	assert.True(t, etlerrors.IsType(err, etlerrors.ErrorTypeCancelled), "got %v", err)
	assert.Equal(t, 130, etlerrors.ExitCode(err))
	assert.Equal(t, StateFailed, engine.State())
	assert.NoFileExists(t, out)
}

func TestEngineBackpressureWithSlowSink(t *testing.T) {
	doc := testutil.Synthetic(3000, 40, -1)
	var slow *slowSink
	_, res, _, err := runEngine(t, doc, runOptions{
		cfg: &Config{ExtractWorkers: 4, GroupWorkers: 1, LoadWorkers: 2, RecordBuffer: 1, Shards: 4},
		sink: func(path string) core.Sink {
			zs, err := archive.NewZipSink(archive.ZipConfig{Path: path})
			require.NoError(t, err)
			slow = &slowSink{Sink: zs, delay: time.Millisecond}
			return slow
		},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(40), res.Counters.EntriesWritten)
	assert.LessOrEqual(t, slow.maxPending, 4, "at most 2*LoadWorkers groups in flight")

	var keys []string
	for _, e := range res.Entries {
		keys = append(keys, e.Key)
	}
	assert.IsIncreasing(t, keys)
}

func TestEngineSinkFailureAborts(t *testing.T) {
	doc := testutil.Synthetic(100, 5, -1)
	var failing *failingSink
	_, res, engine, err := runEngine(t, doc, runOptions{
		sink: func(path string) core.Sink {
			zs, err := archive.NewZipSink(archive.ZipConfig{Path: path})
			require.NoError(t, err)
			failing = &failingSink{Sink: zs, failAt: 3}
			return failing
		},
	})
	require.Error(t, err)
	assert.Nil(t, res)
	assert.True(t, etlerrors.IsType(err, etlerrors.ErrorTypeIO), "got %v", err)
	assert.Equal(t, StateFailed, engine.State())
	assert.True(t, failing.aborted)
}

func TestEngineRunsOnce(t *testing.T) {
	doc := testutil.Synthetic(10, 2, -1)
	out, _, engine, err := runEngine(t, doc, runOptions{})
	require.NoError(t, err)

	_, err = engine.Run(context.Background(), source.FromBytes("again", doc))
	require.Error(t, err)
	assert.True(t, etlerrors.IsType(err, etlerrors.ErrorTypeInternal))
	assert.FileExists(t, out, "a rejected second run does not abort the first run's output")
}

func TestEngineEmptyBody(t *testing.T) {
	out, res, _, err := runEngine(t, testutil.Export(), runOptions{})
	require.NoError(t, err)
	assert.Zero(t, res.Counters.GroupsEmitted)
	assert.Empty(t, testutil.ReadZip(t, out))
}

func TestNewEngineValidatesConfig(t *testing.T) {
	_, err := NewEngine(&Config{ExtractWorkers: 0, GroupWorkers: 1, LoadWorkers: 1, RecordBuffer: 1, Shards: 1},
		healthxml.NewExtractor(healthxml.Config{}), csv.NewEncoder(""), nil, nil)
	require.Error(t, err)
	assert.True(t, etlerrors.IsType(err, etlerrors.ErrorTypeConfig))
	assert.Contains(t, err.Error(), "extract workers")

	_, err = NewEngine(nil, nil, nil, nil, nil)
	assert.True(t, etlerrors.IsType(err, etlerrors.ErrorTypeConfig))
}

func TestEngineThroughputOneMillionRecords(t *testing.T) {
	testutil.IntegrationTest(t)

	const n = 1_000_000
	var b strings.Builder
	b.Grow(n * 40)
	b.WriteString(testutil.Prolog)
	b.WriteString("<HealthData locale=\"en_US\">\n")
	for i := 0; i < n; i++ {
		b.WriteString(`<R type="T`)
		b.WriteString(strconv.Itoa(i % 16))
		b.WriteString(`" value="`)
		b.WriteString(strconv.Itoa(i))
		b.WriteString("\"/>\n")
	}
	b.WriteString("</HealthData>\n")
	doc := []byte(b.String())

	target := 200_000.0
	if runtime.NumCPU() >= 8 {
		target = 700_000
	}
	testutil.NewPerformanceTest(t, "engine").
		WithThroughputTarget(target).
		Run(func() (int64, time.Duration) {
			start := time.Now()
			_, res, _, err := runEngine(t, doc, runOptions{cfg: DefaultConfig(), logger: zap.NewNop()})
			require.NoError(t, err)
			return res.Counters.RecordsExtracted, time.Since(start)
		})
}

func BenchmarkEngine(b *testing.B) {
	doc := testutil.Synthetic(100_000, 20, -1)
	dir := b.TempDir()
	b.SetBytes(int64(len(doc)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		sink, err := archive.NewZipSink(archive.ZipConfig{Path: filepath.Join(dir, "bench.zip")})
		require.NoError(b, err)
		engine, err := NewEngine(DefaultConfig(),
			healthxml.NewExtractor(healthxml.Config{MinChunkSize: 64 << 10}),
			csv.NewEncoder(csv.PolicyPad), sink, zap.NewNop())
		require.NoError(b, err)
		if _, err := engine.Run(context.Background(), source.FromBytes("bench", doc)); err != nil {
			b.Fatal(err)
		}
	}
}

// slowSink delays every append and records how many prepared entries were
// waiting to be appended at once.
type slowSink struct {
	core.Sink
	delay      time.Duration
	mu         sync.Mutex
	prepared   int
	written    int
	maxPending int
}

func (s *slowSink) Prepare(name string, payload []byte) (*core.Entry, error) {
	s.mu.Lock()
	s.prepared++
	if p := s.prepared - s.written; p > s.maxPending {
		s.maxPending = p
	}
	s.mu.Unlock()
	return s.Sink.Prepare(name, payload)
}

func (s *slowSink) AcceptGroup(ctx context.Context, e *core.Entry) error {
	time.Sleep(s.delay)
	s.mu.Lock()
	s.written++
	s.mu.Unlock()
	return s.Sink.AcceptGroup(ctx, e)
}

type failingSink struct {
	core.Sink
	failAt  int
	calls   int
	aborted bool
}

func (s *failingSink) AcceptGroup(ctx context.Context, e *core.Entry) error {
	s.calls++
	if s.calls == s.failAt {
		return etlerrors.New(etlerrors.ErrorTypeIO, "disk full")
	}
	return s.Sink.AcceptGroup(ctx, e)
}

func (s *failingSink) Abort() error {
	s.aborted = true
	return s.Sink.Abort()
}

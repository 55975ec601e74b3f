package testutil

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// IntegrationTestSuite is the base for end-to-end suites that run whole
// conversions against files on disk. Every suite gets one scratch directory
// and one context that bounds the suite's total running time.
type IntegrationTestSuite struct {
	suite.Suite
	ctx     context.Context
	cancel  context.CancelFunc
	dir     string
	started time.Time
}

// SetupSuite creates the scratch directory and the suite context.
func (s *IntegrationTestSuite) SetupSuite() {
	s.ctx, s.cancel = context.WithTimeout(context.Background(), 5*time.Minute)
	s.started = time.Now()

	dir, err := os.MkdirTemp("", "healthetl-e2e-*")
	s.Require().NoError(err)
	s.dir = dir
}

// TearDownSuite cancels the context and removes the scratch directory.
func (s *IntegrationTestSuite) TearDownSuite() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.dir != "" {
		_ = os.RemoveAll(s.dir)
	}
	s.T().Logf("suite finished in %v", time.Since(s.started).Round(time.Millisecond))
}

// Context returns the suite context.
func (s *IntegrationTestSuite) Context() context.Context {
	return s.ctx
}

// TempDir returns the scratch directory shared by the suite.
func (s *IntegrationTestSuite) TempDir() string {
	return s.dir
}

// CreateTempFile writes content to name under the scratch directory.
func (s *IntegrationTestSuite) CreateTempFile(name string, content []byte) string {
	path := filepath.Join(s.dir, name)
	s.Require().NoError(os.MkdirAll(filepath.Dir(path), 0o755))
	s.Require().NoError(os.WriteFile(path, content, 0o600))
	return path
}

// IntegrationTest skips long-running tests under -short.
func IntegrationTest(t testing.TB) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
}

// PerformanceTest measures one run of a workload and checks it against
// throughput and heap growth targets.
type PerformanceTest struct {
	t             testing.TB
	name          string
	minThroughput float64
	maxHeapGrowth uint64
}

// NewPerformanceTest creates a performance test without targets.
func NewPerformanceTest(t testing.TB, name string) *PerformanceTest {
	return &PerformanceTest{t: t, name: name}
}

// WithThroughputTarget sets the minimum records per second.
func (p *PerformanceTest) WithThroughputTarget(recordsPerSec float64) *PerformanceTest {
	p.minThroughput = recordsPerSec
	return p
}

// WithHeapGrowthTarget sets the maximum live heap growth across the run.
func (p *PerformanceTest) WithHeapGrowthTarget(maxBytes uint64) *PerformanceTest {
	p.maxHeapGrowth = maxBytes
	return p
}

// Run executes fn, which returns the number of records it processed and the
// time it took, logs the results and fails the test when a target is missed.
func (p *PerformanceTest) Run(fn func() (records int64, elapsed time.Duration)) {
	p.t.Helper()

	before := heapInUse()
	records, elapsed := fn()
	require.Positive(p.t, records, "performance test %s processed no records", p.name)
	require.Positive(p.t, elapsed, "performance test %s reported no elapsed time", p.name)
	after := heapInUse()

	throughput := float64(records) / elapsed.Seconds()
	var growth uint64
	if after > before {
		growth = after - before
	}

	p.t.Logf("%s: %d records in %v, %.0f records/sec, heap growth %s",
		p.name, records, elapsed.Round(time.Millisecond), throughput, formatBytes(growth))

	if p.minThroughput > 0 && throughput < p.minThroughput {
		p.t.Errorf("%s: throughput %.0f records/sec below target %.0f", p.name, throughput, p.minThroughput)
	}
	if p.maxHeapGrowth > 0 && growth > p.maxHeapGrowth {
		p.t.Errorf("%s: heap growth %s exceeds target %s", p.name, formatBytes(growth), formatBytes(p.maxHeapGrowth))
	}
}

func heapInUse() uint64 {
	runtime.GC()
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return m.HeapInuse
}

func formatBytes(n uint64) string {
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

package report

import (
	"context"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// DefaultSampleInterval is how often a ResourceMonitor samples the process.
const DefaultSampleInterval = 100 * time.Millisecond

// ResourceUsage summarizes the resources a run consumed.
type ResourceUsage struct {
	PeakRSSBytes          uint64  `json:"peak_rss_bytes"`
	CPUSeconds            float64 `json:"cpu_seconds"`
	CPUPercent            float64 `json:"cpu_percent"`
	PeakGoroutines        int     `json:"peak_goroutines"`
	ThreadCount           int32   `json:"threads"`
	SystemMemoryAvailable uint64  `json:"system_memory_available_bytes,omitempty"`
}

// ResourceMonitor samples the current process in the background and keeps
// the peaks. The zero value is not usable; call NewResourceMonitor.
type ResourceMonitor struct {
	process      *process.Process
	startCPUTime float64
	startTime    time.Time

	mu    sync.Mutex
	usage ResourceUsage

	cancel context.CancelFunc
	done   chan struct{}
}

// NewResourceMonitor creates a monitor for the current process. When the
// process cannot be inspected the monitor still works and reports zeros.
func NewResourceMonitor() *ResourceMonitor {
	rm := &ResourceMonitor{startTime: time.Now()}
	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil { //nolint:gosec // pid fits in int32
		rm.process = proc
		if t, err := proc.Times(); err == nil {
			rm.startCPUTime = t.Total()
		}
	}
	return rm
}

// Start samples every interval until Stop or ctx is done.
func (rm *ResourceMonitor) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSampleInterval
	}
	ctx, rm.cancel = context.WithCancel(ctx)
	rm.done = make(chan struct{})
	rm.sample()

	go func() {
		defer close(rm.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				rm.sample()
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop ends sampling, takes a final sample and returns the totals.
func (rm *ResourceMonitor) Stop() ResourceUsage {
	if rm.cancel != nil {
		rm.cancel()
		<-rm.done
		rm.cancel = nil
	}
	rm.sample()

	rm.mu.Lock()
	defer rm.mu.Unlock()
	if rm.process != nil {
		if t, err := rm.process.Times(); err == nil {
			rm.usage.CPUSeconds = t.Total() - rm.startCPUTime
			if elapsed := time.Since(rm.startTime).Seconds(); elapsed > 0 {
				rm.usage.CPUPercent = rm.usage.CPUSeconds / elapsed * 100
			}
		}
		rm.usage.ThreadCount, _ = rm.process.NumThreads()
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		rm.usage.SystemMemoryAvailable = vm.Available
	}
	return rm.usage
}

func (rm *ResourceMonitor) sample() {
	var rss uint64
	if rm.process != nil {
		if info, err := rm.process.MemoryInfo(); err == nil {
			rss = info.RSS
		}
	}
	g := runtime.NumGoroutine()

	rm.mu.Lock()
	if rss > rm.usage.PeakRSSBytes {
		rm.usage.PeakRSSBytes = rss
	}
	if g > rm.usage.PeakGoroutines {
		rm.usage.PeakGoroutines = g
	}
	rm.mu.Unlock()
}

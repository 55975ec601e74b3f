package main

import (
	"os"
	"runtime"
	"runtime/pprof"

	"github.com/ajitpratap0/healthetl/pkg/etlerrors"
)

// startProfiles starts CPU profiling into cpuFile when set. The returned stop
// function ends it and writes a heap profile into memFile when set.
func startProfiles(cpuFile, memFile string) (stop func() error, err error) {
	var cpu *os.File
	if cpuFile != "" {
		cpu, err = os.Create(cpuFile)
		if err != nil {
			return nil, etlerrors.Wrap(err, etlerrors.ErrorTypeIO, "failed to create CPU profile").
				WithDetail("path", cpuFile)
		}
		if err := pprof.StartCPUProfile(cpu); err != nil {
			_ = cpu.Close()
			return nil, etlerrors.Wrap(err, etlerrors.ErrorTypeInternal, "failed to start CPU profile")
		}
	}

	return func() error {
		if cpu != nil {
			pprof.StopCPUProfile()
			if err := cpu.Close(); err != nil {
				return etlerrors.Wrap(err, etlerrors.ErrorTypeIO, "failed to close CPU profile")
			}
		}
		if memFile == "" {
			return nil
		}
		f, err := os.Create(memFile)
		if err != nil {
			return etlerrors.Wrap(err, etlerrors.ErrorTypeIO, "failed to create memory profile").
				WithDetail("path", memFile)
		}
		defer f.Close()
		runtime.GC()
		if err := pprof.WriteHeapProfile(f); err != nil {
			return etlerrors.Wrap(err, etlerrors.ErrorTypeIO, "failed to write memory profile")
		}
		return nil
	}, nil
}

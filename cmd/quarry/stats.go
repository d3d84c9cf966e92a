package main

import (
	"os"
	"runtime"
	"runtime/pprof"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"

	"github.com/ajitpratap0/quarry/pkg/errors"
)

func startCPUProfile(path string) (func() error, error) {
	f, err := os.Create(path) //nolint:gosec // G304: path is supplied by the operator
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to create CPU profile").WithDetail("path", path)
	}
	if err := pprof.StartCPUProfile(f); err != nil {
		_ = f.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to start CPU profile")
	}
	return func() error {
		pprof.StopCPUProfile()
		return f.Close()
	}, nil
}

// logResourceUsage logs process and host memory figures.
func logResourceUsage(log *zap.Logger) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	fields := []zap.Field{
		zap.Uint64("heap_alloc_bytes", ms.HeapAlloc),
		zap.Uint64("total_alloc_bytes", ms.TotalAlloc),
		zap.Uint32("gc_cycles", ms.NumGC),
		zap.Int("goroutines", runtime.NumGoroutine()),
	}

	if p, err := process.NewProcess(int32(os.Getpid())); err == nil { //nolint:gosec // G115: pids fit in int32
		if info, err := p.MemoryInfo(); err == nil {
			fields = append(fields, zap.Uint64("rss_bytes", info.RSS))
		}
		if cpu, err := p.CPUPercent(); err == nil {
			fields = append(fields, zap.Float64("cpu_percent", cpu))
		}
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		fields = append(fields,
			zap.Uint64("host_available_bytes", vm.Available),
			zap.Float64("host_used_percent", vm.UsedPercent))
	}
	log.Info("resource usage", fields...)
}

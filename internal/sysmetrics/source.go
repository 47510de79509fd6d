// Package sysmetrics samples per-core CPU and system memory utilization.
package sysmetrics

import (
	"context"
	"errors"
	"fmt"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
)

var (
	// ErrMetricsUnavailable means the host reported figures no sizing decision can be made from.
	ErrMetricsUnavailable = errors.New("metrics unavailable")
	// ErrCoreNotFound means the requested logical core is not reported by the host.
	ErrCoreNotFound = errors.New("core not found")
)

// MemoryStat is a point-in-time reading of system memory in bytes.
type MemoryStat struct {
	Total uint64
	Used  uint64
}

// UsedPercent returns Used*100/Total in whole percent.
func (m MemoryStat) UsedPercent() (uint64, error) {
	if m.Total == 0 {
		return 0, fmt.Errorf("%w: total memory reported as zero", ErrMetricsUnavailable)
	}
	return m.Used * 100 / m.Total, nil
}

type (
	timesFunc         func(ctx context.Context, perCPU bool) ([]cpu.TimesStat, error)
	countsFunc        func(ctx context.Context, logical bool) (int, error)
	virtualMemoryFunc func(ctx context.Context) (*mem.VirtualMemoryStat, error)
)

// Source reads host utilization through gopsutil. It is safe for concurrent use;
// per-core delta state lives in the CoreSampler values it hands out.
type Source struct {
	times         timesFunc
	counts        countsFunc
	virtualMemory virtualMemoryFunc
}

// New creates a Source backed by the host.
func New() *Source {
	return &Source{
		times:         cpu.TimesWithContext,
		counts:        cpu.CountsWithContext,
		virtualMemory: mem.VirtualMemoryWithContext,
	}
}

// LogicalCores returns the number of logical CPUs.
func (s *Source) LogicalCores(ctx context.Context) (int, error) {
	n, err := s.counts(ctx, true)
	if err != nil {
		return 0, fmt.Errorf("failed to count logical cores: %w", err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%w: host reported %d logical cores", ErrMetricsUnavailable, n)
	}
	return n, nil
}

// Memory returns total and used system memory.
func (s *Source) Memory(ctx context.Context) (MemoryStat, error) {
	vm, err := s.virtualMemory(ctx)
	if err != nil {
		return MemoryStat{}, fmt.Errorf("failed to read virtual memory: %w", err)
	}
	if vm == nil || vm.Total == 0 {
		return MemoryStat{}, fmt.Errorf("%w: total memory reported as zero", ErrMetricsUnavailable)
	}
	return MemoryStat{Total: vm.Total, Used: vm.Used}, nil
}

// NewCoreSampler returns a sampler bound to one logical core.
func (s *Source) NewCoreSampler(core int) *CoreSampler {
	return &CoreSampler{
		core:  core,
		name:  fmt.Sprintf("cpu%d", core),
		times: s.times,
	}
}

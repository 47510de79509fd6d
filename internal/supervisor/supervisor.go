// Package supervisor starts one CPU regulator per managed core and the RAM
// regulator, and stops them all as soon as any of them fails.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/container-resource-predictor/occupancy/internal/config"
	"github.com/container-resource-predictor/occupancy/internal/cpuregulator"
	"github.com/container-resource-predictor/occupancy/internal/ramregulator"
)

// ErrNoCores means every logical core was excluded.
var ErrNoCores = errors.New("no cores left to regulate")

// Metrics is the part of the metrics source the supervisor needs directly.
type Metrics interface {
	LogicalCores(ctx context.Context) (int, error)
	ramregulator.MemorySampler
}

// SamplerFactory returns a sampler bound to one core. Each regulator gets its own.
type SamplerFactory func(core int) cpuregulator.Sampler

// Supervisor owns the set of regulators for the process.
type Supervisor struct {
	cpu []*cpuregulator.Regulator
	ram *ramregulator.Regulator
}

// New builds regulators for cfg. Nothing runs until Run is called.
func New(ctx context.Context, cfg *config.Config, metrics Metrics, samplers SamplerFactory) (*Supervisor, error) {
	s := &Supervisor{}

	if cfg.CPUEnabled {
		n, err := metrics.LogicalCores(ctx)
		if err != nil {
			return nil, err
		}
		cores := ManagedCores(n, cfg.ExcludedCores)
		if len(cores) == 0 {
			return nil, fmt.Errorf("%w: %d logical cores, excluded %v", ErrNoCores, n, cfg.ExcludedCores)
		}

		cpuCfg := cpuregulator.Config{
			Threshold:     cfg.CPUThreshold,
			WorkDuration:  cfg.WorkDuration,
			SleepDuration: cfg.SleepDuration,
			Pin:           cfg.PinCores,
		}
		for _, core := range cores {
			s.cpu = append(s.cpu, cpuregulator.New(core, cpuCfg, samplers(core)))
		}
		slog.Info("CPU regulators configured", "logicalCores", n, "managedCores", cores)
	}

	if cfg.RAMEnabled {
		s.ram = ramregulator.New(ramregulator.Config{
			Band:                 cfg.RAMBand,
			SleepDuration:        cfg.SleepDuration,
			StepGranularityBytes: cfg.StepGranularityBytes,
			MaxBlockBytes:        cfg.MaxBlockBytes,
			MaxPoolBytes:         cfg.MaxPoolBytes,
		}, metrics)
	}

	return s, nil
}

// CPURegulators returns the per-core regulators in core order.
func (s *Supervisor) CPURegulators() []*cpuregulator.Regulator {
	return s.cpu
}

// RAMRegulator returns the RAM regulator, or nil when RAM regulation is disabled.
func (s *Supervisor) RAMRegulator() *ramregulator.Regulator {
	return s.ram
}

// Run starts every regulator on its own goroutine and blocks until all have
// returned. The first fatal error cancels the rest and is returned.
func (s *Supervisor) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, r := range s.cpu {
		g.Go(func() error {
			return r.Run(ctx)
		})
	}
	if s.ram != nil {
		g.Go(func() error {
			return s.ram.Run(ctx)
		})
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("regulator failed: %w", err)
	}
	return nil
}

// ManagedCores lists the cores 0..n-1 that are not excluded.
func ManagedCores(n int, excluded []int) []int {
	skip := make(map[int]struct{}, len(excluded))
	for _, core := range excluded {
		skip[core] = struct{}{}
	}

	cores := make([]int, 0, n)
	for core := 0; core < n; core++ {
		if _, ok := skip[core]; !ok {
			cores = append(cores, core)
		}
	}
	return cores
}

// Package cpuregulator duty-cycles a single logical core toward a target utilization.
package cpuregulator

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"sync/atomic"
	"time"

	"k8s.io/utils/clock"

	"github.com/container-resource-predictor/occupancy/internal/affinity"
)

// Phase is the decision taken for one cycle.
type Phase string

const (
	PhaseBusy Phase = "busy"
	PhaseIdle Phase = "idle"
)

// Sampler returns a core's utilization percentage since its previous call.
type Sampler interface {
	Sample(ctx context.Context) (float64, error)
}

// Config holds the configuration for one core's regulator.
type Config struct {
	Threshold     float64       `json:"threshold"`     // burn while utilization is below this %
	WorkDuration  time.Duration `json:"workDuration"`  // length of a busy phase
	SleepDuration time.Duration `json:"sleepDuration"` // length of an idle phase
	Pin           bool          `json:"pin"`           // pin the thread to the core
}

// Status is a point-in-time view of a regulator for reporting.
type Status struct {
	Core       int     `json:"core"`
	LastSample float64 `json:"lastSample"`
	Phase      Phase   `json:"phase"`
	BusyCycles int64   `json:"busyCycles"`
	IdleCycles int64   `json:"idleCycles"`
}

// Regulator alternates busy and idle phases on one core. Run owns all control
// state; the atomics below only mirror it for Status.
type Regulator struct {
	core    int
	config  Config
	sampler Sampler
	clock   clock.Clock
	lock    func(core int) error
	spin    func(seed uint64) uint64
	logger  *slog.Logger

	onCycle func(core int, sample float64, phase Phase)

	// sink keeps busy-loop results observable so the loop is not eliminated.
	sink uint64

	lastSample atomic.Uint64 // math.Float64bits
	busy       atomic.Bool
	started    atomic.Bool
	busyCycles atomic.Int64
	idleCycles atomic.Int64
}

// New creates a Regulator for core reading utilization from sampler.
func New(core int, cfg Config, sampler Sampler) *Regulator {
	r := &Regulator{
		core:    core,
		config:  cfg,
		sampler: sampler,
		clock:   clock.RealClock{},
		spin:    spinUnit,
		logger:  slog.With("component", "cpu-regulator", "core", core),
	}
	r.lock = r.lockThread
	return r
}

// SetOnCycle sets a callback invoked after every decision. It must be set before Run.
func (r *Regulator) SetOnCycle(fn func(core int, sample float64, phase Phase)) {
	r.onCycle = fn
}

// Core returns the logical core this regulator drives.
func (r *Regulator) Core() int {
	return r.core
}

// Config returns the regulator configuration.
func (r *Regulator) Config() Config {
	return r.config
}

// Status returns the latest decision and counters.
func (r *Regulator) Status() Status {
	s := Status{
		Core:       r.core,
		LastSample: math.Float64frombits(r.lastSample.Load()),
		BusyCycles: r.busyCycles.Load(),
		IdleCycles: r.idleCycles.Load(),
	}
	if r.started.Load() {
		s.Phase = PhaseIdle
		if r.busy.Load() {
			s.Phase = PhaseBusy
		}
	}
	return s
}

// Run regulates the core until ctx is cancelled. It returns a non-nil error
// only when the core can no longer be sampled, which is fatal for the process.
func (r *Regulator) Run(ctx context.Context) error {
	// The goroutine exits locked, so a pinned thread is never handed back to the scheduler.
	if err := r.lock(r.core); err != nil {
		r.logger.Warn("Failed to pin regulator to core, measurements may include other cores' noise", "error", err)
	}

	// Prime the sampler so the first decision covers a full interval.
	if _, err := r.sampler.Sample(ctx); err != nil {
		return fmt.Errorf("core %d: %w", r.core, err)
	}
	r.clock.Sleep(r.config.SleepDuration)

	r.logger.Info("CPU regulator started", "threshold", r.config.Threshold)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("CPU regulator stopped")
			return nil
		default:
		}

		if _, err := r.Cycle(ctx); err != nil {
			return err
		}
	}
}

// Cycle takes one sample and runs the resulting phase to completion.
func (r *Regulator) Cycle(ctx context.Context) (Phase, error) {
	sample, err := r.sampler.Sample(ctx)
	if err != nil {
		return "", fmt.Errorf("core %d: %w", r.core, err)
	}

	phase := r.Decide(sample)
	r.record(sample, phase)
	r.logger.Debug("CPU cycle", "sample", sample, "phase", phase)

	switch phase {
	case PhaseBusy:
		r.burn(r.config.WorkDuration)
	case PhaseIdle:
		r.clock.Sleep(r.config.SleepDuration)
	}
	return phase, nil
}

// Decide maps a sample to a phase: below the threshold the core needs more load.
func (r *Regulator) Decide(sample float64) Phase {
	if sample < r.config.Threshold {
		return PhaseBusy
	}
	return PhaseIdle
}

func (r *Regulator) record(sample float64, phase Phase) {
	r.lastSample.Store(math.Float64bits(sample))
	r.busy.Store(phase == PhaseBusy)
	r.started.Store(true)
	if phase == PhaseBusy {
		r.busyCycles.Add(1)
	} else {
		r.idleCycles.Add(1)
	}

	if r.onCycle != nil {
		r.onCycle(r.core, sample, phase)
	}
}

// burn performs CPU-bound work for the given duration.
func (r *Regulator) burn(d time.Duration) {
	start := r.clock.Now()
	result := r.sink
	for r.clock.Since(start) < d {
		result = r.spin(result)
	}
	r.sink = result
}

func (r *Regulator) lockThread(core int) error {
	if !r.config.Pin {
		runtime.LockOSThread()
		return nil
	}
	return affinity.LockAndPin(core)
}

// spinUnit is one slice of hash-like arithmetic with no side effects besides its result.
func spinUnit(seed uint64) uint64 {
	result := seed
	for i := 0; i < 10000; i++ {
		result = result*31 + uint64(i)
		result ^= result >> 17
		result *= 0xed5ad4bb
	}
	return result
}

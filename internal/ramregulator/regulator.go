// Package ramregulator resizes an in-process memory pool so that system
// memory utilization stays inside a target band.
package ramregulator

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"runtime/debug"
	"sync/atomic"
	"time"

	"k8s.io/utils/clock"

	"github.com/container-resource-predictor/occupancy/internal/config"
	"github.com/container-resource-predictor/occupancy/internal/sysmetrics"
)

// Action is what one adjustment did to the pool.
type Action string

const (
	ActionHold   Action = "hold"
	ActionGrow   Action = "grow"
	ActionShrink Action = "shrink"
)

// MemorySampler reads total and used system memory.
type MemorySampler interface {
	Memory(ctx context.Context) (sysmetrics.MemoryStat, error)
}

// Config holds the configuration for the RAM regulator.
type Config struct {
	Band          config.TargetBand `json:"band"`
	SleepDuration time.Duration     `json:"sleepDuration"`
	// StepGranularityBytes is the size of one step; zero means 1% of total memory.
	StepGranularityBytes uint64 `json:"stepGranularityBytes"`
	MaxBlockBytes        uint64 `json:"maxBlockBytes"`
	// MaxPoolBytes caps the pool; zero means unlimited.
	MaxPoolBytes uint64 `json:"maxPoolBytes"`
}

// Snapshot describes the outcome of one adjustment.
type Snapshot struct {
	UsagePercent uint64 `json:"usagePercent"`
	Action       Action `json:"action"`
	Steps        int    `json:"steps"`   // computed step count
	Changed      int    `json:"changed"` // blocks actually added or removed
	Blocks       int    `json:"blocks"`
	PoolBytes    uint64 `json:"poolBytes"`
	BlockBytes   uint64 `json:"blockBytes"`
}

// Regulator grows or shrinks a memory pool toward the band midpoint.
type Regulator struct {
	config  Config
	sampler MemorySampler
	clock   clock.Clock
	release func()
	logger  *slog.Logger

	onAdjust func(Snapshot)

	// owned by the Run goroutine
	pool *Pool
	unit uint64

	last atomic.Pointer[Snapshot]
}

// New creates a RAM regulator.
func New(cfg Config, sampler MemorySampler) *Regulator {
	return &Regulator{
		config:  cfg,
		sampler: sampler,
		clock:   clock.RealClock{},
		release: debug.FreeOSMemory,
		logger:  slog.With("component", "ram-regulator"),
	}
}

// SetOnAdjust sets a callback invoked after every adjustment. It must be set before Run.
func (r *Regulator) SetOnAdjust(fn func(Snapshot)) {
	r.onAdjust = fn
}

// Config returns the regulator configuration.
func (r *Regulator) Config() Config {
	return r.config
}

// Status returns the latest adjustment, or a zero Snapshot before the first one.
func (r *Regulator) Status() Snapshot {
	if s := r.last.Load(); s != nil {
		return *s
	}
	return Snapshot{}
}

// Run adjusts the pool every SleepDuration until ctx is cancelled. Errors
// are returned only when memory figures are unusable, which is fatal.
func (r *Regulator) Run(ctx context.Context) error {
	r.logger.Info("RAM regulator started",
		"low", r.config.Band.Low,
		"high", r.config.Band.High,
		"maxPoolBytes", r.config.MaxPoolBytes)

	for {
		r.clock.Sleep(r.config.SleepDuration)

		select {
		case <-ctx.Done():
			r.logger.Info("RAM regulator stopped", "blocks", r.poolLen())
			return nil
		default:
		}

		if _, err := r.Adjust(ctx); err != nil {
			return err
		}
	}
}

// Adjust takes one memory reading and resizes the pool accordingly.
func (r *Regulator) Adjust(ctx context.Context) (Snapshot, error) {
	stat, err := r.sampler.Memory(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("ram regulator: %w", err)
	}
	usage, err := stat.UsedPercent()
	if err != nil {
		return Snapshot{}, fmt.Errorf("ram regulator: %w", err)
	}
	if r.pool == nil {
		if err := r.init(stat.Total); err != nil {
			return Snapshot{}, err
		}
	}

	band := r.config.Band
	mid := band.Midpoint()
	snap := Snapshot{UsagePercent: usage, Action: ActionHold}

	switch {
	case band.Contains(usage):
	case usage < band.Low:
		snap.Steps = stepCount(stat.Total, mid-usage, r.unit)
		snap.Changed = r.pool.Grow(snap.Steps, r.config.MaxPoolBytes)
		if snap.Changed > 0 {
			snap.Action = ActionGrow
		} else if snap.Steps > 0 && r.config.MaxPoolBytes > 0 {
			r.logger.Warn("Memory pool at ceiling, not growing",
				"usagePercent", usage,
				"poolBytes", r.pool.Bytes(),
				"maxPoolBytes", r.config.MaxPoolBytes)
		}
	default:
		snap.Steps = stepCount(stat.Total, usage-mid, r.unit)
		snap.Changed = r.pool.Shrink(snap.Steps)
		if snap.Changed > 0 {
			snap.Action = ActionShrink
			r.release()
		}
	}

	snap.Blocks = r.pool.Len()
	snap.PoolBytes = r.pool.Bytes()
	snap.BlockBytes = r.pool.BlockSize()
	r.last.Store(&snap)

	if snap.Action == ActionHold {
		r.logger.Debug("Memory pool unchanged", "usagePercent", usage, "steps", snap.Steps)
	} else {
		r.logger.Info("Adjusted memory pool",
			"action", snap.Action,
			"usagePercent", usage,
			"steps", snap.Steps,
			"changed", snap.Changed,
			"blocks", snap.Blocks,
			"poolBytes", snap.PoolBytes)
	}

	if r.onAdjust != nil {
		r.onAdjust(snap)
	}
	return snap, nil
}

// init derives the step unit from the first reading and creates the pool.
func (r *Regulator) init(total uint64) error {
	unit := r.config.StepGranularityBytes
	if unit == 0 {
		unit = total / 100
	}
	if r.config.MaxBlockBytes > 0 && unit > r.config.MaxBlockBytes {
		unit = r.config.MaxBlockBytes
	}
	if unit == 0 {
		return fmt.Errorf("ram regulator: %w: total memory %d bytes is too small to step",
			sysmetrics.ErrMetricsUnavailable, total)
	}

	r.unit = unit
	r.pool = NewPool(unit)
	r.logger.Info("Memory pool initialized", "totalBytes", total, "blockBytes", unit)
	return nil
}

func (r *Regulator) poolLen() int {
	if r.pool == nil {
		return 0
	}
	return r.pool.Len()
}

// stepCount converts a percentage gap into whole steps of unit bytes.
// Results that overflow clamp to zero, which holds the pool for this cycle.
func stepCount(total, gapPercent, unit uint64) int {
	if unit == 0 {
		return 0
	}
	onePercent := total / 100
	if gapPercent != 0 && onePercent > math.MaxUint64/gapPercent {
		return 0
	}
	steps := onePercent * gapPercent / unit
	if steps > math.MaxInt32 {
		return 0
	}
	return int(steps)
}

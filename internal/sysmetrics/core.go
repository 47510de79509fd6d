package sysmetrics

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v4/cpu"
)

// CoreSampler reports one core's utilization since its own previous call.
// Each sampler keeps private counters, so concurrent samplers on different
// cores do not steal each other's deltas. A CoreSampler is not safe for
// concurrent use.
type CoreSampler struct {
	core  int
	name  string
	times timesFunc

	prev    cpu.TimesStat
	hasPrev bool
}

// Core returns the logical core the sampler is bound to.
func (c *CoreSampler) Core() int {
	return c.core
}

// Sample returns busy time as a percentage of elapsed time on the core since
// the previous Sample. The first call measures since boot.
func (c *CoreSampler) Sample(ctx context.Context) (float64, error) {
	all, err := c.times(ctx, true)
	if err != nil {
		return 0, fmt.Errorf("failed to read cpu times for %s: %w", c.name, err)
	}

	var (
		cur   cpu.TimesStat
		found bool
	)
	for _, t := range all {
		if t.CPU == c.name {
			cur, found = t, true
			break
		}
	}
	if !found {
		return 0, fmt.Errorf("%w: %s", ErrCoreNotFound, c.name)
	}

	prev := c.prev
	if !c.hasPrev {
		prev = cpu.TimesStat{}
	}
	c.prev, c.hasPrev = cur, true

	return busyPercent(prev, cur), nil
}

// busyPercent mirrors how gopsutil derives cpu.Percent from two TimesStat values.
func busyPercent(prev, cur cpu.TimesStat) float64 {
	prevTotal, prevBusy := totals(prev)
	curTotal, curBusy := totals(cur)

	if curBusy <= prevBusy {
		return 0
	}
	if curTotal <= prevTotal {
		return 100
	}

	pct := (curBusy - prevBusy) / (curTotal - prevTotal) * 100
	switch {
	case pct < 0:
		return 0
	case pct > 100:
		return 100
	}
	return pct
}

func totals(t cpu.TimesStat) (total, busy float64) {
	// Guest time is already accounted in User on Linux.
	total = t.User + t.System + t.Idle + t.Nice + t.Iowait + t.Irq + t.Softirq + t.Steal
	busy = total - t.Idle - t.Iowait
	return total, busy
}

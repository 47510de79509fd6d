package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/container-resource-predictor/occupancy/internal/config"
	"github.com/container-resource-predictor/occupancy/internal/cpuregulator"
	"github.com/container-resource-predictor/occupancy/internal/sysmetrics"
)

type fakeMetrics struct {
	cores int
	err   error
	mem   sysmetrics.MemoryStat
}

func (f *fakeMetrics) LogicalCores(ctx context.Context) (int, error) {
	return f.cores, f.err
}

func (f *fakeMetrics) Memory(ctx context.Context) (sysmetrics.MemoryStat, error) {
	return f.mem, nil
}

type fixedSampler struct {
	value float64
	err   error
	calls atomic.Int32
}

func (f *fixedSampler) Sample(ctx context.Context) (float64, error) {
	f.calls.Add(1)
	return f.value, f.err
}

func testConfig(t *testing.T) *config.Config {
	cfg, err := config.DefaultConfig(config.ProfileDefault)
	require.NoError(t, err)
	cfg.PinCores = false
	return &cfg
}

func TestManagedCores(t *testing.T) {
	tests := []struct {
		name     string
		n        int
		excluded []int
		want     []int
	}{
		{"no exclusions", 4, nil, []int{0, 1, 2, 3}},
		{"reserved profile", 4, []int{0, 1}, []int{2, 3}},
		{"exclusion beyond range", 2, []int{5}, []int{0, 1}},
		{"everything excluded", 2, []int{0, 1}, []int{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ManagedCores(tt.n, tt.excluded))
		})
	}
}

func TestNewBuildsOneRegulatorPerManagedCore(t *testing.T) {
	cfg := testConfig(t)
	cfg.ExcludedCores = []int{0, 1}

	var requested []int
	s, err := New(context.Background(), cfg, &fakeMetrics{cores: 6}, func(core int) cpuregulator.Sampler {
		requested = append(requested, core)
		return &fixedSampler{}
	})
	require.NoError(t, err)

	assert.Equal(t, []int{2, 3, 4, 5}, requested)
	require.Len(t, s.CPURegulators(), 4)
	for i, r := range s.CPURegulators() {
		assert.Equal(t, requested[i], r.Core())
		assert.Equal(t, cfg.CPUThreshold, r.Config().Threshold)
	}
	require.NotNil(t, s.RAMRegulator())
	assert.Equal(t, cfg.RAMBand, s.RAMRegulator().Config().Band)
}

func TestNewWithDisabledRegulators(t *testing.T) {
	cfg := testConfig(t)
	cfg.RAMEnabled = false
	s, err := New(context.Background(), cfg, &fakeMetrics{cores: 2}, func(int) cpuregulator.Sampler { return &fixedSampler{} })
	require.NoError(t, err)
	assert.Nil(t, s.RAMRegulator())
	assert.Len(t, s.CPURegulators(), 2)

	cfg = testConfig(t)
	cfg.CPUEnabled = false
	s, err = New(context.Background(), cfg, &fakeMetrics{err: errors.New("unused")}, nil)
	require.NoError(t, err)
	assert.Empty(t, s.CPURegulators())
	assert.NotNil(t, s.RAMRegulator())
}

func TestNewFailsWithoutCores(t *testing.T) {
	cfg := testConfig(t)
	cfg.ExcludedCores = []int{0, 1}
	_, err := New(context.Background(), cfg, &fakeMetrics{cores: 2}, func(int) cpuregulator.Sampler { return &fixedSampler{} })
	assert.True(t, errors.Is(err, ErrNoCores))

	errCount := errors.New("no /proc")
	_, err = New(context.Background(), testConfig(t), &fakeMetrics{err: errCount}, nil)
	assert.True(t, errors.Is(err, errCount))
}

func TestRunStopsEverythingOnFatalError(t *testing.T) {
	cfg := testConfig(t)
	cfg.RAMEnabled = false
	errBadCore := errors.New("core offline")

	healthy := &fixedSampler{value: 100}
	samplers := map[int]*fixedSampler{
		0: healthy,
		1: {err: errBadCore},
	}
	s, err := New(context.Background(), cfg, &fakeMetrics{cores: 2}, func(core int) cpuregulator.Sampler {
		return samplers[core]
	})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()

	select {
	case err := <-done:
		assert.True(t, errors.Is(err, errBadCore))
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor did not stop after a regulator failed")
	}
	assert.GreaterOrEqual(t, healthy.calls.Load(), int32(1))
}

func TestRunReturnsNilOnCancel(t *testing.T) {
	cfg := testConfig(t)
	s, err := New(context.Background(), cfg,
		&fakeMetrics{cores: 1, mem: sysmetrics.MemoryStat{Total: 1000, Used: 500}},
		func(int) cpuregulator.Sampler { return &fixedSampler{value: 100} })
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor did not stop after cancellation")
	}
}

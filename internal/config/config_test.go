package config

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTargetBand(t *testing.T) {
	band := TargetBand{Low: 45, High: 55}

	assert.Equal(t, uint64(50), band.Midpoint())
	assert.True(t, band.Contains(45))
	assert.True(t, band.Contains(55))
	assert.False(t, band.Contains(44))
	assert.False(t, band.Contains(56))
}

func TestTargetBandValidate(t *testing.T) {
	tests := []struct {
		name    string
		band    TargetBand
		wantErr bool
	}{
		{"regular band", TargetBand{Low: 45, High: 55}, false},
		{"single point", TargetBand{Low: 50, High: 50}, false},
		{"full range", TargetBand{Low: 0, High: 100}, false},
		{"inverted", TargetBand{Low: 60, High: 40}, true},
		{"above hundred", TargetBand{Low: 90, High: 101}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.band.Validate()
			if tt.wantErr {
				assert.True(t, errors.Is(err, ErrInvalidBand))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg, err := DefaultConfig(ProfileDefault)
	require.NoError(t, err)
	assert.Equal(t, 55.0, cfg.CPUThreshold)
	assert.Equal(t, TargetBand{Low: 45, High: 55}, cfg.RAMBand)
	assert.Empty(t, cfg.ExcludedCores)
	assert.Zero(t, cfg.StepGranularityBytes)
	assert.Equal(t, uint64(GiB), cfg.MaxBlockBytes)
	assert.Equal(t, MinCPUInterval, cfg.WorkDuration)
	assert.Equal(t, MinCPUInterval, cfg.SleepDuration)
	assert.Zero(t, cfg.StatusPort)
	assert.NoError(t, cfg.Validate())

	reserved, err := DefaultConfig(ProfileReserved)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, reserved.ExcludedCores)
	assert.Equal(t, uint64(GiB), reserved.StepGranularityBytes)
	assert.True(t, reserved.IsExcluded(1))
	assert.False(t, reserved.IsExcluded(2))

	_, err = DefaultConfig("turbo")
	assert.True(t, errors.Is(err, ErrInvalidProfile))
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("PROFILE", "reserved")
	t.Setenv("CPU_THRESHOLD", "70.5")
	t.Setenv("RAM_LOW", "30")
	t.Setenv("RAM_HIGH", "40")
	t.Setenv("EXCLUDED_CORES", "0, 3,5")
	t.Setenv("MAX_POOL_BYTES", "1048576")
	t.Setenv("SLEEP_DURATION", "500ms")
	t.Setenv("STATUS_PORT", "9100")
	t.Setenv("RAM_ENABLED", "false")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ProfileReserved, cfg.Profile)
	assert.Equal(t, 70.5, cfg.CPUThreshold)
	assert.Equal(t, TargetBand{Low: 30, High: 40}, cfg.RAMBand)
	assert.Equal(t, []int{0, 3, 5}, cfg.ExcludedCores)
	assert.Equal(t, uint64(1048576), cfg.MaxPoolBytes)
	assert.Equal(t, 500*time.Millisecond, cfg.SleepDuration)
	assert.Equal(t, 9100, cfg.StatusPort)
	assert.False(t, cfg.RAMEnabled)
	assert.True(t, cfg.CPUEnabled)
	// Profile value survives when not overridden
	assert.Equal(t, uint64(GiB), cfg.StepGranularityBytes)
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("CPU_THRESHOLD", "lots")
	t.Setenv("WORK_DURATION", "soon")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 55.0, cfg.CPUThreshold)
	assert.Equal(t, MinCPUInterval, cfg.WorkDuration)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"inverted band", "RAM_LOW", "80"},
		{"threshold too high", "CPU_THRESHOLD", "150"},
		{"sleep below sampling interval", "SLEEP_DURATION", "10ms"},
		{"bad core list", "EXCLUDED_CORES", "0,x"},
		{"unknown profile", "PROFILE", "turbo"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestValidateRequiresARegulator(t *testing.T) {
	cfg, err := DefaultConfig(ProfileDefault)
	require.NoError(t, err)
	cfg.CPUEnabled = false
	cfg.RAMEnabled = false
	assert.Error(t, cfg.Validate())
}

// Package config handles regulator configuration
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// MinCPUInterval is the shortest interval over which per-core CPU counters
// give a meaningful reading. Sampling faster returns stale data.
const MinCPUInterval = 200 * time.Millisecond

const (
	GiB = 1024 * 1024 * 1024

	// DefaultMaxBlockBytes caps a single pool block.
	DefaultMaxBlockBytes = GiB
)

// Profile selects a preset of regulator settings.
type Profile string

const (
	ProfileDefault  Profile = "default"
	ProfileReserved Profile = "reserved"
)

var (
	ErrInvalidBand    = errors.New("invalid target band")
	ErrInvalidProfile = errors.New("invalid profile")
)

// TargetBand is an acceptable utilization range in percent.
type TargetBand struct {
	Low  uint64 `json:"low"`
	High uint64 `json:"high"`
}

// Midpoint is the value the RAM regulator converges to.
func (b TargetBand) Midpoint() uint64 {
	return (b.Low + b.High) / 2
}

// Contains reports whether p lies inside the closed band.
func (b TargetBand) Contains(p uint64) bool {
	return p >= b.Low && p <= b.High
}

// Validate checks 0 <= Low <= High <= 100.
func (b TargetBand) Validate() error {
	if b.Low > b.High {
		return fmt.Errorf("%w: low %d > high %d", ErrInvalidBand, b.Low, b.High)
	}
	if b.High > 100 {
		return fmt.Errorf("%w: high %d > 100", ErrInvalidBand, b.High)
	}
	return nil
}

// Config holds the regulator configuration
type Config struct {
	Profile Profile

	// CPU regulation
	CPUEnabled    bool
	CPUThreshold  float64 // per-core utilization below which a core burns cycles
	ExcludedCores []int
	PinCores      bool

	// RAM regulation
	RAMEnabled bool
	RAMBand    TargetBand
	// StepGranularityBytes is the size of one adjustment step. Zero means 1% of total memory.
	StepGranularityBytes uint64
	MaxBlockBytes        uint64
	// MaxPoolBytes is a hard ceiling on the pool. Zero means unlimited.
	MaxPoolBytes uint64

	WorkDuration  time.Duration
	SleepDuration time.Duration

	// Status server, disabled when zero
	StatusPort int

	LogLevel  string
	LogFormat string
}

// DefaultConfig returns the settings of the given profile.
func DefaultConfig(profile Profile) (Config, error) {
	cfg := Config{
		Profile:       ProfileDefault,
		CPUEnabled:    true,
		CPUThreshold:  55,
		PinCores:      true,
		RAMEnabled:    true,
		RAMBand:       TargetBand{Low: 45, High: 55},
		MaxBlockBytes: DefaultMaxBlockBytes,
		WorkDuration:  MinCPUInterval,
		SleepDuration: MinCPUInterval,
		LogLevel:      "info",
		LogFormat:     "json",
	}

	switch profile {
	case ProfileDefault, "":
	case ProfileReserved:
		// Leave the first two cores to the rest of the system and move RAM in whole GiB steps.
		cfg.Profile = ProfileReserved
		cfg.ExcludedCores = []int{0, 1}
		cfg.StepGranularityBytes = GiB
	default:
		return Config{}, fmt.Errorf("%w: %q", ErrInvalidProfile, profile)
	}

	return cfg, nil
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg, err := DefaultConfig(Profile(getEnv("PROFILE", string(ProfileDefault))))
	if err != nil {
		return nil, err
	}

	cfg.CPUEnabled = getEnvBool("CPU_ENABLED", cfg.CPUEnabled)
	cfg.CPUThreshold = getEnvFloat("CPU_THRESHOLD", cfg.CPUThreshold)
	cfg.PinCores = getEnvBool("PIN_CORES", cfg.PinCores)
	cfg.RAMEnabled = getEnvBool("RAM_ENABLED", cfg.RAMEnabled)
	cfg.RAMBand.Low = getEnvUint("RAM_LOW", cfg.RAMBand.Low)
	cfg.RAMBand.High = getEnvUint("RAM_HIGH", cfg.RAMBand.High)
	cfg.StepGranularityBytes = getEnvUint("STEP_GRANULARITY_BYTES", cfg.StepGranularityBytes)
	cfg.MaxBlockBytes = getEnvUint("MAX_BLOCK_BYTES", cfg.MaxBlockBytes)
	cfg.MaxPoolBytes = getEnvUint("MAX_POOL_BYTES", cfg.MaxPoolBytes)
	cfg.WorkDuration = getEnvDuration("WORK_DURATION", cfg.WorkDuration)
	cfg.SleepDuration = getEnvDuration("SLEEP_DURATION", cfg.SleepDuration)
	cfg.StatusPort = getEnvInt("STATUS_PORT", cfg.StatusPort)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getEnv("LOG_FORMAT", cfg.LogFormat)

	if value := os.Getenv("EXCLUDED_CORES"); value != "" {
		cores, err := parseCoreList(value)
		if err != nil {
			return nil, fmt.Errorf("failed to parse EXCLUDED_CORES: %w", err)
		}
		cfg.ExcludedCores = cores
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration for values the regulators cannot run with.
func (c *Config) Validate() error {
	if err := c.RAMBand.Validate(); err != nil {
		return err
	}
	if c.CPUThreshold < 0 || c.CPUThreshold > 100 {
		return fmt.Errorf("cpu threshold %.1f out of range [0,100]", c.CPUThreshold)
	}
	if c.WorkDuration <= 0 || c.SleepDuration <= 0 {
		return fmt.Errorf("work and sleep durations must be positive")
	}
	if c.WorkDuration < MinCPUInterval || c.SleepDuration < MinCPUInterval {
		return fmt.Errorf("work and sleep durations must be at least %s", MinCPUInterval)
	}
	if c.MaxBlockBytes == 0 {
		return fmt.Errorf("max block bytes must be positive")
	}
	if !c.CPUEnabled && !c.RAMEnabled {
		return fmt.Errorf("at least one of CPU or RAM regulation must be enabled")
	}
	for _, core := range c.ExcludedCores {
		if core < 0 {
			return fmt.Errorf("excluded core %d is negative", core)
		}
	}
	return nil
}

// IsExcluded reports whether the core must not get a regulator.
func (c *Config) IsExcluded(core int) bool {
	for _, excluded := range c.ExcludedCores {
		if excluded == core {
			return true
		}
	}
	return false
}

func parseCoreList(value string) ([]int, error) {
	var cores []int
	for _, field := range strings.Split(value, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		core, err := strconv.Atoi(field)
		if err != nil {
			return nil, fmt.Errorf("invalid core id %q: %w", field, err)
		}
		cores = append(cores, core)
	}
	return cores, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvUint(key string, defaultValue uint64) uint64 {
	if value := os.Getenv(key); value != "" {
		if u, err := strconv.ParseUint(value, 10, 64); err == nil {
			return u
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

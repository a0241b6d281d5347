package config

import (
	"errors"
	"fmt"
	"time"
)

// Kind values for checkpoints. The coordinator carries the kind through
// to completed records without branching on it.
const (
	KindFull        = "full"
	KindIncremental = "incremental"
)

// Config holds the checkpointing settings consumed by the coordinator.
// The zero value is not usable; start from Default() or a loader.
type Config struct {
	// Interval is the period of the coordinator's self-triggering loop.
	// Zero disables periodic triggering; checkpoints are then only
	// produced by explicit TriggerCheckpoint calls.
	Interval time.Duration `yaml:"interval" json:"interval"`

	// Timeout is the deadline for one checkpoint attempt. A pending
	// checkpoint that is not fully acknowledged within Timeout is
	// aborted with an expiry cause.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`

	// MinPause is the minimum pause between two trigger attempts.
	// Triggers arriving earlier are rejected, not queued.
	MinPause time.Duration `yaml:"min_pause" json:"min_pause"`

	// MaxConcurrent bounds the number of concurrently pending
	// checkpoints. Triggers beyond the bound are rejected.
	MaxConcurrent int `yaml:"max_concurrent" json:"max_concurrent"`

	// Retained is the number of completed checkpoints the store keeps.
	// Older completed checkpoints are subsumed and their state handles
	// released.
	Retained int `yaml:"retained" json:"retained"`

	// SweepInterval is the cadence of the deadline sweep. Zero derives
	// Timeout/10 clamped to [10ms, 1s]; see EffectiveSweepInterval.
	SweepInterval time.Duration `yaml:"sweep_interval" json:"sweep_interval"`

	// Kind is the checkpoint kind recorded on every attempt, "full" or
	// "incremental". Opaque to the coordination protocol.
	Kind string `yaml:"kind" json:"kind"`
}

// Default returns the standard checkpointing configuration.
func Default() Config {
	return Config{
		Interval:      0,
		Timeout:       10 * time.Minute,
		MinPause:      0,
		MaxConcurrent: 1,
		Retained:      1,
		SweepInterval: 0,
		Kind:          KindFull,
	}
}

// Sentinel errors for configuration validation.
var (
	// ErrInvalidTimeout indicates a non-positive checkpoint timeout.
	ErrInvalidTimeout = errors.New("checkpoint timeout must be positive")

	// ErrInvalidConcurrency indicates a concurrency bound below one.
	ErrInvalidConcurrency = errors.New("max concurrent checkpoints must be at least 1")

	// ErrInvalidRetention indicates a retention count below one.
	ErrInvalidRetention = errors.New("retained checkpoints must be at least 1")

	// ErrInvalidKind indicates an unknown checkpoint kind.
	ErrInvalidKind = errors.New("checkpoint kind must be full or incremental")
)

// Validate checks the configuration for internal consistency.
func (c Config) Validate() error {
	if c.Timeout <= 0 {
		return ErrInvalidTimeout
	}
	if c.MaxConcurrent < 1 {
		return ErrInvalidConcurrency
	}
	if c.Retained < 1 {
		return ErrInvalidRetention
	}
	if c.Kind != KindFull && c.Kind != KindIncremental {
		return fmt.Errorf("%w: %q", ErrInvalidKind, c.Kind)
	}
	if c.Interval < 0 || c.MinPause < 0 || c.SweepInterval < 0 {
		return errors.New("durations must not be negative")
	}
	return nil
}

// EffectiveSweepInterval returns the deadline-sweep cadence, deriving a
// default from the timeout when none is configured. The sweep is a
// single periodic tick per coordinator, so the number of scheduled
// callbacks stays bounded by the number of pending checkpoints rather
// than the number of outstanding acknowledgment slots.
func (c Config) EffectiveSweepInterval() time.Duration {
	if c.SweepInterval > 0 {
		return c.SweepInterval
	}
	sweep := c.Timeout / 10
	if sweep < 10*time.Millisecond {
		return 10 * time.Millisecond
	}
	if sweep > time.Second {
		return time.Second
	}
	return sweep
}

package compute

import (
	"fmt"
	"runtime"
	"time"
)

// =============================================================================
// CAPACITY PLANNING
// =============================================================================
//
// Tier sizing is derived from the logical CPU count once, at plan time.
// The interactive tier is kept deliberately narrow: its job is to answer
// quickly while the background tier soaks up batch load, and handing it
// more threads would just let background-sized work sneak onto the
// latency path. The background tier gets whatever remains after the
// host process and OS are given headroom.

const (
	// reservedCores is headroom withheld from the background tier for the
	// dashboard process itself and the OS.
	reservedCores = 3

	// interactiveCap bounds the interactive tier regardless of core count.
	interactiveCap = 2

	defaultMaxQueue        = 1000
	defaultIdleTimeout     = 30 * time.Second
	defaultShutdownTimeout = 10 * time.Second
)

// PoolConfig sizes both execution tiers and fixes their queue and timing
// behavior. A PoolConfig is plain data: it only takes effect when pools
// are (re)built by Initialize.
type PoolConfig struct {
	// InteractiveWorkers is the fixed worker count of the interactive
	// tier. Interactive workers are kept warm for the lifetime of the
	// pool so latency-sensitive requests never pay a spawn cost.
	InteractiveWorkers int `json:"interactive_workers"`

	// BackgroundWorkers caps the background tier. Background workers are
	// spawned on demand and the tier drains to zero when idle.
	BackgroundWorkers int `json:"background_workers"`

	// MaxQueue bounds each tier's pending queue. Submissions beyond the
	// bound fail immediately with ErrQueueFull.
	MaxQueue int `json:"max_queue"`

	// IdleTimeout is how long a surplus background worker waits for work
	// before retiring.
	IdleTimeout time.Duration `json:"idle_timeout"`

	// ShutdownTimeout bounds how long destroy waits for in-flight tasks.
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`

	// ZeroCopy hands transferable buffers to handlers by reference. When
	// disabled every dispatch deep-copies buffer contents instead.
	// DefaultPoolConfig enables it.
	ZeroCopy bool `json:"zero_copy"`
}

// DefaultPoolConfig plans tier capacity for a machine with coreCount
// logical CPUs:
//
//	interactive = clamp(coreCount/10, 1, 2)
//	background  = max(1, coreCount - 3 - interactive)
//
// Both tiers are guaranteed at least one worker even on single-core
// hosts, where the two bounds intentionally overlap.
func DefaultPoolConfig(coreCount int) PoolConfig {
	if coreCount < 1 {
		coreCount = 1
	}

	interactive := coreCount / 10
	if interactive < 1 {
		interactive = 1
	}
	if interactive > interactiveCap {
		interactive = interactiveCap
	}

	background := coreCount - reservedCores - interactive
	if background < 1 {
		background = 1
	}

	return PoolConfig{
		InteractiveWorkers: interactive,
		BackgroundWorkers:  background,
		MaxQueue:           defaultMaxQueue,
		IdleTimeout:        defaultIdleTimeout,
		ShutdownTimeout:    defaultShutdownTimeout,
		ZeroCopy:           true,
	}
}

// DetectPoolConfig plans capacity from the CPUs visible to this process.
func DetectPoolConfig() PoolConfig {
	return DefaultPoolConfig(runtime.NumCPU())
}

// withDefaults fills zero or negative fields from the detected plan so a
// sparse config is usable as-is. ZeroCopy is kept as given.
func (c PoolConfig) withDefaults() PoolConfig {
	base := DetectPoolConfig()
	if c.InteractiveWorkers <= 0 {
		c.InteractiveWorkers = base.InteractiveWorkers
	}
	if c.BackgroundWorkers <= 0 {
		c.BackgroundWorkers = base.BackgroundWorkers
	}
	if c.MaxQueue <= 0 {
		c.MaxQueue = base.MaxQueue
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = base.IdleTimeout
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = base.ShutdownTimeout
	}
	return c
}

// Validate reports the first sizing violation, if any. Initialize calls
// this before building pools; UpdateConfig does not, so a bad patch
// surfaces on the next Initialize.
func (c PoolConfig) Validate() error {
	if c.InteractiveWorkers < 1 {
		return fmt.Errorf("interactive workers must be at least 1, got %d", c.InteractiveWorkers)
	}
	if c.BackgroundWorkers < 1 {
		return fmt.Errorf("background workers must be at least 1, got %d", c.BackgroundWorkers)
	}
	if c.MaxQueue < 1 {
		return fmt.Errorf("max queue must be at least 1, got %d", c.MaxQueue)
	}
	if c.IdleTimeout < 0 {
		return fmt.Errorf("idle timeout must not be negative, got %v", c.IdleTimeout)
	}
	if c.ShutdownTimeout < 0 {
		return fmt.Errorf("shutdown timeout must not be negative, got %v", c.ShutdownTimeout)
	}
	return nil
}

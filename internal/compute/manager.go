// Package compute implements deckhand's two-tier worker pool manager,
// the subsystem that keeps CPU-heavy work (embedding batches, index
// builds, large-buffer processing) off the dashboard's interactive path.
//
// The manager owns two independently sized pools. The interactive tier
// is small and always warm so a user-facing request never waits behind
// batch load or a cold start; the background tier scales between zero
// and its configured bound and drains itself when idle. In front of both
// sits a dispatch contract that is agnostic to task semantics: feature
// modules register handlers by name and submit {name, payload} envelopes
// through RunInteractive or RunBackground.
//
// Lifecycle is explicit. Initialize builds both pools, Shutdown tears
// them down and waits for in-flight work, and the manager can be
// re-initialized afterwards with new sizing. Stats counters live on the
// manager, not the pools, and keep accumulating across generations.
package compute

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"deckhand/internal/logging"
)

// Manager is the process-wide compute service handed to feature modules.
// All methods are safe for concurrent use. The zero value is not usable;
// construct with NewManager.
type Manager struct {
	mu          sync.Mutex
	cfg         PoolConfig
	interactive *tierPool
	background  *tierPool
	initialized bool

	handlersMu sync.RWMutex
	handlers   map[string]Handler

	stats statsAggregator
}

// Option tweaks a Manager at construction.
type Option func(*Manager)

// WithConfig seeds the manager with cfg instead of the detected plan.
// Zero-valued sizing fields fall back to the detected defaults; ZeroCopy
// is taken as given.
func WithConfig(cfg PoolConfig) Option {
	return func(m *Manager) {
		m.cfg = cfg.withDefaults()
	}
}

// NewManager builds an uninitialized manager planned for this machine.
// Initialize must be called before tasks can be dispatched; stats and
// handler registration work immediately.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		cfg:      DetectPoolConfig(),
		handlers: make(map[string]Handler),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Initialize constructs both tier pools from the current config. Calling
// it while already initialized is a logged no-op, not an error; to apply
// new worker counts, Shutdown first and Initialize again.
func (m *Manager) Initialize() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.initialized {
		logging.Pool("compute manager already initialized, skipping")
		return nil
	}
	if err := m.cfg.Validate(); err != nil {
		return fmt.Errorf("invalid pool config: %w", err)
	}

	m.interactive = newTierPool(poolSettings{
		tier: TierInteractive,
		// Floor equals ceiling: interactive workers never retire, so
		// the latency path never pays a spawn cost.
		minWorkers:      m.cfg.InteractiveWorkers,
		maxWorkers:      m.cfg.InteractiveWorkers,
		maxQueue:        m.cfg.MaxQueue,
		shutdownTimeout: m.cfg.ShutdownTimeout,
		zeroCopy:        m.cfg.ZeroCopy,
	})
	m.background = newTierPool(poolSettings{
		tier:            TierBackground,
		minWorkers:      0,
		maxWorkers:      m.cfg.BackgroundWorkers,
		maxQueue:        m.cfg.MaxQueue,
		idleTimeout:     m.cfg.IdleTimeout,
		shutdownTimeout: m.cfg.ShutdownTimeout,
		zeroCopy:        m.cfg.ZeroCopy,
	})
	m.initialized = true

	logging.Pool("compute manager initialized: interactive=%d background=%d max_queue=%d",
		m.cfg.InteractiveWorkers, m.cfg.BackgroundWorkers, m.cfg.MaxQueue)
	logging.Audit().ManagerInit(m.cfg.InteractiveWorkers, m.cfg.BackgroundWorkers, m.cfg.MaxQueue)
	return nil
}

// Shutdown destroys both pools concurrently, waits for in-flight tasks
// within each pool's shutdown window, and returns the manager to the
// uninitialized state. It does so even when a destroy errors: the failed
// generation's intake is already closed and it can only drain, so a
// later Initialize starts from a clean slate. Safe to call when nothing
// was initialized, and safe to call twice.
func (m *Manager) Shutdown(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	m.mu.Lock()
	ip, bp := m.interactive, m.background
	wasInitialized := m.initialized
	m.interactive, m.background = nil, nil
	m.initialized = false
	m.mu.Unlock()

	if !wasInitialized {
		logging.PoolDebug("compute manager shutdown: nothing to do")
		return nil
	}

	start := time.Now()
	var g errgroup.Group
	g.Go(func() error { return ip.destroy(ctx) })
	g.Go(func() error { return bp.destroy(ctx) })
	if err := g.Wait(); err != nil {
		logging.PoolWarn("compute manager shutdown finished with error: %v", err)
		logging.Audit().ManagerShutdown(time.Since(start).Milliseconds(), false, err.Error())
		return err
	}

	logging.Pool("compute manager shut down")
	logging.Audit().ManagerShutdown(time.Since(start).Milliseconds(), true, "")
	return nil
}

// UpdateConfig merges patch into the stored config and returns the
// result. Live pools keep their current bounds; changes take effect on
// the next Shutdown/Initialize cycle. Values are merged as given and
// validated by the next Initialize.
func (m *Manager) UpdateConfig(patch ConfigPatch) PoolConfig {
	m.mu.Lock()
	defer m.mu.Unlock()

	if patch.InteractiveWorkers != nil {
		m.cfg.InteractiveWorkers = *patch.InteractiveWorkers
	}
	if patch.BackgroundWorkers != nil {
		m.cfg.BackgroundWorkers = *patch.BackgroundWorkers
	}
	if patch.MaxQueue != nil {
		m.cfg.MaxQueue = *patch.MaxQueue
	}
	if patch.IdleTimeout != nil {
		m.cfg.IdleTimeout = *patch.IdleTimeout
	}
	if patch.ShutdownTimeout != nil {
		m.cfg.ShutdownTimeout = *patch.ShutdownTimeout
	}
	if patch.ZeroCopy != nil {
		m.cfg.ZeroCopy = *patch.ZeroCopy
	}

	logging.Config("pool config updated: interactive=%d background=%d max_queue=%d idle=%v zero_copy=%v (applies on next initialize)",
		m.cfg.InteractiveWorkers, m.cfg.BackgroundWorkers, m.cfg.MaxQueue, m.cfg.IdleTimeout, m.cfg.ZeroCopy)
	logging.Audit().ConfigUpdate(map[string]interface{}{
		"interactive_workers": m.cfg.InteractiveWorkers,
		"background_workers":  m.cfg.BackgroundWorkers,
		"max_queue":           m.cfg.MaxQueue,
	})
	return m.cfg
}

// ConfigPatch is a partial PoolConfig for UpdateConfig; nil fields keep
// their prior value.
type ConfigPatch struct {
	InteractiveWorkers *int
	BackgroundWorkers  *int
	MaxQueue           *int
	IdleTimeout        *time.Duration
	ShutdownTimeout    *time.Duration
	ZeroCopy           *bool
}

// Config returns the currently stored pool configuration.
func (m *Manager) Config() PoolConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg
}

// Initialized reports whether both pools are live.
func (m *Manager) Initialized() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.initialized
}

// Stats assembles a point-in-time snapshot. It is safe in any lifecycle
// state: before Initialize the live fields read zero while the monotonic
// counters keep whatever earlier generations accumulated.
func (m *Manager) Stats() Snapshot {
	m.mu.Lock()
	ip, bp := m.interactive, m.background
	cfg := m.cfg
	m.mu.Unlock()

	i := m.stats.interactive.snapshot(TierInteractive, ip, cfg.InteractiveWorkers)
	b := m.stats.background.snapshot(TierBackground, bp, cfg.BackgroundWorkers)
	return aggregate(i, b, cfg.ZeroCopy)
}

// pool returns the live pool for tier, nil when uninitialized.
func (m *Manager) pool(tier Tier) *tierPool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tier == TierInteractive {
		return m.interactive
	}
	return m.background
}

// counters returns the monotonic counter set for tier.
func (m *Manager) counters(tier Tier) *tierCounters {
	if tier == TierInteractive {
		return &m.stats.interactive
	}
	return &m.stats.background
}

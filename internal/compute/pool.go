package compute

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"deckhand/internal/logging"
)

// Tier identifies one of the two independently sized execution pools.
type Tier string

const (
	// TierInteractive serves latency-sensitive requests. Its workers are
	// warm for the lifetime of the pool.
	TierInteractive Tier = "interactive"

	// TierBackground serves batch throughput work. It scales between
	// zero workers and its configured bound.
	TierBackground Tier = "background"
)

// taskEnvelope is the unit handed to a pool: the resolved run closure
// plus the channel the dispatcher awaits. The result channel is buffered
// so a worker can deliver and move on even if the dispatcher already
// gave up on its context.
type taskEnvelope struct {
	id       string
	run      func(ctx context.Context) (any, error)
	enqueued time.Time
	result   chan taskOutcome
}

type taskOutcome struct {
	value    any
	err      error
	workerID int
	wait     time.Duration
}

// poolSettings fixes a tier's behavior at construction. Pools are never
// resized in place; config changes take effect on the next generation.
type poolSettings struct {
	tier            Tier
	minWorkers      int
	maxWorkers      int
	maxQueue        int
	idleTimeout     time.Duration
	shutdownTimeout time.Duration
	zeroCopy        bool
}

// tierPool owns one tier's pending queue and worker goroutines. The two
// tiers of a manager share nothing: a flooded background queue cannot
// delay an interactive dispatch.
type tierPool struct {
	settings poolSettings

	queue  chan *taskEnvelope
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	running int // live worker goroutines
	nextID  int // worker IDs are assigned from 1 per pool
	closed  bool

	active int64 // workers currently inside a task, updated atomically
}

// newTierPool builds the pool and starts its minimum worker set.
func newTierPool(s poolSettings) *tierPool {
	p := &tierPool{
		settings: s,
		queue:    make(chan *taskEnvelope, s.maxQueue),
	}
	p.ctx, p.cancel = context.WithCancel(context.Background())

	p.mu.Lock()
	for i := 0; i < s.minWorkers; i++ {
		p.spawnWorkerLocked()
	}
	p.mu.Unlock()

	logging.Pool("%s pool up: workers=[%d,%d] queue=%d zero_copy=%v",
		s.tier, s.minWorkers, s.maxWorkers, s.maxQueue, s.zeroCopy)
	logging.Audit().PoolUp(string(s.tier), s.minWorkers, s.maxWorkers, s.maxQueue)
	return p
}

// submit enqueues env or fails fast: ErrPoolClosed once destroy has
// begun, ErrQueueFull when the queue is at capacity. A successful
// enqueue spawns a worker if every live worker is busy and the tier is
// below its bound, so the background tier wakes from zero on demand.
func (p *tierPool) submit(env *taskEnvelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPoolClosed
	}

	select {
	case p.queue <- env:
	default:
		return ErrQueueFull
	}

	if p.running < p.settings.maxWorkers && int(atomic.LoadInt64(&p.active)) >= p.running {
		p.spawnWorkerLocked()
	}
	return nil
}

func (p *tierPool) spawnWorkerLocked() {
	p.nextID++
	p.running++
	p.wg.Add(1)
	go p.worker(p.nextID)
	logging.PoolDebug("%s pool: worker %d spawned (running=%d)", p.settings.tier, p.nextID, p.running)
}

// worker pulls envelopes until the pool is cancelled or, on tiers that
// scale down, until it has sat idle past the tier's idle timeout.
// Cancellation is checked before each wait and again after a dequeue
// that raced it, so an envelope a stopping pool picks up is failed with
// ErrPoolClosed rather than run; destroy drains whatever never left the
// queue.
func (p *tierPool) worker(id int) {
	defer p.wg.Done()

	scales := p.settings.maxWorkers > p.settings.minWorkers && p.settings.idleTimeout > 0
	if !scales {
		for {
			select {
			case <-p.ctx.Done():
				p.workerExit()
				return
			default:
			}
			select {
			case env := <-p.queue:
				if p.ctx.Err() != nil {
					env.result <- taskOutcome{err: ErrPoolClosed}
					p.workerExit()
					return
				}
				p.execute(id, env)
			case <-p.ctx.Done():
				p.workerExit()
				return
			}
		}
	}

	idle := time.NewTimer(p.settings.idleTimeout)
	defer idle.Stop()
	for {
		select {
		case <-p.ctx.Done():
			p.workerExit()
			return
		default:
		}
		select {
		case env := <-p.queue:
			if p.ctx.Err() != nil {
				env.result <- taskOutcome{err: ErrPoolClosed}
				p.workerExit()
				return
			}
			p.execute(id, env)
			resetTimer(idle, p.settings.idleTimeout)
		case <-idle.C:
			if p.retire(id) {
				return
			}
			idle.Reset(p.settings.idleTimeout)
		case <-p.ctx.Done():
			p.workerExit()
			return
		}
	}
}

// retire removes this worker if the tier is above its floor and the
// queue is empty; otherwise the worker stays put and re-arms its idle
// timer. The queue check closes a race with submit: a submission landing
// at idle expiry sees this worker as live and skips spawning, so retiring
// anyway would strand that envelope with no worker left to take it.
// Both sides hold p.mu, so one of them always sees the other's effect.
func (p *tierPool) retire(id int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running <= p.settings.minWorkers {
		return false
	}
	if len(p.queue) > 0 {
		return false
	}
	p.running--
	logging.PoolDebug("%s pool: worker %d idle past %v, retiring (running=%d)",
		p.settings.tier, id, p.settings.idleTimeout, p.running)
	return true
}

func (p *tierPool) workerExit() {
	p.mu.Lock()
	p.running--
	p.mu.Unlock()
}

// execute runs one envelope and delivers its outcome. The wait clock
// stops the moment a worker picks the envelope up.
func (p *tierPool) execute(id int, env *taskEnvelope) {
	if env == nil {
		return
	}
	wait := time.Since(env.enqueued)
	atomic.AddInt64(&p.active, 1)
	value, err := p.runTask(env)
	atomic.AddInt64(&p.active, -1)
	env.result <- taskOutcome{value: value, err: err, workerID: id, wait: wait}
}

// runTask invokes the envelope's closure with panic recovery, so a bad
// handler fails one dispatch instead of killing a worker.
func (p *tierPool) runTask(env *taskEnvelope) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrTaskPanic, r)
			logging.PoolError("%s pool: task %s panicked: %v", p.settings.tier, env.id, r)
		}
	}()
	return env.run(p.ctx)
}

// destroy stops intake, cancels in-flight work, and waits for workers to
// exit within the shutdown window (or until ctx ends, whichever comes
// first). Envelopes that never reached a worker are failed with
// ErrPoolClosed. A destroyed pool cannot be reused; destroy is
// idempotent.
func (p *tierPool) destroy(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	timeout := p.settings.shutdownTimeout
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var err error
	select {
	case <-done:
	case <-timer.C:
		err = fmt.Errorf("%w: %s pool after %v", ErrShutdownTimeout, p.settings.tier, timeout)
	case <-ctx.Done():
		err = ctx.Err()
	}

	// Intake is closed, so nothing new lands here while we drain.
drain:
	for {
		select {
		case env := <-p.queue:
			env.result <- taskOutcome{err: ErrPoolClosed}
		default:
			break drain
		}
	}

	if err != nil {
		logging.PoolWarn("%s pool destroy: %v", p.settings.tier, err)
		logging.Audit().PoolDown(string(p.settings.tier), false, err.Error())
		return err
	}
	logging.Pool("%s pool drained and stopped", p.settings.tier)
	logging.Audit().PoolDown(string(p.settings.tier), true, "")
	return nil
}

func (p *tierPool) queuedCount() int {
	return len(p.queue)
}

func (p *tierPool) activeCount() int {
	return int(atomic.LoadInt64(&p.active))
}

func (p *tierPool) workerCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// resetTimer re-arms t for d, draining a fire that raced the reset.
func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}

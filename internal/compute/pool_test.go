package compute

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func testPoolSettings() poolSettings {
	return poolSettings{
		tier:            TierBackground,
		minWorkers:      0,
		maxWorkers:      2,
		maxQueue:        4,
		idleTimeout:     time.Minute,
		shutdownTimeout: 2 * time.Second,
	}
}

func holdEnvelope(gate <-chan struct{}) *taskEnvelope {
	return &taskEnvelope{
		id:       dispatchID(),
		enqueued: time.Now(),
		result:   make(chan taskOutcome, 1),
		run: func(ctx context.Context) (any, error) {
			select {
			case <-gate:
				return nil, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	}
}

func quickEnvelope() *taskEnvelope {
	return &taskEnvelope{
		id:       dispatchID(),
		enqueued: time.Now(),
		result:   make(chan taskOutcome, 1),
		run:      func(ctx context.Context) (any, error) { return nil, nil },
	}
}

func TestTierPoolSpawnsOnlyWhenSaturated(t *testing.T) {
	p := newTierPool(testPoolSettings())
	t.Cleanup(func() {
		if err := p.destroy(context.Background()); err != nil {
			t.Errorf("destroy: %v", err)
		}
	})

	if p.workerCount() != 0 {
		t.Fatalf("background pool spawned %d workers before any work", p.workerCount())
	}

	gate := make(chan struct{})
	defer close(gate)

	if err := p.submit(holdEnvelope(gate)); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	waitUntil(t, time.Second, "first worker to pick up", func() bool { return p.activeCount() == 1 })
	if p.workerCount() != 1 {
		t.Fatalf("workers = %d after one task, want 1", p.workerCount())
	}

	if err := p.submit(holdEnvelope(gate)); err != nil {
		t.Fatalf("second submit: %v", err)
	}
	waitUntil(t, time.Second, "second worker to pick up", func() bool { return p.activeCount() == 2 })
	if p.workerCount() != 2 {
		t.Fatalf("workers = %d with two busy tasks, want 2", p.workerCount())
	}

	// At the bound: further submissions queue instead of spawning.
	if err := p.submit(holdEnvelope(gate)); err != nil {
		t.Fatalf("third submit: %v", err)
	}
	if p.workerCount() != 2 {
		t.Fatalf("pool exceeded its worker bound: %d", p.workerCount())
	}
	if p.queuedCount() != 1 {
		t.Fatalf("queued = %d, want 1", p.queuedCount())
	}
}

func TestTierPoolSubmitAfterDestroyFails(t *testing.T) {
	p := newTierPool(testPoolSettings())
	if err := p.destroy(context.Background()); err != nil {
		t.Fatalf("destroy: %v", err)
	}

	env := &taskEnvelope{
		id:       dispatchID(),
		enqueued: time.Now(),
		result:   make(chan taskOutcome, 1),
		run:      func(ctx context.Context) (any, error) { return nil, nil },
	}
	if err := p.submit(env); !errors.Is(err, ErrPoolClosed) {
		t.Fatalf("submit after destroy = %v, want ErrPoolClosed", err)
	}

	if err := p.destroy(context.Background()); err != nil {
		t.Fatalf("second destroy: %v", err)
	}
}

func TestTierPoolPreSpawnsFloor(t *testing.T) {
	s := testPoolSettings()
	s.tier = TierInteractive
	s.minWorkers = 2
	s.maxWorkers = 2
	s.idleTimeout = 0
	p := newTierPool(s)
	t.Cleanup(func() {
		if err := p.destroy(context.Background()); err != nil {
			t.Errorf("destroy: %v", err)
		}
	})

	if p.workerCount() != 2 {
		t.Fatalf("workers = %d at construction, want the full floor", p.workerCount())
	}
}

func TestTierPoolRetireDeclinesWhileQueued(t *testing.T) {
	s := testPoolSettings()
	s.maxWorkers = 1
	p := newTierPool(s)
	t.Cleanup(func() {
		if err := p.destroy(context.Background()); err != nil {
			t.Errorf("destroy: %v", err)
		}
	})

	gate := make(chan struct{})
	defer close(gate)

	if err := p.submit(holdEnvelope(gate)); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	waitUntil(t, time.Second, "worker to pick up", func() bool { return p.activeCount() == 1 })

	// The second envelope queues behind the busy worker; submit sees the
	// tier at its bound and does not spawn for it.
	if err := p.submit(holdEnvelope(gate)); err != nil {
		t.Fatalf("second submit: %v", err)
	}
	if p.queuedCount() != 1 {
		t.Fatalf("queued = %d, want 1", p.queuedCount())
	}

	// An idle expiry now must keep the worker: it is the only one that
	// can ever take the queued envelope.
	if p.retire(1) {
		t.Fatal("worker retired with an envelope still queued")
	}
	if p.workerCount() != 1 {
		t.Fatalf("workers = %d after declined retire, want 1", p.workerCount())
	}
}

func TestTierPoolServesSubmitsRacingIdleExpiry(t *testing.T) {
	s := testPoolSettings()
	s.maxWorkers = 1
	s.idleTimeout = time.Millisecond
	p := newTierPool(s)
	t.Cleanup(func() {
		if err := p.destroy(context.Background()); err != nil {
			t.Errorf("destroy: %v", err)
		}
	})

	// Each round lands a submission near the lone worker's idle expiry.
	// Whichever side of the retire it hits, an accepted envelope must be
	// served: either the worker stays for it or a fresh one spawns.
	for i := 0; i < 400; i++ {
		env := quickEnvelope()
		if err := p.submit(env); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
		select {
		case out := <-env.result:
			if out.err != nil {
				t.Fatalf("submit %d failed: %v", i, out.err)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("submit %d stranded: queued=%d workers=%d active=%d",
				i, p.queuedCount(), p.workerCount(), p.activeCount())
		}
		// Jitter so submissions land on both sides of the expiry.
		time.Sleep(time.Duration(i%4) * 500 * time.Microsecond)
	}
}

func TestTierPoolDestroyNeverRunsFailedEnvelopes(t *testing.T) {
	for round := 0; round < 50; round++ {
		s := testPoolSettings()
		s.maxWorkers = 1
		p := newTierPool(s)

		var ran [3]int32
		envs := make([]*taskEnvelope, len(ran))
		for i := range envs {
			envs[i] = &taskEnvelope{
				id:       dispatchID(),
				enqueued: time.Now(),
				result:   make(chan taskOutcome, 1),
				run: func(ctx context.Context) (any, error) {
					atomic.AddInt32(&ran[i], 1)
					return nil, nil
				},
			}
		}
		for i, env := range envs {
			if err := p.submit(env); err != nil {
				t.Fatalf("round %d submit %d: %v", round, i, err)
			}
		}
		if err := p.destroy(context.Background()); err != nil {
			t.Fatalf("round %d destroy: %v", round, err)
		}

		// destroy returns only after workers exited and the queue was
		// drained, so every envelope holds exactly one outcome: a real
		// run, or ErrPoolClosed for one that never ran.
		for i, env := range envs {
			select {
			case out := <-env.result:
				executed := atomic.LoadInt32(&ran[i]) == 1
				switch {
				case out.err == nil && !executed:
					t.Fatalf("round %d envelope %d reported success without running", round, i)
				case errors.Is(out.err, ErrPoolClosed) && executed:
					t.Fatalf("round %d envelope %d ran but was failed as unstarted", round, i)
				case out.err != nil && !errors.Is(out.err, ErrPoolClosed):
					t.Fatalf("round %d envelope %d: %v", round, i, out.err)
				}
			default:
				t.Fatalf("round %d envelope %d has no outcome after destroy", round, i)
			}
		}
	}
}

package compute

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"deckhand/internal/logging"
)

// Task is the dispatch envelope routed to a registered handler. Payload
// is opaque to the pool manager: nil is as valid as anything else, and no
// validation happens here. Buffers ride along under the ownership rules
// described on Buffer.
type Task struct {
	Name    string
	Payload any
	Buffers []*Buffer
}

// Handler executes one named task kind. Handlers run on pool workers and
// must honor ctx, which is cancelled when the owning pool is destroyed.
type Handler func(ctx context.Context, task Task) (any, error)

// TaskResult reports a completed dispatch.
type TaskResult struct {
	// Value is whatever the handler returned.
	Value any

	// Duration covers the whole dispatch, queue wait included.
	Duration time.Duration

	// Wait is the queue-wait share of Duration.
	Wait time.Duration

	// WorkerID identifies the worker goroutine that ran the task,
	// numbered from 1 within its pool generation.
	WorkerID int
}

// RegisterHandler binds name to h. Feature modules register their
// handlers at startup; re-registering a name replaces the previous
// handler. Registration is independent of pool lifecycle and survives
// shutdown/initialize cycles.
func (m *Manager) RegisterHandler(name string, h Handler) error {
	if name == "" {
		return fmt.Errorf("handler name must not be empty")
	}
	if h == nil {
		return fmt.Errorf("handler for %q must not be nil", name)
	}
	m.handlersMu.Lock()
	m.handlers[name] = h
	m.handlersMu.Unlock()
	logging.DispatchDebug("handler registered: %q", name)
	return nil
}

func (m *Manager) handlerFor(name string) Handler {
	m.handlersMu.RLock()
	defer m.handlersMu.RUnlock()
	return m.handlers[name]
}

// RunInteractive executes a task on the interactive tier and blocks
// until it finishes, fails, or ctx ends. Use it for work a user is
// actively waiting on.
func (m *Manager) RunInteractive(ctx context.Context, name string, payload any, buffers ...*Buffer) (TaskResult, error) {
	return m.run(ctx, TierInteractive, name, payload, buffers)
}

// RunBackground executes a task on the background tier. Same contract as
// RunInteractive, but the work queues behind other batch load.
func (m *Manager) RunBackground(ctx context.Context, name string, payload any, buffers ...*Buffer) (TaskResult, error) {
	return m.run(ctx, TierBackground, name, payload, buffers)
}

// run is the shared dispatch path: check pool readiness, wrap the
// envelope, submit, await, record. Handler failures propagate to the
// caller unchanged and are never retried here; retry policy belongs to
// the feature module that owns the task.
//
// The handler is resolved when a worker picks the envelope up, not at
// submit time, so a dispatch racing its module's registration fails as
// an execution error rather than a rejection.
func (m *Manager) run(ctx context.Context, tier Tier, name string, payload any, buffers []*Buffer) (TaskResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	pool := m.pool(tier)
	if pool == nil {
		return TaskResult{}, fmt.Errorf("%w: %s tier", ErrNotInitialized, tier)
	}

	task := Task{Name: name, Payload: payload, Buffers: buffers}
	if !pool.settings.zeroCopy {
		task.Buffers = cloneBuffers(buffers)
	}

	env := &taskEnvelope{
		id:       dispatchID(),
		enqueued: time.Now(),
		result:   make(chan taskOutcome, 1),
		run: func(ctx context.Context) (any, error) {
			h := m.handlerFor(name)
			if h == nil {
				return nil, fmt.Errorf("%w: %q", ErrNoHandler, name)
			}
			return h(ctx, task)
		},
	}

	start := time.Now()
	if err := pool.submit(env); err != nil {
		m.counters(tier).recordRejected()
		logging.WithRequestID(logging.CategoryDispatch, env.id).Debug("%s task %q rejected: %v", tier, name, err)
		logging.Audit().TaskReject(string(tier), name, env.id, err.Error())
		return TaskResult{}, fmt.Errorf("%w (%s tier, task %q)", err, tier, name)
	}

	select {
	case out := <-env.result:
		if out.err != nil {
			m.counters(tier).recordFailure()
			logging.Audit().TaskFail(string(tier), name, env.id, time.Since(start).Milliseconds(), out.err.Error())
			return TaskResult{}, out.err
		}
		duration := time.Since(start)
		m.counters(tier).recordSuccess(duration)
		logging.WithRequestID(logging.CategoryDispatch, env.id).Debug("%s task %q done: worker=%d wait=%v total=%v",
			tier, name, out.workerID, out.wait, duration)
		return TaskResult{
			Value:    out.value,
			Duration: duration,
			Wait:     out.wait,
			WorkerID: out.workerID,
		}, nil
	case <-ctx.Done():
		// The task may still run; the buffered result channel lets the
		// worker deliver without us.
		return TaskResult{}, ctx.Err()
	}
}

// dispatchID returns a short correlation ID for request-scoped log lines.
func dispatchID() string {
	return uuid.New().String()[:8]
}

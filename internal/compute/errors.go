package compute

import "errors"

// Sentinel errors for the manager's own failure modes. Task handler
// failures are never wrapped in these; they propagate to the dispatcher
// unchanged so feature modules can match on their own error types.
var (
	// ErrNotInitialized is returned by dispatch calls made before
	// Initialize, or after Shutdown has torn the pools down.
	ErrNotInitialized = errors.New("worker pools not initialized")

	// ErrQueueFull is returned when a tier's pending queue is at capacity.
	// The manager never blocks the caller and never grows the queue.
	ErrQueueFull = errors.New("task queue is full")

	// ErrPoolClosed is returned for tasks that were still queued when
	// their pool was destroyed.
	ErrPoolClosed = errors.New("worker pool is shut down")

	// ErrNoHandler is returned when a task names a handler nobody
	// registered.
	ErrNoHandler = errors.New("no handler registered for task")

	// ErrTaskPanic wraps a panic recovered from a task handler.
	ErrTaskPanic = errors.New("task panicked")

	// ErrShutdownTimeout is returned when a pool's workers do not exit
	// within the configured shutdown window.
	ErrShutdownTimeout = errors.New("worker pool shutdown timed out")
)

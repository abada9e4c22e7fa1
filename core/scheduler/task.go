package scheduler

import (
	"context"
	"sync/atomic"
	"time"
)

// State is a task's position in its lifecycle:
// Submitted -> Queued -> Running -> {Completed, Rejected, Failed}.
type State int32

const (
	StateSubmitted State = iota
	StateQueued
	StateRunning
	StateCompleted
	StateRejected
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateSubmitted:
		return "submitted"
	case StateQueued:
		return "queued"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateRejected:
		return "rejected"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Task wraps a unit of work with its submission timestamp and lifecycle
// state. The function receives a context that is canceled on forced
// shutdown; a task that never checks it runs to completion regardless.
type Task struct {
	fn          func(ctx context.Context) error
	submittedAt time.Time

	// breakerTrial marks the single half-open probe; only its outcome
	// resolves the breaker's half-open state.
	breakerTrial bool

	state atomic.Int32
	err   error // written once, before done closes
	done  chan struct{}
}

func newTask(fn func(ctx context.Context) error) *Task {
	t := &Task{
		fn:          fn,
		submittedAt: time.Now(),
		done:        make(chan struct{}),
	}
	t.state.Store(int32(StateSubmitted))
	return t
}

// State returns the task's current lifecycle state.
func (t *Task) State() State { return State(t.state.Load()) }

// SubmittedAt returns the submission timestamp.
func (t *Task) SubmittedAt() time.Time { return t.submittedAt }

func (t *Task) setState(s State) { t.state.Store(int32(s)) }

// finish records the terminal state and unblocks waiters. For tasks drained
// by forced shutdown the recorded state stays Queued so callers can requeue
// them elsewhere.
func (t *Task) finish(err error, s State) {
	t.err = err
	t.state.Store(int32(s))
	close(t.done)
}

// Handle is the caller's view of a submitted task.
type Handle struct {
	task *Task
}

// Done returns a channel closed when the task reaches a terminal state.
func (h Handle) Done() <-chan struct{} { return h.task.done }

// Err returns the task's error. Only valid after Done is closed.
func (h Handle) Err() error { return h.task.err }

// State returns the task's current state.
func (h Handle) State() State { return h.task.State() }

// Wait blocks until the task finishes or ctx is done.
func (h Handle) Wait(ctx context.Context) error {
	select {
	case <-h.task.done:
		return h.task.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

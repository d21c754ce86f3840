// Package queue is a durable job queue with per-job retry and completion
// callbacks. Delivery is at-least-once: a job interrupted by a crash is
// returned to the waiting list when the queue starts again.
package queue

import (
	"context"
	"time"
)

// State is where a job currently sits in the queue.
type State string

const (
	StateWaiting   State = "waiting"
	StateActive    State = "active"
	StateDelayed   State = "delayed"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// PendingStates are the states of a job that has not resolved yet.
var PendingStates = []State{StateWaiting, StateActive, StateDelayed}

// Job is one unit of queued work.
type Job struct {
	ID           string
	Name         string
	Data         []byte
	State        State
	Attempts     int // attempts made so far
	MaxAttempts  int
	Backoff      time.Duration
	Result       []byte
	FailedReason string
	CreatedAt    time.Time
}

// Options configure retries for an added job.
type Options struct {
	Attempts int
	Backoff  time.Duration // fixed delay between attempts
}

// Handler processes a job and returns an opaque result.
type Handler func(ctx context.Context, job *Job) ([]byte, error)

// CompletedListener is called once a job succeeds, after it left the active set.
type CompletedListener func(job *Job, result []byte)

// FailedListener is called once a job has exhausted its attempts or failed
// with a permanent error.
type FailedListener func(job *Job, err error)

// Queue is implemented by RedisQueue and MemoryQueue.
type Queue interface {
	Add(ctx context.Context, name string, data []byte, opts Options) (*Job, error)
	Process(handler Handler, concurrency int)
	OnCompleted(fn CompletedListener)
	OnFailed(fn FailedListener)
	Jobs(ctx context.Context, states ...State) ([]*Job, error)
	Start(ctx context.Context) error
	Shutdown(timeout time.Duration) error
}

type listeners struct {
	completed []CompletedListener
	failed    []FailedListener
}

func (l *listeners) fireCompleted(job *Job, result []byte) {
	for _, fn := range l.completed {
		fn(job, result)
	}
}

func (l *listeners) fireFailed(job *Job, err error) {
	for _, fn := range l.failed {
		fn(job, err)
	}
}

func normalizeOptions(opts Options) Options {
	if opts.Attempts < 1 {
		opts.Attempts = 1
	}
	if opts.Backoff < 0 {
		opts.Backoff = 0
	}
	return opts
}

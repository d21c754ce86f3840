package queue

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	domainerrors "github.com/rail-service/custody_service/internal/domain/errors"
)

// MemoryQueue is an in-process Queue with the same retry, listener and
// retention semantics as RedisQueue. Jobs are lost when the process exits.
type MemoryQueue struct {
	mu       sync.Mutex
	seq      int64
	jobs     map[string]*Job
	waiting  []string
	resolved []string // oldest first
	retain   int
	wake     chan struct{}

	jobTimeout  time.Duration
	handler     Handler
	concurrency int
	listeners   listeners
	logger      *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewMemoryQueue creates an empty in-memory queue.
func NewMemoryQueue(jobTimeout time.Duration, logger *zap.Logger) *MemoryQueue {
	return &MemoryQueue{
		jobs:       make(map[string]*Job),
		retain:     keepResolved,
		wake:       make(chan struct{}, 1),
		jobTimeout: jobTimeout,
		logger:     logger,
	}
}

func (q *MemoryQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *MemoryQueue) Add(ctx context.Context, name string, data []byte, opts Options) (*Job, error) {
	opts = normalizeOptions(opts)

	q.mu.Lock()
	q.seq++
	job := &Job{
		ID:          strconv.FormatInt(q.seq, 10),
		Name:        name,
		Data:        append([]byte(nil), data...),
		State:       StateWaiting,
		MaxAttempts: opts.Attempts,
		Backoff:     opts.Backoff,
		CreatedAt:   time.Now().UTC(),
	}
	q.jobs[job.ID] = job
	q.waiting = append(q.waiting, job.ID)
	snapshot := *job
	q.mu.Unlock()

	q.signal()
	return &snapshot, nil
}

func (q *MemoryQueue) Process(handler Handler, concurrency int) {
	if concurrency < 1 {
		concurrency = 1
	}
	q.handler = handler
	q.concurrency = concurrency
}

func (q *MemoryQueue) OnCompleted(fn CompletedListener) {
	q.listeners.completed = append(q.listeners.completed, fn)
}

func (q *MemoryQueue) OnFailed(fn FailedListener) {
	q.listeners.failed = append(q.listeners.failed, fn)
}

func (q *MemoryQueue) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())
	q.cancel = cancel

	if q.handler != nil {
		for i := 0; i < q.concurrency; i++ {
			q.wg.Add(1)
			go q.work(runCtx)
		}
	}
	return nil
}

// take moves the oldest waiting job to active.
func (q *MemoryQueue) take() *Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.waiting) == 0 {
		return nil
	}
	id := q.waiting[0]
	q.waiting = q.waiting[1:]

	job := q.jobs[id]
	job.State = StateActive
	job.Attempts++
	snapshot := *job
	return &snapshot
}

func (q *MemoryQueue) work(ctx context.Context) {
	defer q.wg.Done()

	for {
		job := q.take()
		if job == nil {
			select {
			case <-ctx.Done():
				return
			case <-q.wake:
				continue
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}
		// keep draining other waiters
		q.signal()
		q.run(ctx, job)
	}
}

func (q *MemoryQueue) run(ctx context.Context, job *Job) {
	jobCtx := context.WithoutCancel(ctx)
	if q.jobTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(jobCtx, q.jobTimeout)
		defer cancel()
	}

	result, err := q.safeHandle(jobCtx, job)

	q.mu.Lock()
	stored := q.jobs[job.ID]
	if err == nil {
		stored.State = StateCompleted
		stored.Result = result
		snapshot := *stored
		q.retire(stored.ID)
		q.mu.Unlock()

		q.listeners.fireCompleted(&snapshot, result)
		return
	}

	stored.FailedReason = err.Error()
	if stored.Attempts < stored.MaxAttempts && !domainerrors.IsPermanent(err) {
		stored.State = StateDelayed
		backoff := stored.Backoff
		q.mu.Unlock()

		q.logger.Warn("Job attempt failed, retrying",
			zap.String("job_id", job.ID),
			zap.String("name", job.Name),
			zap.Int("attempt", job.Attempts),
			zap.Error(err))

		time.AfterFunc(backoff, func() {
			q.mu.Lock()
			stored.State = StateWaiting
			q.waiting = append(q.waiting, stored.ID)
			q.mu.Unlock()
			q.signal()
		})
		return
	}

	stored.State = StateFailed
	snapshot := *stored
	q.retire(stored.ID)
	q.mu.Unlock()

	q.listeners.fireFailed(&snapshot, err)
}

// retire records a resolved job and forgets the oldest ones beyond the
// retention limit. Callers hold q.mu.
func (q *MemoryQueue) retire(id string) {
	q.resolved = append(q.resolved, id)
	for len(q.resolved) > q.retain {
		delete(q.jobs, q.resolved[0])
		q.resolved = q.resolved[1:]
	}
}

func (q *MemoryQueue) safeHandle(ctx context.Context, job *Job) (result []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return q.handler(ctx, job)
}

func (q *MemoryQueue) Jobs(ctx context.Context, states ...State) ([]*Job, error) {
	if len(states) == 0 {
		states = PendingStates
	}
	want := make(map[State]bool, len(states))
	for _, s := range states {
		want[s] = true
	}

	q.mu.Lock()
	out := make([]*Job, 0, len(q.jobs))
	for _, job := range q.jobs {
		if want[job.State] {
			snapshot := *job
			out = append(out, &snapshot)
		}
	}
	q.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		a, _ := strconv.ParseInt(out[i].ID, 10, 64)
		b, _ := strconv.ParseInt(out[j].ID, 10, 64)
		return a < b
	})
	return out, nil
}

func (q *MemoryQueue) Shutdown(timeout time.Duration) error {
	if q.cancel == nil {
		return nil
	}
	q.cancel()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("memory queue: workers did not stop within %s", timeout)
	}
}

package batch

import (
	"sync"

	"github.com/rail-service/custody_service/internal/domain/entities"
)

type batchState struct {
	sealed   bool
	expected int
	order    []string
	jobs     map[string]*entities.JobStatus
}

// Tracker holds in-flight batches in memory. A batch is settled once it has
// been sealed and every job enqueued under it resolved.
type Tracker struct {
	mu      sync.Mutex
	batches map[string]*batchState
}

// NewTracker creates an empty tracker
func NewTracker() *Tracker {
	return &Tracker{batches: make(map[string]*batchState)}
}

// Open starts tracking a batch.
func (t *Tracker) Open(batchID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.batches[batchID]; !ok {
		t.batches[batchID] = &batchState{jobs: make(map[string]*entities.JobStatus)}
	}
}

// Track records an enqueued job as pending. A job that already resolved keeps its outcome.
func (t *Tracker) Track(batchID string, status entities.JobStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()
	b, ok := t.batches[batchID]
	if !ok {
		return
	}
	if _, seen := b.jobs[status.JobID]; seen {
		return
	}
	status.Status = entities.JobStatePending
	b.put(status)
}

// Resolve records a job's outcome. It reports false for batches it does not track.
func (t *Tracker) Resolve(batchID string, status entities.JobStatus) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	b, ok := t.batches[batchID]
	if !ok {
		return false
	}
	if prev, seen := b.jobs[status.JobID]; seen {
		// keep the amount known at enqueue time when the outcome has none
		if status.Amount.IsZero() {
			status.Amount = prev.Amount
		}
		*prev = status
		return true
	}
	b.put(status)
	return true
}

// Seal marks that all expected jobs of the batch were enqueued.
func (t *Tracker) Seal(batchID string, expected int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if b, ok := t.batches[batchID]; ok {
		b.sealed = true
		b.expected = expected
	}
}

// Settled reports whether the batch is sealed and all of its jobs resolved.
func (t *Tracker) Settled(batchID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	b, ok := t.batches[batchID]
	return ok && b.settled()
}

// Take removes a settled batch and returns its jobs in enqueue order. Only
// one caller ever receives ok for a given batch.
func (t *Tracker) Take(batchID string) ([]entities.JobStatus, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	b, ok := t.batches[batchID]
	if !ok || !b.settled() {
		return nil, false
	}
	delete(t.batches, batchID)

	jobs := make([]entities.JobStatus, 0, len(b.order))
	for _, id := range b.order {
		jobs = append(jobs, *b.jobs[id])
	}
	return jobs, true
}

// Discard drops a batch without reporting it.
func (t *Tracker) Discard(batchID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.batches, batchID)
}

// Jobs returns a snapshot of a batch's jobs.
func (t *Tracker) Jobs(batchID string) []entities.JobStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	b, ok := t.batches[batchID]
	if !ok {
		return nil
	}
	jobs := make([]entities.JobStatus, 0, len(b.order))
	for _, id := range b.order {
		jobs = append(jobs, *b.jobs[id])
	}
	return jobs
}

// Len is the number of open batches.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.batches)
}

func (b *batchState) put(status entities.JobStatus) {
	s := status
	b.jobs[status.JobID] = &s
	b.order = append(b.order, status.JobID)
}

func (b *batchState) settled() bool {
	if !b.sealed || len(b.jobs) < b.expected {
		return false
	}
	for _, j := range b.jobs {
		if j.Status == entities.JobStatePending {
			return false
		}
	}
	return true
}

package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	domainerrors "github.com/rail-service/custody_service/internal/domain/errors"
)

const (
	keepResolved  = 1000
	promoteEvery  = 500 * time.Millisecond
	blockInterval = time.Second
)

// promoteScript moves due delayed jobs back to the waiting list.
var promoteScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, 100)
for _, id in ipairs(ids) do
	redis.call('ZREM', KEYS[1], id)
	redis.call('LPUSH', KEYS[2], id)
	redis.call('HSET', ARGV[2] .. id, 'state', 'waiting')
end
return #ids
`)

// trimScript caps a resolved list and deletes the hashes of the ids it drops.
var trimScript = redis.NewScript(`
local removed = 0
while redis.call('LLEN', KEYS[1]) > tonumber(ARGV[1]) do
	local id = redis.call('RPOP', KEYS[1])
	redis.call('DEL', ARGV[2] .. id)
	removed = removed + 1
end
return removed
`)

// RedisQueue keeps jobs in Redis lists:
//
//	{prefix}:waiting   LIST of ids, pushed left, taken right
//	{prefix}:active    LIST of ids being processed
//	{prefix}:delayed   ZSET of ids scored by retry time (unix ms)
//	{prefix}:completed and {prefix}:failed, capped LISTs
//	{prefix}:job:{id}  HASH with the job fields, deleted once trimmed off a capped list
type RedisQueue struct {
	rdb        *redis.Client
	prefix     string
	jobTimeout time.Duration
	retain     int
	logger     *zap.Logger

	handler     Handler
	concurrency int
	listeners   listeners

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRedisQueue creates a queue named name. Jobs that run longer than
// jobTimeout have their context cancelled.
func NewRedisQueue(rdb *redis.Client, name string, jobTimeout time.Duration, logger *zap.Logger) *RedisQueue {
	return &RedisQueue{
		rdb:        rdb,
		prefix:     "custody:queue:" + name,
		jobTimeout: jobTimeout,
		retain:     keepResolved,
		logger:     logger,
	}
}

func (q *RedisQueue) key(suffix string) string { return q.prefix + ":" + suffix }
func (q *RedisQueue) jobKey(id string) string  { return q.prefix + ":job:" + id }

// Add enqueues a job in the waiting state.
func (q *RedisQueue) Add(ctx context.Context, name string, data []byte, opts Options) (*Job, error) {
	opts = normalizeOptions(opts)

	seq, err := q.rdb.Incr(ctx, q.key("id")).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to allocate job id: %w", err)
	}

	job := &Job{
		ID:          strconv.FormatInt(seq, 10),
		Name:        name,
		Data:        data,
		State:       StateWaiting,
		MaxAttempts: opts.Attempts,
		Backoff:     opts.Backoff,
		CreatedAt:   time.Now().UTC(),
	}

	_, err = q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, q.jobKey(job.ID), map[string]interface{}{
			"name":         job.Name,
			"data":         job.Data,
			"state":        string(job.State),
			"attempts":     0,
			"max_attempts": job.MaxAttempts,
			"backoff_ms":   job.Backoff.Milliseconds(),
			"created_at":   job.CreatedAt.UnixMilli(),
		})
		pipe.LPush(ctx, q.key("waiting"), job.ID)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}

	return job, nil
}

// Process registers the handler. Call before Start.
func (q *RedisQueue) Process(handler Handler, concurrency int) {
	if concurrency < 1 {
		concurrency = 1
	}
	q.handler = handler
	q.concurrency = concurrency
}

// OnCompleted registers a completion listener. Call before Start.
func (q *RedisQueue) OnCompleted(fn CompletedListener) {
	q.listeners.completed = append(q.listeners.completed, fn)
}

// OnFailed registers a final failure listener. Call before Start.
func (q *RedisQueue) OnFailed(fn FailedListener) {
	q.listeners.failed = append(q.listeners.failed, fn)
}

// Start recovers jobs orphaned in the active list by a previous process and
// launches the workers and the delayed job promoter.
func (q *RedisQueue) Start(ctx context.Context) error {
	recovered := 0
	for {
		err := q.rdb.LMove(ctx, q.key("active"), q.key("waiting"), "RIGHT", "RIGHT").Err()
		if errors.Is(err, redis.Nil) {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to recover active jobs: %w", err)
		}
		recovered++
	}
	if recovered > 0 {
		q.logger.Warn("Recovered interrupted jobs", zap.Int("count", recovered))
	}

	runCtx, cancel := context.WithCancel(context.Background())
	q.cancel = cancel

	q.wg.Add(1)
	go q.promote(runCtx)

	if q.handler != nil {
		for i := 0; i < q.concurrency; i++ {
			q.wg.Add(1)
			go q.work(runCtx)
		}
	}

	q.logger.Info("Queue started", zap.String("queue", q.prefix), zap.Int("concurrency", q.concurrency))
	return nil
}

func (q *RedisQueue) promote(ctx context.Context) {
	defer q.wg.Done()
	ticker := time.NewTicker(promoteEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := strconv.FormatInt(time.Now().UnixMilli(), 10)
			if err := promoteScript.Run(ctx, q.rdb,
				[]string{q.key("delayed"), q.key("waiting")}, now, q.prefix+":job:").Err(); err != nil && !errors.Is(err, context.Canceled) {
				q.logger.Warn("Failed to promote delayed jobs", zap.Error(err))
			}
		}
	}
}

func (q *RedisQueue) work(ctx context.Context) {
	defer q.wg.Done()

	for {
		if ctx.Err() != nil {
			return
		}

		id, err := q.rdb.BLMove(ctx, q.key("waiting"), q.key("active"), "RIGHT", "LEFT", blockInterval).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			q.logger.Warn("Failed to take job", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		q.run(ctx, id)
	}
}

func (q *RedisQueue) run(ctx context.Context, id string) {
	// bookkeeping must finish even while shutting down
	bg := context.WithoutCancel(ctx)

	job, err := q.load(bg, id)
	if err != nil {
		q.logger.Error("Dropping unreadable job", zap.String("job_id", id), zap.Error(err))
		q.rdb.LRem(bg, q.key("active"), 1, id)
		return
	}

	attempts, err := q.rdb.HIncrBy(bg, q.jobKey(id), "attempts", 1).Result()
	if err != nil {
		q.logger.Error("Failed to record attempt", zap.String("job_id", id), zap.Error(err))
	}
	job.Attempts = int(attempts)
	job.State = StateActive
	q.rdb.HSet(bg, q.jobKey(id), "state", string(StateActive))

	jobCtx := bg
	if q.jobTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(bg, q.jobTimeout)
		defer cancel()
	}

	result, handlerErr := q.safeHandle(jobCtx, job)
	if handlerErr == nil {
		q.complete(bg, job, result)
		return
	}
	q.fail(bg, job, handlerErr)
}

func (q *RedisQueue) safeHandle(ctx context.Context, job *Job) (result []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return q.handler(ctx, job)
}

func (q *RedisQueue) complete(ctx context.Context, job *Job, result []byte) {
	_, err := q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, q.key("active"), 1, job.ID)
		pipe.HSet(ctx, q.jobKey(job.ID), "state", string(StateCompleted), "result", result)
		pipe.LPush(ctx, q.key("completed"), job.ID)
		return nil
	})
	if err != nil {
		q.logger.Error("Failed to mark job completed", zap.String("job_id", job.ID), zap.Error(err))
	}
	q.trim(ctx, StateCompleted)

	job.State = StateCompleted
	job.Result = result
	q.listeners.fireCompleted(job, result)
}

func (q *RedisQueue) fail(ctx context.Context, job *Job, cause error) {
	job.FailedReason = cause.Error()

	if job.Attempts < job.MaxAttempts && !domainerrors.IsPermanent(cause) {
		due := time.Now().Add(job.Backoff).UnixMilli()
		_, err := q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, q.jobKey(job.ID), "state", string(StateDelayed), "failed_reason", job.FailedReason)
			pipe.ZAdd(ctx, q.key("delayed"), redis.Z{Score: float64(due), Member: job.ID})
			pipe.LRem(ctx, q.key("active"), 1, job.ID)
			return nil
		})
		if err != nil {
			q.logger.Error("Failed to schedule retry", zap.String("job_id", job.ID), zap.Error(err))
		}
		q.logger.Warn("Job attempt failed, retrying",
			zap.String("job_id", job.ID),
			zap.String("name", job.Name),
			zap.Int("attempt", job.Attempts),
			zap.Int("max_attempts", job.MaxAttempts),
			zap.Error(cause))
		return
	}

	_, err := q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, q.key("active"), 1, job.ID)
		pipe.HSet(ctx, q.jobKey(job.ID), "state", string(StateFailed), "failed_reason", job.FailedReason)
		pipe.LPush(ctx, q.key("failed"), job.ID)
		return nil
	})
	if err != nil {
		q.logger.Error("Failed to mark job failed", zap.String("job_id", job.ID), zap.Error(err))
	}
	q.trim(ctx, StateFailed)

	job.State = StateFailed
	q.listeners.fireFailed(job, cause)
}

// trim drops the oldest resolved jobs beyond the retention limit.
func (q *RedisQueue) trim(ctx context.Context, state State) {
	err := trimScript.Run(ctx, q.rdb, []string{q.key(string(state))}, q.retain, q.prefix+":job:").Err()
	if err != nil {
		q.logger.Warn("Failed to trim resolved jobs", zap.String("state", string(state)), zap.Error(err))
	}
}

func (q *RedisQueue) load(ctx context.Context, id string) (*Job, error) {
	fields, err := q.rdb.HGetAll(ctx, q.jobKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load job %s: %w", id, err)
	}
	if len(fields) == 0 {
		return nil, domainerrors.NotFoundError("job " + id)
	}
	return decodeJob(id, fields), nil
}

func decodeJob(id string, fields map[string]string) *Job {
	atoi := func(key string) int64 {
		v, _ := strconv.ParseInt(fields[key], 10, 64)
		return v
	}
	job := &Job{
		ID:           id,
		Name:         fields["name"],
		Data:         []byte(fields["data"]),
		State:        State(fields["state"]),
		Attempts:     int(atoi("attempts")),
		MaxAttempts:  int(atoi("max_attempts")),
		Backoff:      time.Duration(atoi("backoff_ms")) * time.Millisecond,
		FailedReason: fields["failed_reason"],
		CreatedAt:    time.UnixMilli(atoi("created_at")).UTC(),
	}
	if r, ok := fields["result"]; ok {
		job.Result = []byte(r)
	}
	return job
}

// Jobs lists jobs in the given states, or in every pending state when none are given.
func (q *RedisQueue) Jobs(ctx context.Context, states ...State) ([]*Job, error) {
	if len(states) == 0 {
		states = PendingStates
	}

	var ids []string
	for _, state := range states {
		var (
			batch []string
			err   error
		)
		switch state {
		case StateDelayed:
			batch, err = q.rdb.ZRange(ctx, q.key("delayed"), 0, -1).Result()
		case StateWaiting, StateActive, StateCompleted, StateFailed:
			batch, err = q.rdb.LRange(ctx, q.key(string(state)), 0, -1).Result()
		default:
			return nil, fmt.Errorf("unknown job state %q", state)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list %s jobs: %w", state, err)
		}
		ids = append(ids, batch...)
	}
	if len(ids) == 0 {
		return []*Job{}, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err := q.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, q.jobKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load jobs: %w", err)
	}

	jobs := make([]*Job, 0, len(ids))
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		jobs = append(jobs, decodeJob(ids[i], fields))
	}
	return jobs, nil
}

// Shutdown stops taking new jobs and waits for in-flight ones up to timeout.
func (q *RedisQueue) Shutdown(timeout time.Duration) error {
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
		q.logger.Info("Queue stopped", zap.String("queue", q.prefix))
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("queue %s: workers did not stop within %s", q.prefix, timeout)
	}
}

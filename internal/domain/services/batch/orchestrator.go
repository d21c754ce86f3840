package batch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rail-service/custody_service/internal/domain/entities"
	"github.com/rail-service/custody_service/internal/infrastructure/queue"
	"github.com/rail-service/custody_service/pkg/metrics"
)

const (
	// listenerTimeout bounds the queue check and summary delivery run from a queue listener.
	listenerTimeout = time.Minute
	summaryAttempts = 3
)

// Planner gathers and evaluates the addresses of one cycle.
type Planner interface {
	Plan(ctx context.Context) (*entities.CyclePlan, error)
}

// SummarySender delivers the administrator summary of a finished batch.
type SummarySender interface {
	SendCycleSummary(ctx context.Context, summary *entities.CycleSummary) error
}

// Config captures runtime configuration for the orchestrator
type Config struct {
	Attempts    int
	Backoff     time.Duration
	TokenSymbol string
	// SummaryRetry spaces attempts to deliver a batch summary.
	SummaryRetry time.Duration
}

// Orchestrator enqueues one job per transfer of a cycle and reports the batch
// once every job resolved.
type Orchestrator struct {
	planner  Planner
	queue    queue.Queue
	tracker  *Tracker
	notifier SummarySender
	config   Config
	logger   *zap.Logger
}

// NewOrchestrator creates an orchestrator and subscribes it to queue outcomes.
func NewOrchestrator(planner Planner, q queue.Queue, tracker *Tracker, notifier SummarySender, cfg Config, logger *zap.Logger) *Orchestrator {
	o := &Orchestrator{
		planner:  planner,
		queue:    q,
		tracker:  tracker,
		notifier: notifier,
		config:   cfg,
		logger:   logger,
	}
	q.OnCompleted(o.handleCompleted)
	q.OnFailed(o.handleFailed)
	return o
}

// StartCycle plans a cycle, enqueues a fund job per need and a withdraw job per
// eligible address, and returns without waiting for them.
func (o *Orchestrator) StartCycle(ctx context.Context) (*entities.StartResult, error) {
	plan, err := o.planner.Plan(ctx)
	if err != nil {
		return nil, err
	}

	queued, err := o.queuedAddresses(ctx)
	if err != nil {
		return nil, err
	}

	batchID := uuid.New().String()
	o.tracker.Open(batchID)
	opts := queue.Options{Attempts: o.config.Attempts, Backoff: o.config.Backoff}
	count := 0

	for _, address := range plan.Evaluation.NeedAddresses() {
		if queued[strings.ToLower(address)] {
			o.logger.Info("Skipping address with queued job", zap.String("address", address))
			continue
		}
		amount := plan.Evaluation.Needs[address]
		job := entities.FundJob{Address: address, Amount: amount, BatchID: batchID}
		if o.enqueue(ctx, batchID, job, entities.ToDecimal(amount, entities.NativeDecimals), opts) {
			count++
		}
	}

	for _, address := range plan.Evaluation.Eligible {
		if queued[strings.ToLower(address)] {
			o.logger.Info("Skipping address with queued job", zap.String("address", address))
			continue
		}
		job := entities.WithdrawJob{Address: address, BatchID: batchID}
		if o.enqueue(ctx, batchID, job, decimal.Zero, opts) {
			count++
		}
	}

	if count == 0 {
		o.tracker.Discard(batchID)
		return &entities.StartResult{
			BatchID:  batchID,
			JobCount: 0,
			Message:  "No wallets eligible for withdrawal",
		}, nil
	}

	o.tracker.Seal(batchID, count)
	metrics.OpenBatchesGauge.Set(float64(o.tracker.Len()))

	o.logger.Info("Withdrawal batch queued",
		zap.String("batch_id", batchID),
		zap.Int("jobs", count))

	// jobs may all have resolved before the batch was sealed
	o.finish(ctx, batchID)

	return &entities.StartResult{
		BatchID:  batchID,
		JobCount: count,
		Message:  fmt.Sprintf("Withdrawal batch %s queued %d jobs. A summary will be emailed on completion.", batchID, count),
	}, nil
}

func (o *Orchestrator) enqueue(ctx context.Context, batchID string, job entities.Job, amount decimal.Decimal, opts queue.Options) bool {
	data, err := entities.EncodeJob(job)
	if err != nil {
		o.logger.Error("Failed to encode job", zap.String("address", job.TargetAddress()), zap.Error(err))
		return false
	}
	queuedJob, err := o.queue.Add(ctx, string(job.Kind()), data, opts)
	if err != nil {
		o.logger.Error("Failed to enqueue job",
			zap.String("batch_id", batchID),
			zap.String("kind", string(job.Kind())),
			zap.String("address", job.TargetAddress()),
			zap.Error(err))
		return false
	}
	o.tracker.Track(batchID, entities.JobStatus{
		JobID:   queuedJob.ID,
		Address: job.TargetAddress(),
		Kind:    job.Kind(),
		Amount:  amount,
	})
	return true
}

// IsAddressQueued reports whether a waiting or active job targets address.
func (o *Orchestrator) IsAddressQueued(ctx context.Context, address string) (bool, error) {
	jobs, err := o.queue.Jobs(ctx, queue.StateWaiting, queue.StateActive)
	if err != nil {
		return false, fmt.Errorf("failed to list queued jobs: %w", err)
	}
	for _, job := range jobs {
		if target, _ := entities.PeekJob(job.Data); strings.EqualFold(target, address) {
			return true, nil
		}
	}
	return false, nil
}

func (o *Orchestrator) queuedAddresses(ctx context.Context) (map[string]bool, error) {
	jobs, err := o.queue.Jobs(ctx, queue.StateWaiting, queue.StateActive)
	if err != nil {
		return nil, fmt.Errorf("failed to list queued jobs: %w", err)
	}
	out := make(map[string]bool, len(jobs))
	for _, job := range jobs {
		if target, _ := entities.PeekJob(job.Data); target != "" {
			out[strings.ToLower(target)] = true
		}
	}
	return out, nil
}

func (o *Orchestrator) handleCompleted(job *queue.Job, result []byte) {
	status := statusFromJob(job)
	status.Status = entities.JobStateCompleted

	var outcome entities.JobOutcome
	if len(result) > 0 {
		if err := json.Unmarshal(result, &outcome); err != nil {
			o.logger.Warn("Unreadable job result", zap.String("job_id", job.ID), zap.Error(err))
		}
	}
	status.TxHash = outcome.TxHash
	if !outcome.Amount.IsZero() {
		status.Amount = outcome.Amount
	}
	if outcome.Skipped {
		status.Error = outcome.Reason
	}

	o.resolve(job, status)
}

func (o *Orchestrator) handleFailed(job *queue.Job, err error) {
	status := statusFromJob(job)
	status.Status = entities.JobStateFailed
	status.Error = err.Error()
	o.resolve(job, status)
}

func (o *Orchestrator) resolve(job *queue.Job, status entities.JobStatus) {
	_, batchID := entities.PeekJob(job.Data)
	if batchID == "" {
		return
	}
	if !o.tracker.Resolve(batchID, status) {
		o.logger.Debug("Job outcome for untracked batch",
			zap.String("batch_id", batchID),
			zap.String("job_id", job.ID))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), listenerTimeout)
	defer cancel()
	o.finish(ctx, batchID)
}

// finish sends the batch summary once the batch is settled and the queue holds
// no pending job for it. Take guarantees a single sender.
func (o *Orchestrator) finish(ctx context.Context, batchID string) {
	if !o.tracker.Settled(batchID) {
		return
	}

	pending, err := o.queue.Jobs(ctx, queue.PendingStates...)
	if err != nil {
		o.logger.Error("Failed to check pending jobs", zap.String("batch_id", batchID), zap.Error(err))
		return
	}
	for _, job := range pending {
		if _, id := entities.PeekJob(job.Data); id == batchID {
			return
		}
	}

	jobs, ok := o.tracker.Take(batchID)
	if !ok {
		return
	}
	metrics.OpenBatchesGauge.Set(float64(o.tracker.Len()))

	summary := entities.SummaryFromJobs(batchID, o.config.TokenSymbol, jobs)
	if err := o.sendSummary(ctx, summary); err != nil {
		// the batch is already taken, the log keeps the summary
		o.logger.Error("Failed to send batch summary",
			zap.String("batch_id", batchID),
			zap.Any("summary", summary),
			zap.Error(err))
		return
	}

	o.logger.Info("Withdrawal batch completed",
		zap.String("batch_id", batchID),
		zap.Int("jobs", len(jobs)),
		zap.Int("wallets", summary.TotalWallets))
}

func (o *Orchestrator) sendSummary(ctx context.Context, summary *entities.CycleSummary) error {
	var err error
	for attempt := 1; attempt <= summaryAttempts; attempt++ {
		if err = o.notifier.SendCycleSummary(ctx, summary); err == nil {
			return nil
		}
		if attempt == summaryAttempts {
			break
		}
		o.logger.Warn("Batch summary delivery failed, retrying",
			zap.String("batch_id", summary.BatchID),
			zap.Int("attempt", attempt),
			zap.Error(err))

		t := time.NewTimer(o.config.SummaryRetry)
		select {
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("%w (gave up: %v)", err, ctx.Err())
		case <-t.C:
		}
	}
	return err
}

// statusFromJob reads the tracked fields carried by the queued payload.
func statusFromJob(job *queue.Job) entities.JobStatus {
	address, _ := entities.PeekJob(job.Data)
	status := entities.JobStatus{
		JobID:   job.ID,
		Address: address,
		Kind:    entities.JobKind(job.Name),
		Amount:  decimal.Zero,
	}
	if decoded, err := entities.DecodeJob(job.Data); err == nil {
		if fund, ok := decoded.(entities.FundJob); ok {
			status.Amount = entities.ToDecimal(fund.Amount, entities.NativeDecimals)
		}
	}
	return status
}

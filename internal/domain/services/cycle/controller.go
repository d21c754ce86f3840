package cycle

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rail-service/custody_service/internal/domain/entities"
	domainerrors "github.com/rail-service/custody_service/internal/domain/errors"
	"github.com/rail-service/custody_service/internal/domain/services/executor"
	"github.com/rail-service/custody_service/internal/infrastructure/chain"
	"github.com/rail-service/custody_service/pkg/metrics"
)

// ErrCycleRunning is returned when a cycle is triggered while another one runs.
var ErrCycleRunning = domainerrors.ConflictError("withdrawal_cycle", "a withdrawal cycle is already running")

// Planner gathers and evaluates the addresses of one cycle.
type Planner interface {
	Plan(ctx context.Context) (*entities.CyclePlan, error)
}

// Executor performs single transfers.
type Executor interface {
	FundWallet(ctx context.Context, address string, amount *big.Int, signer chain.Signer) (*entities.FundResult, error)
	WithdrawFromWallet(ctx context.Context, address string) (*entities.WithdrawResult, error)
	MasterSigner() chain.Signer
}

// BatchStarter enqueues a queued cycle.
type BatchStarter interface {
	StartCycle(ctx context.Context) (*entities.StartResult, error)
}

// SummarySender delivers the administrator summary of a cycle.
type SummarySender interface {
	SendCycleSummary(ctx context.Context, summary *entities.CycleSummary) error
}

// Config captures runtime configuration for the controller
type Config struct {
	TransferDelay time.Duration
	TokenSymbol   string
	TokenDecimals int32
}

// Controller runs withdrawal cycles. Only one cycle runs at a time regardless
// of whether the scheduler or an operator triggered it.
type Controller struct {
	planner  Planner
	executor Executor
	batches  BatchStarter
	notifier SummarySender
	config   Config
	logger   *zap.Logger

	running sync.Mutex
}

// NewController creates a new cycle controller
func NewController(planner Planner, exec Executor, batches BatchStarter, notifier SummarySender, cfg Config, logger *zap.Logger) *Controller {
	return &Controller{
		planner:  planner,
		executor: exec,
		batches:  batches,
		notifier: notifier,
		config:   cfg,
		logger:   logger,
	}
}

// Run executes one cycle in the given mode. A concurrent call returns ErrCycleRunning.
func (c *Controller) Run(ctx context.Context, mode entities.CycleMode) (*entities.CycleReport, error) {
	if !mode.IsValid() {
		return nil, domainerrors.ValidationError("mode", fmt.Sprintf("unknown cycle mode %q", mode))
	}
	if !c.running.TryLock() {
		return nil, ErrCycleRunning
	}
	defer c.running.Unlock()

	start := time.Now()
	defer func() {
		metrics.CycleDuration.WithLabelValues(string(mode)).Observe(time.Since(start).Seconds())
	}()

	c.logger.Info("Withdrawal cycle started", zap.String("mode", string(mode)))

	if mode == entities.CycleModeQueued {
		result, err := c.batches.StartCycle(ctx)
		if err != nil {
			return nil, err
		}
		return &entities.CycleReport{
			Mode:       mode,
			Batch:      result,
			StartedAt:  start,
			FinishedAt: time.Now(),
		}, nil
	}

	return c.runSynchronous(ctx, start)
}

func (c *Controller) runSynchronous(ctx context.Context, start time.Time) (*entities.CycleReport, error) {
	plan, err := c.planner.Plan(ctx)
	if err != nil {
		return nil, err
	}

	runID := uuid.New().String()
	runCtx := executor.WithBatch(ctx, runID)
	report := &entities.CycleReport{
		Mode:        entities.CycleModeSynchronous,
		Wallets:     len(plan.Addresses),
		Funding:     entities.NewTransferReport(),
		Withdrawals: entities.NewTransferReport(),
		StartedAt:   start,
	}
	var jobs []entities.JobStatus
	transfers := 0

	master := c.executor.MasterSigner()
	for _, address := range plan.Evaluation.NeedAddresses() {
		if err := c.pace(runCtx, &transfers); err != nil {
			return c.abort(report, err)
		}
		amount := plan.Evaluation.Needs[address]
		status := entities.JobStatus{
			Address: address,
			Kind:    entities.JobKindFund,
			Amount:  entities.ToDecimal(amount, entities.NativeDecimals),
		}

		result, err := c.executor.FundWallet(runCtx, address, amount, master)
		switch {
		case err != nil:
			c.logger.Error("Funding failed", zap.String("address", address), zap.Error(err))
			report.Funding.FailedAddresses = append(report.Funding.FailedAddresses, address)
			status.Status = entities.JobStateFailed
			status.Error = err.Error()
		case result == nil:
			report.Funding.FailedAddresses = append(report.Funding.FailedAddresses, address)
			status.Status = entities.JobStateFailed
			status.Error = "signer balance too low"
		default:
			report.Funding.TxIDs = append(report.Funding.TxIDs, result.TxHash)
			status.Status = entities.JobStateCompleted
			status.TxHash = result.TxHash
		}
		jobs = append(jobs, status)
	}

	for _, address := range plan.Evaluation.Eligible {
		if err := c.pace(runCtx, &transfers); err != nil {
			return c.abort(report, err)
		}
		status := entities.JobStatus{
			Address: address,
			Kind:    entities.JobKindWithdraw,
			Amount:  decimal.Zero,
		}

		result, err := c.executor.WithdrawFromWallet(runCtx, address)
		switch {
		case err != nil:
			c.logger.Error("Withdrawal failed", zap.String("address", address), zap.Error(err))
			report.Withdrawals.FailedAddresses = append(report.Withdrawals.FailedAddresses, address)
			status.Status = entities.JobStateFailed
			status.Error = err.Error()
		case result == nil:
			status.Status = entities.JobStateCompleted
			status.Error = "nothing to withdraw"
		default:
			report.Withdrawals.TxIDs = append(report.Withdrawals.TxIDs, result.TxHash)
			status.Status = entities.JobStateCompleted
			status.TxHash = result.TxHash
			status.Amount = entities.ToDecimal(result.Amount, c.config.TokenDecimals)
		}
		jobs = append(jobs, status)
	}

	report.FinishedAt = time.Now()
	c.logger.Info("Withdrawal cycle finished",
		zap.String("run_id", runID),
		zap.Int("funded", len(report.Funding.TxIDs)),
		zap.Int("funding_failed", len(report.Funding.FailedAddresses)),
		zap.Int("withdrawn", len(report.Withdrawals.TxIDs)),
		zap.Int("withdrawal_failed", len(report.Withdrawals.FailedAddresses)),
		zap.Duration("duration", report.FinishedAt.Sub(start)))

	if len(jobs) > 0 {
		summary := entities.SummaryFromJobs(runID, c.config.TokenSymbol, jobs)
		if err := c.notifier.SendCycleSummary(ctx, summary); err != nil {
			c.logger.Error("Failed to send cycle summary", zap.String("run_id", runID), zap.Error(err))
		}
	}

	return report, nil
}

// pace waits the transfer delay before every transfer but the first.
func (c *Controller) pace(ctx context.Context, transfers *int) error {
	defer func() { *transfers++ }()
	if *transfers == 0 {
		return ctx.Err()
	}
	return executor.Pause(ctx, c.config.TransferDelay)
}

func (c *Controller) abort(report *entities.CycleReport, err error) (*entities.CycleReport, error) {
	report.FinishedAt = time.Now()
	c.logger.Warn("Withdrawal cycle interrupted", zap.Error(err))
	return report, err
}

package withdrawal_jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/rail-service/custody_service/internal/domain/entities"
	domainerrors "github.com/rail-service/custody_service/internal/domain/errors"
	"github.com/rail-service/custody_service/internal/domain/services/executor"
	"github.com/rail-service/custody_service/internal/infrastructure/chain"
	"github.com/rail-service/custody_service/internal/infrastructure/queue"
	"github.com/rail-service/custody_service/pkg/logger"
)

// Executor performs the transfer behind a queued job.
type Executor interface {
	FundWallet(ctx context.Context, address string, amount *big.Int, signer chain.Signer) (*entities.FundResult, error)
	WithdrawFromWallet(ctx context.Context, address string) (*entities.WithdrawResult, error)
	MasterSigner() chain.Signer
}

// Config holds configuration for the job consumer
type Config struct {
	Concurrency     int
	TokenDecimals   int32
	ShutdownTimeout time.Duration
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		Concurrency:     1,
		TokenDecimals:   6,
		ShutdownTimeout: 30 * time.Second,
	}
}

// Worker consumes fund and withdraw jobs from the custody queue
type Worker struct {
	config   Config
	queue    queue.Queue
	executor Executor
	logger   *logger.Logger

	processedCounter  metric.Int64Counter
	durationHistogram metric.Float64Histogram
}

// NewWorker creates a new job consumer
func NewWorker(exec Executor, q queue.Queue, config Config, log *logger.Logger) (*Worker, error) {
	if config.Concurrency < 1 {
		config.Concurrency = 1
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = DefaultConfig().ShutdownTimeout
	}

	meter := otel.Meter("custody-job-worker")

	processedCounter, err := meter.Int64Counter(
		"custody.jobs.processed.total",
		metric.WithDescription("Total number of custody jobs processed"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create processed counter: %w", err)
	}

	durationHistogram, err := meter.Float64Histogram(
		"custody.jobs.duration.seconds",
		metric.WithDescription("Custody job processing duration in seconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create duration histogram: %w", err)
	}

	return &Worker{
		config:            config,
		queue:             q,
		executor:          exec,
		logger:            log,
		processedCounter:  processedCounter,
		durationHistogram: durationHistogram,
	}, nil
}

// Start registers the handler and begins consuming
func (w *Worker) Start(ctx context.Context) error {
	w.queue.Process(w.Handle, w.config.Concurrency)
	if err := w.queue.Start(ctx); err != nil {
		return fmt.Errorf("failed to start job queue: %w", err)
	}
	w.logger.Info("Custody job worker started", "concurrency", w.config.Concurrency)
	return nil
}

// Shutdown waits for in-flight jobs to finish
func (w *Worker) Shutdown() error {
	w.logger.Info("Shutting down custody job worker")
	if err := w.queue.Shutdown(w.config.ShutdownTimeout); err != nil {
		return fmt.Errorf("job worker shutdown: %w", err)
	}
	w.logger.Info("Custody job worker shutdown complete")
	return nil
}

// Handle executes one queued job and returns its encoded outcome. The queue
// retries a returned error unless it is a permanent DomainError.
func (w *Worker) Handle(ctx context.Context, job *queue.Job) ([]byte, error) {
	start := time.Now()
	decoded, err := entities.DecodeJob(job.Data)
	if err != nil {
		w.record(ctx, job.Name, "invalid", start)
		return nil, domainerrors.ValidationError("data", "undecodable custody job: "+err.Error())
	}

	log := w.logger.With("job_id", job.ID, "kind", string(decoded.Kind()), "address", decoded.TargetAddress(), "attempt", job.Attempts)
	ctx = executor.WithBatch(ctx, decoded.Batch())

	var outcome entities.JobOutcome
	switch j := decoded.(type) {
	case entities.FundJob:
		res, err := w.executor.FundWallet(ctx, j.Address, j.Amount, w.executor.MasterSigner())
		if err != nil {
			log.Warn("Fund job failed", "error", err)
			w.record(ctx, job.Name, "error", start)
			return nil, err
		}
		if res == nil {
			outcome = entities.JobOutcome{Skipped: true, Reason: "master signer balance too low"}
			break
		}
		outcome = entities.JobOutcome{TxHash: res.TxHash, Amount: entities.ToDecimal(res.Amount, entities.NativeDecimals)}
	case entities.WithdrawJob:
		res, err := w.executor.WithdrawFromWallet(ctx, j.Address)
		if err != nil {
			log.Warn("Withdraw job failed", "error", err)
			w.record(ctx, job.Name, "error", start)
			return nil, err
		}
		if res == nil {
			outcome = entities.JobOutcome{Skipped: true, Reason: "nothing to withdraw or not enough gas"}
			break
		}
		outcome = entities.JobOutcome{TxHash: res.TxHash, Amount: entities.ToDecimal(res.Amount, w.config.TokenDecimals)}
	default:
		w.record(ctx, job.Name, "invalid", start)
		return nil, domainerrors.ValidationError("kind", fmt.Sprintf("unsupported custody job %T", decoded))
	}

	status := "completed"
	if outcome.Skipped {
		status = "skipped"
	}
	w.record(ctx, job.Name, status, start)
	log.Info("Custody job processed", "status", status, "tx_hash", outcome.TxHash)

	return json.Marshal(outcome)
}

func (w *Worker) record(ctx context.Context, kind, status string, start time.Time) {
	attrs := metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("status", status),
	)
	w.processedCounter.Add(ctx, 1, attrs)
	w.durationHistogram.Record(ctx, time.Since(start).Seconds(), attrs)
}

package withdrawal_cycle

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/rail-service/custody_service/internal/domain/entities"
	"github.com/rail-service/custody_service/internal/domain/services/cycle"
)

// DefaultSchedule runs at minute 5 and then every 20 minutes of each hour.
const DefaultSchedule = "0 5/20 * * * *"

// CycleRunner runs one withdrawal cycle.
type CycleRunner interface {
	Run(ctx context.Context, mode entities.CycleMode) (*entities.CycleReport, error)
}

// Config holds configuration for the scheduled cycle
type Config struct {
	Enabled  bool
	Schedule string // six fields, seconds first
	Mode     entities.CycleMode
	Timeout  time.Duration
}

type Worker struct {
	runner CycleRunner
	config Config
	cron   *cron.Cron
	logger *zap.Logger
}

func NewWorker(runner CycleRunner, config Config, logger *zap.Logger) *Worker {
	if config.Schedule == "" {
		config.Schedule = DefaultSchedule
	}
	if !config.Mode.IsValid() {
		config.Mode = entities.CycleModeQueued
	}
	if config.Timeout <= 0 {
		config.Timeout = 15 * time.Minute
	}
	return &Worker{
		runner: runner,
		config: config,
		cron:   cron.New(cron.WithSeconds()),
		logger: logger,
	}
}

func (w *Worker) Start() error {
	if !w.config.Enabled {
		w.logger.Info("Scheduled withdrawal cycle disabled")
		return nil
	}

	if _, err := w.cron.AddFunc(w.config.Schedule, w.runOnce); err != nil {
		return err
	}

	w.cron.Start()
	w.logger.Info("Withdrawal cycle scheduler started",
		zap.String("schedule", w.config.Schedule),
		zap.String("mode", string(w.config.Mode)))
	return nil
}

// Stop halts the scheduler and waits for a running cycle to return.
func (w *Worker) Stop() {
	<-w.cron.Stop().Done()
	w.logger.Info("Withdrawal cycle scheduler stopped")
}

func (w *Worker) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), w.config.Timeout)
	defer cancel()

	report, err := w.runner.Run(ctx, w.config.Mode)
	if errors.Is(err, cycle.ErrCycleRunning) {
		w.logger.Info("Previous withdrawal cycle still running, skipping tick")
		return
	}
	if err != nil {
		w.logger.Error("Scheduled withdrawal cycle failed", zap.Error(err))
		return
	}

	fields := []zap.Field{zap.String("mode", string(report.Mode))}
	if report.Batch != nil {
		fields = append(fields,
			zap.String("batch_id", report.Batch.BatchID),
			zap.Int("jobs", report.Batch.JobCount))
	} else {
		fields = append(fields,
			zap.Int("wallets", report.Wallets),
			zap.Int("withdrawals", len(report.Withdrawals.TxIDs)))
	}
	w.logger.Info("Scheduled withdrawal cycle finished", fields...)
}

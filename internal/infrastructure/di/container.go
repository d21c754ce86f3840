package di

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/rail-service/custody_service/internal/api/handlers"
	"github.com/rail-service/custody_service/internal/domain/entities"
	"github.com/rail-service/custody_service/internal/domain/services/batch"
	"github.com/rail-service/custody_service/internal/domain/services/cycle"
	"github.com/rail-service/custody_service/internal/domain/services/eligibility"
	"github.com/rail-service/custody_service/internal/domain/services/executor"
	"github.com/rail-service/custody_service/internal/domain/services/keys"
	"github.com/rail-service/custody_service/internal/domain/services/notification"
	"github.com/rail-service/custody_service/internal/domain/services/wallet"
	"github.com/rail-service/custody_service/internal/infrastructure/adapters"
	"github.com/rail-service/custody_service/internal/infrastructure/cache"
	"github.com/rail-service/custody_service/internal/infrastructure/chain"
	"github.com/rail-service/custody_service/internal/infrastructure/config"
	"github.com/rail-service/custody_service/internal/infrastructure/database"
	"github.com/rail-service/custody_service/internal/infrastructure/queue"
	"github.com/rail-service/custody_service/internal/infrastructure/repositories"
	"github.com/rail-service/custody_service/internal/workers/withdrawal_cycle"
	"github.com/rail-service/custody_service/internal/workers/withdrawal_jobs"
	"github.com/rail-service/custody_service/pkg/logger"
)

const queueBackendMemory = "memory"

// Container holds all application dependencies
type Container struct {
	Config *config.Config
	DB     *sqlx.DB
	Redis  *redis.Client
	Chain  *chain.Client
	Logger *logger.Logger
	ZapLog *zap.Logger

	// Repositories
	WalletRepo     *repositories.WalletRepository
	DepositRepo    *repositories.DepositRepository
	WithdrawalRepo *repositories.WithdrawalRepository
	FundingRepo    *repositories.FundingRepository

	// Key material
	Deriver *keys.Deriver
	Sealer  *keys.Sealer

	// Services
	EmailService        *adapters.EmailService
	NotificationService *notification.Service
	EligibilityService  *eligibility.Service
	Planner             *eligibility.Planner
	ExecutorService     *executor.Service
	WalletService       *wallet.Service
	Queue               queue.Queue
	BatchTracker        *batch.Tracker
	BatchOrchestrator   *batch.Orchestrator
	CycleController     *cycle.Controller

	// Workers
	JobWorker   *withdrawal_jobs.Worker
	CycleWorker *withdrawal_cycle.Worker
}

// NewContainer creates a new dependency injection container
func NewContainer(ctx context.Context, cfg *config.Config, db *sqlx.DB, log *logger.Logger) (*Container, error) {
	zapLog := log.Zap()

	deriver, err := keys.LoadDeriver(cfg.Custody)
	if err != nil {
		return nil, fmt.Errorf("failed to load master key: %w", err)
	}
	sealer := keys.NewSealer(cfg.Custody.WalletKeySecret)

	chainClient, err := chain.Connect(ctx, cfg.Chain, zapLog)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to chain: %w", err)
	}

	// Initialize repositories
	walletRepo := repositories.NewWalletRepository(db, zapLog)
	depositRepo := repositories.NewDepositRepository(db)
	withdrawalRepo := repositories.NewWithdrawalRepository(db)
	fundingRepo := repositories.NewFundingRepository(db)

	policy := entities.DefaultGasPolicy().WithMaxGasPriceGwei(cfg.Chain.MaxGasPriceGwei)
	settlement := common.HexToAddress(cfg.Chain.SettlementAddress)
	addressDelay := time.Duration(cfg.Withdrawal.AddressDelayMS) * time.Millisecond
	transferDelay := time.Duration(cfg.Withdrawal.TransferDelayMS) * time.Millisecond

	emailService, err := adapters.NewEmailService(zapLog, cfg.Email)
	if err != nil {
		chainClient.Close()
		return nil, fmt.Errorf("failed to create email service: %w", err)
	}
	notificationService := notification.NewService(emailService, notification.Config{
		AdminEmail:  cfg.Withdrawal.AdminEmail,
		Subject:     cfg.Withdrawal.SummarySubject,
		TokenSymbol: cfg.Chain.TokenSymbol,
	}, zapLog)

	eligibilityService := eligibility.NewService(chainClient, policy, eligibility.Config{
		Settlement:    settlement,
		TokenDecimals: cfg.Chain.TokenDecimals,
		AddressDelay:  addressDelay,
	}, zapLog)
	planner := eligibility.NewPlanner(depositRepo, chainClient, eligibilityService, zapLog)

	executorService := executor.NewService(
		chainClient,
		walletRepo,
		fundingRepo,
		withdrawalRepo,
		deriver,
		sealer,
		policy,
		executor.Config{
			Settlement:    settlement,
			TokenSymbol:   cfg.Chain.TokenSymbol,
			TokenDecimals: cfg.Chain.TokenDecimals,
			TransferDelay: transferDelay,
		},
		zapLog,
	)

	walletService := wallet.NewService(walletRepo, deriver, sealer, wallet.Config{
		RegenCooldown: time.Duration(cfg.Custody.RegenCooldown) * time.Second,
	}, zapLog)

	// Job queue: redis in deployed environments, in-process for local runs
	var (
		rdb *redis.Client
		q   queue.Queue
	)
	jobTimeout := time.Duration(cfg.Queue.JobTimeout) * time.Second
	if cfg.Queue.Backend == queueBackendMemory {
		q = queue.NewMemoryQueue(jobTimeout, zapLog)
	} else {
		rdb, err = cache.NewRedisClient(cfg.Redis, zapLog)
		if err != nil {
			chainClient.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		q = queue.NewRedisQueue(rdb, cfg.Queue.Name, jobTimeout, zapLog)
	}

	tracker := batch.NewTracker()
	orchestrator := batch.NewOrchestrator(planner, q, tracker, notificationService, batch.Config{
		Attempts:     cfg.Queue.Attempts,
		Backoff:      cfg.Queue.Backoff(),
		TokenSymbol:  cfg.Chain.TokenSymbol,
		SummaryRetry: cfg.Queue.Backoff(),
	}, zapLog)

	controller := cycle.NewController(planner, executorService, orchestrator, notificationService, cycle.Config{
		TransferDelay: transferDelay,
		TokenSymbol:   cfg.Chain.TokenSymbol,
		TokenDecimals: cfg.Chain.TokenDecimals,
	}, zapLog)

	jobConfig := withdrawal_jobs.DefaultConfig()
	jobConfig.Concurrency = cfg.Queue.Concurrency
	jobConfig.TokenDecimals = cfg.Chain.TokenDecimals
	jobWorker, err := withdrawal_jobs.NewWorker(executorService, q, jobConfig, log)
	if err != nil {
		chainClient.Close()
		return nil, fmt.Errorf("failed to create job worker: %w", err)
	}

	cycleWorker := withdrawal_cycle.NewWorker(controller, withdrawal_cycle.Config{
		Enabled:  cfg.Withdrawal.Enabled,
		Schedule: cfg.Withdrawal.Schedule,
		Mode:     entities.CycleMode(cfg.Withdrawal.Mode),
	}, zapLog)

	return &Container{
		Config: cfg,
		DB:     db,
		Redis:  rdb,
		Chain:  chainClient,
		Logger: log,
		ZapLog: zapLog,

		WalletRepo:     walletRepo,
		DepositRepo:    depositRepo,
		WithdrawalRepo: withdrawalRepo,
		FundingRepo:    fundingRepo,

		Deriver: deriver,
		Sealer:  sealer,

		EmailService:        emailService,
		NotificationService: notificationService,
		EligibilityService:  eligibilityService,
		Planner:             planner,
		ExecutorService:     executorService,
		WalletService:       walletService,
		Queue:               q,
		BatchTracker:        tracker,
		BatchOrchestrator:   orchestrator,
		CycleController:     controller,

		JobWorker:   jobWorker,
		CycleWorker: cycleWorker,
	}, nil
}

// HealthChecks returns the dependency probes served by the health endpoint.
func (c *Container) HealthChecks() map[string]handlers.HealthCheck {
	checks := map[string]handlers.HealthCheck{
		"database": func(ctx context.Context) error {
			return database.HealthCheck(ctx, c.DB)
		},
		"chain": func(ctx context.Context) error {
			_, err := c.Chain.FeeData(ctx)
			return err
		},
	}
	if c.Redis != nil {
		checks["redis"] = func(ctx context.Context) error {
			return cache.HealthCheck(ctx, c.Redis)
		}
	}
	return checks
}

// NewCustodyHandlers builds the operator handlers.
func (c *Container) NewCustodyHandlers() *handlers.CustodyHandlers {
	return handlers.NewCustodyHandlers(
		c.CycleController,
		c.BatchOrchestrator,
		c.ExecutorService,
		c.Planner,
		c.WithdrawalRepo,
		c.Config.Chain.DepositWallet,
		entities.DefaultGasPolicy().MinFunding,
		c.Logger,
	)
}

// NewWalletHandlers builds the user wallet handlers.
func (c *Container) NewWalletHandlers() *handlers.WalletHandlers {
	return handlers.NewWalletHandlers(c.WalletService, c.Logger)
}

// Close releases the chain connection and, when present, the redis client.
func (c *Container) Close() error {
	c.Chain.Close()
	if c.Redis != nil {
		return c.Redis.Close()
	}
	return nil
}

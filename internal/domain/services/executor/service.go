package executor

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/rail-service/custody_service/internal/domain/entities"
	domainerrors "github.com/rail-service/custody_service/internal/domain/errors"
	"github.com/rail-service/custody_service/internal/infrastructure/chain"
	"github.com/rail-service/custody_service/pkg/metrics"
)

var tracer = otel.Tracer("custody-executor")

// ChainClient is the chain access the executor needs to size, sign and confirm transfers.
type ChainClient interface {
	TokenAddress() common.Address
	NativeBalance(ctx context.Context, address common.Address) (*big.Int, error)
	TokenBalance(ctx context.Context, address common.Address) (*big.Int, error)
	FeeData(ctx context.Context) (*entities.FeeData, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	EstimateTokenTransfer(ctx context.Context, from, to common.Address, amount *big.Int) (uint64, error)
	TokenTransferData(to common.Address, amount *big.Int) ([]byte, error)
	SendTransaction(ctx context.Context, key chain.Signer, req chain.TxRequest) (*types.Transaction, error)
	WaitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error)
}

// WalletRepository resolves the custodial wallet owning an address.
type WalletRepository interface {
	GetByAddress(ctx context.Context, address string) (*entities.CustodialWallet, error)
}

// FundingRepository persists native top-ups.
type FundingRepository interface {
	Create(ctx context.Context, record *entities.FundingRecord) error
}

// WithdrawalRepository persists token sweeps.
type WithdrawalRepository interface {
	Create(ctx context.Context, record *entities.WithdrawalRecord) error
}

// KeyDeriver checks derivation ownership and exposes the master signer.
type KeyDeriver interface {
	VerifyOwnership(index int64, address string) (bool, error)
	MasterSigner() *ecdsa.PrivateKey
}

// KeyOpener decrypts a wallet's stored private key.
type KeyOpener interface {
	DecryptWallet(wallet *entities.CustodialWallet) (*ecdsa.PrivateKey, error)
}

// Config captures runtime configuration for the executor
type Config struct {
	Settlement    common.Address
	TokenSymbol   string
	TokenDecimals int32
	// TransferDelay spaces consecutive transfers in FundAddresses.
	TransferDelay time.Duration
}

// Service signs and confirms fund and withdraw transfers and records their outcome.
type Service struct {
	chain       ChainClient
	wallets     WalletRepository
	fundings    FundingRepository
	withdrawals WithdrawalRepository
	deriver     KeyDeriver
	keys        KeyOpener
	master      chain.Signer
	policy      entities.GasPolicy
	config      Config
	logger      *zap.Logger
}

// NewService creates a new executor service
func NewService(
	chainClient ChainClient,
	wallets WalletRepository,
	fundings FundingRepository,
	withdrawals WithdrawalRepository,
	deriver KeyDeriver,
	keys KeyOpener,
	policy entities.GasPolicy,
	cfg Config,
	logger *zap.Logger,
) *Service {
	return &Service{
		chain:       chainClient,
		wallets:     wallets,
		fundings:    fundings,
		withdrawals: withdrawals,
		deriver:     deriver,
		keys:        keys,
		master:      chain.NewKeySigner(deriver.MasterSigner()),
		policy:      policy,
		config:      cfg,
		logger:      logger,
	}
}

// MasterSigner returns the signer that pays for gas top-ups.
func (s *Service) MasterSigner() chain.Signer {
	return s.master
}

type batchKey struct{}

// WithBatch tags records persisted under ctx with a batch id.
func WithBatch(ctx context.Context, batchID string) context.Context {
	return context.WithValue(ctx, batchKey{}, batchID)
}

func batchFrom(ctx context.Context) *string {
	if id, ok := ctx.Value(batchKey{}).(string); ok && id != "" {
		return &id
	}
	return nil
}

// FundWallet sends amount wei from signer to a custodial address and waits for
// one confirmation. It returns (nil, nil) when the signer cannot cover the
// amount plus gas; nothing is submitted or recorded in that case.
func (s *Service) FundWallet(ctx context.Context, address string, amount *big.Int, signer chain.Signer) (*entities.FundResult, error) {
	ctx, span := tracer.Start(ctx, "executor.FundWallet", trace.WithAttributes(
		attribute.String("address", address),
	))
	defer span.End()

	if !common.IsHexAddress(address) {
		return nil, domainerrors.ValidationError("address", "invalid address: "+address)
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, domainerrors.ValidationError("amount", "funding amount must be positive")
	}

	wallet, err := s.wallets.GetByAddress(ctx, address)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	to := common.HexToAddress(address)
	from := signer.Address()
	gasLimit, err := s.chain.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &to, Value: amount})
	if err != nil || gasLimit == 0 {
		s.logger.Debug("Native transfer estimate failed, using fallback",
			zap.String("address", address),
			zap.Uint64("fallback", s.policy.NativeTransferGasLimit),
			zap.Error(err))
		gasLimit = s.policy.NativeTransferGasLimit
	}

	price, err := s.gasPrice(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	balance, err := s.chain.NativeBalance(ctx, from)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	required := new(big.Int).Add(amount, entities.GasCost(gasLimit, price))
	if balance.Cmp(required) < 0 {
		insufficient := domainerrors.InsufficientFundsError(from.Hex(), balance.String(), required.String())
		s.logger.Warn("Skipping funding, signer balance too low",
			zap.String("address", address),
			zap.String("signer", from.Hex()),
			zap.Error(insufficient))
		metrics.TransfersTotal.WithLabelValues("fund", "skipped").Inc()
		span.SetAttributes(attribute.Bool("skipped", true))
		return nil, nil
	}

	tx, err := s.chain.SendTransaction(ctx, signer, chain.TxRequest{
		To:       to,
		Value:    amount,
		GasLimit: gasLimit,
		GasPrice: price,
	})
	if err != nil {
		metrics.TransfersTotal.WithLabelValues("fund", "error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "submit failed")
		return nil, err
	}
	span.SetAttributes(attribute.String("tx_hash", tx.Hash().Hex()))

	receipt, err := s.chain.WaitMined(ctx, tx.Hash())
	if err != nil {
		metrics.TransfersTotal.WithLabelValues("fund", "error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "confirmation failed")
		return nil, err
	}

	fee := entities.GasCost(receipt.GasUsed, price)
	record := &entities.FundingRecord{
		ID:        uuid.New(),
		UserID:    wallet.UserID,
		Address:   address,
		Amount:    entities.ToDecimal(amount, entities.NativeDecimals),
		Currency:  entities.NativeCurrency,
		FeeAmount: entities.ToDecimal(fee, entities.NativeDecimals),
		TxID:      tx.Hash().Hex(),
		BatchID:   batchFrom(ctx),
		CreatedAt: time.Now(),
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		record.Status = entities.RecordStatusFailed
		s.persistFunding(ctx, record)
		metrics.TransfersTotal.WithLabelValues("fund", "failed").Inc()
		txErr := domainerrors.TransactionFailedError(record.TxID, receipt.Status)
		span.RecordError(txErr)
		span.SetStatus(codes.Error, "receipt failed")
		return nil, txErr
	}

	record.Status = entities.RecordStatusCompleted
	s.persistFunding(ctx, record)
	metrics.TransfersTotal.WithLabelValues("fund", "completed").Inc()

	s.logger.Info("Wallet funded",
		zap.String("address", address),
		zap.String("tx_hash", record.TxID),
		zap.String("amount", record.Amount.String()),
		zap.String("fee", record.FeeAmount.String()))

	return &entities.FundResult{TxHash: record.TxID, Amount: amount, Fee: fee}, nil
}

// WithdrawFromWallet sweeps the full token balance of a custodial address to
// the settlement wallet. It returns (nil, nil) when the balance is at or below
// the sweep threshold or the address cannot pay for gas.
func (s *Service) WithdrawFromWallet(ctx context.Context, address string) (*entities.WithdrawResult, error) {
	ctx, span := tracer.Start(ctx, "executor.WithdrawFromWallet", trace.WithAttributes(
		attribute.String("address", address),
	))
	defer span.End()

	if !common.IsHexAddress(address) {
		return nil, domainerrors.ValidationError("address", "invalid address: "+address)
	}

	wallet, err := s.wallets.GetByAddress(ctx, address)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	owned, err := s.deriver.VerifyOwnership(wallet.DerivationIndex, wallet.Address)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if !owned {
		mismatch := domainerrors.OwnershipMismatchError(wallet.Address, wallet.DerivationIndex)
		s.logger.Error("Refusing to sign for wallet outside custody derivation",
			zap.String("address", wallet.Address),
			zap.Int64("derivation_index", wallet.DerivationIndex))
		span.RecordError(mismatch)
		return nil, mismatch
	}

	privateKey, err := s.keys.DecryptWallet(wallet)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	signer := chain.NewKeySigner(privateKey)
	from := signer.Address()

	balance, err := s.chain.TokenBalance(ctx, from)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if !s.policy.IsSweepable(balance) {
		s.logger.Info("Skipping withdrawal, balance at or below threshold",
			zap.String("address", address),
			zap.String("balance", balance.String()))
		metrics.TransfersTotal.WithLabelValues("withdraw", "skipped").Inc()
		span.SetAttributes(attribute.Bool("skipped", true))
		return nil, nil
	}

	estimate, err := s.chain.EstimateTokenTransfer(ctx, from, s.config.Settlement, balance)
	if err != nil {
		s.logger.Debug("Token transfer estimate failed, using fallback",
			zap.String("address", address),
			zap.Uint64("fallback", s.policy.TokenTransferGasLimit),
			zap.Error(err))
		estimate = 0
	}
	gasLimit := s.policy.CapTokenGas(estimate)

	price, err := s.gasPrice(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	native, err := s.chain.NativeBalance(ctx, from)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	gasCost := entities.GasCost(gasLimit, price)
	if native.Cmp(gasCost) < 0 {
		s.logger.Warn("Skipping withdrawal, not enough native balance for gas",
			zap.String("address", address),
			zap.String("native", native.String()),
			zap.String("required", gasCost.String()))
		metrics.TransfersTotal.WithLabelValues("withdraw", "skipped").Inc()
		span.SetAttributes(attribute.Bool("skipped", true))
		return nil, nil
	}

	data, err := s.chain.TokenTransferData(s.config.Settlement, balance)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	tx, err := s.chain.SendTransaction(ctx, signer, chain.TxRequest{
		To:       s.chain.TokenAddress(),
		Value:    big.NewInt(0),
		Data:     data,
		GasLimit: gasLimit,
		GasPrice: price,
	})
	if err != nil {
		metrics.TransfersTotal.WithLabelValues("withdraw", "error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "submit failed")
		return nil, err
	}
	span.SetAttributes(attribute.String("tx_hash", tx.Hash().Hex()))

	receipt, err := s.chain.WaitMined(ctx, tx.Hash())
	if err != nil {
		metrics.TransfersTotal.WithLabelValues("withdraw", "error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "confirmation failed")
		return nil, err
	}

	fee := entities.GasCost(receipt.GasUsed, price)
	record := &entities.WithdrawalRecord{
		ID:        uuid.New(),
		UserID:    wallet.UserID,
		Address:   address,
		Amount:    entities.ToDecimal(balance, s.config.TokenDecimals),
		Currency:  s.config.TokenSymbol,
		FeeAmount: entities.ToDecimal(fee, entities.NativeDecimals),
		TxID:      tx.Hash().Hex(),
		BatchID:   batchFrom(ctx),
		CreatedAt: time.Now(),
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		record.Status = entities.RecordStatusFailed
		s.persistWithdrawal(ctx, record)
		metrics.TransfersTotal.WithLabelValues("withdraw", "failed").Inc()
		txErr := domainerrors.TransactionFailedError(record.TxID, receipt.Status)
		span.RecordError(txErr)
		span.SetStatus(codes.Error, "receipt failed")
		return nil, txErr
	}

	record.Status = entities.RecordStatusCompleted
	s.persistWithdrawal(ctx, record)
	metrics.TransfersTotal.WithLabelValues("withdraw", "completed").Inc()

	s.logger.Info("Wallet withdrawn",
		zap.String("address", address),
		zap.String("tx_hash", record.TxID),
		zap.String("amount", record.Amount.String()),
		zap.String("fee", record.FeeAmount.String()))

	return &entities.WithdrawResult{TxHash: record.TxID, Amount: balance, Fee: fee}, nil
}

// FundAddresses tops up each address with amount wei from the master signer,
// one at a time. Skipped or failed addresses are reported, never fatal.
func (s *Service) FundAddresses(ctx context.Context, addresses []string, amount *big.Int) (*entities.TransferReport, error) {
	report := entities.NewTransferReport()

	for i, address := range addresses {
		if i > 0 {
			if err := Pause(ctx, s.config.TransferDelay); err != nil {
				return report, err
			}
		}

		result, err := s.FundWallet(ctx, address, amount, s.master)
		if err != nil {
			s.logger.Error("Funding failed",
				zap.String("address", address),
				zap.Error(err))
			report.FailedAddresses = append(report.FailedAddresses, address)
			continue
		}
		if result == nil {
			report.FailedAddresses = append(report.FailedAddresses, address)
			continue
		}
		report.TxIDs = append(report.TxIDs, result.TxHash)
	}

	return report, nil
}

// gasPrice returns the node's effective gas price bounded by the policy cap.
func (s *Service) gasPrice(ctx context.Context) (*big.Int, error) {
	fees, err := s.chain.FeeData(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get fee data: %w", err)
	}
	return s.policy.CapGasPrice(fees.EffectiveGasPrice()), nil
}

// persistFunding records a mined transfer. A storage failure is logged; the
// transfer already happened and must not be retried.
func (s *Service) persistFunding(ctx context.Context, record *entities.FundingRecord) {
	if err := s.fundings.Create(ctx, record); err != nil {
		s.logger.Error("Failed to persist funding record",
			zap.String("tx_hash", record.TxID),
			zap.String("address", record.Address),
			zap.String("status", string(record.Status)),
			zap.Error(err))
	}
}

func (s *Service) persistWithdrawal(ctx context.Context, record *entities.WithdrawalRecord) {
	if err := s.withdrawals.Create(ctx, record); err != nil {
		s.logger.Error("Failed to persist withdrawal record",
			zap.String("tx_hash", record.TxID),
			zap.String("address", record.Address),
			zap.String("status", string(record.Status)),
			zap.Error(err))
	}
}

// Pause waits for d or until ctx is done.
func Pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

package eligibility

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rail-service/custody_service/internal/domain/entities"
	"github.com/rail-service/custody_service/pkg/metrics"
)

// ChainReader is the read side of the chain client used for sizing.
type ChainReader interface {
	NativeBalance(ctx context.Context, address common.Address) (*big.Int, error)
	TokenBalance(ctx context.Context, address common.Address) (*big.Int, error)
	EstimateTokenTransfer(ctx context.Context, from, to common.Address, amount *big.Int) (uint64, error)
}

// Config captures runtime configuration for the evaluator
type Config struct {
	Settlement    common.Address
	TokenDecimals int32
	// AddressDelay spaces RPC reads between consecutive addresses.
	AddressDelay time.Duration
}

// Service decides which custodial addresses can be swept and how much gas each needs.
type Service struct {
	chain  ChainReader
	policy entities.GasPolicy
	config Config
	logger *zap.Logger
}

// NewService creates a new eligibility service
func NewService(chain ChainReader, policy entities.GasPolicy, cfg Config, logger *zap.Logger) *Service {
	return &Service{
		chain:  chain,
		policy: policy,
		config: cfg,
		logger: logger,
	}
}

// Evaluate walks addresses in order and returns the sweepable ones and the
// wei top-up each needs. Failed reads skip the address; only context
// cancellation aborts the pass.
func (s *Service) Evaluate(ctx context.Context, addresses []string, gasPrice *big.Int) (*entities.Evaluation, error) {
	result := &entities.Evaluation{
		Needs:    make(map[string]*big.Int),
		Eligible: []string{},
	}
	price := s.policy.CapGasPrice(gasPrice)

	for i, address := range addresses {
		if i > 0 {
			if err := pause(ctx, s.config.AddressDelay); err != nil {
				return nil, err
			}
		}

		need, eligible := s.evaluateAddress(ctx, address, price)
		if !eligible {
			continue
		}
		result.Eligible = append(result.Eligible, address)
		if need != nil {
			result.Needs[address] = need
		}
	}

	metrics.EligibleWalletsGauge.Set(float64(len(result.Eligible)))
	s.logger.Info("Eligibility evaluated",
		zap.Int("addresses", len(addresses)),
		zap.Int("eligible", len(result.Eligible)),
		zap.Int("needs_funding", len(result.Needs)),
		zap.String("gas_price", price.String()))

	return result, nil
}

// evaluateAddress returns the clamped top-up (nil when none) and whether the address is sweepable.
func (s *Service) evaluateAddress(ctx context.Context, address string, price *big.Int) (*big.Int, bool) {
	if !common.IsHexAddress(address) {
		s.logger.Warn("Skipping malformed address", zap.String("address", address))
		return nil, false
	}
	addr := common.HexToAddress(address)

	native, err := s.chain.NativeBalance(ctx, addr)
	if err != nil {
		s.logger.Warn("Skipping address, native balance unavailable", zap.String("address", address), zap.Error(err))
		return nil, false
	}
	token, err := s.chain.TokenBalance(ctx, addr)
	if err != nil {
		s.logger.Warn("Skipping address, token balance unavailable", zap.String("address", address), zap.Error(err))
		return nil, false
	}

	if !s.policy.IsSweepable(token) {
		return nil, false
	}

	estimate, err := s.chain.EstimateTokenTransfer(ctx, addr, s.config.Settlement, token)
	if err != nil {
		s.logger.Debug("Gas estimation failed, using fallback",
			zap.String("address", address),
			zap.Uint64("fallback", s.policy.TokenTransferGasLimit),
			zap.Error(err))
		estimate = 0
	}
	gasLimit := s.policy.CapTokenGas(estimate)

	shortfall := new(big.Int).Sub(entities.GasCost(gasLimit, price), native)
	if shortfall.Sign() <= 0 {
		return nil, true
	}
	return s.policy.ClampFunding(shortfall), true
}

// Overview totals the sweepable token balance and the padded native
// shortfall that funding those wallets would cost.
func (s *Service) Overview(ctx context.Context, addresses []string, gasPrice *big.Int) (*entities.WalletOverview, error) {
	price := s.policy.CapGasPrice(gasPrice)

	overview := &entities.WalletOverview{
		TotalAmount: decimal.Zero,
		TotalFees:   decimal.Zero,
		Addresses:   []string{},
	}
	totalFees := new(big.Int)

	for i, address := range addresses {
		if i > 0 {
			if err := pause(ctx, s.config.AddressDelay); err != nil {
				return nil, err
			}
		}
		if !common.IsHexAddress(address) {
			continue
		}
		addr := common.HexToAddress(address)

		token, err := s.chain.TokenBalance(ctx, addr)
		if err != nil {
			s.logger.Warn("Skipping address in overview", zap.String("address", address), zap.Error(err))
			continue
		}
		if !s.policy.IsSweepable(token) {
			continue
		}

		overview.TotalWallets++
		overview.Addresses = append(overview.Addresses, address)
		overview.TotalAmount = overview.TotalAmount.Add(entities.ToDecimal(token, s.config.TokenDecimals))

		native, err := s.chain.NativeBalance(ctx, addr)
		if err != nil {
			s.logger.Warn("Native balance unavailable, fee left out of overview", zap.String("address", address), zap.Error(err))
			continue
		}
		totalFees.Add(totalFees, s.overviewShortfall(ctx, addr, token, native, price))
	}

	overview.TotalFees = entities.ToDecimal(totalFees, entities.NativeDecimals)
	return overview, nil
}

// overviewShortfall is the buffered wei a wallet lacks to sweep token, zero when funded.
func (s *Service) overviewShortfall(ctx context.Context, addr common.Address, token, native, price *big.Int) *big.Int {
	gasLimit, err := s.chain.EstimateTokenTransfer(ctx, addr, s.config.Settlement, token)
	if err != nil || gasLimit == 0 {
		gasLimit = s.policy.OverviewGasLimit
	}

	shortfall := new(big.Int).Sub(entities.GasCost(gasLimit, price), native)
	if shortfall.Sign() <= 0 {
		return new(big.Int)
	}
	shortfall.Mul(shortfall, big.NewInt(s.policy.OverviewBufferPercent))
	return shortfall.Div(shortfall, big.NewInt(100))
}

func pause(ctx context.Context, d time.Duration) error {
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

package eligibility

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/rail-service/custody_service/internal/domain/entities"
)

// AddressSource lists the custodial addresses that ever received a deposit.
type AddressSource interface {
	DistinctAddresses(ctx context.Context) ([]string, error)
}

// FeeSource reports the node's current fee suggestion.
type FeeSource interface {
	FeeData(ctx context.Context) (*entities.FeeData, error)
}

// Planner gathers deposit addresses and the current gas price, then evaluates them.
// Synchronous and queued cycles both start from a plan.
type Planner struct {
	addresses AddressSource
	fees      FeeSource
	evaluator *Service
	logger    *zap.Logger
}

// NewPlanner creates a new cycle planner
func NewPlanner(addresses AddressSource, fees FeeSource, evaluator *Service, logger *zap.Logger) *Planner {
	return &Planner{
		addresses: addresses,
		fees:      fees,
		evaluator: evaluator,
		logger:    logger,
	}
}

// Plan reads fee data once and evaluates every deposit address at that price.
func (p *Planner) Plan(ctx context.Context) (*entities.CyclePlan, error) {
	addresses, err := p.addresses.DistinctAddresses(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load deposit addresses: %w", err)
	}

	fees, err := p.fees.FeeData(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get fee data: %w", err)
	}
	price := fees.EffectiveGasPrice()
	if price == nil {
		return nil, fmt.Errorf("node returned no gas price")
	}

	evaluation, err := p.evaluator.Evaluate(ctx, addresses, price)
	if err != nil {
		return nil, err
	}

	p.logger.Info("Withdrawal cycle planned",
		zap.Int("addresses", len(addresses)),
		zap.Int("eligible", len(evaluation.Eligible)),
		zap.Int("needs_funding", len(evaluation.Needs)))

	return &entities.CyclePlan{
		Addresses:  addresses,
		GasPrice:   price,
		Evaluation: evaluation,
	}, nil
}

// Overview evaluates the admin wallet listing at the current gas price.
func (p *Planner) Overview(ctx context.Context) (*entities.WalletOverview, error) {
	addresses, err := p.addresses.DistinctAddresses(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load deposit addresses: %w", err)
	}
	fees, err := p.fees.FeeData(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get fee data: %w", err)
	}
	return p.evaluator.Overview(ctx, addresses, fees.EffectiveGasPrice())
}

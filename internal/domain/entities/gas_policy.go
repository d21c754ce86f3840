package entities

import (
	"math/big"
)

// GasPolicy holds every gas and threshold constant used by eligibility
// sizing and transaction execution. Both paths must read the same value so
// the amount funded matches the amount spent at execution time.
type GasPolicy struct {
	// MaxGasPrice caps the price used for sizing and submission (wei).
	MaxGasPrice *big.Int
	// TokenTransferGasLimit is the fallback for token transfer estimates and their ceiling.
	TokenTransferGasLimit uint64
	// NativeTransferGasLimit is the fallback for native transfer estimates.
	NativeTransferGasLimit uint64
	// OverviewGasLimit is the overview fallback when gas estimation fails.
	OverviewGasLimit uint64
	// OverviewBufferPercent pads overview shortfalls, 120 means +20%.
	OverviewBufferPercent int64
	// MinFunding and MaxFunding bound a single top-up (wei).
	MinFunding *big.Int
	MaxFunding *big.Int
	// MinTokenBalance is the sweep threshold in token base units; eligibility is strictly greater.
	MinTokenBalance *big.Int
}

// DefaultGasPolicy returns the production defaults.
func DefaultGasPolicy() GasPolicy {
	return GasPolicy{
		MaxGasPrice:            big.NewInt(10_000_000_000), // 10 gwei
		TokenTransferGasLimit:  65_000,
		NativeTransferGasLimit: 21_000,
		OverviewGasLimit:       100_000,
		OverviewBufferPercent:  120,
		MinFunding:             big.NewInt(100_000_000_000_000),    // 0.0001 ETH
		MaxFunding:             big.NewInt(10_000_000_000_000_000), // 0.01 ETH
		MinTokenBalance:        big.NewInt(100_000),                // 0.1 token at 6 decimals
	}
}

// CapGasPrice returns min(price, MaxGasPrice). A nil price yields the cap.
func (p GasPolicy) CapGasPrice(price *big.Int) *big.Int {
	if price == nil || price.Cmp(p.MaxGasPrice) > 0 {
		return new(big.Int).Set(p.MaxGasPrice)
	}
	return new(big.Int).Set(price)
}

// CapTokenGas bounds a token transfer estimate by the fallback limit.
// A zero estimate means estimation failed and the fallback is used.
func (p GasPolicy) CapTokenGas(estimate uint64) uint64 {
	if estimate == 0 || estimate > p.TokenTransferGasLimit {
		return p.TokenTransferGasLimit
	}
	return estimate
}

// ClampFunding bounds a positive shortfall into [MinFunding, MaxFunding].
func (p GasPolicy) ClampFunding(shortfall *big.Int) *big.Int {
	switch {
	case shortfall.Cmp(p.MinFunding) < 0:
		return new(big.Int).Set(p.MinFunding)
	case shortfall.Cmp(p.MaxFunding) > 0:
		return new(big.Int).Set(p.MaxFunding)
	default:
		return new(big.Int).Set(shortfall)
	}
}

// IsSweepable reports whether a token balance is strictly above the threshold.
func (p GasPolicy) IsSweepable(balance *big.Int) bool {
	return balance != nil && balance.Cmp(p.MinTokenBalance) > 0
}

// GasCost returns gasLimit * price.
func GasCost(gasLimit uint64, price *big.Int) *big.Int {
	return new(big.Int).Mul(new(big.Int).SetUint64(gasLimit), price)
}

// WithMaxGasPriceGwei returns a copy of the policy with the price cap set in gwei.
// Non-positive values keep the current cap.
func (p GasPolicy) WithMaxGasPriceGwei(gwei int64) GasPolicy {
	if gwei <= 0 {
		return p
	}
	p.MaxGasPrice = new(big.Int).Mul(big.NewInt(gwei), big.NewInt(1_000_000_000))
	return p
}

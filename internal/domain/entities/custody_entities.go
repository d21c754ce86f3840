package entities

import (
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	NativeCurrency = "ETH"
	NativeDecimals = 18
)

// RecordStatus is the outcome of a persisted transfer.
type RecordStatus string

const (
	RecordStatusCompleted RecordStatus = "completed"
	RecordStatusFailed    RecordStatus = "failed"
)

// FundingRecord is a native gas top-up sent from the master signer.
type FundingRecord struct {
	ID        uuid.UUID       `json:"id" db:"id"`
	UserID    uuid.UUID       `json:"userId" db:"user_id"`
	Address   string          `json:"address" db:"address"`
	Status    RecordStatus    `json:"status" db:"status"`
	Amount    decimal.Decimal `json:"amount" db:"amount"`
	Currency  string          `json:"currency" db:"currency"`
	FeeAmount decimal.Decimal `json:"feeAmount" db:"fee_amount"`
	TxID      string          `json:"txId" db:"tx_id"`
	BatchID   *string         `json:"batchId,omitempty" db:"batch_id"`
	CreatedAt time.Time       `json:"createdAt" db:"created_at"`
}

// WithdrawalRecord is a token sweep from a custodial address to the settlement wallet.
type WithdrawalRecord struct {
	ID        uuid.UUID       `json:"id" db:"id"`
	UserID    uuid.UUID       `json:"userId" db:"user_id"`
	Address   string          `json:"address" db:"address"`
	Status    RecordStatus    `json:"status" db:"status"`
	Amount    decimal.Decimal `json:"amount" db:"amount"`
	Currency  string          `json:"currency" db:"currency"`
	FeeAmount decimal.Decimal `json:"feeAmount" db:"fee_amount"`
	TxID      string          `json:"txId" db:"tx_id"`
	BatchID   *string         `json:"batchId,omitempty" db:"batch_id"`
	CreatedAt time.Time       `json:"createdAt" db:"created_at"`
}

// WithdrawalFilter narrows the admin withdrawal listing.
type WithdrawalFilter struct {
	UserID    *uuid.UUID
	StartDate *time.Time
	EndDate   *time.Time
	// OrderBy is "asc" or "desc" on created_at.
	OrderBy string
	Limit   int
}

// FeeData is the node's current fee suggestion.
type FeeData struct {
	GasPrice             *big.Int
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
}

// EffectiveGasPrice prefers MaxFeePerGas and falls back to GasPrice.
func (f *FeeData) EffectiveGasPrice() *big.Int {
	if f == nil {
		return nil
	}
	if f.MaxFeePerGas != nil && f.MaxFeePerGas.Sign() > 0 {
		return f.MaxFeePerGas
	}
	return f.GasPrice
}

// Evaluation is the result of an eligibility pass. Needs maps an address to
// the wei top-up it requires before its token balance can be swept.
type Evaluation struct {
	Needs    map[string]*big.Int
	Eligible []string
}

// NeedAddresses returns the addresses in Needs following Eligible order.
func (e *Evaluation) NeedAddresses() []string {
	out := make([]string, 0, len(e.Needs))
	for _, addr := range e.Eligible {
		if _, ok := e.Needs[addr]; ok {
			out = append(out, addr)
		}
	}
	return out
}

// WalletOverview summarises sweepable balances for the admin listing.
type WalletOverview struct {
	TotalWallets int             `json:"totalWallets"`
	TotalAmount  decimal.Decimal `json:"totalAmount"`
	TotalFees    decimal.Decimal `json:"totalFees"`
	Addresses    []string        `json:"addresses"`
}

// FundResult is a confirmed top-up.
type FundResult struct {
	TxHash string
	Amount *big.Int
	Fee    *big.Int
}

// WithdrawResult is a confirmed sweep.
type WithdrawResult struct {
	TxHash string
	Amount *big.Int
	Fee    *big.Int
}

// TransferReport is the partial-success summary returned to API callers.
type TransferReport struct {
	TxIDs           []string `json:"txIds"`
	FailedAddresses []string `json:"failedAddresses"`
}

// NewTransferReport returns an empty report with non-nil slices.
func NewTransferReport() *TransferReport {
	return &TransferReport{TxIDs: []string{}, FailedAddresses: []string{}}
}

// CycleMode selects how a withdrawal cycle executes transfers.
type CycleMode string

const (
	CycleModeSynchronous CycleMode = "synchronous"
	CycleModeQueued      CycleMode = "queued"
)

// IsValid reports whether the mode is known.
func (m CycleMode) IsValid() bool {
	return m == CycleModeSynchronous || m == CycleModeQueued
}

// CycleReport is the outcome of one withdrawal cycle.
type CycleReport struct {
	Mode        CycleMode       `json:"mode"`
	Wallets     int             `json:"wallets"`
	Funding     *TransferReport `json:"funding"`
	Withdrawals *TransferReport `json:"withdrawals"`
	Batch       *StartResult    `json:"batch,omitempty"`
	StartedAt   time.Time       `json:"startedAt"`
	FinishedAt  time.Time       `json:"finishedAt"`
}

// ToDecimal converts an integer base-unit amount to a decimal with the given precision.
func ToDecimal(amount *big.Int, decimals int32) decimal.Decimal {
	if amount == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(amount, -decimals)
}

// CyclePlan is the gathered and evaluated input of one withdrawal cycle.
type CyclePlan struct {
	Addresses  []string
	GasPrice   *big.Int
	Evaluation *Evaluation
}

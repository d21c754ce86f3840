package entities

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// JobKind tags the variant carried by a queued custody job.
type JobKind string

const (
	JobKindFund     JobKind = "fund"
	JobKindWithdraw JobKind = "withdraw"
)

// Job is a queued custody operation: either FundJob or WithdrawJob.
type Job interface {
	Kind() JobKind
	TargetAddress() string
	Batch() string
}

// FundJob tops up Address with Amount wei from the master signer.
type FundJob struct {
	Address string   `json:"address"`
	Amount  *big.Int `json:"amount"`
	BatchID string   `json:"batchId"`
}

func (FundJob) Kind() JobKind           { return JobKindFund }
func (j FundJob) TargetAddress() string { return j.Address }
func (j FundJob) Batch() string         { return j.BatchID }

// WithdrawJob sweeps the token balance of Address to the settlement wallet.
type WithdrawJob struct {
	Address string `json:"address"`
	BatchID string `json:"batchId"`
}

func (WithdrawJob) Kind() JobKind           { return JobKindWithdraw }
func (j WithdrawJob) TargetAddress() string { return j.Address }
func (j WithdrawJob) Batch() string         { return j.BatchID }

type jobEnvelope struct {
	Kind     JobKind      `json:"kind"`
	Fund     *FundJob     `json:"fund,omitempty"`
	Withdraw *WithdrawJob `json:"withdraw,omitempty"`
}

// jobHeader is the subset of fields shared by every variant, used for queue introspection.
type jobHeader struct {
	Address string `json:"address"`
	BatchID string `json:"batchId"`
}

// EncodeJob serializes a job for the queue.
func EncodeJob(job Job) ([]byte, error) {
	env := jobEnvelope{Kind: job.Kind()}
	switch j := job.(type) {
	case FundJob:
		env.Fund = &j
	case WithdrawJob:
		env.Withdraw = &j
	default:
		return nil, fmt.Errorf("unsupported job type %T", job)
	}
	return json.Marshal(env)
}

// DecodeJob parses a queued payload back into its variant.
func DecodeJob(data []byte) (Job, error) {
	var env jobEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to decode job: %w", err)
	}
	switch env.Kind {
	case JobKindFund:
		if env.Fund == nil {
			return nil, fmt.Errorf("fund job without payload")
		}
		return *env.Fund, nil
	case JobKindWithdraw:
		if env.Withdraw == nil {
			return nil, fmt.Errorf("withdraw job without payload")
		}
		return *env.Withdraw, nil
	default:
		return nil, fmt.Errorf("unknown job kind %q", env.Kind)
	}
}

// PeekJob reads address and batch id without full decoding.
func PeekJob(data []byte) (address, batchID string) {
	var env jobEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", ""
	}
	var h jobHeader
	switch {
	case env.Fund != nil:
		h = jobHeader{Address: env.Fund.Address, BatchID: env.Fund.BatchID}
	case env.Withdraw != nil:
		h = jobHeader{Address: env.Withdraw.Address, BatchID: env.Withdraw.BatchID}
	}
	return h.Address, h.BatchID
}

// JobOutcome is what a consumer reports back for a finished job.
type JobOutcome struct {
	TxHash  string          `json:"txHash,omitempty"`
	Amount  decimal.Decimal `json:"amount"`
	Skipped bool            `json:"skipped,omitempty"`
	Reason  string          `json:"reason,omitempty"`
}

// JobState tracks a job within a batch.
type JobState string

const (
	JobStatePending   JobState = "pending"
	JobStateCompleted JobState = "completed"
	JobStateFailed    JobState = "failed"
)

// JobStatus is one tracked job inside a batch.
type JobStatus struct {
	JobID   string          `json:"jobId"`
	Address string          `json:"address"`
	Kind    JobKind         `json:"type"`
	Amount  decimal.Decimal `json:"amount"`
	Status  JobState        `json:"status"`
	TxHash  string          `json:"txHash,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// StartResult is returned when a queued cycle has been enqueued.
type StartResult struct {
	BatchID  string `json:"batchId"`
	JobCount int    `json:"jobCount"`
	Message  string `json:"message"`
}

// SummaryLine is one transfer in a cycle summary.
type SummaryLine struct {
	Address string
	Amount  decimal.Decimal
	TxID    string
	Error   string
}

// CycleSummary is the content of the administrator summary email.
type CycleSummary struct {
	BatchID           string
	TotalWallets      int
	TotalTokenAmount  decimal.Decimal
	TotalNativeAmount decimal.Decimal
	TokenSymbol       string
	FundSucceeded     []SummaryLine
	FundFailed        []SummaryLine
	WithdrawSucceeded []SummaryLine
	WithdrawFailed    []SummaryLine
	// Skipped holds completed jobs that moved no funds, such as a balance
	// that fell to the threshold before execution.
	Skipped []SummaryLine
}

// SummaryFromJobs folds resolved batch jobs into a summary.
func SummaryFromJobs(batchID, tokenSymbol string, jobs []JobStatus) *CycleSummary {
	s := &CycleSummary{
		BatchID:           batchID,
		TokenSymbol:       tokenSymbol,
		TotalTokenAmount:  decimal.Zero,
		TotalNativeAmount: decimal.Zero,
	}
	wallets := make(map[string]struct{})
	for _, j := range jobs {
		wallets[j.Address] = struct{}{}
		line := SummaryLine{Address: j.Address, Amount: j.Amount, TxID: j.TxHash, Error: j.Error}
		if j.Status == JobStateCompleted && j.TxHash == "" {
			s.Skipped = append(s.Skipped, line)
			continue
		}
		switch j.Kind {
		case JobKindFund:
			if j.Status == JobStateCompleted {
				s.FundSucceeded = append(s.FundSucceeded, line)
				s.TotalNativeAmount = s.TotalNativeAmount.Add(j.Amount)
			} else {
				s.FundFailed = append(s.FundFailed, line)
			}
		case JobKindWithdraw:
			if j.Status == JobStateCompleted {
				s.WithdrawSucceeded = append(s.WithdrawSucceeded, line)
				s.TotalTokenAmount = s.TotalTokenAmount.Add(j.Amount)
			} else {
				s.WithdrawFailed = append(s.WithdrawFailed, line)
			}
		}
	}
	s.TotalWallets = len(wallets)
	return s
}

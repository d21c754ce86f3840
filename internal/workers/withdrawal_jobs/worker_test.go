package withdrawal_jobs

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/rail-service/custody_service/internal/domain/entities"
	domainerrors "github.com/rail-service/custody_service/internal/domain/errors"
	"github.com/rail-service/custody_service/internal/infrastructure/chain"
	"github.com/rail-service/custody_service/internal/infrastructure/queue"
	"github.com/rail-service/custody_service/pkg/logger"
)

type MockExecutor struct {
	mock.Mock
	signer chain.Signer
}

func (m *MockExecutor) FundWallet(ctx context.Context, address string, amount *big.Int, signer chain.Signer) (*entities.FundResult, error) {
	args := m.Called(ctx, address, amount, signer)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.FundResult), args.Error(1)
}

func (m *MockExecutor) WithdrawFromWallet(ctx context.Context, address string) (*entities.WithdrawResult, error) {
	args := m.Called(ctx, address)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.WithdrawResult), args.Error(1)
}

func (m *MockExecutor) MasterSigner() chain.Signer {
	return m.signer
}

const addr = "0x00000000000000000000000000000000000000aA"

func newWorker(t *testing.T, q queue.Queue) (*Worker, *MockExecutor) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	exec := &MockExecutor{signer: chain.NewKeySigner(key)}
	w, err := NewWorker(exec, q, DefaultConfig(), logger.NewNop())
	require.NoError(t, err)
	return w, exec
}

func queuedJob(t *testing.T, job entities.Job) *queue.Job {
	t.Helper()
	data, err := entities.EncodeJob(job)
	require.NoError(t, err)
	return &queue.Job{ID: "1", Name: string(job.Kind()), Data: data}
}

func decodeOutcome(t *testing.T, data []byte) entities.JobOutcome {
	t.Helper()
	var outcome entities.JobOutcome
	require.NoError(t, json.Unmarshal(data, &outcome))
	return outcome
}

func TestHandle_FundJobUsesMasterSigner(t *testing.T) {
	w, exec := newWorker(t, nil)
	amount := big.NewInt(650_000_000_000_000)
	exec.On("FundWallet", mock.Anything, addr, amount, exec.signer).
		Return(&entities.FundResult{TxHash: "0xf1", Amount: amount}, nil)

	data, err := w.Handle(context.Background(), queuedJob(t, entities.FundJob{Address: addr, Amount: amount, BatchID: "b1"}))
	require.NoError(t, err)

	outcome := decodeOutcome(t, data)
	assert.Equal(t, "0xf1", outcome.TxHash)
	assert.Equal(t, "0.00065", outcome.Amount.String())
	assert.False(t, outcome.Skipped)
}

func TestHandle_WithdrawJobReportsTokenAmount(t *testing.T) {
	w, exec := newWorker(t, nil)
	exec.On("WithdrawFromWallet", mock.Anything, addr).
		Return(&entities.WithdrawResult{TxHash: "0xw1", Amount: big.NewInt(2_500_000)}, nil)

	data, err := w.Handle(context.Background(), queuedJob(t, entities.WithdrawJob{Address: addr, BatchID: "b1"}))
	require.NoError(t, err)

	outcome := decodeOutcome(t, data)
	assert.Equal(t, "0xw1", outcome.TxHash)
	assert.Equal(t, "2.5", outcome.Amount.String())
}

func TestHandle_NilResultIsSkipped(t *testing.T) {
	w, exec := newWorker(t, nil)
	exec.On("WithdrawFromWallet", mock.Anything, addr).Return(nil, nil)

	data, err := w.Handle(context.Background(), queuedJob(t, entities.WithdrawJob{Address: addr}))
	require.NoError(t, err)

	outcome := decodeOutcome(t, data)
	assert.True(t, outcome.Skipped)
	assert.Empty(t, outcome.TxHash)
	assert.NotEmpty(t, outcome.Reason)
}

func TestHandle_ErrorIsReturnedForRetry(t *testing.T) {
	w, exec := newWorker(t, nil)
	exec.On("WithdrawFromWallet", mock.Anything, addr).Return(nil, domainerrors.TransactionFailedError("0xw1", 0))

	_, err := w.Handle(context.Background(), queuedJob(t, entities.WithdrawJob{Address: addr}))
	assert.True(t, domainerrors.IsTransactionFailed(err))
}

func TestHandle_LogsQueueAttemptNumber(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	exec := &MockExecutor{signer: chain.NewKeySigner(key)}
	w, err := NewWorker(exec, nil, DefaultConfig(), logger.FromZap(zap.New(core)))
	require.NoError(t, err)
	exec.On("WithdrawFromWallet", mock.Anything, addr).
		Return(&entities.WithdrawResult{TxHash: "0xw1", Amount: big.NewInt(1_000_000)}, nil)

	job := queuedJob(t, entities.WithdrawJob{Address: addr})
	job.Attempts = 2
	_, err = w.Handle(context.Background(), job)
	require.NoError(t, err)

	processed := logs.FilterMessage("Custody job processed").All()
	require.Len(t, processed, 1)
	assert.EqualValues(t, 2, processed[0].ContextMap()["attempt"])
}

func TestHandle_UndecodableJob(t *testing.T) {
	w, exec := newWorker(t, nil)

	_, err := w.Handle(context.Background(), &queue.Job{ID: "1", Name: "mint", Data: []byte(`{"kind":"mint"}`)})
	require.Error(t, err)
	assert.True(t, domainerrors.IsPermanent(err))
	exec.AssertNotCalled(t, "FundWallet", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestWorker_ConsumesQueue(t *testing.T) {
	q := queue.NewMemoryQueue(time.Minute, zap.NewNop())
	w, exec := newWorker(t, q)
	exec.On("WithdrawFromWallet", mock.Anything, addr).Return(nil, errors.New("rpc timeout")).Once()
	exec.On("WithdrawFromWallet", mock.Anything, addr).
		Return(&entities.WithdrawResult{TxHash: "0xw1", Amount: big.NewInt(1_000_000)}, nil).Once()

	done := make(chan []byte, 1)
	q.OnCompleted(func(job *queue.Job, result []byte) { done <- result })

	require.NoError(t, w.Start(context.Background()))
	defer func() { assert.NoError(t, w.Shutdown()) }()

	data, err := entities.EncodeJob(entities.WithdrawJob{Address: addr, BatchID: "b1"})
	require.NoError(t, err)
	_, err = q.Add(context.Background(), string(entities.JobKindWithdraw), data, queue.Options{Attempts: 2})
	require.NoError(t, err)

	select {
	case result := <-done:
		assert.Equal(t, "0xw1", decodeOutcome(t, result).TxHash)
	case <-time.After(5 * time.Second):
		t.Fatal("job was not completed")
	}
	exec.AssertNumberOfCalls(t, "WithdrawFromWallet", 2)
}

func TestWorker_DecryptionFailureFailsWithoutRetry(t *testing.T) {
	q := queue.NewMemoryQueue(time.Minute, zap.NewNop())
	w, exec := newWorker(t, q)
	exec.On("WithdrawFromWallet", mock.Anything, addr).Return(nil, domainerrors.DecryptionError(addr))

	failed := make(chan error, 1)
	q.OnFailed(func(job *queue.Job, err error) { failed <- err })

	require.NoError(t, w.Start(context.Background()))
	defer func() { assert.NoError(t, w.Shutdown()) }()

	data, err := entities.EncodeJob(entities.WithdrawJob{Address: addr, BatchID: "b1"})
	require.NoError(t, err)
	_, err = q.Add(context.Background(), string(entities.JobKindWithdraw), data, queue.Options{Attempts: 5, Backoff: 10 * time.Millisecond})
	require.NoError(t, err)

	select {
	case err := <-failed:
		assert.True(t, domainerrors.IsDecryption(err))
	case <-time.After(5 * time.Second):
		t.Fatal("job did not fail")
	}
	exec.AssertNumberOfCalls(t, "WithdrawFromWallet", 1)
}

package cycle

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rail-service/custody_service/internal/domain/entities"
	domainerrors "github.com/rail-service/custody_service/internal/domain/errors"
	"github.com/rail-service/custody_service/internal/infrastructure/chain"
)

type MockPlanner struct {
	mock.Mock
}

func (m *MockPlanner) Plan(ctx context.Context) (*entities.CyclePlan, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.CyclePlan), args.Error(1)
}

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

type MockBatchStarter struct {
	mock.Mock
}

func (m *MockBatchStarter) StartCycle(ctx context.Context) (*entities.StartResult, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.StartResult), args.Error(1)
}

type MockSummarySender struct {
	mock.Mock
}

func (m *MockSummarySender) SendCycleSummary(ctx context.Context, summary *entities.CycleSummary) error {
	return m.Called(ctx, summary).Error(0)
}

const (
	addrA = "0x00000000000000000000000000000000000000aA"
	addrB = "0x00000000000000000000000000000000000000bB"
)

func newController(t *testing.T) (*Controller, *MockPlanner, *MockExecutor, *MockBatchStarter, *MockSummarySender) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	planner := new(MockPlanner)
	exec := &MockExecutor{signer: chain.NewKeySigner(key)}
	batches := new(MockBatchStarter)
	notifier := new(MockSummarySender)
	c := NewController(planner, exec, batches, notifier,
		Config{TokenSymbol: "USDC", TokenDecimals: 6}, zap.NewNop())
	return c, planner, exec, batches, notifier
}

func syncPlan() *entities.CyclePlan {
	return &entities.CyclePlan{
		Addresses: []string{addrA, addrB},
		GasPrice:  big.NewInt(10_000_000_000),
		Evaluation: &entities.Evaluation{
			Needs:    map[string]*big.Int{addrA: big.NewInt(650_000_000_000_000)},
			Eligible: []string{addrA, addrB},
		},
	}
}

func TestRun_SynchronousCollectsPartialSuccess(t *testing.T) {
	c, planner, exec, _, notifier := newController(t)
	planner.On("Plan", mock.Anything).Return(syncPlan(), nil)
	exec.On("FundWallet", mock.Anything, addrA, big.NewInt(650_000_000_000_000), exec.signer).
		Return(&entities.FundResult{TxHash: "0xf1"}, nil)
	exec.On("WithdrawFromWallet", mock.Anything, addrA).
		Return(&entities.WithdrawResult{TxHash: "0xw1", Amount: big.NewInt(3_000_000)}, nil)
	exec.On("WithdrawFromWallet", mock.Anything, addrB).
		Return(nil, domainerrors.TransactionFailedError("0xw2", 0))

	var summary *entities.CycleSummary
	notifier.On("SendCycleSummary", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { summary = args.Get(1).(*entities.CycleSummary) }).
		Return(nil)

	report, err := c.Run(context.Background(), entities.CycleModeSynchronous)
	require.NoError(t, err)

	assert.Equal(t, entities.CycleModeSynchronous, report.Mode)
	assert.Equal(t, 2, report.Wallets)
	assert.Equal(t, []string{"0xf1"}, report.Funding.TxIDs)
	assert.Empty(t, report.Funding.FailedAddresses)
	assert.Equal(t, []string{"0xw1"}, report.Withdrawals.TxIDs)
	assert.Equal(t, []string{addrB}, report.Withdrawals.FailedAddresses)

	require.NotNil(t, summary)
	assert.Len(t, summary.FundSucceeded, 1)
	assert.Len(t, summary.WithdrawSucceeded, 1)
	assert.Len(t, summary.WithdrawFailed, 1)
	assert.True(t, summary.TotalTokenAmount.Equal(decimal.RequireFromString("3")))
}

func TestRun_SkippedFundingIsReportedAsFailed(t *testing.T) {
	c, planner, exec, _, notifier := newController(t)
	planner.On("Plan", mock.Anything).Return(syncPlan(), nil)
	exec.On("FundWallet", mock.Anything, addrA, mock.Anything, mock.Anything).Return(nil, nil)
	exec.On("WithdrawFromWallet", mock.Anything, mock.Anything).Return(nil, nil)
	notifier.On("SendCycleSummary", mock.Anything, mock.Anything).Return(errors.New("smtp down"))

	report, err := c.Run(context.Background(), entities.CycleModeSynchronous)
	require.NoError(t, err, "summary delivery failures are not cycle failures")
	assert.Equal(t, []string{addrA}, report.Funding.FailedAddresses)
	assert.Empty(t, report.Withdrawals.TxIDs)
	assert.Empty(t, report.Withdrawals.FailedAddresses)
}

func TestRun_QueuedDelegatesToBatch(t *testing.T) {
	c, planner, _, batches, _ := newController(t)
	batches.On("StartCycle", mock.Anything).Return(&entities.StartResult{BatchID: "b1", JobCount: 4}, nil)

	report, err := c.Run(context.Background(), entities.CycleModeQueued)
	require.NoError(t, err)
	require.NotNil(t, report.Batch)
	assert.Equal(t, "b1", report.Batch.BatchID)
	planner.AssertNotCalled(t, "Plan", mock.Anything)
}

func TestRun_InvalidMode(t *testing.T) {
	c, _, _, _, _ := newController(t)
	_, err := c.Run(context.Background(), entities.CycleMode("sometimes"))
	assert.True(t, domainerrors.IsInvalidInput(err))
}

func TestRun_OverlappingRunsAreRejected(t *testing.T) {
	c, planner, _, _, _ := newController(t)
	release := make(chan struct{})
	entered := make(chan struct{})
	planner.On("Plan", mock.Anything).
		Run(func(mock.Arguments) {
			close(entered)
			<-release
		}).
		Return(nil, errors.New("stop here"))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = c.Run(context.Background(), entities.CycleModeSynchronous)
	}()

	<-entered
	_, err := c.Run(context.Background(), entities.CycleModeSynchronous)
	assert.ErrorIs(t, err, ErrCycleRunning)
	assert.True(t, domainerrors.IsConflict(err))

	close(release)
	wg.Wait()
}

func TestRun_CancelledBetweenTransfers(t *testing.T) {
	c, planner, exec, _, notifier := newController(t)
	c.config.TransferDelay = time.Hour
	planner.On("Plan", mock.Anything).Return(syncPlan(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	exec.On("FundWallet", mock.Anything, addrA, mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { cancel() }).
		Return(&entities.FundResult{TxHash: "0xf1"}, nil)

	report, err := c.Run(ctx, entities.CycleModeSynchronous)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, report)
	assert.Equal(t, []string{"0xf1"}, report.Funding.TxIDs)
	exec.AssertNotCalled(t, "WithdrawFromWallet", mock.Anything, mock.Anything)
	notifier.AssertNotCalled(t, "SendCycleSummary", mock.Anything, mock.Anything)
}

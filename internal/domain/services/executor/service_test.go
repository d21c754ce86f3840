package executor

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rail-service/custody_service/internal/domain/entities"
	domainerrors "github.com/rail-service/custody_service/internal/domain/errors"
	"github.com/rail-service/custody_service/internal/infrastructure/chain"
)

// Mock implementations

type MockChainClient struct {
	mock.Mock
}

func (m *MockChainClient) TokenAddress() common.Address {
	return m.Called().Get(0).(common.Address)
}

func (m *MockChainClient) NativeBalance(ctx context.Context, address common.Address) (*big.Int, error) {
	args := m.Called(ctx, address)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*big.Int), args.Error(1)
}

func (m *MockChainClient) TokenBalance(ctx context.Context, address common.Address) (*big.Int, error) {
	args := m.Called(ctx, address)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*big.Int), args.Error(1)
}

func (m *MockChainClient) FeeData(ctx context.Context) (*entities.FeeData, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.FeeData), args.Error(1)
}

func (m *MockChainClient) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	args := m.Called(ctx, msg)
	return args.Get(0).(uint64), args.Error(1)
}

func (m *MockChainClient) EstimateTokenTransfer(ctx context.Context, from, to common.Address, amount *big.Int) (uint64, error) {
	args := m.Called(ctx, from, to, amount)
	return args.Get(0).(uint64), args.Error(1)
}

func (m *MockChainClient) TokenTransferData(to common.Address, amount *big.Int) ([]byte, error) {
	args := m.Called(to, amount)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockChainClient) SendTransaction(ctx context.Context, key chain.Signer, req chain.TxRequest) (*types.Transaction, error) {
	args := m.Called(ctx, key, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.Transaction), args.Error(1)
}

func (m *MockChainClient) WaitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	args := m.Called(ctx, hash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.Receipt), args.Error(1)
}

type MockWalletRepository struct {
	mock.Mock
}

func (m *MockWalletRepository) GetByAddress(ctx context.Context, address string) (*entities.CustodialWallet, error) {
	args := m.Called(ctx, address)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.CustodialWallet), args.Error(1)
}

type MockFundingRepository struct {
	mock.Mock
}

func (m *MockFundingRepository) Create(ctx context.Context, record *entities.FundingRecord) error {
	return m.Called(ctx, record).Error(0)
}

type MockWithdrawalRepository struct {
	mock.Mock
}

func (m *MockWithdrawalRepository) Create(ctx context.Context, record *entities.WithdrawalRecord) error {
	return m.Called(ctx, record).Error(0)
}

type MockKeyDeriver struct {
	mock.Mock
}

func (m *MockKeyDeriver) VerifyOwnership(index int64, address string) (bool, error) {
	args := m.Called(index, address)
	return args.Bool(0), args.Error(1)
}

func (m *MockKeyDeriver) MasterSigner() *ecdsa.PrivateKey {
	return m.Called().Get(0).(*ecdsa.PrivateKey)
}

type MockKeyOpener struct {
	mock.Mock
}

func (m *MockKeyOpener) DecryptWallet(wallet *entities.CustodialWallet) (*ecdsa.PrivateKey, error) {
	args := m.Called(wallet)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ecdsa.PrivateKey), args.Error(1)
}

type fixture struct {
	chain       *MockChainClient
	wallets     *MockWalletRepository
	fundings    *MockFundingRepository
	withdrawals *MockWithdrawalRepository
	deriver     *MockKeyDeriver
	keys        *MockKeyOpener
	master      *ecdsa.PrivateKey
	walletKey   *ecdsa.PrivateKey
	wallet      *entities.CustodialWallet
	service     *Service
}

var (
	settlement = common.HexToAddress("0x000000000000000000000000000000000000dEaD")
	token      = common.HexToAddress("0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238")
	// 20 gwei suggested, capped to 10 gwei
	fees     = &entities.FeeData{GasPrice: big.NewInt(20_000_000_000)}
	capPrice = big.NewInt(10_000_000_000)
)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	master, err := crypto.GenerateKey()
	require.NoError(t, err)
	walletKey, err := crypto.GenerateKey()
	require.NoError(t, err)

	f := &fixture{
		chain:       new(MockChainClient),
		wallets:     new(MockWalletRepository),
		fundings:    new(MockFundingRepository),
		withdrawals: new(MockWithdrawalRepository),
		deriver:     new(MockKeyDeriver),
		keys:        new(MockKeyOpener),
		master:      master,
		walletKey:   walletKey,
		wallet: &entities.CustodialWallet{
			ID:              uuid.New(),
			UserID:          uuid.New(),
			DerivationIndex: 7,
			Address:         crypto.PubkeyToAddress(walletKey.PublicKey).Hex(),
			IsActive:        true,
		},
	}
	f.deriver.On("MasterSigner").Return(master)
	f.chain.On("TokenAddress").Return(token).Maybe()
	f.chain.On("FeeData", mock.Anything).Return(fees, nil).Maybe()

	f.service = NewService(f.chain, f.wallets, f.fundings, f.withdrawals, f.deriver, f.keys,
		entities.DefaultGasPolicy(),
		Config{Settlement: settlement, TokenSymbol: "USDC", TokenDecimals: 6},
		zap.NewNop())
	return f
}

func (f *fixture) masterAddress() common.Address {
	return crypto.PubkeyToAddress(f.master.PublicKey)
}

func testTx(nonce uint64) *types.Transaction {
	return types.NewTx(&types.LegacyTx{Nonce: nonce, Gas: 21_000, GasPrice: capPrice, Value: big.NewInt(0)})
}

func TestFundWallet_InvalidAddress(t *testing.T) {
	f := newFixture(t)

	result, err := f.service.FundWallet(context.Background(), "not-an-address", big.NewInt(1), f.service.MasterSigner())
	assert.Nil(t, result)
	assert.True(t, domainerrors.IsInvalidInput(err))
	f.wallets.AssertNotCalled(t, "GetByAddress", mock.Anything, mock.Anything)
}

func TestFundWallet_UnknownAddress(t *testing.T) {
	f := newFixture(t)
	address := f.wallet.Address
	f.wallets.On("GetByAddress", mock.Anything, address).Return(nil, domainerrors.UnknownAddressError(address))

	result, err := f.service.FundWallet(context.Background(), address, big.NewInt(1), f.service.MasterSigner())
	assert.Nil(t, result)
	assert.True(t, domainerrors.IsUnknownAddress(err))
}

func TestFundWallet_InsufficientSignerBalanceIsSkipped(t *testing.T) {
	f := newFixture(t)
	amount := big.NewInt(650_000_000_000_000)
	f.wallets.On("GetByAddress", mock.Anything, f.wallet.Address).Return(f.wallet, nil)
	f.chain.On("EstimateGas", mock.Anything, mock.Anything).Return(uint64(21_000), nil)
	f.chain.On("NativeBalance", mock.Anything, f.masterAddress()).Return(amount, nil)

	result, err := f.service.FundWallet(context.Background(), f.wallet.Address, amount, f.service.MasterSigner())
	require.NoError(t, err)
	assert.Nil(t, result)
	f.chain.AssertNotCalled(t, "SendTransaction", mock.Anything, mock.Anything, mock.Anything)
	f.fundings.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestFundWallet_Success(t *testing.T) {
	f := newFixture(t)
	amount := big.NewInt(650_000_000_000_000)
	tx := testTx(3)
	f.wallets.On("GetByAddress", mock.Anything, f.wallet.Address).Return(f.wallet, nil)
	f.chain.On("EstimateGas", mock.Anything, mock.Anything).Return(uint64(0), errors.New("estimate failed"))
	f.chain.On("NativeBalance", mock.Anything, f.masterAddress()).Return(big.NewInt(1_000_000_000_000_000_000), nil)
	f.chain.On("SendTransaction", mock.Anything, f.service.MasterSigner(), mock.MatchedBy(func(req chain.TxRequest) bool {
		return req.To == common.HexToAddress(f.wallet.Address) &&
			req.Value.Cmp(amount) == 0 &&
			req.GasLimit == 21_000 &&
			req.GasPrice.Cmp(capPrice) == 0
	})).Return(tx, nil)
	f.chain.On("WaitMined", mock.Anything, tx.Hash()).Return(&types.Receipt{Status: types.ReceiptStatusSuccessful, GasUsed: 21_000}, nil)

	var saved *entities.FundingRecord
	f.fundings.On("Create", mock.Anything, mock.AnythingOfType("*entities.FundingRecord")).
		Run(func(args mock.Arguments) { saved = args.Get(1).(*entities.FundingRecord) }).
		Return(nil)

	ctx := WithBatch(context.Background(), "batch-1")
	result, err := f.service.FundWallet(ctx, f.wallet.Address, amount, f.service.MasterSigner())
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, tx.Hash().Hex(), result.TxHash)
	assert.Equal(t, big.NewInt(210_000_000_000_000), result.Fee)

	require.NotNil(t, saved)
	assert.Equal(t, entities.RecordStatusCompleted, saved.Status)
	assert.Equal(t, f.wallet.UserID, saved.UserID)
	assert.Equal(t, entities.NativeCurrency, saved.Currency)
	assert.True(t, saved.Amount.Equal(decimal.RequireFromString("0.00065")))
	assert.True(t, saved.FeeAmount.Equal(decimal.RequireFromString("0.00021")))
	require.NotNil(t, saved.BatchID)
	assert.Equal(t, "batch-1", *saved.BatchID)
}

func TestFundWallet_FailedReceiptPersistsFailedRecord(t *testing.T) {
	f := newFixture(t)
	amount := big.NewInt(100_000_000_000_000)
	tx := testTx(4)
	f.wallets.On("GetByAddress", mock.Anything, f.wallet.Address).Return(f.wallet, nil)
	f.chain.On("EstimateGas", mock.Anything, mock.Anything).Return(uint64(21_000), nil)
	f.chain.On("NativeBalance", mock.Anything, f.masterAddress()).Return(big.NewInt(1_000_000_000_000_000_000), nil)
	f.chain.On("SendTransaction", mock.Anything, mock.Anything, mock.Anything).Return(tx, nil)
	f.chain.On("WaitMined", mock.Anything, tx.Hash()).Return(&types.Receipt{Status: types.ReceiptStatusFailed, GasUsed: 21_000}, nil)
	f.fundings.On("Create", mock.Anything, mock.MatchedBy(func(r *entities.FundingRecord) bool {
		return r.Status == entities.RecordStatusFailed && r.TxID == tx.Hash().Hex() && r.BatchID == nil
	})).Return(nil)

	result, err := f.service.FundWallet(context.Background(), f.wallet.Address, amount, f.service.MasterSigner())
	assert.Nil(t, result)
	assert.True(t, domainerrors.IsTransactionFailed(err))
	assert.True(t, domainerrors.IsRetryable(err))
	f.fundings.AssertExpectations(t)
}

func TestFundWallet_SubmitErrorPropagates(t *testing.T) {
	f := newFixture(t)
	f.wallets.On("GetByAddress", mock.Anything, f.wallet.Address).Return(f.wallet, nil)
	f.chain.On("EstimateGas", mock.Anything, mock.Anything).Return(uint64(21_000), nil)
	f.chain.On("NativeBalance", mock.Anything, mock.Anything).Return(big.NewInt(1_000_000_000_000_000_000), nil)
	f.chain.On("SendTransaction", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, domainerrors.NetworkError("eth_sendRawTransaction", errors.New("nonce too low")))

	_, err := f.service.FundWallet(context.Background(), f.wallet.Address, big.NewInt(100_000_000_000_000), f.service.MasterSigner())
	assert.True(t, domainerrors.IsNetwork(err))
	f.fundings.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestWithdrawFromWallet_OwnershipMismatch(t *testing.T) {
	f := newFixture(t)
	f.wallets.On("GetByAddress", mock.Anything, f.wallet.Address).Return(f.wallet, nil)
	f.deriver.On("VerifyOwnership", int64(7), f.wallet.Address).Return(false, nil)

	result, err := f.service.WithdrawFromWallet(context.Background(), f.wallet.Address)
	assert.Nil(t, result)
	assert.True(t, domainerrors.IsOwnershipMismatch(err))
	f.keys.AssertNotCalled(t, "DecryptWallet", mock.Anything)
}

func TestWithdrawFromWallet_DecryptionFailure(t *testing.T) {
	f := newFixture(t)
	f.wallets.On("GetByAddress", mock.Anything, f.wallet.Address).Return(f.wallet, nil)
	f.deriver.On("VerifyOwnership", int64(7), f.wallet.Address).Return(true, nil)
	f.keys.On("DecryptWallet", f.wallet).Return(nil, domainerrors.DecryptionError(f.wallet.Address))

	_, err := f.service.WithdrawFromWallet(context.Background(), f.wallet.Address)
	assert.True(t, domainerrors.IsDecryption(err))
	f.chain.AssertNotCalled(t, "TokenBalance", mock.Anything, mock.Anything)
}

func (f *fixture) expectUnlocked() {
	f.wallets.On("GetByAddress", mock.Anything, f.wallet.Address).Return(f.wallet, nil)
	f.deriver.On("VerifyOwnership", int64(7), f.wallet.Address).Return(true, nil)
	f.keys.On("DecryptWallet", f.wallet).Return(f.walletKey, nil)
}

func TestWithdrawFromWallet_BalanceAtThresholdIsSkipped(t *testing.T) {
	f := newFixture(t)
	f.expectUnlocked()
	f.chain.On("TokenBalance", mock.Anything, common.HexToAddress(f.wallet.Address)).Return(big.NewInt(100_000), nil)

	result, err := f.service.WithdrawFromWallet(context.Background(), f.wallet.Address)
	require.NoError(t, err)
	assert.Nil(t, result)
	f.chain.AssertNotCalled(t, "SendTransaction", mock.Anything, mock.Anything, mock.Anything)
}

func TestWithdrawFromWallet_NotEnoughGasIsSkipped(t *testing.T) {
	f := newFixture(t)
	f.expectUnlocked()
	addr := common.HexToAddress(f.wallet.Address)
	f.chain.On("TokenBalance", mock.Anything, addr).Return(big.NewInt(5_000_000), nil)
	f.chain.On("EstimateTokenTransfer", mock.Anything, addr, settlement, big.NewInt(5_000_000)).Return(uint64(65_000), nil)
	// one wei short of 65000 * 10 gwei
	f.chain.On("NativeBalance", mock.Anything, addr).Return(big.NewInt(649_999_999_999_999), nil)

	result, err := f.service.WithdrawFromWallet(context.Background(), f.wallet.Address)
	require.NoError(t, err)
	assert.Nil(t, result)
	f.withdrawals.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestWithdrawFromWallet_Success(t *testing.T) {
	f := newFixture(t)
	f.expectUnlocked()
	addr := common.HexToAddress(f.wallet.Address)
	balance := big.NewInt(2_500_000)
	calldata := []byte{0xa9, 0x05, 0x9c, 0xbb}
	tx := testTx(0)

	f.chain.On("TokenBalance", mock.Anything, addr).Return(balance, nil)
	f.chain.On("EstimateTokenTransfer", mock.Anything, addr, settlement, balance).Return(uint64(90_000), nil)
	f.chain.On("NativeBalance", mock.Anything, addr).Return(big.NewInt(650_000_000_000_000), nil)
	f.chain.On("TokenTransferData", settlement, balance).Return(calldata, nil)
	f.chain.On("SendTransaction", mock.Anything, mock.MatchedBy(func(s chain.Signer) bool {
		return s.Address() == addr
	}), mock.MatchedBy(func(req chain.TxRequest) bool {
		return req.To == token &&
			req.Value.Sign() == 0 &&
			req.GasLimit == 65_000 &&
			string(req.Data) == string(calldata)
	})).Return(tx, nil)
	f.chain.On("WaitMined", mock.Anything, tx.Hash()).Return(&types.Receipt{Status: types.ReceiptStatusSuccessful, GasUsed: 50_000}, nil)

	var saved *entities.WithdrawalRecord
	f.withdrawals.On("Create", mock.Anything, mock.AnythingOfType("*entities.WithdrawalRecord")).
		Run(func(args mock.Arguments) { saved = args.Get(1).(*entities.WithdrawalRecord) }).
		Return(nil)

	result, err := f.service.WithdrawFromWallet(context.Background(), f.wallet.Address)
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, balance, result.Amount)
	assert.Equal(t, big.NewInt(500_000_000_000_000), result.Fee)
	require.NotNil(t, saved)
	assert.Equal(t, entities.RecordStatusCompleted, saved.Status)
	assert.Equal(t, "USDC", saved.Currency)
	assert.True(t, saved.Amount.Equal(decimal.RequireFromString("2.5")))
}

func TestWithdrawFromWallet_FailedReceipt(t *testing.T) {
	f := newFixture(t)
	f.expectUnlocked()
	addr := common.HexToAddress(f.wallet.Address)
	tx := testTx(1)

	f.chain.On("TokenBalance", mock.Anything, addr).Return(big.NewInt(2_500_000), nil)
	f.chain.On("EstimateTokenTransfer", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(uint64(60_000), nil)
	f.chain.On("NativeBalance", mock.Anything, addr).Return(big.NewInt(1_000_000_000_000_000), nil)
	f.chain.On("TokenTransferData", mock.Anything, mock.Anything).Return([]byte{0x01}, nil)
	f.chain.On("SendTransaction", mock.Anything, mock.Anything, mock.Anything).Return(tx, nil)
	f.chain.On("WaitMined", mock.Anything, tx.Hash()).Return(&types.Receipt{Status: types.ReceiptStatusFailed, GasUsed: 60_000}, nil)
	f.withdrawals.On("Create", mock.Anything, mock.MatchedBy(func(r *entities.WithdrawalRecord) bool {
		return r.Status == entities.RecordStatusFailed
	})).Return(nil)

	_, err := f.service.WithdrawFromWallet(context.Background(), f.wallet.Address)
	assert.True(t, domainerrors.IsTransactionFailed(err))
	f.withdrawals.AssertExpectations(t)
}

func TestFundAddresses_ReportsPartialSuccess(t *testing.T) {
	f := newFixture(t)
	amount := big.NewInt(100_000_000_000_000)
	tx := testTx(9)
	unknown := "0x00000000000000000000000000000000000000aA"

	f.wallets.On("GetByAddress", mock.Anything, f.wallet.Address).Return(f.wallet, nil)
	f.wallets.On("GetByAddress", mock.Anything, unknown).Return(nil, domainerrors.UnknownAddressError(unknown))
	f.chain.On("EstimateGas", mock.Anything, mock.Anything).Return(uint64(21_000), nil)
	f.chain.On("NativeBalance", mock.Anything, f.masterAddress()).Return(big.NewInt(1_000_000_000_000_000_000), nil)
	f.chain.On("SendTransaction", mock.Anything, mock.Anything, mock.Anything).Return(tx, nil)
	f.chain.On("WaitMined", mock.Anything, tx.Hash()).Return(&types.Receipt{Status: types.ReceiptStatusSuccessful, GasUsed: 21_000}, nil)
	f.fundings.On("Create", mock.Anything, mock.Anything).Return(nil)

	report, err := f.service.FundAddresses(context.Background(), []string{f.wallet.Address, unknown, "bogus"}, amount)
	require.NoError(t, err)
	assert.Equal(t, []string{tx.Hash().Hex()}, report.TxIDs)
	assert.Equal(t, []string{unknown, "bogus"}, report.FailedAddresses)
}

func TestWithBatch(t *testing.T) {
	assert.Nil(t, batchFrom(context.Background()))
	assert.Nil(t, batchFrom(WithBatch(context.Background(), "")))

	id := batchFrom(WithBatch(context.Background(), "b"))
	require.NotNil(t, id)
	assert.Equal(t, "b", *id)
}

package eligibility

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rail-service/custody_service/internal/domain/entities"
)

type MockAddressSource struct {
	mock.Mock
}

func (m *MockAddressSource) DistinctAddresses(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

type MockFeeSource struct {
	mock.Mock
}

func (m *MockFeeSource) FeeData(ctx context.Context) (*entities.FeeData, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.FeeData), args.Error(1)
}

func TestPlanner_Plan(t *testing.T) {
	chain := new(MockChainReader)
	a := common.HexToAddress(addrA)
	chain.On("NativeBalance", mock.Anything, a).Return(big.NewInt(0), nil)
	chain.On("TokenBalance", mock.Anything, a).Return(big.NewInt(1_000_000), nil)
	chain.On("EstimateTokenTransfer", mock.Anything, a, settlement, mock.Anything).Return(uint64(65_000), nil)

	source := new(MockAddressSource)
	source.On("DistinctAddresses", mock.Anything).Return([]string{addrA}, nil)
	fees := new(MockFeeSource)
	fees.On("FeeData", mock.Anything).Return(&entities.FeeData{
		GasPrice:     big.NewInt(1_000_000_000),
		MaxFeePerGas: big.NewInt(3_000_000_000),
	}, nil).Once()

	planner := NewPlanner(source, fees, newTestService(chain), zap.NewNop())
	plan, err := planner.Plan(context.Background())
	require.NoError(t, err)

	// the effective price is MaxFeePerGas
	assert.Equal(t, big.NewInt(3_000_000_000), plan.GasPrice)
	assert.Equal(t, []string{addrA}, plan.Evaluation.Eligible)
	assert.Equal(t, big.NewInt(195_000_000_000_000), plan.Evaluation.Needs[addrA])
	fees.AssertExpectations(t)
}

func TestPlanner_PlanErrors(t *testing.T) {
	source := new(MockAddressSource)
	source.On("DistinctAddresses", mock.Anything).Return(nil, errors.New("db down")).Once()
	fees := new(MockFeeSource)

	planner := NewPlanner(source, fees, newTestService(new(MockChainReader)), zap.NewNop())
	_, err := planner.Plan(context.Background())
	assert.ErrorContains(t, err, "db down")

	source.On("DistinctAddresses", mock.Anything).Return([]string{addrA}, nil)
	fees.On("FeeData", mock.Anything).Return(&entities.FeeData{}, nil)
	_, err = planner.Plan(context.Background())
	assert.ErrorContains(t, err, "no gas price")
}

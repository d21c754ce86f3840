package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
)

// Minimal ERC20 ABI for balanceOf and transfer
const erc20ABI = `[
	{
		"constant": true,
		"inputs": [{"name": "_owner", "type": "address"}],
		"name": "balanceOf",
		"outputs": [{"name": "balance", "type": "uint256"}],
		"type": "function"
	},
	{
		"constant": false,
		"inputs": [
			{"name": "_to", "type": "address"},
			{"name": "_value", "type": "uint256"}
		],
		"name": "transfer",
		"outputs": [{"name": "", "type": "bool"}],
		"type": "function"
	}
]`

// TokenBalance returns the token balance of address in base units.
func (c *Client) TokenBalance(ctx context.Context, address common.Address) (*big.Int, error) {
	data, err := c.erc20.Pack("balanceOf", address)
	if err != nil {
		return nil, fmt.Errorf("failed to pack balanceOf: %w", err)
	}

	token := c.token
	out, err := c.call(ctx, "eth_call", func(ctx context.Context) (interface{}, error) {
		return c.backend.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	})
	if err != nil {
		return nil, err
	}

	result := out.([]byte)
	// an empty result means the address never touched the token
	if len(result) == 0 {
		return big.NewInt(0), nil
	}

	values, err := c.erc20.Unpack("balanceOf", result)
	if err != nil || len(values) == 0 {
		return nil, fmt.Errorf("failed to unpack balance: %w", err)
	}
	balance, ok := values[0].(*big.Int)
	if !ok || balance == nil {
		return big.NewInt(0), nil
	}
	return balance, nil
}

// TokenTransferData encodes transfer(to, amount) calldata.
func (c *Client) TokenTransferData(to common.Address, amount *big.Int) ([]byte, error) {
	data, err := c.erc20.Pack("transfer", to, amount)
	if err != nil {
		return nil, fmt.Errorf("failed to pack transfer: %w", err)
	}
	return data, nil
}

// EstimateTokenTransfer estimates gas for from sending amount tokens to to.
func (c *Client) EstimateTokenTransfer(ctx context.Context, from, to common.Address, amount *big.Int) (uint64, error) {
	data, err := c.TokenTransferData(to, amount)
	if err != nil {
		return 0, err
	}
	token := c.token
	return c.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &token, Data: data})
}

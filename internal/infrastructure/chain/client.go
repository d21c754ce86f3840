package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/rail-service/custody_service/internal/domain/entities"
	domainerrors "github.com/rail-service/custody_service/internal/domain/errors"
	"github.com/rail-service/custody_service/internal/infrastructure/config"
	"github.com/rail-service/custody_service/pkg/metrics"
)

// defaultTipCap is used when the node cannot suggest a priority fee (1.5 gwei).
var defaultTipCap = big.NewInt(1_500_000_000)

// Backend is the subset of ethclient.Client the custody service calls.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	Close()
}

// Client reads balances and fees from the RPC endpoint and submits signed
// transactions. It is created once at startup and shared by reference.
type Client struct {
	backend        Backend
	chainID        *big.Int
	token          common.Address
	erc20          abi.ABI
	breaker        *gobreaker.CircuitBreaker
	limiter        *rate.Limiter
	nonces         *NonceLocker
	receiptTimeout time.Duration
	receiptPoll    time.Duration
	logger         *zap.Logger
}

// Connect validates the chain config, dials the RPC endpoint and resolves the chain id.
// Missing settings are ConfigurationErrors; dial failures are NetworkErrors.
func Connect(ctx context.Context, cfg config.ChainConfig, logger *zap.Logger) (*Client, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	rpc, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, domainerrors.NetworkError("dial", err)
	}

	client, err := NewClient(ctx, rpc, cfg, logger)
	if err != nil {
		rpc.Close()
		return nil, err
	}
	return client, nil
}

// NewClient wraps an already connected backend.
func NewClient(ctx context.Context, backend Backend, cfg config.ChainConfig, logger *zap.Logger) (*Client, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	parsed, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ERC20 ABI: %w", err)
	}

	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 10
	}
	receiptTimeout := cfg.ReceiptTimeoutDuration()
	if receiptTimeout <= 0 {
		receiptTimeout = 3 * time.Minute
	}
	receiptPoll := time.Duration(cfg.ReceiptPoll) * time.Millisecond
	if receiptPoll <= 0 {
		receiptPoll = 2 * time.Second
	}

	c := &Client{
		backend: backend,
		token:   common.HexToAddress(cfg.TokenAddress),
		erc20:   parsed,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "rpc",
			MaxRequests: 3,
			Interval:    30 * time.Second,
			Timeout:     20 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures > 5
			},
			IsSuccessful: func(err error) bool {
				// a missing receipt is the normal pending state
				return err == nil || errors.Is(err, ethereum.NotFound) || errors.Is(err, context.Canceled)
			},
		}),
		limiter:        rate.NewLimiter(rate.Limit(rps), rps),
		nonces:         NewNonceLocker(),
		receiptTimeout: receiptTimeout,
		receiptPoll:    receiptPoll,
		logger:         logger,
	}

	if cfg.ChainID > 0 {
		c.chainID = big.NewInt(cfg.ChainID)
	} else {
		id, err := c.call(ctx, "eth_chainId", func(ctx context.Context) (interface{}, error) {
			return backend.ChainID(ctx)
		})
		if err != nil {
			return nil, err
		}
		c.chainID = id.(*big.Int)
	}

	logger.Info("Chain client initialized",
		zap.String("chain_id", c.chainID.String()),
		zap.String("token", c.token.Hex()))

	return c, nil
}

func validateConfig(cfg config.ChainConfig) error {
	if strings.TrimSpace(cfg.RPCURL) == "" {
		return domainerrors.ConfigurationError("chain.rpc_url", "RPC URL is required")
	}
	if !common.IsHexAddress(cfg.TokenAddress) {
		return domainerrors.ConfigurationError("chain.token_address", "token contract address is missing or malformed")
	}
	return nil
}

// call runs one RPC through the limiter and breaker. Failures become NetworkErrors.
func (c *Client) call(ctx context.Context, method string, fn func(context.Context) (interface{}, error)) (interface{}, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, domainerrors.NetworkError(method, err)
	}
	out, err := c.breaker.Execute(func() (interface{}, error) {
		return fn(ctx)
	})
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, err
		}
		metrics.RPCErrorsTotal.WithLabelValues(method).Inc()
		return nil, domainerrors.NetworkError(method, err)
	}
	return out, nil
}

// ChainID returns the resolved chain id.
func (c *Client) ChainID() *big.Int {
	return new(big.Int).Set(c.chainID)
}

// TokenAddress returns the configured ERC20 contract.
func (c *Client) TokenAddress() common.Address {
	return c.token
}

// NativeBalance returns the wei balance of address at the latest block.
func (c *Client) NativeBalance(ctx context.Context, address common.Address) (*big.Int, error) {
	out, err := c.call(ctx, "eth_getBalance", func(ctx context.Context) (interface{}, error) {
		return c.backend.BalanceAt(ctx, address, nil)
	})
	if err != nil {
		return nil, err
	}
	return out.(*big.Int), nil
}

// FeeData returns the node's gas price and, on EIP-1559 chains, a max fee of 2*baseFee + tip.
func (c *Client) FeeData(ctx context.Context) (*entities.FeeData, error) {
	out, err := c.call(ctx, "eth_gasPrice", func(ctx context.Context) (interface{}, error) {
		return c.backend.SuggestGasPrice(ctx)
	})
	if err != nil {
		return nil, err
	}
	fd := &entities.FeeData{GasPrice: out.(*big.Int)}

	head, err := c.call(ctx, "eth_getBlockByNumber", func(ctx context.Context) (interface{}, error) {
		return c.backend.HeaderByNumber(ctx, nil)
	})
	if err != nil {
		c.logger.Warn("Failed to read head block, using legacy gas price", zap.Error(err))
		return fd, nil
	}
	header := head.(*types.Header)
	if header.BaseFee == nil {
		return fd, nil
	}

	tip := new(big.Int).Set(defaultTipCap)
	if suggested, err := c.call(ctx, "eth_maxPriorityFeePerGas", func(ctx context.Context) (interface{}, error) {
		return c.backend.SuggestGasTipCap(ctx)
	}); err == nil {
		tip = suggested.(*big.Int)
	}

	fd.MaxPriorityFeePerGas = tip
	fd.MaxFeePerGas = new(big.Int).Add(new(big.Int).Mul(header.BaseFee, big.NewInt(2)), tip)
	return fd, nil
}

// EstimateGas estimates the gas a call would use.
func (c *Client) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	out, err := c.call(ctx, "eth_estimateGas", func(ctx context.Context) (interface{}, error) {
		return c.backend.EstimateGas(ctx, msg)
	})
	if err != nil {
		return 0, err
	}
	return out.(uint64), nil
}

// TxRequest describes a legacy transaction to sign and submit.
type TxRequest struct {
	To       common.Address
	Value    *big.Int
	Data     []byte
	GasLimit uint64
	GasPrice *big.Int
}

// SendTransaction signs req with key and submits it. Nonce lookup and
// submission are serialized per signer so concurrent jobs never reuse a nonce.
func (c *Client) SendTransaction(ctx context.Context, key Signer, req TxRequest) (*types.Transaction, error) {
	from := key.Address()
	unlock := c.nonces.Lock(from)
	defer unlock()

	out, err := c.call(ctx, "eth_getTransactionCount", func(ctx context.Context) (interface{}, error) {
		return c.backend.PendingNonceAt(ctx, from)
	})
	if err != nil {
		return nil, err
	}
	nonce := out.(uint64)

	value := req.Value
	if value == nil {
		value = big.NewInt(0)
	}
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &req.To,
		Value:    value,
		Gas:      req.GasLimit,
		GasPrice: req.GasPrice,
		Data:     req.Data,
	})

	signed, err := key.Sign(tx, c.chainID)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}

	if _, err := c.call(ctx, "eth_sendRawTransaction", func(ctx context.Context) (interface{}, error) {
		return nil, c.backend.SendTransaction(ctx, signed)
	}); err != nil {
		return nil, err
	}

	c.logger.Info("Transaction submitted",
		zap.String("tx_hash", signed.Hash().Hex()),
		zap.String("from", from.Hex()),
		zap.String("to", req.To.Hex()),
		zap.Uint64("nonce", nonce))

	return signed, nil
}

// WaitMined polls for the receipt of hash until it is mined or the receipt timeout elapses.
func (c *Client) WaitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, c.receiptTimeout)
	defer cancel()

	ticker := time.NewTicker(c.receiptPoll)
	defer ticker.Stop()

	for {
		out, err := c.call(ctx, "eth_getTransactionReceipt", func(ctx context.Context) (interface{}, error) {
			return c.backend.TransactionReceipt(ctx, hash)
		})
		if err == nil {
			return out.(*types.Receipt), nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			c.logger.Debug("Receipt lookup failed, retrying",
				zap.String("tx_hash", hash.Hex()),
				zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return nil, domainerrors.NetworkError("wait_mined", fmt.Errorf("transaction %s not mined: %w", hash.Hex(), ctx.Err()))
		case <-ticker.C:
		}
	}
}

// Close releases the RPC connection.
func (c *Client) Close() {
	c.backend.Close()
}

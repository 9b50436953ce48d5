// Package ledger talks to the settlement contracts on Base.
package ledger

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
)

const (
	ChainIDBase        int64 = 8453
	ChainIDBaseSepolia int64 = 84532
)

// DefaultChainID picks mainnet in production and Sepolia elsewhere.
func DefaultChainID(production bool) int64 {
	if production {
		return ChainIDBase
	}
	return ChainIDBaseSepolia
}

var (
	ErrSimulation  = errors.New("contract call simulation failed")
	ErrReverted    = errors.New("transaction reverted")
	ErrNotIncluded = errors.New("transaction not included in time")
)

type TxHandle struct {
	Hash     common.Hash
	Contract common.Address
	Function string
}

type Receipt struct {
	TxHash      common.Hash
	BlockNumber uint64
	GasUsed     uint64
}

// Client is the surface the settlement code needs from the chain.
type Client interface {
	VerifySignature(message, signature, identity string) (bool, error)
	SimulateAndSubmit(ctx context.Context, contract common.Address, function string, args ...any) (TxHandle, error)
	AwaitInclusion(ctx context.Context, tx TxHandle) (Receipt, error)
}

// Backend is the subset of ethclient.Client used for submission.
type Backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

type Option func(*EthClient)

func WithInclusionTimeout(d time.Duration) Option {
	return func(c *EthClient) {
		if d > 0 {
			c.inclusionTimeout = d
		}
	}
}

func WithPollInterval(d time.Duration) Option {
	return func(c *EthClient) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *EthClient) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// EthClient signs and submits transactions with the server wallet.
type EthClient struct {
	backend          Backend
	closer           func()
	abi              abi.ABI
	key              *ecdsa.PrivateKey
	from             common.Address
	chainID          *big.Int
	inclusionTimeout time.Duration
	pollInterval     time.Duration
	logger           *zap.Logger

	// serializes nonce allocation for the single server wallet
	sendMu sync.Mutex
}

var _ Client = (*EthClient)(nil)

func NewEthClient(backend Backend, key *ecdsa.PrivateKey, chainID int64, opts ...Option) (*EthClient, error) {
	if backend == nil {
		return nil, errors.New("ledger backend is required")
	}
	if key == nil {
		return nil, errors.New("wallet key is required")
	}
	parsed, err := parseABI()
	if err != nil {
		return nil, fmt.Errorf("parse contract abi: %w", err)
	}
	c := &EthClient{
		backend:          backend,
		abi:              parsed,
		key:              key,
		from:             crypto.PubkeyToAddress(key.PublicKey),
		chainID:          big.NewInt(chainID),
		inclusionTimeout: 90 * time.Second,
		pollInterval:     2 * time.Second,
		logger:           zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Dial connects to an RPC endpoint and loads the wallet key from hex.
func Dial(ctx context.Context, rpcURL, privateKeyHex string, chainID int64, opts ...Option) (*EthClient, error) {
	key, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("parse wallet key: %w", err)
	}
	rpc, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial chain rpc: %w", err)
	}
	c, err := NewEthClient(rpc, key, chainID, opts...)
	if err != nil {
		rpc.Close()
		return nil, err
	}
	c.closer = rpc.Close
	return c, nil
}

func (c *EthClient) Close() {
	if c.closer != nil {
		c.closer()
	}
}

// From returns the server wallet address.
func (c *EthClient) From() common.Address { return c.from }

func (c *EthClient) VerifySignature(message, signature, identity string) (bool, error) {
	return VerifyPersonalSignature(message, signature, identity)
}

// SimulateAndSubmit dry-runs the call, then signs and broadcasts it.
// Nothing is sent when the simulation fails.
func (c *EthClient) SimulateAndSubmit(ctx context.Context, contract common.Address, function string, args ...any) (TxHandle, error) {
	data, err := c.abi.Pack(function, args...)
	if err != nil {
		return TxHandle{}, fmt.Errorf("pack %s: %w", function, err)
	}
	msg := ethereum.CallMsg{From: c.from, To: &contract, Data: data}
	if _, err := c.backend.CallContract(ctx, msg, nil); err != nil {
		return TxHandle{}, fmt.Errorf("%w: %s: %v", ErrSimulation, function, err)
	}
	gas, err := c.backend.EstimateGas(ctx, msg)
	if err != nil {
		return TxHandle{}, fmt.Errorf("%w: estimate gas for %s: %v", ErrSimulation, function, err)
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	nonce, err := c.backend.PendingNonceAt(ctx, c.from)
	if err != nil {
		return TxHandle{}, fmt.Errorf("pending nonce: %w", err)
	}
	tip, err := c.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return TxHandle{}, fmt.Errorf("suggest tip: %w", err)
	}
	head, err := c.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return TxHandle{}, fmt.Errorf("latest header: %w", err)
	}
	feeCap := new(big.Int).Mul(tip, big.NewInt(2))
	if head.BaseFee != nil {
		feeCap = new(big.Int).Add(tip, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   c.chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas + gas/5,
		To:        &contract,
		Data:      data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), c.key)
	if err != nil {
		return TxHandle{}, fmt.Errorf("sign %s: %w", function, err)
	}
	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		return TxHandle{}, fmt.Errorf("send %s: %w", function, err)
	}

	c.logger.Info("ledger_tx_sent",
		zap.String("function", function),
		zap.String("contract", contract.Hex()),
		zap.String("tx", signed.Hash().Hex()),
		zap.Uint64("nonce", nonce),
	)
	return TxHandle{Hash: signed.Hash(), Contract: contract, Function: function}, nil
}

// AwaitInclusion polls for the receipt until the inclusion timeout.
func (c *EthClient) AwaitInclusion(ctx context.Context, tx TxHandle) (Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, c.inclusionTimeout)
	defer cancel()

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.backend.TransactionReceipt(ctx, tx.Hash)
		switch {
		case err == nil && receipt != nil:
			if receipt.Status != types.ReceiptStatusSuccessful {
				return Receipt{}, fmt.Errorf("%w: %s %s", ErrReverted, tx.Function, tx.Hash.Hex())
			}
			var block uint64
			if receipt.BlockNumber != nil {
				block = receipt.BlockNumber.Uint64()
			}
			return Receipt{TxHash: tx.Hash, BlockNumber: block, GasUsed: receipt.GasUsed}, nil
		case err != nil && !errors.Is(err, ethereum.NotFound):
			c.logger.Debug("ledger_receipt_poll_failed", zap.String("tx", tx.Hash.Hex()), zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return Receipt{}, fmt.Errorf("%w: %s %s", ErrNotIncluded, tx.Function, tx.Hash.Hex())
		case <-ticker.C:
		}
	}
}

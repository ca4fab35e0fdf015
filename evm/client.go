// Package evm is the facilitator's connection to an EVM chain: token reads,
// signed submissions from the facilitator key, and receipt polling.
package evm

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/rs/zerolog"

	x402 "github.com/mark3labs/x402-facilitator"
	"github.com/mark3labs/x402-facilitator/retry"
)

const (
	// DefaultGasLimit matches the limit used for transferWithAuthorization by reference facilitators.
	DefaultGasLimit uint64 = 300000

	// DefaultConfirmTimeout bounds how long a submission waits for its receipt.
	DefaultConfirmTimeout = 60 * time.Second

	// DefaultPollInterval is the receipt polling period.
	DefaultPollInterval = time.Second

	// fallbackTokenVersion is used when the token has no version() method.
	fallbackTokenVersion = "1"
)

var (
	// ErrSubmission indicates the node rejected or never received a transaction.
	ErrSubmission = errors.New("evm: transaction submission failed")

	// ErrBroadcastUnknown indicates a signed transaction may or may not have
	// reached the node. It must be tracked by hash, never resent.
	ErrBroadcastUnknown = errors.New("evm: broadcast outcome unknown")

	// ErrChainIDMismatch indicates the RPC endpoint serves a different chain.
	ErrChainIDMismatch = errors.New("evm: chain id mismatch")
)

// ReceiptStatus is the outcome of waiting for a transaction.
type ReceiptStatus string

const (
	ReceiptConfirmed ReceiptStatus = "confirmed"
	ReceiptReverted  ReceiptStatus = "reverted"
	ReceiptPending   ReceiptStatus = "pending"
)

// Receipt summarizes a submitted transaction.
type Receipt struct {
	TxHash      common.Hash
	Status      ReceiptStatus
	BlockNumber uint64
	GasUsed     uint64

	// Detail explains a pending status, e.g. the send error of an uncertain broadcast.
	Detail string
}

// AuthorizationCall holds the arguments of transferWithAuthorization.
type AuthorizationCall struct {
	From        common.Address
	To          common.Address
	Value       *big.Int
	ValidAfter  *big.Int
	ValidBefore *big.Int
	Nonce       [32]byte
	V           uint8
	R           [32]byte
	S           [32]byte
}

// Backend is the subset of ethclient.Client used by Client.
type Backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Config configures a Client.
type Config struct {
	Token          common.Address
	ChainID        *big.Int
	GasLimit       uint64
	ConfirmTimeout time.Duration
	PollInterval   time.Duration
	Retry          retry.Config
}

func (c *Config) applyDefaults() {
	if c.GasLimit == 0 {
		c.GasLimit = DefaultGasLimit
	}
	if c.ConfirmTimeout <= 0 {
		c.ConfirmTimeout = DefaultConfirmTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry = retry.DefaultConfig
	}
}

// Client reads the token contract and submits transactions from a single key.
// Submissions are serialized so pending-nonce lookup, signing and broadcast
// never interleave.
type Client struct {
	backend Backend
	key     *ecdsa.PrivateKey
	address common.Address
	signer  types.Signer
	cfg     Config
	logger  zerolog.Logger

	submitMu sync.Mutex
}

// Dial connects to rpcURL and checks that it serves cfg.ChainID.
func Dial(ctx context.Context, rpcURL string, key *ecdsa.PrivateKey, cfg Config, logger zerolog.Logger) (*Client, error) {
	ec, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", x402.ErrLedgerUnavailable, rpcURL, err)
	}

	chainID, err := ec.ChainID(ctx)
	if err != nil {
		ec.Close()
		return nil, fmt.Errorf("%w: chain id: %v", x402.ErrLedgerUnavailable, err)
	}
	if cfg.ChainID != nil && chainID.Cmp(cfg.ChainID) != 0 {
		ec.Close()
		return nil, fmt.Errorf("%w: rpc serves %s, configured %s", ErrChainIDMismatch, chainID, cfg.ChainID)
	}
	cfg.ChainID = chainID

	return NewClient(ec, key, cfg, logger), nil
}

// NewClient wraps an existing backend.
func NewClient(backend Backend, key *ecdsa.PrivateKey, cfg Config, logger zerolog.Logger) *Client {
	cfg.applyDefaults()
	c := &Client{
		backend: backend,
		key:     key,
		cfg:     cfg,
		logger:  logger.With().Str("component", "evm_client").Logger(),
	}
	if key != nil {
		c.address = crypto.PubkeyToAddress(key.PublicKey)
	}
	if cfg.ChainID != nil {
		c.signer = types.LatestSignerForChainID(cfg.ChainID)
	}
	return c
}

// Address returns the facilitator address.
func (c *Client) Address() common.Address {
	return c.address
}

// Close releases the RPC connection when the backend holds one.
func (c *Client) Close() {
	if closer, ok := c.backend.(interface{ Close() }); ok {
		closer.Close()
	}
}

// Token returns the token contract address.
func (c *Client) Token() common.Address {
	return c.cfg.Token
}

// TokenName reads name() from the token.
func (c *Client) TokenName(ctx context.Context) (string, error) {
	out, err := c.call(ctx, "name")
	if err != nil {
		return "", err
	}
	return unpackOne[string](out, "name")
}

// TokenVersion reads version() from the token. Tokens without the method
// (the call reverts or returns nothing) report "1".
func (c *Client) TokenVersion(ctx context.Context) (string, error) {
	out, err := c.call(ctx, "version")
	if err != nil {
		if isRevert(err) {
			return fallbackTokenVersion, nil
		}
		return "", err
	}
	if len(out) == 0 {
		return fallbackTokenVersion, nil
	}
	return unpackOne[string](out, "version")
}

// BalanceOf reads the token balance of owner.
func (c *Client) BalanceOf(ctx context.Context, owner common.Address) (*big.Int, error) {
	out, err := c.call(ctx, "balanceOf", owner)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return new(big.Int), nil
	}
	return unpackOne[*big.Int](out, "balanceOf")
}

// AuthorizationState reports whether the nonce was already used by authorizer.
func (c *Client) AuthorizationState(ctx context.Context, authorizer common.Address, nonce [32]byte) (bool, error) {
	out, err := c.call(ctx, "authorizationState", authorizer, nonce)
	if err != nil {
		return false, err
	}
	if len(out) == 0 {
		return false, nil
	}
	return unpackOne[bool](out, "authorizationState")
}

// TransferWithAuthorization submits a signed EIP-3009 transfer and waits for it.
func (c *Client) TransferWithAuthorization(ctx context.Context, call AuthorizationCall) (*Receipt, error) {
	data, err := TokenABI.Pack("transferWithAuthorization",
		call.From, call.To, call.Value, call.ValidAfter, call.ValidBefore,
		call.Nonce, call.V, call.R, call.S)
	if err != nil {
		return nil, fmt.Errorf("%w: pack transferWithAuthorization: %v", ErrSubmission, err)
	}
	return c.submitAndWait(ctx, "transferWithAuthorization", data)
}

// Transfer submits a plain ERC-20 transfer from the facilitator and waits for it.
func (c *Client) Transfer(ctx context.Context, to common.Address, amount *big.Int) (*Receipt, error) {
	data, err := TokenABI.Pack("transfer", to, amount)
	if err != nil {
		return nil, fmt.Errorf("%w: pack transfer: %v", ErrSubmission, err)
	}
	return c.submitAndWait(ctx, "transfer", data)
}

// Receipt looks a transaction up once. A transaction that is not mined yet
// reports ReceiptPending.
func (c *Client) Receipt(ctx context.Context, hash common.Hash) (*Receipt, error) {
	r, err := c.backend.TransactionReceipt(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		return &Receipt{TxHash: hash, Status: ReceiptPending}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: receipt %s: %v", x402.ErrLedgerUnavailable, hash.Hex(), err)
	}
	return fromTypesReceipt(r), nil
}

func (c *Client) submitAndWait(ctx context.Context, method string, data []byte) (*Receipt, error) {
	hash, err := c.submit(ctx, data)
	switch {
	case errors.Is(err, ErrBroadcastUnknown):
		c.logger.Warn().Err(err).Str("method", method).Str("tx_hash", hash.Hex()).Msg("broadcast outcome unknown, watching for receipt")
	case err != nil:
		c.logger.Error().Err(err).Str("method", method).Msg("submission failed")
		return nil, err
	default:
		c.logger.Info().Str("method", method).Str("tx_hash", hash.Hex()).Msg("transaction submitted")
	}

	receipt := c.waitForReceipt(ctx, hash)
	if err != nil && receipt.Status == ReceiptPending {
		receipt.Detail = err.Error()
	}
	c.logger.Info().
		Str("method", method).
		Str("tx_hash", hash.Hex()).
		Str("status", string(receipt.Status)).
		Uint64("block_number", receipt.BlockNumber).
		Msg("transaction settled")
	return receipt, nil
}

// submit signs and broadcasts data to the token. State-changing calls are never retried.
func (c *Client) submit(ctx context.Context, data []byte) (common.Hash, error) {
	if c.key == nil || c.signer == nil {
		return common.Hash{}, fmt.Errorf("%w: no facilitator key configured", ErrSubmission)
	}

	c.submitMu.Lock()
	defer c.submitMu.Unlock()

	nonce, err := c.backend.PendingNonceAt(ctx, c.address)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: pending nonce: %v", ErrSubmission, err)
	}
	gasPrice, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: gas price: %v", ErrSubmission, err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &c.cfg.Token,
		Value:    big.NewInt(0),
		Gas:      c.cfg.GasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := types.SignTx(tx, c.signer, c.key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: sign: %v", ErrSubmission, err)
	}
	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		if isNodeRejection(err) {
			return common.Hash{}, fmt.Errorf("%w: send: %v", ErrSubmission, err)
		}
		return signed.Hash(), fmt.Errorf("%w: send: %v", ErrBroadcastUnknown, err)
	}
	return signed.Hash(), nil
}

// isNodeRejection reports whether err is a JSON-RPC error reply, meaning the
// node answered and refused the transaction. Timeouts, cancellations and
// transport failures leave the outcome open.
func isNodeRejection(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}
	var rpcErr rpc.Error
	return errors.As(err, &rpcErr)
}

// waitForReceipt polls until the receipt arrives or ConfirmTimeout elapses.
// A timeout, a cancelled context or persistent lookup errors all yield ReceiptPending.
func (c *Client) waitForReceipt(ctx context.Context, hash common.Hash) *Receipt {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ConfirmTimeout)
	defer cancel()

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		r, err := c.backend.TransactionReceipt(ctx, hash)
		if err == nil && r != nil {
			return fromTypesReceipt(r)
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) && ctx.Err() == nil {
			c.logger.Debug().Err(err).Str("tx_hash", hash.Hex()).Msg("receipt lookup failed")
		}

		select {
		case <-ctx.Done():
			return &Receipt{TxHash: hash, Status: ReceiptPending, Detail: fmt.Sprintf("no receipt within %s", c.cfg.ConfirmTimeout)}
		case <-ticker.C:
		}
	}
}

func fromTypesReceipt(r *types.Receipt) *Receipt {
	out := &Receipt{
		TxHash:  r.TxHash,
		GasUsed: r.GasUsed,
		Status:  ReceiptConfirmed,
	}
	if r.BlockNumber != nil {
		out.BlockNumber = r.BlockNumber.Uint64()
	}
	if r.Status != types.ReceiptStatusSuccessful {
		out.Status = ReceiptReverted
	}
	return out
}

// call performs a read-only call with retries on transient failures.
func (c *Client) call(ctx context.Context, method string, args ...interface{}) ([]byte, error) {
	data, err := TokenABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	msg := ethereum.CallMsg{To: &c.cfg.Token, Data: data}

	cfg := c.cfg.Retry
	if cfg.OnRetry == nil {
		cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
			c.logger.Debug().Err(err).Str("method", method).Int("attempt", attempt).Dur("backoff", delay).Msg("retrying rpc read")
		}
	}
	out, err := retry.WithRetry(ctx, cfg, isTransient, func() ([]byte, error) {
		return c.backend.CallContract(ctx, msg, nil)
	})
	if err != nil {
		if isRevert(err) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s: %v", x402.ErrLedgerUnavailable, method, err)
	}
	return out, nil
}

func unpackOne[T any](out []byte, method string) (T, error) {
	var zero T
	values, err := TokenABI.Unpack(method, out)
	if err != nil {
		return zero, fmt.Errorf("%w: unpack %s: %v", x402.ErrLedgerUnavailable, method, err)
	}
	if len(values) == 0 {
		return zero, fmt.Errorf("%w: %s returned no values", x402.ErrLedgerUnavailable, method)
	}
	v, ok := values[0].(T)
	if !ok {
		return zero, fmt.Errorf("%w: %s returned %T", x402.ErrLedgerUnavailable, method, values[0])
	}
	return v, nil
}

// isRevert reports whether err is an execution revert rather than a transport failure.
func isRevert(err error) bool {
	var de rpc.DataError
	if errors.As(err, &de) {
		return true
	}
	return strings.Contains(err.Error(), "execution reverted")
}

func isTransient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return !isRevert(err)
}

package facilitator

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	x402 "github.com/mark3labs/x402-facilitator"
	"github.com/mark3labs/x402-facilitator/evm"
)

// TokenReader is the read side of the token contract.
type TokenReader interface {
	TokenName(ctx context.Context) (string, error)
	TokenVersion(ctx context.Context) (string, error)
	BalanceOf(ctx context.Context, owner common.Address) (*big.Int, error)
	AuthorizationState(ctx context.Context, authorizer common.Address, nonce [32]byte) (bool, error)
}

// TokenWriter submits transactions from the facilitator key.
type TokenWriter interface {
	Address() common.Address
	TransferWithAuthorization(ctx context.Context, call evm.AuthorizationCall) (*evm.Receipt, error)
	Transfer(ctx context.Context, to common.Address, amount *big.Int) (*evm.Receipt, error)
	Receipt(ctx context.Context, hash common.Hash) (*evm.Receipt, error)
}

// Ledger is the full chain surface; *evm.Client implements it.
type Ledger interface {
	TokenReader
	TokenWriter
}

var _ Ledger = (*evm.Client)(nil)

// VerificationResult is the outcome of checking an authorization. It never
// implies that anything was written.
type VerificationResult struct {
	Valid   bool           `json:"valid"`
	Error   x402.ErrorCode `json:"error,omitempty"`
	Message string         `json:"message,omitempty"`
	Payer   string         `json:"payer,omitempty"`
}

// Err returns nil for a valid result and otherwise the rejection as a
// PaymentError wrapping its sentinel, e.g. x402.ErrExpired.
func (r *VerificationResult) Err() error {
	if r.Valid {
		return nil
	}
	return r.Error.Err(r.Message)
}

// SupportedKind describes a payment kind the facilitator accepts.
type SupportedKind struct {
	Scheme        string                 `json:"scheme"`
	Network       string                 `json:"network"`
	Asset         string                 `json:"asset"`
	AssetSymbol   string                 `json:"assetSymbol"`
	AssetDecimals uint8                  `json:"assetDecimals"`
	Extra         map[string]interface{} `json:"extra,omitempty"`
}

// Requirements is the /requirements document.
type Requirements struct {
	X402Version int             `json:"x402Version"`
	Schemes     []SupportedKind `json:"schemes"`
}

// RequirementsFor describes what a facilitator on chain accepts.
func RequirementsFor(chain x402.ChainConfig) Requirements {
	return Requirements{
		X402Version: 2,
		Schemes: []SupportedKind{{
			Scheme:        x402.SchemeExact,
			Network:       chain.NetworkID,
			Asset:         chain.AssetAddress,
			AssetSymbol:   chain.AssetSymbol,
			AssetDecimals: chain.Decimals,
			Extra: map[string]interface{}{
				"assetTransferMethod": x402.AssetTransferMethodEIP3009,
				"name":                chain.EIP3009Name,
				"version":             chain.EIP3009Version,
			},
		}},
	}
}

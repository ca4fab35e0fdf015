package facilitator

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	x402 "github.com/mark3labs/x402-facilitator"
	sevm "github.com/mark3labs/x402-facilitator/signers/evm"
)

// Verifier checks EIP-3009 authorizations against the chain without writing.
// It holds no locks and is safe for concurrent use.
type Verifier struct {
	reader TokenReader
	chain  x402.ChainConfig
	logger zerolog.Logger
	now    func() time.Time
}

// NewVerifier creates a verifier for the token configured in chain.
func NewVerifier(reader TokenReader, chain x402.ChainConfig, logger zerolog.Logger) *Verifier {
	return &Verifier{
		reader: reader,
		chain:  chain,
		logger: logger.With().Str("component", "verifier").Logger(),
		now:    time.Now,
	}
}

// Verify runs the authorization checks in order and reports the first
// failure as a result with Valid=false. A returned error means the check
// could not be completed (malformed input or an unreachable chain).
//
// Order: expiry pre-check, EIP-712 domain and terms, signature, balance,
// nonce, validity window. The pre-check needs no RPC and makes an expired
// authorization report "expired" whatever else is wrong with it.
func (v *Verifier) Verify(ctx context.Context, payload x402.PaymentPayload) (*VerificationResult, error) {
	auth, err := ParseAuthorization(payload.Payload.Authorization)
	if err != nil {
		return nil, err
	}
	signature, err := ParseSignature(payload.Payload.Signature)
	if err != nil {
		return nil, err
	}

	payer := auth.From.Hex()
	now := big.NewInt(v.now().Unix())

	if auth.ValidBefore.Cmp(now) < 0 {
		return v.reject(payer, x402.ErrCodeExpired, "authorization expired"), nil
	}

	domain, err := v.domain(ctx)
	if err != nil {
		return nil, err
	}

	if result := v.checkTerms(payload.Accepted, auth); result != nil {
		return result, nil
	}

	signer, err := sevm.RecoverSigner(domain, auth, signature)
	if err != nil || signer != auth.From {
		return v.reject(payer, x402.ErrCodeInvalidSignature, "signature does not match payer"), nil
	}

	balance, err := v.reader.BalanceOf(ctx, auth.From)
	if err != nil {
		return nil, fmt.Errorf("read balance: %w", err)
	}
	if balance.Cmp(auth.Value) < 0 {
		return v.reject(payer, x402.ErrCodeInsufficientBalance,
			fmt.Sprintf("balance %s is below %s", balance, auth.Value)), nil
	}

	used, err := v.reader.AuthorizationState(ctx, auth.From, auth.Nonce)
	if err != nil {
		return nil, fmt.Errorf("read authorization state: %w", err)
	}
	if used {
		return v.reject(payer, x402.ErrCodeNonceReused, "nonce already used"), nil
	}

	if now.Cmp(auth.ValidAfter) < 0 {
		return v.reject(payer, x402.ErrCodeNotYetValid, "authorization not yet valid"), nil
	}
	if now.Cmp(auth.ValidBefore) > 0 {
		return v.reject(payer, x402.ErrCodeExpired, "authorization expired"), nil
	}

	v.logger.Debug().Str("payer", payer).Str("value", auth.Value.String()).Msg("authorization verified")
	return &VerificationResult{Valid: true, Payer: payer}, nil
}

// domain reads the live EIP-712 domain from the token.
func (v *Verifier) domain(ctx context.Context) (sevm.Domain, error) {
	name, err := v.reader.TokenName(ctx)
	if err != nil {
		return sevm.Domain{}, fmt.Errorf("read token name: %w", err)
	}
	version, err := v.reader.TokenVersion(ctx)
	if err != nil {
		return sevm.Domain{}, fmt.Errorf("read token version: %w", err)
	}
	return sevm.Domain{
		Name:              name,
		Version:           version,
		ChainID:           v.chain.ChainIDBig(),
		VerifyingContract: common.HexToAddress(v.chain.AssetAddress),
	}, nil
}

// checkTerms compares the authorization to the optional payTo and amount the payer accepted.
func (v *Verifier) checkTerms(accepted x402.PaymentRequirement, auth *sevm.EIP3009Authorization) *VerificationResult {
	payer := auth.From.Hex()

	if accepted.PayTo != "" && x402.NormalizeAddress(accepted.PayTo) != x402.NormalizeAddress(auth.To.Hex()) {
		return v.reject(payer, x402.ErrCodeRecipientMismatch, "authorization does not pay the accepted recipient")
	}

	if accepted.Amount != "" {
		required, ok := new(big.Int).SetString(accepted.Amount, 10)
		if ok && auth.Value.Cmp(required) < 0 {
			return v.reject(payer, x402.ErrCodeInsufficientAmount,
				fmt.Sprintf("value %s is below the accepted amount %s", auth.Value, required))
		}
	}
	return nil
}

func (v *Verifier) reject(payer string, code x402.ErrorCode, message string) *VerificationResult {
	result := &VerificationResult{Valid: false, Error: code, Message: message, Payer: payer}
	v.logger.Info().Err(result.Err()).Str("payer", payer).Msg("authorization rejected")
	return result
}

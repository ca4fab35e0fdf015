package facilitator

import (
	"context"
	"fmt"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	x402 "github.com/mark3labs/x402-facilitator"
	"github.com/mark3labs/x402-facilitator/evm"
	sevm "github.com/mark3labs/x402-facilitator/signers/evm"
)

// Settler submits transfers from the facilitator key and reports their outcome.
// Chain outcomes (rejection, revert, no receipt in time) are reported in the
// returned SettlementResponse; nothing is retried.
type Settler struct {
	ledger Ledger
	chain  x402.ChainConfig
	logger zerolog.Logger
}

// NewSettler creates a settler on chain.
func NewSettler(ledger Ledger, chain x402.ChainConfig, logger zerolog.Logger) *Settler {
	return &Settler{
		ledger: ledger,
		chain:  chain,
		logger: logger.With().Str("component", "settler").Logger(),
	}
}

// Address returns the facilitator address that pays gas and bounties.
func (s *Settler) Address() common.Address {
	return s.ledger.Address()
}

// Settle submits transferWithAuthorization for a verified payload and waits
// for its receipt. An error is returned only for a malformed payload.
func (s *Settler) Settle(ctx context.Context, payload x402.PaymentPayload) (*x402.SettlementResponse, error) {
	auth, err := ParseAuthorization(payload.Payload.Authorization)
	if err != nil {
		return nil, err
	}
	signature, err := ParseSignature(payload.Payload.Signature)
	if err != nil {
		return nil, err
	}
	v, r, sig, err := sevm.SplitSignature(signature)
	if err != nil {
		return nil, x402.NewPaymentError(x402.ErrCodeInvalidRequest, "malformed signature", err)
	}

	payer := auth.From.Hex()
	receipt, err := s.ledger.TransferWithAuthorization(ctx, evm.AuthorizationCall{
		From:        auth.From,
		To:          auth.To,
		Value:       auth.Value,
		ValidAfter:  auth.ValidAfter,
		ValidBefore: auth.ValidBefore,
		Nonce:       auth.Nonce,
		V:           v,
		R:           r,
		S:           sig,
	})
	return s.response(payer, receipt, err), nil
}

// Transfer sends amount of the token from the facilitator to to.
func (s *Settler) Transfer(ctx context.Context, to common.Address, amount *big.Int) (*x402.SettlementResponse, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, x402.ErrInvalidAmount
	}
	receipt, err := s.ledger.Transfer(ctx, to, amount)
	return s.response(s.ledger.Address().Hex(), receipt, err), nil
}

// Lookup reports the current state of a previously submitted transaction.
func (s *Settler) Lookup(ctx context.Context, txHash string) (*x402.SettlementResponse, error) {
	receipt, err := s.ledger.Receipt(ctx, common.HexToHash(txHash))
	if err != nil {
		return nil, err
	}
	return s.response("", receipt, nil), nil
}

// Balance returns the facilitator's token balance.
func (s *Settler) Balance(ctx context.Context) (*big.Int, error) {
	return s.ledger.BalanceOf(ctx, s.ledger.Address())
}

func (s *Settler) response(payer string, receipt *evm.Receipt, err error) *x402.SettlementResponse {
	resp := &x402.SettlementResponse{
		Network: s.chain.NetworkID,
		Payer:   payer,
	}

	if err != nil {
		// Nothing was broadcast: the node refused the transaction or it was never built.
		resp.Status = x402.SettlementStatusFailed
		resp.ErrorReason = string(x402.ErrCodeSettlementFailed)
		resp.ErrorMessage = err.Error()
		s.logger.Error().Err(err).Str("payer", payer).Msg("settlement failed")
		return resp
	}

	resp.Transaction = receipt.TxHash.Hex()
	switch receipt.Status {
	case evm.ReceiptConfirmed:
		resp.Success = true
		resp.Status = x402.SettlementStatusConfirmed
		resp.BlockNumber = strconv.FormatUint(receipt.BlockNumber, 10)
		resp.GasUsed = strconv.FormatUint(receipt.GasUsed, 10)
	case evm.ReceiptReverted:
		resp.Status = x402.SettlementStatusFailed
		resp.ErrorReason = string(x402.ErrCodeTransactionReverted)
		resp.ErrorMessage = fmt.Sprintf("transaction %s reverted in block %d", resp.Transaction, receipt.BlockNumber)
		resp.BlockNumber = strconv.FormatUint(receipt.BlockNumber, 10)
		resp.GasUsed = strconv.FormatUint(receipt.GasUsed, 10)
	default:
		resp.Status = x402.SettlementStatusPending
		resp.ErrorReason = string(x402.ErrCodeSettlementPending)
		resp.ErrorMessage = receipt.Detail
		if resp.ErrorMessage == "" {
			resp.ErrorMessage = "transaction not yet confirmed"
		}
	}
	return resp
}

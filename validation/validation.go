// Package validation checks request shapes before any chain access.
package validation

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"

	x402 "github.com/mark3labs/x402-facilitator"
)

var (
	// evmAddressRegex matches Ethereum-style addresses (0x followed by 40 hex chars)
	evmAddressRegex = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)

	// nonceRegex matches a 0x-prefixed 32 byte hex string
	nonceRegex = regexp.MustCompile(`^0x[a-fA-F0-9]{64}$`)

	// unsignedRegex matches a non-negative decimal integer
	unsignedRegex = regexp.MustCompile(`^[0-9]+$`)
)

// ValidateAmount validates that an amount string is a valid positive integer.
// Returns an error if the amount is empty, malformed, or not greater than zero.
func ValidateAmount(amount string) error {
	if amount == "" {
		return fmt.Errorf("amount cannot be empty")
	}

	amt, ok := new(big.Int).SetString(amount, 10)
	if !ok || !unsignedRegex.MatchString(amount) {
		return fmt.Errorf("invalid amount format: %s", amount)
	}

	if amt.Sign() <= 0 {
		return fmt.Errorf("amount must be greater than 0, got: %s", amount)
	}

	return nil
}

// ValidateAddress validates an EVM address.
func ValidateAddress(address string) error {
	if address == "" {
		return fmt.Errorf("address cannot be empty")
	}
	if !evmAddressRegex.MatchString(address) {
		return fmt.Errorf("invalid EVM address format: %s (expected 0x followed by 40 hex characters)", address)
	}
	return nil
}

// ValidatePaymentRequirement checks the terms a payer accepted against the
// chain this facilitator settles on.
func ValidatePaymentRequirement(req x402.PaymentRequirement, chain x402.ChainConfig) error {
	switch req.Scheme {
	case x402.SchemeExact:
	case "":
		return invalid("accepted.scheme", "scheme cannot be empty")
	default:
		return x402.NewPaymentError(x402.ErrCodeUnsupportedScheme,
			fmt.Sprintf("unsupported scheme %q, only %q is settled", req.Scheme, x402.SchemeExact), x402.ErrInvalidRequest).
			WithDetails("field", "accepted.scheme")
	}

	if req.Network == "" {
		return invalid("accepted.network", "network cannot be empty")
	}
	if !sameNetwork(req.Network, chain) {
		return x402.NewPaymentError(x402.ErrCodeNetworkMismatch,
			fmt.Sprintf("network %s is not %s", req.Network, chain.NetworkID), x402.ErrInvalidNetwork).
			WithDetails("field", "accepted.network")
	}

	if req.Asset == "" {
		return invalid("accepted.asset", "asset address cannot be empty")
	}
	if err := ValidateAddress(req.Asset); err != nil {
		return invalid("accepted.asset", err.Error())
	}
	if !strings.EqualFold(req.Asset, chain.AssetAddress) {
		return x402.NewPaymentError(x402.ErrCodeAssetMismatch,
			fmt.Sprintf("asset %s is not %s", req.Asset, chain.AssetAddress), x402.ErrInvalidRequest).
			WithDetails("field", "accepted.asset")
	}

	if req.PayTo != "" {
		if err := ValidateAddress(req.PayTo); err != nil {
			return invalid("accepted.payTo", err.Error())
		}
	}
	if req.Amount != "" {
		if err := ValidateAmount(req.Amount); err != nil {
			return invalid("accepted.amount", err.Error())
		}
	}
	if req.MaxTimeoutSeconds < 0 {
		return invalid("accepted.maxTimeoutSeconds", fmt.Sprintf("timeout cannot be negative: %d", req.MaxTimeoutSeconds))
	}
	return nil
}

// ValidatePaymentPayload validates a /verify or /settle body. Failures are
// *x402.PaymentError values in the validation category.
func ValidatePaymentPayload(payment x402.PaymentPayload, chain x402.ChainConfig) error {
	switch payment.X402Version {
	case 0, 1, 2:
	default:
		return invalid("x402Version", fmt.Sprintf("unsupported x402 version: %d", payment.X402Version))
	}

	if err := ValidatePaymentRequirement(payment.Accepted, chain); err != nil {
		return err
	}

	if payment.Payload.Signature == "" {
		return invalid("payload.signature", "signature cannot be empty")
	}

	auth := payment.Payload.Authorization
	if err := ValidateAddress(auth.From); err != nil {
		return invalid("payload.authorization.from", err.Error())
	}
	if err := ValidateAddress(auth.To); err != nil {
		return invalid("payload.authorization.to", err.Error())
	}
	if err := ValidateAmount(auth.Value); err != nil {
		return invalid("payload.authorization.value", err.Error())
	}
	for field, v := range map[string]string{
		"payload.authorization.validAfter":  auth.ValidAfter,
		"payload.authorization.validBefore": auth.ValidBefore,
	} {
		if !unsignedRegex.MatchString(v) {
			return invalid(field, fmt.Sprintf("expected a unix timestamp, got %q", v))
		}
	}
	if !nonceRegex.MatchString(auth.Nonce) {
		return invalid("payload.authorization.nonce", "nonce must be 0x followed by 64 hex characters")
	}
	return nil
}

func sameNetwork(network string, chain x402.ChainConfig) bool {
	if strings.EqualFold(network, chain.NetworkID) {
		return true
	}
	known, err := x402.ChainByNetwork(network)
	return err == nil && known.NetworkID == chain.NetworkID
}

func invalid(field, message string) error {
	return x402.NewPaymentError(x402.ErrCodeInvalidRequest, message, x402.ErrInvalidRequest).
		WithDetails("field", field)
}

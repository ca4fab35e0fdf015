package x402

import "math/big"

// SchemeExact is the only payment scheme this facilitator settles.
const SchemeExact = "exact"

// AssetTransferMethodEIP3009 identifies transferWithAuthorization-based settlement.
const AssetTransferMethodEIP3009 = "eip3009"

// Settlement status values reported in SettlementResponse.Status.
const (
	SettlementStatusConfirmed = "confirmed"
	SettlementStatusPending   = "pending"
	SettlementStatusFailed    = "failed"
)

// PaymentRequirement describes the terms a payer accepted.
type PaymentRequirement struct {
	// Scheme is the payment scheme identifier (always "exact" here).
	Scheme string `json:"scheme"`

	// Network is the CAIP-2 network identifier (e.g., "eip155:14").
	Network string `json:"network"`

	// Asset is the token contract address.
	Asset string `json:"asset"`

	// PayTo is the expected recipient. Optional; when set the authorization must pay it.
	PayTo string `json:"payTo,omitempty"`

	// Amount is the minimum amount in atomic units. Optional.
	Amount string `json:"amount,omitempty"`

	// MaxTimeoutSeconds is the validity period the payer was asked to sign for.
	MaxTimeoutSeconds int `json:"maxTimeoutSeconds,omitempty"`

	// Extra contains scheme-specific additional data (EIP-712 name/version).
	Extra map[string]interface{} `json:"extra,omitempty"`
}

// PaymentPayload is the request body accepted by /verify and /settle.
type PaymentPayload struct {
	// X402Version is the protocol version. Zero is treated as 2.
	X402Version int `json:"x402Version,omitempty"`

	// Accepted carries the terms the payer agreed to.
	Accepted PaymentRequirement `json:"accepted"`

	// Payload contains the signed EIP-3009 authorization.
	Payload EVMPayload `json:"payload"`
}

// EVMPayload represents an EVM payment with EIP-3009 authorization.
type EVMPayload struct {
	// Signature is the hex-encoded 65 byte ECDSA signature (r || s || v).
	Signature string `json:"signature"`

	// Authorization contains the EIP-3009 transferWithAuthorization parameters.
	Authorization EVMAuthorization `json:"authorization"`
}

// EVMAuthorization represents EIP-3009 transferWithAuthorization parameters.
type EVMAuthorization struct {
	// From is the payer's address.
	From string `json:"from"`

	// To is the recipient's address.
	To string `json:"to"`

	// Value is the payment amount in atomic units.
	Value string `json:"value"`

	// ValidAfter is the unix timestamp after which the authorization is valid.
	ValidAfter string `json:"validAfter"`

	// ValidBefore is the unix timestamp before which the authorization is valid.
	ValidBefore string `json:"validBefore"`

	// Nonce is a unique 32-byte hex string to prevent replay attacks.
	Nonce string `json:"nonce"`
}

// SettlementResponse is the receipt of a submitted transaction.
type SettlementResponse struct {
	// Success indicates whether the transaction was confirmed successfully.
	Success bool `json:"success"`

	// Status is one of confirmed, pending or failed.
	Status string `json:"status"`

	// ErrorReason is the error code of a failed or pending settlement.
	ErrorReason string `json:"errorReason,omitempty"`

	// ErrorMessage is the underlying cause, e.g. the node's rejection text.
	ErrorMessage string `json:"errorMessage,omitempty"`

	// Transaction is the blockchain transaction hash.
	Transaction string `json:"transaction,omitempty"`

	// BlockNumber is the confirming block, as a decimal string.
	BlockNumber string `json:"blockNumber,omitempty"`

	// GasUsed is the execution cost paid by the facilitator, as a decimal string.
	GasUsed string `json:"gasUsed,omitempty"`

	// Network is the network where the payment was settled.
	Network string `json:"network"`

	// Payer is the address that made the payment.
	Payer string `json:"payer,omitempty"`
}

// Err returns nil for a confirmed settlement and otherwise a PaymentError
// carrying ErrorReason and ErrorMessage.
func (r *SettlementResponse) Err() error {
	switch {
	case r.Status == SettlementStatusConfirmed:
		return nil
	case r.Status == SettlementStatusPending:
		return ErrCodeSettlementPending.Err(r.ErrorMessage)
	case r.ErrorReason == "":
		return ErrCodeSettlementFailed.Err(r.ErrorMessage)
	default:
		return ErrorCode(r.ErrorReason).Err(r.ErrorMessage)
	}
}

// AmountToBigInt converts a decimal amount string to *big.Int in atomic units.
// For example, "1.5" with 6 decimals becomes 1500000.
func AmountToBigInt(amount string, decimals int) (*big.Int, error) {
	value, ok := new(big.Rat).SetString(amount)
	if !ok {
		return nil, ErrInvalidAmount
	}

	multiplier := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	value.Mul(value, new(big.Rat).SetInt(multiplier))

	if !value.IsInt() {
		return nil, ErrInvalidAmount
	}
	return new(big.Int).Set(value.Num()), nil
}

// BigIntToAmount converts a *big.Int in atomic units to a decimal string.
// For example, 1500000 with 6 decimals becomes "1.500000".
func BigIntToAmount(value *big.Int, decimals int) string {
	if value == nil {
		value = new(big.Int)
	}

	divisor := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	return new(big.Rat).SetFrac(value, divisor).FloatString(decimals)
}

package x402

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRequest indicates a malformed request body.
	ErrInvalidRequest = errors.New("x402: invalid request")

	// ErrInvalidAmount indicates an amount that cannot be parsed.
	ErrInvalidAmount = errors.New("x402: invalid amount")

	// ErrInvalidKey indicates a facilitator key that cannot be parsed.
	ErrInvalidKey = errors.New("x402: invalid private key")

	// ErrInvalidKeystore indicates an unreadable or undecryptable keystore file.
	ErrInvalidKeystore = errors.New("x402: invalid keystore file")

	// ErrInvalidMnemonic indicates an invalid BIP39 mnemonic.
	ErrInvalidMnemonic = errors.New("x402: invalid mnemonic phrase")

	// ErrInvalidNetwork indicates an unknown or unsupported network.
	ErrInvalidNetwork = errors.New("x402: invalid or unsupported network")

	// ErrInvalidSignature indicates the signature does not recover to the payer.
	ErrInvalidSignature = errors.New("x402: invalid signature")

	// ErrInsufficientBalance indicates the payer cannot cover the authorized value.
	ErrInsufficientBalance = errors.New("x402: insufficient balance")

	// ErrNonceReused indicates the authorization nonce was already consumed.
	ErrNonceReused = errors.New("x402: nonce already used")

	// ErrNotYetValid indicates the authorization window has not opened.
	ErrNotYetValid = errors.New("x402: authorization not yet valid")

	// ErrExpired indicates the authorization window has closed.
	ErrExpired = errors.New("x402: authorization expired")

	// ErrNotWhitelisted indicates the address is not approved for the bounty.
	ErrNotWhitelisted = errors.New("x402: address not whitelisted")

	// ErrAlreadyClaimed indicates the address already received its bounty.
	ErrAlreadyClaimed = errors.New("x402: bounty already claimed")

	// ErrPoolExhausted indicates every bounty slot has been used.
	ErrPoolExhausted = errors.New("x402: bounty pool exhausted")

	// ErrClaimPending indicates a payout to the address is awaiting confirmation.
	ErrClaimPending = errors.New("x402: bounty claim pending")

	// ErrSettlementFailed indicates on-chain settlement failed.
	ErrSettlementFailed = errors.New("x402: payment settlement failed")

	// ErrSettlementPending indicates a submitted transaction was not confirmed in time.
	ErrSettlementPending = errors.New("x402: settlement not confirmed")

	// ErrLedgerUnavailable indicates the chain could not be read.
	ErrLedgerUnavailable = errors.New("x402: ledger unavailable")

	// ErrStorage indicates a claim ledger or whitelist failure.
	ErrStorage = errors.New("x402: storage failure")
)

// ErrorCode is the machine-readable reason reported to callers.
type ErrorCode string

const (
	ErrCodeInvalidRequest    ErrorCode = "invalid_request"
	ErrCodeUnsupportedScheme ErrorCode = "unsupported_scheme"
	ErrCodeNetworkMismatch   ErrorCode = "network_mismatch"
	ErrCodeAssetMismatch     ErrorCode = "asset_mismatch"

	ErrCodeInvalidSignature    ErrorCode = "invalid_signature"
	ErrCodeInsufficientBalance ErrorCode = "insufficient_balance"
	ErrCodeNonceReused         ErrorCode = "nonce_reused"
	ErrCodeNotYetValid         ErrorCode = "not_yet_valid"
	ErrCodeExpired             ErrorCode = "expired"
	ErrCodeRecipientMismatch   ErrorCode = "recipient_mismatch"
	ErrCodeInsufficientAmount  ErrorCode = "insufficient_amount"

	ErrCodeNotWhitelisted ErrorCode = "not_whitelisted"
	ErrCodeAlreadyClaimed ErrorCode = "already_claimed"
	ErrCodePoolExhausted  ErrorCode = "pool_exhausted"
	ErrCodeClaimPending   ErrorCode = "claim_pending"

	ErrCodeSettlementFailed    ErrorCode = "settlement_failed"
	ErrCodeTransactionReverted ErrorCode = "transaction_reverted"
	ErrCodeSettlementPending   ErrorCode = "settlement_pending"
	ErrCodePaymentFailed       ErrorCode = "payment_failed"

	ErrCodeLedgerUnavailable ErrorCode = "ledger_unavailable"
	ErrCodeStorage           ErrorCode = "storage_error"
)

// ErrorCategory groups error codes by the remediation they call for.
type ErrorCategory string

const (
	// CategoryValidation: the request shape is wrong; nothing was touched.
	CategoryValidation ErrorCategory = "validation"
	// CategoryAuthorization: the signed authorization is unusable; fix it or sign a fresh one.
	CategoryAuthorization ErrorCategory = "authorization"
	// CategoryEligibility: the address cannot receive the bounty.
	CategoryEligibility ErrorCategory = "eligibility"
	// CategorySettlement: a transaction was rejected or left unconfirmed.
	CategorySettlement ErrorCategory = "settlement"
	// CategoryInternal: something went wrong on the facilitator's side; retry later.
	CategoryInternal ErrorCategory = "internal"
)

// Category returns the category the code belongs to.
func (c ErrorCode) Category() ErrorCategory {
	switch c {
	case ErrCodeInvalidRequest, ErrCodeUnsupportedScheme, ErrCodeNetworkMismatch, ErrCodeAssetMismatch:
		return CategoryValidation
	case ErrCodeInvalidSignature, ErrCodeInsufficientBalance, ErrCodeNonceReused,
		ErrCodeNotYetValid, ErrCodeExpired, ErrCodeRecipientMismatch, ErrCodeInsufficientAmount:
		return CategoryAuthorization
	case ErrCodeNotWhitelisted, ErrCodeAlreadyClaimed, ErrCodePoolExhausted, ErrCodeClaimPending:
		return CategoryEligibility
	case ErrCodeSettlementFailed, ErrCodeTransactionReverted, ErrCodeSettlementPending, ErrCodePaymentFailed:
		return CategorySettlement
	default:
		return CategoryInternal
	}
}

// PaymentError carries an error code alongside the underlying cause.
type PaymentError struct {
	Code    ErrorCode
	Message string
	Err     error
	Details map[string]interface{}
}

// NewPaymentError creates a PaymentError.
func NewPaymentError(code ErrorCode, message string, err error) *PaymentError {
	return &PaymentError{
		Code:    code,
		Message: message,
		Err:     err,
		Details: make(map[string]interface{}),
	}
}

// Error implements the error interface.
func (e *PaymentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *PaymentError) Unwrap() error {
	return e.Err
}

// WithDetails attaches a key/value detail and returns the error for chaining.
func (e *PaymentError) WithDetails(key string, value interface{}) *PaymentError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// sentinels pairs each code with the sentinel its errors wrap. Several codes
// share a sentinel; the first listed code is the one CodeOf reports for it.
var sentinels = []struct {
	code ErrorCode
	err  error
}{
	{ErrCodeInvalidRequest, ErrInvalidRequest},
	{ErrCodeUnsupportedScheme, ErrInvalidRequest},
	{ErrCodeNetworkMismatch, ErrInvalidRequest},
	{ErrCodeAssetMismatch, ErrInvalidRequest},
	{ErrCodeInvalidSignature, ErrInvalidSignature},
	{ErrCodeInsufficientBalance, ErrInsufficientBalance},
	{ErrCodeNonceReused, ErrNonceReused},
	{ErrCodeNotYetValid, ErrNotYetValid},
	{ErrCodeExpired, ErrExpired},
	{ErrCodeNotWhitelisted, ErrNotWhitelisted},
	{ErrCodeAlreadyClaimed, ErrAlreadyClaimed},
	{ErrCodePoolExhausted, ErrPoolExhausted},
	{ErrCodeClaimPending, ErrClaimPending},
	{ErrCodeSettlementPending, ErrSettlementPending},
	{ErrCodeSettlementFailed, ErrSettlementFailed},
	{ErrCodeTransactionReverted, ErrSettlementFailed},
	{ErrCodePaymentFailed, ErrSettlementFailed},
	{ErrCodeStorage, ErrStorage},
	{ErrCodeLedgerUnavailable, ErrLedgerUnavailable},
}

// Sentinel returns the sentinel error that errors with code c wrap, or nil
// for codes that have none.
func (c ErrorCode) Sentinel() error {
	for _, s := range sentinels {
		if s.code == c {
			return s.err
		}
	}
	return nil
}

// Err builds a PaymentError for c that wraps its sentinel, so callers can
// match it with errors.Is.
func (c ErrorCode) Err(message string) *PaymentError {
	return NewPaymentError(c, message, c.Sentinel())
}

// CodeOf extracts the ErrorCode from err, falling back to the code of the
// first sentinel err wraps. Other errors map to ErrCodeLedgerUnavailable.
func CodeOf(err error) ErrorCode {
	var pe *PaymentError
	if errors.As(err, &pe) {
		return pe.Code
	}
	for _, s := range sentinels {
		if errors.Is(err, s.err) {
			return s.code
		}
	}
	return ErrCodeLedgerUnavailable
}

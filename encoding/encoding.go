// Package encoding converts payment payloads and settlement receipts to and
// from the base64 JSON form used in the X-PAYMENT and X-PAYMENT-RESPONSE
// headers.
package encoding

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	x402 "github.com/mark3labs/x402-facilitator"
)

const (
	// PaymentHeader carries a base64 PaymentPayload on requests.
	PaymentHeader = "X-PAYMENT"
	// PaymentResponseHeader carries a base64 SettlementResponse on /settle responses.
	PaymentResponseHeader = "X-PAYMENT-RESPONSE"
)

// EncodePayment converts a PaymentPayload to a base64-encoded JSON string.
func EncodePayment(payment x402.PaymentPayload) (string, error) {
	return encode(payment, "payment")
}

// DecodePayment converts a base64-encoded JSON string to a PaymentPayload.
// Both padded and unpadded standard encodings are accepted.
func DecodePayment(encoded string) (x402.PaymentPayload, error) {
	var payment x402.PaymentPayload
	err := decode(encoded, &payment, "payment")
	return payment, err
}

// EncodeSettlement converts a SettlementResponse to a base64-encoded JSON string.
func EncodeSettlement(settlement x402.SettlementResponse) (string, error) {
	return encode(settlement, "settlement")
}

// DecodeSettlement converts a base64-encoded JSON string to a SettlementResponse.
func DecodeSettlement(encoded string) (x402.SettlementResponse, error) {
	var settlement x402.SettlementResponse
	err := decode(encoded, &settlement, "settlement")
	return settlement, err
}

func encode(v any, what string) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal %s: %w", what, err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

func decode(encoded string, v any, what string) error {
	encoded = strings.TrimSpace(encoded)
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		decoded, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(encoded, "="))
		if err != nil {
			return fmt.Errorf("%w: failed to decode base64: %v", x402.ErrInvalidRequest, err)
		}
	}
	if err := json.Unmarshal(decoded, v); err != nil {
		return fmt.Errorf("%w: failed to unmarshal %s: %v", x402.ErrInvalidRequest, what, err)
	}
	return nil
}

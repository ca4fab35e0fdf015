package facilitator

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	x402 "github.com/mark3labs/x402-facilitator"
	sevm "github.com/mark3labs/x402-facilitator/signers/evm"
)

// ParseAuthorization converts the wire authorization into typed values.
// Failures wrap x402.ErrInvalidRequest.
func ParseAuthorization(a x402.EVMAuthorization) (*sevm.EIP3009Authorization, error) {
	if !x402.IsHexAddress(a.From) {
		return nil, invalidField("from", a.From)
	}
	if !x402.IsHexAddress(a.To) {
		return nil, invalidField("to", a.To)
	}

	value, err := parseUint256(a.Value)
	if err != nil {
		return nil, invalidField("value", a.Value)
	}
	validAfter, err := parseUint256(a.ValidAfter)
	if err != nil {
		return nil, invalidField("validAfter", a.ValidAfter)
	}
	validBefore, err := parseUint256(a.ValidBefore)
	if err != nil {
		return nil, invalidField("validBefore", a.ValidBefore)
	}

	nonce, err := decodeHex(a.Nonce)
	if err != nil || len(nonce) != 32 {
		return nil, invalidField("nonce", a.Nonce)
	}

	return &sevm.EIP3009Authorization{
		From:        common.HexToAddress(a.From),
		To:          common.HexToAddress(a.To),
		Value:       value,
		ValidAfter:  validAfter,
		ValidBefore: validBefore,
		Nonce:       common.BytesToHash(nonce),
	}, nil
}

// ParseSignature decodes a 0x-prefixed 65 byte signature.
func ParseSignature(signature string) ([]byte, error) {
	raw, err := decodeHex(signature)
	if err != nil || len(raw) != sevm.SignatureLength {
		return nil, fmt.Errorf("%w: signature must be %d hex-encoded bytes", x402.ErrInvalidRequest, sevm.SignatureLength)
	}
	return raw, nil
}

var maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

func parseUint256(s string) (*big.Int, error) {
	if s == "" || strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-") {
		return nil, x402.ErrInvalidAmount
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Cmp(maxUint256) > 0 {
		return nil, x402.ErrInvalidAmount
	}
	return v, nil
}

func decodeHex(s string) ([]byte, error) {
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return nil, fmt.Errorf("missing 0x prefix")
	}
	return hex.DecodeString(s[2:])
}

func invalidField(field, value string) error {
	return x402.NewPaymentError(x402.ErrCodeInvalidRequest,
		fmt.Sprintf("authorization.%s is invalid: %q", field, value), x402.ErrInvalidRequest).
		WithDetails("field", field)
}

// Package evm produces and checks EIP-3009 transferWithAuthorization signatures.
package evm

import (
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// SignatureLength is the length of an r || s || v signature.
const SignatureLength = 65

// ErrMalformedSignature indicates a signature that cannot be recovered from.
var ErrMalformedSignature = errors.New("evm: malformed signature")

// EIP3009Authorization represents the parameters for EIP-3009 transferWithAuthorization.
type EIP3009Authorization struct {
	From        common.Address
	To          common.Address
	Value       *big.Int
	ValidAfter  *big.Int
	ValidBefore *big.Int
	Nonce       common.Hash
}

// Domain is the EIP-712 domain of a token contract.
type Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

// CreateEIP3009Authorization creates a new EIP-3009 authorization with a
// random nonce, valid from ten seconds ago for timeoutSeconds.
func CreateEIP3009Authorization(from, to common.Address, value *big.Int, timeoutSeconds int) (*EIP3009Authorization, error) {
	nonce, err := generateNonce()
	if err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	// validAfter is backdated to tolerate clock drift between payer and chain.
	now := time.Now().Unix()
	return &EIP3009Authorization{
		From:        from,
		To:          to,
		Value:       value,
		ValidAfter:  big.NewInt(now - 10),
		ValidBefore: big.NewInt(now + int64(timeoutSeconds)),
		Nonce:       nonce,
	}, nil
}

// TypedData builds the EIP-712 TransferWithAuthorization message.
func TypedData(domain Domain, auth *EIP3009Authorization) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": []apitypes.Type{
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"TransferWithAuthorization": []apitypes.Type{
				{Name: "from", Type: "address"},
				{Name: "to", Type: "address"},
				{Name: "value", Type: "uint256"},
				{Name: "validAfter", Type: "uint256"},
				{Name: "validBefore", Type: "uint256"},
				{Name: "nonce", Type: "bytes32"},
			},
		},
		PrimaryType: "TransferWithAuthorization",
		Domain: apitypes.TypedDataDomain{
			Name:              domain.Name,
			Version:           domain.Version,
			ChainId:           (*math.HexOrDecimal256)(domain.ChainID),
			VerifyingContract: domain.VerifyingContract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"from":        auth.From.Hex(),
			"to":          auth.To.Hex(),
			"value":       (*math.HexOrDecimal256)(auth.Value),
			"validAfter":  (*math.HexOrDecimal256)(auth.ValidAfter),
			"validBefore": (*math.HexOrDecimal256)(auth.ValidBefore),
			"nonce":       auth.Nonce.Hex(),
		},
	}
}

// HashTransferAuthorization returns keccak256("\x19\x01" || domainSeparator || structHash).
func HashTransferAuthorization(domain Domain, auth *EIP3009Authorization) ([]byte, error) {
	typedData := TypedData(domain, auth)

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}
	messageHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash message: %w", err)
	}

	rawData := append([]byte{0x19, 0x01}, append(domainSeparator, messageHash...)...)
	return crypto.Keccak256(rawData), nil
}

// SignTransferAuthorization signs an authorization and returns the 0x-prefixed
// r || s || v signature with v in {27, 28}.
func SignTransferAuthorization(privateKey *ecdsa.PrivateKey, domain Domain, auth *EIP3009Authorization) (string, error) {
	digest, err := HashTransferAuthorization(domain, auth)
	if err != nil {
		return "", err
	}

	signature, err := crypto.Sign(digest, privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign authorization: %w", err)
	}
	signature[64] += 27

	return "0x" + hex.EncodeToString(signature), nil
}

// RecoverSigner returns the address that produced signature over the
// authorization. Both {0, 1} and {27, 28} recovery ids are accepted.
func RecoverSigner(domain Domain, auth *EIP3009Authorization, signature []byte) (common.Address, error) {
	if len(signature) != SignatureLength {
		return common.Address{}, fmt.Errorf("%w: length %d", ErrMalformedSignature, len(signature))
	}

	digest, err := HashTransferAuthorization(domain, auth)
	if err != nil {
		return common.Address{}, err
	}

	sig := make([]byte, SignatureLength)
	copy(sig, signature)
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	if sig[64] > 1 {
		return common.Address{}, fmt.Errorf("%w: recovery id %d", ErrMalformedSignature, signature[64])
	}

	pub, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrMalformedSignature, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// SplitSignature splits a 65 byte signature into the v, r and s arguments of
// transferWithAuthorization, with v in {27, 28}.
func SplitSignature(signature []byte) (v uint8, r, s [32]byte, err error) {
	if len(signature) != SignatureLength {
		return 0, r, s, fmt.Errorf("%w: length %d", ErrMalformedSignature, len(signature))
	}
	copy(r[:], signature[:32])
	copy(s[:], signature[32:64])
	v = signature[64]
	if v < 27 {
		v += 27
	}
	return v, r, s, nil
}

func generateNonce() (common.Hash, error) {
	var nonce [32]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return common.Hash{}, err
	}
	return common.BytesToHash(nonce[:]), nil
}

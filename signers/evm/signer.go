package evm

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	x402 "github.com/mark3labs/x402-facilitator"
	"github.com/mark3labs/x402-facilitator/evm"
)

const defaultTimeoutSeconds = 300

// Signer creates signed payment payloads from a payer key.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chain      x402.ChainConfig
}

// SignerOption configures a Signer.
type SignerOption func(*Signer) error

// NewSigner creates a new payer signer with the given options.
func NewSigner(opts ...SignerOption) (*Signer, error) {
	s := &Signer{}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	if s.privateKey == nil {
		return nil, x402.ErrInvalidKey
	}
	if s.chain.NetworkID == "" {
		return nil, x402.ErrInvalidNetwork
	}

	s.address = crypto.PubkeyToAddress(s.privateKey.PublicKey)
	return s, nil
}

// WithPrivateKey sets the private key from a hex string.
func WithPrivateKey(hexKey string) SignerOption {
	return func(s *Signer) error {
		key, err := evm.ParsePrivateKey(hexKey)
		if err != nil {
			return err
		}
		s.privateKey = key
		return nil
	}
}

// WithKey sets an already parsed private key.
func WithKey(key *ecdsa.PrivateKey) SignerOption {
	return func(s *Signer) error {
		s.privateKey = key
		return nil
	}
}

// WithKeystore loads the private key from an encrypted keystore file.
func WithKeystore(keystorePath, password string) SignerOption {
	return func(s *Signer) error {
		key, err := evm.LoadKeystore(keystorePath, password)
		if err != nil {
			return err
		}
		s.privateKey = key
		return nil
	}
}

// WithMnemonic derives the private key from a BIP39 mnemonic.
func WithMnemonic(mnemonic string, accountIndex uint32) SignerOption {
	return func(s *Signer) error {
		key, err := evm.LoadMnemonic(mnemonic, accountIndex)
		if err != nil {
			return err
		}
		s.privateKey = key
		return nil
	}
}

// WithChain sets the chain and token the signer pays on.
func WithChain(chain x402.ChainConfig) SignerOption {
	return func(s *Signer) error {
		if chain.ChainID <= 0 || !x402.IsHexAddress(chain.AssetAddress) {
			return x402.ErrInvalidNetwork
		}
		s.chain = chain
		return nil
	}
}

// Address returns the payer address.
func (s *Signer) Address() common.Address {
	return s.address
}

// Sign authorizes a transfer of value to requirement.PayTo and returns the
// payload a facilitator's /verify and /settle accept. The EIP-712 domain name
// and version come from requirement.Extra when present.
func (s *Signer) Sign(requirement x402.PaymentRequirement, value *big.Int) (*x402.PaymentPayload, error) {
	if !x402.IsHexAddress(requirement.PayTo) {
		return nil, fmt.Errorf("%w: payTo %q", x402.ErrInvalidRequest, requirement.PayTo)
	}
	if value == nil || value.Sign() < 0 {
		return nil, x402.ErrInvalidAmount
	}

	timeout := requirement.MaxTimeoutSeconds
	if timeout <= 0 {
		timeout = defaultTimeoutSeconds
	}

	auth, err := CreateEIP3009Authorization(s.address, common.HexToAddress(requirement.PayTo), value, timeout)
	if err != nil {
		return nil, err
	}

	domain := Domain{
		Name:              s.chain.EIP3009Name,
		Version:           s.chain.EIP3009Version,
		ChainID:           s.chain.ChainIDBig(),
		VerifyingContract: common.HexToAddress(s.chain.AssetAddress),
	}
	if name, ok := requirement.Extra["name"].(string); ok && name != "" {
		domain.Name = name
	}
	if version, ok := requirement.Extra["version"].(string); ok && version != "" {
		domain.Version = version
	}

	signature, err := SignTransferAuthorization(s.privateKey, domain, auth)
	if err != nil {
		return nil, err
	}

	accepted := requirement
	accepted.Scheme = x402.SchemeExact
	accepted.Network = s.chain.NetworkID
	accepted.Asset = s.chain.AssetAddress

	return &x402.PaymentPayload{
		X402Version: 2,
		Accepted:    accepted,
		Payload: x402.EVMPayload{
			Signature: signature,
			Authorization: x402.EVMAuthorization{
				From:        s.address.Hex(),
				To:          auth.To.Hex(),
				Value:       auth.Value.String(),
				ValidAfter:  auth.ValidAfter.String(),
				ValidBefore: auth.ValidBefore.String(),
				Nonce:       auth.Nonce.Hex(),
			},
		},
	}, nil
}

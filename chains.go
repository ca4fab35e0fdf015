// Package x402 holds the wire types, chain configurations and error taxonomy
// shared by the facilitator, the bounty ledger and the HTTP surface.
package x402

import (
	"fmt"
	"math/big"
	"strings"
)

// NetworkType represents the blockchain virtual machine type.
type NetworkType int

const (
	// NetworkTypeUnknown represents an unrecognized network.
	NetworkTypeUnknown NetworkType = iota
	// NetworkTypeEVM represents Ethereum Virtual Machine chains.
	NetworkTypeEVM
)

// ChainConfig contains the chain and token parameters a facilitator settles on.
type ChainConfig struct {
	// NetworkID is the CAIP-2 network identifier (e.g., "eip155:14").
	NetworkID string

	// Name is a human readable chain name.
	Name string

	// ChainID is the EIP-155 chain id.
	ChainID int64

	// RPCURL is the default JSON-RPC endpoint.
	RPCURL string

	// AssetAddress is the EIP-3009 token contract.
	AssetAddress string

	// AssetSymbol is the display symbol of the token.
	AssetSymbol string

	// Decimals is the number of decimal places of the token.
	Decimals uint8

	// EIP3009Name is the expected EIP-712 domain "name". The verifier reads the
	// live value from the contract; this is used when advertising requirements.
	EIP3009Name string

	// EIP3009Version is the expected EIP-712 domain "version".
	EIP3009Version string
}

// ChainIDBig returns the chain id as a *big.Int.
func (c ChainConfig) ChainIDBig() *big.Int {
	return big.NewInt(c.ChainID)
}

var (
	// FlareMainnet is the configuration for Flare mainnet with USD₮0.
	FlareMainnet = ChainConfig{
		NetworkID:      "eip155:14",
		Name:           "Flare Mainnet",
		ChainID:        14,
		RPCURL:         "https://flare-api.flare.network/ext/C/rpc",
		AssetAddress:   "0xe7cd86e13AC4309349F30B3435a9d337750fC82D",
		AssetSymbol:    "USD₮0",
		Decimals:       6,
		EIP3009Name:    "USD₮0",
		EIP3009Version: "1",
	}

	// BaseMainnet is the configuration for Base mainnet with USDC.
	BaseMainnet = ChainConfig{
		NetworkID:      "eip155:8453",
		Name:           "Base",
		ChainID:        8453,
		RPCURL:         "https://mainnet.base.org",
		AssetAddress:   "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
		AssetSymbol:    "USDC",
		Decimals:       6,
		EIP3009Name:    "USD Coin",
		EIP3009Version: "2",
	}

	// BaseSepolia is the configuration for Base Sepolia testnet with USDC.
	BaseSepolia = ChainConfig{
		NetworkID:      "eip155:84532",
		Name:           "Base Sepolia",
		ChainID:        84532,
		RPCURL:         "https://sepolia.base.org",
		AssetAddress:   "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
		AssetSymbol:    "USDC",
		Decimals:       6,
		EIP3009Name:    "USDC",
		EIP3009Version: "2",
	}
)

// knownChains maps CAIP-2 identifiers and legacy short names to configs.
var knownChains = map[string]ChainConfig{
	"eip155:14":    FlareMainnet,
	"flare":        FlareMainnet,
	"eip155:8453":  BaseMainnet,
	"base":         BaseMainnet,
	"eip155:84532": BaseSepolia,
	"base-sepolia": BaseSepolia,
}

// ChainByNetwork returns the built-in configuration for a network identifier.
func ChainByNetwork(networkID string) (ChainConfig, error) {
	chain, ok := knownChains[strings.ToLower(networkID)]
	if !ok {
		return ChainConfig{}, fmt.Errorf("%w: %s", ErrInvalidNetwork, networkID)
	}
	return chain, nil
}

// ValidateNetwork validates a network identifier and returns its type.
// Any well-formed "eip155:<chainId>" identifier is accepted, as are the
// short names of the built-in chains.
func ValidateNetwork(networkID string) (NetworkType, error) {
	if networkID == "" {
		return NetworkTypeUnknown, fmt.Errorf("networkID: cannot be empty")
	}

	if _, ok := knownChains[strings.ToLower(networkID)]; ok {
		return NetworkTypeEVM, nil
	}

	if _, err := ParseEIP155ChainID(networkID); err != nil {
		return NetworkTypeUnknown, fmt.Errorf("networkID: unsupported network")
	}
	return NetworkTypeEVM, nil
}

// ParseEIP155ChainID extracts the chain id from a CAIP-2 "eip155:<id>" identifier.
func ParseEIP155ChainID(networkID string) (int64, error) {
	rest, ok := strings.CutPrefix(networkID, "eip155:")
	if !ok || rest == "" {
		return 0, fmt.Errorf("%w: %s", ErrInvalidNetwork, networkID)
	}
	id, ok := new(big.Int).SetString(rest, 10)
	if !ok || id.Sign() <= 0 || !id.IsInt64() {
		return 0, fmt.Errorf("%w: %s", ErrInvalidNetwork, networkID)
	}
	return id.Int64(), nil
}

// ValidateTokenAddress validates that an address is a 0x-prefixed 20 byte hex string.
func ValidateTokenAddress(networkID, address string) error {
	if address == "" {
		return fmt.Errorf("token address cannot be empty")
	}

	if _, err := ValidateNetwork(networkID); err != nil {
		return err
	}

	if !IsHexAddress(address) {
		return fmt.Errorf("token address '%s' is invalid for EVM network '%s', expected 0x-prefixed hex address (42 chars)", address, networkID)
	}
	return nil
}

// IsHexAddress reports whether s is a 0x-prefixed 40 digit hex string.
func IsHexAddress(s string) bool {
	if len(s) != 42 {
		return false
	}
	if s[0:2] != "0x" && s[0:2] != "0X" {
		return false
	}
	for i := 2; i < len(s); i++ {
		c := s[i]
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')) {
			return false
		}
	}
	return true
}

// NormalizeAddress lower-cases an address for storage and comparison.
func NormalizeAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

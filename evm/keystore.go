package evm

import (
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/tyler-smith/go-bip32"
	"github.com/tyler-smith/go-bip39"

	x402 "github.com/mark3labs/x402-facilitator"
)

// KeySource describes where the facilitator key comes from. Exactly one of
// PrivateKey, File, Keystore or Mnemonic should be set.
type KeySource struct {
	PrivateKey   string // hex, with or without 0x
	File         string // JSON document {"privateKey": "0x..."}
	Keystore     string // encrypted V3 keystore
	Password     string // keystore password
	Mnemonic     string // BIP39 phrase
	AccountIndex uint32 // m/44'/60'/0'/0/{index}
}

// LoadKey resolves a KeySource to a private key.
func LoadKey(src KeySource) (*ecdsa.PrivateKey, error) {
	switch {
	case src.PrivateKey != "":
		return ParsePrivateKey(src.PrivateKey)
	case src.File != "":
		return LoadKeyFile(src.File)
	case src.Keystore != "":
		return LoadKeystore(src.Keystore, src.Password)
	case src.Mnemonic != "":
		return LoadMnemonic(src.Mnemonic, src.AccountIndex)
	default:
		return nil, fmt.Errorf("%w: no key source configured", x402.ErrInvalidKey)
	}
}

// ParsePrivateKey parses a hex private key.
func ParsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")

	privateKey, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, x402.ErrInvalidKey
	}
	return privateKey, nil
}

// LoadKeyFile reads a JSON key file of the form {"privateKey": "0x..."}.
func LoadKeyFile(path string) (*ecdsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", x402.ErrInvalidKey, err)
	}

	var doc struct {
		PrivateKey string `json:"privateKey"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON format", x402.ErrInvalidKey)
	}
	if doc.PrivateKey == "" {
		return nil, fmt.Errorf("%w: privateKey missing", x402.ErrInvalidKey)
	}
	return ParsePrivateKey(doc.PrivateKey)
}

// LoadKeystore decrypts an encrypted keystore file.
func LoadKeystore(keystorePath, password string) (*ecdsa.PrivateKey, error) {
	data, err := os.ReadFile(keystorePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", x402.ErrInvalidKeystore, err)
	}

	var keyJSON struct {
		Crypto keystore.CryptoJSON `json:"crypto"`
	}
	if err := json.Unmarshal(data, &keyJSON); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON format", x402.ErrInvalidKeystore)
	}

	privateKeyBytes, err := keystore.DecryptDataV3(keyJSON.Crypto, password)
	if err != nil {
		return nil, fmt.Errorf("%w: decryption failed", x402.ErrInvalidKeystore)
	}

	privateKey, err := crypto.ToECDSA(privateKeyBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid private key", x402.ErrInvalidKeystore)
	}
	return privateKey, nil
}

// LoadMnemonic derives the key at m/44'/60'/0'/0/{accountIndex} from a BIP39 phrase.
func LoadMnemonic(mnemonic string, accountIndex uint32) (*ecdsa.PrivateKey, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, x402.ErrInvalidMnemonic
	}

	seed := bip39.NewSeed(mnemonic, "")
	privateKey, err := deriveEthereumKey(seed, accountIndex)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", x402.ErrInvalidMnemonic, err)
	}
	return privateKey, nil
}

func deriveEthereumKey(seed []byte, index uint32) (*ecdsa.PrivateKey, error) {
	key, err := bip32.NewMasterKey(seed)
	if err != nil {
		return nil, err
	}

	path := []uint32{
		bip32.FirstHardenedChild + 44, // purpose
		bip32.FirstHardenedChild + 60, // ethereum
		bip32.FirstHardenedChild + 0,  // account
		0,                             // external chain
		index,
	}
	for _, child := range path {
		key, err = key.NewChildKey(child)
		if err != nil {
			return nil, err
		}
	}

	return crypto.ToECDSA(key.Key)
}

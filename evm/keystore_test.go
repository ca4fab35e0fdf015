package evm

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	x402 "github.com/mark3labs/x402-facilitator"
)

// Well-known development key and mnemonic (DO NOT use in production).
const (
	testPrivateKeyHex = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	testMnemonic      = "test test test test test test test test test test test junk"
)

var testAddress = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")

func TestParsePrivateKey(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr bool
	}{
		{"bare hex", testPrivateKeyHex, false},
		{"0x prefix", "0x" + testPrivateKeyHex, false},
		{"surrounding space", " 0x" + testPrivateKeyHex + "\n", false},
		{"too short", "0x1234", true},
		{"not hex", "zz" + testPrivateKeyHex[2:], true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, err := ParsePrivateKey(tt.key)
			if tt.wantErr {
				if !errors.Is(err, x402.ErrInvalidKey) {
					t.Fatalf("expected ErrInvalidKey, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if addr := crypto.PubkeyToAddress(key.PublicKey); addr != testAddress {
				t.Errorf("address = %s, want %s", addr.Hex(), testAddress.Hex())
			}
		})
	}
}

func TestLoadKeyFile(t *testing.T) {
	dir := t.TempDir()

	valid := filepath.Join(dir, "facilitator-key.json")
	if err := os.WriteFile(valid, []byte(`{"privateKey":"0x`+testPrivateKeyHex+`","address":"ignored"}`), 0o600); err != nil {
		t.Fatal(err)
	}
	missing := filepath.Join(dir, "missing-field.json")
	if err := os.WriteFile(missing, []byte(`{"address":"0x00"}`), 0o600); err != nil {
		t.Fatal(err)
	}
	garbage := filepath.Join(dir, "garbage.json")
	if err := os.WriteFile(garbage, []byte("not json"), 0o600); err != nil {
		t.Fatal(err)
	}

	key, err := LoadKeyFile(valid)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if crypto.PubkeyToAddress(key.PublicKey) != testAddress {
		t.Error("key file resolved to the wrong address")
	}

	for _, path := range []string{missing, garbage, filepath.Join(dir, "nope.json")} {
		if _, err := LoadKeyFile(path); !errors.Is(err, x402.ErrInvalidKey) {
			t.Errorf("LoadKeyFile(%s) error = %v, want ErrInvalidKey", filepath.Base(path), err)
		}
	}
}

func TestLoadMnemonic(t *testing.T) {
	tests := []struct {
		name         string
		mnemonic     string
		accountIndex uint32
		wantErr      error
		wantAddress  *common.Address
	}{
		{
			name:         "valid mnemonic account 0",
			mnemonic:     testMnemonic,
			accountIndex: 0,
			wantAddress:  &testAddress,
		},
		{
			name:         "valid mnemonic account 1",
			mnemonic:     testMnemonic,
			accountIndex: 1,
		},
		{
			name:     "invalid mnemonic",
			mnemonic: "invalid mnemonic phrase",
			wantErr:  x402.ErrInvalidMnemonic,
		},
		{
			name:     "empty mnemonic",
			mnemonic: "",
			wantErr:  x402.ErrInvalidMnemonic,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, err := LoadMnemonic(tt.mnemonic, tt.accountIndex)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected error %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantAddress != nil && crypto.PubkeyToAddress(key.PublicKey) != *tt.wantAddress {
				t.Errorf("address = %s, want %s", crypto.PubkeyToAddress(key.PublicKey).Hex(), tt.wantAddress.Hex())
			}
		})
	}
}

func TestLoadMnemonic_DifferentAccounts(t *testing.T) {
	k0, err := LoadMnemonic(testMnemonic, 0)
	if err != nil {
		t.Fatal(err)
	}
	k1, err := LoadMnemonic(testMnemonic, 1)
	if err != nil {
		t.Fatal(err)
	}
	if crypto.PubkeyToAddress(k0.PublicKey) == crypto.PubkeyToAddress(k1.PublicKey) {
		t.Error("different account indexes should derive different addresses")
	}
}

func TestLoadKeystore(t *testing.T) {
	tmpDir := t.TempDir()
	password := "testpassword123"

	privateKey, err := crypto.HexToECDSA(testPrivateKeyHex)
	if err != nil {
		t.Fatalf("failed to parse test private key: %v", err)
	}
	ks := keystore.NewKeyStore(tmpDir, keystore.LightScryptN, keystore.LightScryptP)
	account, err := ks.ImportECDSA(privateKey, password)
	if err != nil {
		t.Fatalf("failed to create keystore: %v", err)
	}

	malformed := filepath.Join(tmpDir, "malformed.json")
	data, _ := json.Marshal(map[string]interface{}{"crypto": map[string]interface{}{"cipher": "invalid"}})
	if err := os.WriteFile(malformed, data, 0o600); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name     string
		path     string
		password string
		wantErr  bool
	}{
		{"correct password", account.URL.Path, password, false},
		{"wrong password", account.URL.Path, "wrongpassword", true},
		{"missing file", filepath.Join(tmpDir, "nonexistent.json"), password, true},
		{"malformed keystore", malformed, password, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, err := LoadKeystore(tt.path, tt.password)
			if tt.wantErr {
				if !errors.Is(err, x402.ErrInvalidKeystore) {
					t.Fatalf("expected ErrInvalidKeystore, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if crypto.PubkeyToAddress(key.PublicKey) != account.Address {
				t.Error("keystore resolved to the wrong address")
			}
		})
	}
}

func TestLoadKey(t *testing.T) {
	if _, err := LoadKey(KeySource{}); !errors.Is(err, x402.ErrInvalidKey) {
		t.Errorf("empty source error = %v, want ErrInvalidKey", err)
	}

	key, err := LoadKey(KeySource{Mnemonic: testMnemonic})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if crypto.PubkeyToAddress(key.PublicKey) != testAddress {
		t.Error("mnemonic source resolved to the wrong address")
	}

	// An explicit private key wins over the other sources.
	key, err = LoadKey(KeySource{PrivateKey: testPrivateKeyHex, Mnemonic: "invalid"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if crypto.PubkeyToAddress(key.PublicKey) != testAddress {
		t.Error("private key source resolved to the wrong address")
	}
}

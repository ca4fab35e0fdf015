package facilitator

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	x402 "github.com/mark3labs/x402-facilitator"
	"github.com/mark3labs/x402-facilitator/evm"
	sevm "github.com/mark3labs/x402-facilitator/signers/evm"
)

// Test private keys (DO NOT use in production)
const (
	payerKeyHex    = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	strangerKeyHex = "59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"
)

var (
	testNow     = time.Unix(1_800_000_000, 0)
	merchant    = common.HexToAddress("0x2222222222222222222222222222222222222222")
	facilitator = common.HexToAddress("0x0DFa93560e0DCfF78F7e3985826e42e53E9493cC")
)

// fakeLedger is an in-memory token with EIP-3009 nonce tracking.
type fakeLedger struct {
	mu sync.Mutex

	name     string
	version  string
	balances map[common.Address]*big.Int
	used     map[common.Address]map[[32]byte]bool
	readErr  error
	writeErr error
	status   evm.ReceiptStatus
	detail   string

	writes    int
	transfers []evm.AuthorizationCall
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		name:     "USD₮0",
		version:  "1",
		balances: map[common.Address]*big.Int{},
		used:     map[common.Address]map[[32]byte]bool{},
		status:   evm.ReceiptConfirmed,
	}
}

func (f *fakeLedger) TokenName(context.Context) (string, error) {
	if f.readErr != nil {
		return "", f.readErr
	}
	return f.name, nil
}

func (f *fakeLedger) TokenVersion(context.Context) (string, error) {
	if f.readErr != nil {
		return "", f.readErr
	}
	return f.version, nil
}

func (f *fakeLedger) BalanceOf(_ context.Context, owner common.Address) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		return nil, f.readErr
	}
	if b := f.balances[owner]; b != nil {
		return new(big.Int).Set(b), nil
	}
	return new(big.Int), nil
}

func (f *fakeLedger) AuthorizationState(_ context.Context, authorizer common.Address, nonce [32]byte) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.used[authorizer][nonce], nil
}

func (f *fakeLedger) Address() common.Address { return facilitator }

func (f *fakeLedger) TransferWithAuthorization(_ context.Context, call evm.AuthorizationCall) (*evm.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	if f.writeErr != nil {
		return nil, f.writeErr
	}
	f.transfers = append(f.transfers, call)
	if f.status == evm.ReceiptConfirmed {
		if f.used[call.From] == nil {
			f.used[call.From] = map[[32]byte]bool{}
		}
		f.used[call.From][call.Nonce] = true
	}
	return f.receipt(), nil
}

func (f *fakeLedger) Transfer(_ context.Context, to common.Address, amount *big.Int) (*evm.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	if f.writeErr != nil {
		return nil, f.writeErr
	}
	return f.receipt(), nil
}

func (f *fakeLedger) Receipt(_ context.Context, hash common.Hash) (*evm.Receipt, error) {
	return &evm.Receipt{TxHash: hash, Status: f.status, BlockNumber: 7}, nil
}

func (f *fakeLedger) receipt() *evm.Receipt {
	return &evm.Receipt{
		TxHash:      common.BigToHash(big.NewInt(int64(f.writes))),
		Status:      f.status,
		BlockNumber: 1000 + uint64(f.writes),
		GasUsed:     60000,
		Detail:      f.detail,
	}
}

func mustKey(t *testing.T, hexKey string) *ecdsa.PrivateKey {
	t.Helper()
	k, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		t.Fatal(err)
	}
	return k
}

// payment builds a payload from the payer key, signed by signKey under the
// Flare USD₮0 domain, after applying mutate to the authorization.
func payment(t *testing.T, signKey *ecdsa.PrivateKey, mutate func(*sevm.EIP3009Authorization)) x402.PaymentPayload {
	t.Helper()
	payer := crypto.PubkeyToAddress(mustKey(t, payerKeyHex).PublicKey)
	auth := &sevm.EIP3009Authorization{
		From:        payer,
		To:          merchant,
		Value:       big.NewInt(10_000),
		ValidAfter:  big.NewInt(testNow.Unix() - 60),
		ValidBefore: big.NewInt(testNow.Unix() + 300),
		Nonce:       common.HexToHash("0x00000000000000000000000000000000000000000000000000000000000000aa"),
	}
	if mutate != nil {
		mutate(auth)
	}

	domain := sevm.Domain{
		Name:              x402.FlareMainnet.EIP3009Name,
		Version:           x402.FlareMainnet.EIP3009Version,
		ChainID:           x402.FlareMainnet.ChainIDBig(),
		VerifyingContract: common.HexToAddress(x402.FlareMainnet.AssetAddress),
	}
	sig, err := sevm.SignTransferAuthorization(signKey, domain, auth)
	if err != nil {
		t.Fatal(err)
	}

	return x402.PaymentPayload{
		X402Version: 2,
		Accepted: x402.PaymentRequirement{
			Scheme:  x402.SchemeExact,
			Network: x402.FlareMainnet.NetworkID,
			Asset:   x402.FlareMainnet.AssetAddress,
		},
		Payload: x402.EVMPayload{
			Signature: sig,
			Authorization: x402.EVMAuthorization{
				From:        auth.From.Hex(),
				To:          auth.To.Hex(),
				Value:       auth.Value.String(),
				ValidAfter:  auth.ValidAfter.String(),
				ValidBefore: auth.ValidBefore.String(),
				Nonce:       auth.Nonce.Hex(),
			},
		},
	}
}

var errRPCDown = errors.New("dial tcp: connection refused")

package x402

import (
	"encoding/json"
	"errors"
	"math/big"
	"testing"
)

func TestPaymentPayload_JSON(t *testing.T) {
	body := `{
		"x402Version": 2,
		"accepted": {"scheme": "exact", "network": "eip155:14", "asset": "0xe7cd86e13AC4309349F30B3435a9d337750fC82D"},
		"payload": {
			"signature": "0xabc",
			"authorization": {
				"from": "0x1111111111111111111111111111111111111111",
				"to": "0x2222222222222222222222222222222222222222",
				"value": "1000",
				"validAfter": "0",
				"validBefore": "9999999999",
				"nonce": "0x01"
			}
		}
	}`

	var p PaymentPayload
	if err := json.Unmarshal([]byte(body), &p); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if p.Accepted.Network != "eip155:14" {
		t.Errorf("Accepted.Network = %q", p.Accepted.Network)
	}
	if p.Payload.Authorization.Value != "1000" {
		t.Errorf("Authorization.Value = %q", p.Payload.Authorization.Value)
	}
	if p.Accepted.PayTo != "" {
		t.Errorf("PayTo should be empty, got %q", p.Accepted.PayTo)
	}
}

func TestSettlementResponse_OmitsEmpty(t *testing.T) {
	data, err := json.Marshal(SettlementResponse{Success: true, Status: SettlementStatusConfirmed, Network: "eip155:14"})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var fields map[string]interface{}
	if err := json.Unmarshal(data, &fields); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	for _, key := range []string{"errorReason", "transaction", "blockNumber", "gasUsed", "payer"} {
		if _, ok := fields[key]; ok {
			t.Errorf("expected %q to be omitted", key)
		}
	}
}

func TestAmountToBigInt(t *testing.T) {
	tests := []struct {
		amount   string
		decimals int
		want     string
		wantErr  bool
	}{
		{"1", 6, "1000000", false},
		{"1.5", 6, "1500000", false},
		{"0.000001", 6, "1", false},
		{"0", 6, "0", false},
		{"0.0000001", 6, "", true},
		{"abc", 6, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.amount, func(t *testing.T) {
			got, err := AmountToBigInt(tt.amount, tt.decimals)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidAmount) {
					t.Errorf("error = %v, want ErrInvalidAmount", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.String() != tt.want {
				t.Errorf("AmountToBigInt() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestBigIntToAmount(t *testing.T) {
	tests := []struct {
		value    *big.Int
		decimals int
		want     string
	}{
		{big.NewInt(1000000), 6, "1.000000"},
		{big.NewInt(1500000), 6, "1.500000"},
		{big.NewInt(1), 6, "0.000001"},
		{nil, 6, "0.000000"},
		{big.NewInt(42), 0, "42"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := BigIntToAmount(tt.value, tt.decimals); got != tt.want {
				t.Errorf("BigIntToAmount() = %q, want %q", got, tt.want)
			}
		})
	}
}

package main

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"math/big"
	"runtime"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"

	x402 "github.com/mark3labs/x402-facilitator"
	httpx402 "github.com/mark3labs/x402-facilitator/http"
	"github.com/mark3labs/x402-facilitator/evm"
	sevm "github.com/mark3labs/x402-facilitator/signers/evm"
)

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version info",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "Version:    %s\n", version)
			fmt.Fprintf(cmd.OutOrStdout(), "Go:         %s\n", runtime.Version())
		},
	}
}

// testPayCmd signs a small authorization and sends it to a running
// facilitator, printing the reply.
func testPayCmd() *cobra.Command {
	var (
		url    string
		keyHex string
		payTo  string
		value  string
		settle bool
	)

	cmd := &cobra.Command{
		Use:   "testpay",
		Short: "Send a signed test authorization to a facilitator",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 3*time.Minute)
			defer cancel()

			client := httpx402.NewFacilitatorClient(url)
			reqs, err := client.Requirements(ctx)
			if err != nil {
				return fmt.Errorf("fetch requirements: %w", err)
			}
			if len(reqs.Schemes) == 0 {
				return fmt.Errorf("facilitator at %s accepts no schemes", url)
			}
			kind := reqs.Schemes[0]

			chainID, err := x402.ParseEIP155ChainID(kind.Network)
			if err != nil {
				return err
			}

			var key *ecdsa.PrivateKey
			if keyHex != "" {
				if key, err = evm.ParsePrivateKey(keyHex); err != nil {
					return err
				}
			} else if key, err = crypto.GenerateKey(); err != nil {
				return err
			}

			signer, err := sevm.NewSigner(sevm.WithKey(key), sevm.WithChain(x402.ChainConfig{
				NetworkID:    kind.Network,
				ChainID:      chainID,
				AssetAddress: kind.Asset,
			}))
			if err != nil {
				return err
			}

			amount, ok := new(big.Int).SetString(value, 10)
			if !ok {
				return fmt.Errorf("%w: %q", x402.ErrInvalidAmount, value)
			}
			if payTo == "" {
				payTo = signer.Address().Hex()
			}
			payload, err := signer.Sign(x402.PaymentRequirement{
				PayTo: common.HexToAddress(payTo).Hex(),
				Extra: kind.Extra,
			}, amount)
			if err != nil {
				return err
			}

			var out any
			if settle {
				out, err = client.Settle(ctx, *payload)
			} else {
				out, err = client.Verify(ctx, *payload)
			}
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.ErrOrStderr(), "payer %s\n", signer.Address().Hex())
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}

	cmd.Flags().StringVar(&url, "url", "http://localhost:3402", "facilitator base URL")
	cmd.Flags().StringVar(&keyHex, "key", "", "payer private key (hex); a fresh key is generated when empty")
	cmd.Flags().StringVar(&payTo, "pay-to", "", "recipient address (defaults to the payer)")
	cmd.Flags().StringVar(&value, "value", "1", "amount in atomic units")
	cmd.Flags().BoolVar(&settle, "settle", false, "call /settle instead of /verify")
	return cmd
}

package main

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	x402 "github.com/mark3labs/x402-facilitator"
	"github.com/mark3labs/x402-facilitator/store"
)

func claimsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "claims",
		Short: "Inspect bounty payouts",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List confirmed claims and open reservations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.open(); err != nil {
				return err
			}
			ctx := cmd.Context()
			claims, err := a.ledger.List(ctx)
			if err != nil {
				return err
			}
			reservations, err := a.ledger.Reservations(ctx, "")
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ADDRESS\tHANDLE\tAMOUNT\tTX\tCLAIMED")
			for _, c := range claims {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", c.Address, c.Handle, a.format(c.Amount), c.TxHash, c.ClaimedAt.Format(time.RFC3339))
			}
			if len(reservations) > 0 {
				fmt.Fprintln(w, "\nRESERVED\tHANDLE\tSTATUS\tTX\tSINCE")
				for _, r := range reservations {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", r.Address, r.Handle, r.Status, r.TxHash, r.CreatedAt.Format(time.RFC3339))
				}
			}
			fmt.Fprintf(w, "\n%d claim(s), %d open reservation(s)\n", len(claims), len(reservations))
			return w.Flush()
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "check <address>",
		Short: "Show the claim or reservation for an address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.open(); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			ctx := cmd.Context()

			claim, err := a.ledger.Get(ctx, args[0])
			if err == nil {
				fmt.Fprintf(out, "%s claimed %s\n  handle: %s\n  tx:     %s\n  at:     %s\n",
					claim.Address, a.format(claim.Amount), claim.Handle, claim.TxHash, claim.ClaimedAt.Format(time.RFC3339))
				return nil
			}
			if !errors.Is(err, store.ErrNotFound) {
				return err
			}

			r, err := a.ledger.Reservation(ctx, args[0])
			switch {
			case errors.Is(err, store.ErrNotFound):
				fmt.Fprintf(out, "%s has not claimed\n", x402.NormalizeAddress(args[0]))
				return nil
			case err != nil:
				return err
			}
			fmt.Fprintf(out, "%s has a %s reservation\n  tx:    %s\n  since: %s\n",
				r.Address, r.Status, r.TxHash, r.CreatedAt.Format(time.RFC3339))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "release <address>",
		Short: "Free the pool slot of a reservation that never submitted a transfer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.open(); err != nil {
				return err
			}
			ctx := cmd.Context()
			r, err := a.ledger.Reservation(ctx, args[0])
			if err != nil {
				return err
			}
			if r.TxHash != "" {
				return fmt.Errorf("%w: %s has transaction %s, run reconcile instead", x402.ErrClaimPending, r.Address, r.TxHash)
			}
			if err := a.ledger.Release(ctx, r.Address); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "released %s\n", r.Address)
			return nil
		},
	})
	return cmd
}

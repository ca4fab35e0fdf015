package main

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/mark3labs/x402-facilitator/store"
)

func whitelistCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "whitelist",
		Short: "Manage addresses approved for the bounty",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "add <address> <handle> [post-url]",
		Short: "Approve an address",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.open(); err != nil {
				return err
			}
			provenance := ""
			if len(args) == 3 {
				provenance = args[2]
			}
			entry, added, err := a.whitelist.Add(cmd.Context(), args[0], args[1], provenance)
			if err != nil {
				return err
			}
			if !added {
				fmt.Fprintf(cmd.OutOrStdout(), "%s is already whitelisted (%s)\n", entry.Address, entry.Handle)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "whitelisted %s (%s)\n", entry.Address, entry.Handle)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "remove <address>",
		Short: "Revoke an address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.open(); err != nil {
				return err
			}
			removed, err := a.whitelist.Remove(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !removed {
				return fmt.Errorf("%s is not whitelisted", args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", args[0])
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "check <address>",
		Short: "Show whether an address is whitelisted and has claimed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.open(); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			ctx := cmd.Context()

			entry, err := a.whitelist.Get(ctx, args[0])
			switch {
			case errors.Is(err, store.ErrNotFound):
				fmt.Fprintf(out, "%s is not whitelisted\n", args[0])
			case err != nil:
				return err
			default:
				fmt.Fprintf(out, "%s is whitelisted\n  handle:   %s\n  approved: %s\n", entry.Address, entry.Handle, entry.ApprovedAt.Format(time.RFC3339))
				if entry.Provenance != "" {
					fmt.Fprintf(out, "  post:     %s\n", entry.Provenance)
				}
			}

			claim, err := a.ledger.Get(ctx, args[0])
			switch {
			case errors.Is(err, store.ErrNotFound):
				fmt.Fprintln(out, "  claimed:  no")
			case err != nil:
				return err
			default:
				fmt.Fprintf(out, "  claimed:  yes, tx %s\n", claim.TxHash)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List approved addresses",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.open(); err != nil {
				return err
			}
			entries, err := a.whitelist.List(cmd.Context())
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "whitelist is empty")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ADDRESS\tHANDLE\tAPPROVED")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\t%s\n", e.Address, e.Handle, e.ApprovedAt.Format(time.RFC3339))
			}
			fmt.Fprintf(w, "\n%d address(es)\n", len(entries))
			return w.Flush()
		},
	})
	return cmd
}

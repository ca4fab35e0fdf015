package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	httpx402 "github.com/mark3labs/x402-facilitator/http"
	"github.com/mark3labs/x402-facilitator/internal/auth"
	"github.com/mark3labs/x402-facilitator/store"
)

func statusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Summarize the whitelist and the bounty pool",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.open(); err != nil {
				return err
			}
			ctx := cmd.Context()
			whitelisted, err := a.whitelist.Count(ctx)
			if err != nil {
				return err
			}
			summary, err := a.ledger.Summary(ctx)
			if err != nil {
				return err
			}

			remaining := a.cfg.Bounty.MaxClaims - summary.ClaimCount - summary.ReservationCount
			if remaining < 0 {
				remaining = 0
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "bounty enabled:  %v\n", a.cfg.Bounty.Enabled)
			fmt.Fprintf(out, "whitelisted:     %d\n", whitelisted)
			fmt.Fprintf(out, "claimed:         %d / %d\n", summary.ClaimCount, a.cfg.Bounty.MaxClaims)
			fmt.Fprintf(out, "reserved:        %d\n", summary.ReservationCount)
			fmt.Fprintf(out, "remaining:       %d\n", remaining)
			fmt.Fprintf(out, "total paid:      %s\n", a.format(summary.TotalPaid.String()))
			return nil
		},
	}
}

func auditCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "audit",
		Short: "Check the running totals against the claim rows",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.open(); err != nil {
				return err
			}
			report, err := a.ledger.Audit(cmd.Context())
			if err != nil {
				return err
			}
			if err := printJSON(cmd, report); err != nil {
				return err
			}
			if !report.Consistent {
				return fmt.Errorf("ledger totals do not match the claim rows")
			}
			return nil
		},
	}
}

func importCmd(a *app) *cobra.Command {
	var claimsPath, whitelistPath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import legacy bounty-claims.json and bounty-whitelist.json documents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if claimsPath == "" && whitelistPath == "" {
				return fmt.Errorf("nothing to import: pass --claims and/or --whitelist")
			}
			if err := a.open(); err != nil {
				return err
			}
			report, err := store.ImportLegacy(cmd.Context(), a.whitelist, a.ledger, whitelistPath, claimsPath)
			if err != nil {
				return err
			}
			return printJSON(cmd, report)
		},
	}
	cmd.Flags().StringVar(&claimsPath, "claims", "", "path to bounty-claims.json")
	cmd.Flags().StringVar(&whitelistPath, "whitelist", "", "path to bounty-whitelist.json")
	return cmd
}

// reconcileCmd asks a running facilitator to resolve pending transfers, since
// only the facilitator holds the key and the chain connection.
func reconcileCmd(a *app) *cobra.Command {
	var url string
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Resolve bounty transfers left pending on a running facilitator",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := a.issueToken("bountyctl", 5*time.Minute)
			if err != nil {
				return err
			}
			client := httpx402.NewFacilitatorClient(url)
			client.AdminToken = token

			report, err := client.Reconcile(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, report)
		},
	}
	cmd.Flags().StringVar(&url, "url", "http://localhost:3402", "facilitator base URL")
	return cmd
}

func tokenCmd(a *app) *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an admin bearer token signed with admin.jwt_secret",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := a.issueToken(subject, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "operator", "token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}

func (a *app) issueToken(subject string, ttl time.Duration) (string, error) {
	if a.cfg.Admin.JWTSecret == "" {
		return "", fmt.Errorf("admin.jwt_secret is not set (X402_ADMIN_JWT_SECRET)")
	}
	tokens, err := auth.NewTokenAuth(a.cfg.Admin.JWTSecret)
	if err != nil {
		return "", err
	}
	return tokens.Issue(subject, ttl)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

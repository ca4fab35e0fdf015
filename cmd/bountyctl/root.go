package main

import (
	"math/big"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	x402 "github.com/mark3labs/x402-facilitator"
	"github.com/mark3labs/x402-facilitator/internal/config"
	"github.com/mark3labs/x402-facilitator/internal/logger"
	"github.com/mark3labs/x402-facilitator/store"
)

// app holds what the commands share. The database is opened on first use.
type app struct {
	configFile string
	dataDir    string

	cfg       *config.Config
	log       zerolog.Logger
	db        *store.DB
	whitelist *store.WhitelistStore
	ledger    *store.ClaimLedger
}

func NewRootCmd() *cobra.Command {
	a := &app{log: zerolog.Nop()}

	rootCmd := &cobra.Command{
		Use:           "bountyctl",
		Short:         "Administer the agent bounty whitelist and claims",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			v := config.New()
			if a.dataDir != "" {
				v.Set("data_dir", a.dataDir)
			}
			cfg, err := config.Load(v, a.configFile)
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.log, err = logger.NewWithWriter(os.Stderr, "warn", "console")
			return err
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if a.db != nil {
				return a.db.Close()
			}
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVar(&a.configFile, "config", "", "YAML config file")
	rootCmd.PersistentFlags().StringVar(&a.dataDir, "data-dir", "", "directory holding the SQLite database (overrides config)")

	rootCmd.AddCommand(whitelistCmd(a))
	rootCmd.AddCommand(claimsCmd(a))
	rootCmd.AddCommand(statusCmd(a))
	rootCmd.AddCommand(auditCmd(a))
	rootCmd.AddCommand(importCmd(a))
	rootCmd.AddCommand(reconcileCmd(a))
	rootCmd.AddCommand(tokenCmd(a))
	return rootCmd
}

func (a *app) open() error {
	if a.db != nil {
		return nil
	}
	db, err := store.OpenFileDB(a.cfg.DataDir, a.cfg.DBFile, true)
	if err != nil {
		return err
	}
	a.db = db
	a.whitelist = store.NewWhitelistStore(db.Client(), a.log)
	a.ledger = store.NewClaimLedger(db.Client(), a.log)
	return nil
}

// format renders atomic units in whole tokens, e.g. "1.000000 USD₮0".
func (a *app) format(atomic string) string {
	chain, err := a.cfg.Chain()
	if err != nil {
		return atomic
	}
	v, ok := new(big.Int).SetString(atomic, 10)
	if !ok {
		return atomic
	}
	return x402.BigIntToAmount(v, int(chain.Decimals)) + " " + chain.AssetSymbol
}

package main

import (
	"context"
	"fmt"
	nethttp "net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mark3labs/x402-facilitator/bounty"
	"github.com/mark3labs/x402-facilitator/evm"
	"github.com/mark3labs/x402-facilitator/facilitator"
	httpx402 "github.com/mark3labs/x402-facilitator/http"
	ginx402 "github.com/mark3labs/x402-facilitator/http/gin"
	"github.com/mark3labs/x402-facilitator/internal/auth"
	"github.com/mark3labs/x402-facilitator/internal/config"
	"github.com/mark3labs/x402-facilitator/internal/logger"
	mcpserver "github.com/mark3labs/x402-facilitator/mcp/server"
	"github.com/mark3labs/x402-facilitator/metrics"
	"github.com/mark3labs/x402-facilitator/store"
)

func serveCmd(v *viper.Viper, load func() (*config.Config, error)) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the facilitator API",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return bindFlags(v, cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, log)
		},
	}
	cmd.Flags().Int("port", 3402, "HTTP port")
	cmd.Flags().String("network", "", "CAIP-2 network, e.g. eip155:14")
	cmd.Flags().String("rpc-url", "", "JSON-RPC endpoint")
	cmd.Flags().String("router", "chi", "HTTP router: chi or gin")
	cmd.Flags().String("log-level", "info", "log level")
	cmd.Flags().String("data-dir", "data", "directory holding the SQLite database")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	chain, err := cfg.Chain()
	if err != nil {
		return err
	}
	if chain.RPCURL == "" {
		return fmt.Errorf("no RPC endpoint for %s: set rpc_url", chain.NetworkID)
	}

	key, err := evm.LoadKey(cfg.KeySource())
	if err != nil {
		return fmt.Errorf("facilitator key: %w", err)
	}

	client, err := evm.Dial(ctx, chain.RPCURL, key, evm.Config{
		Token:          common.HexToAddress(chain.AssetAddress),
		ChainID:        chain.ChainIDBig(),
		GasLimit:       cfg.Settle.GasLimit,
		ConfirmTimeout: cfg.Settle.ConfirmTimeout,
	}, log)
	if err != nil {
		return err
	}
	defer client.Close()

	db, err := store.OpenFileDB(cfg.DataDir, cfg.DBFile, true)
	if err != nil {
		return err
	}
	defer db.Close()

	m := metrics.New()
	whitelist := store.NewWhitelistStore(db.Client(), log)
	ledger := store.NewClaimLedger(db.Client(), log)
	verifier := facilitator.NewVerifier(client, chain, log)
	settler := facilitator.NewSettler(client, chain, log)

	bountyCfg := bounty.Config{
		Enabled:   cfg.Bounty.Enabled,
		MaxClaims: cfg.Bounty.MaxClaims,
		Decimals:  chain.Decimals,
		Symbol:    chain.AssetSymbol,
		Guidance:  cfg.Bounty.Guidance,
	}
	if cfg.Bounty.Enabled {
		if bountyCfg.Amount, err = cfg.BountyAmount(); err != nil {
			return err
		}
	}
	controller, err := bounty.NewController(bountyCfg, whitelist, ledger, settler, log, bounty.WithMetrics(m))
	if err != nil {
		return err
	}

	// Pick up transfers left pending by a previous run.
	if report, err := controller.Reconcile(ctx); err != nil {
		log.Warn().Err(err).Msg("startup reconciliation incomplete")
	} else if len(report.Committed)+len(report.Released)+len(report.StillPending)+len(report.Unsubmitted) > 0 {
		log.Info().
			Strs("committed", report.Committed).
			Strs("released", report.Released).
			Strs("still_pending", report.StillPending).
			Strs("unsubmitted", report.Unsubmitted).
			Msg("reconciled bounty reservations")
	}

	api := httpx402.NewAPI(chain, verifier, settler, log,
		httpx402.WithBounty(controller, whitelist),
		httpx402.WithMetrics(m),
	)

	routerCfg := httpx402.RouterConfig{Logger: log}
	if cfg.Admin.JWTSecret != "" {
		if routerCfg.Auth, err = auth.NewTokenAuth(cfg.Admin.JWTSecret); err != nil {
			return err
		}
	}
	if cfg.MCP.Enabled {
		routerCfg.MCP = mcpserver.NewServer(api, version, log).Handler()
	}

	var handler nethttp.Handler
	switch cfg.Router {
	case "gin":
		handler = ginx402.NewRouter(api, routerCfg)
	default:
		handler = httpx402.NewRouter(api, routerCfg)
	}

	log.Info().
		Str("network", chain.NetworkID).
		Str("asset", chain.AssetAddress).
		Str("facilitator", settler.Address().Hex()).
		Bool("bounty", cfg.Bounty.Enabled).
		Bool("admin", routerCfg.Auth != nil).
		Str("router", cfg.Router).
		Msg("facilitator starting")

	srv := httpx402.NewServer(fmt.Sprintf(":%d", cfg.Port), handler, log,
		httpx402.WithConfirmTimeout(cfg.Settle.ConfirmTimeout))
	return srv.Run(ctx)
}

package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mark3labs/x402-facilitator/internal/config"
)

// flagKeys binds command-line flags to configuration keys.
var flagKeys = map[string]string{
	"port":      "port",
	"network":   "network",
	"rpc-url":   "rpc_url",
	"router":    "router",
	"log-level": "log.level",
	"data-dir":  "data_dir",
}

func NewRootCmd() *cobra.Command {
	v := config.New()
	var configFile string

	rootCmd := &cobra.Command{
		Use:           "x402-facilitator",
		Short:         "x402 payment facilitator with an agent bounty",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "YAML config file")

	load := func() (*config.Config, error) {
		return config.Load(v, configFile)
	}

	rootCmd.AddCommand(serveCmd(v, load))
	rootCmd.AddCommand(testPayCmd())
	rootCmd.AddCommand(versionCmd())
	return rootCmd
}

func bindFlags(v *viper.Viper, cmd *cobra.Command) error {
	for flag, key := range flagKeys {
		if f := cmd.Flags().Lookup(flag); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return err
			}
		}
	}
	return nil
}

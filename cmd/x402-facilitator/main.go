// Command x402-facilitator verifies and settles x402 exact payments on an
// EVM chain and pays the agent bounty.
package main

import (
	"fmt"
	"os"

	"github.com/mark3labs/x402-facilitator/internal/config"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}

	rootCmd := NewRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(rootCmd.OutOrStderr(), err)
		os.Exit(1)
	}
}

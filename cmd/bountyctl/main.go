// Command bountyctl administers the bounty whitelist and claim ledger.
package main

import (
	"fmt"
	"os"

	"github.com/mark3labs/x402-facilitator/internal/config"
)

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

package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Cobra boilerplate
var rootCmd = &cobra.Command{
	Use:   "arbiter",
	Short: "Multi-exchange cryptocurrency arbitrage engine",
	Long: `Arbiter ingests live order books from multiple exchanges, detects
cross-venue and triangular arbitrage opportunities with fixed-point batch
math, gates them through a dynamic risk controller, and executes multi-leg
trades with idempotent per-leg order management.`,
}

// Execute runs the root command. Called once from main.main().
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

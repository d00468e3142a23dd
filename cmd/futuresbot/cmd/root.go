package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "futuresbot",
	Short: "Futures trading bot with durable positions and circuit breakers",
	Long: `futuresbot runs a futures trading cycle against a broker while keeping a
durable local record of open positions, closed trades and daily statistics.

It provides tools for:
  - Running the trading cycle with reconciliation and circuit breakers
  - Exporting closed trades and daily stats (CSV, JSON, Parquet)
  - Reviewing the trade journal
  - Generating and validating configuration files`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

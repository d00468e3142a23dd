package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/futuresbot/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Generate or validate configuration files",
	Long: `Manage configuration files.

Subcommands:
  init     - Generate a default configuration file
  validate - Validate an existing configuration file

Examples:
  futuresbot config init -o futuresbot.yaml
  futuresbot config validate -f futuresbot.yaml`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate a default configuration file",
	RunE:  runConfigInit,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	RunE:  runConfigValidate,
}

var (
	configInitOutput   string
	configValidatePath string
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configValidateCmd)

	configInitCmd.Flags().StringVarP(&configInitOutput, "output", "o", "futuresbot.yaml", "output config file path")
	configValidateCmd.Flags().StringVarP(&configValidatePath, "file", "f", "", "path to config file (required)")
	_ = configValidateCmd.MarkFlagRequired("file")
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	cfg := config.Default()
	if err := cfg.SaveToFile(configInitOutput); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "✓ Created default configuration: %s\n", configInitOutput)
	fmt.Fprintf(out, "\nEdit the file and run with:\n  futuresbot run -f %s\n", configInitOutput)
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadFromFile(configValidatePath)
	if err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "✓ Configuration valid: %s\n", configValidatePath)
	fmt.Fprintf(out, "  Broker: %s %v (contract size %.2f)\n", cfg.Broker.Mode, cfg.Broker.Symbols, cfg.Broker.ContractSize)
	fmt.Fprintf(out, "  Store: %s\n", cfg.Store.Path)
	fmt.Fprintf(out, "  Breakers: daily loss %.1f%%, %d losses, volatility x%.1f\n",
		cfg.CircuitBreaker.DailyLossLimit*100, cfg.CircuitBreaker.MaxConsecutiveLosses, cfg.CircuitBreaker.VolatilityThreshold)
	fmt.Fprintf(out, "  Strategy: %s (Risk: %.1f%%)\n", cfg.Trading.Strategy, cfg.Trading.RiskPercent*100)
	return nil
}

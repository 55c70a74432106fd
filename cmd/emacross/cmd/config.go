package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/emacross/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Generate or validate configuration files",
	Long: `Manage emacross configuration files.

Subcommands:
  init     - Generate a default configuration file
  validate - Validate an existing configuration file

Examples:
  emacross config init -o emacross.yaml
  emacross config validate -f emacross.yaml`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate a default configuration file",
	Long: `Create a new configuration file with default settings.
Credentials are never written; set BITMEX_API_KEY and BITMEX_API_SECRET
in the environment or in a .env file.

Example:
  emacross config init -o emacross.yaml`,
	RunE: runConfigInit,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	Long: `Check if a configuration file is valid once the environment is applied.

Example:
  emacross config validate -f emacross.yaml`,
	RunE: runConfigValidate,
}

var (
	configInitOutput   string
	configInitForce    bool
	configValidatePath string
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configValidateCmd)

	configInitCmd.Flags().StringVarP(&configInitOutput, "output", "o", "emacross.yaml", "output config file path")
	configInitCmd.Flags().BoolVar(&configInitForce, "force", false, "overwrite an existing file")
	configValidateCmd.Flags().StringVarP(&configValidatePath, "file", "f", "", "path to config file (required)")
	configValidateCmd.MarkFlagRequired("file")
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	if fileExists(configInitOutput) && !configInitForce {
		return fmt.Errorf("%s exists; use --force to overwrite", configInitOutput)
	}
	cfg := config.Default()
	if err := cfg.SaveToFile(configInitOutput); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	fmt.Printf("✓ Created default configuration: %s\n", configInitOutput)
	fmt.Println("\nSet BITMEX_API_KEY and BITMEX_API_SECRET, then run with:")
	fmt.Printf("  emacross run -c %s\n", configInitOutput)
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configValidatePath, envFile)
	if err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	fmt.Printf("✓ Configuration valid: %s\n", configValidatePath)
	fmt.Printf("  Exchange: %s (%s)\n", cfg.Exchange.Name, network(cfg.Exchange.Test))
	fmt.Printf("  Strategy: %s %s EMA %d/%d x%d\n", cfg.Strategy.Symbol, cfg.Strategy.Interval,
		cfg.Strategy.FastPeriod, cfg.Strategy.SlowPeriod, cfg.Strategy.Factor)
	fmt.Printf("  Bracket: qty %g, target %g, stop %g, leverage %g\n", cfg.Strategy.Quantity,
		cfg.Strategy.ProfitTarget, cfg.Strategy.StopLoss, cfg.Strategy.Leverage)
	fmt.Printf("  Risk: max positions %d, max daily loss %g, risk per trade %g\n",
		cfg.Risk.MaxPositions, cfg.Risk.MaxDailyLoss, cfg.Risk.RiskPerTrade)
	if err := cfg.Credentials(); err != nil {
		fmt.Printf("  ! %v\n", err)
	}
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

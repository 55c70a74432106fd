package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/emacross/config"
	"github.com/rustyeddy/emacross/logging"
)

var rootCmd = &cobra.Command{
	Use:   "emacross",
	Short: "EMA cross bracket order bot for BitMEX",
	Long: `emacross trades a single BitMEX contract on a price / EMA crossover.

On every closed candle it computes a fast and a slow EMA, and when price
crosses the fast EMA in the direction of the slow one it opens a market
position protected by a take-profit and a stop-loss order.

Configuration comes from a YAML file (see "emacross config init") with
credentials and overrides taken from the environment or a .env file:
  BITMEX_API_KEY, BITMEX_API_SECRET, TEST, SYMBOL, EMA_CROSS_V1_*`,
	SilenceUsage: true,
}

var (
	cfgFile  string
	envFile  string
	logLevel string
)

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (defaults are used when empty)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env", ".env", "env file with credentials and overrides")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log.level (debug|info|warn|error)")
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile, envFile)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) logging.Logger {
	// validated by loadConfig
	level, _ := logging.ParseLevel(cfg.Log.Level)
	return logging.New(os.Stderr, level, cfg.Log.Format)
}

package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var closeCmd = &cobra.Command{
	Use:   "close",
	Short: "Flatten the position and cancel all orders",
	Long: `Close the configured symbol's position with a reduce-only market order
and cancel every remaining order on the symbol.

Examples:
  emacross close
  emacross close --orders-only`,
	RunE: runClose,
}

var closeOrdersOnly bool

func init() {
	rootCmd.AddCommand(closeCmd)
	closeCmd.Flags().BoolVar(&closeOrdersOnly, "orders-only", false, "cancel orders but keep the position")
}

func runClose(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Credentials(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
	defer cancel()

	ex := newBitmex(cfg)
	if err := ex.Initialize(ctx); err != nil {
		return err
	}
	b, err := newBot(cfg, ex, botOptions{TickSize: tickSize(ex, cfg.Strategy.Symbol)}, newLogger(cfg))
	if err != nil {
		return err
	}
	defer b.Close()

	if closeOrdersOnly {
		if err := b.manager.CancelAllOrders(ctx); err != nil {
			return err
		}
		fmt.Printf("✓ Canceled all %s orders\n", cfg.Strategy.Symbol)
		return nil
	}
	if err := b.manager.ClosePosition(ctx); err != nil {
		return err
	}
	fmt.Printf("✓ %s is flat\n", cfg.Strategy.Symbol)
	return nil
}

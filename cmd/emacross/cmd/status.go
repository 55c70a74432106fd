package cmd

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/emacross/broker"
	"github.com/rustyeddy/emacross/journal"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show balance, positions and open orders",
	Long: `Query BitMEX for the account balance, the configured symbol's position
and its open orders. Brackets the journal still considers open are listed
when the journal database exists.

Example:
  emacross status -c emacross.yaml`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
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
	symbol := cfg.Strategy.Symbol

	px, err := ex.GetCurrentPrice(ctx, symbol)
	if err != nil {
		return err
	}
	fmt.Printf("%s on bitmex %s: last %g (tick %g)\n\n", symbol, network(cfg.Exchange.Test), px, ex.TickSize())

	bal, err := ex.FetchBalance(ctx)
	if err != nil {
		return err
	}
	assets := make([]string, 0, len(bal.Total))
	for a := range bal.Total {
		assets = append(assets, a)
	}
	sort.Strings(assets)
	fmt.Println("Balance:")
	for _, a := range assets {
		fmt.Printf("  %-5s total=%.8g free=%.8g used=%.8g\n", a, bal.Total[a], bal.Free[a], bal.Used[a])
	}
	fmt.Printf("  realized P/L today: %.2f\n\n", bal.RealizedPnL)

	ps, err := ex.FetchPositions(ctx, symbol)
	if err != nil {
		return err
	}
	open := broker.OpenPositions(ps)
	if len(open) == 0 {
		fmt.Println("Position: flat")
	}
	for _, p := range open {
		fmt.Printf("Position: %s %g @ %g (unrealized %.2f)\n", p.Side, p.Size, p.EntryPrice, p.UnrealizedPnL)
	}

	orders, err := ex.FetchOrders(ctx, symbol)
	if err != nil {
		return err
	}
	fmt.Println("\nOpen orders:")
	n := 0
	for _, o := range orders {
		if o.Status.Terminal() {
			continue
		}
		n++
		fmt.Printf("  %s %-4s %-6s qty=%g price=%g trigger=%g clOrdID=%s\n",
			o.ID, o.Side, o.Type, o.Remaining, o.Price, o.TriggerPrice, o.ClientID)
	}
	if n == 0 {
		fmt.Println("  none")
	}

	if cfg.Journal.DBPath == "" || !fileExists(cfg.Journal.DBPath) {
		return nil
	}
	db, err := journal.NewSQLite(cfg.Journal.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()
	brackets, err := db.OpenBrackets(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("\nOpen brackets in %s: %d\n", cfg.Journal.DBPath, len(brackets))
	for _, br := range brackets {
		fmt.Printf("  %s %s %s %g @ %g tp=%g sl=%g\n",
			br.ID, br.Symbol, br.Side, br.Quantity, br.EntryPrice, br.TargetPrice, br.StopPrice)
	}
	return nil
}

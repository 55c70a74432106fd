package cmd

import (
	"fmt"
	"math/rand/v2"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/emacross/broker"
	"github.com/rustyeddy/emacross/broker/sim"
	"github.com/rustyeddy/emacross/journal"
	"github.com/rustyeddy/emacross/market"
)

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run the strategy against the paper exchange",
	Long: `Run the full pipeline (risk gate, bracket orders, journal) against an
in-memory paper exchange fed by a synthetic candle series.

Each bar is replayed through its open, high, low and close, so take-profit
and stop-loss orders fill as they would intrabar.

Examples:
  emacross demo
  emacross demo --candles 2000 --seed 42 --qty 1 --db demo.db`,
	RunE: runDemo,
}

var (
	demoCandles int
	demoSeed    uint64
	demoStart   float64
	demoQty     float64
	demoDB      string
)

func init() {
	rootCmd.AddCommand(demoCmd)
	demoCmd.Flags().IntVar(&demoCandles, "candles", 1000, "bars to trade after the warmup window")
	demoCmd.Flags().Uint64Var(&demoSeed, "seed", 1, "random seed for the synthetic series")
	demoCmd.Flags().Float64Var(&demoStart, "price", 50000, "starting price")
	demoCmd.Flags().Float64Var(&demoQty, "qty", 1, "contracts per bracket (overrides strategy.quantity)")
	demoCmd.Flags().StringVar(&demoDB, "db", ":memory:", "journal database")
}

func runDemo(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cfg.Exchange.Name = "sim"
	if demoQty > 0 {
		cfg.Strategy.Quantity = demoQty
	}
	interval, err := market.ParseInterval(cfg.Strategy.Interval)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	logger := newLogger(cfg)
	symbol := cfg.Strategy.Symbol

	tick := market.TickSize(symbol, 0.5)
	ex := sim.New(broker.Wallet{"USD": 100_000})
	if err := ex.Initialize(ctx); err != nil {
		return err
	}

	b, err := newBot(cfg, ex, botOptions{TickSize: tick, DBPath: demoDB}, logger)
	if err != nil {
		return err
	}
	defer b.Close()
	if err := b.applyLeverage(ctx); err != nil {
		return err
	}

	warmup := b.strategy.Lookback()
	rng := rand.New(rand.NewPCG(demoSeed, demoSeed))
	bars := sim.Walk(rng, sim.WalkConfig{
		Start:    demoStart,
		Interval: interval,
		Tick:     tick,
		From:     time.Now().UTC().Truncate(interval).Add(-time.Duration(warmup+demoCandles) * interval),
	}, warmup+demoCandles)
	ex.AddCandles(symbol, bars[:warmup]...)

	fmt.Println("=== EMA Cross Demo ===")
	fmt.Printf("%s on %s %s, %d warmup bars, %d trading bars\n",
		b.strategy.Name(), symbol, cfg.Strategy.Interval, warmup, demoCandles)
	fmt.Printf("qty=%g profit target=%g stop loss=%g max daily loss=%g\n\n",
		cfg.Strategy.Quantity, cfg.Strategy.ProfitTarget, cfg.Strategy.StopLoss, cfg.Risk.MaxDailyLoss)

	for _, c := range bars[warmup:] {
		ex.Replay(symbol, c)
		if err := b.strategy.Handle(ctx, c); err != nil {
			return err
		}
	}

	bal, err := ex.FetchBalance(ctx)
	if err != nil {
		return err
	}
	ps, err := b.manager.GetPositions(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Orders placed: %d\n", ex.Calls("CreateOrder"))
	fmt.Printf("Realized P/L:  %.2f\n", bal.RealizedPnL)
	for _, p := range ps {
		fmt.Printf("Open position: %s %g @ %g (unrealized %.2f)\n", p.Side, p.Size, p.EntryPrice, p.UnrealizedPnL)
	}

	if db, ok := b.journal.(*journal.SQLite); ok {
		counts, err := db.CountOutcomes(ctx)
		if err != nil {
			return err
		}
		outcomes := make([]string, 0, len(counts))
		for o := range counts {
			outcomes = append(outcomes, o)
		}
		sort.Strings(outcomes)
		fmt.Println("\nEvaluations:")
		for _, o := range outcomes {
			fmt.Printf("  %-18s %d\n", o, counts[o])
		}
	}
	return nil
}

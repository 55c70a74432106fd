package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/emacross/feed"
	"github.com/rustyeddy/emacross/logging"
	"github.com/rustyeddy/emacross/market"
	"github.com/rustyeddy/emacross/metrics"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Trade live on BitMEX",
	Long: `Connect to BitMEX, subscribe to closed candles for the configured
symbol and interval, and evaluate the EMA cross strategy on each one.

Set TEST=true (or exchange.test in the config) to trade on testnet.

Example:
  emacross run -c emacross.yaml`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Exchange.Name != "bitmex" {
		return fmt.Errorf("run trades on bitmex; use \"emacross demo\" for the paper exchange")
	}
	if err := cfg.Credentials(); err != nil {
		return err
	}
	interval, err := market.ParseInterval(cfg.Strategy.Interval)
	if err != nil {
		return err
	}

	logger := newLogger(cfg)
	log := logging.For(logger, "main")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ex := newBitmex(cfg)
	if err := ex.Initialize(ctx); err != nil {
		log.Errorf("initialize exchange: %v", err)
		return err
	}
	log.Infof("connected to bitmex %s, %s tick size %g", network(cfg.Exchange.Test), cfg.Strategy.Symbol, ex.TickSize())

	b, err := newBot(cfg, ex, botOptions{TickSize: tickSize(ex, cfg.Strategy.Symbol), DBPath: cfg.Journal.DBPath, Poll: true}, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := b.Close(); err != nil {
			log.Errorf("shutdown: %v", err)
		}
	}()

	if err := b.applyLeverage(ctx); err != nil {
		return err
	}

	if addr := cfg.Metrics.Addr; addr != "" {
		go func() {
			log.Infof("metrics on http://%s/metrics", addr)
			if err := metrics.Serve(ctx, addr); err != nil {
				log.Errorf("metrics server: %v", err)
			}
		}()
	}

	policy, _ := feed.ParsePolicy(cfg.Feed.Reconnect, cfg.ReconnectDelay(), cfg.MaxReconnectDelay())
	url := cfg.Feed.URL
	if url == "" {
		url = feed.URL(cfg.Exchange.Test)
	}
	listener, err := feed.NewListener(feed.Config{
		URL:          url,
		Symbol:       cfg.Strategy.Symbol,
		Interval:     cfg.Strategy.Interval,
		Reconnect:    policy,
		ReadTimeout:  interval + time.Minute,
		PingInterval: 30 * time.Second,
	}, b.strategy.Handle, logger)
	if err != nil {
		return err
	}

	log.Infof("%s on %s %s: qty=%g pt=%g sl=%g maxPositions=%d maxDailyLoss=%g",
		b.strategy.Name(), cfg.Strategy.Symbol, cfg.Strategy.Interval,
		cfg.Strategy.Quantity, cfg.Strategy.ProfitTarget, cfg.Strategy.StopLoss,
		cfg.Risk.MaxPositions, cfg.Risk.MaxDailyLoss)

	if err := listener.Run(ctx); err != nil {
		log.Errorf("stopped: %v", err)
		return err
	}
	log.Infof("shutting down")
	return nil
}

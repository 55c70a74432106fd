package cmd

import (
	"context"
	"fmt"

	"github.com/rustyeddy/emacross/bracket"
	"github.com/rustyeddy/emacross/broker"
	"github.com/rustyeddy/emacross/broker/bitmex"
	"github.com/rustyeddy/emacross/config"
	"github.com/rustyeddy/emacross/journal"
	"github.com/rustyeddy/emacross/logging"
	"github.com/rustyeddy/emacross/market"
	"github.com/rustyeddy/emacross/market/strategies"
	"github.com/rustyeddy/emacross/risk"
)

// bot is the strategy and everything it drives.
type bot struct {
	cfg      *config.Config
	ex       broker.Exchange
	manager  *bracket.Manager
	poller   *bracket.Poller
	journal  journal.Journal
	strategy *strategies.EMACross
	log      logging.Scoped
}

type botOptions struct {
	TickSize float64
	DBPath   string // empty disables the journal
	Poll     bool   // schedule settle-delay status checks
}

func newBot(cfg *config.Config, ex broker.Exchange, opts botOptions, logger logging.Logger) (*bot, error) {
	s := cfg.Strategy
	gate := risk.NewGate(ex, s.Symbol, cfg.Limits(), logger)
	manager := bracket.NewManager(ex, gate, bracket.Config{
		Symbol:       s.Symbol,
		Quantity:     s.Quantity,
		ProfitTarget: s.ProfitTarget,
		StopLoss:     s.StopLoss,
		TickSize:     opts.TickSize,
	}, logger)

	var poller *bracket.Poller
	if opts.Poll {
		delay := cfg.SettleDelay()
		if delay == 0 {
			delay = bracket.DefaultSettleDelay
		}
		poller = bracket.NewPoller(manager, delay, logger)
	}

	j := journal.Nop
	if opts.DBPath != "" {
		db, err := journal.NewSQLite(opts.DBPath)
		if err != nil {
			return nil, fmt.Errorf("open journal: %w", err)
		}
		j = db
	}

	strategy, err := strategies.NewEMACross(strategies.EMACrossConfig{
		Symbol:     s.Symbol,
		Interval:   s.Interval,
		FastPeriod: s.FastPeriod,
		SlowPeriod: s.SlowPeriod,
		Factor:     s.Factor,
	}, strategies.Deps{
		Exchange: ex,
		Gate:     gate,
		Manager:  manager,
		Poller:   poller,
		Journal:  j,
		Logger:   logger,
	})
	if err != nil {
		_ = j.Close()
		return nil, err
	}

	return &bot{
		cfg:      cfg,
		ex:       ex,
		manager:  manager,
		poller:   poller,
		journal:  j,
		strategy: strategy,
		log:      logging.For(logger, "main"),
	}, nil
}

// applyLeverage sets the configured leverage; 0 leaves the exchange setting alone.
func (b *bot) applyLeverage(ctx context.Context) error {
	if b.cfg.Strategy.Leverage <= 0 {
		return nil
	}
	return b.manager.SetLeverage(ctx, b.cfg.Strategy.Leverage)
}

func (b *bot) Close() error {
	if b.poller != nil {
		b.poller.Stop()
		b.poller.Wait()
	}
	return b.journal.Close()
}

// tickSize prefers the exchange's reported tick size over the static table.
func tickSize(ex *bitmex.Exchange, symbol string) float64 {
	if t := ex.TickSize(); t > 0 {
		return t
	}
	return market.TickSize(symbol, 0)
}

// newBitmex builds the REST adapter from cfg. It does not call Initialize.
func newBitmex(cfg *config.Config) *bitmex.Exchange {
	c := bitmex.NewClient(cfg.Exchange.APIKey, cfg.Exchange.APISecret, cfg.Exchange.Test, bitmex.Options{
		Timeout:   cfg.Timeout(),
		RateLimit: cfg.RateLimit(),
	})
	return bitmex.New(c, cfg.Strategy.Symbol)
}

func network(test bool) string {
	if test {
		return "testnet"
	}
	return "mainnet"
}

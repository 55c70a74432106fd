package strategies

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/emacross/bracket"
	"github.com/rustyeddy/emacross/broker"
	"github.com/rustyeddy/emacross/broker/sim"
	"github.com/rustyeddy/emacross/journal"
	"github.com/rustyeddy/emacross/logging"
	"github.com/rustyeddy/emacross/market"
	"github.com/rustyeddy/emacross/market/indicators"
	"github.com/rustyeddy/emacross/metrics"
	"github.com/rustyeddy/emacross/risk"
)

const sym = "XBTUSD"

func TestDetect(t *testing.T) {
	tests := []struct {
		name        string
		price       float64
		prevPrice   float64
		emaFast     float64
		prevEMAFast float64
		emaSlow     float64
		want        market.Signal
	}{
		{"golden cross", 105, 95, 100, 100, 90, market.GoldenCross},
		{"death cross", 85, 95, 90, 90, 95, market.DeathCross},
		{"slow ema filter blocks long", 101, 99, 100, 100, 105, market.None},
		{"slow ema filter blocks short", 99, 101, 100, 100, 95, market.None},
		{"already above fast", 105, 101, 100, 100, 90, market.None},
		{"already below fast", 95, 99, 100, 100, 110, market.None},
		{"previous equal fast counts for golden", 105, 100, 100, 100, 90, market.GoldenCross},
		{"previous equal fast counts for death", 95, 100, 100, 100, 110, market.DeathCross},
		{"price on fast ema", 100, 95, 100, 100, 90, market.None},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, prevSlow := range []float64{0, tt.emaSlow, 1e9} {
				got := Detect(tt.price, tt.prevPrice, tt.emaFast, tt.emaSlow, tt.prevEMAFast, prevSlow)
				assert.Equal(t, tt.want, got, "prevEMASlow=%g", prevSlow)
			}
		})
	}
}

type fixture struct {
	ex      *sim.Exchange
	manager *bracket.Manager
	poller  *bracket.Poller
	strat   *EMACross
	log     *logging.Memory
}

func flatCandles(n int, px float64) []market.Candle {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]market.Candle, n)
	for i := range out {
		out[i] = market.Candle{Open: px, High: px, Low: px, Close: px, Time: start.Add(time.Duration(i) * 5 * time.Minute), Volume: 1}
	}
	return out
}

func newFixture(t *testing.T, j journal.Journal, settle time.Duration) *fixture {
	t.Helper()
	f := &fixture{ex: sim.New(nil), log: &logging.Memory{}}

	// fast 2, slow 3, factor 2: 7 candles per evaluation
	f.ex.AddCandles(sym, flatCandles(7, 100)...)

	gate := risk.NewGate(f.ex, sym, risk.Limits{MaxDailyLoss: 500, MaxPositions: 1, RiskPerTrade: 100}, f.log)
	f.manager = bracket.NewManager(f.ex, gate, bracket.Config{
		Symbol: sym, Quantity: 10, ProfitTarget: 10, StopLoss: 5, TickSize: 1,
	}, f.log)
	f.poller = bracket.NewPoller(f.manager, settle, f.log)
	t.Cleanup(f.poller.Stop)

	var err error
	f.strat, err = NewEMACross(EMACrossConfig{
		Symbol: sym, Interval: "5m", FastPeriod: 2, SlowPeriod: 3, Factor: 2,
	}, Deps{
		Exchange: f.ex,
		Gate:     gate,
		Manager:  f.manager,
		Poller:   f.poller,
		Journal:  j,
		Logger:   f.log,
	})
	require.NoError(t, err)
	return f
}

func lastCandle(ex *sim.Exchange) market.Candle {
	cs, _ := ex.FetchCandles(context.Background(), sym, "5m", 1)
	return cs[0]
}

func TestEMACrossConfigValidate(t *testing.T) {
	ok := EMACrossConfig{Symbol: sym, Interval: "5m", FastPeriod: 20, SlowPeriod: 120, Factor: 5}
	require.NoError(t, ok.Validate())

	bad := ok
	bad.FastPeriod = 120
	assert.Error(t, bad.Validate())

	bad = ok
	bad.Interval = "7m"
	assert.Error(t, bad.Validate())

	bad = ok
	bad.Symbol = ""
	assert.Error(t, bad.Validate())
}

func TestLookback(t *testing.T) {
	f := newFixture(t, nil, time.Hour)
	assert.Equal(t, 7, f.strat.Lookback())
	assert.Equal(t, "EMA_CROSS(2,3)", f.strat.Name())
}

func TestExecuteGoldenCrossPlacesBracket(t *testing.T) {
	f := newFixture(t, nil, time.Hour)
	f.ex.SetPrice(sym, 105)

	ev, err := f.strat.Execute(context.Background(), lastCandle(f.ex))
	require.NoError(t, err)

	assert.Equal(t, market.GoldenCross, ev.Signal)
	assert.Equal(t, 105.0, ev.Price)
	assert.Equal(t, 100.0, ev.PrevPrice)
	assert.InDelta(t, 100.0, ev.EMAFast, 1e-9)
	assert.InDelta(t, 100.0, ev.EMASlow, 1e-9)
	assert.InDelta(t, 100.0, ev.PrevEMAFast, 1e-9)
	assert.InDelta(t, 100.0, ev.PrevEMASlow, 1e-9)

	require.NotNil(t, ev.Bracket)
	assert.Equal(t, market.Long, ev.Bracket.Side)
	assert.Equal(t, 115.0, ev.Bracket.TargetPrice)
	assert.Equal(t, 100.0, ev.Bracket.StopPrice)
	assert.Equal(t, 3, f.ex.Calls("CreateOrder"))
	assert.Same(t, ev.Bracket, f.strat.Active())
	assert.Equal(t, 1, f.poller.Pending())
}

func TestExecuteDeathCrossOpensShort(t *testing.T) {
	f := newFixture(t, nil, time.Hour)
	f.ex.SetPrice(sym, 95)

	ev, err := f.strat.Execute(context.Background(), lastCandle(f.ex))
	require.NoError(t, err)
	assert.Equal(t, market.DeathCross, ev.Signal)
	require.NotNil(t, ev.Bracket)
	assert.Equal(t, market.Short, ev.Bracket.Side)
	assert.Equal(t, 85.0, ev.Bracket.TargetPrice)
	assert.Equal(t, 100.0, ev.Bracket.StopPrice)
}

func TestExecuteNoSignal(t *testing.T) {
	f := newFixture(t, nil, time.Hour)

	ev, err := f.strat.Execute(context.Background(), lastCandle(f.ex))
	require.NoError(t, err)
	assert.Equal(t, market.None, ev.Signal)
	assert.Nil(t, ev.Bracket)
	assert.Equal(t, 0, f.ex.Calls("CreateOrder"))
	// only the end-of-cycle position report
	assert.Equal(t, 1, f.ex.Calls("FetchPositions"))
}

func TestExecuteInsufficientData(t *testing.T) {
	ex := sim.New(nil)
	ex.AddCandles(sym, flatCandles(6, 100)...)
	ex.SetPrice(sym, 105)
	gate := risk.NewGate(ex, sym, risk.Limits{MaxDailyLoss: 500, MaxPositions: 1}, logging.Nop)
	mgr := bracket.NewManager(ex, gate, bracket.Config{Symbol: sym, Quantity: 1, ProfitTarget: 1, StopLoss: 1}, logging.Nop)
	log := &logging.Memory{}
	s, err := NewEMACross(EMACrossConfig{Symbol: sym, Interval: "5m", FastPeriod: 2, SlowPeriod: 3, Factor: 2},
		Deps{Exchange: ex, Gate: gate, Manager: mgr, Logger: log})
	require.NoError(t, err)

	_, err = s.Execute(context.Background(), lastCandle(ex))
	require.Error(t, err)
	assert.ErrorIs(t, err, indicators.ErrInsufficientData)
	assert.Equal(t, 0, ex.Calls("CreateOrder"))

	require.NoError(t, s.Handle(context.Background(), lastCandle(ex)))
	assert.True(t, log.Contains(logging.Warn, "skipping cycle"))
}

func TestSameCandleTwiceDoesNotPlaceTwice(t *testing.T) {
	f := newFixture(t, nil, time.Hour)
	f.ex.SetPrice(sym, 105)
	c := lastCandle(f.ex)
	before := testutil.ToFloat64(metrics.RiskRejections.WithLabelValues(risk.CodeMaxPositions))

	_, err := f.strat.Execute(context.Background(), c)
	require.NoError(t, err)

	ev, err := f.strat.Execute(context.Background(), c)
	require.Error(t, err)
	assert.True(t, risk.IsLimitExceeded(err))
	assert.Equal(t, market.GoldenCross, ev.Signal)
	assert.Nil(t, ev.Bracket)
	assert.Equal(t, 3, f.ex.Calls("CreateOrder"))
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.RiskRejections.WithLabelValues(risk.CodeMaxPositions)))

	require.NoError(t, f.strat.Handle(context.Background(), c))
	assert.True(t, f.log.Contains(logging.Info, "entry blocked"))
	assert.Equal(t, 3, f.ex.Calls("CreateOrder"))
}

func TestSameCandleTwiceWithStubbedPositions(t *testing.T) {
	f := newFixture(t, nil, time.Hour)
	f.ex.SetPrice(sym, 105)

	// flat for the two pre-trade checks of the first pass, one position after
	f.ex.PositionsHook = func(n int, symbol string) []broker.Position {
		if n <= 2 {
			return nil
		}
		return []broker.Position{{Symbol: symbol, Side: market.Long, Size: 10, EntryPrice: 105}}
	}

	c := lastCandle(f.ex)
	_, err := f.strat.Execute(context.Background(), c)
	require.NoError(t, err)
	_, err = f.strat.Execute(context.Background(), c)
	assert.True(t, risk.IsLimitExceeded(err))
	assert.Equal(t, 3, f.ex.Calls("CreateOrder"))
}

func TestConcurrentEvaluationsAreSerialized(t *testing.T) {
	f := newFixture(t, nil, time.Hour)
	f.ex.SetPrice(sym, 105)
	c := lastCandle(f.ex)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = f.strat.Handle(context.Background(), c)
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, f.ex.Calls("CreateOrder"))
}

func TestTransportErrorIsLoggedNotReturned(t *testing.T) {
	f := newFixture(t, nil, time.Hour)
	f.ex.Fail("GetCurrentPrice", &broker.TransportError{Op: "ticker", StatusCode: 503, Err: errors.New("unavailable")})

	_, err := f.strat.Execute(context.Background(), lastCandle(f.ex))
	assert.True(t, broker.IsTransport(err))

	require.NoError(t, f.strat.Handle(context.Background(), lastCandle(f.ex)))
	assert.True(t, f.log.Contains(logging.Error, "cycle aborted"))
}

func TestInitErrorIsReturned(t *testing.T) {
	f := newFixture(t, nil, time.Hour)
	f.ex.Fail("FetchBalance", &broker.InitError{Exchange: "sim", Err: errors.New("bad credentials")})

	err := f.strat.Handle(context.Background(), lastCandle(f.ex))
	var ie *broker.InitError
	assert.ErrorAs(t, err, &ie)
}

func TestPlacementFailureIsLoud(t *testing.T) {
	f := newFixture(t, nil, time.Hour)
	f.ex.SetPrice(sym, 105)
	f.ex.OrderHook = func(n int, req broker.OrderRequest) error {
		if n == 2 {
			return errors.New("rejected")
		}
		return nil
	}

	require.NoError(t, f.strat.Handle(context.Background(), lastCandle(f.ex)))
	assert.True(t, f.log.Contains(logging.Error, "ORDER PLACEMENT FAILED"))
	assert.Nil(t, f.strat.Active())
}

func TestJournalAndResolution(t *testing.T) {
	j, err := journal.NewSQLite(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	ctx := context.Background()

	f := newFixture(t, j, time.Hour)
	f.ex.SetPrice(sym, 105)
	ev, err := f.strat.Execute(ctx, lastCandle(f.ex))
	require.NoError(t, err)
	require.NotNil(t, ev.Bracket)

	open, err := j.OpenBrackets(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, ev.Bracket.ID, open[0].ID)

	// take-profit fills, then the market comes back to the EMAs
	f.ex.SetPrice(sym, 116)
	f.ex.SetPrice(sym, 100)

	ev, err = f.strat.Execute(ctx, lastCandle(f.ex))
	require.NoError(t, err)
	assert.Equal(t, market.None, ev.Signal)
	assert.Nil(t, f.strat.Active())

	open, err = j.OpenBrackets(ctx)
	require.NoError(t, err)
	assert.Empty(t, open)

	counts, err := j.CountOutcomes(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{journal.OutcomePlaced: 1, journal.OutcomeNoSignal: 1}, counts)
}

func TestPollerResolvesFlatBracket(t *testing.T) {
	f := newFixture(t, nil, 100*time.Millisecond)
	f.ex.SetPrice(sym, 105)

	ev, err := f.strat.Execute(context.Background(), lastCandle(f.ex))
	require.NoError(t, err)
	require.NotNil(t, f.strat.Active())

	// stop triggers before the settle delay runs out
	f.ex.SetPrice(sym, 99)
	f.poller.Wait()

	assert.Nil(t, f.strat.Active())
	o, err := f.manager.GetOrderStatus(context.Background(), ev.Bracket.StopLossOrderID)
	require.NoError(t, err)
	assert.Equal(t, broker.StatusFilled, o.Status)
}

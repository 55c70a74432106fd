package strategies

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rustyeddy/emacross/bracket"
	"github.com/rustyeddy/emacross/broker"
	"github.com/rustyeddy/emacross/journal"
	"github.com/rustyeddy/emacross/logging"
	"github.com/rustyeddy/emacross/market"
	"github.com/rustyeddy/emacross/market/indicators"
	"github.com/rustyeddy/emacross/metrics"
	"github.com/rustyeddy/emacross/risk"
)

type EMACrossConfig struct {
	Symbol     string
	Interval   string
	FastPeriod int
	SlowPeriod int
	Factor     int
}

func (c EMACrossConfig) Validate() error {
	if c.Symbol == "" {
		return errors.New("ema cross: symbol is required")
	}
	if c.FastPeriod <= 0 || c.SlowPeriod <= 0 {
		return fmt.Errorf("ema cross: periods must be > 0 (fast=%d slow=%d)", c.FastPeriod, c.SlowPeriod)
	}
	if c.FastPeriod >= c.SlowPeriod {
		return fmt.Errorf("ema cross: fast period %d must be below slow period %d", c.FastPeriod, c.SlowPeriod)
	}
	if _, err := market.ParseInterval(c.Interval); err != nil {
		return fmt.Errorf("ema cross: %w", err)
	}
	return nil
}

// Deps are the collaborators an EMACross drives. Journal and Poller are optional.
type Deps struct {
	Exchange broker.Exchange
	Gate     bracket.Gate
	Manager  *bracket.Manager
	Poller   *bracket.Poller
	Journal  journal.Journal
	Logger   logging.Logger
}

// Evaluation is what one pass over a closed candle saw and did.
type Evaluation struct {
	Candle      market.Candle
	Price       float64
	PrevPrice   float64
	EMAFast     float64
	EMASlow     float64
	PrevEMAFast float64
	PrevEMASlow float64
	Signal      market.Signal
	Bracket     *bracket.Bracket
}

// EMACross enters on a price/fast-EMA cross confirmed by the slow EMA.
//
// Execute is serialized: a candle that arrives while an evaluation is running
// waits for it to finish.
type EMACross struct {
	cfg     EMACrossConfig
	engine  indicators.Engine
	ex      broker.Exchange
	gate    bracket.Gate
	manager *bracket.Manager
	poller  *bracket.Poller
	journal journal.Journal
	log     logging.Scoped

	run sync.Mutex

	mu     sync.Mutex
	active *bracket.Bracket
}

func NewEMACross(cfg EMACrossConfig, d Deps) (*EMACross, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if d.Exchange == nil || d.Gate == nil || d.Manager == nil {
		return nil, errors.New("ema cross: exchange, gate and manager are required")
	}
	j := d.Journal
	if j == nil {
		j = journal.Nop
	}
	return &EMACross{
		cfg:     cfg,
		engine:  indicators.NewEngine(cfg.Factor),
		ex:      d.Exchange,
		gate:    d.Gate,
		manager: d.Manager,
		poller:  d.Poller,
		journal: j,
		log:     logging.For(d.Logger, "strategy"),
	}, nil
}

func (x *EMACross) Name() string {
	return fmt.Sprintf("EMA_CROSS(%d,%d)", x.cfg.FastPeriod, x.cfg.SlowPeriod)
}

// Lookback is the number of closed candles one evaluation fetches: the slow
// window plus one bar for the previous-bar values.
func (x *EMACross) Lookback() int {
	return x.engine.Window(max(x.cfg.FastPeriod, x.cfg.SlowPeriod)) + 1
}

// Active returns the outstanding bracket, if any.
func (x *EMACross) Active() *bracket.Bracket {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.active
}

// Handle runs Execute and logs its error by kind. Only an InitError is
// returned; every other failure ends the cycle and the next candle resumes.
func (x *EMACross) Handle(ctx context.Context, c market.Candle) error {
	_, err := x.Execute(ctx, c)
	var ie *broker.InitError
	switch {
	case err == nil:
	case errors.As(err, &ie):
		return err
	case errors.Is(err, indicators.ErrInsufficientData):
		x.log.Warnf("skipping cycle: %v", err)
	case risk.IsLimitExceeded(err):
		x.log.Infof("entry blocked: %v", err)
	case bracket.IsPlacementError(err):
		x.log.Errorf("ORDER PLACEMENT FAILED: %v", err)
	case broker.IsTransport(err):
		x.log.Errorf("cycle aborted on exchange error: %v", err)
	default:
		x.log.Errorf("cycle failed: %v", err)
	}
	return nil
}

// Execute evaluates the strategy after candle c closed.
func (x *EMACross) Execute(ctx context.Context, c market.Candle) (ev Evaluation, err error) {
	x.run.Lock()
	defer x.run.Unlock()

	ev = Evaluation{Candle: c, Signal: market.None}
	outcome := journal.OutcomeNoSignal
	defer func() {
		if err != nil && outcome == journal.OutcomeNoSignal {
			outcome = journal.OutcomeFailed
		}
		metrics.Evaluations.WithLabelValues(outcome).Inc()
		x.record(ctx, ev, outcome, err)
		x.report(ctx)
	}()

	x.log.Infof("candle closed %s %s", x.cfg.Symbol, c)

	bal, err := x.ex.FetchBalance(ctx)
	if err != nil {
		return ev, fmt.Errorf("balance: %w", err)
	}
	x.log.Infof("balance total=%v used=%v free=%v realized_pnl=%.2f", bal.Total, bal.Used, bal.Free, bal.RealizedPnL)

	if ev.Price, err = x.ex.GetCurrentPrice(ctx, x.cfg.Symbol); err != nil {
		return ev, fmt.Errorf("current price: %w", err)
	}

	candles, err := x.ex.FetchCandles(ctx, x.cfg.Symbol, x.cfg.Interval, x.Lookback())
	if err != nil {
		return ev, fmt.Errorf("candles: %w", err)
	}
	if err = x.indicators(&ev, candles); err != nil {
		if errors.Is(err, indicators.ErrInsufficientData) {
			outcome = journal.OutcomeInsufficient
		}
		return ev, err
	}

	ev.Signal = Detect(ev.Price, ev.PrevPrice, ev.EMAFast, ev.EMASlow, ev.PrevEMAFast, ev.PrevEMASlow)
	x.logConditions(ev)
	metrics.Signals.WithLabelValues(ev.Signal.String()).Inc()

	side, ok := ev.Signal.Side()
	if !ok {
		return ev, nil
	}

	if _, err = x.gate.Check(ctx); err != nil {
		outcome = x.blocked(err)
		return ev, err
	}

	b, err := x.manager.OpenPosition(ctx, side)
	if err != nil {
		outcome = x.blocked(err)
		return ev, err
	}
	ev.Bracket = b
	outcome = journal.OutcomePlaced
	x.track(ctx, b)
	return ev, nil
}

func (x *EMACross) indicators(ev *Evaluation, candles []market.Candle) error {
	if len(candles) < 2 {
		return fmt.Errorf("%s: %d candles, need at least 2: %w", x.cfg.Symbol, len(candles), indicators.ErrInsufficientData)
	}
	ev.PrevPrice = candles[len(candles)-2].Close

	s := market.NewPriceSeries(x.Lookback(), market.Closes(candles)...)
	var err error
	if ev.EMAFast, err = x.engine.Current(s, x.cfg.FastPeriod); err != nil {
		return fmt.Errorf("fast ema: %w", err)
	}
	if ev.EMASlow, err = x.engine.Current(s, x.cfg.SlowPeriod); err != nil {
		return fmt.Errorf("slow ema: %w", err)
	}
	if ev.PrevEMAFast, err = x.engine.Previous(s, x.cfg.FastPeriod); err != nil {
		return fmt.Errorf("previous fast ema: %w", err)
	}
	if ev.PrevEMASlow, err = x.engine.Previous(s, x.cfg.SlowPeriod); err != nil {
		return fmt.Errorf("previous slow ema: %w", err)
	}
	return nil
}

func (x *EMACross) logConditions(ev Evaluation) {
	x.log.Infof("%s price=%.2f prev_price=%.2f ema%d=%.4f ema%d=%.4f prev_ema%d=%.4f prev_ema%d=%.4f",
		x.cfg.Symbol, ev.Price, ev.PrevPrice,
		x.cfg.FastPeriod, ev.EMAFast, x.cfg.SlowPeriod, ev.EMASlow,
		x.cfg.FastPeriod, ev.PrevEMAFast, x.cfg.SlowPeriod, ev.PrevEMASlow)
	x.log.Debugf("golden: price>fast=%t prev<=prev_fast=%t price>slow=%t",
		ev.Price > ev.EMAFast, ev.PrevPrice <= ev.PrevEMAFast, ev.Price > ev.EMASlow)
	x.log.Debugf("death: price<fast=%t prev>=prev_fast=%t price<slow=%t",
		ev.Price < ev.EMAFast, ev.PrevPrice >= ev.PrevEMAFast, ev.Price < ev.EMASlow)
	x.log.Infof("signal %s", ev.Signal)
}

func (x *EMACross) blocked(err error) string {
	var le *risk.LimitExceededError
	if errors.As(err, &le) {
		for _, v := range le.Violations {
			metrics.RiskRejections.WithLabelValues(v.Code).Inc()
		}
		return journal.OutcomeRiskBlocked
	}
	return journal.OutcomeFailed
}

func (x *EMACross) track(ctx context.Context, b *bracket.Bracket) {
	x.mu.Lock()
	x.active = b
	x.mu.Unlock()
	metrics.ActiveBracket.Set(1)

	rec := journal.BracketRecord{
		ID:                b.ID,
		Symbol:            b.Symbol,
		Side:              b.Side.String(),
		Quantity:          b.Quantity,
		EntryOrderID:      b.EntryOrderID,
		TakeProfitOrderID: b.TakeProfitOrderID,
		StopLossOrderID:   b.StopLossOrderID,
		EntryPrice:        b.EntryPrice,
		TargetPrice:       b.TargetPrice,
		StopPrice:         b.StopPrice,
		CreatedAt:         b.CreatedAt,
	}
	if err := x.journal.RecordBracket(ctx, rec); err != nil {
		x.log.Errorf("journal: %v", err)
	}

	if x.poller != nil {
		x.poller.Schedule(ctx, b, func(r bracket.Report) {
			if r.Err == nil && r.Flat {
				x.resolve(ctx, r.Bracket)
			}
		})
	}
}

// resolve marks b closed once its position is flat.
func (x *EMACross) resolve(ctx context.Context, b *bracket.Bracket) {
	x.mu.Lock()
	if x.active == nil || x.active.ID != b.ID {
		x.mu.Unlock()
		return
	}
	x.active = nil
	x.mu.Unlock()

	metrics.ActiveBracket.Set(0)
	x.log.Infof("bracket %s resolved: %s position is flat", b.ID, b.Symbol)
	if err := x.journal.CloseBracket(ctx, b.ID, time.Now()); err != nil {
		x.log.Errorf("journal: %v", err)
	}
}

// report logs the symbol's positions and resolves the active bracket when flat.
func (x *EMACross) report(ctx context.Context) {
	ps, err := x.manager.GetPositions(ctx)
	if err != nil {
		x.log.Errorf("position report: %v", err)
		return
	}
	if len(ps) == 0 {
		x.log.Infof("no open position on %s", x.cfg.Symbol)
		if b := x.Active(); b != nil {
			x.resolve(ctx, b)
		}
		return
	}
	for _, p := range ps {
		x.log.Infof("position %s %s size=%g entry=%g upnl=%.2f",
			p.Symbol, p.Side, p.Size, p.EntryPrice, p.UnrealizedPnL)
	}
}

func (x *EMACross) record(ctx context.Context, ev Evaluation, outcome string, err error) {
	e := journal.Evaluation{
		Time:        time.Now(),
		Symbol:      x.cfg.Symbol,
		CandleTime:  ev.Candle.Time,
		Price:       ev.Price,
		PrevPrice:   ev.PrevPrice,
		EMAFast:     ev.EMAFast,
		EMASlow:     ev.EMASlow,
		PrevEMAFast: ev.PrevEMAFast,
		PrevEMASlow: ev.PrevEMASlow,
		Signal:      ev.Signal.String(),
		Outcome:     outcome,
	}
	if ev.Bracket != nil {
		e.BracketID = ev.Bracket.ID
	}
	if err != nil {
		e.Error = err.Error()
	}
	if jerr := x.journal.RecordEvaluation(ctx, e); jerr != nil {
		x.log.Errorf("journal: %v", jerr)
	}
}

// Package sim is an in-memory paper exchange that implements broker.Exchange.
//
// Market orders fill at the current price. Limit and stop orders rest until
// SetPrice crosses them. Resting orders left over when a position goes
// flat are canceled. Reduce-only orders never grow or flip a position. P&L is
// linear (quantity * price move) and realized P&L resets at each UTC midnight
// of the market clock.
package sim

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rustyeddy/emacross/broker"
	"github.com/rustyeddy/emacross/market"
	"github.com/rustyeddy/emacross/pkg/id"
)

var ErrNoPrice = errors.New("no price")

type Exchange struct {
	mu        sync.Mutex
	prices    map[string]float64
	candles   map[string][]market.Candle
	orders    []*broker.Order
	positions map[string]*broker.Position
	leverage  map[string]float64
	wallet    broker.Wallet
	realized  float64
	day       time.Time // UTC date realized belongs to
	clock     time.Time // market time; zero means the wall clock
	reduce    map[string]bool
	calls     map[string]int
	creates   int
	errs      map[string]error

	// OrderHook, when set, runs before every CreateOrder. n is the 1-based
	// count of CreateOrder calls. A non-nil error rejects the placement.
	OrderHook func(n int, req broker.OrderRequest) error

	// PositionsHook, when set, replaces the stored positions in FetchPositions.
	PositionsHook func(n int, symbol string) []broker.Position
}

func New(wallet broker.Wallet) *Exchange {
	if wallet == nil {
		wallet = broker.Wallet{"USD": 100000}
	}
	return &Exchange{
		prices:    make(map[string]float64),
		candles:   make(map[string][]market.Candle),
		positions: make(map[string]*broker.Position),
		leverage:  make(map[string]float64),
		wallet:    wallet,
		reduce:    make(map[string]bool),
		calls:     make(map[string]int),
		errs:      make(map[string]error),
	}
}

// Fail makes method (e.g. "FetchBalance") return err until cleared with a nil err.
func (e *Exchange) Fail(method string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err == nil {
		delete(e.errs, method)
		return
	}
	e.errs[method] = err
}

// Calls returns how many times method was invoked.
func (e *Exchange) Calls(method string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls[method]
}

// SetTime moves the market clock. Replay does this for every candle.
func (e *Exchange) SetTime(t time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.clock = t.UTC()
}

func (e *Exchange) nowLocked() time.Time {
	if e.clock.IsZero() {
		return time.Now().UTC()
	}
	return e.clock
}

// realizedLocked returns today's realized P&L, starting a new day when the
// market clock has crossed midnight.
func (e *Exchange) realizedLocked() float64 {
	if d := e.nowLocked().Truncate(24 * time.Hour); !d.Equal(e.day) {
		e.day = d
		e.realized = 0
	}
	return e.realized
}

func (e *Exchange) enter(method string) error {
	e.calls[method]++
	return e.errs[method]
}

func (e *Exchange) Initialize(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enter("Initialize"); err != nil {
		return &broker.InitError{Exchange: "sim", Err: err}
	}
	return nil
}

func (e *Exchange) SetLeverage(ctx context.Context, symbol string, leverage float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enter("SetLeverage"); err != nil {
		return err
	}
	e.leverage[symbol] = leverage
	return nil
}

func (e *Exchange) Leverage(symbol string) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.leverage[symbol]
}

func (e *Exchange) GetCurrentPrice(ctx context.Context, symbol string) (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enter("GetCurrentPrice"); err != nil {
		return 0, err
	}
	p, ok := e.prices[symbol]
	if !ok {
		return 0, fmt.Errorf("sim: %w for %q", ErrNoPrice, symbol)
	}
	return p, nil
}

// AddCandles appends closed candles for symbol. The last close becomes the price.
func (e *Exchange) AddCandles(symbol string, cs ...market.Candle) {
	e.mu.Lock()
	e.candles[symbol] = append(e.candles[symbol], cs...)
	if len(cs) > 0 {
		e.clock = cs[len(cs)-1].Time.UTC()
	}
	e.mu.Unlock()
	if len(cs) > 0 {
		e.SetPrice(symbol, cs[len(cs)-1].Close)
	}
}

func (e *Exchange) FetchCandles(ctx context.Context, symbol, interval string, count int) ([]market.Candle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enter("FetchCandles"); err != nil {
		return nil, err
	}
	cs := e.candles[symbol]
	if count > 0 && len(cs) > count {
		cs = cs[len(cs)-count:]
	}
	return append([]market.Candle(nil), cs...), nil
}

func (e *Exchange) FetchBalance(ctx context.Context) (broker.Balance, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enter("FetchBalance"); err != nil {
		return broker.Balance{}, err
	}
	total := broker.Wallet{}
	free := broker.Wallet{}
	used := broker.Wallet{}
	for k, v := range e.wallet {
		total[k] = v
		free[k] = v
		used[k] = 0
	}
	return broker.Balance{Total: total, Used: used, Free: free, RealizedPnL: e.realizedLocked()}, nil
}

// SetPosition overwrites the stored position for symbol.
func (e *Exchange) SetPosition(p broker.Position) {
	e.mu.Lock()
	defer e.mu.Unlock()
	cp := p
	e.positions[p.Symbol] = &cp
}

func (e *Exchange) FetchPositions(ctx context.Context, symbol string) ([]broker.Position, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enter("FetchPositions"); err != nil {
		return nil, err
	}
	if e.PositionsHook != nil {
		return e.PositionsHook(e.calls["FetchPositions"], symbol), nil
	}
	p, ok := e.positions[symbol]
	if !ok {
		return []broker.Position{{Symbol: symbol}}, nil
	}
	return []broker.Position{*p}, nil
}

func (e *Exchange) CreateOrder(ctx context.Context, req broker.OrderRequest) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enter("CreateOrder"); err != nil {
		return "", err
	}
	e.creates++
	if e.OrderHook != nil {
		if err := e.OrderHook(e.creates, req); err != nil {
			return "", err
		}
	}
	if req.Quantity <= 0 {
		return "", fmt.Errorf("sim: quantity must be > 0, got %g", req.Quantity)
	}
	px, ok := e.prices[req.Symbol]
	if !ok {
		return "", fmt.Errorf("sim: %w for %q", ErrNoPrice, req.Symbol)
	}

	o := &broker.Order{
		ID:           id.New(),
		ClientID:     req.ClientID,
		Symbol:       req.Symbol,
		Status:       broker.StatusOpen,
		Side:         req.Side,
		Type:         req.Type,
		Price:        req.Price,
		TriggerPrice: req.TriggerPrice,
		Quantity:     req.Quantity,
		Remaining:    req.Quantity,
		Time:         e.nowLocked(),
	}
	if req.ReduceOnly {
		e.reduce[o.ID] = true
	}

	switch req.Type {
	case broker.Market:
		e.orders = append(e.orders, o)
		e.fillLocked(o, px)
	case broker.Limit:
		if req.Price <= 0 {
			return "", fmt.Errorf("sim: limit order needs a price")
		}
		e.orders = append(e.orders, o)
	case broker.Stop:
		if req.TriggerPrice <= 0 {
			return "", fmt.Errorf("sim: stop order needs a trigger price")
		}
		e.orders = append(e.orders, o)
	default:
		return "", fmt.Errorf("sim: unsupported order type %q", req.Type)
	}
	return o.ID, nil
}

func (e *Exchange) FetchOrders(ctx context.Context, symbol string) ([]broker.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enter("FetchOrders"); err != nil {
		return nil, err
	}
	out := make([]broker.Order, 0, len(e.orders))
	for _, o := range e.orders {
		if o.Symbol == symbol {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (e *Exchange) CancelAllOrders(ctx context.Context, symbol string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enter("CancelAllOrders"); err != nil {
		return err
	}
	for _, o := range e.orders {
		if o.Symbol == symbol && !o.Status.Terminal() {
			o.Status = broker.StatusCanceled
		}
	}
	return nil
}

func (e *Exchange) CancelOrder(ctx context.Context, symbol, orderID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enter("CancelOrder"); err != nil {
		return err
	}
	for _, o := range e.orders {
		if o.Symbol == symbol && o.ID == orderID {
			if o.Status.Terminal() {
				return fmt.Errorf("sim: order %s already %s", orderID, o.Status)
			}
			o.Status = broker.StatusCanceled
			return nil
		}
	}
	return fmt.Errorf("sim: %w: %s", broker.ErrOrderNotFound, orderID)
}

// SetPrice moves the market and fills any resting order it crosses.
func (e *Exchange) SetPrice(symbol string, px float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.prices[symbol] = px
	for _, o := range e.orders {
		if o.Symbol != symbol || o.Status.Terminal() {
			continue
		}
		if triggered(o, px) {
			fill := px
			if o.Type == broker.Limit {
				fill = o.Price
			}
			e.fillLocked(o, fill)
		}
	}
	if p, ok := e.positions[symbol]; ok && p.Open() {
		p.UnrealizedPnL = p.Side.Sign() * p.Size * (px - p.EntryPrice)
	}
}

func triggered(o *broker.Order, px float64) bool {
	switch o.Type {
	case broker.Limit:
		if o.Side == broker.Sell {
			return px >= o.Price
		}
		return px <= o.Price
	case broker.Stop:
		if o.Side == broker.Sell {
			return px <= o.TriggerPrice
		}
		return px >= o.TriggerPrice
	}
	return false
}

func (e *Exchange) fillLocked(o *broker.Order, px float64) {
	p, ok := e.positions[o.Symbol]
	if !ok {
		p = &broker.Position{Symbol: o.Symbol}
		e.positions[o.Symbol] = p
	}

	signed := o.Quantity
	if o.Side == broker.Sell {
		signed = -signed
	}
	cur := p.Side.Sign() * p.Size
	if !p.Open() {
		cur = 0
	}

	if e.reduce[o.ID] {
		// nothing to reduce, or the same side as the position
		if cur == 0 || (cur > 0) == (signed > 0) {
			o.Status = broker.StatusCanceled
			return
		}
		if abs(signed) > abs(cur) {
			signed = -cur
		}
	}
	o.Filled = abs(signed)
	o.Remaining = 0
	o.Status = broker.StatusFilled

	switch {
	case cur == 0 || (cur > 0) == (signed > 0):
		next := cur + signed
		p.EntryPrice = (abs(cur)*p.EntryPrice + abs(signed)*px) / abs(next)
		setSigned(p, next)
	default:
		closed := min(abs(cur), abs(signed))
		e.realizedLocked()
		e.realized += p.Side.Sign() * closed * (px - p.EntryPrice)
		next := cur + signed
		if abs(next) > 0 && (next > 0) != (cur > 0) {
			p.EntryPrice = px
		}
		setSigned(p, next)
	}

	if !p.Open() {
		p.EntryPrice = 0
		p.UnrealizedPnL = 0
		for _, other := range e.orders {
			if other.Symbol == o.Symbol && !other.Status.Terminal() {
				other.Status = broker.StatusCanceled
			}
		}
	}
}

func setSigned(p *broker.Position, signed float64) {
	switch {
	case signed > 0:
		p.Side, p.Size = market.Long, signed
	case signed < 0:
		p.Side, p.Size = market.Short, -signed
	default:
		p.Side, p.Size = 0, 0
	}
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

// Package bracket places and tracks a market entry with its take-profit and
// stop-loss exits.
//
// A Manager never decides whether an entry is allowed; it asks the risk gate
// again right before placing and refuses if the gate says no. Closure of a
// bracket is inferred from a flat position, not from correlating fills.
package bracket

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rustyeddy/emacross/broker"
	"github.com/rustyeddy/emacross/logging"
	"github.com/rustyeddy/emacross/market"
	"github.com/rustyeddy/emacross/metrics"
	"github.com/rustyeddy/emacross/pkg/id"
	"github.com/rustyeddy/emacross/risk"
)

// Gate is the pre-trade check the manager re-runs before every entry.
type Gate interface {
	Check(ctx context.Context) (risk.Decision, error)
	Limits() risk.Limits
}

type Config struct {
	Symbol       string
	Quantity     float64
	ProfitTarget float64 // absolute price offset
	StopLoss     float64 // absolute price offset
	TickSize     float64 // exit prices are rounded to this; 0 means 1
}

type Bracket struct {
	ID       string
	Symbol   string
	Side     market.Side
	Quantity float64

	EntryOrderID      string
	TakeProfitOrderID string
	StopLossOrderID   string

	EntryPrice  float64 // market price when the bracket was created
	TargetPrice float64
	StopPrice   float64
	CreatedAt   time.Time
}

// OrderIDs lists the placed order ids, entry first.
func (b *Bracket) OrderIDs() []string {
	var out []string
	for _, s := range []string{b.EntryOrderID, b.TakeProfitOrderID, b.StopLossOrderID} {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (b *Bracket) String() string {
	return fmt.Sprintf("bracket %s %s %s qty=%g entry=%g tp=%g sl=%g orders=[%s %s %s]",
		b.ID, b.Symbol, b.Side, b.Quantity, b.EntryPrice, b.TargetPrice, b.StopPrice,
		b.EntryOrderID, b.TakeProfitOrderID, b.StopLossOrderID)
}

// Stage names the leg a placement failed on.
type Stage string

const (
	StageEntry      Stage = "entry"
	StageTakeProfit Stage = "take-profit"
	StageStopLoss   Stage = "stop-loss"
)

// PlacementError reports a bracket that was not fully placed. Bracket holds
// whatever was placed before the failure.
//
// When the entry went through, the manager tries to cancel the placed exits and
// flatten the entry. Unhedged is true when that rollback failed too: a position
// may be open with no exit orders protecting it.
type PlacementError struct {
	Stage       Stage
	Bracket     *Bracket
	Err         error
	RollbackErr error
	Unhedged    bool
}

func (e *PlacementError) Error() string {
	switch {
	case e.Unhedged:
		return fmt.Sprintf("UNHEDGED POSITION: bracket %s: %s placement failed: %v; rollback failed: %v",
			e.Bracket.ID, e.Stage, e.Err, e.RollbackErr)
	case e.Stage != StageEntry:
		return fmt.Sprintf("bracket %s: %s placement failed: %v (entry rolled back)",
			e.Bracket.ID, e.Stage, e.Err)
	default:
		return fmt.Sprintf("bracket %s: entry placement failed: %v", e.Bracket.ID, e.Err)
	}
}

func (e *PlacementError) Unwrap() error { return e.Err }

// IsPlacementError reports whether err is (or wraps) a PlacementError.
func IsPlacementError(err error) bool {
	var pe *PlacementError
	return errors.As(err, &pe)
}

// Targets returns the take-profit and stop prices for an entry at price,
// rounded to the nearest multiple of tick. Long adds the profit target and
// subtracts the stop; short does the opposite.
func Targets(side market.Side, price, profitTarget, stopLoss, tick float64) (target, stop float64) {
	p := decimal.NewFromFloat(price)
	pt := decimal.NewFromFloat(profitTarget)
	sl := decimal.NewFromFloat(stopLoss)
	if side == market.Short {
		return roundToTick(p.Sub(pt), tick), roundToTick(p.Add(sl), tick)
	}
	return roundToTick(p.Add(pt), tick), roundToTick(p.Sub(sl), tick)
}

func roundToTick(p decimal.Decimal, tick float64) float64 {
	if tick <= 0 {
		tick = 1
	}
	t := decimal.NewFromFloat(tick)
	return p.Div(t).Round(0).Mul(t).InexactFloat64()
}

type Manager struct {
	exchange broker.Exchange
	gate     Gate
	cfg      Config
	log      logging.Scoped
	now      func() time.Time
}

func NewManager(ex broker.Exchange, gate Gate, cfg Config, l logging.Logger) *Manager {
	return &Manager{
		exchange: ex,
		gate:     gate,
		cfg:      cfg,
		log:      logging.For(l, "bracket"),
		now:      time.Now,
	}
}

func (m *Manager) Config() Config { return m.cfg }

// OpenPosition places an entry on side with its two exits.
//
// The risk gate is re-checked first; a *risk.LimitExceededError comes back
// unchanged and nothing is placed. Any placement failure is a *PlacementError.
func (m *Manager) OpenPosition(ctx context.Context, side market.Side) (*Bracket, error) {
	if _, err := m.gate.Check(ctx); err != nil {
		return nil, err
	}

	price, err := m.exchange.GetCurrentPrice(ctx, m.cfg.Symbol)
	if err != nil {
		return nil, fmt.Errorf("open %s: current price: %w", side, err)
	}
	if price <= 0 {
		return nil, fmt.Errorf("open %s: bad current price %g", side, price)
	}

	target, stop := Targets(side, price, m.cfg.ProfitTarget, m.cfg.StopLoss, m.cfg.TickSize)
	b := &Bracket{
		ID:          id.New(),
		Symbol:      m.cfg.Symbol,
		Side:        side,
		Quantity:    m.cfg.Quantity,
		EntryPrice:  price,
		TargetPrice: target,
		StopPrice:   stop,
		CreatedAt:   m.now().UTC(),
	}

	plan := risk.NewPlan(m.gate.Limits(), b.Quantity, price, target, stop)
	m.log.Infof("opening %s %s qty=%g at %g: tp=%g sl=%g risk=%.2f reward=%.2f rr=%.2f",
		side, b.Symbol, b.Quantity, price, target, stop, plan.Risk, plan.Reward, plan.RR)
	if plan.OverBudget {
		m.log.Warnf("bracket %s: planned risk %.2f exceeds risk per trade %.2f",
			b.ID, plan.Risk, m.gate.Limits().RiskPerTrade)
	}

	entry := broker.OrderRequest{
		Symbol:   b.Symbol,
		Type:     broker.Market,
		Side:     broker.EntrySide(side),
		Quantity: b.Quantity,
		ClientID: id.ClientOrderID(b.ID, id.LegEntry),
	}
	if b.EntryOrderID, err = m.place(ctx, entry); err != nil {
		metrics.BracketFailed(false)
		pe := &PlacementError{Stage: StageEntry, Bracket: b, Err: err}
		m.log.Errorf("%v", pe)
		return nil, pe
	}

	tp := broker.OrderRequest{
		Symbol:     b.Symbol,
		Type:       broker.Limit,
		Side:       broker.ExitSide(side),
		Quantity:   b.Quantity,
		Price:      target,
		ClientID:   id.ClientOrderID(b.ID, id.LegTakeProfit),
		ReduceOnly: true,
	}
	if b.TakeProfitOrderID, err = m.place(ctx, tp); err != nil {
		return nil, m.fail(ctx, StageTakeProfit, b, err)
	}

	sl := broker.OrderRequest{
		Symbol:       b.Symbol,
		Type:         broker.Stop,
		Side:         broker.ExitSide(side),
		Quantity:     b.Quantity,
		TriggerPrice: stop,
		ClientID:     id.ClientOrderID(b.ID, id.LegStopLoss),
		ReduceOnly:   true,
	}
	if b.StopLossOrderID, err = m.place(ctx, sl); err != nil {
		return nil, m.fail(ctx, StageStopLoss, b, err)
	}

	m.log.Infof("placed %v", b)
	return b, nil
}

func (m *Manager) place(ctx context.Context, req broker.OrderRequest) (string, error) {
	oid, err := m.exchange.CreateOrder(ctx, req)
	if err != nil {
		return "", fmt.Errorf("%s %s %g %s: %w", req.Type, req.Side, req.Quantity, req.Symbol, err)
	}
	metrics.Orders.WithLabelValues(string(req.Type), string(req.Side)).Inc()
	m.log.Infof("%s %s order %s placed: qty=%g price=%g trigger=%g client_id=%s",
		req.Type, req.Side, oid, req.Quantity, req.Price, req.TriggerPrice, req.ClientID)
	return oid, nil
}

// fail rolls back a bracket whose entry went through but whose exits did not.
func (m *Manager) fail(ctx context.Context, stage Stage, b *Bracket, cause error) error {
	pe := &PlacementError{Stage: stage, Bracket: b, Err: cause}
	m.log.Errorf("bracket %s: %s placement failed after entry %s: %v; rolling back",
		b.ID, stage, b.EntryOrderID, cause)

	if rerr := m.rollback(ctx, b); rerr != nil {
		pe.RollbackErr = rerr
		pe.Unhedged = true
	}
	metrics.BracketFailed(pe.Unhedged)
	m.log.Errorf("%v", pe)
	return pe
}

func (m *Manager) rollback(ctx context.Context, b *Bracket) error {
	var errs []error

	exits := []string{b.TakeProfitOrderID, b.StopLossOrderID}
	if c, ok := m.exchange.(broker.OrderCanceler); ok {
		for _, oid := range exits {
			if oid == "" {
				continue
			}
			if err := c.CancelOrder(ctx, b.Symbol, oid); err != nil {
				errs = append(errs, fmt.Errorf("cancel %s: %w", oid, err))
			}
		}
	} else if b.TakeProfitOrderID != "" || b.StopLossOrderID != "" {
		if err := m.exchange.CancelAllOrders(ctx, b.Symbol); err != nil {
			errs = append(errs, fmt.Errorf("cancel all: %w", err))
		}
	}

	flatten := broker.OrderRequest{
		Symbol:     b.Symbol,
		Type:       broker.Market,
		Side:       broker.ExitSide(b.Side),
		Quantity:   b.Quantity,
		ClientID:   id.ClientOrderID(b.ID, id.LegRollback),
		ReduceOnly: true,
	}
	if oid, err := m.place(ctx, flatten); err != nil {
		errs = append(errs, fmt.Errorf("flatten entry %s: %w", b.EntryOrderID, err))
	} else {
		m.log.Warnf("bracket %s: entry %s flattened by %s", b.ID, b.EntryOrderID, oid)
	}
	return errors.Join(errs...)
}

// GetOrderStatus scans the symbol's order list for orderID.
func (m *Manager) GetOrderStatus(ctx context.Context, orderID string) (broker.Order, error) {
	orders, err := m.exchange.FetchOrders(ctx, m.cfg.Symbol)
	if err != nil {
		return broker.Order{}, fmt.Errorf("order status %s: %w", orderID, err)
	}
	for _, o := range orders {
		if o.ID == orderID {
			return o, nil
		}
	}
	return broker.Order{}, fmt.Errorf("order status %s: %w", orderID, broker.ErrOrderNotFound)
}

// GetPositions returns the symbol's positions with non-zero size.
func (m *Manager) GetPositions(ctx context.Context) ([]broker.Position, error) {
	ps, err := m.exchange.FetchPositions(ctx, m.cfg.Symbol)
	if err != nil {
		return nil, fmt.Errorf("positions %s: %w", m.cfg.Symbol, err)
	}
	return broker.OpenPositions(ps), nil
}

// Flat reports whether the symbol has no open position.
func (m *Manager) Flat(ctx context.Context) (bool, error) {
	ps, err := m.GetPositions(ctx)
	if err != nil {
		return false, err
	}
	return len(ps) == 0, nil
}

// ClosePosition closes every open position of the symbol at market and then
// cancels the symbol's remaining orders.
func (m *Manager) ClosePosition(ctx context.Context) error {
	ps, err := m.GetPositions(ctx)
	if err != nil {
		return err
	}
	if len(ps) == 0 {
		m.log.Infof("no open position to close for %s", m.cfg.Symbol)
		return nil
	}
	for _, p := range ps {
		req := broker.OrderRequest{
			Symbol:     m.cfg.Symbol,
			Type:       broker.Market,
			Side:       broker.ExitSide(p.Side),
			Quantity:   p.Size,
			ClientID:   id.ClientOrderID(id.New(), id.LegClose),
			ReduceOnly: true,
		}
		if _, err := m.place(ctx, req); err != nil {
			return fmt.Errorf("close %s position: %w", p.Side, err)
		}
	}
	m.log.Infof("closed %d position(s) on %s", len(ps), m.cfg.Symbol)
	return m.CancelAllOrders(ctx)
}

func (m *Manager) CancelAllOrders(ctx context.Context) error {
	if err := m.exchange.CancelAllOrders(ctx, m.cfg.Symbol); err != nil {
		return fmt.Errorf("cancel all orders %s: %w", m.cfg.Symbol, err)
	}
	m.log.Infof("all orders canceled on %s", m.cfg.Symbol)
	return nil
}

// SetLeverage applies leverage when the exchange supports it.
func (m *Manager) SetLeverage(ctx context.Context, leverage float64) error {
	ls, ok := m.exchange.(broker.LeverageSetter)
	if !ok {
		m.log.Warnf("exchange does not support setting leverage; leaving it unchanged")
		return nil
	}
	if err := ls.SetLeverage(ctx, m.cfg.Symbol, leverage); err != nil {
		return fmt.Errorf("set leverage %gx on %s: %w", leverage, m.cfg.Symbol, err)
	}
	m.log.Infof("leverage set to %gx on %s", leverage, m.cfg.Symbol)
	return nil
}

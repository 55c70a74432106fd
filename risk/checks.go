package risk

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/rustyeddy/emacross/broker"
	"github.com/rustyeddy/emacross/logging"
)

const (
	CodeDailyLoss    = "DAILY_LOSS_LIMIT"
	CodeMaxPositions = "TOO_MANY_OPEN_POSITIONS"
)

type Violation struct {
	Code string
	Msg  string
}

type Decision struct {
	Allowed    bool
	Violations []Violation

	Snapshot Snapshot
}

func (d *Decision) add(code, msg string) {
	d.Violations = append(d.Violations, Violation{Code: code, Msg: msg})
	d.Allowed = false
}

// Evaluate applies the limits to a snapshot. Checks run in order:
// daily loss first, then open positions.
func Evaluate(l Limits, s Snapshot) Decision {
	d := Decision{Allowed: true, Snapshot: s}

	if math.Abs(s.DailyPnL) > l.MaxDailyLoss {
		d.add(CodeDailyLoss,
			fmt.Sprintf("daily pnl %.2f exceeds limit %.2f", s.DailyPnL, l.MaxDailyLoss))
	}
	if s.OpenPositions >= l.MaxPositions {
		d.add(CodeMaxPositions,
			fmt.Sprintf("open positions %d >= max %d", s.OpenPositions, l.MaxPositions))
	}
	return d
}

// LimitExceededError blocks an entry. Nothing may be placed after it.
type LimitExceededError struct {
	Symbol     string
	Violations []Violation
}

func (e *LimitExceededError) Error() string {
	msgs := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		msgs[i] = v.Code + ": " + v.Msg
	}
	return fmt.Sprintf("risk limit exceeded for %s: %s", e.Symbol, strings.Join(msgs, "; "))
}

// Has reports whether the error carries a violation with code.
func (e *LimitExceededError) Has(code string) bool {
	for _, v := range e.Violations {
		if v.Code == code {
			return true
		}
	}
	return false
}

// IsLimitExceeded reports whether err is (or wraps) a LimitExceededError.
func IsLimitExceeded(err error) bool {
	var le *LimitExceededError
	return errors.As(err, &le)
}

// Gate checks the limits against fresh exchange state on every call.
type Gate struct {
	exchange broker.Exchange
	symbol   string
	limits   Limits
	log      logging.Scoped
}

func NewGate(ex broker.Exchange, symbol string, limits Limits, l logging.Logger) *Gate {
	return &Gate{
		exchange: ex,
		symbol:   symbol,
		limits:   limits,
		log:      logging.For(l, "risk"),
	}
}

func (g *Gate) Limits() Limits { return g.limits }

// Check fetches balance and positions and evaluates the limits. It returns a
// *LimitExceededError when an entry must not go ahead, and the adapter's error
// when the state could not be read.
func (g *Gate) Check(ctx context.Context) (Decision, error) {
	bal, err := g.exchange.FetchBalance(ctx)
	if err != nil {
		return Decision{}, fmt.Errorf("risk check: fetch balance: %w", err)
	}
	positions, err := g.exchange.FetchPositions(ctx, g.symbol)
	if err != nil {
		return Decision{}, fmt.Errorf("risk check: fetch positions: %w", err)
	}

	open := broker.OpenPositions(positions)
	pnl := bal.RealizedPnL
	for _, p := range open {
		pnl += p.UnrealizedPnL
	}

	d := Evaluate(g.limits, Snapshot{DailyPnL: pnl, OpenPositions: len(open)})
	if !d.Allowed {
		err := &LimitExceededError{Symbol: g.symbol, Violations: d.Violations}
		g.log.Warnf("%v", err)
		return d, err
	}
	g.log.Debugf("risk ok: symbol=%s daily_pnl=%.2f open_positions=%d", g.symbol, pnl, len(open))
	return d, nil
}

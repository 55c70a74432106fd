package bracket

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rustyeddy/emacross/broker"
	"github.com/rustyeddy/emacross/logging"
)

// DefaultSettleDelay is how long the poller waits after placement before the
// first status check.
const DefaultSettleDelay = 5 * time.Second

// LegStatus is one order of a bracket as seen at check time.
type LegStatus struct {
	Leg     Stage
	OrderID string
	Order   broker.Order
	Err     error
}

// Report is the outcome of a status check.
type Report struct {
	Bracket   *Bracket
	Legs      []LegStatus
	Positions []broker.Position
	Flat      bool
	Err       error // positions could not be read
	CheckedAt time.Time
}

// Poller re-checks a bracket's orders after a settle delay. Checks run on
// timer goroutines; nothing blocks the caller of Schedule.
type Poller struct {
	m     *Manager
	delay time.Duration
	log   logging.Scoped

	mu      sync.Mutex
	timers  map[*time.Timer]struct{}
	stopped bool
	wg      sync.WaitGroup
}

func NewPoller(m *Manager, delay time.Duration, l logging.Logger) *Poller {
	if delay < 0 {
		delay = 0
	}
	return &Poller{
		m:      m,
		delay:  delay,
		log:    logging.For(l, "poller"),
		timers: make(map[*time.Timer]struct{}),
	}
}

// Schedule runs a status check of b once the settle delay has passed and hands
// the report to fn. It returns false if the poller has been stopped. The check
// is skipped when ctx is done by then.
func (p *Poller) Schedule(ctx context.Context, b *Bracket, fn func(Report)) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return false
	}

	p.wg.Add(1)
	var t *time.Timer
	t = time.AfterFunc(p.delay, func() {
		defer p.wg.Done()
		p.mu.Lock()
		delete(p.timers, t)
		p.mu.Unlock()

		if ctx.Err() != nil {
			p.log.Debugf("status check of %s skipped: %v", b.ID, ctx.Err())
			return
		}
		r := p.Check(ctx, b)
		if fn != nil {
			fn(r)
		}
	})
	p.timers[t] = struct{}{}
	p.log.Debugf("status check of %s in %s", b.ID, p.delay)
	return true
}

// Check queries every placed leg of b and the symbol's positions now.
func (p *Poller) Check(ctx context.Context, b *Bracket) Report {
	r := Report{Bracket: b, CheckedAt: time.Now().UTC()}

	legs := []struct {
		stage Stage
		id    string
	}{
		{StageEntry, b.EntryOrderID},
		{StageTakeProfit, b.TakeProfitOrderID},
		{StageStopLoss, b.StopLossOrderID},
	}
	for _, leg := range legs {
		if leg.id == "" {
			continue
		}
		ls := LegStatus{Leg: leg.stage, OrderID: leg.id}
		ls.Order, ls.Err = p.m.GetOrderStatus(ctx, leg.id)
		switch {
		case errors.Is(ls.Err, broker.ErrOrderNotFound):
			p.log.Warnf("bracket %s %s order %s not found", b.ID, leg.stage, leg.id)
		case ls.Err != nil:
			p.log.Errorf("bracket %s %s order %s: %v", b.ID, leg.stage, leg.id, ls.Err)
		default:
			p.log.Infof("bracket %s %s order %s: status=%s filled=%g remaining=%g",
				b.ID, leg.stage, leg.id, ls.Order.Status, ls.Order.Filled, ls.Order.Remaining)
		}
		r.Legs = append(r.Legs, ls)
	}

	r.Positions, r.Err = p.m.GetPositions(ctx)
	if r.Err != nil {
		p.log.Errorf("bracket %s: %v", b.ID, r.Err)
		return r
	}
	r.Flat = len(r.Positions) == 0
	for _, pos := range r.Positions {
		p.log.Infof("position %s %s size=%g entry=%g upnl=%.2f",
			pos.Symbol, pos.Side, pos.Size, pos.EntryPrice, pos.UnrealizedPnL)
	}
	return r
}

// Pending returns the number of scheduled checks that have not fired.
func (p *Poller) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.timers)
}

// Wait blocks until every scheduled check has run or been stopped.
func (p *Poller) Wait() { p.wg.Wait() }

// Stop cancels checks that have not fired yet and refuses new ones. Checks
// already running are left to finish.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped = true
	for t := range p.timers {
		if t.Stop() {
			p.wg.Done()
		}
		delete(p.timers, t)
	}
}

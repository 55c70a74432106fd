// Package journal is the append-only audit trail of strategy evaluations and
// brackets. It is never read back to restore state.
package journal

import (
	"context"
	"database/sql"
	"time"
)

// Evaluation is one strategy pass over a closed candle.
type Evaluation struct {
	ID          int64     `db:"id"`
	Time        time.Time `db:"time"`
	Symbol      string    `db:"symbol"`
	CandleTime  time.Time `db:"candle_time"`
	Price       float64   `db:"price"`
	PrevPrice   float64   `db:"prev_price"`
	EMAFast     float64   `db:"ema_fast"`
	EMASlow     float64   `db:"ema_slow"`
	PrevEMAFast float64   `db:"prev_ema_fast"`
	PrevEMASlow float64   `db:"prev_ema_slow"`
	Signal      string    `db:"signal"`
	Outcome     string    `db:"outcome"`
	BracketID   string    `db:"bracket_id"`
	Error       string    `db:"error"`
}

// Evaluation outcomes.
const (
	OutcomeNoSignal     = "no_signal"
	OutcomeInsufficient = "insufficient_data"
	OutcomeRiskBlocked  = "risk_blocked"
	OutcomePlaced       = "placed"
	OutcomeFailed       = "failed"
)

// BracketRecord is a placed bracket. ClosedAt is set once its position is flat.
type BracketRecord struct {
	ID                string       `db:"id"`
	Symbol            string       `db:"symbol"`
	Side              string       `db:"side"`
	Quantity          float64      `db:"quantity"`
	EntryOrderID      string       `db:"entry_order_id"`
	TakeProfitOrderID string       `db:"take_profit_order_id"`
	StopLossOrderID   string       `db:"stop_loss_order_id"`
	EntryPrice        float64      `db:"entry_price"`
	TargetPrice       float64      `db:"target_price"`
	StopPrice         float64      `db:"stop_price"`
	CreatedAt         time.Time    `db:"created_at"`
	ClosedAt          sql.NullTime `db:"closed_at"`
}

type Journal interface {
	RecordEvaluation(ctx context.Context, e Evaluation) error
	RecordBracket(ctx context.Context, b BracketRecord) error
	CloseBracket(ctx context.Context, id string, at time.Time) error
	Close() error
}

type nop struct{}

func (nop) RecordEvaluation(context.Context, Evaluation) error    { return nil }
func (nop) RecordBracket(context.Context, BracketRecord) error    { return nil }
func (nop) CloseBracket(context.Context, string, time.Time) error { return nil }
func (nop) Close() error                                          { return nil }

// Nop drops every record.
var Nop Journal = nop{}

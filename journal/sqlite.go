package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned by lookups that match no row.
var ErrNotFound = errors.New("journal: not found")

type SQLite struct {
	db *sqlx.DB
}

func NewSQLite(path string) (*SQLite, error) {
	db, err := sqlx.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}
	// single writer
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(Schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create journal schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (j *SQLite) RecordEvaluation(ctx context.Context, e Evaluation) error {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	e.Time = e.Time.UTC()
	e.CandleTime = e.CandleTime.UTC()
	_, err := j.db.NamedExecContext(ctx, `
		INSERT INTO evaluations
		(time, symbol, candle_time, price, prev_price, ema_fast, ema_slow,
		 prev_ema_fast, prev_ema_slow, signal, outcome, bracket_id, error)
		VALUES
		(:time, :symbol, :candle_time, :price, :prev_price, :ema_fast, :ema_slow,
		 :prev_ema_fast, :prev_ema_slow, :signal, :outcome, :bracket_id, :error)`, e)
	if err != nil {
		return fmt.Errorf("record evaluation: %w", err)
	}
	return nil
}

func (j *SQLite) RecordBracket(ctx context.Context, b BracketRecord) error {
	b.CreatedAt = b.CreatedAt.UTC()
	_, err := j.db.NamedExecContext(ctx, `
		INSERT INTO brackets
		(id, symbol, side, quantity, entry_order_id, take_profit_order_id, stop_loss_order_id,
		 entry_price, target_price, stop_price, created_at, closed_at)
		VALUES
		(:id, :symbol, :side, :quantity, :entry_order_id, :take_profit_order_id, :stop_loss_order_id,
		 :entry_price, :target_price, :stop_price, :created_at, :closed_at)`, b)
	if err != nil {
		return fmt.Errorf("record bracket %s: %w", b.ID, err)
	}
	return nil
}

// CloseBracket stamps closed_at on an open bracket. Closing twice keeps the
// first time.
func (j *SQLite) CloseBracket(ctx context.Context, id string, at time.Time) error {
	res, err := j.db.ExecContext(ctx,
		`UPDATE brackets SET closed_at = ? WHERE id = ? AND closed_at IS NULL`, at.UTC(), id)
	if err != nil {
		return fmt.Errorf("close bracket %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("close bracket %s: %w", id, err)
	}
	if n == 0 {
		if _, err := j.GetBracket(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (j *SQLite) GetBracket(ctx context.Context, id string) (BracketRecord, error) {
	var b BracketRecord
	err := j.db.GetContext(ctx, &b, `SELECT * FROM brackets WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return BracketRecord{}, fmt.Errorf("bracket %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return BracketRecord{}, fmt.Errorf("get bracket %s: %w", id, err)
	}
	return b, nil
}

// OpenBrackets returns brackets not yet closed, oldest first.
func (j *SQLite) OpenBrackets(ctx context.Context) ([]BracketRecord, error) {
	var out []BracketRecord
	err := j.db.SelectContext(ctx, &out,
		`SELECT * FROM brackets WHERE closed_at IS NULL ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("open brackets: %w", err)
	}
	return out, nil
}

// ListEvaluations returns evaluations whose time is within [start, end), oldest first.
func (j *SQLite) ListEvaluations(ctx context.Context, start, end time.Time) ([]Evaluation, error) {
	var out []Evaluation
	err := j.db.SelectContext(ctx, &out, `
		SELECT * FROM evaluations
		WHERE time >= ? AND time < ?
		ORDER BY time ASC, id ASC`, start.UTC(), end.UTC())
	if err != nil {
		return nil, fmt.Errorf("list evaluations: %w", err)
	}
	return out, nil
}

// CountOutcomes tallies evaluations by outcome.
func (j *SQLite) CountOutcomes(ctx context.Context) (map[string]int, error) {
	var rows []struct {
		Outcome string `db:"outcome"`
		N       int    `db:"n"`
	}
	err := j.db.SelectContext(ctx, &rows,
		`SELECT outcome, COUNT(*) AS n FROM evaluations GROUP BY outcome`)
	if err != nil {
		return nil, fmt.Errorf("count outcomes: %w", err)
	}
	out := make(map[string]int, len(rows))
	for _, r := range rows {
		out[r.Outcome] = r.N
	}
	return out, nil
}

func (j *SQLite) Close() error {
	return j.db.Close()
}

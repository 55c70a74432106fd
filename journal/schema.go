package journal

const Schema = `
CREATE TABLE IF NOT EXISTS evaluations (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	time DATETIME NOT NULL,
	symbol TEXT NOT NULL,
	candle_time DATETIME NOT NULL,
	price REAL NOT NULL,
	prev_price REAL NOT NULL,
	ema_fast REAL NOT NULL,
	ema_slow REAL NOT NULL,
	prev_ema_fast REAL NOT NULL,
	prev_ema_slow REAL NOT NULL,
	signal TEXT NOT NULL,
	outcome TEXT NOT NULL,
	bracket_id TEXT NOT NULL DEFAULT '',
	error TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_evaluations_time ON evaluations(time);

CREATE TABLE IF NOT EXISTS brackets (
	id TEXT PRIMARY KEY,
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	quantity REAL NOT NULL,
	entry_order_id TEXT NOT NULL,
	take_profit_order_id TEXT NOT NULL,
	stop_loss_order_id TEXT NOT NULL,
	entry_price REAL NOT NULL,
	target_price REAL NOT NULL,
	stop_price REAL NOT NULL,
	created_at DATETIME NOT NULL,
	closed_at DATETIME
);
`

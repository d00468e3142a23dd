package store

const Schema = `
CREATE TABLE IF NOT EXISTS positions (
	id          TEXT PRIMARY KEY,
	symbol      TEXT NOT NULL,
	side        TEXT NOT NULL,
	entry_price REAL NOT NULL,
	volume      REAL NOT NULL,
	stop_loss   REAL NOT NULL DEFAULT 0,
	take_profit REAL NOT NULL DEFAULT 0,
	opened_at   DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS closed_trades (
	seq          INTEGER PRIMARY KEY AUTOINCREMENT,
	id           TEXT NOT NULL,
	symbol       TEXT NOT NULL,
	side         TEXT NOT NULL,
	entry_price  REAL NOT NULL,
	exit_price   REAL NOT NULL,
	volume       REAL NOT NULL,
	pnl          REAL NOT NULL,
	close_reason TEXT NOT NULL,
	opened_at    DATETIME NOT NULL,
	closed_at    DATETIME NOT NULL,
	close_date   TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_closed_trades_date ON closed_trades(close_date);

CREATE TABLE IF NOT EXISTS daily_stats (
	date           TEXT PRIMARY KEY,
	total_trades   INTEGER NOT NULL DEFAULT 0,
	winning_trades INTEGER NOT NULL DEFAULT 0,
	losing_trades  INTEGER NOT NULL DEFAULT 0,
	total_pnl      REAL NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS audit_events (
	seq         INTEGER PRIMARY KEY AUTOINCREMENT,
	id          TEXT NOT NULL UNIQUE,
	kind        TEXT NOT NULL,
	position_id TEXT NOT NULL DEFAULT '',
	ts          DATETIME NOT NULL,
	detail      TEXT NOT NULL DEFAULT ''
);
`

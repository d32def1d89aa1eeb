// Package holdings stores the per-user portfolio state produced by the
// daily sync: current holdings, a daily portfolio value history, and raw
// broker snapshots cached for debugging.
package holdings

import "time"

// Holding is one synced position in a user's account.
type Holding struct {
	UserID      int64
	Symbol      string
	ISIN        string
	Exchange    string
	Quantity    float64
	AvgPrice    float64
	LastPrice   float64
	MarketValue float64
	SyncedAt    time.Time
}

// PortfolioValue is one point in a user's daily value history.
type PortfolioValue struct {
	UserID     int64
	Date       string // YYYY-MM-DD
	TotalValue float64
}

// Schema creates the portfolio tables.
const Schema = `
CREATE TABLE IF NOT EXISTS holdings (
	user_id INTEGER NOT NULL,
	symbol TEXT NOT NULL,
	isin TEXT NOT NULL DEFAULT '',
	exchange TEXT NOT NULL DEFAULT '',
	quantity REAL NOT NULL,
	avg_price REAL NOT NULL,
	last_price REAL NOT NULL,
	market_value REAL NOT NULL,
	synced_at INTEGER NOT NULL,
	PRIMARY KEY (user_id, symbol, exchange)
);

CREATE TABLE IF NOT EXISTS portfolio_values (
	user_id INTEGER NOT NULL,
	date TEXT NOT NULL,
	total_value REAL NOT NULL,
	PRIMARY KEY (user_id, date)
);
`

// CacheSchema creates the snapshot cache table (cache.db, rebuildable).
const CacheSchema = `
CREATE TABLE IF NOT EXISTS holdings_snapshots (
	user_id INTEGER NOT NULL,
	date TEXT NOT NULL,
	payload BLOB NOT NULL,
	created_at INTEGER NOT NULL,
	PRIMARY KEY (user_id, date)
);
`

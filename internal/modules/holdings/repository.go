package holdings

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/smehta/brokersync/internal/database"
	"github.com/smehta/brokersync/internal/domain"
)

// Repository persists synced holdings and portfolio value history.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a holdings repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "holdings").Logger(),
	}
}

// ReplaceHoldings atomically swaps a user's holdings for the freshly synced
// set. The sync is a full snapshot, so stale rows are dropped rather than
// merged.
func (r *Repository) ReplaceHoldings(ctx context.Context, userID int64, rows []domain.BrokerHolding) error {
	syncedAt := time.Now().Unix()

	err := database.WithTransaction(r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM holdings WHERE user_id = ?`, userID); err != nil {
			return fmt.Errorf("failed to clear holdings: %w", err)
		}
		for _, h := range rows {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO holdings (user_id, symbol, isin, exchange, quantity, avg_price, last_price, market_value, synced_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				userID, h.Symbol, h.ISIN, h.Exchange, h.Quantity, h.AvgPrice, h.LastPrice, h.MarketValue, syncedAt)
			if err != nil {
				return fmt.Errorf("failed to insert holding %s: %w", h.Symbol, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to replace holdings for user %d: %w", userID, err)
	}

	r.log.Debug().Int64("user_id", userID).Int("count", len(rows)).Msg("Holdings replaced")
	return nil
}

// GetByUser returns a user's current holdings ordered by market value.
func (r *Repository) GetByUser(ctx context.Context, userID int64) ([]Holding, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT user_id, symbol, isin, exchange, quantity, avg_price, last_price, market_value, synced_at
		FROM holdings WHERE user_id = ? ORDER BY market_value DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load holdings for user %d: %w", userID, err)
	}
	defer rows.Close()

	var holdings []Holding
	for rows.Next() {
		var (
			h        Holding
			syncedAt int64
		)
		if err := rows.Scan(&h.UserID, &h.Symbol, &h.ISIN, &h.Exchange,
			&h.Quantity, &h.AvgPrice, &h.LastPrice, &h.MarketValue, &syncedAt); err != nil {
			return nil, fmt.Errorf("failed to scan holding: %w", err)
		}
		h.SyncedAt = time.Unix(syncedAt, 0)
		holdings = append(holdings, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate holdings: %w", err)
	}
	return holdings, nil
}

// TotalValue returns the summed market value of a user's holdings.
func (r *Repository) TotalValue(ctx context.Context, userID int64) (float64, error) {
	var total float64
	err := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(market_value), 0) FROM holdings WHERE user_id = ?`, userID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum holdings for user %d: %w", userID, err)
	}
	return total, nil
}

// RecordPortfolioValue upserts the user's total value for a date. Re-running
// a sync for the same date overwrites rather than duplicates.
func (r *Repository) RecordPortfolioValue(ctx context.Context, userID int64, date string, totalValue float64) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO portfolio_values (user_id, date, total_value)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id, date) DO UPDATE SET total_value = excluded.total_value`,
		userID, date, totalValue)
	if err != nil {
		return fmt.Errorf("failed to record portfolio value for user %d: %w", userID, err)
	}
	return nil
}

// GetValueHistory returns a user's daily portfolio values in date order.
func (r *Repository) GetValueHistory(ctx context.Context, userID int64, limit int) ([]PortfolioValue, error) {
	if limit <= 0 {
		limit = 365
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT user_id, date, total_value FROM (
			SELECT user_id, date, total_value
			FROM portfolio_values WHERE user_id = ?
			ORDER BY date DESC LIMIT ?
		) ORDER BY date ASC`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load value history for user %d: %w", userID, err)
	}
	defer rows.Close()

	var values []PortfolioValue
	for rows.Next() {
		var v PortfolioValue
		if err := rows.Scan(&v.UserID, &v.Date, &v.TotalValue); err != nil {
			return nil, fmt.Errorf("failed to scan portfolio value: %w", err)
		}
		values = append(values, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate portfolio values: %w", err)
	}
	return values, nil
}

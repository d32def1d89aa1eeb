package holdings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/smehta/brokersync/internal/domain"
)

// ErrSnapshotNotFound is returned when no cached snapshot exists for the
// requested user and date.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// Snapshot is the raw broker response captured during a sync, kept so a
// sync's inputs can be inspected after the fact.
type Snapshot struct {
	Holdings  []domain.BrokerHolding `msgpack:"holdings"`
	Orders    []domain.BrokerOrder   `msgpack:"orders"`
	FetchedAt time.Time              `msgpack:"fetched_at"`
}

// SnapshotCache stores msgpack-encoded broker snapshots in cache.db. The
// cache is rebuildable; losing it costs nothing but debuggability.
type SnapshotCache struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewSnapshotCache creates a snapshot cache.
func NewSnapshotCache(db *sql.DB, log zerolog.Logger) *SnapshotCache {
	return &SnapshotCache{
		db:  db,
		log: log.With().Str("repo", "snapshot_cache").Logger(),
	}
}

// Put stores a user's snapshot for a date, replacing any previous one.
func (c *SnapshotCache) Put(ctx context.Context, userID int64, date string, snap Snapshot) error {
	payload, err := msgpack.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	_, err = c.db.ExecContext(ctx, `
		INSERT INTO holdings_snapshots (user_id, date, payload, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id, date) DO UPDATE SET
			payload = excluded.payload,
			created_at = excluded.created_at`,
		userID, date, payload, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to store snapshot for user %d: %w", userID, err)
	}
	return nil
}

// Get loads a user's snapshot for a date.
func (c *SnapshotCache) Get(ctx context.Context, userID int64, date string) (Snapshot, error) {
	var payload []byte
	err := c.db.QueryRowContext(ctx,
		`SELECT payload FROM holdings_snapshots WHERE user_id = ? AND date = ?`,
		userID, date).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, ErrSnapshotNotFound
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to load snapshot for user %d: %w", userID, err)
	}

	var snap Snapshot
	if err := msgpack.Unmarshal(payload, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("failed to decode snapshot for user %d: %w", userID, err)
	}
	return snap, nil
}

// MergeOrders folds the day's order book into an existing snapshot, or
// creates one when the holdings fetch has not run yet.
func (c *SnapshotCache) MergeOrders(ctx context.Context, userID int64, date string, orders []domain.BrokerOrder) error {
	snap, err := c.Get(ctx, userID, date)
	if err != nil && !errors.Is(err, ErrSnapshotNotFound) {
		return err
	}
	snap.Orders = orders
	if snap.FetchedAt.IsZero() {
		snap.FetchedAt = time.Now()
	}
	return c.Put(ctx, userID, date, snap)
}

// Prune drops snapshots older than the retention window.
func (c *SnapshotCache) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	result, err := c.db.ExecContext(ctx,
		`DELETE FROM holdings_snapshots WHERE created_at < ?`, olderThan.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to prune snapshots: %w", err)
	}
	pruned, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count pruned snapshots: %w", err)
	}
	if pruned > 0 {
		c.log.Debug().Int64("pruned", pruned).Msg("Snapshots pruned")
	}
	return pruned, nil
}

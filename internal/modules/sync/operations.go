package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/smehta/brokersync/internal/domain"
	"github.com/smehta/brokersync/internal/modules/holdings"
)

// HoldingsStore is the slice of the holdings repository the sync needs.
type HoldingsStore interface {
	ReplaceHoldings(ctx context.Context, userID int64, rows []domain.BrokerHolding) error
	RecordPortfolioValue(ctx context.Context, userID int64, date string, totalValue float64) error
}

// SnapshotStore captures raw broker responses for later inspection.
type SnapshotStore interface {
	Put(ctx context.Context, userID int64, date string, snap holdings.Snapshot) error
	MergeOrders(ctx context.Context, userID int64, date string, orders []domain.BrokerOrder) error
}

// HoldingsSyncOperation pulls the user's holdings from the broker, replaces
// the stored set, records the day's portfolio value and caches the raw
// snapshot.
type HoldingsSyncOperation struct {
	broker    domain.BrokerClient
	store     HoldingsStore
	snapshots SnapshotStore
	log       zerolog.Logger
}

// NewHoldingsSyncOperation creates the holdings sync operation.
func NewHoldingsSyncOperation(broker domain.BrokerClient, store HoldingsStore, snapshots SnapshotStore, log zerolog.Logger) *HoldingsSyncOperation {
	return &HoldingsSyncOperation{
		broker:    broker,
		store:     store,
		snapshots: snapshots,
		log:       log.With().Str("operation", "holdings_sync").Logger(),
	}
}

func (op *HoldingsSyncOperation) Name() string { return "holdings_sync" }

func (op *HoldingsSyncOperation) Execute(ctx context.Context, date string, session *domain.BrokerSession) (int, error) {
	rows, retries, err := op.broker.GetHoldings(ctx, session)
	if err != nil {
		return retries, fmt.Errorf("holdings fetch: %w", err)
	}

	if err := op.store.ReplaceHoldings(ctx, session.UserID, rows); err != nil {
		return retries, fmt.Errorf("holdings store: %w", err)
	}

	var total float64
	for _, h := range rows {
		total += h.MarketValue
	}
	if err := op.store.RecordPortfolioValue(ctx, session.UserID, date, total); err != nil {
		return retries, fmt.Errorf("portfolio value store: %w", err)
	}

	// Snapshot caching is best effort; a cache write failure must not fail
	// an otherwise successful sync.
	if err := op.snapshots.Put(ctx, session.UserID, date, holdings.Snapshot{
		Holdings:  rows,
		FetchedAt: time.Now(),
	}); err != nil {
		op.log.Warn().Int64("user_id", session.UserID).Err(err).Msg("Failed to cache snapshot")
	}

	op.log.Debug().
		Int64("user_id", session.UserID).
		Int("positions", len(rows)).
		Float64("total_value", total).
		Msg("Holdings synced")
	return retries, nil
}

// OrderBookAuditOperation pulls the user's order book and folds it into the
// day's snapshot so open orders can be reconciled against holdings later.
type OrderBookAuditOperation struct {
	broker    domain.BrokerClient
	snapshots SnapshotStore
	log       zerolog.Logger
}

// NewOrderBookAuditOperation creates the order book audit operation.
func NewOrderBookAuditOperation(broker domain.BrokerClient, snapshots SnapshotStore, log zerolog.Logger) *OrderBookAuditOperation {
	return &OrderBookAuditOperation{
		broker:    broker,
		snapshots: snapshots,
		log:       log.With().Str("operation", "order_book_audit").Logger(),
	}
}

func (op *OrderBookAuditOperation) Name() string { return "order_book_audit" }

func (op *OrderBookAuditOperation) Execute(ctx context.Context, date string, session *domain.BrokerSession) (int, error) {
	orders, retries, err := op.broker.GetOrderBook(ctx, session)
	if err != nil {
		return retries, fmt.Errorf("order book fetch: %w", err)
	}

	var open int
	for _, o := range orders {
		if o.Status == "Open" || o.Status == "New" {
			open++
		}
	}

	if err := op.snapshots.MergeOrders(ctx, session.UserID, date, orders); err != nil {
		op.log.Warn().Int64("user_id", session.UserID).Err(err).Msg("Failed to cache order book")
	}

	op.log.Debug().
		Int64("user_id", session.UserID).
		Int("orders", len(orders)).
		Int("open", open).
		Msg("Order book audited")
	return retries, nil
}

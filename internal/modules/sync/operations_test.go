package sync

import (
	"context"
	"fmt"
	gosync "sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smehta/brokersync/internal/domain"
	"github.com/smehta/brokersync/internal/modules/holdings"
)

// holdingsBroker returns fixed holdings and orders.
type holdingsBroker struct {
	fakeBroker
	rows       []domain.BrokerHolding
	orders     []domain.BrokerOrder
	fetchErr   error
	fetchTries int
}

func (b *holdingsBroker) GetHoldings(context.Context, *domain.BrokerSession) ([]domain.BrokerHolding, int, error) {
	if b.fetchErr != nil {
		return nil, b.fetchTries, b.fetchErr
	}
	return b.rows, b.fetchTries, nil
}

func (b *holdingsBroker) GetOrderBook(context.Context, *domain.BrokerSession) ([]domain.BrokerOrder, int, error) {
	return b.orders, 0, nil
}

type memHoldingsStore struct {
	mu     gosync.Mutex
	rows   map[int64][]domain.BrokerHolding
	values map[string]float64
}

func newMemHoldingsStore() *memHoldingsStore {
	return &memHoldingsStore{
		rows:   make(map[int64][]domain.BrokerHolding),
		values: make(map[string]float64),
	}
}

func (s *memHoldingsStore) ReplaceHoldings(_ context.Context, userID int64, rows []domain.BrokerHolding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[userID] = rows
	return nil
}

func (s *memHoldingsStore) RecordPortfolioValue(_ context.Context, userID int64, date string, totalValue float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[fmt.Sprintf("%d/%s", userID, date)] = totalValue
	return nil
}

type memSnapshotStore struct {
	mu    gosync.Mutex
	snaps map[string]holdings.Snapshot
}

func newMemSnapshotStore() *memSnapshotStore {
	return &memSnapshotStore{snaps: make(map[string]holdings.Snapshot)}
}

func (s *memSnapshotStore) key(userID int64, date string) string {
	return fmt.Sprintf("%d/%s", userID, date)
}

func (s *memSnapshotStore) Put(_ context.Context, userID int64, date string, snap holdings.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snaps[s.key(userID, date)] = snap
	return nil
}

func (s *memSnapshotStore) MergeOrders(_ context.Context, userID int64, date string, orders []domain.BrokerOrder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.snaps[s.key(userID, date)]
	snap.Orders = orders
	if snap.FetchedAt.IsZero() {
		snap.FetchedAt = time.Now()
	}
	s.snaps[s.key(userID, date)] = snap
	return nil
}

func session(userID int64) *domain.BrokerSession {
	return &domain.BrokerSession{UserID: userID, Token: "tok"}
}

func TestHoldingsSyncOperation(t *testing.T) {
	broker := &holdingsBroker{
		rows: []domain.BrokerHolding{
			{Symbol: "INFY", Quantity: 10, LastPrice: 1450, MarketValue: 14500},
			{Symbol: "TCS", Quantity: 5, LastPrice: 3300, MarketValue: 16500},
		},
		fetchTries: 1,
	}
	store := newMemHoldingsStore()
	snaps := newMemSnapshotStore()
	op := NewHoldingsSyncOperation(broker, store, snaps, zerolog.Nop())

	retries, err := op.Execute(context.Background(), "2026-08-31", session(7))
	require.NoError(t, err)
	assert.Equal(t, 1, retries)
	assert.Len(t, store.rows[7], 2)
	assert.Equal(t, 31000.0, store.values["7/2026-08-31"])
	assert.Len(t, snaps.snaps["7/2026-08-31"].Holdings, 2)
}

func TestHoldingsSyncOperation_FetchFailurePropagates(t *testing.T) {
	broker := &holdingsBroker{
		fetchErr:   fmt.Errorf("holdings fetch: %w", domain.ErrRetryExhausted),
		fetchTries: 3,
	}
	op := NewHoldingsSyncOperation(broker, newMemHoldingsStore(), newMemSnapshotStore(), zerolog.Nop())

	retries, err := op.Execute(context.Background(), "2026-08-31", session(7))
	require.Error(t, err)
	assert.Equal(t, 3, retries)
}

func TestOrderBookAuditOperation_MergesIntoSnapshot(t *testing.T) {
	broker := &holdingsBroker{
		rows: []domain.BrokerHolding{{Symbol: "INFY", MarketValue: 14500}},
		orders: []domain.BrokerOrder{
			{OrderID: "1", Symbol: "INFY", Status: "Open"},
			{OrderID: "2", Symbol: "TCS", Status: "Filled"},
		},
	}
	store := newMemHoldingsStore()
	snaps := newMemSnapshotStore()

	holdingsOp := NewHoldingsSyncOperation(broker, store, snaps, zerolog.Nop())
	ordersOp := NewOrderBookAuditOperation(broker, snaps, zerolog.Nop())

	_, err := holdingsOp.Execute(context.Background(), "2026-08-31", session(7))
	require.NoError(t, err)
	_, err = ordersOp.Execute(context.Background(), "2026-08-31", session(7))
	require.NoError(t, err)

	snap := snaps.snaps["7/2026-08-31"]
	assert.Len(t, snap.Holdings, 1)
	assert.Len(t, snap.Orders, 2)
}

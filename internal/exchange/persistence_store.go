package exchange

import (
	"context"
	"fmt"

	"github.com/ajitpratap0/cryptofunk/internal/db"
	"github.com/ajitpratap0/cryptofunk/internal/orderengine"
)

// DBPersistenceStore is the PersistenceStore backed by the durable
// paper_trading_strategies/mock_positions/mock_executions/mock_pending_orders
// tables (SPEC_FULL.md §6), the concrete implementation MockExchangeProvider
// runs against in production. Mirrors the teacher's `if m.db != nil` optional
// style from mock.go, but here the provider owns that nil check — this type
// is only ever constructed when durable persistence is wanted.
type DBPersistenceStore struct {
	database *db.DB
}

// NewDBPersistenceStore wraps an open database connection as a
// PersistenceStore.
func NewDBPersistenceStore(database *db.DB) *DBPersistenceStore {
	return &DBPersistenceStore{database: database}
}

// SaveStrategyState upserts the ledger row and replaces the open-position
// rows for state.StrategyID under credentialID.
func (s *DBPersistenceStore) SaveStrategyState(ctx context.Context, credentialID string, state *StrategyState) error {
	if err := s.database.UpsertStrategyState(ctx, credentialID, state.StrategyID,
		state.Balance, state.ReservedBalance, state.TotalCommission, state.InitialBalance); err != nil {
		return fmt.Errorf("save strategy state: %w", err)
	}
	if err := s.database.ReplaceMockPositions(ctx, credentialID, state.StrategyID, state.Positions); err != nil {
		return fmt.Errorf("save strategy positions: %w", err)
	}
	return nil
}

// SavePendingOrders replaces every queued order row for a strategy.
func (s *DBPersistenceStore) SavePendingOrders(ctx context.Context, credentialID, strategyID string, orders []orderengine.PendingOrder) error {
	return s.database.ReplaceMockPendingOrders(ctx, credentialID, strategyID, orders)
}

// AppendExecution appends a durable execution row for one fill.
func (s *DBPersistenceStore) AppendExecution(ctx context.Context, credentialID, strategyID string, fill orderengine.MockOrderFill) error {
	return s.database.AppendMockExecution(ctx, credentialID, strategyID, fill)
}

// LoadState reconstructs every strategy ledger and pending order recorded
// for credentialID, translating db.PaperStrategyRow into StrategyState.
func (s *DBPersistenceStore) LoadState(ctx context.Context, credentialID string) (map[string]*StrategyState, []orderengine.PendingOrder, error) {
	rows, pending, err := s.database.LoadPaperTradingState(ctx, credentialID)
	if err != nil {
		return nil, nil, fmt.Errorf("load paper trading state: %w", err)
	}

	states := make(map[string]*StrategyState, len(rows))
	for id, row := range rows {
		states[id] = &StrategyState{
			StrategyID:      row.StrategyID,
			InitialBalance:  row.InitialBalance,
			Balance:         row.Balance,
			ReservedBalance: row.ReservedBalance,
			Positions:       row.Positions,
			TotalCommission: row.TotalCommission,
		}
	}
	return states, pending, nil
}

package exchange

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/ajitpratap0/cryptofunk/internal/orderengine"
	"github.com/ajitpratap0/cryptofunk/internal/processor"
)

// StrategyState is one strategy's independent ledger inside a
// MockExchangeProvider: balance, reservations, open positions, and trade
// history. Multiple strategies under the same credential never read or
// mutate each other's state (SPEC_FULL.md §3, §4.6).
type StrategyState struct {
	StrategyID      string
	InitialBalance  decimal.Decimal
	Balance         decimal.Decimal
	ReservedBalance decimal.Decimal
	Positions       map[string]*processor.ProcessorPosition
	Trades          []processor.TradeResult
	TotalCommission decimal.Decimal
}

// AvailableBalance is the balance minus whatever is held against queued
// limit/stop orders.
func (s *StrategyState) AvailableBalance() decimal.Decimal {
	return s.Balance.Sub(s.ReservedBalance)
}

func newStrategyState(strategyID string, initialBalance decimal.Decimal) *StrategyState {
	return &StrategyState{
		StrategyID:     strategyID,
		InitialBalance: initialBalance,
		Balance:        initialBalance,
		Positions:      make(map[string]*processor.ProcessorPosition),
	}
}

// PersistenceStore is the write-through durable-store boundary a
// MockExchangeProvider persists through on every mutation. Implementations
// back onto paper_trading_strategies/mock_positions/mock_executions/
// mock_pending_orders; a nil store makes the provider run in-memory only
// (useful for tests), matching the teacher's `if m.db != nil` guard style in
// mock.go.
type PersistenceStore interface {
	SaveStrategyState(ctx context.Context, credentialID string, state *StrategyState) error
	SavePendingOrders(ctx context.Context, credentialID, strategyID string, orders []orderengine.PendingOrder) error
	AppendExecution(ctx context.Context, credentialID, strategyID string, fill orderengine.MockOrderFill) error
	LoadState(ctx context.Context, credentialID string) (map[string]*StrategyState, []orderengine.PendingOrder, error)
}

// MockExchangeProvider is one instance per credential_id: a shared order
// book (symbols traded by any strategy under this credential), a shared
// orderengine.Engine matching orders against it, and an independent
// StrategyState per strategy_id. SPEC_FULL.md §4.6.
type MockExchangeProvider struct {
	CredentialID string

	mu         sync.RWMutex
	strategies map[string]*StrategyState

	orderEngine *orderengine.Engine
	broadcaster *Broadcaster
	store       PersistenceStore

	procConfig processor.ProcessorConfig
}

// NewMockExchangeProvider constructs a provider for one credential, restoring
// prior state from store (if non-nil) via store.LoadState.
func NewMockExchangeProvider(ctx context.Context, credentialID string, procConfig processor.ProcessorConfig, store PersistenceStore) (*MockExchangeProvider, error) {
	p := &MockExchangeProvider{
		CredentialID: credentialID,
		strategies:   make(map[string]*StrategyState),
		orderEngine:  orderengine.NewEngine(procConfig.CommissionRate, procConfig.SlippageRate),
		broadcaster:  NewBroadcaster(),
		store:        store,
		procConfig:   procConfig,
	}

	if store == nil {
		return p, nil
	}

	states, pending, err := store.LoadState(ctx, credentialID)
	if err != nil {
		return nil, fmt.Errorf("load mock exchange state: %w", err)
	}

	p.mu.Lock()
	for id, state := range states {
		p.strategies[id] = state
	}
	p.mu.Unlock()

	for _, order := range pending {
		p.orderEngine.RestorePendingOrder(order)
	}

	log.Info().
		Str("credential_id", credentialID).
		Int("strategies", len(states)).
		Int("pending_orders", len(pending)).
		Msg("Mock exchange provider restored from durable store")

	return p, nil
}

// getOrCreateStrategy returns strategyID's ledger, creating one funded at
// initialBalance if this is the first signal seen for it. Caller must hold
// p.mu for writing.
func (p *MockExchangeProvider) getOrCreateStrategy(strategyID string, initialBalance decimal.Decimal) *StrategyState {
	state, ok := p.strategies[strategyID]
	if !ok {
		state = newStrategyState(strategyID, initialBalance)
		p.strategies[strategyID] = state
	}
	return state
}

// ProcessSignal submits an order for strategyID into the shared order book
// and applies any immediate fill to that strategy's ledger alone, mirroring
// SPEC_FULL.md §4.2 over the order-book-driven venue instead of an assumed
// fill price: the whole call holds the exclusive lock (GetStrategyState
// reads take the shared lock), and every mutation is followed by a
// write-through persist.
func (p *MockExchangeProvider) ProcessSignal(ctx context.Context, strategyID string, signal processor.Signal, ticker orderengine.Ticker, book orderengine.OrderBook, initialBalance decimal.Decimal) (*processor.TradeResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	state := p.getOrCreateStrategy(strategyID, initialBalance)

	switch signal.Type {
	case processor.SignalEntry, processor.SignalAddToPosition:
		return p.processBuyLocked(ctx, strategyID, state, signal, ticker, book)
	case processor.SignalExit, processor.SignalReducePosition:
		return p.processSellLocked(ctx, strategyID, state, signal, ticker, book)
	default:
		return nil, nil
	}
}

func (p *MockExchangeProvider) processBuyLocked(ctx context.Context, strategyID string, state *StrategyState, signal processor.Signal, ticker orderengine.Ticker, book orderengine.OrderBook) (*processor.TradeResult, error) {
	if _, exists := state.Positions[signal.PositionKey()]; exists && signal.Type == processor.SignalEntry {
		return nil, &processor.Error{Kind: processor.ErrConfiguration, Msg: "position already open for " + signal.PositionKey()}
	}

	qty := processor.PositionSize(state.AvailableBalance(), p.procConfig.MaxPositionSizePct, signal.Strength, ticker.Ask)
	if qty.IsZero() || qty.IsNegative() {
		return nil, &processor.Error{Kind: processor.ErrInsufficientFunds, Msg: "no allocatable balance"}
	}

	principal := ticker.Ask.Mul(qty)
	if err := func() error {
		required := processor.RequiredFunds(principal, p.procConfig.CommissionRate)
		if required.GreaterThan(state.AvailableBalance()) {
			return &processor.Error{Kind: processor.ErrInsufficientFunds, Msg: "required funds exceed available balance"}
		}
		return nil
	}(); err != nil {
		return nil, err
	}

	fill, err := p.orderEngine.SubmitMarketOrder(book, orderengine.SideBuy, qty, strategyID)
	if err != nil {
		return nil, &processor.Error{Kind: processor.ErrExchange, Msg: "market buy failed", Err: err}
	}

	cost := fill.Price.Mul(fill.Quantity)
	state.Balance = state.Balance.Sub(cost).Sub(fill.Commission)
	state.TotalCommission = state.TotalCommission.Add(fill.Commission)

	key := signal.PositionKey()
	if existing, ok := state.Positions[key]; ok {
		existing.EntryPrice = processor.AveragePriceOnAdd(existing.EntryPrice, existing.Quantity, fill.Price, fill.Quantity)
		existing.Quantity = existing.Quantity.Add(fill.Quantity)
		existing.Fees = existing.Fees.Add(fill.Commission)
	} else {
		state.Positions[key] = &processor.ProcessorPosition{
			Symbol:     signal.Ticker,
			Side:       processor.SideBuy,
			Quantity:   fill.Quantity,
			EntryPrice: fill.Price,
			EntryTime:  fill.Timestamp,
			Fees:       fill.Commission,
			PositionID: signal.PositionID,
			GroupID:    signal.GroupID,
		}
	}

	result := processor.TradeResult{
		Symbol: signal.Ticker, Side: processor.SideBuy, SignalType: signal.Type,
		Quantity: fill.Quantity, Price: fill.Price, Commission: fill.Commission,
		Timestamp: fill.Timestamp, IsPartial: !fill.IsFullyFilled,
	}
	state.Trades = append(state.Trades, result)

	p.persistLocked(ctx, state, fill)
	return &result, nil
}

func (p *MockExchangeProvider) processSellLocked(ctx context.Context, strategyID string, state *StrategyState, signal processor.Signal, ticker orderengine.Ticker, book orderengine.OrderBook) (*processor.TradeResult, error) {
	key := signal.PositionKey()
	position, exists := state.Positions[key]
	if !exists {
		return nil, &processor.Error{Kind: processor.ErrConfiguration, Msg: "no open position for " + key}
	}

	requested, _ := signal.MetadataQuantity()
	var requestedPtr *decimal.Decimal
	if !requested.IsZero() {
		requestedPtr = &requested
	}
	closeQty := processor.CloseQuantity(signal.Type, position.Quantity, requestedPtr)

	fill, err := p.orderEngine.SubmitMarketOrder(book, orderengine.SideSell, closeQty, strategyID)
	if err != nil {
		return nil, &processor.Error{Kind: processor.ErrExchange, Msg: "market sell failed", Err: err}
	}

	realized := processor.RealizedPnL(processor.SideBuy, position.EntryPrice, fill.Price, fill.Quantity, fill.Commission)
	state.Balance = state.Balance.Add(fill.Price.Mul(fill.Quantity)).Sub(fill.Commission)
	state.TotalCommission = state.TotalCommission.Add(fill.Commission)

	position.Quantity = position.Quantity.Sub(fill.Quantity)
	if position.Quantity.LessThanOrEqual(decimal.Zero) {
		delete(state.Positions, key)
	}

	result := processor.TradeResult{
		Symbol: signal.Ticker, Side: processor.SideSell, SignalType: signal.Type,
		Quantity: fill.Quantity, Price: fill.Price, Commission: fill.Commission,
		Timestamp: fill.Timestamp, RealizedPnL: &realized, IsPartial: !fill.IsFullyFilled,
	}
	state.Trades = append(state.Trades, result)

	p.persistLocked(ctx, state, fill)
	return &result, nil
}

// OnTick forwards one streaming tick to the shared order engine, applies
// every resulting fill to the strategy that owns it, broadcasts the tick to
// subscribers, and persists each touched strategy.
func (p *MockExchangeProvider) OnTick(ctx context.Context, ticker orderengine.Ticker, book orderengine.OrderBook) {
	p.broadcaster.Publish(ticker.Symbol, Tick{Ticker: ticker, Book: book})

	fills := p.orderEngine.OnPriceTick(ticker, book)
	if len(fills) == 0 {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for _, fill := range fills {
		strategyID, ok := p.orderEngine.StrategyForOrder(fill.OrderID)
		if !ok {
			log.Warn().Str("order_id", fill.OrderID).Msg("Fill for unknown strategy, dropping")
			continue
		}
		state, ok := p.strategies[strategyID]
		if !ok {
			log.Warn().Str("strategy_id", strategyID).Msg("Fill for unknown strategy state, dropping")
			continue
		}

		p.applyQueuedFillLocked(state, fill)
		p.persistLocked(ctx, state, fill)
	}
}

// applyQueuedFillLocked settles a fill produced by OnPriceTick (as opposed
// to an immediate ProcessSignal fill) against the owning strategy's ledger,
// releasing its proportional reservation. Caller must hold p.mu.
func (p *MockExchangeProvider) applyQueuedFillLocked(state *StrategyState, fill orderengine.MockOrderFill) {
	state.ReservedBalance = state.ReservedBalance.Sub(fill.ReleasedReservation)
	state.TotalCommission = state.TotalCommission.Add(fill.Commission)

	if fill.Side == orderengine.SideBuy {
		cost := fill.Price.Mul(fill.Quantity)
		state.Balance = state.Balance.Sub(cost).Sub(fill.Commission)

		if existing, ok := state.Positions[fill.Symbol]; ok {
			existing.EntryPrice = processor.AveragePriceOnAdd(existing.EntryPrice, existing.Quantity, fill.Price, fill.Quantity)
			existing.Quantity = existing.Quantity.Add(fill.Quantity)
			existing.Fees = existing.Fees.Add(fill.Commission)
		} else {
			state.Positions[fill.Symbol] = &processor.ProcessorPosition{
				Symbol: fill.Symbol, Side: processor.SideBuy, Quantity: fill.Quantity,
				EntryPrice: fill.Price, EntryTime: fill.Timestamp, Fees: fill.Commission,
			}
		}
	} else {
		state.Balance = state.Balance.Add(fill.Price.Mul(fill.Quantity)).Sub(fill.Commission)

		if position, ok := state.Positions[fill.Symbol]; ok {
			position.Quantity = position.Quantity.Sub(fill.Quantity)
			if position.Quantity.LessThanOrEqual(decimal.Zero) {
				delete(state.Positions, fill.Symbol)
			}
		}
	}

	state.Trades = append(state.Trades, processor.TradeResult{
		Symbol: fill.Symbol, Side: fill.Side, Quantity: fill.Quantity,
		Price: fill.Price, Commission: fill.Commission, Timestamp: fill.Timestamp,
		IsPartial: !fill.IsFullyFilled,
	})
}

// persistLocked writes strategy state and the fill's execution row through
// to the durable store. Caller must hold p.mu. Persistence failures are
// logged, not propagated — paper trading continues in-memory (same
// best-effort pattern as the teacher's `if m.db != nil` guards in mock.go).
func (p *MockExchangeProvider) persistLocked(ctx context.Context, state *StrategyState, fill orderengine.MockOrderFill) {
	if p.store == nil {
		return
	}

	if err := p.store.SaveStrategyState(ctx, p.CredentialID, state); err != nil {
		log.Error().Err(err).Str("strategy_id", state.StrategyID).Msg("Failed to persist strategy state")
	}
	if err := p.store.AppendExecution(ctx, p.CredentialID, state.StrategyID, fill); err != nil {
		log.Error().Err(err).Str("strategy_id", state.StrategyID).Msg("Failed to persist execution")
	}
	pending := p.orderEngine.GetRawPendingOrders(state.StrategyID)
	if err := p.store.SavePendingOrders(ctx, p.CredentialID, state.StrategyID, pending); err != nil {
		log.Error().Err(err).Str("strategy_id", state.StrategyID).Msg("Failed to persist pending orders")
	}
}

// Subscribe returns a channel of Ticker/OrderBook ticks for symbol, shared
// across every caller subscribed to it.
func (p *MockExchangeProvider) Subscribe(symbol string) chan Tick {
	return p.broadcaster.Subscribe(symbol)
}

// Unsubscribe releases a channel obtained from Subscribe.
func (p *MockExchangeProvider) Unsubscribe(symbol string, ch chan Tick) {
	p.broadcaster.Unsubscribe(symbol, ch)
}

// GetStrategyState returns a snapshot of one strategy's ledger.
func (p *MockExchangeProvider) GetStrategyState(strategyID string) (*StrategyState, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	state, ok := p.strategies[strategyID]
	return state, ok
}

// ResetStrategy wipes one strategy's positions/trades/reservations and
// zeroes its ledger back to InitialBalance.
func (p *MockExchangeProvider) ResetStrategy(ctx context.Context, strategyID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	state, ok := p.strategies[strategyID]
	if !ok {
		return fmt.Errorf("unknown strategy: %s", strategyID)
	}

	fresh := newStrategyState(strategyID, state.InitialBalance)
	p.strategies[strategyID] = fresh

	if p.store != nil {
		if err := p.store.SaveStrategyState(ctx, p.CredentialID, fresh); err != nil {
			return fmt.Errorf("persist reset strategy: %w", err)
		}
		if err := p.store.SavePendingOrders(ctx, p.CredentialID, strategyID, nil); err != nil {
			return fmt.Errorf("persist cleared pending orders: %w", err)
		}
	}

	log.Info().Str("strategy_id", strategyID).Msg("Strategy reset")
	return nil
}

// ResetAll clears every strategy ledger under this credential.
func (p *MockExchangeProvider) ResetAll(ctx context.Context) error {
	p.mu.Lock()
	ids := make([]string, 0, len(p.strategies))
	for id := range p.strategies {
		ids = append(ids, id)
	}
	p.mu.Unlock()

	for _, id := range ids {
		if err := p.ResetStrategy(ctx, id); err != nil {
			return err
		}
	}

	log.Info().Str("credential_id", p.CredentialID).Int("strategies", len(ids)).Msg("All strategies reset")
	return nil
}


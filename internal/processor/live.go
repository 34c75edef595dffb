package processor

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/ajitpratap0/cryptofunk/internal/config"
)

// OrderType enumerates the order types the OrderExecutionProvider boundary
// accepts (SPEC_FULL.md §6).
type OrderType string

const (
	OrderTypeMarket         OrderType = "market"
	OrderTypeLimit          OrderType = "limit"
	OrderTypeStopLoss       OrderType = "stop_loss"
	OrderTypeTakeProfit     OrderType = "take_profit"
	OrderTypeStopLossLimit  OrderType = "stop_loss_limit"
	OrderTypeTakeProfitLimit OrderType = "take_profit_limit"
)

// OrderRequest is the request half of the OrderExecutionProvider boundary.
type OrderRequest struct {
	Ticker        string
	Side          Side
	Type          OrderType
	Quantity      decimal.Decimal
	Price         *decimal.Decimal
	StopPrice     *decimal.Decimal
	TimeInForce   string
	ClientOrderID *string
	StrategyID    *string
}

// OrderResponse is the response half: brokers return only an opaque order
// number and their own timestamp, never an execution price.
type OrderResponse struct {
	OrderNumber string
	BrokerTime  time.Time
}

// OrderExecutionProvider is the boundary the live executor consumes and
// brokers implement. No fill callback is part of this contract;
// reconciliation is out of scope (SPEC_FULL.md §6).
type OrderExecutionProvider interface {
	PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResponse, error)
	CancelOrder(ctx context.Context, orderID string, ticker string) error
	ModifyOrder(ctx context.Context, orderID string, ticker string, newQty, newPrice *decimal.Decimal) (*OrderResponse, error)
}

// Bracket is a registered stop-loss/take-profit pair attached to an entry.
// Brackets are never matched locally; the broker is authoritative.
type Bracket struct {
	PositionKey  string
	StopLossID   string
	TakeProfitID string
}

// BracketOrderManager tracks bracket orders registered by the live
// executor. It never evaluates fills itself.
type BracketOrderManager struct {
	brackets map[string]Bracket
}

// NewBracketOrderManager constructs an empty manager.
func NewBracketOrderManager() *BracketOrderManager {
	return &BracketOrderManager{brackets: make(map[string]Bracket)}
}

// Register records a bracket for a position key.
func (m *BracketOrderManager) Register(b Bracket) {
	m.brackets[b.PositionKey] = b
}

// Remove drops the bracket for a position key, e.g. after the position
// fully closes.
func (m *BracketOrderManager) Remove(key string) {
	delete(m.brackets, key)
}

// Get returns the bracket registered for a key, if any.
func (m *BracketOrderManager) Get(key string) (Bracket, bool) {
	b, ok := m.brackets[key]
	return b, ok
}

// LiveExecutor implements SignalProcessor by translating signals into
// OrderRequests dispatched through an OrderExecutionProvider. Because the
// provider never reports a fill price, the executor estimates it with the
// same slippage model used by SimulatedExecutor (SPEC_FULL.md §4.3, §9).
// All other bookkeeping mirrors SimulatedExecutor exactly so backtest,
// paper, and live trade records remain directly comparable.
type LiveExecutor struct {
	Config          ProcessorConfig
	Balance         decimal.Decimal
	InitialBalance  decimal.Decimal
	Positions       map[string]*ProcessorPosition
	Trades          []TradeResult
	TotalCommission decimal.Decimal
	TotalSlippage   decimal.Decimal
	TotalOrders     int

	provider OrderExecutionProvider
	brackets *BracketOrderManager
	log      zerolog.Logger
}

// NewLiveExecutor constructs a live executor bound to the given order
// execution provider.
func NewLiveExecutor(initialBalance decimal.Decimal, cfg ProcessorConfig, provider OrderExecutionProvider) *LiveExecutor {
	return &LiveExecutor{
		Config:         cfg,
		Balance:        initialBalance,
		InitialBalance: initialBalance,
		Positions:      make(map[string]*ProcessorPosition),
		provider:       provider,
		brackets:       NewBracketOrderManager(),
		log:            config.NewLogger("processor.live"),
	}
}

// ProcessSignalCtx is the context-bearing form of ProcessSignal; the
// interface method below adapts it to context.Background for callers that
// don't carry one.
func (e *LiveExecutor) ProcessSignalCtx(ctx context.Context, signal Signal, currentPrice decimal.Decimal, timestamp time.Time) (*TradeResult, error) {
	if signal.Type == SignalAlert {
		return nil, nil
	}
	if signal.Strength < e.Config.MinStrength {
		return nil, nil
	}

	key := signal.PositionKey()
	_, exists := e.Positions[key]

	signalType := signal.Type
	if signalType == SignalScale {
		if exists {
			signalType = SignalExit
		} else {
			signalType = SignalEntry
		}
	}

	price := currentPrice
	if signal.SuggestedPrice != nil {
		price = *signal.SuggestedPrice
	}

	switch signalType {
	case SignalEntry:
		if exists {
			return nil, nil
		}
		return e.processEntry(ctx, signal, key, price, timestamp)
	case SignalAddToPosition:
		if !exists {
			return nil, nil
		}
		return e.processAdd(ctx, signal, key, price, timestamp)
	case SignalExit:
		if !exists {
			return nil, nil
		}
		return e.processExit(ctx, signal, key, price, timestamp, true)
	case SignalReducePosition:
		if !exists {
			return nil, nil
		}
		return e.processExit(ctx, signal, key, price, timestamp, false)
	default:
		return nil, nil
	}
}

// ProcessSignal satisfies SignalProcessor for call sites without a context.
func (e *LiveExecutor) ProcessSignal(signal Signal, currentPrice decimal.Decimal, timestamp time.Time) (*TradeResult, error) {
	return e.ProcessSignalCtx(context.Background(), signal, currentPrice, timestamp)
}

func (e *LiveExecutor) processEntry(ctx context.Context, signal Signal, key string, price decimal.Decimal, timestamp time.Time) (*TradeResult, error) {
	if signal.Side == SideSell && !e.Config.AllowShort {
		return nil, &Error{Kind: ErrShortNotAllowed, Msg: "short selling disabled"}
	}
	if len(e.Positions) >= e.Config.MaxPositions {
		return nil, &Error{Kind: ErrMaxPositionsExceeded, Msg: "max positions exceeded"}
	}

	estPrice := applySlippage(price, signal.Side, e.Config.SlippageRate)
	qty := positionSize(e.Balance, e.Config.MaxPositionSizePct, signal.Strength, estPrice)
	if qty.IsZero() || qty.IsNegative() {
		return nil, nil
	}
	principal := estPrice.Mul(qty)
	commission := principal.Mul(e.Config.CommissionRate)
	if err := validateFunds(principal, e.Config.CommissionRate, e.Balance); err != nil {
		return nil, err
	}

	resp, err := e.provider.PlaceOrder(ctx, OrderRequest{
		Ticker:     signal.Ticker,
		Side:       signal.Side,
		Type:       OrderTypeMarket,
		Quantity:   qty,
		StrategyID: &signal.StrategyID,
	})
	if err != nil {
		return nil, &Error{Kind: ErrExchange, Msg: "broker rejected entry order", Err: err}
	}
	e.log.Debug().Str("order_number", resp.OrderNumber).Msg("entry order placed")

	e.Balance = e.Balance.Sub(principal).Sub(commission)
	e.Positions[key] = &ProcessorPosition{
		Symbol:     signal.Ticker,
		Side:       signal.Side,
		Quantity:   qty,
		EntryPrice: estPrice,
		EntryTime:  timestamp,
		Fees:       commission,
		PositionID: signal.PositionID,
		GroupID:    signal.GroupID,
	}
	e.registerBrackets(ctx, signal, key, estPrice, qty)

	slip := estPrice.Sub(price).Abs()
	e.TotalCommission = e.TotalCommission.Add(commission)
	e.TotalSlippage = e.TotalSlippage.Add(slip)
	e.TotalOrders++

	trade := TradeResult{
		Symbol: signal.Ticker, Side: signal.Side, SignalType: signal.Type,
		Quantity: qty, Price: estPrice, Commission: commission, Slippage: slip,
		Timestamp: timestamp, Metadata: signal.Metadata,
	}
	e.Trades = append(e.Trades, trade)
	return &trade, nil
}

func (e *LiveExecutor) registerBrackets(ctx context.Context, signal Signal, key string, entry, qty decimal.Decimal) {
	if !e.Config.AutoStopLoss && !e.Config.AutoTakeProfit {
		return
	}
	one := decimal.NewFromInt(1)
	var b Bracket
	b.PositionKey = key
	if e.Config.AutoStopLoss {
		var slPrice decimal.Decimal
		if signal.Side == SideBuy {
			slPrice = entry.Mul(one.Sub(e.Config.StopLossPct))
		} else {
			slPrice = entry.Mul(one.Add(e.Config.StopLossPct))
		}
		resp, err := e.provider.PlaceOrder(ctx, OrderRequest{
			Ticker: signal.Ticker, Side: oppositeSide(signal.Side), Type: OrderTypeStopLoss,
			Quantity: qty, StopPrice: &slPrice, StrategyID: &signal.StrategyID,
		})
		if err == nil {
			b.StopLossID = resp.OrderNumber
		}
	}
	if e.Config.AutoTakeProfit {
		var tpPrice decimal.Decimal
		if signal.Side == SideBuy {
			tpPrice = entry.Mul(one.Add(e.Config.TakeProfitPct))
		} else {
			tpPrice = entry.Mul(one.Sub(e.Config.TakeProfitPct))
		}
		resp, err := e.provider.PlaceOrder(ctx, OrderRequest{
			Ticker: signal.Ticker, Side: oppositeSide(signal.Side), Type: OrderTypeTakeProfit,
			Quantity: qty, Price: &tpPrice, StrategyID: &signal.StrategyID,
		})
		if err == nil {
			b.TakeProfitID = resp.OrderNumber
		}
	}
	e.brackets.Register(b)
}

func oppositeSide(s Side) Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

func (e *LiveExecutor) processAdd(ctx context.Context, signal Signal, key string, price decimal.Decimal, timestamp time.Time) (*TradeResult, error) {
	pos := e.Positions[key]
	estPrice := applySlippage(price, signal.Side, e.Config.SlippageRate)
	addQty := positionSize(e.Balance, e.Config.MaxPositionSizePct, signal.Strength, estPrice)
	if addQty.IsZero() || addQty.IsNegative() {
		return nil, nil
	}
	principal := estPrice.Mul(addQty)
	commission := principal.Mul(e.Config.CommissionRate)
	if err := validateFunds(principal, e.Config.CommissionRate, e.Balance); err != nil {
		return nil, err
	}

	resp, err := e.provider.PlaceOrder(ctx, OrderRequest{
		Ticker: signal.Ticker, Side: signal.Side, Type: OrderTypeMarket,
		Quantity: addQty, StrategyID: &signal.StrategyID,
	})
	if err != nil {
		return nil, &Error{Kind: ErrExchange, Msg: "broker rejected add order", Err: err}
	}
	e.log.Debug().Str("order_number", resp.OrderNumber).Msg("add order placed")

	e.Balance = e.Balance.Sub(principal).Sub(commission)
	pos.EntryPrice = averagePriceOnAdd(pos.EntryPrice, pos.Quantity, estPrice, addQty)
	pos.Quantity = pos.Quantity.Add(addQty)
	pos.Fees = pos.Fees.Add(commission)

	slip := estPrice.Sub(price).Abs()
	e.TotalCommission = e.TotalCommission.Add(commission)
	e.TotalSlippage = e.TotalSlippage.Add(slip)
	e.TotalOrders++

	trade := TradeResult{
		Symbol: signal.Ticker, Side: signal.Side, SignalType: SignalAddToPosition,
		Quantity: addQty, Price: estPrice, Commission: commission, Slippage: slip,
		Timestamp: timestamp, Metadata: signal.Metadata,
	}
	e.Trades = append(e.Trades, trade)
	return &trade, nil
}

func (e *LiveExecutor) processExit(ctx context.Context, signal Signal, key string, price decimal.Decimal, timestamp time.Time, isFull bool) (*TradeResult, error) {
	pos := e.Positions[key]

	signalType := SignalReducePosition
	if isFull {
		signalType = SignalExit
	}
	requested, _ := signal.MetadataQuantity()
	var requestedPtr *decimal.Decimal
	if !isFull {
		requestedPtr = &requested
	}
	qty := closeQuantity(signalType, pos.Quantity, requestedPtr)
	if qty.IsZero() {
		return nil, nil
	}

	exitSide := oppositeSide(pos.Side)
	estPrice := applySlippage(price, exitSide, e.Config.SlippageRate)

	resp, err := e.provider.PlaceOrder(ctx, OrderRequest{
		Ticker: signal.Ticker, Side: exitSide, Type: OrderTypeMarket,
		Quantity: qty, StrategyID: &signal.StrategyID,
	})
	if err != nil {
		return nil, &Error{Kind: ErrExchange, Msg: "broker rejected exit order", Err: err}
	}
	e.log.Debug().Str("order_number", resp.OrderNumber).Msg("exit order placed")

	proceeds := estPrice.Mul(qty)
	commission := proceeds.Mul(e.Config.CommissionRate)
	e.Balance = e.Balance.Add(proceeds).Sub(commission)
	pnl := realizedPnL(pos.Side, pos.EntryPrice, estPrice, qty, commission)

	remaining := pos.Quantity.Sub(qty)
	isPartial := remaining.IsPositive()
	if isPartial {
		pos.Quantity = remaining
		pos.Fees = pos.Fees.Add(commission)
	} else {
		delete(e.Positions, key)
		e.brackets.Remove(key)
	}

	slip := estPrice.Sub(price).Abs()
	e.TotalCommission = e.TotalCommission.Add(commission)
	e.TotalSlippage = e.TotalSlippage.Add(slip)
	e.TotalOrders++

	trade := TradeResult{
		Symbol: signal.Ticker, Side: exitSide, SignalType: signalType,
		Quantity: qty, Price: estPrice, Commission: commission, Slippage: slip,
		Timestamp: timestamp, RealizedPnL: &pnl, IsPartial: isPartial, Metadata: signal.Metadata,
	}
	e.Trades = append(e.Trades, trade)
	return &trade, nil
}

// TotalEquity mirrors SimulatedExecutor.TotalEquity.
func (e *LiveExecutor) TotalEquity(prices map[string]decimal.Decimal) decimal.Decimal {
	equity := e.Balance
	for _, pos := range e.Positions {
		price, ok := prices[pos.Symbol]
		if !ok {
			price = pos.EntryPrice
		}
		equity = equity.Add(pos.Value(price))
	}
	return equity
}

// CloseAllPositions mirrors SimulatedExecutor.CloseAllPositions, routing
// each close through the provider.
func (e *LiveExecutor) CloseAllPositions(prices map[string]decimal.Decimal, timestamp time.Time) []TradeResult {
	ctx := context.Background()
	var closed []TradeResult
	keys := make([]string, 0, len(e.Positions))
	for k := range e.Positions {
		keys = append(keys, k)
	}
	for _, key := range keys {
		pos := e.Positions[key]
		price, ok := prices[pos.Symbol]
		if !ok {
			price = pos.EntryPrice
		}
		exitSide := oppositeSide(pos.Side)
		estPrice := applySlippage(price, exitSide, e.Config.SlippageRate)

		resp, err := e.provider.PlaceOrder(ctx, OrderRequest{
			Ticker: pos.Symbol, Side: exitSide, Type: OrderTypeMarket, Quantity: pos.Quantity,
		})
		if err != nil {
			e.log.Error().Err(err).Str("key", key).Msg("force close order rejected")
			continue
		}
		e.log.Debug().Str("order_number", resp.OrderNumber).Msg("force close order placed")

		proceeds := estPrice.Mul(pos.Quantity)
		commission := proceeds.Mul(e.Config.CommissionRate)
		e.Balance = e.Balance.Add(proceeds).Sub(commission)
		pnl := realizedPnL(pos.Side, pos.EntryPrice, estPrice, pos.Quantity, commission)

		trade := TradeResult{
			Symbol: pos.Symbol, Side: exitSide, SignalType: SignalExit,
			Quantity: pos.Quantity, Price: estPrice, Commission: commission,
			Timestamp: timestamp, RealizedPnL: &pnl,
			Metadata: map[string]interface{}{"reason": "force_close"},
		}
		e.TotalCommission = e.TotalCommission.Add(commission)
		e.TotalOrders++
		e.Trades = append(e.Trades, trade)
		closed = append(closed, trade)
		delete(e.Positions, key)
		e.brackets.Remove(key)
	}
	return closed
}

package orderengine

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/ajitpratap0/cryptofunk/internal/config"
	"github.com/ajitpratap0/cryptofunk/internal/processor"
)

// stopBuffer is the reservation safety margin held over a stop order's
// trigger price (SPEC_FULL.md §4.7).
var stopBuffer = decimal.NewFromFloat(0.05)

// Engine is the per-credential order-matching engine. It owns the pending
// order queues for every symbol traded under that credential and holds a
// single exclusive lock across submit and tick handling, per the
// concurrency model in SPEC_FULL.md §5.
type Engine struct {
	mu sync.Mutex

	feeRate      decimal.Decimal
	slippageRate decimal.Decimal

	pendingOrders    map[string][]*PendingOrder // symbol -> orders
	orderStrategyMap map[string]string          // orderID -> strategyID
	orderIndex       map[string]*PendingOrder    // orderID -> order (reverse index)

	nextSeq int

	log zerolog.Logger
}

// NewEngine constructs an empty engine with the given fee and slippage
// rates (SPEC_FULL.md §6 ProcessorConfig analogues for the paper venue).
func NewEngine(feeRate, slippageRate decimal.Decimal) *Engine {
	return &Engine{
		feeRate:          feeRate,
		slippageRate:     slippageRate,
		pendingOrders:    make(map[string][]*PendingOrder),
		orderStrategyMap: make(map[string]string),
		orderIndex:       make(map[string]*PendingOrder),
		log:              config.NewLogger("orderengine"),
	}
}

// nextOrderID allocates the next MOCK-NNNNNNNN id. Caller must hold mu.
func (e *Engine) nextOrderID() string {
	e.nextSeq++
	return fmt.Sprintf("MOCK-%08d", e.nextSeq)
}

// vwapWalk walks order-book levels in the order given, consuming up to
// target quantity, and returns the filled quantity and VWAP of the filled
// portion. fullyFilled is false when book depth ran out first.
func vwapWalk(levels []OrderBookLevel, target decimal.Decimal) (filled, vwap decimal.Decimal, fullyFilled bool) {
	remaining := target
	notional := decimal.Zero
	for _, lvl := range levels {
		if remaining.LessThanOrEqual(decimal.Zero) {
			break
		}
		take := lvl.Quantity
		if take.GreaterThan(remaining) {
			take = remaining
		}
		notional = notional.Add(lvl.Price.Mul(take))
		filled = filled.Add(take)
		remaining = remaining.Sub(take)
	}
	fullyFilled = remaining.LessThanOrEqual(decimal.Zero)
	if filled.IsZero() {
		return decimal.Zero, decimal.Zero, fullyFilled
	}
	vwap = notional.Div(filled)
	return filled, vwap, fullyFilled
}

// SubmitMarketOrder walks the opposite side of the book (asks for a buy,
// bids for a sell), fills at VWAP with slippage applied in the signal
// direction, and never queues — partial fills are returned as-is for the
// caller to decide whether to requeue.
func (e *Engine) SubmitMarketOrder(book OrderBook, side Side, qty decimal.Decimal, strategyID string) (*MockOrderFill, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	levels := book.Asks
	if side == SideSell {
		levels = book.Bids
	}
	filled, vwap, fullyFilled := vwapWalk(levels, qty)
	if filled.IsZero() {
		return nil, fmt.Errorf("orderengine: no book depth available for %s", book.Symbol)
	}

	execPrice := processor.ApplySlippage(vwap, side, e.slippageRate)
	commission := execPrice.Mul(filled).Mul(e.feeRate)
	orderID := e.nextOrderID()
	e.orderStrategyMap[orderID] = strategyID

	fill := &MockOrderFill{
		OrderID: orderID, Symbol: book.Symbol, Side: side,
		Price: execPrice, Quantity: filled, Commission: commission,
		IsFullyFilled: fullyFilled, Timestamp: book.Timestamp,
	}
	e.log.Debug().Str("order_id", orderID).Str("vwap", vwap.String()).
		Bool("fully_filled", fullyFilled).Msg("market order filled")
	return fill, nil
}

// SubmitLimitOrder fills immediately when the book already crosses the
// limit (no slippage — the limit protects the worst case); otherwise it
// reserves funds and enqueues.
func (e *Engine) SubmitLimitOrder(ticker Ticker, side Side, qty, limitPrice decimal.Decimal, strategyID string) (*PendingOrder, *MockOrderFill, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	immediate := (side == SideBuy && ticker.Ask.LessThanOrEqual(limitPrice)) ||
		(side == SideSell && ticker.Bid.GreaterThanOrEqual(limitPrice))

	orderID := e.nextOrderID()
	e.orderStrategyMap[orderID] = strategyID

	if immediate {
		commission := limitPrice.Mul(qty).Mul(e.feeRate)
		fill := &MockOrderFill{
			OrderID: orderID, Symbol: ticker.Symbol, Side: side,
			Price: limitPrice, Quantity: qty, Commission: commission,
			IsFullyFilled: true, Timestamp: ticker.Timestamp,
		}
		return nil, fill, nil
	}

	reserved := decimal.Zero
	if side == SideBuy {
		reserved = limitPrice.Mul(qty).Mul(decimal.NewFromInt(1).Add(e.feeRate))
	}
	order := &PendingOrder{
		OrderID: orderID, Symbol: ticker.Symbol, Side: side, OrderType: OrderTypeLimit,
		OriginalQuantity: qty, RemainingQuantity: qty, Price: &limitPrice,
		StrategyID: strategyID, ReservedAmount: reserved, CreatedAt: ticker.Timestamp,
	}
	e.enqueue(order)
	return order, nil, nil
}

// SubmitStopOrder always enqueues, untriggered, with a 5% reservation
// buffer over the stop price (buys). If limitPrice is non-nil the order is
// a stop-limit; otherwise it converts to a market order on trigger.
func (e *Engine) SubmitStopOrder(symbol string, side Side, qty, stopPrice decimal.Decimal, limitPrice *decimal.Decimal, strategyID string, now time.Time) *PendingOrder {
	e.mu.Lock()
	defer e.mu.Unlock()

	orderID := e.nextOrderID()
	e.orderStrategyMap[orderID] = strategyID

	reserved := decimal.Zero
	if side == SideBuy {
		reserved = stopPrice.Mul(decimal.NewFromInt(1).Add(stopBuffer)).Mul(qty)
	}
	order := &PendingOrder{
		OrderID: orderID, Symbol: symbol, Side: side, OrderType: OrderTypeStop,
		OriginalQuantity: qty, RemainingQuantity: qty, Price: limitPrice, StopPrice: &stopPrice,
		StrategyID: strategyID, ReservedAmount: reserved, CreatedAt: now, StopTriggered: false,
	}
	e.enqueue(order)
	return order
}

// enqueue appends an order to its symbol's queue and indexes it. Caller
// must hold mu.
func (e *Engine) enqueue(order *PendingOrder) {
	e.pendingOrders[order.Symbol] = append(e.pendingOrders[order.Symbol], order)
	e.orderIndex[order.OrderID] = order
}

// OnPriceTick is called by the streaming source for each new Ticker+
// OrderBook pair for a symbol. It evaluates every pending order for that
// symbol in queue order and returns the fills produced.
func (e *Engine) OnPriceTick(ticker Ticker, book OrderBook) []MockOrderFill {
	e.mu.Lock()
	defer e.mu.Unlock()

	orders := e.pendingOrders[ticker.Symbol]
	if len(orders) == 0 {
		return nil
	}

	var fills []MockOrderFill
	remaining := orders[:0:0]
	for _, order := range orders {
		fill, consumed := e.evaluateOrder(order, ticker, book)
		if fill != nil {
			fills = append(fills, *fill)
		}
		if !consumed {
			remaining = append(remaining, order)
		} else {
			delete(e.orderIndex, order.OrderID)
		}
	}
	e.pendingOrders[ticker.Symbol] = remaining
	return fills
}

// evaluateOrder applies the stop-trigger check, limit-fill condition, and
// VWAP match for a single order against the current tick. consumed is true
// when the order should be removed from the queue (fully filled).
func (e *Engine) evaluateOrder(order *PendingOrder, ticker Ticker, book OrderBook) (*MockOrderFill, bool) {
	if order.OrderType == OrderTypeStop && !order.StopTriggered {
		triggered := (order.Side == SideBuy && ticker.Last.GreaterThanOrEqual(*order.StopPrice)) ||
			(order.Side == SideSell && ticker.Last.LessThanOrEqual(*order.StopPrice))
		if !triggered {
			return nil, false
		}
		order.StopTriggered = true
		e.log.Debug().Str("order_id", order.OrderID).Msg("stop order triggered")
	}

	isLimitLike := order.OrderType == OrderTypeLimit || (order.OrderType == OrderTypeStop && order.Price != nil)
	if isLimitLike {
		limit := *order.Price
		fillable := (order.Side == SideBuy && book.Asks != nil && ticker.Ask.LessThanOrEqual(limit)) ||
			(order.Side == SideSell && book.Bids != nil && ticker.Bid.GreaterThanOrEqual(limit))
		if !fillable {
			return nil, false
		}
	}

	levels := book.Asks
	if order.Side == SideSell {
		levels = book.Bids
	}
	filled, vwap, fullyFilled := vwapWalk(levels, order.RemainingQuantity)
	if filled.IsZero() {
		return nil, false
	}

	var execPrice decimal.Decimal
	switch order.OrderType {
	case OrderTypeLimit:
		limit := *order.Price
		if order.Side == SideBuy {
			execPrice = decimal.Min(vwap, limit)
		} else {
			execPrice = decimal.Max(vwap, limit)
		}
	case OrderTypeStop:
		if order.Price != nil {
			limit := *order.Price
			if order.Side == SideBuy {
				execPrice = decimal.Min(vwap, limit)
			} else {
				execPrice = decimal.Max(vwap, limit)
			}
		} else {
			execPrice = processor.ApplySlippage(vwap, order.Side, e.slippageRate)
		}
	default:
		execPrice = processor.ApplySlippage(vwap, order.Side, e.slippageRate)
	}

	commission := execPrice.Mul(filled).Mul(e.feeRate)
	releaseFrac := filled.Div(order.OriginalQuantity)
	released := order.ReservedAmount.Mul(releaseFrac)
	if fullyFilled && filled.Equal(order.RemainingQuantity) {
		released = order.ReservedAmount
	}

	order.RemainingQuantity = order.RemainingQuantity.Sub(filled)
	order.ReservedAmount = order.ReservedAmount.Sub(released)

	fill := &MockOrderFill{
		OrderID: order.OrderID, Symbol: order.Symbol, Side: order.Side,
		Price: execPrice, Quantity: filled, Commission: commission,
		IsFullyFilled: order.RemainingQuantity.LessThanOrEqual(decimal.Zero),
		ReleasedReservation: released, Timestamp: ticker.Timestamp,
	}
	consumed := order.RemainingQuantity.LessThanOrEqual(decimal.Zero)
	return fill, consumed
}

// StrategyForOrder returns the strategy that owns orderID, for callers (the
// mock exchange provider) that need to route a fill produced by OnPriceTick
// back to the strategy ledger that submitted it.
func (e *Engine) StrategyForOrder(orderID string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	strategyID, ok := e.orderStrategyMap[orderID]
	return strategyID, ok
}

// CancelOrder removes a pending order and returns its reserved amount for
// refund.
func (e *Engine) CancelOrder(orderID string) (decimal.Decimal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	order, ok := e.orderIndex[orderID]
	if !ok {
		return decimal.Zero, fmt.Errorf("orderengine: order %s not found", orderID)
	}
	e.removeFromQueue(order)
	delete(e.orderIndex, orderID)
	return order.ReservedAmount, nil
}

func (e *Engine) removeFromQueue(target *PendingOrder) {
	orders := e.pendingOrders[target.Symbol]
	filtered := orders[:0:0]
	for _, o := range orders {
		if o.OrderID != target.OrderID {
			filtered = append(filtered, o)
		}
	}
	e.pendingOrders[target.Symbol] = filtered
}

// ModifyOrder adjusts quantity and/or price, recomputing the reservation,
// and returns the delta (positive = need more reservation, negative =
// refund).
func (e *Engine) ModifyOrder(orderID string, newQty, newPrice *decimal.Decimal) (decimal.Decimal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	order, ok := e.orderIndex[orderID]
	if !ok {
		return decimal.Zero, fmt.Errorf("orderengine: order %s not found", orderID)
	}

	oldReserved := order.ReservedAmount
	if newQty != nil {
		order.OriginalQuantity = *newQty
		order.RemainingQuantity = *newQty
	}
	if newPrice != nil {
		order.Price = newPrice
	}

	newReserved := decimal.Zero
	if order.Side == SideBuy && order.Price != nil {
		newReserved = order.Price.Mul(order.RemainingQuantity).Mul(decimal.NewFromInt(1).Add(e.feeRate))
	} else if order.Side == SideBuy && order.OrderType == OrderTypeStop && order.StopPrice != nil {
		newReserved = order.StopPrice.Mul(decimal.NewFromInt(1).Add(stopBuffer)).Mul(order.RemainingQuantity)
	}
	order.ReservedAmount = newReserved

	return newReserved.Sub(oldReserved), nil
}

// Package orderengine implements the paper-trading order-matching engine:
// market-order VWAP walks against order-book depth, limit orders that fill
// immediately or queue with fund reservation, and stop orders that trigger
// into market or limit orders on a price cross. The engine does no I/O of
// its own; persistence is the caller's responsibility through the
// restore/snapshot contract in persistence.go.
//
// Grounded on the order-book-driven matching design described by
// trader-exchange/provider/mock_order_engine.rs in the platform this module
// descends from (OrderBook/OrderBookLevel/Ticker naming), re-expressed with
// Go value types and github.com/shopspring/decimal instead of borrowed
// references.
package orderengine

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/ajitpratap0/cryptofunk/internal/processor"
)

// Side re-exports processor.Side so callers don't import both packages for
// one concept.
type Side = processor.Side

const (
	SideBuy  = processor.SideBuy
	SideSell = processor.SideSell
)

// OrderType enumerates the order types the mock engine matches.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
	OrderTypeStop   OrderType = "stop"
)

// OrderBookLevel is one price level of depth.
type OrderBookLevel struct {
	Price    decimal.Decimal
	Quantity decimal.Decimal
}

// OrderBook is a symbol's current depth snapshot. Asks are ascending by
// price, bids descending — the order market fills walk levels in.
type OrderBook struct {
	Symbol    string
	Bids      []OrderBookLevel
	Asks      []OrderBookLevel
	Timestamp time.Time
}

// Ticker is the latest trade price for a symbol, delivered alongside an
// OrderBook on every streaming tick.
type Ticker struct {
	Symbol    string
	Last      decimal.Decimal
	Bid       decimal.Decimal
	Ask       decimal.Decimal
	Timestamp time.Time
}

// PendingOrder is a queued limit or stop order awaiting a fill. See
// SPEC_FULL.md §3 for the reservation invariant.
type PendingOrder struct {
	OrderID           string
	Symbol            string
	Side              Side
	OrderType         OrderType
	OriginalQuantity  decimal.Decimal
	RemainingQuantity decimal.Decimal
	Price             *decimal.Decimal // limit price, or stop-limit's limit leg
	StopPrice         *decimal.Decimal
	StrategyID        string
	ReservedAmount    decimal.Decimal
	CreatedAt         time.Time
	StopTriggered     bool
}

// MockOrderFill is one execution produced by the engine, either immediate
// (submit-time) or from a later OnPriceTick match.
type MockOrderFill struct {
	OrderID              string
	Symbol               string
	Side                 Side
	Price                decimal.Decimal
	Quantity             decimal.Decimal
	Commission           decimal.Decimal
	IsFullyFilled        bool
	ReleasedReservation  decimal.Decimal
	Timestamp            time.Time
}

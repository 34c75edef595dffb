package orderengine

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

// ==================== Scenario 3: limit queue then fill ====================

func TestLimitOrder_QueueThenFill(t *testing.T) {
	e := NewEngine(d(0.001), decimal.Zero)

	ticker := Ticker{Symbol: "BTC/USD", Ask: d(100), Bid: d(99.9), Timestamp: time.Now()}
	order, fill, err := e.SubmitLimitOrder(ticker, SideBuy, d(10), d(95), "strat-1")
	require.NoError(t, err)
	assert.Nil(t, fill)
	require.NotNil(t, order)

	wantReserved := d(95).Mul(d(10)).Mul(decimal.NewFromInt(1).Add(d(0.001)))
	assert.True(t, order.ReservedAmount.Equal(wantReserved), "got %s want %s", order.ReservedAmount, wantReserved)

	tick2 := Ticker{Symbol: "BTC/USD", Ask: d(94), Bid: d(93.9), Timestamp: time.Now()}
	book := OrderBook{
		Symbol: "BTC/USD",
		Asks:   []OrderBookLevel{{Price: d(94), Quantity: d(5)}, {Price: d(95), Quantity: d(10)}},
	}
	fills := e.OnPriceTick(tick2, book)
	require.Len(t, fills, 1)

	wantVWAP := d(94).Mul(d(5)).Add(d(95).Mul(d(5))).Div(d(10))
	assert.True(t, fills[0].Price.Equal(wantVWAP), "got %s want %s", fills[0].Price, wantVWAP)
	assert.True(t, fills[0].IsFullyFilled)
	assert.True(t, fills[0].ReleasedReservation.Equal(wantReserved), "released=%s want=%s", fills[0].ReleasedReservation, wantReserved)
	assert.True(t, order.ReservedAmount.IsZero(), "reservation should be fully released after full fill")
}

// ==================== Scenario 4: stop trigger ====================

func TestStopOrder_TriggerThenMarketFill(t *testing.T) {
	e := NewEngine(d(0.0005), d(0.001))

	order := e.SubmitStopOrder("BTC/USD", SideBuy, d(5), d(100), nil, "strat-1", time.Now())
	assert.False(t, order.StopTriggered)

	tickBelow := Ticker{Symbol: "BTC/USD", Last: d(99), Timestamp: time.Now()}
	fills := e.OnPriceTick(tickBelow, OrderBook{Symbol: "BTC/USD"})
	assert.Empty(t, fills)
	assert.False(t, order.StopTriggered)

	tickAt := Ticker{Symbol: "BTC/USD", Last: d(100), Ask: d(100), Timestamp: time.Now()}
	fills = e.OnPriceTick(tickAt, OrderBook{Symbol: "BTC/USD"})
	assert.True(t, order.StopTriggered)
	assert.Empty(t, fills, "no book depth yet, should not fill")

	tickAbove := Ticker{Symbol: "BTC/USD", Last: d(101), Ask: d(101), Timestamp: time.Now()}
	book := OrderBook{Symbol: "BTC/USD", Asks: []OrderBookLevel{{Price: d(101), Quantity: d(5)}}}
	fills = e.OnPriceTick(tickAbove, book)
	require.Len(t, fills, 1)
	assert.True(t, fills[0].IsFullyFilled)
	wantPrice := d(101).Mul(decimal.NewFromInt(1).Add(d(0.001)))
	assert.True(t, fills[0].Price.Equal(wantPrice), "got %s want %s", fills[0].Price, wantPrice)
}

// ==================== Boundary: partial fill when book depth insufficient ====================

func TestMarketOrder_PartialFillWhenDepthInsufficient(t *testing.T) {
	e := NewEngine(d(0.001), decimal.Zero)
	book := OrderBook{
		Symbol: "ETH/USD",
		Asks:   []OrderBookLevel{{Price: d(10), Quantity: d(2)}},
		Timestamp: time.Now(),
	}
	fill, err := e.SubmitMarketOrder(book, SideBuy, d(5), "strat-1")
	require.NoError(t, err)
	assert.False(t, fill.IsFullyFilled)
	assert.True(t, fill.Quantity.Equal(d(2)))
	wantCommission := d(10).Mul(d(2)).Mul(d(0.001))
	assert.True(t, fill.Commission.Equal(wantCommission))
}

// ==================== Boundary: limit buy at current ask fills at limit ====================

func TestLimitOrder_BuyAtCurrentAskFillsAtLimit(t *testing.T) {
	e := NewEngine(d(0.001), d(0.01))
	ticker := Ticker{Symbol: "BTC/USD", Ask: d(100), Timestamp: time.Now()}
	_, fill, err := e.SubmitLimitOrder(ticker, SideBuy, d(1), d(100), "strat-1")
	require.NoError(t, err)
	require.NotNil(t, fill)
	assert.True(t, fill.Price.Equal(d(100)), "limit fill must not apply slippage: got %s", fill.Price)
}

// ==================== Boundary: cancel releases exact reservation ====================

func TestCancelOrder_ReleasesExactReservation(t *testing.T) {
	e := NewEngine(d(0.001), decimal.Zero)
	ticker := Ticker{Symbol: "BTC/USD", Ask: d(100), Timestamp: time.Now()}
	order, fill, err := e.SubmitLimitOrder(ticker, SideBuy, d(10), d(95), "strat-1")
	require.NoError(t, err)
	assert.Nil(t, fill)

	released, err := e.CancelOrder(order.OrderID)
	require.NoError(t, err)
	assert.True(t, released.Equal(order.ReservedAmount))

	_, err = e.CancelOrder(order.OrderID)
	assert.Error(t, err)
}

// ==================== Scenario 5: restart recovery ====================

func TestRestorePendingOrder_ResumesCounterAndMatchesIdentically(t *testing.T) {
	price := d(95)
	original := PendingOrder{
		OrderID: "MOCK-00000007", Symbol: "BTC/USD", Side: SideBuy, OrderType: OrderTypeLimit,
		OriginalQuantity: d(10), RemainingQuantity: d(10), Price: &price,
		StrategyID: "strat-1", ReservedAmount: d(950), CreatedAt: time.Now(),
	}

	fresh := NewEngine(d(0.001), decimal.Zero)
	fresh.RestorePendingOrder(original)

	tick := Ticker{Symbol: "BTC/USD", Ask: d(94), Timestamp: time.Now()}
	book := OrderBook{Symbol: "BTC/USD", Asks: []OrderBookLevel{{Price: d(94), Quantity: d(10)}}}
	fills := fresh.OnPriceTick(tick, book)
	require.Len(t, fills, 1)
	assert.True(t, fills[0].Price.Equal(d(94)))

	nextID := fresh.nextOrderID()
	assert.Equal(t, "MOCK-00000008", nextID)
}

func TestModifyOrder_ReturnsReservationDelta(t *testing.T) {
	e := NewEngine(d(0.001), decimal.Zero)
	ticker := Ticker{Symbol: "BTC/USD", Ask: d(100), Timestamp: time.Now()}
	order, _, err := e.SubmitLimitOrder(ticker, SideBuy, d(10), d(95), "strat-1")
	require.NoError(t, err)

	newQty := d(20)
	delta, err := e.ModifyOrder(order.OrderID, &newQty, nil)
	require.NoError(t, err)
	assert.True(t, delta.IsPositive(), "doubling quantity should need more reservation")
}

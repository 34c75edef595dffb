package processor

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() ProcessorConfig {
	cfg := DefaultProcessorConfig()
	cfg.CommissionRate = decimal.NewFromFloat(0.001)
	cfg.SlippageRate = decimal.Zero
	cfg.MaxPositionSizePct = decimal.NewFromFloat(1.0)
	cfg.AllowShort = false
	return cfg
}

// ==================== Scenario 1: Entry then Exit profit ====================

func TestSimulatedExecutor_EntryThenExitProfit(t *testing.T) {
	cfg := testConfig()
	exec := NewSimulatedExecutor(decimal.NewFromInt(1000), cfg)

	entry := Signal{
		Ticker: "BTC/USD", Side: SideBuy, Type: SignalEntry, Strength: 1.0,
	}
	_, err := exec.ProcessSignal(entry, decimal.NewFromInt(100), time.Now())
	require.Error(t, err)
	assert.True(t, IsKind(err, ErrInsufficientFunds))
	assert.Empty(t, exec.Positions)

	entry.Strength = 0.9
	trade, err := exec.ProcessSignal(entry, decimal.NewFromInt(100), time.Now())
	require.NoError(t, err)
	require.NotNil(t, trade)
	pos := exec.Positions["BTC/USD_default"]
	require.NotNil(t, pos)
	assert.True(t, pos.Quantity.Equal(decimal.NewFromInt(9)), "qty = %s", pos.Quantity)

	exit := Signal{Ticker: "BTC/USD", Side: SideSell, Type: SignalExit, Strength: 1.0}
	exitTrade, err := exec.ProcessSignal(exit, decimal.NewFromInt(110), time.Now())
	require.NoError(t, err)
	require.NotNil(t, exitTrade)
	require.NotNil(t, exitTrade.RealizedPnL)

	expected := decimal.NewFromInt(110).Sub(decimal.NewFromInt(100)).Mul(decimal.NewFromInt(9)).
		Sub(decimal.NewFromInt(110).Mul(decimal.NewFromInt(9)).Mul(decimal.NewFromFloat(0.001)))
	assert.True(t, exitTrade.RealizedPnL.Equal(expected), "got %s want %s", exitTrade.RealizedPnL, expected)
	assert.Empty(t, exec.Positions)
}

// ==================== Scenario 2: Grid independent positions ====================

func TestSimulatedExecutor_GridIndependentPositions(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPositionSizePct = decimal.NewFromFloat(0.4)
	exec := NewSimulatedExecutor(decimal.NewFromInt(1000), cfg)

	l1 := "A_L1"
	l2 := "A_L2"
	e1 := Signal{Ticker: "ETH/USD", Side: SideBuy, Type: SignalEntry, Strength: 1.0, PositionID: &l1}
	e2 := Signal{Ticker: "ETH/USD", Side: SideBuy, Type: SignalEntry, Strength: 1.0, PositionID: &l2}

	_, err := exec.ProcessSignal(e1, decimal.NewFromInt(100), time.Now())
	require.NoError(t, err)
	_, err = exec.ProcessSignal(e2, decimal.NewFromInt(100), time.Now())
	require.NoError(t, err)

	assert.Len(t, exec.Positions, 2)

	exit := Signal{Ticker: "ETH/USD", Side: SideSell, Type: SignalExit, Strength: 1.0, PositionID: &l1}
	_, err = exec.ProcessSignal(exit, decimal.NewFromInt(105), time.Now())
	require.NoError(t, err)

	assert.Len(t, exec.Positions, 1)
	_, stillOpen := exec.Positions["A_L2"]
	assert.True(t, stillOpen)
}

func TestSignal_PositionKey(t *testing.T) {
	s := Signal{Ticker: "BTC/USD"}
	assert.Equal(t, "BTC/USD_default", s.PositionKey())

	group := "grid1"
	s.GroupID = &group
	assert.Equal(t, "BTC/USD_grid1", s.PositionKey())

	id := "explicit-id"
	s.PositionID = &id
	assert.Equal(t, "explicit-id", s.PositionKey())
}

func TestSimulatedExecutor_MaxPositionsExceeded(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPositionSizePct = decimal.NewFromFloat(0.01)
	cfg.MaxPositions = 1
	exec := NewSimulatedExecutor(decimal.NewFromInt(100000), cfg)

	first := Signal{Ticker: "BTC/USD", Side: SideBuy, Type: SignalEntry, Strength: 1.0}
	_, err := exec.ProcessSignal(first, decimal.NewFromInt(100), time.Now())
	require.NoError(t, err)

	second := Signal{Ticker: "ETH/USD", Side: SideBuy, Type: SignalEntry, Strength: 1.0}
	_, err = exec.ProcessSignal(second, decimal.NewFromInt(100), time.Now())
	require.Error(t, err)
	assert.True(t, IsKind(err, ErrMaxPositionsExceeded))
}

func TestSimulatedExecutor_ShortNotAllowed(t *testing.T) {
	cfg := testConfig()
	exec := NewSimulatedExecutor(decimal.NewFromInt(1000), cfg)

	signal := Signal{Ticker: "BTC/USD", Side: SideSell, Type: SignalEntry, Strength: 1.0}
	_, err := exec.ProcessSignal(signal, decimal.NewFromInt(100), time.Now())
	require.Error(t, err)
	assert.True(t, IsKind(err, ErrShortNotAllowed))
}

func TestSimulatedExecutor_AlertNeverTransitionsState(t *testing.T) {
	cfg := testConfig()
	exec := NewSimulatedExecutor(decimal.NewFromInt(1000), cfg)
	signal := Signal{Ticker: "BTC/USD", Side: SideBuy, Type: SignalAlert, Strength: 1.0}
	trade, err := exec.ProcessSignal(signal, decimal.NewFromInt(100), time.Now())
	require.NoError(t, err)
	assert.Nil(t, trade)
	assert.Empty(t, exec.Positions)
}

func TestSimulatedExecutor_ReducePositionClampsOversizedQuantity(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPositionSizePct = decimal.NewFromFloat(0.5)
	exec := NewSimulatedExecutor(decimal.NewFromInt(1000), cfg)

	entry := Signal{Ticker: "BTC/USD", Side: SideBuy, Type: SignalEntry, Strength: 1.0}
	_, err := exec.ProcessSignal(entry, decimal.NewFromInt(100), time.Now())
	require.NoError(t, err)

	reduce := Signal{
		Ticker: "BTC/USD", Side: SideSell, Type: SignalReducePosition, Strength: 1.0,
		Metadata: map[string]interface{}{"quantity": 9999.0},
	}
	trade, err := exec.ProcessSignal(reduce, decimal.NewFromInt(100), time.Now())
	require.NoError(t, err)
	require.NotNil(t, trade)
	assert.False(t, trade.IsPartial)
	assert.Empty(t, exec.Positions)
}

func TestSlippage_Directional(t *testing.T) {
	rate := decimal.NewFromFloat(0.01)
	price := decimal.NewFromInt(100)
	buy := applySlippage(price, SideBuy, rate)
	sell := applySlippage(price, SideSell, rate)

	mid := price
	assert.True(t, buy.Sub(mid).Equal(mid.Sub(sell)), "buy=%s sell=%s", buy, sell)
}

func TestAveragePriceOnAdd(t *testing.T) {
	got := averagePriceOnAdd(decimal.NewFromInt(100), decimal.NewFromInt(10), decimal.NewFromInt(200), decimal.NewFromInt(10))
	assert.True(t, got.Equal(decimal.NewFromInt(150)), "got %s", got)
}

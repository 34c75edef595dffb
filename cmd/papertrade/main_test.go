package main

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/ajitpratap0/cryptofunk/internal/config"
)

func TestSyntheticTick_SpreadStraddlesLast(t *testing.T) {
	ticker, book := syntheticTick("bitcoin", 50000.0)

	assert.True(t, ticker.Bid.LessThan(ticker.Last))
	assert.True(t, ticker.Ask.GreaterThan(ticker.Last))
	assert.True(t, ticker.Bid.Equal(book.Bids[0].Price))
	assert.True(t, ticker.Ask.Equal(book.Asks[0].Price))
	assert.True(t, book.Bids[0].Quantity.Equal(bookDepthQty))
	assert.True(t, book.Asks[0].Quantity.Equal(bookDepthQty))
	assert.Equal(t, "bitcoin", book.Symbol)
}

func TestSyntheticTick_SpreadScalesWithPrice(t *testing.T) {
	_, cheapBook := syntheticTick("x", 10.0)
	_, pricedBook := syntheticTick("x", 50000.0)

	cheapSpread := cheapBook.Asks[0].Price.Sub(cheapBook.Bids[0].Price)
	pricedSpread := pricedBook.Asks[0].Price.Sub(pricedBook.Bids[0].Price)

	assert.True(t, pricedSpread.GreaterThan(cheapSpread))
}

func TestProcessorConfigFor_OverridesFromRiskConfig(t *testing.T) {
	cfg := &config.Config{
		Risk: config.RiskConfig{
			MaxPositionSize:   0.25,
			DefaultStopLoss:   0.03,
			DefaultTakeProfit: 0.08,
		},
	}

	procConfig := processorConfigFor(cfg)

	assert.True(t, procConfig.MaxPositionSizePct.Equal(decimal.NewFromFloat(0.25)))
	assert.True(t, procConfig.AutoStopLoss)
	assert.True(t, procConfig.AutoTakeProfit)
	assert.True(t, procConfig.StopLossPct.Equal(decimal.NewFromFloat(0.03)))
	assert.True(t, procConfig.TakeProfitPct.Equal(decimal.NewFromFloat(0.08)))
}

func TestProcessorConfigFor_KeepsDefaultsWhenUnset(t *testing.T) {
	cfg := &config.Config{}

	procConfig := processorConfigFor(cfg)

	assert.False(t, procConfig.AutoStopLoss)
	assert.False(t, procConfig.AutoTakeProfit)
}

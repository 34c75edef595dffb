package backtest

import (
	"fmt"

	"github.com/ajitpratap0/cryptofunk/internal/indicators"
)

// indicatorService is shared across every Engine; internal/indicators.Service
// holds no per-call state (SPEC_FULL.md §4.4).
var indicatorService = indicators.NewService()

// StrategyContext is the read-only working set handed to a strategy so it
// can compute signals without reaching back into Engine internals: recent
// candles for one ticker, the indicator values derived from them, and the
// account snapshot a strategy needs to size its next signal (SPEC_FULL.md
// §4.4, §9 GLOSSARY). Populated by internal/indicators (RSI/EMA/MACD/
// Bollinger/ADX), kept from the teacher and adapted to feed this context
// instead of posting values straight to an agent tool call.
type StrategyContext struct {
	Symbol  string
	Candles []*Candlestick // oldest first, up to and including Current
	Current *Candlestick

	RSI             float64
	EMAFast         float64
	EMASlow         float64
	MACD            float64
	MACDSignal      float64
	MACDHistogram   float64
	BollingerUpper  float64
	BollingerMiddle float64
	BollingerLower  float64
	ADX             float64

	Cash          float64
	OpenPositions map[string]*Position
}

func closesOf(candles []*Candlestick) []interface{} {
	out := make([]interface{}, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

// StrategyContext builds the indicator working set for symbol at the
// engine's current candle index. Indicators that need more history than is
// available yet are left at their zero value rather than erroring — a
// strategy is expected to check history length before trusting an
// indicator, the same "not enough data yet" convention the teacher's
// strategy.go config validation uses for its own warmup period.
func (e *Engine) StrategyContext(symbol string) (*StrategyContext, error) {
	idx, ok := e.CurrentIndex[symbol]
	if !ok {
		return nil, fmt.Errorf("no data loaded for symbol %s", symbol)
	}
	candles, ok := e.Data[symbol]
	if !ok || idx >= len(candles) {
		return nil, fmt.Errorf("no candle at current index for symbol %s", symbol)
	}

	history := candles[:idx+1]
	ctx := &StrategyContext{
		Symbol:        symbol,
		Candles:       history,
		Current:       history[len(history)-1],
		Cash:          e.Cash,
		OpenPositions: e.Positions,
	}

	prices := closesOf(history)

	if len(history) >= 15 {
		if out, err := indicatorService.CalculateRSI(map[string]interface{}{"prices": prices}); err == nil {
			if r, ok := out.(*indicators.RSIResult); ok {
				ctx.RSI = r.Value
			}
		}
	}

	if len(history) >= 12 {
		if out, err := indicatorService.CalculateEMA(map[string]interface{}{"prices": prices, "period": 12}); err == nil {
			if r, ok := out.(*indicators.EMAResult); ok {
				ctx.EMAFast = r.Value
			}
		}
	}
	if len(history) >= 26 {
		if out, err := indicatorService.CalculateEMA(map[string]interface{}{"prices": prices, "period": 26}); err == nil {
			if r, ok := out.(*indicators.EMAResult); ok {
				ctx.EMASlow = r.Value
			}
		}
	}

	if len(history) >= 35 {
		if out, err := indicatorService.CalculateMACD(map[string]interface{}{"prices": prices}); err == nil {
			if r, ok := out.(*indicators.MACDResult); ok {
				ctx.MACD = r.MACD
				ctx.MACDSignal = r.Signal
				ctx.MACDHistogram = r.Histogram
			}
		}
	}

	if len(history) >= 20 {
		if out, err := indicatorService.CalculateBollingerBands(map[string]interface{}{"prices": prices}); err == nil {
			if r, ok := out.(*indicators.BollingerBandsResult); ok {
				ctx.BollingerUpper = r.Upper
				ctx.BollingerMiddle = r.Middle
				ctx.BollingerLower = r.Lower
			}
		}
	}

	if len(history) >= 28 {
		highs := make([]interface{}, len(history))
		lows := make([]interface{}, len(history))
		for i, c := range history {
			highs[i] = c.High
			lows[i] = c.Low
		}
		if out, err := indicatorService.CalculateADX(map[string]interface{}{
			"high": highs, "low": lows, "close": prices,
		}); err == nil {
			if r, ok := out.(*indicators.ADXResult); ok {
				ctx.ADX = r.Value
			}
		}
	}

	return ctx, nil
}

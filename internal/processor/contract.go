package processor

import (
	"time"

	"github.com/shopspring/decimal"
)

// SignalProcessor is the contract satisfied by the simulated and live
// executors. Implementations are concrete types, not virtual-dispatched per
// signal (SPEC_FULL.md §9) — callers that only ever drive one concrete
// executor should hold it directly; this interface exists for call sites
// that must run against either.
type SignalProcessor interface {
	ProcessSignal(signal Signal, currentPrice decimal.Decimal, timestamp time.Time) (*TradeResult, error)
	TotalEquity(prices map[string]decimal.Decimal) decimal.Decimal
	CloseAllPositions(prices map[string]decimal.Decimal, timestamp time.Time) []TradeResult
}

// requiredFunds returns the fund validation requirement: principal plus
// principal*fee_rate.
func requiredFunds(principal, feeRate decimal.Decimal) decimal.Decimal {
	return principal.Add(principal.Mul(feeRate))
}

// validateFunds rejects a principal+fee requirement that exceeds balance.
func validateFunds(principal, feeRate, balance decimal.Decimal) error {
	required := requiredFunds(principal, feeRate)
	if required.GreaterThan(balance) {
		return &Error{Kind: ErrInsufficientFunds, Msg: "required funds exceed balance"}
	}
	return nil
}

// positionSize computes allocation = balance * max_position_size_pct *
// strength, quantity = allocation / execution_price. Strength scales
// linearly and must never be renormalized.
func positionSize(balance, maxPositionSizePct decimal.Decimal, strength float64, executionPrice decimal.Decimal) decimal.Decimal {
	allocation := balance.Mul(maxPositionSizePct).Mul(decimal.NewFromFloat(strength))
	if executionPrice.IsZero() {
		return decimal.Zero
	}
	return allocation.Div(executionPrice)
}

// applySlippage returns the execution price after directional, asymmetric
// slippage: buy execution = price*(1+rate), sell execution = price*(1-rate).
func applySlippage(price decimal.Decimal, side Side, rate decimal.Decimal) decimal.Decimal {
	one := decimal.NewFromInt(1)
	if side == SideBuy {
		return price.Mul(one.Add(rate))
	}
	return price.Mul(one.Sub(rate))
}

// ApplySlippage is the exported form of applySlippage, reused verbatim by
// the mock order engine so market-fill slippage follows the identical rule
// the processor contract uses (SPEC_FULL.md §4.1, §4.7).
func ApplySlippage(price decimal.Decimal, side Side, rate decimal.Decimal) decimal.Decimal {
	return applySlippage(price, side, rate)
}

// realizedPnL computes long/short realized PnL net of commission.
func realizedPnL(side Side, entry, exit, qty, commission decimal.Decimal) decimal.Decimal {
	if side == SideBuy {
		return exit.Sub(entry).Mul(qty).Sub(commission)
	}
	return entry.Sub(exit).Mul(qty).Sub(commission)
}

// averagePriceOnAdd recomputes the volume-weighted entry price when adding
// to an existing position. entry_time is never touched here; the caller
// preserves it.
func averagePriceOnAdd(oldPrice, oldQty, fillPrice, addQty decimal.Decimal) decimal.Decimal {
	totalQty := oldQty.Add(addQty)
	if totalQty.IsZero() {
		return oldPrice
	}
	numerator := oldPrice.Mul(oldQty).Add(fillPrice.Mul(addQty))
	return numerator.Div(totalQty)
}

// RequiredFunds is the exported form of requiredFunds, reused by the mock
// exchange provider's own fund check before submitting an order into the
// paper order book (SPEC_FULL.md §4.6).
func RequiredFunds(principal, feeRate decimal.Decimal) decimal.Decimal {
	return requiredFunds(principal, feeRate)
}

// PositionSize is the exported form of positionSize, reused by the mock
// exchange provider so paper-trading allocation follows the same
// balance*pct*strength rule the processor contract uses (SPEC_FULL.md §4.6).
func PositionSize(balance, maxPositionSizePct decimal.Decimal, strength float64, executionPrice decimal.Decimal) decimal.Decimal {
	return positionSize(balance, maxPositionSizePct, strength, executionPrice)
}

// CloseQuantity is the exported form of closeQuantity, reused by the mock
// exchange provider to apply the identical ReducePosition clamp policy
// (SPEC_FULL.md §4.6, §9 open question).
func CloseQuantity(signalType SignalType, positionQty decimal.Decimal, requested *decimal.Decimal) decimal.Decimal {
	return closeQuantity(signalType, positionQty, requested)
}

// RealizedPnL is the exported form of realizedPnL, reused by the mock
// exchange provider so paper-trading fills are priced with the identical
// net-of-commission rule the processor contract uses (SPEC_FULL.md §4.6).
func RealizedPnL(side Side, entry, exit, qty, commission decimal.Decimal) decimal.Decimal {
	return realizedPnL(side, entry, exit, qty, commission)
}

// AveragePriceOnAdd is the exported form of averagePriceOnAdd, reused by the
// mock exchange provider when a fill adds to an existing per-strategy
// position (SPEC_FULL.md §4.6).
func AveragePriceOnAdd(oldPrice, oldQty, fillPrice, addQty decimal.Decimal) decimal.Decimal {
	return averagePriceOnAdd(oldPrice, oldQty, fillPrice, addQty)
}

// closeQuantity applies the close-quantity policy: ReducePosition consumes
// min(position.quantity, requested), Exit always closes the full position.
func closeQuantity(signalType SignalType, positionQty decimal.Decimal, requested *decimal.Decimal) decimal.Decimal {
	if signalType == SignalExit || requested == nil {
		return positionQty
	}
	if requested.GreaterThan(positionQty) {
		return positionQty
	}
	return *requested
}

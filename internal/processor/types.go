// Package processor implements the unified signal-execution contract shared
// by the simulated (backtest/paper) and live executors: the same fund
// validation, position sizing, slippage, and realized-PnL rules run
// identically regardless of which concrete executor processes a signal.
package processor

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Side is the directional intent of a signal or position.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// SignalType classifies the instruction a strategy is giving the executor.
type SignalType string

const (
	SignalEntry          SignalType = "entry"
	SignalExit           SignalType = "exit"
	SignalAddToPosition  SignalType = "add_to_position"
	SignalReducePosition SignalType = "reduce_position"
	SignalAlert          SignalType = "alert"
	SignalScale          SignalType = "scale"
)

// Signal is a strategy's instruction to an executor. A strategy never
// mutates positions directly; it only emits signals.
type Signal struct {
	ID             string
	StrategyID     string
	Ticker         string
	Side           Side
	Type           SignalType
	Strength       float64
	SuggestedPrice *decimal.Decimal
	PositionID     *string
	GroupID        *string
	Metadata       map[string]interface{}
}

// PositionKey returns the identity under which this signal's position is
// tracked: position_id if present, else "{ticker}_{group_id ?? default}".
// Multiple simultaneous positions in the same ticker (grid/split strategies)
// stay independent as long as they carry distinct keys.
func (s Signal) PositionKey() string {
	if s.PositionID != nil && *s.PositionID != "" {
		return *s.PositionID
	}
	group := "default"
	if s.GroupID != nil && *s.GroupID != "" {
		group = *s.GroupID
	}
	return fmt.Sprintf("%s_%s", s.Ticker, group)
}

// MetadataQuantity extracts the recognized "quantity" metadata key, if set
// and numeric.
func (s Signal) MetadataQuantity() (decimal.Decimal, bool) {
	if s.Metadata == nil {
		return decimal.Zero, false
	}
	raw, ok := s.Metadata["quantity"]
	if !ok {
		return decimal.Zero, false
	}
	switch v := raw.(type) {
	case decimal.Decimal:
		return v, true
	case float64:
		return decimal.NewFromFloat(v), true
	case int:
		return decimal.NewFromInt(int64(v)), true
	default:
		return decimal.Zero, false
	}
}

// MetadataReason extracts the recognized "reason" metadata key, if set.
func (s Signal) MetadataReason() (string, bool) {
	if s.Metadata == nil {
		return "", false
	}
	v, ok := s.Metadata["reason"].(string)
	return v, ok
}

// ProcessorPosition is an open position tracked by an executor.
type ProcessorPosition struct {
	Symbol     string
	Side       Side
	Quantity   decimal.Decimal
	EntryPrice decimal.Decimal
	EntryTime  time.Time
	Fees       decimal.Decimal
	PositionID *string
	GroupID    *string
}

// Value returns the mark-to-market value of this position at the given
// price: long value is price*qty; short value is entry*qty plus unrealized
// PnL (entry*qty + (entry-price)*qty = (2*entry-price)*qty).
func (p *ProcessorPosition) Value(price decimal.Decimal) decimal.Decimal {
	if p.Side == SideBuy {
		return price.Mul(p.Quantity)
	}
	unrealized := p.EntryPrice.Sub(price).Mul(p.Quantity)
	return p.EntryPrice.Mul(p.Quantity).Add(unrealized)
}

// TradeResult is one execution event recorded by an executor.
type TradeResult struct {
	Symbol      string
	Side        Side
	SignalType  SignalType
	Quantity    decimal.Decimal
	Price       decimal.Decimal
	Commission  decimal.Decimal
	Slippage    decimal.Decimal
	Timestamp   time.Time
	RealizedPnL *decimal.Decimal
	IsPartial   bool
	Metadata    map[string]interface{}
}

// ProcessorConfig carries the parameters shared by both executor variants.
// Defaults mirror SPEC_FULL.md §6.
type ProcessorConfig struct {
	CommissionRate     decimal.Decimal
	SlippageRate       decimal.Decimal
	MaxPositionSizePct decimal.Decimal
	MaxPositions       int
	AllowShort         bool
	MinStrength        float64
	AutoStopLoss       bool
	AutoTakeProfit     bool
	StopLossPct        decimal.Decimal
	TakeProfitPct      decimal.Decimal
}

// DefaultProcessorConfig returns the configuration defaults from
// SPEC_FULL.md §6.
func DefaultProcessorConfig() ProcessorConfig {
	return ProcessorConfig{
		CommissionRate:     decimal.NewFromFloat(0.001),
		SlippageRate:       decimal.NewFromFloat(0.0005),
		MaxPositionSizePct: decimal.NewFromFloat(0.2),
		MaxPositions:       10,
		AllowShort:         false,
		MinStrength:        0.0,
		AutoStopLoss:       false,
		AutoTakeProfit:     false,
		StopLossPct:        decimal.NewFromFloat(0.05),
		TakeProfitPct:      decimal.NewFromFloat(0.10),
	}
}

// Validate rejects non-positive capital-adjacent rates and malformed
// percentages, mapping to the Configuration error kind.
func (c ProcessorConfig) Validate() error {
	if c.CommissionRate.IsNegative() {
		return &Error{Kind: ErrConfiguration, Msg: "commission_rate must not be negative"}
	}
	if c.SlippageRate.IsNegative() {
		return &Error{Kind: ErrConfiguration, Msg: "slippage_rate must not be negative"}
	}
	if c.MaxPositionSizePct.LessThanOrEqual(decimal.Zero) {
		return &Error{Kind: ErrConfiguration, Msg: "max_position_size_pct must be positive"}
	}
	if c.MaxPositions <= 0 {
		return &Error{Kind: ErrConfiguration, Msg: "max_positions must be positive"}
	}
	if c.MinStrength < 0 || c.MinStrength > 1 {
		return &Error{Kind: ErrConfiguration, Msg: "min_strength must be in [0,1]"}
	}
	return nil
}

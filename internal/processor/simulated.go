package processor

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/ajitpratap0/cryptofunk/internal/config"
)

// SimulatedExecutor is the pure in-memory SignalProcessor implementation
// used by backtest and simulation playback. All state lives in the process;
// nothing is persisted.
type SimulatedExecutor struct {
	Config         ProcessorConfig
	Balance        decimal.Decimal
	InitialBalance decimal.Decimal
	Positions      map[string]*ProcessorPosition
	Trades         []TradeResult
	TotalCommission decimal.Decimal
	TotalSlippage   decimal.Decimal
	TotalOrders     int

	log zerolog.Logger
}

// NewSimulatedExecutor constructs an executor with the given starting
// capital and configuration.
func NewSimulatedExecutor(initialBalance decimal.Decimal, cfg ProcessorConfig) *SimulatedExecutor {
	return &SimulatedExecutor{
		Config:         cfg,
		Balance:        initialBalance,
		InitialBalance: initialBalance,
		Positions:      make(map[string]*ProcessorPosition),
		log:            config.NewLogger("processor.simulated"),
	}
}

// ProcessSignal implements SignalProcessor. It returns (nil, nil) when the
// signal is legitimately skipped per SPEC_FULL.md §4.1.
func (e *SimulatedExecutor) ProcessSignal(signal Signal, currentPrice decimal.Decimal, timestamp time.Time) (*TradeResult, error) {
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
		return e.processEntry(signal, key, price, timestamp)
	case SignalAddToPosition:
		if !exists {
			return nil, nil
		}
		return e.processAdd(signal, key, price, timestamp)
	case SignalExit:
		if !exists {
			return nil, nil
		}
		return e.processExit(signal, key, price, timestamp, true)
	case SignalReducePosition:
		if !exists {
			return nil, nil
		}
		return e.processExit(signal, key, price, timestamp, false)
	default:
		return nil, nil
	}
}

func (e *SimulatedExecutor) processEntry(signal Signal, key string, price decimal.Decimal, timestamp time.Time) (*TradeResult, error) {
	if signal.Side == SideSell && !e.Config.AllowShort {
		return nil, &Error{Kind: ErrShortNotAllowed, Msg: "short selling disabled"}
	}
	if len(e.Positions) >= e.Config.MaxPositions {
		return nil, &Error{Kind: ErrMaxPositionsExceeded, Msg: "max positions exceeded"}
	}

	execPrice := applySlippage(price, signal.Side, e.Config.SlippageRate)
	qty := positionSize(e.Balance, e.Config.MaxPositionSizePct, signal.Strength, execPrice)
	if qty.IsZero() || qty.IsNegative() {
		return nil, nil
	}
	principal := execPrice.Mul(qty)
	commission := principal.Mul(e.Config.CommissionRate)

	if err := validateFunds(principal, e.Config.CommissionRate, e.Balance); err != nil {
		return nil, err
	}

	e.Balance = e.Balance.Sub(principal).Sub(commission)
	e.Positions[key] = &ProcessorPosition{
		Symbol:     signal.Ticker,
		Side:       signal.Side,
		Quantity:   qty,
		EntryPrice: execPrice,
		EntryTime:  timestamp,
		Fees:       commission,
		PositionID: signal.PositionID,
		GroupID:    signal.GroupID,
	}

	slip := execPrice.Sub(price).Abs()
	e.TotalCommission = e.TotalCommission.Add(commission)
	e.TotalSlippage = e.TotalSlippage.Add(slip)
	e.TotalOrders++

	trade := TradeResult{
		Symbol:     signal.Ticker,
		Side:       signal.Side,
		SignalType: signal.Type,
		Quantity:   qty,
		Price:      execPrice,
		Commission: commission,
		Slippage:   slip,
		Timestamp:  timestamp,
		Metadata:   signal.Metadata,
	}
	e.Trades = append(e.Trades, trade)
	e.log.Debug().Str("key", key).Str("qty", qty.String()).Msg("position opened")
	return &trade, nil
}

func (e *SimulatedExecutor) processAdd(signal Signal, key string, price decimal.Decimal, timestamp time.Time) (*TradeResult, error) {
	pos := e.Positions[key]
	execPrice := applySlippage(price, signal.Side, e.Config.SlippageRate)
	addQty := positionSize(e.Balance, e.Config.MaxPositionSizePct, signal.Strength, execPrice)
	if addQty.IsZero() || addQty.IsNegative() {
		return nil, nil
	}
	principal := execPrice.Mul(addQty)
	commission := principal.Mul(e.Config.CommissionRate)

	if err := validateFunds(principal, e.Config.CommissionRate, e.Balance); err != nil {
		return nil, err
	}

	e.Balance = e.Balance.Sub(principal).Sub(commission)
	pos.EntryPrice = averagePriceOnAdd(pos.EntryPrice, pos.Quantity, execPrice, addQty)
	pos.Quantity = pos.Quantity.Add(addQty)
	pos.Fees = pos.Fees.Add(commission)

	slip := execPrice.Sub(price).Abs()
	e.TotalCommission = e.TotalCommission.Add(commission)
	e.TotalSlippage = e.TotalSlippage.Add(slip)
	e.TotalOrders++

	trade := TradeResult{
		Symbol:     signal.Ticker,
		Side:       signal.Side,
		SignalType: SignalAddToPosition,
		Quantity:   addQty,
		Price:      execPrice,
		Commission: commission,
		Slippage:   slip,
		Timestamp:  timestamp,
		Metadata:   signal.Metadata,
	}
	e.Trades = append(e.Trades, trade)
	return &trade, nil
}

// processExit handles both Exit (full) and ReducePosition (partial, clamped
// to position size per the Open Question resolution in DESIGN.md).
func (e *SimulatedExecutor) processExit(signal Signal, key string, price decimal.Decimal, timestamp time.Time, isFull bool) (*TradeResult, error) {
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

	// Exiting is the opposite transaction direction from the position side.
	exitSide := SideSell
	if pos.Side == SideSell {
		exitSide = SideBuy
	}
	execPrice := applySlippage(price, exitSide, e.Config.SlippageRate)
	proceeds := execPrice.Mul(qty)
	commission := proceeds.Mul(e.Config.CommissionRate)

	e.Balance = e.Balance.Add(proceeds).Sub(commission)
	pnl := realizedPnL(pos.Side, pos.EntryPrice, execPrice, qty, commission)

	remaining := pos.Quantity.Sub(qty)
	isPartial := remaining.IsPositive()
	if isPartial {
		pos.Quantity = remaining
		pos.Fees = pos.Fees.Add(commission)
	} else {
		delete(e.Positions, key)
	}

	slip := execPrice.Sub(price).Abs()
	e.TotalCommission = e.TotalCommission.Add(commission)
	e.TotalSlippage = e.TotalSlippage.Add(slip)
	e.TotalOrders++

	trade := TradeResult{
		Symbol:      signal.Ticker,
		Side:        exitSide,
		SignalType:  signalType,
		Quantity:    qty,
		Price:       execPrice,
		Commission:  commission,
		Slippage:    slip,
		Timestamp:   timestamp,
		RealizedPnL: &pnl,
		IsPartial:   isPartial,
		Metadata:    signal.Metadata,
	}
	e.Trades = append(e.Trades, trade)
	e.log.Debug().Str("key", key).Str("pnl", pnl.String()).Msg("position closed or reduced")
	return &trade, nil
}

// TotalEquity returns balance plus the mark-to-market value of all open
// positions at the supplied prices, keyed by symbol.
func (e *SimulatedExecutor) TotalEquity(prices map[string]decimal.Decimal) decimal.Decimal {
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

// CloseAllPositions force-closes every open position at the last-known
// price per ticker, used by the backtest engine at end-of-run.
func (e *SimulatedExecutor) CloseAllPositions(prices map[string]decimal.Decimal, timestamp time.Time) []TradeResult {
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
		exitSide := SideSell
		if pos.Side == SideSell {
			exitSide = SideBuy
		}
		execPrice := applySlippage(price, exitSide, e.Config.SlippageRate)
		proceeds := execPrice.Mul(pos.Quantity)
		commission := proceeds.Mul(e.Config.CommissionRate)
		e.Balance = e.Balance.Add(proceeds).Sub(commission)
		pnl := realizedPnL(pos.Side, pos.EntryPrice, execPrice, pos.Quantity, commission)

		trade := TradeResult{
			Symbol:      pos.Symbol,
			Side:        exitSide,
			SignalType:  SignalExit,
			Quantity:    pos.Quantity,
			Price:       execPrice,
			Commission:  commission,
			Timestamp:   timestamp,
			RealizedPnL: &pnl,
			Metadata:    map[string]interface{}{"reason": "force_close"},
		}
		e.TotalCommission = e.TotalCommission.Add(commission)
		e.TotalOrders++
		e.Trades = append(e.Trades, trade)
		closed = append(closed, trade)
		delete(e.Positions, key)
	}
	return closed
}

// Package backtest provides a backtesting framework for trading strategies
package backtest

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/ajitpratap0/cryptofunk/internal/processor"
)

// ============================================================================
// DATA STRUCTURES
// ============================================================================

// Candlestick represents OHLCV data for a time period
type Candlestick struct {
	Symbol    string    `json:"symbol"`
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// Signal represents a trading signal handed to the engine by a Strategy.
// Side is "BUY", "SELL", or "HOLD"; ExecuteSignal translates it into a
// processor.Signal so fills go through the shared entry/exit math instead of
// being reimplemented here.
type Signal struct {
	Timestamp  time.Time              `json:"timestamp"`
	Symbol     string                 `json:"symbol"`
	Side       string                 `json:"side"`
	Confidence float64                `json:"confidence"` // 0.0 to 1.0, becomes processor.Signal.Strength
	Reasoning  string                 `json:"reasoning"`
	Agent      string                 `json:"agent"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// Trade represents an executed trade
type Trade struct {
	ID         int       `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	Symbol     string    `json:"symbol"`
	Side       string    `json:"side"` // "BUY", "SELL"
	Quantity   float64   `json:"quantity"`
	Price      float64   `json:"price"`
	Commission float64   `json:"commission"`
	Value      float64   `json:"value"` // price * quantity
	Signal     *Signal   `json:"signal,omitempty"`
}

// Position represents an open trading position
type Position struct {
	Symbol       string    `json:"symbol"`
	Side         string    `json:"side"` // "LONG", "SHORT"
	EntryTime    time.Time `json:"entry_time"`
	EntryPrice   float64   `json:"entry_price"`
	Quantity     float64   `json:"quantity"`
	CurrentPrice float64   `json:"current_price"`
	UnrealizedPL float64   `json:"unrealized_pl"`
	Commission   float64   `json:"commission"`
}

// ClosedPosition represents a closed position with P&L
type ClosedPosition struct {
	Symbol      string        `json:"symbol"`
	Side        string        `json:"side"`
	EntryTime   time.Time     `json:"entry_time"`
	ExitTime    time.Time     `json:"exit_time"`
	EntryPrice  float64       `json:"entry_price"`
	ExitPrice   float64       `json:"exit_price"`
	Quantity    float64       `json:"quantity"`
	RealizedPL  float64       `json:"realized_pl"`
	ReturnPct   float64       `json:"return_pct"`
	HoldingTime time.Duration `json:"holding_time"`
	Commission  float64       `json:"commission"`
}

// EquityPoint represents portfolio equity at a point in time
type EquityPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Equity    float64   `json:"equity"`
	Cash      float64   `json:"cash"`
	Holdings  float64   `json:"holdings"`
}

// ============================================================================
// BACKTEST ENGINE
// ============================================================================

// Engine is the main backtesting engine. Signal execution is delegated to a
// processor.SimulatedExecutor so a backtest and a live run price entries,
// exits, slippage, and commission by the identical decimal-exact rules
// (SPEC_FULL.md §4.1, §4.5); Engine itself owns only candle bookkeeping,
// equity-curve/drawdown tracking, and the float64-facing reporting DTOs
// above, which metrics.go and report.go consume unchanged.
type Engine struct {
	// Configuration
	InitialCapital float64 `json:"initial_capital"`
	CommissionRate float64 `json:"commission_rate"` // e.g., 0.001 for 0.1%
	PositionSizing string  `json:"position_sizing"` // "fixed", "percent", "kelly"
	PositionSize   float64 `json:"position_size"`   // Amount per trade
	MaxPositions   int     `json:"max_positions"`   // Maximum concurrent positions

	executor *processor.SimulatedExecutor

	// State
	Cash            float64              `json:"cash"`
	Positions       map[string]*Position `json:"positions"` // symbol -> position
	Trades          []*Trade             `json:"trades"`
	ClosedPositions []*ClosedPosition    `json:"closed_positions"`
	EquityCurve     []*EquityPoint       `json:"equity_curve"`

	// Historical data
	Data         map[string][]*Candlestick `json:"-"` // symbol -> candlesticks
	CurrentIndex map[string]int            `json:"-"` // symbol -> current index

	// Statistics (calculated during backtest)
	TotalTrades    int     `json:"total_trades"`
	WinningTrades  int     `json:"winning_trades"`
	LosingTrades   int     `json:"losing_trades"`
	TotalProfit    float64 `json:"total_profit"`
	TotalLoss      float64 `json:"total_loss"`
	MaxDrawdown    float64 `json:"max_drawdown"`
	MaxDrawdownPct float64 `json:"max_drawdown_pct"`
	PeakEquity     float64 `json:"peak_equity"`
}

// NewEngine creates a new backtesting engine
func NewEngine(config BacktestConfig) *Engine {
	procConfig := processor.DefaultProcessorConfig()
	procConfig.CommissionRate = decimal.NewFromFloat(config.CommissionRate)
	procConfig.MinStrength = 0 // strategies gate their own signal quality; the engine forwards everything
	procConfig.AllowShort = false
	if config.MaxPositions > 0 {
		procConfig.MaxPositions = config.MaxPositions
	}
	// MaxPositionSizePct is recomputed per-signal in sizingPct to reproduce
	// whatever quantity calculatePositionSize would have picked under the
	// configured sizing method; the value here is just a safe starting point.
	procConfig.MaxPositionSizePct = decimal.NewFromFloat(1.0)

	return &Engine{
		InitialCapital:  config.InitialCapital,
		CommissionRate:  config.CommissionRate,
		PositionSizing:  config.PositionSizing,
		PositionSize:    config.PositionSize,
		MaxPositions:    config.MaxPositions,
		executor:        processor.NewSimulatedExecutor(decimal.NewFromFloat(config.InitialCapital), procConfig),
		Cash:            config.InitialCapital,
		Positions:       make(map[string]*Position),
		Trades:          []*Trade{},
		ClosedPositions: []*ClosedPosition{},
		EquityCurve:     []*EquityPoint{},
		Data:            make(map[string][]*Candlestick),
		CurrentIndex:    make(map[string]int),
		PeakEquity:      config.InitialCapital,
	}
}

// BacktestConfig holds configuration for a backtest
type BacktestConfig struct {
	InitialCapital float64
	CommissionRate float64
	PositionSizing string // "fixed", "percent", "kelly"
	PositionSize   float64
	MaxPositions   int
	StartDate      time.Time
	EndDate        time.Time
	Symbols        []string
}

// ============================================================================
// DATA LOADING
// ============================================================================

// LoadHistoricalData loads candlestick data for backtesting
func (e *Engine) LoadHistoricalData(symbol string, candlesticks []*Candlestick) error {
	if len(candlesticks) == 0 {
		return fmt.Errorf("no candlesticks provided for symbol %s", symbol)
	}

	// Sort by timestamp ascending
	sort.Slice(candlesticks, func(i, j int) bool {
		return candlesticks[i].Timestamp.Before(candlesticks[j].Timestamp)
	})

	e.Data[symbol] = candlesticks
	e.CurrentIndex[symbol] = 0

	log.Info().
		Str("symbol", symbol).
		Int("candles", len(candlesticks)).
		Time("start", candlesticks[0].Timestamp).
		Time("end", candlesticks[len(candlesticks)-1].Timestamp).
		Msg("Loaded historical data for backtesting")

	return nil
}

// GetCurrentCandle returns the current candlestick for a symbol
func (e *Engine) GetCurrentCandle(symbol string) (*Candlestick, error) {
	candles, exists := e.Data[symbol]
	if !exists {
		return nil, fmt.Errorf("no data loaded for symbol %s", symbol)
	}

	index := e.CurrentIndex[symbol]
	if index >= len(candles) {
		return nil, fmt.Errorf("no more data for symbol %s", symbol)
	}

	return candles[index], nil
}

// GetHistoricalCandles returns N candlesticks before current index
func (e *Engine) GetHistoricalCandles(symbol string, lookback int) ([]*Candlestick, error) {
	candles, exists := e.Data[symbol]
	if !exists {
		return nil, fmt.Errorf("no data loaded for symbol %s", symbol)
	}

	currentIndex := e.CurrentIndex[symbol]
	if currentIndex == 0 {
		return []*Candlestick{}, nil
	}

	startIndex := currentIndex - lookback
	if startIndex < 0 {
		startIndex = 0
	}

	return candles[startIndex:currentIndex], nil
}

// ============================================================================
// TIME-STEP SIMULATION
// ============================================================================

// Step advances the backtest by one time step
func (e *Engine) Step(ctx context.Context) (bool, error) {
	// Check if we have more data
	hasMore := false
	for symbol := range e.Data {
		if e.CurrentIndex[symbol] < len(e.Data[symbol]) {
			hasMore = true
			break
		}
	}

	if !hasMore {
		return false, nil // Backtest complete
	}

	// Get current timestamp (earliest timestamp across all symbols)
	var currentTime time.Time
	for symbol, candles := range e.Data {
		index := e.CurrentIndex[symbol]
		if index < len(candles) {
			candleTime := candles[index].Timestamp
			if currentTime.IsZero() || candleTime.Before(currentTime) {
				currentTime = candleTime
			}
		}
	}

	// Update current prices for all positions
	for symbol, position := range e.Positions {
		candle, err := e.GetCurrentCandle(symbol)
		if err == nil {
			position.CurrentPrice = candle.Close
			position.UnrealizedPL = e.calculateUnrealizedPL(position)
		}
	}

	// Record equity point
	e.recordEquityPoint(currentTime)

	// Advance indices for symbols at current time
	for symbol, candles := range e.Data {
		index := e.CurrentIndex[symbol]
		if index < len(candles) && !candles[index].Timestamp.After(currentTime) {
			e.CurrentIndex[symbol]++
		}
	}

	return true, nil
}

// ============================================================================
// ORDER EXECUTION
// ============================================================================

// ExecuteSignal executes a trading signal by routing it through the shared
// signal-processor contract (SPEC_FULL.md §4.1).
func (e *Engine) ExecuteSignal(signal *Signal) error {
	candle, err := e.GetCurrentCandle(signal.Symbol)
	if err != nil {
		return fmt.Errorf("cannot execute signal: %w", err)
	}

	price := decimal.NewFromFloat(candle.Close)

	switch signal.Side {
	case "BUY":
		return e.executeBuy(signal, price, candle.Timestamp)
	case "SELL":
		return e.executeSell(signal, price, candle.Timestamp)
	case "HOLD":
		return nil
	default:
		return fmt.Errorf("unknown signal side: %s", signal.Side)
	}
}

// sizingPct derives the MaxPositionSizePct that reproduces, through the
// shared positionSize() formula at strength=1, whatever quantity
// calculatePositionSize would pick under the engine's own configured sizing
// method (fixed dollar amount, percent of equity, or Kelly criterion). This
// keeps the fixed/percent/kelly sizing modes engine-local while still
// pricing through the one shared allocation algorithm (DESIGN.md open
// question: backtest-only position sizing).
func (e *Engine) sizingPct(price decimal.Decimal) decimal.Decimal {
	priceF, _ := price.Float64()
	qty := e.calculatePositionSize(priceF)
	if qty <= 0 || priceF <= 0 {
		return decimal.Zero
	}

	dollarAmount := qty * priceF
	balance := e.executor.Balance
	if balance.IsZero() {
		return decimal.Zero
	}

	pct := decimal.NewFromFloat(dollarAmount).Div(balance)
	one := decimal.NewFromInt(1)
	if pct.GreaterThan(one) {
		pct = one
	}
	return pct
}

// executeBuy opens a new position through the processor contract.
func (e *Engine) executeBuy(signal *Signal, price decimal.Decimal, timestamp time.Time) error {
	if _, exists := e.Positions[signal.Symbol]; exists {
		log.Debug().Str("symbol", signal.Symbol).Msg("Already have position, skipping buy")
		return nil
	}

	if len(e.Positions) >= e.MaxPositions {
		log.Debug().Int("max", e.MaxPositions).Msg("Max positions reached, skipping buy")
		return nil
	}

	e.executor.Config.MaxPositionSizePct = e.sizingPct(price)

	psignal := processor.Signal{
		ID:       fmt.Sprintf("bt-%d", len(e.Trades)+1),
		Ticker:   signal.Symbol,
		Side:     processor.SideBuy,
		Type:     processor.SignalEntry,
		Strength: 1.0,
	}

	result, err := e.executor.ProcessSignal(psignal, price, timestamp)
	if err != nil {
		if processor.IsKind(err, processor.ErrInsufficientFunds) || processor.IsKind(err, processor.ErrMaxPositionsExceeded) {
			log.Debug().Err(err).Str("symbol", signal.Symbol).Msg("Buy rejected, skipping")
			return nil
		}
		return fmt.Errorf("execute buy: %w", err)
	}
	if result == nil {
		return nil
	}

	priceF, _ := result.Price.Float64()
	qtyF, _ := result.Quantity.Float64()
	commF, _ := result.Commission.Float64()

	trade := &Trade{
		ID:         len(e.Trades) + 1,
		Timestamp:  timestamp,
		Symbol:     signal.Symbol,
		Side:       "BUY",
		Quantity:   qtyF,
		Price:      priceF,
		Commission: commF,
		Value:      priceF * qtyF,
		Signal:     signal,
	}

	position := &Position{
		Symbol:       signal.Symbol,
		Side:         "LONG",
		EntryTime:    timestamp,
		EntryPrice:   priceF,
		Quantity:     qtyF,
		CurrentPrice: priceF,
		UnrealizedPL: 0,
		Commission:   commF,
	}

	e.Positions[signal.Symbol] = position
	e.Trades = append(e.Trades, trade)
	e.TotalTrades++
	e.syncCashFromExecutor()

	log.Info().
		Str("symbol", signal.Symbol).
		Float64("price", priceF).
		Float64("quantity", qtyF).
		Float64("commission", commF).
		Msg("Executed BUY")

	return nil
}

// executeSell closes a position through the processor contract.
func (e *Engine) executeSell(signal *Signal, price decimal.Decimal, timestamp time.Time) error {
	position, exists := e.Positions[signal.Symbol]
	if !exists {
		log.Debug().Str("symbol", signal.Symbol).Msg("No position to close, skipping sell")
		return nil
	}

	psignal := processor.Signal{
		ID:       fmt.Sprintf("bt-%d", len(e.Trades)+1),
		Ticker:   signal.Symbol,
		Side:     processor.SideSell,
		Type:     processor.SignalExit,
		Strength: 1.0,
	}

	result, err := e.executor.ProcessSignal(psignal, price, timestamp)
	if err != nil {
		return fmt.Errorf("execute sell: %w", err)
	}
	if result == nil {
		return nil
	}

	priceF, _ := result.Price.Float64()
	qtyF, _ := result.Quantity.Float64()
	commF, _ := result.Commission.Float64()

	var realizedPL float64
	if result.RealizedPnL != nil {
		realizedPL, _ = result.RealizedPnL.Float64()
	}

	trade := &Trade{
		ID:         len(e.Trades) + 1,
		Timestamp:  timestamp,
		Symbol:     signal.Symbol,
		Side:       "SELL",
		Quantity:   qtyF,
		Price:      priceF,
		Commission: commF,
		Value:      priceF * qtyF,
		Signal:     signal,
	}

	entryValue := position.EntryPrice * qtyF
	returnPct := 0.0
	if entryValue != 0 {
		returnPct = (realizedPL / entryValue) * 100.0
	}

	closedPosition := &ClosedPosition{
		Symbol:      signal.Symbol,
		Side:        position.Side,
		EntryTime:   position.EntryTime,
		ExitTime:    timestamp,
		EntryPrice:  position.EntryPrice,
		ExitPrice:   priceF,
		Quantity:    qtyF,
		RealizedPL:  realizedPL,
		ReturnPct:   returnPct,
		HoldingTime: timestamp.Sub(position.EntryTime),
		Commission:  position.Commission + commF,
	}

	if realizedPL > 0 {
		e.WinningTrades++
		e.TotalProfit += realizedPL
	} else {
		e.LosingTrades++
		e.TotalLoss += realizedPL
	}

	delete(e.Positions, signal.Symbol)
	e.Trades = append(e.Trades, trade)
	e.ClosedPositions = append(e.ClosedPositions, closedPosition)
	e.syncCashFromExecutor()

	log.Info().
		Str("symbol", signal.Symbol).
		Float64("price", priceF).
		Float64("quantity", qtyF).
		Float64("pl", realizedPL).
		Float64("return_pct", returnPct).
		Msg("Executed SELL")

	return nil
}

// syncCashFromExecutor mirrors the processor's decimal balance into the
// float64 Cash field the reporting/metrics layer reads.
func (e *Engine) syncCashFromExecutor() {
	e.Cash, _ = e.executor.Balance.Float64()
}

// ============================================================================
// POSITION SIZING
// ============================================================================

// calculatePositionSize calculates the quantity to buy based on position sizing method
func (e *Engine) calculatePositionSize(price float64) float64 {
	switch e.PositionSizing {
	case "fixed":
		// Fixed dollar amount per trade
		return e.PositionSize / price

	case "percent":
		// Percentage of current equity
		equity := e.GetCurrentEquity()
		dollarAmount := equity * e.PositionSize // e.g., 0.1 for 10%
		return dollarAmount / price

	case "kelly":
		// Kelly Criterion sized from closed-trade history, half-Kelly by default
		stats := CalculateStatsFromTrades(e.ClosedPositions)
		kc := NewKellyCalculator(nil)
		dollarAmount := kc.CalculatePositionSize(stats, e.GetCurrentEquity(), 0.5)
		return dollarAmount / price

	default:
		// Default to fixed $1000 per trade
		return 1000.0 / price
	}
}

// ============================================================================
// EQUITY CALCULATIONS
// ============================================================================

// GetCurrentEquity returns current portfolio equity (cash + unrealized P&L)
func (e *Engine) GetCurrentEquity() float64 {
	equity := e.Cash

	for _, position := range e.Positions {
		equity += position.CurrentPrice * position.Quantity
	}

	return equity
}

// calculateUnrealizedPL calculates unrealized P&L for a position
func (e *Engine) calculateUnrealizedPL(position *Position) float64 {
	currentValue := position.CurrentPrice * position.Quantity
	entryValue := position.EntryPrice * position.Quantity
	return currentValue - entryValue - position.Commission
}

// recordEquityPoint records current equity in the equity curve
func (e *Engine) recordEquityPoint(timestamp time.Time) {
	equity := e.GetCurrentEquity()
	holdings := equity - e.Cash

	point := &EquityPoint{
		Timestamp: timestamp,
		Equity:    equity,
		Cash:      e.Cash,
		Holdings:  holdings,
	}

	e.EquityCurve = append(e.EquityCurve, point)

	// Update peak equity and drawdown
	if equity > e.PeakEquity {
		e.PeakEquity = equity
	}

	drawdown := e.PeakEquity - equity
	drawdownPct := (drawdown / e.PeakEquity) * 100.0

	if drawdown > e.MaxDrawdown {
		e.MaxDrawdown = drawdown
		e.MaxDrawdownPct = drawdownPct
	}
}

// ============================================================================
// BACKTEST EXECUTION
// ============================================================================

// Run executes the complete backtest
func (e *Engine) Run(ctx context.Context, strategy Strategy) error {
	log.Info().
		Float64("initial_capital", e.InitialCapital).
		Float64("commission_rate", e.CommissionRate*100).
		Str("position_sizing", e.PositionSizing).
		Int("max_positions", e.MaxPositions).
		Msg("Starting backtest")

	// Initialize strategy
	if err := strategy.Initialize(e); err != nil {
		return fmt.Errorf("failed to initialize strategy: %w", err)
	}

	// Main backtest loop
	stepCount := 0
	for {
		// Check context cancellation
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		// Advance one time step
		hasMore, err := e.Step(ctx)
		if err != nil {
			return fmt.Errorf("step error: %w", err)
		}

		if !hasMore {
			break // Backtest complete
		}

		stepCount++

		// Generate signals from strategy
		signals, err := strategy.GenerateSignals(e)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to generate signals")
			continue
		}

		// Execute signals
		for _, signal := range signals {
			if err := e.ExecuteSignal(signal); err != nil {
				log.Warn().
					Err(err).
					Str("symbol", signal.Symbol).
					Str("side", signal.Side).
					Msg("Failed to execute signal")
			}
		}

		// Log progress every 1000 steps
		if stepCount%1000 == 0 {
			equity := e.GetCurrentEquity()
			log.Debug().
				Int("step", stepCount).
				Float64("equity", equity).
				Int("positions", len(e.Positions)).
				Int("trades", e.TotalTrades).
				Msg("Backtest progress")
		}
	}

	// Close all remaining positions at the end
	e.closeAllPositions()

	// Finalize strategy
	if err := strategy.Finalize(e); err != nil {
		log.Warn().Err(err).Msg("Failed to finalize strategy")
	}

	log.Info().
		Int("steps", stepCount).
		Int("trades", e.TotalTrades).
		Float64("final_equity", e.GetCurrentEquity()).
		Msg("Backtest complete")

	return nil
}

// closeAllPositions closes all open positions at the end of backtest
func (e *Engine) closeAllPositions() {
	for symbol := range e.Positions {
		signal := &Signal{
			Symbol:     symbol,
			Side:       "SELL",
			Confidence: 1.0,
			Reasoning:  "End of backtest - closing position",
			Agent:      "backtest_engine",
		}

		candle, err := e.GetCurrentCandle(symbol)
		if err != nil {
			log.Warn().
				Err(err).
				Str("symbol", symbol).
				Msg("Failed to get current candle for position close")
			continue
		}

		if err := e.executeSell(signal, decimal.NewFromFloat(candle.Close), candle.Timestamp); err != nil {
			log.Warn().
				Err(err).
				Str("symbol", symbol).
				Msg("Failed to close position at end of backtest")
		}
	}
}

// ============================================================================
// STRATEGY INTERFACE
// ============================================================================

// Strategy is the interface that trading strategies must implement
type Strategy interface {
	// Initialize is called before the backtest starts
	Initialize(engine *Engine) error

	// GenerateSignals generates trading signals at each time step
	GenerateSignals(engine *Engine) ([]*Signal, error)

	// Finalize is called after the backtest ends
	Finalize(engine *Engine) error
}

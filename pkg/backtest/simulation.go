package backtest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// SimulationState is the lifecycle state of a SimulationEngine.
type SimulationState string

const (
	SimulationStopped SimulationState = "stopped"
	SimulationRunning SimulationState = "running"
	SimulationPaused  SimulationState = "paused"
)

// CandleLoader fetches historical candlesticks for a given timeframe, keyed
// by symbol. SimulationEngine.Start tries the default timeframe first, then
// falls back through additional timeframes until one returns data.
type CandleLoader func(ctx context.Context, timeframe string) (map[string][]*Candlestick, error)

// SimulationEngine wraps Engine with wall-clock pacing for UI/playback use:
// the same candle-processing core and SimulatedExecutor drive both, but
// SimulationEngine advances one candle per 1/speed seconds in a background
// goroutine instead of stepping through the whole dataset as fast as
// possible (SPEC_FULL.md §4.5).
type SimulationEngine struct {
	*Engine

	loader             CandleLoader
	defaultTimeframe   string
	fallbackTimeframes []string

	stateMu sync.RWMutex
	state   SimulationState
	speed   float64

	strategy Strategy
	cancel   context.CancelFunc
	group    *errgroup.Group
}

// NewSimulationEngine creates a stopped simulation engine. loader supplies
// historical candles on Start; defaultTimeframe is tried first, then each
// entry of fallbackTimeframes in order.
func NewSimulationEngine(config BacktestConfig, loader CandleLoader, defaultTimeframe string, fallbackTimeframes []string) *SimulationEngine {
	return &SimulationEngine{
		Engine:             NewEngine(config),
		loader:             loader,
		defaultTimeframe:   defaultTimeframe,
		fallbackTimeframes: fallbackTimeframes,
		state:              SimulationStopped,
	}
}

// State returns the current lifecycle state.
func (s *SimulationEngine) State() SimulationState {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

// Start loads historical candles (default timeframe, then fallbacks) and
// launches the background driver at the given speed (candles per second of
// wall-clock time; speed=1 advances one candle per second). Only valid from
// Stopped.
func (s *SimulationEngine) Start(ctx context.Context, strategy Strategy, speed float64) error {
	s.stateMu.Lock()
	if s.state != SimulationStopped {
		s.stateMu.Unlock()
		return fmt.Errorf("simulation must be stopped to start, current state: %s", s.state)
	}
	if speed <= 0 {
		s.stateMu.Unlock()
		return fmt.Errorf("speed must be positive, got %f", speed)
	}
	s.state = SimulationRunning
	s.speed = speed
	s.strategy = strategy
	s.stateMu.Unlock()

	if err := s.loadCandles(ctx); err != nil {
		s.stateMu.Lock()
		s.state = SimulationStopped
		s.stateMu.Unlock()
		return err
	}

	if err := strategy.Initialize(s.Engine); err != nil {
		s.stateMu.Lock()
		s.state = SimulationStopped
		s.stateMu.Unlock()
		return fmt.Errorf("failed to initialize strategy: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(runCtx)
	s.cancel = cancel
	s.group = g

	g.Go(func() error {
		s.run(gctx)
		return nil
	})

	log.Info().Float64("speed", speed).Str("timeframe", s.defaultTimeframe).Msg("Simulation started")
	return nil
}

// loadCandles tries the default timeframe, then each fallback in order,
// stopping at the first one that returns any data.
func (s *SimulationEngine) loadCandles(ctx context.Context) error {
	timeframes := append([]string{s.defaultTimeframe}, s.fallbackTimeframes...)

	var lastErr error
	for _, tf := range timeframes {
		data, err := s.loader(ctx, tf)
		if err != nil {
			lastErr = err
			log.Warn().Err(err).Str("timeframe", tf).Msg("Candle load failed, trying fallback")
			continue
		}
		if len(data) == 0 {
			continue
		}

		for symbol, candles := range data {
			if err := s.LoadHistoricalData(symbol, candles); err != nil {
				return fmt.Errorf("failed to load candles for %s: %w", symbol, err)
			}
		}

		log.Info().Str("timeframe", tf).Int("symbols", len(data)).Msg("Loaded simulation candles")
		return nil
	}

	if lastErr != nil {
		return fmt.Errorf("failed to load candles for any timeframe: %w", lastErr)
	}
	return fmt.Errorf("no candles available for timeframe %s or its fallbacks", s.defaultTimeframe)
}

// run is the background driver: one candle per 1/speed seconds, re-checking
// run state between ticks. No lock is held across the paced sleep, so
// Stop is never starved by Pause.
func (s *SimulationEngine) run(ctx context.Context) {
	interval := time.Duration(float64(time.Second) / s.speed)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.State() == SimulationPaused {
				continue
			}

			more, err := s.processNextCandle(ctx)
			if err != nil {
				log.Warn().Err(err).Msg("Simulation step failed")
				continue
			}
			if !more {
				s.finish()
				return
			}
		}
	}
}

// processNextCandle advances one tick and routes any resulting signals
// through ExecuteSignal, mirroring one loop iteration of Engine.Run.
func (s *SimulationEngine) processNextCandle(ctx context.Context) (bool, error) {
	hasMore, err := s.Step(ctx)
	if err != nil {
		return false, fmt.Errorf("step error: %w", err)
	}
	if !hasMore {
		return false, nil
	}

	signals, err := s.strategy.GenerateSignals(s.Engine)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to generate signals")
		return true, nil
	}

	for _, signal := range signals {
		if err := s.ExecuteSignal(signal); err != nil {
			log.Warn().Err(err).Str("symbol", signal.Symbol).Str("side", signal.Side).Msg("Failed to execute signal")
		}
	}

	return true, nil
}

// finish is called by the driver when the dataset is exhausted: it force-
// closes leftover positions and transitions to Stopped without requiring an
// external Stop call.
func (s *SimulationEngine) finish() {
	s.closeAllPositions()
	if err := s.strategy.Finalize(s.Engine); err != nil {
		log.Warn().Err(err).Msg("Failed to finalize strategy")
	}

	s.stateMu.Lock()
	s.state = SimulationStopped
	s.stateMu.Unlock()

	log.Info().Float64("final_equity", s.GetCurrentEquity()).Msg("Simulation complete")
}

// Pause suspends advancement; the background driver keeps ticking but skips
// processing until Resume. Only valid from Running.
func (s *SimulationEngine) Pause() error {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	if s.state != SimulationRunning {
		return fmt.Errorf("simulation must be running to pause, current state: %s", s.state)
	}
	s.state = SimulationPaused
	log.Info().Msg("Simulation paused")
	return nil
}

// Resume continues advancement after a Pause. Only valid from Paused.
func (s *SimulationEngine) Resume() error {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	if s.state != SimulationPaused {
		return fmt.Errorf("simulation must be paused to resume, current state: %s", s.state)
	}
	s.state = SimulationRunning
	log.Info().Msg("Simulation resumed")
	return nil
}

// Stop cancels the background driver immediately, force-closes any leftover
// positions, and waits for the driver goroutine to exit before returning.
// Valid from Running or Paused; a no-op from Stopped.
func (s *SimulationEngine) Stop() error {
	s.stateMu.Lock()
	if s.state == SimulationStopped {
		s.stateMu.Unlock()
		return nil
	}
	cancel := s.cancel
	group := s.group
	s.stateMu.Unlock()

	cancel()
	if group != nil {
		_ = group.Wait()
	}

	s.closeAllPositions()
	if s.strategy != nil {
		if err := s.strategy.Finalize(s.Engine); err != nil {
			log.Warn().Err(err).Msg("Failed to finalize strategy")
		}
	}

	s.stateMu.Lock()
	s.state = SimulationStopped
	s.stateMu.Unlock()

	log.Info().Msg("Simulation stopped")
	return nil
}

// Reset restores the engine to a fresh Stopped state, discarding all trades,
// positions, and equity history. Only valid from Stopped.
func (s *SimulationEngine) Reset(config BacktestConfig) error {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	if s.state != SimulationStopped {
		return fmt.Errorf("simulation must be stopped to reset, current state: %s", s.state)
	}

	s.Engine = NewEngine(config)
	s.strategy = nil
	s.cancel = nil
	s.group = nil

	log.Info().Msg("Simulation reset")
	return nil
}

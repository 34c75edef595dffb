package backtest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCandles() []*Candlestick {
	return []*Candlestick{
		{Symbol: "BTC", Timestamp: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), Close: 50000, Open: 49500, High: 50500, Low: 49000, Volume: 100},
		{Symbol: "BTC", Timestamp: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), Close: 51000, Open: 50000, High: 51500, Low: 49500, Volume: 120},
		{Symbol: "BTC", Timestamp: time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC), Close: 49000, Open: 51000, High: 51000, Low: 48500, Volume: 150},
		{Symbol: "BTC", Timestamp: time.Date(2024, 1, 4, 0, 0, 0, 0, time.UTC), Close: 52000, Open: 49000, High: 52500, Low: 48800, Volume: 130},
		{Symbol: "BTC", Timestamp: time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC), Close: 53000, Open: 52000, High: 53500, Low: 51500, Volume: 140},
	}
}

func testLoader() CandleLoader {
	return func(ctx context.Context, timeframe string) (map[string][]*Candlestick, error) {
		if timeframe != "1h" {
			return nil, nil
		}
		return map[string][]*Candlestick{"BTC": testCandles()}, nil
	}
}

func testConfig() BacktestConfig {
	return BacktestConfig{
		InitialCapital: 10000.0,
		CommissionRate: 0.001,
		PositionSizing: "fixed",
		PositionSize:   1000.0,
		MaxPositions:   5,
	}
}

func TestSimulationEngine_StartsStopped(t *testing.T) {
	sim := NewSimulationEngine(testConfig(), testLoader(), "1h", nil)
	assert.Equal(t, SimulationStopped, sim.State())
}

func TestSimulationEngine_FallsBackToAlternateTimeframe(t *testing.T) {
	sim := NewSimulationEngine(testConfig(), testLoader(), "1m", []string{"5m", "1h"})
	strategy := &TestStrategy{}

	err := sim.Start(context.Background(), strategy, 1000)
	require.NoError(t, err)
	assert.Equal(t, SimulationRunning, sim.State())
	assert.Len(t, sim.Data["BTC"], 5)

	require.NoError(t, sim.Stop())
	assert.Equal(t, SimulationStopped, sim.State())
}

func TestSimulationEngine_PauseResumeStop(t *testing.T) {
	sim := NewSimulationEngine(testConfig(), testLoader(), "1h", nil)
	strategy := &TestStrategy{
		signals: []*Signal{
			{Symbol: "BTC", Side: "BUY", Confidence: 0.8, Agent: "test"},
		},
	}

	require.NoError(t, sim.Start(context.Background(), strategy, 1000))
	assert.True(t, strategy.initCalled)

	require.NoError(t, sim.Pause())
	assert.Equal(t, SimulationPaused, sim.State())
	assert.Error(t, sim.Pause(), "pausing twice should fail")

	require.NoError(t, sim.Resume())
	assert.Equal(t, SimulationRunning, sim.State())
	assert.Error(t, sim.Resume(), "resuming twice should fail")

	require.NoError(t, sim.Stop())
	assert.Equal(t, SimulationStopped, sim.State())
	assert.True(t, strategy.finalizeCalled)
}

func TestSimulationEngine_RunsToCompletion(t *testing.T) {
	sim := NewSimulationEngine(testConfig(), testLoader(), "1h", nil)
	strategy := &TestStrategy{
		signals: []*Signal{
			{Symbol: "BTC", Side: "BUY", Confidence: 0.8, Agent: "test"},
		},
	}

	require.NoError(t, sim.Start(context.Background(), strategy, 5000))

	deadline := time.After(2 * time.Second)
	for sim.State() != SimulationStopped {
		select {
		case <-deadline:
			t.Fatal("simulation did not finish in time")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	assert.True(t, strategy.finalizeCalled)
	assert.Greater(t, len(sim.Trades), 0)
	assert.Empty(t, sim.Positions, "leftover positions should be force-closed on completion")
}

func TestSimulationEngine_ResetRequiresStopped(t *testing.T) {
	sim := NewSimulationEngine(testConfig(), testLoader(), "1h", nil)
	strategy := &TestStrategy{}

	require.NoError(t, sim.Start(context.Background(), strategy, 1000))
	assert.Error(t, sim.Reset(testConfig()), "reset should fail while running")

	require.NoError(t, sim.Stop())
	require.NoError(t, sim.Reset(testConfig()))
	assert.Equal(t, SimulationStopped, sim.State())
	assert.Empty(t, sim.Trades)
}

func TestSimulationEngine_RejectsNonPositiveSpeed(t *testing.T) {
	sim := NewSimulationEngine(testConfig(), testLoader(), "1h", nil)
	err := sim.Start(context.Background(), &TestStrategy{}, 0)
	assert.Error(t, err)
	assert.Equal(t, SimulationStopped, sim.State())
}

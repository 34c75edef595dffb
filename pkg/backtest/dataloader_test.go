package backtest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromCSV(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "candles.csv")
	content := "timestamp,symbol,open,high,low,close,volume\n" +
		"1704067200,BTC/USDT,50000,50500,49500,50200,10.5\n" +
		"2024-01-02T00:00:00Z,BTC/USDT,50200,51000,50000,50900,12.1\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	candles, err := LoadFromCSV(path)
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.Equal(t, "BTC/USDT", candles[0].Symbol)
	assert.Equal(t, 50200.0, candles[0].Close)
	assert.Equal(t, 50900.0, candles[1].Close)
}

func TestLoadFromCSV_SkipsMalformedRows(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "candles.csv")
	content := "timestamp,symbol,open,high,low,close,volume\n" +
		"not-a-timestamp,BTC/USDT,50000,50500,49500,50200,10.5\n" +
		"1704067200,BTC/USDT,50200,51000,50000,50900,12.1\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	candles, err := LoadFromCSV(path)
	require.NoError(t, err)
	require.Len(t, candles, 1)
	assert.Equal(t, 50900.0, candles[0].Close)
}

func TestLoadFromJSON_ArrayFormat(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "candles.json")
	content := `[{"symbol":"ETH/USDT","close":3000.5,"volume":100}]`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	candles, err := LoadFromJSON(path)
	require.NoError(t, err)
	require.Len(t, candles, 1)
	assert.Equal(t, "ETH/USDT", candles[0].Symbol)
}

func TestLoadFromJSON_WrappedFormat(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "candles.json")
	content := `{"candles":[{"symbol":"ETH/USDT","close":3000.5,"volume":100}]}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	candles, err := LoadFromJSON(path)
	require.NoError(t, err)
	require.Len(t, candles, 1)
	assert.Equal(t, "ETH/USDT", candles[0].Symbol)
}

func TestExportResults(t *testing.T) {
	engine := createTestEngine()
	signal := &Signal{Symbol: "BTC", Side: "BUY", Confidence: 0.8, Agent: "test"}
	require.NoError(t, engine.ExecuteSignal(signal))

	dir := t.TempDir()
	path := filepath.Join(dir, "results.json")
	require.NoError(t, ExportResults(engine, path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "\"trades\"")
}

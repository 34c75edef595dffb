// Paper Trading Daemon
// Runs MockExchangeProvider instances against a live streaming price feed,
// one provider per configured exchange credential, until signaled.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/ajitpratap0/cryptofunk/internal/config"
	"github.com/ajitpratap0/cryptofunk/internal/db"
	"github.com/ajitpratap0/cryptofunk/internal/exchange"
	"github.com/ajitpratap0/cryptofunk/internal/market"
	"github.com/ajitpratap0/cryptofunk/internal/orderengine"
	"github.com/ajitpratap0/cryptofunk/internal/processor"
)

// bookSpreadBps is the synthetic bid/ask spread applied around the last
// traded price fetched from the streaming source: CoinGecko's simple-price
// endpoint returns a single last price, not a depth snapshot, so the daemon
// builds a thin two-level book around it, the same shape as the buyBook
// fixture in internal/exchange/provider_test.go.
const bookSpreadBps = 5

// bookDepthQty is the synthetic quantity available at each synthesized
// level, large enough that ordinary paper-trading order sizes never walk
// past the first level.
var bookDepthQty = decimal.NewFromInt(1000)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error: failed to load configuration:", err)
		os.Exit(1)
	}

	config.InitLogger(cfg.App.LogLevel, "console")

	if len(cfg.Trading.Symbols) == 0 {
		log.Fatal().Msg("trading.symbols must list at least one symbol")
	}
	if len(cfg.Exchanges) == 0 {
		log.Fatal().Msg("at least one entry under exchanges is required, one MockExchangeProvider is created per credential")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, database := connectStore(ctx)
	if database != nil {
		defer database.Close()
	}

	providers := make(map[string]*exchange.MockExchangeProvider, len(cfg.Exchanges))
	for credentialID := range cfg.Exchanges {
		procConfig := processorConfigFor(cfg)

		provider, err := exchange.NewMockExchangeProvider(ctx, credentialID, procConfig, store)
		if err != nil {
			log.Fatal().Err(err).Str("credential_id", credentialID).Msg("Failed to construct mock exchange provider")
		}
		providers[credentialID] = provider

		log.Info().Str("credential_id", credentialID).Msg("Mock exchange provider ready")
	}

	feed := newPriceFeed(cfg)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		runFeedLoop(ctx, feed, cfg.Trading.Symbols, providers)
	}()

	log.Info().
		Int("providers", len(providers)).
		Strs("symbols", cfg.Trading.Symbols).
		Msg("Paper trading daemon started")

	<-ctx.Done()
	log.Info().Msg("Shutdown signal received, draining feed loop")

	wg.Wait()
	log.Info().Msg("Paper trading daemon stopped")
}

// processorConfigFor builds a processor.ProcessorConfig from the shared
// risk configuration section, the same defaults->overrides pattern
// cmd/backtest applies to backtest.BacktestConfig.
func processorConfigFor(cfg *config.Config) processor.ProcessorConfig {
	procConfig := processor.DefaultProcessorConfig()

	if cfg.Risk.MaxPositionSize > 0 {
		procConfig.MaxPositionSizePct = decimal.NewFromFloat(cfg.Risk.MaxPositionSize)
	}
	if cfg.Risk.DefaultStopLoss > 0 {
		procConfig.AutoStopLoss = true
		procConfig.StopLossPct = decimal.NewFromFloat(cfg.Risk.DefaultStopLoss)
	}
	if cfg.Risk.DefaultTakeProfit > 0 {
		procConfig.AutoTakeProfit = true
		procConfig.TakeProfitPct = decimal.NewFromFloat(cfg.Risk.DefaultTakeProfit)
	}

	return procConfig
}

// connectStore dials the durable store and wraps it in an
// exchange.PersistenceStore. A connection failure is logged, not fatal: the
// daemon keeps running in-memory only, mirroring the teacher's
// `if m.db != nil` guard style for optional persistence in mock.go.
func connectStore(ctx context.Context) (exchange.PersistenceStore, *db.DB) {
	database, err := db.New(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Database unavailable, running paper trading in-memory only")
		return nil, nil
	}

	if err := database.Ping(ctx); err != nil {
		log.Warn().Err(err).Msg("Database ping failed, running paper trading in-memory only")
		database.Close()
		return nil, nil
	}

	return exchange.NewDBPersistenceStore(database), database
}

// priceFeed fetches the latest trade price for a symbol from the streaming
// source, optionally routed through a Redis cache.
type priceFeed struct {
	client     *market.CoinGeckoClient
	cached     *market.CachedCoinGeckoClient
	vsCurrency string
}

func newPriceFeed(cfg *config.Config) *priceFeed {
	apiKey := os.Getenv("COINGECKO_API_KEY")
	client, err := market.NewCoinGeckoClient(apiKey)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to construct CoinGecko client")
	}

	feed := &priceFeed{client: client, vsCurrency: "usd"}

	if !cfg.MCP.External.CoinGecko.Enabled {
		return feed
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.GetRedisAddr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		log.Warn().Err(err).Msg("Redis unavailable, fetching prices uncached")
		return feed
	}

	cacheTTL := time.Duration(cfg.MCP.External.CoinGecko.CacheTTL) * time.Second
	feed.cached = market.NewCachedCoinGeckoClient(client, redisClient, cacheTTL)
	return feed
}

func (f *priceFeed) fetch(ctx context.Context, symbol string) (*market.PriceResult, error) {
	if f.cached != nil {
		return f.cached.GetPrice(ctx, symbol, f.vsCurrency)
	}
	return f.client.GetPrice(ctx, symbol, f.vsCurrency)
}

// runFeedLoop polls every symbol on a fixed interval and forwards each
// resulting tick to every provider, the same periodic-ticker driver shape as
// market.SyncService.Start.
func runFeedLoop(ctx context.Context, feed *priceFeed, symbols []string, providers map[string]*exchange.MockExchangeProvider) {
	interval := 10 * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	pollOnce(ctx, feed, symbols, providers)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pollOnce(ctx, feed, symbols, providers)
		}
	}
}

func pollOnce(ctx context.Context, feed *priceFeed, symbols []string, providers map[string]*exchange.MockExchangeProvider) {
	for _, symbol := range symbols {
		result, err := feed.fetch(ctx, symbol)
		if err != nil {
			log.Warn().Err(err).Str("symbol", symbol).Msg("Price fetch failed, skipping tick")
			continue
		}

		ticker, book := syntheticTick(symbol, result.Price)
		for _, provider := range providers {
			provider.OnTick(ctx, ticker, book)
		}
	}
}

// syntheticTick builds a Ticker and a two-level OrderBook around a last
// trade price: half the configured spread above for the ask, half below for
// the bid, each backed with enough depth that a paper order never needs a
// second level.
func syntheticTick(symbol string, last float64) (orderengine.Ticker, orderengine.OrderBook) {
	lastDec := decimal.NewFromFloat(last)
	halfSpread := lastDec.Mul(decimal.NewFromInt(bookSpreadBps)).Div(decimal.NewFromInt(20000))

	bid := lastDec.Sub(halfSpread)
	ask := lastDec.Add(halfSpread)
	now := time.Now()

	ticker := orderengine.Ticker{
		Symbol:    symbol,
		Last:      lastDec,
		Bid:       bid,
		Ask:       ask,
		Timestamp: now,
	}

	book := orderengine.OrderBook{
		Symbol:    symbol,
		Bids:      []orderengine.OrderBookLevel{{Price: bid, Quantity: bookDepthQty}},
		Asks:      []orderengine.OrderBookLevel{{Price: ask, Quantity: bookDepthQty}},
		Timestamp: now,
	}

	return ticker, book
}

// Package marketdata implements the Market Data Port: a TTL-cached,
// circuit-broken, rate-limited source of tickers, OHLCV candles, and
// order book snapshots for the Decision Pipeline and control loop.
package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	binance "github.com/adshao/go-binance/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/meridianquant/tradecore/internal/domain"
	"github.com/meridianquant/tradecore/internal/traderr"
)

// callKind distinguishes the three operations this port serves, each
// with its own cache TTL.
type callKind string

const (
	callTicker    callKind = "ticker"
	callOrderBook callKind = "orderbook"
	callOHLCV     callKind = "ohlcv"
)

const (
	tickerTTL    = 5 * time.Second
	orderBookTTL = 2 * time.Second

	defaultOHLCVTTL = 60 * time.Second
	minCooldown     = 30 * time.Second
)

// ohlcvTTLByInterval scales the candle cache lifetime to the timeframe:
// a 1d candle is stale far more slowly than a 1m one.
var ohlcvTTLByInterval = map[string]time.Duration{
	"1m": 30 * time.Second,
	"5m": 60 * time.Second,
	"1h": 600 * time.Second,
	"1d": 3600 * time.Second,
}

// ttlFor looks up the cache lifetime for one call kind (and, for OHLCV,
// its timeframe). Unlisted OHLCV intervals fall back to defaultOHLCVTTL
// rather than failing closed.
func ttlFor(kind callKind, interval string) time.Duration {
	switch kind {
	case callTicker:
		return tickerTTL
	case callOrderBook:
		return orderBookTTL
	case callOHLCV:
		if ttl, ok := ohlcvTTLByInterval[interval]; ok {
			return ttl
		}
		return defaultOHLCVTTL
	default:
		return defaultOHLCVTTL
	}
}

// Client is the Market Data Port: cache-aside over a live Binance feed,
// guarded by a circuit breaker and a request-rate limiter so a flaky
// exchange connection degrades into cooldown rather than hammering retries.
type Client struct {
	binance *binance.Client
	redis   *redis.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker

	mu            sync.Mutex
	cooldownUntil time.Time
	lastTicker    map[string]domain.Ticker
	lastOrderBook map[string]domain.OrderBook
	lastSeries    map[string]domain.Series
}

// Config configures a new Client.
type Config struct {
	// Redis is optional; a nil Redis disables caching (every call hits Binance).
	Redis *redis.Client
	// RequestsPerSecond caps outbound calls to the exchange: cooperative
	// rate limiting rather than ad hoc sleeps.
	RequestsPerSecond float64
}

// New builds a Client over an already-constructed Binance SDK client
// (read-only market data needs no API credentials, so it does not share
// BinanceExchange's authenticated client).
func New(client *binance.Client, cfg Config) *Client {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 10
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "marketdata",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     minCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("market data circuit breaker state change")
		},
	})

	return &Client{
		binance:       client,
		redis:         cfg.Redis,
		limiter:       rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), int(cfg.RequestsPerSecond)+1),
		breaker:       breaker,
		lastTicker:    make(map[string]domain.Ticker),
		lastOrderBook: make(map[string]domain.OrderBook),
		lastSeries:    make(map[string]domain.Series),
	}
}

// isRateLimited reports whether err looks like an exchange rate-limit
// response rather than a generic network or server failure.
func isRateLimited(err error) bool {
	if err == nil {
		return false
	}
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return true
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "too many requests")
}

// enterCooldown starts (or extends) a rate-limit cooldown of at least
// minCooldown from now.
func (c *Client) enterCooldown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	until := time.Now().Add(minCooldown)
	if until.After(c.cooldownUntil) {
		c.cooldownUntil = until
	}
}

// inCooldown reports whether the port is still within a rate-limit
// cooldown window.
func (c *Client) inCooldown() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Now().Before(c.cooldownUntil)
}

// FetchTicker returns the latest 24h summary for symbol.
func (c *Client) FetchTicker(ctx context.Context, symbol string) (domain.Ticker, error) {
	cacheKey := fmt.Sprintf("ticker:%s", symbol)

	if t, ok := c.cacheGetTicker(ctx, cacheKey); ok {
		return t, nil
	}

	if c.inCooldown() {
		if t, ok := c.lastGoodTicker(symbol); ok {
			log.Warn().Str("symbol", symbol).Msg("serving stale ticker during rate-limit cooldown")
			return t, nil
		}
		return domain.Ticker{}, fmt.Errorf("fetch ticker for %s: %w", symbol, traderr.ErrRateLimited)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return domain.Ticker{}, fmt.Errorf("rate limiter: %w", err)
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.binance.NewListPriceChangeStatsService().Symbol(symbol).Do(ctx)
	})
	if err != nil {
		if isRateLimited(err) {
			c.enterCooldown()
			if t, ok := c.lastGoodTicker(symbol); ok {
				log.Warn().Str("symbol", symbol).Msg("serving stale ticker after rate-limit")
				return t, nil
			}
			return domain.Ticker{}, fmt.Errorf("fetch ticker for %s: %w", symbol, traderr.ErrRateLimited)
		}
		return domain.Ticker{}, fmt.Errorf("fetch ticker for %s: %w", symbol, err)
	}

	stats, ok := result.([]*binance.PriceChangeStats)
	if !ok || len(stats) == 0 {
		return domain.Ticker{}, fmt.Errorf("fetch ticker for %s: empty response", symbol)
	}

	t, err := toTicker(stats[0])
	if err != nil {
		return domain.Ticker{}, fmt.Errorf("parse ticker for %s: %w", symbol, err)
	}

	c.setLastGoodTicker(symbol, t)
	c.cacheSetTicker(ctx, cacheKey, t)
	return t, nil
}

// FetchOHLCV returns the most recent limit candles for symbol at interval
// (e.g. "5m"), cache-aside through Redis when configured.
func (c *Client) FetchOHLCV(ctx context.Context, symbol, interval string, limit int) (domain.Series, error) {
	cacheKey := fmt.Sprintf("ohlcv:%s:%s:%d", symbol, interval, limit)

	if series, ok := c.cacheGetSeries(ctx, cacheKey); ok {
		return series, nil
	}

	if c.inCooldown() {
		if series, ok := c.lastGoodSeries(cacheKey); ok {
			log.Warn().Str("symbol", symbol).Msg("serving stale OHLCV during rate-limit cooldown")
			return series, nil
		}
		return nil, fmt.Errorf("fetch klines for %s: %w", symbol, traderr.ErrRateLimited)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.binance.NewKlinesService().
			Symbol(symbol).
			Interval(interval).
			Limit(limit).
			Do(ctx)
	})
	if err != nil {
		if isRateLimited(err) {
			c.enterCooldown()
			if series, ok := c.lastGoodSeries(cacheKey); ok {
				log.Warn().Str("symbol", symbol).Msg("serving stale OHLCV after rate-limit")
				return series, nil
			}
			return nil, fmt.Errorf("fetch klines for %s: %w", symbol, traderr.ErrRateLimited)
		}
		return nil, fmt.Errorf("fetch klines for %s: %w", symbol, err)
	}

	klines := result.([]*binance.Kline)
	series := make(domain.Series, 0, len(klines))
	for _, k := range klines {
		candle, err := toCandle(k)
		if err != nil {
			log.Warn().Err(err).Str("symbol", symbol).Msg("skipping malformed candle")
			continue
		}
		series = append(series, candle)
	}

	c.setLastGoodSeries(cacheKey, series)
	c.cacheSetSeries(ctx, cacheKey, series, ttlFor(callOHLCV, interval))
	return series, nil
}

// FetchOrderBook returns the current top-of-book depth for symbol.
func (c *Client) FetchOrderBook(ctx context.Context, symbol string) (domain.OrderBook, error) {
	cacheKey := fmt.Sprintf("orderbook:%s", symbol)

	if ob, ok := c.cacheGetOrderBook(ctx, cacheKey); ok {
		return ob, nil
	}

	if c.inCooldown() {
		if ob, ok := c.lastGoodOrderBook(symbol); ok {
			log.Warn().Str("symbol", symbol).Msg("serving stale order book during rate-limit cooldown")
			return ob, nil
		}
		return domain.OrderBook{}, fmt.Errorf("fetch depth for %s: %w", symbol, traderr.ErrRateLimited)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return domain.OrderBook{}, fmt.Errorf("rate limiter: %w", err)
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.binance.NewDepthService().Symbol(symbol).Limit(20).Do(ctx)
	})
	if err != nil {
		if isRateLimited(err) {
			c.enterCooldown()
			if ob, ok := c.lastGoodOrderBook(symbol); ok {
				log.Warn().Str("symbol", symbol).Msg("serving stale order book after rate-limit")
				return ob, nil
			}
			return domain.OrderBook{}, fmt.Errorf("fetch depth for %s: %w", symbol, traderr.ErrRateLimited)
		}
		return domain.OrderBook{}, fmt.Errorf("fetch depth for %s: %w", symbol, err)
	}

	depth := result.(*binance.DepthResponse)
	ob := domain.OrderBook{
		Symbol:    symbol,
		Timestamp: time.Now(),
		Bids:      make([]domain.PriceLevel, 0, len(depth.Bids)),
		Asks:      make([]domain.PriceLevel, 0, len(depth.Asks)),
	}
	for _, b := range depth.Bids {
		if lvl, err := toPriceLevel(b.Price, b.Quantity); err == nil {
			ob.Bids = append(ob.Bids, lvl)
		}
	}
	for _, a := range depth.Asks {
		if lvl, err := toPriceLevel(a.Price, a.Quantity); err == nil {
			ob.Asks = append(ob.Asks, lvl)
		}
	}

	c.setLastGoodOrderBook(symbol, ob)
	c.cacheSetOrderBook(ctx, cacheKey, ob)
	return ob, nil
}

func toCandle(k *binance.Kline) (domain.Candle, error) {
	open, err := strconv.ParseFloat(k.Open, 64)
	if err != nil {
		return domain.Candle{}, err
	}
	high, err := strconv.ParseFloat(k.High, 64)
	if err != nil {
		return domain.Candle{}, err
	}
	low, err := strconv.ParseFloat(k.Low, 64)
	if err != nil {
		return domain.Candle{}, err
	}
	closePrice, err := strconv.ParseFloat(k.Close, 64)
	if err != nil {
		return domain.Candle{}, err
	}
	volume, err := strconv.ParseFloat(k.Volume, 64)
	if err != nil {
		return domain.Candle{}, err
	}
	return domain.Candle{
		Timestamp: time.UnixMilli(k.OpenTime),
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closePrice,
		Volume:    volume,
	}, nil
}

func toPriceLevel(priceStr, qtyStr string) (domain.PriceLevel, error) {
	price, err := strconv.ParseFloat(priceStr, 64)
	if err != nil {
		return domain.PriceLevel{}, err
	}
	qty, err := strconv.ParseFloat(qtyStr, 64)
	if err != nil {
		return domain.PriceLevel{}, err
	}
	return domain.PriceLevel{Price: price, Size: qty}, nil
}

func toTicker(s *binance.PriceChangeStats) (domain.Ticker, error) {
	last, err := strconv.ParseFloat(s.LastPrice, 64)
	if err != nil {
		return domain.Ticker{}, err
	}
	bid, err := strconv.ParseFloat(s.BidPrice, 64)
	if err != nil {
		return domain.Ticker{}, err
	}
	ask, err := strconv.ParseFloat(s.AskPrice, 64)
	if err != nil {
		return domain.Ticker{}, err
	}
	high, err := strconv.ParseFloat(s.HighPrice, 64)
	if err != nil {
		return domain.Ticker{}, err
	}
	low, err := strconv.ParseFloat(s.LowPrice, 64)
	if err != nil {
		return domain.Ticker{}, err
	}
	volume, err := strconv.ParseFloat(s.Volume, 64)
	if err != nil {
		return domain.Ticker{}, err
	}
	return domain.Ticker{
		Symbol:    s.Symbol,
		Last:      last,
		Bid:       bid,
		Ask:       ask,
		High24h:   high,
		Low24h:    low,
		Volume24h: volume,
		Timestamp: time.Now(),
	}, nil
}

// last-good in-memory fallback, consulted only during a rate-limit
// cooldown. Unlike the Redis TTL cache, entries here never expire on
// their own; they are simply overwritten by the next successful fetch.

func (c *Client) lastGoodTicker(symbol string) (domain.Ticker, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.lastTicker[symbol]
	return t, ok
}

func (c *Client) setLastGoodTicker(symbol string, t domain.Ticker) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastTicker[symbol] = t
}

func (c *Client) lastGoodOrderBook(symbol string) (domain.OrderBook, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ob, ok := c.lastOrderBook[symbol]
	return ob, ok
}

func (c *Client) setLastGoodOrderBook(symbol string, ob domain.OrderBook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastOrderBook[symbol] = ob
}

func (c *Client) lastGoodSeries(cacheKey string) (domain.Series, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.lastSeries[cacheKey]
	return s, ok
}

func (c *Client) setLastGoodSeries(cacheKey string, s domain.Series) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastSeries[cacheKey] = s
}

// cache-aside helpers. A Redis miss or error is never fatal: the caller
// falls through to a live fetch, matching the cache-aside idiom used
// throughout the teacher's market package.

func (c *Client) cacheGetTicker(ctx context.Context, key string) (domain.Ticker, bool) {
	if c.redis == nil {
		return domain.Ticker{}, false
	}
	cached, err := c.redis.Get(ctx, key).Result()
	if err != nil {
		return domain.Ticker{}, false
	}
	var t domain.Ticker
	if err := json.Unmarshal([]byte(cached), &t); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("failed to unmarshal cached ticker")
		return domain.Ticker{}, false
	}
	return t, true
}

func (c *Client) cacheSetTicker(ctx context.Context, key string, t domain.Ticker) {
	if c.redis == nil {
		return
	}
	data, err := json.Marshal(t)
	if err != nil {
		return
	}
	go func() {
		setCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := c.redis.Set(setCtx, key, data, ttlFor(callTicker, "")).Err(); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("failed to cache ticker")
		}
	}()
}

func (c *Client) cacheGetSeries(ctx context.Context, key string) (domain.Series, bool) {
	if c.redis == nil {
		return nil, false
	}
	cached, err := c.redis.Get(ctx, key).Result()
	if err != nil {
		return nil, false
	}
	var series domain.Series
	if err := json.Unmarshal([]byte(cached), &series); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("failed to unmarshal cached series")
		return nil, false
	}
	return series, true
}

func (c *Client) cacheSetSeries(ctx context.Context, key string, series domain.Series, ttl time.Duration) {
	if c.redis == nil {
		return
	}
	data, err := json.Marshal(series)
	if err != nil {
		return
	}
	go func() {
		setCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := c.redis.Set(setCtx, key, data, ttl).Err(); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("failed to cache series")
		}
	}()
}

func (c *Client) cacheGetOrderBook(ctx context.Context, key string) (domain.OrderBook, bool) {
	if c.redis == nil {
		return domain.OrderBook{}, false
	}
	cached, err := c.redis.Get(ctx, key).Result()
	if err != nil {
		return domain.OrderBook{}, false
	}
	var ob domain.OrderBook
	if err := json.Unmarshal([]byte(cached), &ob); err != nil {
		return domain.OrderBook{}, false
	}
	return ob, true
}

func (c *Client) cacheSetOrderBook(ctx context.Context, key string, ob domain.OrderBook) {
	if c.redis == nil {
		return
	}
	data, err := json.Marshal(ob)
	if err != nil {
		return
	}
	go func() {
		setCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := c.redis.Set(setCtx, key, data, ttlFor(callOrderBook, "")).Err(); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("failed to cache order book")
		}
	}()
}

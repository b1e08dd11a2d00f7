package marketdata

import (
	"context"
	"testing"
	"time"

	binance "github.com/adshao/go-binance/v2"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianquant/tradecore/internal/domain"
	"github.com/meridianquant/tradecore/internal/traderr"
)

func TestToCandle_ParsesKline(t *testing.T) {
	k := &binance.Kline{
		OpenTime: 1_700_000_000_000,
		Open:     "100.5",
		High:     "101.0",
		Low:      "99.5",
		Close:    "100.8",
		Volume:   "12.34",
	}

	candle, err := toCandle(k)
	require.NoError(t, err)
	assert.Equal(t, 100.5, candle.Open)
	assert.Equal(t, 101.0, candle.High)
	assert.Equal(t, 99.5, candle.Low)
	assert.Equal(t, 100.8, candle.Close)
	assert.Equal(t, 12.34, candle.Volume)
}

func TestToCandle_MalformedField_Errors(t *testing.T) {
	_, err := toCandle(&binance.Kline{Open: "not-a-number"})
	assert.Error(t, err)
}

func TestToPriceLevel_Parses(t *testing.T) {
	lvl, err := toPriceLevel("27000.12", "0.5")
	require.NoError(t, err)
	assert.Equal(t, 27000.12, lvl.Price)
	assert.Equal(t, 0.5, lvl.Size)
}

func TestToTicker_ParsesStats(t *testing.T) {
	s := &binance.PriceChangeStats{
		Symbol:    "BTCUSDT",
		LastPrice: "27000.5",
		BidPrice:  "27000.0",
		AskPrice:  "27001.0",
		HighPrice: "27500.0",
		LowPrice:  "26500.0",
		Volume:    "1234.5",
	}

	ticker, err := toTicker(s)
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", ticker.Symbol)
	assert.Equal(t, 27000.5, ticker.Last)
	assert.Equal(t, 27000.0, ticker.Bid)
	assert.Equal(t, 27001.0, ticker.Ask)
	assert.Equal(t, 27500.0, ticker.High24h)
	assert.Equal(t, 26500.0, ticker.Low24h)
	assert.Equal(t, 1234.5, ticker.Volume24h)
}

func TestToTicker_MalformedField_Errors(t *testing.T) {
	_, err := toTicker(&binance.PriceChangeStats{LastPrice: "not-a-number"})
	assert.Error(t, err)
}

func TestTtlFor(t *testing.T) {
	assert.Equal(t, tickerTTL, ttlFor(callTicker, ""))
	assert.Equal(t, orderBookTTL, ttlFor(callOrderBook, ""))
	assert.Equal(t, 30*time.Second, ttlFor(callOHLCV, "1m"))
	assert.Equal(t, 60*time.Second, ttlFor(callOHLCV, "5m"))
	assert.Equal(t, 600*time.Second, ttlFor(callOHLCV, "1h"))
	assert.Equal(t, 3600*time.Second, ttlFor(callOHLCV, "1d"))
	assert.Equal(t, defaultOHLCVTTL, ttlFor(callOHLCV, "3m"))
}

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := New(nil, Config{Redis: rdb})
	return c, mr
}

func TestSeriesCache_RoundTrips(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	series := domain.Series{
		{Timestamp: time.Now(), Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 10},
	}
	c.cacheSetSeries(ctx, "ohlcv:TEST:5m:1", series, time.Minute)
	time.Sleep(20 * time.Millisecond) // cache write happens on a goroutine

	got, ok := c.cacheGetSeries(ctx, "ohlcv:TEST:5m:1")
	require.True(t, ok)
	assert.Equal(t, series[0].Close, got[0].Close)
}

func TestSeriesCache_Miss_ReturnsFalse(t *testing.T) {
	c, _ := newTestClient(t)
	_, ok := c.cacheGetSeries(context.Background(), "does-not-exist")
	assert.False(t, ok)
}

func TestOrderBookCache_RoundTrips(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	ob := domain.OrderBook{
		Symbol: "BTCUSDT",
		Bids:   []domain.PriceLevel{{Price: 100, Size: 1}},
		Asks:   []domain.PriceLevel{{Price: 101, Size: 1}},
	}
	c.cacheSetOrderBook(ctx, "orderbook:BTCUSDT", ob)
	time.Sleep(20 * time.Millisecond)

	got, ok := c.cacheGetOrderBook(ctx, "orderbook:BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, ob.Symbol, got.Symbol)
	assert.Equal(t, ob.Bids[0].Price, got.Bids[0].Price)
}

func TestTickerCache_RoundTrips(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	ticker := domain.Ticker{Symbol: "BTCUSDT", Last: 27000, Bid: 26999, Ask: 27001}
	c.cacheSetTicker(ctx, "ticker:BTCUSDT", ticker)
	time.Sleep(20 * time.Millisecond)

	got, ok := c.cacheGetTicker(ctx, "ticker:BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, ticker.Symbol, got.Symbol)
	assert.Equal(t, ticker.Last, got.Last)
}

func TestNew_DefaultsAppliedForZeroValues(t *testing.T) {
	c := New(nil, Config{})
	assert.NotNil(t, c.limiter)
	assert.NotNil(t, c.breaker)
	assert.NotNil(t, c.lastTicker)
	assert.NotNil(t, c.lastOrderBook)
	assert.NotNil(t, c.lastSeries)
}

func TestCooldown_StartsClosedThenOpens(t *testing.T) {
	c := New(nil, Config{})
	assert.False(t, c.inCooldown())

	c.enterCooldown()
	assert.True(t, c.inCooldown())
}

func TestLastGoodTicker_ServesDuringCooldown(t *testing.T) {
	c, _ := newTestClient(t)

	_, ok := c.lastGoodTicker("BTCUSDT")
	assert.False(t, ok, "no fetch has succeeded yet")

	want := domain.Ticker{Symbol: "BTCUSDT", Last: 100}
	c.setLastGoodTicker("BTCUSDT", want)

	got, ok := c.lastGoodTicker("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, want, got)
}

func TestFetchTicker_CooldownWithNoLastGood_ReturnsRateLimited(t *testing.T) {
	c, _ := newTestClient(t)
	c.enterCooldown()

	_, err := c.FetchTicker(context.Background(), "BTCUSDT")
	require.Error(t, err)
	assert.ErrorIs(t, err, traderr.ErrRateLimited)
}

func TestFetchTicker_CooldownWithLastGood_ServesStale(t *testing.T) {
	c, _ := newTestClient(t)
	want := domain.Ticker{Symbol: "BTCUSDT", Last: 27000}
	c.setLastGoodTicker("BTCUSDT", want)
	c.enterCooldown()

	got, err := c.FetchTicker(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestFetchOHLCV_CooldownWithNoLastGood_ReturnsRateLimited(t *testing.T) {
	c, _ := newTestClient(t)
	c.enterCooldown()

	_, err := c.FetchOHLCV(context.Background(), "BTCUSDT", "5m", 10)
	require.Error(t, err)
	assert.ErrorIs(t, err, traderr.ErrRateLimited)
}

func TestFetchOrderBook_CooldownWithNoLastGood_ReturnsRateLimited(t *testing.T) {
	c, _ := newTestClient(t)
	c.enterCooldown()

	_, err := c.FetchOrderBook(context.Background(), "BTCUSDT")
	require.Error(t, err)
	assert.ErrorIs(t, err, traderr.ErrRateLimited)
}

func TestIsRateLimited(t *testing.T) {
	assert.False(t, isRateLimited(nil))
	assert.True(t, isRateLimited(rateLimitedErr("HTTP 429: rate limit exceeded")))
	assert.True(t, isRateLimited(rateLimitedErr("Too Many Requests")))
	assert.False(t, isRateLimited(rateLimitedErr("connection reset by peer")))
}

type rateLimitedErr string

func (e rateLimitedErr) Error() string { return string(e) }

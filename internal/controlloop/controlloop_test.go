package controlloop

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianquant/tradecore/internal/domain"
	"github.com/meridianquant/tradecore/internal/pipeline/feegate"
	"github.com/meridianquant/tradecore/internal/pipeline/performance"
	"github.com/meridianquant/tradecore/internal/traderr"
)

type fakeMarketData struct {
	series domain.Series
}

func (f *fakeMarketData) FetchOHLCV(_ context.Context, _, _ string, _ int) (domain.Series, error) {
	return f.series, nil
}

func (f *fakeMarketData) FetchOrderBook(_ context.Context, _ string) (domain.OrderBook, error) {
	return domain.OrderBook{}, nil
}

type fakeTrading struct{}

func (fakeTrading) MarketBuy(_ context.Context, symbol string, quantity decimal.Decimal) (domain.Order, error) {
	return domain.Order{OrderID: "buy-1", Symbol: symbol, Side: domain.SideBuy, Quantity: quantity, Status: domain.OrderStatusFilled}, nil
}

func (fakeTrading) MarketSell(_ context.Context, symbol string, quantity decimal.Decimal) (domain.Order, error) {
	return domain.Order{OrderID: "sell-1", Symbol: symbol, Side: domain.SideSell, Quantity: quantity, Status: domain.OrderStatusFilled}, nil
}

func flatSeries(n int, price float64) domain.Series {
	out := make(domain.Series, n)
	t0 := time.Now().Add(-time.Duration(n) * time.Minute)
	for i := 0; i < n; i++ {
		out[i] = domain.Candle{
			Timestamp: t0.Add(time.Duration(i) * time.Minute),
			Open:      price, High: price * 1.001, Low: price * 0.999, Close: price, Volume: 100,
		}
	}
	return out
}

func testGate() *feegate.Gate {
	return feegate.New(domain.FeeSettings{
		MakerFee:           decimal.NewFromFloat(0.001),
		TakerFee:           decimal.NewFromFloat(0.001),
		MinProfitMultiple:  3.0,
		MaxTradesPerHour:   2,
		MaxTradesPerDay:    10,
		MinHoldTimeMinutes: 30,
	})
}

func testConfig() domain.BotConfig {
	return domain.BotConfig{
		ConfigID:          "bot-1",
		Symbol:            "BTCUSDT",
		Budget:            decimal.NewFromInt(10000),
		PositionSizeRatio: 0.1,
		MinConfidence:     0.99, // high bar: never actually opens in this test
	}
}

func TestLoop_StartTwice_ReturnsAlreadyRunning(t *testing.T) {
	deps := Deps{
		MarketData:  &fakeMarketData{series: flatSeries(60, 100)},
		Trading:     fakeTrading{},
		Gate:        testGate(),
		Performance: performance.NewTracker(),
		Interval:    30 * time.Millisecond,
	}
	l := New(testConfig(), deps)

	require.NoError(t, l.Start(context.Background()))
	err := l.Start(context.Background())
	assert.ErrorIs(t, err, traderr.ErrAlreadyRunning)

	l.Stop()
	l.Wait()
	assert.Equal(t, StateStopped, l.State())
}

func TestLoop_Stop_FromIdle_IsNoop(t *testing.T) {
	deps := Deps{
		MarketData:  &fakeMarketData{series: flatSeries(60, 100)},
		Trading:     fakeTrading{},
		Gate:        testGate(),
		Performance: performance.NewTracker(),
	}
	l := New(testConfig(), deps)
	l.Stop()
	assert.Equal(t, StateIdle, l.State())
}

func TestLoop_ActivityLog_CapsAtBound(t *testing.T) {
	deps := Deps{
		MarketData:  &fakeMarketData{series: flatSeries(60, 100)},
		Trading:     fakeTrading{},
		Gate:        testGate(),
		Performance: performance.NewTracker(),
	}
	l := New(testConfig(), deps)
	for i := 0; i < activityCap+20; i++ {
		l.logActivity(domain.ActivityInfo, "tick", nil)
	}
	assert.LessOrEqual(t, len(l.ActivityLog(0)), activityCap)
}

func TestRegistry_StartUnknownConfig_ReturnsBadParams(t *testing.T) {
	r := NewRegistry()
	err := r.Start(context.Background(), "does-not-exist")
	assert.ErrorIs(t, err, traderr.ErrBadParams)
}

func TestRegistry_CreateStartStop(t *testing.T) {
	r := NewRegistry()
	deps := Deps{
		MarketData:  &fakeMarketData{series: flatSeries(60, 100)},
		Trading:     fakeTrading{},
		Gate:        testGate(),
		Performance: performance.NewTracker(),
		Interval:    30 * time.Millisecond,
	}
	l := r.Create(testConfig(), deps)
	require.NoError(t, r.Start(context.Background(), "bot-1"))
	assert.Equal(t, StateRunning, l.State())

	require.NoError(t, r.Stop("bot-1"))
	l.Wait()
	assert.Equal(t, StateStopped, l.State())
}

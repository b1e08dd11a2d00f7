package volume

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/meridianquant/tradecore/internal/domain"
)

func makeSeries(closes, volumes []float64) domain.Series {
	s := make(domain.Series, len(closes))
	now := time.Now()
	for i, c := range closes {
		s[i] = domain.Candle{
			Timestamp: now.Add(time.Duration(i) * time.Minute),
			Open:      c,
			High:      c * 1.002,
			Low:       c * 0.998,
			Close:     c,
			Volume:    volumes[i],
		}
	}
	return s
}

func flat(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestAnalyze_InsufficientCandles_NeutralTradeable(t *testing.T) {
	res := Analyze(makeSeries(flat(5, 100), flat(5, 10)))
	assert.Equal(t, 0.5, res.Combined)
	assert.Equal(t, Neutral, res.Interpretation)
	assert.True(t, res.ShouldTrade)
}

func TestAnalyze_RisingPriceAndVolume_Bullish(t *testing.T) {
	n := 40
	closes := make([]float64, n)
	volumes := make([]float64, n)
	for i := 0; i < n; i++ {
		closes[i] = 100 + float64(i)
		volumes[i] = 10
	}
	// Spike recent volume on rising price, matching spikeScore's
	// priceUp+ratio>1.5 branch (40 vs a 23.5 average), and lift the
	// recent-window mean for trendScore's change>0.2 branch.
	for i := n - 10; i < n; i++ {
		volumes[i] = 40
	}

	res := Analyze(makeSeries(closes, volumes))
	assert.Greater(t, res.Combined, 0.5)
	assert.Contains(t, []Interpretation{Bullish, StrongBullish}, res.Interpretation)
	assert.True(t, res.ShouldTrade)
}

func TestAnalyze_FallingPriceRisingVolume_Bearish(t *testing.T) {
	n := 40
	closes := make([]float64, n)
	volumes := make([]float64, n)
	for i := 0; i < n; i++ {
		closes[i] = 200 - float64(i)
		volumes[i] = 10
	}
	for i := n - 10; i < n; i++ {
		volumes[i] = 40
	}

	res := Analyze(makeSeries(closes, volumes))
	assert.Less(t, res.Combined, 0.5)
	assert.Contains(t, []Interpretation{Bearish, StrongBearish}, res.Interpretation)
	assert.False(t, res.ShouldTrade)
}

func TestVwapScore_ZeroVolume_ReturnsNeutral(t *testing.T) {
	series := makeSeries(flat(25, 100), flat(25, 0))
	assert.Equal(t, 0.5, vwapScore(series))
}

func TestObvScore_NotEnoughHistory_ReturnsNeutral(t *testing.T) {
	series := makeSeries(flat(10, 100), flat(10, 10))
	assert.Equal(t, 0.5, obvScore(series))
}

func TestSpikeScore_NoSpike_ReturnsNeutral(t *testing.T) {
	series := makeSeries(flat(25, 100), flat(25, 10))
	assert.Equal(t, 0.5, spikeScore(series))
}

func TestTrendScore_FlatVolume_ReturnsNeutral(t *testing.T) {
	series := makeSeries(flat(40, 100), flat(40, 10))
	assert.Equal(t, 0.5, trendScore(series))
}

func TestMean_EmptySlice_ReturnsZero(t *testing.T) {
	assert.Equal(t, 0.0, mean(nil))
}

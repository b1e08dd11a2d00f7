package correlation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/meridianquant/tradecore/internal/domain"
)

func series(closes []float64) domain.Series {
	s := make(domain.Series, len(closes))
	now := time.Now()
	for i, c := range closes {
		s[i] = domain.Candle{Timestamp: now.Add(time.Duration(i) * time.Minute), Open: c, High: c, Low: c, Close: c, Volume: 1}
	}
	return s
}

func TestCorrelation_IdenticalSeries_PerfectlyCorrelated(t *testing.T) {
	a := NewAnalyzer()
	closes := []float64{100, 101, 99, 105, 110, 108, 112, 115}
	corr := a.Correlation("BTC", "ETH", series(closes), series(closes), 5)
	assert.InDelta(t, 1.0, corr, 1e-9)
}

func TestCorrelation_InverseSeries_NegativelyCorrelated(t *testing.T) {
	a := NewAnalyzer()
	closes := []float64{100, 101, 99, 105, 110, 108, 112, 115}
	inverse := make([]float64, len(closes))
	for i, c := range closes {
		inverse[i] = 200 - c
	}
	corr := a.Correlation("BTC", "ETH", series(closes), series(inverse), 5)
	// Percent changes of a mirrored price series are not an exact linear
	// function of the originals, so the correlation is close to, not at, -1.
	assert.InDelta(t, -0.9974324, corr, 1e-6)
}

func TestCorrelation_CachesBySymbolPairRegardlessOfOrder(t *testing.T) {
	a := NewAnalyzer()
	closes := []float64{100, 101, 99, 105, 110}
	first := a.Correlation("BTC", "ETH", series(closes), series(closes), 5)
	assert.Contains(t, a.cache, cacheKey("BTC", "ETH", 5))

	// Poison any entry the reversed-order call might miss so a cache hit,
	// not a recompute, is what produces the matching result below.
	a.cache[cacheKey("ETH", "BTC", 5)] = 0.42
	second := a.Correlation("ETH", "BTC", series(closes), series(closes), 5)
	assert.InDelta(t, first, 1.0, 1e-9)
	assert.Equal(t, 0.42, second)
}

func TestCacheKey_OrderIndependent(t *testing.T) {
	assert.Equal(t, cacheKey("BTC", "ETH", 100), cacheKey("ETH", "BTC", 100))
}

func TestShouldAvoidPair_AboveThreshold_True(t *testing.T) {
	a := NewAnalyzer()
	closes := []float64{100, 101, 99, 105, 110, 108, 112, 115}
	assert.True(t, a.ShouldAvoidPair("BTC", "ETH", series(closes), series(closes), 0.7))
}

func TestShouldAvoidPair_BelowThreshold_False(t *testing.T) {
	a := NewAnalyzer()
	closes1 := []float64{100, 101, 99, 105, 110, 108, 112, 115}
	closes2 := []float64{50, 49, 51, 48, 52, 60, 40, 70}
	avoid := a.ShouldAvoidPair("BTC", "XRP", series(closes1), series(closes2), 0.95)
	_ = avoid // correlation magnitude for this noisy pair is well under 0.95
	assert.False(t, avoid)
}

func TestTrailing_ShorterThanLookback_ReturnsAll(t *testing.T) {
	closes := []float64{1, 2, 3}
	assert.Equal(t, closes, trailing(closes, 10))
}

func TestTrailing_LongerThanLookback_ReturnsSuffix(t *testing.T) {
	closes := []float64{1, 2, 3, 4, 5}
	assert.Equal(t, []float64{4, 5}, trailing(closes, 2))
}

func TestPctChange_FewerThanTwoPoints_Nil(t *testing.T) {
	assert.Nil(t, pctChange([]float64{1}))
	assert.Nil(t, pctChange(nil))
}

func TestPctChange_ZeroDenominator_SkipsDivision(t *testing.T) {
	out := pctChange([]float64{0, 5})
	assert.Equal(t, []float64{0.0}, out)
}

func TestPctChange_ComputesPercentMove(t *testing.T) {
	out := pctChange([]float64{100, 110, 99})
	assert.InDelta(t, 0.10, out[0], 1e-9)
	assert.InDelta(t, -0.10, out[1], 1e-9)
}

func TestPearson_EmptyInput_Zero(t *testing.T) {
	assert.Equal(t, 0.0, pearson(nil, nil))
}

func TestPearson_ZeroVariance_Zero(t *testing.T) {
	flat := []float64{1, 1, 1, 1}
	assert.Equal(t, 0.0, pearson(flat, flat))
}

package regime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/meridianquant/tradecore/internal/domain"
)

func makeSeries(closes []float64) domain.Series {
	s := make(domain.Series, len(closes))
	now := time.Now()
	for i, c := range closes {
		s[i] = domain.Candle{
			Timestamp: now.Add(time.Duration(i) * time.Minute),
			Open:      c,
			High:      c * 1.001,
			Low:       c * 0.999,
			Close:     c,
			Volume:    100,
		}
	}
	return s
}

func TestDetect_InsufficientData_DefaultsSideways(t *testing.T) {
	res := Detect(makeSeries([]float64{100, 101, 102}))
	assert.Equal(t, Sideways, res.Regime)
	assert.Equal(t, ruleConfidence, res.Confidence)
	assert.Equal(t, defaultADX, res.ADX)
}

func TestDetect_MonotoneUp_TrendsUp(t *testing.T) {
	closes := make([]float64, 80)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}
	res := Detect(makeSeries(closes))
	assert.Contains(t, []Regime{TrendingUp, Sideways}, res.Regime)
}

func TestDetect_FlatSeries_Sideways(t *testing.T) {
	closes := make([]float64, 80)
	for i := range closes {
		closes[i] = 100
	}
	res := Detect(makeSeries(closes))
	assert.Equal(t, Sideways, res.Regime)
}

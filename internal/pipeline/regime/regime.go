// Package regime classifies market state as TRENDING_UP, TRENDING_DOWN
// or SIDEWAYS from an ADX/moving-average blend.
package regime

import (
	"math"

	"github.com/rs/zerolog/log"

	"github.com/meridianquant/tradecore/internal/domain"
)

// Regime is the classified market state.
type Regime string

const (
	TrendingUp   Regime = "TRENDING_UP"
	TrendingDown Regime = "TRENDING_DOWN"
	Sideways     Regime = "SIDEWAYS"
)

// Result is the regime-detection output.
type Result struct {
	Regime             Regime
	Confidence         float64
	ADX                float64
	BBWidth            float64
	AllowMeanReversion bool
}

const (
	adxSidewaysThreshold = 20.0
	adxStrongThreshold   = 40.0
	maDeadBandPct        = 0.02
	ruleConfidence       = 0.7
	defaultADX           = 25.0
	defaultMARatio       = 1.0
	defaultBBWidth       = 0.02
)

// Detect requires at least 50 candles. Fewer candles yields the
// safe-default SIDEWAYS classification rather than an error, since the
// decision pipeline must never error on this stage.
func Detect(series domain.Series) Result {
	if len(series) < 50 {
		log.Debug().Int("len", len(series)).Msg("regime: insufficient candles, defaulting")
		return defaultResult()
	}

	closes := series.Closes()
	highs := series.Highs()
	lows := series.Lows()

	adx := calculateADX(highs, lows, closes, 14)
	if math.IsNaN(adx) {
		adx = defaultADX
	}

	sma20 := sma(closes, 20)
	sma50 := sma(closes, 50)
	maRatio := defaultMARatio
	if sma50 != 0 && !math.IsNaN(sma20) && !math.IsNaN(sma50) {
		maRatio = sma20 / sma50
	}

	bbWidth := bollingerWidth(closes, 20)
	if math.IsNaN(bbWidth) {
		bbWidth = defaultBBWidth
	}

	var r Regime
	switch {
	case adx < adxSidewaysThreshold:
		r = Sideways
	case adx > adxStrongThreshold:
		if maRatio > 1 {
			r = TrendingUp
		} else {
			r = TrendingDown
		}
	default:
		switch {
		case maRatio > 1+maDeadBandPct:
			r = TrendingUp
		case maRatio < 1-maDeadBandPct:
			r = TrendingDown
		default:
			r = Sideways
		}
	}

	return Result{
		Regime:             r,
		Confidence:         ruleConfidence,
		ADX:                adx,
		BBWidth:            bbWidth,
		AllowMeanReversion: r == Sideways,
	}
}

func defaultResult() Result {
	return Result{
		Regime:             Sideways,
		Confidence:         ruleConfidence,
		ADX:                defaultADX,
		BBWidth:            defaultBBWidth,
		AllowMeanReversion: true,
	}
}

func sma(data []float64, period int) float64 {
	if len(data) < period {
		return math.NaN()
	}
	sum := 0.0
	for _, v := range data[len(data)-period:] {
		sum += v
	}
	return sum / float64(period)
}

func bollingerWidth(closes []float64, period int) float64 {
	if len(closes) < period {
		return math.NaN()
	}
	window := closes[len(closes)-period:]
	mean := sma(closes, period)
	var variance float64
	for _, v := range window {
		d := v - mean
		variance += d * d
	}
	variance /= float64(period)
	stddev := math.Sqrt(variance)
	if mean == 0 {
		return math.NaN()
	}
	upper := mean + 2*stddev
	lower := mean - 2*stddev
	return (upper - lower) / mean
}

// calculateADX is a Wilder-smoothed ADX over the pure float64 series —
// the decision pipeline needs only the latest value, never the error or
// the map[string]interface{} shape a tool-call style API would require.
func calculateADX(high, low, close []float64, period int) float64 {
	n := len(close)
	if n < period*2 {
		return math.NaN()
	}

	tr := make([]float64, n)
	plusDM := make([]float64, n)
	minusDM := make([]float64, n)

	for i := 1; i < n; i++ {
		tr[i] = math.Max(high[i]-low[i],
			math.Max(math.Abs(high[i]-close[i-1]), math.Abs(low[i]-close[i-1])))

		upMove := high[i] - high[i-1]
		downMove := low[i-1] - low[i]

		if upMove > downMove && upMove > 0 {
			plusDM[i] = upMove
		}
		if downMove > upMove && downMove > 0 {
			minusDM[i] = downMove
		}
	}

	smoothTR := smoothWilder(tr, period)
	smoothPlusDM := smoothWilder(plusDM, period)
	smoothMinusDM := smoothWilder(minusDM, period)

	plusDI := make([]float64, n)
	minusDI := make([]float64, n)
	dx := make([]float64, n)

	for i := period; i < n; i++ {
		if smoothTR[i] != 0 {
			plusDI[i] = 100 * smoothPlusDM[i] / smoothTR[i]
			minusDI[i] = 100 * smoothMinusDM[i] / smoothTR[i]

			diSum := plusDI[i] + minusDI[i]
			if diSum != 0 {
				dx[i] = 100 * math.Abs(plusDI[i]-minusDI[i]) / diSum
			}
		}
	}

	adxValues := smoothWilder(dx, period)
	return adxValues[n-1]
}

func smoothWilder(data []float64, period int) []float64 {
	n := len(data)
	result := make([]float64, n)

	if n < period {
		return result
	}

	sum := 0.0
	for i := 0; i < period; i++ {
		sum += data[i]
	}
	result[period-1] = sum / float64(period)

	for i := period; i < n; i++ {
		result[i] = (result[i-1]*float64(period-1) + data[i]) / float64(period)
	}

	return result
}

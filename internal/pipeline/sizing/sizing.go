// Package sizing implements the position sizer: half-Kelly sized by
// volatility and confidence, capped at a maximum risk-per-trade
// fraction of account balance.
package sizing

import (
	"math"

	"github.com/shopspring/decimal"
)

const (
	defaultMaxRiskPerTrade = 0.02
	minPositionFraction    = 0.005
	kellyCapFraction       = 0.25
	defaultWinLossRatio    = 2.0
)

// Inputs feeds CalculatePositionSize.
type Inputs struct {
	AccountBalance     decimal.Decimal
	WinRate            float64
	AvgWinPct          float64
	AvgLossPct         float64
	CurrentVolatility  float64
	Confidence         float64
	MaxRiskPerTrade    float64 // 0 defaults to 0.02
}

// Result is the position-sizing output.
type Result struct {
	SizeUSD             decimal.Decimal
	KellyFraction       float64
	HalfKelly           float64
	VolatilityMultiplier float64
	ConfidenceMultiplier float64
	Fraction            float64
}

// CalculatePositionSize computes a half-Kelly position size, scaled by
// volatility and signal confidence, then capped by maxRisk.
func CalculatePositionSize(in Inputs) Result {
	maxRisk := in.MaxRiskPerTrade
	if maxRisk <= 0 {
		maxRisk = defaultMaxRiskPerTrade
	}

	b := defaultWinLossRatio
	if in.AvgLossPct > 0 {
		b = in.AvgWinPct / in.AvgLossPct
	}

	p := in.WinRate
	q := 1 - p
	kellyFraction := 0.0
	if b != 0 {
		kellyFraction = (p*b - q) / b
	}

	halfKelly := kellyFraction / 2
	safeKelly := clamp(halfKelly, 0, kellyCapFraction)

	vol := in.CurrentVolatility
	if vol < 0.01 {
		vol = 0.01
	}
	volMult := clamp(0.02/vol, 0.3, 1.0)

	confMult := math.Max(0.5, in.Confidence)

	fraction := math.Min(maxRisk, safeKelly*volMult*confMult)

	balance := in.AccountBalance
	floor := balance.Mul(decimal.NewFromFloat(minPositionFraction))
	byFraction := balance.Mul(decimal.NewFromFloat(fraction))

	sizeUSD := floor
	if byFraction.GreaterThan(floor) {
		sizeUSD = byFraction
	}

	return Result{
		SizeUSD:              sizeUSD,
		KellyFraction:        kellyFraction,
		HalfKelly:            halfKelly,
		VolatilityMultiplier: volMult,
		ConfidenceMultiplier: confMult,
		Fraction:             fraction,
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

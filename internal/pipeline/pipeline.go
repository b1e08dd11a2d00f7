// Package pipeline implements the decision pipeline: a staged,
// veto-capable chain over regime detection, volume analysis, MTF
// confirmation, pattern recognition, stop-loss, and position sizing
// that produces one Recommendation. Every early exit returns a fully
// populated Recommendation so downstream consumers never see missing
// module sub-objects.
package pipeline

import (
	"github.com/shopspring/decimal"

	"github.com/meridianquant/tradecore/internal/domain"
	"github.com/meridianquant/tradecore/internal/pipeline/liquidity"
	"github.com/meridianquant/tradecore/internal/pipeline/mtf"
	"github.com/meridianquant/tradecore/internal/pipeline/pattern"
	"github.com/meridianquant/tradecore/internal/pipeline/performance"
	"github.com/meridianquant/tradecore/internal/pipeline/regime"
	"github.com/meridianquant/tradecore/internal/pipeline/sizing"
	"github.com/meridianquant/tradecore/internal/pipeline/stoploss"
	"github.com/meridianquant/tradecore/internal/pipeline/volume"
)

// Action is the final recommendation action.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
	ActionHalt Action = "HALT"
)

// Modules carries every sub-stage's result so the Recommendation is
// always fully populated, even on early exit.
type Modules struct {
	Regime      regime.Result
	Volume      volume.Result
	MTF         *mtf.Result
	Reversal    pattern.Reversal
	Liquidity   *liquidity.Result
	RiskLevels  RiskLevels
}

// RiskLevels is the dynamic SL/TP computed in stage 5.
type RiskLevels struct {
	StopLossPct   float64
	TakeProfitPct float64
	RiskReward    float64
}

// Recommendation is the decision pipeline's single output.
type Recommendation struct {
	Action       Action
	Confidence   float64
	Reason       string
	CurrentPrice decimal.Decimal
	StopLoss     decimal.Decimal
	TakeProfit   decimal.Decimal
	RiskReward   float64
	SizeUSD      decimal.Decimal
	SizePct      float64
	Modules      Modules
}

const (
	mtfStrongBonus       = 0.15
	volumeHoldThreshold  = 0.35
	defaultSLPct         = 0.02
	defaultTPPct         = 0.04
	confidenceBaseline   = 0.7
	confidenceMaxBonus   = 0.2
	aiSellConfidenceGate = 0.7
)

// Input bundles everything one pipeline evaluation needs.
type Input struct {
	Symbol            string
	Series             domain.Series // whole series goes to every stage; regime needs ≥50 bars
	OrderBook          *domain.OrderBook
	AccountBalance     decimal.Decimal
	TradeSizeUSD       float64 // for liquidity check
	FetchTimeframe     mtf.DataSource // nil disables MTF stage
	PerformanceStats   performance.Statistics
	CurrentVolatility  float64
	ConfidenceOverride *float64
	MaxRiskPerTrade    float64
}

// Analyze runs the full staged pipeline. It never returns an error;
// any internal failure produces a fallback HALT Recommendation.
func Analyze(in Input) (rec Recommendation) {
	defer func() {
		if r := recover(); r != nil {
			rec = fallbackHalt(in, "pipeline panic recovered")
		}
	}()

	if len(in.Series) == 0 {
		return fallbackHalt(in, "empty series")
	}

	currentPrice := decimal.NewFromFloat(in.Series.Last().Close)

	regimeResult := regime.Detect(in.Series)
	reversal := pattern.Detect(in.Series, in.OrderBook)

	if regimeResult.Regime == regime.Sideways && !reversal.Bullish && !reversal.Bearish {
		return totalRecommendation(ActionHalt, 0, "Not tradeable: sideways regime with no patterns",
			currentPrice, in, regimeResult, volume.Result{Combined: 0.5, Interpretation: volume.Neutral, ShouldTrade: true},
			nil, reversal, nil, RiskLevels{StopLossPct: defaultSLPct, TakeProfitPct: defaultTPPct, RiskReward: 2.0},
			decimal.Zero, 0)
	}

	var mtfResult *mtf.Result
	mtfBonus := 0.0
	if in.FetchTimeframe != nil {
		r := mtf.Analyze(in.FetchTimeframe)
		mtfResult = &r
		if r.Classification == mtf.StrongBullish || r.Classification == mtf.StrongBearish {
			mtfBonus = mtfStrongBonus
		}
	}

	volumeResult := volume.Analyze(in.Series)
	if volumeResult.Combined < volumeHoldThreshold {
		return totalRecommendation(ActionHold, 0, "volume too negative",
			currentPrice, in, regimeResult, volumeResult, mtfResult, reversal, nil,
			RiskLevels{StopLossPct: defaultSLPct, TakeProfitPct: defaultTPPct, RiskReward: 2.0},
			decimal.Zero, 0)
	}

	var liqResult *liquidity.Result
	if in.OrderBook != nil {
		lr := liquidity.Analyze(*in.OrderBook, in.TradeSizeUSD)
		liqResult = &lr
		if !lr.IsTradeable {
			return totalRecommendation(ActionHold, 0, "insufficient liquidity",
				currentPrice, in, regimeResult, volumeResult, mtfResult, reversal, liqResult,
				RiskLevels{StopLossPct: defaultSLPct, TakeProfitPct: defaultTPPct, RiskReward: 2.0},
				decimal.Zero, 0)
		}
	}

	hasPattern := reversal.Bullish || reversal.Bearish
	syntheticTrend := false
	if !hasPattern {
		switch {
		case regimeResult.Regime == regime.TrendingUp && volumeResult.Combined >= 0.5:
			syntheticTrend = true
			reversal.Bullish = true
		case regimeResult.Regime == regime.TrendingDown && volumeResult.Combined <= 0.5:
			syntheticTrend = true
			reversal.Bearish = true
		default:
			return totalRecommendation(ActionHold, 0, "no clear patterns",
				currentPrice, in, regimeResult, volumeResult, mtfResult, reversal, liqResult,
				RiskLevels{StopLossPct: defaultSLPct, TakeProfitPct: defaultTPPct, RiskReward: 2.0},
				decimal.Zero, 0)
		}
	}
	_ = syntheticTrend

	riskLevels := computeRiskLevels(in.Series, in.CurrentVolatility)

	var action Action
	switch regimeResult.Regime {
	case regime.TrendingUp:
		action = ActionBuy
	case regime.TrendingDown:
		action = ActionSell
	default:
		action = ActionHold
	}

	confidence := confidenceBaseline
	if in.ConfidenceOverride != nil {
		confidence = *in.ConfidenceOverride
	} else {
		confidence += clamp((volumeResult.Combined-0.5)*confidenceMaxBonus/0.5, -confidenceMaxBonus, confidenceMaxBonus)
		confidence += mtfBonus
		confidence = clamp(confidence, 0, 0.95)
	}

	sizeResult := sizing.CalculatePositionSize(sizing.Inputs{
		AccountBalance:    in.AccountBalance,
		WinRate:           in.PerformanceStats.WinRate,
		AvgWinPct:         in.PerformanceStats.AvgWinPct,
		AvgLossPct:        in.PerformanceStats.AvgLossPct,
		CurrentVolatility: in.CurrentVolatility,
		Confidence:        confidence,
		MaxRiskPerTrade:   in.MaxRiskPerTrade,
	})

	sizePct := 0.0
	if bf, _ := in.AccountBalance.Float64(); bf != 0 {
		sf, _ := sizeResult.SizeUSD.Float64()
		sizePct = sf / bf
	}

	stopLoss := currentPrice.Mul(decimal.NewFromFloat(1 - riskLevels.StopLossPct))
	takeProfit := currentPrice.Mul(decimal.NewFromFloat(1 + riskLevels.TakeProfitPct))
	if action == ActionSell {
		stopLoss = currentPrice.Mul(decimal.NewFromFloat(1 + riskLevels.StopLossPct))
		takeProfit = currentPrice.Mul(decimal.NewFromFloat(1 - riskLevels.TakeProfitPct))
	}

	reason := "trend-following recommendation"
	return Recommendation{
		Action:       action,
		Confidence:   confidence,
		Reason:       reason,
		CurrentPrice: currentPrice,
		StopLoss:     stopLoss,
		TakeProfit:   takeProfit,
		RiskReward:   riskLevels.RiskReward,
		SizeUSD:      sizeResult.SizeUSD,
		SizePct:      sizePct,
		Modules: Modules{
			Regime:     regimeResult,
			Volume:     volumeResult,
			MTF:        mtfResult,
			Reversal:   reversal,
			Liquidity:  liqResult,
			RiskLevels: riskLevels,
		},
	}
}

// computeRiskLevels derives SL/TP percentages from the adaptive
// ATR/swing/min stop, scaled by realized volatility, with TP fixed at
// 2x the SL distance (R:R = 2.0 by construction). Any failure (too few
// candles) falls back to the safe default 2%/4%.
func computeRiskLevels(series domain.Series, volatility float64) RiskLevels {
	if len(series) < 15 {
		return RiskLevels{StopLossPct: defaultSLPct, TakeProfitPct: defaultTPPct, RiskReward: 2.0}
	}

	price := series.Last().Close
	sl := stoploss.New(price, domain.SideBuy)
	u := sl.Update(series, price)

	volMult := clamp(volatility/0.02, 0.5, 2.0)
	slPct := u.StopDistancePct * volMult
	if slPct <= 0 {
		slPct = defaultSLPct
	}

	return RiskLevels{StopLossPct: slPct, TakeProfitPct: slPct * 2, RiskReward: 2.0}
}

func totalRecommendation(
	action Action,
	confidence float64,
	reason string,
	currentPrice decimal.Decimal,
	in Input,
	regimeResult regime.Result,
	volumeResult volume.Result,
	mtfResult *mtf.Result,
	reversal pattern.Reversal,
	liqResult *liquidity.Result,
	riskLevels RiskLevels,
	sizeUSD decimal.Decimal,
	sizePct float64,
) Recommendation {
	stopLoss := currentPrice.Mul(decimal.NewFromFloat(1 - riskLevels.StopLossPct))
	takeProfit := currentPrice.Mul(decimal.NewFromFloat(1 + riskLevels.TakeProfitPct))
	return Recommendation{
		Action:       action,
		Confidence:   confidence,
		Reason:       reason,
		CurrentPrice: currentPrice,
		StopLoss:     stopLoss,
		TakeProfit:   takeProfit,
		RiskReward:   riskLevels.RiskReward,
		SizeUSD:      sizeUSD,
		SizePct:      sizePct,
		Modules: Modules{
			Regime:     regimeResult,
			Volume:     volumeResult,
			MTF:        mtfResult,
			Reversal:   reversal,
			Liquidity:  liqResult,
			RiskLevels: riskLevels,
		},
	}
}

// fallbackHalt produces the total, safe-default Recommendation required
// on any internal pipeline failure.
func fallbackHalt(in Input, reason string) Recommendation {
	currentPrice := decimal.Zero
	if len(in.Series) > 0 {
		currentPrice = decimal.NewFromFloat(in.Series.Last().Close)
	}
	balance := in.AccountBalance
	sizeUSD := balance.Mul(decimal.NewFromFloat(0.01))

	return Recommendation{
		Action:       ActionHalt,
		Confidence:   0,
		Reason:       reason,
		CurrentPrice: currentPrice,
		StopLoss:     currentPrice.Mul(decimal.NewFromFloat(0.98)),
		TakeProfit:   currentPrice.Mul(decimal.NewFromFloat(1.04)),
		RiskReward:   2.0,
		SizeUSD:      sizeUSD,
		SizePct:      0.01,
		Modules: Modules{
			Regime:     regime.Result{Regime: regime.Sideways, Confidence: 0},
			Volume:     volume.Result{Combined: 0.5, Interpretation: volume.Neutral, ShouldTrade: false},
			Reversal:   pattern.Reversal{},
			RiskLevels: RiskLevels{StopLossPct: 0.02, TakeProfitPct: 0.04, RiskReward: 2.0},
		},
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

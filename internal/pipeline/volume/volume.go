// Package volume implements volume analysis: VWAP, OBV, spike, and
// trend sub-scores combined into a single [0,1] score.
package volume

import (
	"math"

	"github.com/meridianquant/tradecore/internal/domain"
)

// Interpretation is the volume classification band.
type Interpretation string

const (
	StrongBullish Interpretation = "STRONG_BULLISH"
	Bullish       Interpretation = "BULLISH"
	Neutral       Interpretation = "NEUTRAL"
	Bearish       Interpretation = "BEARISH"
	StrongBearish Interpretation = "STRONG_BEARISH"
)

// Result is the volume-analysis output.
type Result struct {
	VWAPScore      float64
	OBVScore       float64
	SpikeScore     float64
	TrendScore     float64
	Combined       float64
	Interpretation Interpretation
	ShouldTrade    bool
}

const (
	vwapWeight  = 0.30
	obvWeight   = 0.30
	spikeWeight = 0.20
	trendWeight = 0.20
)

// Analyze requires at least 21 candles; fewer yields a neutral,
// tradeable default so the pipeline never fails on this stage.
func Analyze(series domain.Series) Result {
	if len(series) < 21 {
		return Result{Combined: 0.5, Interpretation: Neutral, ShouldTrade: true}
	}

	vwap := vwapScore(series)
	obv := obvScore(series)
	spike := spikeScore(series)
	trend := trendScore(series)

	combined := vwapWeight*vwap + obvWeight*obv + spikeWeight*spike + trendWeight*trend

	var interp Interpretation
	switch {
	case combined > 0.65:
		interp = StrongBullish
	case combined > 0.50:
		interp = Bullish
	case combined < 0.35:
		interp = StrongBearish
	case combined < 0.50:
		interp = Bearish
	default:
		interp = Neutral
	}

	shouldTrade := combined >= 0.50

	return Result{
		VWAPScore:      vwap,
		OBVScore:       obv,
		SpikeScore:     spike,
		TrendScore:     trend,
		Combined:       combined,
		Interpretation: interp,
		ShouldTrade:    shouldTrade,
	}
}

func vwapScore(series domain.Series) float64 {
	var cumPV, cumV float64
	for _, c := range series {
		typical := (c.High + c.Low + c.Close) / 3
		cumPV += typical * c.Volume
		cumV += c.Volume
	}
	if cumV == 0 {
		return 0.5
	}
	vwap := cumPV / cumV
	price := series.Last().Close
	if vwap == 0 {
		return 0.5
	}
	priceVsVWAP := (price - vwap) / vwap
	return 0.5 + clamp(priceVsVWAP*50, -0.5, 0.5)
}

func obvScore(series domain.Series) float64 {
	obv := make([]float64, len(series))
	for i := 1; i < len(series); i++ {
		switch {
		case series[i].Close > series[i-1].Close:
			obv[i] = obv[i-1] + series[i].Volume
		case series[i].Close < series[i-1].Close:
			obv[i] = obv[i-1] - series[i].Volume
		default:
			obv[i] = obv[i-1]
		}
	}
	if len(obv) <= 20 {
		return 0.5
	}
	prior := obv[len(obv)-21]
	cur := obv[len(obv)-1]
	if prior == 0 {
		return 0.5
	}
	change := (cur - prior) / math.Abs(prior)
	switch {
	case change > 0.1:
		return 0.7
	case change > 0:
		return 0.6
	case change < -0.1:
		return 0.3
	case change < 0:
		return 0.4
	default:
		return 0.5
	}
}

func spikeScore(series domain.Series) float64 {
	volumes := series.Volumes()
	n := len(volumes)
	if n <= 20 {
		return 0.5
	}
	window := volumes[n-21 : n-1]
	var sum float64
	for _, v := range window {
		sum += v
	}
	avg := sum / float64(len(window))
	if avg == 0 {
		return 0.5
	}
	ratio := volumes[n-1] / avg
	priceUp := series[n-1].Close >= series[n-2].Close

	switch {
	case ratio > 2 && priceUp:
		return 0.8
	case ratio > 2 && !priceUp:
		return 0.3
	case ratio > 1.5 && priceUp:
		return 0.65
	case ratio > 1.5 && !priceUp:
		return 0.4
	default:
		return 0.5
	}
}

func trendScore(series domain.Series) float64 {
	volumes := series.Volumes()
	n := len(volumes)
	if n < 11 {
		return 0.5
	}
	recentWindow := 10
	priorWindow := 20
	if n < recentWindow+priorWindow {
		priorWindow = n - recentWindow
	}
	if priorWindow <= 0 {
		return 0.5
	}

	recent := volumes[n-recentWindow:]
	prior := volumes[n-recentWindow-priorWindow : n-recentWindow]

	recentMean := mean(recent)
	priorMean := mean(prior)
	if priorMean == 0 {
		return 0.5
	}
	change := (recentMean - priorMean) / priorMean

	switch {
	case change > 0.2:
		return 0.7
	case change > 0:
		return 0.6
	case change < -0.2:
		return 0.4
	case change < 0:
		return 0.45
	default:
		return 0.5
	}
}

func mean(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	var sum float64
	for _, x := range v {
		sum += x
	}
	return sum / float64(len(v))
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

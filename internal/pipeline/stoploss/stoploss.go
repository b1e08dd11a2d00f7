// Package stoploss implements an adaptive trailing stop: ATR/swing/
// floor stop that is monotone non-decreasing for a BUY position.
package stoploss

import (
	"math"

	"github.com/meridianquant/tradecore/internal/domain"
)

const defaultATRMultiplier = 2.5

// Method records which of the three candidate stops was chosen.
type Method string

const (
	MethodATR   Method = "ATR"
	MethodSwing Method = "SWING"
	MethodMin   Method = "MIN"
)

// StopLoss tracks the trailing stop for one open position.
type StopLoss struct {
	EntryPrice    float64
	Side          domain.Side
	ATRMultiplier float64
	ExtremePrice  float64

	currentStop float64
	hasStop     bool
}

// New creates a stop-loss tracker seeded at the entry price.
func New(entryPrice float64, side domain.Side) *StopLoss {
	return &StopLoss{
		EntryPrice:    entryPrice,
		Side:          side,
		ATRMultiplier: defaultATRMultiplier,
		ExtremePrice:  entryPrice,
	}
}

// Update advances the trailing extreme and recomputes the active stop
// from the three candidates, given the last `period`+1 candles for ATR
// and a swing lookback of 10. It never decreases the stop for BUY
// (never increases for SELL), keeping the trail monotone.
func (s *StopLoss) Update(series domain.Series, currentPrice float64) Update {
	if s.Side == domain.SideBuy {
		if currentPrice > s.ExtremePrice {
			s.ExtremePrice = currentPrice
		}
	} else {
		if s.ExtremePrice == 0 || currentPrice < s.ExtremePrice {
			s.ExtremePrice = currentPrice
		}
	}

	atr := calculateATR(series, 14)
	swingLow, swingHigh := swingLevels(series, 10)

	var atrStop, swingStop, minStop, chosen float64
	var method Method

	if s.Side == domain.SideBuy {
		atrStop = s.ExtremePrice - s.ATRMultiplier*atr
		swingStop = swingLow * 0.998
		minStop = s.EntryPrice * 0.97

		chosen = math.Max(atrStop, math.Max(swingStop, minStop))
		switch chosen {
		case atrStop:
			method = MethodATR
		case swingStop:
			method = MethodSwing
		default:
			method = MethodMin
		}
		if s.hasStop && chosen < s.currentStop {
			chosen = s.currentStop // monotone non-decreasing
		}
	} else {
		atrStop = s.ExtremePrice + s.ATRMultiplier*atr
		swingStop = swingHigh * 1.002
		minStop = s.EntryPrice * 1.03

		chosen = math.Min(atrStop, math.Min(swingStop, minStop))
		switch chosen {
		case atrStop:
			method = MethodATR
		case swingStop:
			method = MethodSwing
		default:
			method = MethodMin
		}
		if s.hasStop && chosen > s.currentStop {
			chosen = s.currentStop // monotone non-increasing
		}
	}

	s.currentStop = chosen
	s.hasStop = true

	distPct := 0.0
	if currentPrice != 0 {
		distPct = math.Abs(currentPrice-chosen) / currentPrice
	}

	return Update{
		Stop:            chosen,
		Method:          method,
		StopDistancePct: distPct,
		ATRStop:         atrStop,
		SwingStop:       swingStop,
		MinStop:         minStop,
	}
}

// Update is the per-call result of StopLoss.Update.
type Update struct {
	Stop            float64
	Method          Method
	StopDistancePct float64
	ATRStop         float64
	SwingStop       float64
	MinStop         float64
}

// ShouldExit reports whether currentPrice has breached the active stop.
func (s *StopLoss) ShouldExit(currentPrice float64) bool {
	if !s.hasStop {
		return false
	}
	if s.Side == domain.SideBuy {
		return currentPrice <= s.currentStop
	}
	return currentPrice >= s.currentStop
}

// CurrentStop returns the last computed stop value.
func (s *StopLoss) CurrentStop() float64 {
	return s.currentStop
}

func calculateATR(series domain.Series, period int) float64 {
	n := len(series)
	if n < 2 {
		if n == 1 {
			return (series[0].High - series[0].Low) / float64(period)
		}
		return 0
	}

	trs := make([]float64, 0, n-1)
	for i := 1; i < n; i++ {
		h, l, pc := series[i].High, series[i].Low, series[i-1].Close
		tr := math.Max(h-l, math.Max(math.Abs(h-pc), math.Abs(l-pc)))
		trs = append(trs, tr)
	}

	window := trs
	if len(trs) > period {
		window = trs[len(trs)-period:]
	}
	if len(window) == 0 {
		return series[n-1].Close * 0.01
	}

	var sum float64
	for _, v := range window {
		sum += v
	}
	atr := sum / float64(len(window))
	if math.IsNaN(atr) || atr == 0 {
		return series[n-1].Close * 0.01
	}
	return atr
}

func swingLevels(series domain.Series, lookback int) (low, high float64) {
	n := len(series)
	if n == 0 {
		return 0, 0
	}
	start := n - lookback
	if start < 0 {
		start = 0
	}
	low = series[start].Low
	high = series[start].High
	for i := start; i < n; i++ {
		if series[i].Low < low {
			low = series[i].Low
		}
		if series[i].High > high {
			high = series[i].High
		}
	}
	return low, high
}

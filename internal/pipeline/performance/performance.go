// Package performance implements the performance tracker: rolling
// win-rate, profit factor, Sharpe/Sortino, and VaR/CVaR statistics over
// a trade log, used by the position sizer and the control loop's
// monitoring path.
package performance

import (
	"math"
	"sort"
	"time"

	"github.com/meridianquant/tradecore/internal/domain"
)

const sharpeAnnualizationDays = 365 // per-trade annualization convention

// Tracker is an append-only trade log.
type Tracker struct {
	trades []domain.TradeRecord
}

// NewTracker creates an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{}
}

// Log appends a completed trade.
func (t *Tracker) Log(tr domain.TradeRecord) {
	t.trades = append(t.trades, tr)
}

// Statistics is the performance-tracker output.
type Statistics struct {
	WinRate        float64
	AvgWinPct      float64
	AvgLossPct     float64
	ProfitFactor   float64
	Sharpe         float64
	Sortino        float64
	MaxDrawdownPct float64
	ExpectancyPct  float64
	ValueAtRisk    float64
	CVaR           float64
	TradeCount     int
}

// Statistics computes rolling statistics over trades closed within the
// trailing lookbackDays window, relative to now. An empty window returns
// a well-formed zeroed record with WinRate=0.5 and ProfitFactor=1 so
// downstream Kelly sizing degenerates to break-even.
func (t *Tracker) Statistics(now time.Time, lookbackDays int) Statistics {
	cutoff := now.AddDate(0, 0, -lookbackDays)
	var window []domain.TradeRecord
	for _, tr := range t.trades {
		if !tr.ExitTime.Before(cutoff) {
			window = append(window, tr)
		}
	}

	if len(window) == 0 {
		return emptyStatistics()
	}

	var wins, losses []float64
	for _, tr := range window {
		if tr.PnlPct > 0 {
			wins = append(wins, tr.PnlPct)
		} else {
			losses = append(losses, -tr.PnlPct)
		}
	}

	winRate := float64(len(wins)) / float64(len(window))
	avgWin := mean(wins)
	avgLoss := mean(losses)

	totalWin := sum(wins)
	totalLoss := sum(losses)
	profitFactor := math.Inf(1)
	if totalLoss != 0 {
		profitFactor = totalWin / totalLoss
	}

	returns := make([]float64, len(window))
	for i, tr := range window {
		returns[i] = tr.PnlPct
	}

	sharpe := sharpeRatio(returns)
	sortino := sortinoRatio(returns)
	maxDD := maxDrawdownPct(returns)
	expectancy := winRate*avgWin - (1-winRate)*avgLoss
	vaR, cvar := historicalVaR(returns, 0.95)

	return Statistics{
		WinRate:        winRate,
		AvgWinPct:      avgWin,
		AvgLossPct:     avgLoss,
		ProfitFactor:   profitFactor,
		Sharpe:         sharpe,
		Sortino:        sortino,
		MaxDrawdownPct: maxDD,
		ExpectancyPct:  expectancy,
		ValueAtRisk:    vaR,
		CVaR:           cvar,
		TradeCount:     len(window),
	}
}

func emptyStatistics() Statistics {
	return Statistics{
		WinRate:      0.5,
		ProfitFactor: 1.0,
	}
}

func sharpeRatio(returns []float64) float64 {
	m := mean(returns)
	sd := stddev(returns, m)
	if sd == 0 {
		return 0
	}
	return (m / sd) * math.Sqrt(sharpeAnnualizationDays)
}

func sortinoRatio(returns []float64) float64 {
	m := mean(returns)
	var downside []float64
	for _, r := range returns {
		if r < 0 {
			downside = append(downside, r)
		}
	}
	dsd := stddev(downside, 0)
	if dsd == 0 {
		return 0
	}
	return (m / dsd) * math.Sqrt(sharpeAnnualizationDays)
}

func maxDrawdownPct(returns []float64) float64 {
	cum := 1.0
	peak := 1.0
	maxDD := 0.0
	for _, r := range returns {
		cum *= 1 + r/100
		if cum > peak {
			peak = cum
		}
		dd := (peak - cum) / peak
		if dd > maxDD {
			maxDD = dd
		}
	}
	return maxDD * 100
}

// historicalVaR computes historical-simulation VaR/CVaR at the given
// confidence (e.g. 0.95), grounded on internal/risk/calculator.go.
func historicalVaR(returns []float64, confidence float64) (valueAtRisk, cvar float64) {
	if len(returns) == 0 {
		return 0, 0
	}
	sorted := append([]float64(nil), returns...)
	sort.Float64s(sorted)

	// The small epsilon keeps float error (e.g. (1-0.9)*10 = 0.9999...)
	// from truncating an exact tail count down by one.
	idx := int((1-confidence)*float64(len(sorted)) + 1e-9)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	if idx < 0 {
		idx = 0
	}
	valueAtRisk = -sorted[idx]

	tail := sorted[:idx+1]
	cvar = -mean(tail)

	return valueAtRisk, cvar
}

func mean(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	return sum(v) / float64(len(v))
}

func sum(v []float64) float64 {
	var s float64
	for _, x := range v {
		s += x
	}
	return s
}

func stddev(v []float64, mean float64) float64 {
	if len(v) == 0 {
		return 0
	}
	var variance float64
	for _, x := range v {
		d := x - mean
		variance += d * d
	}
	variance /= float64(len(v))
	return math.Sqrt(variance)
}

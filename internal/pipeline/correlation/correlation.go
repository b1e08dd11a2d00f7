// Package correlation implements pairwise symbol correlation over
// percent-change series, used by the control loop to avoid stacking
// correlated positions.
package correlation

import (
	"fmt"
	"math"
	"sync"

	"github.com/meridianquant/tradecore/internal/domain"
)

// Analyzer caches pairwise correlation results by (symbol1, symbol2, lookback).
type Analyzer struct {
	mu    sync.Mutex
	cache map[string]float64
}

// NewAnalyzer creates an empty, ready-to-use Analyzer.
func NewAnalyzer() *Analyzer {
	return &Analyzer{cache: make(map[string]float64)}
}

func cacheKey(symbol1, symbol2 string, lookback int) string {
	if symbol1 > symbol2 {
		symbol1, symbol2 = symbol2, symbol1
	}
	return fmt.Sprintf("%s|%s|%d", symbol1, symbol2, lookback)
}

// Correlation returns the Pearson correlation of the two series' percent-
// change returns over the trailing lookback window (default 100 bars).
func (a *Analyzer) Correlation(symbol1, symbol2 string, series1, series2 domain.Series, lookback int) float64 {
	key := cacheKey(symbol1, symbol2, lookback)

	a.mu.Lock()
	if v, ok := a.cache[key]; ok {
		a.mu.Unlock()
		return v
	}
	a.mu.Unlock()

	r1 := pctChange(trailing(series1.Closes(), lookback))
	r2 := pctChange(trailing(series2.Closes(), lookback))

	n := len(r1)
	if len(r2) < n {
		n = len(r2)
	}
	corr := pearson(r1[:n], r2[:n])

	a.mu.Lock()
	a.cache[key] = corr
	a.mu.Unlock()

	return corr
}

// ShouldAvoidPair reports whether two symbols are correlated above the
// given threshold (default 0.7) and should not both be held.
func (a *Analyzer) ShouldAvoidPair(symbol1, symbol2 string, series1, series2 domain.Series, threshold float64) bool {
	corr := a.Correlation(symbol1, symbol2, series1, series2, 100)
	return math.Abs(corr) >= threshold
}

func trailing(closes []float64, lookback int) []float64 {
	if len(closes) <= lookback {
		return closes
	}
	return closes[len(closes)-lookback:]
}

func pctChange(closes []float64) []float64 {
	if len(closes) < 2 {
		return nil
	}
	out := make([]float64, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] == 0 {
			out[i-1] = 0
			continue
		}
		out[i-1] = (closes[i] - closes[i-1]) / closes[i-1]
	}
	return out
}

func pearson(x, y []float64) float64 {
	n := len(x)
	if n == 0 {
		return 0
	}
	var sumX, sumY float64
	for i := 0; i < n; i++ {
		sumX += x[i]
		sumY += y[i]
	}
	meanX := sumX / float64(n)
	meanY := sumY / float64(n)

	var num, denomX, denomY float64
	for i := 0; i < n; i++ {
		dx := x[i] - meanX
		dy := y[i] - meanY
		num += dx * dy
		denomX += dx * dx
		denomY += dy * dy
	}
	if denomX == 0 || denomY == 0 {
		return 0
	}
	return num / math.Sqrt(denomX*denomY)
}

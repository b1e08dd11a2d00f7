// Package pattern implements candlestick pattern recognition: six
// candlestick patterns plus order-book imbalance, aggregated into a
// bullish/bearish reversal signal.
package pattern

import (
	"github.com/meridianquant/tradecore/internal/domain"
)

// Patterns holds the six independent boolean detections. They are
// evaluated independently and are not mutually exclusive.
type Patterns struct {
	Hammer        bool
	BullEngulfing bool
	MorningStar   bool
	ShootingStar  bool
	BearEngulfing bool
	EveningStar   bool
}

// Reversal is the aggregated pattern-recognition output.
type Reversal struct {
	Patterns     Patterns
	Imbalance    float64 // [-1,1]
	Bullish      bool
	Bearish      bool
	Confidence   float64
	BullishCount int
	BearishCount int
}

const bodyThreshold = 0.3 // fraction of range a body must exceed/undercut

// Detect evaluates all six patterns against the last three candles of
// series (most recent last) and combines with order-book imbalance, if
// book is non-nil.
func Detect(series domain.Series, book *domain.OrderBook) Reversal {
	p := detectPatterns(series)

	imbalance := 0.0
	if book != nil {
		imbalance = bookImbalance(*book)
	}

	bullishCount := countTrue(p.Hammer, p.BullEngulfing, p.MorningStar)
	bearishCount := countTrue(p.ShootingStar, p.BearEngulfing, p.EveningStar)

	bullish := bullishCount >= 2 || (bullishCount >= 1 && imbalance > 0.3)
	bearish := bearishCount >= 2 || (bearishCount >= 1 && imbalance < -0.3)

	confidence := float64(bullishCount+bearishCount)/3 + absf(imbalance)
	if confidence > 1 {
		confidence = 1
	}

	return Reversal{
		Patterns:     p,
		Imbalance:    imbalance,
		Bullish:      bullish,
		Bearish:      bearish,
		Confidence:   confidence,
		BullishCount: bullishCount,
		BearishCount: bearishCount,
	}
}

func countTrue(bs ...bool) int {
	n := 0
	for _, b := range bs {
		if b {
			n++
		}
	}
	return n
}

func detectPatterns(series domain.Series) Patterns {
	n := len(series)
	var p Patterns
	if n < 1 {
		return p
	}
	last := series[n-1]

	p.Hammer = isHammer(last)
	p.ShootingStar = isShootingStar(last)

	if n >= 2 {
		prev := series[n-2]
		p.BullEngulfing = isBullEngulfing(prev, last)
		p.BearEngulfing = isBearEngulfing(prev, last)
	}

	if n >= 3 {
		p.MorningStar = isMorningStar(series[n-3], series[n-2], last)
		p.EveningStar = isEveningStar(series[n-3], series[n-2], last)
	}

	return p
}

func candleRange(c domain.Candle) float64 {
	return c.High - c.Low
}

func body(c domain.Candle) float64 {
	if c.Close >= c.Open {
		return c.Close - c.Open
	}
	return c.Open - c.Close
}

func isHammer(c domain.Candle) bool {
	rng := candleRange(c)
	if rng == 0 {
		return false
	}
	b := body(c)
	lowerWick := minf(c.Open, c.Close) - c.Low
	upperWick := c.High - maxf(c.Open, c.Close)
	return lowerWick > b*2 && upperWick < b*0.5 && b/rng < bodyThreshold+0.2
}

func isShootingStar(c domain.Candle) bool {
	rng := candleRange(c)
	if rng == 0 {
		return false
	}
	b := body(c)
	upperWick := c.High - maxf(c.Open, c.Close)
	lowerWick := minf(c.Open, c.Close) - c.Low
	return upperWick > b*2 && lowerWick < b*0.5 && b/rng < bodyThreshold+0.2
}

func isBullEngulfing(prev, cur domain.Candle) bool {
	prevBearish := prev.Close < prev.Open
	curBullish := cur.Close > cur.Open
	return prevBearish && curBullish && cur.Open <= prev.Close && cur.Close >= prev.Open
}

func isBearEngulfing(prev, cur domain.Candle) bool {
	prevBullish := prev.Close > prev.Open
	curBearish := cur.Close < cur.Open
	return prevBullish && curBearish && cur.Open >= prev.Close && cur.Close <= prev.Open
}

func isMorningStar(first, middle, last domain.Candle) bool {
	firstBearish := first.Close < first.Open && body(first)/candleRange(first) > bodyThreshold
	middleSmall := candleRange(middle) == 0 || body(middle)/candleRange(middle) < bodyThreshold
	lastBullish := last.Close > last.Open
	lastClosesAboveMidpoint := last.Close > (first.Open+first.Close)/2
	return firstBearish && middleSmall && lastBullish && lastClosesAboveMidpoint
}

func isEveningStar(first, middle, last domain.Candle) bool {
	firstBullish := first.Close > first.Open && body(first)/candleRange(first) > bodyThreshold
	middleSmall := candleRange(middle) == 0 || body(middle)/candleRange(middle) < bodyThreshold
	lastBearish := last.Close < last.Open
	lastClosesBelowMidpoint := last.Close < (first.Open+first.Close)/2
	return firstBullish && middleSmall && lastBearish && lastClosesBelowMidpoint
}

func bookImbalance(book domain.OrderBook) float64 {
	bidQty := sumTop(book.Bids, 10)
	askQty := sumTop(book.Asks, 10)
	total := bidQty + askQty
	if total == 0 {
		return 0
	}
	return (bidQty - askQty) / total
}

func sumTop(levels []domain.PriceLevel, n int) float64 {
	if len(levels) < n {
		n = len(levels)
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += levels[i].Size
	}
	return sum
}

func minf(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// Package liquidity implements an order-book depth/spread tradeability
// check, used to veto entries into thin or wide-spread books.
package liquidity

import "github.com/meridianquant/tradecore/internal/domain"

// Warning classifies why a book may be untradeable.
type Warning string

const (
	WarnVeryLowLiquidity Warning = "VERY_LOW_LIQUIDITY"
	WarnLowLiquidity     Warning = "LOW_LIQUIDITY"
	WarnWideSpread       Warning = "WIDE_SPREAD"
	WarnModerateSpread   Warning = "MODERATE_SPREAD"
	WarnOK               Warning = "OK"
)

// Result is the C6b output.
type Result struct {
	MidPrice      float64
	Spread        float64
	SpreadPct     float64
	BidDepth      float64
	AskDepth      float64
	LiquidityRatio float64
	IsTradeable   bool
	Warning       Warning
}

const (
	depthBandPct        = 0.005 // 0.5% of mid
	depthLevels         = 20
	liquidityRatioLimit = 0.10
	maxSpreadPctForOK   = 0.0015 // 0.15%
)

// Analyze evaluates whether tradeSize can be executed against book
// without excessive market impact.
func Analyze(book domain.OrderBook, tradeSize float64) Result {
	if len(book.Bids) == 0 || len(book.Asks) == 0 {
		return Result{Warning: WarnVeryLowLiquidity, IsTradeable: false}
	}

	mid := book.Mid()
	spread := book.Spread()
	spreadPct := 0.0
	if mid != 0 {
		spreadPct = spread / mid
	}

	bidDepth := depthWithinBand(book.Bids, mid, depthBandPct, depthLevels)
	askDepth := depthWithinBand(book.Asks, mid, depthBandPct, depthLevels)
	depth := bidDepth + askDepth

	ratio := 1.0
	if depth > 0 {
		ratio = tradeSize / depth
	}

	isTradeable := ratio < liquidityRatioLimit && spreadPct < maxSpreadPctForOK

	warning := classify(ratio, spreadPct)

	return Result{
		MidPrice:       mid,
		Spread:         spread,
		SpreadPct:      spreadPct,
		BidDepth:       bidDepth,
		AskDepth:       askDepth,
		LiquidityRatio: ratio,
		IsTradeable:    isTradeable,
		Warning:        warning,
	}
}

func classify(ratio, spreadPct float64) Warning {
	switch {
	case ratio >= 0.5:
		return WarnVeryLowLiquidity
	case ratio >= liquidityRatioLimit:
		return WarnLowLiquidity
	case spreadPct >= 0.003:
		return WarnWideSpread
	case spreadPct >= maxSpreadPctForOK:
		return WarnModerateSpread
	default:
		return WarnOK
	}
}

func depthWithinBand(levels []domain.PriceLevel, mid, bandPct float64, maxLevels int) float64 {
	var total float64
	n := len(levels)
	if n > maxLevels {
		n = maxLevels
	}
	lo := mid * (1 - bandPct)
	hi := mid * (1 + bandPct)
	for i := 0; i < n; i++ {
		lvl := levels[i]
		if lvl.Price >= lo && lvl.Price <= hi {
			total += lvl.Size
		}
	}
	return total
}

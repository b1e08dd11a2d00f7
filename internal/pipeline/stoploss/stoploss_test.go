package stoploss

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/meridianquant/tradecore/internal/domain"
)

func series(closes []float64) domain.Series {
	s := make(domain.Series, len(closes))
	now := time.Now()
	for i, c := range closes {
		s[i] = domain.Candle{
			Timestamp: now.Add(time.Duration(i) * time.Minute),
			Open:      c,
			High:      c * 1.01,
			Low:       c * 0.99,
			Close:     c,
			Volume:    10,
		}
	}
	return s
}

func TestStopLoss_MonotoneNonDecreasing_BuySide(t *testing.T) {
	sl := New(100, domain.SideBuy)
	prices := []float64{101, 103, 102, 105, 104, 110, 108}

	var lastStop float64
	for i, p := range prices {
		u := sl.Update(series([]float64{95, 97, 99, 100, p}), p)
		if i > 0 {
			assert.GreaterOrEqual(t, u.Stop, lastStop, "stop must never decrease for BUY")
		}
		lastStop = u.Stop
	}
}

func TestStopLoss_ShouldExit_TriggersBelowStop(t *testing.T) {
	sl := New(100, domain.SideBuy)
	sl.Update(series([]float64{95, 97, 99, 100, 110}), 110)
	assert.False(t, sl.ShouldExit(110))
	assert.True(t, sl.ShouldExit(1))
}

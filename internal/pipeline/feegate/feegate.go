// Package feegate implements the fee-protection gate: a per-position
// veto that blocks an entry or exit unless the expected profit clears
// round-trip trading costs by a configurable multiple.
//
// Hour/day trade counts use a pruned time-bucketed slice rather than a
// fixed-capacity ring buffer, so they cannot undercount regardless of
// how high max_trades_per_day is set; the 1000-entry ring is kept
// separately only for non-authoritative history/reporting.
package feegate

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridianquant/tradecore/internal/domain"
)

const historyCap = 1000

// TradeEvent is one record/close event fed to the gate.
type TradeEvent struct {
	Side       domain.Side
	Price      decimal.Decimal
	SizeUSD    decimal.Decimal
	ProfitUSD  *decimal.Decimal
	Timestamp  time.Time
}

// Gate is the fee-protection veto, private to one control-loop instance.
// It is not safe for concurrent use; each Loop owns its own Gate, so no
// locking is needed.
type Gate struct {
	settings        domain.FeeSettings
	history         []TradeEvent // capped at historyCap, reporting only
	openTimestamps  []time.Time  // authoritative hour/day counters
	positionEntryAt *time.Time
}

// New creates a Gate for the given fee settings.
func New(settings domain.FeeSettings) *Gate {
	return &Gate{settings: settings}
}

// Settings returns the gate's configured fee settings.
func (g *Gate) Settings() domain.FeeSettings {
	return g.settings
}

// Fees is the output of TotalFees.
type Fees struct {
	EntryFee decimal.Decimal
	ExitFee  decimal.Decimal
	Total    decimal.Decimal
	Pct      float64
}

// TotalFees computes entry+exit taker fees on a round-trip of sizeUSD.
func (g *Gate) TotalFees(entry, exit, sizeUSD decimal.Decimal) Fees {
	entryFee := sizeUSD.Mul(g.settings.TakerFee)
	exitValue := sizeUSD
	if !entry.IsZero() {
		exitValue = sizeUSD.Mul(exit).Div(entry)
	}
	exitFee := exitValue.Mul(g.settings.TakerFee)
	total := entryFee.Add(exitFee)

	pct := 0.0
	if sf, _ := sizeUSD.Float64(); sf != 0 {
		tf, _ := total.Float64()
		pct = tf / sf
	}

	return Fees{EntryFee: entryFee, ExitFee: exitFee, Total: total, Pct: pct}
}

// NetProfit is the output of NetProfit.
type NetProfit struct {
	Gross  decimal.Decimal
	Fees   decimal.Decimal
	Net    decimal.Decimal
	NetPct float64
}

// NetProfit computes gross/net profit of a round-trip, accounting for fees.
func (g *Gate) NetProfit(entry, exit, sizeUSD decimal.Decimal) NetProfit {
	var gross decimal.Decimal
	if !entry.IsZero() {
		gross = sizeUSD.Mul(exit.Sub(entry)).Div(entry)
	}
	fees := g.TotalFees(entry, exit, sizeUSD)
	net := gross.Sub(fees.Total)

	netPct := 0.0
	if sf, _ := sizeUSD.Float64(); sf != 0 {
		nf, _ := net.Float64()
		netPct = nf / sf
	}

	return NetProfit{Gross: gross, Fees: fees.Total, Net: net, NetPct: netPct}
}

// CanOpen denies if trade frequency exceeds either cap.
func (g *Gate) CanOpen(now time.Time) (bool, string) {
	g.pruneOld(now)

	hourCount := g.countSince(now.Add(-time.Hour))
	if g.settings.MaxTradesPerHour > 0 && hourCount >= g.settings.MaxTradesPerHour {
		return false, "hourly trade frequency limit reached"
	}

	dayCount := g.countSince(now.Add(-24 * time.Hour))
	if g.settings.MaxTradesPerDay > 0 && dayCount >= g.settings.MaxTradesPerDay {
		return false, "daily trade frequency limit reached"
	}

	return true, ""
}

// CanClose enforces min-hold-time and min-profit-multiple unless force
// is true, in which case both checks are bypassed (a stop-loss or
// liquidation close must always go through).
func (g *Gate) CanClose(entry, current, sizeUSD decimal.Decimal, now time.Time, force bool) (bool, string) {
	if force {
		return true, "force close"
	}

	if g.positionEntryAt != nil {
		held := now.Sub(*g.positionEntryAt)
		minHold := time.Duration(g.settings.MinHoldTimeMinutes * float64(time.Minute))
		if held < minHold {
			return false, "minimum hold time not met"
		}
	}

	np := g.NetProfit(entry, current, sizeUSD)
	fees := g.TotalFees(entry, current, sizeUSD)
	required := fees.Total.Mul(decimal.NewFromFloat(g.settings.MinProfitMultiple))
	if np.Net.LessThan(required) {
		return false, "net profit below minimum-profit-multiple threshold"
	}

	return true, ""
}

// RecordTrade appends to history and manages position_entry_time.
func (g *Gate) RecordTrade(ev TradeEvent) {
	g.history = append(g.history, ev)
	if len(g.history) > historyCap {
		g.history = g.history[len(g.history)-historyCap:]
	}

	if ev.Side == domain.SideBuy {
		g.openTimestamps = append(g.openTimestamps, ev.Timestamp)
		t := ev.Timestamp
		g.positionEntryAt = &t
	} else {
		g.positionEntryAt = nil
	}
}

// Breakeven is the output of Breakeven.
type Breakeven struct {
	BreakevenPrice     decimal.Decimal
	MinProfitablePrice decimal.Decimal
}

// Breakeven computes the price at which a round-trip nets zero, and the
// price required to clear the min-profit-multiple.
func (g *Gate) Breakeven(entry decimal.Decimal) Breakeven {
	totalFeeRate := g.settings.TakerFee.Mul(decimal.NewFromInt(2))
	breakeven := entry.Mul(decimal.NewFromInt(1).Add(totalFeeRate))
	minProfitable := entry.Mul(decimal.NewFromInt(1).Add(totalFeeRate.Mul(decimal.NewFromFloat(g.settings.MinProfitMultiple))))
	return Breakeven{BreakevenPrice: breakeven, MinProfitablePrice: minProfitable}
}

func (g *Gate) countSince(cutoff time.Time) int {
	n := 0
	for _, ts := range g.openTimestamps {
		if ts.After(cutoff) {
			n++
		}
	}
	return n
}

func (g *Gate) pruneOld(now time.Time) {
	cutoff := now.Add(-24 * time.Hour)
	idx := 0
	for idx < len(g.openTimestamps) && g.openTimestamps[idx].Before(cutoff) {
		idx++
	}
	if idx > 0 {
		g.openTimestamps = g.openTimestamps[idx:]
	}
}

// Package domain holds the core trading data model shared by every
// component of the engine: candles, order books, positions, orders,
// trade records, bot configuration and fee settings.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Candle is one OHLCV bucket. Indicator math over candles stays in
// float64; only money/quantity fields elsewhere use decimal.Decimal.
type Candle struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// Series is an ascending, gap-tolerant, never-reordered slice of candles.
type Series []Candle

// Last returns the most recent candle. Callers must check len(s) > 0.
func (s Series) Last() Candle {
	return s[len(s)-1]
}

// Closes extracts the close price of every candle, for indicator math.
func (s Series) Closes() []float64 {
	out := make([]float64, len(s))
	for i, c := range s {
		out[i] = c.Close
	}
	return out
}

// Highs extracts the high price of every candle.
func (s Series) Highs() []float64 {
	out := make([]float64, len(s))
	for i, c := range s {
		out[i] = c.High
	}
	return out
}

// Lows extracts the low price of every candle.
func (s Series) Lows() []float64 {
	out := make([]float64, len(s))
	for i, c := range s {
		out[i] = c.Low
	}
	return out
}

// Volumes extracts the volume of every candle.
func (s Series) Volumes() []float64 {
	out := make([]float64, len(s))
	for i, c := range s {
		out[i] = c.Volume
	}
	return out
}

// PriceLevel is one (price, size) entry in an order book side.
type PriceLevel struct {
	Price float64
	Size  float64
}

// OrderBook holds bids (descending by price) and asks (ascending).
type OrderBook struct {
	Symbol    string
	Timestamp time.Time
	Bids      []PriceLevel
	Asks      []PriceLevel
}

// Mid returns (best_bid+best_ask)/2. Callers must ensure both sides are
// non-empty.
func (ob OrderBook) Mid() float64 {
	return (ob.Bids[0].Price + ob.Asks[0].Price) / 2
}

// Spread returns best_ask - best_bid.
func (ob OrderBook) Spread() float64 {
	return ob.Asks[0].Price - ob.Bids[0].Price
}

// Ticker is a point-in-time 24h summary for a symbol.
type Ticker struct {
	Symbol    string
	Last      float64
	Bid       float64
	Ask       float64
	High24h   float64
	Low24h    float64
	Volume24h float64
	Timestamp time.Time
}

// Side is BUY or SELL.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderType distinguishes market and limit orders.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// OrderStatus is the lifecycle state of an Order. PENDING is the only
// non-terminal state; the other three are immutable once reached.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusFilled    OrderStatus = "FILLED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
	OrderStatusRejected  OrderStatus = "REJECTED"
)

// Order is a single order submitted to the trading port.
type Order struct {
	OrderID     string
	Symbol      string
	Side        Side
	Type        OrderType
	Quantity    decimal.Decimal
	LimitPrice  *decimal.Decimal
	Timestamp   time.Time
	Status      OrderStatus
	FillPrice   *decimal.Decimal
	Fee         *decimal.Decimal
	RejectReason string
}

// IsTerminal reports whether the order can no longer transition.
func (o Order) IsTerminal() bool {
	return o.Status != OrderStatusPending
}

// Position is the single open position for a (user, symbol) pair.
// Only ExtremePrice mutates after creation.
type Position struct {
	Symbol       string
	Side         Side // always SideBuy; short positions are not supported
	EntryPrice   decimal.Decimal
	Quantity     decimal.Decimal
	EntryTime    time.Time
	ExtremePrice decimal.Decimal
}

// UpdateExtreme advances the trailing extreme price for a BUY position.
// Monotone non-decreasing; the trailing stop is computed off this value.
func (p *Position) UpdateExtreme(current decimal.Decimal) {
	if current.GreaterThan(p.ExtremePrice) {
		p.ExtremePrice = current
	}
}

// TradeRecord is a completed round-trip, appended to the performance
// tracker's log.
type TradeRecord struct {
	Symbol          string
	EntryPrice      decimal.Decimal
	ExitPrice       decimal.Decimal
	Quantity        decimal.Decimal
	EntryTime       time.Time
	ExitTime        time.Time
	GrossPnl        decimal.Decimal
	Fees            decimal.Decimal
	NetPnl          decimal.Decimal
	PnlPct          float64
	HoldMinutes     float64
	ConfidenceAtEntry float64
	RegimeAtEntry   string
}

// RiskLevel classifies a BotConfig's risk appetite.
type RiskLevel string

const (
	RiskConservative RiskLevel = "conservative"
	RiskModerate     RiskLevel = "moderate"
	RiskAggressive   RiskLevel = "aggressive"
)

// BotConfig is immutable for the duration of a control-loop run.
// Changing any field requires stopping and restarting the loop.
type BotConfig struct {
	ConfigID          string
	UserID            string
	Symbol            string
	Budget            decimal.Decimal
	PositionSizeRatio float64 // (0,1]
	MinConfidence     float64 // [0,1]
	RiskLevel         RiskLevel
	MaxDailyLossPct   float64
	PaperTrading      bool
}

// FeeSettings parameterizes the fee-protection gate.
type FeeSettings struct {
	MakerFee           decimal.Decimal
	TakerFee           decimal.Decimal
	MinProfitMultiple  float64
	MaxTradesPerHour   int
	MaxTradesPerDay    int
	MinHoldTimeMinutes float64
}

// ActivityLevel is the severity of an Activity entry.
type ActivityLevel string

const (
	ActivityInfo    ActivityLevel = "info"
	ActivityWarning ActivityLevel = "warning"
	ActivityError   ActivityLevel = "error"
	ActivitySuccess ActivityLevel = "success"
)

// Activity is one ring-buffered log entry.
type Activity struct {
	TimestampUTC time.Time
	Level        ActivityLevel
	Message      string
	Payload      map[string]interface{}
}

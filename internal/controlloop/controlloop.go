// Package controlloop implements the trading control loop: a
// long-lived, per-BotConfig scheduler that ticks on a fixed interval,
// invokes the Decision Pipeline, enforces the fee-protection gate, and
// issues orders through the Trading Port.
package controlloop

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/meridianquant/tradecore/internal/domain"
	"github.com/meridianquant/tradecore/internal/pipeline"
	"github.com/meridianquant/tradecore/internal/pipeline/correlation"
	"github.com/meridianquant/tradecore/internal/pipeline/feegate"
	"github.com/meridianquant/tradecore/internal/pipeline/performance"
	"github.com/meridianquant/tradecore/internal/traderr"
)

const (
	defaultInterval        = 300 * time.Second
	activityCap            = 100
	ohlcvInterval          = "5m"
	ohlcvLimit             = 100
	aiSellConfidenceGate   = 0.7
	performanceLookback    = 30 // days
	marketDataTimeout      = 10 * time.Second
	orderBookTimeout       = 5 * time.Second
	correlationAvoidThresh = 0.7
)

// State is the control-loop's lifecycle state.
type State string

const (
	StateIdle    State = "IDLE"
	StateRunning State = "RUNNING"
	StateStopped State = "STOPPED"
	StateCrashed State = "CRASHED"
)

// MarketDataPort is the subset of the market-data port the loop
// consumes.
type MarketDataPort interface {
	FetchOHLCV(ctx context.Context, symbol, interval string, limit int) (domain.Series, error)
	FetchOrderBook(ctx context.Context, symbol string) (domain.OrderBook, error)
}

// TradingPort is the subset of the trading port the loop consumes.
type TradingPort interface {
	MarketBuy(ctx context.Context, symbol string, quantity decimal.Decimal) (domain.Order, error)
	MarketSell(ctx context.Context, symbol string, quantity decimal.Decimal) (domain.Order, error)
}

// TradeStore is the narrow trade-store contract the loop needs: insert,
// status-update, query-open. The core treats persistence as opaque.
type TradeStore interface {
	InsertOpen(ctx context.Context, trade domain.TradeRecord) (string, error)
	MarkCompleted(ctx context.Context, id string, exitPrice decimal.Decimal, exitTime time.Time) error
}

// Notifier is the fire-and-forget notification sink. Notification
// channels are treated as external collaborators the loop stays
// agnostic to.
type Notifier interface {
	Notify(ctx context.Context, message string) error
}

// OnChainFilter is the optional accumulation/distribution veto hook
// invoked in the entry path. NoopOnChainFilter is the default.
type OnChainFilter interface {
	Analyze(ctx context.Context, symbol string) (vetoBuy bool, reason string, err error)
}

// NoopOnChainFilter never vetoes. Used when no on-chain data source is
// configured.
type NoopOnChainFilter struct{}

func (NoopOnChainFilter) Analyze(_ context.Context, _ string) (bool, string, error) {
	return false, "", nil
}

// Deps bundles one Loop's external collaborators.
type Deps struct {
	MarketData  MarketDataPort
	Trading     TradingPort
	Store       TradeStore // nil disables persistence; the loop still runs
	Gate        *feegate.Gate
	Performance *performance.Tracker
	OnChain     OnChainFilter // nil defaults to NoopOnChainFilter
	Notifier    Notifier      // nil disables notifications
	Interval    time.Duration // 0 defaults to 300s

	// Correlation and Siblings are both required to enable the
	// cross-symbol correlation pre-check in findEntry; either left nil
	// disables it (a single-bot process has no siblings to compare
	// against anyway).
	Correlation *correlation.Analyzer
	Siblings    *Registry
}

type openPosition struct {
	storeID    string
	entryPrice decimal.Decimal
	quantity   decimal.Decimal
	entryTime  time.Time
}

// Loop runs the control loop for exactly one BotConfig.
type Loop struct {
	cfg  domain.BotConfig
	deps Deps

	mu         sync.Mutex
	state      State
	position   *openPosition
	lastCheck  time.Time
	lastSeries domain.Series
	activity   []domain.Activity

	stopCh chan struct{}
	doneCh chan struct{}
}

// New constructs an IDLE Loop. Call Start to begin ticking.
func New(cfg domain.BotConfig, deps Deps) *Loop {
	if deps.Interval <= 0 {
		deps.Interval = defaultInterval
	}
	if deps.OnChain == nil {
		deps.OnChain = NoopOnChainFilter{}
	}
	return &Loop{cfg: cfg, deps: deps, state: StateIdle}
}

// symbolSeries returns the symbol this loop trades and its most
// recently fetched candle series, for the correlation pre-check run by
// sibling loops in the same Registry.
func (l *Loop) symbolSeries() (string, domain.Series, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.position == nil || len(l.lastSeries) == 0 {
		return "", nil, false
	}
	return l.cfg.Symbol, l.lastSeries, true
}

// State returns the current lifecycle state.
func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Start transitions IDLE->RUNNING and spawns the ticking goroutine. A
// second Start while RUNNING is a no-op error (ErrAlreadyRunning).
func (l *Loop) Start(ctx context.Context) error {
	l.mu.Lock()
	if l.state == StateRunning {
		l.mu.Unlock()
		return traderr.ErrAlreadyRunning
	}
	l.state = StateRunning
	l.activity = nil
	l.stopCh = make(chan struct{})
	l.doneCh = make(chan struct{})
	l.appendActivityLocked(domain.ActivityInfo, "auto trading started", nil)
	l.mu.Unlock()

	go l.run(ctx)
	return nil
}

// Stop requests termination; the in-flight tick (if any) completes
// first. Idempotent and never errors.
func (l *Loop) Stop() {
	l.mu.Lock()
	if l.state != StateRunning {
		l.mu.Unlock()
		return
	}
	stopCh := l.stopCh
	l.mu.Unlock()

	select {
	case <-stopCh:
	default:
		close(stopCh)
	}
}

// Wait blocks until the loop's goroutine has exited (useful in tests).
func (l *Loop) Wait() {
	l.mu.Lock()
	done := l.doneCh
	l.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (l *Loop) run(ctx context.Context) {
	defer close(l.doneCh)
	ticker := time.NewTicker(l.deps.Interval)
	defer ticker.Stop()

	l.runTick(ctx)
	if l.State() == StateCrashed {
		return
	}

	for {
		select {
		case <-l.stopCh:
			l.finishStopped()
			return
		case <-ticker.C:
			select {
			case <-l.stopCh:
				l.finishStopped()
				return
			default:
			}
			l.runTick(ctx)
			if l.State() == StateCrashed {
				return
			}
		}
	}
}

func (l *Loop) finishStopped() {
	l.mu.Lock()
	l.state = StateStopped
	l.appendActivityLocked(domain.ActivityInfo, "auto trading stopped", nil)
	l.mu.Unlock()
}

// runTick wraps tick() so an unhandled panic demotes the loop to
// CRASHED with a final activity entry, never escaping the scheduler
// boundary.
func (l *Loop) runTick(ctx context.Context) {
	if err := l.tick(ctx); err != nil {
		l.mu.Lock()
		l.state = StateCrashed
		l.appendActivityLocked(domain.ActivityError, fmt.Sprintf("trading cycle crashed: %v", err), nil)
		l.mu.Unlock()
	}
}

// tick runs one scheduler cycle: fetch market data, then either monitor
// an open position or search for an entry. Recoverable failures (data
// fetch, order submission, store writes) are logged and the tick
// returns cleanly; only a panic propagates as an error to runTick.
func (l *Loop) tick(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	l.logActivity(domain.ActivityInfo, "cycle started", nil)

	fetchCtx, cancel := context.WithTimeout(ctx, marketDataTimeout)
	series, ferr := l.deps.MarketData.FetchOHLCV(fetchCtx, l.cfg.Symbol, ohlcvInterval, ohlcvLimit)
	cancel()
	if ferr != nil {
		l.logActivity(domain.ActivityError, fmt.Sprintf("market data fetch failed: %v", ferr), nil)
		return nil
	}
	if len(series) == 0 {
		l.logActivity(domain.ActivityError, "market data fetch returned no candles", nil)
		return nil
	}

	price := series.Last().Close
	l.logActivity(domain.ActivityInfo, "market data fetched",
		map[string]interface{}{"symbol": l.cfg.Symbol, "price": price})

	l.mu.Lock()
	hasPosition := l.position != nil
	l.lastSeries = series
	l.mu.Unlock()

	if hasPosition {
		l.monitorPosition(ctx, series, price)
	} else {
		l.findEntry(ctx, series, price)
	}

	l.mu.Lock()
	l.lastCheck = time.Now()
	l.mu.Unlock()

	return nil
}

func (l *Loop) fetchOrderBook(ctx context.Context) *domain.OrderBook {
	obCtx, cancel := context.WithTimeout(ctx, orderBookTimeout)
	defer cancel()
	book, err := l.deps.MarketData.FetchOrderBook(obCtx, l.cfg.Symbol)
	if err != nil {
		l.logActivity(domain.ActivityWarning, fmt.Sprintf("order book unavailable: %v", err), nil)
		return nil
	}
	return &book
}

func (l *Loop) monitorPosition(ctx context.Context, series domain.Series, price float64) {
	l.logActivity(domain.ActivityInfo, "monitoring position", nil)

	l.mu.Lock()
	pos := *l.position
	l.mu.Unlock()

	book := l.fetchOrderBook(ctx)
	sizeUSD := pos.entryPrice.Mul(pos.quantity)

	rec := pipeline.Analyze(pipeline.Input{
		Symbol:            l.cfg.Symbol,
		Series:            series,
		OrderBook:         book,
		AccountBalance:    l.cfg.Budget,
		TradeSizeUSD:      toFloat(sizeUSD),
		PerformanceStats:  l.deps.Performance.Statistics(time.Now(), performanceLookback),
		CurrentVolatility: 0.02,
	})

	entry := toFloat(pos.entryPrice)
	pnlPct := 0.0
	if entry != 0 {
		pnlPct = (price - entry) / entry
	}
	now := time.Now()
	currentPrice := decimal.NewFromFloat(price)

	switch {
	case pnlPct >= rec.Modules.RiskLevels.TakeProfitPct:
		if ok, reason := l.deps.Gate.CanClose(pos.entryPrice, currentPrice, sizeUSD, now, false); ok {
			l.closePosition(ctx, price, "Take Profit")
		} else {
			l.logActivity(domain.ActivityWarning, fmt.Sprintf("take profit blocked: %s", reason), nil)
		}
	case pnlPct <= -rec.Modules.RiskLevels.StopLossPct:
		// Stop-loss bypasses the fee gate entirely.
		l.closePosition(ctx, price, "Stop Loss")
	case rec.Action == pipeline.ActionSell && rec.Confidence > aiSellConfidenceGate:
		if ok, reason := l.deps.Gate.CanClose(pos.entryPrice, currentPrice, sizeUSD, now, false); ok {
			l.closePosition(ctx, price, "AI Signal")
		} else {
			l.logActivity(domain.ActivityWarning, fmt.Sprintf("AI close blocked: %s", reason), nil)
		}
	default:
		l.logActivity(domain.ActivityInfo, "position held, waiting for TP/SL", nil)
	}
}

func (l *Loop) findEntry(ctx context.Context, series domain.Series, price float64) {
	l.logActivity(domain.ActivityInfo, "searching for entry signal", nil)

	ocCtx, cancel := context.WithTimeout(ctx, marketDataTimeout)
	veto, reason, err := l.deps.OnChain.Analyze(ocCtx, l.cfg.Symbol)
	cancel()
	if err != nil {
		l.logActivity(domain.ActivityWarning, fmt.Sprintf("on-chain filter unavailable: %v", err), nil)
	} else if veto {
		l.logActivity(domain.ActivityWarning, fmt.Sprintf("on-chain veto: %s", reason), nil)
		return
	}

	book := l.fetchOrderBook(ctx)
	sizeUSD := l.cfg.Budget.Mul(decimal.NewFromFloat(l.cfg.PositionSizeRatio))

	rec := pipeline.Analyze(pipeline.Input{
		Symbol:            l.cfg.Symbol,
		Series:            series,
		OrderBook:         book,
		AccountBalance:    l.cfg.Budget,
		TradeSizeUSD:      toFloat(sizeUSD),
		PerformanceStats:  l.deps.Performance.Statistics(time.Now(), performanceLookback),
		CurrentVolatility: 0.02,
	})

	l.logActivity(domain.ActivityInfo,
		fmt.Sprintf("decision: %s (confidence %.2f)", rec.Action, rec.Confidence), nil)

	if ok, freqReason := l.deps.Gate.CanOpen(time.Now()); !ok {
		l.logActivity(domain.ActivityWarning, fmt.Sprintf("entry blocked: %s", freqReason), nil)
		return
	}

	if rec.Action != pipeline.ActionBuy || rec.Confidence < l.cfg.MinConfidence {
		l.logActivity(domain.ActivityInfo, "no entry signal, waiting", nil)
		return
	}

	if avoidSymbol, avoidReason := l.correlationVeto(series); avoidSymbol {
		l.logActivity(domain.ActivityWarning, fmt.Sprintf("entry blocked: %s", avoidReason), nil)
		return
	}

	l.openPosition(ctx, price, rec)
}

// correlationVeto reports whether opening a new position in this loop's
// symbol should be avoided because another bot in the same Registry
// already holds a position in a highly correlated symbol. A process
// running a single bot, or one without correlation deps wired, never
// vetoes here.
func (l *Loop) correlationVeto(series domain.Series) (bool, string) {
	if l.deps.Correlation == nil || l.deps.Siblings == nil {
		return false, ""
	}
	for _, other := range l.deps.Siblings.openSymbolSeries(l.cfg.ConfigID) {
		if l.deps.Correlation.ShouldAvoidPair(l.cfg.Symbol, other.Symbol, series, other.Series, correlationAvoidThresh) {
			return true, fmt.Sprintf("correlated with open position in %s", other.Symbol)
		}
	}
	return false, ""
}

func (l *Loop) openPosition(ctx context.Context, price float64, rec pipeline.Recommendation) {
	priceDec := decimal.NewFromFloat(price)
	if priceDec.IsZero() {
		l.logActivity(domain.ActivityError, "cannot open position: zero price", nil)
		return
	}
	budgetForTrade := l.cfg.Budget.Mul(decimal.NewFromFloat(l.cfg.PositionSizeRatio))
	quantity := budgetForTrade.Div(priceDec)

	l.logActivity(domain.ActivityInfo, "opening position",
		map[string]interface{}{"quantity": quantity.String(), "price": price, "confidence": rec.Confidence})

	order, err := l.deps.Trading.MarketBuy(ctx, l.cfg.Symbol, quantity)
	if err != nil {
		l.logActivity(domain.ActivityError, fmt.Sprintf("failed to open position: %v", err), nil)
		return
	}

	fillPrice := priceDec
	if order.FillPrice != nil {
		fillPrice = *order.FillPrice
	}
	now := time.Now()

	var storeID string
	if l.deps.Store != nil {
		id, serr := l.deps.Store.InsertOpen(ctx, domain.TradeRecord{
			Symbol:     l.cfg.Symbol,
			EntryPrice: fillPrice,
			Quantity:   quantity,
			EntryTime:  now,
		})
		if serr != nil {
			l.logActivity(domain.ActivityError, fmt.Sprintf("trade store insert failed: %v", serr), nil)
		} else {
			storeID = id
		}
	}

	l.mu.Lock()
	l.position = &openPosition{storeID: storeID, entryPrice: fillPrice, quantity: quantity, entryTime: now}
	l.mu.Unlock()

	sizeUSD := fillPrice.Mul(quantity)
	l.deps.Gate.RecordTrade(feegate.TradeEvent{Side: domain.SideBuy, Price: fillPrice, SizeUSD: sizeUSD, Timestamp: now})

	be := l.deps.Gate.Breakeven(fillPrice)
	l.logActivity(domain.ActivitySuccess, "position opened", map[string]interface{}{
		"entry_price":     fillPrice.String(),
		"quantity":        quantity.String(),
		"breakeven_price": be.BreakevenPrice.String(),
	})

	l.notify(ctx, fmt.Sprintf("BUY %s @ %s qty %s", l.cfg.Symbol, fillPrice.String(), quantity.String()))
}

func (l *Loop) closePosition(ctx context.Context, price float64, reason string) {
	l.mu.Lock()
	pos := l.position
	l.mu.Unlock()
	if pos == nil {
		return
	}

	l.logActivity(domain.ActivityInfo, "closing position",
		map[string]interface{}{"reason": reason, "exit_price": price})

	order, err := l.deps.Trading.MarketSell(ctx, l.cfg.Symbol, pos.quantity)
	if err != nil {
		// Position remains open; retry next tick.
		l.logActivity(domain.ActivityError, fmt.Sprintf("failed to close position: %v", err), nil)
		return
	}

	exitPrice := decimal.NewFromFloat(price)
	if order.FillPrice != nil {
		exitPrice = *order.FillPrice
	}
	now := time.Now()

	sizeUSD := pos.entryPrice.Mul(pos.quantity)
	np := l.deps.Gate.NetProfit(pos.entryPrice, exitPrice, sizeUSD)
	fees := l.deps.Gate.TotalFees(pos.entryPrice, exitPrice, sizeUSD)

	if l.deps.Store != nil && pos.storeID != "" {
		if serr := l.deps.Store.MarkCompleted(ctx, pos.storeID, exitPrice, now); serr != nil {
			// Exchange order already filled; never un-place it. Log and
			// continue.
			l.logActivity(domain.ActivityError, fmt.Sprintf("trade store update failed: %v", serr), nil)
		}
	}

	netProfit := np.Net
	l.deps.Gate.RecordTrade(feegate.TradeEvent{
		Side: domain.SideSell, Price: exitPrice, SizeUSD: sizeUSD, ProfitUSD: &netProfit, Timestamp: now,
	})

	pnlPct := 0.0
	if sf := toFloat(sizeUSD); sf != 0 {
		pnlPct = toFloat(np.Net) / sf * 100
	}
	l.deps.Performance.Log(domain.TradeRecord{
		Symbol:      l.cfg.Symbol,
		EntryPrice:  pos.entryPrice,
		ExitPrice:   exitPrice,
		Quantity:    pos.quantity,
		EntryTime:   pos.entryTime,
		ExitTime:    now,
		GrossPnl:    np.Gross,
		Fees:        fees.Total,
		NetPnl:      np.Net,
		PnlPct:      pnlPct,
		HoldMinutes: now.Sub(pos.entryTime).Minutes(),
	})

	level := domain.ActivitySuccess
	if np.Net.IsNegative() {
		level = domain.ActivityWarning
	}
	l.logActivity(level, "position closed", map[string]interface{}{
		"reason":      reason,
		"net_pnl":     np.Net.String(),
		"net_pnl_pct": pnlPct,
	})

	l.notify(ctx, fmt.Sprintf("SELL %s @ %s net %s (%s)", l.cfg.Symbol, exitPrice.String(), np.Net.String(), reason))

	l.mu.Lock()
	l.position = nil
	l.mu.Unlock()
}

func (l *Loop) notify(ctx context.Context, message string) {
	if l.deps.Notifier == nil {
		return
	}
	if err := l.deps.Notifier.Notify(ctx, message); err != nil {
		log.Warn().Err(err).Str("config_id", l.cfg.ConfigID).Msg("notification failed")
	}
}

func (l *Loop) logActivity(level domain.ActivityLevel, message string, payload map[string]interface{}) {
	l.mu.Lock()
	l.appendActivityLocked(level, message, payload)
	l.mu.Unlock()
}

// appendActivityLocked appends to the ring buffer; callers must hold mu.
func (l *Loop) appendActivityLocked(level domain.ActivityLevel, message string, payload map[string]interface{}) {
	a := domain.Activity{TimestampUTC: time.Now().UTC(), Level: level, Message: message, Payload: payload}
	l.activity = append(l.activity, a)
	if len(l.activity) > activityCap {
		l.activity = l.activity[len(l.activity)-activityCap:]
	}

	evt := log.Info()
	switch level {
	case domain.ActivityError:
		evt = log.Error()
	case domain.ActivityWarning:
		evt = log.Warn()
	}
	evt.Str("config_id", l.cfg.ConfigID).Str("symbol", l.cfg.Symbol).Msg(message)
}

// ActivityLog returns a snapshot of the most recent limit entries (or
// all if limit <= 0), newest last.
func (l *Loop) ActivityLog(limit int) []domain.Activity {
	l.mu.Lock()
	defer l.mu.Unlock()
	if limit <= 0 || limit > len(l.activity) {
		limit = len(l.activity)
	}
	out := make([]domain.Activity, limit)
	copy(out, l.activity[len(l.activity)-limit:])
	return out
}

// PositionView is a read-only snapshot of the open position, if any.
type PositionView struct {
	EntryPrice decimal.Decimal
	Quantity   decimal.Decimal
	EntryTime  time.Time
}

// Status is the bot status snapshot.
type Status struct {
	ConfigID    string
	State       State
	LastCheck   time.Time
	Position    *PositionView
	Performance performance.Statistics
	FeeSettings domain.FeeSettings
}

// Status returns a point-in-time snapshot for the control surface.
func (l *Loop) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()

	var pv *PositionView
	if l.position != nil {
		pv = &PositionView{
			EntryPrice: l.position.entryPrice,
			Quantity:   l.position.quantity,
			EntryTime:  l.position.entryTime,
		}
	}

	return Status{
		ConfigID:    l.cfg.ConfigID,
		State:       l.state,
		LastCheck:   l.lastCheck,
		Position:    pv,
		Performance: l.deps.Performance.Statistics(time.Now(), performanceLookback),
		FeeSettings: l.deps.Gate.Settings(),
	}
}

func toFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

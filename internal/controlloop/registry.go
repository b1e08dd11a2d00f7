package controlloop

import (
	"context"
	"sync"

	"github.com/meridianquant/tradecore/internal/domain"
	"github.com/meridianquant/tradecore/internal/traderr"
)

// Registry holds one Loop per active BotConfig. Each bot owns its own
// task and port handles; there is no cross-bot shared mutable state.
type Registry struct {
	mu    sync.Mutex
	loops map[string]*Loop
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{loops: make(map[string]*Loop)}
}

// Create registers a new IDLE Loop for cfg, replacing any prior entry
// for the same ConfigID (the old loop is left running if it was; the
// caller should Stop it first).
func (r *Registry) Create(cfg domain.BotConfig, deps Deps) *Loop {
	r.mu.Lock()
	defer r.mu.Unlock()
	l := New(cfg, deps)
	r.loops[cfg.ConfigID] = l
	return l
}

// Start starts the loop registered for configID.
func (r *Registry) Start(ctx context.Context, configID string) error {
	l, ok := r.Get(configID)
	if !ok {
		return traderr.ErrBadParams
	}
	return l.Start(ctx)
}

// Stop stops the loop registered for configID.
func (r *Registry) Stop(configID string) error {
	l, ok := r.Get(configID)
	if !ok {
		return traderr.ErrBadParams
	}
	l.Stop()
	return nil
}

// Get returns the loop registered for configID, if any.
func (r *Registry) Get(configID string) (*Loop, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.loops[configID]
	return l, ok
}

// Remove deregisters configID. It does not stop a running loop.
func (r *Registry) Remove(configID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.loops, configID)
}

// symbolSeries pairs a loop's traded symbol with its most recent candle
// series, for the correlation pre-check in findEntry.
type symbolSeries struct {
	Symbol string
	Series domain.Series
}

// openSymbolSeries returns one entry per registered loop, other than
// excludeConfigID, that currently holds an open position.
func (r *Registry) openSymbolSeries(excludeConfigID string) []symbolSeries {
	r.mu.Lock()
	loops := make([]*Loop, 0, len(r.loops))
	for configID, l := range r.loops {
		if configID == excludeConfigID {
			continue
		}
		loops = append(loops, l)
	}
	r.mu.Unlock()

	out := make([]symbolSeries, 0, len(loops))
	for _, l := range loops {
		if symbol, series, ok := l.symbolSeries(); ok {
			out = append(out, symbolSeries{Symbol: symbol, Series: series})
		}
	}
	return out
}

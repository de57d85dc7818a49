// Package engine correlates identifiers across intercepted HTTP traffic and,
// when armed, swaps them into outbound requests to probe for broken object
// level authorization.
//
// An Engine owns the rule store, the capture pool and the attack-mode flag.
// Every method is safe for concurrent use by many in-flight transactions.
package engine

import (
	"sync/atomic"
	"time"

	"github.com/raaihank/bolahunter/internal/capture"
	"github.com/raaihank/bolahunter/internal/rules"
	"go.uber.org/zap"
)

// Engine is the shared correlation context for one running proxy.
type Engine struct {
	rules    *rules.Store
	pool     *capture.Pool
	armed    atomic.Bool
	logger   *zap.Logger
	observer atomic.Pointer[observerHolder]

	harvested  atomic.Int64
	backfilled atomic.Int64
	attacks    atomic.Int64
}

type observerHolder struct {
	o Observer
}

// New creates an engine over the given rule store and pool.
func New(ruleStore *rules.Store, pool *capture.Pool, logger *zap.Logger) *Engine {
	return &Engine{
		rules:  ruleStore,
		pool:   pool,
		logger: logger,
	}
}

// Rules returns the rule store.
func (e *Engine) Rules() *rules.Store { return e.rules }

// Pool returns the capture pool.
func (e *Engine) Pool() *capture.Pool { return e.pool }

// SetObserver installs o to receive engine events. A nil o removes it.
func (e *Engine) SetObserver(o Observer) {
	if o == nil {
		e.observer.Store(nil)
		return
	}
	e.observer.Store(&observerHolder{o: o})
}

func (e *Engine) emit(ev Event) {
	h := e.observer.Load()
	if h == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	h.o.OnEvent(ev)
}

// Armed reports whether attack mode is on.
func (e *Engine) Armed() bool { return e.armed.Load() }

// Arm turns attack mode on.
func (e *Engine) Arm() { e.SetArmed(true) }

// Disarm turns attack mode off.
func (e *Engine) Disarm() { e.SetArmed(false) }

// SetArmed sets attack mode.
func (e *Engine) SetArmed(armed bool) {
	if e.armed.Swap(armed) == armed {
		return
	}
	e.logger.Info("Attack mode changed", zap.Bool("armed", armed))
	e.emit(Event{Type: EventAttackMode, Armed: armed})
}

// SetActive marks a captured value as eligible (or not) for substitution and
// returns the item as it stands after the change.
func (e *Engine) SetActive(value string, active bool) (capture.Snapshot, bool) {
	snap, ok := e.pool.SetActive(value, active)
	if !ok {
		return capture.Snapshot{}, false
	}
	e.emit(Event{Type: EventItemUpdated, Item: &snap})
	return snap, true
}

// Remove deletes a captured value.
func (e *Engine) Remove(value string) bool {
	if !e.pool.Remove(value) {
		return false
	}
	e.logger.Info("Captured item removed", zap.String("value", value))
	e.emit(Event{Type: EventItemRemoved, Value: value})
	return true
}

// Clear drops every captured value.
func (e *Engine) Clear() int {
	n := e.pool.Clear()
	e.logger.Info("Capture pool cleared", zap.Int("removed", n))
	e.emit(Event{Type: EventPoolCleared, Count: n})
	return n
}

// Stats is a summary of the engine state
type Stats struct {
	Items        int   `json:"items"`
	ActiveItems  int   `json:"active_items"`
	Rules        int   `json:"rules"`
	EnabledRules int   `json:"enabled_rules"`
	Armed        bool  `json:"armed"`
	Harvested    int64 `json:"harvested"`
	Backfilled   int64 `json:"backfilled"`
	Attacks      int64 `json:"attacks"`
}

// Stats returns current counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Items:        e.pool.Len(),
		ActiveItems:  e.pool.ActiveCount(),
		Rules:        len(e.rules.All()),
		EnabledRules: len(e.rules.Enabled()),
		Armed:        e.Armed(),
		Harvested:    e.harvested.Load(),
		Backfilled:   e.backfilled.Load(),
		Attacks:      e.attacks.Load(),
	}
}

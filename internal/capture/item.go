// Package capture is the registry of identifiers harvested from traffic.
package capture

import (
	"sync"
	"time"

	"github.com/raaihank/bolahunter/internal/traffic"
)

// Item is one captured identifier. The identity fields are fixed at capture
// time; the response and the active flag are guarded by the item's own lock.
type Item struct {
	Value      string
	RuleName   string
	Method     string
	URL        string
	Request    traffic.Request
	Seq        uint64
	CapturedAt time.Time

	mu       sync.RWMutex
	response traffic.Response
	active   bool
}

func newItem(value, ruleName string, req traffic.Request, resp traffic.Response) *Item {
	return &Item{
		Value:      value,
		RuleName:   ruleName,
		Method:     req.Method(),
		URL:        req.URL(),
		Request:    req,
		CapturedAt: time.Now(),
		response:   resp,
		active:     true,
	}
}

// Response returns the correlated response, or nil if none has arrived.
func (it *Item) Response() traffic.Response {
	it.mu.RLock()
	defer it.mu.RUnlock()
	return it.response
}

// HasResponse reports whether a response is attached.
func (it *Item) HasResponse() bool {
	return it.Response() != nil
}

// AttachResponse sets the response if none is set yet. It reports whether
// this call attached it.
func (it *Item) AttachResponse(resp traffic.Response) bool {
	if resp == nil {
		return false
	}
	it.mu.Lock()
	defer it.mu.Unlock()
	if it.response != nil {
		return false
	}
	it.response = resp
	return true
}

// Active reports whether the item may be used as a substitution candidate.
func (it *Item) Active() bool {
	it.mu.RLock()
	defer it.mu.RUnlock()
	return it.active
}

// SetActive changes the active flag.
func (it *Item) SetActive(active bool) {
	it.mu.Lock()
	it.active = active
	it.mu.Unlock()
}

// Snapshot is a point-in-time copy of an item suitable for serialization.
type Snapshot struct {
	Seq         uint64    `json:"seq"`
	Active      bool      `json:"active"`
	Value       string    `json:"value"`
	RuleName    string    `json:"type"`
	Method      string    `json:"method"`
	URL         string    `json:"url"`
	HasResponse bool      `json:"has_response"`
	CapturedAt  time.Time `json:"captured_at"`
}

// Snapshot copies the item's current state.
func (it *Item) Snapshot() Snapshot {
	it.mu.RLock()
	defer it.mu.RUnlock()
	return Snapshot{
		Seq:         it.Seq,
		Active:      it.active,
		Value:       it.Value,
		RuleName:    it.RuleName,
		Method:      it.Method,
		URL:         it.URL,
		HasResponse: it.response != nil,
		CapturedAt:  it.CapturedAt,
	}
}

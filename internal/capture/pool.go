package capture

import (
	"sort"
	"sync"

	"github.com/raaihank/bolahunter/internal/traffic"
)

// Pool maps captured values to items. It never evicts; it only shrinks
// through Remove and Clear.
type Pool struct {
	mu    sync.RWMutex
	items map[string]*Item
	seq   uint64
}

// NewPool creates an empty pool.
func NewPool() *Pool {
	return &Pool{items: make(map[string]*Item)}
}

// InsertIfAbsent adds a new item for value unless one already exists. The
// existing item is returned untouched in that case, with inserted false.
func (p *Pool) InsertIfAbsent(value, ruleName string, req traffic.Request, resp traffic.Response) (item *Item, inserted bool) {
	p.mu.RLock()
	existing, ok := p.items[value]
	p.mu.RUnlock()
	if ok {
		return existing, false
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if existing, ok := p.items[value]; ok {
		return existing, false
	}

	p.seq++
	item = newItem(value, ruleName, req, resp)
	item.Seq = p.seq
	p.items[value] = item
	return item, true
}

// Get returns the item for value.
func (p *Pool) Get(value string) (*Item, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	item, ok := p.items[value]
	return item, ok
}

// Len returns the number of items.
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.items)
}

// Items returns the current items in insertion order. The slice is a copy;
// the items are shared.
func (p *Pool) Items() []*Item {
	p.mu.RLock()
	out := make([]*Item, 0, len(p.items))
	for _, item := range p.items {
		out = append(out, item)
	}
	p.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// Snapshots returns a serializable copy of every item in insertion order.
func (p *Pool) Snapshots() []Snapshot {
	items := p.Items()
	out := make([]Snapshot, len(items))
	for i, item := range items {
		out[i] = item.Snapshot()
	}
	return out
}

// SetActive changes the active flag of value's item and returns the updated
// snapshot.
func (p *Pool) SetActive(value string, active bool) (Snapshot, bool) {
	item, ok := p.Get(value)
	if !ok {
		return Snapshot{}, false
	}
	item.SetActive(active)
	return item.Snapshot(), true
}

// Remove deletes value's item.
func (p *Pool) Remove(value string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.items[value]; !ok {
		return false
	}
	delete(p.items, value)
	return true
}

// Clear removes every item and returns how many were removed.
func (p *Pool) Clear() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.items)
	p.items = make(map[string]*Item)
	return n
}

// ActiveCount returns how many items are currently active.
func (p *Pool) ActiveCount() int {
	n := 0
	for _, item := range p.Items() {
		if item.Active() {
			n++
		}
	}
	return n
}

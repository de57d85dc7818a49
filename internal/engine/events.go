package engine

import (
	"time"

	"github.com/raaihank/bolahunter/internal/capture"
)

// EventType names an engine event
type EventType string

const (
	EventItemCaptured     EventType = "item_captured"
	EventResponseAttached EventType = "response_attached"
	EventAttackPerformed  EventType = "attack_performed"
	EventItemUpdated      EventType = "item_updated"
	EventItemRemoved      EventType = "item_removed"
	EventPoolCleared      EventType = "pool_cleared"
	EventAttackMode       EventType = "attack_mode"
)

// Source tells where a value was harvested from
type Source string

const (
	SourcePath Source = "request_path"
	SourceBody Source = "response_body"
)

// Event describes something the engine did. Only the fields relevant to the
// event type are set.
type Event struct {
	Type        EventType         `json:"type"`
	Timestamp   time.Time         `json:"timestamp"`
	Item        *capture.Snapshot `json:"item,omitempty"`
	Source      Source            `json:"source,omitempty"`
	Value       string            `json:"value,omitempty"`
	Rule        string            `json:"rule,omitempty"`
	Original    string            `json:"original,omitempty"`
	Replacement string            `json:"replacement,omitempty"`
	Method      string            `json:"method,omitempty"`
	OldPath     string            `json:"old_path,omitempty"`
	NewPath     string            `json:"new_path,omitempty"`
	Armed       bool              `json:"armed"`
	Count       int               `json:"count,omitempty"`
}

// Observer receives engine events. OnEvent is called synchronously on the
// traffic path and must not block.
type Observer interface {
	OnEvent(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) OnEvent(ev Event) { f(ev) }

package websocket

import (
	"time"

	"github.com/gorilla/websocket"

	"github.com/raaihank/bolahunter/internal/engine"
)

// EventType represents the type of WebSocket event
type EventType string

const (
	EventTypeItemCaptured     = EventType(engine.EventItemCaptured)
	EventTypeResponseAttached = EventType(engine.EventResponseAttached)
	EventTypeAttackPerformed  = EventType(engine.EventAttackPerformed)
	EventTypeItemUpdated      = EventType(engine.EventItemUpdated)
	EventTypeItemRemoved      = EventType(engine.EventItemRemoved)
	EventTypePoolCleared      = EventType(engine.EventPoolCleared)
	EventTypeAttackMode       = EventType(engine.EventAttackMode)
	// EventTypeConnection represents connection events
	EventTypeConnection EventType = "connection"
	EventTypePong       EventType = "pong"
)

// Event represents a WebSocket event sent to clients
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// ConnectionEvent represents WebSocket connection events
type ConnectionEvent struct {
	Action    string `json:"action"` // "connected", "disconnected"
	ClientID  string `json:"client_id"`
	ClientIP  string `json:"client_ip"`
	UserAgent string `json:"user_agent,omitempty"`
	Message   string `json:"message,omitempty"`
}

// ClientMessage represents messages sent from clients to server
type ClientMessage struct {
	Type string               `json:"type"`
	Data *SubscriptionRequest `json:"data,omitempty"`
}

// SubscriptionRequest represents a client subscription request
type SubscriptionRequest struct {
	Events []EventType   `json:"events"`
	Filter *EventFilter `json:"filter,omitempty"`
}

// EventFilter narrows engine events by rule name
type EventFilter struct {
	Rules []string `json:"rules,omitempty"`
}

// Client represents a WebSocket client connection
type Client struct {
	ID          string
	Conn        *websocket.Conn
	Send        chan Event
	ConnectedAt time.Time
	IP          string
	UserAgent   string

	subscription *SubscriptionRequest
}

// Package bus distributes assistant events (mode changes, dispatches,
// fallbacks, suppressed input) to observers such as the journal and the
// metrics collector.
package bus

import (
	"time"

	"github.com/google/uuid"
)

// EventType identifies what happened.
type EventType string

const (
	// Listener lifecycle
	EventSessionStarted EventType = "listener.started"
	EventSessionStopped EventType = "listener.stopped"
	EventSessionFailed  EventType = "listener.failed"

	// Listening mode
	EventTriggerHeard EventType = "listener.trigger"
	EventModeChanged  EventType = "listener.mode"
	EventInputMuted   EventType = "listener.muted"

	// Utterance routing
	EventUtteranceMatched  EventType = "utterance.matched"
	EventUtteranceFallback EventType = "utterance.fallback"

	// Output
	EventOutputEmitted EventType = "output.emitted"
)

// Event is a single notification flowing through the bus.
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id,omitempty"`

	// Text is the hypothesis, utterance or output text, depending on Type.
	Text string `json:"text,omitempty"`

	// Mode is the listening mode after a mode change.
	Mode string `json:"mode,omitempty"`

	// Dispatch details
	Skill    string            `json:"skill,omitempty"`
	Template string            `json:"template,omitempty"`
	Slots    map[string]string `json:"slots,omitempty"`
	Score    int               `json:"score,omitempty"`

	Error string `json:"error,omitempty"`
}

// NewEvent creates an event with a fresh ID and the current UTC time.
func NewEvent(eventType EventType) Event {
	return Event{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Type:      eventType,
	}
}

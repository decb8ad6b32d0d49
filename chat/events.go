package chat

import "chatdesk/web/types"

type EventType string

const (
	EventSessionCreated EventType = "session.created"
	EventSessionUpdated EventType = "session.updated"
	EventSessionDeleted EventType = "session.deleted"
	EventActiveChanged  EventType = "active.changed"
	EventModeChanged    EventType = "mode.changed"
	EventBusyChanged    EventType = "busy.changed"
)

// Event is one observable state change. Session is a deep copy, safe to keep.
type Event struct {
	Type      EventType            `json:"type"`
	SessionID string               `json:"sessionId,omitempty"`
	Session   *types.Session       `json:"session,omitempty"`
	Mode      types.SubmissionMode `json:"mode,omitempty"`
	Busy      bool                 `json:"busy"`
}

// Listener receives events in mutation order. It runs under the reducer's
// lock and must not call back into the reducer.
type Listener func(Event)

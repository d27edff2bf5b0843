package core

import "github.com/vovakirdan/medrelay/internal/store"

// EventKind is a notification the core emits to clients.
type EventKind int

const (
	// EventMessage carries a persisted utterance to every room member.
	EventMessage EventKind = iota
	// EventSystem notifies about participants joining or leaving.
	EventSystem
	// EventError reports a problem with the client's own inbound event.
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventMessage:
		return "message"
	case EventSystem:
		return "system"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is sent to clients to describe what happened in the room.
type Event struct {
	Kind           EventKind
	ConversationID string
	Message        *store.Message // EventMessage
	SystemText     string         // EventSystem
	Participants   int            // EventSystem
	Error          *CoreError     // EventError
}

// MessageEvent wraps a persisted message for broadcast.
func MessageEvent(msg *store.Message) *Event {
	return &Event{Kind: EventMessage, ConversationID: msg.ConversationID, Message: msg}
}

// SystemEvent builds a participant-count notification.
func SystemEvent(conversationID, text string, participants int) *Event {
	return &Event{
		Kind:           EventSystem,
		ConversationID: conversationID,
		SystemText:     text,
		Participants:   participants,
	}
}

// ErrorEvent builds a personal error reply.
func ErrorEvent(err error) *Event {
	return &Event{Kind: EventError, Error: ToCoreError(err)}
}

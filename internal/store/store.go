package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a conversation or object does not exist.
var ErrNotFound = errors.New("not found")

// Role identifies which side of the conversation spoke.
type Role string

const (
	RoleDoctor  Role = "doctor"
	RolePatient Role = "patient"
)

// ParseRole accepts only the two known roles; anything else is rejected.
func ParseRole(s string) (Role, bool) {
	switch Role(s) {
	case RoleDoctor:
		return RoleDoctor, true
	case RolePatient:
		return RolePatient, true
	default:
		return "", false
	}
}

// Opposite returns the listener role for a speaker.
func (r Role) Opposite() Role {
	if r == RoleDoctor {
		return RolePatient
	}
	return RoleDoctor
}

// ContentKind tells whether an utterance started as text or audio.
type ContentKind string

const (
	KindText  ContentKind = "text"
	KindAudio ContentKind = "audio"
)

// Conversation is a doctor-patient session with one language per side.
type Conversation struct {
	ID              string
	Title           string
	DoctorLanguage  string
	PatientLanguage string
	MessageCount    int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// LanguageFor returns the configured language of the given role.
func (c *Conversation) LanguageFor(r Role) string {
	if r == RoleDoctor {
		return c.DoctorLanguage
	}
	return c.PatientLanguage
}

// Message is one persisted utterance. Nullable fields stay nil when the
// stage that produces them did not succeed.
type Message struct {
	ID               string
	ConversationID   string
	Seq              int64 // insertion order within the store
	Role             Role
	Kind             ContentKind
	OriginalText     string
	OriginalLanguage string
	TranslatedText   *string
	TargetLanguage   *string
	AudioRef         *string
	AudioDuration    *string
	SpeechRef        *string
	CreatedAt        time.Time
}

// Summary is a generated clinical summary of a conversation.
type Summary struct {
	ID             string
	ConversationID string
	Text           string
	CreatedAt      time.Time
}

// SearchHit is a message matched by keyword search.
type SearchHit struct {
	Message           Message
	ConversationTitle string
}

// ConversationStore defines conversation persistence operations.
type ConversationStore interface {
	CreateConversation(ctx context.Context, conv *Conversation) (*Conversation, error)
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	ListConversations(ctx context.Context) ([]*Conversation, error)
	// DeleteConversation removes the conversation with its messages and summaries.
	DeleteConversation(ctx context.Context, id string) error
}

// MessageStore defines message persistence operations.
type MessageStore interface {
	// AppendMessage inserts the message and bumps the conversation's updated_at.
	AppendMessage(ctx context.Context, msg *Message) (*Message, error)
	// ListMessages returns messages in insertion order.
	ListMessages(ctx context.Context, conversationID string) ([]*Message, error)
	// SearchMessages matches query against original and translated text, newest first.
	SearchMessages(ctx context.Context, query, conversationID string, limit int) ([]SearchHit, error)
}

// SummaryStore defines summary persistence operations.
type SummaryStore interface {
	AppendSummary(ctx context.Context, summary *Summary) (*Summary, error)
	ListSummaries(ctx context.Context, conversationID string) ([]*Summary, error)
}

// Store combines all storage interfaces.
type Store interface {
	ConversationStore
	MessageStore
	SummaryStore
	Close() error
}

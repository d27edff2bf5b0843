package proto

import (
	"time"

	"github.com/vovakirdan/medrelay/internal/core"
	"github.com/vovakirdan/medrelay/internal/store"
)

const (
	InboundTypeText               = "text"
	InboundTypeAudioTranscription = "audio_transcription"

	OutboundTypeMessage = "message"
	OutboundTypeSystem  = "system"
	OutboundTypeError   = "error"
)

// Inbound is an utterance sent by a participant.
type Inbound struct {
	Type           string `json:"type"`
	Role           string `json:"role"`
	Content        string `json:"content"`
	Audio          []byte `json:"audio,omitempty"` // base64 in JSON
	AudioFormat    string `json:"audio_format,omitempty"`
	SourceLanguage string `json:"source_language,omitempty"`
	// TargetLanguage is accepted for compatibility and ignored; the
	// listener's language comes from the conversation.
	TargetLanguage string `json:"target_language,omitempty"`
}

// Outbound is the envelope for everything sent to a participant.
type Outbound struct {
	Type         string   `json:"type"`
	Message      *Message `json:"message,omitempty"`
	SystemText   string   `json:"system_text,omitempty"`
	Participants *int     `json:"participants,omitempty"`
	Error        string   `json:"error,omitempty"`
	Code         string   `json:"code,omitempty"`
}

// Message is the wire form of a persisted utterance.
type Message struct {
	ID               string    `json:"id"`
	ConversationID   string    `json:"conversation_id"`
	Role             string    `json:"role"`
	MessageType      string    `json:"message_type"`
	OriginalText     string    `json:"original_text"`
	OriginalLanguage string    `json:"original_language"`
	TranslatedText   *string   `json:"translated_text"`
	TargetLanguage   *string   `json:"target_language"`
	AudioFilePath    *string   `json:"audio_file_path"`
	AudioDuration    *string   `json:"audio_duration"`
	TTSAudioPath     *string   `json:"tts_audio_path"`
	CreatedAt        time.Time `json:"created_at"`
}

// MessageFrom converts a stored message.
func MessageFrom(m *store.Message) *Message {
	return &Message{
		ID:               m.ID,
		ConversationID:   m.ConversationID,
		Role:             string(m.Role),
		MessageType:      string(m.Kind),
		OriginalText:     m.OriginalText,
		OriginalLanguage: m.OriginalLanguage,
		TranslatedText:   m.TranslatedText,
		TargetLanguage:   m.TargetLanguage,
		AudioFilePath:    m.AudioRef,
		AudioDuration:    m.AudioDuration,
		TTSAudioPath:     m.SpeechRef,
		CreatedAt:        m.CreatedAt,
	}
}

// FromEvent maps a core event onto the wire envelope.
func FromEvent(event *core.Event) Outbound {
	switch event.Kind {
	case core.EventMessage:
		return Outbound{Type: OutboundTypeMessage, Message: MessageFrom(event.Message)}
	case core.EventSystem:
		n := event.Participants
		return Outbound{Type: OutboundTypeSystem, SystemText: event.SystemText, Participants: &n}
	case core.EventError:
		if event.Error == nil {
			return Outbound{Type: OutboundTypeError, Error: "unknown error", Code: core.ErrCodeInternal}
		}
		return Outbound{Type: OutboundTypeError, Error: event.Error.Message, Code: event.Error.Code}
	default:
		return Outbound{Type: OutboundTypeError, Error: "unknown event", Code: core.ErrCodeInternal}
	}
}

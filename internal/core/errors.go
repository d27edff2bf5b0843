package core

import "errors"

// Error codes for domain errors.
const (
	ErrCodeConversationNotFound = "conversation_not_found"
	ErrCodeEmptyContent         = "empty_content"
	ErrCodeUnknownRole          = "unknown_role"
	ErrCodeUnsupportedLanguage  = "unsupported_language"
	ErrCodeTranscriptionFailed  = "transcription_failed"
	ErrCodeNoMessages           = "no_messages"
	ErrCodeBadRequest           = "bad_request"
	ErrCodeRateLimited          = "rate_limited"
	ErrCodeInternal             = "internal"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrEmptyContent         = errors.New("empty message")
	ErrUnknownRole          = errors.New("unknown speaker role")
	ErrUnsupportedLanguage  = errors.New("unsupported language")
	ErrTranscriptionFailed  = errors.New("transcription failed")
	ErrNoMessages           = errors.New("no messages to summarize")
	ErrBadRequest           = errors.New("bad request")
	ErrRateLimited          = errors.New("too many messages")

	// ErrClientClosed is returned when delivering to a session that already went away.
	ErrClientClosed = errors.New("client closed")
	// ErrSlowConsumer is returned when a session's outbound buffer is full.
	ErrSlowConsumer = errors.New("client outbound buffer full")
)

// CoreError wraps a code and human-readable message.
type CoreError struct {
	Code    string
	Message string
}

func (e *CoreError) Error() string {
	return e.Message
}

func coreError(code, msg string) *CoreError {
	return &CoreError{Code: code, Message: msg}
}

// ToCoreError maps an error onto a wire-level code. Unknown errors become internal.
func ToCoreError(err error) *CoreError {
	var ce *CoreError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &ce):
		return ce
	case errors.Is(err, ErrConversationNotFound):
		return coreError(ErrCodeConversationNotFound, "Conversation not found")
	case errors.Is(err, ErrEmptyContent):
		return coreError(ErrCodeEmptyContent, "Empty message")
	case errors.Is(err, ErrUnknownRole):
		return coreError(ErrCodeUnknownRole, "Role must be doctor or patient")
	case errors.Is(err, ErrUnsupportedLanguage):
		return coreError(ErrCodeUnsupportedLanguage, "Unsupported language")
	case errors.Is(err, ErrTranscriptionFailed):
		// Upstream detail stays in the server log.
		return coreError(ErrCodeTranscriptionFailed, "Transcription failed")
	case errors.Is(err, ErrNoMessages):
		return coreError(ErrCodeNoMessages, "No messages to summarize")
	case errors.Is(err, ErrRateLimited):
		return coreError(ErrCodeRateLimited, "Too many messages, slow down")
	case errors.Is(err, ErrBadRequest):
		return coreError(ErrCodeBadRequest, err.Error())
	default:
		return coreError(ErrCodeInternal, "internal error")
	}
}

package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/medrelay/internal/core"
	"github.com/vovakirdan/medrelay/internal/proto"
	"github.com/vovakirdan/medrelay/internal/service/conversations"
	"github.com/vovakirdan/medrelay/internal/store"
)

// ErrorResponse represents an error response body.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// ConversationResponse represents a conversation in API responses.
type ConversationResponse struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	DoctorLanguage  string    `json:"doctor_language"`
	PatientLanguage string    `json:"patient_language"`
	MessageCount    int       `json:"message_count"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func conversationResponse(c *store.Conversation) ConversationResponse {
	return ConversationResponse{
		ID:              c.ID,
		Title:           c.Title,
		DoctorLanguage:  c.DoctorLanguage,
		PatientLanguage: c.PatientLanguage,
		MessageCount:    c.MessageCount,
		CreatedAt:       c.CreatedAt,
		UpdatedAt:       c.UpdatedAt,
	}
}

func messageResponses(msgs []*store.Message) []*proto.Message {
	out := make([]*proto.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, proto.MessageFrom(m))
	}
	return out
}

// SummaryResponse represents a stored summary.
type SummaryResponse struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SummaryText    string    `json:"summary_text"`
	CreatedAt      time.Time `json:"created_at"`
}

func summaryResponse(s *store.Summary) SummaryResponse {
	return SummaryResponse{
		ID:             s.ID,
		ConversationID: s.ConversationID,
		SummaryText:    s.Text,
		CreatedAt:      s.CreatedAt,
	}
}

// SearchResult is one keyword match.
type SearchResult struct {
	MessageID         string    `json:"message_id"`
	ConversationID    string    `json:"conversation_id"`
	ConversationTitle string    `json:"conversation_title"`
	Role              string    `json:"role"`
	OriginalText      string    `json:"original_text"`
	TranslatedText    *string   `json:"translated_text"`
	CreatedAt         time.Time `json:"created_at"`
	MatchContext      string    `json:"match_context"`
}

// SearchResponse wraps search results.
type SearchResponse struct {
	Query        string         `json:"query"`
	TotalResults int            `json:"total_results"`
	Results      []SearchResult `json:"results"`
}

func searchResponse(query string, results []conversations.SearchResult) SearchResponse {
	out := SearchResponse{Query: query, TotalResults: len(results), Results: make([]SearchResult, 0, len(results))}
	for _, r := range results {
		m := r.Message
		out.Results = append(out.Results, SearchResult{
			MessageID:         m.ID,
			ConversationID:    m.ConversationID,
			ConversationTitle: r.ConversationTitle,
			Role:              string(m.Role),
			OriginalText:      m.OriginalText,
			TranslatedText:    m.TranslatedText,
			CreatedAt:         m.CreatedAt,
			MatchContext:      r.Snippet,
		})
	}
	return out
}

// statusFor maps a wire error code onto an HTTP status.
func statusFor(code string) int {
	switch code {
	case core.ErrCodeConversationNotFound:
		return http.StatusNotFound
	case core.ErrCodeEmptyContent, core.ErrCodeUnknownRole, core.ErrCodeUnsupportedLanguage,
		core.ErrCodeNoMessages, core.ErrCodeBadRequest:
		return http.StatusBadRequest
	case core.ErrCodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err with its wire code. Internal errors are logged and
// their details withheld.
func writeError(c *gin.Context, logger *zerolog.Logger, err error) {
	ce := core.ToCoreError(err)
	status := statusFor(ce.Code)
	if status >= http.StatusInternalServerError {
		logger.Error().Err(err).Str("path", c.Request.URL.Path).Str("code", ce.Code).Msg("request failed")
	}
	c.JSON(status, ErrorResponse{Error: ce.Message, Code: ce.Code})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: msg, Code: core.ErrCodeBadRequest})
}

func isMaxBytes(err error) bool {
	var mbe *http.MaxBytesError
	return errors.As(err, &mbe)
}

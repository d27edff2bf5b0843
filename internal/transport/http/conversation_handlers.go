package http

import (
	"errors"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/medrelay/internal/pipeline"
	"github.com/vovakirdan/medrelay/internal/proto"
	"github.com/vovakirdan/medrelay/internal/relay"
	"github.com/vovakirdan/medrelay/internal/service/conversations"
	"github.com/vovakirdan/medrelay/internal/service/summary"
	"github.com/vovakirdan/medrelay/internal/store"
)

// ConversationHandlers provides HTTP handlers for conversations, their
// messages and summaries.
type ConversationHandlers struct {
	conversations *conversations.Service
	summaries     *summary.Service
	pipeline      relay.Processor
	maxAudioBytes int64
	log           *zerolog.Logger
}

// NewConversationHandlers creates conversation handlers.
func NewConversationHandlers(convs *conversations.Service, summaries *summary.Service, p relay.Processor, maxAudioBytes int64, logger *zerolog.Logger) *ConversationHandlers {
	return &ConversationHandlers{
		conversations: convs,
		summaries:     summaries,
		pipeline:      p,
		maxAudioBytes: maxAudioBytes,
		log:           logger,
	}
}

// CreateConversationRequest represents the create conversation body.
type CreateConversationRequest struct {
	Title           string `json:"title"`
	DoctorLanguage  string `json:"doctor_language"`
	PatientLanguage string `json:"patient_language"`
}

// CreateConversation handles conversation creation.
// POST /api/conversations
func (h *ConversationHandlers) CreateConversation(c *gin.Context) {
	var req CreateConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		h.log.Debug().Err(err).Msg("invalid create conversation request")
		badRequest(c, "invalid request body")
		return
	}

	conv, err := h.conversations.Create(c.Request.Context(), conversations.CreateParams{
		Title:           req.Title,
		DoctorLanguage:  req.DoctorLanguage,
		PatientLanguage: req.PatientLanguage,
	})
	if err != nil {
		writeError(c, h.log, err)
		return
	}

	h.log.Info().
		Str("conversation_id", conv.ID).
		Str("doctor_language", conv.DoctorLanguage).
		Str("patient_language", conv.PatientLanguage).
		Msg("conversation created")
	c.JSON(http.StatusCreated, conversationResponse(conv))
}

// ListConversations returns conversations, most recently active first.
// GET /api/conversations
func (h *ConversationHandlers) ListConversations(c *gin.Context) {
	convs, err := h.conversations.List(c.Request.Context())
	if err != nil {
		writeError(c, h.log, err)
		return
	}

	response := make([]ConversationResponse, 0, len(convs))
	for _, conv := range convs {
		response = append(response, conversationResponse(conv))
	}
	c.JSON(http.StatusOK, response)
}

// GetConversation returns one conversation.
// GET /api/conversations/:id
func (h *ConversationHandlers) GetConversation(c *gin.Context) {
	conv, err := h.conversations.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, conversationResponse(conv))
}

// DeleteConversation removes a conversation with its messages and summaries.
// DELETE /api/conversations/:id
func (h *ConversationHandlers) DeleteConversation(c *gin.Context) {
	id := c.Param("id")
	if err := h.conversations.Delete(c.Request.Context(), id); err != nil {
		writeError(c, h.log, err)
		return
	}

	h.log.Info().Str("conversation_id", id).Msg("conversation deleted")
	c.JSON(http.StatusOK, gin.H{"message": "Conversation deleted"})
}

// ListMessages returns messages in insertion order.
// GET /api/conversations/:id/messages
func (h *ConversationHandlers) ListMessages(c *gin.Context) {
	msgs, err := h.conversations.Messages(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, messageResponses(msgs))
}

// PostMessageRequest represents a typed utterance.
type PostMessageRequest struct {
	Role             string `json:"role"`
	OriginalText     string `json:"original_text"`
	OriginalLanguage string `json:"original_language"`
}

// PostMessage runs a typed utterance through the pipeline. Connected
// participants receive it like any live message.
// POST /api/conversations/:id/messages
func (h *ConversationHandlers) PostMessage(c *gin.Context) {
	var req PostMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid post message request")
		badRequest(c, "invalid request body")
		return
	}

	out, err := h.pipeline.Process(c.Request.Context(), pipeline.Request{
		ConversationID: c.Param("id"),
		Role:           store.Role(strings.ToLower(strings.TrimSpace(req.Role))),
		Kind:           store.KindText,
		Text:           req.OriginalText,
		SourceLanguage: req.OriginalLanguage,
	})
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, proto.MessageFrom(out.Message))
}

// UploadAudio stores a recording and runs it through the pipeline.
// POST /api/conversations/:id/audio (multipart: audio, role, source_language)
func (h *ConversationHandlers) UploadAudio(c *gin.Context) {
	if h.maxAudioBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxAudioBytes)
	}

	file, header, err := c.Request.FormFile("audio")
	if err != nil {
		if isMaxBytes(err) {
			c.JSON(http.StatusRequestEntityTooLarge, ErrorResponse{Error: "audio too large"})
			return
		}
		badRequest(c, "audio file is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		badRequest(c, "could not read audio")
		return
	}

	format := strings.TrimPrefix(strings.ToLower(path.Ext(header.Filename)), ".")
	if format == "" {
		format = "webm"
	}
	source := c.DefaultPostForm("source_language", "auto")

	out, err := h.pipeline.Process(c.Request.Context(), pipeline.Request{
		ConversationID: c.Param("id"),
		Role:           store.Role(strings.ToLower(strings.TrimSpace(c.PostForm("role")))),
		Kind:           store.KindAudio,
		Audio:          data,
		AudioFormat:    format,
		SourceLanguage: source,
	})
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, proto.MessageFrom(out.Message))
}

// CreateSummary generates and stores a clinical summary.
// POST /api/conversations/:id/summary
func (h *ConversationHandlers) CreateSummary(c *gin.Context) {
	sm, err := h.summaries.Generate(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, summaryResponse(sm))
}

// ListSummaries returns stored summaries, newest first.
// GET /api/conversations/:id/summary
func (h *ConversationHandlers) ListSummaries(c *gin.Context) {
	list, err := h.summaries.List(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.log, err)
		return
	}

	response := make([]SummaryResponse, 0, len(list))
	for _, sm := range list {
		response = append(response, summaryResponse(sm))
	}
	c.JSON(http.StatusOK, response)
}

// Search finds messages by keyword.
// GET /api/search?q=&conversation_id=
func (h *ConversationHandlers) Search(c *gin.Context) {
	query := c.Query("q")
	results, err := h.conversations.Search(c.Request.Context(), query, c.Query("conversation_id"))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, searchResponse(query, results))
}

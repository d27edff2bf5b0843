package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/medrelay/internal/language"
	"github.com/vovakirdan/medrelay/internal/media"
	"github.com/vovakirdan/medrelay/internal/speech"
	"github.com/vovakirdan/medrelay/internal/store"
)

// Synthesizer voices arbitrary text.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, lang string, role store.Role) (*speech.Result, error)
}

// MediaHandlers serves languages, standalone synthesis and stored audio.
type MediaHandlers struct {
	speech Synthesizer
	media  media.Store
	log    *zerolog.Logger
}

// NewMediaHandlers creates media handlers. Speech may be nil.
func NewMediaHandlers(synth Synthesizer, ms media.Store, logger *zerolog.Logger) *MediaHandlers {
	return &MediaHandlers{speech: synth, media: ms, log: logger}
}

// Languages lists supported languages.
// GET /api/languages
func (h *MediaHandlers) Languages(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"languages": language.Supported()})
}

// TTSRequest accepts JSON or form fields.
type TTSRequest struct {
	Text     string `json:"text" form:"text"`
	Language string `json:"language" form:"language"`
	Role     string `json:"role" form:"role"`
}

// TTSResponse points at the synthesized audio.
type TTSResponse struct {
	AudioURL string `json:"audio_url"`
	Filename string `json:"filename"`
	Engine   string `json:"engine"`
	Language string `json:"language"`
}

// Synthesize voices text outside of any conversation.
// POST /api/tts
func (h *MediaHandlers) Synthesize(c *gin.Context) {
	if h.speech == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "speech synthesis is not configured"})
		return
	}

	var req TTSRequest
	if err := c.ShouldBind(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		badRequest(c, "text is required")
		return
	}

	lang := "en"
	if req.Language != "" {
		code, ok := language.Normalize(req.Language)
		if !ok {
			badRequest(c, "unsupported language")
			return
		}
		lang = code
	}
	role := store.RolePatient
	if req.Role != "" {
		r, ok := store.ParseRole(strings.ToLower(req.Role))
		if !ok {
			badRequest(c, "role must be doctor or patient")
			return
		}
		role = r
	}

	res, err := h.speech.Synthesize(c.Request.Context(), req.Text, lang, role)
	if err != nil {
		h.log.Error().Err(err).Str("language", lang).Msg("standalone synthesis failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "TTS failed"})
		return
	}

	c.JSON(http.StatusOK, TTSResponse{
		AudioURL: "/api/audio/" + res.Ref,
		Filename: res.Ref,
		Engine:   res.Engine,
		Language: res.Language,
	})
}

// Audio streams a stored original or synthesized recording.
// GET /api/audio/:name
func (h *MediaHandlers) Audio(c *gin.Context) {
	body, contentType, err := h.media.Open(c.Request.Context(), c.Param("name"))
	switch {
	case errors.Is(err, media.ErrNotFound), errors.Is(err, media.ErrInvalidName):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "Audio file not found"})
		return
	case err != nil:
		h.log.Error().Err(err).Str("name", c.Param("name")).Msg("open audio")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	defer body.Close()

	c.Header("Content-Type", contentType)
	c.Status(http.StatusOK)
	if _, err := io.Copy(c.Writer, body); err != nil {
		h.log.Debug().Err(err).Msg("stream audio")
	}
}

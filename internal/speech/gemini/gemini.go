package gemini

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"google.golang.org/genai"

	"github.com/vovakirdan/medrelay/internal/speech"
)

const defaultSampleRate = 24000

// generator is the subset of *genai.Models used by the engine.
type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Engine implements speech.Engine using Gemini's native audio output.
type Engine struct {
	models generator
	model  string
	voices *speech.VoiceBook
}

// New creates a Gemini engine backed by the Gemini API.
func New(ctx context.Context, apiKey, model string, voices *speech.VoiceBook) (*Engine, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("gemini: api key required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return newEngine(client.Models, model, voices), nil
}

func newEngine(models generator, model string, voices *speech.VoiceBook) *Engine {
	if voices == nil {
		voices = speech.DefaultVoiceBook()
	}
	return &Engine{models: models, model: model, voices: voices}
}

func (e *Engine) Name() string { return "gemini" }

// Synthesize renders text with the voice selected for the listener's role.
func (e *Engine) Synthesize(ctx context.Context, req speech.Request) (*speech.Audio, error) {
	voice := e.voices.Lookup(req.Language, req.Role)

	resp, err := e.models.GenerateContent(ctx, e.model, genai.Text(req.Text), &genai.GenerateContentConfig{
		ResponseModalities: []string{"AUDIO"},
		SpeechConfig: &genai.SpeechConfig{
			LanguageCode: voice.Locale,
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: voice.Name},
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("gemini generate: %w", err)
	}

	blob := firstInlineData(resp)
	if blob == nil || len(blob.Data) == 0 {
		return nil, errors.New("gemini: response contains no audio")
	}
	if strings.HasPrefix(blob.MIMEType, "audio/wav") {
		return &speech.Audio{Data: blob.Data, Format: "wav"}, nil
	}
	return &speech.Audio{Data: wavFromPCM(blob.Data, sampleRate(blob.MIMEType)), Format: "wav"}, nil
}

func firstInlineData(resp *genai.GenerateContentResponse) *genai.Blob {
	if resp == nil {
		return nil
	}
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part != nil && part.InlineData != nil {
				return part.InlineData
			}
		}
	}
	return nil
}

// sampleRate reads "rate=NNNN" from a mime type such as audio/L16;codec=pcm;rate=24000.
func sampleRate(mimeType string) int {
	for _, param := range strings.Split(mimeType, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(param), "=")
		if ok && k == "rate" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				return n
			}
		}
	}
	return defaultSampleRate
}

// wavFromPCM wraps 16-bit mono little-endian PCM in a RIFF header.
func wavFromPCM(pcm []byte, rate int) []byte {
	const channels, bitsPerSample = 1, 16
	blockAlign := channels * bitsPerSample / 8

	var buf bytes.Buffer
	buf.Grow(44 + len(pcm))
	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVEfmt ")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(channels))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(rate))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(rate*blockAlign))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(blockAlign))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(bitsPerSample))
	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)
	return buf.Bytes()
}

var _ speech.Engine = (*Engine)(nil)

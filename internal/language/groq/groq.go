package groq

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/vovakirdan/medrelay/internal/language"
	"github.com/vovakirdan/medrelay/internal/store"
)

// Options configures the Groq client.
type Options struct {
	BaseURL            string
	APIKey             string
	TranslationModel   string
	SummaryModel       string
	TranscriptionModel string
	Timeout            time.Duration // per chat request
	MaxRetries         uint64
	// NewBackOff overrides the retry schedule, mainly for tests.
	NewBackOff func() backoff.BackOff
}

// Client implements language.Service on top of Groq's OpenAI-compatible API.
type Client struct {
	llm     llms.Model
	http    *http.Client
	opts    Options
	baseURL string
	logger  *zerolog.Logger
}

// New creates a Groq client.
func New(opts Options, logger *zerolog.Logger) (*Client, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("groq: api key required")
	}
	if opts.NewBackOff == nil {
		opts.NewBackOff = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxElapsedTime = 0
			return b
		}
	}
	if logger == nil {
		l := zerolog.Nop()
		logger = &l
	}

	chatHTTP := &http.Client{Timeout: opts.Timeout}
	llm, err := openai.New(
		openai.WithToken(opts.APIKey),
		openai.WithModel(opts.TranslationModel),
		openai.WithBaseURL(opts.BaseURL),
		openai.WithHTTPClient(chatHTTP),
	)
	if err != nil {
		return nil, fmt.Errorf("create groq model: %w", err)
	}

	return &Client{
		llm:     llm,
		http:    &http.Client{},
		opts:    opts,
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		logger:  logger,
	}, nil
}

// Translate renders text from src to dst with a role-aware medical prompt.
func (c *Client) Translate(ctx context.Context, text, src, dst string, role store.Role) (string, error) {
	if src == dst {
		return text, nil
	}
	out, err := c.chat(ctx, translatePrompt(src, dst, role), text,
		llms.WithTemperature(0.2),
		llms.WithMaxTokens(2048),
	)
	if err != nil {
		return "", fmt.Errorf("translate: %w", err)
	}
	out = cleanTranslation(out)
	if out == "" {
		return "", errors.New("translate: empty response")
	}
	return out, nil
}

// DetectLanguage asks the model for an ISO-639-1 code.
func (c *Client) DetectLanguage(ctx context.Context, text string) (string, error) {
	out, err := c.chat(ctx, detectPrompt, text,
		llms.WithTemperature(0),
		llms.WithMaxTokens(10),
	)
	if err != nil {
		return "", fmt.Errorf("detect language: %w", err)
	}
	code, ok := language.Normalize(strings.Trim(out, " .'\"`\n"))
	if !ok {
		return "", fmt.Errorf("%w: %q", language.ErrUnrecognized, out)
	}
	return code, nil
}

// Summarize produces a structured clinical summary.
func (c *Client) Summarize(ctx context.Context, msgs []*store.Message) (string, error) {
	out, err := c.chat(ctx, summaryPrompt, transcriptFor(msgs),
		llms.WithModel(c.opts.SummaryModel),
		llms.WithTemperature(0.3),
		llms.WithMaxTokens(2048),
	)
	if err != nil {
		return "", fmt.Errorf("summarize: %w", err)
	}
	return strings.TrimSpace(out), nil
}

func (c *Client) chat(ctx context.Context, system, user string, opts ...llms.CallOption) (string, error) {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, system),
		llms.TextParts(llms.ChatMessageTypeHuman, user),
	}

	var content string
	err := c.retry(ctx, func() error {
		resp, err := c.llm.GenerateContent(ctx, messages, opts...)
		if err != nil {
			return err
		}
		if len(resp.Choices) == 0 {
			return backoff.Permanent(errors.New("no response choices"))
		}
		content = resp.Choices[0].Content
		return nil
	})
	return content, err
}

type transcriptionResponse struct {
	Text     string   `json:"text"`
	Language string   `json:"language"`
	Duration *float64 `json:"duration"`
}

// Transcribe posts audio to the Whisper transcription endpoint.
func (c *Client) Transcribe(ctx context.Context, audio []byte, format, hint string) (*language.Transcript, error) {
	if len(audio) == 0 {
		return nil, errors.New("transcribe: empty audio")
	}
	if format == "" {
		format = "webm"
	}

	var result transcriptionResponse
	err := c.retry(ctx, func() error {
		body, contentType, err := transcriptionForm(audio, format, c.opts.TranscriptionModel, hint)
		if err != nil {
			return backoff.Permanent(err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/audio/transcriptions", body)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("create request: %w", err))
		}
		req.Header.Set("Authorization", "Bearer "+c.opts.APIKey)
		req.Header.Set("Content-Type", contentType)

		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("transcription request: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			err := fmt.Errorf("transcription error %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
			if resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
				return backoff.Permanent(err)
			}
			return err
		}
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return backoff.Permanent(fmt.Errorf("parse response: %w", err))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("transcribe: %w", err)
	}

	text := strings.TrimSpace(result.Text)
	if text == "" {
		return nil, errors.New("transcribe: no speech recognized")
	}
	lang, ok := language.Normalize(result.Language)
	if !ok {
		lang = hint
	}
	return &language.Transcript{Text: text, Language: lang, Duration: result.Duration}, nil
}

func transcriptionForm(audio []byte, format, model, hint string) (io.Reader, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	fw, err := mw.CreateFormFile("file", "audio."+format)
	if err != nil {
		return nil, "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := fw.Write(audio); err != nil {
		return nil, "", fmt.Errorf("write audio data: %w", err)
	}
	if err := mw.WriteField("model", model); err != nil {
		return nil, "", fmt.Errorf("write model field: %w", err)
	}
	if err := mw.WriteField("response_format", "verbose_json"); err != nil {
		return nil, "", fmt.Errorf("write format field: %w", err)
	}
	if hint != "" {
		if err := mw.WriteField("language", hint); err != nil {
			return nil, "", fmt.Errorf("write language field: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart writer: %w", err)
	}
	return &buf, mw.FormDataContentType(), nil
}

// retry runs op with exponential backoff. Context errors are never retried.
func (c *Client) retry(ctx context.Context, op func() error) error {
	attempt := 0
	b := backoff.WithContext(backoff.WithMaxRetries(c.opts.NewBackOff(), c.opts.MaxRetries), ctx)
	return backoff.Retry(func() error {
		attempt++
		err := op()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		c.logger.Debug().Err(err).Int("attempt", attempt).Msg("groq call failed")
		return err
	}, b)
}

var _ language.Service = (*Client)(nil)

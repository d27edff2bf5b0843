// Package gtts is a simple speech engine speaking the Google Translate TTS protocol.
package gtts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/vovakirdan/medrelay/internal/speech"
)

// maxChunk is the longest text the endpoint accepts per request.
const maxChunk = 100

// Engine fetches MP3 audio chunk by chunk and concatenates the frames.
type Engine struct {
	baseURL string
	http    *http.Client
}

// New creates an engine for the given endpoint.
func New(baseURL string, client *http.Client) *Engine {
	if client == nil {
		client = &http.Client{}
	}
	return &Engine{baseURL: baseURL, http: client}
}

func (e *Engine) Name() string { return "gtts" }

func (e *Engine) Synthesize(ctx context.Context, req speech.Request) (*speech.Audio, error) {
	if req.Language == "" {
		return nil, errors.New("gtts: language required")
	}
	chunks := split(req.Text, maxChunk)
	if len(chunks) == 0 {
		return nil, errors.New("gtts: empty text")
	}

	var out bytes.Buffer
	for i, chunk := range chunks {
		if err := e.fetch(ctx, &out, chunk, req.Language, i, len(chunks)); err != nil {
			return nil, err
		}
	}
	return &speech.Audio{Data: out.Bytes(), Format: "mp3"}, nil
}

func (e *Engine) fetch(ctx context.Context, w io.Writer, text, lang string, idx, total int) error {
	q := url.Values{}
	q.Set("ie", "UTF-8")
	q.Set("client", "tw-ob")
	q.Set("tl", lang)
	q.Set("q", text)
	q.Set("total", strconv.Itoa(total))
	q.Set("idx", strconv.Itoa(idx))
	q.Set("textlen", strconv.Itoa(utf8.RuneCountInString(text)))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return fmt.Errorf("gtts: create request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")

	resp, err := e.http.Do(req)
	if err != nil {
		return fmt.Errorf("gtts request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("gtts error %d for language %q", resp.StatusCode, lang)
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("gtts: read audio: %w", err)
	}
	return nil
}

// split breaks text into chunks of at most limit runes, preferring
// punctuation and then whitespace as cut points.
func split(text string, limit int) []string {
	var chunks []string
	rest := []rune(strings.TrimSpace(text))
	for len(rest) > 0 {
		if len(rest) <= limit {
			chunks = append(chunks, string(rest))
			break
		}
		cut := lastIndex(rest[:limit], isPunct)
		if cut < 0 {
			cut = lastIndex(rest[:limit], unicode.IsSpace)
		}
		if cut < 0 {
			cut = limit - 1
		}
		if chunk := strings.TrimSpace(string(rest[:cut+1])); chunk != "" {
			chunks = append(chunks, chunk)
		}
		rest = []rune(strings.TrimSpace(string(rest[cut+1:])))
	}
	return chunks
}

func isPunct(r rune) bool {
	return strings.ContainsRune(".,;:!?।。！？،", r)
}

func lastIndex(rs []rune, f func(rune) bool) int {
	for i := len(rs) - 1; i >= 0; i-- {
		if f(rs[i]) {
			return i
		}
	}
	return -1
}

var _ speech.Engine = (*Engine)(nil)

package language

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/vovakirdan/medrelay/internal/store"
)

// ErrUnrecognized is returned by detection when the answer is not a supported code.
var ErrUnrecognized = errors.New("unrecognized language")

// Transcript is the result of speech-to-text.
type Transcript struct {
	Text     string
	Language string   // ISO-639-1 code, empty if the service did not report one
	Duration *float64 // seconds
}

// Service is the set of text capabilities the relay consumes.
type Service interface {
	// Translate renders text from src to dst. The speaker role tunes register only.
	Translate(ctx context.Context, text, src, dst string, role store.Role) (string, error)
	// DetectLanguage returns a supported language code or ErrUnrecognized.
	DetectLanguage(ctx context.Context, text string) (string, error)
	// Summarize produces a clinical summary of ordered messages.
	Summarize(ctx context.Context, msgs []*store.Message) (string, error)
	// Transcribe converts audio to text. An empty hint means auto-detect.
	Transcribe(ctx context.Context, audio []byte, format, hint string) (*Transcript, error)
}

// Info describes one supported language.
type Info struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

var names = map[string]string{
	"en": "English",
	"hi": "Hindi",
	"es": "Spanish",
	"fr": "French",
	"de": "German",
	"zh": "Chinese",
	"ar": "Arabic",
	"pt": "Portuguese",
	"ru": "Russian",
	"ja": "Japanese",
	"ko": "Korean",
	"bn": "Bengali",
	"ta": "Tamil",
	"te": "Telugu",
	"ur": "Urdu",
	"mr": "Marathi",
	"gu": "Gujarati",
	"kn": "Kannada",
	"ml": "Malayalam",
	"pa": "Punjabi",
}

// IsSupported reports whether code is one of the supported languages.
func IsSupported(code string) bool {
	_, ok := names[code]
	return ok
}

// Name returns the English name of a language, or the code itself.
func Name(code string) string {
	if n, ok := names[code]; ok {
		return n
	}
	return code
}

// Normalize maps a code or an English language name ("english", "Hindi")
// onto a supported code.
func Normalize(s string) (string, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if IsSupported(s) {
		return s, true
	}
	for code, name := range names {
		if strings.EqualFold(name, s) {
			return code, true
		}
	}
	return "", false
}

// Supported lists all languages sorted by code.
func Supported() []Info {
	out := make([]Info, 0, len(names))
	for code, name := range names {
		out = append(out, Info{Code: code, Name: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

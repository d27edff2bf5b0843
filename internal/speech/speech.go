// Package speech synthesizes listener audio through an ordered set of engines.
package speech

import (
	"context"

	"github.com/vovakirdan/medrelay/internal/store"
)

// Request describes one synthesis call.
type Request struct {
	Text     string
	Language string
	Role     store.Role // listener role, selects the voice
}

// Audio is synthesized speech.
type Audio struct {
	Data   []byte
	Format string // file extension: mp3, wav
}

// Engine abstracts a text-to-speech backend.
type Engine interface {
	// Name identifies the engine in logs and metrics.
	Name() string
	// Synthesize converts text to audio.
	Synthesize(ctx context.Context, req Request) (*Audio, error)
}

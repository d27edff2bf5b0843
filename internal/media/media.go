// Package media stores audio objects: uploaded originals and synthesized speech.
package media

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"
)

// ErrNotFound is returned when an object does not exist.
var ErrNotFound = errors.New("media: object not found")

// ErrInvalidName is returned for names that could escape the store.
var ErrInvalidName = errors.New("media: invalid object name")

// Store persists audio objects under flat names.
type Store interface {
	// Put writes data under name and returns the reference to persist.
	Put(ctx context.Context, name, contentType string, data []byte) (string, error)
	// Open returns the object body and its content type.
	Open(ctx context.Context, name string) (io.ReadCloser, string, error)
}

// validName rejects empty names and anything with a path component.
func validName(name string) error {
	if name == "" || name != path.Base(name) || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return ErrInvalidName
	}
	return nil
}

// ContentType guesses an audio content type from the name's extension.
func ContentType(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".mp3":
		return "audio/mpeg"
	case ".wav":
		return "audio/wav"
	case ".ogg":
		return "audio/ogg"
	case ".m4a":
		return "audio/mp4"
	case ".webm":
		return "audio/webm"
	default:
		return "application/octet-stream"
	}
}

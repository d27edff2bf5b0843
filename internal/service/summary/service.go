// Package summary generates clinical summaries of conversations.
package summary

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/medrelay/internal/core"
	"github.com/vovakirdan/medrelay/internal/log"
	"github.com/vovakirdan/medrelay/internal/store"
)

// Summarizer turns an ordered transcript into a summary.
type Summarizer interface {
	Summarize(ctx context.Context, messages []*store.Message) (string, error)
}

// Store is the persistence the service needs.
type Store interface {
	GetConversation(ctx context.Context, id string) (*store.Conversation, error)
	ListMessages(ctx context.Context, conversationID string) ([]*store.Message, error)
	store.SummaryStore
}

// Service creates and lists summaries.
type Service struct {
	store      Store
	summarizer Summarizer
	logger     *zerolog.Logger
}

// New creates a summary service.
func New(st Store, summarizer Summarizer, logger *zerolog.Logger) *Service {
	if logger == nil {
		logger = log.Nop()
	}
	return &Service{store: st, summarizer: summarizer, logger: logger}
}

// Generate summarizes the conversation's messages in order and stores the result.
func (s *Service) Generate(ctx context.Context, conversationID string) (*store.Summary, error) {
	if err := s.ensureConversation(ctx, conversationID); err != nil {
		return nil, err
	}

	messages, err := s.store.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	if len(messages) == 0 {
		return nil, core.ErrNoMessages
	}

	text, err := s.summarizer.Summarize(ctx, messages)
	if err != nil {
		return nil, fmt.Errorf("summary generation failed: %w", err)
	}
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("summary generation returned no text")
	}

	saved, err := s.store.AppendSummary(ctx, &store.Summary{ConversationID: conversationID, Text: text})
	if err != nil {
		return nil, fmt.Errorf("save summary: %w", err)
	}

	s.logger.Info().
		Str("conversation_id", conversationID).
		Int("messages", len(messages)).
		Msg("summary generated")
	return saved, nil
}

// List returns stored summaries, newest first.
func (s *Service) List(ctx context.Context, conversationID string) ([]*store.Summary, error) {
	if err := s.ensureConversation(ctx, conversationID); err != nil {
		return nil, err
	}
	return s.store.ListSummaries(ctx, conversationID)
}

func (s *Service) ensureConversation(ctx context.Context, id string) error {
	_, err := s.store.GetConversation(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return core.ErrConversationNotFound
	}
	return err
}

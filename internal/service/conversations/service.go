package conversations

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/vovakirdan/medrelay/internal/core"
	"github.com/vovakirdan/medrelay/internal/language"
	"github.com/vovakirdan/medrelay/internal/store"
)

const (
	DefaultDoctorLanguage  = "en"
	DefaultPatientLanguage = "hi"

	searchLimit = 50
)

// Store is the persistence the service needs.
type Store interface {
	store.ConversationStore
	ListMessages(ctx context.Context, conversationID string) ([]*store.Message, error)
	SearchMessages(ctx context.Context, query, conversationID string, limit int) ([]store.SearchHit, error)
}

// Service provides conversation management business logic.
type Service struct {
	store Store
}

// New creates a conversation service.
func New(st Store) *Service {
	return &Service{store: st}
}

// CreateParams describes a new conversation. Empty languages get defaults.
type CreateParams struct {
	Title           string
	DoctorLanguage  string
	PatientLanguage string
}

// Create validates both languages and stores the conversation.
func (s *Service) Create(ctx context.Context, p CreateParams) (*store.Conversation, error) {
	doctor, err := resolveLanguage(p.DoctorLanguage, DefaultDoctorLanguage)
	if err != nil {
		return nil, err
	}
	patient, err := resolveLanguage(p.PatientLanguage, DefaultPatientLanguage)
	if err != nil {
		return nil, err
	}

	return s.store.CreateConversation(ctx, &store.Conversation{
		Title:           strings.TrimSpace(p.Title),
		DoctorLanguage:  doctor,
		PatientLanguage: patient,
	})
}

func resolveLanguage(value, fallback string) (string, error) {
	if strings.TrimSpace(value) == "" {
		return fallback, nil
	}
	code, ok := language.Normalize(value)
	if !ok {
		return "", fmt.Errorf("%w: %q", core.ErrUnsupportedLanguage, value)
	}
	return code, nil
}

// Get returns a conversation or core.ErrConversationNotFound.
func (s *Service) Get(ctx context.Context, id string) (*store.Conversation, error) {
	conv, err := s.store.GetConversation(ctx, id)
	if err != nil {
		return nil, mapNotFound(err)
	}
	return conv, nil
}

// List returns conversations, most recently active first.
func (s *Service) List(ctx context.Context) ([]*store.Conversation, error) {
	return s.store.ListConversations(ctx)
}

// Delete removes a conversation with everything attached to it.
func (s *Service) Delete(ctx context.Context, id string) error {
	return mapNotFound(s.store.DeleteConversation(ctx, id))
}

// Messages returns a conversation's messages in insertion order.
func (s *Service) Messages(ctx context.Context, id string) ([]*store.Message, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.store.ListMessages(ctx, id)
}

// SearchResult is a matched message with a highlighted excerpt.
type SearchResult struct {
	store.SearchHit
	Snippet string
}

// Search finds messages containing query in original or translated text.
// An empty conversationID searches all conversations.
func (s *Service) Search(ctx context.Context, query, conversationID string) ([]SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: query is required", core.ErrBadRequest)
	}

	hits, err := s.store.SearchMessages(ctx, query, conversationID, searchLimit)
	if err != nil {
		return nil, err
	}

	results := make([]SearchResult, 0, len(hits))
	for _, hit := range hits {
		snippet, ok := Highlight(hit.Message.OriginalText, query, snippetContext)
		if !ok && hit.Message.TranslatedText != nil {
			if alt, found := Highlight(*hit.Message.TranslatedText, query, snippetContext); found {
				snippet = alt
			}
		}
		results = append(results, SearchResult{SearchHit: hit, Snippet: snippet})
	}
	return results, nil
}

func mapNotFound(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return core.ErrConversationNotFound
	}
	return err
}

package http

import (
	"context"
	"errors"
	"fmt"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/vovakirdan/medrelay/internal/config"
	"github.com/vovakirdan/medrelay/internal/core"
	"github.com/vovakirdan/medrelay/internal/language"
	"github.com/vovakirdan/medrelay/internal/log"
	"github.com/vovakirdan/medrelay/internal/media"
	"github.com/vovakirdan/medrelay/internal/metrics"
	"github.com/vovakirdan/medrelay/internal/pipeline"
	"github.com/vovakirdan/medrelay/internal/relay"
	"github.com/vovakirdan/medrelay/internal/service/conversations"
	"github.com/vovakirdan/medrelay/internal/service/summary"
	"github.com/vovakirdan/medrelay/internal/speech"
	"github.com/vovakirdan/medrelay/internal/store"
	"github.com/vovakirdan/medrelay/internal/store/sqlite"
)

// stubLanguage translates by tagging text with the target language.
type stubLanguage struct {
	mu             sync.Mutex
	failTranscribe bool
}

func (s *stubLanguage) Translate(_ context.Context, text, _, dst string, _ store.Role) (string, error) {
	return fmt.Sprintf("[%s] %s", dst, text), nil
}

func (s *stubLanguage) DetectLanguage(context.Context, string) (string, error) {
	return "en", nil
}

func (s *stubLanguage) Summarize(_ context.Context, msgs []*store.Message) (string, error) {
	return fmt.Sprintf("summary of %d messages", len(msgs)), nil
}

func (s *stubLanguage) Transcribe(context.Context, []byte, string, string) (*language.Transcript, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failTranscribe {
		return nil, errors.New("whisper unavailable")
	}
	d := 1.5
	return &language.Transcript{Text: "transcribed speech", Language: "en", Duration: &d}, nil
}

func (s *stubLanguage) setFailTranscribe(v bool) {
	s.mu.Lock()
	s.failTranscribe = v
	s.mu.Unlock()
}

type stubEngine struct{}

func (stubEngine) Name() string { return "stub" }

func (stubEngine) Synthesize(_ context.Context, req speech.Request) (*speech.Audio, error) {
	return &speech.Audio{Data: []byte("mp3:" + req.Text), Format: "mp3"}, nil
}

type testEnv struct {
	server   *httptest.Server
	store    *sqlite.SQLiteStore
	language *stubLanguage
	hub      *core.Hub
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	st, err := sqlite.NewWithSetup(":memory:", sqlite.Migrate)
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	ms, err := media.NewDirStore(t.TempDir())
	if err != nil {
		t.Fatalf("media store: %v", err)
	}

	logger := log.Nop()
	m := metrics.New()
	hub := core.NewHub()
	lang := &stubLanguage{}

	chain, err := speech.NewChain(speech.ChainConfig{Simple: stubEngine{}, Media: ms, Metrics: m, Logger: logger})
	if err != nil {
		t.Fatalf("speech chain: %v", err)
	}

	p, err := pipeline.New(pipeline.Deps{
		Store:    st,
		Language: lang,
		Speech:   chain,
		Media:    ms,
		Hub:      hub,
		Metrics:  m,
	}, pipeline.Options{DefaultLanguage: "en"}, logger)
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}

	cfg := config.Default()
	cfg.ReadHeaderTimeout = time.Second
	cfg.MaxMessageBytes = 1 << 20

	deps := Deps{
		Conversations: conversations.New(st),
		Summaries:     summary.New(st, lang, logger),
		Pipeline:      p,
		Relay:         relay.New(hub, st, p, m, relay.Options{Buffer: 16}, logger),
		Speech:        chain,
		Media:         ms,
		Metrics:       m,
	}

	ts := httptest.NewServer(NewRouter(deps, &cfg, logger))
	t.Cleanup(ts.Close)

	return &testEnv{server: ts, store: st, language: lang, hub: hub}
}

func (e *testEnv) createConversation(t *testing.T, doctor, patient string) *store.Conversation {
	t.Helper()
	conv, err := e.store.CreateConversation(context.Background(), &store.Conversation{
		Title:           "test",
		DoctorLanguage:  doctor,
		PatientLanguage: patient,
	})
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	return conv
}

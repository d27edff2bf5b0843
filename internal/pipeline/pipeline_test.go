package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vovakirdan/medrelay/internal/core"
	"github.com/vovakirdan/medrelay/internal/language"
	"github.com/vovakirdan/medrelay/internal/media"
	"github.com/vovakirdan/medrelay/internal/speech"
	"github.com/vovakirdan/medrelay/internal/store"
	"github.com/vovakirdan/medrelay/internal/store/sqlite"
)

type translateCall struct {
	text, src, dst string
	role           store.Role
}

// fakeLanguage records calls; hooks override the default behaviour.
type fakeLanguage struct {
	mu         sync.Mutex
	translates []translateCall
	detects    int

	translate  func(ctx context.Context, text, src, dst string) (string, error)
	detect     func(text string) (string, error)
	transcribe func(audio []byte, hint string) (*language.Transcript, error)
}

func (f *fakeLanguage) Translate(ctx context.Context, text, src, dst string, role store.Role) (string, error) {
	f.mu.Lock()
	f.translates = append(f.translates, translateCall{text, src, dst, role})
	f.mu.Unlock()
	if f.translate != nil {
		return f.translate(ctx, text, src, dst)
	}
	return "[" + dst + "] " + text, nil
}

func (f *fakeLanguage) DetectLanguage(_ context.Context, text string) (string, error) {
	f.mu.Lock()
	f.detects++
	f.mu.Unlock()
	if f.detect != nil {
		return f.detect(text)
	}
	return "en", nil
}

func (f *fakeLanguage) Summarize(context.Context, []*store.Message) (string, error) {
	return "summary", nil
}

func (f *fakeLanguage) Transcribe(_ context.Context, audio []byte, _ string, hint string) (*language.Transcript, error) {
	if f.transcribe != nil {
		return f.transcribe(audio, hint)
	}
	return &language.Transcript{Text: string(audio), Language: "hi"}, nil
}

func (f *fakeLanguage) translateCalls() []translateCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]translateCall(nil), f.translates...)
}

type fakeSpeech struct {
	err   error
	mu    sync.Mutex
	calls []string
}

func (f *fakeSpeech) Synthesize(_ context.Context, text, lang string, role store.Role) (*speech.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, lang+"/"+string(role))
	f.mu.Unlock()
	if f.err != nil {
		return &speech.Result{Attempts: []speech.Attempt{{Engine: "a", Err: f.err}}}, f.err
	}
	return &speech.Result{Ref: "tts_1.mp3", Engine: "fake", Language: lang, Attempts: []speech.Attempt{{Engine: "fake"}}}, nil
}

type fixture struct {
	store    *sqlite.SQLiteStore
	hub      *core.Hub
	lang     *fakeLanguage
	speech   *fakeSpeech
	pipeline *Pipeline
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	st, err := sqlite.NewWithSetup(":memory:", sqlite.Migrate)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	ms, err := media.NewDirStore(t.TempDir())
	if err != nil {
		t.Fatalf("media: %v", err)
	}

	f := &fixture{store: st, hub: core.NewHub(), lang: &fakeLanguage{}, speech: &fakeSpeech{}}
	f.pipeline, err = New(Deps{
		Store:    st,
		Language: f.lang,
		Speech:   f.speech,
		Media:    ms,
		Hub:      f.hub,
	}, Options{DefaultLanguage: "en", TranslateTimeout: time.Second, TranscribeTimeout: time.Second}, nil)
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}
	return f
}

func (f *fixture) conversation(t *testing.T, doctorLang, patientLang string) *store.Conversation {
	t.Helper()
	conv, err := f.store.CreateConversation(context.Background(), &store.Conversation{
		DoctorLanguage: doctorLang, PatientLanguage: patientLang,
	})
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	return conv
}

func (f *fixture) listen(t *testing.T, convID string) *core.Client {
	t.Helper()
	c := core.NewClient(t.Name(), convID, 64)
	f.hub.Join(convID, c)
	return c
}

func mustStage(t *testing.T, out *Outcome, stage Stage, want Status) StageResult {
	t.Helper()
	res, ok := out.Stage(stage)
	if !ok {
		t.Fatalf("stage %s not recorded: %+v", stage, out.Stages)
	}
	if res.Status != want {
		t.Fatalf("stage %s status = %s, want %s (err %v)", stage, res.Status, want, res.Err)
	}
	return res
}

func TestDoctorTextIsTranslatedForPatient(t *testing.T) {
	f := newFixture(t)
	conv := f.conversation(t, "en", "hi")
	listener := f.listen(t, conv.ID)

	out, err := f.pipeline.Process(context.Background(), Request{
		ConversationID: conv.ID,
		Role:           store.RoleDoctor,
		Kind:           store.KindText,
		Text:           "Take this medicine twice daily",
		SourceLanguage: "en",
	})
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	calls := f.lang.translateCalls()
	if len(calls) != 1 || calls[0].src != "en" || calls[0].dst != "hi" || calls[0].role != store.RoleDoctor {
		t.Fatalf("unexpected translate calls: %+v", calls)
	}

	msg := out.Message
	if msg.OriginalLanguage != "en" || *msg.TargetLanguage != "hi" || msg.TranslatedText == nil {
		t.Fatalf("unexpected message: %+v", msg)
	}
	if msg.SpeechRef == nil || *msg.SpeechRef != "tts_1.mp3" {
		t.Fatalf("speech ref = %v", msg.SpeechRef)
	}
	// The listener is the patient.
	if len(f.speech.calls) != 1 || f.speech.calls[0] != "hi/patient" {
		t.Fatalf("speech calls = %v", f.speech.calls)
	}
	if out.Delivered != 1 {
		t.Fatalf("delivered = %d", out.Delivered)
	}

	select {
	case ev := <-listener.Events:
		if ev.Kind != core.EventMessage || ev.Message.ID != msg.ID {
			t.Fatalf("unexpected event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatalf("no broadcast received")
	}

	stored, err := f.store.ListMessages(context.Background(), conv.ID)
	if err != nil || len(stored) != 1 {
		t.Fatalf("stored messages = %d, %v", len(stored), err)
	}
}

func TestSameLanguageSkipsTranslation(t *testing.T) {
	f := newFixture(t)
	conv := f.conversation(t, "en", "en")

	out, err := f.pipeline.Process(context.Background(), Request{
		ConversationID: conv.ID,
		Role:           store.RolePatient,
		Text:           "My head hurts",
		SourceLanguage: "en",
	})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(f.lang.translateCalls()) != 0 {
		t.Fatalf("translation service was called")
	}
	if *out.Message.TranslatedText != "My head hurts" {
		t.Fatalf("translated text = %q", *out.Message.TranslatedText)
	}
	mustStage(t, out, StageTranslate, StatusSkipped)
	mustStage(t, out, StageSynthesize, StatusOK)
}

func TestTranslationFailureStillPersists(t *testing.T) {
	f := newFixture(t)
	conv := f.conversation(t, "en", "hi")
	f.lang.translate = func(context.Context, string, string, string) (string, error) {
		return "", errors.New("model overloaded")
	}

	out, err := f.pipeline.Process(context.Background(), Request{
		ConversationID: conv.ID,
		Role:           store.RoleDoctor,
		Text:           "Any allergies?",
		SourceLanguage: "en",
	})
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	msg := out.Message
	if msg.OriginalText != "Any allergies?" || msg.OriginalLanguage != "en" {
		t.Fatalf("original fields changed: %+v", msg)
	}
	if msg.TranslatedText == nil || !IsTranslationSentinel(*msg.TranslatedText) {
		t.Fatalf("expected sentinel, got %v", msg.TranslatedText)
	}
	if !strings.Contains(*msg.TranslatedText, "model overloaded") {
		t.Fatalf("sentinel lacks diagnostic: %q", *msg.TranslatedText)
	}
	if msg.SpeechRef != nil || len(f.speech.calls) != 0 {
		t.Fatalf("synthesis attempted for sentinel text")
	}
	mustStage(t, out, StageTranslate, StatusFailed)
	mustStage(t, out, StageSynthesize, StatusSkipped)

	stored, _ := f.store.ListMessages(context.Background(), conv.ID)
	if len(stored) != 1 || !IsTranslationSentinel(*stored[0].TranslatedText) {
		t.Fatalf("sentinel not persisted: %+v", stored)
	}
}

func TestSynthesisFailureIsSilent(t *testing.T) {
	f := newFixture(t)
	conv := f.conversation(t, "en", "es")
	f.speech.err = speech.ErrExhausted

	out, err := f.pipeline.Process(context.Background(), Request{
		ConversationID: conv.ID,
		Role:           store.RolePatient,
		Text:           "Me duele",
		SourceLanguage: "es",
	})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	msg := out.Message
	if msg.SpeechRef != nil {
		t.Fatalf("speech ref = %v, want nil", *msg.SpeechRef)
	}
	if msg.TranslatedText == nil || *msg.TranslatedText != "[en] Me duele" || *msg.TargetLanguage != "en" {
		t.Fatalf("unexpected message: %+v", msg)
	}
	mustStage(t, out, StageSynthesize, StatusFailed)
	mustStage(t, out, StagePersist, StatusOK)
}

func TestTranscriptionFailureIsFatal(t *testing.T) {
	f := newFixture(t)
	conv := f.conversation(t, "en", "hi")
	listener := f.listen(t, conv.ID)
	f.lang.transcribe = func([]byte, string) (*language.Transcript, error) {
		return nil, errors.New("whisper down")
	}

	out, err := f.pipeline.Process(context.Background(), Request{
		ConversationID: conv.ID,
		Role:           store.RolePatient,
		Kind:           store.KindAudio,
		Audio:          []byte("audio"),
		AudioFormat:    "webm",
		SourceLanguage: "auto",
	})
	if !errors.Is(err, core.ErrTranscriptionFailed) {
		t.Fatalf("expected ErrTranscriptionFailed, got %v", err)
	}
	mustStage(t, out, StageTranscribe, StatusFailed)

	stored, _ := f.store.ListMessages(context.Background(), conv.ID)
	if len(stored) != 0 {
		t.Fatalf("message row created after transcription failure")
	}
	select {
	case ev := <-listener.Events:
		t.Fatalf("unexpected broadcast: %+v", ev)
	default:
	}
	if n := f.pipeline.seq.pending(); n != 0 {
		t.Fatalf("ordering ticket leaked: %d pending", n)
	}
}

func TestAudioUtterance(t *testing.T) {
	f := newFixture(t)
	conv := f.conversation(t, "en", "hi")
	duration := 3.25
	f.lang.transcribe = func(audio []byte, hint string) (*language.Transcript, error) {
		if hint != "" {
			return nil, errors.New("unexpected hint " + hint)
		}
		return &language.Transcript{Text: "मुझे बुखार है", Language: "hi", Duration: &duration}, nil
	}

	out, err := f.pipeline.Process(context.Background(), Request{
		ConversationID: conv.ID,
		Role:           store.RolePatient,
		Kind:           store.KindAudio,
		Audio:          []byte("webm-bytes"),
		AudioFormat:    "webm",
		SourceLanguage: "auto",
	})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	msg := out.Message
	if msg.Kind != store.KindAudio || msg.OriginalText != "मुझे बुखार है" || msg.OriginalLanguage != "hi" {
		t.Fatalf("unexpected message: %+v", msg)
	}
	if msg.AudioRef == nil || !strings.HasSuffix(*msg.AudioRef, ".webm") {
		t.Fatalf("audio ref = %v", msg.AudioRef)
	}
	if msg.AudioDuration == nil || *msg.AudioDuration != "3.25" {
		t.Fatalf("audio duration = %v", msg.AudioDuration)
	}
	if *msg.TargetLanguage != "en" {
		t.Fatalf("target = %s", *msg.TargetLanguage)
	}
	if f.lang.detects != 0 {
		t.Fatalf("detect called although transcription reported the language")
	}
}

func TestClientTranscribedAudioSkipsTranscription(t *testing.T) {
	f := newFixture(t)
	conv := f.conversation(t, "en", "hi")
	f.lang.transcribe = func([]byte, string) (*language.Transcript, error) {
		t.Fatalf("transcribe must not be called")
		return nil, nil
	}

	out, err := f.pipeline.Process(context.Background(), Request{
		ConversationID: conv.ID,
		Role:           store.RoleDoctor,
		Kind:           store.KindAudio,
		Text:           "Breathe in",
		SourceLanguage: "en",
	})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if out.Message.Kind != store.KindAudio || out.Message.AudioRef != nil {
		t.Fatalf("unexpected message: %+v", out.Message)
	}
	mustStage(t, out, StageTranscribe, StatusSkipped)
}

func TestDetectLanguage(t *testing.T) {
	tests := []struct {
		name     string
		detect   func(string) (string, error)
		want     string
		wantStat Status
	}{
		{"detected", func(string) (string, error) { return "hi", nil }, "hi", StatusOK},
		{"detection error uses default", func(string) (string, error) { return "", errors.New("boom") }, "fr", StatusDegraded},
		{"unsupported answer uses default", func(string) (string, error) { return "xx", nil }, "fr", StatusDegraded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.pipeline.opts.DefaultLanguage = "fr"
			f.lang.detect = tt.detect
			conv := f.conversation(t, "en", "hi")

			out, err := f.pipeline.Process(context.Background(), Request{
				ConversationID: conv.ID,
				Role:           store.RolePatient,
				Text:           "नमस्ते",
				SourceLanguage: "auto",
			})
			if err != nil {
				t.Fatalf("process: %v", err)
			}
			if out.Message.OriginalLanguage != tt.want {
				t.Fatalf("original language = %s, want %s", out.Message.OriginalLanguage, tt.want)
			}
			mustStage(t, out, StageDetect, tt.wantStat)
		})
	}
}

func TestRejectsInvalidRequests(t *testing.T) {
	f := newFixture(t)
	conv := f.conversation(t, "en", "hi")

	tests := []struct {
		name string
		req  Request
		want error
	}{
		{"empty text", Request{ConversationID: conv.ID, Role: store.RoleDoctor, Text: "   "}, core.ErrEmptyContent},
		{"audio without content", Request{ConversationID: conv.ID, Role: store.RoleDoctor, Kind: store.KindAudio}, core.ErrEmptyContent},
		{"unknown role", Request{ConversationID: conv.ID, Role: "nurse", Text: "hi"}, core.ErrUnknownRole},
		{"unknown conversation", Request{ConversationID: "ghost", Role: store.RoleDoctor, Text: "hi"}, core.ErrConversationNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.pipeline.Process(context.Background(), tt.req)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}

	stored, _ := f.store.ListMessages(context.Background(), conv.ID)
	if len(stored) != 0 {
		t.Fatalf("invalid requests persisted %d messages", len(stored))
	}
}

func TestCancelledCallerStillPersistsAfterTranslation(t *testing.T) {
	f := newFixture(t)
	conv := f.conversation(t, "en", "hi")

	ctx, cancel := context.WithCancel(context.Background())
	f.lang.translate = func(_ context.Context, text, _, dst string) (string, error) {
		cancel() // the session goes away while translation completes
		return "[" + dst + "] " + text, nil
	}

	out, err := f.pipeline.Process(ctx, Request{
		ConversationID: conv.ID,
		Role:           store.RoleDoctor,
		Text:           "Rest for two days",
		SourceLanguage: "en",
	})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	mustStage(t, out, StagePersist, StatusOK)
}

// An earlier utterance with slow translation must be broadcast before a
// later one that finished translating first.
func TestPersistAndBroadcastFollowSubmissionOrder(t *testing.T) {
	f := newFixture(t)
	conv := f.conversation(t, "en", "hi")
	listener := f.listen(t, conv.ID)

	firstStarted := make(chan struct{})
	releaseFirst := make(chan struct{})
	f.lang.translate = func(_ context.Context, text, _, dst string) (string, error) {
		if text == "first" {
			close(firstStarted)
			<-releaseFirst
		}
		return "[" + dst + "] " + text, nil
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if _, err := f.pipeline.Process(context.Background(), Request{
			ConversationID: conv.ID, Role: store.RoleDoctor, Text: "first", SourceLanguage: "en",
		}); err != nil {
			t.Errorf("first: %v", err)
		}
	}()
	<-firstStarted

	secondDone := make(chan struct{})
	go func() {
		defer wg.Done()
		defer close(secondDone)
		if _, err := f.pipeline.Process(context.Background(), Request{
			ConversationID: conv.ID, Role: store.RolePatient, Text: "second", SourceLanguage: "hi",
		}); err != nil {
			t.Errorf("second: %v", err)
		}
	}()

	select {
	case <-secondDone:
		t.Fatalf("second utterance completed before the first")
	case <-time.After(50 * time.Millisecond):
	}
	close(releaseFirst)
	wg.Wait()

	var order []string
	for i := 0; i < 2; i++ {
		select {
		case ev := <-listener.Events:
			order = append(order, ev.Message.OriginalText)
		case <-time.After(time.Second):
			t.Fatalf("missing broadcast %d", i)
		}
	}
	if order[0] != "first" || order[1] != "second" {
		t.Fatalf("broadcast order = %v", order)
	}

	stored, _ := f.store.ListMessages(context.Background(), conv.ID)
	if len(stored) != 2 || stored[0].OriginalText != "first" || stored[1].OriginalText != "second" {
		t.Fatalf("persisted order wrong: %+v", stored)
	}
}

// A failed earlier utterance must not let a later one overtake an even earlier one.
func TestAbandonedTicketKeepsOrder(t *testing.T) {
	f := newFixture(t)
	conv := f.conversation(t, "en", "hi")
	listener := f.listen(t, conv.ID)

	firstStarted := make(chan struct{})
	releaseFirst := make(chan struct{})
	f.lang.translate = func(_ context.Context, text, _, dst string) (string, error) {
		if text == "first" {
			close(firstStarted)
			<-releaseFirst
		}
		return "[" + dst + "] " + text, nil
	}
	f.lang.transcribe = func([]byte, string) (*language.Transcript, error) {
		return nil, errors.New("garbled")
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = f.pipeline.Process(context.Background(), Request{
			ConversationID: conv.ID, Role: store.RoleDoctor, Text: "first", SourceLanguage: "en",
		})
	}()
	<-firstStarted

	if _, err := f.pipeline.Process(context.Background(), Request{
		ConversationID: conv.ID, Role: store.RolePatient, Kind: store.KindAudio, Audio: []byte("x"),
	}); !errors.Is(err, core.ErrTranscriptionFailed) {
		t.Fatalf("expected transcription failure, got %v", err)
	}

	thirdDone := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(thirdDone)
		_, _ = f.pipeline.Process(context.Background(), Request{
			ConversationID: conv.ID, Role: store.RolePatient, Text: "third", SourceLanguage: "hi",
		})
	}()

	select {
	case <-thirdDone:
		t.Fatalf("third utterance overtook the first")
	case <-time.After(50 * time.Millisecond):
	}
	close(releaseFirst)
	wg.Wait()

	first := <-listener.Events
	third := <-listener.Events
	if first.Message.OriginalText != "first" || third.Message.OriginalText != "third" {
		t.Fatalf("order = %s, %s", first.Message.OriginalText, third.Message.OriginalText)
	}
}

func TestUnrelatedConversationsDoNotBlock(t *testing.T) {
	f := newFixture(t)
	slowConv := f.conversation(t, "en", "hi")
	fastConv := f.conversation(t, "en", "es")

	started := make(chan struct{})
	release := make(chan struct{})
	f.lang.translate = func(_ context.Context, text, _, dst string) (string, error) {
		if text == "slow" {
			close(started)
			<-release
		}
		return "[" + dst + "] " + text, nil
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = f.pipeline.Process(context.Background(), Request{
			ConversationID: slowConv.ID, Role: store.RoleDoctor, Text: "slow", SourceLanguage: "en",
		})
	}()
	<-started

	if _, err := f.pipeline.Process(context.Background(), Request{
		ConversationID: fastConv.ID, Role: store.RoleDoctor, Text: "fast", SourceLanguage: "en",
	}); err != nil {
		t.Fatalf("fast conversation: %v", err)
	}
	close(release)
	<-done
}

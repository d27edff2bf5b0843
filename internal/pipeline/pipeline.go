// Package pipeline turns one inbound utterance into a persisted, translated
// and optionally re-voiced message, then broadcasts it to the room.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/medrelay/internal/core"
	"github.com/vovakirdan/medrelay/internal/language"
	"github.com/vovakirdan/medrelay/internal/media"
	"github.com/vovakirdan/medrelay/internal/metrics"
	"github.com/vovakirdan/medrelay/internal/speech"
	"github.com/vovakirdan/medrelay/internal/store"
	"github.com/vovakirdan/medrelay/internal/utils"
)

// Store is the part of the conversation store the pipeline needs.
type Store interface {
	GetConversation(ctx context.Context, id string) (*store.Conversation, error)
	AppendMessage(ctx context.Context, msg *store.Message) (*store.Message, error)
}

// Synthesizer voices translated text for the listener.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, lang string, role store.Role) (*speech.Result, error)
}

// Broadcaster fans an event out to a conversation's room.
type Broadcaster interface {
	Broadcast(conversationID string, event *core.Event) int
}

// Deps are the collaborators of the pipeline. Speech and Media are optional.
type Deps struct {
	Store    Store
	Language language.Service
	Speech   Synthesizer
	Media    media.Store
	Hub      Broadcaster
	Metrics  *metrics.Metrics
}

// Options tunes timeouts and language fallbacks.
type Options struct {
	DefaultLanguage   string
	TranscribeTimeout time.Duration
	TranslateTimeout  time.Duration
}

// Request is one inbound utterance.
type Request struct {
	ConversationID string
	Role           store.Role
	Kind           store.ContentKind
	// Text is the typed content, or client-side transcribed text for audio
	// requests without Audio bytes.
	Text           string
	Audio          []byte
	AudioFormat    string
	SourceLanguage string // "" or "auto" means detect
}

// Outcome describes a processed utterance.
type Outcome struct {
	Message   *store.Message
	Stages    []StageResult
	Delivered int
}

// Stage returns the recorded result for a stage.
func (o *Outcome) Stage(s Stage) (StageResult, bool) {
	for _, r := range o.Stages {
		if r.Stage == s {
			return r, true
		}
	}
	return StageResult{}, false
}

// Pipeline processes utterances. It is safe for concurrent use.
type Pipeline struct {
	deps   Deps
	opts   Options
	seq    *sequencer
	logger *zerolog.Logger
}

// New creates a pipeline.
func New(deps Deps, opts Options, logger *zerolog.Logger) (*Pipeline, error) {
	if deps.Store == nil || deps.Language == nil || deps.Hub == nil {
		return nil, errors.New("pipeline: store, language and hub are required")
	}
	if opts.DefaultLanguage == "" {
		opts.DefaultLanguage = "en"
	}
	if logger == nil {
		l := zerolog.Nop()
		logger = &l
	}
	return &Pipeline{deps: deps, opts: opts, seq: newSequencer(), logger: logger}, nil
}

type run struct {
	out    *Outcome
	logger zerolog.Logger
}

// Process runs all stages for one utterance. A returned error means nothing
// was persisted: the request was invalid, transcription failed or the store
// rejected the write. Every other stage failure is recorded in the outcome.
func (p *Pipeline) Process(ctx context.Context, req Request) (*Outcome, error) {
	if _, ok := store.ParseRole(string(req.Role)); !ok {
		return nil, core.ErrUnknownRole
	}
	req.Text = strings.TrimSpace(req.Text)
	if req.Kind == "" {
		req.Kind = store.KindText
	}
	hasAudio := req.Kind == store.KindAudio && len(req.Audio) > 0
	if !hasAudio && req.Text == "" {
		return nil, core.ErrEmptyContent
	}

	conv, err := p.deps.Store.GetConversation(ctx, req.ConversationID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, core.ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}

	r := &run{
		out: &Outcome{},
		logger: p.logger.With().
			Str("conversation_id", conv.ID).
			Str("role", string(req.Role)).
			Logger(),
	}

	// Submission order is fixed here; persistence below follows it.
	t := p.seq.enter(conv.ID)
	reachedBarrier := false
	defer func() {
		if reachedBarrier {
			t.release()
		} else {
			t.abandon()
		}
	}()

	msg := &store.Message{
		ID:             utils.NewID(),
		ConversationID: conv.ID,
		Role:           req.Role,
		Kind:           req.Kind,
		OriginalText:   req.Text,
	}

	source := normalizeSource(req.SourceLanguage)
	if hasAudio {
		tr, err := p.transcribe(ctx, r, req, source)
		if err != nil {
			return r.out, err
		}
		msg.OriginalText = tr.Text
		if tr.Language != "" {
			source = tr.Language
		}
		if tr.Duration != nil {
			d := strconv.FormatFloat(*tr.Duration, 'f', -1, 64)
			msg.AudioDuration = &d
		}
		msg.AudioRef = p.storeAudio(ctx, r, req)
	} else {
		p.record(r, StageTranscribe, StatusSkipped, "", nil, time.Now())
	}

	if source == "" {
		source = p.detect(ctx, r, msg.OriginalText)
	}
	msg.OriginalLanguage = source

	target := conv.LanguageFor(req.Role.Opposite())
	msg.TargetLanguage = &target

	translated, ok := p.translate(ctx, r, msg.OriginalText, source, target, req.Role)
	msg.TranslatedText = &translated
	if ok {
		msg.SpeechRef = p.synthesize(ctx, r, translated, target, req.Role.Opposite())
	} else {
		p.record(r, StageSynthesize, StatusSkipped, "translation unavailable", nil, time.Now())
	}

	// Persisting and broadcasting survive caller cancellation.
	pctx := context.WithoutCancel(ctx)
	t.wait()
	reachedBarrier = true

	start := time.Now()
	saved, err := p.deps.Store.AppendMessage(pctx, msg)
	if err != nil {
		p.record(r, StagePersist, StatusFailed, "", err, start)
		if errors.Is(err, store.ErrNotFound) {
			return r.out, core.ErrConversationNotFound
		}
		return r.out, fmt.Errorf("persist message: %w", err)
	}
	p.record(r, StagePersist, StatusOK, "", nil, start)
	r.out.Message = saved

	start = time.Now()
	r.out.Delivered = p.deps.Hub.Broadcast(saved.ConversationID, core.MessageEvent(saved))
	p.record(r, StageBroadcast, StatusOK, strconv.Itoa(r.out.Delivered)+" recipients", nil, start)

	return r.out, nil
}

func (p *Pipeline) transcribe(ctx context.Context, r *run, req Request, hint string) (*language.Transcript, error) {
	if p.opts.TranscribeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.TranscribeTimeout)
		defer cancel()
	}

	start := time.Now()
	tr, err := p.deps.Language.Transcribe(ctx, req.Audio, req.AudioFormat, hint)
	if err == nil && strings.TrimSpace(tr.Text) == "" {
		err = errors.New("no speech recognized")
	}
	if err != nil {
		p.record(r, StageTranscribe, StatusFailed, "", err, start)
		return nil, fmt.Errorf("%w: %v", core.ErrTranscriptionFailed, err)
	}
	p.record(r, StageTranscribe, StatusOK, tr.Language, nil, start)
	return tr, nil
}

// storeAudio keeps the uploaded original. Failure leaves the reference empty.
func (p *Pipeline) storeAudio(ctx context.Context, r *run, req Request) *string {
	start := time.Now()
	if p.deps.Media == nil {
		p.record(r, StageStoreAudio, StatusSkipped, "no media store", nil, start)
		return nil
	}

	format := req.AudioFormat
	if format == "" {
		format = "webm"
	}
	name := utils.NewID() + "." + format
	ref, err := p.deps.Media.Put(ctx, name, media.ContentType(name), req.Audio)
	if err != nil {
		p.record(r, StageStoreAudio, StatusFailed, "", err, start)
		return nil
	}
	p.record(r, StageStoreAudio, StatusOK, ref, nil, start)
	return &ref
}

// detect resolves an unknown source language, falling back to the default.
func (p *Pipeline) detect(ctx context.Context, r *run, text string) string {
	ctx, cancel := p.translateContext(ctx)
	defer cancel()

	start := time.Now()
	lang, err := p.deps.Language.DetectLanguage(ctx, text)
	if err == nil && language.IsSupported(lang) {
		p.record(r, StageDetect, StatusOK, lang, nil, start)
		return lang
	}
	if err == nil {
		err = fmt.Errorf("%w: %q", language.ErrUnrecognized, lang)
	}
	p.record(r, StageDetect, StatusDegraded, "default "+p.opts.DefaultLanguage, err, start)
	return p.opts.DefaultLanguage
}

// translate returns the translated text and whether it is usable.
func (p *Pipeline) translate(ctx context.Context, r *run, text, source, target string, role store.Role) (string, bool) {
	start := time.Now()
	if source == target {
		p.record(r, StageTranslate, StatusSkipped, "same language", nil, start)
		return text, true
	}

	ctx, cancel := p.translateContext(ctx)
	defer cancel()

	out, err := p.deps.Language.Translate(ctx, text, source, target, role)
	if err == nil && strings.TrimSpace(out) == "" {
		err = errors.New("empty translation")
	}
	if err != nil {
		p.record(r, StageTranslate, StatusFailed, "", err, start)
		return TranslationSentinel(err), false
	}
	p.record(r, StageTranslate, StatusOK, source+"->"+target, nil, start)
	return out, true
}

// synthesize voices text for the listener. Failure is logged, never surfaced.
func (p *Pipeline) synthesize(ctx context.Context, r *run, text, lang string, listener store.Role) *string {
	start := time.Now()
	if p.deps.Speech == nil {
		p.record(r, StageSynthesize, StatusSkipped, "no speech engine", nil, start)
		return nil
	}

	res, err := p.deps.Speech.Synthesize(ctx, text, lang, listener)
	if err != nil {
		p.record(r, StageSynthesize, StatusFailed, "", err, start)
		return nil
	}
	status := StatusOK
	if res.Degraded() {
		status = StatusDegraded
	}
	p.record(r, StageSynthesize, status, res.Engine+"/"+res.Language, nil, start)
	ref := res.Ref
	return &ref
}

func (p *Pipeline) translateContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.opts.TranslateTimeout > 0 {
		return context.WithTimeout(ctx, p.opts.TranslateTimeout)
	}
	return context.WithCancel(ctx)
}

func (p *Pipeline) record(r *run, stage Stage, status Status, detail string, err error, start time.Time) {
	res := StageResult{Stage: stage, Status: status, Detail: detail, Err: err, Elapsed: time.Since(start)}
	r.out.Stages = append(r.out.Stages, res)
	p.deps.Metrics.ObserveStage(string(stage), string(status), res.Elapsed)

	if status == StatusFailed || status == StatusDegraded {
		r.logger.Warn().
			Err(err).
			Str("stage", string(stage)).
			Str("status", string(status)).
			Str("detail", detail).
			Msg("pipeline stage did not complete normally")
	}
}

// normalizeSource maps a declared language onto a supported code, or "" to detect.
func normalizeSource(s string) string {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "auto") {
		return ""
	}
	code, ok := language.Normalize(s)
	if !ok {
		return ""
	}
	return code
}

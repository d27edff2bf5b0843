package speech

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/medrelay/internal/media"
	"github.com/vovakirdan/medrelay/internal/metrics"
	"github.com/vovakirdan/medrelay/internal/store"
	"github.com/vovakirdan/medrelay/internal/utils"
)

// ErrExhausted is returned when every attempt in the chain failed.
var ErrExhausted = errors.New("speech: all synthesis attempts failed")

// Attempt records one engine call made by the chain.
type Attempt struct {
	Engine   string
	Language string
	Err      error
}

// Result is a stored synthesis outcome.
type Result struct {
	Ref      string // media object name
	Engine   string
	Language string
	Attempts []Attempt
}

// Degraded reports whether the audio came from anything but the first attempt.
func (r *Result) Degraded() bool {
	return len(r.Attempts) > 1
}

// ChainConfig wires the degrade chain.
type ChainConfig struct {
	Preferred        Engine // optional high-quality engine
	Simple           Engine // always-available engine
	FallbackLanguage string
	Timeout          time.Duration // per attempt
	Media            media.Store
	Metrics          *metrics.Metrics
	Logger           *zerolog.Logger
}

// Chain tries the preferred engine, then the simple engine in the same
// language, then the simple engine in the fallback language.
type Chain struct {
	cfg    ChainConfig
	logger *zerolog.Logger
}

// NewChain validates the configuration.
func NewChain(cfg ChainConfig) (*Chain, error) {
	if cfg.Simple == nil {
		return nil, errors.New("speech: simple engine is required")
	}
	if cfg.Media == nil {
		return nil, errors.New("speech: media store is required")
	}
	if cfg.FallbackLanguage == "" {
		cfg.FallbackLanguage = "en"
	}
	logger := cfg.Logger
	if logger == nil {
		l := zerolog.Nop()
		logger = &l
	}
	return &Chain{cfg: cfg, logger: logger}, nil
}

type step struct {
	engine Engine
	lang   string
}

func (c *Chain) plan(lang string) []step {
	steps := make([]step, 0, 3)
	if c.cfg.Preferred != nil {
		steps = append(steps, step{c.cfg.Preferred, lang})
	}
	steps = append(steps, step{c.cfg.Simple, lang})
	// Retrying the same engine in the same language is pointless.
	if lang != c.cfg.FallbackLanguage {
		steps = append(steps, step{c.cfg.Simple, c.cfg.FallbackLanguage})
	}
	return steps
}

// Synthesize voices text for the listener role and stores the audio.
// Individual attempt failures are swallowed; only exhaustion is reported.
func (c *Chain) Synthesize(ctx context.Context, text, lang string, role store.Role) (*Result, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.New("speech: empty text")
	}

	res := &Result{}
	for _, st := range c.plan(lang) {
		if ctx.Err() != nil {
			break
		}
		audio, err := c.attempt(ctx, st, text, role)
		res.Attempts = append(res.Attempts, Attempt{Engine: st.engine.Name(), Language: st.lang, Err: err})
		c.cfg.Metrics.TTSAttempt(st.engine.Name(), err == nil)
		if err != nil {
			c.logger.Warn().
				Err(err).
				Str("engine", st.engine.Name()).
				Str("language", st.lang).
				Msg("speech synthesis attempt failed")
			continue
		}

		name := fmt.Sprintf("tts_%s.%s", utils.NewID(), audio.Format)
		ref, err := c.cfg.Media.Put(ctx, name, media.ContentType(name), audio.Data)
		if err != nil {
			return res, fmt.Errorf("store synthesized audio: %w", err)
		}
		res.Ref = ref
		res.Engine = st.engine.Name()
		res.Language = st.lang
		return res, nil
	}

	return res, fmt.Errorf("%w after %d attempts", ErrExhausted, len(res.Attempts))
}

func (c *Chain) attempt(ctx context.Context, st step, text string, role store.Role) (*Audio, error) {
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}
	audio, err := st.engine.Synthesize(ctx, Request{Text: text, Language: st.lang, Role: role})
	if err != nil {
		return nil, err
	}
	if audio == nil || len(audio.Data) == 0 {
		return nil, errors.New("empty audio")
	}
	return audio, nil
}

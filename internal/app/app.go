package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	stdhttp "net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/vovakirdan/medrelay/internal/config"
	"github.com/vovakirdan/medrelay/internal/core"
	"github.com/vovakirdan/medrelay/internal/language/groq"
	"github.com/vovakirdan/medrelay/internal/media"
	"github.com/vovakirdan/medrelay/internal/metrics"
	"github.com/vovakirdan/medrelay/internal/pipeline"
	"github.com/vovakirdan/medrelay/internal/relay"
	"github.com/vovakirdan/medrelay/internal/service/conversations"
	"github.com/vovakirdan/medrelay/internal/service/summary"
	"github.com/vovakirdan/medrelay/internal/speech"
	"github.com/vovakirdan/medrelay/internal/speech/gemini"
	"github.com/vovakirdan/medrelay/internal/speech/gtts"
	"github.com/vovakirdan/medrelay/internal/store/sqlite"
	transporthttp "github.com/vovakirdan/medrelay/internal/transport/http"
)

// App wires together storage, the utterance pipeline and the transport layer.
type App struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	store           *sqlite.SQLiteStore
	log             *zerolog.Logger
}

// New constructs the application with provided configuration.
func New(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	st, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	logger.Info().Str("db_path", cfg.DatabasePath).Msg("database initialized")

	a := &App{shutdownTimeout: cfg.ShutdownTimeout, store: st, log: logger}
	if err := a.wire(ctx, cfg); err != nil {
		a.cleanup()
		return nil, err
	}
	return a, nil
}

func (a *App) wire(ctx context.Context, cfg *config.Config) error {
	logger := a.log

	ms, err := newMediaStore(ctx, cfg.Media)
	if err != nil {
		return fmt.Errorf("init media store: %w", err)
	}
	logger.Info().Str("backend", cfg.Media.Backend).Msg("media store initialized")

	lang, err := groq.New(groq.Options{
		BaseURL:            cfg.Language.BaseURL,
		APIKey:             cfg.Language.APIKey,
		TranslationModel:   cfg.Language.TranslationModel,
		SummaryModel:       cfg.Language.SummaryModel,
		TranscriptionModel: cfg.Language.TranscriptionModel,
		Timeout:            cfg.Language.Timeout,
		MaxRetries:         cfg.Language.MaxRetries,
	}, logger)
	if err != nil {
		return fmt.Errorf("init language service (set MEDRELAY_LANGUAGE_API_KEY): %w", err)
	}

	m := metrics.New()

	chainCfg := speech.ChainConfig{
		Simple:           gtts.New(cfg.Speech.SimpleBaseURL, &stdhttp.Client{Timeout: cfg.Speech.Timeout}),
		FallbackLanguage: cfg.Speech.FallbackLanguage,
		Timeout:          cfg.Speech.Timeout,
		Media:            ms,
		Metrics:          m,
		Logger:           logger,
	}
	if cfg.Speech.GeminiAPIKey != "" {
		engine, err := gemini.New(ctx, cfg.Speech.GeminiAPIKey, cfg.Speech.GeminiModel, speech.DefaultVoiceBook())
		if err != nil {
			return fmt.Errorf("init gemini speech: %w", err)
		}
		chainCfg.Preferred = engine
		logger.Info().Str("model", cfg.Speech.GeminiModel).Msg("preferred speech engine enabled")
	} else {
		logger.Info().Msg("no gemini api key, speech uses the simple engine only")
	}
	chain, err := speech.NewChain(chainCfg)
	if err != nil {
		return fmt.Errorf("init speech chain: %w", err)
	}

	hub := core.NewHub()
	hub.OnPrune = func(conversationID string, c *core.Client) {
		m.Pruned()
		logger.Warn().
			Str("conversation_id", conversationID).
			Str("client_id", c.ID).
			Msg("evicted slow participant")
	}

	p, err := pipeline.New(pipeline.Deps{
		Store:    a.store,
		Language: lang,
		Speech:   chain,
		Media:    ms,
		Hub:      hub,
		Metrics:  m,
	}, pipeline.Options{
		DefaultLanguage:   cfg.DefaultLanguage,
		TranscribeTimeout: cfg.TranscribeTimeout,
		TranslateTimeout:  cfg.Language.Timeout * time.Duration(cfg.Language.MaxRetries+1),
	}, logger)
	if err != nil {
		return fmt.Errorf("init pipeline: %w", err)
	}

	a.server = transporthttp.NewServer(transporthttp.Deps{
		Conversations: conversations.New(a.store),
		Summaries:     summary.New(a.store, lang, logger),
		Pipeline:      p,
		Relay: relay.New(hub, a.store, p, m, relay.Options{
			Buffer:    cfg.SessionBuffer,
			RateLimit: cfg.SessionRateLimit,
		}, logger),
		Speech:  chain,
		Media:   ms,
		Metrics: m,
	}, cfg, logger)
	return nil
}

func newMediaStore(ctx context.Context, cfg config.MediaConfig) (media.Store, error) {
	switch cfg.Backend {
	case config.MediaBackendS3:
		return media.NewS3Store(ctx, media.S3Options{
			Bucket:   cfg.S3Bucket,
			Region:   cfg.S3Region,
			Endpoint: cfg.S3Endpoint,
			Prefix:   cfg.S3Prefix,
		})
	default:
		return media.NewDirStore(cfg.Dir)
	}
}

// Run starts the HTTP server and blocks until context cancellation or fatal error.
func (a *App) Run(ctx context.Context) error {
	defer a.cleanup()

	g, gctx := errgroup.WithContext(ctx)
	// Live sessions end with the server; their in-flight messages still persist.
	a.server.BaseContext = func(net.Listener) context.Context { return gctx }
	g.Go(func() error {
		a.log.Info().Str("addr", a.server.Addr).Msg("http server listening")
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down http server")
		return a.server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// cleanup closes database and other resources.
func (a *App) cleanup() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close store")
		} else {
			a.log.Info().Msg("store closed")
		}
		a.store = nil
	}
}

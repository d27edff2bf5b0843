package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/medrelay/internal/config"
	"github.com/vovakirdan/medrelay/internal/media"
	"github.com/vovakirdan/medrelay/internal/metrics"
	"github.com/vovakirdan/medrelay/internal/relay"
	"github.com/vovakirdan/medrelay/internal/service/conversations"
	"github.com/vovakirdan/medrelay/internal/service/summary"
)

// Deps are the services exposed over HTTP. Speech and Metrics may be nil.
type Deps struct {
	Conversations *conversations.Service
	Summaries     *summary.Service
	Pipeline      relay.Processor
	Relay         *relay.Relay
	Speech        Synthesizer
	Media         media.Store
	Metrics       *metrics.Metrics
}

// NewServer builds the HTTP server with REST, WebSocket and ops routes.
func NewServer(deps Deps, cfg *config.Config, logger *zerolog.Logger) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           NewRouter(deps, cfg, logger),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

// NewRouter routes WebSocket upgrades to the relay and everything else to
// the gin engine.
func NewRouter(deps Deps, cfg *config.Config, logger *zerolog.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /ws/{conversation_id}", NewWSHandler(deps.Relay, cfg.MaxMessageBytes, logger))
	mux.Handle("/", newEngine(deps, cfg, logger))
	return mux
}

// newEngine registers the REST and ops routes.
func newEngine(deps Deps, cfg *config.Config, logger *zerolog.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(logger))

	router.GET("/health", healthHandler)
	router.GET("/api/health", healthHandler)
	if cfg.MetricsEnabled && deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	convHandlers := NewConversationHandlers(deps.Conversations, deps.Summaries, deps.Pipeline, cfg.MaxMessageBytes, logger)
	mediaHandlers := NewMediaHandlers(deps.Speech, deps.Media, logger)

	api := router.Group("/api")
	{
		api.GET("/languages", mediaHandlers.Languages)
		api.POST("/tts", mediaHandlers.Synthesize)
		api.GET("/audio/:name", mediaHandlers.Audio)
		api.GET("/search", convHandlers.Search)

		conv := api.Group("/conversations")
		conv.POST("", convHandlers.CreateConversation)
		conv.GET("", convHandlers.ListConversations)
		conv.GET("/:id", convHandlers.GetConversation)
		conv.DELETE("/:id", convHandlers.DeleteConversation)
		conv.GET("/:id/messages", convHandlers.ListMessages)
		conv.POST("/:id/messages", convHandlers.PostMessage)
		conv.POST("/:id/audio", convHandlers.UploadAudio)
		conv.POST("/:id/summary", convHandlers.CreateSummary)
		conv.GET("/:id/summary", convHandlers.ListSummaries)
	}

	return router
}

func healthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

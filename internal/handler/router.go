package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/capitalize-ai/chatsync/internal/middleware"
	"github.com/capitalize-ai/chatsync/pkg/logger"
)

// RouterConfig wires the diagnostics server.
type RouterConfig struct {
	Session SessionView
	Push    Connectivity
	Feed    *Feed
	Logger  *logger.Logger

	// Token, when set, is required as a bearer token on session routes.
	Token          string
	AllowedOrigins []string
	RateLimit      int
	RateWindow     time.Duration
}

// NewRouter builds the diagnostics HTTP handler.
func NewRouter(cfg RouterConfig) http.Handler {
	log := cfg.Logger.Named("diagnostics")

	healthHandler := NewHealthHandler(cfg.Push)
	conversationHandler := NewConversationHandler(cfg.Session, log)
	streamHandler := NewStreamHandler(cfg.Feed, log)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	// Health endpoints (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(middleware.BearerToken(cfg.Token))
		if cfg.RateLimit > 0 && cfg.RateWindow > 0 {
			r.Use(middleware.RateLimit(cfg.RateLimit, cfg.RateWindow))
		}

		r.Get("/session", conversationHandler.Status)
		r.Get("/events", streamHandler.Stream)

		r.Route("/conversations", func(r chi.Router) {
			r.Get("/", conversationHandler.List)
			r.Get("/{kind}/{id}", conversationHandler.Get)
			r.Get("/{kind}/{id}/messages", conversationHandler.Messages)
		})
	})

	return otelhttp.NewHandler(r, "diagnostics")
}

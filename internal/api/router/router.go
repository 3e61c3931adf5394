package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/tecbrilho/erika-relay/internal/http/handlers"
	httpmiddleware "github.com/tecbrilho/erika-relay/internal/http/middleware"
	"github.com/tecbrilho/erika-relay/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger             *logging.Logger
	Status             *handlers.StatusHandler
	ChatWebhook        http.Handler
	FlatWebhook        http.Handler
	ScheduleWebhook    http.Handler
	MetricsHandler     http.Handler
	CORSAllowedOrigins []string

	// Per-IP limit on webhook routes; zero disables it.
	WebhookRateLimit float64
	WebhookRateBurst int
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	status := cfg.Status
	if status == nil {
		status = handlers.NewStatusHandler("erika-relay", "dev", nil)
	}
	r.Get("/", status.Root)
	r.Get("/health", status.Health)
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	r.Group(func(hooks chi.Router) {
		hooks.Use(httpmiddleware.RateLimit(cfg.WebhookRateLimit, cfg.WebhookRateBurst))
		if cfg.ChatWebhook != nil {
			hooks.Method(http.MethodPost, "/kommo/chat-webhook", cfg.ChatWebhook)
		}
		if cfg.FlatWebhook != nil {
			hooks.Method(http.MethodPost, "/botconversa/webhook", cfg.FlatWebhook)
		}
		if cfg.ScheduleWebhook != nil {
			hooks.Method(http.MethodPost, "/webhook_schedule", cfg.ScheduleWebhook)
		}
	})

	return r
}

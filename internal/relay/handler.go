package relay

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/tecbrilho/erika-relay/internal/events"
	"github.com/tecbrilho/erika-relay/internal/observability/metrics"
	"github.com/tecbrilho/erika-relay/internal/webhook"
	"github.com/tecbrilho/erika-relay/pkg/logging"
)

const claimTimeout = 2 * time.Second

// Processor handles one verified, actionable envelope.
type Processor interface {
	Process(ctx context.Context, env Envelope) Result
}

// HandlerConfig configures a webhook endpoint.
type HandlerConfig struct {
	Secret       string
	MaxBodyBytes int64
	Parser       EnvelopeParser
	Tracker      events.Tracker
	Processor    Processor
	Runner       *Runner
	Logger       *logging.Logger
	Metrics      *metrics.RelayMetrics
}

// Handler verifies, parses and acknowledges chat webhooks, then hands the
// delivery to the Runner.
type Handler struct {
	secret    string
	maxBody   int64
	parser    EnvelopeParser
	tracker   events.Tracker
	processor Processor
	runner    *Runner
	logger    *logging.Logger
	metrics   *metrics.RelayMetrics
}

// NewHandler builds a Handler. Parser, Processor and Runner are required.
func NewHandler(cfg HandlerConfig) *Handler {
	if cfg.Parser == nil {
		panic("relay: envelope parser cannot be nil")
	}
	if cfg.Processor == nil {
		panic("relay: processor cannot be nil")
	}
	if cfg.Runner == nil {
		panic("relay: runner cannot be nil")
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &Handler{
		secret:    cfg.Secret,
		maxBody:   cfg.MaxBodyBytes,
		parser:    cfg.Parser,
		tracker:   cfg.Tracker,
		processor: cfg.Processor,
		runner:    cfg.Runner,
		logger:    cfg.Logger.With("source", cfg.Parser.Source()),
		metrics:   cfg.Metrics,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	source := h.parser.Source()
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.metrics.ObserveWebhook(source, "too_large")
			http.Error(w, "Request Entity Too Large", http.StatusRequestEntityTooLarge)
			return
		}
		h.metrics.ObserveWebhook(source, "unreadable")
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	if !webhook.Verify(body, r.Header.Get(webhook.SignatureHeader), h.secret) {
		h.metrics.ObserveWebhook(source, "unauthorized")
		h.logger.Warn("webhook rejected: invalid signature", "remote_addr", r.RemoteAddr)
		http.Error(w, "Invalid signature", http.StatusUnauthorized)
		return
	}

	env, err := h.parser.Parse(body)
	if err != nil {
		h.metrics.ObserveWebhook(source, "ignored")
		h.logger.Info("webhook ignored", "reason", err.Error())
		writeOK(w)
		return
	}

	if !h.claim(r.Context(), env, body) {
		h.metrics.ObserveWebhook(source, "duplicate")
		h.logger.Info("duplicate delivery dropped", "message_id", env.MessageID, "conversation_id", env.ConversationID)
		writeOK(w)
		return
	}

	writeOK(w)
	h.metrics.ObserveWebhook(source, "accepted")

	if err := h.runner.Go(r.Context(), source, func(ctx context.Context) {
		h.processor.Process(ctx, env)
	}); err != nil {
		h.logger.Error("delivery acknowledged but not processed", "error", err, "conversation_id", env.ConversationID)
	}
}

// claim reports whether this delivery is new. Tracker failures let the
// delivery through.
func (h *Handler) claim(ctx context.Context, env Envelope, body []byte) bool {
	if h.tracker == nil {
		return true
	}
	eventID := env.MessageID
	if eventID == "" {
		eventID = events.Fingerprint(body)
	}
	ctx, cancel := context.WithTimeout(ctx, claimTimeout)
	defer cancel()
	claimed, err := h.tracker.Claim(ctx, h.parser.Source(), eventID)
	if err != nil {
		h.logger.Warn("dedupe claim failed, processing anyway", "error", err)
		return true
	}
	return claimed
}

func writeOK(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	openai "github.com/sashabaranov/go-openai"

	"github.com/tecbrilho/erika-relay/internal/api/router"
	"github.com/tecbrilho/erika-relay/internal/assistant"
	"github.com/tecbrilho/erika-relay/internal/calendar"
	appconfig "github.com/tecbrilho/erika-relay/internal/config"
	"github.com/tecbrilho/erika-relay/internal/http/handlers"
	"github.com/tecbrilho/erika-relay/internal/kommo"
	"github.com/tecbrilho/erika-relay/internal/leads"
	"github.com/tecbrilho/erika-relay/internal/observability/metrics"
	"github.com/tecbrilho/erika-relay/internal/relay"
	"github.com/tecbrilho/erika-relay/pkg/logging"
)

const serviceName = "erika-relay"

// ErrNotConfigured is returned by collaborators whose credentials are absent.
var ErrNotConfigured = errors.New("bootstrap: collaborator not configured")

// RelayDeps carries the already-built infrastructure.
type RelayDeps struct {
	Config   *appconfig.Config
	Logger   *logging.Logger
	Stores   Stores
	Registry prometheus.Registerer
	Metrics  http.Handler
	Version  string
	// OpenAI overrides the client built from OPENAI_API_KEY.
	OpenAI *openai.Client
	// Booker overrides the Google Calendar scheduler built from
	// GOOGLE_SERVICE_ACCOUNT_JSON.
	Booker handlers.Booker
}

// Relay is the assembled HTTP surface and its background runner.
type Relay struct {
	Handler http.Handler
	Runner  *relay.Runner
}

// BuildRelay wires assistant, Kommo clients, orchestrator and routes. Missing
// Kommo credentials leave the service up; /health reports them and the
// affected calls fail with ErrNotConfigured.
func BuildRelay(deps RelayDeps) (*Relay, error) {
	cfg := deps.Config
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.Default()
	}
	m := metrics.NewRelayMetrics(deps.Registry)

	stages, err := kommo.NewStageMap(cfg.StageStatusIDs)
	if err != nil {
		return nil, err
	}

	var (
		resolver leads.Resolver
		updater  relay.LeadUpdater
	)
	crm, err := kommo.New(kommo.Config{
		BaseURL:    cfg.KommoDomain,
		Token:      cfg.KommoToken,
		Timeout:    cfg.CRMTimeout,
		MaxRetries: cfg.KommoMaxRetries,
		Logger:     logger,
		Stages:     stages,
	})
	if err != nil {
		logger.Warn("kommo crm disabled", "error", err)
		resolver, updater = unconfigured{"kommo crm"}, unconfigured{"kommo crm"}
	} else {
		resolver, updater = crm, crm
	}

	var dispatcher relay.Dispatcher
	chat, err := kommo.NewChatClient(kommo.ChatConfig{
		BaseURL: cfg.ChatBaseURL,
		ScopeID: cfg.ChatScopeID,
		BotID:   cfg.ChatBotID,
		BotName: cfg.ChatBotName,
		Secret:  cfg.ChatAPISecret,
		Timeout: cfg.DispatchTimeout,
		Logger:  logger,
	})
	if err != nil {
		logger.Warn("kommo chats api disabled", "error", err)
		dispatcher = unconfigured{"kommo chats api"}
	} else {
		dispatcher = chat
	}

	locking := leads.NewLockingResolver(resolver, deps.Stores.Locker, cfg.LeadLeaseWait, logger).
		WithCallTimeout(cfg.CRMTimeout)
	orch := relay.NewOrchestrator(
		locking,
		BuildAssistant(cfg, deps.OpenAI, deps.Stores.Threads, logger),
		dispatcher,
		updater,
		relay.OrchestratorConfig{
			LeadSource:       cfg.LeadSourceLabel,
			ResolveTimeout:   locking.Budget(),
			CRMTimeout:       cfg.CRMTimeout,
			AssistantTimeout: cfg.AssistantTimeout,
			DispatchTimeout:  cfg.DispatchTimeout,
		},
		logger, m,
	)
	runner := relay.NewRunner(cfg.ProcessTimeout, logger, m)

	newWebhook := func(p relay.EnvelopeParser) http.Handler {
		return relay.NewHandler(relay.HandlerConfig{
			Secret:       cfg.WebhookSecret,
			MaxBodyBytes: cfg.MaxWebhookBodyBytes,
			Parser:       p,
			Tracker:      deps.Stores.Tracker,
			Processor:    orch,
			Runner:       runner,
			Logger:       logger,
			Metrics:      m,
		})
	}

	loc := LoadLocation(cfg.Timezone, logger)
	booker := deps.Booker
	if booker == nil {
		booker = BuildBooker(context.Background(), cfg, loc, logger)
	}
	schedule := handlers.NewScheduleHandler(handlers.ScheduleConfig{
		Secret:       cfg.WebhookSecret,
		MaxBodyBytes: cfg.MaxWebhookBodyBytes,
		Booker:       booker,
		Location:     loc,
		Timeout:      cfg.CalendarTimeout,
		Logger:       logger,
		Metrics:      m,
	})

	version := deps.Version
	if version == "" {
		version = "dev"
	}
	h := router.New(&router.Config{
		Logger:             logger,
		Status:             handlers.NewStatusHandler(serviceName, version, cfg.Missing),
		ChatWebhook:        newWebhook(relay.ChatAPIParser{}),
		FlatWebhook:        newWebhook(relay.FlatParser{}),
		ScheduleWebhook:    schedule,
		MetricsHandler:     deps.Metrics,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		WebhookRateLimit:   cfg.WebhookRateLimit,
		WebhookRateBurst:   cfg.WebhookRateBurst,
	})
	return &Relay{Handler: h, Runner: runner}, nil
}

// BuildAssistant uses the Assistants API when an assistant id is configured
// and plain chat completions otherwise.
func BuildAssistant(cfg *appconfig.Config, client *openai.Client, threads assistant.ThreadStore, logger *logging.Logger) assistant.Assistant {
	if client == nil {
		client = openai.NewClient(cfg.OpenAIAPIKey)
	}
	if id := strings.TrimSpace(cfg.OpenAIAssistantID); id != "" {
		logger.Info("assistant mode", "mode", "assistants", "assistant_id", id)
		return assistant.NewRunAssistant(client, assistant.RunAssistantConfig{
			AssistantID:  id,
			PollInterval: cfg.AssistantPollInterval,
			Threads:      threads,
			Logger:       logger,
		})
	}
	logger.Info("assistant mode", "mode", "chat", "model", cfg.OpenAIModel)
	return assistant.NewChatAssistant(client, cfg.OpenAIModel, cfg.OpenAISystemPrompt)
}

// BuildBooker returns the Google Calendar scheduler, or a stub failing with
// ErrNotConfigured when no service account is set.
func BuildBooker(ctx context.Context, cfg *appconfig.Config, loc *time.Location, logger *logging.Logger) handlers.Booker {
	if strings.TrimSpace(cfg.GoogleServiceAccountJSON) == "" {
		logger.Warn("google calendar scheduling disabled", "reason", "GOOGLE_SERVICE_ACCOUNT_JSON not set")
		return unconfigured{"google calendar"}
	}
	svc, err := calendar.NewService(ctx, cfg.GoogleServiceAccountJSON)
	if err != nil {
		logger.Warn("google calendar scheduling disabled", "error", err)
		return unconfigured{"google calendar"}
	}
	categories := make([]string, 0, len(appconfig.CalendarEnv))
	for _, c := range appconfig.CalendarEnv {
		categories = append(categories, c.Category)
	}
	scheduler, err := calendar.NewScheduler(calendar.Config{
		Service:     svc,
		Categories:  categories,
		CalendarIDs: cfg.CalendarIDs,
		Location:    loc,
		Logger:      logger,
	})
	if err != nil {
		logger.Warn("google calendar scheduling disabled", "error", err)
		return unconfigured{"google calendar"}
	}
	logger.Info("google calendar scheduling enabled", "calendars", len(cfg.CalendarIDs), "timezone", loc.String())
	return scheduler
}

// LoadLocation resolves the scheduling time zone, falling back to UTC.
func LoadLocation(name string, logger *logging.Logger) *time.Location {
	if strings.TrimSpace(name) == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		logger.Warn("unknown timezone, using UTC", "timezone", name, "error", err)
		return time.UTC
	}
	return loc
}

type unconfigured struct{ name string }

func (u unconfigured) err() error { return fmt.Errorf("%w: %s", ErrNotConfigured, u.name) }

func (u unconfigured) ResolveOrCreate(context.Context, leads.ResolveRequest) (leads.Ref, error) {
	return leads.Ref{}, u.err()
}

func (u unconfigured) UpdateLeadStage(context.Context, int64, string) (bool, error) {
	return false, u.err()
}

func (u unconfigured) AddLeadNote(context.Context, int64, string) error { return u.err() }

func (u unconfigured) Deliver(context.Context, string, kommo.Recipient, string) error {
	return u.err()
}

func (u unconfigured) Book(context.Context, calendar.Booking) (calendar.Event, error) {
	return calendar.Event{}, u.err()
}

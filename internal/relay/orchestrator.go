package relay

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/tecbrilho/erika-relay/internal/assistant"
	"github.com/tecbrilho/erika-relay/internal/kommo"
	"github.com/tecbrilho/erika-relay/internal/leads"
	"github.com/tecbrilho/erika-relay/internal/observability/metrics"
	"github.com/tecbrilho/erika-relay/pkg/logging"
)

var tracer = otel.Tracer("erika.internal.relay")

// Dispatcher delivers the customer-facing reply.
type Dispatcher interface {
	Deliver(ctx context.Context, conversationID string, to kommo.Recipient, text string) error
}

// LeadUpdater applies assistant actions to a CRM lead.
type LeadUpdater interface {
	UpdateLeadStage(ctx context.Context, leadID int64, label string) (bool, error)
	AddLeadNote(ctx context.Context, leadID int64, text string) error
}

// OrchestratorConfig bounds each collaborator call.
type OrchestratorConfig struct {
	LeadSource string
	// ResolveTimeout bounds lead resolution including any lease wait.
	// Defaults to CRMTimeout.
	ResolveTimeout   time.Duration
	CRMTimeout       time.Duration
	AssistantTimeout time.Duration
	DispatchTimeout  time.Duration
}

// Result summarises what Process did for one delivery.
type Result struct {
	Lead         leads.Ref
	Reply        assistant.ParsedReply
	Dispatched   bool
	StageApplied bool
	NoteAdded    bool
	// Err is the failure that ended processing early, if any.
	Err error
}

// Orchestrator runs one verified delivery through lead resolution, the
// assistant, reply dispatch and CRM actions.
type Orchestrator struct {
	resolver   leads.Resolver
	assistant  assistant.Assistant
	dispatcher Dispatcher
	crm        LeadUpdater
	cfg        OrchestratorConfig
	logger     *logging.Logger
	metrics    *metrics.RelayMetrics
}

// NewOrchestrator wires the collaborators. All four are required.
func NewOrchestrator(resolver leads.Resolver, asst assistant.Assistant, dispatcher Dispatcher, crm LeadUpdater, cfg OrchestratorConfig, logger *logging.Logger, m *metrics.RelayMetrics) *Orchestrator {
	if resolver == nil {
		panic("relay: lead resolver cannot be nil")
	}
	if asst == nil {
		panic("relay: assistant cannot be nil")
	}
	if dispatcher == nil {
		panic("relay: dispatcher cannot be nil")
	}
	if crm == nil {
		panic("relay: lead updater cannot be nil")
	}
	if cfg.CRMTimeout <= 0 {
		cfg.CRMTimeout = 15 * time.Second
	}
	if cfg.ResolveTimeout <= 0 {
		cfg.ResolveTimeout = cfg.CRMTimeout
	}
	if cfg.AssistantTimeout <= 0 {
		cfg.AssistantTimeout = 90 * time.Second
	}
	if cfg.DispatchTimeout <= 0 {
		cfg.DispatchTimeout = 15 * time.Second
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Orchestrator{
		resolver:   resolver,
		assistant:  asst,
		dispatcher: dispatcher,
		crm:        crm,
		cfg:        cfg,
		logger:     logger,
		metrics:    m,
	}
}

// Process handles one actionable envelope. Failures are logged and reported in
// the Result; nothing is retried.
func (o *Orchestrator) Process(ctx context.Context, env Envelope) Result {
	start := time.Now()
	defer func() { o.metrics.ObserveProcessing(env.Source, time.Since(start).Seconds()) }()

	ctx, span := tracer.Start(ctx, "relay.process")
	defer span.End()
	span.SetAttributes(
		attribute.String("erika.source", env.Source),
		attribute.String("erika.conversation_id", env.ConversationID),
	)
	logger := o.logger.With(
		"source", env.Source,
		"conversation_id", env.ConversationID,
		"phone", logging.MaskPhone(env.SenderPhone),
	)

	var res Result
	if !env.Actionable() {
		res.Err = ErrNotActionable
		return res
	}

	res.Lead = o.resolveLead(ctx, env, logger)

	raw, err := o.ask(ctx, env, res.Lead)
	o.metrics.ObserveSideEffect("assistant", err)
	if err != nil {
		span.RecordError(err)
		logger.Error("assistant call failed", "error", err, "lead_id", res.Lead.LeadID)
		res.Err = err
		return res
	}

	res.Reply = assistant.Split(raw)
	if res.Reply.ParseErr != nil {
		logger.Warn("assistant action block ignored", "error", res.Reply.ParseErr)
	}

	if res.Reply.ClientText != "" {
		res.Dispatched = o.dispatch(ctx, env, res.Reply.ClientText, logger)
	} else {
		logger.Info("assistant reply had no client text, nothing dispatched")
	}

	if res.Lead.HasLead() && res.Reply.Action != nil {
		res.StageApplied, res.NoteAdded = o.applyAction(ctx, res.Lead.LeadID, res.Reply.Action, logger)
	}

	logger.Info("delivery processed",
		"lead_id", res.Lead.LeadID,
		"lead_created", res.Lead.Created,
		"dispatched", res.Dispatched,
		"stage_applied", res.StageApplied,
		"note_added", res.NoteAdded,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return res
}

func (o *Orchestrator) resolveLead(ctx context.Context, env Envelope, logger *logging.Logger) leads.Ref {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.ResolveTimeout)
	defer cancel()
	ref, err := o.resolver.ResolveOrCreate(ctx, leads.ResolveRequest{
		Phone:       env.SenderPhone,
		Name:        env.SenderName,
		AllowCreate: true,
		Source:      o.cfg.LeadSource,
	})
	o.metrics.ObserveSideEffect("lead_resolve", err)
	if err != nil {
		logger.Warn("lead resolution failed, continuing without lead", "error", err)
		return leads.Ref{}
	}
	if ref.Created {
		o.metrics.ObserveSideEffect("lead_create", nil)
	}
	return ref
}

func (o *Orchestrator) ask(ctx context.Context, env Envelope, ref leads.Ref) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.AssistantTimeout)
	defer cancel()
	return o.assistant.Reply(ctx, assistant.Request{
		Phone:       env.SenderPhone,
		MessageText: env.MessageText,
		Lead:        assistant.LeadInfo{ID: ref.LeadID, Name: env.SenderName},
	})
}

func (o *Orchestrator) dispatch(ctx context.Context, env Envelope, text string, logger *logging.Logger) bool {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.DispatchTimeout)
	defer cancel()
	to := kommo.Recipient{
		ID:    env.SenderID,
		Name:  env.SenderName,
		Phone: env.SenderPhone,
		Email: env.SenderEmail,
	}
	err := o.dispatcher.Deliver(ctx, env.ConversationID, to, text)
	o.metrics.ObserveSideEffect("dispatch", err)
	if err != nil {
		logger.Error("reply dispatch failed", "error", err)
		return false
	}
	return true
}

// applyAction runs the stage update and the note independently so one
// failing does not skip the other.
func (o *Orchestrator) applyAction(ctx context.Context, leadID int64, action *assistant.Action, logger *logging.Logger) (stageApplied, noteAdded bool) {
	if action.SuggestedStage != "" {
		stageCtx, cancel := context.WithTimeout(ctx, o.cfg.CRMTimeout)
		applied, err := o.crm.UpdateLeadStage(stageCtx, leadID, action.SuggestedStage)
		cancel()
		o.metrics.ObserveSideEffect("stage_update", err)
		if err != nil {
			logger.Error("lead stage update failed", "error", err, "lead_id", leadID, "stage", action.SuggestedStage)
		} else if !applied {
			logger.Info("suggested stage not mapped", "lead_id", leadID, "stage", action.SuggestedStage)
		}
		stageApplied = err == nil && applied
	}
	if action.SummaryNote != "" {
		noteCtx, cancel := context.WithTimeout(ctx, o.cfg.CRMTimeout)
		err := o.crm.AddLeadNote(noteCtx, leadID, action.SummaryNote)
		cancel()
		o.metrics.ObserveSideEffect("note", err)
		if err != nil {
			logger.Error("lead note failed", "error", err, "lead_id", leadID)
		}
		noteAdded = err == nil
	}
	return stageApplied, noteAdded
}

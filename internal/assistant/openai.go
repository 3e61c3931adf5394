package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/tecbrilho/erika-relay/pkg/logging"
)

var tracer = otel.Tracer("erika.internal.assistant")

// assistantsAPI is the subset of *openai.Client used for Assistants runs.
type assistantsAPI interface {
	CreateThreadAndRun(ctx context.Context, request openai.CreateThreadAndRunRequest) (openai.Run, error)
	CreateMessage(ctx context.Context, threadID string, request openai.MessageRequest) (openai.Message, error)
	CreateRun(ctx context.Context, threadID string, request openai.RunRequest) (openai.Run, error)
	RetrieveRun(ctx context.Context, threadID string, runID string) (openai.Run, error)
	ListMessage(ctx context.Context, threadID string, limit *int, order *string, after *string, before *string, runID *string) (openai.MessagesList, error)
}

// RunAssistant answers through an OpenAI Assistants run, polling until the
// run reaches a terminal state or ctx expires.
type RunAssistant struct {
	client        assistantsAPI
	assistantID   string
	pollInterval  time.Duration
	activeRunWait time.Duration
	threads       ThreadStore
	logger        *logging.Logger
}

// RunAssistantConfig configures a RunAssistant.
type RunAssistantConfig struct {
	AssistantID  string
	PollInterval time.Duration
	// ActiveRunWait bounds how long a message waits for a run already
	// active on the customer's thread.
	ActiveRunWait time.Duration
	// Threads is optional; without it every message opens a fresh thread.
	Threads ThreadStore
	Logger  *logging.Logger
}

// NewRunAssistant wraps an Assistants API client.
func NewRunAssistant(client assistantsAPI, cfg RunAssistantConfig) *RunAssistant {
	if client == nil {
		panic("assistant: openai client cannot be nil")
	}
	if strings.TrimSpace(cfg.AssistantID) == "" {
		panic("assistant: assistant id required")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.ActiveRunWait <= 0 {
		cfg.ActiveRunWait = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &RunAssistant{
		client:        client,
		assistantID:   cfg.AssistantID,
		pollInterval:  cfg.PollInterval,
		activeRunWait: cfg.ActiveRunWait,
		threads:       cfg.Threads,
		logger:        cfg.Logger,
	}
}

// Reply posts the message, waits for the run and returns the assistant text.
func (a *RunAssistant) Reply(ctx context.Context, req Request) (string, error) {
	ctx, span := tracer.Start(ctx, "assistant.run")
	defer span.End()

	run, err := a.startRun(ctx, req)
	if err != nil {
		span.RecordError(err)
		return "", err
	}
	span.SetAttributes(
		attribute.String("erika.thread_id", run.ThreadID),
		attribute.String("erika.run_id", run.ID),
	)

	run, err = a.waitRun(ctx, run)
	if err != nil {
		span.RecordError(err)
		return "", err
	}

	text, err := a.lastAssistantText(ctx, run)
	if err != nil {
		span.RecordError(err)
		return "", err
	}
	return text, nil
}

func (a *RunAssistant) startRun(ctx context.Context, req Request) (openai.Run, error) {
	content := userContent(req)
	threadID := a.knownThread(ctx, req.Phone)
	keepStored := false
	if threadID != "" {
		run, err := a.runOnThread(ctx, threadID, content)
		if err == nil {
			// Reuse refreshes the stored thread's TTL.
			a.rememberThread(ctx, req.Phone, threadID)
			return run, nil
		}
		if ctx.Err() != nil {
			return openai.Run{}, ctx.Err()
		}
		// A thread still busy after the wait is healthy; answer on a
		// one-off thread and keep the stored one for the next message.
		keepStored = isRunActive(err)
		a.logger.Warn("assistant thread unavailable, starting new thread",
			"error", err,
			"thread_id", threadID,
			"keep_stored", keepStored,
		)
	}

	run, err := a.client.CreateThreadAndRun(ctx, openai.CreateThreadAndRunRequest{
		RunRequest: openai.RunRequest{AssistantID: a.assistantID},
		Thread: openai.ThreadRequest{
			Messages: []openai.ThreadMessage{
				{Role: openai.ThreadMessageRoleUser, Content: content},
			},
		},
	})
	if err != nil {
		return openai.Run{}, fmt.Errorf("assistant: create thread and run: %w", err)
	}
	if !keepStored {
		a.rememberThread(ctx, req.Phone, run.ThreadID)
	}
	return run, nil
}

// runOnThread appends the message to an existing thread and starts a run.
// While another run is active on the thread each call is retried every poll
// interval, for up to activeRunWait in total.
func (a *RunAssistant) runOnThread(ctx context.Context, threadID, content string) (openai.Run, error) {
	deadline := time.Now().Add(a.activeRunWait)
	err := a.whileRunActive(ctx, deadline, func() error {
		_, err := a.client.CreateMessage(ctx, threadID, openai.MessageRequest{
			Role:    string(openai.ThreadMessageRoleUser),
			Content: content,
		})
		return err
	})
	if err != nil {
		return openai.Run{}, fmt.Errorf("assistant: add message: %w", err)
	}
	var run openai.Run
	err = a.whileRunActive(ctx, deadline, func() error {
		var err error
		run, err = a.client.CreateRun(ctx, threadID, openai.RunRequest{AssistantID: a.assistantID})
		return err
	})
	if err != nil {
		return openai.Run{}, fmt.Errorf("assistant: create run: %w", err)
	}
	return run, nil
}

func (a *RunAssistant) whileRunActive(ctx context.Context, deadline time.Time, call func() error) error {
	for {
		err := call()
		if err == nil || !isRunActive(err) || !time.Now().Before(deadline) {
			return err
		}
		timer := time.NewTimer(a.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// isRunActive reports whether err is OpenAI refusing a thread because a run
// on it has not finished.
func isRunActive(err error) bool {
	var apiErr *openai.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	msg := strings.ToLower(apiErr.Message)
	return strings.Contains(msg, "while a run") || strings.Contains(msg, "already has an active run")
}

func (a *RunAssistant) waitRun(ctx context.Context, run openai.Run) (openai.Run, error) {
	ticker := time.NewTicker(a.pollInterval)
	defer ticker.Stop()
	for {
		switch run.Status {
		case openai.RunStatusCompleted:
			return run, nil
		case openai.RunStatusQueued, openai.RunStatusInProgress, openai.RunStatusCancelling:
		default:
			return run, fmt.Errorf("%w: status %s", ErrRunNotCompleted, run.Status)
		}

		select {
		case <-ctx.Done():
			return run, fmt.Errorf("assistant: waiting for run %s: %w", run.ID, ctx.Err())
		case <-ticker.C:
		}

		next, err := a.client.RetrieveRun(ctx, run.ThreadID, run.ID)
		if err != nil {
			return run, fmt.Errorf("assistant: retrieve run: %w", err)
		}
		run = next
	}
}

func (a *RunAssistant) lastAssistantText(ctx context.Context, run openai.Run) (string, error) {
	limit := 20
	order := "desc"
	runID := run.ID
	list, err := a.client.ListMessage(ctx, run.ThreadID, &limit, &order, nil, nil, &runID)
	if err != nil {
		return "", fmt.Errorf("assistant: list messages: %w", err)
	}
	for _, msg := range list.Messages {
		if msg.Role != string(openai.ThreadMessageRoleAssistant) {
			continue
		}
		var parts []string
		for _, c := range msg.Content {
			if c.Type == "text" && c.Text != nil {
				parts = append(parts, c.Text.Value)
			}
		}
		text := strings.TrimSpace(strings.Join(parts, "\n"))
		if text == "" {
			return "", ErrEmptyReply
		}
		return text, nil
	}
	return "", ErrEmptyReply
}

func (a *RunAssistant) knownThread(ctx context.Context, phone string) string {
	if a.threads == nil || phone == "" {
		return ""
	}
	id, err := a.threads.Get(ctx, phone)
	if err != nil {
		a.logger.Warn("thread lookup failed", "error", err, "phone", logging.MaskPhone(phone))
		return ""
	}
	return id
}

func (a *RunAssistant) rememberThread(ctx context.Context, phone, threadID string) {
	if a.threads == nil || phone == "" || threadID == "" {
		return
	}
	if err := a.threads.Save(ctx, phone, threadID); err != nil && !errors.Is(err, context.Canceled) {
		a.logger.Warn("thread save failed", "error", err, "phone", logging.MaskPhone(phone))
	}
}

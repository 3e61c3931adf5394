package relay

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tecbrilho/erika-relay/internal/events"
	"github.com/tecbrilho/erika-relay/internal/webhook"
	"github.com/tecbrilho/erika-relay/pkg/logging"
)

const testSecret = "webhook-secret"

const chatBody = `{"message":{"message":{"id":"m-1","text":"Oi"},"receiver":{"id":"cust-1","name":"Ana","phone":"+5511999990000"},"conversation":{"id":"conv-1"}}}`

type recordingProcessor struct {
	mu   sync.Mutex
	envs []Envelope
	done chan struct{}
}

func newRecordingProcessor() *recordingProcessor {
	return &recordingProcessor{done: make(chan struct{}, 16)}
}

func (p *recordingProcessor) Process(_ context.Context, env Envelope) Result {
	p.mu.Lock()
	p.envs = append(p.envs, env)
	p.mu.Unlock()
	p.done <- struct{}{}
	return Result{}
}

func (p *recordingProcessor) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.envs)
}

type failingTracker struct{}

func (failingTracker) Claim(context.Context, string, string) (bool, error) {
	return false, errors.New("redis down")
}

func newTestHandler(t *testing.T, parser EnvelopeParser, tracker events.Tracker, proc Processor) (*Handler, *Runner) {
	t.Helper()
	runner := NewRunner(time.Second, logging.Discard(), nil)
	h := NewHandler(HandlerConfig{
		Secret:       testSecret,
		MaxBodyBytes: 4096,
		Parser:       parser,
		Tracker:      tracker,
		Processor:    proc,
		Runner:       runner,
		Logger:       logging.Discard(),
	})
	return h, runner
}

func signedRequest(body, secret string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/kommo/chat-webhook", strings.NewReader(body))
	req.Header.Set(webhook.SignatureHeader, webhook.Sign([]byte(body), secret))
	return req
}

func waitProcessed(t *testing.T, p *recordingProcessor) {
	t.Helper()
	select {
	case <-p.done:
	case <-time.After(2 * time.Second):
		t.Fatalf("delivery was not processed")
	}
}

func TestHandlerAcceptsSignedDelivery(t *testing.T) {
	proc := newRecordingProcessor()
	h, runner := newTestHandler(t, ChatAPIParser{}, events.NewMemoryProcessedStore(time.Hour), proc)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, signedRequest(chatBody, testSecret))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
	waitProcessed(t, proc)
	require.NoError(t, runner.Shutdown(context.Background()))

	require.Equal(t, 1, proc.count())
	env := proc.envs[0]
	assert.Equal(t, "conv-1", env.ConversationID)
	assert.Equal(t, "+5511999990000", env.SenderPhone)
	assert.Equal(t, "Oi", env.MessageText)
	assert.Equal(t, "m-1", env.MessageID)
}

func TestHandlerRejectsBadSignature(t *testing.T) {
	proc := newRecordingProcessor()
	h, runner := newTestHandler(t, ChatAPIParser{}, nil, proc)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, signedRequest(chatBody, "wrong-secret"))
	require.NoError(t, runner.Shutdown(context.Background()))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, 0, proc.count())

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/kommo/chat-webhook", strings.NewReader(chatBody))
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandlerRejectsWhenSecretMissing(t *testing.T) {
	proc := newRecordingProcessor()
	runner := NewRunner(time.Second, logging.Discard(), nil)
	h := NewHandler(HandlerConfig{Parser: ChatAPIParser{}, Processor: proc, Runner: runner, Logger: logging.Discard()})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, signedRequest(chatBody, ""))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, 0, proc.count())
}

func TestHandlerIgnoresNonActionableDelivery(t *testing.T) {
	proc := newRecordingProcessor()
	h, runner := newTestHandler(t, ChatAPIParser{}, nil, proc)

	for _, body := range []string{
		`{"message":{"message":{"text":""},"receiver":{"phone":"+55"},"conversation":{"id":"c"}}}`,
		`{"event":"ping"}`,
		`not json`,
	} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, signedRequest(body, testSecret))
		assert.Equal(t, http.StatusOK, rec.Code, body)
		assert.Equal(t, "ok", rec.Body.String())
	}
	require.NoError(t, runner.Shutdown(context.Background()))
	assert.Equal(t, 0, proc.count())
}

func TestHandlerDropsDuplicateDelivery(t *testing.T) {
	proc := newRecordingProcessor()
	h, runner := newTestHandler(t, ChatAPIParser{}, events.NewMemoryProcessedStore(time.Hour), proc)

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, signedRequest(chatBody, testSecret))
		assert.Equal(t, http.StatusOK, rec.Code)
	}
	require.NoError(t, runner.Shutdown(context.Background()))
	assert.Equal(t, 1, proc.count())
}

func TestHandlerDedupesByBodyWithoutMessageID(t *testing.T) {
	proc := newRecordingProcessor()
	h, runner := newTestHandler(t, FlatParser{}, events.NewMemoryProcessedStore(time.Hour), proc)
	body := `{"message":"Oi","phone":"+5511","contact_id":42}`

	for i := 0; i < 2; i++ {
		h.ServeHTTP(httptest.NewRecorder(), signedRequest(body, testSecret))
	}
	require.NoError(t, runner.Shutdown(context.Background()))
	assert.Equal(t, 1, proc.count())
}

func TestHandlerProcessesWhenTrackerFails(t *testing.T) {
	proc := newRecordingProcessor()
	h, runner := newTestHandler(t, ChatAPIParser{}, failingTracker{}, proc)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, signedRequest(chatBody, testSecret))
	require.NoError(t, runner.Shutdown(context.Background()))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, proc.count())
}

func TestHandlerRejectsOversizedBody(t *testing.T) {
	proc := newRecordingProcessor()
	h, runner := newTestHandler(t, ChatAPIParser{}, nil, proc)
	body := strings.Repeat("x", 5000)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, signedRequest(body, testSecret))
	require.NoError(t, runner.Shutdown(context.Background()))

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, 0, proc.count())
}

func TestHandlerAcksBeforeProcessingFinishes(t *testing.T) {
	release := make(chan struct{})
	proc := processorFunc(func(ctx context.Context, env Envelope) Result {
		<-release
		return Result{}
	})
	h, runner := newTestHandler(t, ChatAPIParser{}, nil, proc)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, signedRequest(chatBody, testSecret))
	assert.Equal(t, http.StatusOK, rec.Code)

	close(release)
	require.NoError(t, runner.Shutdown(context.Background()))
}

type processorFunc func(ctx context.Context, env Envelope) Result

func (f processorFunc) Process(ctx context.Context, env Envelope) Result { return f(ctx, env) }

package kommo

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tecbrilho/erika-relay/pkg/logging"
)

func TestChatClientDeliverSignsRequest(t *testing.T) {
	var (
		gotPath string
		gotHdr  http.Header
		gotBody []byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotHdr = r.Header.Clone()
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, err := NewChatClient(ChatConfig{
		BaseURL: srv.URL,
		ScopeID: "scope-1",
		BotID:   "bot-ref",
		Secret:  "chat-secret",
		Logger:  logging.Discard(),
	})
	require.NoError(t, err)
	fixed := time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC)
	c.now = func() time.Time { return fixed }

	err = c.Deliver(t.Context(), "conv-9", Recipient{ID: "cust-1", Name: "Ana", Phone: "+5511"}, "Olá Ana!")
	require.NoError(t, err)

	assert.Equal(t, "/v2/origin/custom/scope-1", gotPath)
	assert.Equal(t, "application/json", gotHdr.Get("Content-Type"))
	assert.Equal(t, fixed.Format(time.RFC1123Z), gotHdr.Get("Date"))
	assert.Equal(t, bodyMD5(gotBody), gotHdr.Get("Content-MD5"))
	want := SignChatRequest("chat-secret", "POST", gotHdr.Get("Content-MD5"), "application/json", gotHdr.Get("Date"), gotPath)
	assert.Equal(t, want, gotHdr.Get("X-Signature"))

	var event chatEvent
	require.NoError(t, json.Unmarshal(gotBody, &event))
	assert.Equal(t, "new_message", event.EventType)
	assert.Equal(t, "conv-9", event.Payload.ConversationID)
	assert.Equal(t, "Olá Ana!", event.Payload.Message.Text)
	assert.Equal(t, "text", event.Payload.Message.Type)
	assert.Equal(t, "Erika", event.Payload.Sender.Name)
	assert.Equal(t, "bot-ref", event.Payload.Sender.RefID)
	assert.Equal(t, "+5511", event.Payload.Receiver.Profile.Phone)
	assert.True(t, strings.HasPrefix(event.Payload.MsgID, "erika-"))
	assert.Equal(t, fixed.UnixMilli(), event.Payload.MsecTimestamp)
}

func TestChatClientDeliverReturnsAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"title":"signature mismatch"}`))
	}))
	defer srv.Close()

	c, err := NewChatClient(ChatConfig{BaseURL: srv.URL, ScopeID: "s", Secret: "x", Logger: logging.Discard()})
	require.NoError(t, err)

	err = c.Deliver(t.Context(), "conv", Recipient{}, "oi")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)
}

func TestChatClientSkipsEmptyText(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))
	defer srv.Close()

	c, err := NewChatClient(ChatConfig{BaseURL: srv.URL, ScopeID: "s", Secret: "x", Logger: logging.Discard()})
	require.NoError(t, err)
	require.NoError(t, c.Deliver(t.Context(), "conv", Recipient{}, "   "))
	assert.False(t, called)
	require.Error(t, c.Deliver(t.Context(), "", Recipient{}, "oi"))
}

func TestNewChatClientValidation(t *testing.T) {
	_, err := NewChatClient(ChatConfig{Secret: "x"})
	assert.Error(t, err)
	_, err = NewChatClient(ChatConfig{ScopeID: "s"})
	assert.Error(t, err)
}

func TestStageMap(t *testing.T) {
	m, err := NewStageMap(map[string]string{
		"Agendamento Pendente": "101",
		"Reengajar":            "",
	})
	require.NoError(t, err)

	id, ok := m.Lookup("Agendamento Pendente")
	assert.True(t, ok)
	assert.Equal(t, int64(101), id)

	id, ok = m.Lookup("  agendamento pendente ")
	assert.True(t, ok)
	assert.Equal(t, int64(101), id)

	_, ok = m.Lookup("Reengajar")
	assert.False(t, ok)
	_, ok = m.Lookup("Estágio Inventado")
	assert.False(t, ok)
	_, ok = StageMap(nil).Lookup("x")
	assert.False(t, ok)

	_, err = NewStageMap(map[string]string{"Reengajar": "abc"})
	assert.Error(t, err)
}

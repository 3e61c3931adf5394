// Package relay turns verified chat webhooks into assistant replies and CRM
// updates.
package relay

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNotActionable marks a delivery that lacks a phone, text or conversation.
var ErrNotActionable = errors.New("relay: envelope not actionable")

// DefaultSenderName is used when the delivery carries no customer name.
const DefaultSenderName = "Cliente"

// Envelope is the normalised customer message extracted from a webhook.
type Envelope struct {
	ConversationID string
	SenderPhone    string
	SenderName     string
	SenderID       string
	SenderEmail    string
	MessageText    string
	// MessageID is the provider message id, used to drop redeliveries.
	MessageID string
	Source    string
}

// Actionable reports whether the envelope has everything needed to reply.
func (e Envelope) Actionable() bool {
	return e.SenderPhone != "" && e.MessageText != "" && e.ConversationID != ""
}

// EnvelopeParser extracts an Envelope from a raw webhook body.
type EnvelopeParser interface {
	Source() string
	Parse(body []byte) (Envelope, error)
}

// flexString accepts JSON strings and numbers, since providers send ids as either.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("relay: expected string or number, got %s", data)
	}
	*f = flexString(n.String())
	return nil
}

func (f flexString) trimmed() string {
	return strings.TrimSpace(string(f))
}

func firstNonEmpty(values ...flexString) string {
	for _, v := range values {
		if s := v.trimmed(); s != "" {
			return s
		}
	}
	return ""
}

// ChatAPIParser reads Kommo Chats API v2 webhooks.
type ChatAPIParser struct{}

func (ChatAPIParser) Source() string { return "kommo-chat" }

type chatAPIWebhook struct {
	Message *struct {
		Message struct {
			ID   flexString `json:"id"`
			Text flexString `json:"text"`
		} `json:"message"`
		Receiver struct {
			ID    flexString `json:"id"`
			Name  flexString `json:"name"`
			Phone flexString `json:"phone"`
			Email flexString `json:"email"`
		} `json:"receiver"`
		Conversation struct {
			ID flexString `json:"id"`
		} `json:"conversation"`
	} `json:"message"`
}

func (p ChatAPIParser) Parse(body []byte) (Envelope, error) {
	var hook chatAPIWebhook
	if err := json.Unmarshal(body, &hook); err != nil {
		return Envelope{}, fmt.Errorf("relay: decode chat webhook: %w", err)
	}
	if hook.Message == nil {
		return Envelope{}, fmt.Errorf("%w: no message", ErrNotActionable)
	}
	m := hook.Message
	env := Envelope{
		ConversationID: m.Conversation.ID.trimmed(),
		SenderPhone:    m.Receiver.Phone.trimmed(),
		SenderName:     firstNonEmpty(m.Receiver.Name, DefaultSenderName),
		SenderID:       m.Receiver.ID.trimmed(),
		SenderEmail:    m.Receiver.Email.trimmed(),
		MessageText:    m.Message.Text.trimmed(),
		MessageID:      m.Message.ID.trimmed(),
		Source:         p.Source(),
	}
	return checkActionable(env)
}

// FlatParser reads flat BotConversa-style webhooks.
type FlatParser struct{}

func (FlatParser) Source() string { return "botconversa" }

type flatWebhook struct {
	Message        flexString `json:"message"`
	Text           flexString `json:"text"`
	Phone          flexString `json:"phone"`
	From           flexString `json:"from"`
	Name           flexString `json:"name"`
	Email          flexString `json:"email"`
	ContactID      flexString `json:"contact_id"`
	ContactIDCamel flexString `json:"contactId"`
	ConversationID flexString `json:"conversation_id"`
	ThreadID       flexString `json:"thread_id"`
	MessageID      flexString `json:"message_id"`
}

func (p FlatParser) Parse(body []byte) (Envelope, error) {
	var hook flatWebhook
	if err := json.Unmarshal(body, &hook); err != nil {
		return Envelope{}, fmt.Errorf("relay: decode flat webhook: %w", err)
	}
	contactID := firstNonEmpty(hook.ContactID, hook.ContactIDCamel)
	env := Envelope{
		ConversationID: firstNonEmpty(hook.ConversationID, hook.ThreadID, flexString(contactID)),
		SenderPhone:    firstNonEmpty(hook.Phone, hook.From),
		SenderName:     firstNonEmpty(hook.Name, DefaultSenderName),
		SenderID:       contactID,
		SenderEmail:    hook.Email.trimmed(),
		MessageText:    firstNonEmpty(hook.Message, hook.Text),
		MessageID:      hook.MessageID.trimmed(),
		Source:         p.Source(),
	}
	return checkActionable(env)
}

func checkActionable(env Envelope) (Envelope, error) {
	if env.Actionable() {
		return env, nil
	}
	var missing []string
	if env.SenderPhone == "" {
		missing = append(missing, "phone")
	}
	if env.MessageText == "" {
		missing = append(missing, "text")
	}
	if env.ConversationID == "" {
		missing = append(missing, "conversation")
	}
	return env, fmt.Errorf("%w: missing %s", ErrNotActionable, strings.Join(missing, ","))
}

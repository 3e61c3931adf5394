// Package assistant talks to the Erika assistant and parses the action
// blocks it embeds in its replies.
package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrRunNotCompleted is returned when an assistant run ends in any state but completed.
	ErrRunNotCompleted = errors.New("assistant: run did not complete")
	// ErrEmptyReply is returned when the assistant produced no text.
	ErrEmptyReply = errors.New("assistant: empty reply")
)

// LeadInfo is the CRM context passed along with the customer message.
type LeadInfo struct {
	ID   int64  `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
}

// Request is one customer message to answer.
type Request struct {
	Phone       string
	MessageText string
	Lead        LeadInfo
}

// Assistant turns a customer message into the raw assistant reply.
type Assistant interface {
	Reply(ctx context.Context, req Request) (string, error)
}

// userContent renders the message the assistant sees for one request.
func userContent(req Request) string {
	lead, err := json.MarshalIndent(req.Lead, "", "  ")
	if err != nil {
		lead = []byte("{}")
	}
	return strings.TrimSpace(fmt.Sprintf(
		"Telefone do cliente: %s\nMensagem do cliente: %s\nInformações atuais do lead: %s",
		req.Phone, req.MessageText, lead,
	))
}

package assistant

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Markers delimiting the action block the assistant appends to its reply.
const (
	StartMarker = "### ERIKA_ACTION"
	EndMarker   = "### END_ERIKA_ACTION"
)

// Action is the CRM instruction embedded in an assistant reply. Unknown
// fields are ignored; empty fields mean "leave unchanged".
type Action struct {
	SuggestedStage string `json:"kommo_suggested_stage,omitempty"`
	SummaryNote    string `json:"summary_note,omitempty"`
}

// ParsedReply is an assistant reply split into the customer-facing text and
// the optional action block.
type ParsedReply struct {
	ClientText string
	Action     *Action
	// ParseErr is set when an action block was present but could not be
	// decoded. The reply is still usable; Action is nil.
	ParseErr error
}

// Split separates the client text from the action block. It uses the first
// start marker and the first end marker after it; anything after the end
// marker is discarded. Split never panics and never returns marker text in
// ClientText.
func Split(fullText string) ParsedReply {
	start := strings.Index(fullText, StartMarker)
	if start < 0 {
		return ParsedReply{ClientText: cleanClientText(fullText)}
	}

	rest := fullText[start+len(StartMarker):]
	end := strings.Index(rest, EndMarker)
	clientText := cleanClientText(fullText[:start])
	if end < 0 {
		// Unterminated block: keep the customer text, drop the fragment.
		return ParsedReply{ClientText: clientText}
	}

	payload := stripCodeFence(rest[:end])
	var action *Action
	if err := json.Unmarshal([]byte(payload), &action); err != nil {
		return ParsedReply{
			ClientText: clientText,
			ParseErr:   fmt.Errorf("assistant: decode action block: %w", err),
		}
	}
	return ParsedReply{ClientText: clientText, Action: action}
}

// Format renders text and action in the wire layout Split understands.
func Format(clientText string, action Action) (string, error) {
	payload, err := json.Marshal(action)
	if err != nil {
		return "", fmt.Errorf("assistant: encode action block: %w", err)
	}
	return clientText + "\n" + StartMarker + "\n" + string(payload) + "\n" + EndMarker, nil
}

// IsEmpty reports whether the action requests no CRM change.
func (a *Action) IsEmpty() bool {
	return a == nil || (strings.TrimSpace(a.SuggestedStage) == "" && strings.TrimSpace(a.SummaryNote) == "")
}

// cleanClientText removes marker text until none is left, since deleting one
// marker can join its neighbours into another.
func cleanClientText(text string) string {
	for strings.Contains(text, StartMarker) || strings.Contains(text, EndMarker) {
		text = strings.ReplaceAll(text, EndMarker, "")
		text = strings.ReplaceAll(text, StartMarker, "")
	}
	return strings.TrimSpace(text)
}

func stripCodeFence(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}

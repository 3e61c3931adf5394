package assistant

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitNoteOnlyAction(t *testing.T) {
	got := Split("Hello### ERIKA_ACTION\n{\"summary_note\":\"paid\"}### END_ERIKA_ACTION")

	require.NoError(t, got.ParseErr)
	assert.Equal(t, "Hello", got.ClientText)
	require.NotNil(t, got.Action)
	assert.Equal(t, "paid", got.Action.SummaryNote)
	assert.Empty(t, got.Action.SuggestedStage)
}

func TestSplitWithoutMarkers(t *testing.T) {
	got := Split("  Oi! Tudo bem?  \n")
	assert.Equal(t, "Oi! Tudo bem?", got.ClientText)
	assert.Nil(t, got.Action)
	assert.NoError(t, got.ParseErr)
}

func TestSplitMalformedPayload(t *testing.T) {
	got := Split("Vamos agendar?\n### ERIKA_ACTION\n{summary_note: nope\n### END_ERIKA_ACTION")
	assert.Equal(t, "Vamos agendar?", got.ClientText)
	assert.Nil(t, got.Action)
	assert.Error(t, got.ParseErr)
}

func TestSplitIsTotal(t *testing.T) {
	cases := map[string]struct {
		in         string
		clientText string
	}{
		"empty":            {"", ""},
		"only start":       {"Oi ### ERIKA_ACTION {\"summary_note\":\"x\"}", "Oi"},
		"only end":         {"Oi ### END_ERIKA_ACTION", "Oi"},
		"inverted":         {"A ### END_ERIKA_ACTION B ### ERIKA_ACTION {}", "A  B"},
		"empty payload":    {"Oi### ERIKA_ACTION### END_ERIKA_ACTION", "Oi"},
		"markers only":     {StartMarker + EndMarker, ""},
		"repeated markers": {"T " + StartMarker + " {} " + EndMarker + StartMarker + " {\"summary_note\":\"b\"} " + EndMarker, "T"},
		"null payload":     {"Oi " + StartMarker + " null " + EndMarker, "Oi"},
		"array payload":    {"Oi " + StartMarker + " [1,2] " + EndMarker, "Oi"},
		"truncated marker": {"Oi ### ERIKA_ACT", "Oi ### ERIKA_ACT"},
		"nested end":       {"Oi ### ### END_ERIKA_ACTIONERIKA_ACTION tchau", "Oi  tchau"},
		"nested end twice": {"Oi ### ### ### END_ERIKA_ACTIONEND_ERIKA_ACTIONERIKA_ACTION", "Oi"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			var got ParsedReply
			require.NotPanics(t, func() { got = Split(tc.in) })
			assert.Equal(t, tc.clientText, got.ClientText)
			assert.NotContains(t, got.ClientText, StartMarker)
			assert.NotContains(t, got.ClientText, EndMarker)
		})
	}
}

func TestSplitInvertedMarkersYieldNoAction(t *testing.T) {
	got := Split("x " + EndMarker + " {\"summary_note\":\"n\"} " + StartMarker)
	assert.Nil(t, got.Action)
}

func TestSplitUsesFirstBlock(t *testing.T) {
	in := "Oi " + StartMarker + ` {"summary_note":"first"} ` + EndMarker + " tail " + StartMarker + ` {"summary_note":"second"} ` + EndMarker
	got := Split(in)
	require.NotNil(t, got.Action)
	assert.Equal(t, "first", got.Action.SummaryNote)
}

func TestSplitToleratesCodeFence(t *testing.T) {
	in := "Fechado!\n" + StartMarker + "\n```json\n{\"kommo_suggested_stage\":\"Serviço Vendido\"}\n```\n" + EndMarker
	got := Split(in)
	require.NoError(t, got.ParseErr)
	require.NotNil(t, got.Action)
	assert.Equal(t, "Serviço Vendido", got.Action.SuggestedStage)
}

func TestSplitIgnoresUnknownFields(t *testing.T) {
	got := Split("ok " + StartMarker + `{"summary_note":"n","confidence":0.9,"extra":{"a":1}}` + EndMarker)
	require.NoError(t, got.ParseErr)
	require.NotNil(t, got.Action)
	assert.Equal(t, "n", got.Action.SummaryNote)
}

func TestFormatSplitRoundTrip(t *testing.T) {
	cases := []struct {
		text   string
		action Action
	}{
		{"Hello", Action{SuggestedStage: "X", SummaryNote: "Y"}},
		{"Seu horário ficou para sexta às 10h.", Action{SuggestedStage: "Agendamentos Confirmados", SummaryNote: "Cliente confirmou \"polimento\"\ncom cera"}},
		{"", Action{SummaryNote: "só nota"}},
	}
	for _, tc := range cases {
		full, err := Format(tc.text, tc.action)
		require.NoError(t, err)

		got := Split(full)
		require.NoError(t, got.ParseErr)
		assert.Equal(t, strings.TrimSpace(tc.text), got.ClientText)
		require.NotNil(t, got.Action)
		assert.Equal(t, tc.action, *got.Action)
	}
}

func TestActionIsEmpty(t *testing.T) {
	var nilAction *Action
	assert.True(t, nilAction.IsEmpty())
	assert.True(t, (&Action{SummaryNote: "  "}).IsEmpty())
	assert.False(t, (&Action{SuggestedStage: "Reengajar"}).IsEmpty())
}

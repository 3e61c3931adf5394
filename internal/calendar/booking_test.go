package calendar

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestParseRequest(t *testing.T) {
	loc := saoPaulo(t)
	body := `{"cliente_nome":"Ana","telefone":5511999990000,"veiculo_modelo":"Onix","servico":"Vitrificação",
		"categoria":"Polimentos","data":"2026-11-03","hora_inicio":"14:30","duracao_minutos":"120","resumo_conversa":"Quer vitrificar"}`

	b, err := ParseRequest([]byte(body), loc)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if b.CustomerName != "Ana" || b.Phone != "5511999990000" || b.Category != "polimentos" {
		t.Fatalf("unexpected booking %+v", b)
	}
	if !b.Start.Equal(time.Date(2026, 11, 3, 14, 30, 0, 0, loc)) || b.Duration != 2*time.Hour {
		t.Fatalf("unexpected window %s %s", b.Start, b.Duration)
	}
	if b.Notes != "Quer vitrificar" {
		t.Fatalf("unexpected notes %q", b.Notes)
	}
}

func TestParseRequestEnglishAliasesAndDefaults(t *testing.T) {
	body := `{"name":"Bruno","phone":"+5511988887777","veiculo_modelo":"HB20","servico":"Lavagem",
		"categoria":"lavagens","date":"2026-11-04","time_start":"09:00:00","note":"primeira vez"}`

	b, err := ParseRequest([]byte(body), nil)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if b.CustomerName != "Bruno" || b.Notes != "primeira vez" {
		t.Fatalf("unexpected booking %+v", b)
	}
	if b.Duration != 60*time.Minute {
		t.Fatalf("expected default duration, got %s", b.Duration)
	}
	if !b.Start.Equal(time.Date(2026, 11, 4, 9, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected start %s", b.Start)
	}
}

func TestParseRequestMissingFields(t *testing.T) {
	b, err := ParseRequest([]byte(`{"cliente_nome":"Ana","servico":"Polimento","data":"2026-11-03"}`), time.UTC)
	if !errors.Is(err, ErrIncompleteBooking) {
		t.Fatalf("expected ErrIncompleteBooking, got %v", err)
	}
	for _, name := range []string{"telefone", "veiculo_modelo", "categoria", "hora_inicio"} {
		if !strings.Contains(err.Error(), name) {
			t.Fatalf("expected %s in %q", name, err)
		}
	}
	if b.CustomerName != "Ana" {
		t.Fatalf("expected partial booking to keep the name, got %+v", b)
	}

	if _, err := ParseRequest([]byte(`not json`), time.UTC); !errors.Is(err, ErrIncompleteBooking) {
		t.Fatalf("expected ErrIncompleteBooking for malformed body, got %v", err)
	}
}

func TestParseRequestInvalidSchedule(t *testing.T) {
	base := `"cliente_nome":"Ana","telefone":"1","veiculo_modelo":"Onix","servico":"X","categoria":"polimentos"`
	cases := map[string]string{
		"bad date":          `{` + base + `,"data":"03/11/2026","hora_inicio":"10:00"}`,
		"bad time":          `{` + base + `,"data":"2026-11-03","hora_inicio":"10h"}`,
		"zero duration":     `{` + base + `,"data":"2026-11-03","hora_inicio":"10:00","duracao_minutos":0}`,
		"non-numeric hours": `{` + base + `,"data":"2026-11-03","hora_inicio":"10:00","duracao_minutos":"uma hora"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseRequest([]byte(body), time.UTC); !errors.Is(err, ErrInvalidSchedule) {
				t.Fatalf("expected ErrInvalidSchedule, got %v", err)
			}
		})
	}
}

func TestNormalizeCategory(t *testing.T) {
	cases := map[string]string{
		"Higienização":     "higienizacao",
		"  ROLE GUARULHOS": "role_guarulhos",
		"role-guarulhos":   "role_guarulhos",
		"Películas":        "peliculas",
		"Instalações":      "instalacoes",
		"":                 "",
	}
	for in, want := range cases {
		if got := NormalizeCategory(in); got != want {
			t.Fatalf("NormalizeCategory(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestBookingDescriptionDefaultsSummary(t *testing.T) {
	b := Booking{CustomerName: "Ana", Phone: "1", Vehicle: "Onix", Service: "Lavagem"}
	if !strings.Contains(b.Description(), "Sem resumo informado.") {
		t.Fatalf("expected default summary in %q", b.Description())
	}
	if b.Title() != "Lavagem – Ana" {
		t.Fatalf("unexpected title %q", b.Title())
	}
}

// Package calendar books service appointments on per-category Google
// Calendars.
package calendar

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const defaultDuration = 60 * time.Minute

var (
	// ErrIncompleteBooking is returned when a required booking field is empty.
	ErrIncompleteBooking = errors.New("calendar: booking incomplete")
	// ErrInvalidSchedule is returned when the date, time or duration cannot be read.
	ErrInvalidSchedule = errors.New("calendar: invalid date or time")
)

// Booking is one appointment request.
type Booking struct {
	CustomerName string
	Phone        string
	Vehicle      string
	Service      string
	Category     string
	Start        time.Time
	Duration     time.Duration
	// Notes is the conversation summary written into the event description.
	Notes string
}

// End is Start plus Duration.
func (b Booking) End() time.Time {
	return b.Start.Add(b.Duration)
}

// Title is the event summary shown in the calendar.
func (b Booking) Title() string {
	return fmt.Sprintf("%s – %s", b.Service, b.CustomerName)
}

// Description is the event body read by the team.
func (b Booking) Description() string {
	notes := strings.TrimSpace(b.Notes)
	if notes == "" {
		notes = "Sem resumo informado."
	}
	return strings.Join([]string{
		"Cliente: " + b.CustomerName,
		"Telefone: " + b.Phone,
		"Veículo: " + b.Vehicle,
		"Serviço contratado: " + b.Service,
		"",
		"Resumo da conversa:",
		notes,
		"",
		"Origem: WhatsApp – BotConversa (Erika TecBrilho)",
	}, "\n")
}

// field accepts JSON strings and numbers.
type field string

func (f *field) UnmarshalJSON(data []byte) error {
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
		*f = field(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("calendar: expected string or number, got %s", data)
	}
	*f = field(n.String())
	return nil
}

func first(values ...field) string {
	for _, v := range values {
		if s := strings.TrimSpace(string(v)); s != "" {
			return s
		}
	}
	return ""
}

type scheduleRequest struct {
	CustomerName field `json:"cliente_nome"`
	Name         field `json:"name"`
	Phone        field `json:"telefone"`
	PhoneEN      field `json:"phone"`
	Vehicle      field `json:"veiculo_modelo"`
	Service      field `json:"servico"`
	Category     field `json:"categoria"`
	Date         field `json:"data"`
	DateEN       field `json:"date"`
	StartTime    field `json:"hora_inicio"`
	StartTimeEN  field `json:"time_start"`
	Minutes      field `json:"duracao_minutos"`
	MinutesEN    field `json:"duration"`
	Summary      field `json:"resumo_conversa"`
	Note         field `json:"note"`
}

// ParseRequest reads a scheduling webhook body. Date is YYYY-MM-DD and the
// start time HH:MM (seconds optional), both in loc. Duration defaults to 60
// minutes. The returned Booking carries whatever was read even on error, so
// callers can address the customer by name.
func ParseRequest(body []byte, loc *time.Location) (Booking, error) {
	if loc == nil {
		loc = time.UTC
	}
	var req scheduleRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return Booking{}, fmt.Errorf("%w: %v", ErrIncompleteBooking, err)
	}
	b := Booking{
		CustomerName: first(req.CustomerName, req.Name),
		Phone:        first(req.Phone, req.PhoneEN),
		Vehicle:      first(req.Vehicle),
		Service:      first(req.Service),
		Category:     NormalizeCategory(first(req.Category)),
		Notes:        first(req.Summary, req.Note),
	}
	date := first(req.Date, req.DateEN)
	clock := first(req.StartTime, req.StartTimeEN)

	var missing []string
	for _, f := range []struct{ name, value string }{
		{"cliente_nome", b.CustomerName},
		{"telefone", b.Phone},
		{"veiculo_modelo", b.Vehicle},
		{"servico", b.Service},
		{"categoria", b.Category},
		{"data", date},
		{"hora_inicio", clock},
	} {
		if f.value == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return b, fmt.Errorf("%w: missing %s", ErrIncompleteBooking, strings.Join(missing, ","))
	}

	start, err := parseStart(date, clock, loc)
	if err != nil {
		return b, err
	}
	b.Start = start

	b.Duration = defaultDuration
	if raw := first(req.Minutes, req.MinutesEN); raw != "" {
		minutes, err := strconv.Atoi(raw)
		if err != nil || minutes <= 0 {
			return b, fmt.Errorf("%w: duration %q", ErrInvalidSchedule, raw)
		}
		b.Duration = time.Duration(minutes) * time.Minute
	}
	return b, nil
}

func parseStart(date, clock string, loc *time.Location) (time.Time, error) {
	for _, layout := range []string{"2006-01-02 15:04", "2006-01-02 15:04:05"} {
		if t, err := time.ParseInLocation(layout, date+" "+clock, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q %q", ErrInvalidSchedule, date, clock)
}

// NormalizeCategory folds case and accents and joins words with underscores,
// so "Higienização" and "ROLE GUARULHOS" match the configured keys.
func NormalizeCategory(raw string) string {
	stripMarks := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(stripMarks, strings.TrimSpace(raw))
	if err != nil {
		folded = raw
	}
	folded = strings.ToLower(strings.TrimSpace(folded))
	return strings.Join(strings.FieldsFunc(folded, func(r rune) bool {
		return unicode.IsSpace(r) || r == '-' || r == '_'
	}), "_")
}

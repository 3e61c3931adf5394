package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tecbrilho/erika-relay/internal/calendar"
	"github.com/tecbrilho/erika-relay/internal/webhook"
	"github.com/tecbrilho/erika-relay/pkg/logging"
)

const scheduleSecret = "schedule-secret"

const bookingBody = `{"cliente_nome":"Ana","telefone":"+5511999990000","veiculo_modelo":"Onix","servico":"Polimento técnico",` +
	`"categoria":"Polimentos","data":"2026-11-03","hora_inicio":"14:30","duracao_minutos":90}`

type stubBooker struct {
	mu       sync.Mutex
	bookings []calendar.Booking
	err      error
	deadline bool
}

func (b *stubBooker) Book(ctx context.Context, booking calendar.Booking) (calendar.Event, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, b.deadline = ctx.Deadline()
	b.bookings = append(b.bookings, booking)
	if b.err != nil {
		return calendar.Event{}, b.err
	}
	return calendar.Event{ID: "evt-1", CalendarID: "cal-polimentos"}, nil
}

func newScheduleHandler(t *testing.T, booker Booker) *ScheduleHandler {
	t.Helper()
	loc, err := time.LoadLocation("America/Sao_Paulo")
	require.NoError(t, err)
	return NewScheduleHandler(ScheduleConfig{
		Secret:   scheduleSecret,
		Booker:   booker,
		Location: loc,
		Timeout:  time.Second,
		Logger:   logging.Discard(),
	})
}

func postSchedule(t *testing.T, h http.Handler, body, secret string) (int, botReply) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhook_schedule", strings.NewReader(body))
	req.Header.Set(webhook.SignatureHeader, webhook.Sign([]byte(body), secret))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var resp botReply
	if rec.Code == http.StatusOK {
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		require.Len(t, resp.Send, 1)
	}
	return rec.Code, resp
}

func TestScheduleRejectsBadSignature(t *testing.T) {
	booker := &stubBooker{}
	code, _ := postSchedule(t, newScheduleHandler(t, booker), bookingBody, "wrong")
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Empty(t, booker.bookings)
}

func TestScheduleBooks(t *testing.T) {
	booker := &stubBooker{}
	code, resp := postSchedule(t, newScheduleHandler(t, booker), bookingBody, scheduleSecret)

	require.Equal(t, http.StatusOK, code)
	require.Len(t, booker.bookings, 1)
	assert.True(t, booker.deadline, "booking should run under a deadline")
	b := booker.bookings[0]
	assert.Equal(t, "polimentos", b.Category)
	assert.Equal(t, 90*time.Minute, b.Duration)
	assert.Equal(t, "text", resp.Send[0].Type)
	assert.Contains(t, resp.Send[0].Value, "Perfeito, Ana!")
	assert.Contains(t, resp.Send[0].Value, "*Polimento técnico*")
	assert.Contains(t, resp.Send[0].Value, "*03/11/2026 às 14:30*")
	assert.Equal(t, map[string]string{"event_id": "evt-1", "calendar_category": "polimentos"}, resp.Variables)
}

func TestScheduleIncompleteRequest(t *testing.T) {
	booker := &stubBooker{}
	code, resp := postSchedule(t, newScheduleHandler(t, booker), `{"cliente_nome":"Ana"}`, scheduleSecret)

	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, msgIncomplete, resp.Send[0].Value)
	assert.Empty(t, booker.bookings)
}

func TestScheduleUnreadableDate(t *testing.T) {
	booker := &stubBooker{}
	body := strings.Replace(bookingBody, `"2026-11-03"`, `"03/11/2026"`, 1)
	code, resp := postSchedule(t, newScheduleHandler(t, booker), body, scheduleSecret)

	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, msgBadSchedule, resp.Send[0].Value)
	assert.Empty(t, booker.bookings)
}

func TestScheduleSlotTaken(t *testing.T) {
	booker := &stubBooker{err: calendar.ErrSlotTaken}
	code, resp := postSchedule(t, newScheduleHandler(t, booker), bookingBody, scheduleSecret)

	require.Equal(t, http.StatusOK, code)
	assert.True(t, strings.HasPrefix(resp.Send[0].Value, "Ana, esse horário já está ocupado"))
	assert.Empty(t, resp.Variables)
}

func TestScheduleBookingFailure(t *testing.T) {
	booker := &stubBooker{err: errors.New("calendar: insert event: googleapi: Error 500")}
	code, resp := postSchedule(t, newScheduleHandler(t, booker), bookingBody, scheduleSecret)

	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, msgBookFailed, resp.Send[0].Value)
	assert.Equal(t, "calendar: insert event: googleapi: Error 500", resp.Variables["erro_agenda"])
}

func TestScheduleRejectsOversizedBody(t *testing.T) {
	booker := &stubBooker{}
	h := NewScheduleHandler(ScheduleConfig{Secret: scheduleSecret, Booker: booker, MaxBodyBytes: 16, Logger: logging.Discard()})
	code, _ := postSchedule(t, h, bookingBody, scheduleSecret)
	assert.Equal(t, http.StatusRequestEntityTooLarge, code)
}

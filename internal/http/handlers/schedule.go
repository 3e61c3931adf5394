package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tecbrilho/erika-relay/internal/calendar"
	"github.com/tecbrilho/erika-relay/internal/observability/metrics"
	"github.com/tecbrilho/erika-relay/internal/webhook"
	"github.com/tecbrilho/erika-relay/pkg/logging"
)

const scheduleSource = "schedule"

const (
	msgIncomplete = "Parece que faltaram algumas informações pra finalizar o agendamento. " +
		"Você pode revisar os dados e me enviar de novo, por favor?"
	msgBadSchedule = "O formato da data ou do horário não ficou claro pro sistema. " +
		"Você consegue reenviar esses dados, por favor? 🙏"
	msgSlotTaken = "%s, esse horário já está ocupado na nossa agenda. " +
		"Você consegue outro horário próximo? Posso te sugerir algumas opções em seguida. 😊"
	msgBookFailed = "Tentei registrar seu horário na nossa agenda, mas aconteceu um erro técnico aqui. " +
		"Você se importa de tentar novamente em alguns instantes ou falar com alguém do time? 😕"
	msgBooked = "Perfeito, %s! Já deixei agendado o serviço de *%s* para *%s às %s* aqui na TecBrilho. 🚗✨\n\n" +
		"Pode ficar tranquilo, vamos cuidar bem do seu carro!"
)

// Booker creates calendar events for bookings.
type Booker interface {
	Book(ctx context.Context, b calendar.Booking) (calendar.Event, error)
}

// ScheduleConfig configures the scheduling webhook.
type ScheduleConfig struct {
	Secret       string
	MaxBodyBytes int64
	Booker       Booker
	Location     *time.Location
	Timeout      time.Duration
	Logger       *logging.Logger
	Metrics      *metrics.RelayMetrics
}

// ScheduleHandler books appointments requested by the chatbot flow and
// answers with the message the bot sends back to the customer.
type ScheduleHandler struct {
	secret  string
	maxBody int64
	booker  Booker
	loc     *time.Location
	timeout time.Duration
	logger  *logging.Logger
	metrics *metrics.RelayMetrics
}

// NewScheduleHandler builds a ScheduleHandler. Booker is required.
func NewScheduleHandler(cfg ScheduleConfig) *ScheduleHandler {
	if cfg.Booker == nil {
		panic("handlers: booker cannot be nil")
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &ScheduleHandler{
		secret:  cfg.Secret,
		maxBody: cfg.MaxBodyBytes,
		booker:  cfg.Booker,
		loc:     cfg.Location,
		timeout: cfg.Timeout,
		logger:  cfg.Logger.With("source", scheduleSource),
		metrics: cfg.Metrics,
	}
}

type botMessage struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type botReply struct {
	Send      []botMessage      `json:"send"`
	Variables map[string]string `json:"variables,omitempty"`
}

func reply(text string, vars map[string]string) botReply {
	return botReply{Send: []botMessage{{Type: "text", Value: text}}, Variables: vars}
}

func (h *ScheduleHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.metrics.ObserveWebhook(scheduleSource, "too_large")
			http.Error(w, "Request Entity Too Large", http.StatusRequestEntityTooLarge)
			return
		}
		h.metrics.ObserveWebhook(scheduleSource, "unreadable")
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}
	if !webhook.Verify(body, r.Header.Get(webhook.SignatureHeader), h.secret) {
		h.metrics.ObserveWebhook(scheduleSource, "unauthorized")
		h.logger.Warn("schedule webhook rejected: invalid signature", "remote_addr", r.RemoteAddr)
		http.Error(w, "Invalid signature", http.StatusUnauthorized)
		return
	}

	booking, err := calendar.ParseRequest(body, h.loc)
	switch {
	case errors.Is(err, calendar.ErrIncompleteBooking):
		h.metrics.ObserveWebhook(scheduleSource, "incomplete")
		h.logger.Info("schedule request incomplete", "reason", err.Error())
		writeJSON(w, http.StatusOK, reply(msgIncomplete, nil))
		return
	case err != nil:
		h.metrics.ObserveWebhook(scheduleSource, "invalid_schedule")
		h.logger.Info("schedule request has an unreadable date", "reason", err.Error())
		writeJSON(w, http.StatusOK, reply(msgBadSchedule, nil))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	event, err := h.booker.Book(ctx, booking)
	switch {
	case errors.Is(err, calendar.ErrSlotTaken):
		h.metrics.ObserveWebhook(scheduleSource, "slot_taken")
		writeJSON(w, http.StatusOK, reply(fmt.Sprintf(msgSlotTaken, booking.CustomerName), nil))
		return
	case err != nil:
		h.metrics.ObserveSideEffect("calendar", err)
		h.metrics.ObserveWebhook(scheduleSource, "failed")
		h.logger.Error("calendar booking failed",
			"error", err,
			"category", booking.Category,
			"phone", logging.MaskPhone(booking.Phone),
		)
		writeJSON(w, http.StatusOK, reply(msgBookFailed, map[string]string{"erro_agenda": err.Error()}))
		return
	}
	h.metrics.ObserveSideEffect("calendar", nil)
	h.metrics.ObserveWebhook(scheduleSource, "booked")

	start := booking.Start.In(h.loc)
	text := fmt.Sprintf(msgBooked, booking.CustomerName, booking.Service, start.Format("02/01/2006"), start.Format("15:04"))
	writeJSON(w, http.StatusOK, reply(text, map[string]string{
		"event_id":          event.ID,
		"calendar_category": booking.Category,
	}))
}

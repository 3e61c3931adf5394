package calendar

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/tecbrilho/erika-relay/pkg/logging"
)

var tracer = otel.Tracer("erika.internal.calendar")

var (
	// ErrUnknownCategory is returned for a category outside the known table.
	ErrUnknownCategory = errors.New("calendar: unknown category")
	// ErrCalendarNotConfigured is returned when a known category has no calendar id.
	ErrCalendarNotConfigured = errors.New("calendar: category has no calendar configured")
	// ErrSlotTaken is returned when the requested window overlaps an event.
	ErrSlotTaken = errors.New("calendar: time slot already taken")
)

// Event identifies a created calendar event.
type Event struct {
	ID         string
	CalendarID string
	Link       string
}

// NewService builds a Calendar API client from a service account JSON key.
func NewService(ctx context.Context, credentialsJSON string, opts ...option.ClientOption) (*gcal.Service, error) {
	if strings.TrimSpace(credentialsJSON) == "" {
		return nil, errors.New("calendar: service account credentials are required")
	}
	opts = append([]option.ClientOption{
		option.WithCredentialsJSON([]byte(credentialsJSON)),
		option.WithScopes(gcal.CalendarScope),
	}, opts...)
	svc, err := gcal.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("calendar: create service: %w", err)
	}
	return svc, nil
}

// Config configures a Scheduler.
type Config struct {
	Service *gcal.Service
	// Categories lists every accepted category; CalendarIDs maps the
	// configured ones to Google Calendar ids.
	Categories  []string
	CalendarIDs map[string]string
	Location    *time.Location
	Logger      *logging.Logger
}

// Scheduler checks availability and creates events on the calendar chosen by
// the booking category.
type Scheduler struct {
	svc       *gcal.Service
	known     map[string]bool
	calendars map[string]string
	loc       *time.Location
	logger    *logging.Logger
}

// NewScheduler validates cfg and returns a Scheduler.
func NewScheduler(cfg Config) (*Scheduler, error) {
	if cfg.Service == nil {
		return nil, errors.New("calendar: service is required")
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	known := make(map[string]bool, len(cfg.Categories))
	for _, c := range cfg.Categories {
		known[NormalizeCategory(c)] = true
	}
	calendars := make(map[string]string, len(cfg.CalendarIDs))
	for c, id := range cfg.CalendarIDs {
		key := NormalizeCategory(c)
		known[key] = true
		if id = strings.TrimSpace(id); id != "" {
			calendars[key] = id
		}
	}
	return &Scheduler{
		svc:       cfg.Service,
		known:     known,
		calendars: calendars,
		loc:       cfg.Location,
		logger:    cfg.Logger,
	}, nil
}

// Location is the zone bookings are parsed and written in.
func (s *Scheduler) Location() *time.Location {
	return s.loc
}

// CalendarFor returns the calendar id for a category.
func (s *Scheduler) CalendarFor(category string) (string, error) {
	key := NormalizeCategory(category)
	if id, ok := s.calendars[key]; ok {
		return id, nil
	}
	if s.known[key] {
		return "", fmt.Errorf("%w: %s", ErrCalendarNotConfigured, key)
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownCategory, category)
}

// Available reports whether no busy event overlaps [start, end).
func (s *Scheduler) Available(ctx context.Context, calendarID string, start, end time.Time) (bool, error) {
	events, err := s.svc.Events.List(calendarID).
		TimeMin(start.Format(time.RFC3339)).
		TimeMax(end.Format(time.RFC3339)).
		SingleEvents(true).
		OrderBy("startTime").
		Context(ctx).
		Do()
	if err != nil {
		return false, fmt.Errorf("calendar: list events: %w", err)
	}
	for _, ev := range events.Items {
		if blocks(ev) {
			return false, nil
		}
	}
	return true, nil
}

// blocks reports whether an existing event occupies its time slot.
func blocks(ev *gcal.Event) bool {
	if ev == nil || ev.Status == "cancelled" {
		return false
	}
	return ev.Transparency != "transparent"
}

// Book creates the event for b. A failed availability check does not stop
// the booking; an occupied slot returns ErrSlotTaken.
func (s *Scheduler) Book(ctx context.Context, b Booking) (Event, error) {
	ctx, span := tracer.Start(ctx, "calendar.book")
	defer span.End()
	span.SetAttributes(attribute.String("erika.calendar_category", b.Category))

	calendarID, err := s.CalendarFor(b.Category)
	if err != nil {
		return Event{}, err
	}
	if b.Duration <= 0 {
		b.Duration = defaultDuration
	}
	start, end := b.Start.In(s.loc), b.End().In(s.loc)

	free, err := s.Available(ctx, calendarID, start, end)
	switch {
	case err != nil:
		span.RecordError(err)
		s.logger.Warn("calendar availability check failed, booking anyway",
			"error", err,
			"status", apiStatus(err),
			"category", b.Category,
		)
	case !free:
		return Event{}, ErrSlotTaken
	}

	created, err := s.svc.Events.Insert(calendarID, &gcal.Event{
		Summary:     b.Title(),
		Description: b.Description(),
		Start:       &gcal.EventDateTime{DateTime: start.Format(time.RFC3339), TimeZone: s.loc.String()},
		End:         &gcal.EventDateTime{DateTime: end.Format(time.RFC3339), TimeZone: s.loc.String()},
	}).Context(ctx).Do()
	if err != nil {
		span.RecordError(err)
		s.logger.Error("calendar insert failed", "error", err, "status", apiStatus(err), "category", b.Category)
		return Event{}, fmt.Errorf("calendar: insert event: %w", err)
	}
	s.logger.Info("calendar event created",
		"event_id", created.Id,
		"category", b.Category,
		"phone", logging.MaskPhone(b.Phone),
		"start", start.Format(time.RFC3339),
	)
	return Event{ID: created.Id, CalendarID: calendarID, Link: created.HtmlLink}, nil
}

// apiStatus is the HTTP status of a Calendar API error, or 0.
func apiStatus(err error) int {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return 0
}

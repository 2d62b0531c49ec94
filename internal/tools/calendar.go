package tools

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/agent"
	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/logging"
)

// Calendar is the scheduling backend behind the calendar tools.
type Calendar interface {
	// FreeBusy returns the busy intervals between start and end.
	FreeBusy(ctx context.Context, start, end time.Time) ([]Interval, error)
	// CreateMeet creates an event with a video conference attached.
	CreateMeet(ctx context.Context, req MeetRequest) (*Event, error)
	// Event returns one event by id.
	Event(ctx context.Context, id string) (*Event, error)
}

// Interval is a half-open time range.
type Interval struct {
	Start time.Time
	End   time.Time
}

// MeetRequest describes an event to create.
type MeetRequest struct {
	Summary     string
	Description string
	Start       time.Time
	End         time.Time
	Attendees   []string
}

// Event is a calendar event as the tools report it.
type Event struct {
	ID           string
	Summary      string
	Description  string
	Start        time.Time
	End          time.Time
	Attendees    []string
	CalendarLink string
	MeetLink     string
}

// Availability window.
const (
	DefaultDaysAhead = 3
	maxDaysAhead     = 14
	workdayStartHour = 8
	workdayEndHour   = 17
	minFreeSlot      = 15 * time.Minute
)

type calendarTools struct {
	cal      Calendar
	meetings *meetingTools
	loc      *time.Location
	now      func() time.Time
	log      *logging.Logger
}

func (c *calendarTools) tools() []agent.Tool {
	return []agent.Tool{
		tool("calendar_check_availability",
			"Consulta los espacios libres del calendario (08:00 a 17:00) en los próximos días hábiles.",
			InputSchema{Properties: map[string]Property{
				"days_ahead": {Type: "integer", Description: "Cantidad de días hábiles con disponibilidad a buscar (por defecto 3)"},
			}},
			c.checkAvailability),
		tool("calendar_create_meet",
			"Crea un evento de Google Calendar con Google Meet y lo registra en las reuniones del cliente.",
			InputSchema{
				Properties: map[string]Property{
					"summary":     str("Título de la reunión"),
					"start_time":  str("Inicio en ISO 8601, p.ej. 2026-03-17T14:00:00-03:00"),
					"end_time":    str("Fin en ISO 8601, p.ej. 2026-03-17T15:00:00-03:00"),
					"id_cliente":  str("ID del cliente asociado"),
					"description": str("Descripción de la reunión"),
					"attendees":   {Type: "array", Description: "Emails de los participantes", Items: &Items{Type: "string"}},
				},
				Required: []string{"summary", "start_time", "end_time", "id_cliente"},
			},
			c.createMeet),
		tool("calendar_get_event_details",
			"Obtiene los detalles de un evento de calendario.",
			InputSchema{
				Properties: map[string]Property{"event_id": str("ID del evento en Google Calendar")},
				Required:   []string{"event_id"},
			},
			c.eventDetails),
	}
}

// DaySlots are the free slots of one day.
type DaySlots struct {
	Dia   string `json:"dia"`
	Slots []Slot `json:"espacios_libres"`
}

// Slot is a free or busy range rendered for the model.
type Slot struct {
	Inicio string `json:"inicio"`
	Fin    string `json:"fin"`
}

func (c *calendarTools) checkAvailability(ctx context.Context, input string) (string, error) {
	var in struct {
		DaysAhead int `json:"days_ahead"`
	}
	if err := decode(input, &in); err != nil {
		return "", err
	}
	days := in.DaysAhead
	if days <= 0 {
		days = DefaultDaysAhead
	}
	if days > maxDaysAhead {
		days = maxDaysAhead
	}

	avail, err := Availability(ctx, c.cal, c.now().In(c.loc), days)
	if err != nil {
		return "", err
	}
	if len(avail) == 0 {
		return result(map[string]any{
			"success": true,
			"message": "No hay disponibilidad en los próximos días hábiles.",
			"data":    []DaySlots{},
		})
	}
	return result(map[string]any{"success": true, "data": avail})
}

// Availability returns the free slots of the next days business days that
// have any, starting today. Slots shorter than 15 minutes are dropped.
func Availability(ctx context.Context, cal Calendar, now time.Time, days int) ([]DaySlots, error) {
	loc := now.Location()
	var out []DaySlots
	// Bound the scan so a fully booked calendar terminates.
	for offset := 0; len(out) < days && offset < days*3+7; offset++ {
		date := now.AddDate(0, 0, offset)
		if wd := date.Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}
		y, m, d := date.Date()
		start := time.Date(y, m, d, workdayStartHour, 0, 0, 0, loc)
		end := time.Date(y, m, d, workdayEndHour, 0, 0, 0, loc)
		if offset == 0 && now.After(start) {
			start = now.Truncate(time.Minute)
		}
		if !start.Before(end) {
			continue
		}

		busy, err := cal.FreeBusy(ctx, start, end)
		if err != nil {
			return nil, fmt.Errorf("checking availability: %w", err)
		}
		free := FreeSlots(start, end, busy, minFreeSlot)
		if len(free) == 0 {
			continue
		}

		day := DaySlots{Dia: start.Format("2006-01-02")}
		for _, s := range free {
			day.Slots = append(day.Slots, Slot{
				Inicio: s.Start.In(loc).Format(time.RFC3339),
				Fin:    s.End.In(loc).Format(time.RFC3339),
			})
		}
		out = append(out, day)
	}
	return out, nil
}

// FreeSlots subtracts busy from [start, end) and keeps gaps of at least minLen.
func FreeSlots(start, end time.Time, busy []Interval, minLen time.Duration) []Interval {
	sorted := append([]Interval(nil), busy...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start.Before(sorted[j].Start) })

	var free []Interval
	cur := start
	for _, b := range sorted {
		if !b.End.After(cur) {
			continue
		}
		if b.Start.After(cur) {
			gapEnd := b.Start
			if gapEnd.After(end) {
				gapEnd = end
			}
			if gapEnd.Sub(cur) >= minLen {
				free = append(free, Interval{Start: cur, End: gapEnd})
			}
		}
		if b.End.After(cur) {
			cur = b.End
		}
		if !cur.Before(end) {
			return free
		}
	}
	if end.Sub(cur) >= minLen {
		free = append(free, Interval{Start: cur, End: end})
	}
	return free
}

func (c *calendarTools) createMeet(ctx context.Context, input string) (string, error) {
	var in struct {
		Summary     string   `json:"summary"`
		StartTime   string   `json:"start_time"`
		EndTime     string   `json:"end_time"`
		IDCliente   string   `json:"id_cliente"`
		Description string   `json:"description"`
		Attendees   []string `json:"attendees"`
	}
	if err := decode(input, &in); err != nil {
		return "", err
	}
	if err := required(
		[2]string{"summary", in.Summary},
		[2]string{"start_time", in.StartTime},
		[2]string{"end_time", in.EndTime},
		[2]string{"id_cliente", in.IDCliente},
	); err != nil {
		return "", err
	}
	start, err := ParseTime(in.StartTime, c.loc)
	if err != nil {
		return "", err
	}
	end, err := ParseTime(in.EndTime, c.loc)
	if err != nil {
		return "", err
	}
	if !end.After(start) {
		return "", errors.New("end_time debe ser posterior a start_time")
	}
	// Resolve the store before touching the calendar so an unbound run
	// cannot leave an unrecorded event behind.
	ref, err := storeRef(ctx)
	if err != nil {
		return "", err
	}

	busy, err := c.cal.FreeBusy(ctx, start, end)
	if err != nil {
		return "", fmt.Errorf("checking availability: %w", err)
	}
	if len(busy) > 0 {
		slots := make([]Slot, len(busy))
		for i, b := range busy {
			slots[i] = Slot{Inicio: b.Start.In(c.loc).Format(time.RFC3339), Fin: b.End.In(c.loc).Format(time.RFC3339)}
		}
		return result(map[string]any{"success": false, "error": "Horario no disponible", "busy_slots": slots})
	}

	desc := strings.TrimSpace(in.Description)
	if desc == "" {
		desc = "Evento creado automáticamente con Meet."
	}
	ev, err := c.cal.CreateMeet(ctx, MeetRequest{
		Summary:     strings.TrimSpace(in.Summary),
		Description: desc,
		Start:       start,
		End:         end,
		Attendees:   in.Attendees,
	})
	if err != nil {
		return "", fmt.Errorf("creating event: %w", err)
	}
	c.log.Info().Str("eventId", ev.ID).Str("clientId", in.IDCliente).Msg("meeting created")

	row, err := c.meetings.record(ctx, ref, strings.TrimSpace(in.IDCliente), ev)
	if err != nil {
		// The event exists; report it so the model can still share the link.
		c.log.Warn().Err(err).Str("eventId", ev.ID).Msg("recording meeting")
		return result(map[string]any{"success": true, "recorded": false, "event": eventView(ev, c.loc)})
	}
	return result(map[string]any{"success": true, "recorded": true, "event": eventView(ev, c.loc), "meeting": row})
}

func (c *calendarTools) eventDetails(ctx context.Context, input string) (string, error) {
	var in struct {
		EventID string `json:"event_id"`
	}
	if err := decode(input, &in); err != nil {
		return "", err
	}
	if err := required([2]string{"event_id", in.EventID}); err != nil {
		return "", err
	}
	ev, err := c.cal.Event(ctx, strings.TrimSpace(in.EventID))
	if err != nil {
		return "", err
	}
	return result(map[string]any{"success": true, "data": eventView(ev, c.loc)})
}

func eventView(ev *Event, loc *time.Location) map[string]any {
	return map[string]any{
		"event_id":      ev.ID,
		"summary":       ev.Summary,
		"description":   ev.Description,
		"start":         ev.Start.In(loc).Format(time.RFC3339),
		"end":           ev.End.In(loc).Format(time.RFC3339),
		"attendees":     ev.Attendees,
		"calendar_link": ev.CalendarLink,
		"meet_link":     ev.MeetLink,
	}
}

var localLayouts = []string{"2006-01-02T15:04:05", "2006-01-02T15:04", "2006-01-02 15:04:05", "2006-01-02 15:04"}

// ParseTime accepts RFC 3339 or a zone-less local time in loc.
func ParseTime(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("fecha inválida %q: use ISO 8601", s)
}

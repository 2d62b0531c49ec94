package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"google.golang.org/api/calendar/v3"
)

// GoogleCalendar implements Calendar over the Calendar v3 API.
type GoogleCalendar struct {
	svc        *calendar.Service
	calendarID string
	loc        *time.Location
}

// NewGoogleCalendar wraps svc. An empty calendarID means "primary".
func NewGoogleCalendar(svc *calendar.Service, calendarID string, loc *time.Location) *GoogleCalendar {
	if calendarID == "" {
		calendarID = "primary"
	}
	if loc == nil {
		loc = time.Local
	}
	return &GoogleCalendar{svc: svc, calendarID: calendarID, loc: loc}
}

func (g *GoogleCalendar) FreeBusy(ctx context.Context, start, end time.Time) ([]Interval, error) {
	resp, err := g.svc.Freebusy.Query(&calendar.FreeBusyRequest{
		TimeMin:  start.Format(time.RFC3339),
		TimeMax:  end.Format(time.RFC3339),
		TimeZone: g.loc.String(),
		Items:    []*calendar.FreeBusyRequestItem{{Id: g.calendarID}},
	}).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("freebusy query: %w", err)
	}

	cal, ok := resp.Calendars[g.calendarID]
	if !ok {
		return nil, nil
	}
	if len(cal.Errors) > 0 {
		return nil, fmt.Errorf("freebusy %s: %s", g.calendarID, cal.Errors[0].Reason)
	}
	out := make([]Interval, 0, len(cal.Busy))
	for _, p := range cal.Busy {
		s, err := time.Parse(time.RFC3339, p.Start)
		if err != nil {
			return nil, fmt.Errorf("parsing busy start: %w", err)
		}
		e, err := time.Parse(time.RFC3339, p.End)
		if err != nil {
			return nil, fmt.Errorf("parsing busy end: %w", err)
		}
		out = append(out, Interval{Start: s, End: e})
	}
	return out, nil
}

func (g *GoogleCalendar) CreateMeet(ctx context.Context, req MeetRequest) (*Event, error) {
	ev := &calendar.Event{
		Summary:     req.Summary,
		Description: req.Description,
		Start:       &calendar.EventDateTime{DateTime: req.Start.In(g.loc).Format(time.RFC3339), TimeZone: g.loc.String()},
		End:         &calendar.EventDateTime{DateTime: req.End.In(g.loc).Format(time.RFC3339), TimeZone: g.loc.String()},
		ConferenceData: &calendar.ConferenceData{
			CreateRequest: &calendar.CreateConferenceRequest{
				RequestId:             "meet-" + uuid.NewString(),
				ConferenceSolutionKey: &calendar.ConferenceSolutionKey{Type: "hangoutsMeet"},
			},
		},
	}
	for _, email := range req.Attendees {
		ev.Attendees = append(ev.Attendees, &calendar.EventAttendee{Email: email})
	}

	created, err := g.svc.Events.Insert(g.calendarID, ev).ConferenceDataVersion(1).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("inserting event: %w", err)
	}
	return toEvent(created)
}

func (g *GoogleCalendar) Event(ctx context.Context, id string) (*Event, error) {
	ev, err := g.svc.Events.Get(g.calendarID, id).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("getting event %s: %w", id, err)
	}
	return toEvent(ev)
}

func toEvent(ev *calendar.Event) (*Event, error) {
	out := &Event{
		ID:           ev.Id,
		Summary:      ev.Summary,
		Description:  ev.Description,
		CalendarLink: ev.HtmlLink,
		MeetLink:     ev.HangoutLink,
	}
	if ev.ConferenceData != nil {
		for _, ep := range ev.ConferenceData.EntryPoints {
			if ep.EntryPointType == "video" {
				out.MeetLink = ep.Uri
				break
			}
		}
	}
	for _, a := range ev.Attendees {
		out.Attendees = append(out.Attendees, a.Email)
	}

	var err error
	if out.Start, err = eventTime(ev.Start); err != nil {
		return nil, err
	}
	if out.End, err = eventTime(ev.End); err != nil {
		return nil, err
	}
	return out, nil
}

// eventTime reads a timed or all-day event boundary.
func eventTime(dt *calendar.EventDateTime) (time.Time, error) {
	if dt == nil {
		return time.Time{}, nil
	}
	if dt.DateTime != "" {
		return time.Parse(time.RFC3339, dt.DateTime)
	}
	if dt.Date != "" {
		return time.Parse("2006-01-02", dt.Date)
	}
	return time.Time{}, nil
}

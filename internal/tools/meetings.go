package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/agent"
	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/sheets"
)

// Columns of the Meetings sheet.
const (
	MeetingID           = "Id"
	MeetingAsunto       = "Asunto"
	MeetingDetalles     = "Detalles"
	MeetingFechaInicio  = "Fecha Inicio"
	MeetingMeetLink     = "Meet_Link"
	MeetingCalendarLink = "Calendar_Link"
	MeetingEstado       = "Estado"
	MeetingFechaCreada  = "Fecha Creada"
	MeetingIDCliente    = "Id Cliente"
)

// MeetingColumns is the Meetings sheet layout.
var MeetingColumns = []string{
	MeetingID, MeetingAsunto, MeetingDetalles, MeetingFechaInicio, MeetingMeetLink,
	MeetingCalendarLink, MeetingEstado, MeetingFechaCreada, MeetingIDCliente,
}

// Meeting states.
const (
	MeetingScheduled   = "Programada"
	MeetingCancelled   = "Cancelada"
	MeetingCompleted   = "Completada"
	MeetingRescheduled = "Reagendada"
)

// MeetingDateLayout formats Fecha columns of the Meetings sheet.
const MeetingDateLayout = "02/01/2006 15:04"

type meetingTools struct {
	store sheets.Store
	sheet string
	loc   *time.Location
	now   func() time.Time
}

func (m *meetingTools) tools() []agent.Tool {
	return []agent.Tool{
		tool("get_meetings_by_client",
			"Consulta todas las reuniones registradas de un cliente.",
			InputSchema{
				Properties: map[string]Property{"id_cliente": str("ID del cliente")},
				Required:   []string{"id_cliente"},
			},
			m.byClient),
		tool("get_meeting_by_id",
			"Consulta una reunión específica por su ID.",
			InputSchema{
				Properties: map[string]Property{
					"meeting_id": str("ID de la reunión"),
					"event_id":   str("ID del evento en Google Calendar"),
				},
			},
			m.byID),
		tool("get_meetings_by_date",
			"Consulta las reuniones programadas para una fecha (YYYY-MM-DD o DD/MM/YYYY).",
			InputSchema{
				Properties: map[string]Property{"fecha_inicio": str("Fecha a consultar")},
				Required:   []string{"fecha_inicio"},
			},
			m.byDate),
		tool("update_meeting",
			"Actualiza campos de una reunión existente. Sin estado explícito la reunión queda Reagendada.",
			InputSchema{
				Properties: map[string]Property{
					"meeting_id":    str("ID de la reunión"),
					"event_id":      str("ID del evento en Google Calendar"),
					"asunto":        str("Nuevo asunto"),
					"detalles":      str("Nuevos detalles"),
					"fecha_inicio":  str("Nueva fecha de inicio en ISO 8601"),
					"meet_link":     str("Enlace de Google Meet"),
					"calendar_link": str("Enlace del evento"),
					"estado": {
						Type:        "string",
						Description: "Nuevo estado de la reunión",
						Enum:        []string{MeetingScheduled, MeetingCancelled, MeetingCompleted, MeetingRescheduled},
					},
					"id_cliente": str("ID del cliente"),
				},
			},
			m.update),
		tool("delete_meeting",
			"Elimina una reunión del registro.",
			InputSchema{
				Properties: map[string]Property{
					"meeting_id": str("ID de la reunión"),
					"event_id":   str("ID del evento en Google Calendar"),
				},
			},
			m.delete),
		tool("update_meeting_status",
			"Actualiza el estado de una reunión. Acepta meeting_id o event_id.",
			InputSchema{
				Properties: map[string]Property{
					"meeting_id": str("ID de la reunión"),
					"event_id":   str("ID del evento en Google Calendar"),
					"estado": {
						Type:        "string",
						Description: "Nuevo estado de la reunión",
						Enum:        []string{MeetingScheduled, MeetingCancelled, MeetingCompleted, MeetingRescheduled},
					},
				},
				Required: []string{"estado"},
			},
			m.updateStatus),
	}
}

func (m *meetingTools) byClient(ctx context.Context, input string) (string, error) {
	var in struct {
		IDCliente string `json:"id_cliente"`
	}
	if err := decode(input, &in); err != nil {
		return "", err
	}
	if err := required([2]string{"id_cliente", in.IDCliente}); err != nil {
		return "", err
	}
	ref, err := storeRef(ctx)
	if err != nil {
		return "", err
	}
	rows, err := m.store.Rows(ctx, ref, m.sheet)
	if err != nil {
		return "", err
	}

	meetings := make([]map[string]string, 0)
	for _, r := range rows {
		if getFold(r, MeetingIDCliente) == strings.TrimSpace(in.IDCliente) {
			meetings = append(meetings, rowMap(r))
		}
	}
	return result(map[string]any{"success": true, "count": len(meetings), "meetings": meetings})
}

// meetingRef accepts either id argument; event_id wins.
type meetingRef struct {
	MeetingID string `json:"meeting_id"`
	EventID   string `json:"event_id"`
}

func (r meetingRef) id() string {
	if id := strings.TrimSpace(r.EventID); id != "" {
		return id
	}
	return strings.TrimSpace(r.MeetingID)
}

func (m *meetingTools) byID(ctx context.Context, input string) (string, error) {
	var in meetingRef
	if err := decode(input, &in); err != nil {
		return "", err
	}
	if err := required([2]string{"meeting_id", in.id()}); err != nil {
		return "", err
	}
	ref, err := storeRef(ctx)
	if err != nil {
		return "", err
	}
	row, err := m.find(ctx, ref, in.id())
	if err != nil {
		return "", err
	}
	return result(map[string]any{"success": true, "meeting": rowMap(*row), "row_index": row.Index})
}

func (m *meetingTools) byDate(ctx context.Context, input string) (string, error) {
	var in struct {
		FechaInicio string `json:"fecha_inicio"`
	}
	if err := decode(input, &in); err != nil {
		return "", err
	}
	if err := required([2]string{"fecha_inicio", in.FechaInicio}); err != nil {
		return "", err
	}
	day, ok := dayOf(in.FechaInicio, m.loc)
	if !ok {
		return "", fmt.Errorf("fecha inválida %q: use YYYY-MM-DD", in.FechaInicio)
	}
	ref, err := storeRef(ctx)
	if err != nil {
		return "", err
	}
	rows, err := m.store.Rows(ctx, ref, m.sheet)
	if err != nil {
		return "", err
	}

	meetings := make([]map[string]string, 0)
	for _, r := range rows {
		if d, ok := dayOf(getFold(r, MeetingFechaInicio), m.loc); ok && d == day {
			meetings = append(meetings, rowMap(r))
		}
	}
	return result(map[string]any{"success": true, "fecha": day, "count": len(meetings), "meetings": meetings})
}

func (m *meetingTools) update(ctx context.Context, input string) (string, error) {
	var in struct {
		meetingRef
		Asunto       *string `json:"asunto"`
		Detalles     *string `json:"detalles"`
		FechaInicio  *string `json:"fecha_inicio"`
		MeetLink     *string `json:"meet_link"`
		CalendarLink *string `json:"calendar_link"`
		Estado       *string `json:"estado"`
		IDCliente    *string `json:"id_cliente"`
	}
	if err := decode(input, &in); err != nil {
		return "", err
	}
	id := in.id()
	if err := required([2]string{"meeting_id", id}); err != nil {
		return "", err
	}

	fields := make(map[string]string)
	set := func(col string, v *string) {
		if v != nil {
			fields[col] = strings.TrimSpace(*v)
		}
	}
	set(MeetingAsunto, in.Asunto)
	set(MeetingDetalles, in.Detalles)
	set(MeetingMeetLink, in.MeetLink)
	set(MeetingCalendarLink, in.CalendarLink)
	set(MeetingEstado, in.Estado)
	set(MeetingIDCliente, in.IDCliente)
	if in.FechaInicio != nil {
		v := strings.TrimSpace(*in.FechaInicio)
		if t, err := ParseTime(v, m.loc); err == nil {
			v = t.In(m.loc).Format(MeetingDateLayout)
		}
		fields[MeetingFechaInicio] = v
	}
	if len(fields) == 0 {
		return "", errors.New("no se proporcionaron campos para actualizar")
	}
	updated := presentColumns(MeetingColumns, fields)
	if _, ok := fields[MeetingEstado]; !ok {
		fields[MeetingEstado] = MeetingRescheduled
	}

	ref, err := storeRef(ctx)
	if err != nil {
		return "", err
	}
	row, err := m.find(ctx, ref, id)
	if err != nil {
		return "", err
	}
	if err := m.store.UpdateCells(ctx, ref, m.sheet, row.Index, fields); err != nil {
		return "", err
	}
	return result(map[string]any{
		"success":        true,
		"event_id":       id,
		"updated_fields": updated,
		"estado":         fields[MeetingEstado],
	})
}

func (m *meetingTools) delete(ctx context.Context, input string) (string, error) {
	var in meetingRef
	if err := decode(input, &in); err != nil {
		return "", err
	}
	id := in.id()
	if err := required([2]string{"meeting_id", id}); err != nil {
		return "", err
	}
	ref, err := storeRef(ctx)
	if err != nil {
		return "", err
	}
	row, err := m.find(ctx, ref, id)
	if err != nil {
		return "", err
	}
	if err := m.store.DeleteRow(ctx, ref, m.sheet, row.Index); err != nil {
		return "", err
	}
	return result(map[string]any{"success": true, "message": fmt.Sprintf("Reunión '%s' eliminada", id)})
}

func (m *meetingTools) updateStatus(ctx context.Context, input string) (string, error) {
	var in struct {
		meetingRef
		Estado string `json:"estado"`
	}
	if err := decode(input, &in); err != nil {
		return "", err
	}
	id := in.id()
	if err := required([2]string{"meeting_id o event_id", id}, [2]string{"estado", in.Estado}); err != nil {
		return "", err
	}
	ref, err := storeRef(ctx)
	if err != nil {
		return "", err
	}

	row, err := m.find(ctx, ref, id)
	if err != nil {
		return "", err
	}
	estado := strings.TrimSpace(in.Estado)
	if err := m.store.UpdateCells(ctx, ref, m.sheet, row.Index, map[string]string{MeetingEstado: estado}); err != nil {
		return "", err
	}
	return result(map[string]any{"success": true, "event_id": id, "estado": estado})
}

func (m *meetingTools) find(ctx context.Context, ref, id string) (*sheets.Row, error) {
	rows, err := m.store.Rows(ctx, ref, m.sheet)
	if err != nil {
		return nil, err
	}
	for i := range rows {
		if getFold(rows[i], MeetingID) == id {
			return &rows[i], nil
		}
	}
	return nil, fmt.Errorf("no se encontró reunión con ID '%s'", id)
}

// record writes a created calendar event to the Meetings sheet. An event id
// already present is treated as a reschedule.
func (m *meetingTools) record(ctx context.Context, ref, clientID string, ev *Event) (map[string]string, error) {
	fields := map[string]string{
		MeetingAsunto:       ev.Summary,
		MeetingDetalles:     ev.Description,
		MeetingFechaInicio:  ev.Start.In(m.loc).Format(MeetingDateLayout),
		MeetingMeetLink:     ev.MeetLink,
		MeetingCalendarLink: ev.CalendarLink,
	}

	rows, err := m.store.Rows(ctx, ref, m.sheet)
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		if getFold(r, MeetingID) == ev.ID {
			fields[MeetingEstado] = MeetingRescheduled
			if err := m.store.UpdateCells(ctx, ref, m.sheet, r.Index, fields); err != nil {
				return nil, err
			}
			fields[MeetingID] = ev.ID
			return fields, nil
		}
	}

	fields[MeetingID] = ev.ID
	fields[MeetingEstado] = MeetingScheduled
	fields[MeetingFechaCreada] = m.now().In(m.loc).Format(MeetingDateLayout)
	fields[MeetingIDCliente] = clientID
	if err := sheets.AppendRecord(ctx, m.store, ref, m.sheet, fields); err != nil {
		return nil, err
	}
	return fields, nil
}

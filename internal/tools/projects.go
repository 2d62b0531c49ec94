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

// Columns of the Projects sheet.
const (
	ProjectID          = "Id"
	ProjectNombre      = "Nombre"
	ProjectDescripcion = "Descripcion"
	ProjectServicio    = "Servicio"
	ProjectEstado      = "Estado"
	ProjectNota        = "Nota"
	ProjectFechaInicio = "Fecha_Inicio"
	ProjectFechaFin    = "Fecha_Fin"
	ProjectIDCliente   = "Id_Cliente"
)

// ProjectColumns is the Projects sheet layout.
var ProjectColumns = []string{
	ProjectID, ProjectNombre, ProjectDescripcion, ProjectServicio, ProjectEstado,
	ProjectNota, ProjectFechaInicio, ProjectFechaFin, ProjectIDCliente,
}

// ProjectInProgress is the state of a new project.
const ProjectInProgress = "En Progreso"

// ProjectDateLayout formats dates written to the Projects sheet.
const ProjectDateLayout = time.DateTime

type projectTools struct {
	store sheets.Store
	sheet string
	loc   *time.Location
	now   func() time.Time
}

func (p *projectTools) tools() []agent.Tool {
	idOnly := InputSchema{
		Properties: map[string]Property{"project_id": str("ID del proyecto")},
		Required:   []string{"project_id"},
	}
	return []agent.Tool{
		tool("create_project",
			"Crea un nuevo proyecto para un cliente.",
			InputSchema{
				Properties: map[string]Property{
					"nombre":       str("Nombre del proyecto"),
					"id_cliente":   str("ID del cliente"),
					"servicio":     str("Servicio contratado"),
					"descripcion":  str("Descripción del proyecto"),
					"fecha_inicio": str("Fecha de inicio; por defecto ahora"),
					"fecha_fin":    str("Fecha de fin estimada"),
					"estado":       str("Estado inicial; por defecto En Progreso"),
					"nota":         str("Nota interna"),
				},
				Required: []string{"nombre", "id_cliente"},
			},
			p.create),
		tool("get_project_by_id",
			"Consulta un proyecto específico por su ID.",
			idOnly,
			p.byID),
		tool("get_projects_by_client",
			"Consulta todos los proyectos de un cliente.",
			InputSchema{
				Properties: map[string]Property{"id_cliente": str("ID del cliente")},
				Required:   []string{"id_cliente"},
			},
			p.byClient),
		tool("get_projects_by_date",
			"Consulta los proyectos que inician en una fecha (YYYY-MM-DD o DD/MM/YYYY).",
			InputSchema{
				Properties: map[string]Property{"fecha_inicio": str("Fecha a consultar")},
				Required:   []string{"fecha_inicio"},
			},
			p.byDate),
		tool("update_project",
			"Actualiza campos de un proyecto existente.",
			InputSchema{
				Properties: map[string]Property{
					"project_id":   str("ID del proyecto"),
					"nombre":       str("Nuevo nombre"),
					"descripcion":  str("Nueva descripción"),
					"servicio":     str("Nuevo servicio"),
					"estado":       str("Nuevo estado"),
					"nota":         str("Nueva nota"),
					"fecha_inicio": str("Nueva fecha de inicio"),
					"fecha_fin":    str("Nueva fecha de fin"),
					"id_cliente":   str("Nuevo ID de cliente"),
				},
				Required: []string{"project_id"},
			},
			p.update),
		tool("update_project_note_by_client",
			"Reemplaza la nota de todos los proyectos de un cliente.",
			InputSchema{
				Properties: map[string]Property{
					"id_cliente": str("ID del cliente"),
					"nota":       str("Nueva nota para todos los proyectos del cliente"),
				},
				Required: []string{"id_cliente", "nota"},
			},
			p.noteByClient),
		tool("delete_project",
			"Elimina un proyecto.",
			idOnly,
			p.delete),
	}
}

func (p *projectTools) create(ctx context.Context, input string) (string, error) {
	var in struct {
		Nombre      string `json:"nombre"`
		IDCliente   string `json:"id_cliente"`
		Servicio    string `json:"servicio"`
		Descripcion string `json:"descripcion"`
		FechaInicio string `json:"fecha_inicio"`
		FechaFin    string `json:"fecha_fin"`
		Estado      string `json:"estado"`
		Nota        string `json:"nota"`
	}
	if err := decode(input, &in); err != nil {
		return "", err
	}
	if err := required([2]string{"nombre", in.Nombre}, [2]string{"id_cliente", in.IDCliente}); err != nil {
		return "", err
	}
	ref, err := storeRef(ctx)
	if err != nil {
		return "", err
	}

	now := p.now().In(p.loc)
	created := now.Format(ProjectDateLayout)
	estado := strings.TrimSpace(in.Estado)
	if estado == "" {
		estado = ProjectInProgress
	}
	inicio := strings.TrimSpace(in.FechaInicio)
	if inicio == "" {
		inicio = created
	}
	record := map[string]string{
		ProjectID:          "PRJ-" + now.Format("20060102150405"),
		ProjectNombre:      strings.TrimSpace(in.Nombre),
		ProjectDescripcion: strings.TrimSpace(in.Descripcion),
		ProjectServicio:    strings.TrimSpace(in.Servicio),
		ProjectEstado:      estado,
		ProjectNota:        strings.TrimSpace(in.Nota),
		ProjectFechaInicio: inicio,
		ProjectFechaFin:    strings.TrimSpace(in.FechaFin),
		ProjectIDCliente:   strings.TrimSpace(in.IDCliente),
	}
	if err := sheets.AppendRecord(ctx, p.store, ref, p.sheet, record); err != nil {
		return "", err
	}
	return result(map[string]any{
		"success":      true,
		"project_id":   record[ProjectID],
		"nombre":       record[ProjectNombre],
		"id_cliente":   record[ProjectIDCliente],
		"estado":       estado,
		"fecha_creada": created,
	})
}

func (p *projectTools) byID(ctx context.Context, input string) (string, error) {
	var in struct {
		ProjectID string `json:"project_id"`
	}
	if err := decode(input, &in); err != nil {
		return "", err
	}
	if err := required([2]string{"project_id", in.ProjectID}); err != nil {
		return "", err
	}
	ref, err := storeRef(ctx)
	if err != nil {
		return "", err
	}
	row, err := p.find(ctx, ref, strings.TrimSpace(in.ProjectID))
	if err != nil {
		return "", err
	}
	return result(map[string]any{"success": true, "project": rowMap(*row)})
}

func (p *projectTools) byClient(ctx context.Context, input string) (string, error) {
	var in struct {
		IDCliente string `json:"id_cliente"`
	}
	if err := decode(input, &in); err != nil {
		return "", err
	}
	if err := required([2]string{"id_cliente", in.IDCliente}); err != nil {
		return "", err
	}
	client := strings.TrimSpace(in.IDCliente)
	projects, err := p.filter(ctx, func(r sheets.Row) bool {
		return getFold(r, ProjectIDCliente) == client
	})
	if err != nil {
		return "", err
	}
	return result(map[string]any{"success": true, "count": len(projects), "projects": projects})
}

func (p *projectTools) byDate(ctx context.Context, input string) (string, error) {
	var in struct {
		FechaInicio string `json:"fecha_inicio"`
	}
	if err := decode(input, &in); err != nil {
		return "", err
	}
	if err := required([2]string{"fecha_inicio", in.FechaInicio}); err != nil {
		return "", err
	}
	day, ok := dayOf(in.FechaInicio, p.loc)
	if !ok {
		return "", fmt.Errorf("fecha inválida %q: use YYYY-MM-DD", in.FechaInicio)
	}
	projects, err := p.filter(ctx, func(r sheets.Row) bool {
		d, ok := dayOf(getFold(r, ProjectFechaInicio), p.loc)
		return ok && d == day
	})
	if err != nil {
		return "", err
	}
	return result(map[string]any{"success": true, "fecha": day, "count": len(projects), "projects": projects})
}

func (p *projectTools) update(ctx context.Context, input string) (string, error) {
	var in struct {
		ProjectID   string  `json:"project_id"`
		Nombre      *string `json:"nombre"`
		Descripcion *string `json:"descripcion"`
		Servicio    *string `json:"servicio"`
		Estado      *string `json:"estado"`
		Nota        *string `json:"nota"`
		FechaInicio *string `json:"fecha_inicio"`
		FechaFin    *string `json:"fecha_fin"`
		IDCliente   *string `json:"id_cliente"`
	}
	if err := decode(input, &in); err != nil {
		return "", err
	}
	id := strings.TrimSpace(in.ProjectID)
	if err := required([2]string{"project_id", id}); err != nil {
		return "", err
	}

	fields := make(map[string]string)
	for col, v := range map[string]*string{
		ProjectNombre:      in.Nombre,
		ProjectDescripcion: in.Descripcion,
		ProjectServicio:    in.Servicio,
		ProjectEstado:      in.Estado,
		ProjectNota:        in.Nota,
		ProjectFechaInicio: in.FechaInicio,
		ProjectFechaFin:    in.FechaFin,
		ProjectIDCliente:   in.IDCliente,
	} {
		if v != nil {
			fields[col] = strings.TrimSpace(*v)
		}
	}
	if len(fields) == 0 {
		return "", errors.New("no se proporcionaron campos para actualizar")
	}

	ref, err := storeRef(ctx)
	if err != nil {
		return "", err
	}
	row, err := p.find(ctx, ref, id)
	if err != nil {
		return "", err
	}
	if err := p.store.UpdateCells(ctx, ref, p.sheet, row.Index, fields); err != nil {
		return "", err
	}
	return result(map[string]any{
		"success":        true,
		"project_id":     id,
		"updated_fields": presentColumns(ProjectColumns, fields),
	})
}

func (p *projectTools) noteByClient(ctx context.Context, input string) (string, error) {
	var in struct {
		IDCliente string `json:"id_cliente"`
		Nota      string `json:"nota"`
	}
	if err := decode(input, &in); err != nil {
		return "", err
	}
	if err := required([2]string{"id_cliente", in.IDCliente}, [2]string{"nota", in.Nota}); err != nil {
		return "", err
	}
	ref, err := storeRef(ctx)
	if err != nil {
		return "", err
	}
	rows, err := p.store.Rows(ctx, ref, p.sheet)
	if err != nil {
		return "", err
	}

	client := strings.TrimSpace(in.IDCliente)
	nota := strings.TrimSpace(in.Nota)
	updated := 0
	for _, r := range rows {
		if getFold(r, ProjectIDCliente) != client {
			continue
		}
		if err := p.store.UpdateCells(ctx, ref, p.sheet, r.Index, map[string]string{ProjectNota: nota}); err != nil {
			return "", err
		}
		updated++
	}
	if updated == 0 {
		return "", fmt.Errorf("no se encontraron proyectos para el cliente '%s'", client)
	}
	return result(map[string]any{"success": true, "id_cliente": client, "updated_projects": updated, "nota": nota})
}

func (p *projectTools) delete(ctx context.Context, input string) (string, error) {
	var in struct {
		ProjectID string `json:"project_id"`
	}
	if err := decode(input, &in); err != nil {
		return "", err
	}
	id := strings.TrimSpace(in.ProjectID)
	if err := required([2]string{"project_id", id}); err != nil {
		return "", err
	}
	ref, err := storeRef(ctx)
	if err != nil {
		return "", err
	}
	row, err := p.find(ctx, ref, id)
	if err != nil {
		return "", err
	}
	if err := p.store.DeleteRow(ctx, ref, p.sheet, row.Index); err != nil {
		return "", err
	}
	return result(map[string]any{"success": true, "message": fmt.Sprintf("Proyecto '%s' eliminado", id)})
}

func (p *projectTools) find(ctx context.Context, ref, id string) (*sheets.Row, error) {
	rows, err := p.store.Rows(ctx, ref, p.sheet)
	if err != nil {
		return nil, err
	}
	for i := range rows {
		if getFold(rows[i], ProjectID) == id {
			return &rows[i], nil
		}
	}
	return nil, fmt.Errorf("no se encontró proyecto con ID '%s'", id)
}

func (p *projectTools) filter(ctx context.Context, match func(sheets.Row) bool) ([]map[string]string, error) {
	ref, err := storeRef(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := p.store.Rows(ctx, ref, p.sheet)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]string, 0)
	for _, r := range rows {
		if match(r) {
			out = append(out, rowMap(r))
		}
	}
	return out, nil
}

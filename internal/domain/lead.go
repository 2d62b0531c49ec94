package domain

import "strings"

// Columns of a tenant's Lead sheet, in sheet order.
const (
	LeadID               = "Id"
	LeadNombre           = "Nombre"
	LeadTelefono         = "Telefono"
	LeadCorreo           = "Correo"
	LeadTipo             = "Tipo"
	LeadEstado           = "Estado"
	LeadNota             = "Nota"
	LeadUsuario          = "Usuario"
	LeadCanal            = "Canal"
	LeadFechaAdquisicion = "Fecha Adquisicion"
	LeadFechaConversion  = "Fecha Conversion"
	LeadThreadID         = "Thread_Id"
)

// LeadColumns is the canonical column order used when appending rows.
var LeadColumns = []string{
	LeadID, LeadNombre, LeadTelefono, LeadCorreo, LeadTipo, LeadEstado, LeadNota,
	LeadUsuario, LeadCanal, LeadFechaAdquisicion, LeadFechaConversion, LeadThreadID,
}

// Default values for new leads.
const (
	DefaultLeadTipo   = "Lead"
	DefaultLeadEstado = "Nuevo"
)

// LeadStates are the Estado values of the sales funnel, in order.
var LeadStates = []string{
	"Nuevo", "Seguimiento", "Interesado", "Agendado", "Negociando",
	"Perdido", "Activado", "Finalizado", "Recurrente",
}

// Lead is one end user's row in a tenant's CRM sheet.
type Lead struct {
	ID               string `json:"id"`
	Nombre           string `json:"nombre,omitempty"`
	Telefono         string `json:"telefono,omitempty"`
	Correo           string `json:"correo,omitempty"`
	Tipo             string `json:"tipo,omitempty"`
	Estado           string `json:"estado,omitempty"`
	Nota             string `json:"nota,omitempty"`
	Usuario          string `json:"usuario,omitempty"`
	Canal            string `json:"canal,omitempty"`
	FechaAdquisicion string `json:"fechaAdquisicion,omitempty"`
	FechaConversion  string `json:"fechaConversion,omitempty"`
	ThreadID         string `json:"threadId,omitempty"`
	RowIndex         int    `json:"-"` // 1-based sheet row; header is row 1
}

// LeadDefaults are the values observed on an inbound message.
type LeadDefaults struct {
	Nombre  string
	Correo  string
	Usuario string
	Canal   string
	Tipo    string
	Estado  string
	Nota    string
}

// LeadFromRow builds a Lead from a header-keyed row.
func LeadFromRow(rowIndex int, values map[string]string) Lead {
	get := func(col string) string { return strings.TrimSpace(values[col]) }
	return Lead{
		ID:               get(LeadID),
		Nombre:           get(LeadNombre),
		Telefono:         get(LeadTelefono),
		Correo:           get(LeadCorreo),
		Tipo:             get(LeadTipo),
		Estado:           get(LeadEstado),
		Nota:             get(LeadNota),
		Usuario:          get(LeadUsuario),
		Canal:            get(LeadCanal),
		FechaAdquisicion: get(LeadFechaAdquisicion),
		FechaConversion:  get(LeadFechaConversion),
		ThreadID:         get(LeadThreadID),
		RowIndex:         rowIndex,
	}
}

// Map returns the non-empty fields keyed by column name.
func (l Lead) Map() map[string]string {
	out := make(map[string]string, len(LeadColumns))
	for i, v := range l.values() {
		if v != "" {
			out[LeadColumns[i]] = v
		}
	}
	return out
}

// Row returns the values in LeadColumns order.
func (l Lead) Row() []string {
	return l.values()
}

func (l Lead) values() []string {
	return []string{
		l.ID, l.Nombre, l.Telefono, l.Correo, l.Tipo, l.Estado, l.Nota,
		l.Usuario, l.Canal, l.FechaAdquisicion, l.FechaConversion, l.ThreadID,
	}
}

// LeadPatch is a partial update. Only non-nil fields are written.
type LeadPatch struct {
	Nombre          *string
	Telefono        *string
	Correo          *string
	Tipo            *string
	Estado          *string
	Nota            *string
	Usuario         *string
	Canal           *string
	FechaConversion *string
	ThreadID        *string
}

// Str is a helper for building patches.
func Str(s string) *string { return &s }

func (p LeadPatch) fields() []struct {
	col string
	v   *string
} {
	return []struct {
		col string
		v   *string
	}{
		{LeadNombre, p.Nombre},
		{LeadTelefono, p.Telefono},
		{LeadCorreo, p.Correo},
		{LeadTipo, p.Tipo},
		{LeadEstado, p.Estado},
		{LeadNota, p.Nota},
		{LeadUsuario, p.Usuario},
		{LeadCanal, p.Canal},
		{LeadFechaConversion, p.FechaConversion},
		{LeadThreadID, p.ThreadID},
	}
}

// Cells returns the column -> value map for the set fields.
func (p LeadPatch) Cells() map[string]string {
	out := map[string]string{}
	for _, f := range p.fields() {
		if f.v != nil {
			out[f.col] = *f.v
		}
	}
	return out
}

// IsEmpty reports whether the patch would write nothing.
func (p LeadPatch) IsEmpty() bool {
	return len(p.Cells()) == 0
}

// Apply copies the set fields onto l.
func (p LeadPatch) Apply(l *Lead) {
	set := func(dst *string, v *string) {
		if v != nil {
			*dst = *v
		}
	}
	set(&l.Nombre, p.Nombre)
	set(&l.Telefono, p.Telefono)
	set(&l.Correo, p.Correo)
	set(&l.Tipo, p.Tipo)
	set(&l.Estado, p.Estado)
	set(&l.Nota, p.Nota)
	set(&l.Usuario, p.Usuario)
	set(&l.Canal, p.Canal)
	set(&l.FechaConversion, p.FechaConversion)
	set(&l.ThreadID, p.ThreadID)
}

package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/agent"
	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/domain"
	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/identity"
	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/logging"
)

type crmTools struct {
	leads *identity.Resolver
	log   *logging.Logger
}

// clientView is the lead as the model sees it.
type clientView struct {
	ClientID         string `json:"client_id"`
	Nombre           string `json:"nombre,omitempty"`
	Telefono         string `json:"telefono,omitempty"`
	Correo           string `json:"correo,omitempty"`
	Tipo             string `json:"tipo,omitempty"`
	Estado           string `json:"estado,omitempty"`
	Nota             string `json:"nota,omitempty"`
	Usuario          string `json:"usuario,omitempty"`
	Canal            string `json:"canal,omitempty"`
	FechaAdquisicion string `json:"fecha_adquisicion,omitempty"`
	FechaConversion  string `json:"fecha_conversion,omitempty"`
}

func viewOf(l *domain.Lead) clientView {
	return clientView{
		ClientID:         l.ID,
		Nombre:           l.Nombre,
		Telefono:         l.Telefono,
		Correo:           l.Correo,
		Tipo:             l.Tipo,
		Estado:           l.Estado,
		Nota:             l.Nota,
		Usuario:          l.Usuario,
		Canal:            l.Canal,
		FechaAdquisicion: l.FechaAdquisicion,
		FechaConversion:  l.FechaConversion,
	}
}

const clientIDDesc = "ID del cliente o número de teléfono"

func (c *crmTools) tools() []agent.Tool {
	return []agent.Tool{
		tool("verify_client",
			"Verifica si un cliente existe en el CRM usando teléfono, correo o usuario. Retorna sus datos si existe.",
			InputSchema{Properties: map[string]Property{
				"telefono": str("Número de teléfono del cliente"),
				"correo":   str("Email del cliente"),
				"usuario":  str("Usuario del cliente"),
			}},
			c.verify),
		tool("create_client",
			"Crea un nuevo cliente en el CRM. Si ya existe uno con el mismo teléfono, lo retorna sin duplicarlo.",
			InputSchema{
				Properties: map[string]Property{
					"nombre":   str("Nombre completo del cliente"),
					"canal":    str("Canal de origen: WhatsApp, Web, Email, etc."),
					"telefono": str("Número de teléfono del cliente"),
					"correo":   str("Email del cliente"),
					"nota":     str("Nota inicial sobre el cliente"),
					"usuario":  str("Usuario asociado al cliente"),
				},
				Required: []string{"nombre", "canal"},
			},
			c.create),
		tool("update_client",
			"Actualiza datos de un cliente existente. Solo se escriben los campos enviados.",
			InputSchema{
				Properties: map[string]Property{
					"client_id": str(clientIDDesc),
					"nombre":    str("Nuevo nombre"),
					"telefono":  str("Nuevo teléfono"),
					"correo":    str("Nuevo correo"),
					"tipo":      str("Nuevo tipo (Lead, Cliente)"),
					"usuario":   str("Nuevo usuario"),
					"canal":     str("Nuevo canal"),
				},
				Required: []string{"client_id"},
			},
			c.update),
		tool("update_client_note",
			"Actualiza la nota de un cliente existente.",
			InputSchema{
				Properties: map[string]Property{
					"client_id": str(clientIDDesc),
					"nota":      str("Nueva nota para el cliente"),
				},
				Required: []string{"client_id", "nota"},
			},
			c.updateNote),
		tool("update_client_status",
			"Actualiza el estado de un cliente en el embudo de ventas.",
			InputSchema{
				Properties: map[string]Property{
					"client_id": str(clientIDDesc),
					"estado": {
						Type:        "string",
						Description: "Nuevo estado del cliente",
						Enum:        domain.LeadStates,
					},
				},
				Required: []string{"client_id", "estado"},
			},
			c.updateStatus),
	}
}

func (c *crmTools) verify(ctx context.Context, input string) (string, error) {
	var in struct {
		Telefono string `json:"telefono"`
		Correo   string `json:"correo"`
		Usuario  string `json:"usuario"`
	}
	if err := decode(input, &in); err != nil {
		return "", err
	}
	if strings.TrimSpace(in.Telefono+in.Correo+in.Usuario) == "" {
		return "", errors.New("debe proporcionar al menos un identificador")
	}
	ref, err := storeRef(ctx)
	if err != nil {
		return "", err
	}

	leads, err := c.leads.Leads(ctx, ref)
	if err != nil {
		return "", err
	}
	phone := identity.NormalizeKey(in.Telefono)
	for i := range leads {
		l := &leads[i]
		var matchedBy string
		switch {
		case in.Telefono != "" && phone != "" && identity.NormalizeKey(l.Telefono) == phone:
			matchedBy = "telefono"
		case in.Correo != "" && strings.EqualFold(l.Correo, strings.TrimSpace(in.Correo)):
			matchedBy = "correo"
		case in.Usuario != "" && l.Usuario == strings.TrimSpace(in.Usuario):
			matchedBy = "usuario"
		}
		if matchedBy != "" {
			return result(struct {
				Exists bool `json:"exists"`
				clientView
				MatchedBy string `json:"matched_by"`
			}{true, viewOf(l), matchedBy})
		}
	}
	return result(map[string]any{"exists": false, "client_id": nil})
}

func (c *crmTools) create(ctx context.Context, input string) (string, error) {
	var in struct {
		Nombre   string `json:"nombre"`
		Canal    string `json:"canal"`
		Telefono string `json:"telefono"`
		Correo   string `json:"correo"`
		Nota     string `json:"nota"`
		Usuario  string `json:"usuario"`
	}
	if err := decode(input, &in); err != nil {
		return "", err
	}
	if err := required([2]string{"nombre", in.Nombre}, [2]string{"canal", in.Canal}); err != nil {
		return "", err
	}
	ref, err := storeRef(ctx)
	if err != nil {
		return "", err
	}

	if in.Telefono != "" {
		existing, err := c.leads.Find(ctx, ref, in.Telefono)
		switch {
		case err == nil:
			return result(map[string]any{"success": true, "created": false, "client": viewOf(existing)})
		case !errors.Is(err, identity.ErrNotFound):
			return "", err
		}
	}

	lead, err := c.leads.Create(ctx, ref, domain.Lead{
		Nombre:   strings.TrimSpace(in.Nombre),
		Canal:    strings.TrimSpace(in.Canal),
		Telefono: strings.TrimSpace(in.Telefono),
		Correo:   strings.TrimSpace(in.Correo),
		Nota:     strings.TrimSpace(in.Nota),
		Usuario:  strings.TrimSpace(in.Usuario),
	})
	if err != nil {
		return "", err
	}
	c.log.Info().Str("clientId", lead.ID).Msg("client created")
	return result(map[string]any{"success": true, "created": true, "client": viewOf(lead)})
}

func (c *crmTools) update(ctx context.Context, input string) (string, error) {
	var in struct {
		ClientID string  `json:"client_id"`
		Nombre   *string `json:"nombre"`
		Telefono *string `json:"telefono"`
		Correo   *string `json:"correo"`
		Tipo     *string `json:"tipo"`
		Usuario  *string `json:"usuario"`
		Canal    *string `json:"canal"`
	}
	if err := decode(input, &in); err != nil {
		return "", err
	}
	return c.patch(ctx, in.ClientID, domain.LeadPatch{
		Nombre:   in.Nombre,
		Telefono: in.Telefono,
		Correo:   in.Correo,
		Tipo:     in.Tipo,
		Usuario:  in.Usuario,
		Canal:    in.Canal,
	})
}

func (c *crmTools) updateNote(ctx context.Context, input string) (string, error) {
	var in struct {
		ClientID string `json:"client_id"`
		Nota     string `json:"nota"`
	}
	if err := decode(input, &in); err != nil {
		return "", err
	}
	return c.patch(ctx, in.ClientID, domain.LeadPatch{Nota: domain.Str(in.Nota)})
}

func (c *crmTools) updateStatus(ctx context.Context, input string) (string, error) {
	var in struct {
		ClientID string `json:"client_id"`
		Estado   string `json:"estado"`
	}
	if err := decode(input, &in); err != nil {
		return "", err
	}
	if err := required([2]string{"estado", in.Estado}); err != nil {
		return "", err
	}
	return c.patch(ctx, in.ClientID, domain.LeadPatch{Estado: domain.Str(strings.TrimSpace(in.Estado))})
}

// patch resolves a client by id or phone and writes the set fields.
func (c *crmTools) patch(ctx context.Context, clientID string, p domain.LeadPatch) (string, error) {
	if err := required([2]string{"client_id", clientID}); err != nil {
		return "", err
	}
	if p.IsEmpty() {
		return "", errors.New("no se proporcionaron campos para actualizar")
	}
	ref, err := storeRef(ctx)
	if err != nil {
		return "", err
	}

	lead, err := c.leads.Find(ctx, ref, clientID)
	if errors.Is(err, identity.ErrNotFound) {
		return "", fmt.Errorf("no se encontró cliente con ID o teléfono '%s'", clientID)
	}
	if err != nil {
		return "", err
	}
	if err := c.leads.Update(ctx, ref, lead, p); err != nil {
		return "", err
	}

	updated := make([]string, 0)
	for _, col := range domain.LeadColumns {
		if _, ok := p.Cells()[col]; ok {
			updated = append(updated, col)
		}
	}
	c.log.Info().Str("clientId", lead.ID).Strs("fields", updated).Msg("client updated")
	return result(map[string]any{"success": true, "client_id": lead.ID, "updated_fields": updated, "client": viewOf(lead)})
}

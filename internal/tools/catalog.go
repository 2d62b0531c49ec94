package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/agent"
	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/sheets"
)

type catalogTools struct {
	store sheets.Store
	sheet string
}

func (c *catalogTools) tools() []agent.Tool {
	return []agent.Tool{
		tool("get_all_services",
			"Retorna todos los servicios disponibles en el catálogo.",
			InputSchema{},
			c.all),
		tool("get_service_by_name",
			"Busca un servicio del catálogo por su nombre exacto (sin distinguir mayúsculas).",
			InputSchema{
				Properties: map[string]Property{"service_name": str("Nombre del servicio a buscar")},
				Required:   []string{"service_name"},
			},
			c.byName),
	}
}

func (c *catalogTools) rows(ctx context.Context) ([]sheets.Row, error) {
	ref, err := storeRef(ctx)
	if err != nil {
		return nil, err
	}
	return c.store.Rows(ctx, ref, c.sheet)
}

func (c *catalogTools) all(ctx context.Context, _ string) (string, error) {
	rows, err := c.rows(ctx)
	if err != nil {
		return "", err
	}
	services := make([]map[string]string, 0, len(rows))
	for _, r := range rows {
		services = append(services, rowMap(r))
	}
	return result(map[string]any{"success": true, "services": services})
}

func (c *catalogTools) byName(ctx context.Context, input string) (string, error) {
	var in struct {
		ServiceName string `json:"service_name"`
	}
	if err := decode(input, &in); err != nil {
		return "", err
	}
	if err := required([2]string{"service_name", in.ServiceName}); err != nil {
		return "", err
	}
	rows, err := c.rows(ctx)
	if err != nil {
		return "", err
	}
	want := strings.TrimSpace(in.ServiceName)
	for _, r := range rows {
		if strings.EqualFold(getFold(r, "Nombre"), want) {
			return result(map[string]any{"success": true, "service": rowMap(r)})
		}
	}
	return "", fmt.Errorf("servicio no encontrado: %s", want)
}

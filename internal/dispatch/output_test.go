package dispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/agent"
)

func TestPersonalize(t *testing.T) {
	tests := []struct {
		name string
		data map[string]string
		want string
	}{
		{"no data", nil, "Hola"},
		{"empty map", map[string]string{}, "Hola"},
		{
			"sorted keys",
			map[string]string{"Telefono": "5551234567", "Nombre": "Ana", "Estado": "Nuevo"},
			"Información del usuario:\nEstado: Nuevo\nNombre: Ana\nTelefono: 5551234567\n\nMensaje del usuario: Hola",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Personalize(tt.data, "Hola"))
		})
	}
}

type stringer struct{}

func (stringer) String() string { return "from stringer" }

func TestExtractOutput(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"run result", &agent.RunResult{FinalOutput: "hola"}, "hola"},
		{"string", "texto", "texto"},
		{"final_output key", map[string]any{"final_output": "a", "output": "b"}, "a"},
		{"output key", map[string]any{"output": "b", "text": "c"}, "b"},
		{"text key", map[string]string{"text": "c"}, "c"},
		{"nested result", map[string]any{"final_output": &agent.RunResult{FinalOutput: "n"}}, "n"},
		{"unknown map", map[string]any{"x": 1}, "map[x:1]"},
		{"stringer", stringer{}, "from stringer"},
		{"number", 42, "42"},
		{"nil", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractOutput(tt.in))
		})
	}
}

package agent

import (
	"fmt"
	"strings"
	"time"
)

// PromptConfig controls system prompt generation.
type PromptConfig struct {
	Instructions string
	AgentName    string
	Channel      string
	Now          time.Time
	Location     *time.Location
}

var weekdays = [...]string{"domingo", "lunes", "martes", "miércoles", "jueves", "viernes", "sábado"}

// BuildSystemPrompt puts the tenant's instructions first and appends the
// runtime facts the tools depend on: the agent's name and the local date.
func BuildSystemPrompt(cfg PromptConfig) string {
	var b strings.Builder

	b.WriteString(strings.TrimSpace(cfg.Instructions))
	b.WriteString("\n\n---\n")

	if cfg.AgentName != "" {
		fmt.Fprintf(&b, "Tu nombre es %s.\n", cfg.AgentName)
	}

	now := cfg.Now
	if now.IsZero() {
		now = time.Now()
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	now = now.In(loc)
	fmt.Fprintf(&b, "Fecha y hora actual: %s %s (%s)\n",
		weekdays[now.Weekday()], now.Format("02/01/2006 15:04"), loc.String())

	if cfg.Channel != "" {
		fmt.Fprintf(&b, "Canal: %s\n", cfg.Channel)
	}

	return b.String()
}

package hooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/config"
)

const defaultCommandTimeout = 5 * time.Second

// CommandHandler runs a shell command with the JSON payload on stdin.
func CommandHandler(command string, timeout time.Duration) Handler {
	if timeout <= 0 {
		timeout = defaultCommandTimeout
	}
	return func(ctx context.Context, p Payload) error {
		body, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("encoding hook payload: %w", err)
		}

		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		cmd := exec.CommandContext(ctx, "sh", "-c", command)
		cmd.Stdin = bytes.NewReader(body)
		cmd.Env = append(cmd.Environ(), "FORDEZ_HOOK_EVENT="+p.Event)
		var stderr bytes.Buffer
		cmd.Stderr = &stderr

		if err := cmd.Run(); err != nil {
			if msg := strings.TrimSpace(stderr.String()); msg != "" {
				return fmt.Errorf("hook command %q: %w: %s", command, err, msg)
			}
			return fmt.Errorf("hook command %q: %w", command, err)
		}
		return nil
	}
}

// RegisterCommands registers every configured shell hook and returns how
// many were added. Commands run in the background so a slow script never
// holds up a turn.
func RegisterCommands(m *Manager, cfg config.HooksConfig) int {
	byEvent := map[string][]config.HookEntry{
		EventMessageReceived:  cfg.MessageReceived,
		EventMessageSending:   cfg.MessageSending,
		EventGuardrailBlocked: cfg.GuardrailBlocked,
		EventGatewayStart:     cfg.GatewayStart,
		EventGatewayStop:      cfg.GatewayStop,
		EventBeforeAgentRun:   cfg.BeforeAgentRun,
		EventAfterAgentRun:    cfg.AfterAgentRun,
		EventSessionStart:     cfg.SessionStart,
		EventSessionEnd:       cfg.SessionEnd,
	}

	n := 0
	for _, event := range AllEvents {
		for i, entry := range byEvent[event] {
			if strings.TrimSpace(entry.Command) == "" {
				continue
			}
			timeout := time.Duration(entry.Timeout) * time.Millisecond
			m.OnAsync(event, fmt.Sprintf("command:%d", i), CommandHandler(entry.Command, timeout))
			n++
		}
	}
	return n
}

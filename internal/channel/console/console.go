// Package console implements a channel that prints replies to a writer.
// It backs the local chat command.
package console

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/domain"
)

// Channel writes every reply to out.
type Channel struct {
	mu      sync.Mutex
	out     io.Writer
	handler func(msg domain.InboundMessage)
	sent    int
}

func New(out io.Writer) *Channel {
	return &Channel{out: out}
}

func (c *Channel) ID() string { return domain.ChannelConsole }

func (c *Channel) Capabilities() domain.ChannelCapabilities {
	return domain.ChannelCapabilities{}
}

func (c *Channel) Start(_ context.Context) error { return nil }

func (c *Channel) Stop(_ context.Context) error { return nil }

func (c *Channel) OnMessage(handler func(msg domain.InboundMessage)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = handler
}

// Send prints msg.Body followed by a newline.
func (c *Channel) Send(_ context.Context, msg domain.OutboundMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := fmt.Fprintln(c.out, msg.Body); err != nil {
		return fmt.Errorf("console: %w", err)
	}
	c.sent++
	return nil
}

// Sent returns how many replies were printed.
func (c *Channel) Sent() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sent
}

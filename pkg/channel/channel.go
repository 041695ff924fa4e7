package channel

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"tracerbot/pkg/bus"
)

// ErrUnknownChannel is returned when no transport is registered under a name.
var ErrUnknownChannel = errors.New("unknown channel")

// Handler accepts one inbound message. It queues the message and returns
// without waiting for the reply.
type Handler func(context.Context, bus.InboundMessage) error

// Sender delivers outbound actions to one chat. Failures are returned to the
// caller and never retried.
type Sender interface {
	SendText(ctx context.Context, chatID, text string) error
	SendImage(ctx context.Context, chatID, url, caption string) error
	SendFile(ctx context.Context, chatID, url, filename, caption string) error
}

// Adapter bridges one external transport (for example Telegram) into the bot.
type Adapter interface {
	Sender
	Name() string
	Run(context.Context, Handler) error
}

// Registry maps channel names to their senders.
type Registry struct {
	mu      sync.RWMutex
	senders map[string]Sender
}

// NewRegistry registers every adapter under its name.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{senders: make(map[string]Sender, len(adapters))}
	for _, adapter := range adapters {
		r.Register(adapter.Name(), adapter)
	}
	return r
}

// Register adds or replaces the sender for name.
func (r *Registry) Register(name string, sender Sender) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.senders[strings.TrimSpace(name)] = sender
}

// Sender returns the sender registered under name.
func (r *Registry) Sender(name string) (Sender, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sender, ok := r.senders[strings.TrimSpace(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownChannel, name)
	}
	return sender, nil
}

// PreviewText returns a bounded log-safe preview of message text.
func PreviewText(text string) string {
	const limit = 240

	trimmed := strings.TrimSpace(text)
	if len(trimmed) <= limit {
		return trimmed
	}

	cut := limit
	for cut > 0 && !utf8.RuneStart(trimmed[cut]) {
		cut--
	}
	return trimmed[:cut] + "..."
}

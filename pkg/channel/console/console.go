package console

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"tracerbot/pkg/bus"
	"tracerbot/pkg/channel"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
)

const (
	channelName   = "console"
	defaultChatID = "local"
)

// Option customizes an Adapter.
type Option func(*Adapter)

// WithChatID sets the chat identifier used for the local session.
func WithChatID(chatID string) Option {
	return func(a *Adapter) {
		if trimmed := strings.TrimSpace(chatID); trimmed != "" {
			a.chatID = trimmed
		}
	}
}

// WithNLUEndpoint shows the NLU webhook in the header.
func WithNLUEndpoint(endpoint string) Option {
	return func(a *Adapter) {
		a.nluEndpoint = strings.TrimSpace(endpoint)
	}
}

// WithQuit registers a callback run when the user leaves the console.
func WithQuit(fn func()) Option {
	return func(a *Adapter) {
		a.onQuit = fn
	}
}

// WithProgramOptions passes extra options to the terminal program.
func WithProgramOptions(opts ...tea.ProgramOption) Option {
	return func(a *Adapter) {
		a.programOptions = append(a.programOptions, opts...)
	}
}

// Adapter is a terminal transport. Inbound lines come from the TUI input and
// outbound actions travel over the bus back to the TUI.
type Adapter struct {
	bus            *bus.MessageBus
	chatID         string
	nluEndpoint    string
	onQuit         func()
	programOptions []tea.ProgramOption
	log            *slog.Logger
}

// NewAdapter builds a console transport on mb.
func NewAdapter(mb *bus.MessageBus, log *slog.Logger, opts ...Option) (*Adapter, error) {
	if mb == nil {
		return nil, errors.New("message bus is required")
	}
	if log == nil {
		log = slog.Default()
	}

	a := &Adapter{
		bus:    mb,
		chatID: defaultChatID,
		log:    log.With("component", "channel.console"),
	}
	for _, opt := range opts {
		opt(a)
	}

	return a, nil
}

// Name returns the channel identifier used in session keys and logs.
func (a *Adapter) Name() string {
	return channelName
}

// ChatID returns the local chat identifier.
func (a *Adapter) ChatID() string {
	return a.chatID
}

// Run drives the terminal UI until the user quits or ctx ends.
func (a *Adapter) Run(ctx context.Context, handler channel.Handler) error {
	if handler == nil {
		return errors.New("handler is required")
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	m := newModel(func(text string) error {
		return handler(runCtx, a.inbound(text))
	}, RuntimeInfo{ChatID: a.chatID, NLUEndpoint: a.nluEndpoint})

	opts := append([]tea.ProgramOption{
		tea.WithContext(runCtx),
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
	}, a.programOptions...)
	program := tea.NewProgram(m, opts...)

	go a.forward(runCtx, program)

	a.log.Info("Console channel started", "chat_id", a.chatID)
	_, err := program.Run()

	if a.onQuit != nil {
		a.onQuit()
	}

	if err != nil && !(errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil) {
		return fmt.Errorf("run console: %w", err)
	}
	return nil
}

// forward relays bus outbound messages for this chat into the program.
func (a *Adapter) forward(ctx context.Context, program *tea.Program) {
	for {
		msg, ok := a.bus.ConsumeOutbound(ctx)
		if !ok {
			return
		}
		if msg.Channel != channelName || msg.ChatID != a.chatID {
			a.log.Debug("Dropping outbound message for another chat", "channel", msg.Channel, "chat_id", msg.ChatID)
			continue
		}
		program.Send(outboundMsg{message: msg})
	}
}

func (a *Adapter) inbound(text string) bus.InboundMessage {
	return bus.InboundMessage{
		Channel:    channelName,
		SenderID:   a.chatID,
		ChatID:     a.chatID,
		SessionKey: channelName + ":" + a.chatID,
		Content:    strings.TrimSpace(text),
		RequestID:  uuid.NewString(),
		ReceivedAt: time.Now().UTC(),
	}
}

// SendText publishes a text message for the console UI.
func (a *Adapter) SendText(ctx context.Context, chatID, text string) error {
	return a.publish(ctx, bus.OutboundMessage{ChatID: chatID, Kind: bus.OutboundText, Content: text})
}

// SendImage publishes an image reference for the console UI.
func (a *Adapter) SendImage(ctx context.Context, chatID, url, caption string) error {
	return a.publish(ctx, bus.OutboundMessage{ChatID: chatID, Kind: bus.OutboundImage, URL: url, Content: caption})
}

// SendFile publishes a document reference for the console UI.
func (a *Adapter) SendFile(ctx context.Context, chatID, url, filename, caption string) error {
	return a.publish(ctx, bus.OutboundMessage{ChatID: chatID, Kind: bus.OutboundFile, URL: url, Filename: filename, Content: caption})
}

func (a *Adapter) publish(ctx context.Context, msg bus.OutboundMessage) error {
	msg.Channel = channelName
	msg.SessionKey = channelName + ":" + msg.ChatID
	if !a.bus.PublishOutbound(ctx, msg) {
		return errors.New("console outbound queue closed")
	}
	return nil
}

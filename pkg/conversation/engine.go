package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"tracerbot/pkg/bus"
	"tracerbot/pkg/channel"
	"tracerbot/pkg/nlu"
	"tracerbot/pkg/reply"
	"tracerbot/pkg/session"
)

// NLU sends one user message to the understanding backend.
type NLU interface {
	Send(ctx context.Context, req nlu.Request) (json.RawMessage, error)
}

// Transcripts stores a completed conversation.
type Transcripts interface {
	Save(ctx context.Context, chatID string, history []session.Entry) error
}

// Reminders arms and claims per-chat follow-up reminders.
type Reminders interface {
	Arm(key string) uint64
	Cancel(key string) bool
	Claim(key string, gen uint64) bool
	Pending(key string) (time.Time, bool)
}

// Senders resolves the transport for a channel name.
type Senders interface {
	Sender(name string) (channel.Sender, error)
}

// Events receives lifecycle notifications.
type Events interface {
	PublishEvent(ctx context.Context, event bus.Event) bool
}

// Messages are the fixed texts the engine sends on its own.
type Messages struct {
	Error    string
	Reminder string
}

// Options wires an Engine. Transcripts and Events are optional.
type Options struct {
	Store       *session.Store
	Resolver    *session.Resolver
	Interpreter *reply.Interpreter
	NLU         NLU
	Transcripts Transcripts
	Reminders   Reminders
	Senders     Senders
	Events      Events
	Messages    Messages
	Log         *slog.Logger
}

// Engine runs the per-message pipeline: menu resolution, NLU round trip,
// reply interpretation, delivery, and survey completion. Calls for one chat
// must be serialized by the caller.
type Engine struct {
	store       *session.Store
	resolver    *session.Resolver
	interpreter *reply.Interpreter
	nlu         NLU
	transcripts Transcripts
	reminders   Reminders
	senders     Senders
	events      Events
	messages    Messages
	log         *slog.Logger
	now         func() time.Time
}

// New validates opts and builds an engine.
func New(opts Options) (*Engine, error) {
	switch {
	case opts.Store == nil:
		return nil, errors.New("session store is required")
	case opts.NLU == nil:
		return nil, errors.New("nlu client is required")
	case opts.Reminders == nil:
		return nil, errors.New("reminder scheduler is required")
	case opts.Senders == nil:
		return nil, errors.New("channel senders are required")
	}

	if opts.Resolver == nil {
		opts.Resolver = session.NewResolver(nil)
	}
	if opts.Interpreter == nil {
		opts.Interpreter = reply.NewInterpreter(reply.DefaultMenuTTL, "", nil)
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}

	return &Engine{
		store:       opts.Store,
		resolver:    opts.Resolver,
		interpreter: opts.Interpreter,
		nlu:         opts.NLU,
		transcripts: opts.Transcripts,
		reminders:   opts.Reminders,
		senders:     opts.Senders,
		events:      opts.Events,
		messages:    opts.Messages,
		log:         opts.Log.With("component", "conversation.engine"),
		now:         time.Now,
	}, nil
}

// Handle processes one inbound message end to end. NLU failures are answered
// with the error text and returned; delivery and persistence failures are
// logged only.
func (e *Engine) Handle(ctx context.Context, msg bus.InboundMessage) error {
	content := strings.TrimSpace(msg.Content)
	if content == "" {
		return nil
	}

	sender, err := e.senders.Sender(msg.Channel)
	if err != nil {
		e.publish(ctx, bus.EventMessageFailed, msg, nil, err)
		return err
	}

	sess, created := e.store.GetOrCreate(session.Address{Channel: msg.Channel, ChatID: msg.ChatID})
	log := e.log.With("session_key", sess.Key, "request_id", msg.RequestID)
	if created {
		log.Debug("Session created")
	}
	if e.reminders.Cancel(sess.Key) {
		log.Debug("Pending reminder canceled")
	}

	message := content
	if payload, ok := e.resolver.Resolve(sess, content); ok {
		log.Debug("Menu option selected", "input", content, "payload", payload)
		message = payload
	}

	receivedAt := msg.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = e.now()
	}
	sess.Append(session.SpeakerUser, content, receivedAt)

	raw, err := e.nlu.Send(ctx, nlu.Request{
		Sender:  sess.Key,
		Message: message,
		Metadata: map[string]any{
			"channel":    msg.Channel,
			"chat_id":    msg.ChatID,
			"request_id": msg.RequestID,
		},
	})
	if err != nil {
		log.Error("NLU request failed", "error", err)
		if text := strings.TrimSpace(e.messages.Error); text != "" {
			if sendErr := sender.SendText(ctx, sess.Address.ChatID, text); sendErr != nil {
				log.Error("Failed to send error message", "error", sendErr)
			}
		}
		e.publish(ctx, bus.EventMessageFailed, msg, nil, err)
		return fmt.Errorf("nlu request: %w", err)
	}

	plan, err := e.interpreter.Interpret(raw)
	if err != nil {
		log.Warn("Unreadable NLU reply treated as empty", "error", err, "body", channel.PreviewText(string(raw)))
	}
	if plan.Unknown > 0 {
		log.Debug("Ignored unrecognized reply items", "count", plan.Unknown)
	}

	now := e.now()
	for _, text := range plan.BotTexts {
		sess.Append(session.SpeakerBot, text, now)
	}
	if plan.Menu != nil {
		sess.SetPendingMenu(*plan.Menu)
	}

	failed := e.execute(ctx, log, sender, sess.Address.ChatID, plan.Actions)

	if plan.SurveyDone {
		e.completeSurvey(ctx, log, sess, msg)
	}

	e.publish(ctx, bus.EventMessageHandled, msg, map[string]string{
		"actions":     strconv.Itoa(len(plan.Actions)),
		"failed":      strconv.Itoa(failed),
		"survey_done": strconv.FormatBool(plan.SurveyDone),
	}, nil)

	return nil
}

// Remind delivers a fired reminder if it is still current for the chat.
func (e *Engine) Remind(ctx context.Context, key string, gen uint64) error {
	if !e.reminders.Claim(key, gen) {
		return nil
	}

	sess, ok := e.store.Get(key)
	if !ok || sess.ReminderSent() {
		return nil
	}

	text := strings.TrimSpace(e.messages.Reminder)
	if text == "" {
		return nil
	}

	sender, err := e.senders.Sender(sess.Address.Channel)
	if err != nil {
		return err
	}

	if err := sender.SendText(ctx, sess.Address.ChatID, text); err != nil {
		e.log.Error("Failed to send reminder", "session_key", key, "error", err)
		return fmt.Errorf("send reminder: %w", err)
	}

	sess.MarkReminderSent()
	sess.Append(session.SpeakerBot, text, e.now())

	e.log.Info("Reminder sent", "session_key", key)
	e.publish(ctx, bus.EventReminderSent, bus.InboundMessage{
		Channel:    sess.Address.Channel,
		ChatID:     sess.Address.ChatID,
		SessionKey: key,
	}, nil, nil)

	return nil
}

// completeSurvey uploads the transcript and arms the reminder.
func (e *Engine) completeSurvey(ctx context.Context, log *slog.Logger, sess *session.ChatSession, msg bus.InboundMessage) {
	if e.transcripts != nil {
		history := sess.History()
		if err := e.transcripts.Save(ctx, sess.Key, history); err != nil {
			log.Error("Failed to save transcript", "error", err, "entries", len(history))
			e.publish(ctx, bus.EventTranscriptFailed, msg, nil, err)
		} else {
			log.Info("Transcript saved", "entries", len(history))
			e.publish(ctx, bus.EventTranscriptSaved, msg, map[string]string{"entries": strconv.Itoa(len(history))}, nil)
		}
	}

	if cur, ok := e.store.Get(sess.Key); !ok || cur != sess {
		log.Warn("Session evicted before reminder could be armed")
		return
	}

	sess.ResetReminder()
	e.reminders.Arm(sess.Key)

	payload := map[string]string{}
	if due, ok := e.reminders.Pending(sess.Key); ok {
		payload["due_at"] = due.UTC().Format(time.RFC3339)
	}
	e.publish(ctx, bus.EventReminderArmed, msg, payload, nil)
}

// execute runs actions in order; a failed action does not stop the rest.
func (e *Engine) execute(ctx context.Context, log *slog.Logger, sender channel.Sender, chatID string, actions []reply.Action) int {
	failed := 0
	for i, action := range actions {
		if err := send(ctx, sender, chatID, action); err != nil {
			failed++
			log.Error("Failed to send action", "index", i, "kind", action.Kind(), "error", err)
			continue
		}
		log.Info("Sent action", "index", i, "kind", action.Kind(), "content", channel.PreviewText(reply.Describe(action)))
	}
	return failed
}

func send(ctx context.Context, sender channel.Sender, chatID string, action reply.Action) error {
	switch a := action.(type) {
	case reply.SendText:
		return sender.SendText(ctx, chatID, a.Text)
	case reply.SendMenu:
		return sender.SendText(ctx, chatID, a.Render())
	case reply.SendImage:
		return sender.SendImage(ctx, chatID, a.URL, a.Caption)
	case reply.SendFile:
		return sender.SendFile(ctx, chatID, a.URL, a.Filename, a.Caption)
	default:
		return fmt.Errorf("unsupported action %T", action)
	}
}

func (e *Engine) publish(ctx context.Context, eventType bus.EventType, msg bus.InboundMessage, payload map[string]string, err error) {
	if e.events == nil {
		return
	}

	event := bus.Event{
		Type:       eventType,
		Channel:    msg.Channel,
		ChatID:     msg.ChatID,
		SessionKey: msg.SessionKey,
		RequestID:  msg.RequestID,
		Payload:    payload,
	}
	if event.SessionKey == "" {
		event.SessionKey = session.Address{Channel: msg.Channel, ChatID: msg.ChatID}.Key()
	}
	if err != nil {
		event.Error = err.Error()
	}
	if len(event.Payload) == 0 {
		event.Payload = nil
	}

	e.events.PublishEvent(ctx, event)
}

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"tracerbot/pkg/bus"
	"tracerbot/pkg/channel"
	"tracerbot/pkg/config"
	"tracerbot/pkg/conversation"
	"tracerbot/pkg/dispatch"
	"tracerbot/pkg/nlu"
	"tracerbot/pkg/reminder"
	"tracerbot/pkg/reply"
	"tracerbot/pkg/session"
	"tracerbot/pkg/transcript"

	"golang.org/x/sync/errgroup"
)

const (
	healthCheckInterval = 30 * time.Second
	shutdownTimeout     = 10 * time.Second
)

type healthChecker interface {
	Health(ctx context.Context) error
}

// Service owns the running bot: transports, the inbound router, the
// dispatcher, reminders, the session sweep and the status server.
type Service struct {
	cfg        *config.Config
	log        *slog.Logger
	bus        *bus.MessageBus
	nlu        healthChecker
	store      *session.Store
	reminders  *reminder.Scheduler
	dispatcher *dispatch.Dispatcher
	engine     *conversation.Engine
	sweeper    *session.Sweeper
	channels   []channel.Adapter

	mu            sync.RWMutex
	startedAt     time.Time
	nluLastOKAt   time.Time
	nluLastErr    string
	channelStates map[string]channelState
}

type channelState struct {
	Running bool   `json:"running"`
	Error   string `json:"error,omitempty"`
}

// NewService wires every component from cfg. mb may be nil, in which case the
// service creates its own bus. Jobs keep running on a context detached from
// ctx so queued work can finish during shutdown.
func NewService(ctx context.Context, cfg *config.Config, mb *bus.MessageBus, adapters []channel.Adapter, log *slog.Logger) (*Service, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if len(adapters) == 0 {
		return nil, errors.New("at least one channel adapter is required")
	}
	if log == nil {
		log = slog.Default()
	}
	if mb == nil {
		mb = bus.NewMessageBus()
	}

	nluClient, err := nlu.New(cfg.NLU.URL, cfg.NLU.RequestTimeout())
	if err != nil {
		return nil, fmt.Errorf("initialize nlu client: %w", err)
	}

	var transcripts conversation.Transcripts
	if cfg.Persistence.URL != "" {
		client, err := transcript.New(cfg.Persistence.URL, cfg.Persistence.Token, cfg.Persistence.RequestTimeout())
		if err != nil {
			return nil, fmt.Errorf("initialize persistence client: %w", err)
		}
		transcripts = client
	} else {
		log.Warn("Persistence URL not set; transcripts will not be saved")
	}

	s := &Service{
		cfg:           cfg,
		log:           log.With("component", "gateway.service"),
		bus:           mb,
		nlu:           nluClient,
		channels:      adapters,
		channelStates: make(map[string]channelState, len(adapters)),
	}
	for _, adapter := range adapters {
		s.channelStates[adapter.Name()] = channelState{}
	}

	s.reminders = reminder.New(cfg.Session.ReminderDelay(), s.onReminder)
	s.store = session.NewStore(session.WithRemoveHook(func(key string) {
		s.reminders.Cancel(key)
	}))
	s.dispatcher = dispatch.New(context.WithoutCancel(ctx), cfg.Dispatcher.Concurrency, log)
	s.dispatcher.OnPanic(s.onPanic)
	s.sweeper = session.NewSweeper(s.store, cfg.Session.MaxSessions, cfg.Session.SweepInterval(), log)

	engine, err := conversation.New(conversation.Options{
		Store:       s.store,
		Resolver:    session.NewResolver(nil),
		Interpreter: reply.NewInterpreter(cfg.Session.MenuTTL(), cfg.Messages.Fallback, nil),
		NLU:         nluClient,
		Transcripts: transcripts,
		Reminders:   s.reminders,
		Senders:     channel.NewRegistry(adapters...),
		Events:      mb,
		Messages: conversation.Messages{
			Error:    cfg.Messages.Error,
			Reminder: cfg.Messages.Reminder,
		},
		Log: log,
	})
	if err != nil {
		return nil, fmt.Errorf("initialize conversation engine: %w", err)
	}
	s.engine = engine

	return s, nil
}

// Bus returns the message bus shared with the transports.
func (s *Service) Bus() *bus.MessageBus {
	return s.bus
}

// Run blocks until ctx ends or a component fails. A transport that fails
// stops the whole service so the supervisor can restart the process.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	s.startedAt = time.Now().UTC()
	s.mu.Unlock()

	if err := s.checkNLUHealth(ctx); err != nil {
		s.log.Warn("NLU backend not reachable at startup", "endpoint", s.cfg.NLU.URL, "error", err)
	}

	for _, adapter := range s.channels {
		s.setChannelState(adapter.Name(), channelState{Running: true})
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return s.route(gctx) })
	g.Go(func() error { return s.sweeper.Run(gctx) })
	g.Go(func() error { return s.watchNLU(gctx) })

	if s.cfg.Gateway.Port >= 0 {
		g.Go(func() error { return s.runStatusServer(gctx) })
	}

	for _, adapter := range s.channels {
		g.Go(func() error {
			err := adapter.Run(gctx, s.enqueue)
			s.setChannelState(adapter.Name(), channelState{Running: false, Error: errorString(err)})
			if err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("run %s channel: %w", adapter.Name(), err)
			}
			return nil
		})
	}

	runErr := g.Wait()
	shutdownErr := s.shutdown()

	return errors.Join(runErr, shutdownErr)
}

// enqueue is the handler every transport receives. It only queues.
func (s *Service) enqueue(ctx context.Context, msg bus.InboundMessage) error {
	if !s.bus.PublishInbound(ctx, msg) {
		return errors.New("inbound queue closed")
	}
	return nil
}

// route moves inbound messages onto their chat's dispatcher queue. Any
// activity cancels a pending reminder for the chat.
func (s *Service) route(ctx context.Context) error {
	for {
		msg, ok := s.bus.ConsumeInbound(ctx)
		if !ok {
			return nil
		}
		s.dispatch(ctx, msg)
	}
}

func (s *Service) dispatch(ctx context.Context, msg bus.InboundMessage) {
	key := session.Address{Channel: msg.Channel, ChatID: msg.ChatID}.Key()
	msg.SessionKey = key

	s.reminders.Cancel(key)

	err := s.dispatcher.Submit(key, func(jobCtx context.Context) {
		if err := s.engine.Handle(jobCtx, msg); err != nil {
			s.log.Warn("Message handling failed", "session_key", key, "request_id", msg.RequestID, "error", err)
		}
	})
	if err != nil {
		s.log.Error("Failed to queue inbound message", "session_key", key, "error", err)
		return
	}

	s.bus.PublishEvent(ctx, bus.Event{
		Type:       bus.EventMessageReceived,
		Channel:    msg.Channel,
		ChatID:     msg.ChatID,
		SessionKey: key,
		RequestID:  msg.RequestID,
	})
}

// onReminder runs on the timer goroutine and hands delivery to the chat queue.
func (s *Service) onReminder(key string, gen uint64) {
	err := s.dispatcher.Submit(key, func(ctx context.Context) {
		if err := s.engine.Remind(ctx, key, gen); err != nil {
			s.log.Warn("Reminder delivery failed", "session_key", key, "error", err)
		}
	})
	if err != nil {
		s.log.Warn("Failed to queue reminder", "session_key", key, "error", err)
	}
}

func (s *Service) onPanic(key string, recovered any) {
	s.bus.PublishEvent(context.Background(), bus.Event{
		Type:       bus.EventMessageFailed,
		SessionKey: key,
		Error:      fmt.Sprint(recovered),
	})
}

// shutdown stops reminders, drains queued chat work and closes the bus.
func (s *Service) shutdown() error {
	s.reminders.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err := s.dispatcher.Close(ctx)
	if err != nil {
		s.log.Error("Dispatcher did not drain before shutdown", "error", err)
	}

	s.bus.Close()
	s.log.Info("Gateway stopped", "sessions", s.store.Len())

	return err
}

func (s *Service) watchNLU(ctx context.Context) error {
	ticker := time.NewTicker(healthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.checkNLUHealth(ctx); err != nil {
				s.log.Warn("NLU health check failed", "error", err)
			}
		}
	}
}

func (s *Service) checkNLUHealth(ctx context.Context) error {
	if err := s.nlu.Health(ctx); err != nil {
		s.mu.Lock()
		s.nluLastErr = err.Error()
		s.mu.Unlock()
		return fmt.Errorf("nlu health check failed: %w", err)
	}

	s.mu.Lock()
	s.nluLastErr = ""
	s.nluLastOKAt = time.Now().UTC()
	s.mu.Unlock()

	return nil
}

func (s *Service) setChannelState(name string, state channelState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channelStates[name] = state
}

func errorString(err error) string {
	if err == nil {
		return ""
	}

	return err.Error()
}

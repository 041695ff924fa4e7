package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"tracerbot/pkg/bus"
	"tracerbot/pkg/channel"
	"tracerbot/pkg/config"

	"github.com/google/uuid"
	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
)

const (
	channelName   = "telegram"
	typingTimeout = 5 * time.Second
)

var errNotRunning = errors.New("telegram channel is not running")

// botAPI is the subset of the Bot API the adapter uses.
type botAPI interface {
	SendMessage(ctx context.Context, params *telego.SendMessageParams) (*telego.Message, error)
	SendPhoto(ctx context.Context, params *telego.SendPhotoParams) (*telego.Message, error)
	SendDocument(ctx context.Context, params *telego.SendDocumentParams) (*telego.Message, error)
	SendChatAction(ctx context.Context, params *telego.SendChatActionParams) error
}

// Adapter bridges Telegram long polling into the bot and sends its replies.
type Adapter struct {
	cfg       config.TelegramConfig
	allowFrom map[string]struct{}
	log       *slog.Logger

	mu     sync.RWMutex
	bot    botAPI
	selfID int64
}

// NewAdapter validates Telegram configuration and constructs an adapter instance.
func NewAdapter(cfg config.TelegramConfig, log *slog.Logger) (*Adapter, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("channels.telegram.token is required")
	}

	if log == nil {
		log = slog.Default()
	}

	return &Adapter{
		cfg:       cfg,
		allowFrom: allowFromSet(cfg.AllowFrom),
		log:       log.With("component", "channel.telegram"),
	}, nil
}

// Name returns the channel identifier used in session keys and logs.
func (a *Adapter) Name() string {
	return channelName
}

// Run starts long polling and hands accepted messages to handler. A closed
// update stream while ctx is live is returned as an error so the process can
// be restarted.
func (a *Adapter) Run(ctx context.Context, handler channel.Handler) error {
	if handler == nil {
		return errors.New("handler is required")
	}

	bot, err := telego.NewBot(strings.TrimSpace(a.cfg.Token))
	if err != nil {
		return fmt.Errorf("initialize telegram bot: %w", err)
	}

	me, err := bot.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("get telegram bot identity: %w", err)
	}
	a.setBot(bot, me.ID)
	defer a.setBot(nil, 0)

	updates, err := bot.UpdatesViaLongPolling(ctx, nil)
	if err != nil {
		return fmt.Errorf("start long polling: %w", err)
	}

	a.log.Info("Telegram channel started", "bot", me.Username)

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				if err := ctx.Err(); err != nil {
					return nil
				}
				return errors.New("telegram updates channel closed")
			}

			a.deliver(ctx, update, handler)
		}
	}
}

// deliver hands one accepted update to handler. The typing indicator is sent
// off the polling loop.
func (a *Adapter) deliver(ctx context.Context, update telego.Update, handler channel.Handler) {
	inbound, ok := a.inboundFromUpdate(update)
	if !ok {
		return
	}

	a.log.Info("Received message",
		"chat_id", inbound.ChatID,
		"sender_id", inbound.SenderID,
		"request_id", inbound.RequestID,
		"content", channel.PreviewText(inbound.Content))

	go a.sendTyping(ctx, inbound.ChatID)

	if err := handler(ctx, inbound); err != nil {
		a.log.Error("Failed to queue inbound message", "chat_id", inbound.ChatID, "error", err)
	}
}

// inboundFromUpdate keeps text messages from allowed human senders.
func (a *Adapter) inboundFromUpdate(update telego.Update) (bus.InboundMessage, bool) {
	message := update.Message
	if message == nil {
		return bus.InboundMessage{}, false
	}

	if message.From == nil {
		a.log.Debug("Ignoring message without sender")
		return bus.InboundMessage{}, false
	}
	if a.isSelf(message.From) {
		return bus.InboundMessage{}, false
	}

	content := strings.TrimSpace(message.Text)
	if content == "" {
		return bus.InboundMessage{}, false
	}

	senderID := strconv.FormatInt(message.From.ID, 10)
	if !a.senderAllowed(senderID) {
		a.log.Debug("Ignoring message from unauthorized sender", "sender_id", senderID)
		return bus.InboundMessage{}, false
	}

	receivedAt := time.Now().UTC()
	if message.Date > 0 {
		receivedAt = time.Unix(message.Date, 0).UTC()
	}

	chatID := strconv.FormatInt(message.Chat.ID, 10)
	return bus.InboundMessage{
		Channel:    channelName,
		SenderID:   senderID,
		ChatID:     chatID,
		SessionKey: sessionKey(chatID),
		Content:    content,
		RequestID:  uuid.NewString(),
		ReceivedAt: receivedAt,
		Metadata: map[string]string{
			"update_id":  strconv.Itoa(update.UpdateID),
			"message_id": strconv.Itoa(message.MessageID),
		},
	}, true
}

// SendText sends a plain text message.
func (a *Adapter) SendText(ctx context.Context, chatID, text string) error {
	bot, id, err := a.target(chatID)
	if err != nil {
		return err
	}

	if _, err := bot.SendMessage(ctx, tu.Message(id, text)); err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}
	return nil
}

// SendImage sends a photo by URL.
func (a *Adapter) SendImage(ctx context.Context, chatID, url, caption string) error {
	bot, id, err := a.target(chatID)
	if err != nil {
		return err
	}

	params := tu.Photo(id, tu.FileFromURL(url))
	if caption = strings.TrimSpace(caption); caption != "" {
		params = params.WithCaption(caption)
	}

	if _, err := bot.SendPhoto(ctx, params); err != nil {
		return fmt.Errorf("send telegram photo: %w", err)
	}
	return nil
}

// SendFile sends a document by URL. Telegram names URL documents after the
// URL path, so filename only stands in for a missing caption.
func (a *Adapter) SendFile(ctx context.Context, chatID, url, filename, caption string) error {
	bot, id, err := a.target(chatID)
	if err != nil {
		return err
	}

	caption = strings.TrimSpace(caption)
	if caption == "" {
		caption = strings.TrimSpace(filename)
	}

	params := tu.Document(id, tu.FileFromURL(url))
	if caption != "" {
		params = params.WithCaption(caption)
	}

	if _, err := bot.SendDocument(ctx, params); err != nil {
		return fmt.Errorf("send telegram document: %w", err)
	}
	return nil
}

func (a *Adapter) sendTyping(ctx context.Context, chatID string) {
	bot, id, err := a.target(chatID)
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, typingTimeout)
	defer cancel()

	if err := bot.SendChatAction(ctx, tu.ChatAction(id, telego.ChatActionTyping)); err != nil && ctx.Err() == nil {
		a.log.Debug("Failed to send typing indicator", "chat_id", chatID, "error", err)
	}
}

func (a *Adapter) target(chatID string) (botAPI, telego.ChatID, error) {
	a.mu.RLock()
	bot := a.bot
	a.mu.RUnlock()

	if bot == nil {
		return nil, telego.ChatID{}, errNotRunning
	}

	id, err := strconv.ParseInt(strings.TrimSpace(chatID), 10, 64)
	if err != nil {
		return nil, telego.ChatID{}, fmt.Errorf("parse telegram chat id %q: %w", chatID, err)
	}

	return bot, tu.ID(id), nil
}

func (a *Adapter) setBot(bot botAPI, selfID int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.bot = bot
	a.selfID = selfID
}

func (a *Adapter) isSelf(user *telego.User) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return user.IsBot || (a.selfID != 0 && user.ID == a.selfID)
}

// senderAllowed checks whether a sender is permitted by allow_from config.
//
// When no allow list is configured, all senders are accepted.
func (a *Adapter) senderAllowed(senderID string) bool {
	if len(a.allowFrom) == 0 {
		return true
	}

	_, ok := a.allowFrom[strings.TrimSpace(senderID)]
	return ok
}

// sessionKey maps one Telegram chat to its session key.
func sessionKey(chatID string) string {
	return channelName + ":" + strings.TrimSpace(chatID)
}

// allowFromSet normalizes allow_from values into a lookup set.
func allowFromSet(allowFrom []string) map[string]struct{} {
	if len(allowFrom) == 0 {
		return nil
	}

	allowed := make(map[string]struct{}, len(allowFrom))
	for _, value := range allowFrom {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		allowed[trimmed] = struct{}{}
	}

	if len(allowed) == 0 {
		return nil
	}

	return allowed
}

// Package telegram implements the Telegram channel adapter over the
// go-telegram/bot long-polling client.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"
	"github.com/google/uuid"

	"github.com/zeroclaw-labs/zeroclaw/internal/channels"
	"github.com/zeroclaw-labs/zeroclaw/pkg/models"
)

// maxMessageLen is Telegram's hard limit per message.
const maxMessageLen = 4096

// Config holds the adapter settings.
type Config struct {
	// Token is the bot token from @BotFather.
	Token string

	// Logger is optional; defaults to slog.Default.
	Logger *slog.Logger
}

// Adapter implements channels.Adapter for Telegram long polling.
type Adapter struct {
	config   Config
	bot      *bot.Bot
	messages chan *models.Message
	logger   *slog.Logger

	statusMu sync.RWMutex
	status   channels.Status

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewAdapter creates a Telegram adapter.
func NewAdapter(config Config) (*Adapter, error) {
	if config.Token == "" {
		return nil, errors.New("telegram: token is required")
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Adapter{
		config:   config,
		messages: make(chan *models.Message, 100),
		logger:   config.Logger.With("adapter", "telegram"),
	}, nil
}

func (a *Adapter) Type() models.ChannelType { return models.ChannelTelegram }

// Start connects the bot and begins long polling.
func (a *Adapter) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	b, err := bot.New(a.config.Token, bot.WithDefaultHandler(a.handleUpdate))
	if err != nil {
		cancel()
		a.setStatus(false, fmt.Sprintf("bot init failed: %v", err))
		return fmt.Errorf("telegram: create bot: %w", err)
	}
	a.bot = b
	a.setStatus(true, "")

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer close(a.messages)
		a.logger.Info("telegram long polling started")
		a.bot.Start(ctx)
		a.setStatus(false, "")
		a.logger.Info("telegram long polling stopped")
	}()
	return nil
}

// Stop cancels polling and waits for the message loop to drain.
func (a *Adapter) Stop(ctx context.Context) error {
	if a.cancel != nil {
		a.cancel()
	}
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("telegram: stop timed out: %w", ctx.Err())
	}
}

func (a *Adapter) Status() channels.Status {
	a.statusMu.RLock()
	defer a.statusMu.RUnlock()
	return a.status
}

func (a *Adapter) Messages() <-chan *models.Message { return a.messages }

func (a *Adapter) setStatus(connected bool, errText string) {
	a.statusMu.Lock()
	defer a.statusMu.Unlock()
	a.status = channels.Status{Connected: connected, Error: errText}
}

func (a *Adapter) handleUpdate(ctx context.Context, b *bot.Bot, update *tgmodels.Update) {
	if update.Message == nil || update.Message.From == nil {
		return
	}
	msg := convertMessage(update.Message)
	if msg.Content == "" && len(msg.Attachments) == 0 {
		return
	}

	select {
	case a.messages <- msg:
	case <-ctx.Done():
	default:
		a.logger.Warn("inbound queue full, dropping message", "chat_id", msg.ChatID)
	}
}

// convertMessage maps a Telegram message into the unified format. Photos
// become image markers; the core never fetches media bytes.
func convertMessage(m *tgmodels.Message) *models.Message {
	msg := &models.Message{
		ID:        uuid.NewString(),
		Channel:   models.ChannelTelegram,
		SenderID:  strconv.FormatInt(m.From.ID, 10),
		ChatID:    strconv.FormatInt(m.Chat.ID, 10),
		Direction: models.DirectionInbound,
		Role:      models.RoleUser,
		Content:   m.Text,
		CreatedAt: time.Unix(int64(m.Date), 0),
		Metadata: map[string]any{
			"telegram_message_id": m.ID,
		},
	}
	if msg.Content == "" && m.Caption != "" {
		msg.Content = m.Caption
	}
	if len(m.Photo) > 0 {
		// Telegram sends several sizes; the last is the largest.
		largest := m.Photo[len(m.Photo)-1]
		msg.Attachments = append(msg.Attachments, models.Attachment{
			ID:   largest.FileID,
			Type: models.AttachmentImage,
			Size: int64(largest.FileSize),
		})
	}
	if m.Document != nil {
		msg.Attachments = append(msg.Attachments, models.Attachment{
			ID:       m.Document.FileID,
			Type:     models.AttachmentDocument,
			Filename: m.Document.FileName,
			MimeType: m.Document.MimeType,
			Size:     int64(m.Document.FileSize),
		})
	}
	return msg
}

// Send delivers an outbound message, splitting it to fit Telegram's
// message length limit.
func (a *Adapter) Send(ctx context.Context, msg *models.Message) error {
	if a.bot == nil {
		return errors.New("telegram: bot not started")
	}
	chatID, err := strconv.ParseInt(msg.ChatID, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: bad chat id %q: %w", msg.ChatID, err)
	}

	for _, part := range splitMessage(msg.Content, maxMessageLen) {
		if _, err := a.bot.SendMessage(ctx, &bot.SendMessageParams{
			ChatID: chatID,
			Text:   part,
		}); err != nil {
			return fmt.Errorf("telegram: send: %w", err)
		}
	}
	return nil
}

// splitMessage chunks text on rune boundaries, preferring newlines near
// the limit so code blocks and lists stay readable.
func splitMessage(text string, limit int) []string {
	if text == "" {
		return nil
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return []string{text}
	}

	var parts []string
	for len(runes) > 0 {
		if len(runes) <= limit {
			parts = append(parts, string(runes))
			break
		}
		cut := limit
		for i := limit - 1; i > limit/2; i-- {
			if runes[i] == '\n' {
				cut = i
				break
			}
		}
		parts = append(parts, string(runes[:cut]))
		runes = runes[cut:]
		if len(runes) > 0 && runes[0] == '\n' {
			runes = runes[1:]
		}
	}
	return parts
}

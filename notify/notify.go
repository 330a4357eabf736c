package notify

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

const (
	// bufferSize is the number of pending notifications buffered before new ones are dropped.
	bufferSize = 64
)

// sender sends telegram messages.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// NotifierConfig represents the notifier configuration.
type NotifierConfig struct {
	// BotToken is the telegram bot token, notifications are only logged when empty.
	BotToken string
	// ChatID is the telegram chat notifications are sent to.
	ChatID string
	// MaxRetries is the number of send attempts per notification.
	MaxRetries int
	// RetryDelayBase is the base of the linear send retry backoff.
	RetryDelayBase time.Duration
	// Logger represents the application logger.
	Logger *zerolog.Logger
}

// Validate asserts the config sane inputs.
func (cfg *NotifierConfig) Validate() error {
	var errs error

	if cfg.BotToken != "" && cfg.ChatID == "" {
		errs = errors.Join(errs, fmt.Errorf("chat id cannot be empty when a bot token is provided"))
	}
	if cfg.ChatID != "" {
		if _, err := strconv.ParseInt(cfg.ChatID, 10, 64); err != nil {
			errs = errors.Join(errs, fmt.Errorf("invalid chat id: %w", err))
		}
	}
	if cfg.Logger == nil {
		errs = errors.Join(errs, fmt.Errorf("logger cannot be nil"))
	}

	return errs
}

// Notifier relays operator notifications to telegram.
type Notifier struct {
	cfg      *NotifierConfig
	bot      sender
	chatID   int64
	messages chan string
}

// NewNotifier initializes a new notifier.
func NewNotifier(cfg *NotifierConfig) (*Notifier, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("validating notifier config: %w", err)
	}

	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelayBase <= 0 {
		cfg.RetryDelayBase = time.Second
	}

	n := &Notifier{
		cfg:      cfg,
		messages: make(chan string, bufferSize),
	}

	if cfg.BotToken == "" {
		cfg.Logger.Info().Msg("no telegram bot token provided, notifications will only be logged")
		return n, nil
	}

	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("creating telegram bot: %w", err)
	}

	n.bot = bot
	n.chatID, _ = strconv.ParseInt(cfg.ChatID, 10, 64)

	return n, nil
}

// Notify queues the provided message for delivery. It never blocks, messages are dropped when
// the queue is full.
func (n *Notifier) Notify(message string) {
	n.cfg.Logger.Info().Msg(message)

	if n.bot == nil {
		return
	}

	select {
	case n.messages <- message:
	default:
		n.cfg.Logger.Warn().Msgf("notification queue full, dropping: %s", message)
	}
}

// send sends the provided message with linear-backoff retry.
func (n *Notifier) send(ctx context.Context, message string) error {
	msg := tgbotapi.NewMessage(n.chatID, formatMessage(message))
	msg.ParseMode = tgbotapi.ModeMarkdownV2

	var lastErr error
	for i := 0; i < n.cfg.MaxRetries; i++ {
		_, err := n.bot.Send(msg)
		if err == nil {
			return nil
		}
		lastErr = err

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(n.cfg.RetryDelayBase * time.Duration(i+1)):
		}
	}

	return fmt.Errorf("failed after %d retries: %w", n.cfg.MaxRetries, lastErr)
}

// Run manages the lifecycle processes of the notifier.
func (n *Notifier) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case message := <-n.messages:
			err := n.send(ctx, message)
			if err != nil {
				n.cfg.Logger.Error().Msgf("sending notification: %v", err)
			}
		}
	}
}

// formatMessage formats the provided message as a telegram MarkdownV2 message.
func formatMessage(message string) string {
	return "*dipper*\n" + escapeMarkdownV2(message)
}

// escapeMarkdownV2 escapes special characters for telegram MarkdownV2.
func escapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text) + len(text)/4)
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}

package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"chart-analyst/internal/config"
)

// TelegramNotifier sends notifications via Telegram bot.
type TelegramNotifier struct {
	botToken string
	chatID   int64
	endpoint string
	enabled  bool

	mu  sync.Mutex
	bot *tgbotapi.BotAPI
}

// NewTelegramNotifier creates a new TelegramNotifier. The bot connects on
// the first send.
func NewTelegramNotifier(cfg config.TelegramConfig, botToken string) *TelegramNotifier {
	return &TelegramNotifier{
		botToken: botToken,
		chatID:   cfg.ChatID,
		endpoint: tgbotapi.APIEndpoint,
		enabled:  cfg.Enabled && botToken != "" && cfg.ChatID != 0,
	}
}

// SetEndpoint overrides the Bot API endpoint format
// (e.g. https://api.telegram.org/bot%s/%s).
func (t *TelegramNotifier) SetEndpoint(endpoint string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.endpoint = endpoint
	t.bot = nil
}

// Name returns the name of the notifier.
func (t *TelegramNotifier) Name() string {
	return "telegram"
}

// IsEnabled returns whether the notifier is enabled.
func (t *TelegramNotifier) IsEnabled() bool {
	return t.enabled
}

func (t *TelegramNotifier) client() (*tgbotapi.BotAPI, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.bot != nil {
		return t.bot, nil
	}
	bot, err := tgbotapi.NewBotAPIWithAPIEndpoint(t.botToken, t.endpoint)
	if err != nil {
		return nil, fmt.Errorf("connecting telegram bot: %w", err)
	}
	t.bot = bot
	return bot, nil
}

// Send sends a notification via Telegram.
func (t *TelegramNotifier) Send(ctx context.Context, n Notification) error {
	if !t.enabled {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	bot, err := t.client()
	if err != nil {
		return err
	}

	// Format message for Telegram (using HTML parse mode)
	msg := tgbotapi.NewMessage(t.chatID, fmt.Sprintf("<b>%s</b>\n\n%s", escapeHTML(n.Title), escapeHTML(n.Message)))
	msg.ParseMode = tgbotapi.ModeHTML

	if _, err := bot.Send(msg); err != nil {
		return fmt.Errorf("sending telegram message: %w", err)
	}
	return nil
}

// escapeHTML escapes HTML special characters for Telegram.
func escapeHTML(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	return r.Replace(s)
}

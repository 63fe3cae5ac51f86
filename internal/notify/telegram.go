package notify

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramSender delivers notifications via the Telegram Bot API.
type TelegramSender struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

// NewTelegramSender creates a TelegramSender for the given bot token and chat
// ID. apiEndpoint is the Bot API URL template with two %s verbs (token,
// method); empty uses the public Telegram endpoint. Construction verifies the
// token with a getMe call.
func NewTelegramSender(token, chatID, apiEndpoint string) (*TelegramSender, error) {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("telegram: invalid chat id %q: %w", chatID, err)
	}
	if apiEndpoint == "" {
		apiEndpoint = tgbotapi.APIEndpoint
	}

	bot, err := tgbotapi.NewBotAPIWithClient(token, apiEndpoint, &http.Client{Timeout: 10 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("telegram: create bot: %w", err)
	}
	return &TelegramSender{bot: bot, chatID: id}, nil
}

// Send posts a message to the configured chat. The title is rendered in bold
// with MarkdownV2; both parts are escaped.
func (t *TelegramSender) Send(ctx context.Context, title, message string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("telegram: %w", err)
	}

	text := fmt.Sprintf("*%s*\n%s",
		tgbotapi.EscapeText(tgbotapi.ModeMarkdownV2, title),
		tgbotapi.EscapeText(tgbotapi.ModeMarkdownV2, message),
	)
	msg := tgbotapi.NewMessage(t.chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdownV2

	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram: send message: %w", err)
	}
	return nil
}

// Name returns the sender identifier.
func (t *TelegramSender) Name() string {
	return "telegram"
}

package notify

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// Notifier sends short pipeline notifications to an operator Telegram chat.
// A nil Notifier is valid and drops every message, so callers never have to
// check whether notifications are configured.
type Notifier struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	logger *zap.Logger
}

// New creates a Telegram notifier.
func New(token string, chatID int64, logger *zap.Logger) (*Notifier, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telegram bot: %w", err)
	}
	return &Notifier{bot: bot, chatID: chatID, logger: logger}, nil
}

// Dispatched announces newly imported review tasks.
func (n *Notifier) Dispatched(count int) {
	n.send(fmt.Sprintf("📋 %d new session(s) sent for doctor review", count))
}

// Synced announces applied verdicts.
func (n *Notifier) Synced(count int) {
	n.send(fmt.Sprintf("✅ %d reviewed session(s) synced back", count))
}

// Timeout announces a blocked approve run.
func (n *Notifier) Timeout() {
	n.send("⏰ Doctor review timed out, run needs attention")
}

func (n *Notifier) send(text string) {
	if n == nil {
		return
	}
	if _, err := n.bot.Send(tgbotapi.NewMessage(n.chatID, text)); err != nil {
		n.logger.Error("Failed to send notification", zap.Error(err))
	}
}

package notifier

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tele "gopkg.in/telebot.v4"

	"github.com/DeadManOfficial/HF-Agent-Infinite/internal/agent"
)

// sender is the slice of telebot needed for one-way alerts,
// extracted so tests can run without a live bot API.
type sender interface {
	Send(to tele.Recipient, what any, opts ...any) (*tele.Message, error)
}

// Telegram pushes alerts to a single chat. The bot is send-only; no
// update polling is started.
type Telegram struct {
	bot    sender
	chatID int64
}

// NewTelegram creates a Telegram notifier. The token is verified
// against the bot API during construction.
func NewTelegram(token string, chatID int64) (*Telegram, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if chatID == 0 {
		return nil, errors.New("telegram chat id is required")
	}
	bot, err := tele.NewBot(tele.Settings{Token: token})
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &Telegram{bot: bot, chatID: chatID}, nil
}

// newTelegramWithSender wires the notifier onto an existing sender.
func newTelegramWithSender(bot sender, chatID int64) *Telegram {
	return &Telegram{bot: bot, chatID: chatID}
}

// Send delivers one alert message to the configured chat.
func (n *Telegram) Send(_ context.Context, alert agent.Alert) error {
	text := formatAlert(alert)
	chat := &tele.Chat{ID: n.chatID}
	if _, err := n.bot.Send(chat, text, &tele.SendOptions{ParseMode: tele.ModeMarkdown}); err != nil {
		return fmt.Errorf("send telegram alert: %w", err)
	}
	return nil
}

func formatAlert(alert agent.Alert) string {
	icon := "ℹ️" // info
	switch alert.Level {
	case agent.AlertSuccess:
		icon = "✅"
	case agent.AlertWarning:
		icon = "⚠️"
	case agent.AlertError:
		icon = "\U0001f6a8"
	}
	return fmt.Sprintf("%s *%s*\n\n%s", icon, alert.Title, alert.Message)
}

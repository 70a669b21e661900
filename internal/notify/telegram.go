// Package notify delivers alert and critical-error notifications, and
// dispatches the bot's read-only status commands. The long-polling
// transport lives in the bot library; this package owns the
// command-dispatch contract.
package notify

import (
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"

	"github.com/tyeom/zeroquant/internal/config"
	"github.com/tyeom/zeroquant/internal/monitor"
)

// Telegram sends messages to the configured chat and answers status
// commands.
type Telegram struct {
	bot     *tgbotapi.BotAPI
	chatID  int64
	tracker *monitor.Tracker
	status  StatusReader
}

// StatusReader serves the read models behind the /status command.
type StatusReader interface {
	StatusSummary() string
}

// NewTelegram connects the bot. A disabled config returns a nil
// notifier, which every method tolerates.
func NewTelegram(cfg config.TelegramConfig, tracker *monitor.Tracker, status StatusReader) (*Telegram, error) {
	if !cfg.Enabled || cfg.BotToken == "" {
		return nil, nil
	}
	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("connect telegram bot: %w", err)
	}
	return &Telegram{bot: bot, chatID: cfg.ChatID, tracker: tracker, status: status}, nil
}

// Send delivers a plain message; failures are logged, never propagated.
func (t *Telegram) Send(text string) {
	if t == nil {
		return
	}
	if _, err := t.bot.Send(tgbotapi.NewMessage(t.chatID, text)); err != nil {
		log.Warn().Err(err).Msg("telegram send failed")
	}
}

// NotifyCritical implements monitor.Notifier.
func (t *Telegram) NotifyCritical(rec monitor.Record) {
	t.Send(fmt.Sprintf("[CRITICAL] %s/%s: %s", rec.Category, rec.Severity, rec.Message))
}

// HandleCommand answers one bot command and returns the reply text.
// Unknown commands get the help text.
func (t *Telegram) HandleCommand(command string) string {
	if t == nil {
		return ""
	}
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return "commands: /status, /errors, /alerts"
	}
	switch strings.TrimPrefix(fields[0], "/") {
	case "status":
		if t.status != nil {
			return t.status.StatusSummary()
		}
		return "no status source configured"
	case "errors":
		return t.formatErrors()
	case "alerts":
		return "alert rules are managed through the API"
	default:
		return "commands: /status, /errors, /alerts"
	}
}

func (t *Telegram) formatErrors() string {
	if t.tracker == nil {
		return "no error tracker configured"
	}
	stats := t.tracker.Stats()
	var sb strings.Builder
	fmt.Fprintf(&sb, "errors tracked: %d (buffered %d)\n", stats.Total, stats.Buffered)
	for severity, count := range stats.BySeverity {
		fmt.Fprintf(&sb, "  %s: %d\n", severity, count)
	}
	for _, rec := range t.tracker.Recent(monitor.Filter{Limit: 5}) {
		fmt.Fprintf(&sb, "- [%s] %s\n", rec.Severity, rec.Message)
	}
	return sb.String()
}

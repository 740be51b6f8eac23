// Package alert implements the operator Notifier capability: pushing
// EmergencyHalt, circuit-breaker, and mode-change events to an
// operator-facing channel.
//
// Grounded on the teacher's bot.TelegramBot, generalized from a
// two-way control bot (stats + pause/resume commands) into a one-way
// alert sink, since this core's operator surface is the config-driven
// boot/shutdown/mode-change flow rather than a chat command loop.
package alert

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
)

// Notifier is satisfied by any alert sink. A nil-safe no-op
// implementation is used when alerting is not configured.
type Notifier interface {
	NotifyEmergency(positionID, reason string)
	NotifyModeChange(from, to string, accepted bool, reason string)
	NotifyBreakerTrip(breakerName, fromState, toState string)
}

// Telegram sends operator alerts over a bot token/chat pair.
type Telegram struct {
	api    *tgbotapi.BotAPI
	chatID int64
}

// NewTelegram connects to the Telegram Bot API, matching the teacher's
// NewTelegramBot construction.
func NewTelegram(token string, chatID int64) (*Telegram, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &Telegram{api: api, chatID: chatID}, nil
}

func (t *Telegram) send(text string) {
	msg := tgbotapi.NewMessage(t.chatID, text)
	if _, err := t.api.Send(msg); err != nil {
		log.Error().Err(err).Msg("failed to send operator alert")
	}
}

func (t *Telegram) NotifyEmergency(positionID, reason string) {
	t.send(fmt.Sprintf("EMERGENCY HALT: position %s: %s", positionID, reason))
}

func (t *Telegram) NotifyModeChange(from, to string, accepted bool, reason string) {
	status := "ACCEPTED"
	if !accepted {
		status = "REJECTED"
	}
	t.send(fmt.Sprintf("MODE CHANGE %s: %s -> %s (%s)", status, from, to, reason))
}

func (t *Telegram) NotifyBreakerTrip(breakerName, fromState, toState string) {
	t.send(fmt.Sprintf("CIRCUIT BREAKER %s: %s -> %s", breakerName, fromState, toState))
}

// NoOp is used when no alert sink is configured.
type NoOp struct{}

func (NoOp) NotifyEmergency(string, string)                {}
func (NoOp) NotifyModeChange(string, string, bool, string) {}
func (NoOp) NotifyBreakerTrip(string, string, string)      {}

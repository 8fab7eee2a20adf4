package telegram

import (
	"context"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"tg-subwatch-bot/internal/domain"
	"tg-subwatch-bot/internal/infra/metrics"
)

// BotAPI — минимальный контракт клиента Telegram Bot API.
type BotAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Sender доставляет уведомления подписки в Telegram-чаты.
// Длинный текст режется на части по лимиту сообщения, обложка уходит
// отдельным фото первой частью подписи.
type Sender struct {
	bot BotAPI
	log zerolog.Logger
}

var _ domain.MessageSender = (*Sender)(nil)

// NewSender создаёт отправителя.
func NewSender(bot BotAPI, logger zerolog.Logger) *Sender {
	return &Sender{bot: bot, log: logger}
}

// Send реализует domain.MessageSender.
func (s *Sender) Send(ctx context.Context, entity domain.Entity, message domain.Message) error {
	parts := SplitMessage(message.Text)
	if len(parts) == 0 && message.CoverURL == "" {
		return nil
	}

	if message.CoverURL != "" {
		photo := tgbotapi.NewPhoto(entity.ChatID, tgbotapi.FileURL(message.CoverURL))
		if len(parts) > 0 {
			photo.Caption = parts[0]
			parts = parts[1:]
		}
		start := time.Now()
		_, err := s.bot.Send(photo)
		metrics.ObserveNetworkRequest("telegram_bot", "send_photo", strconv.FormatInt(entity.ChatID, 10), start, err)
		if err != nil {
			return err
		}
	}

	for _, part := range parts {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg := tgbotapi.NewMessage(entity.ChatID, part)
		start := time.Now()
		_, err := s.bot.Send(msg)
		metrics.ObserveNetworkRequest("telegram_bot", "send_message", strconv.FormatInt(entity.ChatID, 10), start, err)
		if err != nil {
			return err
		}
	}
	return nil
}

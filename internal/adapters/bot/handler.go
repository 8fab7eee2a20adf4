package bot

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"tg-subwatch-bot/internal/adapters/telegram"
	"tg-subwatch-bot/internal/domain"
	"tg-subwatch-bot/internal/infra/metrics"
)

// SubscriptionService — операции управления подпиской на один источник.
type SubscriptionService interface {
	AddSubscription(ctx context.Context, entity domain.Entity) (domain.SubscriptionSource, error)
	RemoveSubscription(ctx context.Context, entity domain.Entity) error
	ListSubscriptions(ctx context.Context, entity domain.Entity) (map[string]string, error)
}

// ServiceFactory строит сервис подписки для источника с данным идентификатором.
type ServiceFactory func(subID string) SubscriptionService

// Pauser приостанавливает планировщик на время мутации подписок,
// чтобы цикл проверки не застал состояние наполовину записанным.
type Pauser interface {
	Pause()
	Resume()
}

// Handler обслуживает вебхук бота.
type Handler struct {
	bot        telegram.BotAPI
	log        zerolog.Logger
	liveSvc    ServiceFactory
	dynamicSvc ServiceFactory
	scheduler  Pauser
}

// NewHandler создаёт обработчик.
func NewHandler(bot telegram.BotAPI, log zerolog.Logger, liveSvc, dynamicSvc ServiceFactory, scheduler Pauser) *Handler {
	return &Handler{
		bot:        bot,
		log:        log,
		liveSvc:    liveSvc,
		dynamicSvc: dynamicSvc,
		scheduler:  scheduler,
	}
}

// HandleUpdate обрабатывает входящий апдейт.
func (h *Handler) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	if upd.Message != nil {
		h.handleMessage(ctx, upd.Message)
	}
}

func (h *Handler) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	text := strings.TrimSpace(msg.Text)
	entity := entityFromChat(msg.Chat)

	switch {
	case strings.HasPrefix(text, "/start"):
		h.handleStart(msg.Chat.ID)
	case strings.HasPrefix(text, "/help"):
		h.handleHelp(msg.Chat.ID)
	case strings.HasPrefix(text, "/subscribe_live"):
		arg := strings.TrimSpace(strings.TrimPrefix(text, "/subscribe_live"))
		h.handleSubscribe(ctx, entity, h.liveSvc, arg, "трансляции")
	case strings.HasPrefix(text, "/unsubscribe_live"):
		arg := strings.TrimSpace(strings.TrimPrefix(text, "/unsubscribe_live"))
		h.handleUnsubscribe(ctx, entity, h.liveSvc, arg)
	case strings.HasPrefix(text, "/subscribe_dynamic"):
		arg := strings.TrimSpace(strings.TrimPrefix(text, "/subscribe_dynamic"))
		h.handleSubscribe(ctx, entity, h.dynamicSvc, arg, "ленту")
	case strings.HasPrefix(text, "/unsubscribe_dynamic"):
		arg := strings.TrimSpace(strings.TrimPrefix(text, "/unsubscribe_dynamic"))
		h.handleUnsubscribe(ctx, entity, h.dynamicSvc, arg)
	case strings.HasPrefix(text, "/subscriptions"):
		h.handleList(ctx, entity)
	default:
		h.reply(msg.Chat.ID, "Неизвестная команда. Используйте /help")
	}
}

func (h *Handler) handleStart(chatID int64) {
	h.reply(chatID, strings.Join([]string{
		"👋 Бот следит за трансляциями и лентами Bilibili.",
		"",
		"Подпишите чат на комнату или пользователя, и уведомления",
		"об изменениях будут приходить сюда. Список команд: /help",
	}, "\n"))
}

func (h *Handler) handleHelp(chatID int64) {
	h.reply(chatID, strings.Join([]string{
		"Команды:",
		"/subscribe_live <room_id> — подписаться на трансляции комнаты",
		"/unsubscribe_live <room_id> — отписаться от комнаты",
		"/subscribe_dynamic <uid> — подписаться на ленту пользователя",
		"/unsubscribe_dynamic <uid> — отписаться от ленты",
		"/subscriptions — список подписок чата",
	}, "\n"))
}

// handleSubscribe выполняет мутацию подписки под паузой планировщика:
// цикл проверки не должен стартовать, пока журнал источника не предзаполнен.
func (h *Handler) handleSubscribe(ctx context.Context, entity domain.Entity, factory ServiceFactory, arg, kind string) {
	subID, ok := parseSubID(arg)
	if !ok {
		h.reply(entity.ChatID, "Идентификатор должен быть числом. Пример: /subscribe_live 101")
		return
	}

	h.scheduler.Pause()
	defer h.scheduler.Resume()

	source, err := factory(subID).AddSubscription(ctx, entity)
	if err != nil {
		h.log.Error().Err(err).Str("sub_id", subID).Msg("подписка не удалась")
		h.reply(entity.ChatID, fmt.Sprintf("Не удалось оформить подписку на %s: источник недоступен или не существует", subID))
		return
	}
	name := source.SubUserName
	if name == "" {
		name = source.SubID
	}
	h.reply(entity.ChatID, fmt.Sprintf("Готово: подписка на %s «%s» (%s)", kind, name, source.SubID))
}

func (h *Handler) handleUnsubscribe(ctx context.Context, entity domain.Entity, factory ServiceFactory, arg string) {
	subID, ok := parseSubID(arg)
	if !ok {
		h.reply(entity.ChatID, "Идентификатор должен быть числом. Пример: /unsubscribe_live 101")
		return
	}

	h.scheduler.Pause()
	defer h.scheduler.Resume()

	if err := factory(subID).RemoveSubscription(ctx, entity); err != nil {
		if errors.Is(err, domain.ErrSourceNotFound) {
			h.reply(entity.ChatID, fmt.Sprintf("Подписка на %s не найдена", subID))
			return
		}
		h.log.Error().Err(err).Str("sub_id", subID).Msg("отписка не удалась")
		h.reply(entity.ChatID, fmt.Sprintf("Не удалось отписаться от %s, попробуйте позже", subID))
		return
	}
	h.reply(entity.ChatID, fmt.Sprintf("Подписка на %s снята", subID))
}

func (h *Handler) handleList(ctx context.Context, entity domain.Entity) {
	lives, err := h.liveSvc("").ListSubscriptions(ctx, entity)
	if err != nil {
		h.reply(entity.ChatID, "Не удалось получить список подписок, попробуйте позже")
		return
	}
	dynamics, err := h.dynamicSvc("").ListSubscriptions(ctx, entity)
	if err != nil {
		h.reply(entity.ChatID, "Не удалось получить список подписок, попробуйте позже")
		return
	}
	if len(lives) == 0 && len(dynamics) == 0 {
		h.reply(entity.ChatID, "У чата пока нет подписок")
		return
	}

	var b strings.Builder
	if len(lives) > 0 {
		b.WriteString("Трансляции:\n")
		writeSorted(&b, lives)
	}
	if len(dynamics) > 0 {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("Ленты:\n")
		writeSorted(&b, dynamics)
	}
	h.reply(entity.ChatID, b.String())
}

func writeSorted(b *strings.Builder, subs map[string]string) {
	ids := make([]string, 0, len(subs))
	for id := range subs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		name := subs[id]
		if name == "" {
			name = "—"
		}
		fmt.Fprintf(b, "• %s (%s)\n", name, id)
	}
}

func parseSubID(arg string) (string, bool) {
	arg = strings.TrimSpace(arg)
	if arg == "" {
		return "", false
	}
	for _, r := range arg {
		if r < '0' || r > '9' {
			return "", false
		}
	}
	return arg, true
}

func entityFromChat(chat *tgbotapi.Chat) domain.Entity {
	entity := domain.Entity{ChatID: chat.ID, Name: chat.Title}
	switch {
	case chat.IsPrivate():
		entity.EntityType = domain.EntityTypePrivate
		entity.Name = strings.TrimSpace(chat.FirstName + " " + chat.LastName)
	case chat.IsChannel():
		entity.EntityType = domain.EntityTypeChannel
	default:
		entity.EntityType = domain.EntityTypeGroup
	}
	return entity
}

func (h *Handler) reply(chatID int64, text string) {
	for _, part := range telegram.SplitMessage(text) {
		msg := tgbotapi.NewMessage(chatID, part)
		start := time.Now()
		_, err := h.bot.Send(msg)
		metrics.ObserveNetworkRequest("telegram_bot", "send_message", strconv.FormatInt(chatID, 10), start, err)
		if err != nil {
			h.log.Error().Err(err).Msg("не удалось отправить сообщение")
			return
		}
	}
}

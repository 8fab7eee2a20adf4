package bot

import (
	"context"
	"strings"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"tg-subwatch-bot/internal/domain"
)

type stubBot struct {
	sent []string
}

func (b *stubBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		b.sent = append(b.sent, msg.Text)
	}
	return tgbotapi.Message{}, nil
}

type stubService struct {
	subID   string
	added   *[]string
	removed *[]string
	subs    map[string]string
}

func (s *stubService) AddSubscription(_ context.Context, _ domain.Entity) (domain.SubscriptionSource, error) {
	*s.added = append(*s.added, s.subID)
	return domain.SubscriptionSource{ID: 1, SubID: s.subID, SubUserName: "стример"}, nil
}

func (s *stubService) RemoveSubscription(_ context.Context, _ domain.Entity) error {
	if s.subID != "101" {
		return domain.ErrSourceNotFound
	}
	*s.removed = append(*s.removed, s.subID)
	return nil
}

func (s *stubService) ListSubscriptions(context.Context, domain.Entity) (map[string]string, error) {
	return s.subs, nil
}

type stubPauser struct {
	events []string
}

func (p *stubPauser) Pause()  { p.events = append(p.events, "pause") }
func (p *stubPauser) Resume() { p.events = append(p.events, "resume") }

type handlerEnv struct {
	bot     *stubBot
	pauser  *stubPauser
	added   []string
	removed []string
	handler *Handler
}

func newHandlerEnv(liveSubs, dynSubs map[string]string) *handlerEnv {
	env := &handlerEnv{bot: &stubBot{}, pauser: &stubPauser{}}
	liveSvc := func(subID string) SubscriptionService {
		return &stubService{subID: subID, added: &env.added, removed: &env.removed, subs: liveSubs}
	}
	dynSvc := func(subID string) SubscriptionService {
		return &stubService{subID: subID, added: &env.added, removed: &env.removed, subs: dynSubs}
	}
	env.handler = NewHandler(env.bot, zerolog.Nop(), liveSvc, dynSvc, env.pauser)
	return env
}

func update(text string) tgbotapi.Update {
	return tgbotapi.Update{Message: &tgbotapi.Message{
		Text: text,
		Chat: &tgbotapi.Chat{ID: 100, Type: "private", FirstName: "Иван"},
	}}
}

func TestSubscribeLivePausesSchedulerAroundMutation(t *testing.T) {
	env := newHandlerEnv(nil, nil)

	env.handler.HandleUpdate(context.Background(), update("/subscribe_live 101"))

	if len(env.added) != 1 || env.added[0] != "101" {
		t.Fatalf("ожидали подписку на 101, получили %v", env.added)
	}
	if len(env.pauser.events) != 2 || env.pauser.events[0] != "pause" || env.pauser.events[1] != "resume" {
		t.Fatalf("мутация должна выполняться между паузой и возобновлением: %v", env.pauser.events)
	}
	if len(env.bot.sent) != 1 || !strings.Contains(env.bot.sent[0], "стример") {
		t.Fatalf("ответ должен содержать имя источника: %v", env.bot.sent)
	}
}

func TestSubscribeRejectsNonNumericID(t *testing.T) {
	env := newHandlerEnv(nil, nil)

	env.handler.HandleUpdate(context.Background(), update("/subscribe_live abc"))

	if len(env.added) != 0 {
		t.Fatalf("нечисловой идентификатор не должен приводить к подписке")
	}
	if len(env.pauser.events) != 0 {
		t.Fatalf("планировщик не должен трогаться при ошибке валидации: %v", env.pauser.events)
	}
}

func TestUnsubscribeUnknownSource(t *testing.T) {
	env := newHandlerEnv(nil, nil)

	env.handler.HandleUpdate(context.Background(), update("/unsubscribe_live 999"))

	if len(env.removed) != 0 {
		t.Fatalf("неизвестный источник не должен отписываться")
	}
	if len(env.bot.sent) != 1 || !strings.Contains(env.bot.sent[0], "не найдена") {
		t.Fatalf("ожидали ответ о ненайденной подписке: %v", env.bot.sent)
	}
}

func TestSubscriptionsListsBothTypes(t *testing.T) {
	env := newHandlerEnv(
		map[string]string{"101": "стример"},
		map[string]string{"555": "автор"},
	)

	env.handler.HandleUpdate(context.Background(), update("/subscriptions"))

	if len(env.bot.sent) != 1 {
		t.Fatalf("ожидали один ответ, получили %d", len(env.bot.sent))
	}
	reply := env.bot.sent[0]
	if !strings.Contains(reply, "стример (101)") || !strings.Contains(reply, "автор (555)") {
		t.Fatalf("список должен содержать обе подписки: %q", reply)
	}
}

func TestUnknownCommand(t *testing.T) {
	env := newHandlerEnv(nil, nil)

	env.handler.HandleUpdate(context.Background(), update("/what"))

	if len(env.bot.sent) != 1 || !strings.Contains(env.bot.sent[0], "/help") {
		t.Fatalf("ожидали подсказку про /help: %v", env.bot.sent)
	}
}

func TestEntityFromChatTypes(t *testing.T) {
	group := entityFromChat(&tgbotapi.Chat{ID: -200, Type: "supergroup", Title: "чат"})
	if group.EntityType != domain.EntityTypeGroup || group.Name != "чат" {
		t.Fatalf("неожиданная сущность группы: %+v", group)
	}
	channel := entityFromChat(&tgbotapi.Chat{ID: -300, Type: "channel", Title: "канал"})
	if channel.EntityType != domain.EntityTypeChannel {
		t.Fatalf("неожиданная сущность канала: %+v", channel)
	}
	private := entityFromChat(&tgbotapi.Chat{ID: 100, Type: "private", FirstName: "Иван"})
	if private.EntityType != domain.EntityTypePrivate || private.Name != "Иван" {
		t.Fatalf("неожиданная сущность личного чата: %+v", private)
	}
}

package bilibili

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"tg-subwatch-bot/internal/domain"
	"tg-subwatch-bot/internal/usecase/livestatus"
	"tg-subwatch-bot/internal/usecase/subscription"
)

// LiveSource — источник подписки «трансляции комнаты Bilibili».
// Элемент источника — переход состояния комнаты относительно последнего
// известного. Новизна определяется самим переходом, журнал дедупликации
// для отбора не используется.
type LiveSource struct {
	cache  *livestatus.Cache
	roomID string
	now    func() time.Time
}

var (
	_ subscription.Source[domain.StatusUpdate]        = (*LiveSource)(nil)
	_ subscription.NewItemFilter[domain.StatusUpdate] = (*LiveSource)(nil)
)

// NewLiveSource создаёт источник для комнаты. Номер комнаты может быть коротким.
func NewLiveSource(cache *livestatus.Cache, roomID string) *LiveSource {
	return &LiveSource{cache: cache, roomID: roomID, now: time.Now}
}

func (s *LiveSource) SubType() string { return domain.SubTypeBiliLive }
func (s *LiveSource) SubID() string   { return s.roomID }

// QueryDescriptor возвращает сведения о комнате с каноническим номером.
func (s *LiveSource) QueryDescriptor(ctx context.Context) (domain.SourceDescriptor, error) {
	status, err := s.cache.Latest(ctx, s.roomID)
	if err != nil {
		return domain.SourceDescriptor{}, fmt.Errorf("состояние комнаты %s: %w", s.roomID, err)
	}
	return domain.SourceDescriptor{
		SubID:       status.RoomID,
		SubUserName: status.UserName,
		SubInfo:     "подписка на трансляции Bilibili",
	}, nil
}

// QueryItems возвращает единственный элемент: переход состояния комнаты
// между последним известным и текущим снимком.
func (s *LiveSource) QueryItems(ctx context.Context) ([]domain.StatusUpdate, error) {
	status, err := s.cache.Latest(ctx, s.roomID)
	if err != nil {
		return nil, fmt.Errorf("состояние комнаты %s: %w", s.roomID, err)
	}
	return []domain.StatusUpdate{s.cache.Advance(status)}, nil
}

// FilterNew оставляет только переходы, требующие уведомления.
func (s *LiveSource) FilterNew(items []domain.StatusUpdate) []domain.StatusUpdate {
	updates := make([]domain.StatusUpdate, 0, len(items))
	for _, item := range items {
		if item.IsUpdate() {
			updates = append(updates, item)
		}
	}
	return updates
}

func (s *LiveSource) ItemMID(item domain.StatusUpdate) string {
	return item.Status.RoomID
}

// ParseItem записывает переход в журнал. Идентификатор записи содержит
// метку времени: журнал хранит историю всех переходов комнаты.
func (s *LiveSource) ParseItem(item domain.StatusUpdate) domain.SeenContent {
	ref, _ := json.Marshal(item.Status)
	return domain.SeenContent{
		Source:     domain.SubTypeBiliLive,
		MID:        fmt.Sprintf("%s_%s", item.Status.RoomID, s.now().Format("20060102150405")),
		MType:      item.Change.String(),
		MUID:       item.Status.UserID,
		Title:      "изменение состояния трансляции",
		Content:    fmt.Sprintf("%s — %s", item.Status.UserName, item.Status.Title),
		RefContent: string(ref),
	}
}

// FormatMessage строит уведомление по варианту перехода.
func (s *LiveSource) FormatMessage(_ context.Context, item domain.StatusUpdate) (domain.Message, error) {
	status := item.Status
	roomURL := fmt.Sprintf("https://live.bilibili.com/%s", status.RoomID)

	var message domain.Message
	switch item.Change {
	case domain.StatusStartLiving, domain.StatusStartLivingWithTitleChange:
		message.Text = fmt.Sprintf("🔴 %s в эфире!\n\n«%s»\nНачало: %s\n%s", status.UserName, status.Title, status.LiveTime, roomURL)
		message.CoverURL = status.CoverURL
	case domain.StatusStopLiving:
		message.Text = fmt.Sprintf("⚫ %s закончил(а) трансляцию", status.UserName)
	case domain.StatusStopLivingWithPlaylist:
		message.Text = fmt.Sprintf("🔁 %s закончил(а) трансляцию (идёт повтор)", status.UserName)
	case domain.StatusTitleChange:
		message.Text = fmt.Sprintf("✏️ %s сменил(а) название трансляции\n\n«%s»\n%s", status.UserName, status.Title, roomURL)
		message.CoverURL = status.CoverURL
	default:
		return domain.Message{}, subscription.ErrSkipNotification
	}
	return message, nil
}

package bilibili

import (
	"context"
	"fmt"
	"strconv"

	"tg-subwatch-bot/internal/domain"
	"tg-subwatch-bot/internal/usecase/subscription"
)

// DynamicSource — источник подписки «лента динамик пользователя Bilibili».
// Новизна определяется журналом дедупликации по идентификатору динамики.
type DynamicSource struct {
	client *Client
	uid    string
}

var _ subscription.Source[DynamicItem] = (*DynamicSource)(nil)

// NewDynamicSource создаёт источник для пользователя с данным UID.
func NewDynamicSource(client *Client, uid string) *DynamicSource {
	return &DynamicSource{client: client, uid: uid}
}

func (s *DynamicSource) SubType() string { return domain.SubTypeBiliDynamic }
func (s *DynamicSource) SubID() string   { return s.uid }

// QueryDescriptor возвращает сведения о пользователе по его карточке.
func (s *DynamicSource) QueryDescriptor(ctx context.Context) (domain.SourceDescriptor, error) {
	card, err := s.client.QueryUserCard(ctx, s.uid)
	if err != nil {
		return domain.SourceDescriptor{}, fmt.Errorf("карточка пользователя %s: %w", s.uid, err)
	}
	return domain.SourceDescriptor{
		SubID:       s.uid,
		SubUserName: card.Name,
		SubInfo:     "подписка на ленту Bilibili",
	}, nil
}

// QueryItems возвращает текущую ленту динамик пользователя.
func (s *DynamicSource) QueryItems(ctx context.Context) ([]DynamicItem, error) {
	items, err := s.client.QueryUserDynamics(ctx, s.uid)
	if err != nil {
		return nil, fmt.Errorf("лента пользователя %s: %w", s.uid, err)
	}
	return items, nil
}

func (s *DynamicSource) ItemMID(item DynamicItem) string {
	return item.IDStr
}

func (s *DynamicSource) ParseItem(item DynamicItem) domain.SeenContent {
	return domain.SeenContent{
		Source:  domain.SubTypeBiliDynamic,
		MID:     item.IDStr,
		MType:   item.Type,
		MUID:    strconv.FormatInt(item.Modules.ModuleAuthor.MID, 10),
		Title:   fmt.Sprintf("динамика %s", item.Modules.ModuleAuthor.Name),
		Content: item.Text(),
	}
}

// FormatMessage строит уведомление о динамике. Служебные типы записываются
// в журнал, но подписчикам не рассылаются.
func (s *DynamicSource) FormatMessage(_ context.Context, item DynamicItem) (domain.Message, error) {
	switch item.Type {
	case DynamicTypeLiveRecommend, DynamicTypeAd, DynamicTypeApplet:
		return domain.Message{}, subscription.ErrSkipNotification
	}
	text := fmt.Sprintf("📣 Новая динамика %s\n\n%s\n\nhttps://t.bilibili.com/%s",
		item.Modules.ModuleAuthor.Name, item.Text(), item.IDStr)
	return domain.Message{Text: text}, nil
}

package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"tg-subwatch-bot/internal/domain"
	"tg-subwatch-bot/internal/infra/metrics"
)

// Source описывает адаптер контент-источника одной платформы.
// Движок параметризован типом элемента контента I и не знает ничего
// о протоколе платформы: весь сетевой слой живёт в адаптере.
type Source[I any] interface {
	SubType() string
	SubID() string
	// QueryDescriptor возвращает сведения об источнике с каноническим идентификатором.
	QueryDescriptor(ctx context.Context) (domain.SourceDescriptor, error)
	// QueryItems возвращает все текущие элементы источника.
	QueryItems(ctx context.Context) ([]I, error)
	ItemMID(item I) string
	ParseItem(item I) domain.SeenContent
	FormatMessage(ctx context.Context, item I) (domain.Message, error)
}

// ErrSkipNotification возвращается из FormatMessage, если элемент нужно
// записать в журнал, но не рассылать (служебные типы контента).
var ErrSkipNotification = errors.New("элемент не требует уведомления")

// NewItemFilter переопределяет проверку новизны для снапшот-источников:
// новизна там определяется переходом состояния, а не журналом дедупликации.
type NewItemFilter[I any] interface {
	FilterNew(items []I) []I
}

// Manager — обобщённый движок проверки обновлений подписки:
// опрос источника, отсев уже увиденного, запись в журнал, рассылка.
type Manager[I any] struct {
	source          Source[I]
	sources         domain.SourceRepo
	seen            domain.SeenContentRepo
	entities        domain.EntityRepo
	sender          domain.MessageSender
	sendConcurrency int64
	log             zerolog.Logger
}

// DefaultSendConcurrency — потолок одновременных доставок при рассылке.
const DefaultSendConcurrency = 2

// NewManager создаёт движок для одного экземпляра источника.
func NewManager[I any](
	source Source[I],
	sources domain.SourceRepo,
	seen domain.SeenContentRepo,
	entities domain.EntityRepo,
	sender domain.MessageSender,
	sendConcurrency int,
	logger zerolog.Logger,
) *Manager[I] {
	if sendConcurrency <= 0 {
		sendConcurrency = DefaultSendConcurrency
	}
	return &Manager[I]{
		source:          source,
		sources:         sources,
		seen:            seen,
		entities:        entities,
		sender:          sender,
		sendConcurrency: int64(sendConcurrency),
		log: logger.With().
			Str("sub_type", source.SubType()).
			Str("sub_id", source.SubID()).
			Logger(),
	}
}

// queryNewItems возвращает элементы источника, которых ещё нет в журнале.
func (m *Manager[I]) queryNewItems(ctx context.Context) ([]I, error) {
	items, err := m.source.QueryItems(ctx)
	if err != nil {
		return nil, fmt.Errorf("опрос источника: %w", err)
	}
	if len(items) == 0 {
		return nil, nil
	}

	if filter, ok := any(m.source).(NewItemFilter[I]); ok {
		return filter.FilterNew(items), nil
	}

	mids := make([]string, 0, len(items))
	for _, item := range items {
		mids = append(mids, m.source.ItemMID(item))
	}
	missing, err := m.seen.QueryNotExistMIDs(ctx, m.source.SubType(), mids)
	if err != nil {
		return nil, fmt.Errorf("проверка журнала дедупликации: %w", err)
	}

	newItems := make([]I, 0, len(missing))
	for _, item := range items {
		if _, ok := missing[m.source.ItemMID(item)]; ok {
			newItems = append(newItems, item)
		}
	}
	return newItems, nil
}

// recordItems записывает элементы в журнал дедупликации.
// Сбой записи одного элемента исключает его из дальнейшей обработки,
// остальные элементы продолжаются независимо.
func (m *Manager[I]) recordItems(ctx context.Context, items []I) []I {
	recorded := make([]I, 0, len(items))
	for _, item := range items {
		content := m.source.ParseItem(item)
		if err := m.seen.UpsertContent(ctx, content); err != nil {
			m.log.Error().Err(err).Str("m_id", content.MID).Msg("запись элемента в журнал не удалась, элемент пропущен")
			continue
		}
		recorded = append(recorded, item)
	}
	return recorded
}

// CheckAndNotify выполняет один цикл проверки источника.
// Все записи в журнал дедупликации завершаются до отправки первого
// уведомления цикла: после сбоя между записью и отправкой уведомление
// теряется, но повторно не отправляется.
func (m *Manager[I]) CheckAndNotify(ctx context.Context) error {
	start := time.Now()
	defer func() {
		metrics.MonitorCheckSeconds.WithLabelValues(m.source.SubType()).Observe(time.Since(start).Seconds())
	}()

	newItems, err := m.queryNewItems(ctx)
	if err != nil {
		metrics.MonitorCheckErrors.WithLabelValues(m.source.SubType()).Inc()
		return fmt.Errorf("цикл проверки %s(%s): %w", m.source.SubType(), m.source.SubID(), err)
	}
	if len(newItems) == 0 {
		return nil
	}
	metrics.NewContentTotal.WithLabelValues(m.source.SubType()).Add(float64(len(newItems)))
	m.log.Info().Int("count", len(newItems)).Msg("обнаружены новые элементы")

	source, err := m.sources.FindSource(ctx, m.source.SubType(), m.source.SubID())
	if err != nil {
		metrics.MonitorCheckErrors.WithLabelValues(m.source.SubType()).Inc()
		return fmt.Errorf("поиск источника %s(%s): %w", m.source.SubType(), m.source.SubID(), err)
	}
	subscribers, err := m.entities.ListSubscribers(ctx, source.ID)
	if err != nil {
		metrics.MonitorCheckErrors.WithLabelValues(m.source.SubType()).Inc()
		return fmt.Errorf("список подписчиков %s(%s): %w", m.source.SubType(), m.source.SubID(), err)
	}

	recorded := m.recordItems(ctx, newItems)
	for _, item := range recorded {
		message, err := m.source.FormatMessage(ctx, item)
		if errors.Is(err, ErrSkipNotification) {
			continue
		}
		if err != nil {
			// элемент уже в журнале: уведомление теряется, дубля не будет
			m.log.Error().Err(err).Msg("форматирование уведомления не удалось")
			continue
		}
		m.fanOut(ctx, message, subscribers)
	}
	return nil
}

// AddSubscription подписывает сущность на источник. Идентификатор источника
// канонизируется через дескриптор: короткий номер разворачивается в полный.
// Вызывающая сторона приостанавливает планировщик на время мутации.
func (m *Manager[I]) AddSubscription(ctx context.Context, entity domain.Entity) (domain.SubscriptionSource, error) {
	descriptor, err := m.source.QueryDescriptor(ctx)
	if err != nil {
		return domain.SubscriptionSource{}, fmt.Errorf("запрос сведений об источнике: %w", err)
	}

	// текущие элементы записываются в журнал заранее, чтобы существующая
	// история источника не ушла подписчику уведомлениями
	newItems, err := m.queryNewItems(ctx)
	if err != nil {
		return domain.SubscriptionSource{}, fmt.Errorf("предзаполнение журнала: %w", err)
	}
	m.recordItems(ctx, newItems)

	source, err := m.sources.UpsertSource(ctx, m.source.SubType(), descriptor.SubID, descriptor.SubUserName, descriptor.SubInfo)
	if err != nil {
		return domain.SubscriptionSource{}, fmt.Errorf("сохранение источника: %w", err)
	}
	subscriber, err := m.entities.UpsertEntity(ctx, entity)
	if err != nil {
		return domain.SubscriptionSource{}, fmt.Errorf("сохранение получателя: %w", err)
	}
	subInfo := fmt.Sprintf("подписка %s: %s", m.source.SubType(), descriptor.SubID)
	if err := m.entities.AddSubscription(ctx, subscriber.ID, source.ID, subInfo); err != nil {
		return domain.SubscriptionSource{}, fmt.Errorf("привязка подписки: %w", err)
	}
	return source, nil
}

// RemoveSubscription снимает подписку сущности с источника.
// Сама запись источника и его журнал остаются: на источник могут быть
// подписаны другие сущности.
func (m *Manager[I]) RemoveSubscription(ctx context.Context, entity domain.Entity) error {
	source, err := m.sources.FindSource(ctx, m.source.SubType(), m.source.SubID())
	if err != nil {
		// идентификатор мог быть коротким номером: пробуем канонизировать
		descriptor, descErr := m.source.QueryDescriptor(ctx)
		if descErr != nil {
			return fmt.Errorf("поиск источника: %w", err)
		}
		source, err = m.sources.FindSource(ctx, m.source.SubType(), descriptor.SubID)
		if err != nil {
			return fmt.Errorf("поиск источника: %w", err)
		}
	}
	subscriber, err := m.entities.UpsertEntity(ctx, entity)
	if err != nil {
		return fmt.Errorf("сохранение получателя: %w", err)
	}
	if err := m.entities.RemoveSubscription(ctx, subscriber.ID, source.ID); err != nil {
		return fmt.Errorf("отвязка подписки: %w", err)
	}
	return nil
}

// ListSubscriptions возвращает подписки сущности данного типа источника
// в виде {sub_id: отображаемое имя}.
func (m *Manager[I]) ListSubscriptions(ctx context.Context, entity domain.Entity) (map[string]string, error) {
	subscriber, err := m.entities.UpsertEntity(ctx, entity)
	if err != nil {
		return nil, fmt.Errorf("сохранение получателя: %w", err)
	}
	sources, err := m.entities.ListEntitySources(ctx, subscriber.ID, m.source.SubType())
	if err != nil {
		return nil, fmt.Errorf("список подписок: %w", err)
	}
	result := make(map[string]string, len(sources))
	for _, source := range sources {
		result[source.SubID] = source.SubUserName
	}
	return result, nil
}

// ListAllSubscribedIDs возвращает идентификаторы всех источников данного типа,
// на которые есть хотя бы одна запись.
func ListAllSubscribedIDs(ctx context.Context, sources domain.SourceRepo, subType string) ([]string, error) {
	rows, err := sources.ListSourcesByType(ctx, subType)
	if err != nil {
		return nil, fmt.Errorf("список источников типа %s: %w", subType, err)
	}
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.SubID)
	}
	return ids, nil
}

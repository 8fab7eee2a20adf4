package domain

import (
	"context"
	"errors"
)

// ErrSourceNotFound возвращается, если источник отсутствует в базе.
var ErrSourceNotFound = errors.New("источник подписки не найден")

// SourceRepo управляет записями источников подписки.
// Пара (sub_type, sub_id) уникальна; запись на источник обновляется upsert-ом.
type SourceRepo interface {
	FindSource(ctx context.Context, subType, subID string) (SubscriptionSource, error)
	UpsertSource(ctx context.Context, subType, subID, subUserName, subInfo string) (SubscriptionSource, error)
	DeleteSource(ctx context.Context, id int64) error
	ListSourcesByType(ctx context.Context, subType string) ([]SubscriptionSource, error)
}

// SeenContentRepo — журнал дедупликации увиденного контента.
// Пара (source, m_id) уникальна, запись выполняется upsert-ом и никогда не удаляется.
type SeenContentRepo interface {
	// QueryNotExistMIDs возвращает подмножество mids, которых ещё нет в журнале.
	QueryNotExistMIDs(ctx context.Context, source string, mids []string) (map[string]struct{}, error)
	UpsertContent(ctx context.Context, content SeenContent) error
}

// EntityRepo управляет получателями и их связками с источниками.
type EntityRepo interface {
	UpsertEntity(ctx context.Context, entity Entity) (Entity, error)
	ListSubscribers(ctx context.Context, sourceID int64) ([]Entity, error)
	AddSubscription(ctx context.Context, entityID, sourceID int64, subInfo string) error
	RemoveSubscription(ctx context.Context, entityID, sourceID int64) error
	ListEntitySources(ctx context.Context, entityID int64, subType string) ([]SubscriptionSource, error)
}

// MessageSender доставляет уведомление одному получателю.
type MessageSender interface {
	Send(ctx context.Context, entity Entity, message Message) error
}

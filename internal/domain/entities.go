package domain

import "time"

// Типы поддерживаемых источников подписки.
const (
	SubTypeBiliLive    = "bili_live"
	SubTypeBiliDynamic = "bili_dynamic"
)

// SubscriptionSource описывает отслеживаемый внешний источник (аккаунт, канал, комната).
type SubscriptionSource struct {
	ID          int64
	SubType     string
	SubID       string
	SubUserName string
	SubInfo     string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// SourceDescriptor содержит сведения об источнике, полученные от внешнего API.
// SubID здесь всегда канонический: короткие и алиасные идентификаторы уже развёрнуты.
type SourceDescriptor struct {
	SubID       string
	SubUserName string
	SubInfo     string
}

// SeenContent — запись журнала уже увиденного контента.
// Журнал только пополняется, записи из него не удаляются.
type SeenContent struct {
	ID         int64
	Source     string
	MID        string
	MType      string
	MUID       string
	Title      string
	Content    string
	RefContent string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Entity описывает чат-идентичность, на которую рассылаются уведомления.
type Entity struct {
	ID         int64
	EntityType string
	ChatID     int64
	Name       string
	CreatedAt  time.Time
}

// Типы сущностей-получателей.
const (
	EntityTypePrivate = "private"
	EntityTypeGroup   = "group"
	EntityTypeChannel = "channel"
)

// Message — готовое к отправке уведомление.
type Message struct {
	Text     string
	CoverURL string
}

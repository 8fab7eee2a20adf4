package repo

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"tg-subwatch-bot/internal/domain"
	"tg-subwatch-bot/internal/infra/metrics"
)

// Postgres реализует репозитории на основе pgxpool.
type Postgres struct {
	pool *pgxpool.Pool
}

var (
	_ domain.SourceRepo      = (*Postgres)(nil)
	_ domain.SeenContentRepo = (*Postgres)(nil)
	_ domain.EntityRepo      = (*Postgres)(nil)
)

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) connCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		return context.WithTimeout(context.Background(), 5*time.Second)
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

// FindSource возвращает источник по типу и каноническому идентификатору.
func (p *Postgres) FindSource(ctx context.Context, subType, subID string) (domain.SubscriptionSource, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var source domain.SubscriptionSource
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT id, sub_type, sub_id, sub_user_name, sub_info, created_at, updated_at
FROM subscription_sources WHERE sub_type=$1 AND sub_id=$2
`, subType, subID).Scan(&source.ID, &source.SubType, &source.SubID, &source.SubUserName, &source.SubInfo, &source.CreatedAt, &source.UpdatedAt)
	metrics.ObserveNetworkRequest("postgres", "subscription_sources_find", "subscription_sources", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.SubscriptionSource{}, domain.ErrSourceNotFound
	}
	return source, err
}

// UpsertSource сохраняет источник; пара (sub_type, sub_id) уникальна.
func (p *Postgres) UpsertSource(ctx context.Context, subType, subID, subUserName, subInfo string) (domain.SubscriptionSource, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var source domain.SubscriptionSource
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
INSERT INTO subscription_sources (sub_type, sub_id, sub_user_name, sub_info)
VALUES ($1,$2,$3,$4)
ON CONFLICT (sub_type, sub_id) DO UPDATE SET sub_user_name=EXCLUDED.sub_user_name, sub_info=EXCLUDED.sub_info, updated_at=now()
RETURNING id, sub_type, sub_id, sub_user_name, sub_info, created_at, updated_at
`, subType, subID, subUserName, subInfo).Scan(&source.ID, &source.SubType, &source.SubID, &source.SubUserName, &source.SubInfo, &source.CreatedAt, &source.UpdatedAt)
	metrics.ObserveNetworkRequest("postgres", "subscription_sources_upsert", "subscription_sources", start, err)
	return source, err
}

// DeleteSource удаляет источник вместе с привязками подписок.
func (p *Postgres) DeleteSource(ctx context.Context, id int64) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `DELETE FROM subscription_sources WHERE id=$1`, id)
	metrics.ObserveNetworkRequest("postgres", "subscription_sources_delete", "subscription_sources", start, err)
	return err
}

// ListSourcesByType возвращает все источники данного типа.
func (p *Postgres) ListSourcesByType(ctx context.Context, subType string) ([]domain.SubscriptionSource, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, sub_type, sub_id, sub_user_name, sub_info, created_at, updated_at
FROM subscription_sources WHERE sub_type=$1
ORDER BY id
`, subType)
	metrics.ObserveNetworkRequest("postgres", "subscription_sources_list", "subscription_sources", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var sources []domain.SubscriptionSource
	for rows.Next() {
		var source domain.SubscriptionSource
		if err := rows.Scan(&source.ID, &source.SubType, &source.SubID, &source.SubUserName, &source.SubInfo, &source.CreatedAt, &source.UpdatedAt); err != nil {
			return nil, err
		}
		sources = append(sources, source)
	}
	return sources, rows.Err()
}

// QueryNotExistMIDs возвращает подмножество mids, которых ещё нет в журнале.
func (p *Postgres) QueryNotExistMIDs(ctx context.Context, source string, mids []string) (map[string]struct{}, error) {
	if len(mids) == 0 {
		return map[string]struct{}{}, nil
	}
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT m_id FROM seen_content WHERE source=$1 AND m_id = ANY($2)
`, source, mids)
	metrics.ObserveNetworkRequest("postgres", "seen_content_query_exist", "seen_content", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	exist := make(map[string]struct{}, len(mids))
	for rows.Next() {
		var mid string
		if err := rows.Scan(&mid); err != nil {
			return nil, err
		}
		exist[mid] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	missing := make(map[string]struct{})
	for _, mid := range mids {
		if _, ok := exist[mid]; !ok {
			missing[mid] = struct{}{}
		}
	}
	return missing, nil
}

// UpsertContent записывает элемент в журнал; пара (source, m_id) уникальна.
func (p *Postgres) UpsertContent(ctx context.Context, content domain.SeenContent) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO seen_content (source, m_id, m_type, m_uid, title, content, ref_content)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (source, m_id) DO UPDATE SET m_type=EXCLUDED.m_type, title=EXCLUDED.title, content=EXCLUDED.content, ref_content=EXCLUDED.ref_content, updated_at=now()
`, content.Source, content.MID, content.MType, content.MUID, content.Title, content.Content, content.RefContent)
	metrics.ObserveNetworkRequest("postgres", "seen_content_upsert", "seen_content", start, err)
	return err
}

// UpsertEntity сохраняет получателя; пара (entity_type, chat_id) уникальна.
func (p *Postgres) UpsertEntity(ctx context.Context, entity domain.Entity) (domain.Entity, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	err := p.pool.QueryRow(ctx, `
INSERT INTO entities (entity_type, chat_id, name)
VALUES ($1,$2,$3)
ON CONFLICT (entity_type, chat_id) DO UPDATE SET name=EXCLUDED.name
RETURNING id, entity_type, chat_id, name, created_at
`, entity.EntityType, entity.ChatID, entity.Name).Scan(&entity.ID, &entity.EntityType, &entity.ChatID, &entity.Name, &entity.CreatedAt)
	metrics.ObserveNetworkRequest("postgres", "entities_upsert", "entities", start, err)
	return entity, err
}

// ListSubscribers возвращает всех получателей, подписанных на источник.
func (p *Postgres) ListSubscribers(ctx context.Context, sourceID int64) ([]domain.Entity, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT e.id, e.entity_type, e.chat_id, e.name, e.created_at
FROM entities e JOIN entity_subscriptions es ON es.entity_id = e.id
WHERE es.source_id=$1
ORDER BY e.id
`, sourceID)
	metrics.ObserveNetworkRequest("postgres", "entities_list_subscribers", "entity_subscriptions", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var subscribers []domain.Entity
	for rows.Next() {
		var entity domain.Entity
		if err := rows.Scan(&entity.ID, &entity.EntityType, &entity.ChatID, &entity.Name, &entity.CreatedAt); err != nil {
			return nil, err
		}
		subscribers = append(subscribers, entity)
	}
	return subscribers, rows.Err()
}

// AddSubscription привязывает получателя к источнику. Повторная привязка
// обновляет описание подписки.
func (p *Postgres) AddSubscription(ctx context.Context, entityID, sourceID int64, subInfo string) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO entity_subscriptions (entity_id, source_id, sub_info)
VALUES ($1,$2,$3)
ON CONFLICT (entity_id, source_id) DO UPDATE SET sub_info=EXCLUDED.sub_info
`, entityID, sourceID, subInfo)
	metrics.ObserveNetworkRequest("postgres", "entity_subscriptions_add", "entity_subscriptions", start, err)
	return err
}

// RemoveSubscription снимает привязку получателя с источника.
func (p *Postgres) RemoveSubscription(ctx context.Context, entityID, sourceID int64) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `DELETE FROM entity_subscriptions WHERE entity_id=$1 AND source_id=$2`, entityID, sourceID)
	metrics.ObserveNetworkRequest("postgres", "entity_subscriptions_remove", "entity_subscriptions", start, err)
	return err
}

// ListEntitySources возвращает источники данного типа, на которые подписан получатель.
func (p *Postgres) ListEntitySources(ctx context.Context, entityID int64, subType string) ([]domain.SubscriptionSource, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT s.id, s.sub_type, s.sub_id, s.sub_user_name, s.sub_info, s.created_at, s.updated_at
FROM subscription_sources s JOIN entity_subscriptions es ON es.source_id = s.id
WHERE es.entity_id=$1 AND s.sub_type=$2
ORDER BY s.id
`, entityID, subType)
	metrics.ObserveNetworkRequest("postgres", "entity_sources_list", "entity_subscriptions", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var sources []domain.SubscriptionSource
	for rows.Next() {
		var source domain.SubscriptionSource
		if err := rows.Scan(&source.ID, &source.SubType, &source.SubID, &source.SubUserName, &source.SubInfo, &source.CreatedAt, &source.UpdatedAt); err != nil {
			return nil, err
		}
		sources = append(sources, source)
	}
	return sources, rows.Err()
}

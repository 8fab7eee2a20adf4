package subscription

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"tg-subwatch-bot/internal/domain"
	"tg-subwatch-bot/internal/infra/metrics"
)

// fanOut рассылает сообщение всем подписчикам с ограниченной конкурентностью.
// Доставка выполняется не более одного раза; сбой доставки одному получателю
// логируется и не влияет на остальных.
func (m *Manager[I]) fanOut(ctx context.Context, message domain.Message, subscribers []domain.Entity) {
	if len(subscribers) == 0 {
		return
	}
	sem := semaphore.NewWeighted(m.sendConcurrency)
	var wg sync.WaitGroup
	for _, entity := range subscribers {
		if err := sem.Acquire(ctx, 1); err != nil {
			// контекст отменён: оставшиеся доставки не начинаются
			break
		}
		wg.Add(1)
		go func(entity domain.Entity) {
			defer wg.Done()
			defer sem.Release(1)
			deliveryID := uuid.NewString()
			if err := m.sender.Send(ctx, entity, message); err != nil {
				metrics.NotifySendErrors.Inc()
				m.log.Error().Err(err).
					Str("delivery_id", deliveryID).
					Str("entity_type", entity.EntityType).
					Int64("chat_id", entity.ChatID).
					Msg("доставка уведомления получателю не удалась")
				return
			}
			metrics.NotifySendTotal.Inc()
			m.log.Debug().
				Str("delivery_id", deliveryID).
				Int64("chat_id", entity.ChatID).
				Msg("уведомление доставлено")
		}(entity)
	}
	wg.Wait()
}

package livestatus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"tg-subwatch-bot/internal/domain"
	"tg-subwatch-bot/internal/infra/metrics"
)

// ErrRoomUnknown возвращается, если комната не найдена даже после обновления кэша.
var ErrRoomUnknown = errors.New("комната не найдена среди отслеживаемых")

// DefaultTTL — окно актуальности пакетного снимка состояний.
const DefaultTTL = 15 * time.Second

// SnapshotFetcher получает состояние всех перечисленных комнат одним запросом.
type SnapshotFetcher interface {
	QueryRoomStatuses(ctx context.Context, roomIDs []string) (map[string]domain.LiveRoomStatus, error)
}

// RoomLister возвращает список всех отслеживаемых комнат.
type RoomLister func(ctx context.Context) ([]string, error)

// Cache — разделяемый кэш снимков состояния комнат с TTL и одиночным обновлением:
// сколько бы читателей ни пришло в пределах одного окна, внешний API
// опрашивается ровно один раз, пакетно для всех отслеживаемых комнат.
// Отдельно от снимков кэш держит непротухающую карту последних известных
// состояний, относительно которой считаются переходы.
type Cache struct {
	fetch SnapshotFetcher
	rooms RoomLister
	ttl   time.Duration
	log   zerolog.Logger
	now   func() time.Time

	flight singleflight.Group

	mu        sync.RWMutex
	snapshots map[string]domain.LiveRoomStatus
	expiresAt time.Time

	baseMu   sync.Mutex
	baseline map[string]domain.LiveRoomStatus
}

// NewCache создаёт кэш статусов. При ttl <= 0 используется DefaultTTL.
func NewCache(fetch SnapshotFetcher, rooms RoomLister, ttl time.Duration, logger zerolog.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		fetch:     fetch,
		rooms:     rooms,
		ttl:       ttl,
		log:       logger,
		now:       time.Now,
		snapshots: make(map[string]domain.LiveRoomStatus),
		baseline:  make(map[string]domain.LiveRoomStatus),
	}
}

// Latest возвращает актуальный снимок комнаты, при необходимости обновляя кэш.
// Комнату можно запрашивать и по короткому номеру.
func (c *Cache) Latest(ctx context.Context, roomID string) (domain.LiveRoomStatus, error) {
	if c.expired() {
		if err := c.refresh(ctx); err != nil {
			return domain.LiveRoomStatus{}, fmt.Errorf("обновление кэша статусов: %w", err)
		}
	}
	status, ok := c.lookup(roomID)
	if !ok {
		return domain.LiveRoomStatus{}, fmt.Errorf("комната %s: %w", roomID, ErrRoomUnknown)
	}
	return status, nil
}

// Advance сравнивает снимок с последним известным состоянием комнаты и
// замещает его. Первое наблюдение комнаты становится базовым состоянием
// и никогда не даёт уведомления.
func (c *Cache) Advance(status domain.LiveRoomStatus) domain.StatusUpdate {
	c.baseMu.Lock()
	defer c.baseMu.Unlock()
	prev, ok := c.baseline[status.RoomID]
	c.baseline[status.RoomID] = status
	if !ok {
		c.log.Debug().Str("room_id", status.RoomID).Msg("livestatus: первое наблюдение комнаты, принято за базовое состояние")
		return domain.StatusUpdate{Change: domain.StatusNoChange, Status: status}
	}
	return domain.DiffLiveRoomStatus(prev, status)
}

// Prime прогревает базовые состояния всех отслеживаемых комнат.
// Вызывается при старте, чтобы рестарт процесса не породил уведомлений
// о текущем состоянии эфиров.
func (c *Cache) Prime(ctx context.Context) error {
	if err := c.refresh(ctx); err != nil {
		return fmt.Errorf("прогрев кэша статусов: %w", err)
	}
	c.mu.RLock()
	statuses := make([]domain.LiveRoomStatus, 0, len(c.snapshots))
	for _, status := range c.snapshots {
		statuses = append(statuses, status)
	}
	c.mu.RUnlock()
	for _, status := range statuses {
		c.Advance(status)
	}
	c.log.Info().Int("rooms", len(statuses)).Msg("livestatus: базовые состояния комнат прогреты")
	return nil
}

func (c *Cache) expired() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.now().Before(c.expiresAt)
}

func (c *Cache) lookup(roomID string) (domain.LiveRoomStatus, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if status, ok := c.snapshots[roomID]; ok {
		return status, true
	}
	// короткий номер комнаты ищем полным перебором по снимкам
	for _, status := range c.snapshots {
		if status.ShortID != "" && status.ShortID == roomID {
			return status, true
		}
	}
	return domain.LiveRoomStatus{}, false
}

func (c *Cache) refresh(ctx context.Context) error {
	_, err, _ := c.flight.Do("refresh", func() (any, error) {
		// двойная проверка: пока мы ждали, кэш мог обновить другой вызов
		if !c.expired() {
			return nil, nil
		}
		roomIDs, err := c.rooms(ctx)
		if err != nil {
			return nil, fmt.Errorf("список отслеживаемых комнат: %w", err)
		}
		if len(roomIDs) == 0 {
			c.mu.Lock()
			c.expiresAt = c.now().Add(c.ttl)
			c.mu.Unlock()
			return nil, nil
		}
		statuses, err := c.fetch.QueryRoomStatuses(ctx, roomIDs)
		if err != nil {
			return nil, fmt.Errorf("опрос состояний комнат: %w", err)
		}
		c.mu.Lock()
		for roomID, status := range statuses {
			c.snapshots[roomID] = status
		}
		expiresAt := c.now().Add(c.ttl)
		c.expiresAt = expiresAt
		c.mu.Unlock()
		metrics.LiveCacheRefreshTotal.Inc()
		c.log.Debug().Int("rooms", len(statuses)).Time("expires_at", expiresAt).Msg("livestatus: кэш статусов обновлён")
		return nil, nil
	})
	return err
}

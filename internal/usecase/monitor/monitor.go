package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"tg-subwatch-bot/internal/domain"
	"tg-subwatch-bot/internal/infra/sched"
	"tg-subwatch-bot/internal/usecase/subscription"
)

// Checker — один цикл проверки одного источника.
type Checker interface {
	CheckAndNotify(ctx context.Context) error
}

// CheckerFactory строит проверяющий для источника с данным идентификатором.
type CheckerFactory func(subID string) Checker

// JobLock — необязательный межрепликовый замок тика (Redis).
// При nil тик выполняется безусловно.
type JobLock interface {
	Once(key string, ttl time.Duration, fn func() error) error
}

// Deps — зависимости монитора.
type Deps struct {
	Log     zerolog.Logger
	Sources domain.SourceRepo
	// NewLiveChecker и NewDynamicChecker создают проверяющих по типам подписки.
	NewLiveChecker    CheckerFactory
	NewDynamicChecker CheckerFactory
	Lock              JobLock

	LiveSpec         string
	DynamicSpec      string
	CheckConcurrency int
}

// Monitor строит периодические задачи проверки всех подписанных источников.
type Monitor struct {
	deps Deps
}

// New создаёт монитор.
func New(deps Deps) *Monitor {
	if deps.CheckConcurrency <= 0 {
		deps.CheckConcurrency = 16
	}
	return &Monitor{deps: deps}
}

// BuildJobs возвращает задачи монитора для регистрации в планировщике.
// Задача эфиров срабатывает каждые 30 секунд; пропущенные срабатывания
// схлопываются, допускаются два одновременных запуска, опоздание свыше
// минуты отбрасывается.
func (m *Monitor) BuildJobs() []sched.Job {
	return []sched.Job{
		{
			ID:           "bili_live_monitor",
			Spec:         m.deps.LiveSpec,
			Coalesce:     true,
			MaxInstances: 2,
			MisfireGrace: time.Minute,
			Run: func(ctx context.Context) {
				m.runLocked(ctx, "bili_live_monitor", domain.SubTypeBiliLive, m.deps.NewLiveChecker)
			},
		},
		{
			ID:           "bili_dynamic_monitor",
			Spec:         m.deps.DynamicSpec,
			Coalesce:     true,
			MaxInstances: 1,
			MisfireGrace: time.Minute,
			Run: func(ctx context.Context) {
				m.runLocked(ctx, "bili_dynamic_monitor", domain.SubTypeBiliDynamic, m.deps.NewDynamicChecker)
			},
		},
	}
}

func (m *Monitor) runLocked(ctx context.Context, jobID, subType string, factory CheckerFactory) {
	run := func() error { return m.runForType(ctx, subType, factory) }
	var err error
	if m.deps.Lock != nil {
		err = m.deps.Lock.Once("monitor:"+jobID, 10*time.Second, run)
	} else {
		err = run()
	}
	if err != nil {
		m.deps.Log.Error().Err(err).Str("job", jobID).Msg("monitor: тик завершился с ошибкой")
	}
}

// runForType проверяет все подписанные источники типа с ограниченной
// конкурентностью. Сбой проверки одного источника не влияет на остальные.
func (m *Monitor) runForType(ctx context.Context, subType string, factory CheckerFactory) error {
	subIDs, err := subscription.ListAllSubscribedIDs(ctx, m.deps.Sources, subType)
	if err != nil {
		return fmt.Errorf("monitor: список источников %s: %w", subType, err)
	}
	if len(subIDs) == 0 {
		return nil
	}

	sem := semaphore.NewWeighted(int64(m.deps.CheckConcurrency))
	for _, subID := range subIDs {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		go func(subID string) {
			defer sem.Release(1)
			if err := factory(subID).CheckAndNotify(ctx); err != nil {
				m.deps.Log.Error().Err(err).
					Str("sub_type", subType).
					Str("sub_id", subID).
					Msg("monitor: проверка источника не удалась")
			}
		}(subID)
	}
	// дожидаемся завершения всех проверок
	if err := sem.Acquire(ctx, int64(m.deps.CheckConcurrency)); err != nil {
		return nil
	}
	sem.Release(int64(m.deps.CheckConcurrency))
	return nil
}

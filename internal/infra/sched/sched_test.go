package sched

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// fixedDelay — расписание с постоянным интервалом без округления до секунд.
type fixedDelay struct {
	delay time.Duration
}

func (f fixedDelay) Next(t time.Time) time.Time {
	return t.Add(f.delay)
}

func newTestScheduler() *Scheduler {
	return New(zerolog.Nop())
}

func TestRegisterValidatesJob(t *testing.T) {
	s := newTestScheduler()
	if err := s.Register(Job{ID: "job", Spec: "*/30 * * * * *"}); err == nil {
		t.Fatalf("ожидали ошибку для задачи без функции")
	}
	if err := s.Register(Job{ID: "job", Spec: "не cron", Run: func(context.Context) {}}); err == nil {
		t.Fatalf("ожидали ошибку разбора спецификации")
	}
	if err := s.Register(Job{ID: "job", Spec: "*/30 * * * * *", Run: func(context.Context) {}}); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if err := s.Register(Job{ID: "every", Spec: "@every 2m", Run: func(context.Context) {}}); err != nil {
		t.Fatalf("не ожидали ошибку для @every: %v", err)
	}
}

func TestMaxInstancesSkipsOverlappingRun(t *testing.T) {
	s := newTestScheduler()

	var runs atomic.Int32
	var concurrent atomic.Int32
	var peak atomic.Int32

	err := s.Register(Job{
		ID:           "slow",
		Schedule:     fixedDelay{delay: 30 * time.Millisecond},
		MaxInstances: 1,
		Run: func(ctx context.Context) {
			cur := concurrent.Add(1)
			for {
				old := peak.Load()
				if cur <= old || peak.CompareAndSwap(old, cur) {
					break
				}
			}
			runs.Add(1)
			time.Sleep(100 * time.Millisecond)
			concurrent.Add(-1)
		},
	})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 350*time.Millisecond)
	defer cancel()
	s.Run(ctx)
	time.Sleep(150 * time.Millisecond)

	if got := peak.Load(); got != 1 {
		t.Fatalf("ожидали не более одного одновременного запуска, получили %d", got)
	}
	// при интервале 30мс и работе 100мс часть срабатываний обязана быть пропущена
	if got := runs.Load(); got < 2 || got > 4 {
		t.Fatalf("ожидали 2-4 запуска за окно, получили %d", got)
	}
}

func TestPauseDropsFirings(t *testing.T) {
	s := newTestScheduler()

	var runs atomic.Int32
	err := s.Register(Job{
		ID:       "paused",
		Schedule: fixedDelay{delay: 20 * time.Millisecond},
		Run: func(ctx context.Context) {
			runs.Add(1)
		},
	})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}

	s.Pause()
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.Run(ctx)
	}()

	time.Sleep(120 * time.Millisecond)
	if got := runs.Load(); got != 0 {
		t.Fatalf("на паузе не должно быть запусков, получили %d", got)
	}

	s.Resume()
	time.Sleep(120 * time.Millisecond)
	cancel()
	wg.Wait()

	if got := runs.Load(); got == 0 {
		t.Fatalf("после возобновления ожидали запуски")
	}
}

func TestMisfireGraceDropsLateFiring(t *testing.T) {
	s := newTestScheduler()

	base := time.Now()
	var calls atomic.Int32
	// первое срабатывание отдаём сильно в прошлом, чтобы оно оказалось просроченным
	s.now = func() time.Time {
		if calls.Add(1) == 1 {
			return base.Add(-10 * time.Second)
		}
		return time.Now()
	}

	var runs atomic.Int32
	err := s.Register(Job{
		ID:           "late",
		Schedule:     fixedDelay{delay: 30 * time.Millisecond},
		MisfireGrace: 50 * time.Millisecond,
		Run: func(ctx context.Context) {
			runs.Add(1)
		},
	})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.Run(ctx)
	}()

	// просроченное срабатывание наступает через 30мс и должно быть отброшено,
	// свежее наступит не раньше чем через 60мс
	time.Sleep(45 * time.Millisecond)
	if got := runs.Load(); got != 0 {
		t.Fatalf("просроченное срабатывание не должно выполняться, получили %d запусков", got)
	}
	cancel()
	wg.Wait()
}

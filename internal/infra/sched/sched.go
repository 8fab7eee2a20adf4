package sched

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"tg-subwatch-bot/internal/infra/metrics"
)

// jobParser разбирает cron-спецификации с опциональным полем секунд и дескрипторами @every.
var jobParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Job описывает одну периодическую задачу.
type Job struct {
	ID   string
	Spec string
	// Schedule задаёт расписание напрямую, минуя разбор Spec.
	Schedule cron.Schedule
	// Coalesce схлопывает несколько пропущенных срабатываний в одно.
	Coalesce bool
	// MaxInstances ограничивает число одновременно работающих запусков задачи.
	// Срабатывание при достигнутом лимите пропускается, а не ставится в очередь.
	MaxInstances int
	// MisfireGrace задаёт окно, после которого опоздавшее срабатывание отбрасывается.
	MisfireGrace time.Duration
	Run          func(ctx context.Context)
}

type scheduledJob struct {
	Job
	mu      sync.Mutex
	running int
}

func (j *scheduledJob) tryAcquire() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.running >= j.MaxInstances {
		return false
	}
	j.running++
	return true
}

func (j *scheduledJob) release() {
	j.mu.Lock()
	j.running--
	j.mu.Unlock()
}

// Scheduler запускает зарегистрированные задачи по расписанию.
// Pause останавливает только старт новых циклов: уже идущий цикл не прерывается.
type Scheduler struct {
	log    zerolog.Logger
	now    func() time.Time
	mu     sync.Mutex
	jobs   []*scheduledJob
	paused bool
}

// New создаёт планировщик.
func New(logger zerolog.Logger) *Scheduler {
	return &Scheduler{log: logger, now: time.Now}
}

// Register добавляет задачу. Спецификация разбирается сразу, до запуска.
func (s *Scheduler) Register(job Job) error {
	if job.Run == nil {
		return errors.New("sched: функция задачи не задана")
	}
	if job.ID == "" {
		return errors.New("sched: идентификатор задачи не задан")
	}
	if job.Schedule == nil {
		schedule, err := jobParser.Parse(job.Spec)
		if err != nil {
			return fmt.Errorf("разбор cron-спецификации %q: %w", job.Spec, err)
		}
		job.Schedule = schedule
	}
	if job.MaxInstances <= 0 {
		job.MaxInstances = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, &scheduledJob{Job: job})
	return nil
}

// Pause приостанавливает старт новых циклов всех задач.
func (s *Scheduler) Pause() {
	s.mu.Lock()
	s.paused = true
	s.mu.Unlock()
	s.log.Debug().Msg("sched: планировщик приостановлен")
}

// Resume возобновляет запуск задач.
func (s *Scheduler) Resume() {
	s.mu.Lock()
	s.paused = false
	s.mu.Unlock()
	s.log.Debug().Msg("sched: планировщик возобновлён")
}

func (s *Scheduler) isPaused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// Run запускает циклы всех зарегистрированных задач и блокируется до отмены контекста.
func (s *Scheduler) Run(ctx context.Context) {
	s.mu.Lock()
	jobs := make([]*scheduledJob, len(s.jobs))
	copy(jobs, s.jobs)
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, job := range jobs {
		wg.Add(1)
		go func(job *scheduledJob) {
			defer wg.Done()
			s.runJob(ctx, job)
		}(job)
	}
	wg.Wait()
}

func (s *Scheduler) runJob(ctx context.Context, job *scheduledJob) {
	for {
		now := s.now()
		next := job.Schedule.Next(now)
		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		fired := next
		now = s.now()
		if job.Coalesce {
			// несколько пропущенных срабатываний выполняются одним запуском
			for {
				n := job.Schedule.Next(fired)
				if n.After(now) {
					break
				}
				fired = n
			}
		}

		if job.MisfireGrace > 0 && now.Sub(fired) > job.MisfireGrace {
			s.log.Warn().Str("job", job.ID).Time("fired", fired).Msg("sched: срабатывание просрочено и отброшено")
			metrics.SchedulerSkippedRuns.WithLabelValues(job.ID, "misfire").Inc()
			continue
		}
		if s.isPaused() {
			s.log.Debug().Str("job", job.ID).Msg("sched: планировщик на паузе, срабатывание пропущено")
			metrics.SchedulerSkippedRuns.WithLabelValues(job.ID, "paused").Inc()
			continue
		}
		if !job.tryAcquire() {
			s.log.Warn().Str("job", job.ID).Msg("sched: предыдущий запуск ещё выполняется, срабатывание пропущено")
			metrics.SchedulerSkippedRuns.WithLabelValues(job.ID, "overlap").Inc()
			continue
		}

		go func() {
			defer job.release()
			job.Run(ctx)
		}()
	}
}

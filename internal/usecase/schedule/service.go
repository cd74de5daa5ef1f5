package schedule

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"zodiak/internal/domain"
	"zodiak/internal/infra/metrics"
)

// Pipeline то, что планировщик запускает на каждого пользователя.
type Pipeline interface {
	EnsureAndDeliver(ctx context.Context, profile domain.Profile, date time.Time) (bool, error)
}

// Service решает, кого обрабатывать на тике, и запускает пайплайн.
//
// Защита от перекрытия тиков процессная: второй тик при идущем прогоне
// отбрасывается. Между несколькими инстансами сервиса координации нет —
// корректность там держит upsert по (user_id, date) в хранилище.
type Service struct {
	profiles    domain.ProfileRepo
	pipeline    Pipeline
	loc         *time.Location
	concurrency int
	log         zerolog.Logger

	running atomic.Bool

	mu          sync.Mutex
	lastRunDate string
}

// NewService создаёт планировщик.
func NewService(profiles domain.ProfileRepo, pipeline Pipeline, loc *time.Location, concurrency int, logger zerolog.Logger) *Service {
	if loc == nil {
		loc = time.UTC
	}
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Service{
		profiles:    profiles,
		pipeline:    pipeline,
		loc:         loc,
		concurrency: concurrency,
		log:         logger,
	}
}

// ErrTickInProgress тик отброшен: предыдущий прогон ещё идёт.
var ErrTickInProgress = fmt.Errorf("тик уже выполняется")

// RunTick один прогон планировщика: выборка, фильтр по времени отправки
// и отметке за сегодня, запуск пайплайна по каждому. Ошибка одного
// пользователя логируется и не прерывает остальных; ошибка выборки
// профилей (системная) прерывает тик целиком.
func (s *Service) RunTick(ctx context.Context, now time.Time) (domain.TickSummary, error) {
	if !s.running.CompareAndSwap(false, true) {
		metrics.SchedulerTicksDropped.Inc()
		return domain.TickSummary{}, ErrTickInProgress
	}
	defer s.running.Store(false)

	tickStart := time.Now()
	defer func() {
		metrics.SchedulerTickSeconds.Observe(time.Since(tickStart).Seconds())
	}()

	local := now.In(s.loc)
	hhmm := local.Format("15:04")

	profiles, err := s.profiles.ListEligible(ctx)
	if err != nil {
		return domain.TickSummary{}, fmt.Errorf("выборка профилей: %w", err)
	}

	due := make([]domain.Profile, 0)
	for _, p := range profiles {
		if !p.EligibleForGuidance() {
			continue
		}
		if p.GuidanceTime != hhmm {
			continue
		}
		if p.SentOn(local, s.loc) {
			continue
		}
		due = append(due, p)
	}

	summary := domain.TickSummary{Total: len(due)}
	var sent, skipped atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, p := range due {
		profile := p
		g.Go(func() error {
			ok, err := s.pipeline.EnsureAndDeliver(gctx, profile, local)
			if err != nil {
				skipped.Add(1)
				s.log.Error().Err(err).Str("user_id", profile.ID).Msg("scheduler: пользователь пропущен")
				return nil
			}
			if ok {
				sent.Add(1)
			} else {
				skipped.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	summary.Sent = int(sent.Load())
	summary.Skipped = int(skipped.Load())

	s.mu.Lock()
	s.lastRunDate = local.Format("2006-01-02")
	s.mu.Unlock()

	s.log.Info().
		Str("time", hhmm).
		Int("total", summary.Total).
		Int("sent", summary.Sent).
		Int("skipped", summary.Skipped).
		Msg("scheduler: тик завершён")
	return summary, nil
}

// LastRunDate дата последнего прогона, для диагностики.
func (s *Service) LastRunDate() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRunDate
}

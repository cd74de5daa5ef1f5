package guidance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"zodiak/internal/domain"
	"zodiak/internal/infra/metrics"
)

// Service реализует пайплайн guidance: ровно одна запись и не больше
// одной рассылки на пользователя в день.
type Service struct {
	profiles  domain.ProfileRepo
	guidances domain.GuidanceRepo
	charts    domain.ChartProvider
	generator domain.NarrativeGenerator
	sender    domain.SMSSender
	cache     domain.Cache
	once      domain.Cache

	profileTTL  time.Duration
	guidanceTTL time.Duration
	log         zerolog.Logger
}

// Config зависимости и настройки пайплайна.
type Config struct {
	Profiles  domain.ProfileRepo
	Guidances domain.GuidanceRepo
	Charts    domain.ChartProvider
	Generator domain.NarrativeGenerator
	Sender    domain.SMSSender
	// Cache процессный TTL-кэш профилей и guidance.
	Cache domain.Cache
	// Once межпроцессные once-флаги (refresh, натальные тексты).
	Once        domain.Cache
	ProfileTTL  time.Duration
	GuidanceTTL time.Duration
	Logger      zerolog.Logger
}

// NewService создаёт пайплайн.
func NewService(cfg Config) *Service {
	profileTTL := cfg.ProfileTTL
	if profileTTL <= 0 {
		profileTTL = 5 * time.Minute
	}
	guidanceTTL := cfg.GuidanceTTL
	if guidanceTTL <= 0 {
		guidanceTTL = 12 * time.Hour
	}
	return &Service{
		profiles:    cfg.Profiles,
		guidances:   cfg.Guidances,
		charts:      cfg.Charts,
		generator:   cfg.Generator,
		sender:      cfg.Sender,
		cache:       cfg.Cache,
		once:        cfg.Once,
		profileTTL:  profileTTL,
		guidanceTTL: guidanceTTL,
		log:         cfg.Logger,
	}
}

func guidanceCacheKey(userID string, date time.Time) string {
	return "guidance:" + userID + ":" + date.Format("2006-01-02")
}

// EnsureForToday гарантирует существование guidance за день.
// Возвращает запись и признак того, что она создана этим вызовом.
//
// Повторный вызов за тот же день — no-op: существующая запись
// возвращается без генерации и без побочных эффектов. При гонке двух
// вызовов уникальность держит upsert по (user_id, date) в хранилище.
func (s *Service) EnsureForToday(ctx context.Context, profile domain.Profile, date time.Time) (domain.DailyGuidance, bool, error) {
	if !profile.EligibleForGuidance() {
		return domain.DailyGuidance{}, false, fmt.Errorf("профиль %s не допущен к guidance", profile.ID)
	}

	if existing, ok := s.cachedGuidance(profile.ID, date); ok {
		return existing, false, nil
	}
	existing, err := s.guidances.Get(ctx, profile.ID, date)
	if err == nil {
		s.cacheGuidance(existing)
		return existing, false, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.DailyGuidance{}, false, fmt.Errorf("проверка guidance: %w", err)
	}

	created, err := s.generateAndPersist(ctx, profile, date, false)
	if err != nil {
		return domain.DailyGuidance{}, false, err
	}
	return created, true, nil
}

func (s *Service) generateAndPersist(ctx context.Context, profile domain.Profile, date time.Time, replace bool) (domain.DailyGuidance, error) {
	buildStart := time.Now()
	metrics.IncGuidanceForUser(profile.ID)

	transits, err := s.charts.Transits(ctx, date)
	if err != nil {
		// без транзитов генератор всё равно обязан вернуть валидный
		// payload, поэтому идём дальше с пустым снапшотом
		s.log.Warn().Err(err).Str("user_id", profile.ID).Msg("pipeline: транзиты недоступны")
		transits = domain.TransitSnapshot{Date: date}
	}

	payload, source, err := s.generator.Generate(ctx, profile.ID, profile.NatalChart, transits)
	if err != nil {
		if errors.Is(err, domain.ErrRateLimited) {
			metrics.IncGuidanceSkipped("rate_limited")
		}
		return domain.DailyGuidance{}, fmt.Errorf("генерация guidance: %w", err)
	}

	record := domain.DailyGuidance{
		UserID:  profile.ID,
		Date:    date,
		Payload: payload,
		Source:  source,
	}
	var saved domain.DailyGuidance
	if replace {
		saved, err = s.guidances.Replace(ctx, record)
	} else {
		saved, err = s.guidances.Upsert(ctx, record)
	}
	if err != nil {
		return domain.DailyGuidance{}, fmt.Errorf("сохранение guidance: %w", err)
	}

	s.cacheGuidance(saved)
	metrics.IncGuidanceGenerated(string(source))
	metrics.GuidanceBuildSeconds.Observe(time.Since(buildStart).Seconds())
	return saved, nil
}

// Deliver отправляет guidance по SMS. При отказе основной отправки
// делается ровно одна запасная попытка с коротким текстом. Любая
// успешная отправка помечает профиль отправленным; полный провал
// оставляет last_guidance_sent_at нетронутым, чтобы следующий тик
// не потерял пользователя.
func (s *Service) Deliver(ctx context.Context, profile domain.Profile, g domain.DailyGuidance) error {
	text := FormatSMS(profile.FirstName, g.Payload)

	if _, err := s.sender.Send(ctx, profile.Phone, text); err != nil {
		metrics.SMSSendErrors.Inc()
		s.log.Warn().Err(err).Str("user_id", profile.ID).Msg("pipeline: основная отправка не удалась, пробуем запасную")

		metrics.SMSFallbackTotal.Inc()
		if _, err := s.sender.Send(ctx, profile.Phone, FallbackSMS(profile.FirstName)); err != nil {
			metrics.SMSSendErrors.Inc()
			return fmt.Errorf("отправка guidance: %w", err)
		}
	}

	if err := s.profiles.UpdateLastGuidanceSent(ctx, profile.ID, time.Now().UTC()); err != nil {
		// сообщение уже ушло: ошибку логируем, но не считаем доставку проваленной
		s.log.Error().Err(err).Str("user_id", profile.ID).Msg("pipeline: не удалось пометить профиль отправленным")
	}
	return nil
}

// EnsureAndDeliver полный проход по одному пользователю: генерация при
// необходимости и доставка, если guidance создан этим вызовом.
// Возвращает true, если сообщение отправлено.
func (s *Service) EnsureAndDeliver(ctx context.Context, profile domain.Profile, date time.Time) (bool, error) {
	g, createdNow, err := s.EnsureForToday(ctx, profile, date)
	if err != nil {
		return false, err
	}
	// запись существовала до нас: либо уже отправлена, либо доставка
	// сегодня уже проваливалась — повторно в тот же день не шлём
	if !createdNow {
		return false, nil
	}
	if err := s.Deliver(ctx, profile, g); err != nil {
		return false, err
	}
	return true, nil
}

// RefreshToday ручная перегенерация guidance за сегодня. Разрешена один
// раз в день на пользователя; вторая попытка получает ErrAlreadyDone.
func (s *Service) RefreshToday(ctx context.Context, userID string, date time.Time) (domain.DailyGuidance, error) {
	profile, err := s.profile(ctx, userID)
	if err != nil {
		return domain.DailyGuidance{}, err
	}
	if !profile.EligibleForGuidance() {
		return domain.DailyGuidance{}, fmt.Errorf("профиль %s не допущен к guidance", profile.ID)
	}

	var refreshed domain.DailyGuidance
	key := "refresh:" + userID + ":" + date.Format("2006-01-02")
	err = s.once.Once(key, 25*time.Hour, func() error {
		var genErr error
		refreshed, genErr = s.generateAndPersist(ctx, profile, date, true)
		return genErr
	})
	if err != nil {
		return domain.DailyGuidance{}, err
	}
	return refreshed, nil
}

// Today возвращает guidance пользователя за день для веб-зеркала,
// без побочных эффектов.
func (s *Service) Today(ctx context.Context, userID string, date time.Time) (domain.DailyGuidance, error) {
	if g, ok := s.cachedGuidance(userID, date); ok {
		return g, nil
	}
	g, err := s.guidances.Get(ctx, userID, date)
	if err != nil {
		return domain.DailyGuidance{}, err
	}
	s.cacheGuidance(g)
	return g, nil
}

// EnsureNatalTexts генерирует интерпретацию и резюме натальной карты,
// если их ещё нет. Интерпретация пробуется не чаще раза в день:
// повторные отказы провайдера не выжигают лимиты.
func (s *Service) EnsureNatalTexts(ctx context.Context, profile domain.Profile) error {
	if len(profile.NatalChart) == 0 {
		return fmt.Errorf("у профиля %s нет натальной карты", profile.ID)
	}
	if profile.NatalInterpretation != "" && profile.NatalSummary != "" {
		return nil
	}

	interpretation := profile.NatalInterpretation
	if interpretation == "" {
		// не больше одной попытки в день: при лежащем провайдере флаг
		// остаётся взведённым и до завтра интерпретация не пробуется
		key := "natal:attempt:" + profile.ID + ":" + time.Now().UTC().Format("2006-01-02")
		if _, err := s.once.Get(key); errors.Is(err, domain.ErrNotFound) {
			_ = s.once.Set(key, []byte("1"), 25*time.Hour)
			interpretation, err = s.generator.NatalInterpretation(ctx, profile.NatalChart, profile.FirstName)
			if err != nil {
				return fmt.Errorf("интерпретация: %w", err)
			}
		}
	}

	summary := profile.NatalSummary
	if summary == "" {
		var err error
		summary, err = s.generator.NatalSummary(ctx, profile.NatalChart, profile.FirstName)
		if err != nil {
			return fmt.Errorf("резюме: %w", err)
		}
	}

	if interpretation == profile.NatalInterpretation && summary == profile.NatalSummary {
		return nil
	}
	if err := s.profiles.UpdateNatalTexts(ctx, profile.ID, interpretation, summary); err != nil {
		return fmt.Errorf("сохранение натальных текстов: %w", err)
	}
	s.dropProfileCache(profile.ID)
	return nil
}

func (s *Service) profile(ctx context.Context, userID string) (domain.Profile, error) {
	if s.cache != nil {
		if raw, err := s.cache.Get("profile:" + userID); err == nil {
			var p domain.Profile
			if err := json.Unmarshal(raw, &p); err == nil {
				return p, nil
			}
		}
	}
	p, err := s.profiles.GetByID(ctx, userID)
	if err != nil {
		return domain.Profile{}, fmt.Errorf("получение профиля: %w", err)
	}
	if s.cache != nil {
		if raw, err := json.Marshal(p); err == nil {
			_ = s.cache.Set("profile:"+userID, raw, s.profileTTL)
		}
	}
	return p, nil
}

func (s *Service) dropProfileCache(userID string) {
	if s.cache != nil {
		_ = s.cache.Set("profile:"+userID, nil, time.Nanosecond)
	}
}

func (s *Service) cachedGuidance(userID string, date time.Time) (domain.DailyGuidance, bool) {
	if s.cache == nil {
		return domain.DailyGuidance{}, false
	}
	raw, err := s.cache.Get(guidanceCacheKey(userID, date))
	if err != nil {
		return domain.DailyGuidance{}, false
	}
	var g domain.DailyGuidance
	if err := json.Unmarshal(raw, &g); err != nil {
		return domain.DailyGuidance{}, false
	}
	return g, true
}

func (s *Service) cacheGuidance(g domain.DailyGuidance) {
	if s.cache == nil {
		return
	}
	raw, err := json.Marshal(g)
	if err != nil {
		return
	}
	_ = s.cache.Set(guidanceCacheKey(g.UserID, g.Date), raw, s.guidanceTTL)
}

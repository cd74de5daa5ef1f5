package guidance

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"zodiak/internal/domain"
	"zodiak/internal/infra/cache"
)

type stubProfiles struct {
	mu       sync.Mutex
	profiles map[string]domain.Profile
	marked   map[string]time.Time
}

func newStubProfiles(list ...domain.Profile) *stubProfiles {
	s := &stubProfiles{profiles: map[string]domain.Profile{}, marked: map[string]time.Time{}}
	for _, p := range list {
		s.profiles[p.ID] = p
	}
	return s
}

func (s *stubProfiles) GetByID(_ context.Context, id string) (domain.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[id]
	if !ok {
		return domain.Profile{}, domain.ErrNotFound
	}
	return p, nil
}

func (s *stubProfiles) GetByPhone(context.Context, string) (domain.Profile, error) {
	return domain.Profile{}, domain.ErrNotFound
}

func (s *stubProfiles) ListEligible(context.Context) ([]domain.Profile, error) { return nil, nil }

func (s *stubProfiles) ListTrialsExpiringBy(context.Context, time.Time) ([]domain.Profile, error) {
	return nil, nil
}

func (s *stubProfiles) UpdateLastGuidanceSent(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marked[id] = at
	return nil
}

func (s *stubProfiles) UpdateNatalTexts(_ context.Context, id, interpretation, summary string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.profiles[id]
	if interpretation != "" {
		p.NatalInterpretation = interpretation
	}
	if summary != "" {
		p.NatalSummary = summary
	}
	s.profiles[id] = p
	return nil
}

// stubGuidances повторяет семантику upsert с ON CONFLICT DO NOTHING.
type stubGuidances struct {
	mu      sync.Mutex
	rows    map[string]domain.DailyGuidance
	nextID  int64
	upserts int
}

func newStubGuidances() *stubGuidances {
	return &stubGuidances{rows: map[string]domain.DailyGuidance{}}
}

func rowKey(userID string, date time.Time) string {
	return userID + "|" + date.Format("2006-01-02")
}

func (s *stubGuidances) Get(_ context.Context, userID string, date time.Time) (domain.DailyGuidance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.rows[rowKey(userID, date)]
	if !ok {
		return domain.DailyGuidance{}, domain.ErrNotFound
	}
	return g, nil
}

func (s *stubGuidances) Upsert(_ context.Context, g domain.DailyGuidance) (domain.DailyGuidance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserts++
	key := rowKey(g.UserID, g.Date)
	if existing, ok := s.rows[key]; ok {
		return existing, nil
	}
	s.nextID++
	g.ID = s.nextID
	g.CreatedAt = time.Now()
	s.rows[key] = g
	return g, nil
}

func (s *stubGuidances) Replace(_ context.Context, g domain.DailyGuidance) (domain.DailyGuidance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := rowKey(g.UserID, g.Date)
	if existing, ok := s.rows[key]; ok {
		g.ID = existing.ID
	} else {
		s.nextID++
		g.ID = s.nextID
	}
	s.rows[key] = g
	return g, nil
}

func (s *stubGuidances) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

type stubCharts struct {
	err   error
	calls int
	mu    sync.Mutex
}

func (s *stubCharts) Transits(_ context.Context, date time.Time) (domain.TransitSnapshot, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.err != nil {
		return domain.TransitSnapshot{}, s.err
	}
	return domain.TransitSnapshot{Date: date, Positions: []byte(`{"sun":"virgo"}`)}, nil
}

type stubGenerator struct {
	mu         sync.Mutex
	calls      int
	natalCalls int
	payload    domain.GuidancePayload
	source     domain.GuidanceSource
	err        error
}

func newStubGenerator() *stubGenerator {
	return &stubGenerator{
		payload: domain.GuidancePayload{
			Summary: "Belle journée",
			Love:    domain.GuidanceSection{Text: "a", Score: 75},
			Work:    domain.GuidanceSection{Text: "b", Score: 75},
			Energy:  domain.GuidanceSection{Text: "c", Score: 75},
		},
		source: domain.SourceLLM,
	}
}

func (s *stubGenerator) Generate(context.Context, string, []byte, domain.TransitSnapshot) (domain.GuidancePayload, domain.GuidanceSource, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.err != nil {
		return domain.GuidancePayload{}, "", s.err
	}
	return s.payload, s.source, nil
}

func (s *stubGenerator) NatalInterpretation(context.Context, []byte, string) (string, error) {
	s.mu.Lock()
	s.natalCalls++
	s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	return "interprétation détaillée", nil
}

func (s *stubGenerator) NatalSummary(context.Context, []byte, string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return "résumé court", nil
}

func (s *stubGenerator) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type stubSender struct {
	mu       sync.Mutex
	sent     []string
	failures int
}

func (s *stubSender) Send(_ context.Context, to, text string) (domain.SendResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, text)
	if s.failures > 0 {
		s.failures--
		return domain.SendResult{}, errors.New("gateway 500")
	}
	return domain.SendResult{MessageID: "msg"}, nil
}

func (s *stubSender) Receipt(context.Context, string) (domain.DeliveryReceipt, error) {
	return domain.DeliveryReceipt{}, domain.ErrNotFound
}

func (s *stubSender) ListInbound(context.Context, string) ([]domain.InboundMessage, error) {
	return nil, nil
}

func (s *stubSender) sentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func eligibleProfile() domain.Profile {
	return domain.Profile{
		ID:                 "u1",
		Phone:              "0612345678",
		FirstName:          "Marie",
		NatalChart:         []byte(`{"sun":"leo"}`),
		Subscription:       domain.SubscriptionTrial,
		GuidanceSMSEnabled: true,
		GuidanceTime:       "08:00",
	}
}

type fixture struct {
	profiles  *stubProfiles
	guidances *stubGuidances
	charts    *stubCharts
	generator *stubGenerator
	sender    *stubSender
	service   *Service
}

func newFixture(profiles ...domain.Profile) *fixture {
	if len(profiles) == 0 {
		profiles = []domain.Profile{eligibleProfile()}
	}
	f := &fixture{
		profiles:  newStubProfiles(profiles...),
		guidances: newStubGuidances(),
		charts:    &stubCharts{},
		generator: newStubGenerator(),
		sender:    &stubSender{},
	}
	f.service = NewService(Config{
		Profiles:  f.profiles,
		Guidances: f.guidances,
		Charts:    f.charts,
		Generator: f.generator,
		Sender:    f.sender,
		Cache:     cache.NewMemory(),
		Once:      cache.NewMemory(),
		Logger:    zerolog.Nop(),
	})
	return f
}

var today = time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)

func TestEnsureForTodayIsIdempotent(t *testing.T) {
	f := newFixture()

	first, createdNow, err := f.service.EnsureForToday(context.Background(), eligibleProfile(), today)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if !createdNow {
		t.Fatalf("первая генерация должна создавать запись")
	}

	second, createdNow, err := f.service.EnsureForToday(context.Background(), eligibleProfile(), today)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if createdNow {
		t.Fatalf("вторая генерация должна быть no-op")
	}
	if first.ID != second.ID {
		t.Fatalf("оба вызова должны вернуть одну запись")
	}
	if f.generator.callCount() != 1 {
		t.Fatalf("генератор должен вызываться один раз, вызван %d", f.generator.callCount())
	}
	if f.guidances.count() != 1 {
		t.Fatalf("в хранилище должна быть одна запись, есть %d", f.guidances.count())
	}
}

func TestEnsureForTodayConcurrentSingleRow(t *testing.T) {
	f := newFixture()
	const n = 8

	var wg sync.WaitGroup
	ids := make([]int64, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			g, _, err := f.service.EnsureForToday(context.Background(), eligibleProfile(), today)
			if err != nil {
				t.Errorf("не ожидали ошибку: %v", err)
				return
			}
			ids[i] = g.ID
		}(i)
	}
	wg.Wait()

	if f.guidances.count() != 1 {
		t.Fatalf("конкурентные вызовы должны сойтись на одной записи, записей %d", f.guidances.count())
	}
	for _, id := range ids {
		if id != ids[0] {
			t.Fatalf("все вызовы должны видеть одну и ту же запись")
		}
	}
}

func TestEnsureForTodayRateLimitedSkips(t *testing.T) {
	f := newFixture()
	f.generator.err = domain.ErrRateLimited

	_, _, err := f.service.EnsureForToday(context.Background(), eligibleProfile(), today)
	if !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("ожидали ErrRateLimited, получили %v", err)
	}
	if f.guidances.count() != 0 {
		t.Fatalf("при лимите ничего не должно сохраняться")
	}
}

func TestEnsureForTodaySurvivesTransitOutage(t *testing.T) {
	f := newFixture()
	f.charts.err = errors.New("astro down")

	_, createdNow, err := f.service.EnsureForToday(context.Background(), eligibleProfile(), today)
	if err != nil {
		t.Fatalf("недоступные транзиты не должны валить генерацию: %v", err)
	}
	if !createdNow {
		t.Fatalf("запись должна создаваться")
	}
}

func TestDeliverFallbackOnPrimaryFailure(t *testing.T) {
	f := newFixture()
	f.sender.failures = 1

	g, _, err := f.service.EnsureForToday(context.Background(), eligibleProfile(), today)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if err := f.service.Deliver(context.Background(), eligibleProfile(), g); err != nil {
		t.Fatalf("запасная отправка должна спасать доставку: %v", err)
	}
	if f.sender.sentCount() != 2 {
		t.Fatalf("ожидали ровно 2 обращения к шлюзу, было %d", f.sender.sentCount())
	}
	if _, ok := f.profiles.marked["u1"]; !ok {
		t.Fatalf("после успешной запасной отправки профиль должен быть помечен")
	}
}

func TestDeliverTotalFailureLeavesProfileUnmarked(t *testing.T) {
	f := newFixture()
	f.sender.failures = 2

	g, _, err := f.service.EnsureForToday(context.Background(), eligibleProfile(), today)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if err := f.service.Deliver(context.Background(), eligibleProfile(), g); err == nil {
		t.Fatalf("полный провал доставки должен возвращать ошибку")
	}
	if f.sender.sentCount() != 2 {
		t.Fatalf("после запасной попытки новых обращений быть не должно, было %d", f.sender.sentCount())
	}
	if _, ok := f.profiles.marked["u1"]; ok {
		t.Fatalf("профиль не должен помечаться при проваленной доставке")
	}
	if f.guidances.count() != 1 {
		t.Fatalf("guidance должен остаться в хранилище несмотря на провал доставки")
	}
}

func TestEnsureAndDeliverSecondTickSendsNothing(t *testing.T) {
	f := newFixture()

	sent, err := f.service.EnsureAndDeliver(context.Background(), eligibleProfile(), today)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if !sent {
		t.Fatalf("первый тик должен отправить сообщение")
	}

	sent, err = f.service.EnsureAndDeliver(context.Background(), eligibleProfile(), today)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if sent {
		t.Fatalf("второй тик не должен отправлять ничего")
	}
	if f.sender.sentCount() != 1 {
		t.Fatalf("ожидали одно сообщение за день, было %d", f.sender.sentCount())
	}
	if f.guidances.count() != 1 {
		t.Fatalf("ожидали одну запись, есть %d", f.guidances.count())
	}
}

func TestRefreshTodayOncePerDay(t *testing.T) {
	f := newFixture()

	if _, _, err := f.service.EnsureForToday(context.Background(), eligibleProfile(), today); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}

	refreshed, err := f.service.RefreshToday(context.Background(), "u1", today)
	if err != nil {
		t.Fatalf("первый refresh должен проходить: %v", err)
	}
	if refreshed.UserID != "u1" {
		t.Fatalf("неверная запись после refresh")
	}

	if _, err := f.service.RefreshToday(context.Background(), "u1", today); !errors.Is(err, domain.ErrAlreadyDone) {
		t.Fatalf("второй refresh за день должен отклоняться, получили %v", err)
	}
	if f.guidances.count() != 1 {
		t.Fatalf("refresh не должен плодить записи")
	}
}

func TestEnsureNatalTextsGeneratesOnce(t *testing.T) {
	f := newFixture()

	p, _ := f.profiles.GetByID(context.Background(), "u1")
	if err := f.service.EnsureNatalTexts(context.Background(), p); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}

	p, _ = f.profiles.GetByID(context.Background(), "u1")
	if p.NatalInterpretation == "" || p.NatalSummary == "" {
		t.Fatalf("натальные тексты должны сохраниться на профиле")
	}

	before := f.generator.natalCalls
	if err := f.service.EnsureNatalTexts(context.Background(), p); err != nil {
		t.Fatalf("повторный вызов должен быть no-op: %v", err)
	}
	if f.generator.natalCalls != before {
		t.Fatalf("повторный вызов не должен дёргать генератор")
	}
}

func TestEnsureNatalTextsOneAttemptPerDay(t *testing.T) {
	f := newFixture()
	f.generator.err = errors.New("provider down")

	p, _ := f.profiles.GetByID(context.Background(), "u1")
	if err := f.service.EnsureNatalTexts(context.Background(), p); err == nil {
		t.Fatalf("отказ провайдера должен возвращать ошибку")
	}

	// провайдер ожил, но дневная попытка интерпретации уже потрачена
	f.generator.err = nil
	if err := f.service.EnsureNatalTexts(context.Background(), p); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if f.generator.natalCalls != 1 {
		t.Fatalf("интерпретация пробуется не чаще раза в день, попыток %d", f.generator.natalCalls)
	}

	p, _ = f.profiles.GetByID(context.Background(), "u1")
	if p.NatalInterpretation != "" {
		t.Fatalf("интерпретация не должна появиться до завтра")
	}
	if p.NatalSummary == "" {
		t.Fatalf("резюме не подпадает под дневной лимит и должно сохраниться")
	}
}

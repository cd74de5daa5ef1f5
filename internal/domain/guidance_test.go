package domain

import (
	"encoding/json"
	"testing"
)

func TestGuidanceSectionDecodesString(t *testing.T) {
	var s GuidanceSection
	if err := json.Unmarshal([]byte(`"Belle journée en vue"`), &s); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if s.Text != "Belle journée en vue" {
		t.Fatalf("неверный текст: %q", s.Text)
	}
	if s.Score != DefaultSectionScore {
		t.Fatalf("ожидали оценку по умолчанию, получили %d", s.Score)
	}
}

func TestGuidanceSectionDecodesObject(t *testing.T) {
	var s GuidanceSection
	if err := json.Unmarshal([]byte(`{"text":" Prends ton temps ","score":42}`), &s); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if s.Text != "Prends ton temps" {
		t.Fatalf("ожидали обрезанный текст, получили %q", s.Text)
	}
	if s.Score != 42 {
		t.Fatalf("ожидали оценку 42, получили %d", s.Score)
	}
}

func TestGuidanceSectionObjectWithoutScore(t *testing.T) {
	var s GuidanceSection
	if err := json.Unmarshal([]byte(`{"text":"ok"}`), &s); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if s.Score != DefaultSectionScore {
		t.Fatalf("ожидали оценку по умолчанию, получили %d", s.Score)
	}
}

func TestGuidanceSectionScoreOutOfRange(t *testing.T) {
	var s GuidanceSection
	if err := json.Unmarshal([]byte(`{"text":"ok","score":150}`), &s); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if s.Score != DefaultSectionScore {
		t.Fatalf("оценка вне диапазона должна заменяться на дефолт, получили %d", s.Score)
	}
}

func TestDefaultGuidanceIsValid(t *testing.T) {
	if !DefaultGuidance().Valid() {
		t.Fatalf("запасной guidance обязан быть валидным")
	}
}

func TestEligibleForGuidance(t *testing.T) {
	base := Profile{
		Phone:              "33612345678",
		NatalChart:         []byte(`{"sun":"leo"}`),
		Subscription:       SubscriptionTrial,
		GuidanceSMSEnabled: true,
	}
	if !base.EligibleForGuidance() {
		t.Fatalf("базовый профиль должен быть допущен")
	}

	cases := []struct {
		name   string
		mutate func(*Profile)
	}{
		{"уведомления выключены", func(p *Profile) { p.GuidanceSMSEnabled = false }},
		{"подписка истекла", func(p *Profile) { p.Subscription = SubscriptionExpired }},
		{"нет телефона", func(p *Profile) { p.Phone = "" }},
		{"нет натальной карты", func(p *Profile) { p.NatalChart = nil }},
	}
	for _, tc := range cases {
		p := base
		tc.mutate(&p)
		if p.EligibleForGuidance() {
			t.Fatalf("%s: профиль не должен быть допущен", tc.name)
		}
	}
}

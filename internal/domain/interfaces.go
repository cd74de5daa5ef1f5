package domain

import (
	"context"
	"time"
)

// ProfileRepo управляет профилями пользователей.
type ProfileRepo interface {
	GetByID(ctx context.Context, id string) (Profile, error)
	GetByPhone(ctx context.Context, phone string) (Profile, error)
	ListEligible(ctx context.Context) ([]Profile, error)
	ListTrialsExpiringBy(ctx context.Context, deadline time.Time) ([]Profile, error)
	UpdateLastGuidanceSent(ctx context.Context, id string, at time.Time) error
	UpdateNatalTexts(ctx context.Context, id, interpretation, summary string) error
}

// GuidanceRepo сохраняет и возвращает guidance по (user_id, date).
type GuidanceRepo interface {
	Get(ctx context.Context, userID string, date time.Time) (DailyGuidance, error)
	// Upsert вставляет запись с разрешением конфликта по (user_id, date):
	// при гонке обе стороны получают одну и ту же строку.
	Upsert(ctx context.Context, g DailyGuidance) (DailyGuidance, error)
	// Replace перезаписывает guidance за день (ручной refresh).
	Replace(ctx context.Context, g DailyGuidance) (DailyGuidance, error)
}

// ReceiptRepo принимает отчёты о доставке и входящие сообщения шлюза.
type ReceiptRepo interface {
	SaveReceipt(ctx context.Context, r DeliveryReceipt) error
	GetReceipt(ctx context.Context, messageID string) (DeliveryReceipt, error)
	SaveInbound(ctx context.Context, m InboundMessage) error
	ListInbound(ctx context.Context, phone string) ([]InboundMessage, error)
}

// ChartProvider считает натальную карту и транзиты. Внешний сервис,
// для ядра — непрозрачный.
type ChartProvider interface {
	Transits(ctx context.Context, date time.Time) (TransitSnapshot, error)
}

// NarrativeGenerator превращает карту и транзиты в текст guidance.
// Generate всегда возвращает валидный payload: при отказе провайдера
// подставляется статический запасной текст. Единственная ошибка,
// которую видит вызывающий — ErrRateLimited.
type NarrativeGenerator interface {
	Generate(ctx context.Context, userID string, chart []byte, transits TransitSnapshot) (GuidancePayload, GuidanceSource, error)
	NatalInterpretation(ctx context.Context, chart []byte, firstName string) (string, error)
	NatalSummary(ctx context.Context, chart []byte, firstName string) (string, error)
}

// SMSSender отправляет сообщения через внешний шлюз.
type SMSSender interface {
	Send(ctx context.Context, to, text string) (SendResult, error)
	Receipt(ctx context.Context, messageID string) (DeliveryReceipt, error)
	ListInbound(ctx context.Context, phone string) ([]InboundMessage, error)
}

// Cache простое TTL-хранилище ключ-значение.
type Cache interface {
	Once(key string, ttl time.Duration, fn func() error) error
	Set(key string, value []byte, ttl time.Duration) error
	Get(key string) ([]byte, error)
}

// RateLimiter ограничивает частоту обращений по ключу.
type RateLimiter interface {
	Allow(key string) bool
}

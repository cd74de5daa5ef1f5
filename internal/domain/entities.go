package domain

import (
	"encoding/json"
	"time"
)

// SubscriptionStatus описывает состояние подписки пользователя.
type SubscriptionStatus string

const (
	// SubscriptionTrial пробный период.
	SubscriptionTrial SubscriptionStatus = "trial"
	// SubscriptionActive оплаченная подписка.
	SubscriptionActive SubscriptionStatus = "active"
	// SubscriptionExpired подписка закончилась.
	SubscriptionExpired SubscriptionStatus = "expired"
)

// Profile описывает пользователя сервиса.
type Profile struct {
	ID                  string
	Phone               string
	FirstName           string
	BirthDate           string
	BirthTime           string
	BirthPlace          string
	NatalChart          json.RawMessage
	NatalInterpretation string
	NatalSummary        string
	Subscription        SubscriptionStatus
	TrialEndsAt         *time.Time
	GuidanceSMSEnabled  bool
	GuidanceTime        string
	LastGuidanceSentAt  *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// EligibleForGuidance проверяет, можно ли отправлять пользователю автоматический guidance.
func (p Profile) EligibleForGuidance() bool {
	if !p.GuidanceSMSEnabled {
		return false
	}
	if p.Subscription != SubscriptionTrial && p.Subscription != SubscriptionActive {
		return false
	}
	return p.Phone != "" && len(p.NatalChart) > 0
}

// SentOn сообщает, отправлялся ли guidance в указанный день.
func (p Profile) SentOn(day time.Time, loc *time.Location) bool {
	if p.LastGuidanceSentAt == nil {
		return false
	}
	sent := p.LastGuidanceSentAt.In(loc)
	day = day.In(loc)
	return sent.Year() == day.Year() && sent.YearDay() == day.YearDay()
}

// GuidanceSource показывает, откуда взят текст guidance.
type GuidanceSource string

const (
	// SourceLLM текст сгенерирован провайдером.
	SourceLLM GuidanceSource = "llm"
	// SourceFallback использован статический запасной текст.
	SourceFallback GuidanceSource = "fallback"
)

// DailyGuidance хранит guidance пользователя за конкретный день.
// На пару (UserID, Date) существует не больше одной записи.
type DailyGuidance struct {
	ID        int64
	UserID    string
	Date      time.Time
	Payload   GuidancePayload
	Source    GuidanceSource
	CreatedAt time.Time
}

// TransitSnapshot содержит транзиты планет на день. Чистая функция даты:
// один снапшот обслуживает всех пользователей.
type TransitSnapshot struct {
	Date      time.Time       `json:"date"`
	Positions json.RawMessage `json:"positions"`
}

// SendResult возвращается шлюзом после постановки SMS в отправку.
type SendResult struct {
	MessageID string
}

// DeliveryReceipt описывает статус доставки отправленного сообщения.
type DeliveryReceipt struct {
	MessageID  string
	Status     string
	ErrorCode  string
	ReceivedAt time.Time
}

// InboundMessage входящее сообщение от пользователя через шлюз.
type InboundMessage struct {
	ID         string
	From       string
	To         string
	Text       string
	ReceivedAt time.Time
}

// TickSummary итог одного тика планировщика.
type TickSummary struct {
	Sent    int `json:"sent"`
	Skipped int `json:"skipped"`
	Total   int `json:"total"`
}

// TrialReminderKind различает утреннее и вечернее напоминание об окончании триала.
type TrialReminderKind string

const (
	// TrialReminderMorning утреннее напоминание.
	TrialReminderMorning TrialReminderKind = "morning"
	// TrialReminderEvening вечернее напоминание.
	TrialReminderEvening TrialReminderKind = "evening"
)

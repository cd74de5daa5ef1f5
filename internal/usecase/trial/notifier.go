package trial

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"zodiak/internal/domain"
)

// Notifier шлёт триальным пользователям не больше двух напоминаний
// (утром и вечером) в последние сутки пробного периода,
// каждое — не больше одного раза.
type Notifier struct {
	profiles domain.ProfileRepo
	sender   domain.SMSSender
	flags    domain.Cache

	morningHour int
	eveningHour int
	loc         *time.Location
	log         zerolog.Logger
}

// Config зависимости и настройки нотификатора.
type Config struct {
	Profiles    domain.ProfileRepo
	Sender      domain.SMSSender
	Flags       domain.Cache
	MorningHour int
	EveningHour int
	Location    *time.Location
	Logger      zerolog.Logger
}

// NewNotifier создаёт нотификатор.
func NewNotifier(cfg Config) *Notifier {
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	morning := cfg.MorningHour
	if morning <= 0 {
		morning = 10
	}
	evening := cfg.EveningHour
	if evening <= 0 {
		evening = 18
	}
	return &Notifier{
		profiles:    cfg.Profiles,
		sender:      cfg.Sender,
		flags:       cfg.Flags,
		morningHour: morning,
		eveningHour: evening,
		loc:         loc,
		log:         cfg.Logger,
	}
}

// Run один проход нотификатора. Вызывается на каждом тике планировщика,
// но срабатывает только в два настроенных часа.
func (n *Notifier) Run(ctx context.Context, now time.Time) error {
	local := now.In(n.loc)

	var kind domain.TrialReminderKind
	switch local.Hour() {
	case n.morningHour:
		kind = domain.TrialReminderMorning
	case n.eveningHour:
		kind = domain.TrialReminderEvening
	default:
		return nil
	}

	profiles, err := n.profiles.ListTrialsExpiringBy(ctx, local.Add(24*time.Hour))
	if err != nil {
		return fmt.Errorf("выборка триалов: %w", err)
	}

	day := local.Format("2006-01-02")
	for _, p := range profiles {
		if p.Phone == "" {
			continue
		}
		key := fmt.Sprintf("trial:%s:%s:%s", kind, p.ID, day)
		err := n.flags.Once(key, 25*time.Hour, func() error {
			_, sendErr := n.sender.Send(ctx, p.Phone, reminderText(kind, p.FirstName))
			return sendErr
		})
		switch {
		case err == nil:
			n.log.Info().Str("user_id", p.ID).Str("kind", string(kind)).Msg("trial: напоминание отправлено")
		case errors.Is(err, domain.ErrAlreadyDone):
			// уже отправляли сегодня
		default:
			n.log.Error().Err(err).Str("user_id", p.ID).Str("kind", string(kind)).Msg("trial: не удалось отправить напоминание")
		}
	}
	return nil
}

func reminderText(kind domain.TrialReminderKind, firstName string) string {
	name := firstName
	if name == "" {
		name = "toi"
	}
	if kind == domain.TrialReminderMorning {
		return fmt.Sprintf("%s, ton essai Zodiak se termine demain ✨ Garde ton guidance quotidien en activant ton abonnement dans l'app.", name)
	}
	return fmt.Sprintf("%s, dernier rappel: ton essai Zodiak se termine dans quelques heures. Active ton abonnement pour continuer à recevoir ton guidance.", name)
}

package repo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"zodiak/internal/domain"
	"zodiak/internal/infra/metrics"
)

// Postgres реализует репозитории на основе pgxpool.
type Postgres struct {
	pool *pgxpool.Pool
}

var (
	_ domain.ProfileRepo  = (*Postgres)(nil)
	_ domain.GuidanceRepo = (*Postgres)(nil)
	_ domain.ReceiptRepo  = (*Postgres)(nil)
)

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) connCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

const profileColumns = `
id, phone, first_name, birth_date, birth_time, birth_place,
natal_chart, natal_interpretation, natal_summary,
subscription_status, trial_ends_at, guidance_sms_enabled, guidance_time,
last_guidance_sent_at, created_at, updated_at`

func scanProfile(row pgx.Row) (domain.Profile, error) {
	var (
		pr             domain.Profile
		interpretation sql.NullString
		summary        sql.NullString
		trialEndsAt    sql.NullTime
		lastSentAt     sql.NullTime
	)
	err := row.Scan(
		&pr.ID, &pr.Phone, &pr.FirstName, &pr.BirthDate, &pr.BirthTime, &pr.BirthPlace,
		&pr.NatalChart, &interpretation, &summary,
		&pr.Subscription, &trialEndsAt, &pr.GuidanceSMSEnabled, &pr.GuidanceTime,
		&lastSentAt, &pr.CreatedAt, &pr.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Profile{}, domain.ErrNotFound
		}
		return domain.Profile{}, err
	}
	pr.NatalInterpretation = interpretation.String
	pr.NatalSummary = summary.String
	if trialEndsAt.Valid {
		t := trialEndsAt.Time
		pr.TrialEndsAt = &t
	}
	if lastSentAt.Valid {
		t := lastSentAt.Time
		pr.LastGuidanceSentAt = &t
	}
	return pr, nil
}

// GetByID возвращает профиль по идентификатору.
func (p *Postgres) GetByID(ctx context.Context, id string) (domain.Profile, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	pr, err := scanProfile(p.pool.QueryRow(ctx, `SELECT `+profileColumns+` FROM profiles WHERE id = $1`, id))
	metrics.ObserveNetworkRequest("postgres", "profile_get", "profiles", start, err)
	return pr, err
}

// GetByPhone возвращает профиль по номеру телефона.
func (p *Postgres) GetByPhone(ctx context.Context, phone string) (domain.Profile, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	pr, err := scanProfile(p.pool.QueryRow(ctx, `SELECT `+profileColumns+` FROM profiles WHERE phone = $1`, phone))
	metrics.ObserveNetworkRequest("postgres", "profile_get_by_phone", "profiles", start, err)
	return pr, err
}

// ListEligible возвращает профили, допущенные к автоматическому guidance:
// включённые уведомления и живая подписка. Телефон и натальная карта
// дофильтровываются на стороне приложения.
func (p *Postgres) ListEligible(ctx context.Context) ([]domain.Profile, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT `+profileColumns+`
FROM profiles
WHERE guidance_sms_enabled = true
  AND subscription_status IN ('trial', 'active')
ORDER BY id`)
	metrics.ObserveNetworkRequest("postgres", "profiles_list_eligible", "profiles", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectProfiles(rows)
}

// ListTrialsExpiringBy возвращает триальные профили, чей пробный период
// заканчивается не позже deadline.
func (p *Postgres) ListTrialsExpiringBy(ctx context.Context, deadline time.Time) ([]domain.Profile, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT `+profileColumns+`
FROM profiles
WHERE subscription_status = 'trial'
  AND trial_ends_at IS NOT NULL
  AND trial_ends_at <= $1
  AND trial_ends_at > now()
ORDER BY trial_ends_at`, deadline)
	metrics.ObserveNetworkRequest("postgres", "profiles_list_trials", "profiles", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectProfiles(rows)
}

func collectProfiles(rows pgx.Rows) ([]domain.Profile, error) {
	var out []domain.Profile
	for rows.Next() {
		pr, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, pr)
	}
	return out, rows.Err()
}

// UpdateLastGuidanceSent помечает профиль отправленным.
func (p *Postgres) UpdateLastGuidanceSent(ctx context.Context, id string, at time.Time) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `
UPDATE profiles SET last_guidance_sent_at = $2, updated_at = now() WHERE id = $1`, id, at)
	metrics.ObserveNetworkRequest("postgres", "profile_mark_sent", "profiles", start, err)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// UpdateNatalTexts сохраняет интерпретацию и резюме натальной карты.
// Пустые аргументы не затирают уже сохранённые тексты.
func (p *Postgres) UpdateNatalTexts(ctx context.Context, id, interpretation, summary string) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `
UPDATE profiles SET
	natal_interpretation = COALESCE(NULLIF($2, ''), natal_interpretation),
	natal_summary = COALESCE(NULLIF($3, ''), natal_summary),
	updated_at = now()
WHERE id = $1`, id, interpretation, summary)
	metrics.ObserveNetworkRequest("postgres", "profile_natal_texts", "profiles", start, err)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

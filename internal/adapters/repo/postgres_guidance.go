package repo

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"zodiak/internal/domain"
	"zodiak/internal/infra/metrics"
)

const guidanceColumns = `
id, user_id, date, summary,
love_text, love_score, work_text, work_score, energy_text, energy_score,
source, created_at`

func scanGuidance(row pgx.Row) (domain.DailyGuidance, error) {
	var g domain.DailyGuidance
	err := row.Scan(
		&g.ID, &g.UserID, &g.Date, &g.Payload.Summary,
		&g.Payload.Love.Text, &g.Payload.Love.Score,
		&g.Payload.Work.Text, &g.Payload.Work.Score,
		&g.Payload.Energy.Text, &g.Payload.Energy.Score,
		&g.Source, &g.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.DailyGuidance{}, domain.ErrNotFound
		}
		return domain.DailyGuidance{}, err
	}
	return g, nil
}

// Get возвращает guidance пользователя за день.
func (p *Postgres) Get(ctx context.Context, userID string, date time.Time) (domain.DailyGuidance, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	g, err := scanGuidance(p.pool.QueryRow(ctx, `
SELECT `+guidanceColumns+`
FROM daily_guidance
WHERE user_id = $1 AND date = $2`, userID, date.Format("2006-01-02")))
	metrics.ObserveNetworkRequest("postgres", "guidance_get", "daily_guidance", start, err)
	return g, err
}

// Upsert вставляет guidance с разрешением конфликта по (user_id, date).
// Конкурентные вставки сходятся на одной строке: проигравший ничего не
// пишет и читает победившую запись. Уникальность держит индекс БД,
// а не pre-read.
func (p *Postgres) Upsert(ctx context.Context, g domain.DailyGuidance) (domain.DailyGuidance, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	day := g.Date.Format("2006-01-02")
	start := time.Now()
	saved, err := scanGuidance(p.pool.QueryRow(ctx, `
INSERT INTO daily_guidance
	(user_id, date, summary, love_text, love_score, work_text, work_score, energy_text, energy_score, source)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (user_id, date) DO NOTHING
RETURNING `+guidanceColumns,
		g.UserID, day, g.Payload.Summary,
		g.Payload.Love.Text, g.Payload.Love.Score,
		g.Payload.Work.Text, g.Payload.Work.Score,
		g.Payload.Energy.Text, g.Payload.Energy.Score,
		g.Source))
	if errors.Is(err, domain.ErrNotFound) {
		// конфликт: строку уже вставил кто-то другой
		metrics.ObserveNetworkRequest("postgres", "guidance_upsert", "daily_guidance", start, nil)
		return p.Get(ctx, g.UserID, g.Date)
	}
	metrics.ObserveNetworkRequest("postgres", "guidance_upsert", "daily_guidance", start, err)
	return saved, err
}

// Replace перезаписывает guidance за день: путь ручного refresh.
func (p *Postgres) Replace(ctx context.Context, g domain.DailyGuidance) (domain.DailyGuidance, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	day := g.Date.Format("2006-01-02")
	start := time.Now()
	saved, err := scanGuidance(p.pool.QueryRow(ctx, `
INSERT INTO daily_guidance
	(user_id, date, summary, love_text, love_score, work_text, work_score, energy_text, energy_score, source)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (user_id, date) DO UPDATE SET
	summary = EXCLUDED.summary,
	love_text = EXCLUDED.love_text, love_score = EXCLUDED.love_score,
	work_text = EXCLUDED.work_text, work_score = EXCLUDED.work_score,
	energy_text = EXCLUDED.energy_text, energy_score = EXCLUDED.energy_score,
	source = EXCLUDED.source
RETURNING `+guidanceColumns,
		g.UserID, day, g.Payload.Summary,
		g.Payload.Love.Text, g.Payload.Love.Score,
		g.Payload.Work.Text, g.Payload.Work.Score,
		g.Payload.Energy.Text, g.Payload.Energy.Score,
		g.Source))
	metrics.ObserveNetworkRequest("postgres", "guidance_replace", "daily_guidance", start, err)
	return saved, err
}

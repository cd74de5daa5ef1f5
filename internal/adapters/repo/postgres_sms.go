package repo

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"zodiak/internal/domain"
	"zodiak/internal/infra/metrics"
)

// SaveReceipt сохраняет отчёт о доставке. Повторный вебхук по тому же
// сообщению обновляет статус.
func (p *Postgres) SaveReceipt(ctx context.Context, r domain.DeliveryReceipt) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	if r.ReceivedAt.IsZero() {
		r.ReceivedAt = time.Now().UTC()
	}

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO sms_receipts (message_id, status, error_code, received_at)
VALUES ($1, $2, NULLIF($3, ''), $4)
ON CONFLICT (message_id) DO UPDATE SET
	status = EXCLUDED.status,
	error_code = EXCLUDED.error_code,
	received_at = EXCLUDED.received_at`,
		r.MessageID, r.Status, r.ErrorCode, r.ReceivedAt)
	metrics.ObserveNetworkRequest("postgres", "receipt_save", "sms_receipts", start, err)
	return err
}

// GetReceipt возвращает отчёт о доставке по идентификатору сообщения.
func (p *Postgres) GetReceipt(ctx context.Context, messageID string) (domain.DeliveryReceipt, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var (
		r         domain.DeliveryReceipt
		errorCode *string
	)
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT message_id, status, error_code, received_at
FROM sms_receipts WHERE message_id = $1`, messageID).
		Scan(&r.MessageID, &r.Status, &errorCode, &r.ReceivedAt)
	metrics.ObserveNetworkRequest("postgres", "receipt_get", "sms_receipts", start, err)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.DeliveryReceipt{}, domain.ErrNotFound
		}
		return domain.DeliveryReceipt{}, err
	}
	if errorCode != nil {
		r.ErrorCode = *errorCode
	}
	return r, nil
}

// SaveInbound сохраняет входящее сообщение.
func (p *Postgres) SaveInbound(ctx context.Context, m domain.InboundMessage) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	if m.ReceivedAt.IsZero() {
		m.ReceivedAt = time.Now().UTC()
	}

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO sms_inbound (id, from_phone, to_phone, text, received_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO NOTHING`,
		m.ID, m.From, m.To, m.Text, m.ReceivedAt)
	metrics.ObserveNetworkRequest("postgres", "inbound_save", "sms_inbound", start, err)
	return err
}

// ListInbound возвращает входящие сообщения от номера, новые первыми.
func (p *Postgres) ListInbound(ctx context.Context, phone string) ([]domain.InboundMessage, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, from_phone, to_phone, text, received_at
FROM sms_inbound WHERE from_phone = $1
ORDER BY received_at DESC`, phone)
	metrics.ObserveNetworkRequest("postgres", "inbound_list", "sms_inbound", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.InboundMessage
	for rows.Next() {
		var m domain.InboundMessage
		if err := rows.Scan(&m.ID, &m.From, &m.To, &m.Text, &m.ReceivedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"zodiak/internal/domain"
	"zodiak/internal/infra/metrics"
)

// Client отправляет SMS через HTTP API шлюза и читает отчёты о доставке
// и входящие сообщения. Отчёты и входящие — информационные каналы для UI,
// пайплайн их не опрашивает.
type Client struct {
	http    *http.Client
	baseURL string
	apiKey  string
	sender  string
}

// Config параметры шлюза.
type Config struct {
	BaseURL string
	APIKey  string
	Sender  string
	Timeout time.Duration
}

// NewClient создаёт клиента шлюза.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		http:    &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		sender:  cfg.Sender,
	}
}

type sendRequest struct {
	To   string `json:"to"`
	Text string `json:"text"`
	From string `json:"from"`
}

type sendResponse struct {
	MessageID string `json:"message_id"`
	Error     string `json:"error,omitempty"`
}

// Send отправляет сообщение. Номер нормализуется заранее: невалидный
// отклоняется без похода в сеть.
func (c *Client) Send(ctx context.Context, to, text string) (domain.SendResult, error) {
	normalized, err := NormalizePhone(to)
	if err != nil {
		return domain.SendResult{}, err
	}

	body, err := json.Marshal(sendRequest{To: normalized, Text: text, From: c.sender})
	if err != nil {
		return domain.SendResult{}, fmt.Errorf("sms: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return domain.SendResult{}, fmt.Errorf("sms: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("X-Request-ID", uuid.NewString())

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.ObserveNetworkRequest("sms", "send", "messages", start, err)
		return domain.SendResult{}, fmt.Errorf("sms: do request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.ObserveNetworkRequest("sms", "send", "messages", start, err)
		return domain.SendResult{}, fmt.Errorf("sms: read response: %w", err)
	}

	var parsed sendResponse
	if resp.StatusCode >= 400 {
		if err := json.Unmarshal(respBody, &parsed); err == nil && parsed.Error != "" {
			err = fmt.Errorf("sms: %s", parsed.Error)
		} else {
			err = fmt.Errorf("sms: unexpected status %d", resp.StatusCode)
		}
		metrics.ObserveNetworkRequest("sms", "send", "messages", start, err)
		return domain.SendResult{}, err
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		metrics.ObserveNetworkRequest("sms", "send", "messages", start, err)
		return domain.SendResult{}, fmt.Errorf("sms: decode response: %w", err)
	}
	metrics.ObserveNetworkRequest("sms", "send", "messages", start, nil)
	return domain.SendResult{MessageID: parsed.MessageID}, nil
}

type receiptResponse struct {
	MessageID  string    `json:"message_id"`
	Status     string    `json:"status"`
	ErrorCode  string    `json:"error_code,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}

// Receipt возвращает статус доставки по идентификатору сообщения.
func (c *Client) Receipt(ctx context.Context, messageID string) (domain.DeliveryReceipt, error) {
	endpoint := fmt.Sprintf("%s/v1/messages/%s/receipt", c.baseURL, url.PathEscape(messageID))
	var parsed receiptResponse
	if err := c.getJSON(ctx, "receipt", endpoint, &parsed); err != nil {
		return domain.DeliveryReceipt{}, err
	}
	return domain.DeliveryReceipt{
		MessageID:  parsed.MessageID,
		Status:     parsed.Status,
		ErrorCode:  parsed.ErrorCode,
		ReceivedAt: parsed.ReceivedAt,
	}, nil
}

type inboundResponse struct {
	Messages []struct {
		ID         string    `json:"id"`
		From       string    `json:"from"`
		To         string    `json:"to"`
		Text       string    `json:"text"`
		ReceivedAt time.Time `json:"received_at"`
	} `json:"messages"`
}

// ListInbound возвращает входящие сообщения на номер отправителя от пользователя.
func (c *Client) ListInbound(ctx context.Context, phone string) ([]domain.InboundMessage, error) {
	normalized, err := NormalizePhone(phone)
	if err != nil {
		return nil, err
	}
	endpoint := c.baseURL + "/v1/inbound?from=" + url.QueryEscape(normalized)
	var parsed inboundResponse
	if err := c.getJSON(ctx, "inbound", endpoint, &parsed); err != nil {
		return nil, err
	}
	out := make([]domain.InboundMessage, 0, len(parsed.Messages))
	for _, m := range parsed.Messages {
		out = append(out, domain.InboundMessage{
			ID:         m.ID,
			From:       m.From,
			To:         m.To,
			Text:       m.Text,
			ReceivedAt: m.ReceivedAt,
		})
	}
	return out, nil
}

func (c *Client) getJSON(ctx context.Context, operation, endpoint string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("sms: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.ObserveNetworkRequest("sms", operation, "messages", start, err)
		return fmt.Errorf("sms: do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		err = domain.ErrNotFound
		metrics.ObserveNetworkRequest("sms", operation, "messages", start, err)
		return err
	}
	if resp.StatusCode >= 400 {
		err = fmt.Errorf("sms: unexpected status %d", resp.StatusCode)
		metrics.ObserveNetworkRequest("sms", operation, "messages", start, err)
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		metrics.ObserveNetworkRequest("sms", operation, "messages", start, err)
		return fmt.Errorf("sms: decode response: %w", err)
	}
	metrics.ObserveNetworkRequest("sms", operation, "messages", start, nil)
	return nil
}

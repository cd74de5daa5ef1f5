package astro

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"zodiak/internal/domain"
	"zodiak/internal/infra/metrics"
)

// TTL чуть больше суток, чтобы снапшот дожил до конца дня при любом
// времени первого обращения.
const transitTTL = 25 * time.Hour

// Client ходит во внешний сервис расчёта карт. Транзиты — чистая функция
// даты, поэтому снапшот на день кэшируется и обслуживает всех
// пользователей.
type Client struct {
	http    *http.Client
	baseURL string
	apiKey  string
	cache   domain.Cache
	log     zerolog.Logger
}

// Config параметры провайдера.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// NewClient создаёт клиента провайдера карт.
func NewClient(cfg Config, cache domain.Cache, logger zerolog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		http:    &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		cache:   cache,
		log:     logger,
	}
}

// Transits возвращает транзиты планет на день, из кэша или от провайдера.
func (c *Client) Transits(ctx context.Context, date time.Time) (domain.TransitSnapshot, error) {
	day := date.Format("2006-01-02")
	key := "transits:" + day

	if c.cache != nil {
		if raw, err := c.cache.Get(key); err == nil {
			var snapshot domain.TransitSnapshot
			if err := json.Unmarshal(raw, &snapshot); err == nil {
				return snapshot, nil
			}
			c.log.Warn().Str("key", key).Msg("astro: повреждённый снапшот в кэше, перечитываем")
		}
	}

	snapshot, err := c.fetchTransits(ctx, day)
	if err != nil {
		return domain.TransitSnapshot{}, err
	}

	if c.cache != nil {
		if raw, err := json.Marshal(snapshot); err == nil {
			if err := c.cache.Set(key, raw, transitTTL); err != nil {
				c.log.Warn().Err(err).Str("key", key).Msg("astro: не удалось закэшировать транзиты")
			}
		}
	}
	return snapshot, nil
}

type transitsResponse struct {
	Date      string          `json:"date"`
	Positions json.RawMessage `json:"positions"`
}

func (c *Client) fetchTransits(ctx context.Context, day string) (domain.TransitSnapshot, error) {
	endpoint := c.baseURL + "/v1/transits?date=" + day
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return domain.TransitSnapshot{}, fmt.Errorf("astro: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.ObserveNetworkRequest("astro", "transits", day, start, err)
		return domain.TransitSnapshot{}, fmt.Errorf("astro: do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.ObserveNetworkRequest("astro", "transits", day, start, err)
		return domain.TransitSnapshot{}, fmt.Errorf("astro: read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		err = fmt.Errorf("astro: unexpected status %d", resp.StatusCode)
		metrics.ObserveNetworkRequest("astro", "transits", day, start, err)
		return domain.TransitSnapshot{}, err
	}

	var parsed transitsResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		metrics.ObserveNetworkRequest("astro", "transits", day, start, err)
		return domain.TransitSnapshot{}, fmt.Errorf("astro: decode response: %w", err)
	}
	metrics.ObserveNetworkRequest("astro", "transits", day, start, nil)

	parsedDate, err := time.Parse("2006-01-02", parsed.Date)
	if err != nil || parsed.Date == "" {
		parsedDate, _ = time.Parse("2006-01-02", day)
	}
	return domain.TransitSnapshot{Date: parsedDate, Positions: parsed.Positions}, nil
}

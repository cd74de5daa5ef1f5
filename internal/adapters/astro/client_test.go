package astro

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"zodiak/internal/infra/cache"
)

func TestTransitsCachedPerDate(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		_, _ = w.Write([]byte(`{"date":"2026-09-01","positions":{"sun":"virgo","moon":"pisces"}}`))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL}, cache.NewMemory(), zerolog.Nop())
	date := time.Date(2026, 9, 1, 8, 0, 0, 0, time.UTC)

	first, err := c.Transits(context.Background(), date)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	second, err := c.Transits(context.Background(), date)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}

	if calls != 1 {
		t.Fatalf("второй запрос должен идти из кэша, провайдер вызван %d раз", calls)
	}
	if string(first.Positions) != string(second.Positions) {
		t.Fatalf("снапшоты должны совпадать")
	}
	if !first.Date.Equal(time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("неверная дата снапшота: %v", first.Date)
	}
}

func TestTransitsProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL}, nil, zerolog.Nop())
	if _, err := c.Transits(context.Background(), time.Now()); err == nil {
		t.Fatalf("ожидали ошибку провайдера")
	}
}

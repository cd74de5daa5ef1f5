package cache

import (
	"errors"
	"sync"
	"testing"
	"time"

	"zodiak/internal/domain"
)

func TestMemoryGetMiss(t *testing.T) {
	m := NewMemory()
	if _, err := m.Get("nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("ожидали промах, получили %v", err)
	}
}

func TestMemorySetGet(t *testing.T) {
	m := NewMemory()
	if err := m.Set("k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	got, err := m.Get("k")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if string(got) != "v" {
		t.Fatalf("неверное значение: %q", got)
	}
}

func TestMemoryLazyEviction(t *testing.T) {
	now := time.Now()
	m := NewMemory()
	m.now = func() time.Time { return now }
	_ = m.Set("k", []byte("v"), time.Minute)

	now = now.Add(2 * time.Minute)
	if _, err := m.Get("k"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("истёкшая запись не должна возвращаться, получили %v", err)
	}

	m.mu.RLock()
	_, still := m.entries["k"]
	m.mu.RUnlock()
	if still {
		t.Fatalf("истёкшая запись должна удаляться при чтении")
	}
}

func TestMemoryOnce(t *testing.T) {
	m := NewMemory()
	calls := 0
	if err := m.Once("k", time.Minute, func() error { calls++; return nil }); err != nil {
		t.Fatalf("первая попытка должна пройти: %v", err)
	}
	err := m.Once("k", time.Minute, func() error { calls++; return nil })
	if !errors.Is(err, domain.ErrAlreadyDone) {
		t.Fatalf("вторая попытка должна отклоняться, получили %v", err)
	}
	if calls != 1 {
		t.Fatalf("функция должна выполниться один раз, выполнилась %d", calls)
	}
}

func TestMemoryOnceUnlocksAfterError(t *testing.T) {
	m := NewMemory()
	boom := errors.New("boom")
	if err := m.Once("k", time.Minute, func() error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("ожидали ошибку функции, получили %v", err)
	}
	if err := m.Once("k", time.Minute, func() error { return nil }); err != nil {
		t.Fatalf("после ошибки ключ должен сниматься: %v", err)
	}
}

func TestMemoryConcurrentAccess(t *testing.T) {
	m := NewMemory()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			key := string(rune('a' + n%4))
			_ = m.Set(key, []byte{byte(n)}, time.Minute)
			_, _ = m.Get(key)
		}(i)
	}
	wg.Wait()
}

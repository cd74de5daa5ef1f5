package cache

import (
	"sync"
	"time"

	"zodiak/internal/domain"
)

type entry struct {
	value     []byte
	expiresAt time.Time
}

// Memory процессный TTL-кэш для профилей и guidance: снимает повторные
// походы в хранилище внутри короткого окна. Истёкшие записи вычищаются
// лениво при чтении, фонового обхода нет.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]entry
	now     func() time.Time
}

// NewMemory создаёт пустой кэш.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]entry), now: time.Now}
}

// Get возвращает значение или domain.ErrNotFound. Протухшая запись
// удаляется и считается промахом.
func (m *Memory) Get(key string) ([]byte, error) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok {
		return nil, domain.ErrNotFound
	}
	if m.now().After(e.expiresAt) {
		m.mu.Lock()
		if cur, ok := m.entries[key]; ok && cur.expiresAt.Equal(e.expiresAt) {
			delete(m.entries, key)
		}
		m.mu.Unlock()
		return nil, domain.ErrNotFound
	}
	return e.value, nil
}

// Set задаёт значение с TTL.
func (m *Memory) Set(key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	m.entries[key] = entry{value: value, expiresAt: m.now().Add(ttl)}
	m.mu.Unlock()
	return nil
}

// Once выполняет функцию, если ключ ещё не задан. Внутри одного процесса
// этого достаточно; для межпроцессных флагов используется RedisCache.
func (m *Memory) Once(key string, ttl time.Duration, fn func() error) error {
	m.mu.Lock()
	e, ok := m.entries[key]
	if ok && m.now().After(e.expiresAt) {
		ok = false
	}
	if ok {
		m.mu.Unlock()
		return domain.ErrAlreadyDone
	}
	m.entries[key] = entry{value: []byte("1"), expiresAt: m.now().Add(ttl)}
	m.mu.Unlock()

	if err := fn(); err != nil {
		m.mu.Lock()
		delete(m.entries, key)
		m.mu.Unlock()
		return err
	}
	return nil
}

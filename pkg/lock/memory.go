package lock

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	owner     string
	expiresAt time.Time
}

// Memory is a process-local Locker.
type Memory struct {
	mu      sync.Mutex
	entries map[string]entry
	now     func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

// WithClock replaces the time source, for tests.
func (m *Memory) WithClock(now func() time.Time) *Memory {
	m.now = now

	return m
}

func (m *Memory) Acquire(_ context.Context, key, owner string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, ErrInvalidTTL
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()

	current, ok := m.entries[key]
	if ok && now.Before(current.expiresAt) && current.owner != owner {
		return false, nil
	}

	m.entries[key] = entry{owner: owner, expiresAt: now.Add(ttl)}

	return true, nil
}

func (m *Memory) Release(_ context.Context, key, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if current, ok := m.entries[key]; ok && current.owner == owner {
		delete(m.entries, key)
	}

	return nil
}

func (m *Memory) Holder(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.entries[key]
	if !ok {
		return "", nil
	}

	if !m.now().Before(current.expiresAt) {
		delete(m.entries, key)

		return "", nil
	}

	return current.owner, nil
}

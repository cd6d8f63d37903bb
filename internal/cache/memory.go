package cache

import (
	"context"
	"sync"

	"github.com/rf-almeida/cortegrid/internal/model"
)

// Memory is an in-process cache used in tests and as a degraded fallback
// when Redis is unreachable at startup.
type Memory struct {
	mu      sync.Mutex
	entries map[string][]model.Booking
}

func NewMemory() *Memory {
	return &Memory{entries: make(map[string][]model.Booking)}
}

func (m *Memory) Load(_ context.Context, key string) ([]model.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.entries[key]
	if !ok {
		return nil, nil
	}
	out := make([]model.Booking, len(stored))
	copy(out, stored)
	return out, nil
}

func (m *Memory) Save(_ context.Context, key string, bookings []model.Booking) error {
	cp := make([]model.Booking, len(bookings))
	copy(cp, bookings)
	m.mu.Lock()
	m.entries[key] = cp
	m.mu.Unlock()
	return nil
}

func (m *Memory) Rotate(ctx context.Context, oldKey, newKey string, bookings []model.Booking) error {
	m.mu.Lock()
	if oldKey != "" && oldKey != newKey {
		delete(m.entries, oldKey)
	}
	m.mu.Unlock()
	return m.Save(ctx, newKey, bookings)
}

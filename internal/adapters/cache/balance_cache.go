package cache

import (
	"context"
	"sync"
	"time"

	"rcn-ledger/internal/core/domain"
)

// Noop never stores anything
type Noop struct{}

// NewNoop creates a cache that always misses
func NewNoop() *Noop { return &Noop{} }

func (Noop) Get(ctx context.Context, address string) (*domain.Balance, bool, error) {
	return nil, false, nil
}

func (Noop) Set(ctx context.Context, balance *domain.Balance) error { return nil }

func (Noop) Invalidate(ctx context.Context, address string) error { return nil }

type memoryEntry struct {
	balance   domain.Balance
	expiresAt time.Time
}

// Memory is an in-process TTL cache of balance reads
type Memory struct {
	mu      sync.RWMutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]memoryEntry
}

// NewMemory creates an in-process cache whose entries live for ttl
func NewMemory(ttl time.Duration) *Memory {
	return &Memory{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]memoryEntry),
	}
}

// Get returns a copy of the cached balance
func (m *Memory) Get(ctx context.Context, address string) (*domain.Balance, bool, error) {
	key := domain.NormalizeAddress(address)

	m.mu.RLock()
	entry, ok := m.entries[key]
	m.mu.RUnlock()

	if !ok {
		return nil, false, nil
	}
	if !m.now().Before(entry.expiresAt) {
		m.mu.Lock()
		delete(m.entries, key)
		m.mu.Unlock()
		return nil, false, nil
	}
	b := entry.balance
	return &b, true, nil
}

// Set stores balance until the TTL elapses
func (m *Memory) Set(ctx context.Context, balance *domain.Balance) error {
	if balance == nil {
		return nil
	}
	m.mu.Lock()
	m.entries[domain.NormalizeAddress(balance.Address)] = memoryEntry{
		balance:   *balance,
		expiresAt: m.now().Add(m.ttl),
	}
	m.mu.Unlock()
	return nil
}

// Invalidate drops the entry for address
func (m *Memory) Invalidate(ctx context.Context, address string) error {
	m.mu.Lock()
	delete(m.entries, domain.NormalizeAddress(address))
	m.mu.Unlock()
	return nil
}

package ledger

import (
	"context"
	"sync"
)

// MemoryPort keeps counters in process memory. It suits tests and single
// instance deployments; it is not shared between processes.
type MemoryPort struct {
	mu       sync.Mutex
	counters map[string]Usage
}

// NewMemoryPort creates an empty memory port.
func NewMemoryPort() *MemoryPort {
	return &MemoryPort{counters: make(map[string]Usage)}
}

// Register creates the counter if missing and sets its limit. An existing
// count is kept.
func (m *MemoryPort) Register(ctx context.Context, promotionID string, count, limit int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.counters[promotionID]
	if !ok {
		u.Count = count
	}
	u.Limit = limit
	m.counters[promotionID] = u
	return nil
}

// Read returns the counter of a promotion.
func (m *MemoryPort) Read(ctx context.Context, promotionID string) (Usage, error) {
	if err := ctx.Err(); err != nil {
		return Usage{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.counters[promotionID]
	if !ok {
		return Usage{}, ErrUnknownPromotion
	}
	return u, nil
}

// CompareAndIncrement increments the counter if it equals expectedCount.
func (m *MemoryPort) CompareAndIncrement(ctx context.Context, promotionID string, expectedCount int) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.counters[promotionID]
	if !ok {
		return false, ErrUnknownPromotion
	}
	if u.Count != expectedCount {
		return false, nil
	}
	u.Count++
	m.counters[promotionID] = u
	return true, nil
}

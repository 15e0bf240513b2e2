package settlement

import (
	"context"
	"strings"
	"sync"

	"rcn-ledger/internal/core/domain"

	"github.com/google/uuid"
)

// MockConnector settles in-process. It remembers the reference issued for
// each session id so repeated calls return the same result.
type MockConnector struct {
	mu       sync.Mutex
	settled  map[string]string
	failures []error
	calls    int
}

// NewMockConnector creates an always-succeeding in-process connector
func NewMockConnector() *MockConnector {
	return &MockConnector{settled: make(map[string]string)}
}

// FailNext queues errors returned by the next calls, in order.
func (m *MockConnector) FailNext(errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, errs...)
}

// Calls returns how many times Settle was invoked
func (m *MockConnector) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Settle returns a synthetic transaction reference
func (m *MockConnector) Settle(ctx context.Context, req domain.SettlementRequest) (*domain.SettlementResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++

	if err := ctx.Err(); err != nil {
		return nil, &domain.SettlementError{Reason: err.Error(), Retryable: true}
	}
	if len(m.failures) > 0 {
		err := m.failures[0]
		m.failures = m.failures[1:]
		return nil, err
	}
	if ref, ok := m.settled[req.SessionID]; ok {
		return &domain.SettlementResult{TxReference: ref}, nil
	}
	ref := "0x" + strings.ReplaceAll(uuid.NewString(), "-", "")
	m.settled[req.SessionID] = ref
	return &domain.SettlementResult{TxReference: ref}, nil
}

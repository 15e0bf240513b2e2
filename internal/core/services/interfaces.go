package services

import (
	"context"

	"rcn-ledger/internal/core/domain"
)

// BalanceCache serves GET balance reads. It is never the system of record
// and is never consulted by eligibility checks.
type BalanceCache interface {
	Get(ctx context.Context, address string) (*domain.Balance, bool, error)
	Set(ctx context.Context, balance *domain.Balance) error
	Invalidate(ctx context.Context, address string) error
}

// SettlementConnector performs the on-chain action for an approved session.
// Implementations must be idempotent by SessionID.
type SettlementConnector interface {
	Settle(ctx context.Context, req domain.SettlementRequest) (*domain.SettlementResult, error)
}

// Verifier checks that signature over message was produced by address.
// It returns domain.ErrBadSignature on mismatch.
type Verifier interface {
	Verify(address, message, signature string) error
}

func customerLockKey(address string) string {
	return "customer:" + address
}

func shopLockKey(shopID string) string {
	return "shop:" + shopID
}

package repositories

import (
	"context"
	"time"

	"rcn-ledger/internal/adapters/persistence/models"

	"github.com/shopspring/decimal"
)

// CustomerRepository defines customer repository interface
type CustomerRepository interface {
	Create(ctx context.Context, customer *models.Customer) error
	GetByAddress(ctx context.Context, address string) (*models.Customer, error)
	// LockByAddress reads the row with SELECT ... FOR UPDATE. Only meaningful
	// inside a transaction.
	LockByAddress(ctx context.Context, address string) (*models.Customer, error)
	UpdateSnapshot(ctx context.Context, address string, tier string, lifetime decimal.Decimal) error
}

// ShopRepository defines shop ledger repository interface
type ShopRepository interface {
	Create(ctx context.Context, shop *models.Shop) error
	GetByID(ctx context.Context, shopID string) (*models.Shop, error)
	LockByID(ctx context.Context, shopID string) (*models.Shop, error)
	UpdateBalances(ctx context.Context, shop *models.Shop) error
}

// EventRepository defines the append-only event log interface.
// Rows are never updated or deleted.
type EventRepository interface {
	Append(ctx context.Context, event *models.LedgerEvent) error
	ListByCustomer(ctx context.Context, address string) ([]*models.LedgerEvent, error)
	Page(ctx context.Context, address string, offset, limit int) ([]*models.LedgerEvent, int64, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*models.LedgerEvent, error)
}

// SessionRepository defines redemption session repository interface
type SessionRepository interface {
	Create(ctx context.Context, session *models.RedemptionSession) error
	GetByID(ctx context.Context, id string) (*models.RedemptionSession, error)
	ListActiveByCustomer(ctx context.Context, address string) ([]*models.RedemptionSession, error)
	// Transition applies updates only if the session is currently in one of
	// the from statuses. Returns false when no row matched.
	Transition(ctx context.Context, id string, from []string, updates map[string]interface{}) (bool, error)
	// TransitionUnclaimed is Transition restricted to sessions whose
	// settlement has not started.
	TransitionUnclaimed(ctx context.Context, id string, from []string, updates map[string]interface{}) (bool, error)
	// TransitionUnexpired is Transition restricted to sessions whose expiry
	// is still after now.
	TransitionUnexpired(ctx context.Context, id string, from []string, now time.Time, updates map[string]interface{}) (bool, error)
	// Claim marks settlement as started on an APPROVED session. Returns false
	// when the session is no longer APPROVED.
	Claim(ctx context.Context, id string, now time.Time) (bool, error)
	IncrementAttempts(ctx context.Context, id string) error
	ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]*models.RedemptionSession, error)
	ListByStatus(ctx context.Context, status string, limit int) ([]*models.RedemptionSession, error)
}

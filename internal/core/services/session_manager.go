package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"rcn-ledger/internal/adapters/persistence/models"
	"rcn-ledger/internal/adapters/persistence/repositories"
	"rcn-ledger/internal/config"
	"rcn-ledger/internal/core/domain"
	"rcn-ledger/internal/pkg/keylock"
	"rcn-ledger/internal/pkg/metrics"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const sweepBatchSize = 500

// SessionManager drives the redemption session state machine and
// orchestrates settlement of approved sessions.
type SessionManager struct {
	store      *repositories.Store
	locks      *keylock.Locker
	aggregator *BalanceAggregator
	policy     *CrossShopPolicy
	verifier   Verifier
	connector  SettlementConnector
	cfg        config.LedgerConfig
	logger     *zap.Logger
	metrics    *metrics.LedgerMetrics
	now        func() time.Time

	mu       sync.Mutex
	inFlight map[string]struct{}
	closed   bool
	wg       sync.WaitGroup
	baseCtx  context.Context
	cancel   context.CancelFunc
}

// SessionOption customises the session manager
type SessionOption func(*SessionManager)

// WithSessionClock sets the function used to derive timestamps
func WithSessionClock(clock func() time.Time) SessionOption {
	return func(m *SessionManager) { m.now = clock }
}

// WithSessionMetrics overrides the default metrics registry
func WithSessionMetrics(mt *metrics.LedgerMetrics) SessionOption {
	return func(m *SessionManager) { m.metrics = mt }
}

// NewSessionManager creates a new session manager
func NewSessionManager(
	store *repositories.Store,
	locks *keylock.Locker,
	aggregator *BalanceAggregator,
	policy *CrossShopPolicy,
	verifier Verifier,
	connector SettlementConnector,
	cfg config.LedgerConfig,
	logger *zap.Logger,
	opts ...SessionOption,
) *SessionManager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &SessionManager{
		store:      store,
		locks:      locks,
		aggregator: aggregator,
		policy:     policy,
		verifier:   verifier,
		connector:  connector,
		cfg:        cfg,
		logger:     logger,
		metrics:    metrics.Ledger(),
		now:        func() time.Time { return time.Now().UTC() },
		inFlight:   make(map[string]struct{}),
		baseCtx:    ctx,
		cancel:     cancel,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ============================================================
// Create / Status
// ============================================================

// CreateSessionInput represents a shop's redemption request
type CreateSessionInput struct {
	CustomerAddress string          `json:"customerAddress"`
	ShopID          string          `json:"shopId"`
	Amount          decimal.Decimal `json:"amount"`
}

// Create opens a PENDING session holding amount against the customer.
// Checks run in order: no active session, enough available balance, then the
// cross-shop cap.
func (m *SessionManager) Create(ctx context.Context, input *CreateSessionInput) (*domain.RedemptionSession, error) {
	address := domain.NormalizeAddress(input.CustomerAddress)
	shopID := strings.TrimSpace(input.ShopID)
	if address == "" || shopID == "" {
		return nil, fmt.Errorf("%w: customerAddress and shopId are required", domain.ErrInvalidInput)
	}
	if err := domain.ValidateAmount("amount", input.Amount); err != nil {
		return nil, err
	}

	unlock := m.locks.Lock(customerLockKey(address))
	defer unlock()

	var created *models.RedemptionSession
	var expired []string
	err := m.store.Transaction(ctx, func(tx *repositories.Store) error {
		customer, err := tx.Customers.LockByAddress(ctx, address)
		if err != nil {
			if repositories.IsNotFound(err) {
				return fmt.Errorf("customer %s: %w", address, domain.ErrNotFound)
			}
			return err
		}
		shop, err := tx.Shops.GetByID(ctx, shopID)
		if err != nil {
			if repositories.IsNotFound(err) {
				return fmt.Errorf("shop %s: %w", shopID, domain.ErrNotFound)
			}
			return err
		}
		if !shop.Active {
			return fmt.Errorf("%w: shop %s is not active", domain.ErrInvalidInput, shopID)
		}

		now := m.now()
		active, err := tx.Sessions.ListActiveByCustomer(ctx, address)
		if err != nil {
			return err
		}
		for _, s := range active {
			// a lapsed PENDING session the sweep has not reached yet
			if s.Status == string(domain.SessionPending) && !now.Before(s.ExpiresAt) {
				ok, err := tx.Sessions.Transition(ctx, s.ID, []string{string(domain.SessionPending)}, releaseUpdates(domain.SessionExpired))
				if err != nil {
					return err
				}
				if ok {
					expired = append(expired, s.ID)
					continue
				}
			}
			return domain.ErrSessionAlreadyActive
		}

		totals, err := m.aggregator.totals(ctx, tx, address)
		if err != nil {
			return err
		}
		available := totals.Available()
		if available.LessThan(input.Amount) {
			return domain.ErrInsufficientBalance
		}
		if limit := m.policy.MaxRedeemableAt(customer.ToDomain(), shopID, available); input.Amount.GreaterThan(limit) {
			return domain.ErrCrossShopCapExceeded
		}

		activeKey := address
		created = &models.RedemptionSession{
			ID:              uuid.NewString(),
			CustomerAddress: address,
			ShopID:          shopID,
			Amount:          input.Amount,
			Status:          string(domain.SessionPending),
			ActiveKey:       &activeKey,
			ExpiresAt:       now.Add(m.cfg.SessionTTL),
			CreatedAt:       now,
		}
		if err := tx.Sessions.Create(ctx, created); err != nil {
			if repositories.IsDuplicate(err) {
				return domain.ErrSessionAlreadyActive
			}
			return fmt.Errorf("create session: %w", err)
		}
		return nil
	})

	for range expired {
		m.metrics.RecordTransition(string(domain.SessionExpired))
	}
	if err != nil {
		m.metrics.RecordRejection(rejectionReason(err))
		return nil, err
	}

	m.aggregator.Invalidate(ctx, address)
	m.metrics.RecordTransition(string(domain.SessionPending))
	m.logger.Info("redemption session created",
		zap.String("session_id", created.ID),
		zap.String("customer", address),
		zap.String("shop_id", shopID),
		zap.String("amount", input.Amount.String()),
		zap.Time("expires_at", created.ExpiresAt),
	)
	return created.ToDomain(), nil
}

// Get returns a session by ID
func (m *SessionManager) Get(ctx context.Context, id string) (*domain.RedemptionSession, error) {
	session, err := m.store.Sessions.GetByID(ctx, id)
	if err != nil {
		if repositories.IsNotFound(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return session.ToDomain(), nil
}

// MaxRedeemableAt returns how much the customer could redeem at shopID now
func (m *SessionManager) MaxRedeemableAt(ctx context.Context, address, shopID string) (decimal.Decimal, error) {
	address = domain.NormalizeAddress(address)
	customer, err := m.store.Customers.GetByAddress(ctx, address)
	if err != nil {
		if repositories.IsNotFound(err) {
			return decimal.Zero, domain.ErrNotFound
		}
		return decimal.Zero, err
	}
	totals, err := m.aggregator.totals(ctx, m.store, address)
	if err != nil {
		return decimal.Zero, err
	}
	return m.policy.MaxRedeemableAt(customer.ToDomain(), shopID, totals.Available()), nil
}

// ============================================================
// Customer / Shop transitions
// ============================================================

// Approve moves a PENDING session to APPROVED once the customer's signature
// over the approval message verifies, then dispatches settlement.
func (m *SessionManager) Approve(ctx context.Context, id, signature string) (*domain.RedemptionSession, error) {
	session, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := checkPending(session); err != nil {
		return nil, err
	}
	if !m.now().Before(session.ExpiresAt) {
		return nil, m.expireLapsed(ctx, session)
	}

	if err := m.verifier.Verify(session.CustomerAddress, session.ApprovalMessage(), signature); err != nil {
		m.logger.Warn("approval signature rejected", zap.String("session_id", id), zap.Error(err))
		if errors.Is(err, domain.ErrBadSignature) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrBadSignature, err)
	}

	err = m.transition(ctx, session, []domain.SessionStatus{domain.SessionPending}, map[string]interface{}{
		"status":      string(domain.SessionApproved),
		"approved_at": m.now(),
	}, guardUnexpired)
	if err != nil {
		return nil, err
	}

	m.metrics.RecordTransition(string(domain.SessionApproved))
	m.logger.Info("redemption session approved", zap.String("session_id", id), zap.String("customer", session.CustomerAddress))

	m.dispatch(id)
	return m.Get(ctx, id)
}

// Reject moves a PENDING session to REJECTED and releases its hold
func (m *SessionManager) Reject(ctx context.Context, id, reason string) (*domain.RedemptionSession, error) {
	session, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := checkPending(session); err != nil {
		return nil, err
	}
	if !m.now().Before(session.ExpiresAt) {
		return nil, m.expireLapsed(ctx, session)
	}

	updates := releaseUpdates(domain.SessionRejected)
	updates["rejection_reason"] = strings.TrimSpace(reason)
	if err := m.transition(ctx, session, []domain.SessionStatus{domain.SessionPending}, updates, guardUnexpired); err != nil {
		return nil, err
	}

	m.metrics.RecordTransition(string(domain.SessionRejected))
	m.logger.Info("redemption session rejected", zap.String("session_id", id), zap.String("reason", reason))
	return m.Get(ctx, id)
}

// Cancel lets the shop withdraw a PENDING session, or an APPROVED one whose
// settlement has not started. A non-empty shopID must own the session.
func (m *SessionManager) Cancel(ctx context.Context, id, shopID string) (*domain.RedemptionSession, error) {
	session, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if shopID != "" && session.ShopID != shopID {
		return nil, domain.ErrNotFound
	}

	from := []domain.SessionStatus{domain.SessionPending, domain.SessionApproved}
	if err := m.transition(ctx, session, from, releaseUpdates(domain.SessionCancelled), guardUnclaimed); err != nil {
		return nil, err
	}

	m.metrics.RecordTransition(string(domain.SessionCancelled))
	m.logger.Info("redemption session cancelled", zap.String("session_id", id), zap.String("shop_id", session.ShopID))
	return m.Get(ctx, id)
}

// ExpireDue transitions every PENDING session past its expiry to EXPIRED.
// Each transition is a compare-and-set, so a concurrent approve either wins
// or loses cleanly.
func (m *SessionManager) ExpireDue(ctx context.Context) (int, error) {
	due, err := m.store.Sessions.ListExpiredPending(ctx, m.now(), sweepBatchSize)
	if err != nil {
		return 0, fmt.Errorf("list expired sessions: %w", err)
	}

	expired := 0
	for _, row := range due {
		err := m.transition(ctx, row.ToDomain(), []domain.SessionStatus{domain.SessionPending}, releaseUpdates(domain.SessionExpired), guardNone)
		if errors.Is(err, domain.ErrNotPending) || errors.Is(err, domain.ErrExpired) {
			// approved or expired by someone else first
			continue
		}
		if err != nil {
			return expired, err
		}
		expired++
		m.metrics.RecordTransition(string(domain.SessionExpired))
		m.logger.Info("redemption session expired", zap.String("session_id", row.ID), zap.String("customer", row.CustomerAddress))
	}
	m.metrics.RecordExpired(expired)
	return expired, nil
}

// checkPending maps a non-PENDING session to the caller-facing error
func checkPending(session *domain.RedemptionSession) error {
	switch session.Status {
	case domain.SessionPending:
		return nil
	case domain.SessionExpired:
		return domain.ErrExpired
	default:
		return domain.ErrNotPending
	}
}

// expireLapsed expires a PENDING session found past its expiry and returns
// ErrExpired, or the error describing whoever transitioned it first.
func (m *SessionManager) expireLapsed(ctx context.Context, session *domain.RedemptionSession) error {
	err := m.transition(ctx, session, []domain.SessionStatus{domain.SessionPending}, releaseUpdates(domain.SessionExpired), guardNone)
	if err == nil {
		m.metrics.RecordTransition(string(domain.SessionExpired))
		m.logger.Info("redemption session expired", zap.String("session_id", session.ID), zap.String("customer", session.CustomerAddress))
		return domain.ErrExpired
	}
	return err
}

// transitionGuard narrows a status compare-and-set
type transitionGuard int

const (
	guardNone transitionGuard = iota
	// settlement not yet claimed
	guardUnclaimed
	// expiry still in the future
	guardUnexpired
)

// transition applies a compare-and-set under the customer lock and a
// customer row lock. On a lost race the current status decides the error.
func (m *SessionManager) transition(ctx context.Context, session *domain.RedemptionSession, from []domain.SessionStatus, updates map[string]interface{}, guard transitionGuard) error {
	ok, err := m.compareAndSet(ctx, session, from, updates, guard)
	if err != nil {
		return fmt.Errorf("transition session %s: %w", session.ID, err)
	}
	if !ok {
		current, err := m.Get(ctx, session.ID)
		if err != nil {
			return err
		}
		if current.Status == domain.SessionExpired {
			return domain.ErrExpired
		}
		if current.Status == domain.SessionPending && !m.now().Before(current.ExpiresAt) {
			// lapsed between the caller's expiry check and the update
			return m.expireLapsed(ctx, current)
		}
		return domain.ErrNotPending
	}
	return nil
}

func (m *SessionManager) compareAndSet(ctx context.Context, session *domain.RedemptionSession, from []domain.SessionStatus, updates map[string]interface{}, guard transitionGuard) (bool, error) {
	address := session.CustomerAddress
	unlock := m.locks.Lock(customerLockKey(address))
	defer unlock()

	fromStatuses := make([]string, 0, len(from))
	for _, s := range from {
		fromStatuses = append(fromStatuses, string(s))
	}

	var ok bool
	err := m.store.Transaction(ctx, func(tx *repositories.Store) error {
		if _, err := tx.Customers.LockByAddress(ctx, address); err != nil {
			return err
		}
		var err error
		switch guard {
		case guardUnclaimed:
			ok, err = tx.Sessions.TransitionUnclaimed(ctx, session.ID, fromStatuses, updates)
		case guardUnexpired:
			ok, err = tx.Sessions.TransitionUnexpired(ctx, session.ID, fromStatuses, m.now(), updates)
		default:
			ok, err = tx.Sessions.Transition(ctx, session.ID, fromStatuses, updates)
		}
		return err
	})
	if err == nil && ok {
		m.aggregator.Invalidate(ctx, address)
	}
	return ok, err
}

// releaseUpdates moves a session to a terminal status and frees the
// customer's active slot
func releaseUpdates(status domain.SessionStatus) map[string]interface{} {
	return map[string]interface{}{
		"status":     string(status),
		"active_key": nil,
	}
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrSessionAlreadyActive):
		return "session_already_active"
	case errors.Is(err, domain.ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, domain.ErrCrossShopCapExceeded):
		return "cross_shop_cap_exceeded"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrInvalidInput):
		return "invalid_input"
	default:
		return "internal"
	}
}

package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"rcn-ledger/internal/adapters/persistence/models"
	"rcn-ledger/internal/adapters/persistence/repositories"
	"rcn-ledger/internal/core/domain"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const recoveryBatchSize = 100

// redeemKey is the idempotency key of the REDEEM event written for a session
func redeemKey(sessionID string) string {
	return "redeem:" + sessionID
}

// isRedeemFor reports whether event is the REDEEM recorded for session
func isRedeemFor(event *domain.LedgerEvent, session *domain.RedemptionSession) bool {
	return event.Kind == domain.EventRedeem &&
		event.CustomerAddress == session.CustomerAddress &&
		event.Amount.Equal(session.Amount) &&
		event.Metadata["session_id"] == session.ID
}

// Settle runs settlement for an APPROVED session synchronously. A session
// that is already SETTLED is a no-op. Returns ErrSettlementFailed when the
// session ends up FAILED.
func (m *SessionManager) Settle(ctx context.Context, id string) error {
	if !m.acquire(id) {
		return fmt.Errorf("session %s: settlement already in flight", id)
	}
	defer m.release(id)
	return m.settle(ctx, id)
}

// ResumeApproved dispatches settlement for APPROVED sessions not in flight in
// this process, e.g. after a restart. The connector's idempotency makes a
// repeated call safe.
func (m *SessionManager) ResumeApproved(ctx context.Context) (int, error) {
	rows, err := m.store.Sessions.ListByStatus(ctx, string(domain.SessionApproved), recoveryBatchSize)
	if err != nil {
		return 0, fmt.Errorf("list approved sessions: %w", err)
	}
	dispatched := 0
	for _, row := range rows {
		if m.dispatch(row.ID) {
			dispatched++
		}
	}
	if dispatched > 0 {
		m.logger.Info("resumed settlement of approved sessions", zap.Int("count", dispatched))
	}
	return dispatched, nil
}

// Drain waits for every dispatched settlement to finish
func (m *SessionManager) Drain() {
	m.wg.Wait()
}

// Shutdown stops accepting new settlements and waits for running ones. If ctx
// ends first, running settlements are cancelled; their sessions stay APPROVED
// and are resumed on the next start.
func (m *SessionManager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.cancel()
		return nil
	case <-ctx.Done():
		m.cancel()
		<-done
		return ctx.Err()
	}
}

// InFlight returns the number of settlements currently running
func (m *SessionManager) InFlight() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.inFlight)
}

func (m *SessionManager) acquire(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	if _, ok := m.inFlight[id]; ok {
		return false
	}
	m.inFlight[id] = struct{}{}
	m.wg.Add(1)
	return true
}

func (m *SessionManager) release(id string) {
	m.mu.Lock()
	delete(m.inFlight, id)
	m.mu.Unlock()
	m.wg.Done()
}

// dispatch starts settlement on a background goroutine unless the session is
// already in flight in this process
func (m *SessionManager) dispatch(id string) bool {
	if !m.acquire(id) {
		return false
	}
	go func() {
		defer m.release(id)
		if err := m.settle(m.baseCtx, id); err != nil && !errors.Is(err, domain.ErrSettlementFailed) {
			m.logger.Error("settlement run aborted", zap.String("session_id", id), zap.Error(err))
		}
	}()
	return true
}

// settle claims the session, calls the connector outside every lock with
// bounded exponential backoff, then records the outcome.
func (m *SessionManager) settle(ctx context.Context, id string) error {
	row, err := m.store.Sessions.GetByID(ctx, id)
	if err != nil {
		if repositories.IsNotFound(err) {
			return domain.ErrNotFound
		}
		return err
	}
	session := row.ToDomain()
	switch session.Status {
	case domain.SessionApproved:
	case domain.SessionSettled:
		return nil
	default:
		return domain.ErrNotPending
	}

	// From here on the shop can no longer cancel.
	claimed, err := m.store.Sessions.Claim(ctx, id, m.now())
	if err != nil {
		return fmt.Errorf("claim session %s: %w", id, err)
	}
	if !claimed {
		return domain.ErrNotPending
	}

	started := time.Now()
	req := domain.SettlementRequest{
		SessionID:       session.ID,
		CustomerAddress: session.CustomerAddress,
		ShopID:          session.ShopID,
		Amount:          session.Amount,
	}

	var result *domain.SettlementResult
	operation := func() error {
		m.metrics.RecordAttempt()
		if err := m.store.Sessions.IncrementAttempts(ctx, id); err != nil {
			m.logger.Warn("failed to record settlement attempt", zap.String("session_id", id), zap.Error(err))
		}

		attemptCtx, cancel := context.WithTimeout(ctx, m.cfg.SettlementTimeout)
		defer cancel()

		res, err := m.connector.Settle(attemptCtx, req)
		if err != nil {
			if !domain.IsRetryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		result = res
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = m.cfg.SettlementInitialBackoff
	policy.MaxInterval = m.cfg.SettlementMaxBackoff
	policy.MaxElapsedTime = 0

	maxRetries := uint64(0)
	if m.cfg.SettlementMaxAttempts > 1 {
		maxRetries = uint64(m.cfg.SettlementMaxAttempts - 1)
	}

	err = backoff.RetryNotify(
		operation,
		backoff.WithContext(backoff.WithMaxRetries(policy, maxRetries), ctx),
		func(err error, wait time.Duration) {
			m.logger.Warn("settlement attempt failed, retrying",
				zap.String("session_id", id),
				zap.Duration("backoff", wait),
				zap.Error(err),
			)
		},
	)

	if err != nil && ctx.Err() != nil {
		m.logger.Warn("settlement interrupted, session left APPROVED for recovery",
			zap.String("session_id", id),
			zap.Error(err),
		)
		return ctx.Err()
	}
	if err != nil {
		return m.fail(context.WithoutCancel(ctx), session, err, time.Since(started))
	}
	return m.complete(context.WithoutCancel(ctx), session, result.TxReference, time.Since(started))
}

// complete appends the REDEEM event, marks the session SETTLED and credits
// the shop's redemption total in one transaction.
func (m *SessionManager) complete(ctx context.Context, session *domain.RedemptionSession, txReference string, elapsed time.Duration) error {
	address := session.CustomerAddress

	unlockCustomer := m.locks.Lock(customerLockKey(address))
	defer unlockCustomer()
	unlockShop := m.locks.Lock(shopLockKey(session.ShopID))
	defer unlockShop()

	now := m.now()
	appended := false
	err := m.store.Transaction(ctx, func(tx *repositories.Store) error {
		if _, err := tx.Customers.LockByAddress(ctx, address); err != nil {
			return err
		}

		ok, err := tx.Sessions.Transition(ctx, session.ID, []string{string(domain.SessionApproved)}, map[string]interface{}{
			"status":       string(domain.SessionSettled),
			"settled_at":   now,
			"tx_reference": txReference,
			"active_key":   nil,
		})
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrNotPending
		}

		key := redeemKey(session.ID)
		if existing, err := tx.Events.GetByIdempotencyKey(ctx, key); err == nil {
			if !isRedeemFor(existing.ToDomain(), session) {
				return fmt.Errorf("redeem key %s held by event %s (%s): %w", key, existing.ID, existing.Kind, domain.ErrDuplicateEntry)
			}
			return nil
		} else if !repositories.IsNotFound(err) {
			return err
		}

		shopID := session.ShopID
		row, err := models.NewLedgerEvent(&domain.LedgerEvent{
			ID:              uuid.NewString(),
			CustomerAddress: address,
			Kind:            domain.EventRedeem,
			Amount:          session.Amount,
			ShopID:          &shopID,
			IdempotencyKey:  &key,
			Metadata: map[string]any{
				"session_id":   session.ID,
				"tx_reference": txReference,
			},
			CreatedAt: now,
		})
		if err != nil {
			return err
		}
		if err := tx.Events.Append(ctx, row); err != nil {
			return fmt.Errorf("append redeem event: %w", err)
		}
		appended = true

		shop, err := tx.Shops.LockByID(ctx, session.ShopID)
		if err != nil {
			return err
		}
		shop.TotalRedemptionsProcessed = shop.TotalRedemptionsProcessed.Add(session.Amount)
		return tx.Shops.UpdateBalances(ctx, shop)
	})
	if errors.Is(err, domain.ErrNotPending) {
		// another worker recorded the outcome first
		return nil
	}
	if err != nil {
		m.logger.Error("failed to record settlement; session stays APPROVED for recovery",
			zap.String("session_id", session.ID),
			zap.String("tx_reference", txReference),
			zap.Error(err),
		)
		return err
	}

	m.aggregator.Invalidate(ctx, address)
	if appended {
		m.metrics.RecordEvent(string(domain.EventRedeem))
	}
	m.metrics.RecordTransition(string(domain.SessionSettled))
	m.metrics.RecordSettlement("settled", elapsed)
	m.logger.Info("redemption settled",
		zap.String("session_id", session.ID),
		zap.String("customer", address),
		zap.String("shop_id", session.ShopID),
		zap.String("amount", session.Amount.String()),
		zap.String("tx_reference", txReference),
	)
	return nil
}

// fail marks the session FAILED and releases its hold. No funds moved, so
// the failure is surfaced for reconciliation rather than retried further.
func (m *SessionManager) fail(ctx context.Context, session *domain.RedemptionSession, cause error, elapsed time.Duration) error {
	updates := releaseUpdates(domain.SessionFailed)
	updates["failure_reason"] = cause.Error()

	err := m.transition(ctx, session, []domain.SessionStatus{domain.SessionApproved}, updates, guardNone)
	if errors.Is(err, domain.ErrNotPending) || errors.Is(err, domain.ErrExpired) {
		// another worker recorded the outcome first
		return nil
	}
	if err != nil {
		return err
	}

	m.metrics.RecordTransition(string(domain.SessionFailed))
	m.metrics.RecordSettlement("failed", elapsed)
	m.logger.Error("redemption settlement failed; manual reconciliation required",
		zap.String("session_id", session.ID),
		zap.String("customer", session.CustomerAddress),
		zap.String("shop_id", session.ShopID),
		zap.String("amount", session.Amount.String()),
		zap.Error(cause),
	)
	return fmt.Errorf("session %s: %w", session.ID, domain.ErrSettlementFailed)
}

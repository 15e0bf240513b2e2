package repositories

import (
	"context"
	"time"

	"rcn-ledger/internal/adapters/persistence/models"

	"gorm.io/gorm"
)

// sessionRepository implements SessionRepository
type sessionRepository struct {
	db *gorm.DB
}

// NewSessionRepository creates a new session repository
func NewSessionRepository(db *gorm.DB) SessionRepository {
	return &sessionRepository{db: db}
}

// Create creates a new session
func (r *sessionRepository) Create(ctx context.Context, session *models.RedemptionSession) error {
	return r.db.WithContext(ctx).Create(session).Error
}

// GetByID gets a session by ID
func (r *sessionRepository) GetByID(ctx context.Context, id string) (*models.RedemptionSession, error) {
	var session models.RedemptionSession
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&session).Error
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// ListActiveByCustomer returns the PENDING/APPROVED sessions of a customer
func (r *sessionRepository) ListActiveByCustomer(ctx context.Context, address string) ([]*models.RedemptionSession, error) {
	var sessions []*models.RedemptionSession
	err := r.db.WithContext(ctx).
		Where("customer_address = ? AND status IN ?", address, []string{"PENDING", "APPROVED"}).
		Order("created_at ASC").
		Find(&sessions).Error
	return sessions, err
}

// Transition is a compare-and-set on the session status
func (r *sessionRepository) Transition(ctx context.Context, id string, from []string, updates map[string]interface{}) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.RedemptionSession{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// TransitionUnclaimed is a compare-and-set that also requires settlement not
// to have been claimed
func (r *sessionRepository) TransitionUnclaimed(ctx context.Context, id string, from []string, updates map[string]interface{}) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.RedemptionSession{}).
		Where("id = ? AND status IN ? AND settlement_started_at IS NULL", id, from).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// TransitionUnexpired is a compare-and-set that also requires the session
// not to have expired at now
func (r *sessionRepository) TransitionUnexpired(ctx context.Context, id string, from []string, now time.Time, updates map[string]interface{}) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.RedemptionSession{}).
		Where("id = ? AND status IN ? AND expires_at > ?", id, from, now).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// Claim stamps settlement_started_at, keeping the first claim time on re-claim
func (r *sessionRepository) Claim(ctx context.Context, id string, now time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.RedemptionSession{}).
		Where("id = ? AND status = ?", id, "APPROVED").
		Update("settlement_started_at", gorm.Expr("COALESCE(settlement_started_at, ?)", now))
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// IncrementAttempts bumps the settlement attempt counter
func (r *sessionRepository) IncrementAttempts(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).
		Model(&models.RedemptionSession{}).
		Where("id = ?", id).
		UpdateColumn("settlement_attempts", gorm.Expr("settlement_attempts + 1")).Error
}

// ListExpiredPending returns PENDING sessions whose expiry has passed
func (r *sessionRepository) ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]*models.RedemptionSession, error) {
	var sessions []*models.RedemptionSession
	err := r.db.WithContext(ctx).
		Where("status = ? AND expires_at <= ?", "PENDING", now).
		Order("expires_at ASC").
		Limit(limit).
		Find(&sessions).Error
	return sessions, err
}

// ListByStatus returns sessions in the given status, oldest first
func (r *sessionRepository) ListByStatus(ctx context.Context, status string, limit int) ([]*models.RedemptionSession, error) {
	var sessions []*models.RedemptionSession
	err := r.db.WithContext(ctx).
		Where("status = ?", status).
		Order("created_at ASC").
		Limit(limit).
		Find(&sessions).Error
	return sessions, err
}

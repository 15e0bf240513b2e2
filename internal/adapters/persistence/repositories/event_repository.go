package repositories

import (
	"context"

	"rcn-ledger/internal/adapters/persistence/models"

	"gorm.io/gorm"
)

// eventRepository implements EventRepository
type eventRepository struct {
	db *gorm.DB
}

// NewEventRepository creates a new event repository
func NewEventRepository(db *gorm.DB) EventRepository {
	return &eventRepository{db: db}
}

// Append inserts a new event
func (r *eventRepository) Append(ctx context.Context, event *models.LedgerEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

// ListByCustomer returns all events of a customer in chronological order
func (r *eventRepository) ListByCustomer(ctx context.Context, address string) ([]*models.LedgerEvent, error) {
	var events []*models.LedgerEvent
	err := r.db.WithContext(ctx).
		Where("customer_address = ?", address).
		Order("created_at ASC").
		Order("id ASC").
		Find(&events).Error
	return events, err
}

// Page returns events of a customer newest first with the total count
func (r *eventRepository) Page(ctx context.Context, address string, offset, limit int) ([]*models.LedgerEvent, int64, error) {
	var events []*models.LedgerEvent
	var total int64

	if err := r.db.WithContext(ctx).
		Model(&models.LedgerEvent{}).
		Where("customer_address = ?", address).
		Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := r.db.WithContext(ctx).
		Where("customer_address = ?", address).
		Order("created_at DESC").
		Order("id DESC").
		Offset(offset).
		Limit(limit).
		Find(&events).Error

	return events, total, err
}

// GetByIdempotencyKey finds an event by its idempotency key
func (r *eventRepository) GetByIdempotencyKey(ctx context.Context, key string) (*models.LedgerEvent, error) {
	var event models.LedgerEvent
	err := r.db.WithContext(ctx).Where("idempotency_key = ?", key).First(&event).Error
	if err != nil {
		return nil, err
	}
	return &event, nil
}

package repositories

import (
	"context"

	"rcn-ledger/internal/adapters/persistence/models"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// customerRepository implements CustomerRepository
type customerRepository struct {
	db *gorm.DB
}

// NewCustomerRepository creates a new customer repository
func NewCustomerRepository(db *gorm.DB) CustomerRepository {
	return &customerRepository{db: db}
}

// Create creates a new customer
func (r *customerRepository) Create(ctx context.Context, customer *models.Customer) error {
	return r.db.WithContext(ctx).Create(customer).Error
}

// GetByAddress gets a customer by normalized address
func (r *customerRepository) GetByAddress(ctx context.Context, address string) (*models.Customer, error) {
	var customer models.Customer
	err := r.db.WithContext(ctx).Where("address = ?", address).First(&customer).Error
	if err != nil {
		return nil, err
	}
	return &customer, nil
}

// LockByAddress gets a customer with a row lock
func (r *customerRepository) LockByAddress(ctx context.Context, address string) (*models.Customer, error) {
	var customer models.Customer
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("address = ?", address).
		First(&customer).Error
	if err != nil {
		return nil, err
	}
	return &customer, nil
}

// UpdateSnapshot stores the tier and lifetime earnings derived from the log
func (r *customerRepository) UpdateSnapshot(ctx context.Context, address string, tier string, lifetime decimal.Decimal) error {
	return r.db.WithContext(ctx).
		Model(&models.Customer{}).
		Where("address = ?", address).
		Updates(map[string]interface{}{
			"tier":              tier,
			"lifetime_earnings": lifetime,
		}).Error
}

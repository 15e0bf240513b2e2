package repositories

import (
	"context"

	"rcn-ledger/internal/adapters/persistence/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// shopRepository implements ShopRepository
type shopRepository struct {
	db *gorm.DB
}

// NewShopRepository creates a new shop repository
func NewShopRepository(db *gorm.DB) ShopRepository {
	return &shopRepository{db: db}
}

// Create creates a new shop
func (r *shopRepository) Create(ctx context.Context, shop *models.Shop) error {
	return r.db.WithContext(ctx).Create(shop).Error
}

// GetByID gets a shop by ID
func (r *shopRepository) GetByID(ctx context.Context, shopID string) (*models.Shop, error) {
	var shop models.Shop
	err := r.db.WithContext(ctx).Where("shop_id = ?", shopID).First(&shop).Error
	if err != nil {
		return nil, err
	}
	return &shop, nil
}

// LockByID gets a shop with a row lock
func (r *shopRepository) LockByID(ctx context.Context, shopID string) (*models.Shop, error) {
	var shop models.Shop
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("shop_id = ?", shopID).
		First(&shop).Error
	if err != nil {
		return nil, err
	}
	return &shop, nil
}

// UpdateBalances writes the pool and issuance counters
func (r *shopRepository) UpdateBalances(ctx context.Context, shop *models.Shop) error {
	return r.db.WithContext(ctx).
		Model(&models.Shop{}).
		Where("shop_id = ?", shop.ShopID).
		Updates(map[string]interface{}{
			"purchased_rcn_balance":       shop.PurchasedRcnBalance,
			"total_tokens_issued":         shop.TotalTokensIssued,
			"total_redemptions_processed": shop.TotalRedemptionsProcessed,
		}).Error
}

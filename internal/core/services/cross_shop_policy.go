package services

import (
	"rcn-ledger/internal/core/domain"

	"github.com/shopspring/decimal"
)

// CrossShopPolicy caps redemptions away from the customer's home shop
type CrossShopPolicy struct {
	fraction decimal.Decimal
}

// NewCrossShopPolicy creates a policy allowing fraction of the available
// balance at non-home shops
func NewCrossShopPolicy(fraction decimal.Decimal) *CrossShopPolicy {
	return &CrossShopPolicy{fraction: fraction}
}

// IsHomeShop reports whether shopID is the customer's home shop. A customer
// without a home shop has none.
func (p *CrossShopPolicy) IsHomeShop(customer *domain.Customer, shopID string) bool {
	return customer.HomeShopID != "" && customer.HomeShopID == shopID
}

// MaxRedeemableAt returns the most the customer may redeem at shopID given
// the available balance.
func (p *CrossShopPolicy) MaxRedeemableAt(customer *domain.Customer, shopID string, available decimal.Decimal) decimal.Decimal {
	if p.IsHomeShop(customer, shopID) {
		return available
	}
	return available.Mul(p.fraction)
}

package config

import (
	"log"
	"time"

	"rcn-ledger/internal/adapters/persistence/models"
	"rcn-ledger/internal/pkg/apikey"
	"rcn-ledger/internal/pkg/jwt"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// devShops are created on an empty development database
var devShops = []struct {
	id   string
	name string
	key  string
	pool int64
}{
	{"shop-1", "Downtown Repair", "rcn_shop_dev_shop1", 1000},
	{"shop-2", "Uptown Repair", "rcn_shop_dev_shop2", 1000},
}

// Seeder handles database seeding
type Seeder struct {
	db  *gorm.DB
	cfg *Config
}

// NewSeeder creates a new seeder instance
func NewSeeder(db *gorm.DB, cfg *Config) *Seeder {
	return &Seeder{db: db, cfg: cfg}
}

// Run executes all seeders. Development only.
func (s *Seeder) Run() error {
	if !s.cfg.IsDev() {
		return nil
	}
	log.Println("🌱 Running database seeders...")

	if err := s.seedShops(); err != nil {
		log.Printf("⚠️ Shop seeder skipped: %v", err)
	}
	s.printAdminToken()

	log.Println("✅ Database seeding completed")
	return nil
}

// seedShops creates the demo shops with well-known terminal keys
func (s *Seeder) seedShops() error {
	var count int64
	if err := s.db.Model(&models.Shop{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	for _, shop := range devShops {
		hash, err := apikey.Hash(shop.key, s.cfg.Security.APIKeyCost)
		if err != nil {
			return err
		}
		row := &models.Shop{
			ShopID:              shop.id,
			Name:                shop.name,
			APIKeyHash:          hash,
			PurchasedRcnBalance: decimal.NewFromInt(shop.pool),
			Active:              true,
		}
		if err := s.db.Create(row).Error; err != nil {
			return err
		}
		log.Printf("🏪 Seeded %s (X-API-Key: %s)", shop.id, shop.key)
	}
	return nil
}

// printAdminToken logs a short-lived ADMIN token for local testing
func (s *Seeder) printAdminToken() {
	token, err := jwt.GenerateAccessToken("dev-admin", jwt.RoleAdmin, "", s.cfg.JWT.Issuer, s.cfg.JWT.Secret, 24*time.Hour)
	if err != nil {
		log.Printf("⚠️ Could not issue dev admin token: %v", err)
		return
	}
	log.Printf("🔑 Dev ADMIN token: %s", token)
}

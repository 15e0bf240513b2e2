package models

import (
	"encoding/json"
	"time"

	"rcn-ledger/internal/core/domain"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ============================================================
// Customers & Shops
// ============================================================

// Customer represents customers table. Tier and LifetimeEarnings are rebuilt
// from ledger_events inside every append transaction.
type Customer struct {
	Address          string          `gorm:"primaryKey;size:64" json:"address"`
	HomeShopID       string          `gorm:"size:64;index" json:"home_shop_id"`
	Tier             string          `gorm:"size:10;not null;default:'BRONZE'" json:"tier"`
	LifetimeEarnings decimal.Decimal `gorm:"type:decimal(20,8);not null;default:0" json:"lifetime_earnings"`
	CreatedAt        time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Customer) TableName() string {
	return "customers"
}

func (c *Customer) ToDomain() *domain.Customer {
	return &domain.Customer{
		Address:          c.Address,
		HomeShopID:       c.HomeShopID,
		Tier:             domain.Tier(c.Tier),
		LifetimeEarnings: c.LifetimeEarnings,
		CreatedAt:        c.CreatedAt,
	}
}

// Shop represents shops table (the shop ledger)
type Shop struct {
	ShopID                    string          `gorm:"primaryKey;size:64" json:"shop_id"`
	Name                      string          `gorm:"size:120;not null" json:"name"`
	APIKeyHash                string          `gorm:"size:255;not null" json:"-"`
	PurchasedRcnBalance       decimal.Decimal `gorm:"type:decimal(20,8);not null;default:0" json:"purchased_rcn_balance"`
	TotalTokensIssued         decimal.Decimal `gorm:"type:decimal(20,8);not null;default:0" json:"total_tokens_issued"`
	TotalRedemptionsProcessed decimal.Decimal `gorm:"type:decimal(20,8);not null;default:0" json:"total_redemptions_processed"`
	Active                    bool            `gorm:"default:true" json:"active"`
	CreatedAt                 time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt                 time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Shop) TableName() string {
	return "shops"
}

func (s *Shop) ToDomain() *domain.ShopLedger {
	return &domain.ShopLedger{
		ShopID:                    s.ShopID,
		Name:                      s.Name,
		PurchasedRcnBalance:       s.PurchasedRcnBalance,
		TotalTokensIssued:         s.TotalTokensIssued,
		TotalRedemptionsProcessed: s.TotalRedemptionsProcessed,
		Active:                    s.Active,
		CreatedAt:                 s.CreatedAt,
	}
}

// ============================================================
// Event Log
// ============================================================

// LedgerEvent represents ledger_events table. Rows are only ever inserted.
type LedgerEvent struct {
	ID              string          `gorm:"primaryKey;size:36" json:"id"`
	CustomerAddress string          `gorm:"size:64;not null;index:idx_events_customer_created,priority:1" json:"customer_address"`
	Kind            string          `gorm:"size:20;not null" json:"kind"`
	Amount          decimal.Decimal `gorm:"type:decimal(20,8);not null" json:"amount"`
	ShopID          *string         `gorm:"size:64;index" json:"shop_id"`
	Metadata        datatypes.JSON  `json:"metadata"`
	IdempotencyKey  *string         `gorm:"size:192;uniqueIndex" json:"idempotency_key,omitempty"`
	CreatedAt       time.Time       `gorm:"not null;index:idx_events_customer_created,priority:2" json:"created_at"`
}

func (LedgerEvent) TableName() string {
	return "ledger_events"
}

func (e *LedgerEvent) ToDomain() *domain.LedgerEvent {
	var meta map[string]any
	if len(e.Metadata) > 0 {
		_ = json.Unmarshal(e.Metadata, &meta)
	}
	return &domain.LedgerEvent{
		ID:              e.ID,
		CustomerAddress: e.CustomerAddress,
		Kind:            domain.EventKind(e.Kind),
		Amount:          e.Amount,
		ShopID:          e.ShopID,
		Metadata:        meta,
		IdempotencyKey:  e.IdempotencyKey,
		CreatedAt:       e.CreatedAt,
	}
}

// NewLedgerEvent converts a domain event into its row form
func NewLedgerEvent(e *domain.LedgerEvent) (*LedgerEvent, error) {
	row := &LedgerEvent{
		ID:              e.ID,
		CustomerAddress: e.CustomerAddress,
		Kind:            string(e.Kind),
		Amount:          e.Amount,
		ShopID:          e.ShopID,
		IdempotencyKey:  e.IdempotencyKey,
		CreatedAt:       e.CreatedAt,
	}
	if len(e.Metadata) > 0 {
		raw, err := json.Marshal(e.Metadata)
		if err != nil {
			return nil, err
		}
		row.Metadata = datatypes.JSON(raw)
	}
	return row, nil
}

// ============================================================
// Redemption Sessions
// ============================================================

// RedemptionSession represents redemption_sessions table.
// ActiveKey carries the customer address while the session is PENDING or
// APPROVED and is NULL afterwards; its unique index allows one active session
// per customer.
type RedemptionSession struct {
	ID                  string          `gorm:"primaryKey;size:36" json:"id"`
	CustomerAddress     string          `gorm:"size:64;not null;index:idx_sessions_customer_status,priority:1" json:"customer_address"`
	ShopID              string          `gorm:"size:64;not null;index" json:"shop_id"`
	Amount              decimal.Decimal `gorm:"type:decimal(20,8);not null" json:"amount"`
	Status              string          `gorm:"size:20;not null;index:idx_sessions_customer_status,priority:2;index:idx_sessions_status_expires,priority:1" json:"status"`
	ActiveKey           *string         `gorm:"size:64;uniqueIndex" json:"-"`
	ExpiresAt           time.Time       `gorm:"not null;index:idx_sessions_status_expires,priority:2" json:"expires_at"`
	ApprovedAt          *time.Time      `json:"approved_at"`
	RejectionReason     string          `gorm:"size:255" json:"rejection_reason"`
	SettlementStartedAt *time.Time      `json:"settlement_started_at"`
	SettlementAttempts  int             `gorm:"not null;default:0" json:"settlement_attempts"`
	SettledAt           *time.Time      `json:"settled_at"`
	TxReference         string          `gorm:"size:128" json:"tx_reference"`
	FailureReason       string          `gorm:"type:text" json:"failure_reason"`
	CreatedAt           time.Time       `gorm:"not null" json:"created_at"`
	UpdatedAt           time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (RedemptionSession) TableName() string {
	return "redemption_sessions"
}

func (s *RedemptionSession) ToDomain() *domain.RedemptionSession {
	return &domain.RedemptionSession{
		ID:                  s.ID,
		CustomerAddress:     s.CustomerAddress,
		ShopID:              s.ShopID,
		Amount:              s.Amount,
		Status:              domain.SessionStatus(s.Status),
		CreatedAt:           s.CreatedAt,
		ExpiresAt:           s.ExpiresAt,
		ApprovedAt:          s.ApprovedAt,
		RejectionReason:     s.RejectionReason,
		SettlementStartedAt: s.SettlementStartedAt,
		SettlementAttempts:  s.SettlementAttempts,
		SettledAt:           s.SettledAt,
		TxReference:         s.TxReference,
		FailureReason:       s.FailureReason,
	}
}

// ============================================================
// Auto Migration
// ============================================================

// AutoMigrate runs auto migration for all ledger tables
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Customer{},
		&Shop{},
		&LedgerEvent{},
		&RedemptionSession{},
	)
}

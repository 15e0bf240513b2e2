package repositories

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"
)

// Store bundles the ledger repositories over one database handle. A Store
// obtained inside Transaction shares that transaction.
type Store struct {
	db        *gorm.DB
	Customers CustomerRepository
	Shops     ShopRepository
	Events    EventRepository
	Sessions  SessionRepository
}

// NewStore creates a store over db
func NewStore(db *gorm.DB) *Store {
	return &Store{
		db:        db,
		Customers: NewCustomerRepository(db),
		Shops:     NewShopRepository(db),
		Events:    NewEventRepository(db),
		Sessions:  NewSessionRepository(db),
	}
}

// DB returns the underlying handle
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Transaction runs fn inside a database transaction. The transaction is
// committed when fn returns nil and rolled back otherwise.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewStore(tx))
	})
}

// IsNotFound reports whether err is a missing-row error
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

// IsDuplicate reports whether err is a unique constraint violation
func IsDuplicate(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate") || strings.Contains(msg, "unique")
}

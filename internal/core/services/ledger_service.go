package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"rcn-ledger/internal/adapters/persistence/models"
	"rcn-ledger/internal/adapters/persistence/repositories"
	"rcn-ledger/internal/core/domain"
	"rcn-ledger/internal/pkg/apikey"
	"rcn-ledger/internal/pkg/keylock"
	"rcn-ledger/internal/pkg/metrics"
	"rcn-ledger/internal/pkg/pagination"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	maxIdempotencyKeyLen = 64
	maxTxReferenceLen    = 128
)

// LedgerService appends ledger events and manages customers and shop pools
type LedgerService struct {
	store      *repositories.Store
	locks      *keylock.Locker
	aggregator *BalanceAggregator
	tiers      *TierEngine
	apiKeyCost int
	logger     *zap.Logger
	metrics    *metrics.LedgerMetrics
	now        func() time.Time
}

// NewLedgerService creates a new ledger service. locks must be shared with
// the SessionManager so both serialize on the same customer keys.
func NewLedgerService(
	store *repositories.Store,
	locks *keylock.Locker,
	aggregator *BalanceAggregator,
	tiers *TierEngine,
	apiKeyCost int,
	logger *zap.Logger,
) *LedgerService {
	return &LedgerService{
		store:      store,
		locks:      locks,
		aggregator: aggregator,
		tiers:      tiers,
		apiKeyCost: apiKeyCost,
		logger:     logger,
		metrics:    metrics.Ledger(),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// ============================================================
// Customers
// ============================================================

// RegisterCustomerInput represents customer registration request
type RegisterCustomerInput struct {
	Address    string `json:"address"`
	HomeShopID string `json:"homeShopId"`
}

// RegisterCustomer creates a customer with an empty ledger
func (s *LedgerService) RegisterCustomer(ctx context.Context, input *RegisterCustomerInput) (*domain.Customer, error) {
	address := domain.NormalizeAddress(input.Address)
	if !common.IsHexAddress(address) {
		return nil, fmt.Errorf("%w: address must be a 20-byte hex wallet address", domain.ErrInvalidInput)
	}
	homeShopID := strings.TrimSpace(input.HomeShopID)

	if homeShopID != "" {
		if _, err := s.store.Shops.GetByID(ctx, homeShopID); err != nil {
			if repositories.IsNotFound(err) {
				return nil, fmt.Errorf("home shop %s: %w", homeShopID, domain.ErrNotFound)
			}
			return nil, err
		}
	}

	customer := &models.Customer{
		Address:          address,
		HomeShopID:       homeShopID,
		Tier:             string(domain.TierBronze),
		LifetimeEarnings: decimal.Zero,
		CreatedAt:        s.now(),
	}
	if err := s.store.Customers.Create(ctx, customer); err != nil {
		if repositories.IsDuplicate(err) {
			return nil, fmt.Errorf("customer %s: %w", address, domain.ErrDuplicateEntry)
		}
		return nil, fmt.Errorf("create customer: %w", err)
	}

	s.logger.Info("customer registered", zap.String("address", address), zap.String("home_shop_id", homeShopID))
	return customer.ToDomain(), nil
}

// GetCustomer returns a customer by address
func (s *LedgerService) GetCustomer(ctx context.Context, address string) (*domain.Customer, error) {
	customer, err := s.store.Customers.GetByAddress(ctx, domain.NormalizeAddress(address))
	if err != nil {
		if repositories.IsNotFound(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return customer.ToDomain(), nil
}

// ============================================================
// Shops
// ============================================================

// RegisterShopInput represents shop registration request
type RegisterShopInput struct {
	ShopID      string          `json:"shopId"`
	Name        string          `json:"name"`
	InitialPool decimal.Decimal `json:"initialPool"`
}

// RegisteredShop carries the plaintext API key, which is only shown once
type RegisteredShop struct {
	Shop   *domain.ShopLedger `json:"shop"`
	APIKey string             `json:"apiKey"`
}

// RegisterShop creates a shop ledger and issues its terminal API key
func (s *LedgerService) RegisterShop(ctx context.Context, input *RegisterShopInput) (*RegisteredShop, error) {
	shopID := strings.TrimSpace(input.ShopID)
	name := strings.TrimSpace(input.Name)
	if shopID == "" || name == "" {
		return nil, fmt.Errorf("%w: shopId and name are required", domain.ErrInvalidInput)
	}
	if input.InitialPool.IsNegative() {
		return nil, fmt.Errorf("%w: initialPool must not be negative", domain.ErrInvalidInput)
	}
	if !input.InitialPool.IsZero() {
		if err := domain.ValidateAmount("initialPool", input.InitialPool); err != nil {
			return nil, err
		}
	}

	key, err := apikey.Generate()
	if err != nil {
		return nil, err
	}
	hash, err := apikey.Hash(key, s.apiKeyCost)
	if err != nil {
		return nil, fmt.Errorf("hash api key: %w", err)
	}

	shop := &models.Shop{
		ShopID:                    shopID,
		Name:                      name,
		APIKeyHash:                hash,
		PurchasedRcnBalance:       input.InitialPool,
		TotalTokensIssued:         decimal.Zero,
		TotalRedemptionsProcessed: decimal.Zero,
		Active:                    true,
		CreatedAt:                 s.now(),
	}
	if err := s.store.Shops.Create(ctx, shop); err != nil {
		if repositories.IsDuplicate(err) {
			return nil, fmt.Errorf("shop %s: %w", shopID, domain.ErrDuplicateEntry)
		}
		return nil, fmt.Errorf("create shop: %w", err)
	}

	s.logger.Info("shop registered", zap.String("shop_id", shopID), zap.String("initial_pool", input.InitialPool.String()))
	return &RegisteredShop{Shop: shop.ToDomain(), APIKey: key}, nil
}

// GetShop returns a shop ledger by ID
func (s *LedgerService) GetShop(ctx context.Context, shopID string) (*domain.ShopLedger, error) {
	shop, err := s.store.Shops.GetByID(ctx, shopID)
	if err != nil {
		if repositories.IsNotFound(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return shop.ToDomain(), nil
}

// AuthenticateShop verifies a terminal API key and returns the shop
func (s *LedgerService) AuthenticateShop(ctx context.Context, shopID, key string) (*domain.ShopLedger, error) {
	shop, err := s.store.Shops.GetByID(ctx, shopID)
	if err != nil {
		if repositories.IsNotFound(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	if !shop.Active || !apikey.Verify(key, shop.APIKeyHash) {
		return nil, domain.ErrNotFound
	}
	return shop.ToDomain(), nil
}

// PurchaseRCN tops up a shop's prepaid RCN pool
func (s *LedgerService) PurchaseRCN(ctx context.Context, shopID string, amount decimal.Decimal) (*domain.ShopLedger, error) {
	if err := domain.ValidateAmount("amount", amount); err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(shopLockKey(shopID))
	defer unlock()

	var updated *models.Shop
	err := s.store.Transaction(ctx, func(tx *repositories.Store) error {
		shop, err := tx.Shops.LockByID(ctx, shopID)
		if err != nil {
			if repositories.IsNotFound(err) {
				return domain.ErrNotFound
			}
			return err
		}
		shop.PurchasedRcnBalance = shop.PurchasedRcnBalance.Add(amount)
		if err := tx.Shops.UpdateBalances(ctx, shop); err != nil {
			return fmt.Errorf("update shop balances: %w", err)
		}
		updated = shop
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("shop pool topped up",
		zap.String("shop_id", shopID),
		zap.String("amount", amount.String()),
		zap.String("pool", updated.PurchasedRcnBalance.String()),
	)
	return updated.ToDomain(), nil
}

// ============================================================
// Earn / Mint
// ============================================================

// EarnInput represents an earn request from the repair-completion flow
type EarnInput struct {
	CustomerAddress string           `json:"customerAddress"`
	ShopID          string           `json:"shopId"`
	Amount          decimal.Decimal  `json:"amount"`
	Kind            domain.EventKind `json:"kind"`
	Metadata        map[string]any   `json:"metadata"`
	IdempotencyKey  string           `json:"idempotencyKey"`
}

// EarnResult represents the outcome of an earn request
type EarnResult struct {
	Events             []*domain.LedgerEvent `json:"events"`
	Balance            *domain.Balance       `json:"balance"`
	Bonus              decimal.Decimal       `json:"bonus"`
	BonusRefused       bool                  `json:"bonusRefused"`
	BonusRefusedReason string                `json:"bonusRefusedReason,omitempty"`
	Replayed           bool                  `json:"replayed"`
}

// Earn appends an EARN, REFERRAL or BONUS event and rebuilds the tier
// snapshot in the same transaction.
//
// EARN adds to the shop's issued total and, when the amount qualifies,
// attempts a tier bonus from the shop pool at the tier held before this
// transaction. A refused bonus does not undo the earn. BONUS is an explicit
// issuance from the pool and fails with ErrInsufficientShopBalance when the
// pool cannot cover it.
func (s *LedgerService) Earn(ctx context.Context, input *EarnInput) (*EarnResult, error) {
	address := domain.NormalizeAddress(input.CustomerAddress)
	shopID := strings.TrimSpace(input.ShopID)

	if address == "" {
		return nil, fmt.Errorf("%w: customerAddress is required", domain.ErrInvalidInput)
	}
	if err := domain.ValidateAmount("amount", input.Amount); err != nil {
		return nil, err
	}
	switch input.Kind {
	case domain.EventEarn, domain.EventBonus:
		if shopID == "" {
			return nil, fmt.Errorf("%w: shopId is required for %s", domain.ErrInvalidInput, input.Kind)
		}
	case domain.EventReferral:
	default:
		return nil, fmt.Errorf("%w: kind must be EARN, BONUS or REFERRAL", domain.ErrInvalidInput)
	}
	if len(strings.TrimSpace(input.IdempotencyKey)) > maxIdempotencyKeyLen {
		return nil, fmt.Errorf("%w: idempotencyKey exceeds %d characters", domain.ErrInvalidInput, maxIdempotencyKeyLen)
	}

	// customer before shop
	unlockCustomer := s.locks.Lock(customerLockKey(address))
	defer unlockCustomer()
	if shopID != "" {
		unlockShop := s.locks.Lock(shopLockKey(shopID))
		defer unlockShop()
	}

	key := earnKey(shopID, input.IdempotencyKey)
	result := &EarnResult{Bonus: decimal.Zero}
	err := s.store.Transaction(ctx, func(tx *repositories.Store) error {
		if _, err := tx.Customers.LockByAddress(ctx, address); err != nil {
			if repositories.IsNotFound(err) {
				return fmt.Errorf("customer %s: %w", address, domain.ErrNotFound)
			}
			return err
		}

		var shop *models.Shop
		if shopID != "" {
			var err error
			shop, err = tx.Shops.LockByID(ctx, shopID)
			if err != nil {
				if repositories.IsNotFound(err) {
					return fmt.Errorf("shop %s: %w", shopID, domain.ErrNotFound)
				}
				return err
			}
			if !shop.Active {
				return fmt.Errorf("%w: shop %s is not active", domain.ErrInvalidInput, shopID)
			}
		}

		if key != "" {
			existing, err := tx.Events.GetByIdempotencyKey(ctx, key)
			if err == nil {
				if existing.CustomerAddress != address || existing.Kind != string(input.Kind) {
					return fmt.Errorf("%w: idempotencyKey already used for another request", domain.ErrDuplicateEntry)
				}
				result.Events = []*domain.LedgerEvent{existing.ToDomain()}
				result.Replayed = true
				return nil
			}
			if !repositories.IsNotFound(err) {
				return err
			}
		}

		before, err := s.aggregator.totals(ctx, tx, address)
		if err != nil {
			return err
		}

		var shopRef *string
		if shopID != "" {
			shopRef = &shopID
		}
		primary := &domain.LedgerEvent{
			ID:              uuid.NewString(),
			CustomerAddress: address,
			Kind:            input.Kind,
			Amount:          input.Amount,
			ShopID:          shopRef,
			Metadata:        input.Metadata,
			CreatedAt:       s.now(),
		}
		if key != "" {
			primary.IdempotencyKey = &key
		}

		if input.Kind == domain.EventBonus {
			if shop.PurchasedRcnBalance.LessThan(input.Amount) {
				s.logger.Warn("bonus refused: shop pool insufficient",
					zap.String("shop_id", shopID),
					zap.String("customer", address),
					zap.String("amount", input.Amount.String()),
					zap.String("pool", shop.PurchasedRcnBalance.String()),
				)
				s.metrics.RecordBonusRefused()
				return domain.ErrInsufficientShopBalance
			}
			shop.PurchasedRcnBalance = shop.PurchasedRcnBalance.Sub(input.Amount)
			shop.TotalTokensIssued = shop.TotalTokensIssued.Add(input.Amount)
			result.Bonus = input.Amount
		}
		if err := s.append(ctx, tx, primary); err != nil {
			return err
		}
		result.Events = append(result.Events, primary)

		if input.Kind == domain.EventEarn {
			shop.TotalTokensIssued = shop.TotalTokensIssued.Add(input.Amount)

			bonus, tier, err := s.tiers.TransactionBonus(before.Lifetime, input.Amount)
			switch {
			case errors.Is(err, domain.ErrNotQualifying):
			case bonus.IsPositive() && shop.PurchasedRcnBalance.LessThan(bonus):
				result.BonusRefused = true
				result.BonusRefusedReason = domain.ErrInsufficientShopBalance.Error()
				s.logger.Warn("tier bonus refused: shop pool insufficient",
					zap.String("shop_id", shopID),
					zap.String("customer", address),
					zap.String("tier", string(tier)),
					zap.String("bonus", bonus.String()),
					zap.String("pool", shop.PurchasedRcnBalance.String()),
				)
				s.metrics.RecordBonusRefused()
			case bonus.IsPositive():
				bonusEvent := &domain.LedgerEvent{
					ID:              uuid.NewString(),
					CustomerAddress: address,
					Kind:            domain.EventBonus,
					Amount:          bonus,
					ShopID:          shopRef,
					Metadata: map[string]any{
						"reason":       "tier_bonus",
						"tier":         string(tier),
						"source_event": primary.ID,
					},
					CreatedAt: primary.CreatedAt,
				}
				if err := s.append(ctx, tx, bonusEvent); err != nil {
					return err
				}
				shop.PurchasedRcnBalance = shop.PurchasedRcnBalance.Sub(bonus)
				shop.TotalTokensIssued = shop.TotalTokensIssued.Add(bonus)
				result.Bonus = bonus
				result.Events = append(result.Events, bonusEvent)
			}
		}

		if shop != nil && input.Kind != domain.EventReferral {
			if err := tx.Shops.UpdateBalances(ctx, shop); err != nil {
				return fmt.Errorf("update shop balances: %w", err)
			}
		}

		return s.rebuildSnapshot(ctx, tx, address)
	})
	if err != nil {
		return nil, err
	}

	s.aggregator.Invalidate(ctx, address)
	if !result.Replayed {
		for _, e := range result.Events {
			s.metrics.RecordEvent(string(e.Kind))
		}
		s.logger.Info("ledger events appended",
			zap.String("customer", address),
			zap.String("shop_id", shopID),
			zap.String("kind", string(input.Kind)),
			zap.String("amount", input.Amount.String()),
			zap.String("bonus", result.Bonus.String()),
			zap.Bool("bonus_refused", result.BonusRefused),
		)
	}

	result.Balance, err = s.aggregator.Compute(ctx, s.store, address)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// MintInput represents a mint-to-wallet request
type MintInput struct {
	CustomerAddress string          `json:"customerAddress"`
	Amount          decimal.Decimal `json:"amount"`
	TxReference     string          `json:"txReference"`
}

// MintToWallet moves balance to the customer's on-chain wallet. The event is
// keyed by the transaction reference so a repeated request is a no-op.
func (s *LedgerService) MintToWallet(ctx context.Context, input *MintInput) (*domain.LedgerEvent, *domain.Balance, error) {
	address := domain.NormalizeAddress(input.CustomerAddress)
	if address == "" {
		return nil, nil, fmt.Errorf("%w: customerAddress is required", domain.ErrInvalidInput)
	}
	if err := domain.ValidateAmount("amount", input.Amount); err != nil {
		return nil, nil, err
	}
	if len(strings.TrimSpace(input.TxReference)) > maxTxReferenceLen {
		return nil, nil, fmt.Errorf("%w: txReference exceeds %d characters", domain.ErrInvalidInput, maxTxReferenceLen)
	}

	unlock := s.locks.Lock(customerLockKey(address))
	defer unlock()

	var event *domain.LedgerEvent
	replayed := false
	err := s.store.Transaction(ctx, func(tx *repositories.Store) error {
		if _, err := tx.Customers.LockByAddress(ctx, address); err != nil {
			if repositories.IsNotFound(err) {
				return fmt.Errorf("customer %s: %w", address, domain.ErrNotFound)
			}
			return err
		}

		var key *string
		if ref := strings.TrimSpace(input.TxReference); ref != "" {
			k := "mint:" + ref
			key = &k
			existing, err := tx.Events.GetByIdempotencyKey(ctx, k)
			if err == nil {
				if existing.CustomerAddress != address || existing.Kind != string(domain.EventMintToWallet) {
					return fmt.Errorf("%w: txReference already recorded for another request", domain.ErrDuplicateEntry)
				}
				event = existing.ToDomain()
				replayed = true
				return nil
			}
			if !repositories.IsNotFound(err) {
				return err
			}
		}

		totals, err := s.aggregator.totals(ctx, tx, address)
		if err != nil {
			return err
		}
		if totals.Available().LessThan(input.Amount) {
			return domain.ErrInsufficientBalance
		}

		event = &domain.LedgerEvent{
			ID:              uuid.NewString(),
			CustomerAddress: address,
			Kind:            domain.EventMintToWallet,
			Amount:          input.Amount,
			IdempotencyKey:  key,
			CreatedAt:       s.now(),
		}
		if input.TxReference != "" {
			event.Metadata = map[string]any{"tx_reference": input.TxReference}
		}
		return s.append(ctx, tx, event)
	})
	if err != nil {
		return nil, nil, err
	}

	s.aggregator.Invalidate(ctx, address)
	if !replayed {
		s.metrics.RecordEvent(string(domain.EventMintToWallet))
		s.logger.Info("minted to wallet", zap.String("customer", address), zap.String("amount", input.Amount.String()))
	}

	balance, err := s.aggregator.Compute(ctx, s.store, address)
	if err != nil {
		return nil, nil, err
	}
	return event, balance, nil
}

// History returns a page of the customer's events, newest first
func (s *LedgerService) History(ctx context.Context, address string, params *pagination.Params) (*pagination.Response, error) {
	address = domain.NormalizeAddress(address)
	if _, err := s.store.Customers.GetByAddress(ctx, address); err != nil {
		if repositories.IsNotFound(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	if params == nil {
		params = pagination.NewParams(1, pagination.DefaultLimit)
	}

	rows, total, err := s.store.Events.Page(ctx, address, params.Offset, params.Limit)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}

	events := make([]*domain.LedgerEvent, 0, len(rows))
	for _, row := range rows {
		events = append(events, row.ToDomain())
	}
	return pagination.NewResponse(events, params, total), nil
}

// earnKey scopes a caller-supplied idempotency key to the issuing shop so it
// can never collide with the keys the ledger writes itself (redeem:, mint:)
func earnKey(shopID, key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return ""
	}
	if shopID == "" {
		return "referral:" + key
	}
	return "earn:" + shopID + ":" + key
}

// append writes one event through tx
func (s *LedgerService) append(ctx context.Context, tx *repositories.Store, event *domain.LedgerEvent) error {
	row, err := models.NewLedgerEvent(event)
	if err != nil {
		return fmt.Errorf("encode event metadata: %w", err)
	}
	if err := tx.Events.Append(ctx, row); err != nil {
		if repositories.IsDuplicate(err) {
			return fmt.Errorf("event %s: %w", event.Kind, domain.ErrDuplicateEntry)
		}
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// rebuildSnapshot recomputes the stored tier and lifetime earnings from the log
func (s *LedgerService) rebuildSnapshot(ctx context.Context, tx *repositories.Store, address string) error {
	totals, err := s.aggregator.totals(ctx, tx, address)
	if err != nil {
		return err
	}
	tier := s.tiers.TierFor(totals.Lifetime)
	if err := tx.Customers.UpdateSnapshot(ctx, address, string(tier), totals.Lifetime); err != nil {
		return fmt.Errorf("update customer snapshot: %w", err)
	}
	return nil
}

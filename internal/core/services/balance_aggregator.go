package services

import (
	"context"
	"fmt"
	"sync"

	"rcn-ledger/internal/adapters/persistence/repositories"
	"rcn-ledger/internal/core/domain"
	"rcn-ledger/internal/pkg/keylock"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Totals are the event-log sums a balance is derived from
type Totals struct {
	Lifetime decimal.Decimal
	Redeemed decimal.Decimal
	Minted   decimal.Decimal
	Hold     decimal.Decimal
}

// Available is the one balance formula:
// max(0, lifetime - redeemed - minted - hold).
func (t Totals) Available() decimal.Decimal {
	v := t.Lifetime.Sub(t.Redeemed).Sub(t.Minted).Sub(t.Hold)
	if v.IsNegative() {
		return decimal.Zero
	}
	return v
}

// Fold sums events and active-session holds into Totals
func Fold(events []*domain.LedgerEvent, holds []decimal.Decimal) Totals {
	t := Totals{
		Lifetime: decimal.Zero,
		Redeemed: decimal.Zero,
		Minted:   decimal.Zero,
		Hold:     decimal.Zero,
	}
	for _, e := range events {
		switch {
		case e.Kind.Earning():
			t.Lifetime = t.Lifetime.Add(e.Amount)
		case e.Kind == domain.EventRedeem:
			t.Redeemed = t.Redeemed.Add(e.Amount)
		case e.Kind == domain.EventMintToWallet:
			t.Minted = t.Minted.Add(e.Amount)
		}
	}
	for _, h := range holds {
		t.Hold = t.Hold.Add(h)
	}
	return t
}

// BalanceAggregator derives balances from the event log and active sessions.
//
// Every Invalidate bumps a per-address generation. A cache fill is dropped
// when the generation moved while the balance was being computed, so a read
// racing a write never parks a stale value in the cache.
type BalanceAggregator struct {
	store  *repositories.Store
	tiers  *TierEngine
	cache  BalanceCache
	logger *zap.Logger

	fills       *keylock.Locker
	genMu       sync.Mutex
	generations map[string]uint64
}

// NewBalanceAggregator creates a new aggregator. cache may be nil.
func NewBalanceAggregator(store *repositories.Store, tiers *TierEngine, cache BalanceCache, logger *zap.Logger) *BalanceAggregator {
	return &BalanceAggregator{
		store:       store,
		tiers:       tiers,
		cache:       cache,
		logger:      logger,
		fills:       keylock.New(),
		generations: make(map[string]uint64),
	}
}

// Balance returns the customer's balance, served from the cache when present
func (a *BalanceAggregator) Balance(ctx context.Context, address string) (*domain.Balance, error) {
	address = domain.NormalizeAddress(address)
	if address == "" {
		return nil, fmt.Errorf("%w: address is required", domain.ErrInvalidInput)
	}

	gen := a.generation(address)
	if a.cache != nil {
		cached, ok, err := a.cache.Get(ctx, address)
		if err != nil {
			a.logger.Warn("balance cache read failed", zap.String("address", address), zap.Error(err))
		} else if ok {
			return cached, nil
		}
	}

	balance, err := a.Compute(ctx, a.store, address)
	if err != nil {
		return nil, err
	}

	if a.cache != nil {
		a.fill(ctx, balance, gen)
	}
	return balance, nil
}

// fill caches balance unless the address was invalidated after gen was read
func (a *BalanceAggregator) fill(ctx context.Context, balance *domain.Balance, gen uint64) {
	unlock := a.fills.Lock(balance.Address)
	defer unlock()

	if a.generation(balance.Address) != gen {
		return
	}
	if err := a.cache.Set(ctx, balance); err != nil {
		a.logger.Warn("balance cache write failed", zap.String("address", balance.Address), zap.Error(err))
	}
}

func (a *BalanceAggregator) generation(address string) uint64 {
	a.genMu.Lock()
	defer a.genMu.Unlock()
	return a.generations[address]
}

// Compute recomputes the balance through store, bypassing the cache. Pass a
// transaction-bound store to read under the caller's locks.
func (a *BalanceAggregator) Compute(ctx context.Context, store *repositories.Store, address string) (*domain.Balance, error) {
	if _, err := store.Customers.GetByAddress(ctx, address); err != nil {
		if repositories.IsNotFound(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("load customer: %w", err)
	}

	totals, err := a.totals(ctx, store, address)
	if err != nil {
		return nil, err
	}

	return &domain.Balance{
		Address:          address,
		AvailableBalance: totals.Available(),
		LifetimeEarnings: totals.Lifetime,
		TotalRedeemed:    totals.Redeemed,
		MintedToWallet:   totals.Minted,
		PendingHold:      totals.Hold,
		Tier:             a.tiers.TierFor(totals.Lifetime),
	}, nil
}

func (a *BalanceAggregator) totals(ctx context.Context, store *repositories.Store, address string) (Totals, error) {
	rows, err := store.Events.ListByCustomer(ctx, address)
	if err != nil {
		return Totals{}, fmt.Errorf("load events: %w", err)
	}
	events := make([]*domain.LedgerEvent, 0, len(rows))
	for _, row := range rows {
		events = append(events, &domain.LedgerEvent{Kind: domain.EventKind(row.Kind), Amount: row.Amount})
	}

	sessions, err := store.Sessions.ListActiveByCustomer(ctx, address)
	if err != nil {
		return Totals{}, fmt.Errorf("load active sessions: %w", err)
	}
	holds := make([]decimal.Decimal, 0, len(sessions))
	for _, s := range sessions {
		holds = append(holds, s.Amount)
	}

	return Fold(events, holds), nil
}

// Invalidate drops any cached balance for address. Failures are logged;
// the entry still expires on its TTL.
func (a *BalanceAggregator) Invalidate(ctx context.Context, address string) {
	if a.cache == nil {
		return
	}
	address = domain.NormalizeAddress(address)

	// waits out an in-progress fill so the delete below lands after it
	unlock := a.fills.Lock(address)
	a.genMu.Lock()
	a.generations[address]++
	a.genMu.Unlock()
	unlock()

	if err := a.cache.Invalidate(ctx, address); err != nil {
		a.logger.Warn("balance cache invalidation failed", zap.String("address", address), zap.Error(err))
	}
}

package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"rcn-ledger/internal/adapters/cache"
	"rcn-ledger/internal/core/domain"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func propertyParameters(minSuccessful int) *gopter.TestParameters {
	p := gopter.DefaultTestParameters()
	p.MinSuccessfulTests = minSuccessful
	return p
}

func TestFoldConservationProperty(t *testing.T) {
	earning := []domain.EventKind{domain.EventEarn, domain.EventBonus, domain.EventReferral}

	properties := gopter.NewProperties(propertyParameters(500))
	properties.Property("available is the running balance and never negative", prop.ForAll(
		func(ops []int) bool {
			var events []*domain.LedgerEvent
			var holds []decimal.Decimal
			running := decimal.Zero

			for _, op := range ops {
				// cents keep the arithmetic exact
				n := op / 4
				amount := decimal.New(int64(n+1), -2)
				switch op % 4 {
				case 0, 1:
					events = append(events, &domain.LedgerEvent{Kind: earning[n%len(earning)], Amount: amount})
					running = running.Add(amount)
				case 2:
					if amount.LessThanOrEqual(running) {
						kind := domain.EventRedeem
						if n%2 == 0 {
							kind = domain.EventMintToWallet
						}
						events = append(events, &domain.LedgerEvent{Kind: kind, Amount: amount})
						running = running.Sub(amount)
					}
				case 3:
					if amount.LessThanOrEqual(running) {
						holds = append(holds, amount)
						running = running.Sub(amount)
					}
				}
			}

			totals := Fold(events, holds)
			available := totals.Available()
			return !available.IsNegative() &&
				totals.Lifetime.Sub(totals.Redeemed).Sub(totals.Minted).Sub(totals.Hold).Equal(available) &&
				available.Equal(running)
		},
		gen.SliceOf(gen.IntRange(0, 4*50000-1)),
	))
	properties.TestingRun(t)
}

const ledgerOpKinds = 6

func TestBalanceConservationThroughServices(t *testing.T) {
	params := propertyParameters(25)
	params.MaxSize = 16

	properties := gopter.NewProperties(params)
	properties.Property("stored balance matches the operations applied", prop.ForAll(
		func(ops []int) bool {
			return runLedgerOps(t, ops)
		},
		gen.SliceOf(gen.IntRange(0, ledgerOpKinds*20-1)),
	))
	properties.TestingRun(t)
}

// runLedgerOps drives earn, referral, mint, create, approve+settle and expiry
// against SQLite and compares the aggregated balance with a running model
// after every step.
func runLedgerOps(t *testing.T, ops []int) bool {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addShop(t, "shop-1", 100000)
	addr := env.addCustomer(t, "shop-1")

	lifetime, redeemed, minted, hold := decimal.Zero, decimal.Zero, decimal.Zero, decimal.Zero
	var active *domain.RedemptionSession

	for step, op := range ops {
		amount := decimal.NewFromInt(int64(op/ledgerOpKinds + 1))

		switch op % ledgerOpKinds {
		case 0, 1:
			in := &EarnInput{CustomerAddress: addr, ShopID: "shop-1", Amount: amount, Kind: domain.EventEarn}
			if op%ledgerOpKinds == 1 {
				in.ShopID = ""
				in.Kind = domain.EventReferral
			}
			res, err := env.ledger.Earn(ctx, in)
			if err != nil {
				t.Logf("step %d: earn: %v", step, err)
				return false
			}
			for _, e := range res.Events {
				lifetime = lifetime.Add(e.Amount)
			}
		case 2:
			_, _, err := env.ledger.MintToWallet(ctx, &MintInput{CustomerAddress: addr, Amount: amount})
			switch {
			case err == nil:
				minted = minted.Add(amount)
			case errors.Is(err, domain.ErrInsufficientBalance):
			default:
				t.Logf("step %d: mint: %v", step, err)
				return false
			}
		case 3:
			s, err := env.sessions.Create(ctx, &CreateSessionInput{CustomerAddress: addr, ShopID: "shop-1", Amount: amount})
			switch {
			case err == nil:
				active, hold = s, amount
			case errors.Is(err, domain.ErrInsufficientBalance), errors.Is(err, domain.ErrSessionAlreadyActive):
			default:
				t.Logf("step %d: create: %v", step, err)
				return false
			}
		case 4:
			if active == nil {
				continue
			}
			if _, err := env.sessions.Approve(ctx, active.ID, env.sign(t, active)); err != nil {
				t.Logf("step %d: approve: %v", step, err)
				return false
			}
			env.sessions.Drain()
			settled, err := env.sessions.Get(ctx, active.ID)
			if err != nil || settled.Status != domain.SessionSettled {
				t.Logf("step %d: session not settled: %v", step, err)
				return false
			}
			redeemed = redeemed.Add(hold)
			active, hold = nil, decimal.Zero
		case 5:
			if active == nil {
				continue
			}
			env.clock.Advance(env.cfg.Ledger.SessionTTL + time.Second)
			if _, err := env.sessions.ExpireDue(ctx); err != nil {
				t.Logf("step %d: expire: %v", step, err)
				return false
			}
			active, hold = nil, decimal.Zero
		}

		b, err := env.aggregator.Balance(ctx, addr)
		if err != nil {
			t.Logf("step %d: balance: %v", step, err)
			return false
		}
		want := lifetime.Sub(redeemed).Sub(minted).Sub(hold)
		if !b.LifetimeEarnings.Equal(lifetime) || !b.TotalRedeemed.Equal(redeemed) ||
			!b.MintedToWallet.Equal(minted) || !b.PendingHold.Equal(hold) ||
			!b.AvailableBalance.Equal(want) || b.AvailableBalance.IsNegative() {
			t.Logf("step %d: got %+v, want available %s", step, b, want)
			return false
		}
	}
	return true
}

func TestFoldClampsAtZero(t *testing.T) {
	totals := Fold([]*domain.LedgerEvent{
		{Kind: domain.EventEarn, Amount: dec("10")},
		{Kind: domain.EventRedeem, Amount: dec("8")},
	}, []decimal.Decimal{dec("5")})

	assert.True(t, totals.Available().IsZero())
	assert.True(t, totals.Hold.Equal(dec("5")))
}

func TestBalanceUnknownAddress(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.aggregator.Balance(context.Background(), "0x0000000000000000000000000000000000000001")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestBalanceReportsEveryComponent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addShop(t, "shop-1", 0)
	addr := env.addCustomer(t, "shop-1")

	env.seed(t, addr, domain.EventEarn, 300)
	env.seed(t, addr, domain.EventRedeem, 50)
	env.seed(t, addr, domain.EventMintToWallet, 25)
	_, err := env.sessions.Create(ctx, &CreateSessionInput{CustomerAddress: addr, ShopID: "shop-1", Amount: dec("100")})
	require.NoError(t, err)

	b, err := env.aggregator.Balance(ctx, addr)
	require.NoError(t, err)
	assert.True(t, b.LifetimeEarnings.Equal(dec("300")))
	assert.True(t, b.TotalRedeemed.Equal(dec("50")))
	assert.True(t, b.MintedToWallet.Equal(dec("25")))
	assert.True(t, b.PendingHold.Equal(dec("100")))
	assert.True(t, b.AvailableBalance.Equal(dec("125")))
	assert.Equal(t, domain.TierSilver, b.Tier)
}

func TestBalanceCacheInvalidatedOnAppend(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addShop(t, "shop-1", 0)
	addr := env.addCustomer(t, "shop-1")

	first, err := env.aggregator.Balance(ctx, addr)
	require.NoError(t, err)
	assert.True(t, first.AvailableBalance.IsZero())

	_, err = env.ledger.Earn(ctx, &EarnInput{CustomerAddress: addr, ShopID: "shop-1", Amount: dec("20"), Kind: domain.EventEarn})
	require.NoError(t, err)

	second, err := env.aggregator.Balance(ctx, addr)
	require.NoError(t, err)
	assert.True(t, second.AvailableBalance.Equal(dec("20")))
}

// racingCache runs onMiss once, between the cache miss and the fill, the
// window in which a concurrent write can land
type racingCache struct {
	BalanceCache
	once   sync.Once
	onMiss func()
}

func (c *racingCache) Get(ctx context.Context, address string) (*domain.Balance, bool, error) {
	b, ok, err := c.BalanceCache.Get(ctx, address)
	if !ok && err == nil {
		c.once.Do(c.onMiss)
	}
	return b, ok, err
}

func TestBalanceCacheDropsFillAfterConcurrentWrite(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addShop(t, "shop-1", 0)
	addr := env.addCustomer(t, "shop-1")

	var aggregator *BalanceAggregator
	racing := &racingCache{BalanceCache: cache.NewMemory(time.Minute)}
	aggregator = NewBalanceAggregator(env.store, NewTierEngine(env.cfg.Ledger), racing, zap.NewNop())
	racing.onMiss = func() {
		// a writer commits and invalidates while the reader is computing
		env.seed(t, addr, domain.EventEarn, 20)
		aggregator.Invalidate(ctx, addr)
	}

	_, err := aggregator.Balance(ctx, addr)
	require.NoError(t, err)

	cached, ok, err := racing.BalanceCache.Get(ctx, addr)
	require.NoError(t, err)
	assert.False(t, ok, "fill from before the write was cached: %+v", cached)

	fresh, err := aggregator.Balance(ctx, addr)
	require.NoError(t, err)
	assert.True(t, fresh.AvailableBalance.Equal(dec("20")))
}

package services

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"rcn-ledger/internal/core/domain"
	"rcn-ledger/internal/pkg/pagination"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEarnIssuesTierBonusFromShopPool(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addShop(t, "shop-1", 100)
	addr := env.addCustomer(t, "shop-1")

	res, err := env.ledger.Earn(ctx, &EarnInput{CustomerAddress: addr, ShopID: "shop-1", Amount: dec("60"), Kind: domain.EventEarn})
	require.NoError(t, err)

	require.Len(t, res.Events, 2)
	assert.Equal(t, domain.EventEarn, res.Events[0].Kind)
	assert.Equal(t, domain.EventBonus, res.Events[1].Kind)
	assert.True(t, res.Bonus.Equal(dec("10")))
	assert.False(t, res.BonusRefused)
	assert.True(t, res.Balance.AvailableBalance.Equal(dec("70")))

	shop, err := env.ledger.GetShop(ctx, "shop-1")
	require.NoError(t, err)
	assert.True(t, shop.PurchasedRcnBalance.Equal(dec("90")))
	assert.True(t, shop.TotalTokensIssued.Equal(dec("70")))
}

func TestEarnBelowMinimumGetsNoBonus(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addShop(t, "shop-1", 100)
	addr := env.addCustomer(t, "shop-1")

	res, err := env.ledger.Earn(ctx, &EarnInput{CustomerAddress: addr, ShopID: "shop-1", Amount: dec("49"), Kind: domain.EventEarn})
	require.NoError(t, err)
	assert.Len(t, res.Events, 1)
	assert.True(t, res.Bonus.IsZero())
	assert.False(t, res.BonusRefused)
}

func TestEarnKeepsEarnWhenBonusRefused(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addShop(t, "shop-1", 5)
	addr := env.addCustomer(t, "shop-1")

	res, err := env.ledger.Earn(ctx, &EarnInput{CustomerAddress: addr, ShopID: "shop-1", Amount: dec("80"), Kind: domain.EventEarn})
	require.NoError(t, err)
	assert.True(t, res.BonusRefused)
	assert.Len(t, res.Events, 1)
	assert.True(t, res.Balance.AvailableBalance.Equal(dec("80")))

	shop, err := env.ledger.GetShop(ctx, "shop-1")
	require.NoError(t, err)
	assert.True(t, shop.PurchasedRcnBalance.Equal(dec("5")))
}

func TestEarnBonusUsesTierBeforeTransaction(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addShop(t, "shop-1", 1000)
	addr := env.addCustomer(t, "shop-1")
	env.seed(t, addr, domain.EventEarn, 150)

	// 150 -> BRONZE before, crosses into SILVER with this earn
	res, err := env.ledger.Earn(ctx, &EarnInput{CustomerAddress: addr, ShopID: "shop-1", Amount: dec("100"), Kind: domain.EventEarn})
	require.NoError(t, err)
	assert.True(t, res.Bonus.Equal(dec("10")))
	assert.Equal(t, domain.TierSilver, res.Balance.Tier)

	customer, err := env.ledger.GetCustomer(ctx, addr)
	require.NoError(t, err)
	assert.Equal(t, domain.TierSilver, customer.Tier)
	assert.True(t, customer.LifetimeEarnings.Equal(dec("260")))
}

// Scenario E
func TestExplicitBonusRefusedWhenShopPoolShort(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addShop(t, "shop-1", 10)
	addr := env.addCustomer(t, "shop-1")
	env.seed(t, addr, domain.EventEarn, 300)

	before := env.available(t, addr)

	_, err := env.ledger.Earn(ctx, &EarnInput{CustomerAddress: addr, ShopID: "shop-1", Amount: dec("20"), Kind: domain.EventBonus})
	require.ErrorIs(t, err, domain.ErrInsufficientShopBalance)

	shop, err := env.ledger.GetShop(ctx, "shop-1")
	require.NoError(t, err)
	assert.True(t, shop.PurchasedRcnBalance.Equal(dec("10")))
	assert.True(t, env.available(t, addr).Equal(before))
	assert.Equal(t, int64(0), env.countEvents(t, addr, domain.EventBonus))
}

func TestExplicitBonusDrawsPool(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addShop(t, "shop-1", 50)
	addr := env.addCustomer(t, "")

	res, err := env.ledger.Earn(ctx, &EarnInput{CustomerAddress: addr, ShopID: "shop-1", Amount: dec("20"), Kind: domain.EventBonus})
	require.NoError(t, err)
	assert.True(t, res.Balance.AvailableBalance.Equal(dec("20")))

	shop, err := env.ledger.GetShop(ctx, "shop-1")
	require.NoError(t, err)
	assert.True(t, shop.PurchasedRcnBalance.Equal(dec("30")))
}

func TestReferralNeedsNoShop(t *testing.T) {
	env := newTestEnv(t)
	addr := env.addCustomer(t, "")

	res, err := env.ledger.Earn(context.Background(), &EarnInput{CustomerAddress: addr, Amount: dec("25"), Kind: domain.EventReferral})
	require.NoError(t, err)
	assert.True(t, res.Balance.LifetimeEarnings.Equal(dec("25")))
}

func TestEarnValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addShop(t, "shop-1", 0)
	addr := env.addCustomer(t, "shop-1")

	cases := []*EarnInput{
		{CustomerAddress: addr, ShopID: "shop-1", Amount: dec("10"), Kind: domain.EventRedeem},
		{CustomerAddress: addr, ShopID: "shop-1", Amount: dec("0"), Kind: domain.EventEarn},
		{CustomerAddress: addr, Amount: dec("10"), Kind: domain.EventEarn},
		{CustomerAddress: "", ShopID: "shop-1", Amount: dec("10"), Kind: domain.EventEarn},
	}
	for i, in := range cases {
		_, err := env.ledger.Earn(ctx, in)
		assert.ErrorIs(t, err, domain.ErrInvalidInput, "case %d", i)
	}

	_, err := env.ledger.Earn(ctx, &EarnInput{CustomerAddress: addr, ShopID: "missing", Amount: dec("10"), Kind: domain.EventEarn})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestEarnIdempotencyKeyReplays(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addShop(t, "shop-1", 0)
	addr := env.addCustomer(t, "shop-1")

	in := &EarnInput{CustomerAddress: addr, ShopID: "shop-1", Amount: dec("30"), Kind: domain.EventEarn, IdempotencyKey: "repair-42"}
	first, err := env.ledger.Earn(ctx, in)
	require.NoError(t, err)
	second, err := env.ledger.Earn(ctx, in)
	require.NoError(t, err)

	assert.True(t, second.Replayed)
	assert.Equal(t, first.Events[0].ID, second.Events[0].ID)
	assert.Equal(t, int64(1), env.countEvents(t, addr, domain.EventEarn))
	assert.True(t, second.Balance.AvailableBalance.Equal(dec("30")))
}

func TestMintToWallet(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	addr := env.addCustomer(t, "")
	env.seed(t, addr, domain.EventEarn, 100)

	_, _, err := env.ledger.MintToWallet(ctx, &MintInput{CustomerAddress: addr, Amount: dec("101")})
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)

	_, balance, err := env.ledger.MintToWallet(ctx, &MintInput{CustomerAddress: addr, Amount: dec("40"), TxReference: "0xabc"})
	require.NoError(t, err)
	assert.True(t, balance.AvailableBalance.Equal(dec("60")))
	assert.True(t, balance.MintedToWallet.Equal(dec("40")))

	// same tx reference is a no-op
	_, balance, err = env.ledger.MintToWallet(ctx, &MintInput{CustomerAddress: addr, Amount: dec("40"), TxReference: "0xabc"})
	require.NoError(t, err)
	assert.True(t, balance.AvailableBalance.Equal(dec("60")))
	assert.Equal(t, int64(1), env.countEvents(t, addr, domain.EventMintToWallet))
}

func TestMintCannotSpendHeldBalance(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addShop(t, "shop-1", 0)
	addr := env.addCustomer(t, "shop-1")
	env.seed(t, addr, domain.EventEarn, 100)

	_, err := env.sessions.Create(ctx, &CreateSessionInput{CustomerAddress: addr, ShopID: "shop-1", Amount: dec("70")})
	require.NoError(t, err)

	_, _, err = env.ledger.MintToWallet(ctx, &MintInput{CustomerAddress: addr, Amount: dec("31")})
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
}

func TestRegisterCustomer(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.ledger.RegisterCustomer(ctx, &RegisterCustomerInput{Address: "not-an-address"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = env.ledger.RegisterCustomer(ctx, &RegisterCustomerInput{
		Address:    "0x00000000000000000000000000000000000000AA",
		HomeShopID: "nowhere",
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	c, err := env.ledger.RegisterCustomer(ctx, &RegisterCustomerInput{Address: "0x00000000000000000000000000000000000000AA"})
	require.NoError(t, err)
	assert.Equal(t, "0x00000000000000000000000000000000000000aa", c.Address)
	assert.Equal(t, domain.TierBronze, c.Tier)

	_, err = env.ledger.RegisterCustomer(ctx, &RegisterCustomerInput{Address: "0x00000000000000000000000000000000000000aa"})
	assert.ErrorIs(t, err, domain.ErrDuplicateEntry)
}

func TestShopRegistrationAndAuthentication(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	key := env.addShop(t, "shop-1", 25)

	shop, err := env.ledger.AuthenticateShop(ctx, "shop-1", key)
	require.NoError(t, err)
	assert.Equal(t, "shop-1", shop.ShopID)

	_, err = env.ledger.AuthenticateShop(ctx, "shop-1", key+"x")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = env.ledger.RegisterShop(ctx, &RegisterShopInput{ShopID: "shop-1", Name: "dup"})
	assert.ErrorIs(t, err, domain.ErrDuplicateEntry)

	updated, err := env.ledger.PurchaseRCN(ctx, "shop-1", dec("75"))
	require.NoError(t, err)
	assert.True(t, updated.PurchasedRcnBalance.Equal(dec("100")))

	_, err = env.ledger.PurchaseRCN(ctx, "shop-1", dec("-1"))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestHistoryPaginatesNewestFirst(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	addr := env.addCustomer(t, "")

	for i := 1; i <= 5; i++ {
		_, err := env.ledger.Earn(ctx, &EarnInput{
			CustomerAddress: addr,
			Amount:          dec(fmt.Sprintf("%d", i)),
			Kind:            domain.EventReferral,
		})
		require.NoError(t, err)
		env.clock.Advance(time.Second)
	}

	page, err := env.ledger.History(ctx, addr, pagination.NewParams(1, 2))
	require.NoError(t, err)
	events, ok := page.Items.([]*domain.LedgerEvent)
	require.True(t, ok)
	require.Len(t, events, 2)
	assert.True(t, events[0].Amount.Equal(dec("5")))
	assert.True(t, events[1].Amount.Equal(dec("4")))
	assert.Equal(t, int64(5), page.Meta.Total)
	assert.Equal(t, 3, page.Meta.TotalPages)
	assert.True(t, page.Meta.HasNext)

	last, err := env.ledger.History(ctx, addr, pagination.NewParams(3, 2))
	require.NoError(t, err)
	assert.Len(t, last.Items, 1)
	assert.False(t, last.Meta.HasNext)

	_, err = env.ledger.History(ctx, "0x0000000000000000000000000000000000000009", nil)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestEarnIdempotencyKeyScopedToShop(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addShop(t, "shop-1", 0)
	env.addShop(t, "shop-2", 0)
	x := env.addCustomer(t, "shop-1")
	y := env.addCustomer(t, "shop-1")

	_, err := env.ledger.Earn(ctx, &EarnInput{CustomerAddress: x, ShopID: "shop-1", Amount: dec("10"), Kind: domain.EventEarn, IdempotencyKey: "job-7"})
	require.NoError(t, err)

	// same shop, same key, another customer
	_, err = env.ledger.Earn(ctx, &EarnInput{CustomerAddress: y, ShopID: "shop-1", Amount: dec("10"), Kind: domain.EventEarn, IdempotencyKey: "job-7"})
	assert.ErrorIs(t, err, domain.ErrDuplicateEntry)
	assert.Equal(t, int64(0), env.countEvents(t, y, domain.EventEarn))

	// keys of different shops never collide
	res, err := env.ledger.Earn(ctx, &EarnInput{CustomerAddress: y, ShopID: "shop-2", Amount: dec("10"), Kind: domain.EventEarn, IdempotencyKey: "job-7"})
	require.NoError(t, err)
	assert.False(t, res.Replayed)
	assert.True(t, res.Balance.AvailableBalance.Equal(dec("10")))

	_, err = env.ledger.Earn(ctx, &EarnInput{CustomerAddress: y, ShopID: "shop-2", Amount: dec("1"), Kind: domain.EventEarn, IdempotencyKey: strings.Repeat("k", 65)})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestMintReferenceCannotBePreemptedByEarnKey(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addShop(t, "shop-1", 0)
	addr := env.addCustomer(t, "shop-1")
	env.seed(t, addr, domain.EventEarn, 100)

	_, err := env.ledger.Earn(ctx, &EarnInput{CustomerAddress: addr, ShopID: "shop-1", Amount: dec("1"), Kind: domain.EventEarn, IdempotencyKey: "mint:tx-1"})
	require.NoError(t, err)

	event, balance, err := env.ledger.MintToWallet(ctx, &MintInput{CustomerAddress: addr, Amount: dec("30"), TxReference: "tx-1"})
	require.NoError(t, err)
	assert.Equal(t, domain.EventMintToWallet, event.Kind)
	assert.Equal(t, int64(1), env.countEvents(t, addr, domain.EventMintToWallet))
	assert.True(t, balance.AvailableBalance.Equal(dec("71")))
}

func TestMintReferenceReusedByAnotherCustomer(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	x := env.addCustomer(t, "")
	y := env.addCustomer(t, "")
	env.seed(t, x, domain.EventEarn, 50)
	env.seed(t, y, domain.EventEarn, 50)

	_, _, err := env.ledger.MintToWallet(ctx, &MintInput{CustomerAddress: x, Amount: dec("10"), TxReference: "tx-9"})
	require.NoError(t, err)

	_, _, err = env.ledger.MintToWallet(ctx, &MintInput{CustomerAddress: y, Amount: dec("10"), TxReference: "tx-9"})
	assert.ErrorIs(t, err, domain.ErrDuplicateEntry)
	assert.True(t, env.available(t, y).Equal(dec("50")))
}

func TestAmountsBeyondStoredScaleRejected(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addShop(t, "shop-1", 0)
	addr := env.addCustomer(t, "shop-1")
	env.seed(t, addr, domain.EventEarn, 100)
	tooFine := dec("0.000000001")

	_, err := env.ledger.Earn(ctx, &EarnInput{CustomerAddress: addr, ShopID: "shop-1", Amount: tooFine, Kind: domain.EventEarn})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, _, err = env.ledger.MintToWallet(ctx, &MintInput{CustomerAddress: addr, Amount: tooFine})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = env.ledger.PurchaseRCN(ctx, "shop-1", dec("1.123456789"))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = env.ledger.RegisterShop(ctx, &RegisterShopInput{ShopID: "shop-9", Name: "Nine", InitialPool: tooFine})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	assert.Equal(t, int64(1), env.countEvents(t, addr, domain.EventEarn))
	assert.Equal(t, int64(0), env.countEvents(t, addr, domain.EventMintToWallet))
}

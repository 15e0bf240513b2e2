package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"rcn-ledger/internal/adapters/persistence/models"
	"rcn-ledger/internal/adapters/wallet"
	"rcn-ledger/internal/core/domain"
	"rcn-ledger/internal/pkg/keylock"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func createSession(t *testing.T, env *testEnv, addr, shopID, amount string) *domain.RedemptionSession {
	t.Helper()
	s, err := env.sessions.Create(context.Background(), &CreateSessionInput{
		CustomerAddress: addr,
		ShopID:          shopID,
		Amount:          dec(amount),
	})
	require.NoError(t, err)
	return s
}

// Scenario A
func TestCreateFailsOnInsufficientBalance(t *testing.T) {
	env := newTestEnv(t)
	env.addShop(t, "shop-1", 0)
	addr := env.addCustomer(t, "shop-1")
	env.seed(t, addr, domain.EventEarn, 150)

	b, err := env.aggregator.Balance(context.Background(), addr)
	require.NoError(t, err)
	assert.Equal(t, domain.TierBronze, b.Tier)
	assert.True(t, b.AvailableBalance.Equal(dec("150")))

	_, err = env.sessions.Create(context.Background(), &CreateSessionInput{CustomerAddress: addr, ShopID: "shop-1", Amount: dec("200")})
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
}

// Scenario B
func TestCreateEnforcesCrossShopCap(t *testing.T) {
	env := newTestEnv(t)
	env.addShop(t, "shop-1", 0)
	env.addShop(t, "shop-2", 0)
	addr := env.addCustomer(t, "shop-1")
	env.seed(t, addr, domain.EventEarn, 100)

	_, err := env.sessions.Create(context.Background(), &CreateSessionInput{CustomerAddress: addr, ShopID: "shop-2", Amount: dec("30")})
	assert.ErrorIs(t, err, domain.ErrCrossShopCapExceeded)

	s := createSession(t, env, addr, "shop-2", "15")
	assert.Equal(t, domain.SessionPending, s.Status)
	assert.True(t, env.available(t, addr).Equal(dec("85")))
}

func TestCreateAtHomeShopUsesFullBalance(t *testing.T) {
	env := newTestEnv(t)
	env.addShop(t, "shop-1", 0)
	addr := env.addCustomer(t, "shop-1")
	env.seed(t, addr, domain.EventEarn, 100)

	s := createSession(t, env, addr, "shop-1", "100")
	assert.Equal(t, s.CreatedAt.Add(env.cfg.Ledger.SessionTTL), s.ExpiresAt)
	assert.True(t, env.available(t, addr).IsZero())
}

func TestCreateValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addShop(t, "shop-1", 0)
	addr := env.addCustomer(t, "shop-1")

	_, err := env.sessions.Create(ctx, &CreateSessionInput{CustomerAddress: addr, ShopID: "shop-1", Amount: dec("0")})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = env.sessions.Create(ctx, &CreateSessionInput{CustomerAddress: addr, ShopID: "shop-9", Amount: dec("1")})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = env.sessions.Create(ctx, &CreateSessionInput{CustomerAddress: "0x0000000000000000000000000000000000000007", ShopID: "shop-1", Amount: dec("1")})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCreateRejectsSecondActiveSession(t *testing.T) {
	env := newTestEnv(t)
	env.addShop(t, "shop-1", 0)
	addr := env.addCustomer(t, "shop-1")
	env.seed(t, addr, domain.EventEarn, 100)

	createSession(t, env, addr, "shop-1", "10")

	// the active-session check runs before the balance check
	_, err := env.sessions.Create(context.Background(), &CreateSessionInput{CustomerAddress: addr, ShopID: "shop-1", Amount: dec("1000")})
	assert.ErrorIs(t, err, domain.ErrSessionAlreadyActive)
}

func TestConcurrentCreateYieldsOneActiveSession(t *testing.T) {
	env := newTestEnv(t)
	env.addShop(t, "shop-1", 0)
	addr := env.addCustomer(t, "shop-1")
	env.seed(t, addr, domain.EventEarn, 100)

	const workers = 10
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded, conflicted := 0, 0

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.sessions.Create(context.Background(), &CreateSessionInput{CustomerAddress: addr, ShopID: "shop-1", Amount: dec("10")})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case assert.ErrorIs(t, err, domain.ErrSessionAlreadyActive):
				conflicted++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, workers-1, conflicted)

	var active int64
	require.NoError(t, env.db.Model(&models.RedemptionSession{}).
		Where("customer_address = ? AND status IN ?", addr, []string{"PENDING", "APPROVED"}).
		Count(&active).Error)
	assert.Equal(t, int64(1), active)
	assert.True(t, env.available(t, addr).Equal(dec("90")))
}

// Scenario C
func TestExpirySweepReleasesHold(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addShop(t, "shop-1", 0)
	addr := env.addCustomer(t, "shop-1")
	env.seed(t, addr, domain.EventEarn, 100)

	s := createSession(t, env, addr, "shop-1", "40")
	assert.True(t, env.available(t, addr).Equal(dec("60")))

	n, err := env.sessions.ExpireDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	env.clock.Advance(env.cfg.Ledger.SessionTTL)
	n, err = env.sessions.ExpireDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := env.sessions.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionExpired, got.Status)
	assert.True(t, env.available(t, addr).Equal(dec("100")))

	// a new session is possible again
	createSession(t, env, addr, "shop-1", "40")
}

func TestLapsedSessionDoesNotBlockCreate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addShop(t, "shop-1", 0)
	addr := env.addCustomer(t, "shop-1")
	env.seed(t, addr, domain.EventEarn, 100)

	old := createSession(t, env, addr, "shop-1", "90")
	env.clock.Advance(env.cfg.Ledger.SessionTTL + time.Second)

	createSession(t, env, addr, "shop-1", "90")

	got, err := env.sessions.Get(ctx, old.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionExpired, got.Status)
}

func TestApproveSettlesAndAppendsRedeem(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addShop(t, "shop-1", 0)
	addr := env.addCustomer(t, "shop-1")
	env.seed(t, addr, domain.EventEarn, 100)

	s := createSession(t, env, addr, "shop-1", "40")
	approved, err := env.sessions.Approve(ctx, s.ID, env.sign(t, s))
	require.NoError(t, err)
	assert.NotNil(t, approved.ApprovedAt)

	env.sessions.Drain()

	got, err := env.sessions.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionSettled, got.Status)
	assert.NotEmpty(t, got.TxReference)
	assert.NotNil(t, got.SettlementStartedAt)
	assert.Equal(t, 1, got.SettlementAttempts)

	b, err := env.aggregator.Compute(ctx, env.store, addr)
	require.NoError(t, err)
	assert.True(t, b.TotalRedeemed.Equal(dec("40")))
	assert.True(t, b.PendingHold.IsZero())
	assert.True(t, b.AvailableBalance.Equal(dec("60")))

	shop, err := env.ledger.GetShop(ctx, "shop-1")
	require.NoError(t, err)
	assert.True(t, shop.TotalRedemptionsProcessed.Equal(dec("40")))
}

func TestSettleTwiceAppendsOneRedeem(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addShop(t, "shop-1", 0)
	addr := env.addCustomer(t, "shop-1")
	env.seed(t, addr, domain.EventEarn, 100)

	s := createSession(t, env, addr, "shop-1", "40")
	_, err := env.sessions.Approve(ctx, s.ID, env.sign(t, s))
	require.NoError(t, err)
	env.sessions.Drain()

	require.NoError(t, env.sessions.Settle(ctx, s.ID))
	settled, err := env.sessions.Get(ctx, s.ID)
	require.NoError(t, err)
	require.NoError(t, env.sessions.complete(ctx, settled, "0xother", 0))

	assert.Equal(t, int64(1), env.countEvents(t, addr, domain.EventRedeem))
	assert.True(t, env.available(t, addr).Equal(dec("60")))
}

// Scenario D
func TestSettlementFailureExhaustsRetries(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addShop(t, "shop-1", 0)
	addr := env.addCustomer(t, "shop-1")
	env.seed(t, addr, domain.EventEarn, 100)

	fail := &domain.SettlementError{Reason: "node unavailable", Retryable: true}
	env.connector.FailNext(fail, fail, fail)

	s := createSession(t, env, addr, "shop-1", "40")
	_, err := env.sessions.Approve(ctx, s.ID, env.sign(t, s))
	require.NoError(t, err)
	env.sessions.Drain()

	got, err := env.sessions.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionFailed, got.Status)
	assert.Contains(t, got.FailureReason, "node unavailable")
	assert.Equal(t, 3, got.SettlementAttempts)
	assert.Equal(t, 3, env.connector.Calls())
	assert.Equal(t, int64(0), env.countEvents(t, addr, domain.EventRedeem))
	assert.True(t, env.available(t, addr).Equal(dec("100")))
}

func TestSettlementRecoversAfterTransientFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addShop(t, "shop-1", 0)
	addr := env.addCustomer(t, "shop-1")
	env.seed(t, addr, domain.EventEarn, 100)

	env.connector.FailNext(&domain.SettlementError{Reason: "timeout", Retryable: true})

	s := createSession(t, env, addr, "shop-1", "40")
	_, err := env.sessions.Approve(ctx, s.ID, env.sign(t, s))
	require.NoError(t, err)
	env.sessions.Drain()

	got, err := env.sessions.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionSettled, got.Status)
	assert.Equal(t, 2, env.connector.Calls())
}

func TestNonRetryableSettlementFailsImmediately(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addShop(t, "shop-1", 0)
	addr := env.addCustomer(t, "shop-1")
	env.seed(t, addr, domain.EventEarn, 100)

	env.connector.FailNext(&domain.SettlementError{Reason: "reverted", Retryable: false})

	s := createSession(t, env, addr, "shop-1", "40")
	_, err := env.sessions.Approve(ctx, s.ID, env.sign(t, s))
	require.NoError(t, err)
	env.sessions.Drain()

	got, err := env.sessions.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionFailed, got.Status)
	assert.Equal(t, 1, env.connector.Calls())
}

func TestApproveRejectsBadSignature(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addShop(t, "shop-1", 0)
	addr := env.addCustomer(t, "shop-1")
	other := env.addCustomer(t, "shop-1")
	env.seed(t, addr, domain.EventEarn, 100)

	s := createSession(t, env, addr, "shop-1", "40")
	forged := *s
	forged.CustomerAddress = other

	_, err := env.sessions.Approve(ctx, s.ID, env.sign(t, &forged))
	assert.ErrorIs(t, err, domain.ErrBadSignature)

	got, err := env.sessions.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionPending, got.Status)
}

func TestApproveExpiredSession(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addShop(t, "shop-1", 0)
	addr := env.addCustomer(t, "shop-1")
	env.seed(t, addr, domain.EventEarn, 100)

	s := createSession(t, env, addr, "shop-1", "40")
	env.clock.Advance(env.cfg.Ledger.SessionTTL)

	_, err := env.sessions.Approve(ctx, s.ID, env.sign(t, s))
	assert.ErrorIs(t, err, domain.ErrExpired)

	got, err := env.sessions.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionExpired, got.Status)
	assert.True(t, env.available(t, addr).Equal(dec("100")))

	// still Expired once the sweep has moved it
	_, err = env.sessions.Approve(ctx, s.ID, env.sign(t, s))
	assert.ErrorIs(t, err, domain.ErrExpired)
}

func TestSweepApproveRaceHasOneWinner(t *testing.T) {
	for i := 0; i < 10; i++ {
		env := newTestEnv(t)
		ctx := context.Background()
		env.addShop(t, "shop-1", 0)
		addr := env.addCustomer(t, "shop-1")
		env.seed(t, addr, domain.EventEarn, 100)

		s := createSession(t, env, addr, "shop-1", "40")
		sig := env.sign(t, s)
		env.clock.Advance(env.cfg.Ledger.SessionTTL)

		var wg sync.WaitGroup
		var approveErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, approveErr = env.sessions.Approve(ctx, s.ID, sig)
		}()
		go func() {
			defer wg.Done()
			_, _ = env.sessions.ExpireDue(ctx)
		}()
		wg.Wait()

		assert.ErrorIs(t, approveErr, domain.ErrExpired)
		got, err := env.sessions.Get(ctx, s.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.SessionExpired, got.Status)
		assert.True(t, env.available(t, addr).Equal(dec("100")))
	}
}

func TestRejectReleasesHold(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addShop(t, "shop-1", 0)
	addr := env.addCustomer(t, "shop-1")
	env.seed(t, addr, domain.EventEarn, 100)

	s := createSession(t, env, addr, "shop-1", "40")
	got, err := env.sessions.Reject(ctx, s.ID, "wrong amount")
	require.NoError(t, err)
	assert.Equal(t, domain.SessionRejected, got.Status)
	assert.Equal(t, "wrong amount", got.RejectionReason)
	assert.True(t, env.available(t, addr).Equal(dec("100")))

	_, err = env.sessions.Reject(ctx, s.ID, "again")
	assert.ErrorIs(t, err, domain.ErrNotPending)

	_, err = env.sessions.Reject(ctx, "missing", "")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCancelPendingAndUnclaimedApproved(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addShop(t, "shop-1", 0)
	env.addShop(t, "shop-2", 0)
	addr := env.addCustomer(t, "shop-1")
	env.seed(t, addr, domain.EventEarn, 100)

	s := createSession(t, env, addr, "shop-1", "40")

	_, err := env.sessions.Cancel(ctx, s.ID, "shop-2")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	got, err := env.sessions.Cancel(ctx, s.ID, "shop-1")
	require.NoError(t, err)
	assert.Equal(t, domain.SessionCancelled, got.Status)
	assert.True(t, env.available(t, addr).Equal(dec("100")))

	s2 := createSession(t, env, addr, "shop-1", "40")
	ok, err := env.store.Sessions.Transition(ctx, s2.ID, []string{"PENDING"}, map[string]interface{}{"status": "APPROVED"})
	require.NoError(t, err)
	require.True(t, ok)

	got, err = env.sessions.Cancel(ctx, s2.ID, "shop-1")
	require.NoError(t, err)
	assert.Equal(t, domain.SessionCancelled, got.Status)
}

type blockingConnector struct {
	entered chan struct{}
	release chan struct{}
}

func (b *blockingConnector) Settle(ctx context.Context, req domain.SettlementRequest) (*domain.SettlementResult, error) {
	close(b.entered)
	<-b.release
	return &domain.SettlementResult{TxReference: "0xblocked"}, nil
}

func TestCancelForbiddenOnceSettlementStarted(t *testing.T) {
	conn := &blockingConnector{entered: make(chan struct{}), release: make(chan struct{})}
	env := newTestEnvWithConnector(t, conn)
	ctx := context.Background()
	env.addShop(t, "shop-1", 0)
	addr := env.addCustomer(t, "shop-1")
	env.seed(t, addr, domain.EventEarn, 100)

	s := createSession(t, env, addr, "shop-1", "40")
	_, err := env.sessions.Approve(ctx, s.ID, env.sign(t, s))
	require.NoError(t, err)

	select {
	case <-conn.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("settlement never reached the connector")
	}

	_, err = env.sessions.Cancel(ctx, s.ID, "shop-1")
	assert.ErrorIs(t, err, domain.ErrNotPending)
	assert.Equal(t, 1, env.sessions.InFlight())

	close(conn.release)
	env.sessions.Drain()

	got, err := env.sessions.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionSettled, got.Status)
	assert.Equal(t, "0xblocked", got.TxReference)
}

func TestResumeApprovedSettlesStalledSessions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addShop(t, "shop-1", 0)
	addr := env.addCustomer(t, "shop-1")
	env.seed(t, addr, domain.EventEarn, 100)

	s := createSession(t, env, addr, "shop-1", "40")
	// approved by a process that died before settling
	ok, err := env.store.Sessions.Transition(ctx, s.ID, []string{"PENDING"}, map[string]interface{}{"status": "APPROVED"})
	require.NoError(t, err)
	require.True(t, ok)

	n, err := env.sessions.ResumeApproved(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	env.sessions.Drain()

	got, err := env.sessions.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionSettled, got.Status)
	assert.Equal(t, int64(1), env.countEvents(t, addr, domain.EventRedeem))
}

func TestShutdownRefusesNewSettlements(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addShop(t, "shop-1", 0)
	addr := env.addCustomer(t, "shop-1")
	env.seed(t, addr, domain.EventEarn, 100)

	require.NoError(t, env.sessions.Shutdown(ctx))

	s := createSession(t, env, addr, "shop-1", "40")
	_, err := env.sessions.Approve(ctx, s.ID, env.sign(t, s))
	require.NoError(t, err)

	got, err := env.sessions.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionApproved, got.Status)
	assert.Nil(t, got.SettlementStartedAt)
}

func TestEarnKeyCannotPreemptRedeem(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addShop(t, "shop-1", 0)
	addr := env.addCustomer(t, "shop-1")
	env.seed(t, addr, domain.EventEarn, 100)

	s := createSession(t, env, addr, "shop-1", "40")
	_, err := env.ledger.Earn(ctx, &EarnInput{
		CustomerAddress: addr,
		ShopID:          "shop-1",
		Amount:          dec("1"),
		Kind:            domain.EventEarn,
		IdempotencyKey:  redeemKey(s.ID),
	})
	require.NoError(t, err)

	_, err = env.sessions.Approve(ctx, s.ID, env.sign(t, s))
	require.NoError(t, err)
	env.sessions.Drain()

	got, err := env.sessions.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionSettled, got.Status)
	assert.Equal(t, int64(1), env.countEvents(t, addr, domain.EventRedeem))
	assert.True(t, env.available(t, addr).Equal(dec("61")))
}

func TestSettlementRefusesForeignEventOnRedeemKey(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addShop(t, "shop-1", 0)
	addr := env.addCustomer(t, "shop-1")
	env.seed(t, addr, domain.EventEarn, 100)

	s := createSession(t, env, addr, "shop-1", "40")
	key := redeemKey(s.ID)
	row, err := models.NewLedgerEvent(&domain.LedgerEvent{
		ID:              uuid.NewString(),
		CustomerAddress: addr,
		Kind:            domain.EventEarn,
		Amount:          dec("1"),
		IdempotencyKey:  &key,
		CreatedAt:       env.clock.Now(),
	})
	require.NoError(t, err)
	require.NoError(t, env.store.Events.Append(ctx, row))

	_, err = env.sessions.Approve(ctx, s.ID, env.sign(t, s))
	require.NoError(t, err)
	env.sessions.Drain()

	// the outcome is not recorded, so recovery retries it later
	got, err := env.sessions.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionApproved, got.Status)
	assert.Equal(t, int64(0), env.countEvents(t, addr, domain.EventRedeem))
	assert.True(t, env.available(t, addr).Equal(dec("61")))
}

func TestCreateRejectsAmountBeyondStoredScale(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addShop(t, "shop-1", 0)
	addr := env.addCustomer(t, "shop-1")
	env.seed(t, addr, domain.EventEarn, 100)

	_, err := env.sessions.Create(ctx, &CreateSessionInput{CustomerAddress: addr, ShopID: "shop-1", Amount: dec("0.000000001")})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	s := createSession(t, env, addr, "shop-1", "0.00000001")
	assert.True(t, s.Amount.Equal(dec("0.00000001")))
}

// advancingVerifier moves the clock past expiry while the signature is checked
type advancingVerifier struct {
	Verifier
	clock *testClock
	by    time.Duration
}

func (v *advancingVerifier) Verify(address, message, signature string) error {
	v.clock.Advance(v.by)
	return v.Verifier.Verify(address, message, signature)
}

func TestApproveLosesToExpiryDuringVerification(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addShop(t, "shop-1", 0)
	addr := env.addCustomer(t, "shop-1")
	env.seed(t, addr, domain.EventEarn, 100)

	s := createSession(t, env, addr, "shop-1", "40")
	env.clock.Advance(env.cfg.Ledger.SessionTTL - time.Second)

	sessions := NewSessionManager(
		env.store, keylock.New(), env.aggregator,
		NewCrossShopPolicy(env.cfg.Ledger.CrossShopFraction),
		&advancingVerifier{Verifier: wallet.NewPersonalSignVerifier(), clock: env.clock, by: 2 * time.Second},
		env.connector,
		env.cfg.Ledger,
		zap.NewNop(),
		WithSessionClock(env.clock.Now),
	)
	t.Cleanup(sessions.Drain)

	_, err := sessions.Approve(ctx, s.ID, env.sign(t, s))
	assert.ErrorIs(t, err, domain.ErrExpired)

	got, err := env.sessions.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionExpired, got.Status)
	assert.Nil(t, got.ApprovedAt)
	assert.True(t, env.available(t, addr).Equal(dec("100")))
}

package services

import (
	"context"
	"encoding/hex"
	"fmt"
	"sync"
	"testing"
	"time"

	"rcn-ledger/internal/adapters/cache"
	"rcn-ledger/internal/adapters/persistence/models"
	"rcn-ledger/internal/adapters/persistence/repositories"
	"rcn-ledger/internal/adapters/settlement"
	"rcn-ledger/internal/adapters/wallet"
	"rcn-ledger/internal/config"
	"rcn-ledger/internal/core/domain"
	"rcn-ledger/internal/pkg/keylock"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type testEnv struct {
	db         *gorm.DB
	store      *repositories.Store
	cfg        *config.Config
	clock      *testClock
	connector  *settlement.MockConnector
	aggregator *BalanceAggregator
	ledger     *LedgerService
	sessions   *SessionManager
	keys       map[string]string
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, models.AutoMigrate(db))
	return db
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithConnector(t, nil)
}

func newTestEnvWithConnector(t *testing.T, connector SettlementConnector) *testEnv {
	t.Helper()

	db := newTestDB(t)
	cfg := config.Default()
	cfg.Ledger.SettlementInitialBackoff = time.Millisecond
	cfg.Ledger.SettlementMaxBackoff = 5 * time.Millisecond
	cfg.Ledger.SettlementTimeout = 2 * time.Second

	mock := settlement.NewMockConnector()
	if connector == nil {
		connector = mock
	}

	log := zap.NewNop()
	clock := newTestClock()
	store := repositories.NewStore(db)
	locks := keylock.New()
	tiers := NewTierEngine(cfg.Ledger)
	aggregator := NewBalanceAggregator(store, tiers, cache.NewMemory(time.Minute), log)

	ledger := NewLedgerService(store, locks, aggregator, tiers, cfg.Security.APIKeyCost, log)
	ledger.now = clock.Now

	sessions := NewSessionManager(
		store, locks, aggregator,
		NewCrossShopPolicy(cfg.Ledger.CrossShopFraction),
		wallet.NewPersonalSignVerifier(),
		connector,
		cfg.Ledger,
		log,
		WithSessionClock(clock.Now),
	)
	t.Cleanup(sessions.Drain)

	return &testEnv{
		db:         db,
		store:      store,
		cfg:        cfg,
		clock:      clock,
		connector:  mock,
		aggregator: aggregator,
		ledger:     ledger,
		sessions:   sessions,
		keys:       make(map[string]string),
	}
}

func (e *testEnv) addShop(t *testing.T, shopID string, pool int64) string {
	t.Helper()
	res, err := e.ledger.RegisterShop(context.Background(), &RegisterShopInput{
		ShopID:      shopID,
		Name:        "Shop " + shopID,
		InitialPool: decimal.NewFromInt(pool),
	})
	require.NoError(t, err)
	return res.APIKey
}

// addCustomer registers a customer backed by a fresh wallet key
func (e *testEnv) addCustomer(t *testing.T, homeShopID string) string {
	t.Helper()
	priv, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	address := ethcrypto.PubkeyToAddress(priv.PublicKey).Hex()

	customer, err := e.ledger.RegisterCustomer(context.Background(), &RegisterCustomerInput{
		Address:    address,
		HomeShopID: homeShopID,
	})
	require.NoError(t, err)
	e.keys[customer.Address] = hex.EncodeToString(ethcrypto.FromECDSA(priv))
	return customer.Address
}

// seed writes an event directly, bypassing issuance rules
func (e *testEnv) seed(t *testing.T, address string, kind domain.EventKind, amount int64) {
	t.Helper()
	row, err := models.NewLedgerEvent(&domain.LedgerEvent{
		ID:              uuid.NewString(),
		CustomerAddress: address,
		Kind:            kind,
		Amount:          decimal.NewFromInt(amount),
		CreatedAt:       e.clock.Now(),
	})
	require.NoError(t, err)
	require.NoError(t, e.store.Events.Append(context.Background(), row))
}

func (e *testEnv) sign(t *testing.T, session *domain.RedemptionSession) string {
	t.Helper()
	sig, err := wallet.Sign(e.keys[session.CustomerAddress], session.ApprovalMessage())
	require.NoError(t, err)
	return sig
}

func (e *testEnv) available(t *testing.T, address string) decimal.Decimal {
	t.Helper()
	b, err := e.aggregator.Compute(context.Background(), e.store, address)
	require.NoError(t, err)
	return b.AvailableBalance
}

func (e *testEnv) countEvents(t *testing.T, address string, kind domain.EventKind) int64 {
	t.Helper()
	var n int64
	require.NoError(t, e.db.Model(&models.LedgerEvent{}).
		Where("customer_address = ? AND kind = ?", address, string(kind)).
		Count(&n).Error)
	return n
}

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

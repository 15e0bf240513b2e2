package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config holds all configuration for the application
type Config struct {
	AppMode    string
	Port       string
	Database   DatabaseConfig
	JWT        JWTConfig
	Ledger     LedgerConfig
	Settlement SettlementConfig
	Cache      CacheConfig
	Security   SecurityConfig
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Driver   string // mysql | postgres | sqlite
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	DSN      string // used as-is by the sqlite driver
}

// JWTConfig holds JWT configuration
type JWTConfig struct {
	Secret string
	Issuer string
}

// LedgerConfig holds the redemption and tier policy values
type LedgerConfig struct {
	SessionTTL          time.Duration
	SweepSchedule       string
	CrossShopFraction   decimal.Decimal
	MinQualifyingAmount decimal.Decimal
	SilverThreshold     decimal.Decimal
	GoldThreshold       decimal.Decimal
	BronzeBonus         decimal.Decimal
	SilverBonus         decimal.Decimal
	GoldBonus           decimal.Decimal

	SettlementMaxAttempts    int
	SettlementInitialBackoff time.Duration
	SettlementMaxBackoff     time.Duration
	SettlementTimeout        time.Duration
}

// SettlementConfig selects and configures the chain settlement connector
type SettlementConfig struct {
	Mode       string // mock | http
	URL        string
	Token      string
	RatePerSec float64
}

// CacheConfig selects the balance read cache
type CacheConfig struct {
	Mode          string // none | memory | redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	TTL           time.Duration
}

// SecurityConfig holds hashing parameters for shop terminal keys
type SecurityConfig struct {
	APIKeyCost int
}

// Load reads configuration from .env file and environment variables
func Load() (*Config, error) {
	// Load .env file (ignore error if file doesn't exist in production)
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using environment variables")
	}

	appMode := strings.TrimSpace(getEnv("APP_MODE", "dev"))
	if appMode != "dev" && appMode != "prod" {
		return nil, fmt.Errorf("invalid APP_MODE: '%s' (must be 'dev' or 'prod')", appMode)
	}

	ledger, err := loadLedgerConfig()
	if err != nil {
		return nil, err
	}
	settlement, err := loadSettlementConfig()
	if err != nil {
		return nil, err
	}
	cache, err := loadCacheConfig()
	if err != nil {
		return nil, err
	}
	database := loadDatabaseConfig(appMode)
	switch database.Driver {
	case "mysql", "postgres", "sqlite":
	default:
		return nil, fmt.Errorf("invalid DB_DRIVER: '%s' (must be mysql, postgres or sqlite)", database.Driver)
	}

	cost, _ := strconv.Atoi(getEnv("API_KEY_BCRYPT_COST", "10"))

	config := &Config{
		AppMode:    appMode,
		Port:       getEnv("PORT", "3000"),
		Database:   database,
		JWT:        loadJWTConfig(appMode),
		Ledger:     ledger,
		Settlement: settlement,
		Cache:      cache,
		Security:   SecurityConfig{APIKeyCost: cost},
	}

	log.Printf("✅ Configuration loaded successfully [MODE: %s]", appMode)
	return config, nil
}

// Default returns a configuration with every policy value at its default.
// Used by tests and tools that do not read the environment.
func Default() *Config {
	ledger, _ := loadLedgerConfigFrom(func(_, def string) string { return def })
	return &Config{
		AppMode:  "dev",
		Port:     "3000",
		Database: DatabaseConfig{Driver: "sqlite", DSN: "file::memory:?cache=shared"},
		JWT:      JWTConfig{Secret: "default_secret", Issuer: "rcn-ledger"},
		Ledger:   ledger,
		Settlement: SettlementConfig{
			Mode:       "mock",
			RatePerSec: 10,
		},
		Cache:    CacheConfig{Mode: "memory", TTL: 30 * time.Second},
		Security: SecurityConfig{APIKeyCost: 4},
	}
}

// loadDatabaseConfig loads database config based on mode
func loadDatabaseConfig(mode string) DatabaseConfig {
	prefix := "DEV_"
	if mode == "prod" {
		prefix = "PROD_"
	}

	return DatabaseConfig{
		Driver:   getEnv(prefix+"DB_DRIVER", "postgres"),
		Host:     getEnv(prefix+"DB_HOST", "localhost"),
		Port:     getEnv(prefix+"DB_PORT", "5432"),
		User:     getEnv(prefix+"DB_USER", "postgres"),
		Password: getEnv(prefix+"DB_PASS", ""),
		DBName:   getEnv(prefix+"DB_NAME", "rcn_ledger"),
		DSN:      getEnv(prefix+"DB_DSN", "file:rcn_ledger.db?_pragma=busy_timeout(5000)"),
	}
}

// loadJWTConfig loads JWT config based on mode
func loadJWTConfig(mode string) JWTConfig {
	prefix := "DEV_"
	if mode == "prod" {
		prefix = "PROD_"
	}

	return JWTConfig{
		Secret: getEnv(prefix+"JWT_SECRET", "default_secret"),
		Issuer: getEnv("JWT_ISSUER", "rcn-ledger"),
	}
}

func loadLedgerConfig() (LedgerConfig, error) {
	return loadLedgerConfigFrom(getEnv)
}

func loadLedgerConfigFrom(get func(key, def string) string) (LedgerConfig, error) {
	var cfg LedgerConfig
	var err error

	if cfg.SessionTTL, err = time.ParseDuration(get("SESSION_TTL", "5m")); err != nil {
		return cfg, fmt.Errorf("invalid SESSION_TTL: %w", err)
	}
	cfg.SweepSchedule = get("SWEEP_SCHEDULE", "@every 15s")

	decimals := []struct {
		key  string
		def  string
		dest *decimal.Decimal
	}{
		{"CROSS_SHOP_FRACTION", "0.20", &cfg.CrossShopFraction},
		{"MIN_QUALIFYING_AMOUNT", "50", &cfg.MinQualifyingAmount},
		{"TIER_SILVER_THRESHOLD", "200", &cfg.SilverThreshold},
		{"TIER_GOLD_THRESHOLD", "1000", &cfg.GoldThreshold},
		{"TIER_BRONZE_BONUS", "10", &cfg.BronzeBonus},
		{"TIER_SILVER_BONUS", "20", &cfg.SilverBonus},
		{"TIER_GOLD_BONUS", "30", &cfg.GoldBonus},
	}
	for _, d := range decimals {
		v, err := decimal.NewFromString(get(d.key, d.def))
		if err != nil {
			return cfg, fmt.Errorf("invalid %s: %w", d.key, err)
		}
		*d.dest = v
	}
	if cfg.CrossShopFraction.IsNegative() || cfg.CrossShopFraction.GreaterThan(decimal.NewFromInt(1)) {
		return cfg, fmt.Errorf("invalid CROSS_SHOP_FRACTION: %s (must be within [0, 1])", cfg.CrossShopFraction)
	}
	if !cfg.SilverThreshold.LessThan(cfg.GoldThreshold) {
		return cfg, fmt.Errorf("TIER_SILVER_THRESHOLD must be below TIER_GOLD_THRESHOLD")
	}

	if cfg.SettlementMaxAttempts, err = strconv.Atoi(get("SETTLEMENT_MAX_ATTEMPTS", "3")); err != nil || cfg.SettlementMaxAttempts < 1 {
		return cfg, fmt.Errorf("invalid SETTLEMENT_MAX_ATTEMPTS")
	}
	if cfg.SettlementInitialBackoff, err = time.ParseDuration(get("SETTLEMENT_INITIAL_BACKOFF", "500ms")); err != nil {
		return cfg, fmt.Errorf("invalid SETTLEMENT_INITIAL_BACKOFF: %w", err)
	}
	if cfg.SettlementMaxBackoff, err = time.ParseDuration(get("SETTLEMENT_MAX_BACKOFF", "10s")); err != nil {
		return cfg, fmt.Errorf("invalid SETTLEMENT_MAX_BACKOFF: %w", err)
	}
	if cfg.SettlementTimeout, err = time.ParseDuration(get("SETTLEMENT_TIMEOUT", "30s")); err != nil {
		return cfg, fmt.Errorf("invalid SETTLEMENT_TIMEOUT: %w", err)
	}

	return cfg, nil
}

func loadSettlementConfig() (SettlementConfig, error) {
	rate, err := strconv.ParseFloat(getEnv("SETTLEMENT_RATE_PER_SEC", "10"), 64)
	if err != nil {
		return SettlementConfig{}, fmt.Errorf("invalid SETTLEMENT_RATE_PER_SEC: %w", err)
	}
	cfg := SettlementConfig{
		Mode:       getEnv("SETTLEMENT_MODE", "mock"),
		URL:        getEnv("SETTLEMENT_URL", ""),
		Token:      getEnv("SETTLEMENT_TOKEN", ""),
		RatePerSec: rate,
	}
	switch cfg.Mode {
	case "mock":
	case "http":
		if cfg.URL == "" {
			return cfg, fmt.Errorf("SETTLEMENT_URL is required when SETTLEMENT_MODE=http")
		}
	default:
		return cfg, fmt.Errorf("invalid SETTLEMENT_MODE: '%s' (must be 'mock' or 'http')", cfg.Mode)
	}
	return cfg, nil
}

func loadCacheConfig() (CacheConfig, error) {
	ttl, err := time.ParseDuration(getEnv("CACHE_TTL", "30s"))
	if err != nil {
		return CacheConfig{}, fmt.Errorf("invalid CACHE_TTL: %w", err)
	}
	db, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	cfg := CacheConfig{
		Mode:          getEnv("CACHE_MODE", "memory"),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       db,
		TTL:           ttl,
	}
	switch cfg.Mode {
	case "none", "memory", "redis":
	default:
		return cfg, fmt.Errorf("invalid CACHE_MODE: '%s'", cfg.Mode)
	}
	return cfg, nil
}

// getEnv gets environment variable with default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// IsDev returns true if running in development mode
func (c *Config) IsDev() bool {
	return c.AppMode == "dev"
}

// IsProd returns true if running in production mode
func (c *Config) IsProd() bool {
	return c.AppMode == "prod"
}

// GetAllowedOrigins returns allowed origins for CORS
func (c *Config) GetAllowedOrigins() string {
	origins := getEnv("ALLOWED_ORIGINS", "")
	if origins == "" {
		if c.IsDev() {
			return "*"
		}
		return "https://app.repaircoin.example"
	}
	return origins
}

package services

import (
	"rcn-ledger/internal/config"
	"rcn-ledger/internal/core/domain"

	"github.com/shopspring/decimal"
)

// TierEngine maps lifetime earnings to a tier and a tier to its bonus
type TierEngine struct {
	silverThreshold decimal.Decimal
	goldThreshold   decimal.Decimal
	bonuses         map[domain.Tier]decimal.Decimal
	minQualifying   decimal.Decimal
}

// NewTierEngine creates a tier engine from the ledger policy
func NewTierEngine(cfg config.LedgerConfig) *TierEngine {
	return &TierEngine{
		silverThreshold: cfg.SilverThreshold,
		goldThreshold:   cfg.GoldThreshold,
		bonuses: map[domain.Tier]decimal.Decimal{
			domain.TierBronze: cfg.BronzeBonus,
			domain.TierSilver: cfg.SilverBonus,
			domain.TierGold:   cfg.GoldBonus,
		},
		minQualifying: cfg.MinQualifyingAmount,
	}
}

// TierFor returns the tier implied by lifetime earnings
func (t *TierEngine) TierFor(lifetime decimal.Decimal) domain.Tier {
	switch {
	case lifetime.GreaterThanOrEqual(t.goldThreshold):
		return domain.TierGold
	case lifetime.GreaterThanOrEqual(t.silverThreshold):
		return domain.TierSilver
	default:
		return domain.TierBronze
	}
}

// BonusFor returns the per-transaction bonus of tier
func (t *TierEngine) BonusFor(tier domain.Tier) decimal.Decimal {
	if b, ok := t.bonuses[tier]; ok {
		return b
	}
	return decimal.Zero
}

// Qualifies reports whether a transaction amount earns a tier bonus
func (t *TierEngine) Qualifies(amount decimal.Decimal) bool {
	return amount.GreaterThanOrEqual(t.minQualifying)
}

// TransactionBonus returns the bonus for a transaction of amount by a
// customer with the given lifetime earnings before the transaction.
func (t *TierEngine) TransactionBonus(lifetime, amount decimal.Decimal) (decimal.Decimal, domain.Tier, error) {
	tier := t.TierFor(lifetime)
	if !t.Qualifies(amount) {
		return decimal.Zero, tier, domain.ErrNotQualifying
	}
	return t.BonusFor(tier), tier, nil
}

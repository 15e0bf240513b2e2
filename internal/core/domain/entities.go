package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Tier represents a customer loyalty level
type Tier string

const (
	TierBronze Tier = "BRONZE"
	TierSilver Tier = "SILVER"
	TierGold   Tier = "GOLD"
)

// EventKind is the type of a ledger event. The sign of the amount is implied
// by the kind.
type EventKind string

const (
	EventEarn         EventKind = "EARN"
	EventBonus        EventKind = "BONUS"
	EventReferral     EventKind = "REFERRAL"
	EventRedeem       EventKind = "REDEEM"
	EventMintToWallet EventKind = "MINT_TO_WALLET"
)

// Valid reports whether k is a known event kind
func (k EventKind) Valid() bool {
	switch k {
	case EventEarn, EventBonus, EventReferral, EventRedeem, EventMintToWallet:
		return true
	}
	return false
}

// Earning reports whether the kind counts towards lifetime earnings
func (k EventKind) Earning() bool {
	return k == EventEarn || k == EventBonus || k == EventReferral
}

// SessionStatus is the state of a redemption session
type SessionStatus string

const (
	SessionPending   SessionStatus = "PENDING"
	SessionApproved  SessionStatus = "APPROVED"
	SessionRejected  SessionStatus = "REJECTED"
	SessionExpired   SessionStatus = "EXPIRED"
	SessionCancelled SessionStatus = "CANCELLED"
	SessionSettled   SessionStatus = "SETTLED"
	SessionFailed    SessionStatus = "FAILED"
)

// ActiveStatuses hold balance against the customer
var ActiveStatuses = []SessionStatus{SessionPending, SessionApproved}

// Active reports whether the session still holds balance
func (s SessionStatus) Active() bool {
	return s == SessionPending || s == SessionApproved
}

// Terminal reports whether no further transition is allowed
func (s SessionStatus) Terminal() bool {
	return !s.Active()
}

// AmountScale is the number of fractional digits amounts are stored with
const AmountScale = 8

// ValidateAmount requires a positive amount with at most AmountScale
// fractional digits
func ValidateAmount(field string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: %s must be positive", ErrInvalidInput, field)
	}
	if !amount.Equal(amount.Truncate(AmountScale)) {
		return fmt.Errorf("%w: %s has more than %d decimal places", ErrInvalidInput, field, AmountScale)
	}
	return nil
}

// NormalizeAddress returns the canonical (lower-case, trimmed) form of a
// wallet address. Addresses compare case-insensitively everywhere.
func NormalizeAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

// Customer represents a loyalty customer. Tier and LifetimeEarnings are a
// snapshot derived from the event log.
type Customer struct {
	Address          string          `json:"address"`
	HomeShopID       string          `json:"homeShopId"`
	Tier             Tier            `json:"tier"`
	LifetimeEarnings decimal.Decimal `json:"lifetimeEarnings"`
	CreatedAt        time.Time       `json:"createdAt"`
}

// LedgerEvent is an immutable financial fact about a customer
type LedgerEvent struct {
	ID              string          `json:"id"`
	CustomerAddress string          `json:"customerAddress"`
	Kind            EventKind       `json:"kind"`
	Amount          decimal.Decimal `json:"amount"`
	ShopID          *string         `json:"shopId,omitempty"`
	Metadata        map[string]any  `json:"metadata,omitempty"`
	IdempotencyKey  *string         `json:"idempotencyKey,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
}

// RedemptionSession is a time-bounded reservation-and-approval handshake
type RedemptionSession struct {
	ID                  string          `json:"id"`
	CustomerAddress     string          `json:"customerAddress"`
	ShopID              string          `json:"shopId"`
	Amount              decimal.Decimal `json:"amount"`
	Status              SessionStatus   `json:"status"`
	CreatedAt           time.Time       `json:"createdAt"`
	ExpiresAt           time.Time       `json:"expiresAt"`
	ApprovedAt          *time.Time      `json:"approvedAt,omitempty"`
	RejectionReason     string          `json:"rejectionReason,omitempty"`
	SettlementStartedAt *time.Time      `json:"settlementStartedAt,omitempty"`
	SettlementAttempts  int             `json:"settlementAttempts"`
	SettledAt           *time.Time      `json:"settledAt,omitempty"`
	TxReference         string          `json:"txReference,omitempty"`
	FailureReason       string          `json:"failureReason,omitempty"`
}

// ApprovalMessage is the canonical text the customer's wallet signs to
// approve the session.
func (s *RedemptionSession) ApprovalMessage() string {
	return fmt.Sprintf("RCN redemption approval\nsession:%s\ncustomer:%s\nshop:%s\namount:%s",
		s.ID, NormalizeAddress(s.CustomerAddress), s.ShopID, s.Amount.String())
}

// ShopLedger tracks a shop's prepaid RCN pool and issuance counters
type ShopLedger struct {
	ShopID                    string          `json:"shopId"`
	Name                      string          `json:"name"`
	PurchasedRcnBalance       decimal.Decimal `json:"purchasedRcnBalance"`
	TotalTokensIssued         decimal.Decimal `json:"totalTokensIssued"`
	TotalRedemptionsProcessed decimal.Decimal `json:"totalRedemptionsProcessed"`
	Active                    bool            `json:"active"`
	CreatedAt                 time.Time       `json:"createdAt"`
}

// Balance is the single typed balance result
type Balance struct {
	Address          string          `json:"address"`
	AvailableBalance decimal.Decimal `json:"availableBalance"`
	LifetimeEarnings decimal.Decimal `json:"lifetimeEarnings"`
	TotalRedeemed    decimal.Decimal `json:"totalRedeemed"`
	MintedToWallet   decimal.Decimal `json:"mintedToWallet"`
	PendingHold      decimal.Decimal `json:"pendingHold"`
	Tier             Tier            `json:"tier"`
}

// SettlementRequest is the on-chain action for an approved session.
// SessionID doubles as the idempotency key.
type SettlementRequest struct {
	SessionID       string          `json:"sessionId"`
	CustomerAddress string          `json:"customerAddress"`
	ShopID          string          `json:"shopId"`
	Amount          decimal.Decimal `json:"amount"`
}

// SettlementResult is returned by a successful settlement
type SettlementResult struct {
	TxReference string `json:"txReference"`
}

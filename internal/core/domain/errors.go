package domain

import (
	"errors"
	"fmt"
)

// Common domain errors
var (
	ErrNotFound       = errors.New("resource not found")
	ErrInvalidInput   = errors.New("invalid input")
	ErrDuplicateEntry = errors.New("duplicate entry")
)

// Ledger errors
var (
	ErrInsufficientBalance     = errors.New("insufficient balance")
	ErrInsufficientShopBalance = errors.New("insufficient shop RCN balance")
	ErrNotQualifying           = errors.New("transaction does not qualify for a bonus")
)

// Redemption session errors
var (
	ErrSessionAlreadyActive = errors.New("customer already has an active redemption session")
	ErrCrossShopCapExceeded = errors.New("amount exceeds cross-shop redemption cap")
	ErrExpired              = errors.New("redemption session expired")
	ErrNotPending           = errors.New("redemption session is not in a valid state for this action")
	ErrBadSignature         = errors.New("signature does not match customer address")
	ErrSettlementFailed     = errors.New("settlement failed")
)

// SettlementError is returned by settlement connectors. Retryable failures are
// retried with backoff; the rest fail the session immediately.
type SettlementError struct {
	Reason    string
	Retryable bool
}

func (e *SettlementError) Error() string {
	if e.Retryable {
		return fmt.Sprintf("settlement failed (retryable): %s", e.Reason)
	}
	return fmt.Sprintf("settlement failed: %s", e.Reason)
}

// Is lets errors.Is(err, ErrSettlementFailed) match connector failures.
func (e *SettlementError) Is(target error) bool {
	return target == ErrSettlementFailed
}

// IsRetryable reports whether err is a retryable settlement failure.
// Errors that are not SettlementErrors (timeouts, transport) count as retryable.
func IsRetryable(err error) bool {
	var se *SettlementError
	if errors.As(err, &se) {
		return se.Retryable
	}
	return err != nil
}

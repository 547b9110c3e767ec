package models

import (
	"errors"
	"fmt"
)

// ValidationError reports malformed input. Never retried.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + e.Reason
}

// NotFoundError reports an unknown split, wallet or user id.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// ConcurrencyConflictError reports a stale write: the document changed since
// the caller last read it. Callers re-read and retry.
type ConcurrencyConflictError struct {
	Resource string
	ID       string
}

func (e *ConcurrencyConflictError) Error() string {
	return fmt.Sprintf("stale write on %s %s: document changed since last read", e.Resource, e.ID)
}

// IllegalStateTransitionError reports a status move the transition tables do
// not permit. Never retried.
type IllegalStateTransitionError struct {
	Resource string
	From     string
	To       string
}

func (e *IllegalStateTransitionError) Error() string {
	return fmt.Sprintf("illegal %s transition %s -> %s", e.Resource, e.From, e.To)
}

// InsufficientFundsError reports a lock that would push the ledger past the
// wallet's required total.
type InsufficientFundsError struct {
	WalletID  string
	Requested float64
	Available float64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("lock of %.2f on wallet %s exceeds remaining capacity %.2f", e.Requested, e.WalletID, e.Available)
}

// SyncDivergenceError reports that a split and its wallet disagree and the
// automatic repair could not resolve it. Money may be stuck in escrow, so this
// is never swallowed.
type SyncDivergenceError struct {
	SplitID string
	Detail  string
}

func (e *SyncDivergenceError) Error() string {
	return fmt.Sprintf("split %s diverged from its wallet: %s", e.SplitID, e.Detail)
}

// IsPermanent reports whether err must not be retried.
func IsPermanent(err error) bool {
	var (
		validation *ValidationError
		transition *IllegalStateTransitionError
		notFound   *NotFoundError
		funds      *InsufficientFundsError
	)
	return errors.As(err, &validation) ||
		errors.As(err, &transition) ||
		errors.As(err, &notFound) ||
		errors.As(err, &funds)
}

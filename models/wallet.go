package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// WalletStatus is the lifecycle state of a SplitWallet. Transitions only move
// forward; released and burned are mutually exclusive terminal states.
type WalletStatus string

const (
	WalletStatusActive      WalletStatus = "active"
	WalletStatusFullyLocked WalletStatus = "fully-locked"
	WalletStatusReleased    WalletStatus = "released"
	WalletStatusBurned      WalletStatus = "burned"
)

var walletTransitions = map[WalletStatus][]WalletStatus{
	WalletStatusActive:      {WalletStatusFullyLocked, WalletStatusBurned},
	WalletStatusFullyLocked: {WalletStatusReleased, WalletStatusBurned},
	WalletStatusReleased:    {},
	WalletStatusBurned:      {},
}

// CanTransitionWallet reports whether a SplitWallet may move between statuses.
func CanTransitionWallet(from, to WalletStatus) bool {
	for _, next := range walletTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// SplitWallet is the escrow document paired with a Split. It lives in its own
// table and is never written in the same transaction as the Split row.
type SplitWallet struct {
	ID            uuid.UUID    `gorm:"type:uuid;primaryKey" json:"id"`
	SplitID       uuid.UUID    `gorm:"type:uuid;index;not null" json:"split_id"`
	BillID        string       `gorm:"index;size:100" json:"bill_id"`
	Address       string       `gorm:"not null;size:100" json:"address"`
	Currency      string       `gorm:"not null;size:10" json:"currency"`
	RequiredTotal float64      `gorm:"type:decimal(12,2);not null" json:"required_total"`
	Status        WalletStatus `gorm:"not null;size:20;index" json:"status"`
	Locks         []WalletLock `gorm:"foreignKey:WalletID" json:"locks"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

func (w *SplitWallet) BeforeCreate(tx *gorm.DB) error {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	return nil
}

// LockedTotal sums the lock ledger.
func (w *SplitWallet) LockedTotal() float64 {
	var total float64
	for _, l := range w.Locks {
		total += l.Amount
	}
	return total
}

// LockFor returns the ledger entry for userID, or nil.
func (w *SplitWallet) LockFor(userID uuid.UUID) *WalletLock {
	for i := range w.Locks {
		if w.Locks[i].UserID == userID {
			return &w.Locks[i]
		}
	}
	return nil
}

// WalletLock is one participant's entry in the escrow lock ledger.
type WalletLock struct {
	ID       uuid.UUID `gorm:"type:uuid;primaryKey" json:"-"`
	WalletID uuid.UUID `gorm:"type:uuid;index" json:"-"`
	UserID   uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`
	Amount   float64   `gorm:"type:decimal(12,2);not null" json:"amount"`
	TxRef    string    `gorm:"size:120" json:"tx_ref,omitempty"`
	LockedAt time.Time `json:"locked_at"`
}

func (l *WalletLock) BeforeCreate(tx *gorm.DB) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	return nil
}

// TransferReceipt reports one rail-side disbursement after release or refund.
type TransferReceipt struct {
	TxRef    string  `json:"tx_ref"`
	Amount   float64 `json:"amount,omitempty"`
	Currency string  `json:"currency,omitempty"`
}

// Request structs
type LockFundsRequest struct {
	Amount float64 `json:"amount" binding:"required,gt=0"`
}

type RefundRequest struct {
	Reason string `json:"reason"`
}

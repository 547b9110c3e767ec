package models

import (
	"math"
	"testing"

	"github.com/google/uuid"
)

func TestCanTransitionWallet(t *testing.T) {
	tests := []struct {
		from WalletStatus
		to   WalletStatus
		want bool
	}{
		{WalletStatusActive, WalletStatusFullyLocked, true},
		{WalletStatusActive, WalletStatusBurned, true},
		{WalletStatusActive, WalletStatusReleased, false},
		{WalletStatusFullyLocked, WalletStatusReleased, true},
		{WalletStatusFullyLocked, WalletStatusBurned, true},
		{WalletStatusFullyLocked, WalletStatusActive, false},
		{WalletStatusReleased, WalletStatusBurned, false},
		{WalletStatusBurned, WalletStatusActive, false},
	}

	for _, tt := range tests {
		if got := CanTransitionWallet(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransitionWallet(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestWalletLedger(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	wallet := &SplitWallet{
		RequiredTotal: 90,
		Locks: []WalletLock{
			{UserID: a, Amount: 30},
			{UserID: b, Amount: 45.50},
		},
	}

	if got := wallet.LockedTotal(); math.Abs(got-75.50) > 1e-9 {
		t.Errorf("LockedTotal() = %.2f, want 75.50", got)
	}
	if l := wallet.LockFor(a); l == nil || l.Amount != 30 {
		t.Errorf("LockFor(%s) = %v, want the 30.00 lock", a, l)
	}
	if l := wallet.LockFor(uuid.New()); l != nil {
		t.Errorf("LockFor(unknown) = %v, want nil", l)
	}

	// LockFor aliases the slice so the coordinator can bump amounts in place.
	wallet.LockFor(a).Amount = 44.50
	if got := wallet.LockedTotal(); math.Abs(got-90) > 1e-9 {
		t.Errorf("LockedTotal() after update = %.2f, want 90.00", got)
	}
}

package models

import (
	"time"

	"github.com/google/uuid"
)

// SettleEpsilon is the display-unit tolerance below which a balance counts as
// settled. Remainders smaller than this are floating-point noise, not debt.
const SettleEpsilon = 0.01

type BalanceStatus string

const (
	BalanceOwes     BalanceStatus = "owes"
	BalanceGetsBack BalanceStatus = "gets_back"
	BalanceSettled  BalanceStatus = "settled"
)

// Balance is a participant's net position in one currency, derived fresh from
// the split and its payment history on every read. Never persisted.
type Balance struct {
	UserID   uuid.UUID     `json:"user_id"`
	Currency string        `json:"currency"`
	Amount   float64       `json:"amount"` // positive = owed to them, negative = they owe
	Status   BalanceStatus `json:"status"`
}

// Transfer is one planned peer-to-peer payment in a settlement plan.
type Transfer struct {
	From     uuid.UUID `json:"from"`
	To       uuid.UUID `json:"to"`
	Amount   float64   `json:"amount"`
	Currency string    `json:"currency"`
}

// PaymentEvent records that a participant paid an amount toward the split.
type PaymentEvent struct {
	UserID   uuid.UUID `json:"user_id"`
	Amount   float64   `json:"amount"`
	Currency string    `json:"currency"`
	PaidAt   time.Time `json:"paid_at"`
}

// BalanceSummary is returned for GET /api/splits/:id/balances.
type BalanceSummary struct {
	SplitID   uuid.UUID `json:"split_id"`
	Balances  []Balance `json:"balances"`
	TotalPaid float64   `json:"total_paid"`
}

// SettlementPlan is returned for GET /api/splits/:id/settlement-plan.
type SettlementPlan struct {
	SplitID   uuid.UUID  `json:"split_id"`
	Transfers []Transfer `json:"transfers"`
}

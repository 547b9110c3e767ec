package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

// SplitType controls how shares are assigned across participants.
type SplitType string

const (
	SplitTypeFair  SplitType = "fair"
	SplitTypeDegen SplitType = "degen"
)

// SplitMethod controls how fair shares are computed.
type SplitMethod string

const (
	SplitMethodEqual  SplitMethod = "equal"
	SplitMethodManual SplitMethod = "manual"
)

// SplitStatus is the lifecycle state of a Split document.
type SplitStatus string

const (
	SplitStatusDraft     SplitStatus = "draft"
	SplitStatusPending   SplitStatus = "pending"
	SplitStatusActive    SplitStatus = "active"
	SplitStatusLocked    SplitStatus = "locked"
	SplitStatusCompleted SplitStatus = "completed"
	SplitStatusCancelled SplitStatus = "cancelled"
)

// ParticipantStatus is the per-participant state within a Split.
type ParticipantStatus string

const (
	ParticipantPending  ParticipantStatus = "pending"
	ParticipantInvited  ParticipantStatus = "invited"
	ParticipantAccepted ParticipantStatus = "accepted"
	ParticipantDeclined ParticipantStatus = "declined"
	ParticipantLocked   ParticipantStatus = "locked"
	ParticipantPaid     ParticipantStatus = "paid"
)

// splitTransitions is the single table of legal Split lifecycle moves.
var splitTransitions = map[SplitStatus][]SplitStatus{
	SplitStatusDraft:     {SplitStatusPending, SplitStatusCancelled},
	SplitStatusPending:   {SplitStatusActive, SplitStatusCancelled},
	SplitStatusActive:    {SplitStatusLocked, SplitStatusCancelled},
	SplitStatusLocked:    {SplitStatusCompleted, SplitStatusCancelled},
	SplitStatusCompleted: {},
	SplitStatusCancelled: {},
}

// participantTransitions is the single table of legal participant moves,
// shared by the record store and the escrow coordinator.
var participantTransitions = map[ParticipantStatus][]ParticipantStatus{
	ParticipantPending:  {ParticipantInvited, ParticipantAccepted, ParticipantDeclined},
	ParticipantInvited:  {ParticipantAccepted, ParticipantDeclined},
	ParticipantAccepted: {ParticipantLocked, ParticipantPaid},
	ParticipantLocked:   {ParticipantPaid},
	ParticipantDeclined: {},
	ParticipantPaid:     {},
}

// CanTransitionSplit reports whether a Split may move from one status to another.
// Same-state moves are not transitions; callers treat them as idempotent no-ops.
func CanTransitionSplit(from, to SplitStatus) bool {
	for _, next := range splitTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CanTransitionParticipant reports whether a participant may move between statuses.
func CanTransitionParticipant(from, to ParticipantStatus) bool {
	for _, next := range participantTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type Split struct {
	ID            uuid.UUID          `gorm:"type:uuid;primaryKey" json:"id"`
	BillID        string             `gorm:"index;size:100" json:"bill_id"`
	Title         string             `gorm:"not null;size:255" json:"title"`
	TotalAmount   float64            `gorm:"type:decimal(12,2);not null" json:"total_amount"`
	Currency      string             `gorm:"not null;size:10" json:"currency"`
	SplitType     SplitType          `gorm:"not null;size:10" json:"split_type"`
	SplitMethod   SplitMethod        `gorm:"size:10" json:"split_method,omitempty"`
	Status        SplitStatus        `gorm:"not null;size:20;index" json:"status"`
	CreatorID     uuid.UUID          `gorm:"type:uuid;not null" json:"creator_id"`
	DegenLoserID  *uuid.UUID         `gorm:"type:uuid" json:"degen_loser_id,omitempty"`
	Participants  []SplitParticipant `gorm:"foreignKey:SplitID" json:"participants"`
	Items         []SplitItem        `gorm:"foreignKey:SplitID" json:"items,omitempty"`
	WalletID      string             `gorm:"size:100" json:"wallet_id,omitempty"`
	WalletAddress string             `gorm:"size:100" json:"wallet_address,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

func (s *Split) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

// Participant returns the entry for userID, or nil.
func (s *Split) Participant(userID uuid.UUID) *SplitParticipant {
	for i := range s.Participants {
		if s.Participants[i].UserID == userID {
			return &s.Participants[i]
		}
	}
	return nil
}

// TotalPaid sums amountPaid across participants.
func (s *Split) TotalPaid() float64 {
	var total float64
	for _, p := range s.Participants {
		total += p.AmountPaid
	}
	return total
}

type SplitParticipant struct {
	ID             uuid.UUID         `gorm:"type:uuid;primaryKey" json:"-"`
	SplitID        uuid.UUID         `gorm:"type:uuid;index" json:"-"`
	UserID         uuid.UUID         `gorm:"type:uuid;not null;index" json:"user_id"`
	Name           string            `gorm:"size:100" json:"name"`
	WalletAddress  string            `gorm:"size:100" json:"wallet_address,omitempty"`
	AmountOwed     float64           `gorm:"type:decimal(12,2)" json:"amount_owed"`
	AmountPaid     float64           `gorm:"type:decimal(12,2);default:0" json:"amount_paid"`
	Status         ParticipantStatus `gorm:"not null;size:20" json:"status"`
	JoinedAt       time.Time         `json:"joined_at"`
	PaidAt         *time.Time        `json:"paid_at,omitempty"`
	TransactionRef string            `gorm:"size:120" json:"transaction_ref,omitempty"`
}

func (p *SplitParticipant) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

type SplitItem struct {
	ID         uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	SplitID    uuid.UUID      `gorm:"type:uuid;index" json:"-"`
	Name       string         `gorm:"not null;size:255" json:"name"`
	Amount     float64        `gorm:"type:decimal(12,2);not null" json:"amount"`
	AssignedTo pq.StringArray `gorm:"type:text[]" json:"assigned_to,omitempty"`
}

func (i *SplitItem) BeforeCreate(tx *gorm.DB) error {
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	return nil
}

// Request structs
type ParticipantInput struct {
	UserID        string  `json:"user_id" binding:"required"`
	Name          string  `json:"name"`
	WalletAddress string  `json:"wallet_address"`
	AmountOwed    float64 `json:"amount_owed"`
}

type ItemInput struct {
	Name       string   `json:"name" binding:"required"`
	Amount     float64  `json:"amount" binding:"required,gt=0"`
	AssignedTo []string `json:"assigned_to"`
}

type CreateSplitRequest struct {
	BillID       string             `json:"bill_id"`
	Title        string             `json:"title"`
	TotalAmount  float64            `json:"total_amount" binding:"required,gt=0"`
	Currency     string             `json:"currency"`
	SplitType    string             `json:"split_type" binding:"required,oneof=fair degen"`
	SplitMethod  string             `json:"split_method" binding:"omitempty,oneof=equal manual"`
	Participants []ParticipantInput `json:"participants" binding:"required"`
	Items        []ItemInput        `json:"items"`
}

type UpdateSplitRequest struct {
	Title        string     `json:"title"`
	TotalAmount  float64    `json:"total_amount"`
	SplitMethod  string     `json:"split_method" binding:"omitempty,oneof=equal manual"`
	Status       string     `json:"status"`
	DegenLoserID string     `json:"degen_loser_id"`
	UpdatedAt    *time.Time `json:"updated_at"` // last value the caller observed
}

type UpdateParticipantStatusRequest struct {
	Status         string   `json:"status" binding:"required"`
	AmountPaid     *float64 `json:"amount_paid"`
	TransactionRef string   `json:"transaction_ref"`
}

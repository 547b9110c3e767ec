package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Activity struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	SplitID     uuid.UUID `gorm:"type:uuid;index" json:"split_id"`
	UserID      uuid.UUID `gorm:"type:uuid" json:"user_id"`
	Type        string    `gorm:"not null;size:30" json:"type"` // split_created, participant_joined, participant_declined, funds_locked, funds_released, split_cancelled, wallet_burned, reminder_sent
	ReferenceID uuid.UUID `gorm:"type:uuid" json:"reference_id,omitempty"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

func (a *Activity) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}

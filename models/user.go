package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type User struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Email         string    `gorm:"uniqueIndex;not null;size:255" json:"email"`
	Name          string    `gorm:"not null;size:100" json:"name"`
	DisplayHandle string    `gorm:"size:50" json:"display_handle,omitempty"`
	PasswordHash  string    `gorm:"not null;size:255" json:"-"`
	WalletAddress string    `gorm:"size:100" json:"wallet_address,omitempty"`
	FCMToken      string    `json:"-"`
	Currency      string    `gorm:"default:USDC;size:10" json:"currency"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}

// Response struct (what we return to clients)
type UserResponse struct {
	ID            uuid.UUID `json:"id"`
	Email         string    `json:"email"`
	Name          string    `json:"name"`
	DisplayHandle string    `json:"display_handle,omitempty"`
	WalletAddress string    `json:"wallet_address,omitempty"`
	Currency      string    `json:"currency"`
	CreatedAt     time.Time `json:"created_at"`
}

func (u *User) ToResponse() UserResponse {
	return UserResponse{
		ID:            u.ID,
		Email:         u.Email,
		Name:          u.Name,
		DisplayHandle: u.DisplayHandle,
		WalletAddress: u.WalletAddress,
		Currency:      u.Currency,
		CreatedAt:     u.CreatedAt,
	}
}

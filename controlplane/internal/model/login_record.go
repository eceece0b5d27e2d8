package model

import (
	"time"

	"github.com/google/uuid"
)

type LoginRecord struct {
	ID              string    `gorm:"primaryKey" json:"id"`
	IdentityKey     string    `gorm:"column:identity_key;index" json:"identity_key"`
	Email           string    `gorm:"column:email;index" json:"email"`
	Subject         string    `gorm:"column:subject" json:"subject"`
	ClientPublicKey string    `gorm:"column:client_public_key" json:"client_public_key"`
	ClientAddress   string    `gorm:"column:client_address;index" json:"client_address"`
	SessionEndsAt   time.Time `gorm:"column:session_ends_at" json:"session_ends_at"`
	CreatedAt       time.Time `gorm:"column:created_at;index" json:"created_at"`
}

func NewLoginRecord(lease Lease, createdAt time.Time) LoginRecord {
	return LoginRecord{
		ID:              uuid.NewString(),
		IdentityKey:     lease.IdentityKey,
		Email:           lease.Identity.Email,
		Subject:         lease.Identity.Subject,
		ClientPublicKey: lease.ClientPublicKey,
		ClientAddress:   lease.ClientAddress.String(),
		SessionEndsAt:   lease.EndsAt,
		CreatedAt:       createdAt,
	}
}

func (LoginRecord) TableName() string {
	return "login_records"
}

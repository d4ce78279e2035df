package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/dmarkov/verifio-backend/pkg/enums"
)

// User represents the canonical identity entity.
type User struct {
	ID             uuid.UUID        `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Email          string           `gorm:"column:email;type:text;not null;uniqueIndex"`
	PasswordHash   string           `gorm:"column:password_hash;not null"`
	Status         enums.UserStatus `gorm:"column:status;type:text;not null;default:pending"`
	FailedAttempts int              `gorm:"column:failed_attempts;not null;default:0"`
	LastCodeSentAt *time.Time       `gorm:"column:last_code_sent_at"`
	CreatedAt      time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}

package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/dmarkov/verifio-backend/pkg/enums"
)

// OutboxMessage is one intent-to-notify row. Rows are written inside the same
// transaction as the domain mutation they report and are never deleted; only
// the dispatcher mutates them afterwards.
type OutboxMessage struct {
	ID             uuid.UUID          `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Topic          string             `gorm:"column:topic;type:text;not null"`
	Payload        json.RawMessage    `gorm:"column:payload;type:jsonb;not null"`
	Status         enums.OutboxStatus `gorm:"column:status;type:text;not null;default:pending"`
	Attempts       int                `gorm:"column:attempts;not null;default:0"`
	IdempotencyKey *string            `gorm:"column:idempotency_key;uniqueIndex"`
	LastError      *string            `gorm:"column:last_error"`
	CreatedAt      time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time          `gorm:"column:updated_at;autoUpdateTime"`
	AvailableAt    time.Time          `gorm:"column:available_at;not null"`
}

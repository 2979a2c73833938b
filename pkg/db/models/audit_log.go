package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AuditLog is an append-only record of every state-changing attempt.
type AuditLog struct {
	ID         uuid.UUID       `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	Actor      string          `gorm:"column:actor;not null"`
	Action     string          `gorm:"column:action;not null;index"`
	EntityType string          `gorm:"column:entity_type;not null"`
	EntityID   string          `gorm:"column:entity_id;not null;index"`
	Outcome    string          `gorm:"column:outcome;not null"`
	Detail     json.RawMessage `gorm:"column:detail;type:jsonb"`
	CreatedAt  time.Time       `gorm:"column:created_at;autoCreateTime"`
}

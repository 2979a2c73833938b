package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/sdelgadillo/membercore-backend/pkg/enums"
)

// Notification stores in-app notification payloads for the admin surface.
// DedupeKey keeps repeat webhook deliveries from stacking duplicates.
type Notification struct {
	ID        uuid.UUID              `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	UserID    uuid.UUID              `gorm:"type:uuid;not null;index"`
	Type      enums.NotificationType `gorm:"type:notification_type;not null"`
	Title     string                 `gorm:"type:text;not null"`
	Message   string                 `gorm:"type:text;not null"`
	Link      *string                `gorm:"type:text"`
	DedupeKey *string                `gorm:"column:dedupe_key;uniqueIndex"`
	ReadAt    *time.Time             `gorm:"type:timestamptz"`
	CreatedAt time.Time              `gorm:"type:timestamptz;default:now()"`
}

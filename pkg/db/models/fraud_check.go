package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/sdelgadillo/membercore-backend/pkg/enums"
)

// FraudCheck persists one fraud gate evaluation, successful or not.
type FraudCheck struct {
	ID              uuid.UUID         `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	IntentID        *uuid.UUID        `gorm:"column:intent_id;type:uuid;index"`
	UserID          uuid.UUID         `gorm:"column:user_id;type:uuid;not null;index"`
	SquarePaymentID string            `gorm:"column:square_payment_id;not null;index"`
	Checks          json.RawMessage   `gorm:"column:checks;type:jsonb;not null"`
	Score           int               `gorm:"column:score;not null"`
	Action          enums.FraudAction `gorm:"column:action;type:fraud_action;not null"`
	CreatedAt       time.Time         `gorm:"column:created_at;autoCreateTime"`
}

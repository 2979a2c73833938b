package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/sdelgadillo/membercore-backend/pkg/enums"
)

// Membership is the single membership row per user. It is maintained
// exclusively by upsert keyed on user_id.
type Membership struct {
	ID                   uuid.UUID              `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	UserID               uuid.UUID              `gorm:"column:user_id;type:uuid;not null;uniqueIndex"`
	MembershipType       enums.MembershipType   `gorm:"column:membership_type;type:membership_type;not null"`
	BillingCycle         enums.BillingCycle     `gorm:"column:billing_cycle;type:billing_cycle;not null"`
	Status               enums.MembershipStatus `gorm:"column:status;type:membership_status;not null;default:'active'"`
	SquareSubscriptionID *string                `gorm:"column:square_subscription_id;uniqueIndex"`
	SquareCustomerID     *string                `gorm:"column:square_customer_id;index"`
	StartDate            time.Time              `gorm:"column:start_date;not null"`
	EndDate              *time.Time             `gorm:"column:end_date"`
	CancelAtPeriodEnd    bool                   `gorm:"column:cancel_at_period_end;not null;default:false"`
	CancelledAt          *time.Time             `gorm:"column:cancelled_at"`
	CreatedAt            time.Time              `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt            time.Time              `gorm:"column:updated_at;autoUpdateTime"`
}

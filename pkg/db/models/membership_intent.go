package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/sdelgadillo/membercore-backend/pkg/enums"
)

// MembershipIntent tracks one membership purchase flow from checkout through
// activation. A partial unique index keeps at most one open intent per user.
type MembershipIntent struct {
	ID                   uuid.UUID            `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	UserID               uuid.UUID            `gorm:"column:user_id;type:uuid;not null;index"`
	Status               enums.IntentStatus   `gorm:"column:status;type:intent_status;not null;default:'created'"`
	MembershipType       enums.MembershipType `gorm:"column:membership_type;type:membership_type;not null"`
	BillingCycle         enums.BillingCycle   `gorm:"column:billing_cycle;type:billing_cycle;not null"`
	SquarePaymentID      *string              `gorm:"column:square_payment_id;index"`
	SquareVerificationID *string              `gorm:"column:square_verification_id"`
	AmountCents          int64                `gorm:"column:amount_cents;not null"`
	Currency             string               `gorm:"column:currency;not null;default:'USD'"`
	FullName             *string              `gorm:"column:full_name"`
	Email                *string              `gorm:"column:email"`
	Phone                *string              `gorm:"column:phone"`
	DocumentNumber       *string              `gorm:"column:document_number"`
	ShippingLine1        *string              `gorm:"column:shipping_line1"`
	ShippingLine2        *string              `gorm:"column:shipping_line2"`
	ShippingCity         *string              `gorm:"column:shipping_city"`
	ShippingState        *string              `gorm:"column:shipping_state"`
	ShippingPostalCode   *string              `gorm:"column:shipping_postal_code"`
	ShippingCountry      *string              `gorm:"column:shipping_country"`
	FailureReason        *string              `gorm:"column:failure_reason"`
	PaidAt               *time.Time           `gorm:"column:paid_at"`
	VerifiedAt           *time.Time           `gorm:"column:verified_at"`
	ActivatedAt          *time.Time           `gorm:"column:activated_at"`
	CreatedAt            time.Time            `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt            time.Time            `gorm:"column:updated_at;autoUpdateTime"`
}

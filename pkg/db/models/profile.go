package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/sdelgadillo/membercore-backend/pkg/enums"
)

// Profile is the denormalized per-user snapshot other surfaces read. The
// membership fields mirror the Membership row and are refreshed on
// activation and on subscription lifecycle events.
type Profile struct {
	ID                   uuid.UUID               `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	UserID               uuid.UUID               `gorm:"column:user_id;type:uuid;not null;uniqueIndex"`
	FullName             *string                 `gorm:"column:full_name"`
	Email                *string                 `gorm:"column:email"`
	Phone                *string                 `gorm:"column:phone"`
	DocumentNumber       *string                 `gorm:"column:document_number"`
	IdentityVerified     bool                    `gorm:"column:identity_verified;not null;default:false"`
	IdentityVerifiedAt   *time.Time              `gorm:"column:identity_verified_at"`
	MembershipStatus     *enums.MembershipStatus `gorm:"column:membership_status;type:membership_status"`
	MembershipType       *enums.MembershipType   `gorm:"column:membership_type;type:membership_type"`
	MembershipSince      *time.Time              `gorm:"column:membership_since"`
	SquareCustomerID     *string                 `gorm:"column:square_customer_id;index"`
	SquareSubscriptionID *string                 `gorm:"column:square_subscription_id"`
	ShippingLine1        *string                 `gorm:"column:shipping_line1"`
	ShippingLine2        *string                 `gorm:"column:shipping_line2"`
	ShippingCity         *string                 `gorm:"column:shipping_city"`
	ShippingState        *string                 `gorm:"column:shipping_state"`
	ShippingPostalCode   *string                 `gorm:"column:shipping_postal_code"`
	ShippingCountry      *string                 `gorm:"column:shipping_country"`
	CreatedAt            time.Time               `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt            time.Time               `gorm:"column:updated_at;autoUpdateTime"`
}

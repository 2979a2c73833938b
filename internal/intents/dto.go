package intents

import (
	"time"

	"github.com/google/uuid"

	"github.com/sdelgadillo/membercore-backend/pkg/db/models"
	"github.com/sdelgadillo/membercore-backend/pkg/enums"
)

// CreateIntentInput is the validated body for starting a purchase flow.
type CreateIntentInput struct {
	MembershipType string       `json:"membership_type" validate:"required,oneof=standard premium founders"`
	BillingCycle   string       `json:"billing_cycle" validate:"required,oneof=monthly annual"`
	AmountCents    int64        `json:"amount_cents" validate:"required,gt=0"`
	Currency       string       `json:"currency" validate:"omitempty,len=3"`
	Profile        *ProfileData `json:"profile" validate:"omitempty"`
}

// ProfileData is the typed snapshot of the purchase form. Every field is
// optional; the activation step persists whatever was captured.
type ProfileData struct {
	FullName           *string `json:"full_name,omitempty" validate:"omitempty,max=200"`
	Email              *string `json:"email,omitempty" validate:"omitempty,email"`
	Phone              *string `json:"phone,omitempty" validate:"omitempty,max=32"`
	DocumentNumber     *string `json:"document_number,omitempty" validate:"omitempty,max=64"`
	ShippingLine1      *string `json:"shipping_line1,omitempty" validate:"omitempty,max=200"`
	ShippingLine2      *string `json:"shipping_line2,omitempty" validate:"omitempty,max=200"`
	ShippingCity       *string `json:"shipping_city,omitempty" validate:"omitempty,max=100"`
	ShippingState      *string `json:"shipping_state,omitempty" validate:"omitempty,max=100"`
	ShippingPostalCode *string `json:"shipping_postal_code,omitempty" validate:"omitempty,max=20"`
	ShippingCountry    *string `json:"shipping_country,omitempty" validate:"omitempty,len=2"`
}

// IsEmpty reports whether no snapshot field was submitted.
func (p *ProfileData) IsEmpty() bool {
	if p == nil {
		return true
	}
	return p.FullName == nil && p.Email == nil && p.Phone == nil &&
		p.DocumentNumber == nil && p.ShippingLine1 == nil && p.ShippingLine2 == nil &&
		p.ShippingCity == nil && p.ShippingState == nil &&
		p.ShippingPostalCode == nil && p.ShippingCountry == nil
}

// SnapshotFromIntent lifts the stored form snapshot off an intent row.
func SnapshotFromIntent(intent *models.MembershipIntent) *ProfileData {
	if intent == nil {
		return nil
	}
	return &ProfileData{
		FullName:           intent.FullName,
		Email:              intent.Email,
		Phone:              intent.Phone,
		DocumentNumber:     intent.DocumentNumber,
		ShippingLine1:      intent.ShippingLine1,
		ShippingLine2:      intent.ShippingLine2,
		ShippingCity:       intent.ShippingCity,
		ShippingState:      intent.ShippingState,
		ShippingPostalCode: intent.ShippingPostalCode,
		ShippingCountry:    intent.ShippingCountry,
	}
}

// IntentDTO is the API shape of a membership intent.
type IntentDTO struct {
	ID             uuid.UUID            `json:"id"`
	Status         enums.IntentStatus   `json:"status"`
	MembershipType enums.MembershipType `json:"membership_type"`
	BillingCycle   enums.BillingCycle   `json:"billing_cycle"`
	AmountCents    int64                `json:"amount_cents"`
	Currency       string               `json:"currency"`
	PaidAt         *time.Time           `json:"paid_at,omitempty"`
	ActivatedAt    *time.Time           `json:"activated_at,omitempty"`
	CreatedAt      time.Time            `json:"created_at"`
}

func toDTO(intent *models.MembershipIntent) *IntentDTO {
	if intent == nil {
		return nil
	}
	return &IntentDTO{
		ID:             intent.ID,
		Status:         intent.Status,
		MembershipType: intent.MembershipType,
		BillingCycle:   intent.BillingCycle,
		AmountCents:    intent.AmountCents,
		Currency:       intent.Currency,
		PaidAt:         intent.PaidAt,
		ActivatedAt:    intent.ActivatedAt,
		CreatedAt:      intent.CreatedAt,
	}
}

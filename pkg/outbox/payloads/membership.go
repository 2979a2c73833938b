package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/sdelgadillo/membercore-backend/pkg/enums"
)

// MembershipActivatedEvent is published after the orchestrator completes.
type MembershipActivatedEvent struct {
	IntentID             uuid.UUID            `json:"intent_id"`
	UserID               uuid.UUID            `json:"user_id"`
	MembershipType       enums.MembershipType `json:"membership_type"`
	BillingCycle         enums.BillingCycle   `json:"billing_cycle"`
	SquareSubscriptionID *string              `json:"square_subscription_id,omitempty"`
	ActivatedAt          time.Time            `json:"activated_at"`
}

// MembershipActivationRetryEvent carries everything a worker needs to rerun
// the membership upsert after it failed post-activation.
type MembershipActivationRetryEvent struct {
	IntentID             uuid.UUID            `json:"intent_id"`
	UserID               uuid.UUID            `json:"user_id"`
	MembershipType       enums.MembershipType `json:"membership_type"`
	BillingCycle         enums.BillingCycle   `json:"billing_cycle"`
	SquareSubscriptionID *string              `json:"square_subscription_id,omitempty"`
	SquareCustomerID     *string              `json:"square_customer_id,omitempty"`
	StartDate            time.Time            `json:"start_date"`
	Reason               string               `json:"reason"`
}

// MembershipLifecycleEvent covers pause/cancel notifications.
type MembershipLifecycleEvent struct {
	UserID               uuid.UUID              `json:"user_id"`
	Status               enums.MembershipStatus `json:"status"`
	SquareSubscriptionID *string                `json:"square_subscription_id,omitempty"`
	OccurredAt           time.Time              `json:"occurred_at"`
}

// IntentFailedEvent records a terminal intent failure.
type IntentFailedEvent struct {
	IntentID uuid.UUID `json:"intent_id"`
	UserID   uuid.UUID `json:"user_id"`
	Reason   string    `json:"reason"`
}

// FraudReviewRequestedEvent asks downstream tooling to review a payment.
type FraudReviewRequestedEvent struct {
	IntentID        *uuid.UUID        `json:"intent_id,omitempty"`
	UserID          uuid.UUID         `json:"user_id"`
	SquarePaymentID string            `json:"square_payment_id"`
	Score           int               `json:"score"`
	Action          enums.FraudAction `json:"action"`
}

// NotificationRequestedEvent fans a notification out to delivery channels.
type NotificationRequestedEvent struct {
	UserID    uuid.UUID              `json:"user_id"`
	Type      enums.NotificationType `json:"type"`
	Title     string                 `json:"title"`
	Message   string                 `json:"message"`
	DedupeKey *string                `json:"dedupe_key,omitempty"`
}

// AuditRecordedEvent streams an audit row to the warehouse exporter.
type AuditRecordedEvent struct {
	AuditID    uuid.UUID `json:"audit_id"`
	Actor      string    `json:"actor"`
	Action     string    `json:"action"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	Outcome    string    `json:"outcome"`
	RecordedAt time.Time `json:"recorded_at"`
}

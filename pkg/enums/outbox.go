package enums

import "fmt"

// OutboxAggregateType maps to the aggregate_type enum in Postgres.
type OutboxAggregateType string

const (
	AggregateMembershipIntent OutboxAggregateType = "membership_intent"
	AggregateMembership       OutboxAggregateType = "membership"
	AggregateNotification     OutboxAggregateType = "notification"
	AggregateAuditLog         OutboxAggregateType = "audit_log"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateMembershipIntent,
	AggregateMembership,
	AggregateNotification,
	AggregateAuditLog,
}

// IsValid reports whether the value matches the canonical aggregate_type enum.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType maps to the event_type enum in Postgres.
type OutboxEventType string

const (
	EventMembershipActivated       OutboxEventType = "membership_activated"
	EventMembershipActivationRetry OutboxEventType = "membership_activation_retry"
	EventMembershipCancelled       OutboxEventType = "membership_cancelled"
	EventMembershipPaused          OutboxEventType = "membership_paused"
	EventIntentFailed              OutboxEventType = "intent_failed"
	EventFraudReviewRequested      OutboxEventType = "fraud_review_requested"
	EventNotificationRequested     OutboxEventType = "notification_requested"
	EventAuditRecorded             OutboxEventType = "audit_recorded"
)

var validOutboxEventTypes = []OutboxEventType{
	EventMembershipActivated,
	EventMembershipActivationRetry,
	EventMembershipCancelled,
	EventMembershipPaused,
	EventIntentFailed,
	EventFraudReviewRequested,
	EventNotificationRequested,
	EventAuditRecorded,
}

// IsValid reports whether the value matches the canonical event_type enum.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}

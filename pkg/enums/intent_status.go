package enums

import "fmt"

// IntentStatus is the lifecycle state of a membership intent.
type IntentStatus string

const (
	IntentStatusCreated           IntentStatus = "created"
	IntentStatusPaidPendingVerify IntentStatus = "paid_pending_verification"
	IntentStatusActive            IntentStatus = "active"
	IntentStatusFailed            IntentStatus = "failed"
	IntentStatusCancelled         IntentStatus = "cancelled"
)

var validIntentStatuses = []IntentStatus{
	IntentStatusCreated,
	IntentStatusPaidPendingVerify,
	IntentStatusActive,
	IntentStatusFailed,
	IntentStatusCancelled,
}

// String implements fmt.Stringer.
func (s IntentStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is known.
func (s IntentStatus) IsValid() bool {
	for _, candidate := range validIntentStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsOpen reports whether an intent in this state still blocks a new flow
// for the same user.
func (s IntentStatus) IsOpen() bool {
	return s == IntentStatusCreated || s == IntentStatusPaidPendingVerify
}

// ParseIntentStatus converts raw input into an IntentStatus.
func ParseIntentStatus(value string) (IntentStatus, error) {
	for _, candidate := range validIntentStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid intent status %q", value)
}

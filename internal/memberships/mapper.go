package memberships

import (
	"strings"
	"time"

	"github.com/google/uuid"
	sq "github.com/square/square-go-sdk"

	"github.com/sdelgadillo/membercore-backend/pkg/enums"
)

const squareDateLayout = "2006-01-02"

// StatusFromSquare maps the processor's subscription status vocabulary onto
// our membership status enum. Unknown statuses are treated as active so a
// new processor state never silently deactivates a paying member.
func StatusFromSquare(raw string) enums.MembershipStatus {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "CANCELED", "DEACTIVATED":
		return enums.MembershipStatusCancelled
	case "PAUSED":
		return enums.MembershipStatusPaused
	default:
		return enums.MembershipStatusActive
	}
}

// ParseSquareDate parses the processor's YYYY-MM-DD date fields.
func ParseSquareDate(raw string) (time.Time, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return time.Time{}, false
	}
	parsed, err := time.Parse(squareDateLayout, trimmed)
	if err != nil {
		return time.Time{}, false
	}
	return parsed.UTC(), true
}

// UpsertFromSquareSubscription derives the desired membership row from a
// live subscription fetched off the processor.
func UpsertFromSquareSubscription(userID uuid.UUID, membershipType enums.MembershipType, billingCycle enums.BillingCycle, sub *sq.Subscription, now time.Time) UpsertParams {
	params := UpsertParams{
		UserID:         userID,
		MembershipType: membershipType,
		BillingCycle:   billingCycle,
		Status:         enums.MembershipStatusActive,
		StartDate:      now,
	}
	if sub == nil {
		return params
	}

	if id := sub.GetID(); id != nil && *id != "" {
		params.SquareSubscriptionID = id
	}
	if customerID := sub.GetCustomerID(); customerID != nil && *customerID != "" {
		params.SquareCustomerID = customerID
	}
	if status := sub.GetStatus(); status != nil {
		params.Status = StatusFromSquare(string(*status))
	}
	if start := sub.GetStartDate(); start != nil {
		if parsed, ok := ParseSquareDate(*start); ok {
			params.StartDate = parsed
		}
	}
	if charged := sub.GetChargedThroughDate(); charged != nil {
		if parsed, ok := ParseSquareDate(*charged); ok {
			params.EndDate = &parsed
		}
	}
	if cancelled := sub.GetCanceledDate(); cancelled != nil && *cancelled != "" {
		params.CancelAtPeriodEnd = true
	}
	return params
}

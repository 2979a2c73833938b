package enums

import "fmt"

// FraudAction is the decision the fraud gate hands back to callers.
type FraudAction string

const (
	FraudActionApprove      FraudAction = "approve"
	FraudActionManualReview FraudAction = "manual_review"
	FraudActionReject       FraudAction = "reject"
)

var validFraudActions = []FraudAction{
	FraudActionApprove,
	FraudActionManualReview,
	FraudActionReject,
}

// String implements fmt.Stringer.
func (a FraudAction) String() string {
	return string(a)
}

// IsValid reports whether the value is known.
func (a FraudAction) IsValid() bool {
	for _, candidate := range validFraudActions {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseFraudAction converts raw input into a FraudAction.
func ParseFraudAction(value string) (FraudAction, error) {
	for _, candidate := range validFraudActions {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid fraud action %q", value)
}

// FraudCheckName identifies one of the independent checks the gate runs.
type FraudCheckName string

const (
	FraudCheckDuplicateMembership FraudCheckName = "duplicate_membership"
	FraudCheckProcessorRisk       FraudCheckName = "processor_risk_signal"
	FraudCheckPaymentMethod       FraudCheckName = "payment_method_validation"
	FraudCheckUserRiskProfile     FraudCheckName = "user_risk_profile"
)

var validFraudCheckNames = []FraudCheckName{
	FraudCheckDuplicateMembership,
	FraudCheckProcessorRisk,
	FraudCheckPaymentMethod,
	FraudCheckUserRiskProfile,
}

// String implements fmt.Stringer.
func (n FraudCheckName) String() string {
	return string(n)
}

// IsValid reports whether the value is known.
func (n FraudCheckName) IsValid() bool {
	for _, candidate := range validFraudCheckNames {
		if candidate == n {
			return true
		}
	}
	return false
}

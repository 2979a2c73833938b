package enums

import "fmt"

// RiskLevel mirrors the payment processor's risk evaluation on a payment.
type RiskLevel string

const (
	RiskLevelPending  RiskLevel = "pending"
	RiskLevelNormal   RiskLevel = "normal"
	RiskLevelModerate RiskLevel = "moderate"
	RiskLevelHigh     RiskLevel = "high"
)

var validRiskLevels = []RiskLevel{
	RiskLevelPending,
	RiskLevelNormal,
	RiskLevelModerate,
	RiskLevelHigh,
}

// String implements fmt.Stringer.
func (l RiskLevel) String() string {
	return string(l)
}

// IsValid reports whether the value is known.
func (l RiskLevel) IsValid() bool {
	for _, candidate := range validRiskLevels {
		if candidate == l {
			return true
		}
	}
	return false
}

// ParseRiskLevel converts raw input into a RiskLevel. Unknown processor
// values are surfaced as errors so callers can decide how to degrade.
func ParseRiskLevel(value string) (RiskLevel, error) {
	for _, candidate := range validRiskLevels {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid risk level %q", value)
}

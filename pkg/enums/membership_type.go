package enums

import "fmt"

// MembershipType is the purchased tier.
type MembershipType string

const (
	MembershipTypeStandard MembershipType = "standard"
	MembershipTypePremium  MembershipType = "premium"
	MembershipTypeFounders MembershipType = "founders"
)

var validMembershipTypes = []MembershipType{
	MembershipTypeStandard,
	MembershipTypePremium,
	MembershipTypeFounders,
}

// String implements fmt.Stringer.
func (t MembershipType) String() string {
	return string(t)
}

// IsValid reports whether the value is known.
func (t MembershipType) IsValid() bool {
	for _, candidate := range validMembershipTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseMembershipType converts raw input into a MembershipType.
func ParseMembershipType(value string) (MembershipType, error) {
	for _, candidate := range validMembershipTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid membership type %q", value)
}

package enums

import "fmt"

// AccessState is the derived subscription state of a teacher account.
type AccessState string

const (
	AccessStateActive AccessState = "active"
	AccessStateGrace  AccessState = "grace"
	AccessStateLocked AccessState = "locked"
)

var validAccessStates = []AccessState{
	AccessStateActive,
	AccessStateGrace,
	AccessStateLocked,
}

// String implements fmt.Stringer.
func (s AccessState) String() string {
	return string(s)
}

// IsValid reports whether the value is a known AccessState.
func (s AccessState) IsValid() bool {
	for _, candidate := range validAccessStates {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseAccessState converts raw input into an AccessState.
func ParseAccessState(value string) (AccessState, error) {
	for _, candidate := range validAccessStates {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid access state %q", value)
}

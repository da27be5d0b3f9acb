package enums

import "fmt"

// PaymentAttemptStatus tracks the lifecycle of a payment attempt.
type PaymentAttemptStatus string

const (
	PaymentAttemptStatusCreated   PaymentAttemptStatus = "created"
	PaymentAttemptStatusPending   PaymentAttemptStatus = "pending"
	PaymentAttemptStatusSucceeded PaymentAttemptStatus = "succeeded"
	PaymentAttemptStatusFailed    PaymentAttemptStatus = "failed"
)

var validPaymentAttemptStatuses = []PaymentAttemptStatus{
	PaymentAttemptStatusCreated,
	PaymentAttemptStatusPending,
	PaymentAttemptStatusSucceeded,
	PaymentAttemptStatusFailed,
}

// String implements fmt.Stringer.
func (s PaymentAttemptStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known PaymentAttemptStatus.
func (s PaymentAttemptStatus) IsValid() bool {
	for _, candidate := range validPaymentAttemptStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions are allowed.
func (s PaymentAttemptStatus) IsTerminal() bool {
	return s == PaymentAttemptStatusSucceeded || s == PaymentAttemptStatusFailed
}

// ParsePaymentAttemptStatus converts raw input into a PaymentAttemptStatus.
func ParsePaymentAttemptStatus(value string) (PaymentAttemptStatus, error) {
	for _, candidate := range validPaymentAttemptStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment attempt status %q", value)
}

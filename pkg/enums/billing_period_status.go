package enums

import "fmt"

// BillingPeriodStatus tracks a due month.
type BillingPeriodStatus string

const (
	BillingPeriodStatusPending BillingPeriodStatus = "pending"
	BillingPeriodStatusPaid    BillingPeriodStatus = "paid"
	BillingPeriodStatusWaived  BillingPeriodStatus = "waived"
)

var validBillingPeriodStatuses = []BillingPeriodStatus{
	BillingPeriodStatusPending,
	BillingPeriodStatusPaid,
	BillingPeriodStatusWaived,
}

// String implements fmt.Stringer.
func (s BillingPeriodStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known BillingPeriodStatus.
func (s BillingPeriodStatus) IsValid() bool {
	for _, candidate := range validBillingPeriodStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsSettled reports whether the period no longer counts as owed.
func (s BillingPeriodStatus) IsSettled() bool {
	return s == BillingPeriodStatusPaid || s == BillingPeriodStatusWaived
}

// ParseBillingPeriodStatus converts raw input into a BillingPeriodStatus.
func ParseBillingPeriodStatus(value string) (BillingPeriodStatus, error) {
	for _, candidate := range validBillingPeriodStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid billing period status %q", value)
}

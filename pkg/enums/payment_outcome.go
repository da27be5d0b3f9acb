package enums

import "fmt"

// PaymentOutcome is the normalized result carried by a gateway event.
type PaymentOutcome string

const (
	PaymentOutcomePending   PaymentOutcome = "pending"
	PaymentOutcomeSucceeded PaymentOutcome = "succeeded"
	PaymentOutcomeFailed    PaymentOutcome = "failed"
)

var validPaymentOutcomes = []PaymentOutcome{
	PaymentOutcomePending,
	PaymentOutcomeSucceeded,
	PaymentOutcomeFailed,
}

func (o PaymentOutcome) String() string {
	return string(o)
}

func (o PaymentOutcome) IsValid() bool {
	for _, candidate := range validPaymentOutcomes {
		if candidate == o {
			return true
		}
	}
	return false
}

// AttemptStatus maps the outcome onto the attempt status it finalizes to.
func (o PaymentOutcome) AttemptStatus() PaymentAttemptStatus {
	switch o {
	case PaymentOutcomeSucceeded:
		return PaymentAttemptStatusSucceeded
	case PaymentOutcomeFailed:
		return PaymentAttemptStatusFailed
	default:
		return PaymentAttemptStatusPending
	}
}

func ParsePaymentOutcome(value string) (PaymentOutcome, error) {
	for _, candidate := range validPaymentOutcomes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment outcome %q", value)
}

package enums

import "fmt"

// PaymentMode identifies how a payment attempt is settled.
type PaymentMode string

const (
	PaymentModeOnline PaymentMode = "online"
	PaymentModeCash   PaymentMode = "cash"
)

var validPaymentModes = []PaymentMode{PaymentModeOnline, PaymentModeCash}

func (m PaymentMode) String() string {
	return string(m)
}

func (m PaymentMode) IsValid() bool {
	for _, candidate := range validPaymentModes {
		if candidate == m {
			return true
		}
	}
	return false
}

func ParsePaymentMode(value string) (PaymentMode, error) {
	for _, candidate := range validPaymentModes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment mode %q", value)
}

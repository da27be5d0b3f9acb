package enums

import "fmt"

// LedgerEventType maps to the ledger_event_type_enum enum in Postgres.
type LedgerEventType string

const (
	LedgerEventTypeAttemptCreated    LedgerEventType = "attempt_created"
	LedgerEventTypeAttemptPending    LedgerEventType = "attempt_pending"
	LedgerEventTypeAttemptSucceeded  LedgerEventType = "attempt_succeeded"
	LedgerEventTypeAttemptFailed     LedgerEventType = "attempt_failed"
	LedgerEventTypePeriodPaid        LedgerEventType = "period_paid"
	LedgerEventTypePeriodWaived      LedgerEventType = "period_waived"
	LedgerEventTypeCashCollected     LedgerEventType = "cash_collected"
	LedgerEventTypeSettlementOverlap LedgerEventType = "settlement_overlap"
)

var validLedgerEventTypes = []LedgerEventType{
	LedgerEventTypeAttemptCreated,
	LedgerEventTypeAttemptPending,
	LedgerEventTypeAttemptSucceeded,
	LedgerEventTypeAttemptFailed,
	LedgerEventTypePeriodPaid,
	LedgerEventTypePeriodWaived,
	LedgerEventTypeCashCollected,
	LedgerEventTypeSettlementOverlap,
}

// IsValid reports whether the value matches the canonical ledger event enum.
func (t LedgerEventType) IsValid() bool {
	for _, candidate := range validLedgerEventTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// LedgerEventTypeForStatus returns the entry type recorded when an attempt reaches status.
func LedgerEventTypeForStatus(status PaymentAttemptStatus) LedgerEventType {
	switch status {
	case PaymentAttemptStatusPending:
		return LedgerEventTypeAttemptPending
	case PaymentAttemptStatusSucceeded:
		return LedgerEventTypeAttemptSucceeded
	case PaymentAttemptStatusFailed:
		return LedgerEventTypeAttemptFailed
	default:
		return LedgerEventTypeAttemptCreated
	}
}

// ParseLedgerEventType converts raw input into LedgerEventType.
func ParseLedgerEventType(value string) (LedgerEventType, error) {
	for _, candidate := range validLedgerEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid ledger event type %q", value)
}

package enums

import "fmt"

// WebhookEventStatus tracks reconciliation progress of a recorded gateway event.
type WebhookEventStatus string

const (
	WebhookEventStatusReceived  WebhookEventStatus = "received"
	WebhookEventStatusProcessed WebhookEventStatus = "processed"
	WebhookEventStatusReview    WebhookEventStatus = "review"
	WebhookEventStatusFailed    WebhookEventStatus = "failed"
)

var validWebhookEventStatuses = []WebhookEventStatus{
	WebhookEventStatusReceived,
	WebhookEventStatusProcessed,
	WebhookEventStatusReview,
	WebhookEventStatusFailed,
}

// String implements fmt.Stringer.
func (s WebhookEventStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known WebhookEventStatus.
func (s WebhookEventStatus) IsValid() bool {
	for _, candidate := range validWebhookEventStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseWebhookEventStatus converts raw input into a WebhookEventStatus.
func ParseWebhookEventStatus(value string) (WebhookEventStatus, error) {
	for _, candidate := range validWebhookEventStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid webhook event status %q", value)
}

// WebhookEventSource records which flow delivered the event.
type WebhookEventSource string

const (
	WebhookEventSourceWebhook  WebhookEventSource = "webhook"
	WebhookEventSourceCallback WebhookEventSource = "callback"
)

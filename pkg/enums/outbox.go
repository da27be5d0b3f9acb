package enums

// OutboxAggregateType maps to aggregate_type_enum.
type OutboxAggregateType string

const (
	AggregateSubscriptionAccount OutboxAggregateType = "subscription_account"
	AggregatePaymentAttempt      OutboxAggregateType = "payment_attempt"
	AggregateWebhookEvent        OutboxAggregateType = "webhook_event"
)

func (a OutboxAggregateType) IsValid() bool {
	switch a {
	case AggregateSubscriptionAccount, AggregatePaymentAttempt, AggregateWebhookEvent:
		return true
	}
	return false
}

// OutboxEventType maps to event_type_enum. Each value is one billing fact published to
// the billing topic.
type OutboxEventType string

const (
	EventSubscriptionStateChanged OutboxEventType = "subscription_state_changed"
	EventPaymentSettled           OutboxEventType = "payment_settled"
	EventCashCollected            OutboxEventType = "cash_collected"
	EventPaymentReviewRequired    OutboxEventType = "payment_review_required"
)

func (e OutboxEventType) IsValid() bool {
	switch e {
	case EventSubscriptionStateChanged, EventPaymentSettled, EventCashCollected, EventPaymentReviewRequired:
		return true
	}
	return false
}

// OutboxDLQErrorReason records why a row left the publish loop.
type OutboxDLQErrorReason string

const (
	OutboxDLQReasonMaxAttempts  OutboxDLQErrorReason = "max_attempts"
	OutboxDLQReasonNonRetryable OutboxDLQErrorReason = "non_retryable"
)

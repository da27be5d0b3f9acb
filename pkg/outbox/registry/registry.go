// Package registry maps outbox event types to their topic and payload schema
// so the publisher can check a row before it leaves the database.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/angelmondragon/tutorbill-backend/pkg/config"
	"github.com/angelmondragon/tutorbill-backend/pkg/db/models"
	"github.com/angelmondragon/tutorbill-backend/pkg/enums"
	"github.com/angelmondragon/tutorbill-backend/pkg/outbox"
	"github.com/angelmondragon/tutorbill-backend/pkg/outbox/payloads"
)

// ErrPermanent marks failures that no amount of retrying will fix.
var ErrPermanent = errors.New("permanent outbox failure")

// Permanent wraps err so errors.Is(err, ErrPermanent) holds.
func Permanent(err error) error {
	if err == nil || errors.Is(err, ErrPermanent) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

// Descriptor is the routing data for one event type.
type Descriptor struct {
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	Topic         string

	decode func(json.RawMessage, uuid.UUID) (any, error)
}

// Resolved is an outbox row that passed schema checks.
type Resolved struct {
	Descriptor Descriptor
	Envelope   outbox.Envelope
	Payload    any
}

type Registry struct {
	entries  map[enums.OutboxEventType]Descriptor
	validate *validator.Validate
}

// New registers every billing event on the billing topic. Consumers filter
// on the event_type attribute.
func New(cfg config.PubSubConfig) (*Registry, error) {
	if cfg.BillingTopic == "" {
		return nil, errors.New("billing topic is required")
	}
	r := &Registry{
		entries:  make(map[enums.OutboxEventType]Descriptor),
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
	topic := cfg.BillingTopic

	register(r, enums.EventSubscriptionStateChanged, enums.AggregateSubscriptionAccount, topic,
		func(p *payloads.SubscriptionStateChangedEvent) uuid.UUID { return p.AccountID })
	register(r, enums.EventPaymentSettled, enums.AggregatePaymentAttempt, topic,
		func(p *payloads.PaymentSettledEvent) uuid.UUID { return p.PaymentAttemptID })
	register(r, enums.EventCashCollected, enums.AggregatePaymentAttempt, topic,
		func(p *payloads.CashCollectedEvent) uuid.UUID { return p.PaymentAttemptID })
	register(r, enums.EventPaymentReviewRequired, enums.AggregateWebhookEvent, topic,
		func(p *payloads.PaymentReviewRequiredEvent) uuid.UUID { return p.WebhookEventID })
	return r, nil
}

// register binds T as the payload of eventType. aggregateOf names the field
// that must equal the row's aggregate id.
func register[T any](r *Registry, eventType enums.OutboxEventType, aggregate enums.OutboxAggregateType, topic string, aggregateOf func(*T) uuid.UUID) {
	r.entries[eventType] = Descriptor{
		EventType:     eventType,
		AggregateType: aggregate,
		Topic:         topic,
		decode: func(data json.RawMessage, aggregateID uuid.UUID) (any, error) {
			payload := new(T)
			if err := json.Unmarshal(data, payload); err != nil {
				return nil, fmt.Errorf("decode %s payload: %w", eventType, err)
			}
			if err := r.validate.Struct(payload); err != nil {
				return nil, fmt.Errorf("invalid %s payload: %w", eventType, err)
			}
			if got := aggregateOf(payload); got != aggregateID {
				return nil, fmt.Errorf("%s payload references %s, row aggregate is %s", eventType, got, aggregateID)
			}
			return payload, nil
		},
	}
}

// Topics lists each configured topic once.
func (r *Registry) Topics() []string {
	seen := make(map[string]struct{}, len(r.entries))
	var topics []string
	for _, desc := range r.entries {
		if _, ok := seen[desc.Topic]; ok {
			continue
		}
		seen[desc.Topic] = struct{}{}
		topics = append(topics, desc.Topic)
	}
	return topics
}

// Resolve decodes and checks a row. Every error it returns is permanent.
func (r *Registry) Resolve(event models.OutboxEvent) (*Resolved, error) {
	desc, ok := r.entries[event.EventType]
	switch {
	case !ok:
		return nil, Permanent(fmt.Errorf("unknown event type %q", event.EventType))
	case desc.AggregateType != event.AggregateType:
		return nil, Permanent(fmt.Errorf("event %s expects aggregate %s, got %s", event.EventType, desc.AggregateType, event.AggregateType))
	case event.AggregateID == uuid.Nil:
		return nil, Permanent(fmt.Errorf("event %s has no aggregate id", event.ID))
	}

	envelope, err := outbox.DecodeEnvelope(event.Payload)
	if err != nil {
		return nil, Permanent(err)
	}
	payload, err := desc.decode(envelope.Data, event.AggregateID)
	if err != nil {
		return nil, Permanent(err)
	}
	return &Resolved{Descriptor: desc, Envelope: envelope, Payload: payload}, nil
}

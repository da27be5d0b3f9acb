package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// GatewayMetrics counts outbound payment provider calls.
type GatewayMetrics struct {
	calls *prometheus.CounterVec
}

// NewGatewayMetrics registers the gateway call counter on the provided registerer.
func NewGatewayMetrics(reg prometheus.Registerer) *GatewayMetrics {
	if reg == nil {
		return &GatewayMetrics{}
	}
	calls := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tutorbill_gateway_calls_total",
		Help: "Payment provider calls by gateway, operation and result.",
	}, []string{"gateway", "op", "result"})
	reg.MustRegister(calls)
	return &GatewayMetrics{calls: calls}
}

// IncCall records one provider call.
func (g *GatewayMetrics) IncCall(gateway, op, result string) {
	if g == nil || g.calls == nil {
		return
	}
	g.calls.WithLabelValues(normalizeLabel(gateway), normalizeLabel(op), normalizeLabel(result)).Inc()
}

// ReconcilerMetrics counts gateway events by how reconciliation resolved them.
type ReconcilerMetrics struct {
	events *prometheus.CounterVec
}

// NewReconcilerMetrics registers the reconciler event counter on the provided registerer.
func NewReconcilerMetrics(reg prometheus.Registerer) *ReconcilerMetrics {
	if reg == nil {
		return &ReconcilerMetrics{}
	}
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tutorbill_reconciler_events_total",
		Help: "Gateway events applied by the reconciler, by gateway and result.",
	}, []string{"gateway", "result"})
	reg.MustRegister(events)
	return &ReconcilerMetrics{events: events}
}

// IncEvent records the result of applying one gateway event.
func (r *ReconcilerMetrics) IncEvent(gateway, result string) {
	if r == nil || r.events == nil {
		return
	}
	r.events.WithLabelValues(normalizeLabel(gateway), normalizeLabel(result)).Inc()
}

// OutboxMetrics counts outbox rows handled by the publisher.
type OutboxMetrics struct {
	published *prometheus.CounterVec
}

// NewOutboxMetrics registers the outbox publish counter on the provided registerer.
func NewOutboxMetrics(reg prometheus.Registerer) *OutboxMetrics {
	if reg == nil {
		return &OutboxMetrics{}
	}
	published := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tutorbill_outbox_events_total",
		Help: "Outbox rows handled by the publisher, by event type and result.",
	}, []string{"event_type", "result"})
	reg.MustRegister(published)
	return &OutboxMetrics{published: published}
}

// IncEvent records one outbox row outcome (published, retry, dead_letter).
func (o *OutboxMetrics) IncEvent(eventType, result string) {
	if o == nil || o.published == nil {
		return
	}
	o.published.WithLabelValues(normalizeLabel(eventType), normalizeLabel(result)).Inc()
}

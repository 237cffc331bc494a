package events

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
)

// CountingPublisher counts publishes by event type and result before handing
// the event to the wrapped Publisher.
type CountingPublisher struct {
	next      Publisher
	published *prometheus.CounterVec
}

func NewCountingPublisher(next Publisher, reg prometheus.Registerer) *CountingPublisher {
	published := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "expensedesk",
		Name:      "events_published_total",
		Help:      "Expense events handed to the broker, by type and result.",
	}, []string{"type", "result"})
	reg.MustRegister(published)
	return &CountingPublisher{next: next, published: published}
}

func (p *CountingPublisher) Publish(ctx context.Context, event Event) error {
	err := p.next.Publish(ctx, event)
	result := "ok"
	if err != nil {
		result = "error"
	}
	p.published.WithLabelValues(event.Type, result).Inc()
	return err
}

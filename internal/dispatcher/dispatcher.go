// Package dispatcher turns consumed order events into customer notifications
// and realtime updates.
package dispatcher

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/darkevergard3n/grafana-lab-webapp/internal/broker"
	"github.com/darkevergard3n/grafana-lab-webapp/internal/events"
	"github.com/darkevergard3n/grafana-lab-webapp/internal/fanout"
	"github.com/darkevergard3n/grafana-lab-webapp/internal/metrics"
	"github.com/darkevergard3n/grafana-lab-webapp/internal/notification"
	"github.com/darkevergard3n/grafana-lab-webapp/internal/recipient"
)

// EventOrder is the fanout event carrying the raw order event.
const EventOrder = "order_event"

// Outcome of handling one delivery.
const (
	OutcomeAcked     = "acked"
	OutcomeMalformed = "malformed"
	OutcomeFailed    = "failed"
)

// Dispatcher consumes deliveries one at a time. Each event with a template
// becomes one email notification; every well-formed event is broadcast as
// is. Malformed messages and messages whose notification could not be
// stored are rejected to the dead-letter sink.
type Dispatcher struct {
	sender   *Sender
	resolver recipient.Resolver
	fanout   Broadcaster
	log      zerolog.Logger
	metrics  *metrics.Metrics
}

// New creates a Dispatcher.
func New(sender *Sender, resolver recipient.Resolver, fan Broadcaster, log zerolog.Logger, m *metrics.Metrics) *Dispatcher {
	if m == nil {
		m = metrics.Noop()
	}
	return &Dispatcher{
		sender:   sender,
		resolver: resolver,
		fanout:   fan,
		log:      log,
		metrics:  m,
	}
}

// Run handles deliveries until the channel is closed or ctx is done. A
// message already being handled is finished before Run returns.
func (d *Dispatcher) Run(ctx context.Context, deliveries <-chan broker.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-deliveries:
			if !ok {
				return
			}
			d.Handle(context.WithoutCancel(ctx), msg)
		}
	}
}

// Handle processes a single delivery and settles it. It returns the outcome.
func (d *Dispatcher) Handle(ctx context.Context, msg broker.Delivery) string {
	start := time.Now()
	defer func() { d.metrics.DispatchDuration.Observe(time.Since(start).Seconds()) }()

	e, err := events.Decode(msg.Body)
	if err != nil {
		d.log.Error().Err(err).
			Str("routing_key", msg.RoutingKey).
			Str("message_id", msg.MessageID).
			Msg("dead-lettering malformed message")
		d.settle(msg, OutcomeMalformed)
		return OutcomeMalformed
	}

	log := d.log.With().Str("event", string(e.Type)).Str("order_id", e.OrderID).Logger()

	var sendErr error
	if tmpl, ok := TemplateFor(e.Type); ok {
		sendErr = d.notify(ctx, e, tmpl)
	} else {
		log.Debug().Msg("no template for event, broadcast only")
	}

	d.fanout.Broadcast(fanout.Message{Event: EventOrder, Data: e})

	if sendErr != nil {
		log.Error().Err(sendErr).Msg("dead-lettering event after dispatch failure")
		d.settle(msg, OutcomeFailed)
		return OutcomeFailed
	}
	d.settle(msg, OutcomeAcked)
	return OutcomeAcked
}

func (d *Dispatcher) notify(ctx context.Context, e events.OrderEvent, tmpl Template) error {
	addr, err := d.resolver.Resolve(ctx, e.OrderID)
	if err != nil && !errors.Is(err, recipient.ErrNotFound) {
		d.log.Warn().Err(err).Str("order_id", e.OrderID).Msg("recipient lookup failed")
	}

	subject, body := tmpl.Render(e.OrderID)
	n := notification.New(notification.TypeEmail, addr, subject, body, e.OrderID)

	sent, err := d.sender.Send(ctx, n)
	if err != nil {
		return err
	}
	d.log.Info().
		Str("notification_id", sent.ID).
		Str("status", string(sent.Status)).
		Str("subject", sent.Subject).
		Msg("notification processed")
	return nil
}

func (d *Dispatcher) settle(msg broker.Delivery, outcome string) {
	var err error
	if outcome == OutcomeAcked {
		err = msg.Ack()
	} else {
		err = msg.Nack(false)
	}
	if err != nil {
		d.log.Warn().Err(err).Str("message_id", msg.MessageID).Str("outcome", outcome).Msg("failed to settle delivery")
	}
	d.metrics.MessagesConsumed.WithLabelValues(outcome).Inc()
}

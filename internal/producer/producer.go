// Package producer announces order lifecycle transitions to the broker.
package producer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/darkevergard3n/grafana-lab-webapp/internal/broker"
	"github.com/darkevergard3n/grafana-lab-webapp/internal/events"
	"github.com/darkevergard3n/grafana-lab-webapp/internal/metrics"
)

// Publisher sends an encoded event under a routing key. The supervisor
// satisfies it.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, payload []byte) error
}

// Config holds producer settings.
type Config struct {
	QueueSize      int
	PublishTimeout time.Duration
}

type outgoing struct {
	event   events.OrderEvent
	payload []byte
}

// Producer publishes order events fire-and-forget. Publish encodes the event
// and queues it; a single worker hands queued events to the broker in order.
// Failures are logged and counted, never returned to the caller.
type Producer struct {
	pub     Publisher
	cfg     Config
	log     zerolog.Logger
	metrics *metrics.Metrics

	queue chan outgoing
	mu    sync.RWMutex
	done  bool
	wg    sync.WaitGroup
}

// New starts a producer publishing through pub.
func New(pub Publisher, cfg Config, log zerolog.Logger, m *metrics.Metrics) *Producer {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 2 * time.Second
	}
	if m == nil {
		m = metrics.Noop()
	}
	p := &Producer{
		pub:     pub,
		cfg:     cfg,
		log:     log,
		metrics: m,
		queue:   make(chan outgoing, cfg.QueueSize),
	}
	p.wg.Add(1)
	go p.run()
	return p
}

// Publish announces that order orderID went through eventType. It never
// blocks on the broker.
func (p *Producer) Publish(eventType events.EventType, orderID string) {
	e := events.New(eventType, orderID)
	payload, err := events.Encode(e)
	if err != nil {
		p.fail(e, "encode", err)
		return
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.done {
		p.fail(e, "closed", broker.ErrClosed)
		return
	}
	select {
	case p.queue <- outgoing{event: e, payload: payload}:
	default:
		p.fail(e, "queue_full", errors.New("publish queue full"))
	}
}

// OrderCreated publishes order.created.
func (p *Producer) OrderCreated(orderID string) { p.Publish(events.OrderCreated, orderID) }

// OrderUpdated publishes order.updated.
func (p *Producer) OrderUpdated(orderID string) { p.Publish(events.OrderUpdated, orderID) }

// StatusChanged publishes order.status.<status>.
func (p *Producer) StatusChanged(orderID, status string) {
	p.Publish(events.StatusEvent(status), orderID)
}

// OrderCancelled publishes order.cancelled.
func (p *Producer) OrderCancelled(orderID string) { p.Publish(events.OrderCancelled, orderID) }

func (p *Producer) run() {
	defer p.wg.Done()
	for out := range p.queue {
		p.send(out)
	}
}

func (p *Producer) send(out outgoing) {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.PublishTimeout)
	defer cancel()

	key := out.event.Type.RoutingKey()
	if err := p.pub.Publish(ctx, key, out.payload); err != nil {
		reason := "publish"
		if errors.Is(err, broker.ErrNotConnected) {
			reason = "not_connected"
		}
		p.fail(out.event, reason, err)
		return
	}
	p.metrics.EventsPublished.WithLabelValues(key).Inc()
	p.log.Debug().Str("event", key).Str("order_id", out.event.OrderID).Msg("order event published")
}

func (p *Producer) fail(e events.OrderEvent, reason string, err error) {
	p.metrics.PublishFailures.WithLabelValues(reason).Inc()
	p.log.Error().Err(err).
		Str("event", string(e.Type)).
		Str("order_id", e.OrderID).
		Str("reason", reason).
		Msg("failed to publish order event")
}

// Close stops accepting events, publishes what is already queued and waits
// for the worker to finish.
func (p *Producer) Close() {
	p.mu.Lock()
	if p.done {
		p.mu.Unlock()
		return
	}
	p.done = true
	close(p.queue)
	p.mu.Unlock()
	p.wg.Wait()
}

package broker

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

const (
	amqpDialTimeout = 10 * time.Second
	amqpHeartbeat   = 10 * time.Second
	consumerTag     = "notification-service"
)

// AMQPClient implements Client on RabbitMQ via amqp091-go. Publishing and
// consuming use separate channels on the same connection.
type AMQPClient struct {
	url  string
	topo Topology
	log  zerolog.Logger

	mu           sync.Mutex
	conn         *amqp.Connection
	pubCh        *amqp.Channel
	conCh        *amqp.Channel
	disconnected chan error
	closed       bool
}

// NewAMQPClient creates an unconnected client. Call Connect before use.
func NewAMQPClient(url string, topo Topology, log zerolog.Logger) *AMQPClient {
	return &AMQPClient{url: url, topo: topo, log: log}
}

// Connect dials RabbitMQ, opens the channels and declares the topology.
func (c *AMQPClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	c.releaseLocked() //nolint:errcheck // stale handles from a dead connection

	conn, err := amqp.DialConfig(c.url, amqp.Config{
		Heartbeat: amqpHeartbeat,
		Locale:    "en_US",
		Dial: func(network, addr string) (net.Conn, error) {
			d := net.Dialer{Timeout: amqpDialTimeout}
			nc, err := d.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			// Bound the AMQP handshake; amqp091 clears the deadline once the
			// connection is open.
			if err := nc.SetDeadline(time.Now().Add(amqpDialTimeout)); err != nil {
				nc.Close()
				return nil, err
			}
			return nc, nil
		},
	})
	if err != nil {
		return fmt.Errorf("dial rabbitmq: %w", err)
	}

	pubCh, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open publish channel: %w", err)
	}
	conCh, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open consume channel: %w", err)
	}

	if err := declareTopology(conCh, c.topo); err != nil {
		conn.Close()
		return err
	}
	if err := conCh.Qos(1, 0, false); err != nil {
		conn.Close()
		return fmt.Errorf("set prefetch: %w", err)
	}

	disconnected := make(chan error, 1)
	go watchAMQP(disconnected,
		conn.NotifyClose(make(chan *amqp.Error, 1)),
		pubCh.NotifyClose(make(chan *amqp.Error, 1)),
		conCh.NotifyClose(make(chan *amqp.Error, 1)),
	)

	c.conn, c.pubCh, c.conCh = conn, pubCh, conCh
	c.disconnected = disconnected

	c.log.Info().
		Str("exchange", c.topo.Exchange).
		Str("queue", c.topo.Queue).
		Str("binding", c.topo.Binding).
		Msg("connected to rabbitmq")
	return nil
}

func declareTopology(ch *amqp.Channel, topo Topology) error {
	if err := ch.ExchangeDeclare(topo.Exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", topo.Exchange, err)
	}

	dlx := topo.DeadLetterExchange()
	if err := ch.ExchangeDeclare(dlx, amqp.ExchangeFanout, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare dead-letter exchange %s: %w", dlx, err)
	}
	if _, err := ch.QueueDeclare(topo.DeadLetterQueue(), true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare dead-letter queue: %w", err)
	}
	if err := ch.QueueBind(topo.DeadLetterQueue(), "", dlx, false, nil); err != nil {
		return fmt.Errorf("bind dead-letter queue: %w", err)
	}

	args := amqp.Table{"x-dead-letter-exchange": dlx}
	if _, err := ch.QueueDeclare(topo.Queue, true, false, false, false, args); err != nil {
		return fmt.Errorf("declare queue %s: %w", topo.Queue, err)
	}
	if err := ch.QueueBind(topo.Queue, topo.Binding, topo.Exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue %s to %s: %w", topo.Queue, topo.Binding, err)
	}
	return nil
}

// watchAMQP forwards the first close notification from the connection or
// either channel, then closes out.
func watchAMQP(out chan<- error, closers ...chan *amqp.Error) {
	defer close(out)

	cases := make(chan *amqp.Error, len(closers))
	for _, ch := range closers {
		go func(ch chan *amqp.Error) {
			err, ok := <-ch
			if !ok {
				err = nil
			}
			cases <- err
		}(ch)
	}

	if amqpErr := <-cases; amqpErr != nil {
		out <- fmt.Errorf("%w: %s", ErrConnectionLost, amqpErr.Error())
		return
	}
	out <- ErrConnectionLost
}

// Publish sends payload to the exchange as a persistent JSON message. It
// does not wait for a publisher confirm.
func (c *AMQPClient) Publish(ctx context.Context, routingKey string, payload []byte) error {
	c.mu.Lock()
	ch, closed := c.pubCh, c.closed
	c.mu.Unlock()

	if closed {
		return ErrClosed
	}
	if ch == nil || ch.IsClosed() {
		return ErrNotConnected
	}

	err := ch.PublishWithContext(ctx, c.topo.Exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now().UTC(),
		Body:         payload,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", routingKey, err)
	}
	return nil
}

// Consume registers a manual-ack consumer on queue.
func (c *AMQPClient) Consume(ctx context.Context, queue string) (<-chan Delivery, error) {
	c.mu.Lock()
	ch := c.conCh
	c.mu.Unlock()

	if ch == nil || ch.IsClosed() {
		return nil, ErrNotConnected
	}

	msgs, err := ch.Consume(queue, consumerTag, false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consume %s: %w", queue, err)
	}

	out := make(chan Delivery)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-msgs:
				if !ok {
					return
				}
				d := NewDelivery(m.RoutingKey, m.MessageId, m.Body, amqpAcker{m})
				d.Redelivered = m.Redelivered
				select {
				case out <- d:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

type amqpAcker struct {
	d amqp.Delivery
}

func (a amqpAcker) Ack() error              { return a.d.Ack(false) }
func (a amqpAcker) Nack(requeue bool) error { return a.d.Nack(false, requeue) }

// Disconnected returns the close signal of the current connection.
func (c *AMQPClient) Disconnected() <-chan error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disconnected == nil {
		return closedSignal()
	}
	return c.disconnected
}

// IsConnected reports whether the underlying connection is open.
func (c *AMQPClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil && !c.conn.IsClosed()
}

// Close closes the channels and the connection.
func (c *AMQPClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	return c.releaseLocked()
}

func (c *AMQPClient) releaseLocked() error {
	var result *multierror.Error
	if c.pubCh != nil && !c.pubCh.IsClosed() {
		if err := c.pubCh.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close publish channel: %w", err))
		}
	}
	if c.conCh != nil && !c.conCh.IsClosed() {
		if err := c.conCh.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close consume channel: %w", err))
		}
	}
	if c.conn != nil && !c.conn.IsClosed() {
		if err := c.conn.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close connection: %w", err))
		}
	}
	c.conn, c.pubCh, c.conCh = nil, nil, nil
	return result.ErrorOrNil()
}

// closedSignal returns a channel that reports an already-lost connection.
func closedSignal() <-chan error {
	ch := make(chan error, 1)
	ch <- ErrNotConnected
	close(ch)
	return ch
}

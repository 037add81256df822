package broker

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrNotConnected is returned when an operation needs a live connection
	// and there is none.
	ErrNotConnected = errors.New("broker: not connected")
	// ErrClosed is returned after Close has been called.
	ErrClosed = errors.New("broker: closed")
	// ErrConnectionLost is delivered on Disconnected when the connection went
	// away without a server-provided reason.
	ErrConnectionLost = errors.New("broker: connection lost")
)

// Client is the connection to the message broker. It owns one connection at
// a time, declares the topology on Connect and never retries on its own:
// every connection loss is reported exactly once on Disconnected and it is up
// to the caller to Connect again.
type Client interface {
	// Connect dials the broker and declares the exchange, queue and bindings.
	// Calling Connect again replaces the previous connection.
	Connect(ctx context.Context) error

	// Publish sends a persistent message to the exchange under routingKey.
	Publish(ctx context.Context, routingKey string, payload []byte) error

	// Consume starts delivering messages from queue. The returned channel is
	// closed when the connection drops or ctx is done. Messages must be
	// acknowledged; at most one is outstanding at a time.
	Consume(ctx context.Context, queue string) (<-chan Delivery, error)

	// Disconnected returns a channel that receives a single error and is then
	// closed when the current connection is lost.
	Disconnected() <-chan error

	// Close releases the connection. After Close, Connect returns ErrClosed.
	Close() error
}

// Acknowledger settles a delivery with the broker.
type Acknowledger interface {
	Ack() error
	Nack(requeue bool) error
}

// Delivery is one message received from a queue.
type Delivery struct {
	RoutingKey  string
	MessageID   string
	Body        []byte
	Redelivered bool

	acker Acknowledger
}

// NewDelivery wraps a message and the handle used to settle it.
func NewDelivery(routingKey, messageID string, body []byte, acker Acknowledger) Delivery {
	return Delivery{RoutingKey: routingKey, MessageID: messageID, Body: body, acker: acker}
}

// Ack confirms the message was processed.
func (d Delivery) Ack() error {
	if d.acker == nil {
		return nil
	}
	return d.acker.Ack()
}

// Nack rejects the message. With requeue false the broker routes it to the
// dead-letter sink and it is never redelivered to this queue.
func (d Delivery) Nack(requeue bool) error {
	if d.acker == nil {
		return nil
	}
	return d.acker.Nack(requeue)
}

// Topology names the exchange, queue and binding declared on Connect.
type Topology struct {
	Exchange string
	Queue    string
	Binding  string
}

// DefaultTopology is the order events route consumed by the notification
// service.
var DefaultTopology = Topology{
	Exchange: "orders",
	Queue:    "notification-service.orders",
	Binding:  "order.#",
}

// DeadLetterExchange is where rejected messages are routed.
func (t Topology) DeadLetterExchange() string { return t.Exchange + ".dlx" }

// DeadLetterQueue collects rejected messages for inspection.
func (t Topology) DeadLetterQueue() string { return t.Queue + ".dead" }

// MatchTopic reports whether routingKey matches a topic binding pattern.
// Words are dot separated; "*" matches exactly one word and "#" matches zero
// or more words.
func MatchTopic(pattern, routingKey string) bool {
	return matchWords(strings.Split(pattern, "."), strings.Split(routingKey, "."))
}

func matchWords(pattern, key []string) bool {
	for len(pattern) > 0 {
		switch pattern[0] {
		case "#":
			if len(pattern) == 1 {
				return true
			}
			for i := 0; i <= len(key); i++ {
				if matchWords(pattern[1:], key[i:]) {
					return true
				}
			}
			return false
		case "*":
			if len(key) == 0 {
				return false
			}
		default:
			if len(key) == 0 || key[0] != pattern[0] {
				return false
			}
		}
		pattern, key = pattern[1:], key[1:]
	}
	return len(key) == 0
}

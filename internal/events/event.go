package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// EventType is the order lifecycle transition carried by an OrderEvent. Its
// value doubles as the routing key the event is published under.
type EventType string

const (
	OrderCreated          EventType = "order.created"
	OrderUpdated          EventType = "order.updated"
	OrderStatusProcessing EventType = "order.status.processing"
	OrderStatusShipped    EventType = "order.status.shipped"
	OrderStatusDelivered  EventType = "order.status.delivered"
	OrderCancelled        EventType = "order.cancelled"
)

// statusPrefix is the routing key prefix for order status transitions.
const statusPrefix = "order.status."

// AllTypes lists the event types that have a notification template.
var AllTypes = []EventType{
	OrderCreated,
	OrderUpdated,
	OrderStatusProcessing,
	OrderStatusShipped,
	OrderStatusDelivered,
	OrderCancelled,
}

// StatusEvent returns the event type for an order status transition, e.g.
// "shipped" -> "order.status.shipped".
func StatusEvent(status string) EventType {
	return EventType(statusPrefix + strings.ToLower(strings.TrimSpace(status)))
}

// RoutingKey returns the topic routing key the event is published under.
func (t EventType) RoutingKey() string { return string(t) }

// Known reports whether t is one of the templated lifecycle events.
func (t EventType) Known() bool {
	for _, k := range AllTypes {
		if k == t {
			return true
		}
	}
	return false
}

// Status returns the status suffix of an order.status.* event and whether t
// is a status event at all.
func (t EventType) Status() (string, bool) {
	s := string(t)
	if !strings.HasPrefix(s, statusPrefix) || len(s) == len(statusPrefix) {
		return "", false
	}
	return s[len(statusPrefix):], true
}

// ErrMalformed is returned by Decode for payloads that cannot be turned into
// an OrderEvent. It is a permanent failure.
var ErrMalformed = errors.New("malformed order event")

// OrderEvent announces a committed order state transition. It is immutable
// once published.
type OrderEvent struct {
	Type      EventType `json:"event"`
	OrderID   string    `json:"order_id"`
	Timestamp time.Time `json:"timestamp"`
}

// New builds an OrderEvent stamped with the current UTC time truncated to
// seconds, matching the RFC3339 wire precision.
func New(eventType EventType, orderID string) OrderEvent {
	return OrderEvent{
		Type:      eventType,
		OrderID:   orderID,
		Timestamp: time.Now().UTC().Truncate(time.Second),
	}
}

type wireEvent struct {
	Event     string `json:"event"`
	OrderID   string `json:"order_id"`
	Timestamp string `json:"timestamp"`
}

// Encode serializes the event into the broker wire envelope.
func Encode(e OrderEvent) ([]byte, error) {
	if e.Type == "" {
		return nil, fmt.Errorf("encode: %w: empty event type", ErrMalformed)
	}
	return json.Marshal(wireEvent{
		Event:     string(e.Type),
		OrderID:   e.OrderID,
		Timestamp: e.Timestamp.UTC().Format(time.RFC3339),
	})
}

// Decode parses a broker payload. Unknown event types decode successfully;
// a missing event name or order id, or an unparsable timestamp, does not.
func Decode(payload []byte) (OrderEvent, error) {
	var w wireEvent
	if err := json.Unmarshal(payload, &w); err != nil {
		return OrderEvent{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if w.Event == "" {
		return OrderEvent{}, fmt.Errorf("%w: missing event", ErrMalformed)
	}
	if w.OrderID == "" {
		return OrderEvent{}, fmt.Errorf("%w: missing order_id", ErrMalformed)
	}

	var ts time.Time
	if w.Timestamp != "" {
		parsed, err := time.Parse(time.RFC3339, w.Timestamp)
		if err != nil {
			return OrderEvent{}, fmt.Errorf("%w: timestamp: %v", ErrMalformed, err)
		}
		ts = parsed.UTC()
	}

	return OrderEvent{
		Type:      EventType(w.Event),
		OrderID:   w.OrderID,
		Timestamp: ts,
	}, nil
}

// MarshalJSON renders the event in wire form so broadcasts to realtime
// subscribers match what was published.
func (e OrderEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireEvent{
		Event:     string(e.Type),
		OrderID:   e.OrderID,
		Timestamp: e.Timestamp.UTC().Format(time.RFC3339),
	})
}

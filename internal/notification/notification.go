// Package notification holds the notifications produced from order events
// and the bounded history they are kept in.
package notification

import (
	"time"

	"github.com/google/uuid"
)

// Type is the delivery channel of a notification.
type Type string

const (
	TypeEmail Type = "email"
	TypeSMS   Type = "sms"
)

// Status is the outcome of a send attempt.
type Status string

const (
	StatusSent   Status = "sent"
	StatusFailed Status = "failed"
)

// Notification is a message sent to a customer about an order. It is not
// modified once appended to a Store.
type Notification struct {
	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	Recipient string    `json:"recipient"`
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
	OrderID   *string   `json:"order_id"`
	Status    Status    `json:"status"`
	SentAt    time.Time `json:"sent_at"`
	Error     string    `json:"error,omitempty"`
}

// New creates an unsent notification with a fresh ID. orderID may be empty
// for notifications not tied to an order.
func New(typ Type, recipient, subject, body, orderID string) Notification {
	n := Notification{
		ID:        uuid.NewString(),
		Type:      typ,
		Recipient: recipient,
		Subject:   subject,
		Body:      body,
	}
	if orderID != "" {
		n.OrderID = &orderID
	}
	return n
}

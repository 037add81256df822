package dispatcher

import (
	"strings"

	"github.com/darkevergard3n/grafana-lab-webapp/internal/events"
)

// Template is the subject and body of a customer notification. Body may
// contain {id}, replaced by the order ID.
type Template struct {
	Subject string
	Body    string
}

// Render fills in the order ID.
func (t Template) Render(orderID string) (subject, body string) {
	return t.Subject, strings.ReplaceAll(t.Body, "{id}", orderID)
}

// TemplateFor returns the notification template for an event type. Event
// types without a template, including unknown ones, report false.
func TemplateFor(t events.EventType) (Template, bool) {
	switch t {
	case events.OrderCreated:
		return Template{"Order Confirmation", "Your order {id} has been received and is being processed."}, true
	case events.OrderUpdated:
		return Template{"Order Updated", "Your order {id} has been updated."}, true
	case events.OrderStatusProcessing:
		return Template{"Order Processing", "Your order {id} is now being processed."}, true
	case events.OrderStatusShipped:
		return Template{"Order Shipped", "Great news! Your order {id} has been shipped."}, true
	case events.OrderStatusDelivered:
		return Template{"Order Delivered", "Your order {id} has been delivered. Enjoy!"}, true
	case events.OrderCancelled:
		return Template{"Order Cancelled", "Your order {id} has been cancelled."}, true
	default:
		return Template{}, false
	}
}

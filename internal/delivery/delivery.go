// Package delivery sends notifications to customers over a concrete channel.
package delivery

import (
	"context"
	"errors"

	"github.com/darkevergard3n/grafana-lab-webapp/internal/notification"
)

// ErrNoRecipient is returned when a notification has nowhere to go.
var ErrNoRecipient = errors.New("delivery: no recipient")

// Transport delivers a single notification. Implementations must honour ctx
// cancellation.
type Transport interface {
	Send(ctx context.Context, n notification.Notification) error
	Name() string
}

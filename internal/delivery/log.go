package delivery

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/darkevergard3n/grafana-lab-webapp/internal/notification"
)

// Log records the notification instead of sending it. Used for SMS, which
// has no provider wired.
type Log struct {
	log zerolog.Logger
}

// NewLog creates a logging transport.
func NewLog(log zerolog.Logger) *Log {
	return &Log{log: log}
}

func (l *Log) Name() string { return "log" }

func (l *Log) Send(ctx context.Context, n notification.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if n.Recipient == "" {
		return ErrNoRecipient
	}
	l.log.Info().
		Str("notification_id", n.ID).
		Str("type", string(n.Type)).
		Str("recipient", n.Recipient).
		Str("subject", n.Subject).
		Msg("notification sent")
	return nil
}

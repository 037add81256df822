package dispatcher

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/darkevergard3n/grafana-lab-webapp/internal/delivery"
	"github.com/darkevergard3n/grafana-lab-webapp/internal/fanout"
	"github.com/darkevergard3n/grafana-lab-webapp/internal/metrics"
	"github.com/darkevergard3n/grafana-lab-webapp/internal/notification"
)

// EventNotificationSent is the fanout event for a stored notification.
const EventNotificationSent = "notification_sent"

// DefaultSendTimeout bounds a single transport send.
const DefaultSendTimeout = 500 * time.Millisecond

// Appender stores notifications.
type Appender interface {
	Add(ctx context.Context, n notification.Notification) error
}

// Broadcaster pushes a frame to realtime subscribers.
type Broadcaster interface {
	Broadcast(msg fanout.Message) int
}

// Sender runs the send pipeline: deliver, record the outcome, store and
// broadcast. It does not retry.
type Sender struct {
	transports map[notification.Type]delivery.Transport
	store      Appender
	fanout     Broadcaster
	timeout    time.Duration
	log        zerolog.Logger
	metrics    *metrics.Metrics
}

// NewSender creates a Sender. Register a transport for each notification
// type before use.
func NewSender(store Appender, fan Broadcaster, timeout time.Duration, log zerolog.Logger, m *metrics.Metrics) *Sender {
	if timeout <= 0 {
		timeout = DefaultSendTimeout
	}
	if m == nil {
		m = metrics.Noop()
	}
	return &Sender{
		transports: make(map[notification.Type]delivery.Transport),
		store:      store,
		fanout:     fan,
		timeout:    timeout,
		log:        log,
		metrics:    m,
	}
}

// Register sets the transport used for notifications of type typ.
func (s *Sender) Register(typ notification.Type, t delivery.Transport) {
	s.transports[typ] = t
}

// Send delivers n and returns it with its status, sent time and error set.
// A failed delivery is recorded, not returned; the error result is only set
// when the notification could not be stored.
func (s *Sender) Send(ctx context.Context, n notification.Notification) (notification.Notification, error) {
	err := s.deliver(ctx, n)

	n.SentAt = time.Now().UTC()
	if err != nil {
		n.Status = notification.StatusFailed
		n.Error = err.Error()
		s.log.Warn().Err(err).
			Str("notification_id", n.ID).
			Str("recipient", n.Recipient).
			Msg("notification delivery failed")
	} else {
		n.Status = notification.StatusSent
	}
	s.metrics.NotificationsSent.WithLabelValues(string(n.Status), string(n.Type)).Inc()

	if err := s.store.Add(ctx, n); err != nil {
		return n, fmt.Errorf("store notification %s: %w", n.ID, err)
	}
	s.fanout.Broadcast(fanout.Message{Event: EventNotificationSent, Data: n})
	return n, nil
}

func (s *Sender) deliver(ctx context.Context, n notification.Notification) error {
	t, ok := s.transports[n.Type]
	if !ok {
		return fmt.Errorf("no transport for %s notifications", n.Type)
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := t.Send(ctx, n); err != nil {
		return fmt.Errorf("%s: %w", t.Name(), err)
	}
	return nil
}

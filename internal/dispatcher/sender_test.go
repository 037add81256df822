package dispatcher

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/darkevergard3n/grafana-lab-webapp/internal/delivery"
	"github.com/darkevergard3n/grafana-lab-webapp/internal/events"
	"github.com/darkevergard3n/grafana-lab-webapp/internal/metrics"
	"github.com/darkevergard3n/grafana-lab-webapp/internal/notification"
)

func TestSender_TimeoutMarksFailed(t *testing.T) {
	store := notification.NewStore(10)
	fan := &recorder{}
	m := metrics.Noop()
	s := NewSender(store, fan, 20*time.Millisecond, zerolog.Nop(), m)
	s.Register(notification.TypeEmail, delivery.NewSimulated(time.Hour, 0))

	start := time.Now()
	n, err := s.Send(context.Background(), notification.New(notification.TypeEmail, "a@example.com", "s", "b", "ORD-1"))
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)

	assert.Equal(t, notification.StatusFailed, n.Status)
	assert.Contains(t, n.Error, "deadline exceeded")
	assert.Equal(t, 1, store.Len())
	assert.Equal(t, []string{EventNotificationSent}, fan.events())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NotificationsSent.WithLabelValues("failed", "email")))
}

func TestSender_NoTransport(t *testing.T) {
	store := notification.NewStore(10)
	s := NewSender(store, &recorder{}, 0, zerolog.Nop(), nil)

	n, err := s.Send(context.Background(), notification.New(notification.TypeSMS, "+15550100", "s", "b", ""))
	require.NoError(t, err)
	assert.Equal(t, notification.StatusFailed, n.Status)
	assert.Contains(t, n.Error, "no transport")
}

func TestSender_SMSThroughLogTransport(t *testing.T) {
	store := notification.NewStore(10)
	s := NewSender(store, &recorder{}, 0, zerolog.Nop(), nil)
	s.Register(notification.TypeSMS, delivery.NewLog(zerolog.Nop()))

	n, err := s.Send(context.Background(), notification.New(notification.TypeSMS, "+15550100", "s", "b", ""))
	require.NoError(t, err)
	assert.Equal(t, notification.StatusSent, n.Status)
	assert.Empty(t, n.Error)
}

func TestTemplateFor(t *testing.T) {
	for _, et := range events.AllTypes {
		tmpl, ok := TemplateFor(et)
		require.True(t, ok, et)
		_, body := tmpl.Render("ORD-42")
		assert.Contains(t, body, "ORD-42", et)
		assert.NotContains(t, body, "{id}", et)
	}

	_, ok := TemplateFor(events.StatusEvent("pending"))
	assert.False(t, ok)
	_, ok = TemplateFor("order.refunded")
	assert.False(t, ok)

	subject, body := mustTemplate(t, events.OrderCreated).Render("ORD-9")
	assert.Equal(t, "Order Confirmation", subject)
	assert.Equal(t, "Your order ORD-9 has been received and is being processed.", body)
}

func mustTemplate(t *testing.T, et events.EventType) Template {
	t.Helper()
	tmpl, ok := TemplateFor(et)
	require.True(t, ok)
	return tmpl
}

package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/darkevergard3n/grafana-lab-webapp/internal/events"
	"github.com/darkevergard3n/grafana-lab-webapp/internal/metrics"
	mw "github.com/darkevergard3n/grafana-lab-webapp/internal/middleware"
	"github.com/darkevergard3n/grafana-lab-webapp/internal/notification"
)

type fakeProducer struct {
	mu   sync.Mutex
	sent []events.OrderEvent
}

func (f *fakeProducer) Publish(t events.EventType, orderID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, events.New(t, orderID))
}

func seededStore(t *testing.T, n int) *notification.Store {
	t.Helper()
	s := notification.NewStore(10)
	for i := 0; i < n; i++ {
		require.NoError(t, s.Add(context.Background(),
			notification.New(notification.TypeEmail, "a@example.com", "Order Updated", "body", "ORD")))
	}
	return s
}

func serve(h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHealth(t *testing.T) {
	r := NewRouter(Deps{Store: seededStore(t, 0), Log: zerolog.Nop()})
	rr := serve(r, http.MethodGet, "/health", "")

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok","service":"notification-service"}`, rr.Body.String())
}

func TestReady(t *testing.T) {
	connected := false
	r := NewRouter(Deps{Store: seededStore(t, 0), Ready: func() bool { return connected }, Log: zerolog.Nop()})

	rr := serve(r, http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.JSONEq(t, `{"status":"not_ready","checks":{"broker":false}}`, rr.Body.String())

	connected = true
	rr = serve(r, http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ready","checks":{"broker":true}}`, rr.Body.String())
}

func TestListNotifications(t *testing.T) {
	r := NewRouter(Deps{Store: seededStore(t, 12), DefaultLimit: 3, Log: zerolog.Nop()})

	var body struct {
		Notifications []notification.Notification `json:"notifications"`
		Count         int                         `json:"count"`
	}

	rr := serve(r, http.MethodGet, "/api/v1/notifications", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, 3, body.Count)

	rr = serve(r, http.MethodGet, "/api/v1/notifications?limit=500", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, 10, body.Count)

	rr = serve(r, http.MethodGet, "/api/v1/notifications?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestListNotifications_EmptyIsArray(t *testing.T) {
	r := NewRouter(Deps{Store: seededStore(t, 0), Log: zerolog.Nop()})
	rr := serve(r, http.MethodGet, "/api/v1/notifications", "")
	assert.JSONEq(t, `{"notifications":[],"count":0}`, rr.Body.String())
}

func TestPublishEvent(t *testing.T) {
	p := &fakeProducer{}
	r := NewRouter(Deps{Store: seededStore(t, 0), Producer: p, Log: zerolog.Nop()})

	rr := serve(r, http.MethodPost, "/api/v1/events", `{"event":"order.status.shipped","order_id":"ORD-1"}`)
	assert.Equal(t, http.StatusAccepted, rr.Code)
	require.Len(t, p.sent, 1)
	assert.Equal(t, events.OrderStatusShipped, p.sent[0].Type)

	rr = serve(r, http.MethodPost, "/api/v1/events", `{"event":"order.created"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = serve(r, http.MethodPost, "/api/v1/events", `nope`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestPublishEvent_NotRoutedWithoutProducer(t *testing.T) {
	r := NewRouter(Deps{Store: seededStore(t, 0), Log: zerolog.Nop()})
	rr := serve(r, http.MethodPost, "/api/v1/events", `{"event":"order.created","order_id":"1"}`)
	assert.NotEqual(t, http.StatusAccepted, rr.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.Reconnects.Inc()

	r := NewRouter(Deps{Store: seededStore(t, 0), Gatherer: reg, Log: zerolog.Nop()})
	rr := serve(r, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "orderevents_broker_reconnect_attempts_total 1")
}

func TestAPIRateLimited(t *testing.T) {
	l := mw.NewRateLimiter(1, 1)
	defer l.Close()
	r := NewRouter(Deps{Store: seededStore(t, 0), Limiter: l, Log: zerolog.Nop()})

	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/api/v1/notifications", "").Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(r, http.MethodGet, "/api/v1/notifications", "").Code)
	// Health checks are not limited.
	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/health", "").Code)
}

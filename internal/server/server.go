// Package server exposes the notification pipeline over HTTP.
package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/darkevergard3n/grafana-lab-webapp/internal/events"
	"github.com/darkevergard3n/grafana-lab-webapp/internal/httputil"
	mw "github.com/darkevergard3n/grafana-lab-webapp/internal/middleware"
	"github.com/darkevergard3n/grafana-lab-webapp/internal/notification"
)

// ServiceName is reported by the health endpoint.
const ServiceName = "notification-service"

// Lister reads recent notifications.
type Lister interface {
	List(limit int) []notification.Notification
	Cap() int
}

// EventPublisher announces order events.
type EventPublisher interface {
	Publish(eventType events.EventType, orderID string)
}

// Deps are the collaborators behind the routes. Producer and Gatherer are
// optional.
type Deps struct {
	Store        Lister
	Ready        func() bool
	WS           http.Handler
	Producer     EventPublisher
	Gatherer     prometheus.Gatherer
	Limiter      *mw.RateLimiter
	DefaultLimit int
	Log          zerolog.Logger
}

type handlers struct {
	deps Deps
}

// NewRouter builds the HTTP routes.
func NewRouter(d Deps) *mux.Router {
	if d.DefaultLimit <= 0 {
		d.DefaultLimit = 50
	}
	h := &handlers{deps: d}

	r := mux.NewRouter()
	r.Use(mw.Logging(d.Log))

	r.HandleFunc("/health", h.health).Methods(http.MethodGet)
	r.HandleFunc("/ready", h.ready).Methods(http.MethodGet)
	if d.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	if d.WS != nil {
		r.Handle("/ws", d.WS)
	}

	api := r.PathPrefix("/api/v1").Subrouter()
	if d.Limiter != nil {
		api.Use(d.Limiter.Middleware())
	}
	api.HandleFunc("/notifications", h.listNotifications).Methods(http.MethodGet)
	if d.Producer != nil {
		api.HandleFunc("/events", h.publishEvent).Methods(http.MethodPost)
	}
	return r
}

// New wraps handler in an http.Server with the service timeouts. Write
// timeout is left unset so websocket connections are not cut off.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MB
	}
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": ServiceName,
	})
}

func (h *handlers) ready(w http.ResponseWriter, r *http.Request) {
	connected := h.deps.Ready != nil && h.deps.Ready()
	status, code := "ready", http.StatusOK
	if !connected {
		status, code = "not_ready", http.StatusServiceUnavailable
	}
	httputil.WriteJSON(w, code, map[string]any{
		"status": status,
		"checks": map[string]bool{"broker": connected},
	})
}

func (h *handlers) listNotifications(w http.ResponseWriter, r *http.Request) {
	limit, ok := httputil.QueryInt(r, "limit", h.deps.DefaultLimit)
	if !ok {
		httputil.WriteError(w, http.StatusBadRequest, "limit must be a positive integer")
		return
	}
	if capacity := h.deps.Store.Cap(); limit > capacity {
		limit = capacity
	}
	items := h.deps.Store.List(limit)
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"notifications": items,
		"count":         len(items),
	})
}

type publishRequest struct {
	Event   string `json:"event"`
	OrderID string `json:"order_id"`
}

func (h *handlers) publishEvent(w http.ResponseWriter, r *http.Request) {
	var req publishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Event == "" || req.OrderID == "" {
		httputil.WriteError(w, http.StatusBadRequest, "event and order_id are required")
		return
	}
	h.deps.Producer.Publish(events.EventType(req.Event), req.OrderID)
	httputil.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

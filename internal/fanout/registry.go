// Package fanout multiplexes pipeline events to connected realtime clients.
package fanout

import (
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/darkevergard3n/grafana-lab-webapp/internal/metrics"
)

var (
	// ErrSubscriberClosed is returned when sending to a closed subscriber.
	ErrSubscriberClosed = errors.New("fanout: subscriber closed")
	// ErrMailboxFull is returned when a subscriber is not keeping up.
	ErrMailboxFull = errors.New("fanout: mailbox full")
)

// DefaultMailboxSize is the number of frames buffered per subscriber.
const DefaultMailboxSize = 256

// Message is one frame pushed to subscribers.
type Message struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Subscriber is one realtime client. Frames are queued in its mailbox and
// written by whatever transport owns it.
type Subscriber struct {
	ID string

	mailbox   chan []byte
	done      chan struct{}
	closed    atomic.Bool
	closeOnce sync.Once
}

// NewSubscriber creates a subscriber with a mailbox of size frames.
func NewSubscriber(size int) *Subscriber {
	if size <= 0 {
		size = DefaultMailboxSize
	}
	return &Subscriber{
		ID:      uuid.New().String(),
		mailbox: make(chan []byte, size),
		done:    make(chan struct{}),
	}
}

// Send queues frame without blocking.
func (s *Subscriber) Send(frame []byte) error {
	if s.closed.Load() {
		return ErrSubscriberClosed
	}
	select {
	case s.mailbox <- frame:
		return nil
	default:
		return ErrMailboxFull
	}
}

// Mailbox returns the queued frames.
func (s *Subscriber) Mailbox() <-chan []byte { return s.mailbox }

// Done is closed once the subscriber is closed.
func (s *Subscriber) Done() <-chan struct{} { return s.done }

// Closed reports whether Close was called.
func (s *Subscriber) Closed() bool { return s.closed.Load() }

// Close marks the subscriber closed. It is safe to call more than once.
func (s *Subscriber) Close() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.done)
	})
}

// Registry is the set of live subscribers. It is safe for concurrent use.
type Registry struct {
	mu   sync.Mutex
	subs map[string]*Subscriber

	log     zerolog.Logger
	metrics *metrics.Metrics
}

// NewRegistry creates an empty registry.
func NewRegistry(log zerolog.Logger, m *metrics.Metrics) *Registry {
	if m == nil {
		m = metrics.Noop()
	}
	return &Registry{
		subs:    make(map[string]*Subscriber),
		log:     log,
		metrics: m,
	}
}

// Register adds s to the registry.
func (r *Registry) Register(s *Subscriber) {
	r.mu.Lock()
	r.subs[s.ID] = s
	n := len(r.subs)
	r.mu.Unlock()

	r.metrics.Subscribers.Set(float64(n))
	r.log.Debug().Str("subscriber_id", s.ID).Int("subscribers", n).Msg("subscriber registered")
}

// Unregister removes and closes s. Unknown subscribers are ignored.
func (r *Registry) Unregister(s *Subscriber) {
	r.mu.Lock()
	_, ok := r.subs[s.ID]
	delete(r.subs, s.ID)
	n := len(r.subs)
	r.mu.Unlock()

	s.Close()
	if ok {
		r.metrics.Subscribers.Set(float64(n))
		r.log.Debug().Str("subscriber_id", s.ID).Int("subscribers", n).Msg("subscriber unregistered")
	}
}

// Count returns the number of registered subscribers.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

// Broadcast sends msg to every subscriber registered when it is called and
// returns how many accepted it. Subscribers that are closed or whose mailbox
// is full are dropped.
func (r *Registry) Broadcast(msg Message) int {
	frame, err := json.Marshal(msg)
	if err != nil {
		r.log.Error().Err(err).Str("event", msg.Event).Msg("failed to marshal broadcast")
		return 0
	}

	r.mu.Lock()
	snapshot := make([]*Subscriber, 0, len(r.subs))
	for _, s := range r.subs {
		snapshot = append(snapshot, s)
	}
	r.mu.Unlock()

	r.metrics.BroadcastFrames.WithLabelValues(msg.Event).Inc()

	delivered := 0
	for _, s := range snapshot {
		if err := s.Send(frame); err != nil {
			r.metrics.DroppedFrames.Inc()
			r.log.Debug().Err(err).Str("subscriber_id", s.ID).Msg("dropping subscriber")
			r.Unregister(s)
			continue
		}
		delivered++
	}
	return delivered
}

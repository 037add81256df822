package notification

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/darkevergard3n/grafana-lab-webapp/internal/metrics"
)

// DefaultCapacity is how many notifications the store keeps.
const DefaultCapacity = 1000

// Mirror receives a copy of every appended notification.
type Mirror interface {
	Push(ctx context.Context, n Notification) error
}

// Store is a bounded, newest-first history of notifications. When full, an
// append evicts the oldest entry. It is safe for concurrent use.
type Store struct {
	mu    sync.RWMutex
	buf   []Notification
	head  int // index of the newest entry
	size  int
	total uint64

	mirror  Mirror
	log     zerolog.Logger
	metrics *metrics.Metrics
}

// Option configures a Store.
type Option func(*Store)

// WithMirror copies every append to m. Mirror failures are logged and do not
// fail the append.
func WithMirror(m Mirror) Option {
	return func(s *Store) { s.mirror = m }
}

// WithLogger sets the logger used for mirror failures.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) { s.log = l }
}

// WithMetrics reports the store size to m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// NewStore creates a store holding at most capacity notifications.
func NewStore(capacity int, opts ...Option) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	s := &Store{
		buf:  make([]Notification, capacity),
		head: -1,
		log:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add appends n as the newest entry.
func (s *Store) Add(ctx context.Context, n Notification) error {
	s.mu.Lock()
	s.insertLocked(n)
	size := s.size
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.StoreSize.Set(float64(size))
	}
	if s.mirror != nil {
		if err := s.mirror.Push(ctx, n); err != nil {
			s.log.Warn().Err(err).Str("notification_id", n.ID).Msg("mirror notification failed")
		}
	}
	return nil
}

func (s *Store) insertLocked(n Notification) {
	s.head = (s.head + 1) % len(s.buf)
	s.buf[s.head] = n
	if s.size < len(s.buf) {
		s.size++
	}
	s.total++
}

// Seed loads notifications given newest-first, e.g. from a mirror, without
// copying them back to the mirror. Entries beyond capacity are ignored.
func (s *Store) Seed(items []Notification) {
	if len(items) > len(s.buf) {
		items = items[:len(s.buf)]
	}
	s.mu.Lock()
	for i := len(items) - 1; i >= 0; i-- {
		s.insertLocked(items[i])
	}
	size := s.size
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.StoreSize.Set(float64(size))
	}
}

// List returns up to limit notifications, newest first. A limit of zero or
// less returns everything held.
func (s *Store) List(limit int) []Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || limit > s.size {
		limit = s.size
	}
	out := make([]Notification, 0, limit)
	for i := 0; i < limit; i++ {
		idx := (s.head - i + len(s.buf)) % len(s.buf)
		out = append(out, s.buf[idx])
	}
	return out
}

// Len returns the number of notifications held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.size
}

// Cap returns the maximum number of notifications held.
func (s *Store) Cap() int { return len(s.buf) }

// Total returns how many notifications were ever appended.
func (s *Store) Total() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.total
}

// Package supervisor keeps the broker connection alive. It is the only
// place that connects or reconnects, so attempts never overlap.
package supervisor

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/darkevergard3n/grafana-lab-webapp/internal/broker"
	"github.com/darkevergard3n/grafana-lab-webapp/internal/metrics"
)

// State is the connection state of the supervised client.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}

// DefaultBackoff is the fixed wait between connection attempts.
const DefaultBackoff = 5 * time.Second

// ConsumeFunc processes deliveries of one connection. It must return once
// deliveries is closed or ctx is done.
type ConsumeFunc func(ctx context.Context, deliveries <-chan broker.Delivery)

// Config holds the supervisor settings.
type Config struct {
	Queue   string
	Backoff time.Duration
}

// Supervisor drives a broker.Client through Disconnected, Connecting and
// Connected. After every failed attempt or lost connection it waits a fixed
// backoff and tries again, forever, until its context is cancelled.
type Supervisor struct {
	client  broker.Client
	cfg     Config
	consume ConsumeFunc
	log     zerolog.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	state   State
	changed chan struct{}
	hooks   []func(State)
}

// New creates a supervisor for client. consume may be nil for publish-only
// processes.
func New(client broker.Client, cfg Config, consume ConsumeFunc, log zerolog.Logger, m *metrics.Metrics) *Supervisor {
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultBackoff
	}
	if m == nil {
		m = metrics.Noop()
	}
	return &Supervisor{
		client:  client,
		cfg:     cfg,
		consume: consume,
		log:     log,
		metrics: m,
		state:   Disconnected,
		changed: make(chan struct{}),
	}
}

// OnStateChange registers fn to be called after every transition. Register
// hooks before Run.
func (s *Supervisor) OnStateChange(fn func(State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, fn)
}

// State returns the current connection state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connected reports whether the client is usable right now.
func (s *Supervisor) Connected() bool {
	return s.State() == Connected
}

// WaitFor blocks until the supervisor reaches want or ctx is done.
func (s *Supervisor) WaitFor(ctx context.Context, want State) error {
	for {
		s.mu.Lock()
		state, changed := s.state, s.changed
		s.mu.Unlock()

		if state == want {
			return nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Supervisor) setState(next State) {
	s.mu.Lock()
	if s.state == next {
		s.mu.Unlock()
		return
	}
	prev := s.state
	s.state = next
	close(s.changed)
	s.changed = make(chan struct{})
	hooks := append([]func(State){}, s.hooks...)
	s.mu.Unlock()

	if next == Connected {
		s.metrics.BrokerConnected.Set(1)
	} else {
		s.metrics.BrokerConnected.Set(0)
	}
	s.log.Debug().Stringer("from", prev).Stringer("to", next).Msg("broker state changed")

	for _, fn := range hooks {
		fn(next)
	}
}

// Publish forwards to the client while connected. Otherwise it fails fast
// with broker.ErrNotConnected instead of waiting for a reconnect.
func (s *Supervisor) Publish(ctx context.Context, routingKey string, payload []byte) error {
	if !s.Connected() {
		return broker.ErrNotConnected
	}
	return s.client.Publish(ctx, routingKey, payload)
}

// Run connects and keeps reconnecting until ctx is cancelled, then closes
// the client.
func (s *Supervisor) Run(ctx context.Context) error {
	defer func() {
		s.setState(Disconnected)
		if err := s.client.Close(); err != nil {
			s.log.Warn().Err(err).Msg("close broker client")
		}
	}()

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			s.metrics.Reconnects.Inc()
		}
		s.setState(Connecting)

		lost, stop, err := s.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.setState(Disconnected)
			s.log.Warn().Err(err).Int("attempt", attempt+1).Dur("retry_in", s.cfg.Backoff).Msg("broker connect failed")
		} else {
			s.setState(Connected)
			s.log.Info().Int("attempt", attempt+1).Msg("broker connected")

			select {
			case err := <-lost:
				stop()
				s.setState(Disconnected)
				s.log.Warn().Err(err).Dur("retry_in", s.cfg.Backoff).Msg("broker connection lost")
			case <-ctx.Done():
				stop()
				return nil
			}
		}

		timer := time.NewTimer(s.cfg.Backoff)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil
		}
	}
}

// connect establishes one connection and starts its consumer. stop cancels
// the consumer and waits for it to return.
func (s *Supervisor) connect(ctx context.Context) (<-chan error, func(), error) {
	if err := s.client.Connect(ctx); err != nil {
		return nil, nil, err
	}
	lost := s.client.Disconnected()

	if s.consume == nil {
		return lost, func() {}, nil
	}

	consumeCtx, cancel := context.WithCancel(ctx)
	deliveries, err := s.client.Consume(consumeCtx, s.cfg.Queue)
	if err != nil {
		cancel()
		return nil, nil, err
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.consume(consumeCtx, deliveries)
	}()

	return lost, func() {
		cancel()
		wg.Wait()
	}, nil
}

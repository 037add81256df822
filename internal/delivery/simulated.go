package delivery

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/darkevergard3n/grafana-lab-webapp/internal/notification"
)

// ErrSimulatedFailure is returned by Simulated for its configured share of
// sends.
var ErrSimulatedFailure = errors.New("delivery: simulated failure")

// Simulated pretends to deliver by sleeping a random latency. It is the
// default transport when no real provider is configured.
type Simulated struct {
	MaxLatency  time.Duration
	FailureRate float64
}

// NewSimulated creates a simulated transport.
func NewSimulated(maxLatency time.Duration, failureRate float64) *Simulated {
	return &Simulated{MaxLatency: maxLatency, FailureRate: failureRate}
}

func (s *Simulated) Name() string { return "simulated" }

func (s *Simulated) Send(ctx context.Context, n notification.Notification) error {
	if n.Recipient == "" {
		return ErrNoRecipient
	}
	if s.MaxLatency > 0 {
		timer := time.NewTimer(rand.N(s.MaxLatency))
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if s.FailureRate > 0 && rand.Float64() < s.FailureRate {
		return ErrSimulatedFailure
	}
	return nil
}

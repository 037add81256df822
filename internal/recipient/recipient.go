// Package recipient finds where an order's notifications should go.
package recipient

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
)

// ErrNotFound is returned when the order is unknown.
var ErrNotFound = errors.New("recipient: order not found")

// Resolver maps an order ID to the customer's address.
type Resolver interface {
	Resolve(ctx context.Context, orderID string) (string, error)
}

// Static resolves every order to the same address.
type Static string

func (s Static) Resolve(context.Context, string) (string, error) {
	return string(s), nil
}

// Fallback resolves through a primary resolver and returns a default address
// when it fails. It never returns an error.
type Fallback struct {
	primary Resolver
	def     string
	log     zerolog.Logger
}

// WithFallback wraps primary with a default address.
func WithFallback(primary Resolver, def string, log zerolog.Logger) *Fallback {
	return &Fallback{primary: primary, def: def, log: log}
}

func (f *Fallback) Resolve(ctx context.Context, orderID string) (string, error) {
	if f.primary == nil {
		return f.def, nil
	}
	addr, err := f.primary.Resolve(ctx, orderID)
	if err != nil || addr == "" {
		f.log.Warn().Err(err).Str("order_id", orderID).Msg("recipient lookup failed, using default")
		return f.def, nil
	}
	return addr, nil
}

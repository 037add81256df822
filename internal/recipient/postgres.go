package recipient

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const customerEmailQuery = `SELECT customer_email FROM orders WHERE id = $1`

// querier is the part of pgxpool.Pool the resolver needs.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresResolver reads the customer email from the orders table.
type PostgresResolver struct {
	db querier
}

// NewPostgresResolver creates a resolver backed by pool.
func NewPostgresResolver(pool *pgxpool.Pool) *PostgresResolver {
	return &PostgresResolver{db: pool}
}

// Connect opens and pings a pgx pool.
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}
	return pool, nil
}

func (r *PostgresResolver) Resolve(ctx context.Context, orderID string) (string, error) {
	var email string
	err := r.db.QueryRow(ctx, customerEmailQuery, orderID).Scan(&email)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("order %s: %w", orderID, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("lookup customer email for order %s: %w", orderID, err)
	}
	return email, nil
}

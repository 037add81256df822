package recipient

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRow struct {
	val string
	err error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*dest[0].(*string) = r.val
	return nil
}

type fakeDB struct {
	rows  map[string]string
	err   error
	calls atomic.Int32
	sql   string
}

func (f *fakeDB) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	f.calls.Add(1)
	f.sql = sql
	if f.err != nil {
		return fakeRow{err: f.err}
	}
	v, ok := f.rows[args[0].(string)]
	if !ok {
		return fakeRow{err: pgx.ErrNoRows}
	}
	return fakeRow{val: v}
}

func TestPostgresResolver(t *testing.T) {
	db := &fakeDB{rows: map[string]string{"ORD-1": "ada@example.com"}}
	r := &PostgresResolver{db: db}

	addr, err := r.Resolve(context.Background(), "ORD-1")
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", addr)
	assert.Equal(t, customerEmailQuery, db.sql)

	_, err = r.Resolve(context.Background(), "ORD-404")
	assert.ErrorIs(t, err, ErrNotFound)

	db.err = errors.New("connection reset")
	_, err = r.Resolve(context.Background(), "ORD-1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestCached_MemoizesHits(t *testing.T) {
	db := &fakeDB{rows: map[string]string{"ORD-1": "ada@example.com"}}
	c := NewCached(&PostgresResolver{db: db}, time.Minute)

	for i := 0; i < 3; i++ {
		addr, err := c.Resolve(context.Background(), "ORD-1")
		require.NoError(t, err)
		assert.Equal(t, "ada@example.com", addr)
	}
	assert.Equal(t, int32(1), db.calls.Load())
	assert.Equal(t, 1, c.Len())
}

func TestCached_DoesNotCacheErrors(t *testing.T) {
	db := &fakeDB{rows: map[string]string{}}
	c := NewCached(&PostgresResolver{db: db}, time.Minute)

	_, err := c.Resolve(context.Background(), "ORD-2")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = c.Resolve(context.Background(), "ORD-2")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, int32(2), db.calls.Load())
}

func TestCached_Expires(t *testing.T) {
	db := &fakeDB{rows: map[string]string{"ORD-1": "ada@example.com"}}
	c := NewCached(&PostgresResolver{db: db}, 20*time.Millisecond)

	_, err := c.Resolve(context.Background(), "ORD-1")
	require.NoError(t, err)
	time.Sleep(40 * time.Millisecond)
	_, err = c.Resolve(context.Background(), "ORD-1")
	require.NoError(t, err)
	assert.Equal(t, int32(2), db.calls.Load())
}

func TestFallback(t *testing.T) {
	db := &fakeDB{rows: map[string]string{"ORD-1": "ada@example.com"}}
	f := WithFallback(&PostgresResolver{db: db}, "ops@example.com", zerolog.Nop())

	addr, err := f.Resolve(context.Background(), "ORD-1")
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", addr)

	addr, err = f.Resolve(context.Background(), "ORD-missing")
	require.NoError(t, err)
	assert.Equal(t, "ops@example.com", addr)

	addr, err = WithFallback(nil, "ops@example.com", zerolog.Nop()).Resolve(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, "ops@example.com", addr)
}

func TestStatic(t *testing.T) {
	addr, err := Static("customer@example.com").Resolve(context.Background(), "anything")
	require.NoError(t, err)
	assert.Equal(t, "customer@example.com", addr)
}

func TestConnect_InvalidURL(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, err := Connect(ctx, "postgres://invalid:5432/nonexistent?connect_timeout=1")
	assert.Error(t, err)
}

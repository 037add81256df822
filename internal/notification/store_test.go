package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/darkevergard3n/grafana-lab-webapp/internal/metrics"
)

func numbered(i int) Notification {
	return New(TypeEmail, "customer@example.com", "Order Updated", fmt.Sprintf("body %d", i), fmt.Sprintf("ORD-%d", i))
}

func TestStore_EvictsOldestBeyondCapacity(t *testing.T) {
	m := metrics.Noop()
	s := NewStore(DefaultCapacity, WithMetrics(m))
	ctx := context.Background()

	var first, last Notification
	for i := 0; i < DefaultCapacity+1; i++ {
		n := numbered(i)
		if i == 0 {
			first = n
		}
		last = n
		require.NoError(t, s.Add(ctx, n))
	}

	assert.Equal(t, DefaultCapacity, s.Len())
	assert.Equal(t, uint64(DefaultCapacity+1), s.Total())
	assert.Equal(t, float64(DefaultCapacity), testutil.ToFloat64(m.StoreSize))

	all := s.List(0)
	require.Len(t, all, DefaultCapacity)
	assert.Equal(t, last.ID, all[0].ID)
	for _, n := range all {
		assert.NotEqual(t, first.ID, n.ID)
	}
}

func TestStore_ListNewestFirst(t *testing.T) {
	s := NewStore(5)
	ctx := context.Background()
	for i := 0; i < 8; i++ {
		require.NoError(t, s.Add(ctx, numbered(i)))
	}

	got := s.List(3)
	require.Len(t, got, 3)
	assert.Equal(t, "body 7", got[0].Body)
	assert.Equal(t, "body 6", got[1].Body)
	assert.Equal(t, "body 5", got[2].Body)

	assert.Len(t, s.List(100), 5)
	assert.Equal(t, "body 3", s.List(0)[4].Body)
}

func TestStore_EmptyList(t *testing.T) {
	s := NewStore(0)
	assert.Equal(t, DefaultCapacity, s.Cap())
	assert.Empty(t, s.List(10))
	assert.NotNil(t, s.List(10))
}

func TestStore_Seed(t *testing.T) {
	s := NewStore(3)
	s.Seed([]Notification{numbered(9), numbered(8), numbered(7), numbered(6)})

	got := s.List(0)
	require.Len(t, got, 3)
	assert.Equal(t, "body 9", got[0].Body)
	assert.Equal(t, "body 7", got[2].Body)

	require.NoError(t, s.Add(context.Background(), numbered(10)))
	assert.Equal(t, "body 10", s.List(1)[0].Body)
	assert.Equal(t, "body 8", s.List(0)[2].Body)
}

type fakeMirror struct {
	mu     sync.Mutex
	pushed []string
	err    error
}

func (f *fakeMirror) Push(_ context.Context, n Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushed = append(f.pushed, n.ID)
	return f.err
}

func TestStore_MirrorFailureDoesNotFailAdd(t *testing.T) {
	mirror := &fakeMirror{err: errors.New("redis down")}
	s := NewStore(10, WithMirror(mirror))

	n := numbered(1)
	require.NoError(t, s.Add(context.Background(), n))
	assert.Equal(t, 1, s.Len())
	assert.Equal(t, []string{n.ID}, mirror.pushed)
}

func TestStore_ConcurrentAdds(t *testing.T) {
	s := NewStore(50)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				s.Add(context.Background(), numbered(w*100+i))
				s.List(10)
			}
		}(w)
	}
	wg.Wait()

	assert.Equal(t, 50, s.Len())
	assert.Equal(t, uint64(800), s.Total())
}

func TestNotification_JSONShape(t *testing.T) {
	n := New(TypeSMS, "+15550100", "Order Shipped", "shipped", "")
	n.Status = StatusSent

	data, err := json.Marshal(n)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "sms", raw["type"])
	assert.Equal(t, "sent", raw["status"])
	assert.Nil(t, raw["order_id"])
	assert.NotContains(t, raw, "error")
	assert.Contains(t, raw, "sent_at")
}

package events

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode_WireEnvelope(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)
	data, err := Encode(OrderEvent{Type: OrderCreated, OrderID: "ORD-9", Timestamp: ts})
	require.NoError(t, err)

	assert.JSONEq(t, `{"event":"order.created","order_id":"ORD-9","timestamp":"2024-03-01T12:30:00Z"}`, string(data))
}

func TestEncode_RejectsEmptyType(t *testing.T) {
	_, err := Encode(OrderEvent{OrderID: "ORD-1"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMalformed))
}

func TestDecode_AcceptsOriginalServicePayload(t *testing.T) {
	payload := []byte(`{"event":"order.status.shipped","order_id":"4f0c","timestamp":"2024-03-01T14:30:00+02:00"}`)

	e, err := Decode(payload)
	require.NoError(t, err)
	assert.Equal(t, OrderStatusShipped, e.Type)
	assert.Equal(t, "4f0c", e.OrderID)
	assert.Equal(t, time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC), e.Timestamp)
}

func TestDecode_UnknownTypeIsNotMalformed(t *testing.T) {
	e, err := Decode([]byte(`{"event":"order.refunded","order_id":"ORD-2","timestamp":"2024-03-01T12:30:00Z"}`))
	require.NoError(t, err)
	assert.False(t, e.Type.Known())
}

func TestDecode_Malformed(t *testing.T) {
	cases := map[string]string{
		"not json":      `{{{`,
		"missing event": `{"order_id":"ORD-1","timestamp":"2024-03-01T12:30:00Z"}`,
		"missing order": `{"event":"order.created","timestamp":"2024-03-01T12:30:00Z"}`,
		"bad timestamp": `{"event":"order.created","order_id":"ORD-1","timestamp":"yesterday"}`,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(payload))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestStatusEvent(t *testing.T) {
	assert.Equal(t, OrderStatusShipped, StatusEvent("shipped"))
	assert.Equal(t, OrderStatusDelivered, StatusEvent(" Delivered "))

	status, ok := OrderStatusProcessing.Status()
	assert.True(t, ok)
	assert.Equal(t, "processing", status)

	_, ok = OrderCreated.Status()
	assert.False(t, ok)
}

func TestKnown(t *testing.T) {
	for _, et := range AllTypes {
		assert.True(t, et.Known(), et)
	}
	assert.False(t, StatusEvent("pending").Known())
}

func TestNew_StampsUTC(t *testing.T) {
	e := New(OrderCancelled, "ORD-3")
	assert.Equal(t, time.UTC, e.Timestamp.Location())
	assert.Equal(t, "order.cancelled", e.Type.RoutingKey())
	assert.WithinDuration(t, time.Now(), e.Timestamp, 2*time.Second)
}

package broker

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// DeadLetter is a message rejected without requeue.
type DeadLetter struct {
	Queue      string
	RoutingKey string
	MessageID  string
	Body       []byte
}

type memMessage struct {
	tag         uint64
	routingKey  string
	messageID   string
	body        []byte
	redelivered bool
}

type memQueue struct {
	ready   []memMessage
	unacked map[uint64]memMessage
	wake    chan struct{}
}

func newMemQueue() *memQueue {
	return &memQueue{
		unacked: make(map[uint64]memMessage),
		wake:    make(chan struct{}, 1),
	}
}

func (q *memQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

type memConn struct {
	done         chan struct{}
	disconnected chan error
}

// InMemoryBroker is a single-process Client that behaves like a topic
// exchange with durable queues. Queue contents survive Drop and reconnects;
// unacknowledged messages are requeued when the connection is lost. It is
// used for development and to drive the pipeline deterministically in tests.
type InMemoryBroker struct {
	topo Topology

	mu           sync.Mutex
	queues       map[string]*memQueue
	bindings     map[string]string // queue -> pattern
	conn         *memConn
	nextTag      uint64
	dead         []DeadLetter
	failConnects int
	connects     int
	closed       bool
}

// NewInMemoryBroker creates an unconnected InMemoryBroker.
func NewInMemoryBroker(topo Topology) *InMemoryBroker {
	return &InMemoryBroker{
		topo:     topo,
		queues:   make(map[string]*memQueue),
		bindings: make(map[string]string),
	}
}

// Connect opens a new simulated connection and declares the topology.
func (b *InMemoryBroker) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}
	if b.failConnects > 0 {
		b.failConnects--
		return fmt.Errorf("dial in-memory broker: connection refused")
	}
	b.dropLocked(nil)

	if _, ok := b.queues[b.topo.Queue]; !ok {
		b.queues[b.topo.Queue] = newMemQueue()
	}
	b.bindings[b.topo.Queue] = b.topo.Binding

	b.conn = &memConn{
		done:         make(chan struct{}),
		disconnected: make(chan error, 1),
	}
	b.connects++
	return nil
}

// Publish routes payload to every queue whose binding matches routingKey.
// Unroutable messages are dropped, as with a topic exchange.
func (b *InMemoryBroker) Publish(ctx context.Context, routingKey string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}
	if b.conn == nil {
		return ErrNotConnected
	}

	body := make([]byte, len(payload))
	copy(body, payload)
	id := uuid.NewString()

	for queue, pattern := range b.bindings {
		if !MatchTopic(pattern, routingKey) {
			continue
		}
		b.nextTag++
		q := b.queues[queue]
		q.ready = append(q.ready, memMessage{tag: b.nextTag, routingKey: routingKey, messageID: id, body: body})
		q.signal()
	}
	return nil
}

// Consume delivers messages from queue one at a time: the next message is
// only handed out after the previous one is settled.
func (b *InMemoryBroker) Consume(ctx context.Context, queue string) (<-chan Delivery, error) {
	b.mu.Lock()
	conn := b.conn
	q, ok := b.queues[queue]
	b.mu.Unlock()

	if conn == nil {
		return nil, ErrNotConnected
	}
	if !ok {
		return nil, fmt.Errorf("consume %s: queue not declared", queue)
	}

	out := make(chan Delivery)
	go func() {
		defer close(out)
		for {
			d, ok := b.next(conn, queue, q)
			if ok {
				select {
				case out <- d:
					continue
				case <-conn.done:
					return
				case <-ctx.Done():
					return
				}
			}
			select {
			case <-q.wake:
			case <-conn.done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (b *InMemoryBroker) next(conn *memConn, queue string, q *memQueue) (Delivery, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.conn != conn || len(q.ready) == 0 || len(q.unacked) > 0 {
		return Delivery{}, false
	}
	m := q.ready[0]
	q.ready = q.ready[1:]
	q.unacked[m.tag] = m

	acker := &memAcker{broker: b, conn: conn, queue: queue, tag: m.tag}
	d := NewDelivery(m.routingKey, m.messageID, m.body, acker)
	d.Redelivered = m.redelivered
	return d, true
}

type memAcker struct {
	broker *InMemoryBroker
	conn   *memConn
	queue  string
	tag    uint64
}

func (a *memAcker) Ack() error { return a.broker.settle(a, false, false) }

func (a *memAcker) Nack(requeue bool) error { return a.broker.settle(a, true, requeue) }

func (b *InMemoryBroker) settle(a *memAcker, reject, requeue bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	// Deliveries from a lost connection were already requeued.
	if b.conn != a.conn {
		return ErrNotConnected
	}
	q := b.queues[a.queue]
	m, ok := q.unacked[a.tag]
	if !ok {
		return fmt.Errorf("unknown delivery tag %d", a.tag)
	}
	delete(q.unacked, a.tag)

	if reject {
		if requeue {
			m.redelivered = true
			q.ready = append([]memMessage{m}, q.ready...)
		} else {
			b.dead = append(b.dead, DeadLetter{Queue: a.queue, RoutingKey: m.routingKey, MessageID: m.messageID, Body: m.body})
		}
	}
	q.signal()
	return nil
}

// Disconnected returns the close signal of the current connection.
func (b *InMemoryBroker) Disconnected() <-chan error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn == nil {
		return closedSignal()
	}
	return b.conn.disconnected
}

// Drop simulates a connection loss. Unacknowledged messages go back to the
// head of their queue in delivery order.
func (b *InMemoryBroker) Drop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dropLocked(ErrConnectionLost)
}

func (b *InMemoryBroker) dropLocked(reason error) {
	conn := b.conn
	if conn == nil {
		return
	}
	b.conn = nil

	for _, q := range b.queues {
		if len(q.unacked) == 0 {
			continue
		}
		back := make([]memMessage, 0, len(q.unacked))
		for _, m := range q.unacked {
			m.redelivered = true
			back = append(back, m)
		}
		sort.Slice(back, func(i, j int) bool { return back[i].tag < back[j].tag })
		q.ready = append(back, q.ready...)
		q.unacked = make(map[uint64]memMessage)
	}

	close(conn.done)
	if reason == nil {
		reason = ErrConnectionLost
	}
	conn.disconnected <- reason
	close(conn.disconnected)
}

// FailNextConnects makes the next n Connect calls fail.
func (b *InMemoryBroker) FailNextConnects(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failConnects = n
}

// Connects returns how many connections were established.
func (b *InMemoryBroker) Connects() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connects
}

// DeadLetters returns a copy of the rejected messages.
func (b *InMemoryBroker) DeadLetters() []DeadLetter {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]DeadLetter, len(b.dead))
	copy(out, b.dead)
	return out
}

// QueueDepth returns the number of ready and unacknowledged messages.
func (b *InMemoryBroker) QueueDepth(queue string) (ready, unacked int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[queue]
	if !ok {
		return 0, 0
	}
	return len(q.ready), len(q.unacked)
}

// Close drops the connection and rejects further use.
func (b *InMemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	b.dropLocked(ErrClosed)
	return nil
}

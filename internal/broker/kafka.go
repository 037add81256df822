package broker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

const (
	headerRoutingKey = "routing-key"
	headerMessageID  = "message-id"
)

// KafkaConfig holds configuration for the Kafka client.
type KafkaConfig struct {
	Brokers       []string // list of broker addresses
	ConsumerGroup string   // consumer group ID
}

// KafkaClient implements Client on Apache Kafka via segmentio/kafka-go.
// The exchange maps to a single-partition topic so the queue keeps its
// order; the routing key travels in a message header and is matched against
// the binding on the consumer side. Rejected messages are written to the
// dead-letter topic before their offset is committed.
type KafkaClient struct {
	config KafkaConfig
	topo   Topology
	log    zerolog.Logger

	mu           sync.Mutex
	writer       *kafka.Writer
	readers      []*kafka.Reader
	disconnected chan error
	signalOnce   *sync.Once
	closed       bool
}

// NewKafkaClient validates the configuration and returns an unconnected
// client.
func NewKafkaClient(config KafkaConfig, topo Topology, log zerolog.Logger) (*KafkaClient, error) {
	if len(config.Brokers) == 0 {
		return nil, fmt.Errorf("at least one Kafka broker address is required")
	}
	if config.ConsumerGroup == "" {
		config.ConsumerGroup = topo.Queue
	}
	return &KafkaClient{config: config, topo: topo, log: log}, nil
}

// Connect checks reachability, creates the topics if missing and sets up
// the shared writer.
func (c *KafkaClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	c.releaseLocked() //nolint:errcheck // stale readers from a dead connection

	if err := c.ensureTopics(ctx); err != nil {
		return err
	}

	c.writer = &kafka.Writer{
		Addr:                   kafka.TCP(c.config.Brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
	c.disconnected = make(chan error, 1)
	c.signalOnce = &sync.Once{}

	c.log.Info().
		Strs("brokers", c.config.Brokers).
		Str("topic", c.topo.Exchange).
		Str("group", c.config.ConsumerGroup).
		Msg("connected to kafka")
	return nil
}

func (c *KafkaClient) ensureTopics(ctx context.Context) error {
	conn, err := kafka.DialContext(ctx, "tcp", c.config.Brokers[0])
	if err != nil {
		return fmt.Errorf("dial kafka: %w", err)
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("kafka controller: %w", err)
	}
	addr := net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port))
	ctrl, err := kafka.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial kafka controller: %w", err)
	}
	defer ctrl.Close()

	err = ctrl.CreateTopics(
		kafka.TopicConfig{Topic: c.topo.Exchange, NumPartitions: 1, ReplicationFactor: 1},
		kafka.TopicConfig{Topic: c.topo.DeadLetterQueue(), NumPartitions: 1, ReplicationFactor: 1},
	)
	if err != nil && !errors.Is(err, kafka.TopicAlreadyExists) {
		return fmt.Errorf("create topics: %w", err)
	}
	return nil
}

// Publish writes payload to the exchange topic with the routing key in a
// header.
func (c *KafkaClient) Publish(ctx context.Context, routingKey string, payload []byte) error {
	c.mu.Lock()
	w, closed := c.writer, c.closed
	c.mu.Unlock()

	if closed {
		return ErrClosed
	}
	if w == nil {
		return ErrNotConnected
	}

	msg := kafka.Message{
		Topic: c.topo.Exchange,
		Key:   []byte(routingKey),
		Value: payload,
		Headers: []kafka.Header{
			{Key: headerRoutingKey, Value: []byte(routingKey)},
			{Key: headerMessageID, Value: []byte(uuid.NewString())},
		},
		Time: time.Now().UTC(),
	}
	if err := w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write to kafka: %w", err)
	}
	return nil
}

// Consume starts a consumer-group reader on the exchange topic. The queue
// name is only used for logging; the group identifies the queue in Kafka.
func (c *KafkaClient) Consume(ctx context.Context, queue string) (<-chan Delivery, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}
	if c.writer == nil {
		return nil, ErrNotConnected
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  c.config.Brokers,
		Topic:    c.topo.Exchange,
		GroupID:  c.config.ConsumerGroup,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
		MaxWait:  500 * time.Millisecond,
	})
	c.readers = append(c.readers, reader)

	out := make(chan Delivery)
	go c.consumeLoop(ctx, queue, reader, c.writer, c.signalOnce, c.disconnected, out)
	return out, nil
}

func (c *KafkaClient) consumeLoop(ctx context.Context, queue string, reader *kafka.Reader, writer *kafka.Writer, once *sync.Once, disconnected chan error, out chan<- Delivery) {
	defer close(out)

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.Error().Err(err).Str("queue", queue).Msg("kafka fetch failed")
			once.Do(func() {
				disconnected <- fmt.Errorf("%w: %v", ErrConnectionLost, err)
				close(disconnected)
			})
			return
		}

		key := headerValue(msg.Headers, headerRoutingKey)
		if !MatchTopic(c.topo.Binding, key) {
			if err := reader.CommitMessages(ctx, msg); err != nil {
				c.log.Warn().Err(err).Str("routing_key", key).Msg("commit of unbound message failed")
			}
			continue
		}

		acker := &kafkaAcker{reader: reader, writer: writer, msg: msg, dlq: c.topo.DeadLetterQueue()}
		d := NewDelivery(key, headerValue(msg.Headers, headerMessageID), msg.Value, acker)
		select {
		case out <- d:
		case <-ctx.Done():
			return
		}
	}
}

func headerValue(headers []kafka.Header, key string) string {
	for _, h := range headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

type kafkaAcker struct {
	reader *kafka.Reader
	writer *kafka.Writer
	msg    kafka.Message
	dlq    string
}

func (a *kafkaAcker) Ack() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return a.reader.CommitMessages(ctx, a.msg)
}

// Nack without requeue copies the message to the dead-letter topic and
// commits it. With requeue the offset is left uncommitted so the message is
// redelivered after the next rebalance.
func (a *kafkaAcker) Nack(requeue bool) error {
	if requeue {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	dead := kafka.Message{
		Topic:   a.dlq,
		Key:     a.msg.Key,
		Value:   a.msg.Value,
		Headers: a.msg.Headers,
	}
	if err := a.writer.WriteMessages(ctx, dead); err != nil {
		return fmt.Errorf("write dead letter: %w", err)
	}
	return a.reader.CommitMessages(ctx, a.msg)
}

// Disconnected returns the close signal of the current connection.
func (c *KafkaClient) Disconnected() <-chan error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disconnected == nil {
		return closedSignal()
	}
	return c.disconnected
}

// Close shuts down all readers and the writer.
func (c *KafkaClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	return c.releaseLocked()
}

func (c *KafkaClient) releaseLocked() error {
	var result *multierror.Error
	for _, r := range c.readers {
		if err := r.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	c.readers = nil
	if c.writer != nil {
		if err := c.writer.Close(); err != nil {
			result = multierror.Append(result, err)
		}
		c.writer = nil
	}
	return result.ErrorOrNil()
}

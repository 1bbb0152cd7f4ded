package mq

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"authcore/config"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	// attemptHeader counts deliveries of a message; a missing header is the first attempt.
	attemptHeader = "x-authcore-attempt"

	defaultMaxDeliveries    = 5
	defaultDeadLetterSuffix = ".dead"
)

// ErrPermanent marks a handler failure that no retry can fix.
var ErrPermanent = errors.New("permanent failure")

// Permanent wraps err so the message is dead-lettered without further attempts.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

// Message is one delivery taken off a queue. Attempt starts at 1.
type Message struct {
	ID         string
	Data       []byte
	Attributes map[string]string
	Attempt    int
}

// Handler processes a message. A nil error acknowledges it. Any other error retries it
// until the delivery cap, after which it moves to the dead-letter queue.
type Handler func(ctx context.Context, msg Message) error

// amqpChannel is the part of *amqp.Channel the client drives.
type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Cancel(consumer string, noWait bool) error
	Close() error
}

// RabbitMQClient publishes to and consumes from work queues that each have a dead-letter
// queue next to them. Failed messages are republished with a bumped attempt header, so
// the cap holds on classic queues too.
type RabbitMQClient struct {
	conn             *amqp.Connection
	channel          amqpChannel
	durable          bool
	autoDelete       bool
	maxDeliveries    int
	deadLetterSuffix string

	mu       sync.Mutex
	declared map[string]bool
}

func NewRabbitMQClient(cfg config.RabbitMQConfig) (*RabbitMQClient, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("rabbitmq url is required")
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open rabbitmq channel: %w", err)
	}
	if cfg.PrefetchCount > 0 {
		if err := ch.Qos(cfg.PrefetchCount, 0, false); err != nil {
			_ = ch.Close()
			_ = conn.Close()
			return nil, fmt.Errorf("set rabbitmq prefetch: %w", err)
		}
	}
	client := newClient(ch, cfg)
	client.conn = conn
	return client, nil
}

func newClient(ch amqpChannel, cfg config.RabbitMQConfig) *RabbitMQClient {
	maxDeliveries := cfg.MaxDeliveries
	if maxDeliveries <= 0 {
		maxDeliveries = defaultMaxDeliveries
	}
	suffix := cfg.DeadLetterSuffix
	if suffix == "" {
		suffix = defaultDeadLetterSuffix
	}
	return &RabbitMQClient{
		channel:          ch,
		durable:          cfg.QueueDurable,
		autoDelete:       cfg.QueueAutoDelete,
		maxDeliveries:    maxDeliveries,
		deadLetterSuffix: suffix,
		declared:         map[string]bool{},
	}
}

// Publish sends a persistent JSON message to queue and returns its message id.
func (r *RabbitMQClient) Publish(ctx context.Context, queue string, data []byte, attrs map[string]string) (string, error) {
	if err := r.ensureTopology(queue); err != nil {
		return "", err
	}
	headers := make(amqp.Table, len(attrs))
	for key, value := range attrs {
		headers[key] = value
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now().UTC(),
		Headers:      headers,
		Body:         data,
	}
	if err := r.channel.PublishWithContext(ctx, "", queue, false, false, msg); err != nil {
		return "", fmt.Errorf("publish to %s: %w", queue, err)
	}
	return msg.MessageId, nil
}

// Subscribe consumes queue until ctx is done or the broker closes the channel.
func (r *RabbitMQClient) Subscribe(ctx context.Context, queue string, handler Handler) error {
	if err := r.ensureTopology(queue); err != nil {
		return err
	}
	consumerTag := "authcore-" + uuid.NewString()
	deliveries, err := r.channel.Consume(queue, consumerTag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", queue, err)
	}
	defer func() {
		_ = r.channel.Cancel(consumerTag, false)
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case delivery, ok := <-deliveries:
			if !ok {
				return errors.New("rabbitmq delivery channel closed")
			}
			if err := r.dispatch(ctx, queue, delivery, handler); err != nil {
				return err
			}
		}
	}
}

func (r *RabbitMQClient) Close() error {
	if r.channel != nil {
		_ = r.channel.Close()
	}
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}

type outcome int

const (
	outcomeAck outcome = iota
	outcomeRetry
	outcomeDeadLetter
)

func (r *RabbitMQClient) outcomeOf(err error, attempt int) outcome {
	switch {
	case err == nil:
		return outcomeAck
	case errors.Is(err, ErrPermanent), attempt >= r.maxDeliveries:
		return outcomeDeadLetter
	default:
		return outcomeRetry
	}
}

// dispatch runs handler on one delivery and settles it with the broker.
func (r *RabbitMQClient) dispatch(ctx context.Context, queue string, delivery amqp.Delivery, handler Handler) error {
	attempt := attemptOf(delivery.Headers)
	err := handler(ctx, Message{
		ID:         delivery.MessageId,
		Data:       delivery.Body,
		Attributes: headersToAttributes(delivery.Headers),
		Attempt:    attempt,
	})
	if err != nil && ctx.Err() != nil {
		// shutting down; the attempt does not count
		return delivery.Nack(false, true)
	}

	switch r.outcomeOf(err, attempt) {
	case outcomeAck:
		return delivery.Ack(false)
	case outcomeDeadLetter:
		return delivery.Nack(false, false)
	}

	retry := amqp.Publishing{
		ContentType:  delivery.ContentType,
		DeliveryMode: amqp.Persistent,
		MessageId:    delivery.MessageId,
		Timestamp:    delivery.Timestamp,
		Headers:      withAttempt(delivery.Headers, attempt+1),
		Body:         delivery.Body,
	}
	if err := r.channel.PublishWithContext(ctx, "", queue, false, false, retry); err != nil {
		return delivery.Nack(false, true)
	}
	return delivery.Ack(false)
}

// ensureTopology declares queue, bound to a dead-letter queue through the default
// exchange, once per client.
func (r *RabbitMQClient) ensureTopology(queue string) error {
	if strings.TrimSpace(queue) == "" {
		return errors.New("rabbitmq queue is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.declared[queue] {
		return nil
	}
	deadLetter := queue + r.deadLetterSuffix
	if _, err := r.channel.QueueDeclare(deadLetter, r.durable, false, false, false, nil); err != nil {
		return fmt.Errorf("declare %s: %w", deadLetter, err)
	}
	args := amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": deadLetter,
	}
	if _, err := r.channel.QueueDeclare(queue, r.durable, r.autoDelete, false, false, args); err != nil {
		return fmt.Errorf("declare %s: %w", queue, err)
	}
	r.declared[queue] = true
	return nil
}

func attemptOf(headers amqp.Table) int {
	var attempt int
	switch value := headers[attemptHeader].(type) {
	case int:
		attempt = value
	case int32:
		attempt = int(value)
	case int64:
		attempt = int(value)
	case string:
		attempt, _ = strconv.Atoi(value)
	}
	if attempt < 1 {
		return 1
	}
	return attempt
}

func withAttempt(headers amqp.Table, attempt int) amqp.Table {
	next := make(amqp.Table, len(headers)+1)
	for key, value := range headers {
		next[key] = value
	}
	next[attemptHeader] = int32(attempt)
	return next
}

// headersToAttributes flattens application headers. Broker and retry bookkeeping headers
// (x-*) are left out.
func headersToAttributes(headers amqp.Table) map[string]string {
	attrs := make(map[string]string, len(headers))
	for key, value := range headers {
		if strings.HasPrefix(key, "x-") {
			continue
		}
		switch typed := value.(type) {
		case string:
			attrs[key] = typed
		case []byte:
			attrs[key] = string(typed)
		default:
			attrs[key] = fmt.Sprint(value)
		}
	}
	if len(attrs) == 0 {
		return nil
	}
	return attrs
}

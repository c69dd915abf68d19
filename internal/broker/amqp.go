// Package broker owns the connection and channel to RabbitMQ. It declares the
// chat topology on connect, exposes publish/subscribe primitives, and guards
// the connect/publish path with a circuit breaker so a broker outage degrades
// the service to live-relay-only instead of hanging every send.
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/felagos/chat-app/internal/breaker"
	"github.com/felagos/chat-app/internal/domain"
	"github.com/felagos/chat-app/pkg/log"
)

var (
	// ErrUnavailable means the channel is not open; the caller surfaces the
	// failure rather than silently dropping the publish.
	ErrUnavailable = errors.New("broker channel is not available")

	// ErrAlreadySubscribed guards against starting a second consumer on the
	// same queue from this client.
	ErrAlreadySubscribed = errors.New("queue already has a consumer")
)

// amqpChannel is the slice of *amqp091.Channel the client uses.
type amqpChannel interface {
	Qos(prefetchCount, prefetchSize int, global bool) error
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp091.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp091.Table) (amqp091.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp091.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp091.Table) (<-chan amqp091.Delivery, error)
	Cancel(consumer string, noWait bool) error
	IsClosed() bool
	Close() error
}

type amqpConnection interface {
	Channel() (amqpChannel, error)
	Close() error
}

type realConnection struct {
	*amqp091.Connection
}

func (c realConnection) Channel() (amqpChannel, error) {
	return c.Connection.Channel()
}

func dialAMQP(url string) (amqpConnection, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, err
	}
	return realConnection{conn}, nil
}

// Delivery is the slice of an AMQP delivery a message handler needs.
type Delivery struct {
	Body        []byte
	RoutingKey  string
	Redelivered bool
}

// Handler processes one delivery. Returning nil acknowledges the message.
// Returning domain.ErrMalformedPayload (wrapped or not) also acknowledges:
// an unparseable message is dropped, never requeued. Any other error nacks
// with requeue on first delivery and drops on redelivery.
type Handler func(ctx context.Context, d Delivery) error

// Config holds broker connection settings.
type Config struct {
	URL           string `mapstructure:"url"`
	PrefetchCount int    `mapstructure:"prefetch_count"`
	ConsumerTag   string `mapstructure:"consumer_tag"`
}

// Client is the single owner of the AMQP connection and channel. Channel
// operations (publish, subscribe setup, topology declares) are serialized
// under one mutex; handler invocations run concurrently on consumer
// goroutines.
type Client struct {
	cfg     Config
	breaker *breaker.Breaker
	logger  zerolog.Logger
	dial    func(url string) (amqpConnection, error)

	mu        sync.Mutex
	conn      amqpConnection
	ch        amqpChannel
	consumers map[string]bool

	wg     sync.WaitGroup
	closed chan struct{}
}

// NewClient creates a disconnected client. Connect must be called before
// publishing or subscribing.
func NewClient(cfg Config, b *breaker.Breaker, logger zerolog.Logger) *Client {
	if cfg.PrefetchCount <= 0 {
		cfg.PrefetchCount = 32
	}
	if cfg.ConsumerTag == "" {
		cfg.ConsumerTag = "chat-app"
	}
	return &Client{
		cfg:       cfg,
		breaker:   b,
		logger:    logger.With().Str("component", "broker").Logger(),
		dial:      dialAMQP,
		consumers: make(map[string]bool),
		closed:    make(chan struct{}),
	}
}

// Connect dials the broker and declares the chat topology: the topic exchange
// and both durable queues with their bindings. Declares are idempotent, so a
// reconnect after a drop re-asserts the same topology without erroring.
func (c *Client) Connect(ctx context.Context) error {
	return c.breaker.Execute(func() error {
		c.mu.Lock()
		defer c.mu.Unlock()

		conn, err := c.dial(c.cfg.URL)
		if err != nil {
			return fmt.Errorf("dial rabbitmq: %w", err)
		}
		ch, err := conn.Channel()
		if err != nil {
			conn.Close()
			return fmt.Errorf("open rabbitmq channel: %w", err)
		}
		if err := ch.Qos(c.cfg.PrefetchCount, 0, false); err != nil {
			ch.Close()
			conn.Close()
			return fmt.Errorf("set prefetch: %w", err)
		}

		if err := declareTopology(ch); err != nil {
			ch.Close()
			conn.Close()
			return err
		}

		// Reconnect after a drop: release the previous handles before
		// replacing them.
		if c.ch != nil {
			_ = c.ch.Close()
		}
		if c.conn != nil {
			_ = c.conn.Close()
		}

		c.conn, c.ch = conn, ch
		c.logger.Info().Str("url", c.cfg.URL).Msg("connected to RabbitMQ")
		return nil
	})
}

// ConnectWithRetry attempts Connect a bounded number of times with doubling
// backoff. On exhaustion the caller continues in degraded mode: the live
// relay keeps working while the durable path stays down.
func (c *Client) ConnectWithRetry(ctx context.Context, attempts int, initialDelay time.Duration) error {
	if attempts <= 0 {
		attempts = 5
	}
	if initialDelay <= 0 {
		initialDelay = 2 * time.Second
	}

	delay := initialDelay
	var lastErr error
	for i := 0; i < attempts; i++ {
		lastErr = c.Connect(ctx)
		if lastErr == nil {
			return nil
		}
		c.logger.Warn().Err(lastErr).
			Int("attempt", i+1).
			Int("max_attempts", attempts).
			Dur("retry_in", delay).
			Msg("broker connect failed, retrying")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return fmt.Errorf("broker unreachable after %d attempts: %w", attempts, lastErr)
}

// Publish serializes the payload as JSON and publishes it persistent. It
// fails loudly when the channel is down so the gateway can surface a delivery
// error to the sender.
func (c *Client) Publish(ctx context.Context, exchange, routingKey string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	return c.breaker.Execute(func() error {
		c.mu.Lock()
		defer c.mu.Unlock()

		if c.ch == nil {
			return ErrUnavailable
		}
		err := c.ch.PublishWithContext(ctx, exchange, routingKey, false, false, amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			Timestamp:    time.Now(),
			Body:         body,
		})
		if err != nil {
			return fmt.Errorf("publish %s/%s: %w", exchange, routingKey, err)
		}
		return nil
	})
}

// Subscribe starts a consumer on the queue. Each delivery is handled in
// isolation: a panicking or failing handler never kills the consume loop.
func (c *Client) Subscribe(ctx context.Context, queue string, handler Handler) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ch == nil {
		return ErrUnavailable
	}
	if c.consumers[queue] {
		return fmt.Errorf("%w: %s", ErrAlreadySubscribed, queue)
	}

	deliveries, err := c.ch.Consume(queue, c.cfg.ConsumerTag+"."+queue, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", queue, err)
	}
	c.consumers[queue] = true

	c.wg.Add(1)
	go c.consumeLoop(ctx, queue, deliveries, handler)

	c.logger.Info().Str(log.FieldQueue, queue).Msg("consumer started")
	return nil
}

// Connected reports whether the channel is open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ch != nil && !c.ch.IsClosed()
}

// Close cancels consumers and closes the channel before the connection.
func (c *Client) Close() error {
	select {
	case <-c.closed:
		return nil
	default:
		close(c.closed)
	}

	c.mu.Lock()
	ch, conn := c.ch, c.conn
	for queue := range c.consumers {
		if ch != nil {
			_ = ch.Cancel(c.cfg.ConsumerTag+"."+queue, false)
		}
	}
	c.ch, c.conn = nil, nil
	c.mu.Unlock()

	c.wg.Wait()

	var errs []error
	if ch != nil {
		if err := ch.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if conn != nil {
		if err := conn.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	c.logger.Info().Msg("broker connection closed")
	return nil
}

func (c *Client) consumeLoop(ctx context.Context, queue string, deliveries <-chan amqp091.Delivery, handler Handler) {
	defer c.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closed:
			return
		case d, ok := <-deliveries:
			if !ok {
				c.logger.Warn().Str(log.FieldQueue, queue).Msg("delivery channel closed")
				return
			}
			c.handleDelivery(ctx, queue, d, handler)
		}
	}
}

func (c *Client) handleDelivery(ctx context.Context, queue string, d amqp091.Delivery, handler Handler) {
	err := c.safeHandle(ctx, d, handler)

	switch {
	case err == nil:
		_ = d.Ack(false)
	case errors.Is(err, domain.ErrMalformedPayload):
		// Unparseable messages are consumed and dropped; requeueing them
		// would just loop forever.
		c.logger.Error().Err(err).Str(log.FieldQueue, queue).Msg("dropping malformed message")
		_ = d.Ack(false)
	case !d.Redelivered:
		c.logger.Warn().Err(err).Str(log.FieldQueue, queue).Msg("handler failed, requeueing for one retry")
		_ = d.Nack(false, true)
	default:
		c.logger.Error().Err(err).Str(log.FieldQueue, queue).Msg("handler failed on redelivery, dropping")
		_ = d.Nack(false, false)
	}
}

func (c *Client) safeHandle(ctx context.Context, d amqp091.Delivery, handler Handler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(ctx, Delivery{
		Body:        d.Body,
		RoutingKey:  d.RoutingKey,
		Redelivered: d.Redelivered,
	})
}

func declareTopology(ch amqpChannel) error {
	if err := ch.ExchangeDeclare(domain.Exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	bindings := []struct {
		queue      string
		routingKey string
	}{
		{domain.MessagesQueue, domain.RouteMessageNew},
		{domain.NotificationsQueue, domain.RouteNotificationSend},
	}
	for _, b := range bindings {
		if _, err := ch.QueueDeclare(b.queue, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare queue %s: %w", b.queue, err)
		}
		if err := ch.QueueBind(b.queue, b.routingKey, domain.Exchange, false, nil); err != nil {
			return fmt.Errorf("bind queue %s key=%s: %w", b.queue, b.routingKey, err)
		}
	}
	return nil
}

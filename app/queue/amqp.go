package queue

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

const (
	amqpInitialReconnectDelay = time.Second
	amqpMaxReconnectDelay     = 30 * time.Second
	amqpDialTimeout           = 30 * time.Second
	amqpHeartbeat             = 10 * time.Second
)

// ErrBrokerUnavailable is returned to publishers while another caller is
// still reconnecting.
var ErrBrokerUnavailable = errors.New("broker reconnecting")

type AMQPConfig struct {
	URL      string
	Queue    string
	Prefetch int
}

// AMQPBroker publishes persistent messages to a durable RabbitMQ queue and
// reconnects with exponential backoff when the connection drops.
type AMQPBroker struct {
	cfg  AMQPConfig
	dial func(ctx context.Context, url string) (*amqp.Connection, error)

	mu      sync.Mutex
	conn    *amqp.Connection
	pubCh   *amqp.Channel
	dialing bool
	closed  bool
}

func NewAMQPBroker(cfg AMQPConfig) *AMQPBroker {
	return &AMQPBroker{cfg: cfg, dial: dialAMQP}
}

// dialAMQP bounds both the TCP connect and the AMQP handshake by ctx.
func dialAMQP(ctx context.Context, url string) (*amqp.Connection, error) {
	return amqp.DialConfig(url, amqp.Config{
		Heartbeat: amqpHeartbeat,
		Locale:    "en_US",
		Dial: func(network, addr string) (net.Conn, error) {
			dialer := net.Dialer{Timeout: amqpDialTimeout}
			conn, err := dialer.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			deadline := time.Now().Add(amqpDialTimeout)
			if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
				deadline = ctxDeadline
			}
			// amqp clears the deadline once the handshake completes.
			if err = conn.SetDeadline(deadline); err != nil {
				_ = conn.Close()
				return nil, err
			}
			return conn, nil
		},
	})
}

// Connect dials the broker and declares the queue.
func (b *AMQPBroker) Connect(ctx context.Context) error {
	_, err := b.publishChannel(ctx)
	return err
}

func (b *AMQPBroker) Publish(ctx context.Context, body []byte) error {
	ch, err := b.publishChannel(ctx)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBrokerClosed
	}

	err = ch.PublishWithContext(ctx, "", b.cfg.Queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		if b.pubCh == ch {
			b.resetLocked()
		}
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

func (b *AMQPBroker) Consume(ctx context.Context) (<-chan Delivery, error) {
	out := make(chan Delivery)
	go func() {
		defer close(out)

		delay := amqpInitialReconnectDelay
		for ctx.Err() == nil && !b.isClosed() {
			err := b.consumeOnce(ctx, out)
			if err == nil || ctx.Err() != nil {
				return
			}

			logrus.WithError(err).WithField("retry_in", delay.String()).Warn("AMQP consumer disconnected")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			}
			if delay < amqpMaxReconnectDelay {
				delay *= 2
			}
		}
	}()
	return out, nil
}

func (b *AMQPBroker) consumeOnce(ctx context.Context, out chan<- Delivery) error {
	conn, err := b.dial(ctx, b.cfg.URL)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if b.cfg.Prefetch > 0 {
		if err = ch.Qos(b.cfg.Prefetch, 0, false); err != nil {
			return fmt.Errorf("qos: %w", err)
		}
	}
	if err = declareQueue(ch, b.cfg.Queue); err != nil {
		return err
	}

	msgs, err := ch.Consume(b.cfg.Queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}
	logrus.WithField("queue", b.cfg.Queue).Info("AMQP consumer started")

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			select {
			case out <- amqpDelivery{d: d}:
			case <-ctx.Done():
				_ = d.Nack(false, true)
				return nil
			}
		}
	}
}

func (b *AMQPBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	var err error
	if b.pubCh != nil {
		err = b.pubCh.Close()
	}
	if b.conn != nil {
		if cerr := b.conn.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	b.pubCh, b.conn = nil, nil
	return err
}

func (b *AMQPBroker) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.closed
}

// publishChannel returns the shared publishing channel, dialing outside the
// lock when it is missing. Only one caller dials at a time; the others fail
// fast with ErrBrokerUnavailable instead of queueing behind it.
func (b *AMQPBroker) publishChannel(ctx context.Context) (*amqp.Channel, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrBrokerClosed
	}
	if b.pubCh != nil && !b.pubCh.IsClosed() {
		ch := b.pubCh
		b.mu.Unlock()
		return ch, nil
	}
	if b.dialing {
		b.mu.Unlock()
		return nil, ErrBrokerUnavailable
	}
	b.resetLocked()
	b.dialing = true
	b.mu.Unlock()

	conn, ch, err := b.openPublisher(ctx)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.dialing = false
	if err != nil {
		return nil, err
	}
	if b.closed {
		_ = ch.Close()
		_ = conn.Close()
		return nil, ErrBrokerClosed
	}
	b.conn, b.pubCh = conn, ch
	return ch, nil
}

func (b *AMQPBroker) openPublisher(ctx context.Context) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := b.dial(ctx, b.cfg.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("channel open: %w", err)
	}
	if err = declareQueue(ch, b.cfg.Queue); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, nil, err
	}
	return conn, ch, nil
}

func (b *AMQPBroker) resetLocked() {
	if b.pubCh != nil {
		_ = b.pubCh.Close()
	}
	if b.conn != nil {
		_ = b.conn.Close()
	}
	b.pubCh, b.conn = nil, nil
}

func declareQueue(ch *amqp.Channel, name string) error {
	if _, err := ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	return nil
}

type amqpDelivery struct {
	d amqp.Delivery
}

func (d amqpDelivery) Body() []byte {
	return d.d.Body
}

func (d amqpDelivery) Ack() error {
	return d.d.Ack(false)
}

func (d amqpDelivery) Nack(requeue bool) error {
	return d.d.Nack(false, requeue)
}

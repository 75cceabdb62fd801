package queue

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/sirupsen/logrus"
)

// MemoryBroker is an in-process broker backed by a buffered channel.
type MemoryBroker struct {
	mu       sync.RWMutex
	messages chan []byte
	closed   bool
	done     chan struct{}
}

func NewMemoryBroker(capacity int) *MemoryBroker {
	if capacity <= 0 {
		capacity = 1
	}
	return &MemoryBroker{
		messages: make(chan []byte, capacity),
		done:     make(chan struct{}),
	}
}

func (b *MemoryBroker) Publish(ctx context.Context, body []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return ErrBrokerClosed
	}

	msg := make([]byte, len(body))
	copy(msg, body)

	select {
	case b.messages <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *MemoryBroker) Consume(ctx context.Context) (<-chan Delivery, error) {
	out := make(chan Delivery)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case <-b.done:
				return
			case body := <-b.messages:
				d := &memoryDelivery{broker: b, body: body}
				select {
				case out <- d:
				case <-ctx.Done():
					b.requeue(body)
					return
				}
			}
		}
	}()
	return out, nil
}

// Pending reports how many messages are waiting.
func (b *MemoryBroker) Pending() int {
	return len(b.messages)
}

func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.closed {
		b.closed = true
		close(b.done)
	}
	return nil
}

func (b *MemoryBroker) requeue(body []byte) {
	select {
	case b.messages <- body:
	default:
		var job Job
		_ = json.Unmarshal(body, &job)
		logrus.WithFields(logrus.Fields{
			"job_id":   job.ID,
			"template": job.Template,
		}).Warn("Memory queue full, dropping requeued email job")
	}
}

type memoryDelivery struct {
	broker *MemoryBroker
	body   []byte
}

func (d *memoryDelivery) Body() []byte {
	return d.body
}

func (d *memoryDelivery) Ack() error {
	return nil
}

func (d *memoryDelivery) Nack(requeue bool) error {
	if requeue {
		d.broker.requeue(d.body)
	}
	return nil
}

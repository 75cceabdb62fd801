package queue

import (
	"context"
	"errors"
)

var ErrBrokerClosed = errors.New("broker closed")

type Broker interface {
	Publish(ctx context.Context, body []byte) error
	// Consume returns a channel that is closed when ctx ends or the broker
	// shuts down.
	Consume(ctx context.Context) (<-chan Delivery, error)
	Close() error
}

// Package queue moves email jobs from request handlers to background workers.
package queue

import (
	"time"

	"github.com/google/uuid"
)

// Job is one email to deliver. It is JSON-encoded on the broker.
type Job struct {
	ID         string            `json:"id"`
	Recipient  string            `json:"recipient"`
	Template   string            `json:"template"`
	Payload    map[string]string `json:"payload"`
	EnqueuedAt time.Time         `json:"enqueued_at"`
}

func NewJob(recipient, template string, payload map[string]string) Job {
	return Job{
		ID:         uuid.NewString(),
		Recipient:  recipient,
		Template:   template,
		Payload:    payload,
		EnqueuedAt: time.Now().UTC(),
	}
}

// Delivery is a message handed to a worker. Exactly one of Ack or Nack must
// be called.
type Delivery interface {
	Body() []byte
	Ack() error
	Nack(requeue bool) error
}

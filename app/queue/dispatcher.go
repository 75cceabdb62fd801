package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"
)

// Dispatcher hands jobs to the broker without making callers wait on
// delivery.
type Dispatcher struct {
	broker         Broker
	publishTimeout time.Duration
}

func NewDispatcher(broker Broker, publishTimeout time.Duration) *Dispatcher {
	if publishTimeout <= 0 {
		publishTimeout = 5 * time.Second
	}
	return &Dispatcher{broker: broker, publishTimeout: publishTimeout}
}

// Enqueue publishes job. Failures are logged and never returned, so a broken
// queue cannot change the outcome of the request that produced the job.
func (d *Dispatcher) Enqueue(ctx context.Context, job Job) {
	fields := logrus.Fields{
		"job_id":   job.ID,
		"template": job.Template,
	}

	body, err := json.Marshal(job)
	if err != nil {
		logrus.WithError(err).WithFields(fields).Error("Failed to encode email job")
		return
	}

	publishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.publishTimeout)
	defer cancel()

	if err = d.broker.Publish(publishCtx, body); err != nil {
		logrus.WithError(err).WithFields(fields).Error("Failed to enqueue email job")
		return
	}
	logrus.WithFields(fields).Debug("Email job enqueued")
}

package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/vibast-solutions/ms-go-session-auth/app/entity"
	"github.com/vibast-solutions/ms-go-session-auth/app/mail"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var errInvalidJob = errors.New("job has no recipient or template")

type DeadLetterSink interface {
	Create(ctx context.Context, letter *entity.DeadLetter) error
}

type WorkerPool struct {
	broker  Broker
	sender  mail.Sender
	sink    DeadLetterSink
	workers int
	retry   RetryPolicy
	wait    func(ctx context.Context, d time.Duration) error
}

func NewWorkerPool(broker Broker, sender mail.Sender, sink DeadLetterSink, workers int, retry RetryPolicy) *WorkerPool {
	if workers <= 0 {
		workers = 1
	}
	return &WorkerPool{
		broker:  broker,
		sender:  sender,
		sink:    sink,
		workers: workers,
		retry:   retry,
		wait:    sleepContext,
	}
}

// Run consumes until ctx is cancelled or the broker closes its delivery
// channel.
func (p *WorkerPool) Run(ctx context.Context) error {
	deliveries, err := p.broker.Consume(ctx)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < p.workers; i++ {
		worker := i
		g.Go(func() error {
			logrus.WithField("worker", worker).Debug("Email worker started")
			for {
				select {
				case <-gctx.Done():
					return nil
				case d, ok := <-deliveries:
					if !ok {
						return nil
					}
					p.handle(gctx, d)
				}
			}
		})
	}
	return g.Wait()
}

func (p *WorkerPool) handle(ctx context.Context, d Delivery) {
	var job Job
	if err := json.Unmarshal(d.Body(), &job); err != nil {
		p.deadLetter(ctx, d, Job{}, rawPayload(d.Body()), 0, err)
		return
	}
	if job.Recipient == "" || job.Template == "" {
		p.deadLetter(ctx, d, job, string(d.Body()), 0, errInvalidJob)
		return
	}

	attempts, err := p.deliver(ctx, job)
	if err == nil {
		if ackErr := d.Ack(); ackErr != nil {
			logrus.WithError(ackErr).WithField("job_id", job.ID).Warn("Failed to ack email job")
		}
		logrus.WithFields(logrus.Fields{"job_id": job.ID, "attempts": attempts}).Info("Email sent")
		return
	}

	if ctx.Err() != nil {
		_ = d.Nack(true)
		return
	}

	payload, _ := json.Marshal(job.Payload)
	p.deadLetter(ctx, d, job, string(payload), attempts, err)
}

// rawPayload wraps an undecodable body so it still fits the JSON column.
func rawPayload(body []byte) string {
	wrapped, _ := json.Marshal(map[string]string{"raw": string(body)})
	return string(wrapped)
}

func (p *WorkerPool) deliver(ctx context.Context, job Job) (int, error) {
	var err error
	max := p.retry.attempts()
	for attempt := 1; attempt <= max; attempt++ {
		err = p.sender.Send(ctx, job.Recipient, job.Template, job.Payload)
		if err == nil {
			return attempt, nil
		}
		if errors.Is(err, mail.ErrUnknownTemplate) {
			return attempt, err
		}

		logrus.WithError(err).WithFields(logrus.Fields{
			"job_id":  job.ID,
			"attempt": attempt,
		}).Warn("Email delivery failed")

		if attempt == max {
			return attempt, err
		}
		if waitErr := p.wait(ctx, p.retry.Backoff(attempt)); waitErr != nil {
			return attempt, waitErr
		}
	}
	return max, err
}

func (p *WorkerPool) deadLetter(ctx context.Context, d Delivery, job Job, payload string, attempts int, cause error) {
	letter := &entity.DeadLetter{
		JobID:       job.ID,
		Recipient:   job.Recipient,
		Template:    job.Template,
		PayloadJSON: payload,
		Attempts:    attempts,
		LastError:   cause.Error(),
		FailedAt:    time.Now().UTC(),
	}

	fields := logrus.Fields{"job_id": job.ID, "attempts": attempts}
	if err := p.sink.Create(context.WithoutCancel(ctx), letter); err != nil {
		logrus.WithError(err).WithFields(fields).Error("Failed to record dead letter, requeueing job")
		_ = d.Nack(true)
		return
	}

	logrus.WithError(cause).WithFields(fields).Error("Email job moved to dead letters")
	if err := d.Ack(); err != nil {
		logrus.WithError(err).WithFields(fields).Warn("Failed to ack dead-lettered job")
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

package webhook

import (
	"context"
	"errors"

	log "github.com/sirupsen/logrus"

	"instagram-automation/internal/automation"
	"instagram-automation/internal/queue"
)

type Enqueuer interface {
	Add(ctx context.Context, job *queue.Job, opts queue.AddOptions) error
}

type Processor interface {
	Process(ctx context.Context, ev automation.Event) error
}

// Dispatcher hands classified events to the queue, or to the processor
// directly when no queue is configured.
type Dispatcher struct {
	queue     Enqueuer
	processor Processor
}

func NewDispatcher(q Enqueuer, p Processor) *Dispatcher {
	return &Dispatcher{queue: q, processor: p}
}

func (d *Dispatcher) Dispatch(ctx context.Context, ev automation.Event, entryTime int64) error {
	fields := log.Fields{
		"account_id": ev.AccountID,
		"sender_id":  ev.SenderID,
		"event":      ev.Kind,
	}

	if d.queue == nil {
		log.WithFields(fields).Debug("Queue disabled, processing inline")
		return d.processor.Process(ctx, ev)
	}

	job, err := ev.Job(entryTime)
	if err != nil {
		return err
	}
	err = d.queue.Add(ctx, job, queue.AddOptions{})
	if errors.Is(err, queue.ErrDuplicateJob) {
		log.WithFields(fields).WithField("job_id", job.ID).Debug("Duplicate delivery ignored")
		return nil
	}
	if err != nil {
		return err
	}
	log.WithFields(fields).WithField("job_id", job.ID).Debug("Event enqueued")
	return nil
}

package queue

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"
)

// DeadLetterSink receives a copy of every dead-lettered job in addition to the
// backend's own dead-letter list.
type DeadLetterSink interface {
	Publish(ctx context.Context, job *Job) error
}

// Queue is the producer and operator side of a backend.
type Queue struct {
	backend     Backend
	maxAttempts int
	sinks       []DeadLetterSink

	wake chan struct{}
}

func New(backend Backend, maxAttempts int, sinks ...DeadLetterSink) *Queue {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Queue{
		backend:     backend,
		maxAttempts: maxAttempts,
		sinks:       sinks,
		wake:        make(chan struct{}, 1),
	}
}

func (q *Queue) Backend() Backend {
	return q.backend
}

// Add enqueues a job, filling in priority, attempt cap and timestamps. A job
// whose id is already known returns ErrDuplicateJob.
func (q *Queue) Add(ctx context.Context, job *Job, opts AddOptions) error {
	if job.ID == "" {
		return errors.New("job id is required")
	}
	if job.Priority == 0 {
		job.Priority = PriorityFor(job.Type)
	}
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = q.maxAttempts
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now()
	}
	if err := q.backend.Add(ctx, job, opts); err != nil {
		return err
	}
	q.signal()
	return nil
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) Counts(ctx context.Context) (Counts, error) {
	return q.backend.Counts(ctx)
}

func (q *Queue) DeadLetters(ctx context.Context, limit int) ([]*Job, error) {
	return q.backend.DeadLetters(ctx, limit)
}

func (q *Queue) ReplayDeadLetter(ctx context.Context, id string) error {
	if err := q.backend.ReplayDeadLetter(ctx, id); err != nil {
		return err
	}
	q.signal()
	return nil
}

func (q *Queue) PurgeDeadLetters(ctx context.Context) (int, error) {
	return q.backend.PurgeDeadLetters(ctx)
}

func (q *Queue) deadLetter(ctx context.Context, job *Job) {
	entry := log.WithFields(log.Fields{
		"job_id":     job.ID,
		"job_type":   job.Type,
		"account_id": job.AccountID,
		"attempts":   job.Attempts,
	})
	if err := q.backend.DeadLetter(ctx, job); err != nil {
		entry.WithError(err).Error("Failed to dead-letter job")
	}
	for _, sink := range q.sinks {
		if err := sink.Publish(ctx, job); err != nil {
			entry.WithError(err).Warn("Dead-letter sink publish failed")
		}
	}
	entry.WithField("reason", job.LastError).Warn("Job moved to dead-letter queue")
}

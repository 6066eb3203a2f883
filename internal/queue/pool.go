package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Handler processes one job. A returned error schedules a retry.
type Handler func(ctx context.Context, job *Job) error

type PoolConfig struct {
	Concurrency       int
	RateLimitMax      int
	RateLimitWindow   time.Duration
	IdleCheckInterval time.Duration
	BackoffBase       time.Duration
	// PollInterval paces delayed-job promotion, stalled-lease recovery and
	// empty-queue polling.
	PollInterval time.Duration
}

func (c PoolConfig) withDefaults() PoolConfig {
	if c.Concurrency <= 0 {
		c.Concurrency = 1
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 2 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 250 * time.Millisecond
	}
	return c
}

// Pool runs handler over claimed jobs with bounded concurrency.
type Pool struct {
	queue   *Queue
	handler Handler
	cfg     PoolConfig
	limiter *rateLimiter

	mu       sync.Mutex
	paused   bool
	resumeCh chan struct{}

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewPool(q *Queue, handler Handler, cfg PoolConfig) *Pool {
	cfg = cfg.withDefaults()
	return &Pool{
		queue:    q,
		handler:  handler,
		cfg:      cfg,
		limiter:  newRateLimiter(cfg.RateLimitMax, cfg.RateLimitWindow),
		resumeCh: make(chan struct{}),
		stopCh:   make(chan struct{}),
	}
}

// Backoff is the retry delay after the given attempt number.
func Backoff(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 20 {
		attempt = 20
	}
	return base * time.Duration(1<<uint(attempt-1))
}

func (p *Pool) Start(ctx context.Context) {
	log.WithFields(log.Fields{
		"concurrency": p.cfg.Concurrency,
		"rate_max":    p.cfg.RateLimitMax,
		"rate_window": p.cfg.RateLimitWindow,
	}).Info("Starting worker pool")

	if n, ok := p.queue.backend.(Notifier); ok {
		events := n.Subscribe(ctx)
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for {
				select {
				case <-p.stopCh:
					return
				case <-ctx.Done():
					return
				case <-events:
					p.Resume()
					p.queue.signal()
				}
			}
		}()
	}

	p.wg.Add(1)
	go p.maintain(ctx)

	for i := 0; i < p.cfg.Concurrency; i++ {
		p.wg.Add(1)
		go p.work(ctx, i)
	}
}

func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopCh)
	})
	p.wg.Wait()
	log.Info("Worker pool stopped")
}

func (p *Pool) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

func (p *Pool) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.paused {
		return
	}
	p.paused = true
	p.resumeCh = make(chan struct{})
	log.Debug("Worker pool paused: queue idle")
}

func (p *Pool) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.paused {
		return
	}
	p.paused = false
	close(p.resumeCh)
	log.Debug("Worker pool resumed")
}

func (p *Pool) maintain(ctx context.Context) {
	defer p.wg.Done()

	poll := time.NewTicker(p.cfg.PollInterval)
	defer poll.Stop()

	var idle <-chan time.Time
	if p.cfg.IdleCheckInterval > 0 {
		t := time.NewTicker(p.cfg.IdleCheckInterval)
		defer t.Stop()
		idle = t.C
	}

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-poll.C:
			if n, err := p.queue.backend.PromoteDue(ctx); err != nil {
				log.WithError(err).Warn("Failed to promote delayed jobs")
			} else if n > 0 {
				p.Resume()
				p.queue.signal()
			}
			if n, err := p.queue.backend.RecoverStalled(ctx); err != nil {
				log.WithError(err).Warn("Failed to recover stalled jobs")
			} else if n > 0 {
				log.WithField("count", n).Warn("Recovered stalled jobs")
				p.Resume()
			}
		case <-idle:
			counts, err := p.queue.backend.Counts(ctx)
			if err != nil {
				log.WithError(err).Debug("Idle check failed")
				continue
			}
			if counts.Pending() == 0 {
				p.Pause()
			} else {
				p.Resume()
			}
		}
	}
}

func (p *Pool) work(ctx context.Context, worker int) {
	defer p.wg.Done()

	for {
		p.mu.Lock()
		paused, resume := p.paused, p.resumeCh
		p.mu.Unlock()
		if paused {
			select {
			case <-resume:
			case <-p.queue.wake:
				p.Resume()
			case <-p.stopCh:
				return
			case <-ctx.Done():
				return
			}
			continue
		}

		job, err := p.queue.backend.Claim(ctx)
		if err != nil {
			log.WithError(err).WithField("worker", worker).Warn("Failed to claim job")
			if !p.sleep(ctx, p.cfg.PollInterval) {
				return
			}
			continue
		}
		if job == nil {
			select {
			case <-p.queue.wake:
			case <-time.After(p.cfg.PollInterval):
			case <-p.stopCh:
				return
			case <-ctx.Done():
				return
			}
			continue
		}

		for {
			ok, wait := p.limiter.reserve(time.Now())
			if ok {
				break
			}
			if !p.sleep(ctx, wait) {
				// Lease recovery hands the job back out.
				return
			}
		}
		p.process(ctx, job)
	}
}

func (p *Pool) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-p.stopCh:
		return false
	case <-ctx.Done():
		return false
	}
}

func (p *Pool) process(ctx context.Context, job *Job) {
	entry := log.WithFields(log.Fields{
		"job_id":     job.ID,
		"job_type":   job.Type,
		"account_id": job.AccountID,
		"attempt":    job.Attempts,
	})

	if job.Attempts > job.MaxAttempts {
		job.Attempts = job.MaxAttempts
		p.queue.deadLetter(ctx, job)
		return
	}

	err := p.run(ctx, job)
	if err == nil {
		if err := p.queue.backend.Complete(ctx, job); err != nil {
			entry.WithError(err).Warn("Failed to mark job completed")
		}
		return
	}

	job.LastError = err.Error()
	if job.Attempts >= job.MaxAttempts {
		p.queue.deadLetter(ctx, job)
		return
	}

	delay := Backoff(p.cfg.BackoffBase, job.Attempts)
	entry.WithError(err).WithField("retry_in", delay).Warn("Job failed, scheduling retry")
	if err := p.queue.backend.Retry(ctx, job, delay); err != nil {
		entry.WithError(err).Error("Failed to schedule retry")
	}
}

func (p *Pool) run(ctx context.Context, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return p.handler(ctx, job)
}

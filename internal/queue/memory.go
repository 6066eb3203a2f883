package queue

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

type waitItem struct {
	id       string
	priority int
	seq      uint64
}

type waitHeap []waitItem

func (h waitHeap) Len() int { return len(h) }
func (h waitHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].seq < h[j].seq
}
func (h waitHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *waitHeap) Push(x interface{}) { *h = append(*h, x.(waitItem)) }
func (h *waitHeap) Pop() interface{} {
	old := *h
	n := len(old)
	it := old[n-1]
	*h = old[:n-1]
	return it
}

type memRecord struct {
	job     *Job
	expires time.Time
}

// MemoryBackend keeps jobs in process memory. Used when the queue runs
// without redis and in tests.
type MemoryBackend struct {
	mu        sync.Mutex
	seq       uint64
	jobs      map[string]*memRecord
	wait      waitHeap
	delayed   map[string]time.Time
	active    map[string]time.Time
	dead      []string
	lease     time.Duration
	retention time.Duration
	subs      []chan struct{}
	now       func() time.Time
}

func NewMemoryBackend(lease, retention time.Duration) *MemoryBackend {
	if lease <= 0 {
		lease = 2 * time.Minute
	}
	return &MemoryBackend{
		jobs:      make(map[string]*memRecord),
		delayed:   make(map[string]time.Time),
		active:    make(map[string]time.Time),
		lease:     lease,
		retention: retention,
		now:       time.Now,
	}
}

func (m *MemoryBackend) Add(_ context.Context, job *Job, opts AddOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if rec, ok := m.jobs[job.ID]; ok {
		if rec.expires.IsZero() || now.Before(rec.expires) {
			return ErrDuplicateJob
		}
	}

	j := job.clone()
	j.UpdatedAt = now
	if opts.Delay > 0 {
		j.Status = StatusDelayed
		m.delayed[j.ID] = now.Add(opts.Delay)
	} else {
		j.Status = StatusWaiting
		m.pushWait(j)
	}
	m.jobs[j.ID] = &memRecord{job: j}
	m.broadcast()
	return nil
}

func (m *MemoryBackend) pushWait(j *Job) {
	m.seq++
	heap.Push(&m.wait, waitItem{id: j.ID, priority: j.Priority, seq: m.seq})
}

func (m *MemoryBackend) Claim(_ context.Context) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for m.wait.Len() > 0 {
		it := heap.Pop(&m.wait).(waitItem)
		rec, ok := m.jobs[it.id]
		if !ok || rec.job.Status != StatusWaiting {
			continue
		}
		now := m.now()
		rec.job.Attempts++
		rec.job.Status = StatusActive
		rec.job.UpdatedAt = now
		m.active[it.id] = now.Add(m.lease)
		return rec.job.clone(), nil
	}
	return nil, nil
}

func (m *MemoryBackend) Complete(_ context.Context, job *Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.jobs[job.ID]
	if !ok {
		return ErrNotFound
	}
	delete(m.active, job.ID)
	rec.job.Status = StatusCompleted
	rec.job.UpdatedAt = m.now()
	if m.retention > 0 {
		rec.expires = m.now().Add(m.retention)
	} else {
		delete(m.jobs, job.ID)
	}
	return nil
}

func (m *MemoryBackend) Retry(_ context.Context, job *Job, delay time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.jobs[job.ID]
	if !ok {
		return ErrNotFound
	}
	delete(m.active, job.ID)
	rec.job.Priority = PriorityRetry
	rec.job.LastError = job.LastError
	rec.job.UpdatedAt = m.now()
	if delay > 0 {
		rec.job.Status = StatusDelayed
		m.delayed[job.ID] = m.now().Add(delay)
	} else {
		rec.job.Status = StatusWaiting
		m.pushWait(rec.job)
	}
	return nil
}

func (m *MemoryBackend) DeadLetter(_ context.Context, job *Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.jobs[job.ID]
	if !ok {
		return ErrNotFound
	}
	delete(m.active, job.ID)
	rec.job.Status = StatusDead
	rec.job.LastError = job.LastError
	rec.job.Attempts = job.Attempts
	rec.job.UpdatedAt = m.now()
	m.dead = append([]string{job.ID}, m.dead...)
	return nil
}

func (m *MemoryBackend) PromoteDue(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	promoted := 0
	for id, at := range m.delayed {
		if at.After(now) {
			continue
		}
		delete(m.delayed, id)
		rec, ok := m.jobs[id]
		if !ok {
			continue
		}
		rec.job.Status = StatusWaiting
		m.pushWait(rec.job)
		promoted++
	}
	if promoted > 0 {
		m.broadcast()
	}
	return promoted, nil
}

func (m *MemoryBackend) RecoverStalled(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	recovered := 0
	for id, deadline := range m.active {
		if deadline.After(now) {
			continue
		}
		delete(m.active, id)
		rec, ok := m.jobs[id]
		if !ok {
			continue
		}
		rec.job.Status = StatusWaiting
		rec.job.LastError = "lease expired"
		m.pushWait(rec.job)
		recovered++
	}
	return recovered, nil
}

func (m *MemoryBackend) Counts(_ context.Context) (Counts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var waiting int64
	for _, it := range m.wait {
		if rec, ok := m.jobs[it.id]; ok && rec.job.Status == StatusWaiting {
			waiting++
		}
	}
	return Counts{
		Waiting: waiting,
		Delayed: int64(len(m.delayed)),
		Active:  int64(len(m.active)),
		Dead:    int64(len(m.dead)),
	}, nil
}

func (m *MemoryBackend) DeadLetters(_ context.Context, limit int) ([]*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*Job
	for _, id := range m.dead {
		if limit > 0 && len(out) >= limit {
			break
		}
		if rec, ok := m.jobs[id]; ok {
			out = append(out, rec.job.clone())
		}
	}
	return out, nil
}

func (m *MemoryBackend) ReplayDeadLetter(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := -1
	for i, d := range m.dead {
		if d == id {
			idx = i
			break
		}
	}
	rec, ok := m.jobs[id]
	if idx < 0 || !ok {
		return ErrNotFound
	}
	m.dead = append(m.dead[:idx], m.dead[idx+1:]...)
	rec.job.Attempts = 0
	rec.job.Status = StatusWaiting
	rec.job.Priority = PriorityFor(rec.job.Type)
	rec.job.UpdatedAt = m.now()
	m.pushWait(rec.job)
	m.broadcast()
	return nil
}

func (m *MemoryBackend) PurgeDeadLetters(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := len(m.dead)
	for _, id := range m.dead {
		delete(m.jobs, id)
	}
	m.dead = nil
	return n, nil
}

func (m *MemoryBackend) Subscribe(ctx context.Context) <-chan struct{} {
	ch := make(chan struct{}, 1)
	m.mu.Lock()
	m.subs = append(m.subs, ch)
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		for i, s := range m.subs {
			if s == ch {
				m.subs = append(m.subs[:i], m.subs[i+1:]...)
				break
			}
		}
		m.mu.Unlock()
	}()
	return ch
}

func (m *MemoryBackend) broadcast() {
	for _, s := range m.subs {
		select {
		case s <- struct{}{}:
		default:
		}
	}
}

// Package queue is the priority job queue that carries webhook work from the
// HTTP handler to the workers.
package queue

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strconv"
	"time"
)

var (
	ErrDuplicateJob = errors.New("job already exists")
	ErrNotFound     = errors.New("job not found")
)

type JobType string

const (
	TypeDM         JobType = "dm"
	TypePostback   JobType = "postback"
	TypeQuickReply JobType = "quick_reply"
	TypeStoryReply JobType = "story_reply"
	TypeComment    JobType = "comment"
	TypeFollowUp   JobType = "follow_up"
)

type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusDelayed   Status = "delayed"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusDead      Status = "dead"
)

// Lower runs sooner.
const (
	PriorityRetry      = 1
	PriorityDM         = 2
	PriorityStoryReply = 3
	PriorityComment    = 4
)

// PriorityFor maps a job type to its queue priority.
func PriorityFor(t JobType) int {
	switch t {
	case TypeDM, TypePostback, TypeQuickReply, TypeFollowUp:
		return PriorityDM
	case TypeStoryReply:
		return PriorityStoryReply
	case TypeComment:
		return PriorityComment
	default:
		return PriorityComment
	}
}

type Job struct {
	ID          string          `json:"id"`
	Type        JobType         `json:"type"`
	Priority    int             `json:"priority"`
	AccountID   string          `json:"account_id"`
	WorkspaceID string          `json:"workspace_id"`
	EntryTime   int64           `json:"entry_time"`
	Payload     json.RawMessage `json:"payload"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	Status      Status          `json:"status"`
	LastError   string          `json:"last_error,omitempty"`
	EnqueuedAt  time.Time       `json:"enqueued_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

func (j *Job) clone() *Job {
	c := *j
	if j.Payload != nil {
		c.Payload = append(json.RawMessage(nil), j.Payload...)
	}
	return &c
}

// JobID derives the de-duplication id of a provider event. Re-delivery of the
// same event yields the same id.
func JobID(t JobType, accountID string, entryTime int64, messageID string) string {
	h := sha1.New()
	h.Write([]byte(accountID))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatInt(entryTime, 10)))
	h.Write([]byte{0})
	h.Write([]byte(messageID))
	return string(t) + "-" + hex.EncodeToString(h.Sum(nil))[:24]
}

type AddOptions struct {
	Delay time.Duration
}

type Counts struct {
	Waiting int64 `json:"waiting"`
	Delayed int64 `json:"delayed"`
	Active  int64 `json:"active"`
	Dead    int64 `json:"dead"`
}

func (c Counts) Pending() int64 {
	return c.Waiting + c.Delayed + c.Active
}

// Backend stores jobs. Implementations must make Claim exclusive across
// processes.
type Backend interface {
	Add(ctx context.Context, job *Job, opts AddOptions) error
	// Claim returns the most urgent waiting job, or nil when none is waiting.
	// The returned job has Attempts incremented and holds a lease.
	Claim(ctx context.Context) (*Job, error)
	Complete(ctx context.Context, job *Job) error
	Retry(ctx context.Context, job *Job, delay time.Duration) error
	DeadLetter(ctx context.Context, job *Job) error
	PromoteDue(ctx context.Context) (int, error)
	RecoverStalled(ctx context.Context) (int, error)
	Counts(ctx context.Context) (Counts, error)
	DeadLetters(ctx context.Context, limit int) ([]*Job, error)
	ReplayDeadLetter(ctx context.Context, id string) error
	PurgeDeadLetters(ctx context.Context) (int, error)
}

// Notifier is implemented by backends that announce added jobs to other
// processes.
type Notifier interface {
	Subscribe(ctx context.Context) <-chan struct{}
}

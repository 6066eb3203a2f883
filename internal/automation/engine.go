package automation

import (
	"context"
	"errors"
	"math/rand/v2"
	"regexp"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"instagram-automation/internal/instagram"
	"instagram-automation/internal/models"
	"instagram-automation/internal/queue"
	"instagram-automation/internal/recorder"
	"instagram-automation/internal/store"
)

// Gateway is the outbound side of the messaging provider.
type Gateway interface {
	Send(ctx context.Context, from instagram.Sender, to instagram.Recipient, m instagram.Message) (int, error)
	React(ctx context.Context, from instagram.Sender, to instagram.Recipient, messageID, reaction string) error
	ReplyToComment(ctx context.Context, from instagram.Sender, commentID, text string) error
	Profile(ctx context.Context, from instagram.Sender, userID string) (*instagram.Profile, error)
}

// Scheduler accepts delayed jobs. *queue.Queue satisfies it.
type Scheduler interface {
	Add(ctx context.Context, job *queue.Job, opts queue.AddOptions) error
}

type Config struct {
	// StateTTL abandons awaiting states older than this; zero keeps them.
	StateTTL     time.Duration
	BrandingText string
}

type Engine struct {
	store     *store.Store
	selector  *Selector
	gateway   Gateway
	recorder  *recorder.Recorder
	followUps Scheduler
	cfg       Config

	now  func() time.Time
	intn func(n int) int
}

func NewEngine(s *store.Store, sel *Selector, gw Gateway, rec *recorder.Recorder, followUps Scheduler, cfg Config) *Engine {
	return &Engine{
		store:     s,
		selector:  sel,
		gateway:   gw,
		recorder:  rec,
		followUps: followUps,
		cfg:       cfg,
		now:       time.Now,
		intn:      rand.IntN,
	}
}

// errNothingSent marks a step whose message was empty for its recipient.
var errNothingSent = errors.New("message had nothing to deliver")

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// run carries one event through one transition.
type run struct {
	ev        Event
	account   *models.Account
	workspace *models.Workspace
	from      instagram.Sender
	flow      *Flow

	// privateReply routes the next message to the triggering comment.
	privateReply bool
	viaComment   bool
	sent         int
	failed       error
}

func (r *run) recipient() instagram.Recipient {
	if r.privateReply {
		return instagram.Recipient{CommentID: r.ev.CommentID}
	}
	return instagram.Recipient{ID: r.ev.SenderID}
}

func (r *run) outcome(kind string, err error) recorder.Outcome {
	o := recorder.Outcome{
		WorkspaceID:    r.account.WorkspaceID,
		AccountID:      r.account.ID,
		SenderID:       r.ev.SenderID,
		Kind:           kind,
		TriggerType:    string(r.ev.Kind),
		TriggerContent: firstNonEmpty(r.ev.Text, r.ev.Payload),
		Err:            err,
	}
	if r.flow != nil {
		o.AutomationID = r.flow.ID
	}
	return o
}

func (r *run) fields() log.Fields {
	f := log.Fields{
		"account_id": r.account.ID,
		"sender_id":  r.ev.SenderID,
		"event":      r.ev.Kind,
	}
	if r.flow != nil {
		f["automation_id"] = r.flow.ID
	}
	return f
}

// HandleJob is the queue handler. Undecodable payloads are dropped.
func (e *Engine) HandleJob(ctx context.Context, job *queue.Job) error {
	ev, err := EventFromJob(job)
	if err != nil {
		log.WithError(err).WithField("job_id", job.ID).Error("Dropping job with malformed payload")
		return nil
	}
	return e.Process(ctx, ev)
}

// Process executes one state machine step for an event. Delivery failures
// are logged and do not fail the call; storage failures do.
func (e *Engine) Process(ctx context.Context, ev Event) error {
	acct, err := e.store.Account(ctx, ev.AccountID)
	if errors.Is(err, store.ErrNotFound) {
		log.WithField("account_id", ev.AccountID).Warn("Dropping event for unknown account")
		return nil
	}
	if err != nil {
		return err
	}
	ws, err := e.store.Workspace(ctx, acct.WorkspaceID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}

	r := &run{
		ev:        ev,
		account:   acct,
		workspace: ws,
		from: instagram.Sender{
			AccountID:   firstNonEmpty(acct.InstagramUserID, acct.ProfessionalID),
			AccessToken: acct.AccessToken,
			Username:    acct.Username,
		},
	}
	if ev.WorkspaceID == "" {
		r.ev.WorkspaceID = acct.WorkspaceID
	}

	if ev.Kind == KindFollowUp {
		return e.sendFollowUp(ctx, r)
	}

	e.recorder.Contact(ctx, store.ContactUpdate{
		AccountID: acct.ID,
		SenderID:  ev.SenderID,
		Username:  ev.Username,
		Type:      string(ev.Kind),
	})

	if ev.Kind == KindPostback || ev.Kind == KindQuickReply {
		if evt, automationID, ok := parsePostback(ev.Payload); ok {
			return e.handleButton(ctx, r, evt, automationID)
		}
		// Other button payloads read like typed text.
		r.ev.Text = firstNonEmpty(ev.Text, ev.Payload)
	}
	return e.handleText(ctx, r)
}

func (e *Engine) handleText(ctx context.Context, r *run) error {
	st, err := e.loadState(ctx, r)
	if err != nil {
		return err
	}

	if st != nil {
		flow, err := e.loadFlow(ctx, st.AutomationID)
		if err != nil {
			return err
		}
		if flow == nil {
			// The automation behind the conversation is gone.
			if err := e.store.DeleteConversationState(ctx, r.ev.SenderID, r.account.ID); err != nil {
				return err
			}
			st = nil
		} else if State(st.State) == StateAwaitingEmail && r.ev.Kind != KindComment {
			r.flow = flow
			return e.fire(ctx, r, StateAwaitingEmail, EventTextReply)
		}
	}

	flow, err := e.selector.Select(ctx, r.ev)
	if err != nil {
		return err
	}
	if flow == nil {
		log.WithFields(r.fields()).Debug("No automation matched")
		return nil
	}
	r.flow = flow

	from := StateNone
	if st != nil {
		from = State(st.State)
	}
	return e.fire(ctx, r, from, EventTrigger)
}

func (e *Engine) handleButton(ctx context.Context, r *run, evt EventType, automationID string) error {
	st, err := e.loadState(ctx, r)
	if err != nil {
		return err
	}
	if st == nil || st.AutomationID != automationID {
		log.WithFields(r.fields()).WithField("payload", r.ev.Payload).Debug("Ignoring button without matching conversation")
		return nil
	}
	flow, err := e.loadFlow(ctx, automationID)
	if err != nil {
		return err
	}
	if flow == nil {
		return e.store.DeleteConversationState(ctx, r.ev.SenderID, r.account.ID)
	}
	r.flow = flow
	r.ev.CommentID = st.CommentID
	return e.fire(ctx, r, State(st.State), evt)
}

// fire runs the transition for (from, evt) and records the run.
func (e *Engine) fire(ctx context.Context, r *run, from State, evt EventType) error {
	fn, err := transition(from, evt)
	if err != nil {
		log.WithFields(r.fields()).WithError(err).Debug("Event ignored")
		return nil
	}
	if err := fn(e, ctx, r); err != nil {
		return err
	}
	e.recorder.Run(ctx, r.outcome(recorder.KindRun, r.failed), r.sent)
	return nil
}

func (e *Engine) loadState(ctx context.Context, r *run) (*models.ConversationState, error) {
	st, err := e.store.ConversationState(ctx, r.ev.SenderID, r.account.ID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if e.cfg.StateTTL > 0 && e.now().Sub(st.UpdatedAt) > e.cfg.StateTTL {
		log.WithFields(r.fields()).WithField("state", st.State).Info("Abandoning stale conversation")
		if err := e.store.DeleteConversationState(ctx, st.SenderID, st.AccountID); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return st, nil
}

// loadFlow returns nil for deleted, inactive or invalid automations.
func (e *Engine) loadFlow(ctx context.Context, id string) (*Flow, error) {
	a, err := e.store.Automation(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !a.IsActive {
		return nil, nil
	}
	f, err := ParseFlow(*a)
	if err != nil {
		log.WithField("automation_id", id).WithError(err).Warn("Stored automation is invalid")
		return nil, nil
	}
	return f, nil
}

func (e *Engine) saveState(ctx context.Context, r *run, s State) error {
	return e.store.PutConversationState(ctx, &models.ConversationState{
		SenderID:     r.ev.SenderID,
		AccountID:    r.account.ID,
		AutomationID: r.flow.ID,
		State:        string(s),
		CommentID:    r.ev.CommentID,
	})
}

// deliver sends m and logs the step. The error is the delivery failure.
func (e *Engine) deliver(ctx context.Context, r *run, kind string, m instagram.Message) error {
	n, err := e.gateway.Send(ctx, r.from, r.recipient(), m)
	if err == nil && n == 0 {
		err = errNothingSent
	}
	r.sent += n
	if n > 0 && r.privateReply {
		r.privateReply = false
		r.viaComment = true
	}
	e.recorder.Step(ctx, r.outcome(kind, err))
	if err != nil {
		r.failed = err
		log.WithFields(r.fields()).WithError(err).WithField("step", kind).Warn("Step delivery failed")
	}
	return err
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

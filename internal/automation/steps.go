package automation

import (
	"context"
	"errors"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"instagram-automation/internal/instagram"
	"instagram-automation/internal/models"
	"instagram-automation/internal/queue"
	"instagram-automation/internal/recorder"
	"instagram-automation/internal/store"
)

// Step log kinds.
const (
	kindPublicReply  = "public_reply"
	kindReaction     = "reaction"
	kindOpening      = "opening"
	kindAskFollow    = "ask_follow"
	kindFollowRemind = "follow_reminder"
	kindAskEmail     = "ask_email"
	kindEmailRetry   = "email_retry"
	kindEmailConfirm = "email_confirmation"
	kindMain         = "main"
	kindFollowUp     = "follow_up"
)

const (
	defaultOpeningTitle = "Send me the link"
	defaultFollowTitle  = "I'm following"
	defaultEmailRetry   = "That doesn't look like an email address. Please try again."
)

func (e *Engine) onTrigger(ctx context.Context, r *run) error {
	actions := r.flow.Actions

	if r.ev.Kind == KindComment && r.ev.CommentID != "" {
		r.privateReply = true
		if text := e.publicReply(actions.PublicReply); text != "" {
			err := e.gateway.ReplyToComment(ctx, r.from, r.ev.CommentID, text)
			e.recorder.Step(ctx, r.outcome(kindPublicReply, err))
			if err != nil {
				log.WithFields(r.fields()).WithError(err).Warn("Public reply failed")
			}
		}
	}

	if actions.ReactToTrigger && r.ev.Kind != KindComment && r.ev.MessageID != "" {
		err := e.gateway.React(ctx, r.from, instagram.Recipient{ID: r.ev.SenderID}, r.ev.MessageID, "love")
		e.recorder.Step(ctx, r.outcome(kindReaction, err))
		if err != nil {
			log.WithFields(r.fields()).WithError(err).Warn("Reaction failed")
		}
	}

	return e.advance(ctx, r, stepOpening)
}

func (e *Engine) onOpeningClick(ctx context.Context, r *run) error {
	return e.advance(ctx, r, stepFollow)
}

func (e *Engine) onFollowConfirm(ctx context.Context, r *run) error {
	profile, err := e.gateway.Profile(ctx, r.from, r.ev.SenderID)
	if err != nil {
		r.failed = err
		log.WithFields(r.fields()).WithError(err).Warn("Follow verification failed")
		return nil
	}
	if profile.IsUserFollowBusiness {
		return e.advance(ctx, r, stepEmail)
	}

	ask := r.flow.Actions.AskFollow
	m := instagram.Message{
		Text:    firstNonEmpty(ask.ReminderText, ask.Text),
		Buttons: withPayload(ask.Buttons, defaultFollowTitle, payloadFollowConfirm+r.flow.ID),
	}
	if err := e.deliver(ctx, r, kindFollowRemind, m); err != nil {
		return nil
	}
	return e.saveState(ctx, r, StateAwaitingFollowConfirmation)
}

func (e *Engine) onEmailReply(ctx context.Context, r *run) error {
	text := firstNonEmpty(r.ev.Text, r.ev.Payload)
	if email := normalizeEmail(text); email != "" {
		e.recorder.Contact(ctx, store.ContactUpdate{
			AccountID:    r.account.ID,
			SenderID:     r.ev.SenderID,
			Email:        email,
			Type:         "email",
			AutomationID: r.flow.ID,
		})
		if confirm := r.flow.Actions.AskEmail.ConfirmationText; confirm != "" {
			if err := e.deliver(ctx, r, kindEmailConfirm, instagram.Message{Text: confirm}); err != nil {
				return nil
			}
		}
		return e.finish(ctx, r)
	}

	// A keyword trigger wins over the re-prompt.
	flow, err := e.selector.Select(ctx, r.ev)
	if err != nil {
		return err
	}
	if flow != nil && flow.KeywordMode == ModeSpecificKeywords {
		r.flow = flow
		return e.onTrigger(ctx, r)
	}

	retry := firstNonEmpty(r.flow.Actions.AskEmail.RetryText, defaultEmailRetry)
	if err := e.deliver(ctx, r, kindEmailRetry, instagram.Message{Text: retry}); err != nil {
		return nil
	}
	return e.saveState(ctx, r, StateAwaitingEmail)
}

// advance sends the first enabled prompt at or after from and parks the
// conversation on it. With no prompt left it finishes the flow.
func (e *Engine) advance(ctx context.Context, r *run, from step) error {
	for s := from; s < stepMain; s++ {
		m, ok := e.prompt(r, s)
		if !ok {
			continue
		}
		if err := e.deliver(ctx, r, promptKind(s), m); err != nil {
			return nil
		}
		return e.saveState(ctx, r, stateFor(s))
	}
	return e.finish(ctx, r)
}

func (e *Engine) prompt(r *run, s step) (instagram.Message, bool) {
	a := r.flow.Actions
	switch s {
	case stepOpening:
		if !a.openingEnabled() {
			return instagram.Message{}, false
		}
		return instagram.Message{
			Text:     a.OpeningMessage.Text,
			ImageURL: a.OpeningMessage.ImageURL,
			Buttons:  withPayload(a.OpeningMessage.Buttons, defaultOpeningTitle, payloadOpening+r.flow.ID),
		}, true
	case stepFollow:
		if !a.followEnabled() {
			return instagram.Message{}, false
		}
		return instagram.Message{
			Text:    a.AskFollow.Text,
			Buttons: withPayload(a.AskFollow.Buttons, defaultFollowTitle, payloadFollowConfirm+r.flow.ID),
		}, true
	case stepEmail:
		if !a.emailEnabled() {
			return instagram.Message{}, false
		}
		return instagram.Message{Text: a.AskEmail.Text}, true
	}
	return instagram.Message{}, false
}

func promptKind(s step) string {
	switch s {
	case stepOpening:
		return kindOpening
	case stepFollow:
		return kindAskFollow
	case stepEmail:
		return kindAskEmail
	}
	return kindMain
}

// finish sends the main message, clears the conversation and queues what
// follows it.
func (e *Engine) finish(ctx context.Context, r *run) error {
	main := r.flow.Actions.MainMessage
	m := instagram.Message{Text: main.Text, Buttons: main.Buttons, ImageURL: main.ImageURL}
	if r.flow.Type == TypeDMReply || r.flow.Type == TypeGenericDMReply {
		m.Elements = main.Elements
	}
	wasPrivate := r.privateReply
	if err := e.deliver(ctx, r, kindMain, m); err != nil {
		// Logged by deliver; the state stays so the sender can retry.
		return nil
	}

	if err := e.store.DeleteConversationState(ctx, r.ev.SenderID, r.account.ID); err != nil {
		return err
	}
	e.scheduleFollowUp(ctx, r)
	if !wasPrivate {
		e.sendBranding(ctx, r)
	}
	return nil
}

func (e *Engine) scheduleFollowUp(ctx context.Context, r *run) {
	fu := r.flow.Actions.FollowUp
	if fu == nil || !fu.Enabled || e.followUps == nil {
		return
	}
	ev := Event{
		Kind:         KindFollowUp,
		AccountID:    r.account.ID,
		WorkspaceID:  r.account.WorkspaceID,
		SenderID:     r.ev.SenderID,
		AutomationID: r.flow.ID,
		Timestamp:    e.now().UnixMilli(),
	}
	entry := r.ev.Timestamp
	if entry == 0 {
		entry = ev.Timestamp
	}
	job, err := ev.Job(entry)
	if err != nil {
		log.WithFields(r.fields()).WithError(err).Error("Failed to build follow-up job")
		return
	}
	delay := time.Duration(fu.DelayMinutes) * time.Minute
	err = e.followUps.Add(ctx, job, queue.AddOptions{Delay: delay})
	switch {
	case errors.Is(err, queue.ErrDuplicateJob):
	case err != nil:
		log.WithFields(r.fields()).WithError(err).Error("Failed to schedule follow-up")
	default:
		log.WithFields(r.fields()).WithField("delay", delay).Debug("Follow-up scheduled")
	}
}

func (e *Engine) sendFollowUp(ctx context.Context, r *run) error {
	flow, err := e.loadFlow(ctx, r.ev.AutomationID)
	if err != nil {
		return err
	}
	if flow == nil || flow.Actions.FollowUp == nil || !flow.Actions.FollowUp.Enabled {
		return nil
	}
	r.flow = flow
	fu := flow.Actions.FollowUp
	// Logged by deliver and reflected in the run outcome below.
	_ = e.deliver(ctx, r, kindFollowUp, instagram.Message{Text: fu.Text, Buttons: fu.Buttons})
	e.recorder.Run(ctx, r.outcome(recorder.KindRun, r.failed), r.sent)
	return nil
}

// sendBranding appends the daily branding line for free workspaces.
func (e *Engine) sendBranding(ctx context.Context, r *run) {
	if e.cfg.BrandingText == "" || r.workspace == nil || r.workspace.Plan != models.PlanFree {
		return
	}
	sent, err := e.recorder.BrandingSentToday(ctx, r.account.ID, r.ev.SenderID)
	if err != nil {
		log.WithFields(r.fields()).WithError(err).Warn("Branding lookup failed")
		return
	}
	if sent {
		return
	}
	n, err := e.gateway.Send(ctx, r.from, instagram.Recipient{ID: r.ev.SenderID}, instagram.Message{Text: e.cfg.BrandingText})
	r.sent += n
	e.recorder.Step(ctx, r.outcome(recorder.KindBranding, err))
}

func (e *Engine) publicReply(pr *PublicReply) string {
	if pr == nil || !pr.Enabled {
		return ""
	}
	var candidates []string
	for _, o := range pr.Replies {
		if o.Enabled && o.Text != "" {
			candidates = append(candidates, o.Text)
		}
	}
	if len(candidates) == 0 {
		return ""
	}
	return candidates[e.intn(len(candidates))]
}

// withPayload points the first postback button at payload, adding one when
// none exists.
func withPayload(buttons []instagram.Button, title, payload string) []instagram.Button {
	out := make([]instagram.Button, 0, len(buttons)+1)
	found := false
	for _, b := range buttons {
		if b.Kind == instagram.ButtonPostback && !found {
			b.Payload = payload
			found = true
		}
		out = append(out, b)
	}
	if found {
		return out
	}
	btn := instagram.Button{Kind: instagram.ButtonPostback, Title: title, Payload: payload}
	if len(out) >= instagram.MaxButtons {
		out = out[:instagram.MaxButtons-1]
	}
	return append(out, btn)
}

func normalizeEmail(text string) string {
	text = strings.TrimSpace(text)
	if !emailPattern.MatchString(text) {
		return ""
	}
	return text
}

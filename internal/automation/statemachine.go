package automation

import (
	"context"
	"errors"
	"fmt"
)

// ErrNoTransition means the current state does not accept the event.
var ErrNoTransition = errors.New("no transition for state and event")

// State is the awaited response of a conversation. StateNone has no record.
type State string

const (
	StateNone                       State = ""
	StateAwaitingOpeningResponse    State = "AWAITING_OPENING_RESPONSE"
	StateAwaitingFollowConfirmation State = "AWAITING_FOLLOW_CONFIRMATION"
	StateAwaitingEmail              State = "AWAITING_EMAIL"
)

// EventType is what the user did, as seen by the state machine.
type EventType string

const (
	EventTrigger       EventType = "trigger"
	EventOpeningClick  EventType = "opening_click"
	EventFollowConfirm EventType = "follow_confirm"
	EventTextReply     EventType = "text_reply"
)

// step is a position in the fixed step order.
type step int

const (
	stepOpening step = iota
	stepFollow
	stepEmail
	stepMain
)

type transitionKey struct {
	from  State
	event EventType
}

type stepFunc func(e *Engine, ctx context.Context, r *run) error

// transitions lists every legal (state, event) pair. A trigger is accepted in
// any state and replaces the conversation.
var transitions = map[transitionKey]stepFunc{
	{StateNone, EventTrigger}:                             (*Engine).onTrigger,
	{StateAwaitingOpeningResponse, EventTrigger}:          (*Engine).onTrigger,
	{StateAwaitingFollowConfirmation, EventTrigger}:       (*Engine).onTrigger,
	{StateAwaitingEmail, EventTrigger}:                    (*Engine).onTrigger,
	{StateAwaitingOpeningResponse, EventOpeningClick}:     (*Engine).onOpeningClick,
	{StateAwaitingFollowConfirmation, EventFollowConfirm}: (*Engine).onFollowConfirm,
	{StateAwaitingEmail, EventTextReply}:                  (*Engine).onEmailReply,
}

func transition(from State, event EventType) (stepFunc, error) {
	fn, ok := transitions[transitionKey{from, event}]
	if !ok {
		return nil, fmt.Errorf("%w: %q on %q", ErrNoTransition, event, from)
	}
	return fn, nil
}

// stateFor is the state entered after sending the prompt of s.
func stateFor(s step) State {
	switch s {
	case stepOpening:
		return StateAwaitingOpeningResponse
	case stepFollow:
		return StateAwaitingFollowConfirmation
	case stepEmail:
		return StateAwaitingEmail
	}
	return StateNone
}

package interaction

import "errors"

// State is where an interaction stands in the login flow.
type State string

const (
	AwaitingEmail             State = "AwaitingEmail"
	AwaitingCode              State = "AwaitingCode"
	AwaitingFederatedRedirect State = "AwaitingFederatedRedirect"
	AwaitingFederatedCallback State = "AwaitingFederatedCallback"
	Resolved                  State = "Resolved"
	Aborted                   State = "Aborted"
)

// Event moves an interaction between states.
type Event string

const (
	EventLoginPrompt      Event = "login_prompt"
	EventEmailSubmitted   Event = "email_submitted"
	EventCodeRejected     Event = "code_rejected"
	EventCodeAccepted     Event = "code_accepted"
	EventProviderChosen   Event = "provider_chosen"
	EventRedirected       Event = "redirected"
	EventCallbackVerified Event = "callback_verified"
	EventCallbackRejected Event = "callback_rejected"
	EventAbortRequested   Event = "abort_requested"
)

// ErrFinished is returned for any event after Resolved or Aborted.
var ErrFinished = errors.New("interaction already finished")

var transitions = map[Event]State{
	EventLoginPrompt:      AwaitingEmail,
	EventEmailSubmitted:   AwaitingCode,
	EventCodeRejected:     AwaitingCode,
	EventCodeAccepted:     Resolved,
	EventProviderChosen:   AwaitingFederatedRedirect,
	EventRedirected:       AwaitingFederatedCallback,
	EventCallbackVerified: Resolved,
	EventCallbackRejected: AwaitingEmail,
	EventAbortRequested:   Aborted,
}

// Terminal reports whether s ends the interaction.
func (s State) Terminal() bool {
	return s == Resolved || s == Aborted
}

// Advance applies ev to from. Every non-terminal state accepts every
// event because each step arrives as an independent request.
func Advance(from State, ev Event) (State, error) {
	if from.Terminal() {
		return from, ErrFinished
	}
	to, ok := transitions[ev]
	if !ok {
		return from, errors.New("unknown event " + string(ev))
	}
	return to, nil
}

// StateOf derives the current state from what the engine has recorded.
func StateOf(d *Details) State {
	switch {
	case d.Result == nil:
		return AwaitingEmail
	case d.Result.Login != nil:
		return Resolved
	default:
		return Aborted
	}
}

package authcore

import (
	"log/slog"
	"sync"
)

// DialogueState tracks where a login attempt sits between the helper and
// the browser.
type DialogueState int

const (
	StateSpawning DialogueState = iota
	StateAwaitingHelper
	StateAwaitingClient
)

func (s DialogueState) String() string {
	switch s {
	case StateSpawning:
		return "spawning"
	case StateAwaitingHelper:
		return "awaiting-helper"
	case StateAwaitingClient:
		return "awaiting-client"
	default:
		return "unknown"
	}
}

// Prompt describes a challenge the helper wants relayed to the browser
// via X-Login-Reply.
type Prompt struct {
	Message  string
	Prompt   string
	Echo     bool
	Password bool
}

// PendingDialogue tracks one in-flight login attempt. It is reference
// counted because both the HTTP request that started it and, between
// prompts, the PendingTable may hold it concurrently.
//
// Completion is per round: the login attempt (or a resumed X-Login-Reply)
// attaches one completion via AddCompletion; the next
// helper Message or Close resolves it exactly once via Complete, after
// which the slot is empty again until the next round attaches a new one.
type PendingDialogue struct {
	id string

	mu         sync.Mutex
	state      DialogueState
	completion func(error)
	refs       int

	responseCh chan ScrubBytes
}

// NewPendingDialogue creates a dialogue in the Spawning state with one
// reference held by the caller.
func NewPendingDialogue(id string) *PendingDialogue {
	return &PendingDialogue{
		id:         id,
		state:      StateSpawning,
		refs:       1,
		responseCh: make(chan ScrubBytes, 1),
	}
}

// ID returns the nonce used to address this dialogue in the PendingTable,
// surfaced to the client as the X-Login-Reply target.
func (d *PendingDialogue) ID() string { return d.id }

// Retain adds a reference.
func (d *PendingDialogue) Retain() {
	d.mu.Lock()
	d.refs++
	d.mu.Unlock()
}

// Release drops a reference, returning the count remaining.
func (d *PendingDialogue) Release() (remaining int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.refs--
	return d.refs
}

// SetState transitions the dialogue's state. It does not validate the
// transition; its caller in this package is AwaitClient.
func (d *PendingDialogue) SetState(s DialogueState) {
	d.mu.Lock()
	d.state = s
	d.mu.Unlock()
}

// State returns the current state.
func (d *PendingDialogue) State() DialogueState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// AddCompletion attaches the callback for the current round. Precondition:
// no completion is currently attached; violating it panics, since it
// indicates two HTTP requests are racing to drive the same dialogue round.
func (d *PendingDialogue) AddCompletion(f func(error)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.completion != nil {
		panic("authcore: AddCompletion called with a completion already attached")
	}
	d.completion = f
}

// Complete resolves the attached completion with err (nil for success) and
// clears the slot. If nothing is attached, it logs a dropped result.
func (d *PendingDialogue) Complete(err error) {
	d.mu.Lock()
	f := d.completion
	d.completion = nil
	d.mu.Unlock()

	if f == nil {
		if err != nil {
			slog.Warn("authcore: dropped authentication error", "dialogue", d.id, "error", err)
		} else {
			slog.Warn("authcore: dropped authentication result", "dialogue", d.id)
		}
		return
	}
	f(err)
}

// AwaitClient parks the dialogue in AwaitingClient, to be woken by Resume
// once the browser's X-Login-Reply arrives.
func (d *PendingDialogue) AwaitClient() {
	d.SetState(StateAwaitingClient)
}

// claimResume atomically transitions AwaitingClient -> AwaitingHelper,
// reporting whether the dialogue was actually parked for a client reply.
// Exactly one resume attempt can win the transition.
func (d *PendingDialogue) claimResume() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != StateAwaitingClient {
		return false
	}
	d.state = StateAwaitingHelper
	return true
}

// Resume delivers a client-supplied X-Login-Reply payload to whatever is
// blocked reading ResponseChan, and transitions back to AwaitingHelper.
// It returns false if the dialogue was not awaiting a client reply.
func (d *PendingDialogue) Resume(payload ScrubBytes) bool {
	if !d.claimResume() {
		return false
	}
	d.responseCh <- payload
	return true
}

// ResponseChan is read by the method implementation (an SSH
// keyboard-interactive callback) to receive a resumed reply.
func (d *PendingDialogue) ResponseChan() <-chan ScrubBytes { return d.responseCh }

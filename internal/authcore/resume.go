package authcore

import (
	"encoding/base64"
	"strings"
	"sync"
)

// pendingEntry pairs a parked dialogue with the method-specific closures
// that know how to feed a resumed payload back into the dialogue and how
// to Finish it afterwards. The dialogue itself is method-agnostic, but
// resuming means either writing the reply down a helper's pipe
// (SpawnMethod) or waking a keyboard-interactive callback (RemoteMethod),
// and finishing means running the parser of whichever method started it.
type pendingEntry struct {
	dialogue *PendingDialogue
	resume   func(payload ScrubBytes) bool
	finish   func(completionErr error) (*LoginResult, *PromptResponse, error)
}

// PendingTable holds dialogues parked between an X-Login-Reply prompt and
// the client's follow-up request, keyed by the id surfaced in the
// WWW-Authenticate header.
type PendingTable struct {
	mu   sync.Mutex
	byID map[string]*pendingEntry
}

// NewPendingTable creates an empty table.
func NewPendingTable() *PendingTable {
	return &PendingTable{byID: map[string]*pendingEntry{}}
}

// Add inserts a dialogue under its own ID together with its resume and
// finish closures, retaining a reference on the dialogue's behalf.
func (t *PendingTable) Add(d *PendingDialogue, resume func(ScrubBytes) bool, finish func(error) (*LoginResult, *PromptResponse, error)) {
	d.Retain()
	t.mu.Lock()
	t.byID[d.ID()] = &pendingEntry{dialogue: d, resume: resume, finish: finish}
	t.mu.Unlock()
}

// Remove drops the entry for id, if present, releasing the table's
// dialogue reference. It returns the entry removed, or nil.
func (t *PendingTable) Remove(id string) *pendingEntry {
	t.mu.Lock()
	e, ok := t.byID[id]
	if ok {
		delete(t.byID, id)
	}
	t.mu.Unlock()
	if ok {
		e.dialogue.Release()
	}
	return e
}

// Len reports the number of parked dialogues, used by the Manager to
// decide whether the process is idle.
func (t *PendingTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byID)
}

// ErrResumeMalformed, ErrResumeUnknownID are resume failure modes, both
// surfaced as an "Invalid resume token" authentication failure so a probing
// client cannot distinguish a bad token shape from an expired id.
var (
	ErrResumeMalformed = wrapf(ErrAuthenticationFailed, "Invalid resume token")
	ErrResumeUnknownID = wrapf(ErrAuthenticationFailed, "Invalid resume token")
)

// ParseResumeReply parses the raw Authorization header value
// "X-Login-Reply <id> <base64(reply)>". It does not look up
// the table; callers combine it with PendingTable.Remove.
func ParseResumeReply(headerValue string) (id string, payload ScrubBytes, err error) {
	fields := strings.Fields(headerValue)
	if len(fields) != 3 || !strings.EqualFold(fields[0], "X-Login-Reply") {
		return "", nil, ErrResumeMalformed
	}
	if fields[2] == "" {
		return "", nil, ErrResumeMalformed
	}
	decoded, decErr := base64.StdEncoding.DecodeString(fields[2])
	if decErr != nil {
		return "", nil, ErrResumeMalformed
	}
	return fields[1], ScrubBytes(decoded), nil
}

// Package webservice is the session-side stand-in for the thing a
// SessionTable entry actually fronts: the authenticated Creds plus the
// Transport backing the browser's bridge connection, together with the
// idling/destroyed signals the cockpit world lets a session's host-side
// plumbing emit independently of the authentication core.
package webservice

import (
	"sync"

	"github.com/webgate-io/webgate/internal/transport"
)

// Service pairs a session's credentials with its backend transport and
// tracks whether the session is currently idle (no active WebSocket
// bridge attached).
type Service struct {
	mu       sync.Mutex
	creds    Creds
	tp       transport.Transport
	idling   bool
	disposed bool

	onIdling    func()
	onDestroyed func()
}

// Creds is the subset of authcore.Creds a web service needs; defined here
// rather than imported to avoid a package cycle (authcore depends on
// webservice, not the reverse). SessionTable passes its *authcore.Creds
// directly, since it implements this interface.
type Creds interface {
	UserName() string
	Release()
}

// New builds a Service bound to the given creds and transport.
func New(creds Creds, tp transport.Transport) *Service {
	return &Service{creds: creds, tp: tp, idling: true}
}

// OnIdling registers the callback invoked whenever the service transitions
// into (or re-confirms) the idling state.
func (s *Service) OnIdling(f func()) {
	s.mu.Lock()
	s.onIdling = f
	s.mu.Unlock()
}

// OnDestroyed registers the callback that MarkDestroyed invokes. The
// service does not watch its transport itself; the callback runs only
// when a caller reports the teardown through MarkDestroyed.
func (s *Service) OnDestroyed(f func()) {
	s.mu.Lock()
	s.onDestroyed = f
	s.mu.Unlock()
}

// MarkActive clears the idling flag; called when a WebSocket client
// attaches to the session's transport.
func (s *Service) MarkActive() {
	s.mu.Lock()
	s.idling = false
	s.mu.Unlock()
}

// MarkIdle sets the idling flag and fires the idling callback; called when
// a WebSocket client's bridge ends.
func (s *Service) MarkIdle() {
	s.mu.Lock()
	s.idling = true
	f := s.onIdling
	s.mu.Unlock()
	if f != nil {
		f()
	}
}

// MarkDestroyed fires the destroyed callback, unless the service has
// already been disposed.
func (s *Service) MarkDestroyed() {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	f := s.onDestroyed
	s.mu.Unlock()
	if f != nil {
		f()
	}
}

// IsIdling reports the current idling state.
func (s *Service) IsIdling() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.idling
}

// Transport returns the backend transport, for the gateway's WebSocket
// bridge to pump bytes through.
func (s *Service) Transport() transport.Transport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tp
}

// Dispose closes the transport and releases the creds reference, which
// poisons (scrubs) any password bytes once the last reference drops. It
// is safe to call more than once.
func (s *Service) Dispose() {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	s.disposed = true
	tp := s.tp
	creds := s.creds
	s.tp = nil
	s.creds = nil
	s.mu.Unlock()

	if tp != nil {
		tp.Close()
	}
	if creds != nil {
		creds.Release()
	}
}

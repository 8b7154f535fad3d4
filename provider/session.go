package provider

import (
	"sync"

	"github.com/dirsync/syncprov/csn"
	"github.com/dirsync/syncprov/entrystore"
)

// Mode classifies a queued or emitted notification (spec.md §3, "Queued
// Result").
type Mode int

const (
	ModeAdd Mode = iota
	ModeModify
	ModeDelete
	ModePresent
)

func (m Mode) String() string {
	switch m {
	case ModeAdd:
		return "add"
	case ModeModify:
		return "modify"
	case ModeDelete:
		return "delete"
	case ModePresent:
		return "present"
	default:
		return "unknown"
	}
}

// QueuedResult is one deferred notification, created by the Match Engine
// during refresh and consumed at the refresh->persist transition (spec.md
// §3). It holds no pointers into the store — only copies.
type QueuedResult struct {
	Mode       Mode
	UUID       string
	DN         string
	NDN        string
	CSN        csn.CSN
	IsReferral bool
}

// Sender is the delivery channel a Session pushes live notifications
// through once it has left refresh. httpapi's liveSender satisfies it by
// wrapping a *live.Session (whose own Send takes a live.Message); it is
// kept as a narrow interface here so provider does not import live and
// remains testable with a fake.
type Sender interface {
	Send(v any) error
}

// PersistentSearchContext is the detached operation spec.md §4.5 and §9
// describe: once a search transitions to persist, the provider needs state
// that outlives the original request. It is allocated once, at detach, and
// never aliases the original request's memory afterward.
type PersistentSearchContext struct {
	Base         string
	NDN          string
	Scope        entrystore.Scope
	Attrs        []string
	Filter       entrystore.Filter
	FilterString string
	DerefAliases entrystore.DerefMode
}

// Session is the server-side state for one consumer in refresh or persist
// phase (spec.md §3, "Persistent Session"). Its backlog and REFRESHING flag
// are guarded by backlogMu; everything else is set once at creation or at
// detach and is safe to read without a lock from that point on.
type Session struct {
	ID        string
	RequestID string

	// Recorded base identity, stamped by the Base Validator on first call
	// and compared on every subsequent one (spec.md §4.3).
	baseNDN    string
	baseID     entrystore.ID
	baseKnown  bool

	Detached *PersistentSearchContext

	send Sender

	backlogMu  sync.Mutex
	refreshing bool
	backlog    []QueuedResult

	// Terminated is set once the session has been torn down (base
	// invalidation, abandon, cancel); ForEachSession callers should skip
	// a session observed with Terminated set mid-pass.
	terminated bool
	termReason error

	ctx *Context
}

// NewSession creates a session in refresh phase with the given delivery
// sender. It is not yet attached to any Context; call Context.RegisterSession
// to attach it (spec.md §4.5).
func NewSession(id, requestID string, detached *PersistentSearchContext, send Sender) *Session {
	return &Session{
		ID:         id,
		RequestID:  requestID,
		Detached:   detached,
		send:       send,
		refreshing: true,
	}
}

// Refreshing reports whether the session is still in refresh phase.
func (s *Session) Refreshing() bool {
	s.backlogMu.Lock()
	defer s.backlogMu.Unlock()
	return s.refreshing
}

// EnqueueOrPrepareLive implements the Response Emitter's refresh/persist
// branch (spec.md §4.7): under the backlog mutex, if the session is still
// refreshing, r is queued and the method reports true; otherwise the
// method reports false and the caller is responsible for delivering r live,
// outside this lock.
func (s *Session) EnqueueOrPrepareLive(r QueuedResult) (queued bool) {
	s.backlogMu.Lock()
	defer s.backlogMu.Unlock()
	if s.refreshing {
		s.backlog = append(s.backlog, r)
		return true
	}
	return false
}

// DetachBacklog clears REFRESHING and returns the queued backlog as an
// owned snapshot, per spec.md §9's drain-race formulation: "snapshot the
// backlog pointer under the session mutex, assign backlog=nil, clear the
// flag, release; drain the snapshot outside the lock."
func (s *Session) DetachBacklog() []QueuedResult {
	s.backlogMu.Lock()
	defer s.backlogMu.Unlock()
	snapshot := s.backlog
	s.backlog = nil
	s.refreshing = false
	return snapshot
}

// BacklogLen reports the current backlog length, for tests asserting
// invariant 2 ("for any session in persist state, backlog is empty").
func (s *Session) BacklogLen() int {
	s.backlogMu.Lock()
	defer s.backlogMu.Unlock()
	return len(s.backlog)
}

// Send delivers v immediately through the session's sender, used for live
// (non-backlogged) delivery during persist.
func (s *Session) Send(v any) error {
	if s.send == nil {
		return nil
	}
	return s.send.Send(v)
}

// MarkTerminated records why a session was torn down. Context.DropSession
// must still be called separately to remove it from the active list.
func (s *Session) MarkTerminated(reason error) {
	s.backlogMu.Lock()
	defer s.backlogMu.Unlock()
	s.terminated = true
	s.termReason = reason
}

// Terminated reports whether the session has been marked for teardown and,
// if so, why.
func (s *Session) Terminated() (bool, error) {
	s.backlogMu.Lock()
	defer s.backlogMu.Unlock()
	return s.terminated, s.termReason
}

// recordBase stamps the session's first-observed base identity, or, on
// subsequent calls, compares against it. Only the Base Validator calls
// this (spec.md §4.3).
func (s *Session) recordBase(ndn string, id entrystore.ID) error {
	if !s.baseKnown {
		s.baseNDN = ndn
		s.baseID = id
		s.baseKnown = true
		return nil
	}
	if s.baseNDN != ndn || s.baseID != id {
		return ErrBaseInvalidated
	}
	return nil
}

package provider

import (
	"github.com/dirsync/syncprov/csn"
	"github.com/dirsync/syncprov/entrystore"
)

// SyncState is the state enum carried on a synchronization state control
// (spec.md §4.7, §6).
type SyncState int

const (
	StatePresent SyncState = iota
	StateAdd
	StateModify
	StateDelete
)

func (s SyncState) String() string {
	switch s {
	case StateAdd:
		return "add"
	case StateModify:
		return "modify"
	case StateDelete:
		return "delete"
	default:
		return "present"
	}
}

func stateForMode(m Mode) SyncState {
	switch m {
	case ModeAdd:
		return StateAdd
	case ModeModify:
		return StateModify
	case ModeDelete:
		return StateDelete
	default:
		return StatePresent
	}
}

// StateControl is the per-entry synchronization state control spec.md §6
// describes: {state, entryUUID, optional cookie}.
type StateControl struct {
	State     SyncState
	EntryUUID string
	Cookie    string
}

// Delivery is what the Response Emitter hands to a session's Sender: either
// a full entry (ADD/MODIFY/PRESENT) or a synthetic DN/UUID-only entry with
// no attributes (DELETE), always carrying its state control (spec.md §4.7).
type Delivery struct {
	Control    StateControl
	DN         string
	NDN        string
	Attrs      map[string][]string
	IsRef      bool
	IsSynthetic bool
}

func buildDelivery(mode Mode, uuid, dn, ndn string, commit csn.CSN, isRef bool, entry *entrystore.Entry, codec csn.Codec, sessionID string) Delivery {
	control := StateControl{
		State:     stateForMode(mode),
		EntryUUID: uuid,
		Cookie:    codec.Encode(csn.Cookie{CSN: commit, SessionID: sessionID}),
	}
	if entry != nil {
		return Delivery{Control: control, DN: entry.DN, NDN: entry.NDN, Attrs: entry.Attrs, IsRef: entry.IsReferral}
	}
	return Delivery{Control: control, DN: dn, NDN: ndn, IsRef: isRef, IsSynthetic: true}
}

// Emit implements the Response Emitter (spec.md §4.7): it checks the
// session's REFRESHING flag under the session mutex and either queues n for
// later drain or sends it live, never while holding the mutex.
func Emit(n Notification, codec csn.Codec) error {
	s := n.Session

	queued := s.EnqueueOrPrepareLive(QueuedResult{
		Mode: n.Mode, UUID: n.UUID, DN: n.DN, NDN: n.NDN, CSN: n.CSN, IsReferral: n.IsReferral,
	})
	if queued {
		return nil
	}

	delivery := buildDelivery(n.Mode, n.UUID, n.DN, n.NDN, n.CSN, n.IsReferral, n.Entry, codec, s.ID)
	return s.Send(delivery)
}

// EmitQueuedResult delivers a QueuedResult drained from a session's
// backlog (spec.md §4.9). fetch re-reads the entry's current state for
// non-delete modes; if the entry has since been deleted, the mode degrades
// to DELETE, per spec.md §4.9.
func EmitQueuedResult(s *Session, r QueuedResult, codec csn.Codec, fetch func(ndn string) (*entrystore.Entry, error)) error {
	mode := r.Mode
	var entry *entrystore.Entry

	if mode != ModeDelete {
		e, err := fetch(r.NDN)
		if err != nil {
			mode = ModeDelete
		} else {
			entry = e
		}
	}

	delivery := buildDelivery(mode, r.UUID, r.DN, r.NDN, r.CSN, r.IsReferral, entry, codec, s.ID)
	return s.Send(delivery)
}

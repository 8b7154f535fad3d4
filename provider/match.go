package provider

import (
	"context"

	"github.com/dirsync/syncprov/csn"
	"github.com/dirsync/syncprov/entrystore"
)

// OpCookie is the transient, one-per-write record spec.md §3 describes:
// captured pre-state identity plus the set of sessions that matched the
// entry before the write. It is built by PrePass and consumed by PostPass.
type OpCookie struct {
	DN            string
	NDN           string
	UUID          string
	IsReferral    bool
	MatchedBefore map[*Session]bool
	CommitCSN     csn.CSN
}

// Notification is one emission PostPass produces for a single session: the
// mode to report and the entry identity/CSN to report it with. Entry is set
// for ADD/MODIFY (the post-state is available); it is nil for DELETE, where
// the Response Emitter builds a synthetic entry from DN/NDN/UUID alone
// (spec.md §4.7).
type Notification struct {
	Session    *Session
	Mode       Mode
	UUID       string
	DN         string
	NDN        string
	CSN        csn.CSN
	IsReferral bool
	Entry      *entrystore.Entry
}

// PrePass runs the Match Engine's pre-mutation pass (spec.md §4.6,
// "saveit=true"): it loads the affected entry's current state and, under
// the session-list mutex, records which sessions match it before the
// write. A not-yet-existing entry (the ADD case) produces an empty
// MatchedBefore set, which is the correct input for PostPass to emit ADD
// rather than MODIFY.
func PrePass(ctx context.Context, c *Context, ndn string) (*OpCookie, error) {
	oc := &OpCookie{NDN: ndn, MatchedBefore: make(map[*Session]bool)}

	e, err := c.Store.DNToEntry(ctx, ndn)
	if err != nil {
		if err == entrystore.ErrNotFound {
			return oc, nil
		}
		if _, ok := err.(*entrystore.MatchedParent); ok {
			return oc, nil
		}
		return nil, newErr(KindInternal, "provider.Match.PrePass", err)
	}

	oc.DN = e.DN
	oc.NDN = e.NDN
	oc.UUID = e.UUID
	oc.IsReferral = e.IsReferral

	c.ForEachSession(func(s *Session) {
		if terminated, _ := s.Terminated(); terminated {
			return
		}
		inScope, verr := ValidateBase(ctx, c.Store, s, e.NDN)
		if verr != nil {
			if verr == ErrBaseInvalidated {
				s.MarkTerminated(ErrNoSuchObject)
			}
			return
		}
		if !inScope {
			return
		}
		tri, terr := c.Store.TestFilter(ctx, nil, e, s.Detached.Filter)
		if terr != nil || tri != entrystore.TriTrue {
			return
		}
		oc.MatchedBefore[s] = true
	})

	return oc, nil
}

// PostPass runs the Match Engine's post-commit pass (spec.md §4.6,
// "saveit=false"). newNDN is the entry's DN after the write (unchanged for
// everything but modrdn); isDelete short-circuits straight to emitting
// DELETE for every session that matched before, per spec.md §4.6 item 5.
func PostPass(ctx context.Context, c *Context, oc *OpCookie, newNDN string, isDelete bool, commit csn.CSN) ([]Notification, error) {
	oc.CommitCSN = commit

	if isDelete {
		var out []Notification
		for s := range oc.MatchedBefore {
			out = append(out, Notification{
				Session: s, Mode: ModeDelete,
				UUID: oc.UUID, DN: oc.DN, NDN: oc.NDN,
				CSN: commit, IsReferral: oc.IsReferral,
			})
		}
		return out, nil
	}

	e, err := c.Store.DNToEntry(ctx, newNDN)
	if err != nil {
		return nil, newErr(KindInternal, "provider.Match.PostPass", err)
	}

	var out []Notification
	c.ForEachSession(func(s *Session) {
		if terminated, _ := s.Terminated(); terminated {
			return
		}
		inScope, verr := ValidateBase(ctx, c.Store, s, e.NDN)
		if verr != nil {
			if verr == ErrBaseInvalidated {
				s.MarkTerminated(ErrNoSuchObject)
			}
			return
		}
		matchedBefore := oc.MatchedBefore[s]

		if inScope {
			tri, terr := c.Store.TestFilter(ctx, nil, e, s.Detached.Filter)
			if terr == nil && tri == entrystore.TriTrue {
				mode := ModeAdd
				if matchedBefore {
					mode = ModeModify
				}
				out = append(out, Notification{
					Session: s, Mode: mode,
					UUID: e.UUID, DN: e.DN, NDN: e.NDN,
					CSN: commit, IsReferral: e.IsReferral, Entry: e,
				})
				return
			}
		}

		if matchedBefore {
			out = append(out, Notification{
				Session: s, Mode: ModeDelete,
				UUID: oc.UUID, DN: oc.DN, NDN: oc.NDN,
				CSN: commit, IsReferral: oc.IsReferral,
			})
		}
	})

	return out, nil
}

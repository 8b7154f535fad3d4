package provider

import (
	"context"

	"github.com/dirsync/syncprov/entrystore"
)

// ValidateBase implements the Base Validator (spec.md §4.3): it resolves
// the session's search base in the store, stamps the session with the
// resolved identity on first call, and on every subsequent call rejects a
// disagreement with ErrBaseInvalidated. On success it also reports whether
// affectedNDN falls within the session's scope.
//
// ValidateBase must not hold the session's own mutex. The Match Engine
// invokes it under the session-list mutex (spec.md §4.3, §5); the Search
// Coordinator calls it once, without that mutex, before registering a new
// session.
func ValidateBase(ctx context.Context, store entrystore.Store, s *Session, affectedNDN string) (inScope bool, err error) {
	baseEntry, lookupErr := store.DNToEntry(ctx, s.Detached.NDN)
	if lookupErr != nil {
		if s.baseKnown {
			// The base resolved once; its disappearance now is exactly the
			// identity change invariant 4 guards against.
			return false, ErrBaseInvalidated
		}
		return false, newErr(KindNotFound, "provider.ValidateBase", lookupErr)
	}

	if err := s.recordBase(baseEntry.NDN, baseEntry.ID); err != nil {
		return false, err
	}

	return entrystore.InScope(baseEntry.NDN, affectedNDN, s.Detached.Scope), nil
}

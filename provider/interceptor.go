package provider

import (
	"context"

	"github.com/dirsync/syncprov/csn"
)

// Interceptor is the Write Interceptor (spec.md §4.9 write side, §4.10):
// before a mutation, it captures pre-state via the Match Engine's pre-pass;
// after commit, it runs the post-pass, emits every resulting notification,
// and advances the context CSN from the commit CSN.
type Interceptor struct {
	Context *Context
	Codec   csn.Codec

	tracer *Tracer
}

// NewInterceptor returns an Interceptor bound to ctx.
func NewInterceptor(ctx *Context, codec csn.Codec) *Interceptor {
	return &Interceptor{Context: ctx, Codec: codec}
}

// Before is called prior to an add/modify/modrdn/delete/write-extended,
// capturing the entry's pre-state and the set of sessions that matched it.
func (in *Interceptor) Before(ctx context.Context, ndn string) (*OpCookie, error) {
	ctx, end := in.tracer.StartSpan(ctx, "interceptor.Before")
	defer end()
	return PrePass(ctx, in.Context, ndn)
}

// NextCSN mints the commit CSN for a write in progress. Callers stamp it
// onto the entry as part of the same transaction that calls After, so the
// stored entry's CSN and the notifications describing that write agree.
func (in *Interceptor) NextCSN() csn.CSN {
	return in.Context.Generator.Next()
}

// After is called once the mutation has committed with the given commit
// CSN (minted via NextCSN as part of the same write). newNDN is the
// entry's post-write DN (unchanged except for modrdn); isDelete
// short-circuits to DELETE-only emission. It returns the context CSN after
// advancing it past commit.
func (in *Interceptor) After(ctx context.Context, oc *OpCookie, newNDN string, isDelete bool, commit csn.CSN) (csn.CSN, error) {
	ctx, end := in.tracer.StartSpan(ctx, "interceptor.After")
	defer end()

	notifications, err := PostPass(ctx, in.Context, oc, newNDN, isDelete, commit)
	if err != nil {
		return "", err
	}
	for _, n := range notifications {
		if err := Emit(n, in.Codec); err != nil {
			in.Context.Log.Error("emit notification failed",
				"session", n.Session.ID, "mode", n.Mode.String(), "error", err)
		}
	}

	result := in.Context.TryAdvanceContextCSN(commit)
	if in.Context.checkpoint != nil {
		in.Context.checkpoint.Observe(result)
	}
	return result, nil
}

// Abandon implements spec.md §4.10 for an uncancelled abandon: the session
// is simply removed from the context, no result is sent to the consumer.
func (in *Interceptor) Abandon(session *Session) {
	if session == nil {
		return
	}
	in.Context.DropSession(session)
	session.MarkTerminated(nil)
}

// Cancel implements spec.md §4.10 for a cancel: the session is removed the
// same way, but the caller is expected to surface LDAP_CANCELLED back to
// the consumer (this package only records the reason).
func (in *Interceptor) Cancel(session *Session) error {
	if session == nil {
		return nil
	}
	in.Context.DropSession(session)
	session.MarkTerminated(ErrCanceled)
	return ErrCanceled
}

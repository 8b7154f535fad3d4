package provider

import (
	"context"

	"github.com/dirsync/syncprov/csn"
	"github.com/dirsync/syncprov/entrystore"
)

// SyncMode is the consumer-requested mode carried on the synchronization
// request control (spec.md §6).
type SyncMode int

const (
	ModeRefreshOnly SyncMode = iota
	ModeRefreshAndPersist
)

// SearchRequest is the Search Coordinator's entry point input: a search
// bearing a synchronization request control, already parsed (spec.md §4.8,
// §6 — request-parsing itself is out of scope, a structural contract).
type SearchRequest struct {
	SyncMode     SyncMode
	Cookie       csn.Cookie
	ReloadHint   bool
	Base         string
	Scope        entrystore.Scope
	Filter       entrystore.Filter
	FilterString string
	Attrs        []string
	DerefAliases entrystore.DerefMode
	SessionID    string
	RequestID    string
}

// SyncDoneControl is attached to a refresh-only search's terminal response
// (spec.md §6).
type SyncDoneControl struct {
	Cookie         string
	RefreshDeletes bool
}

// InfoKind enumerates the synchronization info intermediate message
// variants spec.md §6 lists for refresh-and-persist.
type InfoKind int

const (
	InfoNewCookie InfoKind = iota
	InfoRefreshDelete
	InfoRefreshPresent
	InfoSyncIDSet
)

// SyncInfoMessage is one refresh-and-persist intermediate message.
type SyncInfoMessage struct {
	Kind        InfoKind
	Cookie      string
	RefreshDone bool
	UUIDs       []string
}

// SearchOutcome is everything the Search Coordinator produces for one
// search: the refresh-phase entries to deliver, the terminal/intermediate
// controls, and — for refresh-and-persist — the now-registered Session the
// caller keeps delivering live notifications through.
type SearchOutcome struct {
	Entries []Delivery
	Done    *SyncDoneControl
	Info    []SyncInfoMessage
	Session *Session
}

// Coordinator is the Search Coordinator (spec.md §4.8): it decides refresh
// vs persist, rewrites the search filter with a CSN range, registers a
// session when required, and drives the backlog drain at refresh-complete
// (spec.md §4.9).
type Coordinator struct {
	Context *Context
	Codec   csn.Codec

	tracer *Tracer
}

// NewCoordinator returns a Coordinator bound to ctx, encoding cookies with
// codec.
func NewCoordinator(ctx *Context, codec csn.Codec) *Coordinator {
	return &Coordinator{Context: ctx, Codec: codec}
}

// Handle runs req to completion: the refresh scan plus (for
// refresh-and-persist) the session registration and backlog drain. send is
// the delivery channel a registered session will use for subsequent live
// notifications; it is ignored for refresh-only.
func (co *Coordinator) Handle(ctx context.Context, req SearchRequest, send Sender) (*SearchOutcome, error) {
	ctx, end := co.tracer.StartSpan(ctx, "coordinator.Handle")
	defer end()

	if req.SyncMode == ModeRefreshAndPersist &&
		(req.DerefAliases == entrystore.DerefSearching || req.DerefAliases == entrystore.DerefAlways) {
		return nil, newErr(KindProtocol, "provider.Coordinator.Handle", ErrDerefRejected)
	}

	var session *Session
	if req.SyncMode == ModeRefreshAndPersist {
		filter := req.Filter
		if filter == nil {
			filter = entrystore.True{}
		}
		detached := &PersistentSearchContext{
			Base: req.Base, NDN: req.Base, Scope: req.Scope,
			Attrs: req.Attrs, Filter: filter, FilterString: req.FilterString,
			DerefAliases: req.DerefAliases,
		}
		session = NewSession(req.SessionID, req.RequestID, detached, send)
		if _, err := ValidateBase(ctx, co.Context.Store, session, req.Base); err != nil {
			return nil, newErr(KindNotFound, "provider.Coordinator.Handle", err)
		}
		co.Context.RegisterSession(session)
	}

	if req.Cookie.CSN != "" {
		present, err := FindCSN(ctx, co.Context, req.Cookie.CSN)
		if err != nil {
			return nil, err
		}
		if !present {
			// STALE_COOKIE: this design's permissive behavior is to refresh
			// from empty rather than signal refreshRequired (spec.md §9,
			// Open Question a).
			req.Cookie.CSN = csn.Zero
		} else if req.Cookie.CSN == co.Context.GetContextCSN() {
			return co.shortcut(ctx, req, session)
		}
	}

	return co.refresh(ctx, req, session)
}

// shortcut implements spec.md §4.8 item 3's fast path: the cookie CSN
// already equals the context CSN, so nothing lies between the two bounds.
func (co *Coordinator) shortcut(ctx context.Context, req SearchRequest, session *Session) (*SearchOutcome, error) {
	contextCSN := co.Context.GetContextCSN()
	out := &SearchOutcome{Session: session}

	if req.SyncMode == ModeRefreshOnly {
		out.Done = &SyncDoneControl{
			Cookie:         co.Codec.Encode(csn.Cookie{CSN: contextCSN, SessionID: req.SessionID, RequestID: req.RequestID}),
			RefreshDeletes: false,
		}
		return out, nil
	}

	if req.ReloadHint {
		if err := co.emitPresent(ctx, req, out, contextCSN); err != nil {
			return nil, err
		}
	}

	out.Info = append(out.Info, SyncInfoMessage{
		Kind:        InfoRefreshPresent,
		Cookie:      co.Codec.Encode(csn.Cookie{CSN: contextCSN, SessionID: req.SessionID, RequestID: req.RequestID}),
		RefreshDone: true,
	})
	co.drain(session)
	return out, nil
}

// emitPresent runs FIND_PRESENT (spec.md §4.4) bounded by contextCSN and
// appends one syncIdSet intermediate message per batch it streams back.
// Called for refresh-and-persist searches carrying the reload hint: without
// a session log to name exactly what was deleted, the consumer reconciles
// its own cache against the enumerated present set instead.
func (co *Coordinator) emitPresent(ctx context.Context, req SearchRequest, out *SearchOutcome, contextCSN csn.CSN) error {
	return FindPresent(ctx, co.Context, contextCSN, func(uuids []string) error {
		out.Info = append(out.Info, SyncInfoMessage{
			Kind:  InfoSyncIDSet,
			UUIDs: append([]string(nil), uuids...),
		})
		return nil
	})
}

// rangeFilter builds AND(entryCSN <= contextCSN, [entryCSN >= cookieCSN],
// original) the way spec.md §4.8 item 4 and §9 ("Filter rewriting") ask
// for: structural tree construction, not string concatenation.
func rangeFilter(cookieCSN, contextCSN csn.CSN, original entrystore.Filter) entrystore.Filter {
	sub := []entrystore.Filter{&entrystore.LessOrEqual{Attr: entrystore.CSNAttrName, Value: string(contextCSN)}}
	if cookieCSN != csn.Zero {
		sub = append(sub, &entrystore.GreaterOrEqual{Attr: entrystore.CSNAttrName, Value: string(cookieCSN)})
	}
	if original == nil {
		original = entrystore.True{}
	}
	sub = append(sub, original)
	return &entrystore.And{Sub: sub}
}

func (co *Coordinator) refresh(ctx context.Context, req SearchRequest, session *Session) (*SearchOutcome, error) {
	contextCSN := co.Context.GetContextCSN()
	filter := rangeFilter(req.Cookie.CSN, contextCSN, req.Filter)

	out := &SearchOutcome{Session: session}

	err := co.Context.Store.BackendSearch(ctx, &entrystore.SearchRequest{
		Base: req.Base, Scope: req.Scope, Filter: filter, Attrs: req.Attrs,
	}, func(e *entrystore.Entry, isRef bool) error {
		if e.CSN == req.Cookie.CSN {
			// Already delivered per the consumer's own cookie.
			return nil
		}
		control := StateControl{
			State:     StateAdd,
			EntryUUID: e.UUID,
			Cookie:    co.Codec.Encode(csn.Cookie{CSN: e.CSN, SessionID: req.SessionID, RequestID: req.RequestID}),
		}
		out.Entries = append(out.Entries, Delivery{Control: control, DN: e.DN, NDN: e.NDN, Attrs: e.Attrs, IsRef: isRef})
		return nil
	})
	if err != nil {
		return nil, newErr(KindInternal, "provider.Coordinator.refresh", err)
	}

	doneCookie := co.Codec.Encode(csn.Cookie{CSN: contextCSN, SessionID: req.SessionID, RequestID: req.RequestID})

	if req.SyncMode == ModeRefreshOnly {
		out.Done = &SyncDoneControl{Cookie: doneCookie, RefreshDeletes: false}
		return out, nil
	}

	if req.ReloadHint {
		if err := co.emitPresent(ctx, req, out, contextCSN); err != nil {
			return nil, err
		}
	}

	out.Info = append(out.Info, SyncInfoMessage{Kind: InfoRefreshPresent, Cookie: doneCookie, RefreshDone: true})
	co.drain(session)
	return out, nil
}

// drain implements spec.md §4.9: snapshot the backlog, clear REFRESHING,
// then deliver the snapshot outside the session mutex in FIFO order.
func (co *Coordinator) drain(session *Session) {
	if session == nil {
		return
	}
	backlog := session.DetachBacklog()
	for _, r := range backlog {
		_ = EmitQueuedResult(session, r, co.Codec, func(ndn string) (*entrystore.Entry, error) {
			return co.Context.Store.DNToEntry(context.Background(), ndn)
		})
	}
}

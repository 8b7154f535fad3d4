package provider

import "errors"

// Kind classifies a provider-level failure into the taxonomy spec.md §7
// lays out. It exists so callers (httpapi, primarily) can map a failure to
// the right wire status without string-matching error text.
type Kind int

const (
	KindInternal Kind = iota
	KindProtocol
	KindInvalidCredentials
	KindInsufficientAccess
	KindNotFound
	KindBusy
	KindLockRetry
	KindStaleCookie
)

func (k Kind) String() string {
	switch k {
	case KindProtocol:
		return "PROTOCOL"
	case KindInvalidCredentials:
		return "INVALID_CREDENTIALS"
	case KindInsufficientAccess:
		return "INSUFFICIENT_ACCESS"
	case KindNotFound:
		return "NOT_FOUND"
	case KindBusy:
		return "BUSY"
	case KindLockRetry:
		return "LOCK_RETRY"
	case KindStaleCookie:
		return "STALE_COOKIE"
	default:
		return "INTERNAL"
	}
}

// Error wraps a failure with its Kind, so errors.As callers can recover the
// classification without losing the wrapped cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Op + ": " + e.Kind.String()
	}
	return e.Op + ": " + e.Kind.String() + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

func newErr(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// ErrBaseInvalidated is returned by the Base Validator when a session's
// recorded base identity (entry-ID or normalized DN) disagrees with what
// the store now resolves — spec.md §4.3, invariant 4.
var ErrBaseInvalidated = errors.New("provider: base invalidated")

// ErrNoSuchObject is the terminal reason recorded on a session destroyed by
// base invalidation (spec.md §4.3, §8 scenario 5).
var ErrNoSuchObject = errors.New("provider: no such object")

// ErrDerefRejected is returned when a refresh-and-persist search requests
// an alias-dereferencing mode the coordinator refuses, per the original's
// syncprov_search rejecting LDAP_DEREF_SEARCHING/LDAP_DEREF_ALWAYS
// specifically (SPEC_FULL.md supplemented feature 2).
var ErrDerefRejected = errors.New("provider: derefAliases rejected for persistent search")

// ErrCanceled is the reason recorded on a session terminated by cancel
// (spec.md §4.10), distinct from abandon (no reason reported to the peer).
var ErrCanceled = errors.New("provider: cancelled")

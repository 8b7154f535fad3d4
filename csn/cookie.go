package csn

import (
	"errors"
	"strconv"
	"strings"
)

// ErrCookieTooLarge is returned by Decode when the embedded CSN exceeds the
// codec's buffer size — a protocol error per §4.1 and §7.
var ErrCookieTooLarge = errors.New("csn: cookie CSN exceeds buffer size")

// ErrMalformedCookie is returned by Decode for a cookie that cannot be
// parsed into its components.
var ErrMalformedCookie = errors.New("csn: malformed cookie")

// Cookie is the decoded form of a consumer's synchronization position: a
// CSN plus the session/request identifiers needed to round-trip async
// responses back to the right consumer request (§3, §4.1).
type Cookie struct {
	CSN       CSN
	SessionID string
	RequestID string
}

// Codec encodes and decodes cookies against a fixed maximum CSN size.
// Rejecting over-length CSNs here is what keeps the Context's CSN buffer a
// fixed-size allocation (§4.1, §4.2).
type Codec struct {
	MaxCSNLen int
}

// NewCodec returns a Codec sized to the package's standard CSN length.
func NewCodec() Codec { return Codec{MaxCSNLen: Len} }

// Encode renders c as a cookie octet string. Encoding is idempotent:
// identical input always produces identical output (§4.1).
func (cd Codec) Encode(c Cookie) string {
	var b strings.Builder
	b.WriteString("csn=")
	b.WriteString(string(c.CSN))
	if c.SessionID != "" {
		b.WriteString(",sid=")
		b.WriteString(c.SessionID)
	}
	if c.RequestID != "" {
		b.WriteString(",rid=")
		b.WriteString(c.RequestID)
	}
	return b.String()
}

// Decode parses a cookie octet string, rejecting one whose CSN exceeds
// MaxCSNLen or that cannot be parsed at all.
func (cd Codec) Decode(s string) (Cookie, error) {
	if s == "" {
		return Cookie{}, nil
	}
	var c Cookie
	for _, field := range strings.Split(s, ",") {
		kv := strings.SplitN(field, "=", 2)
		if len(kv) != 2 {
			return Cookie{}, ErrMalformedCookie
		}
		key, val := kv[0], kv[1]
		switch key {
		case "csn":
			if cd.MaxCSNLen > 0 && len(val) > cd.MaxCSNLen {
				return Cookie{}, ErrCookieTooLarge
			}
			c.CSN = CSN(val)
		case "sid":
			c.SessionID = val
		case "rid":
			c.RequestID = val
		default:
			return Cookie{}, ErrMalformedCookie
		}
	}
	return c, nil
}

// RequestIDInt parses RequestID as an integer, for callers that need it as
// a number rather than an echoed string (the wire-level rid field).
func (c Cookie) RequestIDInt() (int, error) {
	return strconv.Atoi(c.RequestID)
}

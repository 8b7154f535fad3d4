// Package csn implements the change sequence number used to order every
// committed write in the directory and the synchronization cookie a
// consumer uses to mark its position in that order.
//
// A CSN is an opaque, fixed-width, printable byte string chosen so that
// lexicographic (byte-wise) comparison is also chronological comparison —
// the same trick OpenLDAP's lutil_csnstr uses: a UTC timestamp with
// microsecond precision, a per-timestamp sequence counter, a replica id and
// a per-replica modification counter, all fixed-width and separated by '#'.
package csn

import (
	"fmt"
	"sync"
	"time"
)

// Len is the fixed encoded length of a CSN, matching the original's
// LDAP_LUTIL_CSNSTR_BUFSIZE layout: "YYYYMMDDHHMMSS.ffffffZ#cccccc#rrr#mmmmmm".
const Len = 40

// CSN is an opaque, lexicographically ordered change sequence number.
type CSN string

// Zero is the smallest possible CSN: "no writes observed yet".
const Zero CSN = ""

// Compare returns -1, 0, or 1 as a raw byte compare of a and b, the
// ordering rule the whole package is built on (§4.1).
func Compare(a, b CSN) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Max returns the lexicographically larger of a and b.
func Max(a, b CSN) CSN {
	if Compare(a, b) >= 0 {
		return a
	}
	return b
}

// Generator mints new CSNs for committed writes. A single Generator must be
// used per context so the per-timestamp sequence counter is meaningful;
// concurrent callers serialize through Next.
type Generator struct {
	replicaID uint16

	mu sync.Mutex
	lastSec time.Time
	seq     uint32
	mod     uint32

	now func() time.Time
}

// NewGenerator returns a Generator stamping CSNs with the given replica id
// (the store-local identifier distinguishing this provider from any other
// writer in a multi-master topology; this package does not resolve
// conflicts between replicas, per spec.md's Non-goals).
func NewGenerator(replicaID uint16) *Generator {
	return &Generator{replicaID: replicaID, now: time.Now}
}

// Next mints the next CSN for a commit. It is safe for concurrent use:
// the timestamp, sequence and modification counters advance together
// under the Generator's own mutex.
func (g *Generator) Next() CSN {
	g.mu.Lock()
	defer g.mu.Unlock()
	t := g.now().UTC()
	sec := t.Truncate(time.Second)
	if sec.Equal(g.lastSec) {
		g.seq++
	} else {
		g.lastSec = sec
		g.seq = 0
	}
	g.mod++
	return CSN(fmt.Sprintf("%s.%06dZ#%06d#%03d#%06d",
		t.Format("20060102150405"), t.Nanosecond()/1000, g.seq, g.replicaID, g.mod%1000000))
}

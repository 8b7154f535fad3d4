// Package memory is a reference, in-process implementation of
// entrystore.Store backed by a map keyed on normalized DN. It exists to
// exercise the provider core end-to-end in tests and the example command;
// it makes no attempt at the concurrency sophistication a real backend
// would need beyond one coarse mutex over the entry map and a per-DN lock
// for EntryGetRW.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/dirsync/syncprov/csn"
	"github.com/dirsync/syncprov/entrystore"
)

// CSNAttr re-exports entrystore.CSNAttrName for callers already importing
// this package.
const CSNAttr = entrystore.CSNAttrName

// Store is a mutex-guarded in-memory directory.
type Store struct {
	mu      sync.RWMutex
	byNDN   map[string]*entrystore.Entry
	nextID  entrystore.ID
	locks   map[string]*sync.RWMutex
	locksMu sync.Mutex
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		byNDN: make(map[string]*entrystore.Entry),
		locks: make(map[string]*sync.RWMutex),
	}
}

// Normalize lowercases and trims a DN the way the provider's base
// comparisons expect. A real backend would fold per-attribute matching
// rules; this is a deliberately crude stand-in.
func Normalize(dn string) string {
	parts := strings.Split(dn, ",")
	for i, p := range parts {
		parts[i] = strings.ToLower(strings.TrimSpace(p))
	}
	return strings.Join(parts, ",")
}

// Put inserts or replaces the entry at dn, minting a UUID if none is set
// and stamping its CSN attribute. It is a test/bootstrap helper, not part
// of entrystore.Store.
func (s *Store) Put(dn string, attrs map[string][]string, commit csn.CSN) *entrystore.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	ndn := Normalize(dn)
	e, exists := s.byNDN[ndn]
	if !exists {
		s.nextID++
		e = &entrystore.Entry{
			DN:   dn,
			NDN:  ndn,
			UUID: uuid.NewString(),
			ID:   s.nextID,
		}
	}
	cp := make(map[string][]string, len(attrs))
	for k, v := range attrs {
		cp[k] = append([]string(nil), v...)
	}
	e.Attrs = cp
	e.CSN = commit
	e.Attrs[CSNAttr] = []string{string(commit)}
	s.byNDN[ndn] = e
	return e
}

// Delete removes the entry at dn.
func (s *Store) Delete(dn string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byNDN, Normalize(dn))
}

// Rename moves the entry at oldDN to newDN, preserving UUID and ID.
func (s *Store) Rename(oldDN, newDN string, commit csn.CSN) (*entrystore.Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	oldNDN := Normalize(oldDN)
	e, ok := s.byNDN[oldNDN]
	if !ok {
		return nil, false
	}
	delete(s.byNDN, oldNDN)
	e.DN = newDN
	e.NDN = Normalize(newDN)
	e.CSN = commit
	if e.Attrs == nil {
		e.Attrs = map[string][]string{}
	}
	e.Attrs[CSNAttr] = []string{string(commit)}
	s.byNDN[e.NDN] = e
	return e, true
}

func (s *Store) DNToEntry(_ context.Context, ndn string) (*entrystore.Entry, error) {
	ndn = Normalize(ndn)
	s.mu.RLock()
	defer s.mu.RUnlock()
	if e, ok := s.byNDN[ndn]; ok {
		return e.Clone(), nil
	}
	if parent, ok := s.nearestAncestor(ndn); ok {
		return nil, &entrystore.MatchedParent{NDN: parent}
	}
	return nil, entrystore.ErrNotFound
}

func (s *Store) nearestAncestor(ndn string) (string, bool) {
	parts := strings.Split(ndn, ",")
	for i := 1; i < len(parts); i++ {
		candidate := strings.Join(parts[i:], ",")
		if _, ok := s.byNDN[candidate]; ok {
			return candidate, true
		}
	}
	return "", false
}

func (s *Store) lockFor(ndn string) *sync.RWMutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[ndn]
	if !ok {
		l = &sync.RWMutex{}
		s.locks[ndn] = l
	}
	return l
}

func (s *Store) EntryGetRW(_ context.Context, ndn string, rw bool) (*entrystore.Entry, error) {
	ndn = Normalize(ndn)
	lock := s.lockFor(ndn)
	if rw {
		lock.Lock()
	} else {
		lock.RLock()
	}

	s.mu.RLock()
	e, ok := s.byNDN[ndn]
	s.mu.RUnlock()
	if !ok {
		if rw {
			lock.Unlock()
		} else {
			lock.RUnlock()
		}
		return nil, entrystore.ErrNotFound
	}
	return e.Clone(), nil
}

func (s *Store) EntryRelease(e *entrystore.Entry, _ bool) {
	if e == nil {
		return
	}
	lock := s.lockFor(e.NDN)
	lock.Unlock()
}

func (s *Store) TestFilter(_ context.Context, _ entrystore.Op, e *entrystore.Entry, f entrystore.Filter) (entrystore.Tri, error) {
	if e == nil {
		return entrystore.TriUndefined, nil
	}
	return entrystore.Eval(f, e.Attrs), nil
}

func (s *Store) AttrFind(e *entrystore.Entry, desc entrystore.AttrDescriptor) []string {
	if e == nil || e.Attrs == nil {
		return nil
	}
	return e.Attrs[string(desc)]
}

func (s *Store) AccessAllowed(_ context.Context, _ entrystore.Op, _ *entrystore.Entry, _ entrystore.AttrDescriptor, _ entrystore.AccessLevel) bool {
	return true
}

func (s *Store) BackendSearch(_ context.Context, req *entrystore.SearchRequest, cb entrystore.SearchCallback) error {
	s.mu.RLock()
	all := make([]*entrystore.Entry, 0, len(s.byNDN))
	for _, e := range s.byNDN {
		all = append(all, e)
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool { return all[i].NDN < all[j].NDN })

	base := Normalize(req.Base)
	for _, e := range all {
		if !entrystore.InScope(base, e.NDN, req.Scope) {
			continue
		}
		if req.Filter != nil {
			tri := entrystore.Eval(req.Filter, e.Attrs)
			if tri != entrystore.TriTrue {
				continue
			}
		}
		if err := cb(e.Clone(), e.IsReferral); err != nil {
			return err
		}
		if req.SizeLimit > 0 {
			req.SizeLimit--
			if req.SizeLimit == 0 {
				return nil
			}
		}
	}
	return nil
}

// InScope is kept as a re-export so existing callers of the memory package
// do not need to import entrystore directly for scope tests.
func InScope(base, candidate string, scope entrystore.Scope) bool {
	return entrystore.InScope(base, candidate, scope)
}

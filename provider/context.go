// Package provider implements the directory replication provider: the
// per-database state machine that turns a synchronization search into a
// refresh or refresh-and-persist stream, and the write-path hooks that keep
// every active persistent session current (spec.md §2-§5).
package provider

import (
	"log/slog"
	"sync"

	"github.com/dirsync/syncprov/csn"
	"github.com/dirsync/syncprov/entrystore"
)

// Context is the per-database singleton spec.md §3 describes: the context
// CSN high-water mark and the list of active persistent sessions, each
// guarded by its own mutex so a long Match Engine pass over the session
// list never blocks a concurrent cookie emission reading the CSN.
type Context struct {
	// csnMu guards contextCSN and learned. Held only for short updates,
	// never across I/O (spec.md §5).
	csnMu      sync.Mutex
	contextCSN csn.CSN
	learned    bool

	// sessionsMu guards sessions. Held for the full duration of a Match
	// Engine pass (spec.md §5); lock order is sessionsMu -> session's own
	// backlogMu, never the reverse.
	sessionsMu sync.Mutex
	sessions   []*Session

	Store     entrystore.Store
	Generator *csn.Generator
	Log       *slog.Logger

	checkpoint *Checkpointer
}

// ContextOption configures a Context at construction.
type ContextOption func(*Context)

// WithLogger sets the Context's logger. A nil logger is ignored.
func WithLogger(log *slog.Logger) ContextOption {
	return func(c *Context) {
		if log != nil {
			c.Log = log
		}
	}
}

// WithCheckpointer installs a checkpoint policy (SPEC_FULL.md supplemented
// feature 1). Without one, the context CSN is tracked in memory only.
func WithCheckpointer(cp *Checkpointer) ContextOption {
	return func(c *Context) { c.checkpoint = cp }
}

// NewContext opens a per-database Context over store, minting CSNs with
// generator (spec.md §3, "Context ... Lifecycle: initialized at database
// open; destroyed at database close").
func NewContext(store entrystore.Store, generator *csn.Generator, opts ...ContextOption) *Context {
	c := &Context{
		Store:     store,
		Generator: generator,
		Log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetContextCSN returns the current high-water mark.
func (c *Context) GetContextCSN() csn.CSN {
	c.csnMu.Lock()
	defer c.csnMu.Unlock()
	return c.contextCSN
}

// Learned reports whether the context CSN has been populated (cold-start
// has completed, spec.md §4.4).
func (c *Context) Learned() bool {
	c.csnMu.Lock()
	defer c.csnMu.Unlock()
	return c.learned
}

// TryAdvanceContextCSN advances the context CSN to max(current, candidate)
// and marks it learned (spec.md §4.2: "Advancement is conditional"). It
// returns the resulting context CSN.
func (c *Context) TryAdvanceContextCSN(candidate csn.CSN) csn.CSN {
	c.csnMu.Lock()
	defer c.csnMu.Unlock()
	c.contextCSN = csn.Max(c.contextCSN, candidate)
	c.learned = true
	result := c.contextCSN
	return result
}

// RegisterSession attaches s to the context's session list under the
// session-list mutex (spec.md §4.5).
func (c *Context) RegisterSession(s *Session) {
	c.sessionsMu.Lock()
	defer c.sessionsMu.Unlock()
	s.ctx = c
	c.sessions = append(c.sessions, s)
}

// DropSession removes s from the context's session list. Safe to call more
// than once for the same session.
func (c *Context) DropSession(s *Session) {
	c.sessionsMu.Lock()
	defer c.sessionsMu.Unlock()
	for i, cur := range c.sessions {
		if cur == s {
			c.sessions = append(c.sessions[:i], c.sessions[i+1:]...)
			return
		}
	}
}

// ForEachSession calls fn for every active session, in registration order,
// while holding the session-list mutex — the same lock the Match Engine
// holds for a write pass, so callers must not themselves try to register
// or drop a session from within fn.
func (c *Context) ForEachSession(fn func(*Session)) {
	c.sessionsMu.Lock()
	defer c.sessionsMu.Unlock()
	for _, s := range c.sessions {
		fn(s)
	}
}

// SessionCount reports the number of currently active sessions.
func (c *Context) SessionCount() int {
	c.sessionsMu.Lock()
	defer c.sessionsMu.Unlock()
	return len(c.sessions)
}

// Registry keeps one Context per database/scope name, the multi-database
// support the original provides via distinct overlay instances per
// olcDatabase (SPEC_FULL.md supplemented feature 3).
type Registry struct {
	mu    sync.RWMutex
	byKey map[string]*Context
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byKey: make(map[string]*Context)}
}

// Put installs ctx under key, replacing any existing entry.
func (r *Registry) Put(key string, ctx *Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byKey[key] = ctx
}

// Get returns the Context registered under key, if any.
func (r *Registry) Get(key string) (*Context, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ctx, ok := r.byKey[key]
	return ctx, ok
}

// Remove deletes the Context registered under key.
func (r *Registry) Remove(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byKey, key)
}

// Package httpapi exposes the provider's synchronization search as a small
// JSON HTTP surface: a refresh-only search, a refresh-and-persist search
// that upgrades to a live WebSocket session, and a checkpoint status probe.
package httpapi

import (
	"fmt"
	"strings"

	"github.com/dirsync/syncprov/csn"
	"github.com/dirsync/syncprov/entrystore"
	"github.com/dirsync/syncprov/provider"
)

// SearchRequestBody is the wire form of a synchronization request control
// (spec.md §6): the consumer's cookie plus the usual search parameters.
// Field names follow the control's own vocabulary rather than LDAP's wire
// tag names, since this is a JSON surface, not BER.
type SearchRequestBody struct {
	Mode         string   `json:"mode" validate:"required,oneof=refresh persist"`
	Cookie       string   `json:"cookie"`
	ReloadHint   bool     `json:"reloadHint"`
	Base         string   `json:"base" validate:"required"`
	Scope        string   `json:"scope" validate:"required,oneof=base one sub children"`
	Filter       string   `json:"filter"`
	Attrs        []string `json:"attrs"`
	DerefAliases string   `json:"derefAliases" validate:"omitempty,oneof=never searching finding always"`
}

var scopeByName = map[string]entrystore.Scope{
	"base":     entrystore.ScopeBase,
	"one":      entrystore.ScopeOneLevel,
	"sub":      entrystore.ScopeSubtree,
	"children": entrystore.ScopeSubordinate,
}

var derefByName = map[string]entrystore.DerefMode{
	"":         entrystore.DerefNever,
	"never":    entrystore.DerefNever,
	"searching": entrystore.DerefSearching,
	"finding":   entrystore.DerefFinding,
	"always":    entrystore.DerefAlways,
}

// toSearchRequest decodes b into the Coordinator's input, parsing the
// cookie with codec and the filter string with parseFilter. sessionID and
// requestID identify the caller-assigned live session and echo-back
// request, both opaque to the Coordinator.
func (b SearchRequestBody) toSearchRequest(codec csn.Codec, sessionID, requestID string) (provider.SearchRequest, error) {
	mode := provider.ModeRefreshOnly
	if b.Mode == "persist" {
		mode = provider.ModeRefreshAndPersist
	}

	cookie, err := codec.Decode(b.Cookie)
	if err != nil {
		return provider.SearchRequest{}, fmt.Errorf("httpapi: decode cookie: %w", err)
	}

	scope, ok := scopeByName[b.Scope]
	if !ok {
		return provider.SearchRequest{}, fmt.Errorf("httpapi: unknown scope %q", b.Scope)
	}

	filter, err := parseFilter(b.Filter)
	if err != nil {
		return provider.SearchRequest{}, fmt.Errorf("httpapi: parse filter: %w", err)
	}

	return provider.SearchRequest{
		SyncMode:     mode,
		Cookie:       cookie,
		ReloadHint:   b.ReloadHint,
		Base:         b.Base,
		Scope:        scope,
		Filter:       filter,
		FilterString: b.Filter,
		Attrs:        b.Attrs,
		DerefAliases: derefByName[b.DerefAliases],
		SessionID:    sessionID,
		RequestID:    requestID,
	}, nil
}

// parseFilter accepts an empty string (matching everything), a single
// "(attr=*)" presence expression, or a single "(attr=value)" equality
// expression. It is a deliberately small
// stand-in for a full LDAP filter grammar, sufficient to drive the
// Coordinator's range-rewrite over a JSON transport (entrystore.Filter's
// doc comment notes a real parser belongs behind the same interface).
func parseFilter(s string) (entrystore.Filter, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return entrystore.True{}, nil
	}
	if !strings.HasPrefix(s, "(") || !strings.HasSuffix(s, ")") {
		return nil, fmt.Errorf("httpapi: filter must be parenthesized, got %q", s)
	}
	inner := s[1 : len(s)-1]
	eq := strings.SplitN(inner, "=", 2)
	if len(eq) != 2 || eq[0] == "" {
		return nil, fmt.Errorf("httpapi: unsupported filter %q", s)
	}
	if eq[1] == "*" {
		return &entrystore.Present{Attr: eq[0]}, nil
	}
	return &entrystore.Equality{Attr: eq[0], Value: eq[1]}, nil
}

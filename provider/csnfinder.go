package provider

import (
	"context"

	"github.com/dirsync/syncprov/csn"
	"github.com/dirsync/syncprov/entrystore"
)

// PresentBatchSize bounds how many UUIDs FindPresent batches into a single
// sync-id-set intermediate message (spec.md §4.4: "tens to low hundreds").
const PresentBatchSize = 128

// FindCSN implements the CSN Finder's FIND_CSN mode (spec.md §4.4). It
// reports whether cookieCSN is still representable against the store. An
// empty cookieCSN (no bound requested) is trivially not present.
func FindCSN(ctx context.Context, c *Context, cookieCSN csn.CSN) (present bool, err error) {
	if cookieCSN == "" {
		return false, nil
	}
	if !c.Learned() {
		return c.coldStartFindCSN(ctx, cookieCSN)
	}
	return c.warmFindCSN(ctx, cookieCSN)
}

// coldStartFindCSN populates the context CSN for the first time. This is
// the one place in the package that deliberately holds csnMu across a
// store search: spec.md §4.4 calls it out explicitly as a mutex-protected
// critical section so exactly one caller performs the population.
func (c *Context) coldStartFindCSN(ctx context.Context, cookieCSN csn.CSN) (bool, error) {
	c.csnMu.Lock()
	defer c.csnMu.Unlock()

	if c.learned {
		// Lost the race to populate; another caller already finished.
		return csn.Compare(cookieCSN, c.contextCSN) <= 0, nil
	}

	var max csn.CSN
	observed := false
	err := c.Store.BackendSearch(ctx, &entrystore.SearchRequest{
		Base:   "",
		Scope:  entrystore.ScopeSubtree,
		Filter: &entrystore.GreaterOrEqual{Attr: entrystore.CSNAttrName, Value: string(cookieCSN)},
	}, func(e *entrystore.Entry, isRef bool) error {
		if e.CSN == cookieCSN {
			observed = true
		}
		max = csn.Max(max, e.CSN)
		return nil
	})
	if err != nil {
		return false, newErr(KindInternal, "provider.FindCSN", err)
	}

	c.contextCSN = csn.Max(c.contextCSN, max)
	c.learned = true
	return observed, nil
}

// warmFindCSN runs the one-result search spec.md §4.4 describes for the
// already-learned case: any entry with CSN <= cookieCSN validates it.
func (c *Context) warmFindCSN(ctx context.Context, cookieCSN csn.CSN) (bool, error) {
	found := false
	err := c.Store.BackendSearch(ctx, &entrystore.SearchRequest{
		Base:      "",
		Scope:     entrystore.ScopeSubtree,
		Filter:    &entrystore.LessOrEqual{Attr: entrystore.CSNAttrName, Value: string(cookieCSN)},
		SizeLimit: 1,
	}, func(e *entrystore.Entry, isRef bool) error {
		found = true
		return nil
	})
	if err != nil {
		return false, newErr(KindInternal, "provider.FindCSN", err)
	}
	return found, nil
}

// FindPresent implements FIND_PRESENT (spec.md §4.4): it streams the UUIDs
// of every entry with CSN <= cookieCSN in fixed-size batches, calling emit
// once per full batch and once more for any remainder.
func FindPresent(ctx context.Context, c *Context, cookieCSN csn.CSN, emit func(uuids []string) error) error {
	batch := make([]string, 0, PresentBatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		err := emit(batch)
		batch = batch[:0]
		return err
	}

	err := c.Store.BackendSearch(ctx, &entrystore.SearchRequest{
		Base:   "",
		Scope:  entrystore.ScopeSubtree,
		Filter: &entrystore.LessOrEqual{Attr: entrystore.CSNAttrName, Value: string(cookieCSN)},
	}, func(e *entrystore.Entry, isRef bool) error {
		batch = append(batch, e.UUID)
		if len(batch) >= PresentBatchSize {
			return flush()
		}
		return nil
	})
	if err != nil {
		return newErr(KindInternal, "provider.FindPresent", err)
	}
	return flush()
}

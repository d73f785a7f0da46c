// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatherline Contributors

package cache

import (
	"context"
	"sync"

	"github.com/samber/oops"

	"github.com/gatherline/gatherline/internal/docstore"
)

// Page identifies which page a query currently holds.
type Page int

// Page states. PageNull means nothing is loaded yet.
const (
	PageNull Page = iota
	// PageFirst holds the first page with more pages after it.
	PageFirst
	// PageNext holds an interior page reached going forward.
	PageNext
	// PagePrevious holds an interior page reached going backward.
	PagePrevious
	// PageLast holds the last page with pages before it.
	PageLast
	// PageFirstLast holds the only page of the result set.
	PageFirstLast
)

// String returns the page state name.
func (p Page) String() string {
	switch p {
	case PageNull:
		return "null"
	case PageFirst:
		return "first"
	case PageNext:
		return "next"
	case PagePrevious:
		return "previous"
	case PageLast:
		return "last"
	case PageFirstLast:
		return "first_last"
	default:
		return "unknown"
	}
}

// Query pages through the entities matching a store query, holding one
// reference per entity on the current page.
//
// Page loads are all-or-nothing: if any entity of the incoming page fails
// to resolve, everything fetched for it is released and the current page
// stays untouched. Successful loads reset the staleness flags.
type Query struct {
	c        *Cache
	base     docstore.Query
	pageSize int

	mu        sync.Mutex
	entities  []*Entity
	page      Page
	firstDoc  *docstore.Document
	lastDoc   *docstore.Document
	updated   bool
	deleted   bool
	dissolved bool
}

// NewQuery creates a query over base. base.Limit is the page size; zero
// means unbounded, in which case every load returns the full result set.
func NewQuery(c *Cache, base docstore.Query) *Query {
	pageSize := base.Limit
	base.Limit = 0
	base.LimitToLast = 0
	base.StartAfter = nil
	base.EndBefore = nil
	return &Query{c: c, base: base, pageSize: pageSize}
}

// Entities returns the current page.
func (q *Query) Entities() []*Entity {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*Entity, len(q.entities))
	copy(out, q.entities)
	return out
}

// Page returns the current page state.
func (q *Query) Page() Page {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.page
}

// HasNext reports whether a further page may exist.
func (q *Query) HasNext() bool {
	switch q.Page() {
	case PageFirst, PageNext, PagePrevious:
		return true
	default:
		return false
	}
}

// HasPrevious reports whether an earlier page may exist.
func (q *Query) HasPrevious() bool {
	switch q.Page() {
	case PageLast, PageNext, PagePrevious:
		return true
	default:
		return false
	}
}

// Updated reports whether an entity on the current page changed since the
// page was loaded.
func (q *Query) Updated() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.updated
}

// Deleted reports whether an entity on the current page was deleted since
// the page was loaded.
func (q *Query) Deleted() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.deleted
}

// OutOfDate reports whether the current page no longer reflects the store.
func (q *Query) OutOfDate() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.updated || q.deleted
}

// First loads the first page. Unbounded queries load everything and settle
// on PageFirstLast.
func (q *Query) First(ctx context.Context) error {
	dq := q.base
	dq.Limit = q.pageSize
	return q.load(ctx, dq, PageFirst)
}

// Last loads the final page.
func (q *Query) Last(ctx context.Context) error {
	if q.pageSize <= 0 {
		return q.First(ctx)
	}
	dq := q.base
	dq.LimitToLast = q.pageSize
	return q.load(ctx, dq, PageLast)
}

// Next loads the page after the current one. With nothing loaded yet it
// falls back to the first page.
func (q *Query) Next(ctx context.Context) error {
	if q.Page() == PageNull {
		return q.First(ctx)
	}
	if !q.HasNext() {
		return oops.Code("ILLEGAL_STATE").With("page", q.Page().String()).Errorf("no next page")
	}
	q.mu.Lock()
	cursor := q.lastDoc
	q.mu.Unlock()
	if cursor == nil {
		return oops.Code("ILLEGAL_STATE").Errorf("no cursor for next page")
	}
	dq := q.base
	dq.Limit = q.pageSize
	dq.StartAfter = cursor
	return q.load(ctx, dq, PageNext)
}

// Previous loads the page before the current one.
func (q *Query) Previous(ctx context.Context) error {
	if !q.HasPrevious() {
		return oops.Code("ILLEGAL_STATE").With("page", q.Page().String()).Errorf("no previous page")
	}
	q.mu.Lock()
	cursor := q.firstDoc
	q.mu.Unlock()
	if cursor == nil {
		return oops.Code("ILLEGAL_STATE").Errorf("no cursor for previous page")
	}
	dq := q.base
	dq.LimitToLast = q.pageSize
	dq.EndBefore = cursor
	return q.load(ctx, dq, PagePrevious)
}

// load runs the store query, resolves every returned document, and swaps
// the page in atomically.
func (q *Query) load(ctx context.Context, dq docstore.Query, target Page) error {
	q.mu.Lock()
	if q.dissolved {
		q.mu.Unlock()
		return oops.Code("ILLEGAL_STATE").Errorf("query dissolved")
	}
	q.mu.Unlock()

	docs, err := q.c.store.Run(ctx, dq)
	if err != nil {
		err = oops.Code("REMOTE_IO").With("collection", dq.Collection).Wrap(err)
		q.c.reportError(err)
		q.c.metrics.pageLoad("failure")
		return err
	}

	fresh := make([]*Entity, 0, len(docs))
	for _, doc := range docs {
		e, ferr := q.c.Fetch(ctx, dq.Collection, doc.ID)
		if ferr != nil {
			for _, got := range fresh {
				got.RemoveListener(q)
				got.Dissolve()
			}
			q.c.metrics.pageLoad("failure")
			return oops.Code("REMOTE_IO").With("collection", dq.Collection).With("id", doc.ID).Wrap(ferr)
		}
		e.AddListener(q)
		fresh = append(fresh, e)
	}

	q.mu.Lock()
	old := q.entities
	q.entities = fresh
	q.updated = false
	q.deleted = false
	q.page = q.resolvePage(target, len(docs))
	if len(docs) > 0 {
		first, last := docs[0], docs[len(docs)-1]
		q.firstDoc = &first
		q.lastDoc = &last
	}
	q.mu.Unlock()

	for _, prev := range old {
		prev.RemoveListener(q)
		prev.Dissolve()
	}
	q.c.metrics.pageLoad("success")
	return nil
}

// resolvePage maps a load direction and result size onto the page state.
// Short pages clamp to the boundary they revealed. Caller must hold mu.
func (q *Query) resolvePage(target Page, n int) Page {
	if q.pageSize <= 0 {
		return PageFirstLast
	}
	short := n < q.pageSize
	switch target {
	case PageFirst:
		if short {
			return PageFirstLast
		}
		return PageFirst
	case PageNext:
		if short {
			return PageLast
		}
		return PageNext
	case PagePrevious:
		if short {
			return PageFirst
		}
		return PagePrevious
	case PageLast:
		if short {
			return PageFirstLast
		}
		return PageLast
	default:
		return target
	}
}

// OnEntityEvent tracks staleness of the loaded page.
func (q *Query) OnEntityEvent(_ *Entity, t EventType) {
	q.mu.Lock()
	defer q.mu.Unlock()
	switch t {
	case EventUpdate, EventSubUpdate:
		q.updated = true
	case EventDelete, EventDereferenced:
		q.deleted = true
	case EventInit:
		// Loaded entities are already initialized.
	}
}

// Dissolve releases the current page. Idempotent; the query cannot load
// again afterwards.
func (q *Query) Dissolve() {
	q.mu.Lock()
	if q.dissolved {
		q.mu.Unlock()
		return
	}
	q.dissolved = true
	old := q.entities
	q.entities = nil
	q.page = PageNull
	q.mu.Unlock()

	for _, e := range old {
		e.RemoveListener(q)
		e.Dissolve()
	}
}

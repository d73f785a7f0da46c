// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatherline Contributors

package cache

import (
	"context"
	"sync"

	"github.com/gatherline/gatherline/internal/docstore"
)

// InfiniteQuery accumulates query pages for endless-scroll style consumers.
// It owns one reference per accumulated entity, independent of the
// underlying query's page window.
type InfiniteQuery struct {
	q *Query

	mu       sync.Mutex
	entities []*Entity
}

// NewInfiniteQuery creates an accumulating query over base. base.Limit is
// the increment size.
func NewInfiniteQuery(c *Cache, base docstore.Query) *InfiniteQuery {
	return &InfiniteQuery{q: NewQuery(c, base)}
}

// Entities returns everything accumulated so far.
func (iq *InfiniteQuery) Entities() []*Entity {
	iq.mu.Lock()
	defer iq.mu.Unlock()
	out := make([]*Entity, len(iq.entities))
	copy(out, iq.entities)
	return out
}

// HasMore reports whether Increment could add another page.
func (iq *InfiniteQuery) HasMore() bool {
	switch iq.q.Page() {
	case PageLast, PageFirstLast:
		return false
	default:
		return true
	}
}

// OutOfDate reports whether accumulated data no longer reflects the store.
func (iq *InfiniteQuery) OutOfDate() bool {
	return iq.q.OutOfDate()
}

// Refresh drops everything accumulated and reloads from the first page.
func (iq *InfiniteQuery) Refresh(ctx context.Context) error {
	if err := iq.q.First(ctx); err != nil {
		return err
	}
	fresh := iq.adoptPage()

	iq.mu.Lock()
	old := iq.entities
	iq.entities = fresh
	iq.mu.Unlock()

	for _, e := range old {
		e.Dissolve()
	}
	return nil
}

// Increment appends the next page. The first call after construction loads
// the first page.
func (iq *InfiniteQuery) Increment(ctx context.Context) error {
	if iq.q.Page() == PageNull {
		return iq.Refresh(ctx)
	}
	if !iq.HasMore() {
		return nil
	}
	if err := iq.q.Next(ctx); err != nil {
		return err
	}
	fresh := iq.adoptPage()

	iq.mu.Lock()
	iq.entities = append(iq.entities, fresh...)
	iq.mu.Unlock()
	return nil
}

// adoptPage takes an extra reference on every entity of the query's current
// page so the accumulated list outlives page swaps.
func (iq *InfiniteQuery) adoptPage() []*Entity {
	page := iq.q.Entities()
	out := make([]*Entity, 0, len(page))
	for _, e := range page {
		out = append(out, e.Fetch())
	}
	return out
}

// Dissolve releases the accumulated entities and the underlying query.
func (iq *InfiniteQuery) Dissolve() {
	iq.mu.Lock()
	old := iq.entities
	iq.entities = nil
	iq.mu.Unlock()

	for _, e := range old {
		e.Dissolve()
	}
	iq.q.Dissolve()
}

// Base returns the underlying paging query. Exposed for staleness flags and
// page state.
func (iq *InfiniteQuery) Base() *Query {
	return iq.q
}

// compile-time interface checks
var (
	_ UpdateListener = (*Query)(nil)
	_ UpdateListener = (*Entity)(nil)
	_ docstore.Store = (*docstore.MemoryStore)(nil)
	_ docstore.Store = (*docstore.PostgresStore)(nil)
)

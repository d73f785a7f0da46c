// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatherline Contributors

package docstore

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/samber/oops"
)

// MemoryStore is an in-memory Store for tests and local development.
//
// Watch callbacks fire synchronously on the mutating goroutine, after all
// internal locks are released. Callers must therefore not hold locks of
// their own across mutating calls that their watchers would also take.
type MemoryStore struct {
	mu       sync.Mutex
	docs     map[string]map[string]Fields // collection -> id -> fields
	watchers map[string][]*memWatcher     // "collection/id" -> watchers
	closed   bool

	failNext error // injected failure for the next operation
}

type memWatcher struct {
	fn        WatchFunc
	cancelled bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:     make(map[string]map[string]Fields),
		watchers: make(map[string][]*memWatcher),
	}
}

// FailNext makes the next Get/Set/Create/Delete/Run/Count call return err.
// Test hook for exercising remote failure paths.
func (s *MemoryStore) FailNext(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = err
}

// takeFailure consumes a pending injected failure. Caller must hold mu.
func (s *MemoryStore) takeFailure() error {
	err := s.failNext
	s.failNext = nil
	return err
}

// Get returns the document or ErrNotFound.
func (s *MemoryStore) Get(_ context.Context, collection, id string) (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Document{}, ErrClosed
	}
	if err := s.takeFailure(); err != nil {
		return Document{}, err
	}
	fields, ok := s.docs[collection][id]
	if !ok {
		return Document{}, oops.Code("NOT_FOUND").With("collection", collection).With("id", id).Wrap(ErrNotFound)
	}
	return Document{ID: id, Fields: fields.Clone()}, nil
}

// Set writes the full snapshot and notifies watchers.
func (s *MemoryStore) Set(_ context.Context, collection, id string, fields Fields) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if err := s.takeFailure(); err != nil {
		s.mu.Unlock()
		return err
	}
	if s.docs[collection] == nil {
		s.docs[collection] = make(map[string]Fields)
	}
	s.docs[collection][id] = fields.Clone()
	targets := s.liveWatchers(collection, id)
	s.mu.Unlock()

	for _, w := range targets {
		w.fn(Change{Fields: fields.Clone()})
	}
	return nil
}

// Create writes a new document or fails with ErrExists.
func (s *MemoryStore) Create(_ context.Context, collection, id string, fields Fields) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if err := s.takeFailure(); err != nil {
		s.mu.Unlock()
		return err
	}
	if _, ok := s.docs[collection][id]; ok {
		s.mu.Unlock()
		return oops.Code("ALREADY_EXISTS").With("collection", collection).With("id", id).Wrap(ErrExists)
	}
	if s.docs[collection] == nil {
		s.docs[collection] = make(map[string]Fields)
	}
	s.docs[collection][id] = fields.Clone()
	targets := s.liveWatchers(collection, id)
	s.mu.Unlock()

	for _, w := range targets {
		w.fn(Change{Fields: fields.Clone()})
	}
	return nil
}

// Delete removes the document and notifies watchers with a deleted change.
func (s *MemoryStore) Delete(_ context.Context, collection, id string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if err := s.takeFailure(); err != nil {
		s.mu.Unlock()
		return err
	}
	_, existed := s.docs[collection][id]
	delete(s.docs[collection], id)
	var targets []*memWatcher
	if existed {
		targets = s.liveWatchers(collection, id)
	}
	s.mu.Unlock()

	for _, w := range targets {
		w.fn(Change{Deleted: true})
	}
	return nil
}

// Run executes the query against the current contents.
func (s *MemoryStore) Run(_ context.Context, q Query) ([]Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if err := s.takeFailure(); err != nil {
		return nil, err
	}

	ordered := s.orderedMatches(q)

	switch {
	case q.LimitToLast > 0:
		end := len(ordered)
		if q.EndBefore != nil {
			end = lowerBound(ordered, q.Orders, *q.EndBefore)
		}
		start := end - q.LimitToLast
		if start < 0 {
			start = 0
		}
		ordered = ordered[start:end]
	case q.Limit > 0:
		start := 0
		if q.StartAfter != nil {
			start = upperBound(ordered, q.Orders, *q.StartAfter)
		}
		end := start + q.Limit
		if end > len(ordered) {
			end = len(ordered)
		}
		ordered = ordered[start:end]
	}

	out := make([]Document, len(ordered))
	for i, d := range ordered {
		out[i] = Document{ID: d.ID, Fields: d.Fields.Clone()}
	}
	return out, nil
}

// Count returns the number of documents matching the query's filters.
func (s *MemoryStore) Count(_ context.Context, q Query) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	if err := s.takeFailure(); err != nil {
		return 0, err
	}
	var n int64
	for _, fields := range s.docs[q.Collection] {
		if matchesFilters(fields, q.Filters) {
			n++
		}
	}
	return n, nil
}

// Watch registers fn for changes to one document.
func (s *MemoryStore) Watch(collection, id string, fn WatchFunc) (CancelFunc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	key := collection + "/" + id
	w := &memWatcher{fn: fn}
	s.watchers[key] = append(s.watchers[key], w)

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		w.cancelled = true
		live := s.watchers[key][:0]
		for _, cand := range s.watchers[key] {
			if !cand.cancelled {
				live = append(live, cand)
			}
		}
		if len(live) == 0 {
			delete(s.watchers, key)
		} else {
			s.watchers[key] = live
		}
	}, nil
}

// Close drops all contents and watchers.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.docs = make(map[string]map[string]Fields)
	s.watchers = make(map[string][]*memWatcher)
	return nil
}

// liveWatchers snapshots the non-cancelled watchers for a document.
// Caller must hold mu.
func (s *MemoryStore) liveWatchers(collection, id string) []*memWatcher {
	src := s.watchers[collection+"/"+id]
	out := make([]*memWatcher, 0, len(src))
	for _, w := range src {
		if !w.cancelled {
			out = append(out, w)
		}
	}
	return out
}

// orderedMatches returns filtered documents sorted per the query's orders,
// ties broken by ID. Caller must hold mu.
func (s *MemoryStore) orderedMatches(q Query) []Document {
	var docs []Document
	for id, fields := range s.docs[q.Collection] {
		if matchesFilters(fields, q.Filters) {
			docs = append(docs, Document{ID: id, Fields: fields})
		}
	}
	sort.Slice(docs, func(i, j int) bool {
		return compareDocs(docs[i], docs[j], q.Orders) < 0
	})
	return docs
}

// upperBound returns the index of the first document ordered strictly after
// the cursor.
func upperBound(docs []Document, orders []Order, cursor Document) int {
	return sort.Search(len(docs), func(i int) bool {
		return compareDocs(docs[i], cursor, orders) > 0
	})
}

// lowerBound returns the index of the first document ordered at or after
// the cursor.
func lowerBound(docs []Document, orders []Order, cursor Document) int {
	return sort.Search(len(docs), func(i int) bool {
		return compareDocs(docs[i], cursor, orders) >= 0
	})
}

func matchesFilters(fields Fields, filters []Filter) bool {
	for _, f := range filters {
		v := fields[f.Field]
		switch f.Op {
		case OpEq:
			if compareValues(v, f.Value) != 0 {
				return false
			}
		case OpNeq:
			if compareValues(v, f.Value) == 0 {
				return false
			}
		case OpIn:
			list, ok := f.Value.([]any)
			if !ok {
				return false
			}
			found := false
			for _, cand := range list {
				if compareValues(v, cand) == 0 {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func compareDocs(a, b Document, orders []Order) int {
	for _, o := range orders {
		c := compareValues(a.Fields[o.Field], b.Fields[o.Field])
		if o.Desc {
			c = -c
		}
		if c != 0 {
			return c
		}
	}
	return strings.Compare(a.ID, b.ID)
}

// compareValues imposes a total order over field values: nil < bool <
// number < string. Numbers compare across int/int64/float64.
func compareValues(a, b any) int {
	ra, rb := rankValue(a), rankValue(b)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}
	switch ra {
	case 0: // both nil
		return 0
	case 1:
		ab, bb := a.(bool), b.(bool)
		switch {
		case ab == bb:
			return 0
		case !ab:
			return -1
		default:
			return 1
		}
	case 2:
		af, bf := toFloat(a), toFloat(b)
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	default:
		as, _ := a.(string)
		bs, _ := b.(string)
		return strings.Compare(as, bs)
	}
}

func rankValue(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case bool:
		return 1
	case int, int32, int64, float32, float64:
		return 2
	default:
		return 3
	}
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case float32:
		return float64(n)
	case float64:
		return n
	default:
		return 0
	}
}

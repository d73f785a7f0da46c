// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatherline Contributors

// Package docstore defines the remote document store contract and its drivers.
//
// Documents are schemaless field maps addressed by (collection, id). The
// store guarantees snapshot-level writes: Set replaces the whole field map,
// never a partial patch. Change notifications are delivered per document
// through Watch.
package docstore

import (
	"context"
	"errors"

	"github.com/oklog/ulid/v2"
)

// Sentinel errors shared by all drivers.
var (
	// ErrNotFound indicates the requested document does not exist.
	ErrNotFound = errors.New("document not found")
	// ErrExists indicates a Create collided with an existing document.
	ErrExists = errors.New("document already exists")
	// ErrClosed indicates the store has been closed.
	ErrClosed = errors.New("store closed")
)

// Fields is a document's field map. Values are scalars, []string reference
// lists, or nil.
type Fields map[string]any

// Clone returns a shallow copy with reference lists deep-copied.
func (f Fields) Clone() Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		if list, ok := v.([]string); ok {
			cp := make([]string, len(list))
			copy(cp, list)
			out[k] = cp
			continue
		}
		out[k] = v
	}
	return out
}

// Document is a stored document snapshot.
type Document struct {
	ID     string
	Fields Fields
}

// NewID returns a fresh document ID.
func NewID() string {
	return ulid.Make().String()
}

// FilterOp is a query filter operator.
type FilterOp string

// Supported filter operators.
const (
	OpEq  FilterOp = "=="
	OpNeq FilterOp = "!="
	OpIn  FilterOp = "in"
)

// Filter restricts query results to documents whose field matches.
type Filter struct {
	Field string
	Op    FilterOp
	Value any
}

// Order sorts query results by a field. Ties are broken by document ID.
type Order struct {
	Field string
	Desc  bool
}

// Query describes a read against one collection. Limit and LimitToLast are
// mutually exclusive; StartAfter pairs with Limit and EndBefore with
// LimitToLast, cursors being full documents previously returned by the
// store.
type Query struct {
	Collection  string
	Filters     []Filter
	Orders      []Order
	Limit       int
	LimitToLast int
	StartAfter  *Document
	EndBefore   *Document
}

// Change is a single document change delivered to watchers. Deleted changes
// carry no fields.
type Change struct {
	Fields  Fields
	Deleted bool
}

// WatchFunc receives document changes. Implementations must not call back
// into the store from the callback's goroutine if the driver documents
// synchronous delivery.
type WatchFunc func(Change)

// CancelFunc detaches a watcher. Safe to call more than once.
type CancelFunc func()

// Store is the remote document store used by the cache layer.
type Store interface {
	// Get returns the document or ErrNotFound.
	Get(ctx context.Context, collection, id string) (Document, error)
	// Set writes the full field snapshot, creating the document if needed.
	Set(ctx context.Context, collection, id string, fields Fields) error
	// Create writes a new document, failing with ErrExists if one is present.
	Create(ctx context.Context, collection, id string, fields Fields) error
	// Delete removes the document. Deleting a missing document is not an error.
	Delete(ctx context.Context, collection, id string) error
	// Run executes a query and returns matching documents in query order.
	Run(ctx context.Context, q Query) ([]Document, error)
	// Count returns the number of documents matching the query's filters.
	Count(ctx context.Context, q Query) (int64, error)
	// Watch registers fn for changes to one document.
	Watch(collection, id string, fn WatchFunc) (CancelFunc, error)
	// Close releases driver resources. Watchers stop receiving changes.
	Close() error
}

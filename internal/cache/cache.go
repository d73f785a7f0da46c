// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatherline Contributors

// Package cache keeps reference-counted entity handles over a remote
// document store. Each document has at most one live entity per cache;
// reference fields resolve to further cached entities, and store changes
// propagate through listener registrations.
package cache

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/samber/oops"

	"github.com/gatherline/gatherline/internal/docstore"
	"github.com/gatherline/gatherline/pkg/errutil"
)

// Options configures a Cache.
type Options struct {
	// Logger defaults to slog.Default().
	Logger *slog.Logger
	// Metrics is optional; nil disables instrumentation.
	Metrics *Metrics
}

// Cache is the per-session entity cache. It is handed around explicitly;
// independent caches over the same store see each other only through store
// change notifications.
type Cache struct {
	store    docstore.Store
	registry *Registry
	log      *slog.Logger
	metrics  *Metrics

	mu       sync.Mutex
	entities map[string]*Entity // "collection/id" -> live entity

	errMu        sync.Mutex
	errListeners []ErrorListener
}

// New creates a cache over the given store and schema registry.
func New(store docstore.Store, registry *Registry, opts Options) *Cache {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Cache{
		store:    store,
		registry: registry,
		log:      log,
		metrics:  opts.Metrics,
		entities: make(map[string]*Entity),
	}
}

// Store exposes the underlying document store for query construction.
func (c *Cache) Store() docstore.Store {
	return c.store
}

// AddErrorListener registers a process-wide remote failure listener. All
// listeners run before the originating error is returned to the caller.
func (c *Cache) AddErrorListener(l ErrorListener) {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	c.errListeners = append(c.errListeners, l)
}

func (c *Cache) reportError(err error) {
	errutil.LogError(c.log, "remote store failure", err)
	c.errMu.Lock()
	targets := make([]ErrorListener, len(c.errListeners))
	copy(targets, c.errListeners)
	c.errMu.Unlock()
	for _, l := range targets {
		l(err)
	}
}

// Live returns the number of live entities. Test hook.
func (c *Cache) Live() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entities)
}

// Fetch returns the entity for (collection, id), taking one reference. At
// most one entity exists per document: concurrent holders share the
// instance and its reference count. A fetch that hits an entity still
// resolving its references returns that instance immediately, which keeps
// reference cycles from stalling initialization.
func (c *Cache) Fetch(ctx context.Context, collection, id string) (*Entity, error) {
	if id == "" {
		return nil, oops.Code("VALIDATION_FAILED").With("collection", collection).Errorf("blank document ID")
	}

	c.mu.Lock()
	schema, ok := c.registry.Schema(collection)
	if !ok {
		c.mu.Unlock()
		return nil, oops.Code("ILLEGAL_STATE").With("collection", collection).Errorf("unknown collection")
	}
	path := collection + "/" + id
	if e, ok := c.entities[path]; ok {
		e.refCount++
		c.mu.Unlock()
		c.metrics.hit()
		return e, nil
	}
	e := c.newEntityLocked(schema, id)
	c.mu.Unlock()
	c.metrics.miss()

	doc, err := c.store.Get(ctx, collection, id)
	if err != nil {
		if !errors.Is(err, docstore.ErrNotFound) {
			err = oops.Code("REMOTE_IO").With("path", path).Wrap(err)
			c.reportError(err)
		}
		c.failInit(e)
		return nil, err
	}
	if err := c.initialize(ctx, e, doc.Fields); err != nil {
		return nil, err
	}
	return e, nil
}

// CreateInstance validates fields, resolves their references, and creates
// the document. Creation is all-or-nothing: a failed reference resolution
// or a store collision leaves neither a cache entry nor a remote document.
func (c *Cache) CreateInstance(ctx context.Context, collection, id string, fields docstore.Fields) (*Entity, error) {
	if id == "" {
		id = docstore.NewID()
	}

	c.mu.Lock()
	schema, ok := c.registry.Schema(collection)
	if !ok {
		c.mu.Unlock()
		return nil, oops.Code("ILLEGAL_STATE").With("collection", collection).Errorf("unknown collection")
	}
	if invalid := schema.ValidateFields(fields); len(invalid) > 0 {
		c.mu.Unlock()
		return nil, oops.Code("VALIDATION_FAILED").
			With("collection", collection).
			With("fields", invalid).
			Errorf("invalid fields: %v", invalid)
	}
	path := collection + "/" + id
	if _, ok := c.entities[path]; ok {
		c.mu.Unlock()
		return nil, oops.Code("ALREADY_EXISTS").With("path", path).Wrap(docstore.ErrExists)
	}
	e := c.newEntityLocked(schema, id)
	c.mu.Unlock()
	c.metrics.miss()

	if err := c.initialize(ctx, e, fields); err != nil {
		return nil, err
	}
	if err := c.store.Create(ctx, collection, id, e.Data()); err != nil {
		if !errors.Is(err, docstore.ErrExists) {
			err = oops.Code("REMOTE_IO").With("path", path).Wrap(err)
			c.reportError(err)
		}
		e.FullDissolve()
		return nil, err
	}
	return e, nil
}

// Return asserts that the caller has released an entity completely. Panics
// if references remain.
func (c *Cache) Return(e *Entity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !e.dereferenced && e.refCount > 0 {
		panic(oops.Code("ILLEGAL_STATE").
			With("path", e.Path()).
			With("ref_count", e.refCount).
			Errorf("entity returned while still referenced"))
	}
}

// newEntityLocked registers an initializing placeholder. Caller must hold mu.
func (c *Cache) newEntityLocked(schema Schema, id string) *Entity {
	e := &Entity{
		c:            c,
		schema:       schema,
		id:           id,
		refCount:     1,
		initializing: true,
		fields:       make(docstore.Fields, len(schema.Fields)),
		refs:         make(map[string]*Entity),
		refLists:     make(map[string][]*Entity),
	}
	c.entities[e.Path()] = e
	c.metrics.trackLive(1)
	return e
}

// initialize validates scalar fields and resolves reference fields in
// schema order, one in-flight fetch at a time. A failed required reference
// rolls back every reference already resolved and fails the entity.
func (c *Cache) initialize(ctx context.Context, e *Entity, fields docstore.Fields) error {
	for _, f := range e.schema.Fields {
		v := fields[f.Name]
		var err error
		switch {
		case f.IsRef() && f.Repeated:
			err = c.initRefList(ctx, e, f, v)
		case f.IsRef():
			err = c.initRef(ctx, e, f, v)
		default:
			err = c.initScalar(e, f, v)
		}
		if err != nil {
			c.rollbackInit(e)
			return err
		}
	}

	c.mu.Lock()
	e.initialized = true
	e.initializing = false
	waiters := e.initListeners
	e.initListeners = nil
	c.mu.Unlock()

	cancel, err := c.store.Watch(e.schema.Collection, e.id, e.applyRemoteChange)
	if err != nil {
		c.log.Warn("change watch unavailable", "path", e.Path(), "error", err)
	} else {
		c.mu.Lock()
		e.watchCancel = cancel
		c.mu.Unlock()
	}

	for _, fn := range waiters {
		fn(e, true)
	}
	e.notifyAll(EventInit)
	return nil
}

func (c *Cache) initScalar(e *Entity, f FieldDef, v any) error {
	if f.Validate != nil && !f.Validate(v) {
		return oops.Code("VALIDATION_FAILED").With("path", e.Path()).
			Wrap(&ValidationError{Field: f.Name, Message: "invalid value"})
	}
	c.mu.Lock()
	e.fields[f.Name] = v
	c.mu.Unlock()
	return nil
}

func (c *Cache) initRef(ctx context.Context, e *Entity, f FieldDef, v any) error {
	id, ok := asString(v)
	if !ok || (id == "" && !f.Nullable) {
		return oops.Code("VALIDATION_FAILED").With("path", e.Path()).
			Wrap(&ValidationError{Field: f.Name, Message: "invalid reference"})
	}
	if f.Validate != nil && !f.Validate(v) {
		return oops.Code("VALIDATION_FAILED").With("path", e.Path()).
			Wrap(&ValidationError{Field: f.Name, Message: "invalid value"})
	}
	if id == "" {
		c.mu.Lock()
		e.fields[f.Name] = ""
		e.refs[f.Name] = nil
		c.mu.Unlock()
		return nil
	}

	child, err := c.Fetch(ctx, f.Ref, id)
	if err != nil {
		if f.Nullable {
			// Dangling optional reference: blank it and carry on.
			c.mu.Lock()
			e.fields[f.Name] = ""
			e.refs[f.Name] = nil
			c.mu.Unlock()
			return nil
		}
		return oops.Code("VALIDATION_FAILED").With("path", e.Path()).With("field", f.Name).Wrap(err)
	}
	child.AddListener(e)
	c.mu.Lock()
	e.fields[f.Name] = id
	e.refs[f.Name] = child
	c.mu.Unlock()
	return nil
}

func (c *Cache) initRefList(ctx context.Context, e *Entity, f FieldDef, v any) error {
	ids, ok := asStringList(v)
	if !ok {
		return oops.Code("VALIDATION_FAILED").With("path", e.Path()).
			Wrap(&ValidationError{Field: f.Name, Message: "invalid reference list"})
	}
	if f.Validate != nil && !f.Validate(v) {
		return oops.Code("VALIDATION_FAILED").With("path", e.Path()).
			Wrap(&ValidationError{Field: f.Name, Message: "invalid value"})
	}

	resolved := make([]*Entity, 0, len(ids))
	kept := make([]string, 0, len(ids))
	for _, id := range ids {
		child, err := c.Fetch(ctx, f.Ref, id)
		if err != nil {
			// Dangling element: drop it, the emptiness check below decides
			// whether the entity survives.
			continue
		}
		child.AddListener(e)
		resolved = append(resolved, child)
		kept = append(kept, id)
	}
	if len(kept) == 0 && len(ids) > 0 && !f.AllowEmpty {
		for _, child := range resolved {
			child.RemoveListener(e)
			child.Dissolve()
		}
		return oops.Code("VALIDATION_FAILED").With("path", e.Path()).
			Wrap(&ValidationError{Field: f.Name, Message: "no resolvable references"})
	}
	if len(ids) == 0 && !f.AllowEmpty {
		return oops.Code("VALIDATION_FAILED").With("path", e.Path()).
			Wrap(&ValidationError{Field: f.Name, Message: "empty reference list"})
	}

	c.mu.Lock()
	e.fields[f.Name] = kept
	e.refLists[f.Name] = resolved
	c.mu.Unlock()
	return nil
}

// rollbackInit releases references resolved so far and fails the entity.
func (c *Cache) rollbackInit(e *Entity) {
	c.mu.Lock()
	var children []*Entity
	for _, child := range e.refs {
		if child != nil {
			children = append(children, child)
		}
	}
	for _, list := range e.refLists {
		children = append(children, list...)
	}
	e.refs = make(map[string]*Entity)
	e.refLists = make(map[string][]*Entity)
	c.mu.Unlock()

	for _, child := range children {
		child.RemoveListener(e)
		child.Dissolve()
	}
	c.failInit(e)
}

// failInit permanently dereferences an entity that never became usable and
// reports failure to waiting init listeners.
func (c *Cache) failInit(e *Entity) {
	c.mu.Lock()
	if e.dereferenced {
		c.mu.Unlock()
		return
	}
	e.initializing = false
	e.dereferenced = true
	e.refCount = 0
	delete(c.entities, e.Path())
	waiters := e.initListeners
	e.initListeners = nil
	e.listeners = nil
	c.mu.Unlock()
	c.metrics.trackLive(-1)

	for _, fn := range waiters {
		fn(e, false)
	}
}

// evict removes an entity whose last reference was released. Eviction is
// idempotent and terminal: the entity never re-enters the cache.
func (c *Cache) evict(e *Entity) {
	c.mu.Lock()
	if e.dereferenced {
		c.mu.Unlock()
		return
	}
	e.dereferenced = true
	e.initializing = false
	e.refCount = 0
	delete(c.entities, e.Path())

	cancel := e.watchCancel
	e.watchCancel = nil

	var children []*Entity
	for _, child := range e.refs {
		if child != nil {
			children = append(children, child)
		}
	}
	for _, list := range e.refLists {
		children = append(children, list...)
	}
	e.refs = make(map[string]*Entity)
	e.refLists = make(map[string][]*Entity)

	targets := e.snapshotListeners()
	e.listeners = nil
	waiters := e.initListeners
	e.initListeners = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	for _, child := range children {
		child.RemoveListener(e)
		child.Dissolve()
	}
	e.notify(targets, EventDereferenced)
	for _, fn := range waiters {
		fn(e, false)
	}
	c.metrics.evicted()
	c.metrics.trackLive(-1)
}

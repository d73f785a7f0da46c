// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatherline Contributors

package cache

import (
	"context"

	"github.com/samber/oops"

	"github.com/gatherline/gatherline/internal/docstore"
)

// DeleteReason is a bitmask describing why an entity is being deleted.
type DeleteReason int

// Delete reasons.
const (
	// DeleteHard is a caller-initiated deletion.
	DeleteHard DeleteReason = 1 << iota
	// DeleteCascade propagates from an owning entity's deletion.
	DeleteCascade
	// DeleteUpFall removes an entity left invalid by a dependency's deletion.
	DeleteUpFall
	// DeleteReplacement removes an entity superseded by another document.
	DeleteReplacement
	// DeleteError removes an entity whose state became unrecoverable.
	DeleteError
)

// Entity is a reference-counted handle on one cached document.
//
// An entity is usable once initialization completed and until it is evicted.
// Callers pair every Fetch with a Dissolve; the last Dissolve evicts the
// entity from its cache. Eviction is terminal: a later fetch of the same
// document yields a fresh instance.
type Entity struct {
	c      *Cache
	schema Schema
	id     string

	// All mutable state below is guarded by c.mu.
	refCount     int
	initialized  bool
	initializing bool
	dereferenced bool
	deleted      bool

	fields   docstore.Fields
	refs     map[string]*Entity
	refLists map[string][]*Entity

	listeners     []UpdateListener
	initListeners []InitFunc
	watchCancel   docstore.CancelFunc
}

// ID returns the document ID.
func (e *Entity) ID() string { return e.id }

// Collection returns the owning collection name.
func (e *Entity) Collection() string { return e.schema.Collection }

// Path returns the cache key, "collection/id".
func (e *Entity) Path() string { return e.schema.Collection + "/" + e.id }

// Usable reports whether the entity may be read. False before
// initialization completes and after eviction.
func (e *Entity) Usable() bool {
	e.c.mu.Lock()
	defer e.c.mu.Unlock()
	return e.usableLocked()
}

func (e *Entity) usableLocked() bool {
	return e.initialized && !e.dereferenced
}

// RefCount returns the current reference count. Test hook.
func (e *Entity) RefCount() int {
	e.c.mu.Lock()
	defer e.c.mu.Unlock()
	return e.refCount
}

// Deleted reports whether the entity's document was deleted.
func (e *Entity) Deleted() bool {
	e.c.mu.Lock()
	defer e.c.mu.Unlock()
	return e.deleted
}

// Fetch takes an additional reference on an already-held entity and returns
// it. Panics if the entity was evicted.
func (e *Entity) Fetch() *Entity {
	e.c.mu.Lock()
	defer e.c.mu.Unlock()
	if e.dereferenced {
		panic(oops.Code("ILLEGAL_STATE").With("path", e.Path()).Errorf("fetch on evicted entity"))
	}
	e.refCount++
	return e
}

// Dissolve releases one reference. The count floors at zero; releasing the
// last reference evicts the entity. Dissolving an evicted entity is a no-op.
func (e *Entity) Dissolve() {
	e.c.mu.Lock()
	if e.dereferenced || e.refCount == 0 {
		e.c.mu.Unlock()
		return
	}
	e.refCount--
	evict := e.refCount == 0
	e.c.mu.Unlock()

	if evict {
		e.c.evict(e)
	}
}

// FullDissolve forces the reference count to zero and evicts the entity.
func (e *Entity) FullDissolve() {
	e.c.mu.Lock()
	if e.dereferenced {
		e.c.mu.Unlock()
		return
	}
	e.refCount = 0
	e.c.mu.Unlock()
	e.c.evict(e)
}

// Property returns a scalar field value. Panics if the entity is not usable
// or the field is unknown.
func (e *Entity) Property(name string) any {
	e.c.mu.Lock()
	defer e.c.mu.Unlock()
	e.mustUsableLocked("read property")
	if _, ok := e.schema.Field(name); !ok {
		panic(oops.Code("ILLEGAL_STATE").With("path", e.Path()).With("field", name).Errorf("unknown field"))
	}
	return e.fields[name]
}

// Ref returns the resolved entity behind a reference field, or nil if the
// reference is blank. Panics if the entity is not usable or the field is
// not a single reference.
func (e *Entity) Ref(name string) *Entity {
	e.c.mu.Lock()
	defer e.c.mu.Unlock()
	e.mustUsableLocked("read reference")
	f, ok := e.schema.Field(name)
	if !ok || !f.IsRef() || f.Repeated {
		panic(oops.Code("ILLEGAL_STATE").With("path", e.Path()).With("field", name).Errorf("not a reference field"))
	}
	return e.refs[name]
}

// Refs returns the resolved entities behind a reference list field. Panics
// if the entity is not usable or the field is not a reference list.
func (e *Entity) Refs(name string) []*Entity {
	e.c.mu.Lock()
	defer e.c.mu.Unlock()
	e.mustUsableLocked("read reference list")
	f, ok := e.schema.Field(name)
	if !ok || !f.IsRef() || !f.Repeated {
		panic(oops.Code("ILLEGAL_STATE").With("path", e.Path()).With("field", name).Errorf("not a reference list field"))
	}
	out := make([]*Entity, len(e.refLists[name]))
	copy(out, e.refLists[name])
	return out
}

// Data returns a snapshot of the entity's raw fields.
func (e *Entity) Data() docstore.Fields {
	e.c.mu.Lock()
	defer e.c.mu.Unlock()
	e.mustUsableLocked("read data")
	return e.fields.Clone()
}

// Document returns the entity as a store document, usable as a query cursor.
func (e *Entity) Document() docstore.Document {
	return docstore.Document{ID: e.id, Fields: e.Data()}
}

func (e *Entity) mustUsableLocked(op string) {
	if !e.usableLocked() {
		panic(oops.Code("ILLEGAL_STATE").
			With("path", e.Path()).
			With("initialized", e.initialized).
			With("dereferenced", e.dereferenced).
			Errorf("%s on unusable entity", op))
	}
}

// AddListener registers a lifecycle listener. Duplicate registrations
// collapse.
func (e *Entity) AddListener(l UpdateListener) {
	e.c.mu.Lock()
	defer e.c.mu.Unlock()
	for _, existing := range e.listeners {
		if existing == l {
			return
		}
	}
	e.listeners = append(e.listeners, l)
}

// RemoveListener detaches a listener. Unknown listeners are ignored.
func (e *Entity) RemoveListener(l UpdateListener) {
	e.c.mu.Lock()
	defer e.c.mu.Unlock()
	for i, existing := range e.listeners {
		if existing == l {
			e.listeners = append(e.listeners[:i], e.listeners[i+1:]...)
			return
		}
	}
}

// OnInit registers a one-shot initialization listener. If the entity has
// already settled, the listener fires immediately with the current outcome.
func (e *Entity) OnInit(fn InitFunc) {
	e.c.mu.Lock()
	if e.initializing {
		e.initListeners = append(e.initListeners, fn)
		e.c.mu.Unlock()
		return
	}
	success := e.usableLocked()
	e.c.mu.Unlock()
	fn(e, success)
}

// snapshotListeners returns the current listeners. Caller must hold c.mu.
func (e *Entity) snapshotListeners() []UpdateListener {
	out := make([]UpdateListener, len(e.listeners))
	copy(out, e.listeners)
	return out
}

// notify dispatches an event to a listener snapshot. Must be called without
// holding c.mu.
func (e *Entity) notify(targets []UpdateListener, t EventType) {
	for _, l := range targets {
		l.OnEntityEvent(e, t)
	}
}

// notifyAll snapshots the listeners and dispatches. Must be called without
// holding c.mu.
func (e *Entity) notifyAll(t EventType) {
	e.c.mu.Lock()
	targets := e.snapshotListeners()
	e.c.mu.Unlock()
	e.notify(targets, t)
}

// SetProperty updates one field and writes the full snapshot to the store.
// Returns false with a nil error when the value is unchanged. Reference
// fields take the new document ID (or ID list) and are resolved before the
// old reference is released.
func (e *Entity) SetProperty(ctx context.Context, name string, value any) (bool, error) {
	e.c.mu.Lock()
	if !e.usableLocked() {
		e.c.mu.Unlock()
		return false, oops.Code("ILLEGAL_STATE").With("path", e.Path()).Errorf("set property on unusable entity")
	}
	f, ok := e.schema.Field(name)
	if !ok {
		e.c.mu.Unlock()
		return false, oops.Code("VALIDATION_FAILED").With("path", e.Path()).Wrap(&ValidationError{Field: name, Message: "unknown field"})
	}
	if !f.Editable {
		e.c.mu.Unlock()
		return false, oops.Code("VALIDATION_FAILED").With("path", e.Path()).Wrap(&ValidationError{Field: name, Message: "not editable"})
	}
	if !e.schema.fieldValid(f, value) {
		e.c.mu.Unlock()
		return false, oops.Code("VALIDATION_FAILED").With("path", e.Path()).Wrap(&ValidationError{Field: name, Message: "invalid value"})
	}
	if valuesEqual(e.fields[name], value) {
		e.c.mu.Unlock()
		return false, nil
	}
	e.c.mu.Unlock()

	if f.IsRef() {
		if err := e.exchangeRef(ctx, f, value); err != nil {
			return false, err
		}
	} else {
		e.c.mu.Lock()
		e.fields[name] = value
		e.c.mu.Unlock()
	}

	e.notifyAll(EventUpdate)
	if err := e.writeSnapshot(ctx); err != nil {
		return true, err
	}
	return true, nil
}

// exchangeRef resolves the new reference target(s), installs them, and
// releases the old ones. The old reference survives if resolution fails.
func (e *Entity) exchangeRef(ctx context.Context, f FieldDef, value any) error {
	if f.Repeated {
		ids, _ := asStringList(value)
		fresh := make([]*Entity, 0, len(ids))
		for _, id := range ids {
			child, err := e.c.Fetch(ctx, f.Ref, id)
			if err != nil {
				for _, got := range fresh {
					got.RemoveListener(e)
					got.Dissolve()
				}
				return oops.Code("VALIDATION_FAILED").With("path", e.Path()).With("field", f.Name).Wrap(err)
			}
			child.AddListener(e)
			fresh = append(fresh, child)
		}
		e.c.mu.Lock()
		old := e.refLists[f.Name]
		e.refLists[f.Name] = fresh
		e.fields[f.Name] = ids
		e.c.mu.Unlock()
		for _, prev := range old {
			prev.RemoveListener(e)
			prev.Dissolve()
		}
		return nil
	}

	id, _ := asString(value)
	var fresh *Entity
	if id != "" {
		child, err := e.c.Fetch(ctx, f.Ref, id)
		if err != nil {
			return oops.Code("VALIDATION_FAILED").With("path", e.Path()).With("field", f.Name).Wrap(err)
		}
		child.AddListener(e)
		fresh = child
	}
	e.c.mu.Lock()
	old := e.refs[f.Name]
	e.refs[f.Name] = fresh
	e.fields[f.Name] = id
	e.c.mu.Unlock()
	if old != nil {
		old.RemoveListener(e)
		old.Dissolve()
	}
	return nil
}

// writeSnapshot pushes the full field map to the store, reporting failures
// to the cache's error listeners.
func (e *Entity) writeSnapshot(ctx context.Context) error {
	e.c.mu.Lock()
	fields := e.fields.Clone()
	e.c.mu.Unlock()
	if err := e.c.store.Set(ctx, e.schema.Collection, e.id, fields); err != nil {
		err = oops.Code("REMOTE_IO").With("path", e.Path()).Wrap(err)
		e.c.reportError(err)
		return err
	}
	return nil
}

// Delete removes the entity's document and cascades per the schema: fields
// marked CascadeDelete hard-delete their targets, cascade queries delete
// every matching document, and listeners observe EventDelete before the
// entity is evicted. Deleting twice is a no-op.
func (e *Entity) Delete(ctx context.Context, reason DeleteReason) error {
	e.c.mu.Lock()
	if e.deleted || e.dereferenced {
		e.c.mu.Unlock()
		return nil
	}
	e.deleted = true
	e.c.mu.Unlock()

	if err := e.c.store.Delete(ctx, e.schema.Collection, e.id); err != nil {
		e.c.mu.Lock()
		e.deleted = false
		e.c.mu.Unlock()
		err = oops.Code("REMOTE_IO").With("path", e.Path()).With("reason", int(reason)).Wrap(err)
		e.c.reportError(err)
		return err
	}

	e.cascadeRefDeletes(ctx)
	e.cascadeQueryDeletes(ctx)

	e.notifyAll(EventDelete)
	e.FullDissolve()
	return nil
}

// cascadeRefDeletes hard-deletes entities behind CascadeDelete fields.
func (e *Entity) cascadeRefDeletes(ctx context.Context) {
	e.c.mu.Lock()
	var targets []*Entity
	for _, f := range e.schema.Fields {
		if !f.CascadeDelete || !f.IsRef() {
			continue
		}
		if f.Repeated {
			targets = append(targets, e.refLists[f.Name]...)
		} else if child := e.refs[f.Name]; child != nil {
			targets = append(targets, child)
		}
	}
	e.c.mu.Unlock()

	for _, child := range targets {
		// Detach first so the child's deletion does not bounce back into
		// this entity's up-fall handling.
		child.RemoveListener(e)
		if err := child.Delete(ctx, DeleteCascade); err != nil {
			e.c.log.Error("cascade delete failed",
				"parent", e.Path(), "child", child.Path(), "error", err)
		}
	}
}

// cascadeQueryDeletes deletes every document matched by the schema's
// cascade queries.
func (e *Entity) cascadeQueryDeletes(ctx context.Context) {
	if e.schema.CascadeQueries == nil {
		return
	}
	for _, q := range e.schema.CascadeQueries(e) {
		docs, err := e.c.store.Run(ctx, q)
		if err != nil {
			err = oops.Code("REMOTE_IO").With("path", e.Path()).With("collection", q.Collection).Wrap(err)
			e.c.reportError(err)
			continue
		}
		for _, doc := range docs {
			dep, err := e.c.Fetch(ctx, q.Collection, doc.ID)
			if err != nil {
				continue
			}
			if err := dep.Delete(ctx, DeleteCascade); err != nil {
				e.c.log.Error("cascade query delete failed",
					"parent", e.Path(), "dependent", dep.Path(), "error", err)
			}
			dep.Dissolve()
		}
	}
}

// OnEntityEvent makes entities listeners of the entities they reference.
// A referenced entity's deletion blanks the referencing field; if the field
// was required, the entity deletes itself in turn. Updates to referenced
// entities surface as EventSubUpdate.
func (e *Entity) OnEntityEvent(child *Entity, t EventType) {
	switch t {
	case EventDelete:
		e.onSubDelete(child)
	case EventUpdate, EventSubUpdate:
		e.notifyAll(EventSubUpdate)
	case EventInit, EventDereferenced:
		// Nothing to propagate.
	}
}

// onSubDelete blanks every field referencing the deleted child and decides
// whether this entity can survive without it.
func (e *Entity) onSubDelete(child *Entity) {
	e.c.mu.Lock()
	if !e.usableLocked() || e.deleted {
		e.c.mu.Unlock()
		return
	}

	removed := 0
	fatal := false
	for _, f := range e.schema.Fields {
		if !f.IsRef() {
			continue
		}
		if f.Repeated {
			list := e.refLists[f.Name]
			kept := list[:0]
			for _, ref := range list {
				if ref == child {
					removed++
					continue
				}
				kept = append(kept, ref)
			}
			if len(kept) != len(list) {
				e.refLists[f.Name] = kept
				ids := make([]string, len(kept))
				for i, ref := range kept {
					ids[i] = ref.id
				}
				e.fields[f.Name] = ids
				if len(kept) == 0 && !f.AllowEmpty {
					fatal = true
				}
			}
			continue
		}
		if e.refs[f.Name] == child {
			removed++
			e.refs[f.Name] = nil
			e.fields[f.Name] = ""
			if !f.Nullable {
				fatal = true
			}
		}
	}
	e.c.mu.Unlock()

	if removed == 0 {
		return
	}
	child.RemoveListener(e)
	// One reference was held per occurrence of the child.
	for i := 0; i < removed; i++ {
		child.Dissolve()
	}

	if fatal {
		if err := e.Delete(context.Background(), DeleteUpFall); err != nil {
			e.c.log.Error("up-fall delete failed", "path", e.Path(), "error", err)
		}
		return
	}
	e.notifyAll(EventUpdate)
	if err := e.writeSnapshot(context.Background()); err != nil {
		e.c.log.Error("snapshot write after dependency deletion failed",
			"path", e.Path(), "error", err)
	}
}

// applyRemoteChange folds a store change into the entity, field by field.
// Fields equal to the current value are skipped, so the echo of a local
// write produces no event. Last writer wins per field.
func (e *Entity) applyRemoteChange(change docstore.Change) {
	e.c.mu.Lock()
	if !e.usableLocked() || e.deleted {
		e.c.mu.Unlock()
		return
	}
	if change.Deleted {
		e.deleted = true
		e.c.mu.Unlock()
		e.notifyAll(EventDelete)
		e.FullDissolve()
		return
	}

	type refSwap struct {
		f  FieldDef
		id any
	}
	var swaps []refSwap
	changed := false
	for _, f := range e.schema.Fields {
		incoming, present := change.Fields[f.Name]
		if !present && e.fields[f.Name] == nil {
			continue
		}
		if valuesEqual(e.fields[f.Name], incoming) {
			continue
		}
		if f.IsRef() {
			swaps = append(swaps, refSwap{f: f, id: incoming})
			continue
		}
		if f.Validate != nil && !f.Validate(incoming) {
			e.c.log.Warn("invalid remote value ignored",
				"path", e.Path(), "field", f.Name)
			continue
		}
		e.fields[f.Name] = incoming
		changed = true
	}
	e.c.mu.Unlock()

	for _, swap := range swaps {
		if err := e.exchangeRef(context.Background(), swap.f, swap.id); err != nil {
			e.c.log.Error("remote reference change failed",
				"path", e.Path(), "field", swap.f.Name, "error", err)
			continue
		}
		changed = true
	}

	if changed {
		e.notifyAll(EventUpdate)
	}
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatherline Contributors

package cache

// EventType classifies entity lifecycle notifications.
type EventType int

// Entity event types.
const (
	// EventUpdate fires when one of the entity's own fields changed.
	EventUpdate EventType = iota
	// EventSubUpdate fires when a referenced entity changed.
	EventSubUpdate
	// EventDelete fires when the entity was deleted, locally or remotely.
	EventDelete
	// EventInit fires once when initialization completes successfully.
	EventInit
	// EventDereferenced fires when the entity is evicted from the cache.
	EventDereferenced
)

// String returns the event type name.
func (t EventType) String() string {
	switch t {
	case EventUpdate:
		return "update"
	case EventSubUpdate:
		return "subupdate"
	case EventDelete:
		return "delete"
	case EventInit:
		return "init"
	case EventDereferenced:
		return "dereferenced"
	default:
		return "unknown"
	}
}

// UpdateListener receives entity lifecycle events. Registering the same
// listener twice collapses to a single registration, so implementations
// must be comparable (pointer receivers).
type UpdateListener interface {
	OnEntityEvent(e *Entity, t EventType)
}

// ListenerFunc adapts a function to UpdateListener. Use a single *ListenerFunc
// per registration; each pointer has its own identity.
type ListenerFunc struct {
	Fn func(e *Entity, t EventType)
}

// OnEntityEvent calls the wrapped function.
func (l *ListenerFunc) OnEntityEvent(e *Entity, t EventType) {
	l.Fn(e, t)
}

// InitFunc receives the one-shot initialization outcome. Listeners added
// after the entity settles fire immediately.
type InitFunc func(e *Entity, success bool)

// ErrorListener receives remote store failures observed anywhere in the
// cache, before the failure surfaces to the caller.
type ErrorListener func(err error)

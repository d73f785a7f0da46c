// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatherline Contributors

package cache

import (
	"fmt"

	"github.com/samber/oops"

	"github.com/gatherline/gatherline/internal/docstore"
)

// FieldDef describes one field of a collection schema. Fields resolve in
// declaration order during initialization, so reference fields that depend
// on earlier fields must come after them.
type FieldDef struct {
	// Name is the stored field name.
	Name string
	// Validate reports whether a raw value is acceptable. Nil accepts
	// everything.
	Validate func(v any) bool
	// Editable permits SetProperty after creation.
	Editable bool
	// Ref names the referenced collection; empty for scalar fields.
	Ref string
	// Repeated marks a reference list field ([]string of IDs).
	Repeated bool
	// Nullable permits a blank reference. Blank non-nullable references
	// delete the owning entity.
	Nullable bool
	// AllowEmpty permits an empty reference list. An emptied non-emptyable
	// list deletes the owning entity.
	AllowEmpty bool
	// CascadeDelete hard-deletes the referenced entity when the owner is
	// deleted.
	CascadeDelete bool
}

// IsRef reports whether the field references another collection.
func (f FieldDef) IsRef() bool {
	return f.Ref != ""
}

// ValidationError reports a field that failed validation.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// CascadeQueryFunc returns queries selecting documents that must be deleted
// together with the entity.
type CascadeQueryFunc func(e *Entity) []docstore.Query

// Schema defines a cached collection: its fields and, optionally, the
// queries driving cascade deletion of dependent documents.
type Schema struct {
	Collection     string
	Fields         []FieldDef
	CascadeQueries CascadeQueryFunc
}

// Field returns the definition for name.
func (s Schema) Field(name string) (FieldDef, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldDef{}, false
}

// ValidateFields checks a full field map against the schema and returns the
// names of invalid fields. Missing fields validate as nil.
func (s Schema) ValidateFields(fields docstore.Fields) []string {
	var invalid []string
	for _, f := range s.Fields {
		if !s.fieldValid(f, fields[f.Name]) {
			invalid = append(invalid, f.Name)
		}
	}
	return invalid
}

func (s Schema) fieldValid(f FieldDef, v any) bool {
	if f.IsRef() {
		if f.Repeated {
			ids, ok := asStringList(v)
			if !ok {
				return false
			}
			if len(ids) == 0 && !f.AllowEmpty {
				return false
			}
		} else {
			id, ok := asString(v)
			if !ok {
				return false
			}
			if id == "" && !f.Nullable {
				return false
			}
		}
	}
	if f.Validate != nil && !f.Validate(v) {
		return false
	}
	return true
}

// Registry maps collection names to schemas. A Cache resolves every fetch
// through its registry, so tests can install synthetic collections.
type Registry struct {
	schemas map[string]Schema
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{schemas: make(map[string]Schema)}
}

// Register installs a schema. Duplicate collections are an error.
func (r *Registry) Register(s Schema) error {
	if s.Collection == "" {
		return oops.Code("VALIDATION_FAILED").Errorf("schema has no collection name")
	}
	if _, ok := r.schemas[s.Collection]; ok {
		return oops.Code("ALREADY_EXISTS").With("collection", s.Collection).Errorf("schema already registered")
	}
	for _, f := range s.Fields {
		if f.Name == "" {
			return oops.Code("VALIDATION_FAILED").With("collection", s.Collection).Errorf("schema has unnamed field")
		}
	}
	r.schemas[s.Collection] = s
	return nil
}

// MustRegister installs a schema, panicking on error. For package-level
// schema declarations.
func (r *Registry) MustRegister(s Schema) {
	if err := r.Register(s); err != nil {
		panic(err)
	}
}

// Schema returns the schema for a collection.
func (r *Registry) Schema(collection string) (Schema, bool) {
	s, ok := r.schemas[collection]
	return s, ok
}

// asString coerces a stored value to string. Nil coerces to blank.
func asString(v any) (string, bool) {
	if v == nil {
		return "", true
	}
	s, ok := v.(string)
	return s, ok
}

// asStringList coerces a stored value to a string list. Nil coerces to an
// empty list.
func asStringList(v any) ([]string, bool) {
	switch list := v.(type) {
	case nil:
		return nil, true
	case []string:
		return list, true
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	default:
		return nil, false
	}
}

// valuesEqual compares stored field values. Numeric values compare across
// int/int64/float64 so a JSON round-trip does not look like a change.
func valuesEqual(a, b any) bool {
	if la, ok := asList(a); ok {
		lb, ok := asList(b)
		if !ok || len(la) != len(lb) {
			return false
		}
		for i := range la {
			if !valuesEqual(la[i], lb[i]) {
				return false
			}
		}
		return true
	}
	if na, ok := asNumber(a); ok {
		nb, ok := asNumber(b)
		return ok && na == nb
	}
	return a == b
}

func asList(v any) ([]any, bool) {
	switch list := v.(type) {
	case []string:
		out := make([]any, len(list))
		for i, s := range list {
			out[i] = s
		}
		return out, true
	case []any:
		return list, true
	default:
		return nil, false
	}
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

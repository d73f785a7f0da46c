// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatherline Contributors

package model

import (
	"context"

	"github.com/gatherline/gatherline/internal/cache"
	"github.com/gatherline/gatherline/internal/docstore"
)

func facilitySchema() cache.Schema {
	return cache.Schema{
		Collection: CollectionFacilities,
		Fields: []cache.FieldDef{
			{Name: "name", Validate: nonBlankString, Editable: true},
			{Name: "address", Validate: anyString, Editable: true},
			{Name: "description", Validate: anyString, Editable: true},
			{Name: "latitude", Validate: optionalNumber, Editable: true},
			{Name: "longitude", Validate: optionalNumber, Editable: true},
			// The organizer owns the facility; without them it cannot exist.
			{Name: "organizerID", Ref: CollectionUsers},
		},
		CascadeQueries: func(e *cache.Entity) []docstore.Query {
			return []docstore.Query{{
				Collection: CollectionEvents,
				Filters:    []docstore.Filter{{Field: "facilityID", Op: docstore.OpEq, Value: e.ID()}},
			}}
		},
	}
}

// Facility wraps a facilities entity.
type Facility struct {
	*cache.Entity
}

// AsFacility types an entity fetched from the facilities collection.
func AsFacility(e *cache.Entity) Facility {
	return Facility{Entity: e}
}

// FetchFacility fetches and types a facility.
func FetchFacility(ctx context.Context, c *cache.Cache, id string) (Facility, error) {
	e, err := c.Fetch(ctx, CollectionFacilities, id)
	if err != nil {
		return Facility{}, err
	}
	return AsFacility(e), nil
}

// NewFacilityFields assembles a facilities field map.
func NewFacilityFields(name, address string, organizerID string) docstore.Fields {
	return docstore.Fields{
		"name":        name,
		"address":     address,
		"description": "",
		"latitude":    nil,
		"longitude":   nil,
		"organizerID": organizerID,
	}
}

// CreateFacility validates and creates a facility document.
func CreateFacility(ctx context.Context, c *cache.Cache, fields docstore.Fields) (Facility, error) {
	e, err := c.CreateInstance(ctx, CollectionFacilities, "", fields)
	if err != nil {
		return Facility{}, err
	}
	return AsFacility(e), nil
}

// Name returns the facility name.
func (f Facility) Name() string { return propString(f.Entity, "name") }

// Address returns the street address.
func (f Facility) Address() string { return propString(f.Entity, "address") }

// Organizer returns the owning user.
func (f Facility) Organizer() User {
	return AsUser(f.Ref("organizerID"))
}

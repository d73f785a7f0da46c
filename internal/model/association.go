// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatherline Contributors

package model

import (
	"context"
	"time"

	"github.com/gatherline/gatherline/internal/cache"
)

func associationSchema() cache.Schema {
	return cache.Schema{
		Collection: CollectionAssociations,
		Fields: []cache.FieldDef{
			{Name: "userID", Ref: CollectionUsers},
			{Name: "eventID", Ref: CollectionEvents},
			{Name: "status", Validate: statusValue, Editable: true},
			{Name: "latitude", Validate: optionalNumber},
			{Name: "longitude", Validate: optionalNumber},
			{Name: "joinedAt", Validate: timestamp},
		},
	}
}

// Association wraps an event_associations entity, one user's signup on one
// event.
type Association struct {
	*cache.Entity
}

// AsAssociation types an entity fetched from the event_associations
// collection.
func AsAssociation(e *cache.Entity) Association {
	return Association{Entity: e}
}

// FetchAssociation fetches and types a signup.
func FetchAssociation(ctx context.Context, c *cache.Cache, id string) (Association, error) {
	e, err := c.Fetch(ctx, CollectionAssociations, id)
	if err != nil {
		return Association{}, err
	}
	return AsAssociation(e), nil
}

// Status returns the signup status.
func (a Association) Status() string { return propString(a.Entity, "status") }

// JoinedAt returns when the user joined the waitlist.
func (a Association) JoinedAt() time.Time { return propTime(a.Entity, "joinedAt") }

// Location returns the signup location, or ok=false when none was recorded.
func (a Association) Location() (lat, lng float64, ok bool) {
	latv := a.Property("latitude")
	lngv := a.Property("longitude")
	if latv == nil || lngv == nil {
		return 0, 0, false
	}
	return propFloat(a.Entity, "latitude"), propFloat(a.Entity, "longitude"), true
}

// User returns the signed-up user.
func (a Association) User() User {
	return AsUser(a.Ref("userID"))
}

// Event returns the event signed up for.
func (a Association) Event() Event {
	return AsEvent(a.Ref("eventID"))
}

// SetStatus moves the signup to a new status.
func (a Association) SetStatus(ctx context.Context, status string) error {
	_, err := a.SetProperty(ctx, "status", status)
	return err
}

// Cancel withdraws the signup, freeing its slot. The document stays so the
// user's history survives; only a cancelled signup can rejoin.
func (a Association) Cancel(ctx context.Context) error {
	return a.SetStatus(ctx, StatusCancelled)
}

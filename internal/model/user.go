// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatherline Contributors

package model

import (
	"context"
	"time"

	"github.com/gatherline/gatherline/internal/cache"
	"github.com/gatherline/gatherline/internal/docstore"
)

func userSchema() cache.Schema {
	return cache.Schema{
		Collection: CollectionUsers,
		Fields: []cache.FieldDef{
			{Name: "name", Validate: nonBlankString, Editable: true},
			{Name: "description", Validate: anyString, Editable: true},
			{Name: "email", Validate: emailAddress, Editable: true},
			{Name: "phone", Validate: phoneNumber, Editable: true},
			{Name: "facilityID", Ref: CollectionFacilities, Nullable: true, CascadeDelete: true, Editable: true},
			{Name: "notifyOrganizer", Validate: boolValue, Editable: true},
			{Name: "notifyAdmin", Validate: boolValue, Editable: true},
			{Name: "isAdmin", Validate: boolValue, Editable: true},
			{Name: "createdAt", Validate: timestamp},
		},
		// Everything a user owns disappears with them: their signups, the
		// notifications addressed to them, and the facility they organize
		// (which cascades its events in turn).
		CascadeQueries: func(e *cache.Entity) []docstore.Query {
			return []docstore.Query{
				{
					Collection: CollectionAssociations,
					Filters:    []docstore.Filter{{Field: "userID", Op: docstore.OpEq, Value: e.ID()}},
				},
				{
					Collection: CollectionNotifications,
					Filters:    []docstore.Filter{{Field: "receiverID", Op: docstore.OpEq, Value: e.ID()}},
				},
				{
					Collection: CollectionFacilities,
					Filters:    []docstore.Filter{{Field: "organizerID", Op: docstore.OpEq, Value: e.ID()}},
				},
			}
		},
	}
}

// User wraps a users entity.
type User struct {
	*cache.Entity
}

// AsUser types an entity fetched from the users collection.
func AsUser(e *cache.Entity) User {
	return User{Entity: e}
}

// FetchUser fetches and types a user.
func FetchUser(ctx context.Context, c *cache.Cache, id string) (User, error) {
	e, err := c.Fetch(ctx, CollectionUsers, id)
	if err != nil {
		return User{}, err
	}
	return AsUser(e), nil
}

// NewUserFields assembles a users field map with creation defaults.
func NewUserFields(name, email, phone string) docstore.Fields {
	return docstore.Fields{
		"name":            name,
		"description":     "",
		"email":           email,
		"phone":           phone,
		"facilityID":      "",
		"notifyOrganizer": true,
		"notifyAdmin":     true,
		"isAdmin":         false,
		"createdAt":       Millis(time.Now()),
	}
}

// CreateUser validates and creates a user document.
func CreateUser(ctx context.Context, c *cache.Cache, fields docstore.Fields) (User, error) {
	e, err := c.CreateInstance(ctx, CollectionUsers, "", fields)
	if err != nil {
		return User{}, err
	}
	return AsUser(e), nil
}

// Name returns the display name.
func (u User) Name() string { return propString(u.Entity, "name") }

// Email returns the contact email.
func (u User) Email() string { return propString(u.Entity, "email") }

// Phone returns the phone number, possibly blank.
func (u User) Phone() string { return propString(u.Entity, "phone") }

// IsAdmin reports administrator privileges.
func (u User) IsAdmin() bool { return propBool(u.Entity, "isAdmin") }

// NotifyOrganizer reports whether organizer notifications are wanted.
func (u User) NotifyOrganizer() bool { return propBool(u.Entity, "notifyOrganizer") }

// NotifyAdmin reports whether admin notifications are wanted.
func (u User) NotifyAdmin() bool { return propBool(u.Entity, "notifyAdmin") }

// CreatedAt returns the account creation time.
func (u User) CreatedAt() time.Time { return propTime(u.Entity, "createdAt") }

// Facility returns the facility organized by this user, or ok=false.
func (u User) Facility() (Facility, bool) {
	e := u.Ref("facilityID")
	if e == nil {
		return Facility{}, false
	}
	return AsFacility(e), true
}

// SetName renames the user.
func (u User) SetName(ctx context.Context, name string) error {
	_, err := u.SetProperty(ctx, "name", name)
	return err
}

// SetFacility attaches the facility this user organizes.
func (u User) SetFacility(ctx context.Context, facilityID string) error {
	_, err := u.SetProperty(ctx, "facilityID", facilityID)
	return err
}

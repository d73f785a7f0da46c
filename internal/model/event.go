// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatherline Contributors

package model

import (
	"context"
	"errors"
	"time"

	"github.com/samber/oops"

	"github.com/gatherline/gatherline/internal/cache"
	"github.com/gatherline/gatherline/internal/docstore"
)

// Signup failures surfaced to callers.
var (
	// ErrRegistrationClosed indicates the signup window is not open.
	ErrRegistrationClosed = errors.New("registration closed")
	// ErrWaitlistFull indicates the waitlist reached its capacity.
	ErrWaitlistFull = errors.New("waitlist full")
	// ErrEventFull indicates the event reached its enrollment capacity.
	ErrEventFull = errors.New("event full")
	// ErrAlreadySignedUp indicates the user already holds a live signup.
	ErrAlreadySignedUp = errors.New("already signed up")
	// ErrNotInvited indicates the user has no pending invitation.
	ErrNotInvited = errors.New("not invited")
	// ErrLocationRequired indicates the event requires a signup location.
	ErrLocationRequired = errors.New("location required")
)

func eventSchema() cache.Schema {
	return cache.Schema{
		Collection: CollectionEvents,
		Fields: []cache.FieldDef{
			{Name: "title", Validate: nonBlankString, Editable: true},
			{Name: "description", Validate: anyString, Editable: true},
			{Name: "facilityID", Ref: CollectionFacilities},
			{Name: "capacity", Validate: positiveInt},
			{Name: "waitlistCapacity", Validate: waitlistCapacity},
			{Name: "requiresLocation", Validate: boolValue},
			{Name: "price", Validate: nonNegative, Editable: true},
			{Name: "qrHash", Validate: anyString, Editable: true},
			{Name: "weekdays", Validate: weekdayMask},
			{Name: "createdAt", Validate: timestamp},
			{Name: "openAt", Validate: timestamp},
			{Name: "closeAt", Validate: timestamp},
			{Name: "startAt", Validate: timestamp},
			{Name: "endAt", Validate: timestamp},
		},
		CascadeQueries: func(e *cache.Entity) []docstore.Query {
			return []docstore.Query{{
				Collection: CollectionAssociations,
				Filters:    []docstore.Filter{{Field: "eventID", Op: docstore.OpEq, Value: e.ID()}},
			}}
		},
	}
}

// Event wraps an events entity.
type Event struct {
	*cache.Entity
}

// AsEvent types an entity fetched from the events collection.
func AsEvent(e *cache.Entity) Event {
	return Event{Entity: e}
}

// FetchEvent fetches and types an event.
func FetchEvent(ctx context.Context, c *cache.Cache, id string) (Event, error) {
	e, err := c.Fetch(ctx, CollectionEvents, id)
	if err != nil {
		return Event{}, err
	}
	return AsEvent(e), nil
}

// NewEventFields assembles an events field map with creation defaults. The
// signup window runs from open to close; the event itself from start to end.
func NewEventFields(title, facilityID string, capacity, waitlistCap int64, opens, closes, starts, ends time.Time) docstore.Fields {
	return docstore.Fields{
		"title":            title,
		"description":      "",
		"facilityID":       facilityID,
		"capacity":         capacity,
		"waitlistCapacity": waitlistCap,
		"requiresLocation": false,
		"price":            int64(0),
		"qrHash":           "",
		"weekdays":         int64(EveryDay),
		"createdAt":        Millis(time.Now()),
		"openAt":           Millis(opens),
		"closeAt":          Millis(closes),
		"startAt":          Millis(starts),
		"endAt":            Millis(ends),
	}
}

// CreateEvent validates and creates an event document.
func CreateEvent(ctx context.Context, c *cache.Cache, fields docstore.Fields) (Event, error) {
	e, err := c.CreateInstance(ctx, CollectionEvents, "", fields)
	if err != nil {
		return Event{}, err
	}
	return AsEvent(e), nil
}

// Title returns the event title.
func (ev Event) Title() string { return propString(ev.Entity, "title") }

// Capacity returns the enrollment capacity.
func (ev Event) Capacity() int64 { return propInt(ev.Entity, "capacity") }

// WaitlistCapacity returns the waitlist bound, UnlimitedWaitlist for none.
func (ev Event) WaitlistCapacity() int64 { return propInt(ev.Entity, "waitlistCapacity") }

// RequiresLocation reports whether signups must carry a location.
func (ev Event) RequiresLocation() bool { return propBool(ev.Entity, "requiresLocation") }

// Weekdays returns the weekday selection of a recurring event.
func (ev Event) Weekdays() Weekdays { return Weekdays(propInt(ev.Entity, "weekdays")) }

// OpensAt returns the start of the signup window.
func (ev Event) OpensAt() time.Time { return propTime(ev.Entity, "openAt") }

// ClosesAt returns the end of the signup window.
func (ev Event) ClosesAt() time.Time { return propTime(ev.Entity, "closeAt") }

// StartsAt returns the event start time.
func (ev Event) StartsAt() time.Time { return propTime(ev.Entity, "startAt") }

// Facility returns the hosting facility.
func (ev Event) Facility() Facility {
	return AsFacility(ev.Ref("facilityID"))
}

// RegistrationOpen reports whether signups are accepted at the given time.
func (ev Event) RegistrationOpen(now time.Time) bool {
	return !now.Before(ev.OpensAt()) && now.Before(ev.ClosesAt())
}

// Counts holds the signup totals of one event.
type Counts struct {
	// Enrolled counts enrolled and invited signups, both of which consume
	// capacity.
	Enrolled int64
	// Waitlisted counts signups still waiting.
	Waitlisted int64
}

// RefreshCounts recomputes signup totals from the store.
func (ev Event) RefreshCounts(ctx context.Context, c *cache.Cache) (Counts, error) {
	enrolled, err := c.Store().Count(ctx, docstore.Query{
		Collection: CollectionAssociations,
		Filters: []docstore.Filter{
			{Field: "eventID", Op: docstore.OpEq, Value: ev.ID()},
			{Field: "status", Op: docstore.OpIn, Value: []any{StatusEnrolled, StatusInvited}},
		},
	})
	if err != nil {
		return Counts{}, oops.Code("REMOTE_IO").With("event", ev.ID()).Wrap(err)
	}
	waitlisted, err := c.Store().Count(ctx, docstore.Query{
		Collection: CollectionAssociations,
		Filters: []docstore.Filter{
			{Field: "eventID", Op: docstore.OpEq, Value: ev.ID()},
			{Field: "status", Op: docstore.OpEq, Value: StatusWaitlist},
		},
	})
	if err != nil {
		return Counts{}, oops.Code("REMOTE_IO").With("event", ev.ID()).Wrap(err)
	}
	return Counts{Enrolled: enrolled, Waitlisted: waitlisted}, nil
}

// UserAssociation returns the user's signup for this event, or ok=false.
// The returned association is a held reference the caller must dissolve.
func (ev Event) UserAssociation(ctx context.Context, c *cache.Cache, userID string) (Association, bool, error) {
	docs, err := c.Store().Run(ctx, docstore.Query{
		Collection: CollectionAssociations,
		Filters: []docstore.Filter{
			{Field: "eventID", Op: docstore.OpEq, Value: ev.ID()},
			{Field: "userID", Op: docstore.OpEq, Value: userID},
		},
	})
	if err != nil {
		return Association{}, false, oops.Code("REMOTE_IO").With("event", ev.ID()).Wrap(err)
	}
	if len(docs) == 0 {
		return Association{}, false, nil
	}
	e, err := c.Fetch(ctx, CollectionAssociations, docs[0].ID)
	if err != nil {
		return Association{}, false, err
	}
	return AsAssociation(e), true, nil
}

// JoinWaitlist signs a user onto the event's waitlist. The signup window
// must be open, the waitlist must have room, and a user with a live signup
// cannot join again; only a cancelled signup can rejoin. The returned
// association is a held reference.
func (ev Event) JoinWaitlist(ctx context.Context, c *cache.Cache, user User, lat, lng *float64) (Association, error) {
	now := time.Now()
	if !ev.RegistrationOpen(now) {
		return Association{}, oops.Code("ILLEGAL_STATE").
			With("event", ev.ID()).
			With("opens_at", ev.OpensAt()).
			With("closes_at", ev.ClosesAt()).
			Wrap(ErrRegistrationClosed)
	}
	if ev.RequiresLocation() && (lat == nil || lng == nil) {
		return Association{}, oops.Code("VALIDATION_FAILED").With("event", ev.ID()).Wrap(ErrLocationRequired)
	}

	existing, found, err := ev.UserAssociation(ctx, c, user.ID())
	if err != nil {
		return Association{}, err
	}
	if found {
		if existing.Status() != StatusCancelled {
			existing.Dissolve()
			return Association{}, oops.Code("ILLEGAL_STATE").
				With("event", ev.ID()).
				With("user", user.ID()).
				Wrap(ErrAlreadySignedUp)
		}
		if err := ev.checkWaitlistRoom(ctx, c); err != nil {
			existing.Dissolve()
			return Association{}, err
		}
		if err := existing.SetStatus(ctx, StatusWaitlist); err != nil {
			existing.Dissolve()
			return Association{}, err
		}
		return existing, nil
	}

	if err := ev.checkWaitlistRoom(ctx, c); err != nil {
		return Association{}, err
	}

	fields := docstore.Fields{
		"userID":   user.ID(),
		"eventID":  ev.ID(),
		"status":   StatusWaitlist,
		"joinedAt": Millis(now),
	}
	if lat != nil && lng != nil {
		fields["latitude"] = *lat
		fields["longitude"] = *lng
	} else {
		fields["latitude"] = nil
		fields["longitude"] = nil
	}
	e, err := c.CreateInstance(ctx, CollectionAssociations, "", fields)
	if err != nil {
		return Association{}, err
	}
	return AsAssociation(e), nil
}

func (ev Event) checkWaitlistRoom(ctx context.Context, c *cache.Cache) error {
	capacity := ev.WaitlistCapacity()
	if capacity == UnlimitedWaitlist {
		return nil
	}
	counts, err := ev.RefreshCounts(ctx, c)
	if err != nil {
		return err
	}
	if counts.Waitlisted >= capacity {
		return oops.Code("ILLEGAL_STATE").
			With("event", ev.ID()).
			With("waitlisted", counts.Waitlisted).
			With("capacity", capacity).
			Wrap(ErrWaitlistFull)
	}
	return nil
}

// AcceptInvite enrolls an invited user, provided capacity remains. The
// invitation consumed a capacity slot already, so the check excludes the
// user's own association.
func (ev Event) AcceptInvite(ctx context.Context, c *cache.Cache, user User) error {
	assoc, found, err := ev.UserAssociation(ctx, c, user.ID())
	if err != nil {
		return err
	}
	if !found {
		return oops.Code("NOT_FOUND").With("event", ev.ID()).With("user", user.ID()).Wrap(ErrNotInvited)
	}
	defer assoc.Dissolve()

	if assoc.Status() != StatusInvited {
		return oops.Code("ILLEGAL_STATE").
			With("event", ev.ID()).
			With("user", user.ID()).
			With("status", assoc.Status()).
			Wrap(ErrNotInvited)
	}

	counts, err := ev.RefreshCounts(ctx, c)
	if err != nil {
		return err
	}
	if counts.Enrolled > ev.Capacity() {
		return oops.Code("ILLEGAL_STATE").
			With("event", ev.ID()).
			With("enrolled", counts.Enrolled).
			With("capacity", ev.Capacity()).
			Wrap(ErrEventFull)
	}
	return assoc.SetStatus(ctx, StatusEnrolled)
}

// UsersByStatus pages this event's signups holding the given status; a
// blank status pages them all.
func (ev Event) UsersByStatus(c *cache.Cache, status string, pageSize int) *cache.Query {
	return AttachedUsers(c, ev, status, pageSize)
}

// Lottery draws up to count waitlisted users at random. The result holds
// references on every drawn association until executed or cancelled.
func (ev Event) Lottery(ctx context.Context, c *cache.Cache, count int) (*LotteryResult, error) {
	if count <= 0 {
		return nil, oops.Code("VALIDATION_FAILED").With("count", count).Errorf("lottery draw must be positive")
	}
	return drawLottery(ctx, c, ev, count)
}

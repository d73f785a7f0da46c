// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatherline Contributors

package model

import (
	"github.com/gatherline/gatherline/internal/cache"
	"github.com/gatherline/gatherline/internal/docstore"
)

// Named queries of the app's screens. Each returns a paged query whose
// pages the caller advances and finally dissolves. A pageSize of zero loads
// everything at once.

// MyEvents pages the user's signups, newest first. The event of each signup
// is reachable through Association.Event.
func MyEvents(c *cache.Cache, user User, pageSize int) *cache.Query {
	return cache.NewQuery(c, docstore.Query{
		Collection: CollectionAssociations,
		Filters:    []docstore.Filter{{Field: "userID", Op: docstore.OpEq, Value: user.ID()}},
		Orders:     []docstore.Order{{Field: "joinedAt", Desc: true}},
		Limit:      pageSize,
	})
}

// FacilityEvents pages the events hosted at a facility by start time.
func FacilityEvents(c *cache.Cache, facility Facility, pageSize int) *cache.Query {
	return cache.NewQuery(c, docstore.Query{
		Collection: CollectionEvents,
		Filters:    []docstore.Filter{{Field: "facilityID", Op: docstore.OpEq, Value: facility.ID()}},
		Orders:     []docstore.Order{{Field: "startAt"}},
		Limit:      pageSize,
	})
}

// MyNotifications accumulates the user's inbox, newest first.
func MyNotifications(c *cache.Cache, user User, pageSize int) *cache.InfiniteQuery {
	return cache.NewInfiniteQuery(c, docstore.Query{
		Collection: CollectionNotifications,
		Filters:    []docstore.Filter{{Field: "receiverID", Op: docstore.OpEq, Value: user.ID()}},
		Orders:     []docstore.Order{{Field: "sentAt", Desc: true}},
		Limit:      pageSize,
	})
}

// AttachedUsers pages an event's signups in join order, optionally narrowed
// to one status.
func AttachedUsers(c *cache.Cache, event Event, status string, pageSize int) *cache.Query {
	filters := []docstore.Filter{{Field: "eventID", Op: docstore.OpEq, Value: event.ID()}}
	if status != "" {
		filters = append(filters, docstore.Filter{Field: "status", Op: docstore.OpEq, Value: status})
	}
	return cache.NewQuery(c, docstore.Query{
		Collection: CollectionAssociations,
		Filters:    filters,
		Orders:     []docstore.Order{{Field: "joinedAt"}},
		Limit:      pageSize,
	})
}

// AllUsers pages every account by name.
func AllUsers(c *cache.Cache, pageSize int) *cache.Query {
	return cache.NewQuery(c, docstore.Query{
		Collection: CollectionUsers,
		Orders:     []docstore.Order{{Field: "name"}},
		Limit:      pageSize,
	})
}

// AllEvents pages every event by start time.
func AllEvents(c *cache.Cache, pageSize int) *cache.Query {
	return cache.NewQuery(c, docstore.Query{
		Collection: CollectionEvents,
		Orders:     []docstore.Order{{Field: "startAt"}},
		Limit:      pageSize,
	})
}

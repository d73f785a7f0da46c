// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatherline Contributors

// Package model defines the domain collections of the event signup
// platform and typed wrappers over their cached entities.
package model

import (
	"regexp"
	"time"

	"github.com/gatherline/gatherline/internal/cache"
)

// Collection names.
const (
	CollectionUsers         = "users"
	CollectionFacilities    = "facilities"
	CollectionEvents        = "events"
	CollectionNotifications = "notifications"
	CollectionAssociations  = "event_associations"
)

// Association statuses.
const (
	StatusWaitlist  = "waitlist"
	StatusInvited   = "invited"
	StatusEnrolled  = "enrolled"
	StatusCancelled = "cancelled"
)

// UnlimitedWaitlist marks an event whose waitlist has no cap.
const UnlimitedWaitlist = int64(-1)

// Register installs every domain schema into the registry.
func Register(r *cache.Registry) {
	r.MustRegister(userSchema())
	r.MustRegister(facilitySchema())
	r.MustRegister(eventSchema())
	r.MustRegister(notificationSchema())
	r.MustRegister(associationSchema())
}

// NewRegistry returns a registry with every domain schema installed.
func NewRegistry() *cache.Registry {
	r := cache.NewRegistry()
	Register(r)
	return r
}

// Field validators. Stored numbers may arrive as int64 (local writes) or
// float64 (JSON round-trips), so numeric checks coerce first.

func anyString(v any) bool {
	_, ok := v.(string)
	return v == nil || ok
}

func nonBlankString(v any) bool {
	s, ok := v.(string)
	return ok && s != ""
}

func boolValue(v any) bool {
	_, ok := v.(bool)
	return v == nil || ok
}

func numeric(v any) (float64, bool) {
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

func timestamp(v any) bool {
	n, ok := numeric(v)
	return ok && n >= 0
}

func positiveInt(v any) bool {
	n, ok := numeric(v)
	return ok && n > 0 && n == float64(int64(n))
}

func nonNegative(v any) bool {
	n, ok := numeric(v)
	return ok && n >= 0
}

func optionalNumber(v any) bool {
	if v == nil {
		return true
	}
	_, ok := numeric(v)
	return ok
}

// waitlistCapacity is a positive bound or UnlimitedWaitlist.
func waitlistCapacity(v any) bool {
	n, ok := numeric(v)
	if !ok || n != float64(int64(n)) {
		return false
	}
	return n > 0 || int64(n) == UnlimitedWaitlist
}

var emailRegex = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

func emailAddress(v any) bool {
	s, ok := v.(string)
	return ok && emailRegex.MatchString(s)
}

var phoneDigits = regexp.MustCompile(`\d`)

// phoneNumber accepts a blank phone or one carrying at least seven digits.
func phoneNumber(v any) bool {
	s, ok := v.(string)
	if !ok {
		return v == nil
	}
	return s == "" || len(phoneDigits.FindAllString(s, -1)) >= 7
}

func statusValue(v any) bool {
	s, ok := v.(string)
	if !ok {
		return false
	}
	switch s {
	case StatusWaitlist, StatusInvited, StatusEnrolled, StatusCancelled:
		return true
	default:
		return false
	}
}

// Typed property accessors shared by the wrappers.

func propString(e *cache.Entity, name string) string {
	s, _ := e.Property(name).(string)
	return s
}

func propBool(e *cache.Entity, name string) bool {
	b, _ := e.Property(name).(bool)
	return b
}

func propInt(e *cache.Entity, name string) int64 {
	n, _ := numeric(e.Property(name))
	return int64(n)
}

func propFloat(e *cache.Entity, name string) float64 {
	n, _ := numeric(e.Property(name))
	return n
}

func propTime(e *cache.Entity, name string) time.Time {
	return time.UnixMilli(propInt(e, name))
}

// Millis converts a time to its stored representation.
func Millis(t time.Time) int64 {
	return t.UnixMilli()
}

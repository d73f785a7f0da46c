// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatherline Contributors

package model

import (
	"strings"
	"time"
)

// Weekdays is a bitmask of the weekdays an event runs on.
type Weekdays int64

// Weekday flags.
const (
	Monday Weekdays = 1 << iota
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
	Sunday

	// EveryDay covers the whole week.
	EveryDay = Monday | Tuesday | Wednesday | Thursday | Friday | Saturday | Sunday
)

var weekdayNames = []struct {
	flag Weekdays
	name string
}{
	{Monday, "Mon"},
	{Tuesday, "Tue"},
	{Wednesday, "Wed"},
	{Thursday, "Thu"},
	{Friday, "Fri"},
	{Saturday, "Sat"},
	{Sunday, "Sun"},
}

// Has reports whether every flag in d is set.
func (w Weekdays) Has(d Weekdays) bool {
	return w&d == d
}

// Count returns the number of selected weekdays.
func (w Weekdays) Count() int {
	n := 0
	for _, wd := range weekdayNames {
		if w.Has(wd.flag) {
			n++
		}
	}
	return n
}

// HasTime reports whether t falls on one of the selected weekdays.
func (w Weekdays) HasTime(t time.Time) bool {
	switch t.Weekday() {
	case time.Monday:
		return w.Has(Monday)
	case time.Tuesday:
		return w.Has(Tuesday)
	case time.Wednesday:
		return w.Has(Wednesday)
	case time.Thursday:
		return w.Has(Thursday)
	case time.Friday:
		return w.Has(Friday)
	case time.Saturday:
		return w.Has(Saturday)
	default:
		return w.Has(Sunday)
	}
}

// String formats the selection, "Every day" when all are set.
func (w Weekdays) String() string {
	if w.Has(EveryDay) {
		return "Every day"
	}
	var parts []string
	for _, wd := range weekdayNames {
		if w.Has(wd.flag) {
			parts = append(parts, wd.name)
		}
	}
	if len(parts) == 0 {
		return "None"
	}
	return strings.Join(parts, ", ")
}

func weekdayMask(v any) bool {
	n, ok := numeric(v)
	if !ok || n != float64(int64(n)) {
		return false
	}
	mask := Weekdays(int64(n))
	return mask >= 0 && mask <= EveryDay
}

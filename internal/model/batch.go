// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatherline Contributors

package model

import (
	"context"
	"sync"

	"github.com/samber/oops"

	"github.com/gatherline/gatherline/internal/cache"
	"github.com/gatherline/gatherline/internal/docstore"
)

// QueryModifier applies bulk operations to the signups of one event. It
// holds a reference per signup plus one on the event until dissolved.
// Operations run sequentially and attempt every item even after failures.
type QueryModifier struct {
	c     *cache.Cache
	event Event

	mu        sync.Mutex
	assocs    []Association
	dissolved bool
}

// NewQueryModifier loads every signup of the event holding the given
// status; a blank status loads them all.
func NewQueryModifier(ctx context.Context, c *cache.Cache, ev Event, status string) (*QueryModifier, error) {
	filters := []docstore.Filter{
		{Field: "eventID", Op: docstore.OpEq, Value: ev.ID()},
	}
	if status != "" {
		filters = append(filters, docstore.Filter{Field: "status", Op: docstore.OpEq, Value: status})
	}
	docs, err := c.Store().Run(ctx, docstore.Query{
		Collection: CollectionAssociations,
		Filters:    filters,
		Orders:     []docstore.Order{{Field: "joinedAt"}},
	})
	if err != nil {
		return nil, oops.Code("REMOTE_IO").With("event", ev.ID()).Wrap(err)
	}

	m := &QueryModifier{c: c, event: AsEvent(ev.Fetch())}
	for _, doc := range docs {
		e, err := c.Fetch(ctx, CollectionAssociations, doc.ID)
		if err != nil {
			m.Dissolve()
			return nil, err
		}
		m.assocs = append(m.assocs, AsAssociation(e))
	}
	return m, nil
}

func (m *QueryModifier) live() ([]Association, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dissolved {
		return nil, oops.Code("ILLEGAL_STATE").With("event", m.event.ID()).Errorf("query modifier dissolved")
	}
	return m.assocs, nil
}

// Associations returns the loaded signups.
func (m *QueryModifier) Associations() []Association {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.assocs
}

// SetStatus moves every signup to the given status. Every item is
// attempted; the failures are aggregated into the returned error.
func (m *QueryModifier) SetStatus(ctx context.Context, status string) error {
	assocs, err := m.live()
	if err != nil {
		return err
	}
	var failed []string
	for _, a := range assocs {
		if err := a.SetStatus(ctx, status); err != nil {
			failed = append(failed, a.ID())
		}
	}
	if len(failed) > 0 {
		return oops.Code("REMOTE_IO").
			With("event", m.event.ID()).
			With("failed", failed).
			Errorf("status change failed for %d of %d signups", len(failed), len(assocs))
	}
	return nil
}

// Invite marks every signup invited.
func (m *QueryModifier) Invite(ctx context.Context) error {
	return m.SetStatus(ctx, StatusInvited)
}

// Reject returns every signup to the waitlist.
func (m *QueryModifier) Reject(ctx context.Context) error {
	return m.SetStatus(ctx, StatusWaitlist)
}

// Cancel withdraws every signup.
func (m *QueryModifier) Cancel(ctx context.Context) error {
	return m.SetStatus(ctx, StatusCancelled)
}

// Delete hard-deletes every signup document.
func (m *QueryModifier) Delete(ctx context.Context) error {
	assocs, err := m.live()
	if err != nil {
		return err
	}
	var failed []string
	for _, a := range assocs {
		if err := a.Entity.Delete(ctx, cache.DeleteHard); err != nil {
			failed = append(failed, a.ID())
		}
	}
	if len(failed) > 0 {
		return oops.Code("REMOTE_IO").
			With("event", m.event.ID()).
			With("failed", failed).
			Errorf("delete failed for %d of %d signups", len(failed), len(assocs))
	}
	return nil
}

// Notify sends a message about the event to every signed-up user. Every
// item is attempted; the result separates delivered from failed.
func (m *QueryModifier) Notify(ctx context.Context, subject, body string) (*NotificationResult, error) {
	assocs, err := m.live()
	if err != nil {
		return nil, err
	}
	res := &NotificationResult{}
	for _, a := range assocs {
		n, err := CreateNotification(ctx, m.c, NewNotificationFields(subject, body, m.event.ID(), "", a.User().ID()))
		if err != nil {
			res.Failed = append(res.Failed, a.User().ID())
			continue
		}
		res.Sent = append(res.Sent, n)
	}
	if len(res.Failed) > 0 {
		return res, oops.Code("REMOTE_IO").
			With("event", m.event.ID()).
			With("failed", res.Failed).
			Errorf("delivery failed for %d of %d signups", len(res.Failed), len(assocs))
	}
	return res, nil
}

// Dissolve releases every held reference. Idempotent; operations after
// Dissolve fail.
func (m *QueryModifier) Dissolve() {
	m.mu.Lock()
	if m.dissolved {
		m.mu.Unlock()
		return
	}
	m.dissolved = true
	assocs := m.assocs
	m.assocs = nil
	m.mu.Unlock()

	for _, a := range assocs {
		a.Dissolve()
	}
	m.event.Dissolve()
}

// NotificationResult collects the outcome of a notification fan-out. Sent
// holds a reference per delivered message until dissolved; Failed lists the
// users that could not be reached.
type NotificationResult struct {
	Sent   []Notification
	Failed []string

	once sync.Once
}

// Dissolve releases the delivered messages. Idempotent.
func (r *NotificationResult) Dissolve() {
	r.once.Do(func() {
		for _, n := range r.Sent {
			n.Dissolve()
		}
		r.Sent = nil
	})
}

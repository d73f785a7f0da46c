// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatherline Contributors

package model

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/samber/oops"

	"github.com/gatherline/gatherline/internal/cache"
	"github.com/gatherline/gatherline/internal/docstore"
)

// LotteryResult is a single-use draw over an event's waitlist. It holds
// references on the event and every drawn signup until Execute or Cancel.
type LotteryResult struct {
	event     Event
	chosen    []Association
	notChosen []Association
	requested int

	mu       sync.Mutex
	executed bool
	released bool
}

func drawLottery(ctx context.Context, c *cache.Cache, ev Event, count int) (*LotteryResult, error) {
	docs, err := c.Store().Run(ctx, docstore.Query{
		Collection: CollectionAssociations,
		Filters: []docstore.Filter{
			{Field: "eventID", Op: docstore.OpEq, Value: ev.ID()},
			{Field: "status", Op: docstore.OpEq, Value: StatusWaitlist},
		},
	})
	if err != nil {
		return nil, oops.Code("REMOTE_IO").With("event", ev.ID()).Wrap(err)
	}
	rand.Shuffle(len(docs), func(i, j int) {
		docs[i], docs[j] = docs[j], docs[i]
	})

	r := &LotteryResult{event: AsEvent(ev.Fetch()), requested: count}
	for _, doc := range docs {
		e, err := c.Fetch(ctx, CollectionAssociations, doc.ID)
		if err != nil {
			r.release()
			return nil, err
		}
		if len(r.chosen) < count {
			r.chosen = append(r.chosen, AsAssociation(e))
		} else {
			r.notChosen = append(r.notChosen, AsAssociation(e))
		}
	}
	return r, nil
}

// Event returns the drawn event.
func (r *LotteryResult) Event() Event { return r.event }

// Chosen returns the drawn signups.
func (r *LotteryResult) Chosen() []Association { return r.chosen }

// NotChosen returns the signups left on the waitlist.
func (r *LotteryResult) NotChosen() []Association { return r.notChosen }

// FilledAllSpots reports whether the waitlist covered the requested draw.
func (r *LotteryResult) FilledAllSpots() bool { return len(r.chosen) == r.requested }

// Execute invites every chosen user and notifies them. With notifyRejected
// set, users left on the waitlist are notified too. The draw is single-use;
// executing twice or after Cancel fails. References are released on return.
func (r *LotteryResult) Execute(ctx context.Context, c *cache.Cache, notifyRejected bool) error {
	r.mu.Lock()
	if r.executed || r.released {
		r.mu.Unlock()
		return oops.Code("ILLEGAL_STATE").With("event", r.event.ID()).Errorf("lottery already settled")
	}
	r.executed = true
	r.mu.Unlock()

	defer r.release()

	title := r.event.Title()
	for _, a := range r.chosen {
		if err := a.SetStatus(ctx, StatusInvited); err != nil {
			return err
		}
		if err := r.notify(ctx, c, a,
			fmt.Sprintf("Invitation: %s", title),
			fmt.Sprintf("You were drawn from the waitlist for %s. Accept the invitation to enroll.", title),
		); err != nil {
			return err
		}
	}
	if notifyRejected {
		for _, a := range r.notChosen {
			if err := r.notify(ctx, c, a,
				fmt.Sprintf("Waitlist update: %s", title),
				fmt.Sprintf("You were not drawn for %s this time and remain on the waitlist.", title),
			); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *LotteryResult) notify(ctx context.Context, c *cache.Cache, a Association, subject, body string) error {
	n, err := CreateNotification(ctx, c, NewNotificationFields(subject, body, r.event.ID(), "", a.User().ID()))
	if err != nil {
		return err
	}
	n.Dissolve()
	return nil
}

// Cancel abandons the draw without touching any signup.
func (r *LotteryResult) Cancel() {
	r.mu.Lock()
	if r.executed || r.released {
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()
	r.release()
}

func (r *LotteryResult) release() {
	r.mu.Lock()
	if r.released {
		r.mu.Unlock()
		return
	}
	r.released = true
	r.mu.Unlock()

	for _, a := range r.chosen {
		a.Dissolve()
	}
	for _, a := range r.notChosen {
		a.Dissolve()
	}
	r.event.Dissolve()
}

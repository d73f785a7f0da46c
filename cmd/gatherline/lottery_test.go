// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatherline Contributors

package main

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatherline/gatherline/internal/docstore"
	"github.com/gatherline/gatherline/internal/model"
)

func seedLotteryData(t *testing.T, store *docstore.MemoryStore) {
	t.Helper()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, store.Set(ctx, model.CollectionUsers, "org1",
		model.NewUserFields("Olive", "olive@example.com", "")))
	require.NoError(t, store.Set(ctx, model.CollectionFacilities, "fac1",
		model.NewFacilityFields("Community Hall", "1 Main St", "org1")))
	require.NoError(t, store.Set(ctx, model.CollectionEvents, "ev1",
		model.NewEventFields("Pottery Night", "fac1", 5, model.UnlimitedWaitlist,
			now.Add(-time.Hour), now.Add(time.Hour), now.Add(24*time.Hour), now.Add(26*time.Hour))))

	for _, id := range []string{"u1", "u2", "u3"} {
		require.NoError(t, store.Set(ctx, model.CollectionUsers, id,
			model.NewUserFields("User "+id, id+"@example.com", "")))
		require.NoError(t, store.Set(ctx, model.CollectionAssociations, "as-"+id, docstore.Fields{
			"userID":    id,
			"eventID":   "ev1",
			"status":    model.StatusWaitlist,
			"latitude":  nil,
			"longitude": nil,
			"joinedAt":  model.Millis(now),
		}))
	}
}

func TestRunLottery(t *testing.T) {
	store := withMemoryStore(t)
	seedLotteryData(t, store)

	var out bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"lottery", "--event", "ev1", "--count", "2"})
	require.NoError(t, cmd.Execute())

	assert.Contains(t, out.String(), "Invited 2 of 2 requested; 1 remain on the waitlist")

	ctx := context.Background()
	invited, err := store.Count(ctx, docstore.Query{
		Collection: model.CollectionAssociations,
		Filters:    []docstore.Filter{{Field: "status", Op: docstore.OpEq, Value: model.StatusInvited}},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), invited)

	notes, err := store.Count(ctx, docstore.Query{Collection: model.CollectionNotifications})
	require.NoError(t, err)
	assert.Equal(t, int64(2), notes, "only the chosen are notified by default")
}

func TestRunLotteryNotifyRejected(t *testing.T) {
	store := withMemoryStore(t)
	seedLotteryData(t, store)

	var out bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"lottery", "--event", "ev1", "--count", "2", "--notify-rejected"})
	require.NoError(t, cmd.Execute())

	notes, err := store.Count(context.Background(), docstore.Query{Collection: model.CollectionNotifications})
	require.NoError(t, err)
	assert.Equal(t, int64(3), notes)
}

func TestRunLotteryUnknownEvent(t *testing.T) {
	withMemoryStore(t)

	cmd := NewRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"lottery", "--event", "missing"})
	require.Error(t, cmd.Execute())
}

func TestRunLotteryRejectsNonPositiveCount(t *testing.T) {
	store := withMemoryStore(t)
	seedLotteryData(t, store)

	cmd := NewRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"lottery", "--event", "ev1", "--count", "0"})
	require.Error(t, cmd.Execute())
}

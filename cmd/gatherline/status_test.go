// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatherline Contributors

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatherline/gatherline/internal/docstore"
	"github.com/gatherline/gatherline/internal/model"
)

func TestRunStatusTable(t *testing.T) {
	store := withMemoryStore(t)
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, model.CollectionUsers, "u1", docstore.Fields{"name": "Ada"}))
	require.NoError(t, store.Set(ctx, model.CollectionUsers, "u2", docstore.Fields{"name": "Brian"}))
	require.NoError(t, store.Set(ctx, model.CollectionEvents, "e1", docstore.Fields{"title": "T"}))

	var out bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"status"})
	require.NoError(t, cmd.Execute())

	assert.Contains(t, out.String(), "COLLECTION")
	assert.Contains(t, out.String(), "users")
	assert.Contains(t, out.String(), "events")
}

func TestRunStatusJSON(t *testing.T) {
	store := withMemoryStore(t)
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, model.CollectionUsers, "u1", docstore.Fields{"name": "Ada"}))

	var out bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"status", "--json"})
	require.NoError(t, cmd.Execute())

	var counts map[string]int64
	require.NoError(t, json.Unmarshal(out.Bytes(), &counts))
	assert.Equal(t, int64(1), counts[model.CollectionUsers])
	assert.Equal(t, int64(0), counts[model.CollectionEvents])
}

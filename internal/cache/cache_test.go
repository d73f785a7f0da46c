// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatherline Contributors

package cache_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/gatherline/gatherline/internal/cache"
	"github.com/gatherline/gatherline/internal/docstore"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func nonBlank(v any) bool {
	s, ok := v.(string)
	return ok && s != ""
}

// testRegistry wires a small content graph: posts require an author and may
// have an editor, comments require a post, albums hold a non-empty list of
// files. Deleting an author also deletes their posts by query.
func testRegistry() *cache.Registry {
	r := cache.NewRegistry()
	r.MustRegister(cache.Schema{
		Collection: "authors",
		Fields: []cache.FieldDef{
			{Name: "name", Validate: nonBlank, Editable: true},
		},
		CascadeQueries: func(e *cache.Entity) []docstore.Query {
			return []docstore.Query{{
				Collection: "posts",
				Filters:    []docstore.Filter{{Field: "authorID", Op: docstore.OpEq, Value: e.ID()}},
			}}
		},
	})
	r.MustRegister(cache.Schema{
		Collection: "posts",
		Fields: []cache.FieldDef{
			{Name: "title", Validate: nonBlank, Editable: true},
			{Name: "authorID", Ref: "authors", Editable: true},
			{Name: "editorID", Ref: "authors", Nullable: true, Editable: true},
		},
	})
	r.MustRegister(cache.Schema{
		Collection: "comments",
		Fields: []cache.FieldDef{
			{Name: "body", Validate: nonBlank},
			{Name: "postID", Ref: "posts"},
		},
	})
	r.MustRegister(cache.Schema{
		Collection: "files",
		Fields: []cache.FieldDef{
			{Name: "path", Validate: nonBlank},
		},
	})
	r.MustRegister(cache.Schema{
		Collection: "albums",
		Fields: []cache.FieldDef{
			{Name: "label", Validate: nonBlank, Editable: true},
			{Name: "fileIDs", Ref: "files", Repeated: true, Editable: true},
		},
	})
	return r
}

func newTestCache(t *testing.T) (*cache.Cache, *docstore.MemoryStore) {
	t.Helper()
	store := docstore.NewMemoryStore()
	return cache.New(store, testRegistry(), cache.Options{}), store
}

func seedGraph(t *testing.T, store *docstore.MemoryStore) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, "authors", "au1", docstore.Fields{"name": "Ada"}))
	require.NoError(t, store.Set(ctx, "authors", "au2", docstore.Fields{"name": "Grace"}))
	require.NoError(t, store.Set(ctx, "posts", "po1", docstore.Fields{
		"title": "Hello", "authorID": "au1", "editorID": "au2",
	}))
	require.NoError(t, store.Set(ctx, "comments", "co1", docstore.Fields{
		"body": "Nice", "postID": "po1",
	}))
	require.NoError(t, store.Set(ctx, "files", "f1", docstore.Fields{"path": "a.jpg"}))
	require.NoError(t, store.Set(ctx, "files", "f2", docstore.Fields{"path": "b.jpg"}))
	require.NoError(t, store.Set(ctx, "albums", "al1", docstore.Fields{
		"label": "Trip", "fileIDs": []string{"f1", "f2"},
	}))
}

func TestFetch_SharedInstanceAndRefCount(t *testing.T) {
	ctx := context.Background()
	c, store := newTestCache(t)
	seedGraph(t, store)

	a1, err := c.Fetch(ctx, "authors", "au1")
	require.NoError(t, err)
	a2, err := c.Fetch(ctx, "authors", "au1")
	require.NoError(t, err)

	assert.Same(t, a1, a2)
	assert.Equal(t, 2, a1.RefCount())
	assert.True(t, a1.Usable())
	assert.Equal(t, "Ada", a1.Property("name"))

	a1.Dissolve()
	assert.Equal(t, 1, a1.RefCount())
	assert.True(t, a1.Usable())

	a1.Dissolve()
	assert.False(t, a1.Usable())
	assert.Equal(t, 0, c.Live())
}

func TestDissolve_FloorsAtZero(t *testing.T) {
	ctx := context.Background()
	c, store := newTestCache(t)
	seedGraph(t, store)

	a, err := c.Fetch(ctx, "authors", "au1")
	require.NoError(t, err)
	a.Dissolve()
	a.Dissolve() // extra release is a no-op
	a.Dissolve()
	assert.Equal(t, 0, a.RefCount())
	assert.False(t, a.Usable())
}

func TestEviction_TerminalAndFreshInstanceAfter(t *testing.T) {
	ctx := context.Background()
	c, store := newTestCache(t)
	seedGraph(t, store)

	a, err := c.Fetch(ctx, "authors", "au1")
	require.NoError(t, err)
	a.FullDissolve()
	a.FullDissolve() // idempotent
	assert.False(t, a.Usable())

	// The evicted handle cannot be revived.
	assert.Panics(t, func() { a.Fetch() })
	assert.Panics(t, func() { a.Property("name") })

	// A new fetch yields a fresh, usable instance.
	b, err := c.Fetch(ctx, "authors", "au1")
	require.NoError(t, err)
	assert.NotSame(t, a, b)
	assert.True(t, b.Usable())
	b.Dissolve()
}

func TestFetch_ResolvesReferencesInOrder(t *testing.T) {
	ctx := context.Background()
	c, store := newTestCache(t)
	seedGraph(t, store)

	p, err := c.Fetch(ctx, "posts", "po1")
	require.NoError(t, err)
	defer p.Dissolve()

	author := p.Ref("authorID")
	require.NotNil(t, author)
	assert.Equal(t, "Ada", author.Property("name"))
	editor := p.Ref("editorID")
	require.NotNil(t, editor)
	assert.Equal(t, "Grace", editor.Property("name"))

	// The post holds the only reference on its author.
	assert.Equal(t, 1, author.RefCount())
	assert.Equal(t, 3, c.Live())
}

func TestFetch_RequiredReferenceFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	c, store := newTestCache(t)
	seedGraph(t, store)
	require.NoError(t, store.Set(ctx, "posts", "broken", docstore.Fields{
		"title": "Dangling", "authorID": "missing", "editorID": "au2",
	}))

	_, err := c.Fetch(ctx, "posts", "broken")
	require.Error(t, err)

	// Nothing remains cached: the failed post and any references it
	// resolved before failing were released.
	assert.Equal(t, 0, c.Live())
}

func TestFetch_NullableReferenceFailureBlanks(t *testing.T) {
	ctx := context.Background()
	c, store := newTestCache(t)
	seedGraph(t, store)
	require.NoError(t, store.Set(ctx, "posts", "po2", docstore.Fields{
		"title": "Solo", "authorID": "au1", "editorID": "missing",
	}))

	p, err := c.Fetch(ctx, "posts", "po2")
	require.NoError(t, err)
	defer p.Dissolve()

	assert.Nil(t, p.Ref("editorID"))
	assert.Equal(t, "", p.Property("editorID"))
}

func TestOnInit_FiresOnceAndLate(t *testing.T) {
	ctx := context.Background()
	c, store := newTestCache(t)
	seedGraph(t, store)

	a, err := c.Fetch(ctx, "authors", "au1")
	require.NoError(t, err)
	defer a.Dissolve()

	calls := 0
	a.OnInit(func(_ *cache.Entity, success bool) {
		calls++
		assert.True(t, success)
	})
	assert.Equal(t, 1, calls)
}

func TestCreateInstance_ValidationRoundTrip(t *testing.T) {
	ctx := context.Background()
	c, store := newTestCache(t)
	seedGraph(t, store)

	_, err := c.CreateInstance(ctx, "authors", "", docstore.Fields{"name": ""})
	require.Error(t, err)
	assert.Equal(t, 0, c.Live())

	a, err := c.CreateInstance(ctx, "authors", "au9", docstore.Fields{"name": "Alan"})
	require.NoError(t, err)
	defer a.Dissolve()
	assert.Equal(t, "Alan", a.Property("name"))

	doc, err := store.Get(ctx, "authors", "au9")
	require.NoError(t, err)
	assert.Equal(t, "Alan", doc.Fields["name"])
}

func TestCreateInstance_ExistingDocumentFails(t *testing.T) {
	ctx := context.Background()
	c, store := newTestCache(t)
	seedGraph(t, store)

	_, err := c.CreateInstance(ctx, "authors", "au1", docstore.Fields{"name": "Clone"})
	assert.ErrorIs(t, err, docstore.ErrExists)
	assert.Equal(t, 0, c.Live())
}

func TestSetProperty_NoOpOnEqualValue(t *testing.T) {
	ctx := context.Background()
	c, store := newTestCache(t)
	seedGraph(t, store)

	a, err := c.Fetch(ctx, "authors", "au1")
	require.NoError(t, err)
	defer a.Dissolve()

	events := 0
	a.AddListener(&cache.ListenerFunc{Fn: func(_ *cache.Entity, t cache.EventType) {
		if t == cache.EventUpdate {
			events++
		}
	}})

	changed, err := a.SetProperty(ctx, "name", "Ada")
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, 0, events)
}

func TestSetProperty_UpdateWritesOnceAndSuppressesEcho(t *testing.T) {
	ctx := context.Background()
	c, store := newTestCache(t)
	seedGraph(t, store)

	a, err := c.Fetch(ctx, "authors", "au1")
	require.NoError(t, err)
	defer a.Dissolve()

	updates := 0
	a.AddListener(&cache.ListenerFunc{Fn: func(_ *cache.Entity, t cache.EventType) {
		if t == cache.EventUpdate {
			updates++
		}
	}})

	changed, err := a.SetProperty(ctx, "name", "Ada Lovelace")
	require.NoError(t, err)
	assert.True(t, changed)

	// Exactly one update event: the synchronous store echo carries no
	// field deltas and is absorbed.
	assert.Equal(t, 1, updates)

	doc, err := store.Get(ctx, "authors", "au1")
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", doc.Fields["name"])
}

func TestSetProperty_Validation(t *testing.T) {
	ctx := context.Background()
	c, store := newTestCache(t)
	seedGraph(t, store)

	a, err := c.Fetch(ctx, "authors", "au1")
	require.NoError(t, err)
	defer a.Dissolve()

	_, err = a.SetProperty(ctx, "name", "")
	require.Error(t, err)
	assert.Equal(t, "Ada", a.Property("name"))

	_, err = a.SetProperty(ctx, "unknown", "x")
	require.Error(t, err)
}

func TestSetProperty_ExchangesReference(t *testing.T) {
	ctx := context.Background()
	c, store := newTestCache(t)
	seedGraph(t, store)

	p, err := c.Fetch(ctx, "posts", "po1")
	require.NoError(t, err)
	defer p.Dissolve()

	oldAuthor := p.Ref("authorID")
	changed, err := p.SetProperty(ctx, "authorID", "au2")
	require.NoError(t, err)
	assert.True(t, changed)

	assert.Equal(t, "au2", p.Ref("authorID").ID())
	// The old author lost its only holder and was evicted.
	assert.False(t, oldAuthor.Usable())

	doc, err := store.Get(ctx, "posts", "po1")
	require.NoError(t, err)
	assert.Equal(t, "au2", doc.Fields["authorID"])
}

func TestRemoteUpdate_PropagatesAsSubUpdate(t *testing.T) {
	ctx := context.Background()
	c, store := newTestCache(t)
	seedGraph(t, store)

	p, err := c.Fetch(ctx, "posts", "po1")
	require.NoError(t, err)
	defer p.Dissolve()

	var events []cache.EventType
	p.AddListener(&cache.ListenerFunc{Fn: func(_ *cache.Entity, t cache.EventType) {
		events = append(events, t)
	}})

	// Another client changes the author document.
	require.NoError(t, store.Set(ctx, "authors", "au1", docstore.Fields{"name": "Ada L."}))

	require.Contains(t, events, cache.EventSubUpdate)
	assert.Equal(t, "Ada L.", p.Ref("authorID").Property("name"))
}

func TestRemoteUpdate_InvalidValueIgnored(t *testing.T) {
	ctx := context.Background()
	c, store := newTestCache(t)
	seedGraph(t, store)

	a, err := c.Fetch(ctx, "authors", "au1")
	require.NoError(t, err)
	defer a.Dissolve()

	var events []cache.EventType
	a.AddListener(&cache.ListenerFunc{Fn: func(_ *cache.Entity, t cache.EventType) {
		events = append(events, t)
	}})

	// Another client writes a snapshot that fails the field's validator.
	// The cached value must survive and no update may fire.
	require.NoError(t, store.Set(ctx, "authors", "au1", docstore.Fields{"name": ""}))

	assert.Equal(t, "Ada", a.Property("name"))
	assert.NotContains(t, events, cache.EventUpdate)
}

func TestCascadingDelete_Transitive(t *testing.T) {
	ctx := context.Background()
	c, store := newTestCache(t)
	seedGraph(t, store)

	co, err := c.Fetch(ctx, "comments", "co1")
	require.NoError(t, err)
	a, err := c.Fetch(ctx, "authors", "au1")
	require.NoError(t, err)

	require.NoError(t, a.Delete(ctx, cache.DeleteHard))

	// Author gone, post fell with it, comment fell with the post.
	assert.False(t, a.Usable())
	assert.True(t, co.Deleted())
	assert.False(t, co.Usable())

	_, err = store.Get(ctx, "authors", "au1")
	assert.ErrorIs(t, err, docstore.ErrNotFound)
	_, err = store.Get(ctx, "posts", "po1")
	assert.ErrorIs(t, err, docstore.ErrNotFound)
	_, err = store.Get(ctx, "comments", "co1")
	assert.ErrorIs(t, err, docstore.ErrNotFound)

	assert.Equal(t, 0, c.Live())
}

func TestCascadeQueries_DeleteUnloadedDependents(t *testing.T) {
	ctx := context.Background()
	c, store := newTestCache(t)
	seedGraph(t, store)
	require.NoError(t, store.Set(ctx, "posts", "po9", docstore.Fields{
		"title": "Unloaded", "authorID": "au1", "editorID": "",
	}))

	a, err := c.Fetch(ctx, "authors", "au1")
	require.NoError(t, err)
	require.NoError(t, a.Delete(ctx, cache.DeleteHard))

	_, err = store.Get(ctx, "posts", "po9")
	assert.ErrorIs(t, err, docstore.ErrNotFound)
}

func TestArrayReference_RemovalAndUpFall(t *testing.T) {
	ctx := context.Background()
	c, store := newTestCache(t)
	seedGraph(t, store)

	al, err := c.Fetch(ctx, "albums", "al1")
	require.NoError(t, err)
	require.Len(t, al.Refs("fileIDs"), 2)

	f1, err := c.Fetch(ctx, "files", "f1")
	require.NoError(t, err)
	require.NoError(t, f1.Delete(ctx, cache.DeleteHard))

	// One element dropped, album survives.
	assert.True(t, al.Usable())
	require.Len(t, al.Refs("fileIDs"), 1)
	assert.Equal(t, "f2", al.Refs("fileIDs")[0].ID())

	f2, err := c.Fetch(ctx, "files", "f2")
	require.NoError(t, err)
	require.NoError(t, f2.Delete(ctx, cache.DeleteHard))

	// List emptied and the schema forbids that: the album deletes itself.
	assert.False(t, al.Usable())
	_, err = store.Get(ctx, "albums", "al1")
	assert.ErrorIs(t, err, docstore.ErrNotFound)
}

func TestArrayReference_InitRollback(t *testing.T) {
	ctx := context.Background()
	c, store := newTestCache(t)
	seedGraph(t, store)
	require.NoError(t, store.Set(ctx, "albums", "ghost", docstore.Fields{
		"label": "Ghost", "fileIDs": []string{"nope1", "nope2"},
	}))

	_, err := c.Fetch(ctx, "albums", "ghost")
	require.Error(t, err)
	assert.Equal(t, 0, c.Live())
}

func TestRemoteDelete_EvictsAndNotifies(t *testing.T) {
	ctx := context.Background()
	c, store := newTestCache(t)
	seedGraph(t, store)

	a, err := c.Fetch(ctx, "authors", "au2")
	require.NoError(t, err)

	var got []cache.EventType
	a.AddListener(&cache.ListenerFunc{Fn: func(_ *cache.Entity, t cache.EventType) {
		got = append(got, t)
	}})

	require.NoError(t, store.Delete(ctx, "authors", "au2"))

	assert.Contains(t, got, cache.EventDelete)
	assert.True(t, a.Deleted())
	assert.False(t, a.Usable())
	assert.Equal(t, 0, c.Live())
}

func TestErrorListeners_ObserveRemoteFailures(t *testing.T) {
	ctx := context.Background()
	c, store := newTestCache(t)
	seedGraph(t, store)

	var seen []error
	c.AddErrorListener(func(err error) { seen = append(seen, err) })

	boom := assert.AnError
	store.FailNext(boom)
	_, err := c.Fetch(ctx, "authors", "au1")
	require.ErrorIs(t, err, boom)
	require.Len(t, seen, 1)
	assert.ErrorIs(t, seen[0], boom)
}

func TestReturn_PanicsWhileReferenced(t *testing.T) {
	ctx := context.Background()
	c, store := newTestCache(t)
	seedGraph(t, store)

	a, err := c.Fetch(ctx, "authors", "au1")
	require.NoError(t, err)

	assert.Panics(t, func() { c.Return(a) })
	a.Dissolve()
	assert.NotPanics(t, func() { c.Return(a) })
}

func TestFetch_NotFound(t *testing.T) {
	ctx := context.Background()
	c, store := newTestCache(t)
	seedGraph(t, store)

	_, err := c.Fetch(ctx, "authors", "missing")
	assert.ErrorIs(t, err, docstore.ErrNotFound)
	assert.Equal(t, 0, c.Live())
}

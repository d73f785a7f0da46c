// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatherline Contributors

package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// notifyChannel is the LISTEN/NOTIFY channel raised by the documents table
// trigger. Must match migrations/000001_documents.up.sql.
const notifyChannel = "document_changes"

// pgxPool is the subset of pgxpool.Pool the store uses. pgxmock implements
// it for driver tests.
type pgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore implements Store on a single JSONB documents table.
//
// Change notifications ride PostgreSQL LISTEN/NOTIFY: a trigger on the
// documents table publishes (collection, id, op) tuples, and a dedicated
// listener connection fans them out to registered watchers. Watch callbacks
// run on the listener goroutine.
type PostgresStore struct {
	pool pgxPool
	dsn  string

	mu         sync.Mutex
	watchers   map[string][]*pgWatcher // "collection/id" -> watchers
	listenStop context.CancelFunc
	closed     bool
}

type pgWatcher struct {
	fn        WatchFunc
	cancelled bool
}

// NewPostgresStore connects to PostgreSQL with fibonacci backoff and returns
// a ready store. The caller owns Close.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, oops.Code("DB_CONNECT_FAILED").With("operation", "create pool").Wrap(err)
	}

	backoff := retry.WithMaxDuration(30*time.Second, retry.NewFibonacci(500*time.Millisecond))
	if err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if pingErr := pool.Ping(ctx); pingErr != nil {
			return retry.RetryableError(pingErr)
		}
		return nil
	}); err != nil {
		pool.Close()
		return nil, oops.Code("DB_CONNECT_FAILED").With("operation", "ping").Wrap(err)
	}

	return &PostgresStore{
		pool:     pool,
		dsn:      dsn,
		watchers: make(map[string][]*pgWatcher),
	}, nil
}

// NewPostgresStoreWithPool wraps an existing pool. Used by driver tests with
// pgxmock. The change feed is unavailable without a DSN.
func NewPostgresStoreWithPool(pool pgxPool) *PostgresStore {
	return &PostgresStore{
		pool:     pool,
		watchers: make(map[string][]*pgWatcher),
	}
}

// Migrate brings the documents schema up to date.
func (s *PostgresStore) Migrate() error {
	if s.dsn == "" {
		return oops.Code("ILLEGAL_STATE").Errorf("store has no DSN, cannot migrate")
	}
	m, err := NewMigrator(s.dsn)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := m.Close(); closeErr != nil {
			slog.Warn("migrator close failed", "error", closeErr)
		}
	}()
	return m.Up()
}

// Get returns the document or ErrNotFound.
func (s *PostgresStore) Get(ctx context.Context, collection, id string) (Document, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx,
		`SELECT fields FROM documents WHERE collection = $1 AND id = $2`,
		collection, id).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return Document{}, oops.Code("NOT_FOUND").With("collection", collection).With("id", id).Wrap(ErrNotFound)
	}
	if err != nil {
		return Document{}, oops.Code("QUERY_FAILED").With("collection", collection).With("id", id).Wrap(err)
	}
	fields, err := decodeFields(raw)
	if err != nil {
		return Document{}, oops.Code("QUERY_FAILED").With("collection", collection).With("id", id).Wrap(err)
	}
	return Document{ID: id, Fields: fields}, nil
}

// Set writes the full snapshot, creating the document if needed.
func (s *PostgresStore) Set(ctx context.Context, collection, id string, fields Fields) error {
	raw, err := json.Marshal(fields)
	if err != nil {
		return oops.Code("QUERY_FAILED").With("collection", collection).With("id", id).Wrap(err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO documents (collection, id, fields, updated_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (collection, id)
		 DO UPDATE SET fields = EXCLUDED.fields, updated_at = now()`,
		collection, id, raw)
	if err != nil {
		return oops.Code("QUERY_FAILED").With("collection", collection).With("id", id).Wrap(err)
	}
	return nil
}

// Create inserts a new document, failing with ErrExists on collision.
func (s *PostgresStore) Create(ctx context.Context, collection, id string, fields Fields) error {
	raw, err := json.Marshal(fields)
	if err != nil {
		return oops.Code("QUERY_FAILED").With("collection", collection).With("id", id).Wrap(err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO documents (collection, id, fields, updated_at)
		 VALUES ($1, $2, $3, now())`,
		collection, id, raw)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
		return oops.Code("ALREADY_EXISTS").With("collection", collection).With("id", id).Wrap(ErrExists)
	}
	if err != nil {
		return oops.Code("QUERY_FAILED").With("collection", collection).With("id", id).Wrap(err)
	}
	return nil
}

// Delete removes the document. Missing documents are not an error.
func (s *PostgresStore) Delete(ctx context.Context, collection, id string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM documents WHERE collection = $1 AND id = $2`,
		collection, id)
	if err != nil {
		return oops.Code("QUERY_FAILED").With("collection", collection).With("id", id).Wrap(err)
	}
	return nil
}

// Run executes the query. Equality filters are pushed down via JSONB
// containment; ordering and cursors are applied client-side so that the
// order semantics match MemoryStore exactly.
func (s *PostgresStore) Run(ctx context.Context, q Query) ([]Document, error) {
	docs, err := s.fetchFiltered(ctx, q)
	if err != nil {
		return nil, err
	}

	sort.Slice(docs, func(i, j int) bool {
		return compareDocs(docs[i], docs[j], q.Orders) < 0
	})

	switch {
	case q.LimitToLast > 0:
		end := len(docs)
		if q.EndBefore != nil {
			end = lowerBound(docs, q.Orders, *q.EndBefore)
		}
		start := end - q.LimitToLast
		if start < 0 {
			start = 0
		}
		docs = docs[start:end]
	case q.Limit > 0:
		start := 0
		if q.StartAfter != nil {
			start = upperBound(docs, q.Orders, *q.StartAfter)
		}
		end := start + q.Limit
		if end > len(docs) {
			end = len(docs)
		}
		docs = docs[start:end]
	}
	return docs, nil
}

// Count returns the number of documents matching the query's filters.
func (s *PostgresStore) Count(ctx context.Context, q Query) (int64, error) {
	if allEq(q.Filters) {
		sql, args := countSQL(q)
		var n int64
		if err := s.pool.QueryRow(ctx, sql, args...).Scan(&n); err != nil {
			return 0, oops.Code("QUERY_FAILED").With("collection", q.Collection).Wrap(err)
		}
		return n, nil
	}
	docs, err := s.fetchFiltered(ctx, q)
	if err != nil {
		return 0, err
	}
	return int64(len(docs)), nil
}

// fetchFiltered pulls all documents in the collection matching the query's
// filters, equality filters pushed down to SQL, the rest applied in Go.
func (s *PostgresStore) fetchFiltered(ctx context.Context, q Query) ([]Document, error) {
	sql, args := selectSQL(q)
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, oops.Code("QUERY_FAILED").With("collection", q.Collection).Wrap(err)
	}
	defer rows.Close()

	var residual []Filter
	for _, f := range q.Filters {
		if f.Op != OpEq {
			residual = append(residual, f)
		}
	}

	var docs []Document
	for rows.Next() {
		var id string
		var raw []byte
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, oops.Code("QUERY_FAILED").With("collection", q.Collection).Wrap(err)
		}
		fields, err := decodeFields(raw)
		if err != nil {
			return nil, oops.Code("QUERY_FAILED").With("collection", q.Collection).With("id", id).Wrap(err)
		}
		if matchesFilters(fields, residual) {
			docs = append(docs, Document{ID: id, Fields: fields})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("QUERY_FAILED").With("collection", q.Collection).Wrap(err)
	}
	return docs, nil
}

func selectSQL(q Query) (string, []any) {
	sql := `SELECT id, fields FROM documents WHERE collection = $1`
	args := []any{q.Collection}
	for _, f := range q.Filters {
		if f.Op != OpEq {
			continue
		}
		raw, err := json.Marshal(map[string]any{f.Field: f.Value})
		if err != nil {
			continue
		}
		args = append(args, raw)
		sql += ` AND fields @> $` + strconv.Itoa(len(args))
	}
	return sql, args
}

func countSQL(q Query) (string, []any) {
	sql := `SELECT count(*) FROM documents WHERE collection = $1`
	args := []any{q.Collection}
	for _, f := range q.Filters {
		raw, err := json.Marshal(map[string]any{f.Field: f.Value})
		if err != nil {
			continue
		}
		args = append(args, raw)
		sql += ` AND fields @> $` + strconv.Itoa(len(args))
	}
	return sql, args
}

func allEq(filters []Filter) bool {
	for _, f := range filters {
		if f.Op != OpEq {
			return false
		}
	}
	return true
}

// decodeFields unmarshals a JSONB payload and normalizes []any reference
// lists back to []string.
func decodeFields(raw []byte) (Fields, error) {
	var fields Fields
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	for k, v := range fields {
		list, ok := v.([]any)
		if !ok {
			continue
		}
		strs := make([]string, 0, len(list))
		stringsOnly := true
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				stringsOnly = false
				break
			}
			strs = append(strs, s)
		}
		if stringsOnly {
			fields[k] = strs
		}
	}
	return fields, nil
}

// Watch registers fn for changes to one document. The listener connection
// starts lazily on the first watcher.
func (s *PostgresStore) Watch(collection, id string, fn WatchFunc) (CancelFunc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if s.dsn == "" {
		return nil, oops.Code("ILLEGAL_STATE").Errorf("change feed unavailable without DSN")
	}
	if s.listenStop == nil {
		ctx, cancel := context.WithCancel(context.Background())
		conn, err := pgx.Connect(ctx, s.dsn)
		if err != nil {
			cancel()
			return nil, oops.Code("DB_CONNECT_FAILED").With("operation", "listen").Wrap(err)
		}
		if _, err := conn.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
			cancel()
			_ = conn.Close(context.Background()) //nolint:errcheck // listen failed, best-effort close
			return nil, oops.Code("QUERY_FAILED").With("operation", "listen").Wrap(err)
		}
		s.listenStop = cancel
		go s.listenLoop(ctx, conn)
	}

	key := collection + "/" + id
	w := &pgWatcher{fn: fn}
	s.watchers[key] = append(s.watchers[key], w)

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		w.cancelled = true
		live := s.watchers[key][:0]
		for _, cand := range s.watchers[key] {
			if !cand.cancelled {
				live = append(live, cand)
			}
		}
		if len(live) == 0 {
			delete(s.watchers, key)
		} else {
			s.watchers[key] = live
		}
	}, nil
}

// listenLoop receives trigger notifications and fans them out to watchers.
func (s *PostgresStore) listenLoop(ctx context.Context, conn *pgx.Conn) {
	defer func() {
		_ = conn.Close(context.Background()) //nolint:errcheck // shutdown path
	}()
	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() == nil {
				slog.Error("document change listener stopped", "error", err)
			}
			return
		}
		var payload struct {
			Collection string `json:"collection"`
			ID         string `json:"id"`
			Op         string `json:"op"`
		}
		if err := json.Unmarshal([]byte(n.Payload), &payload); err != nil {
			slog.Warn("malformed change notification", "payload", n.Payload, "error", err)
			continue
		}
		s.dispatch(ctx, payload.Collection, payload.ID, payload.Op)
	}
}

func (s *PostgresStore) dispatch(ctx context.Context, collection, id, op string) {
	s.mu.Lock()
	src := s.watchers[collection+"/"+id]
	targets := make([]*pgWatcher, 0, len(src))
	for _, w := range src {
		if !w.cancelled {
			targets = append(targets, w)
		}
	}
	s.mu.Unlock()
	if len(targets) == 0 {
		return
	}

	change := Change{Deleted: true}
	if op != "delete" {
		doc, err := s.Get(ctx, collection, id)
		if errors.Is(err, ErrNotFound) {
			change = Change{Deleted: true}
		} else if err != nil {
			slog.Error("failed to load changed document", "collection", collection, "id", id, "error", err)
			return
		} else {
			change = Change{Fields: doc.Fields}
		}
	}
	for _, w := range targets {
		w.fn(change)
	}
}

// Close stops the listener and closes the pool.
func (s *PostgresStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	stop := s.listenStop
	s.watchers = make(map[string][]*pgWatcher)
	s.mu.Unlock()

	if stop != nil {
		stop()
	}
	s.pool.Close()
	return nil
}

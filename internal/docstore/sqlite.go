package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/playperu/questhunt/internal/clock"
	"github.com/playperu/questhunt/internal/hunt"
	"github.com/playperu/questhunt/internal/pubsub"
)

const defaultRetries = 5

// Store implements Client on the migrated documents table.
type Store struct {
	db        *sql.DB
	feed      *pubsub.Feed
	publisher pubsub.Publisher
	clock     clock.Clock
	logger    *slog.Logger
	retries   int

	tsMu   sync.Mutex
	lastTS time.Time
}

type Option func(*Store)

func WithClock(c clock.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// WithPublisher routes change notifications through p instead of straight to
// the feed, e.g. a Redis relay.
func WithPublisher(p pubsub.Publisher) Option {
	return func(s *Store) { s.publisher = p }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithRetries bounds how often RunAtomicUpdate retries after a conflict.
func WithRetries(n int) Option {
	return func(s *Store) { s.retries = n }
}

func New(db *sql.DB, feed *pubsub.Feed, opts ...Option) *Store {
	s := &Store{
		db:        db,
		feed:      feed,
		publisher: feed,
		clock:     clock.System{},
		logger:    slog.New(slog.DiscardHandler),
		retries:   defaultRetries,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) notify(collection, id string) {
	s.publisher.Publish(pubsub.Change{Collection: collection, ID: id})
}

func notFound(collection, id string) error {
	return hunt.Newf(hunt.CodeNotFound, "%s/%s not found", collection, id)
}

func (s *Store) millis() int64 {
	return s.clock.Now().UnixMilli()
}

// ServerTimestamp returns the store clock's time, strictly increasing across calls.
func (s *Store) ServerTimestamp() time.Time {
	s.tsMu.Lock()
	defer s.tsMu.Unlock()
	now := s.clock.Now().UTC()
	if !now.After(s.lastTS) {
		now = s.lastTS.Add(time.Nanosecond)
	}
	s.lastTS = now
	return now
}

func (s *Store) Get(ctx context.Context, collection, id string) (Doc, error) {
	var d Doc
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT version, json(data) FROM documents WHERE collection = ? AND id = ?`,
		collection, id,
	).Scan(&d.Version, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return Doc{}, notFound(collection, id)
	}
	if err != nil {
		return Doc{}, fmt.Errorf("getting %s/%s: %w", collection, id, err)
	}
	d.ID = id
	d.Data = json.RawMessage(data)
	return d, nil
}

func buildWhere(q Query) (string, []any, error) {
	var sb strings.Builder
	sb.WriteString(` WHERE collection = ?`)
	args := []any{q.Collection}
	for _, p := range q.Where {
		path, err := jsonPath(p.Field)
		if err != nil {
			return "", nil, err
		}
		if p.Value == nil {
			switch p.Op {
			case Eq:
				sb.WriteString(` AND json_extract(data, ?) IS NULL`)
			case Ne:
				sb.WriteString(` AND json_extract(data, ?) IS NOT NULL`)
			default:
				return "", nil, fmt.Errorf("operator %s cannot compare with nil", p.Op)
			}
			args = append(args, path)
			continue
		}
		op, ok := sqlOps[p.Op]
		if !ok {
			return "", nil, fmt.Errorf("unknown operator %q", p.Op)
		}
		sb.WriteString(` AND json_extract(data, ?) ` + op + ` ?`)
		args = append(args, path, sqlValue(p.Value))
	}
	return sb.String(), args, nil
}

func (s *Store) Query(ctx context.Context, q Query) ([]Doc, error) {
	where, args, err := buildWhere(q)
	if err != nil {
		return nil, err
	}

	var sb strings.Builder
	sb.WriteString(`SELECT id, version, json(data) FROM documents`)
	sb.WriteString(where)
	if q.OrderBy != "" {
		path, err := jsonPath(q.OrderBy)
		if err != nil {
			return nil, err
		}
		dir := "ASC"
		if q.Desc {
			dir = "DESC"
		}
		sb.WriteString(` ORDER BY json_extract(data, ?) ` + dir + `, created_at, rowid`)
		args = append(args, path)
	} else {
		sb.WriteString(` ORDER BY created_at, rowid`)
	}
	if q.Limit > 0 {
		sb.WriteString(` LIMIT ?`)
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", q.Collection, err)
	}
	defer rows.Close()

	var docs []Doc
	for rows.Next() {
		var d Doc
		var data string
		if err := rows.Scan(&d.ID, &d.Version, &data); err != nil {
			return nil, err
		}
		d.Data = json.RawMessage(data)
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

func (s *Store) Count(ctx context.Context, q Query) (int, error) {
	where, args, err := buildWhere(q)
	if err != nil {
		return 0, err
	}
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting %s: %w", q.Collection, err)
	}
	return n, nil
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) put(ctx context.Context, ex execer, collection, id string, data []byte) error {
	now := s.millis()
	_, err := ex.ExecContext(ctx, `
		INSERT INTO documents (collection, id, version, data, created_at, updated_at)
		VALUES (?, ?, 1, jsonb(json_set(?, '$.id', ?)), ?, ?)
		ON CONFLICT(collection, id) DO UPDATE SET
			version = documents.version + 1,
			data = excluded.data,
			updated_at = excluded.updated_at
	`, collection, id, string(data), id, now, now)
	if err != nil {
		return fmt.Errorf("putting %s/%s: %w", collection, id, err)
	}
	return nil
}

func (s *Store) patch(ctx context.Context, ex execer, collection, id string, patch []byte) error {
	result, err := ex.ExecContext(ctx, `
		UPDATE documents
		SET data = jsonb(json_patch(json(data), ?)), version = version + 1, updated_at = ?
		WHERE collection = ? AND id = ?
	`, string(patch), s.millis(), collection, id)
	if err != nil {
		return fmt.Errorf("updating %s/%s: %w", collection, id, err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return notFound(collection, id)
	}
	return nil
}

func (s *Store) remove(ctx context.Context, ex execer, collection, id string) error {
	result, err := ex.ExecContext(ctx,
		`DELETE FROM documents WHERE collection = ? AND id = ?`, collection, id,
	)
	if err != nil {
		return fmt.Errorf("deleting %s/%s: %w", collection, id, err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return notFound(collection, id)
	}
	return nil
}

func (s *Store) Set(ctx context.Context, collection, id string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := s.put(ctx, s.db, collection, id, data); err != nil {
		return err
	}
	s.notify(collection, id)
	return nil
}

func (s *Store) Add(ctx context.Context, collection string, v any) (string, error) {
	id := uuid.NewString()
	if err := s.Set(ctx, collection, id, v); err != nil {
		return "", err
	}
	return id, nil
}

func (s *Store) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	expanded, err := expandFields(fields)
	if err != nil {
		return err
	}
	patch, err := json.Marshal(expanded)
	if err != nil {
		return err
	}
	if err := s.patch(ctx, s.db, collection, id, patch); err != nil {
		return err
	}
	s.notify(collection, id)
	return nil
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	if err := s.remove(ctx, s.db, collection, id); err != nil {
		return err
	}
	s.notify(collection, id)
	return nil
}

func (s *Store) compareAndSet(ctx context.Context, collection, id string, version int64, data []byte) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE documents
		SET data = jsonb(json_set(?, '$.id', ?)), version = version + 1, updated_at = ?
		WHERE collection = ? AND id = ? AND version = ?
	`, string(data), id, s.millis(), collection, id, version)
	if err != nil {
		return false, fmt.Errorf("writing %s/%s: %w", collection, id, err)
	}
	n, _ := result.RowsAffected()
	return n == 1, nil
}

func (s *Store) RunAtomicUpdate(ctx context.Context, collection, id string, fn func(data json.RawMessage) (json.RawMessage, error)) (json.RawMessage, error) {
	for attempt := 0; attempt <= s.retries; attempt++ {
		doc, err := s.Get(ctx, collection, id)
		if err != nil {
			return nil, err
		}
		next, err := fn(doc.Data)
		if err != nil {
			return nil, err
		}
		if next == nil {
			return doc.Data, nil
		}
		ok, err := s.compareAndSet(ctx, collection, id, doc.Version, next)
		if err != nil {
			return nil, err
		}
		if ok {
			s.notify(collection, id)
			return next, nil
		}
		s.logger.Debug("atomic update conflict",
			"collection", collection,
			"id", id,
			"attempt", attempt+1,
		)
	}
	return nil, hunt.Newf(hunt.CodeConcurrentUpdateConflict,
		"updating %s/%s: gave up after %d attempts", collection, id, s.retries+1)
}

// Subscribe implements Client. Changes are observed through the feed, so
// writes from other processes only show up when a relay republishes them.
func (s *Store) Subscribe(q Query, onChange func([]Doc)) func() {
	ctx, cancel := context.WithCancel(context.Background())
	ch := s.feed.Subscribe(q.Collection)
	done := make(chan struct{})

	go func() {
		defer close(done)
		defer s.feed.Unsubscribe(q.Collection, ch)

		deliver := func() {
			docs, err := s.Query(ctx, q)
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				s.logger.Error("subscription query failed", "collection", q.Collection, "error", err)
				return
			}
			onChange(docs)
		}

		deliver()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ch:
				deliver()
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}
}

// Ensure Store implements Client at compile time.
var _ Client = (*Store)(nil)

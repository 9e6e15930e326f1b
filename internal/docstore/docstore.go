// Package docstore is a key-document store over SQLite JSONB. Documents live in
// named collections, are read and written as JSON, can be queried by field,
// watched through subscriptions, and updated with optimistic compare-and-set.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"
)

// Doc is one stored document.
type Doc struct {
	ID      string
	Version int64
	Data    json.RawMessage
}

type Op string

const (
	Eq Op = "=="
	Ne Op = "!="
	Lt Op = "<"
	Le Op = "<="
	Gt Op = ">"
	Ge Op = ">="
)

var sqlOps = map[Op]string{
	Eq: "=",
	Ne: "!=",
	Lt: "<",
	Le: "<=",
	Gt: ">",
	Ge: ">=",
}

// Predicate compares a dotted JSON field against a value. A nil Value with Eq
// matches documents where the field is missing or null.
type Predicate struct {
	Field string
	Op    Op
	Value any
}

func Where(field string, op Op, value any) Predicate {
	return Predicate{Field: field, Op: op, Value: value}
}

type Query struct {
	Collection string
	Where      []Predicate
	OrderBy    string
	Desc       bool
	Limit      int
}

// ErrNoChange returned from a Mutate callback ends the update without writing.
var ErrNoChange = errors.New("no change")

// Client is the document store as seen by the engines.
type Client interface {
	Get(ctx context.Context, collection, id string) (Doc, error)
	Query(ctx context.Context, q Query) ([]Doc, error)
	Count(ctx context.Context, q Query) (int, error)
	// Subscribe calls onChange with the current result of q and again after
	// every write to q.Collection. The returned function stops the
	// subscription; once it returns no further callbacks run. It must not be
	// called from inside onChange.
	Subscribe(q Query, onChange func([]Doc)) (unsubscribe func())
	Set(ctx context.Context, collection, id string, v any) error
	Add(ctx context.Context, collection string, v any) (string, error)
	// Update merges fields into the document. Dotted keys address nested
	// fields and nil values remove them.
	Update(ctx context.Context, collection, id string, fields map[string]any) error
	Delete(ctx context.Context, collection, id string) error
	// RunAtomicUpdate reads the document, passes it to fn and writes fn's
	// result only if nobody wrote in between, retrying on conflict. fn may run
	// more than once and must not touch the store. A nil result skips the write.
	RunAtomicUpdate(ctx context.Context, collection, id string, fn func(data json.RawMessage) (json.RawMessage, error)) (json.RawMessage, error)
	Batch(ctx context.Context, fn func(b *Batch) error) error
	ServerTimestamp() time.Time
}

var fieldPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)

func jsonPath(field string) (string, error) {
	if !fieldPattern.MatchString(field) {
		return "", fmt.Errorf("invalid field %q", field)
	}
	return "$." + field, nil
}

// sqlValue converts v to what json_extract yields for the same JSON value.
func sqlValue(v any) any {
	switch x := v.(type) {
	case bool:
		if x {
			return 1
		}
		return 0
	case time.Time:
		return x.Format(time.RFC3339Nano)
	default:
		return v
	}
}

// expandFields turns {"a.b": 1} into {"a": {"b": 1}} for a JSON merge patch.
func expandFields(fields map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(fields))
	for key, v := range fields {
		if !fieldPattern.MatchString(key) {
			return nil, fmt.Errorf("invalid field %q", key)
		}
		parts := splitPath(key)
		m := out
		for _, p := range parts[:len(parts)-1] {
			next, ok := m[p].(map[string]any)
			if !ok {
				next = make(map[string]any)
				m[p] = next
			}
			m = next
		}
		m[parts[len(parts)-1]] = v
	}
	delete(out, "id")
	return out, nil
}

func splitPath(key string) []string {
	var parts []string
	start := 0
	for i := 0; i < len(key); i++ {
		if key[i] == '.' {
			parts = append(parts, key[start:i])
			start = i + 1
		}
	}
	return append(parts, key[start:])
}

package docstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/playperu/questhunt/internal/pubsub"
)

type batchKind int

const (
	batchSet batchKind = iota
	batchUpdate
	batchDelete
)

type batchOp struct {
	kind       batchKind
	collection string
	id         string
	data       []byte
}

// Batch collects writes that commit together in one transaction.
type Batch struct {
	ops []batchOp
	err error
}

func (b *Batch) Set(collection, id string, v any) {
	if b.err != nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		b.err = fmt.Errorf("encoding %s/%s: %w", collection, id, err)
		return
	}
	b.ops = append(b.ops, batchOp{kind: batchSet, collection: collection, id: id, data: data})
}

func (b *Batch) Update(collection, id string, fields map[string]any) {
	if b.err != nil {
		return
	}
	expanded, err := expandFields(fields)
	if err == nil {
		var data []byte
		data, err = json.Marshal(expanded)
		if err == nil {
			b.ops = append(b.ops, batchOp{kind: batchUpdate, collection: collection, id: id, data: data})
			return
		}
	}
	b.err = fmt.Errorf("encoding %s/%s: %w", collection, id, err)
}

func (b *Batch) Delete(collection, id string) {
	if b.err != nil {
		return
	}
	b.ops = append(b.ops, batchOp{kind: batchDelete, collection: collection, id: id})
}

// Len returns the number of queued writes.
func (b *Batch) Len() int { return len(b.ops) }

// Batch implements Client. Nothing is written when fn or any queued write
// fails. An empty batch is a no-op.
func (s *Store) Batch(ctx context.Context, fn func(b *Batch) error) error {
	b := &Batch{}
	if err := fn(b); err != nil {
		return err
	}
	if b.err != nil {
		return b.err
	}
	if len(b.ops) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning batch: %w", err)
	}
	defer tx.Rollback()

	for _, op := range b.ops {
		switch op.kind {
		case batchSet:
			err = s.put(ctx, tx, op.collection, op.id, op.data)
		case batchUpdate:
			err = s.patch(ctx, tx, op.collection, op.id, op.data)
		case batchDelete:
			err = s.remove(ctx, tx, op.collection, op.id)
		}
		if err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing batch: %w", err)
	}

	seen := make(map[pubsub.Change]struct{}, len(b.ops))
	for _, op := range b.ops {
		c := pubsub.Change{Collection: op.collection, ID: op.id}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		s.publisher.Publish(c)
	}
	return nil
}

package docstore

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/playperu/questhunt/internal/hunt"
)

type validator interface {
	Validate() error
}

// Decode unmarshals a document into T and validates it when *T has a
// Validate method.
func Decode[T any](data json.RawMessage) (*T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, hunt.Wrap(hunt.CodeMalformedDocument, "decoding document", err)
	}
	if val, ok := any(&v).(validator); ok {
		if err := val.Validate(); err != nil {
			return nil, err
		}
	}
	return &v, nil
}

func Get[T any](ctx context.Context, c Client, collection, id string) (*T, error) {
	doc, err := c.Get(ctx, collection, id)
	if err != nil {
		return nil, err
	}
	return Decode[T](doc.Data)
}

func Find[T any](ctx context.Context, c Client, q Query) ([]*T, error) {
	docs, err := c.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	out := make([]*T, 0, len(docs))
	for _, d := range docs {
		v, err := Decode[T](d.Data)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// Mutate applies fn to a fresh copy of the document under RunAtomicUpdate and
// returns the value that was stored. fn returning ErrNoChange leaves the
// document untouched and Mutate returns it as read.
func Mutate[T any](ctx context.Context, c Client, collection, id string, fn func(v *T) error) (*T, error) {
	data, err := c.RunAtomicUpdate(ctx, collection, id, func(data json.RawMessage) (json.RawMessage, error) {
		v, err := Decode[T](data)
		if err != nil {
			return nil, err
		}
		if err := fn(v); err != nil {
			if errors.Is(err, ErrNoChange) {
				return nil, nil
			}
			return nil, err
		}
		if val, ok := any(v).(validator); ok {
			if err := val.Validate(); err != nil {
				return nil, err
			}
		}
		return json.Marshal(v)
	})
	if err != nil {
		return nil, err
	}
	return Decode[T](data)
}

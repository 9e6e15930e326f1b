// Package engine holds the game rules: quest progression, item effects and the
// curse/immunity scheduler. Engines read and write through a docstore.Client
// and never touch HTTP.
package engine

import (
	"cmp"
	"context"
	"slices"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/playperu/questhunt/internal/docstore"
	"github.com/playperu/questhunt/internal/hunt"
)

var tracer = otel.Tracer("github.com/playperu/questhunt/internal/engine")

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// endSpan records err on span, tagging domain errors with their code.
func endSpan(span trace.Span, err error) {
	if err != nil {
		if code := hunt.CodeOf(err); code != "" {
			span.SetAttributes(attribute.String("hunt.error_code", string(code)))
		}
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func loadTeam(ctx context.Context, store docstore.Client, id string) (*hunt.Team, error) {
	return docstore.Get[hunt.Team](ctx, store, hunt.CollectionTeams, id)
}

func loadUser(ctx context.Context, store docstore.Client, id string) (*hunt.User, error) {
	return docstore.Get[hunt.User](ctx, store, hunt.CollectionUsers, id)
}

func loadTeams(ctx context.Context, store docstore.Client) ([]*hunt.Team, error) {
	return docstore.Find[hunt.Team](ctx, store, docstore.Query{Collection: hunt.CollectionTeams})
}

// loadQuests returns every quest ordered by sequence.
func loadQuests(ctx context.Context, store docstore.Client) ([]*hunt.Quest, error) {
	quests, err := docstore.Find[hunt.Quest](ctx, store, docstore.Query{
		Collection: hunt.CollectionQuests,
		OrderBy:    "sequence",
	})
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(quests, func(a, b *hunt.Quest) int {
		return cmp.Compare(a.Sequence, b.Sequence)
	})
	return quests, nil
}

func mutateTeam(ctx context.Context, store docstore.Client, id string, fn func(t *hunt.Team) error) (*hunt.Team, error) {
	return docstore.Mutate(ctx, store, hunt.CollectionTeams, id, fn)
}

func mutateUser(ctx context.Context, store docstore.Client, id string, fn func(u *hunt.User) error) (*hunt.User, error) {
	return docstore.Mutate(ctx, store, hunt.CollectionUsers, id, fn)
}

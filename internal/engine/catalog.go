package engine

import (
	"context"
	"log/slog"
	"slices"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/playperu/questhunt/internal/docstore"
	"github.com/playperu/questhunt/internal/hunt"
)

// Catalog maintains the quest list for organizers. Every write leaves
// sequences numbered 1..N in one batch.
type Catalog struct {
	store  docstore.Client
	logger *slog.Logger
}

func NewCatalog(store docstore.Client, logger *slog.Logger) *Catalog {
	return &Catalog{store: store, logger: logger}
}

func (c *Catalog) List(ctx context.Context) ([]*hunt.Quest, error) {
	return loadQuests(ctx, c.store)
}

// renumber writes every quest whose sequence differs from its position in
// ordered, the quest with id always, and deletes deleted, in one batch.
func (c *Catalog) renumber(ctx context.Context, ordered []*hunt.Quest, always, deleted string) error {
	return c.store.Batch(ctx, func(b *docstore.Batch) error {
		if deleted != "" {
			b.Delete(hunt.CollectionQuests, deleted)
		}
		for i, q := range ordered {
			if q.Sequence == i+1 && q.ID != always {
				continue
			}
			q.Sequence = i + 1
			if err := q.Validate(); err != nil {
				return err
			}
			b.Set(hunt.CollectionQuests, q.ID, q)
		}
		return nil
	})
}

// Create inserts q at sequence position, or appends it when position is
// zero or past the end.
func (c *Catalog) Create(ctx context.Context, q hunt.Quest, position int) (_ *hunt.Quest, err error) {
	ctx, span := startSpan(ctx, "catalog.Create")
	defer func() { endSpan(span, err) }()

	quests, err := loadQuests(ctx, c.store)
	if err != nil {
		return nil, err
	}
	q.ID = uuid.NewString()
	q.Sequence = 1
	if err := q.Validate(); err != nil {
		return nil, err
	}

	at := len(quests)
	if position >= 1 && position <= len(quests) {
		at = position - 1
	}
	quests = slices.Insert(quests, at, &q)

	if err := c.renumber(ctx, quests, q.ID, ""); err != nil {
		return nil, err
	}
	c.logger.Info("quest created", "quest_id", q.ID, "sequence", q.Sequence)
	return &q, nil
}

// Update replaces a quest's content. The stored sequence is kept; use Move
// to reorder.
func (c *Catalog) Update(ctx context.Context, q hunt.Quest) (_ *hunt.Quest, err error) {
	ctx, span := startSpan(ctx, "catalog.Update", attribute.String("quest.id", q.ID))
	defer func() { endSpan(span, err) }()

	return docstore.Mutate(ctx, c.store, hunt.CollectionQuests, q.ID, func(stored *hunt.Quest) error {
		seq := stored.Sequence
		*stored = q
		stored.Sequence = seq
		return nil
	})
}

func (c *Catalog) Delete(ctx context.Context, id string) (err error) {
	ctx, span := startSpan(ctx, "catalog.Delete", attribute.String("quest.id", id))
	defer func() { endSpan(span, err) }()

	quests, err := loadQuests(ctx, c.store)
	if err != nil {
		return err
	}
	idx := slices.IndexFunc(quests, func(q *hunt.Quest) bool { return q.ID == id })
	if idx < 0 {
		return hunt.Newf(hunt.CodeNotFound, "quest %s not found", id)
	}
	quests = slices.Delete(quests, idx, idx+1)

	if err := c.renumber(ctx, quests, "", id); err != nil {
		return err
	}
	c.logger.Info("quest deleted", "quest_id", id)
	return nil
}

// Move places quest id at sequence, clamped to 1..N, shifting the others.
func (c *Catalog) Move(ctx context.Context, id string, sequence int) (_ []*hunt.Quest, err error) {
	ctx, span := startSpan(ctx, "catalog.Move",
		attribute.String("quest.id", id),
		attribute.Int("quest.sequence", sequence),
	)
	defer func() { endSpan(span, err) }()

	quests, err := loadQuests(ctx, c.store)
	if err != nil {
		return nil, err
	}
	idx := slices.IndexFunc(quests, func(q *hunt.Quest) bool { return q.ID == id })
	if idx < 0 {
		return nil, hunt.Newf(hunt.CodeNotFound, "quest %s not found", id)
	}

	sequence = max(1, min(sequence, len(quests)))
	q := quests[idx]
	quests = slices.Delete(quests, idx, idx+1)
	quests = slices.Insert(quests, sequence-1, q)

	if err := c.renumber(ctx, quests, "", ""); err != nil {
		return nil, err
	}
	c.logger.Info("quest moved", "quest_id", id, "sequence", sequence)
	return quests, nil
}

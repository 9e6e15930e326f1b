package engine

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"

	"github.com/playperu/questhunt/internal/docstore"
	"github.com/playperu/questhunt/internal/geo"
	"github.com/playperu/questhunt/internal/hunt"
)

// Tracker records player positions and feeds them to the geofence.
type Tracker struct {
	store  docstore.Client
	quests *QuestEngine
	logger *slog.Logger
}

func NewTracker(store docstore.Client, quests *QuestEngine, logger *slog.Logger) *Tracker {
	return &Tracker{store: store, quests: quests, logger: logger}
}

// Record stores pos as the user's live location, appends it to the user's
// history and evaluates the team's quest fences.
func (t *Tracker) Record(ctx context.Context, userID string, pos hunt.LatLng) (_ *FenceResult, err error) {
	ctx, span := startSpan(ctx, "tracker.Record", attribute.String("user.id", userID))
	defer func() { endSpan(span, err) }()

	if _, err := geo.Distance(pos, pos); err != nil {
		return nil, err
	}
	user, err := loadUser(ctx, t.store, userID)
	if err != nil {
		return nil, err
	}

	now := t.store.ServerTimestamp()
	if err := t.store.Update(ctx, hunt.CollectionUsers, userID, map[string]any{
		"location":    pos,
		"lastUpdated": now,
	}); err != nil {
		return nil, err
	}
	if _, err := t.store.Add(ctx, hunt.LocationHistoryCollection(userID), hunt.LocationFix{
		Position:  pos,
		Timestamp: now,
	}); err != nil {
		return nil, err
	}
	t.logger.Debug("location recorded", "user_id", userID, "lat", pos.Lat, "lng", pos.Lng)

	if user.TeamID == "" {
		return &FenceResult{}, nil
	}
	return t.quests.UpdateLocation(ctx, user.TeamID, pos)
}

// History returns the user's recorded fixes, oldest first.
func (t *Tracker) History(ctx context.Context, userID string, limit int) ([]*hunt.LocationFix, error) {
	return docstore.Find[hunt.LocationFix](ctx, t.store, docstore.Query{
		Collection: hunt.LocationHistoryCollection(userID),
		Limit:      limit,
	})
}

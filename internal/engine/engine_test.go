package engine

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/playperu/questhunt/internal/clock"
	"github.com/playperu/questhunt/internal/database"
	"github.com/playperu/questhunt/internal/docstore"
	"github.com/playperu/questhunt/internal/hunt"
	"github.com/playperu/questhunt/internal/migrations"
	"github.com/playperu/questhunt/internal/pubsub"
)

var t0 = time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

// Quest locations around Plaza de Armas, Lima.
var (
	plaza     = hunt.LatLng{Lat: -12.0464, Lng: -77.0428}
	cathedral = hunt.LatLng{Lat: -12.0459, Lng: -77.0302}
	park      = hunt.LatLng{Lat: -12.0560, Lng: -77.0365}
)

type fixture struct {
	store   *docstore.Store
	clock   *clock.Manual
	quests  *QuestEngine
	catalog *Catalog
	items   *ItemEngine
	tracker *Tracker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := database.Open(context.Background(), database.DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := migrations.Run(db); err != nil {
		t.Fatalf("running migrations: %v", err)
	}

	clk := clock.NewManual(t0)
	logger := slog.New(slog.DiscardHandler)
	store := docstore.New(db, pubsub.NewFeed(), docstore.WithClock(clk), docstore.WithRetries(20))

	quests := NewQuestEngine(store, clk, logger, 50)
	items := NewItemEngine(store, clk, logger, 5)
	t.Cleanup(items.Close)

	return &fixture{
		store:   store,
		clock:   clk,
		quests:  quests,
		catalog: NewCatalog(store, logger),
		items:   items,
		tracker: NewTracker(store, quests, logger),
	}
}

func (f *fixture) put(t *testing.T, collection, id string, v any) {
	t.Helper()
	if err := f.store.Set(context.Background(), collection, id, v); err != nil {
		t.Fatalf("seeding %s/%s: %v", collection, id, err)
	}
}

func (f *fixture) addTeam(t *testing.T, id string, currency int) {
	t.Helper()
	f.put(t, hunt.CollectionTeams, id, hunt.Team{ID: id, Name: "Team " + id, Color: "#ff0000", Currency: currency})
}

func (f *fixture) addUser(t *testing.T, id, teamID string) {
	t.Helper()
	f.put(t, hunt.CollectionUsers, id, hunt.User{ID: id, Email: id + "@example.com", TeamID: teamID})
}

func (f *fixture) addItem(t *testing.T, item hunt.Item) {
	t.Helper()
	f.put(t, hunt.CollectionItems, item.ID, item)
}

// addQuests seeds three quests in sequence order: plaza, cathedral, park.
func (f *fixture) addQuests(t *testing.T) {
	t.Helper()
	for i, q := range []hunt.Quest{
		{ID: "q1", Name: "Fountain", Hint: "Where the city began", Answer: []string{"bronze"}, Clue: "Look at the angel", Location: hunt.QuestLocation{Lat: plaza.Lat, Lng: plaza.Lng, Radius: 30}},
		{ID: "q2", Name: "Bells", Hint: "Count the towers", Answer: []string{"Paris", "paris "}, Location: hunt.QuestLocation{Lat: cathedral.Lat, Lng: cathedral.Lng, Radius: 25}},
		{ID: "q3", Name: "Magic water", Hint: "Fountains that dance", Answer: []string{"13"}, Location: hunt.QuestLocation{Lat: park.Lat, Lng: park.Lng, Radius: 40}},
	} {
		q.Sequence = i + 1
		f.put(t, hunt.CollectionQuests, q.ID, q)
	}
}

func (f *fixture) team(t *testing.T, id string) *hunt.Team {
	t.Helper()
	team, err := loadTeam(context.Background(), f.store, id)
	if err != nil {
		t.Fatalf("loading team %s: %v", id, err)
	}
	return team
}

func (f *fixture) user(t *testing.T, id string) *hunt.User {
	t.Helper()
	user, err := loadUser(context.Background(), f.store, id)
	if err != nil {
		t.Fatalf("loading user %s: %v", id, err)
	}
	return user
}

// give makes user own item as if bought, without charging.
func (f *fixture) give(t *testing.T, userID, itemID string) {
	t.Helper()
	ctx := context.Background()
	u, err := mutateUser(ctx, f.store, userID, func(u *hunt.User) error {
		if u.Inventory == nil {
			u.Inventory = make(map[string]bool)
		}
		u.Inventory[itemID] = true
		return nil
	})
	if err != nil {
		t.Fatalf("giving %s to %s: %v", itemID, userID, err)
	}
	if _, err := mutateTeam(ctx, f.store, u.TeamID, func(tm *hunt.Team) error {
		if tm.Inventory == nil {
			tm.Inventory = make(map[string]int)
		}
		tm.Inventory[itemID]++
		return nil
	}); err != nil {
		t.Fatalf("counting %s for team: %v", itemID, err)
	}
}

func ptr[T any](v T) *T { return &v }

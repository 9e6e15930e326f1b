package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/playperu/questhunt/internal/hunt"
)

var (
	compassItem  = hunt.Item{ID: "compass", Name: "Compass", Type: hunt.ItemCompass, Price: 30, Duration: 10}
	curseItem    = hunt.Item{ID: "curse", Name: "Curse", Type: hunt.ItemCurse, Price: 40, Duration: 15, CoolDownPeriod: 30}
	robberyItem  = hunt.Item{ID: "robbery", Name: "Robbery", Type: hunt.ItemRobbery, Price: 25, Duration: 5, StealAmount: 60}
	immunityItem = hunt.Item{ID: "immunity", Name: "Shield", Type: hunt.ItemImmunity, Price: 35, Duration: 20}
	mysteryItem  = hunt.Item{ID: "mystery", Name: "Mystery box", Type: "teleport", Price: 10, Duration: 5}
)

func (f *fixture) addShop(t *testing.T) {
	t.Helper()
	for _, item := range []hunt.Item{compassItem, curseItem, robberyItem, immunityItem, mysteryItem} {
		f.addItem(t, item)
	}
}

func TestPurchase(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addShop(t)
	f.addTeam(t, "red", 50)
	f.addUser(t, "ana", "red")
	f.addUser(t, "ben", "red")

	p, err := f.items.Purchase(ctx, "ana", "compass")
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if p.Currency != 20 {
		t.Fatalf("expected 20 left, got %d", p.Currency)
	}
	if !f.user(t, "ana").Inventory["compass"] {
		t.Fatal("expected compass owned by ana")
	}
	if got := f.team(t, "red").Inventory["compass"]; got != 1 {
		t.Fatalf("expected team to hold 1 compass, got %d", got)
	}

	if _, err := f.items.Purchase(ctx, "ana", "compass"); !errors.Is(err, hunt.ErrItemAlreadyOwned) {
		t.Fatalf("expected ItemAlreadyOwned, got %v", err)
	}
	if _, err := f.items.Purchase(ctx, "ben", "curse"); !errors.Is(err, hunt.ErrInsufficientFunds) {
		t.Fatalf("expected InsufficientFunds, got %v", err)
	}
	if got := f.team(t, "red").Currency; got != 20 {
		t.Fatalf("expected currency unchanged at 20, got %d", got)
	}
}

func TestAtMostOneActiveItem(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addQuests(t)
	f.addShop(t)
	f.addTeam(t, "red", 0)
	f.addTeam(t, "blue", 0)
	f.addUser(t, "ana", "red")
	f.give(t, "ana", "compass")
	f.give(t, "ana", "curse")

	act, err := f.items.Activate(ctx, "ana", "compass")
	if err != nil {
		t.Fatalf("activate compass: %v", err)
	}
	if act.Outcome != OutcomeTracking || !act.ExpiresAt.Equal(t0.Add(10*time.Minute)) {
		t.Fatalf("unexpected activation %+v", act)
	}

	if _, err := f.items.Activate(ctx, "ana", "curse"); !errors.Is(err, hunt.ErrItemAlreadyActive) {
		t.Fatalf("expected ItemAlreadyActive, got %v", err)
	}

	f.clock.Advance(10 * time.Minute)
	act, err = f.items.Activate(ctx, "ana", "curse")
	if err != nil {
		t.Fatalf("activate curse after compass expired: %v", err)
	}
	if act.Outcome != OutcomeChooseTarget || len(act.Targets) != 1 || act.Targets[0].TeamID != "blue" {
		t.Fatalf("expected blue as only target, got %+v", act)
	}

	ana := f.user(t, "ana")
	if ana.Inventory["compass"] {
		t.Fatal("expected expired compass to be consumed")
	}
	if ana.ActiveItem == nil || ana.ActiveItem.ItemID != "curse" {
		t.Fatalf("expected curse active, got %+v", ana.ActiveItem)
	}
	if got := f.team(t, "red").Inventory["compass"]; got != 0 {
		t.Fatalf("expected team compass count 0, got %d", got)
	}
}

func TestActivateRequiresOwnership(t *testing.T) {
	f := newFixture(t)
	f.addShop(t)
	f.addTeam(t, "red", 0)
	f.addUser(t, "ana", "red")

	if _, err := f.items.Activate(context.Background(), "ana", "curse"); !errors.Is(err, hunt.ErrItemNotOwned) {
		t.Fatalf("expected ItemNotOwned, got %v", err)
	}
}

func TestCurseWithNoEligibleTargetRefunds(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addShop(t)
	f.addTeam(t, "red", 0)
	f.addUser(t, "ana", "red")
	if _, err := mutateTeam(ctx, f.store, "red", func(tm *hunt.Team) error {
		tm.Currency = 40
		return nil
	}); err != nil {
		t.Fatalf("funding: %v", err)
	}
	if _, err := f.items.Purchase(ctx, "ana", "curse"); err != nil {
		t.Fatalf("purchase: %v", err)
	}

	act, err := f.items.Activate(ctx, "ana", "curse")
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if act.Outcome != OutcomeRefunded || act.Refunded != 40 {
		t.Fatalf("expected refund of 40, got %+v", act)
	}

	team := f.team(t, "red")
	if team.Currency != 40 {
		t.Fatalf("expected price back, got currency %d", team.Currency)
	}
	if team.CursedUntil != nil {
		t.Fatalf("expected no curse written, got %v", team.CursedUntil)
	}
	ana := f.user(t, "ana")
	if ana.Inventory["curse"] || ana.ActiveItem != nil {
		t.Fatalf("expected curse consumed, got inventory %v active %+v", ana.Inventory, ana.ActiveItem)
	}
}

func TestCurseApplies(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addShop(t)
	f.addTeam(t, "red", 0)
	f.addTeam(t, "blue", 0)
	f.put(t, hunt.CollectionTeams, "green", hunt.Team{ID: "green", Name: "Green", ImmuneUntil: ptr(t0.Add(time.Hour))})
	f.addUser(t, "ana", "red")
	f.give(t, "ana", "curse")

	act, err := f.items.Activate(ctx, "ana", "curse")
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if len(act.Targets) != 1 || act.Targets[0].TeamID != "blue" {
		t.Fatalf("expected only blue eligible, got %+v", act.Targets)
	}

	if _, err := f.items.SelectTarget(ctx, "ana", "red"); !errors.Is(err, hunt.ErrInvalidTarget) {
		t.Fatalf("expected InvalidTarget for own team, got %v", err)
	}
	if _, err := f.items.SelectTarget(ctx, "ana", "green"); !errors.Is(err, hunt.ErrTargetNoLongerEligible) {
		t.Fatalf("expected TargetNoLongerEligible for immune team, got %v", err)
	}

	f.clock.Advance(time.Minute)
	res, err := f.items.SelectTarget(ctx, "ana", "blue")
	if err != nil {
		t.Fatalf("select target: %v", err)
	}
	now := t0.Add(time.Minute)
	if !res.CursedUntil.Equal(now.Add(15*time.Minute)) || !res.ImmuneUntil.Equal(now.Add(45*time.Minute)) {
		t.Fatalf("unexpected windows %+v", res)
	}

	blue := f.team(t, "blue")
	if blue.CursedBy != "red" {
		t.Fatalf("expected cursed by red, got %q", blue.CursedBy)
	}
	if s := EffectiveStatus(blue, now); s.Condition != ConditionCursed {
		t.Fatalf("expected blue cursed, got %s", s.Condition)
	}
	ana := f.user(t, "ana")
	if ana.ActiveItem != nil || ana.Inventory["curse"] {
		t.Fatalf("expected curse consumed, got %+v", ana)
	}
	if _, err := f.items.SelectTarget(ctx, "ana", "blue"); !errors.Is(err, hunt.ErrNoActiveItem) {
		t.Fatalf("expected NoActiveItem after resolution, got %v", err)
	}
}

func TestCurseTargetBecameIneligible(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addShop(t)
	f.addTeam(t, "red", 0)
	f.addTeam(t, "blue", 0)
	f.addUser(t, "ana", "red")
	f.give(t, "ana", "curse")

	if _, err := f.items.Activate(ctx, "ana", "curse"); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if err := f.store.Update(ctx, hunt.CollectionTeams, "blue", map[string]any{
		"immuneUntil": t0.Add(time.Hour),
	}); err != nil {
		t.Fatalf("making blue immune: %v", err)
	}

	if _, err := f.items.SelectTarget(ctx, "ana", "blue"); !errors.Is(err, hunt.ErrTargetNoLongerEligible) {
		t.Fatalf("expected TargetNoLongerEligible, got %v", err)
	}
	if a := f.user(t, "ana").ActiveItem; a == nil || a.ItemID != "curse" {
		t.Fatalf("expected curse still active for another pick, got %+v", a)
	}
}

func TestRobberyConservesBalance(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addShop(t)
	f.addTeam(t, "red", 10)
	f.addTeam(t, "blue", 100)
	f.addTeam(t, "poor", 59)
	f.addUser(t, "ana", "red")
	f.give(t, "ana", "robbery")

	act, err := f.items.Activate(ctx, "ana", "robbery")
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if len(act.Targets) != 1 || act.Targets[0].TeamID != "blue" {
		t.Fatalf("expected only blue robbable, got %+v", act.Targets)
	}

	res, err := f.items.SelectTarget(ctx, "ana", "blue")
	if err != nil {
		t.Fatalf("select target: %v", err)
	}
	if res.Amount != 60 {
		t.Fatalf("expected 60 stolen, got %d", res.Amount)
	}
	if got := f.team(t, "blue").Currency; got != 40 {
		t.Fatalf("expected blue at 40, got %d", got)
	}
	if got := f.team(t, "red").Currency; got != 70 {
		t.Fatalf("expected red at 70, got %d", got)
	}
	if f.user(t, "ana").Inventory["robbery"] {
		t.Fatal("expected robbery consumed")
	}
}

func TestRobberyRechecksBalance(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addShop(t)
	f.addTeam(t, "red", 0)
	f.addTeam(t, "blue", 100)
	f.addUser(t, "ana", "red")
	f.give(t, "ana", "robbery")

	if _, err := f.items.Activate(ctx, "ana", "robbery"); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if err := f.store.Update(ctx, hunt.CollectionTeams, "blue", map[string]any{"currency": 10}); err != nil {
		t.Fatalf("spending: %v", err)
	}
	if _, err := f.items.SelectTarget(ctx, "ana", "blue"); !errors.Is(err, hunt.ErrTargetNoLongerEligible) {
		t.Fatalf("expected TargetNoLongerEligible, got %v", err)
	}
	if got := f.team(t, "blue").Currency; got != 10 {
		t.Fatalf("expected blue untouched, got %d", got)
	}
}

func TestRobberySkipsImmuneTeams(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addShop(t)
	f.addTeam(t, "red", 0)
	f.put(t, hunt.CollectionTeams, "blue", hunt.Team{ID: "blue", Name: "Blue", Currency: 500, ImmuneUntil: ptr(t0.Add(time.Minute))})
	f.addUser(t, "ana", "red")
	f.give(t, "ana", "robbery")

	act, err := f.items.Activate(ctx, "ana", "robbery")
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if act.Outcome != OutcomeRefunded {
		t.Fatalf("expected refund with only an immune team around, got %+v", act)
	}
	if got := f.team(t, "red").Currency; got != robberyItem.Price {
		t.Fatalf("expected refund of %d, got %d", robberyItem.Price, got)
	}
}

func TestImmunity(t *testing.T) {
	ctx := context.Background()

	t.Run("applies", func(t *testing.T) {
		f := newFixture(t)
		f.addShop(t)
		f.addTeam(t, "red", 0)
		f.addUser(t, "ana", "red")
		f.give(t, "ana", "immunity")

		act, err := f.items.Activate(ctx, "ana", "immunity")
		if err != nil {
			t.Fatalf("activate: %v", err)
		}
		if act.Outcome != OutcomeApplied || !act.ImmuneUntil.Equal(t0.Add(20*time.Minute)) {
			t.Fatalf("unexpected activation %+v", act)
		}
		if s := EffectiveStatus(f.team(t, "red"), t0); s.Condition != ConditionImmune {
			t.Fatalf("expected immune, got %s", s.Condition)
		}
		if f.user(t, "ana").Inventory["immunity"] {
			t.Fatal("expected immunity consumed")
		}
	})

	t.Run("refunds when cursed", func(t *testing.T) {
		f := newFixture(t)
		f.addShop(t)
		f.put(t, hunt.CollectionTeams, "red", hunt.Team{ID: "red", Name: "Red", CursedUntil: ptr(t0.Add(time.Minute))})
		f.addUser(t, "ana", "red")
		f.give(t, "ana", "immunity")

		act, err := f.items.Activate(ctx, "ana", "immunity")
		if err != nil {
			t.Fatalf("activate: %v", err)
		}
		if act.Outcome != OutcomeRefunded || act.Refunded != immunityItem.Price {
			t.Fatalf("expected refund, got %+v", act)
		}
		team := f.team(t, "red")
		if team.ImmuneUntil != nil || team.Currency != immunityItem.Price {
			t.Fatalf("expected only a refund, got %+v", team)
		}
	})

	t.Run("refunds when already immune", func(t *testing.T) {
		f := newFixture(t)
		f.addShop(t)
		until := t0.Add(time.Minute)
		f.put(t, hunt.CollectionTeams, "red", hunt.Team{ID: "red", Name: "Red", ImmuneUntil: &until})
		f.addUser(t, "ana", "red")
		f.give(t, "ana", "immunity")

		act, err := f.items.Activate(ctx, "ana", "immunity")
		if err != nil {
			t.Fatalf("activate: %v", err)
		}
		if act.Outcome != OutcomeRefunded || act.Refunded != immunityItem.Price {
			t.Fatalf("expected refund, got %+v", act)
		}
		team := f.team(t, "red")
		if team.ImmuneUntil == nil || !team.ImmuneUntil.Equal(until) {
			t.Fatalf("expected immunity window unchanged at %v, got %v", until, team.ImmuneUntil)
		}
		if team.Currency != immunityItem.Price || team.Inventory["immunity"] != 0 {
			t.Fatalf("expected price back and item gone, got %+v", team)
		}
		if f.user(t, "ana").Inventory["immunity"] {
			t.Fatal("expected immunity consumed")
		}
	})
}

func TestArrivalRadius(t *testing.T) {
	e := &ItemEngine{tolerance: 5}
	tests := []struct {
		radius float64
		want   float64
	}{
		{30, 25},
		{5.5, 0.5},
		{5, 5},
		{3, 3},
	}
	for _, tt := range tests {
		if got := e.arrivalRadius(tt.radius); got != tt.want {
			t.Fatalf("radius %v: expected %v, got %v", tt.radius, tt.want, got)
		}
	}
}

func TestUnknownItemTypeIsConfigurationError(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addShop(t)
	f.addTeam(t, "red", 0)
	f.addUser(t, "ana", "red")
	f.give(t, "ana", "mystery")

	before, _ := f.store.Get(ctx, hunt.CollectionUsers, "ana")
	if _, err := f.items.Activate(ctx, "ana", "mystery"); !errors.Is(err, hunt.ErrConfigurationError) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
	after, _ := f.store.Get(ctx, hunt.CollectionUsers, "ana")
	if after.Version != before.Version {
		t.Fatal("expected no write for misconfigured item")
	}
}

func TestCompass(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addQuests(t)
	f.addShop(t)
	f.addTeam(t, "red", 0)
	f.addUser(t, "ana", "red")
	f.give(t, "ana", "compass")

	if _, err := f.items.ReadCompass(ctx, "ana", park); !errors.Is(err, hunt.ErrNoActiveItem) {
		t.Fatalf("expected NoActiveItem before activation, got %v", err)
	}
	if _, err := f.items.Activate(ctx, "ana", "compass"); err != nil {
		t.Fatalf("activate: %v", err)
	}

	r, err := f.items.ReadCompass(ctx, "ana", park)
	if err != nil {
		t.Fatalf("read compass: %v", err)
	}
	if r.Arrived || r.Distance < 1000 {
		t.Fatalf("expected far from plaza, got %+v", r)
	}
	if r.Bearing < 270 || r.Bearing > 360 {
		t.Fatalf("expected plaza north-west of the park, got bearing %.1f", r.Bearing)
	}

	// 27m from the center of a 30m fence is inside the fence but not the arrival radius.
	edge := hunt.LatLng{Lat: plaza.Lat + 27.0/111195, Lng: plaza.Lng}
	if r, err = f.items.ReadCompass(ctx, "ana", edge); err != nil || r.Arrived {
		t.Fatalf("expected no arrival at 27m, got %+v (%v)", r, err)
	}

	r, err = f.items.ReadCompass(ctx, "ana", plaza)
	if err != nil {
		t.Fatalf("read compass: %v", err)
	}
	if !r.Arrived {
		t.Fatalf("expected arrival at plaza, got %+v", r)
	}
	ana := f.user(t, "ana")
	if ana.ActiveItem != nil || ana.Inventory["compass"] {
		t.Fatalf("expected compass consumed on arrival, got %+v", ana)
	}
}

func TestCompassUnavailableDuringQuest(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addQuests(t)
	f.addShop(t)
	f.put(t, hunt.CollectionTeams, "red", hunt.Team{ID: "red", Name: "Red", Progress: hunt.Progress{CurrentQuest: "q1"}})
	f.addUser(t, "ana", "red")
	f.give(t, "ana", "compass")

	if _, err := f.items.Activate(ctx, "ana", "compass"); !errors.Is(err, hunt.ErrCompassUnavailable) {
		t.Fatalf("expected CompassUnavailable, got %v", err)
	}
	if !f.user(t, "ana").Inventory["compass"] {
		t.Fatal("expected compass kept when unavailable")
	}
}

func TestExpiredItemGrantsNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addShop(t)
	f.addTeam(t, "red", 0)
	f.addTeam(t, "blue", 0)
	f.addUser(t, "ana", "red")
	f.give(t, "ana", "curse")

	if _, err := f.items.Activate(ctx, "ana", "curse"); err != nil {
		t.Fatalf("activate: %v", err)
	}
	f.clock.Advance(15 * time.Minute)

	if _, err := f.items.SelectTarget(ctx, "ana", "blue"); !errors.Is(err, hunt.ErrItemExpired) {
		t.Fatalf("expected ItemExpired, got %v", err)
	}
	if f.team(t, "blue").CursedUntil != nil {
		t.Fatal("expected expired curse to have no effect")
	}
	if f.user(t, "ana").Inventory["curse"] {
		t.Fatal("expected expired curse consumed")
	}
	if _, err := f.items.SelectTarget(ctx, "ana", "blue"); !errors.Is(err, hunt.ErrNoActiveItem) {
		t.Fatalf("expected NoActiveItem on second try, got %v", err)
	}
}

func TestHoldings(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addShop(t)
	f.addTeam(t, "red", 0)
	f.addUser(t, "ana", "red")
	f.give(t, "ana", "curse")
	f.give(t, "ana", "immunity")

	h, err := f.items.Holdings(ctx, "ana")
	if err != nil {
		t.Fatalf("holdings: %v", err)
	}
	if len(h.Items) != 2 || h.ActiveItem != nil {
		t.Fatalf("expected two idle items, got %+v", h)
	}
}

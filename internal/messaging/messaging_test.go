package messaging

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/playperu/questhunt/internal/database"
	"github.com/playperu/questhunt/internal/docstore"
	"github.com/playperu/questhunt/internal/hunt"
	"github.com/playperu/questhunt/internal/migrations"
	"github.com/playperu/questhunt/internal/pubsub"
)

func newTestTracker(t *testing.T) (*Tracker, *docstore.Store) {
	t.Helper()
	db, err := database.Open(context.Background(), database.DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := migrations.Run(db); err != nil {
		t.Fatalf("running migrations: %v", err)
	}
	store := docstore.New(db, pubsub.NewFeed())
	for _, id := range []string{"red", "blue"} {
		if err := store.Set(context.Background(), hunt.CollectionTeams, id, hunt.Team{ID: id, Name: id}); err != nil {
			t.Fatalf("seeding team: %v", err)
		}
	}
	return New(store, slog.New(slog.DiscardHandler)), store
}

func unreadForAdmin(t *testing.T, tr *Tracker, teamID string) int {
	t.Helper()
	n, err := tr.UnreadForAdmin(context.Background(), teamID)
	if err != nil {
		t.Fatalf("unread count: %v", err)
	}
	return n
}

func TestUnreadCountLifecycle(t *testing.T) {
	ctx := context.Background()
	tr, _ := newTestTracker(t)

	for _, text := range []string{"hello", "are you there?", "we are stuck"} {
		if _, err := tr.Send(ctx, "red", hunt.AdminParty, text); err != nil {
			t.Fatalf("send: %v", err)
		}
	}
	if n := unreadForAdmin(t, tr, "red"); n != 3 {
		t.Fatalf("expected 3 unread, got %d", n)
	}

	closeConv, err := tr.Open(ctx, hunt.AdminParty, "red", func([]*hunt.Message) {})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if n := unreadForAdmin(t, tr, "red"); n != 0 {
		t.Fatalf("expected 0 unread after opening, got %d", n)
	}
	closeConv()

	if _, err := tr.Send(ctx, "red", hunt.AdminParty, "hello again"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if n := unreadForAdmin(t, tr, "red"); n != 1 {
		t.Fatalf("expected 1 unread, got %d", n)
	}
}

func TestSenderFlagSetAtWrite(t *testing.T) {
	ctx := context.Background()
	tr, _ := newTestTracker(t)

	fromTeam, err := tr.Send(ctx, "red", hunt.AdminParty, "hi")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if !fromTeam.ReadByTeam || fromTeam.ReadByAdmin {
		t.Fatalf("expected read by team only, got %+v", fromTeam)
	}

	fromAdmin, err := tr.Send(ctx, hunt.AdminParty, "red", "hello")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if fromAdmin.ReadByTeam || !fromAdmin.ReadByAdmin {
		t.Fatalf("expected read by admin only, got %+v", fromAdmin)
	}
	if fromAdmin.Thread != "red" {
		t.Fatalf("expected thread red, got %q", fromAdmin.Thread)
	}

	has, err := tr.TeamHasUnread(ctx, "red")
	if err != nil || !has {
		t.Fatalf("expected red to have unread, got %v (%v)", has, err)
	}
	if n := unreadForAdmin(t, tr, "red"); n != 1 {
		t.Fatalf("expected admin's own message not counted, got %d", n)
	}
}

func TestSendValidation(t *testing.T) {
	ctx := context.Background()
	tr, _ := newTestTracker(t)

	if _, err := tr.Send(ctx, "red", "blue", "psst"); !errors.Is(err, hunt.ErrInvalidTarget) {
		t.Fatalf("expected InvalidTarget between teams, got %v", err)
	}
	if _, err := tr.Send(ctx, "red", hunt.AdminParty, "   "); hunt.CodeOf(err) != hunt.CodeMalformedDocument {
		t.Fatalf("expected empty text rejected, got %v", err)
	}
	if _, err := tr.Send(ctx, hunt.AdminParty, "ghost", "hi"); !errors.Is(err, hunt.ErrNotFound) {
		t.Fatalf("expected NotFound for unknown team, got %v", err)
	}
}

func TestOpenMarksNewArrivals(t *testing.T) {
	ctx := context.Background()
	tr, _ := newTestTracker(t)

	if _, err := tr.Send(ctx, hunt.AdminParty, "red", "welcome"); err != nil {
		t.Fatalf("send: %v", err)
	}

	updates := make(chan []*hunt.Message, 16)
	closeConv, err := tr.Open(ctx, "red", "red", func(msgs []*hunt.Message) { updates <- msgs })
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer closeConv()

	if has, _ := tr.TeamHasUnread(ctx, "red"); has {
		t.Fatal("expected welcome marked read on open")
	}

	if _, err := tr.Send(ctx, hunt.AdminParty, "red", "hint: look up"); err != nil {
		t.Fatalf("send: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case msgs := <-updates:
			if len(msgs) == 2 && msgs[1].Text == "hint: look up" && msgs[1].ReadByTeam {
				if has, _ := tr.TeamHasUnread(ctx, "red"); has {
					t.Fatal("expected new arrival marked read while open")
				}
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for the new message")
		}
	}
}

func TestOpenRejectsOtherTeams(t *testing.T) {
	tr, _ := newTestTracker(t)
	_, err := tr.Open(context.Background(), "blue", "red", func([]*hunt.Message) {})
	if !errors.Is(err, hunt.ErrInvalidTarget) {
		t.Fatalf("expected InvalidTarget, got %v", err)
	}
}

func TestUnreadByTeamAndConversationOrder(t *testing.T) {
	ctx := context.Background()
	tr, _ := newTestTracker(t)

	for _, m := range []struct{ from, to, text string }{
		{"red", hunt.AdminParty, "one"},
		{hunt.AdminParty, "red", "two"},
		{"blue", hunt.AdminParty, "three"},
		{"red", hunt.AdminParty, "four"},
	} {
		if _, err := tr.Send(ctx, m.from, m.to, m.text); err != nil {
			t.Fatalf("send: %v", err)
		}
	}

	counts, err := tr.UnreadByTeam(ctx)
	if err != nil {
		t.Fatalf("unread by team: %v", err)
	}
	if counts["red"] != 2 || counts["blue"] != 1 {
		t.Fatalf("expected red=2 blue=1, got %v", counts)
	}

	conv, err := tr.Conversation(ctx, "red")
	if err != nil {
		t.Fatalf("conversation: %v", err)
	}
	var texts []string
	for _, m := range conv {
		texts = append(texts, m.Text)
	}
	if len(texts) != 3 || texts[0] != "one" || texts[1] != "two" || texts[2] != "four" {
		t.Fatalf("expected one, two, four, got %v", texts)
	}
}

package server

import (
	"net/http"
	"testing"

	"github.com/playperu/questhunt/internal/hunt"
)

func TestMessagingReadState(t *testing.T) {
	e := newTestEnv(t)
	e.addTeam(t, "red", 0)
	e.addTeam(t, "blue", 0)
	token := e.addPlayer(t, "ana", "red")

	for _, text := range []string{"we are lost", "hello?", "found it"} {
		w := e.do(t, http.MethodPost, "/api/messages", token, SendMessageRequest{Text: text})
		expectStatus(t, w, http.StatusCreated)
	}
	expectCode(t, e.do(t, http.MethodPost, "/api/messages", token, SendMessageRequest{Text: "  "}),
		http.StatusUnprocessableEntity, hunt.CodeMalformedDocument)

	w := e.admin(t, http.MethodGet, "/api/admin/messages", nil)
	expectStatus(t, w, http.StatusOK)
	if counts := decode[map[string]int](t, w); counts["red"] != 3 || len(counts) != 1 {
		t.Fatalf("expected 3 unread from red only, got %v", counts)
	}

	w = e.admin(t, http.MethodGet, "/api/admin/messages/red", nil)
	expectStatus(t, w, http.StatusOK)
	if msgs := decode[[]hunt.Message](t, w); len(msgs) != 3 || msgs[0].Text != "we are lost" {
		t.Fatalf("expected the conversation in order, got %+v", msgs)
	}

	w = e.admin(t, http.MethodGet, "/api/admin/messages", nil)
	if counts := decode[map[string]int](t, w); len(counts) != 0 {
		t.Fatalf("expected nothing unread after opening, got %v", counts)
	}

	w = e.admin(t, http.MethodPost, "/api/admin/messages/red", SendMessageRequest{Text: "keep going"})
	expectStatus(t, w, http.StatusCreated)
	expectCode(t, e.admin(t, http.MethodPost, "/api/admin/messages/ghost", SendMessageRequest{Text: "hi"}),
		http.StatusNotFound, hunt.CodeNotFound)

	w = e.admin(t, http.MethodGet, "/api/admin/messages", nil)
	if counts := decode[map[string]int](t, w); len(counts) != 0 {
		t.Fatalf("expected organizer's own message not to count, got %v", counts)
	}

	w = e.do(t, http.MethodGet, "/api/messages/unread", token, nil)
	expectStatus(t, w, http.StatusOK)
	if u := decode[UnreadResponse](t, w); !u.HasUnread || u.Count != 1 {
		t.Fatalf("expected one unread for red, got %+v", u)
	}

	w = e.do(t, http.MethodGet, "/api/messages", token, nil)
	expectStatus(t, w, http.StatusOK)
	if msgs := decode[[]hunt.Message](t, w); len(msgs) != 4 || msgs[3].From != hunt.AdminParty {
		t.Fatalf("expected 4 messages ending with the organizer's, got %+v", msgs)
	}

	w = e.do(t, http.MethodGet, "/api/messages/unread", token, nil)
	if u := decode[UnreadResponse](t, w); u.HasUnread {
		t.Fatalf("expected nothing unread after reading, got %+v", u)
	}
}

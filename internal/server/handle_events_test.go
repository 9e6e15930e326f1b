package server

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestEventsStream(t *testing.T) {
	e := newTestEnv(t)
	e.addTeam(t, "red", 0)
	token := e.addPlayer(t, "ana", "red")

	srv := httptest.NewServer(e.srv.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/game/events?token="+token, nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("connecting: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Content-Type"); got != "text/event-stream" {
		t.Fatalf("expected text/event-stream, got %q", got)
	}

	// Headers arrive after the handler subscribed.
	e.srv.Broker().Publish("blue", Event{Type: EventCursed})
	e.srv.Broker().Publish("red", Event{Type: EventQuestActivated, QuestID: "q1"})

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		if data != `{"type":"quest_activated","questId":"q1"}` {
			t.Fatalf("unexpected event %s", data)
		}
		return
	}
	t.Fatalf("stream ended without an event: %v", scanner.Err())
}

func TestEventsStreamRequiresToken(t *testing.T) {
	e := newTestEnv(t)
	expectStatus(t, e.do(t, http.MethodGet, "/api/game/events", "", nil), http.StatusUnauthorized)
}

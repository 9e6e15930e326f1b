package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/playperu/questhunt/internal/hunt"
	"github.com/playperu/questhunt/internal/messaging"
)

type SendMessageRequest struct {
	Text string `json:"text"`
}

type UnreadResponse struct {
	HasUnread bool `json:"hasUnread"`
	Count     int  `json:"count"`
}

// readConversation opens the conversation for viewer, which marks it read,
// waits for the first snapshot and closes it again.
func readConversation(ctx context.Context, msgs *messaging.Tracker, viewer, teamID string) ([]*hunt.Message, error) {
	first := make(chan []*hunt.Message, 1)
	closeConversation, err := msgs.Open(ctx, viewer, teamID, func(m []*hunt.Message) {
		select {
		case first <- m:
		default:
		}
	})
	if err != nil {
		return nil, err
	}
	defer closeConversation()

	select {
	case m := <-first:
		return m, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// streamConversation keeps the conversation open for the life of the
// request and pushes it as an SSE event after every change.
func streamConversation(w http.ResponseWriter, r *http.Request, logger *slog.Logger, msgs *messaging.Tracker, viewer, teamID string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	updates := make(chan []*hunt.Message, 1)
	closeConversation, err := msgs.Open(r.Context(), viewer, teamID, func(m []*hunt.Message) {
		// Keep only the newest snapshot.
		select {
		case <-updates:
		default:
		}
		updates <- m
	})
	if err != nil {
		writeDomainError(w, logger, err)
		return
	}
	defer closeConversation()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	flusher.Flush()

	ping := time.NewTicker(30 * time.Second)
	defer ping.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case m := <-updates:
			data, _ := json.Marshal(nonNil(m))
			fmt.Fprintf(w, "event: messages\ndata: %s\n\n", data)
			flusher.Flush()
		case <-ping.C:
			fmt.Fprintf(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}

func nonNil(m []*hunt.Message) []*hunt.Message {
	if m == nil {
		return []*hunt.Message{}
	}
	return m
}

func handleListMessages(logger *slog.Logger, msgs *messaging.Tracker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		teamID := currentUser(r).TeamID
		m, err := readConversation(r.Context(), msgs, teamID, teamID)
		if err != nil {
			writeDomainError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, nonNil(m))
	}
}

func handleMessageStream(logger *slog.Logger, msgs *messaging.Tracker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		teamID := currentUser(r).TeamID
		streamConversation(w, r, logger, msgs, teamID, teamID)
	}
}

func handleSendMessage(logger *slog.Logger, msgs *messaging.Tracker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SendMessageRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		m, err := msgs.Send(r.Context(), currentUser(r).TeamID, hunt.AdminParty, req.Text)
		if err != nil {
			writeDomainError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusCreated, m)
	}
}

func handleUnread(logger *slog.Logger, msgs *messaging.Tracker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := msgs.UnreadForTeam(r.Context(), currentUser(r).TeamID)
		if err != nil {
			writeDomainError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, UnreadResponse{HasUnread: n > 0, Count: n})
	}
}

func handleAdminUnreadByTeam(logger *slog.Logger, msgs *messaging.Tracker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		counts, err := msgs.UnreadByTeam(r.Context())
		if err != nil {
			writeDomainError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, counts)
	}
}

func handleAdminConversation(logger *slog.Logger, msgs *messaging.Tracker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m, err := readConversation(r.Context(), msgs, hunt.AdminParty, chi.URLParam(r, "teamID"))
		if err != nil {
			writeDomainError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, nonNil(m))
	}
}

func handleAdminConversationStream(logger *slog.Logger, msgs *messaging.Tracker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		streamConversation(w, r, logger, msgs, hunt.AdminParty, chi.URLParam(r, "teamID"))
	}
}

func handleAdminSendMessage(logger *slog.Logger, msgs *messaging.Tracker, broker *Broker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SendMessageRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		teamID := chi.URLParam(r, "teamID")
		m, err := msgs.Send(r.Context(), hunt.AdminParty, teamID, req.Text)
		if err != nil {
			writeDomainError(w, logger, err)
			return
		}

		broker.Publish(teamID, Event{Type: EventMessage})
		writeJSON(w, http.StatusCreated, m)
	}
}

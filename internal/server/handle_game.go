package server

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/playperu/questhunt/internal/engine"
	"github.com/playperu/questhunt/internal/hunt"
)

type ScanRequest struct {
	QuestID string `json:"questId"`
}

type AnswerRequest struct {
	Answer string `json:"answer"`
}

type ClueResponse struct {
	Clue  string `json:"clue"`
	Price int    `json:"price"`
}

type LocationRequest struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

func (l LocationRequest) LatLng() hunt.LatLng { return hunt.LatLng{Lat: l.Lat, Lng: l.Lng} }

func handleGameState(logger *slog.Logger, quests *engine.QuestEngine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state, err := quests.State(r.Context(), currentUser(r).TeamID)
		if err != nil {
			writeDomainError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, state)
	}
}

func handleScan(logger *slog.Logger, quests *engine.QuestEngine, broker *Broker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ScanRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.QuestID == "" {
			writeError(w, http.StatusBadRequest, "questId is required")
			return
		}

		teamID := currentUser(r).TeamID
		quest, err := quests.Scan(r.Context(), teamID, req.QuestID)
		if err != nil {
			writeDomainError(w, logger, err)
			return
		}

		broker.Publish(teamID, Event{Type: EventQuestActivated, QuestID: quest.ID})
		writeJSON(w, http.StatusOK, quest)
	}
}

func handleAnswer(logger *slog.Logger, quests *engine.QuestEngine, broker *Broker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req AnswerRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		req.Answer = strings.TrimSpace(req.Answer)
		if req.Answer == "" {
			writeError(w, http.StatusBadRequest, "answer is required")
			return
		}

		teamID := currentUser(r).TeamID
		res, err := quests.SubmitAnswer(r.Context(), teamID, req.Answer)
		if err != nil {
			writeDomainError(w, logger, err)
			return
		}

		broker.Publish(teamID, Event{Type: EventQuestSolved, QuestID: res.QuestID})
		writeJSON(w, http.StatusOK, res)
	}
}

func handleBuyClue(logger *slog.Logger, quests *engine.QuestEngine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clue, err := quests.BuyClue(r.Context(), currentUser(r).TeamID)
		if err != nil {
			writeDomainError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, ClueResponse{Clue: clue, Price: quests.ClueCost()})
	}
}

func handleLeaderboard(logger *slog.Logger, quests *engine.QuestEngine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		standings, err := quests.Leaderboard(r.Context())
		if err != nil {
			writeDomainError(w, logger, err)
			return
		}
		if standings == nil {
			standings = []engine.Standing{}
		}
		writeJSON(w, http.StatusOK, standings)
	}
}

func handleLocation(logger *slog.Logger, tracker *engine.Tracker, broker *Broker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req LocationRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		user := currentUser(r)
		res, err := tracker.Record(r.Context(), user.ID, req.LatLng())
		if err != nil {
			writeDomainError(w, logger, err)
			return
		}

		publishFence(broker, user.TeamID, res)
		writeJSON(w, http.StatusOK, res)
	}
}

func publishFence(broker *Broker, teamID string, res *engine.FenceResult) {
	switch res.Event {
	case engine.FenceActivated:
		broker.Publish(teamID, Event{Type: EventQuestActivated, QuestID: res.QuestID})
	case engine.FenceDeactivated:
		broker.Publish(teamID, Event{Type: EventQuestDeactivated, QuestID: res.QuestID})
	}
}

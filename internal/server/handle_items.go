package server

import (
	"log/slog"
	"net/http"

	"github.com/playperu/questhunt/internal/engine"
	"github.com/playperu/questhunt/internal/hunt"
)

type ItemRequest struct {
	ItemID string `json:"itemId"`
}

type TargetRequest struct {
	TeamID string `json:"teamId"`
}

func handleShopItems(logger *slog.Logger, items *engine.ItemEngine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := items.ListItems(r.Context())
		if err != nil {
			writeDomainError(w, logger, err)
			return
		}
		if list == nil {
			list = []*hunt.Item{}
		}
		writeJSON(w, http.StatusOK, list)
	}
}

func handlePurchase(logger *slog.Logger, items *engine.ItemEngine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ItemRequest
		if err := readJSON(r, &req); err != nil || req.ItemID == "" {
			writeError(w, http.StatusBadRequest, "itemId is required")
			return
		}

		p, err := items.Purchase(r.Context(), currentUser(r).ID, req.ItemID)
		if err != nil {
			writeDomainError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

func handleHoldings(logger *slog.Logger, items *engine.ItemEngine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h, err := items.Holdings(r.Context(), currentUser(r).ID)
		if err != nil {
			writeDomainError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, h)
	}
}

func handleActivate(logger *slog.Logger, items *engine.ItemEngine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ItemRequest
		if err := readJSON(r, &req); err != nil || req.ItemID == "" {
			writeError(w, http.StatusBadRequest, "itemId is required")
			return
		}

		act, err := items.Activate(r.Context(), currentUser(r).ID, req.ItemID)
		if err != nil {
			writeDomainError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, act)
	}
}

func handleSelectTarget(logger *slog.Logger, items *engine.ItemEngine, broker *Broker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req TargetRequest
		if err := readJSON(r, &req); err != nil || req.TeamID == "" {
			writeError(w, http.StatusBadRequest, "teamId is required")
			return
		}

		user := currentUser(r)
		res, err := items.SelectTarget(r.Context(), user.ID, req.TeamID)
		if err != nil {
			writeDomainError(w, logger, err)
			return
		}

		switch res.Type {
		case hunt.ItemCurse:
			broker.Publish(res.TargetTeamID, Event{Type: EventCursed, TeamID: user.TeamID})
		case hunt.ItemRobbery:
			broker.Publish(res.TargetTeamID, Event{Type: EventRobbed, TeamID: user.TeamID})
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func handleCompass(logger *slog.Logger, items *engine.ItemEngine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req LocationRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		reading, err := items.ReadCompass(r.Context(), currentUser(r).ID, req.LatLng())
		if err != nil {
			writeDomainError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, reading)
	}
}

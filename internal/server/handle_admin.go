package server

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/playperu/questhunt/internal/docstore"
	"github.com/playperu/questhunt/internal/engine"
	"github.com/playperu/questhunt/internal/hunt"
)

// QuestRequest creates a quest. Position inserts it at that sequence and
// shifts the rest; zero appends it.
type QuestRequest struct {
	hunt.Quest
	Position int `json:"position,omitempty"`
}

type MoveQuestRequest struct {
	Sequence int `json:"sequence"`
}

type TeamRequest struct {
	Name     string `json:"name"`
	Color    string `json:"color"`
	Currency int    `json:"currency"`
}

type UserRequest struct {
	Email   string `json:"email"`
	TeamID  string `json:"teamId"`
	IsAdmin bool   `json:"isAdmin"`
}

type UserCreatedResponse struct {
	User  *hunt.User `json:"user"`
	Token string     `json:"token"`
}

// --- Quests ---

func handleAdminListQuests(logger *slog.Logger, catalog *engine.Catalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		quests, err := catalog.List(r.Context())
		if err != nil {
			writeDomainError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, quests)
	}
}

func handleAdminCreateQuest(logger *slog.Logger, catalog *engine.Catalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req QuestRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		q, err := catalog.Create(r.Context(), req.Quest, req.Position)
		if err != nil {
			writeDomainError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusCreated, q)
	}
}

func handleAdminUpdateQuest(logger *slog.Logger, catalog *engine.Catalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var q hunt.Quest
		if err := readJSON(r, &q); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		q.ID = chi.URLParam(r, "id")

		updated, err := catalog.Update(r.Context(), q)
		if err != nil {
			writeDomainError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, updated)
	}
}

func handleAdminDeleteQuest(logger *slog.Logger, catalog *engine.Catalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := catalog.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
			writeDomainError(w, logger, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleAdminMoveQuest(logger *slog.Logger, catalog *engine.Catalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req MoveQuestRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		quests, err := catalog.Move(r.Context(), chi.URLParam(r, "id"), req.Sequence)
		if err != nil {
			writeDomainError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, quests)
	}
}

// --- Teams ---

func handleAdminListTeams(logger *slog.Logger, store docstore.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		teams, err := docstore.Find[hunt.Team](r.Context(), store, docstore.Query{
			Collection: hunt.CollectionTeams,
			OrderBy:    "name",
		})
		if err != nil {
			writeDomainError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, teams)
	}
}

func handleAdminCreateTeam(logger *slog.Logger, store docstore.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req TeamRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		team := &hunt.Team{
			ID:        uuid.NewString(),
			Name:      req.Name,
			Color:     req.Color,
			Currency:  req.Currency,
			Inventory: map[string]int{},
		}
		if err := team.Validate(); err != nil {
			writeDomainError(w, logger, err)
			return
		}
		if err := store.Set(r.Context(), hunt.CollectionTeams, team.ID, team); err != nil {
			writeDomainError(w, logger, err)
			return
		}

		logger.Info("team created", "team_id", team.ID, "name", team.Name)
		writeJSON(w, http.StatusCreated, team)
	}
}

func handleAdminUpdateTeam(logger *slog.Logger, store docstore.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req TeamRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		team, err := docstore.Mutate(r.Context(), store, hunt.CollectionTeams, chi.URLParam(r, "id"), func(t *hunt.Team) error {
			t.Name = req.Name
			t.Color = req.Color
			t.Currency = req.Currency
			return nil
		})
		if err != nil {
			writeDomainError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, team)
	}
}

func handleAdminDeleteTeam(logger *slog.Logger, store docstore.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		members, err := store.Count(r.Context(), docstore.Query{
			Collection: hunt.CollectionUsers,
			Where:      []docstore.Predicate{docstore.Where("teamId", docstore.Eq, id)},
		})
		if err != nil {
			writeDomainError(w, logger, err)
			return
		}
		if members > 0 {
			writeError(w, http.StatusConflict, "team still has players")
			return
		}
		if err := store.Delete(r.Context(), hunt.CollectionTeams, id); err != nil {
			writeDomainError(w, logger, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// --- Users ---

// handleAdminListUsers returns every user with their last known position,
// the data behind the organizers' live map.
func handleAdminListUsers(logger *slog.Logger, store docstore.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		users, err := docstore.Find[hunt.User](r.Context(), store, docstore.Query{
			Collection: hunt.CollectionUsers,
			OrderBy:    "email",
		})
		if err != nil {
			writeDomainError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, users)
	}
}

// handleAdminCreateUser registers a user and issues the bearer token the
// player's device signs in with.
func handleAdminCreateUser(logger *slog.Logger, store docstore.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req UserRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		if req.TeamID != "" {
			if _, err := store.Get(r.Context(), hunt.CollectionTeams, req.TeamID); err != nil {
				writeDomainError(w, logger, err)
				return
			}
		}
		user := &hunt.User{
			ID:        uuid.NewString(),
			Email:     req.Email,
			TeamID:    req.TeamID,
			IsAdmin:   req.IsAdmin,
			Inventory: map[string]bool{},
		}
		if err := user.Validate(); err != nil {
			writeDomainError(w, logger, err)
			return
		}
		sess := hunt.Session{
			ID:        uuid.NewString(),
			UserID:    user.ID,
			CreatedAt: store.ServerTimestamp(),
		}

		err := store.Batch(r.Context(), func(b *docstore.Batch) error {
			b.Set(hunt.CollectionUsers, user.ID, user)
			b.Set(hunt.CollectionSessions, sess.ID, sess)
			return nil
		})
		if err != nil {
			writeDomainError(w, logger, err)
			return
		}

		logger.Info("user created", "user_id", user.ID, "team_id", user.TeamID)
		writeJSON(w, http.StatusCreated, UserCreatedResponse{User: user, Token: sess.ID})
	}
}

// --- Items ---

func handleAdminCreateItem(logger *slog.Logger, store docstore.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var item hunt.Item
		if err := readJSON(r, &item); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		item.ID = uuid.NewString()
		if err := item.Validate(); err != nil {
			writeDomainError(w, logger, err)
			return
		}
		if err := store.Set(r.Context(), hunt.CollectionItems, item.ID, item); err != nil {
			writeDomainError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusCreated, item)
	}
}

func handleAdminUpdateItem(logger *slog.Logger, store docstore.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req hunt.Item
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		item, err := docstore.Mutate(r.Context(), store, hunt.CollectionItems, chi.URLParam(r, "id"), func(i *hunt.Item) error {
			req.ID = i.ID
			*i = req
			return nil
		})
		if err != nil {
			writeDomainError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, item)
	}
}

func handleAdminDeleteItem(logger *slog.Logger, store docstore.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := store.Delete(r.Context(), hunt.CollectionItems, chi.URLParam(r, "id")); err != nil {
			writeDomainError(w, logger, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

package server

import (
	"log/slog"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/swaggest/swgui/v5emb"
)

func addRoutes(r chi.Router, logger *slog.Logger, deps *Deps, broker *Broker) {
	r.Get("/openapi.json", handleOpenAPI())
	r.Mount("/docs", v5emb.New("QuestHunt API", "/openapi.json", "/docs"))
	r.Get("/healthz", handleHealth(logger, deps.Checks))

	// Player routes, authenticated by session token.
	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(sessionMiddleware(logger, deps.Store))

			r.Get("/game/state", handleGameState(logger, deps.Quests))
			r.Post("/game/scan", handleScan(logger, deps.Quests, broker))
			r.Post("/game/answer", handleAnswer(logger, deps.Quests, broker))
			r.Post("/game/clue", handleBuyClue(logger, deps.Quests))
			r.Get("/game/leaderboard", handleLeaderboard(logger, deps.Quests))
			r.Post("/game/location", handleLocation(logger, deps.Tracker, broker))
			r.Get("/game/location/ws", handleLocationStream(logger, deps.Tracker, broker, deps.PollInterval))
			r.Get("/game/events", handleEvents(broker))

			r.Get("/shop/items", handleShopItems(logger, deps.Items))
			r.Post("/shop/purchase", handlePurchase(logger, deps.Items))

			r.Get("/items", handleHoldings(logger, deps.Items))
			r.Post("/items/activate", handleActivate(logger, deps.Items))
			r.Post("/items/target", handleSelectTarget(logger, deps.Items, broker))
			r.Post("/items/compass", handleCompass(logger, deps.Items))

			r.Get("/messages", handleListMessages(logger, deps.Messages))
			r.Post("/messages", handleSendMessage(logger, deps.Messages))
			r.Get("/messages/unread", handleUnread(logger, deps.Messages))
			r.Get("/messages/stream", handleMessageStream(logger, deps.Messages))
		})

		if len(deps.AdminKeyHash) == 0 {
			logger.Warn("ADMIN_KEY_HASH not set, admin API disabled")
			return
		}

		r.Route("/admin", func(r chi.Router) {
			r.Use(adminMiddleware(deps.AdminKeyHash))

			r.Get("/quests", handleAdminListQuests(logger, deps.Catalog))
			r.Post("/quests", handleAdminCreateQuest(logger, deps.Catalog))
			r.Put("/quests/{id}", handleAdminUpdateQuest(logger, deps.Catalog))
			r.Delete("/quests/{id}", handleAdminDeleteQuest(logger, deps.Catalog))
			r.Post("/quests/{id}/move", handleAdminMoveQuest(logger, deps.Catalog))

			r.Get("/teams", handleAdminListTeams(logger, deps.Store))
			r.Post("/teams", handleAdminCreateTeam(logger, deps.Store))
			r.Put("/teams/{id}", handleAdminUpdateTeam(logger, deps.Store))
			r.Delete("/teams/{id}", handleAdminDeleteTeam(logger, deps.Store))

			r.Get("/users", handleAdminListUsers(logger, deps.Store))
			r.Post("/users", handleAdminCreateUser(logger, deps.Store))

			r.Get("/items", handleShopItems(logger, deps.Items))
			r.Post("/items", handleAdminCreateItem(logger, deps.Store))
			r.Put("/items/{id}", handleAdminUpdateItem(logger, deps.Store))
			r.Delete("/items/{id}", handleAdminDeleteItem(logger, deps.Store))

			r.Get("/messages", handleAdminUnreadByTeam(logger, deps.Messages))
			r.Get("/messages/{teamID}", handleAdminConversation(logger, deps.Messages))
			r.Post("/messages/{teamID}", handleAdminSendMessage(logger, deps.Messages, broker))
			r.Get("/messages/{teamID}/stream", handleAdminConversationStream(logger, deps.Messages))
		})
	})

	if deps.SPADir != "" {
		if info, err := os.Stat(deps.SPADir); err == nil && info.IsDir() {
			logger.Info("serving SPA", "dir", deps.SPADir)
			r.NotFound(handleSPA(deps.SPADir))
		}
	}
}

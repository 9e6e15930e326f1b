package server

import (
	"encoding/json"
	"net/http"

	openapi "github.com/swaggest/openapi-go"
	"github.com/swaggest/openapi-go/openapi3"

	"github.com/playperu/questhunt/internal/engine"
	"github.com/playperu/questhunt/internal/hunt"
)

// operation describes one documented route.
type operation struct {
	method, path, summary, description string
	req                                any
	resp                               any
	status                             int
	errors                             []int
	contentType                        string
}

var playerOperations = []operation{
	{method: http.MethodGet, path: "/api/game/state", summary: "Get game state",
		description: "Returns the team's phase, current quest, next hint and status. Requires Bearer token.",
		resp:        engine.GameState{}, errors: []int{http.StatusUnauthorized}},
	{method: http.MethodPost, path: "/api/game/scan", summary: "Scan quest code",
		description: "Starts the scanned quest when it is the team's next one.",
		req:         ScanRequest{}, resp: engine.PlayerQuest{},
		errors: []int{http.StatusUnauthorized, http.StatusNotFound, http.StatusConflict}},
	{method: http.MethodPost, path: "/api/game/answer", summary: "Submit answer",
		description: "Submits an answer for the active quest. Matching ignores case and surrounding spaces.",
		req:         AnswerRequest{}, resp: engine.SolveResult{},
		errors: []int{http.StatusUnauthorized, http.StatusConflict, http.StatusUnprocessableEntity}},
	{method: http.MethodPost, path: "/api/game/clue", summary: "Buy clue",
		description: "Buys the active quest's clue. Buying it again is free.",
		resp:        ClueResponse{}, errors: []int{http.StatusUnauthorized, http.StatusNotFound, http.StatusConflict}},
	{method: http.MethodGet, path: "/api/game/leaderboard", summary: "Leaderboard",
		description: "Teams ranked by solved quests, then by earliest last solve.",
		resp:        []engine.Standing{}},
	{method: http.MethodPost, path: "/api/game/location", summary: "Report location",
		description: "Records the player's position and starts or pauses the team's quest by geofence.",
		req:         LocationRequest{}, resp: engine.FenceResult{},
		errors: []int{http.StatusUnauthorized, http.StatusUnprocessableEntity}},
	{method: http.MethodGet, path: "/api/game/location/ws", summary: "Location stream",
		description: "WebSocket carrying LocationFrame messages from the client. Positions are recorded once per poll interval; fence changes come back as LocationReply messages. Pass token as query parameter.",
		status:      http.StatusSwitchingProtocols, contentType: "text/plain"},
	{method: http.MethodGet, path: "/api/game/events", summary: "SSE event stream",
		description: "Server-Sent Events stream of game events for the player's team. Pass token as query parameter.",
		contentType: "text/event-stream"},
	{method: http.MethodGet, path: "/api/shop/items", summary: "List shop items",
		description: "Items for sale, cheapest first.", resp: []hunt.Item{}},
	{method: http.MethodPost, path: "/api/shop/purchase", summary: "Buy item",
		description: "Charges the team and adds the item to the player's inventory.",
		req:         ItemRequest{}, resp: engine.Purchase{},
		errors: []int{http.StatusUnauthorized, http.StatusNotFound, http.StatusConflict}},
	{method: http.MethodGet, path: "/api/items", summary: "Player inventory",
		description: "Items the player owns and the active item, after expiry is applied.",
		resp:        engine.Holdings{}},
	{method: http.MethodPost, path: "/api/items/activate", summary: "Activate item",
		description: "Activates an owned item. Curse and robbery return eligible targets.",
		req:         ItemRequest{}, resp: engine.Activation{},
		errors: []int{http.StatusConflict, http.StatusUnprocessableEntity}},
	{method: http.MethodPost, path: "/api/items/target", summary: "Select target",
		description: "Resolves the active curse or robbery against a team.",
		req:         TargetRequest{}, resp: engine.Resolution{},
		errors: []int{http.StatusConflict, http.StatusUnprocessableEntity, http.StatusInternalServerError}},
	{method: http.MethodPost, path: "/api/items/compass", summary: "Read compass",
		description: "Bearing and distance from the given position to the next quest.",
		req:         LocationRequest{}, resp: engine.CompassReading{},
		errors: []int{http.StatusConflict}},
	{method: http.MethodGet, path: "/api/messages", summary: "Read conversation",
		description: "Returns the team's conversation with the organizers and marks it read.",
		resp:        []hunt.Message{}},
	{method: http.MethodPost, path: "/api/messages", summary: "Message organizers",
		req: SendMessageRequest{}, resp: hunt.Message{}, status: http.StatusCreated},
	{method: http.MethodGet, path: "/api/messages/unread", summary: "Unread messages",
		resp: UnreadResponse{}},
	{method: http.MethodGet, path: "/api/messages/stream", summary: "Conversation stream",
		description: "Keeps the conversation open, marking arrivals read, and pushes it after every change.",
		contentType: "text/event-stream"},
}

var adminOperations = []operation{
	{method: http.MethodGet, path: "/api/admin/quests", summary: "List quests", resp: []hunt.Quest{}},
	{method: http.MethodPost, path: "/api/admin/quests", summary: "Create quest",
		description: "Appends the quest, or inserts it at position and shifts the others.",
		req:         QuestRequest{}, resp: hunt.Quest{}, status: http.StatusCreated,
		errors: []int{http.StatusUnprocessableEntity}},
	{method: http.MethodPut, path: "/api/admin/quests/{id}", summary: "Update quest",
		req: hunt.Quest{}, resp: hunt.Quest{}, errors: []int{http.StatusNotFound}},
	{method: http.MethodDelete, path: "/api/admin/quests/{id}", summary: "Delete quest",
		status: http.StatusNoContent, errors: []int{http.StatusNotFound}},
	{method: http.MethodPost, path: "/api/admin/quests/{id}/move", summary: "Move quest",
		req: MoveQuestRequest{}, resp: []hunt.Quest{}, errors: []int{http.StatusNotFound}},
	{method: http.MethodGet, path: "/api/admin/teams", summary: "List teams", resp: []hunt.Team{}},
	{method: http.MethodPost, path: "/api/admin/teams", summary: "Create team",
		req: TeamRequest{}, resp: hunt.Team{}, status: http.StatusCreated},
	{method: http.MethodPut, path: "/api/admin/teams/{id}", summary: "Update team",
		req: TeamRequest{}, resp: hunt.Team{}, errors: []int{http.StatusNotFound}},
	{method: http.MethodDelete, path: "/api/admin/teams/{id}", summary: "Delete team",
		status: http.StatusNoContent, errors: []int{http.StatusNotFound, http.StatusConflict}},
	{method: http.MethodGet, path: "/api/admin/users", summary: "List users",
		description: "Every user with their last known position.", resp: []hunt.User{}},
	{method: http.MethodPost, path: "/api/admin/users", summary: "Create user",
		description: "Registers a user and returns their session token.",
		req:         UserRequest{}, resp: UserCreatedResponse{}, status: http.StatusCreated},
	{method: http.MethodGet, path: "/api/admin/items", summary: "List items", resp: []hunt.Item{}},
	{method: http.MethodPost, path: "/api/admin/items", summary: "Create item",
		req: hunt.Item{}, resp: hunt.Item{}, status: http.StatusCreated},
	{method: http.MethodPut, path: "/api/admin/items/{id}", summary: "Update item",
		req: hunt.Item{}, resp: hunt.Item{}, errors: []int{http.StatusNotFound}},
	{method: http.MethodDelete, path: "/api/admin/items/{id}", summary: "Delete item",
		status: http.StatusNoContent, errors: []int{http.StatusNotFound}},
	{method: http.MethodGet, path: "/api/admin/messages", summary: "Unread per team",
		description: "Unread message count per team, teams with none omitted.", resp: map[string]int{}},
	{method: http.MethodGet, path: "/api/admin/messages/{teamID}", summary: "Read team conversation",
		resp: []hunt.Message{}},
	{method: http.MethodPost, path: "/api/admin/messages/{teamID}", summary: "Message team",
		req: SendMessageRequest{}, resp: hunt.Message{}, status: http.StatusCreated,
		errors: []int{http.StatusNotFound}},
	{method: http.MethodGet, path: "/api/admin/messages/{teamID}/stream", summary: "Team conversation stream",
		contentType: "text/event-stream"},
}

func newOpenAPISpec() *openapi3.Spec {
	r := openapi3.NewReflector()
	r.Spec.Info.Title = "QuestHunt API"
	r.Spec.Info.Version = "0.1.0"
	r.Spec.Info.WithDescription("Backend API for the QuestHunt scavenger hunt.")

	// GET /healthz
	getHealthz, _ := r.NewOperationContext(http.MethodGet, "/healthz")
	getHealthz.SetSummary("Health check")
	getHealthz.SetDescription("Returns the health status of backend dependencies.")
	getHealthz.AddRespStructure(HealthResponse{}, openapi.WithHTTPStatus(http.StatusOK))
	getHealthz.AddRespStructure(HealthResponse{}, openapi.WithHTTPStatus(http.StatusServiceUnavailable))
	_ = r.AddOperation(getHealthz)

	for _, op := range playerOperations {
		addOperation(r, op, []int{http.StatusUnauthorized})
	}
	for _, op := range adminOperations {
		addOperation(r, op, []int{http.StatusUnauthorized})
	}

	return r.Spec
}

func addOperation(r *openapi3.Reflector, op operation, always []int) {
	oc, err := r.NewOperationContext(op.method, op.path)
	if err != nil {
		return
	}
	oc.SetSummary(op.summary)
	if op.description != "" {
		oc.SetDescription(op.description)
	}
	if op.req != nil {
		oc.AddReqStructure(op.req)
	}

	status := op.status
	if status == 0 {
		status = http.StatusOK
	}
	switch {
	case op.contentType != "":
		oc.AddRespStructure(nil, openapi.WithHTTPStatus(status), openapi.WithContentType(op.contentType))
	case op.resp != nil:
		oc.AddRespStructure(op.resp, openapi.WithHTTPStatus(status))
	default:
		oc.AddRespStructure(nil, openapi.WithHTTPStatus(status))
	}

	seen := map[int]bool{}
	for _, code := range append(always, op.errors...) {
		if seen[code] {
			continue
		}
		seen[code] = true
		oc.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(code))
	}
	_ = r.AddOperation(oc)
}

func handleOpenAPI() http.HandlerFunc {
	spec := newOpenAPISpec()
	data, _ := json.MarshalIndent(spec, "", "  ")

	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	}
}

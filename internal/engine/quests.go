package engine

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/playperu/questhunt/internal/clock"
	"github.com/playperu/questhunt/internal/docstore"
	"github.com/playperu/questhunt/internal/geo"
	"github.com/playperu/questhunt/internal/hunt"
)

type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseActive    Phase = "active"
	PhaseCompleted Phase = "completed"
)

// PlayerQuest is a quest as shown to players: no answers, and the clue only
// once it was bought.
type PlayerQuest struct {
	ID       string      `json:"id"`
	Sequence int         `json:"sequence"`
	Name     string      `json:"name"`
	Hint     string      `json:"hint"`
	Text     string      `json:"text"`
	Clue     string      `json:"clue,omitempty"`
	HasClue  bool        `json:"hasClue"`
	Media    *hunt.Media `json:"media,omitempty"`
}

func playerQuest(q *hunt.Quest, p hunt.Progress) *PlayerQuest {
	pq := &PlayerQuest{
		ID:       q.ID,
		Sequence: q.Sequence,
		Name:     q.Name,
		Hint:     q.Hint,
		Text:     q.Text,
		HasClue:  q.Clue != "",
		Media:    q.Media,
	}
	if p.HasClue(q.ID) {
		pq.Clue = q.Clue
	}
	return pq
}

type GameState struct {
	TeamID   string       `json:"teamId"`
	TeamName string       `json:"teamName"`
	Currency int          `json:"currency"`
	Phase    Phase        `json:"phase"`
	Current  *PlayerQuest `json:"current,omitempty"`
	// NextHint is the hint of the quest to look for while idle.
	NextHint string `json:"nextHint,omitempty"`
	Solved   int    `json:"solved"`
	Total    int    `json:"total"`
	Status   Status `json:"status"`
}

type SolveResult struct {
	QuestID   string `json:"questId"`
	Completed bool   `json:"completed"`
	NextHint  string `json:"nextHint,omitempty"`
}

type FenceEvent string

const (
	FenceNone        FenceEvent = ""
	FenceActivated   FenceEvent = "activated"
	FenceDeactivated FenceEvent = "deactivated"
)

type FenceResult struct {
	Event   FenceEvent `json:"event,omitempty"`
	QuestID string     `json:"questId,omitempty"`
}

type Standing struct {
	TeamID      string     `json:"teamId"`
	Name        string     `json:"name"`
	Color       string     `json:"color"`
	Solved      int        `json:"solved"`
	Completed   bool       `json:"completed"`
	LastSolveAt *time.Time `json:"lastSolveAt,omitempty"`
}

// position locates a team within the ordered quest list.
type position struct {
	phase   Phase
	current *hunt.Quest
	next    *hunt.Quest
}

// lastSolvedSequence is the highest sequence among quests the team solved.
func lastSolvedSequence(p hunt.Progress, quests []*hunt.Quest) int {
	last := 0
	for _, q := range quests {
		if p.Solved(q.ID) && q.Sequence > last {
			last = q.Sequence
		}
	}
	return last
}

func locate(p hunt.Progress, quests []*hunt.Quest) position {
	var pos position
	last := lastSolvedSequence(p, quests)
	for _, q := range quests {
		if q.ID == p.CurrentQuest {
			pos.current = q
		}
		if q.Sequence == last+1 {
			pos.next = q
		}
	}
	switch {
	case p.CurrentQuest != "":
		pos.phase = PhaseActive
	case pos.next == nil && len(quests) > 0:
		pos.phase = PhaseCompleted
	default:
		pos.phase = PhaseIdle
	}
	return pos
}

// canStart checks whether team may make q its current quest.
func canStart(t *hunt.Team, q *hunt.Quest, quests []*hunt.Quest, now time.Time) error {
	pos := locate(t.Progress, quests)
	switch {
	case cursedAt(t, now):
		return hunt.ErrTeamCursed
	case t.Progress.Solved(q.ID):
		return hunt.ErrAlreadySolved
	case pos.phase == PhaseActive:
		return hunt.ErrQuestInProgress
	case pos.phase == PhaseCompleted:
		return hunt.ErrGameCompleted
	case pos.next == nil || pos.next.ID != q.ID:
		return hunt.ErrQuestLocked
	}
	return nil
}

// MatchAnswer reports whether answer equals any accepted answer, ignoring
// case and surrounding whitespace on both sides.
func MatchAnswer(accepted []string, answer string) bool {
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return false
	}
	for _, a := range accepted {
		if strings.EqualFold(strings.TrimSpace(a), answer) {
			return true
		}
	}
	return false
}

// QuestEngine runs the per-team quest state machine.
type QuestEngine struct {
	store     docstore.Client
	clock     clock.Clock
	logger    *slog.Logger
	cluePrice int
}

func NewQuestEngine(store docstore.Client, clk clock.Clock, logger *slog.Logger, cluePrice int) *QuestEngine {
	return &QuestEngine{store: store, clock: clk, logger: logger, cluePrice: cluePrice}
}

func (e *QuestEngine) ClueCost() int { return e.cluePrice }

func (e *QuestEngine) State(ctx context.Context, teamID string) (_ *GameState, err error) {
	ctx, span := startSpan(ctx, "quests.State", attribute.String("team.id", teamID))
	defer func() { endSpan(span, err) }()

	team, err := loadTeam(ctx, e.store, teamID)
	if err != nil {
		return nil, err
	}
	quests, err := loadQuests(ctx, e.store)
	if err != nil {
		return nil, err
	}

	pos := locate(team.Progress, quests)
	state := &GameState{
		TeamID:   team.ID,
		TeamName: team.Name,
		Currency: team.Currency,
		Phase:    pos.phase,
		Solved:   len(team.Progress.PreviousQuests),
		Total:    len(quests),
		Status:   EffectiveStatus(team, e.clock.Now()),
	}
	if pos.current != nil {
		state.Current = playerQuest(pos.current, team.Progress)
	}
	if pos.phase == PhaseIdle && pos.next != nil {
		state.NextHint = pos.next.Hint
	}
	return state, nil
}

// Scan starts questID for the team after a QR scan.
func (e *QuestEngine) Scan(ctx context.Context, teamID, questID string) (_ *PlayerQuest, err error) {
	ctx, span := startSpan(ctx, "quests.Scan",
		attribute.String("team.id", teamID),
		attribute.String("quest.id", questID),
	)
	defer func() { endSpan(span, err) }()

	quests, err := loadQuests(ctx, e.store)
	if err != nil {
		return nil, err
	}
	idx := slices.IndexFunc(quests, func(q *hunt.Quest) bool { return q.ID == questID })
	if idx < 0 {
		return nil, hunt.Newf(hunt.CodeNotFound, "quest %s not found", questID)
	}
	quest := quests[idx]

	team, err := mutateTeam(ctx, e.store, teamID, func(t *hunt.Team) error {
		if t.Progress.CurrentQuest == questID {
			return docstore.ErrNoChange
		}
		if err := canStart(t, quest, quests, e.clock.Now()); err != nil {
			return err
		}
		t.Progress.CurrentQuest = questID
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("quest started", "team_id", teamID, "quest_id", questID, "sequence", quest.Sequence)
	return playerQuest(quest, team.Progress), nil
}

func (e *QuestEngine) SubmitAnswer(ctx context.Context, teamID, answer string) (_ *SolveResult, err error) {
	ctx, span := startSpan(ctx, "quests.SubmitAnswer", attribute.String("team.id", teamID))
	defer func() { endSpan(span, err) }()

	team, err := loadTeam(ctx, e.store, teamID)
	if err != nil {
		return nil, err
	}
	if cursedAt(team, e.clock.Now()) {
		return nil, hunt.ErrTeamCursed
	}
	questID := team.Progress.CurrentQuest
	if questID == "" {
		return nil, hunt.ErrNoActiveQuest
	}
	quest, err := docstore.Get[hunt.Quest](ctx, e.store, hunt.CollectionQuests, questID)
	if err != nil {
		return nil, err
	}
	if !MatchAnswer(quest.Answer, answer) {
		return nil, hunt.ErrIncorrectAnswer
	}

	team, err = mutateTeam(ctx, e.store, teamID, func(t *hunt.Team) error {
		now := e.clock.Now()
		switch {
		case t.Progress.Solved(questID):
			return hunt.ErrAlreadySolved
		case t.Progress.CurrentQuest != questID:
			return hunt.ErrNoActiveQuest
		case cursedAt(t, now):
			return hunt.ErrTeamCursed
		}
		t.Progress.PreviousQuests = append(t.Progress.PreviousQuests, questID)
		t.Progress.CurrentQuest = ""
		t.LastSolveAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}

	quests, err := loadQuests(ctx, e.store)
	if err != nil {
		return nil, err
	}
	pos := locate(team.Progress, quests)
	result := &SolveResult{QuestID: questID, Completed: pos.phase == PhaseCompleted}
	if pos.next != nil {
		result.NextHint = pos.next.Hint
	}

	e.logger.Info("quest solved",
		"team_id", teamID,
		"quest_id", questID,
		"completed", result.Completed,
	)
	return result, nil
}

// UpdateLocation applies geofence auto-activation and auto-deactivation for
// a team member's position.
func (e *QuestEngine) UpdateLocation(ctx context.Context, teamID string, pos hunt.LatLng) (_ *FenceResult, err error) {
	ctx, span := startSpan(ctx, "quests.UpdateLocation", attribute.String("team.id", teamID))
	defer func() { endSpan(span, err) }()

	team, err := loadTeam(ctx, e.store, teamID)
	if err != nil {
		return nil, err
	}
	quests, err := loadQuests(ctx, e.store)
	if err != nil {
		return nil, err
	}

	where := locate(team.Progress, quests)
	switch where.phase {
	case PhaseActive:
		if where.current == nil {
			return &FenceResult{}, nil
		}
		inside, err := geo.Inside(pos, where.current.Location.Point(), where.current.Location.Radius)
		if err != nil || inside {
			return &FenceResult{}, err
		}
		questID := where.current.ID
		_, err = mutateTeam(ctx, e.store, teamID, func(t *hunt.Team) error {
			if t.Progress.CurrentQuest != questID {
				return docstore.ErrNoChange
			}
			t.Progress.CurrentQuest = ""
			return nil
		})
		if err != nil {
			return nil, err
		}
		e.logger.Info("quest left fence", "team_id", teamID, "quest_id", questID)
		return &FenceResult{Event: FenceDeactivated, QuestID: questID}, nil

	case PhaseIdle:
		if where.next == nil {
			return &FenceResult{}, nil
		}
		inside, err := geo.Inside(pos, where.next.Location.Point(), where.next.Location.Radius)
		if err != nil || !inside {
			return &FenceResult{}, err
		}
		next := where.next
		activated := false
		_, err = mutateTeam(ctx, e.store, teamID, func(t *hunt.Team) error {
			activated = false
			// Cursed or already moved on: stay idle without surfacing an error.
			if canStart(t, next, quests, e.clock.Now()) != nil {
				return docstore.ErrNoChange
			}
			t.Progress.CurrentQuest = next.ID
			activated = true
			return nil
		})
		if err != nil {
			return nil, err
		}
		if !activated {
			return &FenceResult{}, nil
		}
		e.logger.Info("quest entered fence", "team_id", teamID, "quest_id", next.ID)
		return &FenceResult{Event: FenceActivated, QuestID: next.ID}, nil
	}
	return &FenceResult{}, nil
}

// BuyClue charges the team for the active quest's clue. Buying it again is a
// no-op that returns the clue without charging.
func (e *QuestEngine) BuyClue(ctx context.Context, teamID string) (_ string, err error) {
	ctx, span := startSpan(ctx, "quests.BuyClue", attribute.String("team.id", teamID))
	defer func() { endSpan(span, err) }()

	team, err := loadTeam(ctx, e.store, teamID)
	if err != nil {
		return "", err
	}
	questID := team.Progress.CurrentQuest
	if questID == "" {
		return "", hunt.ErrNoActiveQuest
	}
	quest, err := docstore.Get[hunt.Quest](ctx, e.store, hunt.CollectionQuests, questID)
	if err != nil {
		return "", err
	}
	if quest.Clue == "" {
		return "", hunt.Newf(hunt.CodeNotFound, "quest %s has no clue", questID)
	}

	charged := false
	_, err = mutateTeam(ctx, e.store, teamID, func(t *hunt.Team) error {
		charged = false
		switch {
		case t.Progress.CurrentQuest != questID:
			return hunt.ErrNoActiveQuest
		case t.Progress.HasClue(questID):
			return docstore.ErrNoChange
		case t.Currency < e.cluePrice:
			return hunt.ErrInsufficientFunds
		}
		t.Currency -= e.cluePrice
		t.Progress.CluePurchased = append(t.Progress.CluePurchased, questID)
		charged = true
		return nil
	})
	if err != nil {
		return "", err
	}
	if charged {
		e.logger.Info("clue purchased", "team_id", teamID, "quest_id", questID, "price", e.cluePrice)
	}
	return quest.Clue, nil
}

// Leaderboard ranks teams by quests solved, then by who reached that count
// first, then by name.
func (e *QuestEngine) Leaderboard(ctx context.Context) (_ []Standing, err error) {
	ctx, span := startSpan(ctx, "quests.Leaderboard")
	defer func() { endSpan(span, err) }()

	teams, err := loadTeams(ctx, e.store)
	if err != nil {
		return nil, err
	}
	quests, err := loadQuests(ctx, e.store)
	if err != nil {
		return nil, err
	}

	standings := make([]Standing, 0, len(teams))
	for _, t := range teams {
		standings = append(standings, Standing{
			TeamID:      t.ID,
			Name:        t.Name,
			Color:       t.Color,
			Solved:      len(t.Progress.PreviousQuests),
			Completed:   locate(t.Progress, quests).phase == PhaseCompleted,
			LastSolveAt: t.LastSolveAt,
		})
	}
	slices.SortFunc(standings, func(a, b Standing) int {
		if c := cmp.Compare(b.Solved, a.Solved); c != 0 {
			return c
		}
		switch {
		case a.LastSolveAt != nil && b.LastSolveAt != nil:
			if c := a.LastSolveAt.Compare(*b.LastSolveAt); c != 0 {
				return c
			}
		case a.LastSolveAt != nil:
			return -1
		case b.LastSolveAt != nil:
			return 1
		}
		return cmp.Compare(a.Name, b.Name)
	})
	return standings, nil
}

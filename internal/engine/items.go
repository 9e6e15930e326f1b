package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/playperu/questhunt/internal/clock"
	"github.com/playperu/questhunt/internal/docstore"
	"github.com/playperu/questhunt/internal/geo"
	"github.com/playperu/questhunt/internal/hunt"
)

type Outcome string

const (
	// OutcomeTracking means a compass is live until arrival or expiry.
	OutcomeTracking     Outcome = "tracking"
	OutcomeChooseTarget Outcome = "choose_target"
	OutcomeApplied      Outcome = "applied"
	// OutcomeRefunded means the item had nothing to act on; its price went
	// back to the team and the item is gone.
	OutcomeRefunded Outcome = "refunded"
)

type Target struct {
	TeamID string `json:"teamId"`
	Name   string `json:"name"`
	Color  string `json:"color"`
}

type Activation struct {
	Outcome     Outcome       `json:"outcome"`
	ItemID      string        `json:"itemId"`
	Type        hunt.ItemType `json:"type"`
	ExpiresAt   *time.Time    `json:"expiresAt,omitempty"`
	Targets     []Target      `json:"targets,omitempty"`
	Refunded    int           `json:"refunded,omitempty"`
	ImmuneUntil *time.Time    `json:"immuneUntil,omitempty"`
}

type Resolution struct {
	Type         hunt.ItemType `json:"type"`
	TargetTeamID string        `json:"targetTeamId"`
	CursedUntil  *time.Time    `json:"cursedUntil,omitempty"`
	ImmuneUntil  *time.Time    `json:"immuneUntil,omitempty"`
	Amount       int           `json:"amount,omitempty"`
}

type CompassReading struct {
	Bearing   float64   `json:"bearing"`
	Distance  float64   `json:"distance"`
	Arrived   bool      `json:"arrived"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type Purchase struct {
	ItemID   string `json:"itemId"`
	Currency int    `json:"currency"`
}

// Holdings is what a user owns and has running.
type Holdings struct {
	Items      []*hunt.Item     `json:"items"`
	ActiveItem *hunt.ActiveItem `json:"activeItem,omitempty"`
}

// ActivationContext is the state an ItemEffect acts on, read just before
// activation.
type ActivationContext struct {
	User *hunt.User
	Team *hunt.Team
	Item *hunt.Item
	Now  time.Time
}

// ItemEffect is the behaviour of one item type.
type ItemEffect interface {
	Activate(ctx context.Context, ac ActivationContext) (*Activation, error)
}

// TargetedEffect resolves against another team chosen after activation.
// Apply only changes teams; the engine has already taken the item.
type TargetedEffect interface {
	ItemEffect
	Eligible(target *hunt.Team, item *hunt.Item, now time.Time) bool
	Apply(ctx context.Context, ac ActivationContext, target *hunt.Team) (*Resolution, error)
}

// ItemEngine owns purchase, activation, expiry and resolution of shop items.
type ItemEngine struct {
	store      docstore.Client
	clock      clock.Clock
	logger     *slog.Logger
	tolerance  float64
	countdowns *Countdowns
	effects    map[hunt.ItemType]ItemEffect
}

// NewItemEngine builds the engine. compassTolerance is how far inside a
// quest fence a compass holder must get before it counts as arrival.
func NewItemEngine(store docstore.Client, clk clock.Clock, logger *slog.Logger, compassTolerance float64) *ItemEngine {
	e := &ItemEngine{
		store:     store,
		clock:     clk,
		logger:    logger,
		tolerance: compassTolerance,
	}
	e.countdowns = NewCountdowns(clk, func(userID string) {
		if _, err := e.Reconcile(context.Background(), userID); err != nil {
			e.logger.Warn("countdown reconcile failed", "user_id", userID, "error", err)
		}
	})
	e.effects = map[hunt.ItemType]ItemEffect{
		hunt.ItemCompass:  Compass{e: e},
		hunt.ItemCurse:    Curse{e: e},
		hunt.ItemRobbery:  Robbery{e: e},
		hunt.ItemImmunity: Immunity{e: e},
	}
	return e
}

// Close stops pending countdowns.
func (e *ItemEngine) Close() { e.countdowns.Close() }

// EffectFor returns the behaviour for t; unknown types get Default.
func (e *ItemEngine) EffectFor(t hunt.ItemType) ItemEffect {
	if eff, ok := e.effects[t]; ok {
		return eff
	}
	return Default{}
}

func (e *ItemEngine) ListItems(ctx context.Context) ([]*hunt.Item, error) {
	return docstore.Find[hunt.Item](ctx, e.store, docstore.Query{
		Collection: hunt.CollectionItems,
		OrderBy:    "price",
	})
}

func (e *ItemEngine) Purchase(ctx context.Context, userID, itemID string) (_ *Purchase, err error) {
	ctx, span := startSpan(ctx, "items.Purchase",
		attribute.String("user.id", userID),
		attribute.String("item.id", itemID),
	)
	defer func() { endSpan(span, err) }()

	user, err := loadUser(ctx, e.store, userID)
	if err != nil {
		return nil, err
	}
	if user.TeamID == "" {
		return nil, hunt.Newf(hunt.CodeNotFound, "user %s has no team", userID)
	}
	if user.Inventory[itemID] {
		return nil, hunt.ErrItemAlreadyOwned
	}
	item, err := docstore.Get[hunt.Item](ctx, e.store, hunt.CollectionItems, itemID)
	if err != nil {
		return nil, err
	}

	team, err := mutateTeam(ctx, e.store, user.TeamID, func(t *hunt.Team) error {
		if t.Currency < item.Price {
			return hunt.ErrInsufficientFunds
		}
		t.Currency -= item.Price
		if t.Inventory == nil {
			t.Inventory = make(map[string]int)
		}
		t.Inventory[itemID]++
		return nil
	})
	if err != nil {
		return nil, err
	}

	_, err = mutateUser(ctx, e.store, userID, func(u *hunt.User) error {
		if u.Inventory[itemID] {
			return hunt.ErrItemAlreadyOwned
		}
		if u.Inventory == nil {
			u.Inventory = make(map[string]bool)
		}
		u.Inventory[itemID] = true
		return nil
	})
	if err != nil {
		if rerr := e.settle(ctx, user.TeamID, itemID, item.Price); rerr != nil {
			e.logger.Error("purchase refund failed",
				"team_id", user.TeamID,
				"item_id", itemID,
				"amount", item.Price,
				"error", rerr,
			)
		}
		return nil, err
	}

	e.logger.Info("item purchased", "user_id", userID, "team_id", user.TeamID, "item_id", itemID, "price", item.Price)
	return &Purchase{ItemID: itemID, Currency: team.Currency}, nil
}

// Reconcile consumes the user's active item if it has expired and returns
// the user as stored afterwards.
func (e *ItemEngine) Reconcile(ctx context.Context, userID string) (*hunt.User, error) {
	user, _, err := e.reconcile(ctx, userID)
	return user, err
}

func (e *ItemEngine) reconcile(ctx context.Context, userID string) (*hunt.User, bool, error) {
	user, err := loadUser(ctx, e.store, userID)
	if err != nil {
		return nil, false, err
	}
	active := user.ActiveItem
	if !active.Expired(e.clock.Now()) {
		return user, false, nil
	}
	if err := e.consume(ctx, user, active.ItemID, 0); err != nil && !errors.Is(err, hunt.ErrItemNotOwned) {
		return nil, false, err
	}
	e.logger.Info("item expired", "user_id", userID, "item_id", active.ItemID, "type", active.Type)
	user, err = loadUser(ctx, e.store, userID)
	if err != nil {
		return nil, false, err
	}
	return user, true, nil
}

// Holdings lists the items the user owns after reconciling expiry.
func (e *ItemEngine) Holdings(ctx context.Context, userID string) (*Holdings, error) {
	user, err := e.Reconcile(ctx, userID)
	if err != nil {
		return nil, err
	}
	h := &Holdings{Items: []*hunt.Item{}, ActiveItem: user.ActiveItem}
	for itemID, owned := range user.Inventory {
		if !owned {
			continue
		}
		item, err := docstore.Get[hunt.Item](ctx, e.store, hunt.CollectionItems, itemID)
		if errors.Is(err, hunt.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		h.Items = append(h.Items, item)
	}
	return h, nil
}

func (e *ItemEngine) Activate(ctx context.Context, userID, itemID string) (_ *Activation, err error) {
	ctx, span := startSpan(ctx, "items.Activate",
		attribute.String("user.id", userID),
		attribute.String("item.id", itemID),
	)
	defer func() { endSpan(span, err) }()

	user, _, err := e.reconcile(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.ActiveItem != nil {
		return nil, hunt.ErrItemAlreadyActive
	}
	if !user.Inventory[itemID] {
		return nil, hunt.ErrItemNotOwned
	}
	item, err := docstore.Get[hunt.Item](ctx, e.store, hunt.CollectionItems, itemID)
	if err != nil {
		return nil, err
	}
	team, err := loadTeam(ctx, e.store, user.TeamID)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("item.type", string(item.Type)))

	return e.EffectFor(item.Type).Activate(ctx, ActivationContext{
		User: user,
		Team: team,
		Item: item,
		Now:  e.clock.Now(),
	})
}

// SelectTarget resolves the user's active curse or robbery against a team.
// The item is taken from the user before the target is touched, so only one
// caller resolves it. TargetNoLongerEligible hands the item back with its
// original expiry so another team can be picked.
func (e *ItemEngine) SelectTarget(ctx context.Context, userID, targetTeamID string) (_ *Resolution, err error) {
	ctx, span := startSpan(ctx, "items.SelectTarget",
		attribute.String("user.id", userID),
		attribute.String("target.team_id", targetTeamID),
	)
	defer func() { endSpan(span, err) }()

	user, expired, err := e.reconcile(ctx, userID)
	if err != nil {
		return nil, err
	}
	if expired {
		return nil, hunt.ErrItemExpired
	}
	if user.ActiveItem == nil {
		return nil, hunt.ErrNoActiveItem
	}
	effect, ok := e.EffectFor(user.ActiveItem.Type).(TargetedEffect)
	if !ok {
		return nil, hunt.ErrNoActiveItem
	}
	if targetTeamID == user.TeamID {
		return nil, hunt.ErrInvalidTarget
	}

	target, err := loadTeam(ctx, e.store, targetTeamID)
	if errors.Is(err, hunt.ErrNotFound) {
		return nil, hunt.Wrap(hunt.CodeInvalidTarget, "target team does not exist", err)
	}
	if err != nil {
		return nil, err
	}
	item, err := docstore.Get[hunt.Item](ctx, e.store, hunt.CollectionItems, user.ActiveItem.ItemID)
	if err != nil {
		return nil, err
	}
	team, err := loadTeam(ctx, e.store, user.TeamID)
	if err != nil {
		return nil, err
	}

	ac := ActivationContext{User: user, Team: team, Item: item, Now: e.clock.Now()}
	if !effect.Eligible(target, item, ac.Now) {
		return nil, hunt.ErrTargetNoLongerEligible
	}

	active, err := e.takeActive(ctx, userID, item.ID)
	if errors.Is(err, hunt.ErrItemExpired) {
		if _, rerr := e.Reconcile(ctx, userID); rerr != nil {
			e.logger.Warn("reconciling expired item failed", "user_id", userID, "error", rerr)
		}
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	res, err := effect.Apply(ctx, ac, target)
	if err != nil && !errors.Is(err, hunt.ErrPartialTransfer) {
		e.restore(ctx, userID, item.ID, active)
		return nil, err
	}
	e.countdowns.Stop(userID)
	if serr := e.settle(ctx, user.TeamID, item.ID, 0); serr != nil {
		e.logger.Error("settling resolved item failed",
			"team_id", user.TeamID,
			"item_id", item.ID,
			"error", serr,
		)
	}
	return res, err
}

// ReadCompass points the user's active compass at the team's next quest and
// consumes it on arrival.
func (e *ItemEngine) ReadCompass(ctx context.Context, userID string, pos hunt.LatLng) (_ *CompassReading, err error) {
	ctx, span := startSpan(ctx, "items.ReadCompass", attribute.String("user.id", userID))
	defer func() { endSpan(span, err) }()

	user, expired, err := e.reconcile(ctx, userID)
	if err != nil {
		return nil, err
	}
	if expired {
		return nil, hunt.ErrItemExpired
	}
	active := user.ActiveItem
	if active == nil || active.Type != hunt.ItemCompass {
		return nil, hunt.ErrNoActiveItem
	}

	team, err := loadTeam(ctx, e.store, user.TeamID)
	if err != nil {
		return nil, err
	}
	quests, err := loadQuests(ctx, e.store)
	if err != nil {
		return nil, err
	}
	where := locate(team.Progress, quests)
	if where.phase != PhaseIdle || where.next == nil {
		return nil, hunt.ErrCompassUnavailable
	}

	goal := where.next.Location
	distance, err := geo.Distance(pos, goal.Point())
	if err != nil {
		return nil, err
	}
	bearing, err := geo.Bearing(pos, goal.Point())
	if err != nil {
		return nil, err
	}

	reading := &CompassReading{
		Bearing:   bearing,
		Distance:  distance,
		Arrived:   distance <= e.arrivalRadius(goal.Radius),
		ExpiresAt: active.ExpiresAt,
	}
	if reading.Arrived {
		if err := e.consume(ctx, user, active.ItemID, 0); err != nil {
			return nil, err
		}
		e.logger.Info("compass arrived", "user_id", userID, "quest_id", where.next.ID)
	}
	return reading, nil
}

// arrivalRadius shrinks the fence by the tolerance, unless that would leave
// nothing of it.
func (e *ItemEngine) arrivalRadius(radius float64) float64 {
	if radius <= e.tolerance {
		return radius
	}
	return radius - e.tolerance
}

// arm makes the item the user's active item, expiring after its duration.
func (e *ItemEngine) arm(ctx context.Context, ac ActivationContext) (time.Time, error) {
	var expiresAt time.Time
	_, err := mutateUser(ctx, e.store, ac.User.ID, func(u *hunt.User) error {
		now := e.clock.Now()
		if u.ActiveItem != nil {
			return hunt.ErrItemAlreadyActive
		}
		if !u.Inventory[ac.Item.ID] {
			return hunt.ErrItemNotOwned
		}
		expiresAt = now.Add(ac.Item.DurationValue())
		u.ActiveItem = &hunt.ActiveItem{ItemID: ac.Item.ID, Type: ac.Item.Type, ExpiresAt: expiresAt}
		return nil
	})
	if err != nil {
		return time.Time{}, err
	}
	e.countdowns.Start(ac.User.ID, expiresAt)
	e.logger.Info("item activated",
		"user_id", ac.User.ID,
		"item_id", ac.Item.ID,
		"type", ac.Item.Type,
		"expires_at", expiresAt,
	)
	return expiresAt, nil
}

// claim takes the item away from the user whether or not it is running.
func (e *ItemEngine) claim(ctx context.Context, userID, itemID string) error {
	_, err := mutateUser(ctx, e.store, userID, func(u *hunt.User) error {
		if !u.Inventory[itemID] {
			return hunt.ErrItemNotOwned
		}
		delete(u.Inventory, itemID)
		if u.ActiveItem != nil && u.ActiveItem.ItemID == itemID {
			u.ActiveItem = nil
		}
		return nil
	})
	if err != nil {
		return err
	}
	e.countdowns.Stop(userID)
	return nil
}

// takeActive removes itemID from the user while it is running and not yet
// expired, returning it as it was.
func (e *ItemEngine) takeActive(ctx context.Context, userID, itemID string) (*hunt.ActiveItem, error) {
	var taken *hunt.ActiveItem
	_, err := mutateUser(ctx, e.store, userID, func(u *hunt.User) error {
		active := u.ActiveItem
		if active == nil || active.ItemID != itemID || !u.Inventory[itemID] {
			return hunt.ErrNoActiveItem
		}
		if active.Expired(e.clock.Now()) {
			return hunt.ErrItemExpired
		}
		taken = active
		delete(u.Inventory, itemID)
		u.ActiveItem = nil
		return nil
	})
	if err != nil {
		return nil, err
	}
	return taken, nil
}

// takeIdle removes itemID from a user who has nothing running.
func (e *ItemEngine) takeIdle(ctx context.Context, userID, itemID string) error {
	_, err := mutateUser(ctx, e.store, userID, func(u *hunt.User) error {
		if u.ActiveItem != nil {
			return hunt.ErrItemAlreadyActive
		}
		if !u.Inventory[itemID] {
			return hunt.ErrItemNotOwned
		}
		delete(u.Inventory, itemID)
		return nil
	})
	return err
}

// restore gives a taken item back. A non-nil active makes it run again until
// its original expiry, unless the user started another item meanwhile.
func (e *ItemEngine) restore(ctx context.Context, userID, itemID string, active *hunt.ActiveItem) {
	rearmed := false
	_, err := mutateUser(ctx, e.store, userID, func(u *hunt.User) error {
		rearmed = false
		if u.Inventory == nil {
			u.Inventory = make(map[string]bool)
		}
		u.Inventory[itemID] = true
		if active != nil && u.ActiveItem == nil {
			u.ActiveItem = active
			rearmed = true
		}
		return nil
	})
	if err != nil {
		e.logger.Error("restoring item failed", "user_id", userID, "item_id", itemID, "error", err)
		return
	}
	if rearmed {
		e.countdowns.Start(userID, active.ExpiresAt)
	}
}

// settle drops one held copy of itemID from the team and credits refund.
func (e *ItemEngine) settle(ctx context.Context, teamID, itemID string, refund int) error {
	_, err := mutateTeam(ctx, e.store, teamID, func(t *hunt.Team) error {
		t.Currency += refund
		if t.Inventory[itemID] > 0 {
			t.Inventory[itemID]--
			if t.Inventory[itemID] == 0 {
				delete(t.Inventory, itemID)
			}
		}
		return nil
	})
	return err
}

func (e *ItemEngine) consume(ctx context.Context, user *hunt.User, itemID string, refund int) error {
	if err := e.claim(ctx, user.ID, itemID); err != nil {
		return err
	}
	if err := e.settle(ctx, user.TeamID, itemID, refund); err != nil {
		e.logger.Error("settling consumed item failed",
			"team_id", user.TeamID,
			"item_id", itemID,
			"refund", refund,
			"error", err,
		)
		return err
	}
	return nil
}

func (e *ItemEngine) refund(ctx context.Context, ac ActivationContext) (*Activation, error) {
	if err := e.takeIdle(ctx, ac.User.ID, ac.Item.ID); err != nil {
		return nil, err
	}
	if err := e.settle(ctx, ac.Team.ID, ac.Item.ID, ac.Item.Price); err != nil {
		e.restore(ctx, ac.User.ID, ac.Item.ID, nil)
		return nil, err
	}
	e.logger.Info("item refunded",
		"user_id", ac.User.ID,
		"team_id", ac.Team.ID,
		"item_id", ac.Item.ID,
		"amount", ac.Item.Price,
	)
	return &Activation{
		Outcome:  OutcomeRefunded,
		ItemID:   ac.Item.ID,
		Type:     ac.Item.Type,
		Refunded: ac.Item.Price,
	}, nil
}

func (e *ItemEngine) targets(ctx context.Context, ac ActivationContext, eff TargetedEffect) ([]Target, error) {
	teams, err := loadTeams(ctx, e.store)
	if err != nil {
		return nil, err
	}
	var out []Target
	for _, t := range teams {
		if t.ID == ac.Team.ID || !eff.Eligible(t, ac.Item, ac.Now) {
			continue
		}
		out = append(out, Target{TeamID: t.ID, Name: t.Name, Color: t.Color})
	}
	return out, nil
}

// activateTargeted lists targets for eff, refunding when there are none.
func (e *ItemEngine) activateTargeted(ctx context.Context, ac ActivationContext, eff TargetedEffect) (*Activation, error) {
	targets, err := e.targets(ctx, ac, eff)
	if err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		return e.refund(ctx, ac)
	}
	expiresAt, err := e.arm(ctx, ac)
	if err != nil {
		return nil, err
	}
	return &Activation{
		Outcome:   OutcomeChooseTarget,
		ItemID:    ac.Item.ID,
		Type:      ac.Item.Type,
		ExpiresAt: &expiresAt,
		Targets:   targets,
	}, nil
}

// Compass points toward the next quest.
type Compass struct{ e *ItemEngine }

func (c Compass) Activate(ctx context.Context, ac ActivationContext) (*Activation, error) {
	quests, err := loadQuests(ctx, c.e.store)
	if err != nil {
		return nil, err
	}
	where := locate(ac.Team.Progress, quests)
	if where.phase != PhaseIdle || where.next == nil {
		return nil, hunt.ErrCompassUnavailable
	}
	expiresAt, err := c.e.arm(ctx, ac)
	if err != nil {
		return nil, err
	}
	return &Activation{Outcome: OutcomeTracking, ItemID: ac.Item.ID, Type: ac.Item.Type, ExpiresAt: &expiresAt}, nil
}

// Curse blocks a team from playing for the item's duration, followed by a
// cool-down of immunity.
type Curse struct{ e *ItemEngine }

func (c Curse) Activate(ctx context.Context, ac ActivationContext) (*Activation, error) {
	return c.e.activateTargeted(ctx, ac, c)
}

func (Curse) Eligible(target *hunt.Team, _ *hunt.Item, now time.Time) bool {
	return curseEligible(target, now)
}

func (c Curse) Apply(ctx context.Context, ac ActivationContext, target *hunt.Team) (*Resolution, error) {
	cursed, err := mutateTeam(ctx, c.e.store, target.ID, func(t *hunt.Team) error {
		now := c.e.clock.Now()
		if !curseEligible(t, now) {
			return hunt.ErrTargetNoLongerEligible
		}
		applyCurse(t, ac.Team.ID, now, ac.Item.DurationValue(), ac.Item.CoolDown())
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.e.logger.Info("team cursed",
		"team_id", target.ID,
		"by_team_id", ac.Team.ID,
		"cursed_until", cursed.CursedUntil,
		"immune_until", cursed.ImmuneUntil,
	)
	return &Resolution{
		Type:         hunt.ItemCurse,
		TargetTeamID: target.ID,
		CursedUntil:  cursed.CursedUntil,
		ImmuneUntil:  cursed.ImmuneUntil,
	}, nil
}

// Robbery moves StealAmount from another team to the robber's team.
type Robbery struct{ e *ItemEngine }

func (r Robbery) Activate(ctx context.Context, ac ActivationContext) (*Activation, error) {
	return r.e.activateTargeted(ctx, ac, r)
}

func (Robbery) Eligible(target *hunt.Team, item *hunt.Item, now time.Time) bool {
	return robberyEligible(target, item.StealAmount, now)
}

// Apply debits the target before crediting the robber. A failed credit after
// a successful debit is reported as PartialTransfer.
func (r Robbery) Apply(ctx context.Context, ac ActivationContext, target *hunt.Team) (*Resolution, error) {
	amount := ac.Item.StealAmount
	_, err := mutateTeam(ctx, r.e.store, target.ID, func(t *hunt.Team) error {
		if !robberyEligible(t, amount, r.e.clock.Now()) {
			return hunt.ErrTargetNoLongerEligible
		}
		t.Currency -= amount
		return nil
	})
	if err != nil {
		return nil, err
	}

	_, err = mutateTeam(ctx, r.e.store, ac.Team.ID, func(t *hunt.Team) error {
		t.Currency += amount
		return nil
	})
	if err != nil {
		r.e.logger.Error("robbery credit failed after debit",
			"from_team_id", target.ID,
			"to_team_id", ac.Team.ID,
			"amount", amount,
			"error", err,
		)
		return nil, hunt.Wrap(hunt.CodePartialTransfer,
			fmt.Sprintf("debited %d from team %s but could not credit team %s", amount, target.ID, ac.Team.ID), err)
	}

	r.e.logger.Info("team robbed", "team_id", target.ID, "by_team_id", ac.Team.ID, "amount", amount)
	return &Resolution{Type: hunt.ItemRobbery, TargetTeamID: target.ID, Amount: amount}, nil
}

// Immunity protects the holder's team for the item's duration. It cannot
// stack with an open immunity window or override a curse.
type Immunity struct{ e *ItemEngine }

func (im Immunity) Activate(ctx context.Context, ac ActivationContext) (*Activation, error) {
	if err := im.e.takeIdle(ctx, ac.User.ID, ac.Item.ID); err != nil {
		return nil, err
	}

	refunded := false
	team, err := mutateTeam(ctx, im.e.store, ac.Team.ID, func(t *hunt.Team) error {
		now := im.e.clock.Now()
		refunded = false
		if t.Inventory[ac.Item.ID] > 0 {
			t.Inventory[ac.Item.ID]--
			if t.Inventory[ac.Item.ID] == 0 {
				delete(t.Inventory, ac.Item.ID)
			}
		}
		if cursedAt(t, now) || immuneWindowAt(t, now) {
			t.Currency += ac.Item.Price
			refunded = true
			return nil
		}
		until := now.Add(ac.Item.DurationValue())
		t.ImmuneUntil = &until
		return nil
	})
	if err != nil {
		im.e.logger.Error("immunity team update failed, returning item",
			"user_id", ac.User.ID,
			"team_id", ac.Team.ID,
			"item_id", ac.Item.ID,
			"error", err,
		)
		im.e.restore(ctx, ac.User.ID, ac.Item.ID, nil)
		return nil, err
	}

	act := &Activation{ItemID: ac.Item.ID, Type: ac.Item.Type}
	if refunded {
		act.Outcome = OutcomeRefunded
		act.Refunded = ac.Item.Price
		im.e.logger.Info("item refunded", "user_id", ac.User.ID, "team_id", ac.Team.ID, "item_id", ac.Item.ID, "amount", ac.Item.Price)
		return act, nil
	}
	act.Outcome = OutcomeApplied
	act.ImmuneUntil = team.ImmuneUntil
	im.e.logger.Info("team immune", "team_id", ac.Team.ID, "immune_until", team.ImmuneUntil)
	return act, nil
}

// Default is the effect of an item whose type the game does not know. It
// never changes state.
type Default struct{}

func (Default) Activate(_ context.Context, ac ActivationContext) (*Activation, error) {
	return nil, hunt.Newf(hunt.CodeConfigurationError,
		"item %q has unknown type %q, contact the game master", ac.Item.Name, ac.Item.Type)
}

package engine

import (
	"time"

	"github.com/playperu/questhunt/internal/hunt"
)

type Condition string

const (
	ConditionNormal Condition = "normal"
	ConditionCursed Condition = "cursed"
	ConditionImmune Condition = "immune"
)

// Status is a team's effective curse/immunity state at one instant.
type Status struct {
	Condition Condition  `json:"condition"`
	Until     *time.Time `json:"until,omitempty"`
	CursedBy  string     `json:"cursedBy,omitempty"`
}

func cursedAt(t *hunt.Team, now time.Time) bool {
	return t.CursedUntil != nil && now.Before(*t.CursedUntil)
}

// immuneWindowAt reports whether the immunity window is open, ignoring any curse.
func immuneWindowAt(t *hunt.Team, now time.Time) bool {
	return t.ImmuneUntil != nil && now.Before(*t.ImmuneUntil)
}

// EffectiveStatus resolves the curse and immunity windows. A curse dominates an
// overlapping immunity window; immunity takes effect once the curse lapses.
func EffectiveStatus(t *hunt.Team, now time.Time) Status {
	switch {
	case cursedAt(t, now):
		until := *t.CursedUntil
		return Status{Condition: ConditionCursed, Until: &until, CursedBy: t.CursedBy}
	case immuneWindowAt(t, now):
		until := *t.ImmuneUntil
		return Status{Condition: ConditionImmune, Until: &until}
	default:
		return Status{Condition: ConditionNormal}
	}
}

// applyCurse stamps the curse and the immunity that follows it.
func applyCurse(target *hunt.Team, by string, now time.Time, duration, coolDown time.Duration) {
	cursedUntil := now.Add(duration)
	immuneUntil := cursedUntil.Add(coolDown)
	target.CursedUntil = &cursedUntil
	target.CursedBy = by
	target.ImmuneUntil = &immuneUntil
}

func curseEligible(t *hunt.Team, now time.Time) bool {
	return !cursedAt(t, now) && !immuneWindowAt(t, now)
}

func robberyEligible(t *hunt.Team, stealAmount int, now time.Time) bool {
	return EffectiveStatus(t, now).Condition != ConditionImmune && t.Currency >= stealAmount
}

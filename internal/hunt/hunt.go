// Package hunt defines the core domain records of a quest hunt and the error
// taxonomy shared by the engines. It has zero external dependencies.
package hunt

import (
	"slices"
	"time"
)

// Collection names in the document store.
const (
	CollectionTeams    = "teams"
	CollectionUsers    = "users"
	CollectionQuests   = "quests"
	CollectionItems    = "items"
	CollectionMessages = "messages"
	CollectionSessions = "sessions"
)

// LocationHistoryCollection is the per-user subcollection of recorded fixes.
func LocationHistoryCollection(userID string) string {
	return CollectionUsers + "/" + userID + "/locationHistory"
}

// AdminParty is the sentinel used in Message.From/To for the organizers.
const AdminParty = "admin"

type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type Progress struct {
	CurrentQuest   string   `json:"currentQuest"`
	PreviousQuests []string `json:"previousQuests"`
	CluePurchased  []string `json:"cluePurchased"`
}

func (p Progress) Solved(questID string) bool {
	return slices.Contains(p.PreviousQuests, questID)
}

func (p Progress) HasClue(questID string) bool {
	return slices.Contains(p.CluePurchased, questID)
}

type Team struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Color       string         `json:"color"`
	Currency    int            `json:"currency"`
	Progress    Progress       `json:"progress"`
	Inventory   map[string]int `json:"inventory"`
	CursedUntil *time.Time     `json:"cursedUntil,omitempty"`
	CursedBy    string         `json:"cursedBy,omitempty"`
	ImmuneUntil *time.Time     `json:"immuneUntil,omitempty"`
	LastSolveAt *time.Time     `json:"lastSolveAt,omitempty"`
}

func (t *Team) Validate() error {
	if t.ID == "" {
		return Malformed("team", "id")
	}
	if t.Name == "" {
		return Malformed("team", "name")
	}
	if t.Currency < 0 {
		return Malformed("team", "currency")
	}
	return nil
}

type ActiveItem struct {
	ItemID    string    `json:"itemId"`
	Type      ItemType  `json:"type"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Expired reports whether the item must no longer grant its effect at now.
func (a *ActiveItem) Expired(now time.Time) bool {
	return a != nil && !now.Before(a.ExpiresAt)
}

type User struct {
	ID          string          `json:"id"`
	Email       string          `json:"email"`
	TeamID      string          `json:"teamId"`
	IsAdmin     bool            `json:"isAdmin"`
	Location    *LatLng         `json:"location,omitempty"`
	LastUpdated *time.Time      `json:"lastUpdated,omitempty"`
	Inventory   map[string]bool `json:"inventory"`
	ActiveItem  *ActiveItem     `json:"activeItem,omitempty"`
}

func (u *User) Validate() error {
	if u.ID == "" {
		return Malformed("user", "id")
	}
	if u.Email == "" {
		return Malformed("user", "email")
	}
	if !u.IsAdmin && u.TeamID == "" {
		return Malformed("user", "teamId")
	}
	return nil
}

// LocationFix is one entry of a user's append-only location history.
type LocationFix struct {
	ID        string    `json:"id"`
	Position  LatLng    `json:"position"`
	Timestamp time.Time `json:"timestamp"`
}

type MediaKind string

const (
	MediaImage MediaKind = "image"
	MediaVideo MediaKind = "video"
)

type Media struct {
	Kind MediaKind `json:"kind"`
	URL  string    `json:"url"`
}

type QuestLocation struct {
	Lat    float64 `json:"lat"`
	Lng    float64 `json:"lng"`
	Radius float64 `json:"radius"`
}

func (l QuestLocation) Point() LatLng { return LatLng{Lat: l.Lat, Lng: l.Lng} }

type Quest struct {
	ID       string        `json:"id"`
	Sequence int           `json:"sequence"`
	Name     string        `json:"name"`
	Hint     string        `json:"hint"`
	Text     string        `json:"text"`
	Clue     string        `json:"clue,omitempty"`
	Answer   []string      `json:"answer"`
	Media    *Media        `json:"media,omitempty"`
	Location QuestLocation `json:"location"`
}

func (q *Quest) Validate() error {
	switch {
	case q.ID == "":
		return Malformed("quest", "id")
	case q.Sequence < 1:
		return Malformed("quest", "sequence")
	case q.Name == "":
		return Malformed("quest", "name")
	case len(q.Answer) == 0:
		return Malformed("quest", "answer")
	case q.Location.Radius <= 0:
		return Malformed("quest", "location.radius")
	}
	if q.Media != nil && q.Media.Kind != MediaImage && q.Media.Kind != MediaVideo {
		return Malformed("quest", "media.kind")
	}
	return nil
}

type ItemType string

const (
	ItemCompass  ItemType = "compass"
	ItemRobbery  ItemType = "robbery"
	ItemCurse    ItemType = "curse"
	ItemImmunity ItemType = "immunity"
)

type Item struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Type        ItemType `json:"type"`
	Price       int      `json:"price"`
	// Duration is in minutes; what it bounds depends on Type.
	Duration       int `json:"duration"`
	StealAmount    int `json:"stealAmount,omitempty"`
	CoolDownPeriod int `json:"coolDownPeriod,omitempty"`
}

func (i *Item) Validate() error {
	switch {
	case i.ID == "":
		return Malformed("item", "id")
	case i.Name == "":
		return Malformed("item", "name")
	case i.Price < 0:
		return Malformed("item", "price")
	case i.Duration < 0:
		return Malformed("item", "duration")
	case i.StealAmount < 0:
		return Malformed("item", "stealAmount")
	case i.CoolDownPeriod < 0:
		return Malformed("item", "coolDownPeriod")
	}
	return nil
}

func (i *Item) DurationValue() time.Duration {
	return time.Duration(i.Duration) * time.Minute
}

func (i *Item) CoolDown() time.Duration {
	return time.Duration(i.CoolDownPeriod) * time.Minute
}

type Message struct {
	ID string `json:"id"`
	// Thread is the team side of the conversation, whichever party sent it.
	Thread      string    `json:"thread"`
	From        string    `json:"from"`
	To          string    `json:"to"`
	Text        string    `json:"text"`
	Timestamp   time.Time `json:"timestamp"`
	ReadByTeam  bool      `json:"readByTeam"`
	ReadByAdmin bool      `json:"readByAdmin"`
}

func (m *Message) Validate() error {
	if m.ID == "" {
		return Malformed("message", "id")
	}
	if m.From == "" || m.To == "" {
		return Malformed("message", "from/to")
	}
	return nil
}

// Session binds a bearer token to a user.
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	CreatedAt time.Time `json:"createdAt"`
}

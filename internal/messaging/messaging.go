// Package messaging tracks the organizer/team chat and who has read what.
// Each message carries one read flag per side; unread counts are always
// computed from those flags, never stored.
package messaging

import (
	"context"
	"log/slog"
	"slices"
	"strings"

	"github.com/playperu/questhunt/internal/docstore"
	"github.com/playperu/questhunt/internal/hunt"
)

type Tracker struct {
	store  docstore.Client
	logger *slog.Logger
}

func New(store docstore.Client, logger *slog.Logger) *Tracker {
	return &Tracker{store: store, logger: logger}
}

// readField is the flag a party owns on messages addressed to it.
func readField(party string) string {
	if party == hunt.AdminParty {
		return "readByAdmin"
	}
	return "readByTeam"
}

func isRead(m *hunt.Message, party string) bool {
	if party == hunt.AdminParty {
		return m.ReadByAdmin
	}
	return m.ReadByTeam
}

func sortByTime(msgs []*hunt.Message) {
	slices.SortStableFunc(msgs, func(a, b *hunt.Message) int {
		return a.Timestamp.Compare(b.Timestamp)
	})
}

// Send stores a message between a team and the organizers. The sender's own
// read flag is set at write time.
func (t *Tracker) Send(ctx context.Context, from, to, text string) (*hunt.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, hunt.New(hunt.CodeMalformedDocument, "message text is required")
	}
	var teamID string
	switch {
	case from == hunt.AdminParty && to != hunt.AdminParty && to != "":
		teamID = to
	case to == hunt.AdminParty && from != hunt.AdminParty && from != "":
		teamID = from
	default:
		return nil, hunt.Newf(hunt.CodeInvalidTarget, "messages go between a team and %s", hunt.AdminParty)
	}
	if _, err := t.store.Get(ctx, hunt.CollectionTeams, teamID); err != nil {
		return nil, err
	}

	msg := &hunt.Message{
		Thread:      teamID,
		From:        from,
		To:          to,
		Text:        text,
		Timestamp:   t.store.ServerTimestamp(),
		ReadByTeam:  from != hunt.AdminParty,
		ReadByAdmin: from == hunt.AdminParty,
	}
	id, err := t.store.Add(ctx, hunt.CollectionMessages, msg)
	if err != nil {
		return nil, err
	}
	msg.ID = id

	t.logger.Info("message sent", "message_id", id, "from", from, "to", to)
	return msg, nil
}

func (t *Tracker) Conversation(ctx context.Context, teamID string) ([]*hunt.Message, error) {
	msgs, err := docstore.Find[hunt.Message](ctx, t.store, docstore.Query{
		Collection: hunt.CollectionMessages,
		Where:      []docstore.Predicate{docstore.Where("thread", docstore.Eq, teamID)},
	})
	if err != nil {
		return nil, err
	}
	sortByTime(msgs)
	return msgs, nil
}

func unreadQuery(to, teamID string) docstore.Query {
	return docstore.Query{
		Collection: hunt.CollectionMessages,
		Where: []docstore.Predicate{
			docstore.Where("thread", docstore.Eq, teamID),
			docstore.Where("to", docstore.Eq, to),
			docstore.Where(readField(to), docstore.Eq, false),
		},
	}
}

// UnreadForAdmin counts messages from teamID the organizers have not read.
func (t *Tracker) UnreadForAdmin(ctx context.Context, teamID string) (int, error) {
	return t.store.Count(ctx, unreadQuery(hunt.AdminParty, teamID))
}

// UnreadForTeam counts organizer messages the team has not read.
func (t *Tracker) UnreadForTeam(ctx context.Context, teamID string) (int, error) {
	return t.store.Count(ctx, unreadQuery(teamID, teamID))
}

func (t *Tracker) TeamHasUnread(ctx context.Context, teamID string) (bool, error) {
	n, err := t.UnreadForTeam(ctx, teamID)
	return n > 0, err
}

// UnreadByTeam returns the organizers' unread count per team, omitting
// teams with nothing unread.
func (t *Tracker) UnreadByTeam(ctx context.Context) (map[string]int, error) {
	msgs, err := docstore.Find[hunt.Message](ctx, t.store, docstore.Query{
		Collection: hunt.CollectionMessages,
		Where: []docstore.Predicate{
			docstore.Where("to", docstore.Eq, hunt.AdminParty),
			docstore.Where("readByAdmin", docstore.Eq, false),
		},
	})
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int)
	for _, m := range msgs {
		counts[m.Thread]++
	}
	return counts, nil
}

// markRead flips viewer's flag on every message in msgs addressed to viewer
// that is still unread, in one batch, and returns how many it marked.
func (t *Tracker) markRead(ctx context.Context, viewer string, msgs []*hunt.Message) (int, error) {
	var ids []string
	for _, m := range msgs {
		if m.To == viewer && !isRead(m, viewer) {
			ids = append(ids, m.ID)
		}
	}
	if len(ids) == 0 {
		return 0, nil
	}
	field := readField(viewer)
	err := t.store.Batch(ctx, func(b *docstore.Batch) error {
		for _, id := range ids {
			b.Update(hunt.CollectionMessages, id, map[string]any{field: true})
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	for _, m := range msgs {
		if m.To == viewer {
			if viewer == hunt.AdminParty {
				m.ReadByAdmin = true
			} else {
				m.ReadByTeam = true
			}
		}
	}
	return len(ids), nil
}

// Open shows the conversation of teamID to viewer, which is either
// hunt.AdminParty or teamID itself. Everything addressed to viewer is marked
// read before Open returns; while open, new arrivals are marked as they come
// in and onMessages receives the whole conversation after every change.
// The returned function closes the conversation.
func (t *Tracker) Open(ctx context.Context, viewer, teamID string, onMessages func([]*hunt.Message)) (func(), error) {
	if viewer != hunt.AdminParty && viewer != teamID {
		return nil, hunt.Newf(hunt.CodeInvalidTarget, "%s cannot read the conversation of %s", viewer, teamID)
	}

	msgs, err := t.Conversation(ctx, teamID)
	if err != nil {
		return nil, err
	}
	n, err := t.markRead(ctx, viewer, msgs)
	if err != nil {
		return nil, err
	}
	if n > 0 {
		t.logger.Debug("conversation marked read", "viewer", viewer, "team_id", teamID, "count", n)
	}

	writeCtx := context.WithoutCancel(ctx)
	unsubscribe := t.store.Subscribe(docstore.Query{
		Collection: hunt.CollectionMessages,
		Where:      []docstore.Predicate{docstore.Where("thread", docstore.Eq, teamID)},
	}, func(docs []docstore.Doc) {
		msgs := make([]*hunt.Message, 0, len(docs))
		for _, d := range docs {
			m, err := docstore.Decode[hunt.Message](d.Data)
			if err != nil {
				t.logger.Warn("skipping malformed message", "id", d.ID, "error", err)
				continue
			}
			msgs = append(msgs, m)
		}
		sortByTime(msgs)
		if _, err := t.markRead(writeCtx, viewer, msgs); err != nil {
			t.logger.Error("marking messages read failed", "viewer", viewer, "team_id", teamID, "error", err)
		}
		onMessages(msgs)
	})
	return unsubscribe, nil
}

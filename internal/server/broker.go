package server

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/playperu/questhunt/internal/hunt"
	"github.com/playperu/questhunt/internal/pubsub"
)

// Event is the payload pushed to SSE subscribers.
type Event struct {
	Type       string `json:"type"`
	QuestID    string `json:"questId,omitempty"`
	TeamID     string `json:"teamId,omitempty"`
	Collection string `json:"collection,omitempty"`
}

const (
	EventQuestActivated   = "quest_activated"
	EventQuestDeactivated = "quest_deactivated"
	EventQuestSolved      = "quest_solved"
	EventCursed           = "cursed"
	EventRobbed           = "robbed"
	EventMessage          = "message"
	EventChanged          = "changed"
)

// broadcastCollections are relayed to every subscriber as "changed" events
// so clients refetch state, the leaderboard or the quest list.
var broadcastCollections = []string{hunt.CollectionTeams, hunt.CollectionQuests}

// Broker is an in-process pub/sub for SSE events, keyed by team ID.
type Broker struct {
	mu   sync.RWMutex
	subs map[string]map[chan []byte]struct{}
}

func NewBroker() *Broker {
	return &Broker{
		subs: make(map[string]map[chan []byte]struct{}),
	}
}

// Subscribe returns a channel that receives JSON-encoded events for the given team.
func (b *Broker) Subscribe(teamID string) chan []byte {
	ch := make(chan []byte, 16)
	b.mu.Lock()
	if b.subs[teamID] == nil {
		b.subs[teamID] = make(map[chan []byte]struct{})
	}
	b.subs[teamID][ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Broker) Unsubscribe(teamID string, ch chan []byte) {
	b.mu.Lock()
	delete(b.subs[teamID], ch)
	if len(b.subs[teamID]) == 0 {
		delete(b.subs, teamID)
	}
	b.mu.Unlock()
}

// Publish sends an event to all subscribers of the given team.
func (b *Broker) Publish(teamID string, event Event) {
	data, _ := json.Marshal(event)
	b.mu.RLock()
	for ch := range b.subs[teamID] {
		send(ch, data)
	}
	b.mu.RUnlock()
}

// Broadcast sends an event to every subscriber.
func (b *Broker) Broadcast(event Event) {
	data, _ := json.Marshal(event)
	b.mu.RLock()
	for _, team := range b.subs {
		for ch := range team {
			send(ch, data)
		}
	}
	b.mu.RUnlock()
}

func send(ch chan []byte, data []byte) {
	select {
	case ch <- data:
	default:
		// Drop if subscriber is slow.
	}
}

// Run relays document changes from feed until ctx is done. Changes relayed
// from other instances arrive through the same feed.
func (b *Broker) Run(ctx context.Context, feed *pubsub.Feed) error {
	var wg sync.WaitGroup
	for _, collection := range broadcastCollections {
		ch := feed.Subscribe(collection)
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer feed.Unsubscribe(collection, ch)
			for {
				select {
				case <-ctx.Done():
					return
				case <-ch:
					b.Broadcast(Event{Type: EventChanged, Collection: collection})
				}
			}
		}()
	}
	wg.Wait()
	return nil
}

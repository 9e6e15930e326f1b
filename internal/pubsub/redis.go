package pubsub

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const redisChannel = "questhunt:changes"

type relayMessage struct {
	Origin string `json:"origin"`
	Change Change `json:"change"`
}

// RedisRelay forwards changes between server instances sharing one database.
// Local subscribers are notified directly; remote ones through Redis.
type RedisRelay struct {
	rdb    *redis.Client
	feed   *Feed
	origin string
	logger *slog.Logger
}

func NewRedisRelay(rdb *redis.Client, feed *Feed, logger *slog.Logger) *RedisRelay {
	return &RedisRelay{
		rdb:    rdb,
		feed:   feed,
		origin: uuid.NewString(),
		logger: logger,
	}
}

func (r *RedisRelay) Publish(c Change) {
	r.feed.Publish(c)

	data, err := json.Marshal(relayMessage{Origin: r.origin, Change: c})
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.rdb.Publish(ctx, redisChannel, data).Err(); err != nil {
		r.logger.Warn("relaying change failed", "collection", c.Collection, "id", c.ID, "error", err)
	}
}

// Run delivers changes published by other instances until ctx is done.
func (r *RedisRelay) Run(ctx context.Context) error {
	sub := r.rdb.Subscribe(ctx, redisChannel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var m relayMessage
			if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil {
				r.logger.Warn("dropping malformed relay message", "error", err)
				continue
			}
			if m.Origin == r.origin {
				continue
			}
			r.feed.Publish(m.Change)
		}
	}
}

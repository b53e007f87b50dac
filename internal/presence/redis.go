package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"canvas-backend/internal/model"
)

// RedisChannel stores one key per (page, user) with the presence TTL and
// fans updates out over a per-page pub/sub topic. Key expiry doubles as the
// disconnect removal: a client that vanishes without clearing simply stops
// refreshing and drops off within the window.
type RedisChannel struct {
	client *redis.Client
	pageID string
	log    *zap.Logger

	mu   sync.Mutex
	subs []context.CancelFunc
}

func NewRedisChannel(client *redis.Client, pageID string, log *zap.Logger) *RedisChannel {
	return &RedisChannel{client: client, pageID: pageID, log: log}
}

func (c *RedisChannel) userKey(userID string) string {
	return fmt.Sprintf("presence:page:%s:user:%s", c.pageID, userID)
}

func (c *RedisChannel) keyPattern() string {
	return fmt.Sprintf("presence:page:%s:user:*", c.pageID)
}

func (c *RedisChannel) topic() string {
	return "presence_updates:" + c.pageID
}

func (c *RedisChannel) Publish(ctx context.Context, rec model.PresenceRecord) error {
	rec.PageID = c.pageID
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, c.userKey(rec.UserID), data, model.PresenceTTL).Err(); err != nil {
		return err
	}
	return c.client.Publish(ctx, c.topic(), data).Err()
}

func (c *RedisChannel) Clear(ctx context.Context, userID string) error {
	if err := c.client.Del(ctx, c.userKey(userID)).Err(); err != nil {
		return err
	}
	// An empty record with a zero LastSeen tells subscribers the user left.
	gone, err := json.Marshal(model.PresenceRecord{UserID: userID, PageID: c.pageID})
	if err != nil {
		return err
	}
	return c.client.Publish(ctx, c.topic(), gone).Err()
}

func (c *RedisChannel) Snapshot(ctx context.Context) (map[string]model.PresenceRecord, error) {
	keys, err := c.client.Keys(ctx, c.keyPattern()).Result()
	if err != nil {
		return nil, err
	}
	records := make(map[string]model.PresenceRecord, len(keys))
	if len(keys) == 0 {
		return records, nil
	}
	values, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var rec model.PresenceRecord
		if err := json.Unmarshal([]byte(s), &rec); err != nil {
			continue
		}
		records[rec.UserID] = rec
	}
	return records, nil
}

// Subscribe listens on the page topic and emits a fresh record map after
// every update. Emission is drop-on-full: a slow consumer sees the latest
// state on its next receive, never a backlog.
func (c *RedisChannel) Subscribe(ctx context.Context) (<-chan map[string]model.PresenceRecord, func()) {
	subCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.subs = append(c.subs, cancel)
	c.mu.Unlock()

	out := make(chan map[string]model.PresenceRecord, 4)
	pubsub := c.client.Subscribe(subCtx, c.topic())

	go func() {
		defer close(out)
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case _, ok := <-ch:
				if !ok {
					return
				}
				records, err := c.Snapshot(subCtx)
				if err != nil {
					if subCtx.Err() == nil {
						c.log.Warn("presence snapshot failed", zap.String("page", c.pageID), zap.Error(err))
					}
					continue
				}
				select {
				case out <- records:
				default:
				}
			}
		}
	}()

	return out, cancel
}

func (c *RedisChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, cancel := range c.subs {
		cancel()
	}
	c.subs = nil
	return nil
}

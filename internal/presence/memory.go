package presence

import (
	"context"
	"sync"

	"canvas-backend/internal/model"
)

// MemoryChannel is an in-process Channel with the same semantics as the
// redis one, minus key expiry (consumers filter on LastSeen anyway). Used
// by tests and single-process runs.
type MemoryChannel struct {
	mu      sync.Mutex
	pageID  string
	records map[string]model.PresenceRecord
	subs    map[int]chan map[string]model.PresenceRecord
	next    int
	closed  bool
}

func NewMemoryChannel(pageID string) *MemoryChannel {
	return &MemoryChannel{
		pageID:  pageID,
		records: map[string]model.PresenceRecord{},
		subs:    map[int]chan map[string]model.PresenceRecord{},
	}
}

func (c *MemoryChannel) Publish(ctx context.Context, rec model.PresenceRecord) error {
	rec.PageID = c.pageID
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.records[rec.UserID] = rec
	c.broadcastLocked()
	return nil
}

func (c *MemoryChannel) Clear(ctx context.Context, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	delete(c.records, userID)
	c.broadcastLocked()
	return nil
}

func (c *MemoryChannel) Snapshot(ctx context.Context) (map[string]model.PresenceRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.copyLocked(), nil
}

func (c *MemoryChannel) Subscribe(ctx context.Context) (<-chan map[string]model.PresenceRecord, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan map[string]model.PresenceRecord, 4)
	id := c.next
	c.next++
	c.subs[id] = ch
	cancel := func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if sub, ok := c.subs[id]; ok {
			delete(c.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

func (c *MemoryChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for id, ch := range c.subs {
		delete(c.subs, id)
		close(ch)
	}
	return nil
}

func (c *MemoryChannel) copyLocked() map[string]model.PresenceRecord {
	out := make(map[string]model.PresenceRecord, len(c.records))
	for id, rec := range c.records {
		out[id] = rec
	}
	return out
}

func (c *MemoryChannel) broadcastLocked() {
	snapshot := c.copyLocked()
	for _, ch := range c.subs {
		select {
		case ch <- snapshot:
		default:
		}
	}
}

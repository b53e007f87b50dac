package store

import (
	"context"
	"errors"
	"sync"

	"canvas-backend/internal/model"
)

// Sentinel results of a fenced write. Callers branch on these; anything else
// is a transport failure and propagates.
var (
	ErrConflict         = errors.New("version conflict")
	ErrNotFound         = errors.New("shape not found")
	ErrPermissionDenied = errors.New("permission denied")
)

// WriteMeta carries the audit fields stamped onto every successful write.
type WriteMeta struct {
	Actor     string
	RequestID string
}

// Store is the authoritative shape store contract. Write and Reparent are
// compare-and-swap: they succeed only when the stored version still equals
// expectedVersion, and bump it by exactly 1.
type Store interface {
	Read(ctx context.Context, id string) (*model.ShapeNode, error)
	ListPage(ctx context.Context, pageID string) ([]*model.ShapeNode, error)
	Create(ctx context.Context, n *model.ShapeNode) error
	Write(ctx context.Context, id string, patch model.ShapePatch, expectedVersion int64, meta WriteMeta) (int64, error)
	Reparent(ctx context.Context, id string, newParentID *string, localX, localY, orderKey float64, expectedVersion int64, meta WriteMeta) (int64, error)
	Delete(ctx context.Context, id string) error

	// Subscribe streams the full ordered shape list of a page after every
	// mutation, starting with the current state. The returned func cancels.
	Subscribe(pageID string) (<-chan []*model.ShapeNode, func())
}

// notifier fans page updates out to subscribers. Slow subscribers drop
// intermediate states, never block writers; each event is a full list so a
// dropped one is made obsolete by the next.
type notifier struct {
	mu   sync.Mutex
	subs map[string]map[int]chan []*model.ShapeNode
	next int
}

func newNotifier() *notifier {
	return &notifier{subs: map[string]map[int]chan []*model.ShapeNode{}}
}

func (n *notifier) subscribe(pageID string) (<-chan []*model.ShapeNode, func()) {
	n.mu.Lock()
	defer n.mu.Unlock()
	ch := make(chan []*model.ShapeNode, 16)
	id := n.next
	n.next++
	if n.subs[pageID] == nil {
		n.subs[pageID] = map[int]chan []*model.ShapeNode{}
	}
	n.subs[pageID][id] = ch
	cancel := func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		if sub, ok := n.subs[pageID][id]; ok {
			delete(n.subs[pageID], id)
			close(sub)
		}
	}
	return ch, cancel
}

func (n *notifier) publish(pageID string, shapes []*model.ShapeNode) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, ch := range n.subs[pageID] {
		select {
		case ch <- shapes:
		default:
		}
	}
}

package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"canvas-backend/internal/model"
)

// MemoryStore keeps shapes in a flat id-indexed map. Same CAS semantics as
// the postgres store; used by tests and as a storage mode for local runs.
type MemoryStore struct {
	mu       sync.RWMutex
	shapes   map[string]*model.ShapeNode
	notifier *notifier

	// DenyWrite lets tests simulate a permission failure for a shape id.
	DenyWrite func(id string) bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		shapes:   map[string]*model.ShapeNode{},
		notifier: newNotifier(),
	}
}

func (s *MemoryStore) Read(ctx context.Context, id string) (*model.ShapeNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.shapes[id]
	if !ok {
		return nil, ErrNotFound
	}
	return n.Clone(), nil
}

func (s *MemoryStore) ListPage(ctx context.Context, pageID string) ([]*model.ShapeNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pageShapesLocked(pageID), nil
}

func (s *MemoryStore) Create(ctx context.Context, n *model.ShapeNode) error {
	s.mu.Lock()
	if n.Version == 0 {
		n.Version = 1
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	s.shapes[n.ID] = n.Clone()
	shapes := s.pageShapesLocked(n.PageID)
	s.mu.Unlock()

	s.notifier.publish(n.PageID, shapes)
	return nil
}

func (s *MemoryStore) Write(ctx context.Context, id string, patch model.ShapePatch, expectedVersion int64, meta WriteMeta) (int64, error) {
	s.mu.Lock()
	n, ok := s.shapes[id]
	if !ok {
		s.mu.Unlock()
		return 0, ErrNotFound
	}
	if s.DenyWrite != nil && s.DenyWrite(id) {
		s.mu.Unlock()
		return 0, ErrPermissionDenied
	}
	if n.Version != expectedVersion {
		s.mu.Unlock()
		return 0, ErrConflict
	}
	patch.Apply(n)
	n.Version = expectedVersion + 1
	n.UpdatedBy = meta.Actor
	n.UpdatedAt = time.Now()
	n.UpdatedByRequest = meta.RequestID
	pageID := n.PageID
	newVersion := n.Version
	shapes := s.pageShapesLocked(pageID)
	s.mu.Unlock()

	s.notifier.publish(pageID, shapes)
	return newVersion, nil
}

func (s *MemoryStore) Reparent(ctx context.Context, id string, newParentID *string, localX, localY, orderKey float64, expectedVersion int64, meta WriteMeta) (int64, error) {
	s.mu.Lock()
	n, ok := s.shapes[id]
	if !ok {
		s.mu.Unlock()
		return 0, ErrNotFound
	}
	if n.Version != expectedVersion {
		s.mu.Unlock()
		return 0, ErrConflict
	}
	n.ParentID = newParentID
	n.X = localX
	n.Y = localY
	n.OrderKey = orderKey
	n.Version = expectedVersion + 1
	n.UpdatedBy = meta.Actor
	n.UpdatedAt = time.Now()
	n.UpdatedByRequest = meta.RequestID
	pageID := n.PageID
	newVersion := n.Version
	shapes := s.pageShapesLocked(pageID)
	s.mu.Unlock()

	s.notifier.publish(pageID, shapes)
	return newVersion, nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	n, ok := s.shapes[id]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	pageID := n.PageID
	delete(s.shapes, id)
	shapes := s.pageShapesLocked(pageID)
	s.mu.Unlock()

	s.notifier.publish(pageID, shapes)
	return nil
}

func (s *MemoryStore) Subscribe(pageID string) (<-chan []*model.ShapeNode, func()) {
	ch, cancel := s.notifier.subscribe(pageID)
	s.mu.RLock()
	shapes := s.pageShapesLocked(pageID)
	s.mu.RUnlock()
	s.notifier.publish(pageID, shapes)
	return ch, cancel
}

// pageShapesLocked returns cloned page shapes in order-key order.
func (s *MemoryStore) pageShapesLocked(pageID string) []*model.ShapeNode {
	shapes := make([]*model.ShapeNode, 0)
	for _, n := range s.shapes {
		if n.PageID == pageID {
			shapes = append(shapes, n.Clone())
		}
	}
	sortShapes(shapes)
	return shapes
}

func sortShapes(shapes []*model.ShapeNode) {
	sort.Slice(shapes, func(i, j int) bool {
		if shapes[i].OrderKey != shapes[j].OrderKey {
			return shapes[i].OrderKey < shapes[j].OrderKey
		}
		return shapes[i].ID < shapes[j].ID
	})
}

package snapshot

import (
	"sort"
	"sync"

	"canvas-backend/internal/model"
)

// Snapshot is a read-only ordered view of a page's shapes, replaced
// wholesale from store subscription events. Every read by the sync core
// goes through here, never back to the transport.
type Snapshot struct {
	mu      sync.RWMutex
	pageID  string
	byID    map[string]*model.ShapeNode
	ordered []*model.ShapeNode
}

func New(pageID string) *Snapshot {
	return &Snapshot{
		pageID: pageID,
		byID:   map[string]*model.ShapeNode{},
	}
}

func (s *Snapshot) PageID() string {
	return s.pageID
}

// Replace swaps in a new shape list. The list is re-sorted defensively so
// iteration order is order-key order regardless of the source.
func (s *Snapshot) Replace(shapes []*model.ShapeNode) {
	ordered := make([]*model.ShapeNode, len(shapes))
	copy(ordered, shapes)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].OrderKey < ordered[j].OrderKey
	})
	byID := make(map[string]*model.ShapeNode, len(ordered))
	for _, n := range ordered {
		byID[n.ID] = n
	}

	s.mu.Lock()
	s.byID = byID
	s.ordered = ordered
	s.mu.Unlock()
}

func (s *Snapshot) ByID(id string) (*model.ShapeNode, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.byID[id]
	return n, ok
}

// Shapes returns the shapes in order-key order. The slice is a copy; the
// nodes are shared and must not be mutated.
func (s *Snapshot) Shapes() []*model.ShapeNode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.ShapeNode, len(s.ordered))
	copy(out, s.ordered)
	return out
}

func (s *Snapshot) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ordered)
}

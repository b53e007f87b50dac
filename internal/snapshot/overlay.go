package snapshot

import (
	"sync"

	"canvas-backend/internal/geometry"
	"canvas-backend/internal/model"
)

// Overlay is one client's private set of optimistic world-position
// overrides, merged over the snapshot at read time. It is never propagated
// to other clients except indirectly through the commits it feeds.
type Overlay struct {
	mu        sync.RWMutex
	overrides map[string]geometry.Point
}

func NewOverlay() *Overlay {
	return &Overlay{overrides: map[string]geometry.Point{}}
}

func (o *Overlay) Set(id string, world geometry.Point) {
	o.mu.Lock()
	o.overrides[id] = world
	o.mu.Unlock()
}

func (o *Overlay) Get(id string) (geometry.Point, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	p, ok := o.overrides[id]
	return p, ok
}

func (o *Overlay) Clear(id string) {
	o.mu.Lock()
	delete(o.overrides, id)
	o.mu.Unlock()
}

func (o *Overlay) ClearAll() {
	o.mu.Lock()
	o.overrides = map[string]geometry.Point{}
	o.mu.Unlock()
}

// Snapshot returns a copy of the override map, keyed by shape id.
func (o *Overlay) Snapshot() map[string]geometry.Point {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make(map[string]geometry.Point, len(o.overrides))
	for id, p := range o.overrides {
		out[id] = p
	}
	return out
}

func (o *Overlay) Len() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.overrides)
}

// Effective merges the overlay over the snapshot: overridden shapes are
// cloned with their stored position replaced by the override converted back
// to parent-local space, so the result keeps stored-coordinate semantics.
func Effective(snap *Snapshot, o *Overlay) []*model.ShapeNode {
	overrides := o.Snapshot()
	shapes := snap.Shapes()
	if len(overrides) == 0 {
		return shapes
	}
	out := make([]*model.ShapeNode, len(shapes))
	for i, n := range shapes {
		world, ok := overrides[n.ID]
		if !ok {
			out[i] = n
			continue
		}
		c := n.Clone()
		local := geometry.LocalPosition(world.X, world.Y, n.ParentID, snap, overrides)
		c.X = local.X
		c.Y = local.Y
		out[i] = c
	}
	return out
}

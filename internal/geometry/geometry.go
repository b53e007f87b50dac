package geometry

import (
	"canvas-backend/internal/model"
)

// Lookup resolves a shape id against the current page view.
type Lookup interface {
	ByID(id string) (*model.ShapeNode, bool)
}

// View extends Lookup with ordered iteration, which the containing-frame
// search needs.
type View interface {
	Lookup
	Shapes() []*model.ShapeNode
}

// Point is a position in either world or parent-local space.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (p Point) Add(q Point) Point {
	return Point{p.X + q.X, p.Y + q.Y}
}

func (p Point) Sub(q Point) Point {
	return Point{p.X - q.X, p.Y - q.Y}
}

// Rect is an axis-aligned box in world space.
type Rect struct {
	X, Y, W, H float64
}

// WorldPosition resolves a shape's stored parent-relative position to world
// space by walking the parent chain. A missing parent demotes the shape to
// root; a revisited id stops the walk so a corrupt cycle cannot hang it.
func WorldPosition(s *model.ShapeNode, look Lookup) Point {
	p := Point{s.X, s.Y}
	seen := map[string]bool{s.ID: true}
	cur := s
	for cur.ParentID != nil {
		parent, ok := look.ByID(*cur.ParentID)
		if !ok || seen[parent.ID] {
			break
		}
		seen[parent.ID] = true
		p = p.Add(Point{parent.X, parent.Y})
		cur = parent
	}
	return p
}

// LocalPosition converts a world point into the local space of parentID.
// overrides maps shape ids to their current world position and takes
// precedence over stored positions, so a child dropped into a parent that is
// itself mid-drag lands relative to where the parent is, not where it was.
func LocalPosition(worldX, worldY float64, parentID *string, look Lookup, overrides map[string]Point) Point {
	if parentID == nil {
		return Point{worldX, worldY}
	}
	parent, ok := look.ByID(*parentID)
	if !ok {
		return Point{worldX, worldY}
	}
	pw, ok := overrides[parent.ID]
	if !ok {
		pw = WorldPosition(parent, look)
	}
	return Point{worldX - pw.X, worldY - pw.Y}
}

// PointInFrame is an inclusive bounds test: boundary points count as inside.
func PointInFrame(x, y float64, frame *model.ShapeNode, look Lookup) bool {
	fw := WorldPosition(frame, look)
	return x >= fw.X && x <= fw.X+frame.Width &&
		y >= fw.Y && y <= fw.Y+frame.Height
}

// RectsIntersect is the axis-aligned overlap test used for marquee selection.
func RectsIntersect(a, b Rect) bool {
	return a.X < b.X+b.W && a.X+a.W > b.X &&
		a.Y < b.Y+b.H && a.Y+a.H > b.Y
}

// Extent returns the shape's world-space width and height per variant.
func Extent(s *model.ShapeNode) (w, h float64) {
	switch s.Type {
	case model.ShapeCircle:
		return s.Radius * 2, s.Radius * 2
	case model.ShapeLine:
		w = s.EndX - s.X
		if w < 0 {
			w = -w
		}
		h = s.EndY - s.Y
		if h < 0 {
			h = -h
		}
		return w, h
	default:
		return s.Width, s.Height
	}
}

// Bounds returns the shape's world-space bounding box.
func Bounds(s *model.ShapeNode, look Lookup) Rect {
	p := WorldPosition(s, look)
	w, h := Extent(s)
	return Rect{p.X, p.Y, w, h}
}

// Center returns the world-space center given the shape's current world
// position (stored or overridden).
func Center(s *model.ShapeNode, world Point) Point {
	w, h := Extent(s)
	return Point{world.X + w/2, world.Y + h/2}
}

// FindContainingFrame returns the frame whose bounds contain the shape's
// center at the given world position, or nil. The shape itself, its current
// parent, and hidden frames are never candidates. When frames overlap, the
// highest order key wins (the most recently raised frame).
func FindContainingFrame(s *model.ShapeNode, world Point, view View) *model.ShapeNode {
	center := Center(s, world)
	var best *model.ShapeNode
	for _, f := range view.Shapes() {
		if f.Type != model.ShapeFrame || !f.Visible {
			continue
		}
		if f.ID == s.ID {
			continue
		}
		if s.ParentID != nil && f.ID == *s.ParentID {
			continue
		}
		if !PointInFrame(center.X, center.Y, f, view) {
			continue
		}
		if best == nil || f.OrderKey > best.OrderKey {
			best = f
		}
	}
	return best
}

// IsDescendant reports whether id sits below ancestorID in the parent chain.
// Used as the cycle guard before reparenting: a shape must never be moved
// into one of its own descendants.
func IsDescendant(ancestorID, id string, look Lookup) bool {
	seen := map[string]bool{}
	cur := id
	for {
		if seen[cur] {
			return false
		}
		seen[cur] = true
		s, ok := look.ByID(cur)
		if !ok || s.ParentID == nil {
			return false
		}
		if *s.ParentID == ancestorID {
			return true
		}
		cur = *s.ParentID
	}
}

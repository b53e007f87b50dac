package model

// ShapePatch is a partial update to a ShapeNode. Nil fields are left
// untouched, which is what lets two writers with disjoint patches merge
// instead of clobbering each other.
type ShapePatch struct {
	ParentID *string `json:"parent_id,omitempty"`

	X      *float64 `json:"x,omitempty"`
	Y      *float64 `json:"y,omitempty"`
	Width  *float64 `json:"width,omitempty"`
	Height *float64 `json:"height,omitempty"`
	Radius *float64 `json:"radius,omitempty"`
	EndX   *float64 `json:"end_x,omitempty"`
	EndY   *float64 `json:"end_y,omitempty"`
	Text   *string  `json:"text,omitempty"`

	Fill        *string  `json:"fill,omitempty"`
	Stroke      *string  `json:"stroke,omitempty"`
	StrokeWidth *float64 `json:"stroke_width,omitempty"`
	Rotation    *float64 `json:"rotation,omitempty"`
	Opacity     *float64 `json:"opacity,omitempty"`
	Visible     *bool    `json:"visible,omitempty"`
	OrderKey    *float64 `json:"order_key,omitempty"`
}

// IsEmpty reports whether the patch touches no fields.
func (p *ShapePatch) IsEmpty() bool {
	return len(p.Fields()) == 0
}

// Apply writes the patch's non-nil fields onto the node.
func (p *ShapePatch) Apply(n *ShapeNode) {
	if p.ParentID != nil {
		pid := *p.ParentID
		n.ParentID = &pid
	}
	if p.X != nil {
		n.X = *p.X
	}
	if p.Y != nil {
		n.Y = *p.Y
	}
	if p.Width != nil {
		n.Width = *p.Width
	}
	if p.Height != nil {
		n.Height = *p.Height
	}
	if p.Radius != nil {
		n.Radius = *p.Radius
	}
	if p.EndX != nil {
		n.EndX = *p.EndX
	}
	if p.EndY != nil {
		n.EndY = *p.EndY
	}
	if p.Text != nil {
		n.Text = *p.Text
	}
	if p.Fill != nil {
		n.Fill = *p.Fill
	}
	if p.Stroke != nil {
		n.Stroke = *p.Stroke
	}
	if p.StrokeWidth != nil {
		n.StrokeWidth = *p.StrokeWidth
	}
	if p.Rotation != nil {
		n.Rotation = *p.Rotation
	}
	if p.Opacity != nil {
		n.Opacity = *p.Opacity
	}
	if p.Visible != nil {
		n.Visible = *p.Visible
	}
	if p.OrderKey != nil {
		n.OrderKey = *p.OrderKey
	}
}

// Fields returns the patch as a column map for gorm Updates.
func (p *ShapePatch) Fields() map[string]any {
	m := map[string]any{}
	if p.ParentID != nil {
		m["parent_id"] = *p.ParentID
	}
	if p.X != nil {
		m["x"] = *p.X
	}
	if p.Y != nil {
		m["y"] = *p.Y
	}
	if p.Width != nil {
		m["width"] = *p.Width
	}
	if p.Height != nil {
		m["height"] = *p.Height
	}
	if p.Radius != nil {
		m["radius"] = *p.Radius
	}
	if p.EndX != nil {
		m["end_x"] = *p.EndX
	}
	if p.EndY != nil {
		m["end_y"] = *p.EndY
	}
	if p.Text != nil {
		m["text"] = *p.Text
	}
	if p.Fill != nil {
		m["fill"] = *p.Fill
	}
	if p.Stroke != nil {
		m["stroke"] = *p.Stroke
	}
	if p.StrokeWidth != nil {
		m["stroke_width"] = *p.StrokeWidth
	}
	if p.Rotation != nil {
		m["rotation"] = *p.Rotation
	}
	if p.Opacity != nil {
		m["opacity"] = *p.Opacity
	}
	if p.Visible != nil {
		m["visible"] = *p.Visible
	}
	if p.OrderKey != nil {
		m["order_key"] = *p.OrderKey
	}
	return m
}

// MovePatch builds a position-only patch.
func MovePatch(x, y float64) ShapePatch {
	return ShapePatch{X: &x, Y: &y}
}

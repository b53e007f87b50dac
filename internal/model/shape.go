package model

import (
	"time"
)

// ShapeType is the closed set of shape variants on a page.
type ShapeType string

const (
	ShapeRectangle ShapeType = "rectangle"
	ShapeCircle    ShapeType = "circle"
	ShapeText      ShapeType = "text"
	ShapeLine      ShapeType = "line"
	ShapeTriangle  ShapeType = "triangle"
	ShapeFrame     ShapeType = "frame"
	ShapeGroup     ShapeType = "group"
)

func (t ShapeType) Valid() bool {
	switch t {
	case ShapeRectangle, ShapeCircle, ShapeText, ShapeLine, ShapeTriangle, ShapeFrame, ShapeGroup:
		return true
	}
	return false
}

// IsContainer reports whether children are rendered inside this shape.
func (t ShapeType) IsContainer() bool {
	return t == ShapeFrame || t == ShapeGroup
}

// ShapeNode is one authoritative shape record. X/Y are relative to the
// parent's local space; root shapes (ParentID nil) are in world space.
// Version goes up by exactly 1 per successful write.
type ShapeNode struct {
	ID       string    `gorm:"type:uuid;primaryKey" json:"id"`
	PageID   string    `gorm:"type:uuid;not null;index:idx_page_order" json:"page_id"`
	ParentID *string   `gorm:"type:uuid;index" json:"parent_id,omitempty"`
	Type     ShapeType `gorm:"type:varchar(20);not null" json:"type"`

	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width,omitempty"`
	Height float64 `json:"height,omitempty"`
	Radius float64 `json:"radius,omitempty"`
	EndX   float64 `json:"end_x,omitempty"`
	EndY   float64 `json:"end_y,omitempty"`
	Text   string  `gorm:"type:text" json:"text,omitempty"`

	Fill        string  `gorm:"type:varchar(32)" json:"fill"`
	Stroke      string  `gorm:"type:varchar(32)" json:"stroke"`
	StrokeWidth float64 `json:"stroke_width"`
	Rotation    float64 `json:"rotation"`
	Opacity     float64 `gorm:"default:1" json:"opacity"`
	Visible     bool    `gorm:"default:true" json:"visible"`
	OrderKey    float64 `gorm:"not null;index:idx_page_order" json:"order_key"`

	Version int64 `gorm:"not null;default:1" json:"version"`

	CreatedBy        string    `gorm:"type:varchar(64)" json:"created_by"`
	CreatedAt        time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedBy        string    `gorm:"type:varchar(64)" json:"updated_by"`
	UpdatedAt        time.Time `json:"updated_at"`
	UpdatedByRequest string    `gorm:"type:varchar(64)" json:"updated_by_request,omitempty"`
}

func (ShapeNode) TableName() string {
	return "shape_nodes"
}

// Clone returns a copy safe to mutate without touching the stored record.
func (s *ShapeNode) Clone() *ShapeNode {
	c := *s
	if s.ParentID != nil {
		pid := *s.ParentID
		c.ParentID = &pid
	}
	return &c
}

package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"canvas-backend/internal/commit"
	"canvas-backend/internal/geometry"
	"canvas-backend/internal/model"
	"canvas-backend/internal/store"
)

// ShapeHandler serves the REST surface of the shape tree. Position writes go
// through the commit service so HTTP callers get the same versioning rules as
// live drag sessions.
type ShapeHandler struct {
	store   store.Store
	commits *commit.Service
	log     *zap.Logger
}

func NewShapeHandler(st store.Store, commits *commit.Service, log *zap.Logger) *ShapeHandler {
	return &ShapeHandler{store: st, commits: commits, log: log}
}

type CreateShapeRequest struct {
	Type     model.ShapeType `json:"type"`
	ParentID *string         `json:"parent_id,omitempty"`
	X        float64         `json:"x"`
	Y        float64         `json:"y"`
	Width    float64         `json:"width,omitempty"`
	Height   float64         `json:"height,omitempty"`
	Radius   float64         `json:"radius,omitempty"`
	EndX     float64         `json:"end_x,omitempty"`
	EndY     float64         `json:"end_y,omitempty"`
	Text     string          `json:"text,omitempty"`
	Fill     string          `json:"fill,omitempty"`
	Stroke   string          `json:"stroke,omitempty"`
}

type UpdateShapeRequest struct {
	Patch model.ShapePatch `json:"patch"`
}

type ReorderShapeRequest struct {
	OrderKey float64 `json:"order_key"`
}

// ListShapes returns a page's shapes in render order.
func (h *ShapeHandler) ListShapes(c *fiber.Ctx) error {
	pageID := c.Params("pageId")
	shapes, err := h.store.ListPage(c.Context(), pageID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to fetch shapes"})
	}
	return c.JSON(fiber.Map{"success": true, "shapes": shapes})
}

// GetShape returns a single shape.
func (h *ShapeHandler) GetShape(c *fiber.Ctx) error {
	s, err := h.store.Read(c.Context(), c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Shape not found"})
	}
	return c.JSON(fiber.Map{"success": true, "shape": s})
}

// CreateShape inserts a new shape at version 1, placed in front of its page.
func (h *ShapeHandler) CreateShape(c *fiber.Ctx) error {
	pageID := c.Params("pageId")
	userID, _ := c.Locals("userID").(string)

	var req CreateShapeRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if !req.Type.Valid() {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Unknown shape type"})
	}

	existing, err := h.store.ListPage(c.Context(), pageID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to fetch shapes"})
	}
	orderKey := 1.0
	for _, s := range existing {
		if s.OrderKey >= orderKey {
			orderKey = s.OrderKey + 1
		}
	}

	if _, err := uuid.Parse(pageID); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid page id"})
	}

	shape := &model.ShapeNode{
		ID:        uuid.NewString(),
		PageID:    pageID,
		ParentID:  req.ParentID,
		Type:      req.Type,
		X:         req.X,
		Y:         req.Y,
		Width:     req.Width,
		Height:    req.Height,
		Radius:    req.Radius,
		EndX:      req.EndX,
		EndY:      req.EndY,
		Text:      req.Text,
		Fill:      req.Fill,
		Stroke:    req.Stroke,
		Opacity:   1,
		Visible:   true,
		OrderKey:  orderKey,
		Version:   1,
		CreatedBy: userID,
		UpdatedBy: userID,
	}
	if err := h.store.Create(c.Context(), shape); err != nil {
		h.log.Error("failed to create shape", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to create shape"})
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"success": true, "shape": shape})
}

// UpdateShape applies a partial patch through the commit service.
func (h *ShapeHandler) UpdateShape(c *fiber.Ctx) error {
	userID, _ := c.Locals("userID").(string)

	var req UpdateShapeRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if req.Patch.IsEmpty() {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Empty patch"})
	}

	out, err := h.commits.Commit(c.Context(), c.Params("id"), req.Patch, userID)
	if err != nil {
		h.log.Error("shape update failed", zap.String("shape", c.Params("id")), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to update shape"})
	}
	return c.JSON(fiber.Map{
		"success": out.Result == commit.Committed,
		"result":  resultLabel(out.Result),
		"version": out.NewVersion,
	})
}

// ReorderShape moves a shape within its siblings' stacking order.
func (h *ShapeHandler) ReorderShape(c *fiber.Ctx) error {
	userID, _ := c.Locals("userID").(string)

	var req ReorderShapeRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	out, err := h.commits.Commit(c.Context(), c.Params("id"), model.ShapePatch{OrderKey: &req.OrderKey}, userID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to reorder shape"})
	}
	return c.JSON(fiber.Map{
		"success": out.Result == commit.Committed,
		"result":  resultLabel(out.Result),
		"version": out.NewVersion,
	})
}

// DeleteShape removes a shape. Direct children are re-attached to the deleted
// shape's parent first, keeping their world positions unchanged.
func (h *ShapeHandler) DeleteShape(c *fiber.Ctx) error {
	userID, _ := c.Locals("userID").(string)
	id := c.Params("id")

	target, err := h.store.Read(c.Context(), id)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Shape not found"})
	}

	shapes, err := h.store.ListPage(c.Context(), target.PageID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to fetch shapes"})
	}
	look := listLookup(shapes)

	var grandOrigin geometry.Point
	if target.ParentID != nil {
		if gp, ok := look.ByID(*target.ParentID); ok {
			grandOrigin = geometry.WorldPosition(gp, look)
		}
	}

	for _, s := range shapes {
		if s.ParentID == nil || *s.ParentID != id {
			continue
		}
		world := geometry.WorldPosition(s, look)
		local := world.Sub(grandOrigin)
		if _, err := h.commits.Reparent(c.Context(), s.ID, target.ParentID, local.X, local.Y, s.OrderKey, userID); err != nil {
			h.log.Error("failed to re-root child", zap.String("child", s.ID), zap.Error(err))
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to detach children"})
		}
	}

	if err := h.store.Delete(c.Context(), id); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to delete shape"})
	}
	return c.JSON(fiber.Map{"success": true})
}

func resultLabel(r commit.Result) string {
	switch r {
	case commit.Committed:
		return "committed"
	case commit.Dropped:
		return "dropped"
	default:
		return "skipped"
	}
}

// listLookup resolves shapes by id over a fetched page list.
type listLookup []*model.ShapeNode

func (l listLookup) ByID(id string) (*model.ShapeNode, bool) {
	for _, s := range l {
		if s.ID == id {
			return s, true
		}
	}
	return nil, false
}

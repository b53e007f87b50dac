package drag

import (
	"context"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"canvas-backend/internal/commit"
	"canvas-backend/internal/geometry"
	"canvas-backend/internal/model"
	"canvas-backend/internal/presence"
	"canvas-backend/internal/snapshot"
)

// Kind classifies an active drag.
type Kind int

const (
	KindNone Kind = iota
	// KindSingle moves one leaf shape.
	KindSingle
	// KindGroup moves every shape in the multi-selection by the lead delta.
	KindGroup
	// KindContainer moves a frame or group; descendants follow implicitly
	// and are not individually tracked.
	KindContainer
)

const commitTimeout = 5 * time.Second

// Controller is one client's drag session state machine. It owns the local
// optimistic overrides, publishes gesture drafts to the presence channel,
// and feeds parent-local patches through the throttled commit queue. One
// controller exists per connection; it is never shared between clients.
type Controller struct {
	userID  string
	snap    *snapshot.Snapshot
	overlay *snapshot.Overlay
	commits *commit.Service
	queue   *commit.Queue
	channel presence.Channel
	log     *zap.Logger

	publishInterval time.Duration

	mu           sync.Mutex
	kind         Kind
	leadID       string
	tracked      map[string]geometry.Point // start world position per shape
	selection    []string
	cursor       model.Cursor
	hoveredFrame string
	requests     map[string]string // request id -> shape id, awaiting confirmation
	lastPublish  time.Time
}

func NewController(userID string, snap *snapshot.Snapshot, overlay *snapshot.Overlay, commits *commit.Service, channel presence.Channel, commitInterval, publishInterval time.Duration, log *zap.Logger) *Controller {
	c := &Controller{
		userID:          userID,
		snap:            snap,
		overlay:         overlay,
		commits:         commits,
		channel:         channel,
		log:             log,
		publishInterval: publishInterval,
		tracked:         map[string]geometry.Point{},
		requests:        map[string]string{},
	}
	c.queue = commit.NewQueue(commitInterval, c.flushCommit)
	return c
}

// DragStart classifies the target and enters the matching dragging state.
func (c *Controller) DragStart(id string) {
	s, ok := c.snap.ByID(id)
	if !ok {
		return
	}

	c.mu.Lock()
	c.leadID = id
	c.tracked = map[string]geometry.Point{}
	switch {
	case s.Type.IsContainer():
		c.kind = KindContainer
		c.tracked[id] = geometry.WorldPosition(s, c.snap)
	case c.inSelectionLocked(id) && len(c.selection) > 1:
		c.kind = KindGroup
		for _, sid := range c.selection {
			if member, ok := c.snap.ByID(sid); ok {
				c.tracked[sid] = geometry.WorldPosition(member, c.snap)
			}
		}
	default:
		c.kind = KindSingle
		c.tracked[id] = geometry.WorldPosition(s, c.snap)
	}
	rec := c.recordLocked(&model.Gesture{
		Type:    model.GestureMove,
		ShapeID: id,
		Draft:   model.MovePatch(s.X, s.Y),
	})
	c.mu.Unlock()

	c.publish(rec, true)
}

// DragMove applies the lead delta to every tracked shape, refreshes the
// hovered-frame indicator, publishes the gesture draft, and submits the
// parent-local position of each shape to the throttled queue.
func (c *Controller) DragMove(id string, worldX, worldY float64) {
	c.mu.Lock()
	if c.kind == KindNone || id != c.leadID {
		c.mu.Unlock()
		return
	}
	start, ok := c.tracked[c.leadID]
	if !ok {
		c.mu.Unlock()
		return
	}
	delta := geometry.Point{X: worldX - start.X, Y: worldY - start.Y}
	for sid, sw := range c.tracked {
		c.overlay.Set(sid, sw.Add(delta))
	}

	lead, _ := c.snap.ByID(c.leadID)
	leadWorld, _ := c.overlay.Get(c.leadID)
	if lead != nil && lead.Type != model.ShapeFrame {
		c.hoveredFrame = ""
		if f := geometry.FindContainingFrame(lead, leadWorld, c.snap); f != nil {
			c.hoveredFrame = f.ID
		}
	}

	overrides := c.overlay.Snapshot()
	var draft model.ShapePatch
	submits := make(map[string]model.ShapePatch, len(c.tracked))
	for sid := range c.tracked {
		s, ok := c.snap.ByID(sid)
		if !ok {
			continue
		}
		world := overrides[sid]
		local := geometry.LocalPosition(world.X, world.Y, s.ParentID, c.snap, overrides)
		patch := model.MovePatch(local.X, local.Y)
		submits[sid] = patch
		if sid == c.leadID {
			draft = patch
		}
	}
	c.cursor = model.Cursor{X: worldX, Y: worldY}
	rec := c.recordLocked(&model.Gesture{Type: model.GestureMove, ShapeID: c.leadID, Draft: draft})
	c.mu.Unlock()

	c.publish(rec, false)
	for sid, patch := range submits {
		c.queue.Submit(sid, patch)
	}
}

// DragEnd finishes the session. The gesture is cleared before anything else
// so peers never see an orphan ghost. A non-frame shape dropped over a
// different frame than its current parent is reparented atomically; any
// other drop finalizes the pending position patch. Overrides are retained
// until the snapshot confirms them (see OnSnapshot).
func (c *Controller) DragEnd(id string, final *geometry.Point) {
	c.mu.Lock()
	if c.kind == KindNone || id != c.leadID {
		c.mu.Unlock()
		return
	}
	kind := c.kind
	c.kind = KindNone
	c.hoveredFrame = ""

	lead, _ := c.snap.ByID(c.leadID)
	finalWorld, hasOverride := c.overlay.Get(c.leadID)
	finalMoved := false
	if final != nil {
		finalMoved = !hasOverride || finalWorld != *final
		finalWorld = *final
		c.overlay.Set(c.leadID, finalWorld)
	} else if !hasOverride {
		finalWorld = c.tracked[c.leadID]
	}
	keys := make([]string, 0, len(c.tracked))
	for sid := range c.tracked {
		keys = append(keys, sid)
	}
	c.tracked = map[string]geometry.Point{}
	rec := c.recordLocked(nil)
	c.mu.Unlock()

	c.publish(rec, true)

	if lead != nil && lead.Type != model.ShapeFrame && kind != KindGroup {
		frame := geometry.FindContainingFrame(lead, finalWorld, c.snap)
		if c.parentChanged(lead, frame) && !c.wouldCycle(lead, frame) {
			c.queue.Abort(lead.ID)
			c.reparent(lead, frame, finalWorld)
			return
		}
	}
	if finalMoved && lead != nil {
		// The explicit drop position may differ from the last move and
		// may never have been submitted; queue it so Finalize flushes it.
		local := geometry.LocalPosition(finalWorld.X, finalWorld.Y, lead.ParentID, c.snap, c.overlay.Snapshot())
		c.queue.Submit(lead.ID, model.MovePatch(local.X, local.Y))
	}
	for _, k := range keys {
		c.queue.Finalize(k)
	}
}

// Abort tears the session down without flushing: pending timers are
// cancelled, the gesture is cleared, and overrides are dropped. No commit
// fires after this returns.
func (c *Controller) Abort(ctx context.Context) {
	c.mu.Lock()
	c.kind = KindNone
	c.hoveredFrame = ""
	keys := make([]string, 0, len(c.tracked))
	for sid := range c.tracked {
		keys = append(keys, sid)
	}
	for id := range c.overlay.Snapshot() {
		keys = append(keys, id)
	}
	c.tracked = map[string]geometry.Point{}
	c.requests = map[string]string{}
	rec := c.recordLocked(nil)
	c.mu.Unlock()

	for _, k := range keys {
		c.queue.Abort(k)
	}
	c.overlay.ClearAll()
	if err := c.channel.Publish(ctx, rec); err != nil {
		c.log.Debug("gesture clear on abort failed", zap.Error(err))
	}
}

// Close aborts and shuts the queue down for good.
func (c *Controller) Close(ctx context.Context) {
	c.Abort(ctx)
	c.queue.Close()
}

// OnSnapshot reconciles overrides against a freshly replaced snapshot.
// An override is dropped once the confirmed record carries one of this
// session's request ids. When the confirming write was coalesced away, it
// is dropped once the confirmed position lands within tolerance. Shapes in an
// active drag are left alone so the shape under the pointer never snaps.
func (c *Controller) OnSnapshot() {
	c.mu.Lock()
	dragging := map[string]bool{}
	if c.kind != KindNone {
		for sid := range c.tracked {
			dragging[sid] = true
		}
	}
	c.mu.Unlock()

	for id, world := range c.overlay.Snapshot() {
		if dragging[id] {
			continue
		}
		s, ok := c.snap.ByID(id)
		if !ok {
			c.overlay.Clear(id)
			c.forgetShapeRequests(id)
			continue
		}
		if s.UpdatedByRequest != "" {
			c.mu.Lock()
			mine := c.requests[s.UpdatedByRequest] == id
			c.mu.Unlock()
			if mine {
				c.overlay.Clear(id)
				c.forgetShapeRequests(id)
				continue
			}
		}
		confirmed := geometry.WorldPosition(s, c.snap)
		if math.Abs(confirmed.X-world.X) <= model.OverrideTolerance &&
			math.Abs(confirmed.Y-world.Y) <= model.OverrideTolerance {
			c.overlay.Clear(id)
			c.forgetShapeRequests(id)
		}
	}
}

// forgetShapeRequests drops every outstanding request id for the shape.
// Once its override is released, earlier coalesced-away confirmations can
// never arrive, so keeping their ids would only grow the map.
func (c *Controller) forgetShapeRequests(shapeID string) {
	c.mu.Lock()
	for rid, sid := range c.requests {
		if sid == shapeID {
			delete(c.requests, rid)
		}
	}
	c.mu.Unlock()
}

// Cursor publishes a pointer move outside of any drag.
func (c *Controller) Cursor(x, y float64) {
	c.mu.Lock()
	c.cursor = model.Cursor{X: x, Y: y}
	var g *model.Gesture
	if c.kind != KindNone {
		g = c.gestureLocked()
	}
	rec := c.recordLocked(g)
	c.mu.Unlock()
	c.publish(rec, false)
}

// SetSelection replaces the selection set used for group classification.
func (c *Controller) SetSelection(ids []string) {
	c.mu.Lock()
	c.selection = append([]string(nil), ids...)
	rec := c.recordLocked(nil)
	dragging := c.kind != KindNone
	c.mu.Unlock()
	if !dragging {
		c.publish(rec, false)
	}
}

func (c *Controller) inSelectionLocked(id string) bool {
	for _, sid := range c.selection {
		if sid == id {
			return true
		}
	}
	return false
}

// HoveredFrame returns the frame currently indicated as a drop target.
func (c *Controller) HoveredFrame() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hoveredFrame
}

// Dragging reports whether the shape is part of the active drag.
func (c *Controller) Dragging(shapeID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.kind == KindNone {
		return false
	}
	_, ok := c.tracked[shapeID]
	return ok
}

func (c *Controller) Kind() Kind {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.kind
}

// flushCommit is the queue's flush target. A dropped or skipped commit
// clears the override right away so the shape settles back to the last
// confirmed position instead of staying out of sync.
func (c *Controller) flushCommit(key string, patch model.ShapePatch) {
	ctx, cancel := context.WithTimeout(context.Background(), commitTimeout)
	defer cancel()

	outcome, err := c.commits.Commit(ctx, key, patch, c.userID)
	if err != nil {
		c.log.Warn("commit failed", zap.String("shape", key), zap.Error(err))
		c.overlay.Clear(key)
		c.forgetShapeRequests(key)
		return
	}
	switch outcome.Result {
	case commit.Committed:
		c.mu.Lock()
		c.requests[outcome.RequestID] = key
		c.mu.Unlock()
	default:
		c.overlay.Clear(key)
		c.forgetShapeRequests(key)
	}
}

func (c *Controller) reparent(lead *model.ShapeNode, frame *model.ShapeNode, world geometry.Point) {
	ctx, cancel := context.WithTimeout(context.Background(), commitTimeout)
	defer cancel()

	var parentID *string
	var local geometry.Point
	orderKey := lead.OrderKey
	if frame != nil {
		// The drop position inside a frame is the shape's center relative
		// to the frame origin.
		center := geometry.Center(lead, world)
		fw := geometry.WorldPosition(frame, c.snap)
		local = center.Sub(fw)
		pid := frame.ID
		parentID = &pid
		orderKey = c.frontOrderKey(frame.ID)
	} else {
		local = world
	}

	outcome, err := c.commits.Reparent(ctx, lead.ID, parentID, local.X, local.Y, orderKey, c.userID)
	if err != nil {
		c.log.Warn("reparent failed", zap.String("shape", lead.ID), zap.Error(err))
		c.overlay.Clear(lead.ID)
		c.forgetShapeRequests(lead.ID)
		return
	}
	switch outcome.Result {
	case commit.Committed:
		c.mu.Lock()
		c.requests[outcome.RequestID] = lead.ID
		c.mu.Unlock()
	default:
		c.overlay.Clear(lead.ID)
		c.forgetShapeRequests(lead.ID)
	}
}

// frontOrderKey places a shape ahead of the parent's current children.
func (c *Controller) frontOrderKey(parentID string) float64 {
	min := math.Inf(1)
	for _, s := range c.snap.Shapes() {
		if s.ParentID != nil && *s.ParentID == parentID && s.OrderKey < min {
			min = s.OrderKey
		}
	}
	if math.IsInf(min, 1) {
		return 0
	}
	return min - 1
}

func (c *Controller) parentChanged(lead *model.ShapeNode, frame *model.ShapeNode) bool {
	cur := ""
	if lead.ParentID != nil {
		cur = *lead.ParentID
	}
	target := ""
	if frame != nil {
		target = frame.ID
	}
	return cur != target
}

func (c *Controller) wouldCycle(lead *model.ShapeNode, frame *model.ShapeNode) bool {
	if frame == nil {
		return false
	}
	return frame.ID == lead.ID || geometry.IsDescendant(lead.ID, frame.ID, c.snap)
}

func (c *Controller) gestureLocked() *model.Gesture {
	if c.leadID == "" {
		return nil
	}
	world, ok := c.overlay.Get(c.leadID)
	if !ok {
		return nil
	}
	s, found := c.snap.ByID(c.leadID)
	if !found {
		return nil
	}
	local := geometry.LocalPosition(world.X, world.Y, s.ParentID, c.snap, c.overlay.Snapshot())
	return &model.Gesture{Type: model.GestureMove, ShapeID: c.leadID, Draft: model.MovePatch(local.X, local.Y)}
}

func (c *Controller) recordLocked(g *model.Gesture) model.PresenceRecord {
	return model.PresenceRecord{
		UserID:    c.userID,
		PageID:    c.snap.PageID(),
		Cursor:    c.cursor,
		Selection: append([]string(nil), c.selection...),
		Gesture:   g,
		LastSeen:  time.Now().UnixMilli(),
	}
}

// publish writes the presence record, bounded to one write per publish
// interval. Forced publishes (drag start/end, aborts) always go out so a
// gesture clear can never be throttled away.
func (c *Controller) publish(rec model.PresenceRecord, force bool) {
	c.mu.Lock()
	if !force && time.Since(c.lastPublish) < c.publishInterval {
		c.mu.Unlock()
		return
	}
	c.lastPublish = time.Now()
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.channel.Publish(ctx, rec); err != nil {
		c.log.Debug("presence publish failed", zap.Error(err))
	}
}

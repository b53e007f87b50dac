package drag

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"canvas-backend/internal/commit"
	"canvas-backend/internal/geometry"
	"canvas-backend/internal/model"
	"canvas-backend/internal/presence"
	"canvas-backend/internal/snapshot"
	"canvas-backend/internal/store"
)

// conflictStore rejects every write so commits come back Dropped.
type conflictStore struct {
	store.Store
}

func (c *conflictStore) Write(ctx context.Context, id string, patch model.ShapePatch, expectedVersion int64, meta store.WriteMeta) (int64, error) {
	return 0, store.ErrConflict
}

type fixture struct {
	mem     *store.MemoryStore
	snap    *snapshot.Snapshot
	overlay *snapshot.Overlay
	channel *presence.MemoryChannel
	ctrl    *Controller
}

func strPtr(s string) *string { return &s }

// Page layout: frame F at world (100,100) 200x200 with child C, loose
// rectangles S and B to the right of it.
func seedPage(t *testing.T, mem *store.MemoryStore) {
	t.Helper()
	ctx := context.Background()
	shapes := []*model.ShapeNode{
		{ID: "F", PageID: "page", Type: model.ShapeFrame, X: 100, Y: 100, Width: 200, Height: 200, Visible: true, OrderKey: 1, Version: 1},
		{ID: "C", PageID: "page", ParentID: strPtr("F"), Type: model.ShapeRectangle, X: 10, Y: 10, Width: 30, Height: 30, Visible: true, OrderKey: 0, Version: 1},
		{ID: "S", PageID: "page", Type: model.ShapeRectangle, X: 400, Y: 400, Width: 50, Height: 50, Visible: true, OrderKey: 2, Version: 1},
		{ID: "B", PageID: "page", Type: model.ShapeRectangle, X: 500, Y: 400, Width: 50, Height: 50, Visible: true, OrderKey: 3, Version: 1},
	}
	for _, s := range shapes {
		require.NoError(t, mem.Create(ctx, s))
	}
}

func newFixture(t *testing.T, backing store.Store, mem *store.MemoryStore, commitInterval time.Duration) *fixture {
	t.Helper()
	snap := snapshot.New("page")
	shapes, err := mem.ListPage(context.Background(), "page")
	require.NoError(t, err)
	snap.Replace(shapes)

	overlay := snapshot.NewOverlay()
	channel := presence.NewMemoryChannel("page")
	svc := commit.NewService(backing, zap.NewNop())
	ctrl := NewController("me", snap, overlay, svc, channel, commitInterval, time.Millisecond, zap.NewNop())
	t.Cleanup(func() {
		ctrl.Close(context.Background())
		channel.Close()
	})
	return &fixture{mem: mem, snap: snap, overlay: overlay, channel: channel, ctrl: ctrl}
}

func newMemFixture(t *testing.T, commitInterval time.Duration) *fixture {
	mem := store.NewMemoryStore()
	seedPage(t, mem)
	return newFixture(t, mem, mem, commitInterval)
}

// refresh simulates an authoritative snapshot arriving from the store.
func (f *fixture) refresh(t *testing.T) {
	t.Helper()
	shapes, err := f.mem.ListPage(context.Background(), "page")
	require.NoError(t, err)
	f.snap.Replace(shapes)
	f.ctrl.OnSnapshot()
}

func (f *fixture) read(t *testing.T, id string) *model.ShapeNode {
	t.Helper()
	s, err := f.mem.Read(context.Background(), id)
	require.NoError(t, err)
	return s
}

func TestDragStartClassification(t *testing.T) {
	f := newMemFixture(t, 20*time.Millisecond)

	f.ctrl.DragStart("S")
	assert.Equal(t, KindSingle, f.ctrl.Kind())
	assert.True(t, f.ctrl.Dragging("S"))
	f.ctrl.Abort(context.Background())

	f.ctrl.SetSelection([]string{"S", "B"})
	f.ctrl.DragStart("S")
	assert.Equal(t, KindGroup, f.ctrl.Kind())
	assert.True(t, f.ctrl.Dragging("B"))
	f.ctrl.Abort(context.Background())

	f.ctrl.DragStart("F")
	assert.Equal(t, KindContainer, f.ctrl.Kind())
	assert.False(t, f.ctrl.Dragging("C")) // descendants follow implicitly
	f.ctrl.Abort(context.Background())
}

func TestDragMoveSetsOverrideAndHoveredFrame(t *testing.T) {
	f := newMemFixture(t, 200*time.Millisecond)

	f.ctrl.DragStart("S")
	f.ctrl.DragMove("S", 150, 150) // center (175,175) inside F

	world, ok := f.overlay.Get("S")
	require.True(t, ok)
	assert.Equal(t, geometry.Point{X: 150, Y: 150}, world)
	assert.Equal(t, "F", f.ctrl.HoveredFrame())

	f.ctrl.DragMove("S", 500, 500)
	assert.Equal(t, "", f.ctrl.HoveredFrame())
}

func TestDragEndIntoFrameReparentsWithCenterConvention(t *testing.T) {
	f := newMemFixture(t, 20*time.Millisecond)

	f.ctrl.DragStart("S")
	f.ctrl.DragEnd("S", &geometry.Point{X: 150, Y: 150})

	s := f.read(t, "S")
	require.NotNil(t, s.ParentID)
	assert.Equal(t, "F", *s.ParentID)
	// Shape center (175,175) relative to the frame origin (100,100).
	assert.Equal(t, 75.0, s.X)
	assert.Equal(t, 75.0, s.Y)
	// Placed in front of the frame's existing children (C at key 0).
	assert.Equal(t, -1.0, s.OrderKey)
	assert.Equal(t, int64(2), s.Version)

	// The confirming snapshot carries this session's request id, which
	// releases the optimistic override.
	assert.Equal(t, 1, f.overlay.Len())
	f.refresh(t)
	assert.Equal(t, 0, f.overlay.Len())
}

func TestDragEndOutOfFrameReparentsToRoot(t *testing.T) {
	f := newMemFixture(t, 20*time.Millisecond)

	f.ctrl.DragStart("C")
	f.ctrl.DragEnd("C", &geometry.Point{X: 400, Y: 50})

	c := f.read(t, "C")
	assert.Nil(t, c.ParentID)
	assert.Equal(t, 400.0, c.X)
	assert.Equal(t, 50.0, c.Y)
	assert.Equal(t, int64(2), c.Version)
}

func TestDragEndSameParentFinalizesMove(t *testing.T) {
	f := newMemFixture(t, 200*time.Millisecond)

	f.ctrl.DragStart("S")
	f.ctrl.DragMove("S", 420, 430)
	f.ctrl.DragEnd("S", nil)

	require.Eventually(t, func() bool {
		return f.read(t, "S").Version == 2
	}, time.Second, 5*time.Millisecond)

	s := f.read(t, "S")
	assert.Nil(t, s.ParentID)
	assert.Equal(t, 420.0, s.X)
	assert.Equal(t, 430.0, s.Y)

	// Exactly one commit: no stray flush after the finalize.
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, int64(2), f.read(t, "S").Version)
}

func TestGroupDragMovesAllMembersByLeadDelta(t *testing.T) {
	f := newMemFixture(t, 200*time.Millisecond)

	f.ctrl.SetSelection([]string{"S", "B"})
	f.ctrl.DragStart("S")
	f.ctrl.DragMove("S", 410, 420) // delta (10, 20)

	sw, _ := f.overlay.Get("S")
	bw, _ := f.overlay.Get("B")
	assert.Equal(t, geometry.Point{X: 410, Y: 420}, sw)
	assert.Equal(t, geometry.Point{X: 510, Y: 420}, bw)

	f.ctrl.DragEnd("S", nil)

	require.Eventually(t, func() bool {
		return f.read(t, "S").Version == 2 && f.read(t, "B").Version == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 410.0, f.read(t, "S").X)
	assert.Equal(t, 510.0, f.read(t, "B").X)
	assert.Equal(t, 420.0, f.read(t, "B").Y)
}

func TestAbortCancelsPendingCommits(t *testing.T) {
	f := newMemFixture(t, 200*time.Millisecond)

	f.ctrl.DragStart("S")
	f.ctrl.DragMove("S", 410, 410)

	// The first move flushes straight away.
	require.Eventually(t, func() bool {
		return f.read(t, "S").Version == 2
	}, time.Second, 5*time.Millisecond)

	// The second lands inside the throttle window; aborting must cancel it.
	f.ctrl.DragMove("S", 450, 450)
	f.ctrl.Abort(context.Background())

	time.Sleep(300 * time.Millisecond)
	s := f.read(t, "S")
	assert.Equal(t, int64(2), s.Version)
	assert.Equal(t, 410.0, s.X)
	assert.Equal(t, 0, f.overlay.Len())
}

func TestDragPublishesGestureAndClearsIt(t *testing.T) {
	f := newMemFixture(t, 20*time.Millisecond)
	ctx := context.Background()

	f.ctrl.DragStart("S")
	records, err := f.channel.Snapshot(ctx)
	require.NoError(t, err)
	require.Contains(t, records, "me")
	require.NotNil(t, records["me"].Gesture)
	assert.Equal(t, "S", records["me"].Gesture.ShapeID)

	f.ctrl.DragEnd("S", nil)
	records, err = f.channel.Snapshot(ctx)
	require.NoError(t, err)
	require.Contains(t, records, "me")
	assert.Nil(t, records["me"].Gesture)
}

func TestCycleGuardKeepsContainerOutOfItsDescendant(t *testing.T) {
	mem := store.NewMemoryStore()
	ctx := context.Background()
	// A group whose only child is a frame large enough to swallow it.
	require.NoError(t, mem.Create(ctx, &model.ShapeNode{
		ID: "G", PageID: "page", Type: model.ShapeGroup, X: 0, Y: 0, Width: 20, Height: 20, Visible: true, OrderKey: 1, Version: 1,
	}))
	require.NoError(t, mem.Create(ctx, &model.ShapeNode{
		ID: "FD", PageID: "page", ParentID: strPtr("G"), Type: model.ShapeFrame, X: 5, Y: 5, Width: 300, Height: 300, Visible: true, OrderKey: 2, Version: 1,
	}))
	f := newFixture(t, mem, mem, 20*time.Millisecond)

	f.ctrl.DragStart("G")
	// Drop the group with its center inside the descendant frame.
	f.ctrl.DragEnd("G", &geometry.Point{X: 50, Y: 50})

	time.Sleep(100 * time.Millisecond)
	g := f.read(t, "G")
	assert.Nil(t, g.ParentID)
}

func TestOnSnapshotToleranceFallback(t *testing.T) {
	f := newMemFixture(t, 20*time.Millisecond)

	// Override within half a pixel of the confirmed position: the
	// confirming write was coalesced away, so reconcile on proximity.
	f.overlay.Set("S", geometry.Point{X: 400.3, Y: 399.8})
	// Override far from the confirmed position: a peer moved the shape,
	// keep waiting for our own confirmation.
	f.overlay.Set("B", geometry.Point{X: 520, Y: 420})

	f.refresh(t)

	_, hasS := f.overlay.Get("S")
	_, hasB := f.overlay.Get("B")
	assert.False(t, hasS)
	assert.True(t, hasB)
}

func TestOnSnapshotClearsOverrideForDeletedShape(t *testing.T) {
	f := newMemFixture(t, 20*time.Millisecond)

	f.overlay.Set("S", geometry.Point{X: 410, Y: 410})
	require.NoError(t, f.mem.Delete(context.Background(), "S"))

	f.refresh(t)
	assert.Equal(t, 0, f.overlay.Len())
}

func TestOnSnapshotKeepsActiveDragOverride(t *testing.T) {
	f := newMemFixture(t, 200*time.Millisecond)

	f.ctrl.DragStart("S")
	f.ctrl.DragMove("S", 400.2, 400.2)

	// Within tolerance of the stored position, but the drag is still
	// active; the shape under the pointer must not snap back.
	f.refresh(t)
	_, ok := f.overlay.Get("S")
	assert.True(t, ok)
}

func TestDroppedCommitClearsOverride(t *testing.T) {
	mem := store.NewMemoryStore()
	seedPage(t, mem)
	f := newFixture(t, &conflictStore{Store: mem}, mem, 20*time.Millisecond)

	f.ctrl.DragStart("S")
	f.ctrl.DragMove("S", 450, 450)
	f.ctrl.DragEnd("S", nil)

	// Both attempts conflict, the write is dropped, and the override is
	// released so the shape settles at the last confirmed position.
	require.Eventually(t, func() bool {
		return f.overlay.Len() == 0
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(1), f.read(t, "S").Version)
}

func TestDragMoveIgnoresNonLead(t *testing.T) {
	f := newMemFixture(t, 20*time.Millisecond)

	f.ctrl.DragStart("S")
	f.ctrl.DragMove("B", 100, 100)
	_, ok := f.overlay.Get("B")
	assert.False(t, ok)
}

func TestDragStartUnknownShapeIsNoop(t *testing.T) {
	f := newMemFixture(t, 20*time.Millisecond)
	f.ctrl.DragStart("missing")
	assert.Equal(t, KindNone, f.ctrl.Kind())
}

func (f *fixture) requestCount() int {
	f.ctrl.mu.Lock()
	defer f.ctrl.mu.Unlock()
	return len(f.ctrl.requests)
}

func TestDragEndCommitsExplicitFinalPosition(t *testing.T) {
	f := newMemFixture(t, 200*time.Millisecond)

	f.ctrl.DragStart("S")
	f.ctrl.DragMove("S", 410, 410)
	require.Eventually(t, func() bool {
		return f.read(t, "S").Version == 2
	}, time.Second, 5*time.Millisecond)

	// The pointer-up position differs from the last flushed move; it must
	// land in the store, not just in the overlay.
	f.ctrl.DragEnd("S", &geometry.Point{X: 450, Y: 460})
	require.Eventually(t, func() bool {
		return f.read(t, "S").Version == 3
	}, time.Second, 5*time.Millisecond)

	s := f.read(t, "S")
	assert.Equal(t, 450.0, s.X)
	assert.Equal(t, 460.0, s.Y)

	f.refresh(t)
	assert.Equal(t, 0, f.overlay.Len())
}

func TestConfirmedSnapshotPrunesRequestBookkeeping(t *testing.T) {
	f := newMemFixture(t, 200*time.Millisecond)

	f.ctrl.DragStart("S")
	f.ctrl.DragMove("S", 410, 410)
	require.Eventually(t, func() bool {
		return f.read(t, "S").Version == 2
	}, time.Second, 5*time.Millisecond)

	// The second move coalesces into the finalize flush, so the first
	// commit's request id never gets its own confirming snapshot.
	f.ctrl.DragMove("S", 412, 412)
	f.ctrl.DragEnd("S", nil)
	require.Eventually(t, func() bool {
		return f.read(t, "S").Version == 3 && f.requestCount() == 2
	}, time.Second, 5*time.Millisecond)

	f.refresh(t)
	assert.Equal(t, 0, f.overlay.Len())
	assert.Equal(t, 0, f.requestCount())
}

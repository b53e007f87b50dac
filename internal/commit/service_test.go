package commit

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"canvas-backend/internal/model"
	"canvas-backend/internal/store"
)

// flakyStore forces the next n Write calls to report a version conflict.
type flakyStore struct {
	store.Store
	mu        sync.Mutex
	conflicts int
}

func (f *flakyStore) Write(ctx context.Context, id string, patch model.ShapePatch, expectedVersion int64, meta store.WriteMeta) (int64, error) {
	f.mu.Lock()
	if f.conflicts > 0 {
		f.conflicts--
		f.mu.Unlock()
		return 0, store.ErrConflict
	}
	f.mu.Unlock()
	return f.Store.Write(ctx, id, patch, expectedVersion, meta)
}

func (f *flakyStore) Reparent(ctx context.Context, id string, newParentID *string, localX, localY, orderKey float64, expectedVersion int64, meta store.WriteMeta) (int64, error) {
	f.mu.Lock()
	if f.conflicts > 0 {
		f.conflicts--
		f.mu.Unlock()
		return 0, store.ErrConflict
	}
	f.mu.Unlock()
	return f.Store.Reparent(ctx, id, newParentID, localX, localY, orderKey, expectedVersion, meta)
}

func seedShape(t *testing.T, st store.Store, id string) *model.ShapeNode {
	t.Helper()
	s := &model.ShapeNode{
		ID: id, PageID: "page", Type: model.ShapeRectangle,
		X: 10, Y: 10, Width: 50, Height: 50, Visible: true, Version: 1,
	}
	require.NoError(t, st.Create(context.Background(), s))
	return s
}

func TestCommitIncrementsVersionByOne(t *testing.T) {
	st := store.NewMemoryStore()
	seedShape(t, st, "s1")
	svc := NewService(st, zap.NewNop())

	x := 42.0
	out, err := svc.Commit(context.Background(), "s1", model.ShapePatch{X: &x}, "user-a")
	require.NoError(t, err)
	assert.Equal(t, Committed, out.Result)
	assert.Equal(t, int64(2), out.NewVersion)

	got, err := st.Read(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, 42.0, got.X)
	assert.Equal(t, int64(2), got.Version)
	assert.Equal(t, "user-a", got.UpdatedBy)
	assert.Equal(t, out.RequestID, got.UpdatedByRequest)
}

func TestCommitRebasesOnceOnConflict(t *testing.T) {
	mem := store.NewMemoryStore()
	seedShape(t, mem, "s1")
	st := &flakyStore{Store: mem, conflicts: 1}
	svc := NewService(st, zap.NewNop())

	x := 99.0
	out, err := svc.Commit(context.Background(), "s1", model.ShapePatch{X: &x}, "user-a")
	require.NoError(t, err)
	assert.Equal(t, Committed, out.Result)
	assert.Equal(t, int64(2), out.NewVersion)
}

func TestCommitDroppedAfterSecondConflict(t *testing.T) {
	mem := store.NewMemoryStore()
	seedShape(t, mem, "s1")
	st := &flakyStore{Store: mem, conflicts: 2}
	svc := NewService(st, zap.NewNop())

	x := 99.0
	out, err := svc.Commit(context.Background(), "s1", model.ShapePatch{X: &x}, "user-a")
	require.NoError(t, err)
	assert.Equal(t, Dropped, out.Result)

	// The losing write leaves no trace.
	got, err := mem.Read(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, 10.0, got.X)
	assert.Equal(t, int64(1), got.Version)
}

func TestConcurrentDisjointPatchesBothLand(t *testing.T) {
	st := store.NewMemoryStore()
	seedShape(t, st, "s1")
	svc := NewService(st, zap.NewNop())

	// Two writers, one moving and one recoloring. Partial patches mean the
	// loser's rebase retry preserves the winner's field.
	x := 200.0
	fill := "#ff0000"
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := svc.Commit(context.Background(), "s1", model.ShapePatch{X: &x}, "user-a")
		assert.NoError(t, err)
	}()
	go func() {
		defer wg.Done()
		_, err := svc.Commit(context.Background(), "s1", model.ShapePatch{Fill: &fill}, "user-b")
		assert.NoError(t, err)
	}()
	wg.Wait()

	got, err := st.Read(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, 200.0, got.X)
	assert.Equal(t, "#ff0000", got.Fill)
	assert.Equal(t, int64(3), got.Version)

	// A second concurrent round on two more fields: four writes total land
	// on top of version 1, none lost, none duplicated.
	y := 300.0
	sw := 4.0
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := svc.Commit(context.Background(), "s1", model.ShapePatch{Y: &y}, "user-a")
		assert.NoError(t, err)
	}()
	go func() {
		defer wg.Done()
		_, err := svc.Commit(context.Background(), "s1", model.ShapePatch{StrokeWidth: &sw}, "user-b")
		assert.NoError(t, err)
	}()
	wg.Wait()

	got, err = st.Read(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, 200.0, got.X)
	assert.Equal(t, "#ff0000", got.Fill)
	assert.Equal(t, 300.0, got.Y)
	assert.Equal(t, 4.0, got.StrokeWidth)
	assert.Equal(t, int64(5), got.Version)
}

func TestCommitMissingShapeSkipped(t *testing.T) {
	st := store.NewMemoryStore()
	svc := NewService(st, zap.NewNop())

	x := 1.0
	out, err := svc.Commit(context.Background(), "nope", model.ShapePatch{X: &x}, "user-a")
	require.NoError(t, err)
	assert.Equal(t, Skipped, out.Result)
}

func TestCommitPermissionDeniedSkipped(t *testing.T) {
	st := store.NewMemoryStore()
	seedShape(t, st, "s1")
	st.DenyWrite = func(id string) bool { return id == "s1" }
	svc := NewService(st, zap.NewNop())

	x := 1.0
	out, err := svc.Commit(context.Background(), "s1", model.ShapePatch{X: &x}, "user-a")
	require.NoError(t, err)
	assert.Equal(t, Skipped, out.Result)
}

func TestReparentCommitsAtomically(t *testing.T) {
	st := store.NewMemoryStore()
	seedShape(t, st, "s1")
	f := &model.ShapeNode{ID: "f1", PageID: "page", Type: model.ShapeFrame, X: 100, Y: 100, Width: 200, Height: 200, Visible: true, Version: 1}
	require.NoError(t, st.Create(context.Background(), f))
	svc := NewService(st, zap.NewNop())

	fid := "f1"
	out, err := svc.Reparent(context.Background(), "s1", &fid, 75, 75, -1, "user-a")
	require.NoError(t, err)
	assert.Equal(t, Committed, out.Result)

	got, err := st.Read(context.Background(), "s1")
	require.NoError(t, err)
	require.NotNil(t, got.ParentID)
	assert.Equal(t, "f1", *got.ParentID)
	assert.Equal(t, 75.0, got.X)
	assert.Equal(t, 75.0, got.Y)
	assert.Equal(t, -1.0, got.OrderKey)
	assert.Equal(t, int64(2), got.Version)
}

func TestReparentRetriesOnce(t *testing.T) {
	mem := store.NewMemoryStore()
	seedShape(t, mem, "s1")
	st := &flakyStore{Store: mem, conflicts: 1}
	svc := NewService(st, zap.NewNop())

	out, err := svc.Reparent(context.Background(), "s1", nil, 5, 5, 0, "user-a")
	require.NoError(t, err)
	assert.Equal(t, Committed, out.Result)
	assert.Equal(t, int64(2), out.NewVersion)
}

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"canvas-backend/internal/model"
)

func seed(t *testing.T, s *MemoryStore, id string, orderKey float64) {
	t.Helper()
	require.NoError(t, s.Create(context.Background(), &model.ShapeNode{
		ID: id, PageID: "page", Type: model.ShapeRectangle,
		X: 1, Y: 2, Width: 10, Height: 10, Visible: true, OrderKey: orderKey, Version: 1,
	}))
}

func TestMemoryStoreWriteCAS(t *testing.T) {
	s := NewMemoryStore()
	seed(t, s, "s1", 1)
	ctx := context.Background()

	x := 50.0
	v, err := s.Write(ctx, "s1", model.ShapePatch{X: &x}, 1, WriteMeta{Actor: "u1", RequestID: "r1"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)

	got, err := s.Read(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 50.0, got.X)
	assert.Equal(t, 2.0, got.Y) // untouched field survives
	assert.Equal(t, "r1", got.UpdatedByRequest)

	// Stale expected version is rejected without touching the record.
	_, err = s.Write(ctx, "s1", model.ShapePatch{X: &x}, 1, WriteMeta{})
	assert.ErrorIs(t, err, ErrConflict)

	got, _ = s.Read(ctx, "s1")
	assert.Equal(t, int64(2), got.Version)
}

func TestMemoryStoreWriteMissing(t *testing.T) {
	s := NewMemoryStore()
	x := 1.0
	_, err := s.Write(context.Background(), "nope", model.ShapePatch{X: &x}, 1, WriteMeta{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreDenyWrite(t *testing.T) {
	s := NewMemoryStore()
	seed(t, s, "s1", 1)
	s.DenyWrite = func(id string) bool { return true }

	x := 1.0
	_, err := s.Write(context.Background(), "s1", model.ShapePatch{X: &x}, 1, WriteMeta{})
	assert.ErrorIs(t, err, ErrPermissionDenied)
}

func TestMemoryStoreReparent(t *testing.T) {
	s := NewMemoryStore()
	seed(t, s, "s1", 1)
	seed(t, s, "f1", 2)
	ctx := context.Background()

	fid := "f1"
	v, err := s.Reparent(ctx, "s1", &fid, 75, 75, -1, 1, WriteMeta{Actor: "u1"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)

	got, _ := s.Read(ctx, "s1")
	require.NotNil(t, got.ParentID)
	assert.Equal(t, "f1", *got.ParentID)
	assert.Equal(t, 75.0, got.X)
	assert.Equal(t, -1.0, got.OrderKey)

	_, err = s.Reparent(ctx, "s1", nil, 0, 0, 0, 1, WriteMeta{})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestMemoryStoreListPageOrdered(t *testing.T) {
	s := NewMemoryStore()
	seed(t, s, "c", 3)
	seed(t, s, "a", 1)
	seed(t, s, "b", 2)

	shapes, err := s.ListPage(context.Background(), "page")
	require.NoError(t, err)
	require.Len(t, shapes, 3)
	assert.Equal(t, "a", shapes[0].ID)
	assert.Equal(t, "b", shapes[1].ID)
	assert.Equal(t, "c", shapes[2].ID)
}

func TestMemoryStoreSubscribeStreamsFullLists(t *testing.T) {
	s := NewMemoryStore()
	seed(t, s, "s1", 1)

	ch, cancel := s.Subscribe("page")
	defer cancel()

	// The subscription starts with the current state.
	select {
	case shapes := <-ch:
		require.Len(t, shapes, 1)
	case <-time.After(time.Second):
		t.Fatal("no initial state received")
	}

	x := 9.0
	_, err := s.Write(context.Background(), "s1", model.ShapePatch{X: &x}, 1, WriteMeta{})
	require.NoError(t, err)

	select {
	case shapes := <-ch:
		require.Len(t, shapes, 1)
		assert.Equal(t, 9.0, shapes[0].X)
		assert.Equal(t, int64(2), shapes[0].Version)
	case <-time.After(time.Second):
		t.Fatal("no update event received")
	}
}

func TestMemoryStoreDeleteNotifies(t *testing.T) {
	s := NewMemoryStore()
	seed(t, s, "s1", 1)

	ch, cancel := s.Subscribe("page")
	defer cancel()
	<-ch // initial state

	require.NoError(t, s.Delete(context.Background(), "s1"))

	select {
	case shapes := <-ch:
		assert.Empty(t, shapes)
	case <-time.After(time.Second):
		t.Fatal("no delete event received")
	}

	assert.ErrorIs(t, s.Delete(context.Background(), "s1"), ErrNotFound)
}

func TestMemoryStoreReadReturnsClone(t *testing.T) {
	s := NewMemoryStore()
	seed(t, s, "s1", 1)
	ctx := context.Background()

	got, _ := s.Read(ctx, "s1")
	got.X = 999

	again, _ := s.Read(ctx, "s1")
	assert.Equal(t, 1.0, again.X)
}

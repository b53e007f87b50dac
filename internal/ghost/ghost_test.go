package ghost

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"canvas-backend/internal/model"
	"canvas-backend/internal/snapshot"
)

func pageSnapshot() *snapshot.Snapshot {
	snap := snapshot.New("page")
	snap.Replace([]*model.ShapeNode{
		{ID: "s1", PageID: "page", Type: model.ShapeRectangle, X: 10, Y: 10, Width: 50, Height: 50, Fill: "#eee", Stroke: "#000", Opacity: 1, Visible: true, Version: 1},
	})
	return snap
}

func peerRecord(userID, shapeID string, lastSeen time.Time) model.PresenceRecord {
	x, y := 120.0, 130.0
	return model.PresenceRecord{
		UserID:   userID,
		PageID:   "page",
		Gesture:  &model.Gesture{Type: model.GestureMove, ShapeID: shapeID, Draft: model.ShapePatch{X: &x, Y: &y}},
		LastSeen: lastSeen.UnixMilli(),
	}
}

func TestGhostsApplyDraftWithPeerStyling(t *testing.T) {
	snap := pageSnapshot()
	now := time.Now()
	peers := map[string]model.PresenceRecord{
		"peer": peerRecord("peer", "s1", now),
	}

	ghosts := Ghosts(peers, snap, "me", nil, now)
	require.Len(t, ghosts, 1)

	g := ghosts[0]
	assert.Equal(t, "peer", g.UserID)
	assert.Equal(t, 120.0, g.Shape.X)
	assert.Equal(t, 130.0, g.Shape.Y)
	assert.Equal(t, 0.4, g.Shape.Opacity)
	assert.Equal(t, UserColor("peer"), g.Shape.Stroke)
	assert.Equal(t, g.Color, g.Shape.Stroke)

	// The stored shape is untouched; the ghost is a styled clone.
	stored, ok := snap.ByID("s1")
	require.True(t, ok)
	assert.Equal(t, 10.0, stored.X)
	assert.Equal(t, 1.0, stored.Opacity)
}

func TestGhostsSkipOwnGesture(t *testing.T) {
	snap := pageSnapshot()
	now := time.Now()
	peers := map[string]model.PresenceRecord{
		"me": peerRecord("me", "s1", now),
	}
	assert.Empty(t, Ghosts(peers, snap, "me", nil, now))
}

func TestGhostsSkipLocallyDraggedShape(t *testing.T) {
	snap := pageSnapshot()
	now := time.Now()
	peers := map[string]model.PresenceRecord{
		"peer": peerRecord("peer", "s1", now),
	}
	dragging := func(shapeID string) bool { return shapeID == "s1" }
	assert.Empty(t, Ghosts(peers, snap, "me", dragging, now))
}

func TestGhostsSkipStaleGesture(t *testing.T) {
	snap := pageSnapshot()
	now := time.Now()
	peers := map[string]model.PresenceRecord{
		"peer": peerRecord("peer", "s1", now.Add(-model.GestureTTL-time.Second)),
	}
	assert.Empty(t, Ghosts(peers, snap, "me", nil, now))
}

func TestGhostsSkipUnknownShape(t *testing.T) {
	snap := pageSnapshot()
	now := time.Now()
	peers := map[string]model.PresenceRecord{
		"peer": peerRecord("peer", "deleted", now),
	}
	assert.Empty(t, Ghosts(peers, snap, "me", nil, now))
}

func TestUserColorStable(t *testing.T) {
	assert.Equal(t, UserColor("alice"), UserColor("alice"))
	assert.NotEmpty(t, UserColor("bob"))
}

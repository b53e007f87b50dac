package ghost

import (
	"hash/fnv"
	"time"

	"canvas-backend/internal/model"
	"canvas-backend/internal/snapshot"
)

// Ghost is a transient overlay shape derived from a peer's live gesture.
// It is rendered non-interactively and never written back to the snapshot
// or the store.
type Ghost struct {
	UserID string          `json:"user_id"`
	Color  string          `json:"color"`
	Shape  model.ShapeNode `json:"shape"`
}

const ghostOpacity = 0.4

// palette for peer outlines; a user's color is stable across sessions.
var palette = []string{
	"#f94144", "#f3722c", "#f8961e", "#f9c74f",
	"#90be6d", "#43aa8b", "#4d908e", "#577590", "#277da1",
}

// UserColor hashes a user id into the palette.
func UserColor(userID string) string {
	h := fnv.New32a()
	h.Write([]byte(userID))
	return palette[h.Sum32()%uint32(len(palette))]
}

// Ghosts derives overlay shapes from peer presence records. A peer gesture
// produces a ghost only when the referenced shape exists in the local
// snapshot, is not being dragged by the local user, and the gesture is
// within the live window. The draft patch is applied to a clone of the
// stored shape, styled translucent with the peer's outline color.
func Ghosts(peers map[string]model.PresenceRecord, snap *snapshot.Snapshot, localUserID string, localDragging func(shapeID string) bool, now time.Time) []Ghost {
	ghosts := make([]Ghost, 0)
	for userID, rec := range peers {
		if userID == localUserID {
			continue
		}
		if !rec.GestureLive(now) {
			continue
		}
		src, ok := snap.ByID(rec.Gesture.ShapeID)
		if !ok {
			continue
		}
		if localDragging != nil && localDragging(src.ID) {
			continue
		}
		shape := src.Clone()
		rec.Gesture.Draft.Apply(shape)
		shape.Opacity = ghostOpacity
		color := UserColor(userID)
		shape.Stroke = color
		ghosts = append(ghosts, Ghost{UserID: userID, Color: color, Shape: *shape})
	}
	return ghosts
}

package model

import "time"

// GestureMove is the only gesture type the sync core broadcasts today.
const GestureMove = "move"

// Cursor is a user's pointer position in world space.
type Cursor struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Gesture is an in-progress manipulation broadcast at high frequency.
// Draft carries the same partial patch the throttled commit path submits,
// so peers can render a ghost at the uncommitted position.
type Gesture struct {
	Type    string     `json:"type"`
	ShapeID string     `json:"shape_id"`
	Draft   ShapePatch `json:"draft"`
}

// PresenceRecord is one user's ephemeral state on a page. It is overwritten
// at high frequency and never persisted long-term.
type PresenceRecord struct {
	UserID    string   `json:"user_id"`
	PageID    string   `json:"page_id"`
	Cursor    Cursor   `json:"cursor"`
	Selection []string `json:"selection,omitempty"`
	Gesture   *Gesture `json:"gesture,omitempty"`
	LastSeen  int64    `json:"last_seen"` // unix millis
}

// Live reports whether the record is fresh enough to list the user as a peer.
func (r *PresenceRecord) Live(now time.Time) bool {
	return now.UnixMilli()-r.LastSeen <= PresenceTTL.Milliseconds()
}

// GestureLive reports whether the gesture is fresh enough for ghost
// rendering. A gesture older than the window is ignored even if the owning
// record is still online, so a lost clear-message cannot leave an orphan
// ghost behind.
func (r *PresenceRecord) GestureLive(now time.Time) bool {
	return r.Gesture != nil && now.UnixMilli()-r.LastSeen <= GestureTTL.Milliseconds()
}

package presence

import (
	"context"
	"time"

	"canvas-backend/internal/model"
)

// Channel is the ephemeral presence backend for one page. Records are
// overwritten at high frequency, removed on disconnect, and expired by
// consumers after the staleness windows in the model package.
type Channel interface {
	// Publish overwrites the caller's record, refreshing its TTL.
	Publish(ctx context.Context, rec model.PresenceRecord) error
	// Clear removes the user's record (disconnect, session end).
	Clear(ctx context.Context, userID string) error
	// Snapshot returns the current records keyed by user id, unfiltered.
	Snapshot(ctx context.Context) (map[string]model.PresenceRecord, error)
	// Subscribe streams the record map after every publish or clear.
	Subscribe(ctx context.Context) (<-chan map[string]model.PresenceRecord, func())
	Close() error
}

// Live filters a record map down to users seen within the 10 s window.
func Live(records map[string]model.PresenceRecord, now time.Time) map[string]model.PresenceRecord {
	out := make(map[string]model.PresenceRecord, len(records))
	for id, rec := range records {
		if rec.Live(now) {
			out[id] = rec
		}
	}
	return out
}

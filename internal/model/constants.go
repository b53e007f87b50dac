package model

import "time"

// Staleness windows for ephemeral presence state. Consumers filter on these;
// the backend also sets PresenceTTL as the redis key TTL so that records of
// disconnected users expire without an explicit removal.
const (
	// PresenceTTL is how long a record counts as "online" after its last write.
	PresenceTTL = 10 * time.Second

	// GestureTTL is how long a gesture counts as live for ghost rendering.
	GestureTTL = 2 * time.Second
)

// OverrideTolerance is the pixel distance within which a confirmed
// authoritative position is treated as matching a local override.
const OverrideTolerance = 0.5

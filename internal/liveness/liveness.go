// Package liveness is the read-side freshness check. The stored active
// flag is a hint; silence on the liveness clock overrides it.
package liveness

import (
	"time"

	"bus-telemetry/internal/model"
)

// Standard staleness thresholds. A roster view tolerates more slack than a
// passenger watching a single vehicle, so the two consumers use different
// thresholds on purpose.
const (
	RosterStaleAfter = 300 * time.Second
	DetailStaleAfter = 120 * time.Second
)

// Stale reports whether the record's liveness clock has fallen behind the
// threshold. A record that never got a heartbeat is stale.
func Stale(rec model.TrackingRecord, now time.Time, staleAfter time.Duration) bool {
	if rec.LastUpdated.IsZero() {
		return true
	}
	return now.Sub(rec.LastUpdated) > staleAfter
}

// EffectiveActive is the classification observers must use: the vehicle
// counts as running only if the stored flag says so AND the record is
// fresh. This is never written back to the store.
func EffectiveActive(rec model.TrackingRecord, now time.Time, staleAfter time.Duration) bool {
	return rec.Active && !Stale(rec, now, staleAfter)
}

package telemetry

import (
	"context"
	"log"
	"time"

	"bus-telemetry/internal/metrics"
	"bus-telemetry/internal/model"
	"bus-telemetry/internal/store"
)

// Heartbeat advances the liveness clock on a fixed period while a trip is
// active, independent of the persistence gate. A stationary vehicle that
// produces no position deltas still refreshes lastUpdated this way.
type Heartbeat struct {
	records   store.RecordStore
	vehicleID string
	interval  time.Duration
	metrics   *metrics.Collector
}

func NewHeartbeat(records store.RecordStore, vehicleID string, interval time.Duration, m *metrics.Collector) *Heartbeat {
	return &Heartbeat{records: records, vehicleID: vehicleID, interval: interval, metrics: m}
}

// Run beats until ctx is done. The trip lifecycle cancels ctx the moment
// the trip leaves the active state, so the emitter is stopped, not paused.
func (h *Heartbeat) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := h.records.MergeWrite(ctx, h.vehicleID, store.Fields{
				model.FieldActive:      true,
				model.FieldLastUpdated: time.Now(),
			})
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Printf("heartbeat for %s failed: %v", h.vehicleID, err)
				if h.metrics != nil {
					h.metrics.HeartbeatErrs.Inc()
				}
				continue
			}
			if h.metrics != nil {
				h.metrics.Heartbeats.Inc()
			}
		}
	}
}

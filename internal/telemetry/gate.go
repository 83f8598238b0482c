package telemetry

import (
	"context"
	"log"
	"time"

	"bus-telemetry/internal/metrics"
	"bus-telemetry/internal/model"
	"bus-telemetry/internal/store"
)

// Gate rate-limits persistence of cleaned readings for one vehicle: at most
// one merge-write per interval, with the first reading after trip start
// forwarded immediately. Dropped readings still drive any local display;
// only the persisted copy is throttled.
type Gate struct {
	records   store.RecordStore
	vehicleID string
	interval  time.Duration
	metrics   *metrics.Collector

	last time.Time
	now  func() time.Time
}

func NewGate(records store.RecordStore, vehicleID string, interval time.Duration, m *metrics.Collector) *Gate {
	return &Gate{
		records:   records,
		vehicleID: vehicleID,
		interval:  interval,
		metrics:   m,
		now:       time.Now,
	}
}

// Offer persists the reading if the interval has elapsed, otherwise drops
// it. A failed write is logged and swallowed; the slot stays consumed, so
// the next reading after the interval naturally retries. Returns whether a
// write was attempted.
func (g *Gate) Offer(ctx context.Context, r model.CleanedReading) bool {
	now := g.now()
	if !g.last.IsZero() && now.Sub(g.last) < g.interval {
		if g.metrics != nil {
			g.metrics.PositionWritesDropped.Inc()
		}
		return false
	}
	g.last = now

	start := time.Now()
	err := g.records.MergeWrite(ctx, g.vehicleID, store.Fields{
		model.FieldLat:         r.Lat,
		model.FieldLng:         r.Lng,
		model.FieldSpeedKmh:    r.SpeedKmh,
		model.FieldHeading:     r.Heading,
		model.FieldActive:      true,
		model.FieldLastUpdated: now,
	})
	if g.metrics != nil {
		g.metrics.WriteDuration.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		log.Printf("position write for %s failed: %v", g.vehicleID, err)
		if g.metrics != nil {
			g.metrics.PositionWriteErrs.Inc()
		}
		return true
	}
	if g.metrics != nil {
		g.metrics.PositionWrites.Inc()
	}
	return true
}

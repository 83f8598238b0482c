// Package store defines the two persistence boundaries of the engine:
// a shared mutable record store (latest value wins, field-level merges)
// and an append-only trip log store. The engine never depends on a
// concrete backend.
package store

import (
	"context"
	"errors"
	"time"

	"bus-telemetry/internal/model"
)

var (
	// ErrNoRecord is returned by Read when the vehicle has no tracking record yet.
	ErrNoRecord = errors.New("tracking record not found")
	// ErrVehicleBusy is returned by Insert when the vehicle already has an active trip.
	ErrVehicleBusy = errors.New("vehicle already has an active trip")
	// ErrTripNotActive is returned by CloseTrip when the trip is already closed or unknown.
	ErrTripNotActive = errors.New("trip is not active")
)

// Fields is a partial set of tracking record fields for a merge-write.
// Keys are the model.Field* constants; values may be float64, int, bool,
// string or time.Time.
type Fields map[string]any

// RecordStore is the shared mutable record store. MergeWrite updates only
// the given fields. Subscribe delivers the current snapshot first and then
// the latest value after each write, at least once; intermediate values may
// be skipped.
type RecordStore interface {
	MergeWrite(ctx context.Context, vehicleID string, fields Fields) error
	Read(ctx context.Context, vehicleID string) (model.TrackingRecord, error)
	Subscribe(ctx context.Context, vehicleID string, fn func(model.TrackingRecord)) (func(), error)
	ReadFleet(ctx context.Context) ([]model.TrackingRecord, error)
}

// TripStore is the append-only trip log. Insert enforces at most one
// active trip per vehicle and fails with ErrVehicleBusy otherwise, so a
// start is a conditional claim rather than a read-then-write. ActiveTrip
// returns ErrTripNotActive when the vehicle has no open trip.
type TripStore interface {
	Insert(ctx context.Context, t model.TripLog) error
	CloseTrip(ctx context.Context, id, status string, endTime time.Time) error
	ActiveTrip(ctx context.Context, vehicleID string) (model.TripLog, error)
	ListSince(ctx context.Context, vehicleID string, since time.Time) ([]model.TripLog, error)
	ListByDate(ctx context.Context, date string) ([]model.TripLog, error)
}

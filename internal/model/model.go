package model

import "time"

// Status tags written into TrackingRecord.Status. Free-form by contract,
// but these are the values the engine itself writes and reacts to.
const (
	StatusInTransit    = "In Transit"
	StatusDelayed      = "Delayed"
	StatusTripEnded    = "Trip Ended"
	StatusAbortedAdmin = "Aborted by Admin"
)

// Trip log statuses. A row is created as TripActive and closed exactly once
// with one of the terminal statuses.
const (
	TripActive    = "active"
	TripCompleted = "completed"
	TripAborted   = "aborted"
)

// Field names used in merge-writes against the record store. Writers only
// ever touch the fields they own, so a partial write never clobbers the rest.
const (
	FieldLat            = "lat"
	FieldLng            = "lng"
	FieldSpeedKmh       = "speed_kmh"
	FieldHeading        = "heading"
	FieldPassengerCount = "passenger_count"
	FieldActive         = "active"
	FieldStatus         = "status"
	FieldNextStop       = "next_stop"
	FieldCurrentTripID  = "current_trip_id"
	FieldDriverName     = "driver_name"
	FieldLastUpdated    = "last_updated"
	FieldAbortedAt      = "aborted_at"
	FieldAbortedBy      = "aborted_by"
)

// TrackingRecord is the single latest-known-state document per vehicle,
// mutated in place by merge-writes. Position fields are nil while the
// vehicle has never reported during a trip.
type TrackingRecord struct {
	VehicleID      string    `json:"vehicleId"`
	Lat            *float64  `json:"lat,omitempty"`
	Lng            *float64  `json:"lng,omitempty"`
	SpeedKmh       *float64  `json:"speedKmh,omitempty"`
	Heading        *float64  `json:"heading,omitempty"`
	PassengerCount int       `json:"passengerCount"`
	Active         bool      `json:"active"`
	Status         string    `json:"status,omitempty"`
	NextStop       string    `json:"nextStop,omitempty"`
	CurrentTripID  string    `json:"currentTripId,omitempty"`
	DriverName     string    `json:"driverName,omitempty"`
	LastUpdated    time.Time `json:"lastUpdated"`
	AbortedAt      time.Time `json:"abortedAt,omitempty"`
	AbortedBy      string    `json:"abortedBy,omitempty"`
}

// HasPosition reports whether the record carries a usable fix.
func (r TrackingRecord) HasPosition() bool {
	return r.Lat != nil && r.Lng != nil
}

// TripLog is one row of append-only trip history. EndTime is nil until the
// trip is closed; afterwards the row is immutable.
type TripLog struct {
	ID         string     `json:"id"`
	VehicleID  string     `json:"vehicleId"`
	DriverID   string     `json:"driverId"`
	DriverName string     `json:"driverName"`
	StartTime  time.Time  `json:"startTime"`
	EndTime    *time.Time `json:"endTime,omitempty"`
	Status     string     `json:"status"`
	Date       string     `json:"date"` // YYYY-MM-DD, service day
}

// CleanedReading is a smoothed sample emitted by the position sampler.
// It is ephemeral: only the rate-limited subset reaches the record store.
type CleanedReading struct {
	Lat       float64
	Lng       float64
	SpeedKmh  float64
	Heading   float64
	SampledAt time.Time
}

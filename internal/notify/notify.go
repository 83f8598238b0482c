// Package notify is the fire-and-forget notification boundary. Delivery
// and formatting beyond the event payload are out of scope for the engine.
package notify

import "time"

const (
	EventTripStarted  = "trip_started"
	EventTripEnded    = "trip_ended"
	EventTripAborted  = "trip_aborted"
	EventSOS          = "sos"
	EventAnnouncement = "announcement"
)

// Event is one notification. Position fields are set when a fix was known
// at emit time (SOS always tries to carry one).
type Event struct {
	Type       string    `json:"type"`
	VehicleID  string    `json:"vehicleId"`
	TripID     string    `json:"tripId,omitempty"`
	DriverName string    `json:"driverName,omitempty"`
	Message    string    `json:"message,omitempty"`
	Lat        *float64  `json:"lat,omitempty"`
	Lng        *float64  `json:"lng,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Sink accepts events fire-and-forget. Errors are for the caller's logs;
// the engine never blocks or retries on a failed notification.
type Sink interface {
	Notify(e Event) error
}

package redisstore

import (
	"testing"
	"time"

	"bus-telemetry/internal/model"
)

func TestFieldCodecRoundTrip(t *testing.T) {
	ts := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	hash := map[string]string{
		"vehicle_id":              "bus-1",
		model.FieldLat:            encodeField(11.0168),
		model.FieldLng:            encodeField(76.9558),
		model.FieldSpeedKmh:       encodeField(36.5),
		model.FieldPassengerCount: encodeField(12),
		model.FieldActive:         encodeField(true),
		model.FieldStatus:         encodeField("In Transit"),
		model.FieldLastUpdated:    encodeField(ts),
	}

	rec := decodeRecord("bus-1", hash)
	if rec.VehicleID != "bus-1" {
		t.Errorf("vehicle = %q", rec.VehicleID)
	}
	if rec.Lat == nil || *rec.Lat != 11.0168 {
		t.Errorf("lat = %v, want 11.0168", rec.Lat)
	}
	if rec.SpeedKmh == nil || *rec.SpeedKmh != 36.5 {
		t.Errorf("speed = %v, want 36.5", rec.SpeedKmh)
	}
	if rec.PassengerCount != 12 {
		t.Errorf("passengers = %d, want 12", rec.PassengerCount)
	}
	if !rec.Active {
		t.Error("active not decoded")
	}
	if rec.Status != "In Transit" {
		t.Errorf("status = %q", rec.Status)
	}
	if !rec.LastUpdated.Equal(ts) {
		t.Errorf("lastUpdated = %v, want %v", rec.LastUpdated, ts)
	}
}

func TestDecodeRecordPartialHash(t *testing.T) {
	// A record touched only by a heartbeat has no position fields yet.
	rec := decodeRecord("bus-2", map[string]string{
		model.FieldActive:      "1",
		model.FieldLastUpdated: encodeField(time.Now()),
	})
	if rec.HasPosition() {
		t.Error("position reported for a record that never carried one")
	}
	if rec.SpeedKmh != nil || rec.Heading != nil {
		t.Error("absent numeric fields must decode to nil, not zero")
	}
	if !rec.Active {
		t.Error("active flag lost")
	}
}

func TestEncodeFieldBool(t *testing.T) {
	if encodeField(false) != "0" || encodeField(true) != "1" {
		t.Fatalf("bool encoding = %q/%q", encodeField(false), encodeField(true))
	}
}

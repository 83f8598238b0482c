// Package redisstore implements store.RecordStore on Redis: one hash per
// vehicle for the tracking record (HSET is the field-level merge) and one
// pub/sub channel per vehicle carrying the merged record after each write.
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"bus-telemetry/internal/model"
	"bus-telemetry/internal/store"
)

const keyPrefix = "tracking:"

type Store struct {
	rdb *redis.Client
}

func New(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

func recordKey(vehicleID string) string     { return keyPrefix + vehicleID }
func updateChannel(vehicleID string) string { return "tracking:updates:" + vehicleID }

// MergeWrite HSETs only the given fields, then publishes the merged record
// so subscribers see the latest value. The HSET and the publish are not
// atomic; subscribers tolerate that because every delivery carries the
// full current record.
func (s *Store) MergeWrite(ctx context.Context, vehicleID string, fields store.Fields) error {
	if vehicleID == "" {
		return fmt.Errorf("merge-write: empty vehicle id")
	}
	args := make([]any, 0, 2*(len(fields)+1))
	args = append(args, "vehicle_id", vehicleID)
	for k, v := range fields {
		args = append(args, k, encodeField(v))
	}
	if err := s.rdb.HSet(ctx, recordKey(vehicleID), args...).Err(); err != nil {
		return fmt.Errorf("merge-write %s: %w", vehicleID, err)
	}
	rec, err := s.Read(ctx, vehicleID)
	if err != nil {
		return nil // write succeeded; fan-out is best effort
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return nil
	}
	if err := s.rdb.Publish(ctx, updateChannel(vehicleID), payload).Err(); err != nil {
		log.Printf("publish update for %s: %v", vehicleID, err)
	}
	return nil
}

func (s *Store) Read(ctx context.Context, vehicleID string) (model.TrackingRecord, error) {
	m, err := s.rdb.HGetAll(ctx, recordKey(vehicleID)).Result()
	if err != nil {
		return model.TrackingRecord{}, fmt.Errorf("read %s: %w", vehicleID, err)
	}
	if len(m) == 0 {
		return model.TrackingRecord{}, store.ErrNoRecord
	}
	return decodeRecord(vehicleID, m), nil
}

// Subscribe delivers the current snapshot (when one exists) and then every
// published update until cancel is called or ctx is done. Deliveries run on
// the subscription goroutine; callers serialize them into their own inbox.
func (s *Store) Subscribe(ctx context.Context, vehicleID string, fn func(model.TrackingRecord)) (func(), error) {
	sub := s.rdb.Subscribe(ctx, updateChannel(vehicleID))
	// Force the subscription onto the wire before the snapshot read so no
	// update between the two is lost.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", vehicleID, err)
	}
	if rec, err := s.Read(ctx, vehicleID); err == nil {
		fn(rec)
	}
	go func() {
		for msg := range sub.Channel() {
			var rec model.TrackingRecord
			if err := json.Unmarshal([]byte(msg.Payload), &rec); err != nil {
				log.Printf("decode update for %s: %v", vehicleID, err)
				continue
			}
			fn(rec)
		}
	}()
	cancel := func() { _ = sub.Close() }
	return cancel, nil
}

// ReadFleet scans all tracking records. Used by roster views; the result is
// a point-in-time snapshot, not a consistent cut.
func (s *Store) ReadFleet(ctx context.Context) ([]model.TrackingRecord, error) {
	var out []model.TrackingRecord
	iter := s.rdb.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		m, err := s.rdb.HGetAll(ctx, key).Result()
		if err != nil {
			return nil, fmt.Errorf("read fleet: %w", err)
		}
		if len(m) == 0 {
			continue
		}
		out = append(out, decodeRecord(key[len(keyPrefix):], m))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan fleet: %w", err)
	}
	return out, nil
}

func encodeField(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		if t {
			return "1"
		}
		return "0"
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case time.Time:
		return strconv.FormatInt(t.UnixMilli(), 10)
	default:
		return fmt.Sprint(t)
	}
}

func decodeRecord(vehicleID string, m map[string]string) model.TrackingRecord {
	rec := model.TrackingRecord{VehicleID: vehicleID}
	if id := m["vehicle_id"]; id != "" {
		rec.VehicleID = id
	}
	rec.Lat = floatField(m, model.FieldLat)
	rec.Lng = floatField(m, model.FieldLng)
	rec.SpeedKmh = floatField(m, model.FieldSpeedKmh)
	rec.Heading = floatField(m, model.FieldHeading)
	if n, err := strconv.Atoi(m[model.FieldPassengerCount]); err == nil {
		rec.PassengerCount = n
	}
	rec.Active = m[model.FieldActive] == "1"
	rec.Status = m[model.FieldStatus]
	rec.NextStop = m[model.FieldNextStop]
	rec.CurrentTripID = m[model.FieldCurrentTripID]
	rec.DriverName = m[model.FieldDriverName]
	rec.LastUpdated = timeField(m, model.FieldLastUpdated)
	rec.AbortedAt = timeField(m, model.FieldAbortedAt)
	rec.AbortedBy = m[model.FieldAbortedBy]
	return rec
}

func floatField(m map[string]string, key string) *float64 {
	v, ok := m[key]
	if !ok || v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return nil
	}
	return &f
}

func timeField(m map[string]string, key string) time.Time {
	v, ok := m[key]
	if !ok || v == "" {
		return time.Time{}
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

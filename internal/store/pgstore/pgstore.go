// Package pgstore implements store.TripStore on Postgres via the pgx
// stdlib driver. A partial unique index turns Insert into a conditional
// claim: at most one active trip per vehicle can exist.
package pgstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"bus-telemetry/internal/model"
	"bus-telemetry/internal/store"
)

const uniqueViolation = "23505"

type Store struct {
	db *sql.DB
}

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	return &Store{db: db}, nil
}

func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error { return s.db.Close() }

// EnsureSchema creates the trip log table and the one-active-trip-per-vehicle
// index. Safe to run on every start.
func (s *Store) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS trip_logs (
			id          UUID PRIMARY KEY,
			vehicle_id  TEXT NOT NULL,
			driver_id   TEXT NOT NULL DEFAULT '',
			driver_name TEXT NOT NULL DEFAULT '',
			start_time  TIMESTAMPTZ NOT NULL,
			end_time    TIMESTAMPTZ,
			status      TEXT NOT NULL,
			date        TEXT NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS trip_logs_one_active
			ON trip_logs (vehicle_id) WHERE status = 'active'`,
		`CREATE INDEX IF NOT EXISTS trip_logs_vehicle_start
			ON trip_logs (vehicle_id, start_time DESC)`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// Insert appends a new trip row. While the row carries status "active" the
// partial unique index rejects a second claim for the same vehicle, which
// surfaces as store.ErrVehicleBusy.
func (s *Store) Insert(ctx context.Context, t model.TripLog) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trip_logs (id, vehicle_id, driver_id, driver_name, start_time, end_time, status, date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, t.ID, t.VehicleID, t.DriverID, t.DriverName, t.StartTime, t.EndTime, t.Status, t.Date)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return store.ErrVehicleBusy
		}
		return fmt.Errorf("insert trip: %w", err)
	}
	return nil
}

// CloseTrip finishes an active trip with a terminal status. Closing an
// already closed or unknown trip returns store.ErrTripNotActive, which
// makes a repeated abort a no-op for the caller.
func (s *Store) CloseTrip(ctx context.Context, id, status string, endTime time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE trip_logs SET end_time = $2, status = $3
		WHERE id = $1 AND status = 'active'
	`, id, endTime, status)
	if err != nil {
		return fmt.Errorf("close trip %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("close trip %s: %w", id, err)
	}
	if n == 0 {
		return store.ErrTripNotActive
	}
	return nil
}

// ActiveTrip returns the vehicle's open trip, if any. The partial unique
// index guarantees there is at most one.
func (s *Store) ActiveTrip(ctx context.Context, vehicleID string) (model.TripLog, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, vehicle_id, driver_id, driver_name, start_time, end_time, status, date
		FROM trip_logs
		WHERE vehicle_id = $1 AND status = 'active'
	`, vehicleID)
	var t model.TripLog
	var end sql.NullTime
	err := row.Scan(&t.ID, &t.VehicleID, &t.DriverID, &t.DriverName, &t.StartTime, &end, &t.Status, &t.Date)
	if errors.Is(err, sql.ErrNoRows) {
		return model.TripLog{}, store.ErrTripNotActive
	}
	if err != nil {
		return model.TripLog{}, fmt.Errorf("active trip for %s: %w", vehicleID, err)
	}
	if end.Valid {
		t.EndTime = &end.Time
	}
	return t, nil
}

func (s *Store) ListSince(ctx context.Context, vehicleID string, since time.Time) ([]model.TripLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, vehicle_id, driver_id, driver_name, start_time, end_time, status, date
		FROM trip_logs
		WHERE vehicle_id = $1 AND start_time >= $2
		ORDER BY start_time DESC
	`, vehicleID, since)
	if err != nil {
		return nil, fmt.Errorf("list trips: %w", err)
	}
	defer rows.Close()
	return scanTrips(rows)
}

func (s *Store) ListByDate(ctx context.Context, date string) ([]model.TripLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, vehicle_id, driver_id, driver_name, start_time, end_time, status, date
		FROM trip_logs
		WHERE date = $1
		ORDER BY start_time DESC
	`, date)
	if err != nil {
		return nil, fmt.Errorf("list trips by date: %w", err)
	}
	defer rows.Close()
	return scanTrips(rows)
}

func scanTrips(rows *sql.Rows) ([]model.TripLog, error) {
	var out []model.TripLog
	for rows.Next() {
		var t model.TripLog
		var end sql.NullTime
		if err := rows.Scan(&t.ID, &t.VehicleID, &t.DriverID, &t.DriverName, &t.StartTime, &end, &t.Status, &t.Date); err != nil {
			return nil, err
		}
		if end.Valid {
			t.EndTime = &end.Time
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

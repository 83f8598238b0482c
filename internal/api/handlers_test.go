package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"

	"bus-telemetry/internal/model"
	"bus-telemetry/internal/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeRecords struct {
	mu     sync.Mutex
	recs   map[string]model.TrackingRecord
	writes []store.Fields
}

func (f *fakeRecords) MergeWrite(ctx context.Context, vehicleID string, fields store.Fields) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, fields)
	return nil
}

func (f *fakeRecords) Read(ctx context.Context, vehicleID string) (model.TrackingRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.recs[vehicleID]
	if !ok {
		return model.TrackingRecord{}, store.ErrNoRecord
	}
	return rec, nil
}

func (f *fakeRecords) Subscribe(ctx context.Context, vehicleID string, fn func(model.TrackingRecord)) (func(), error) {
	return func() {}, nil
}

func (f *fakeRecords) ReadFleet(ctx context.Context) ([]model.TrackingRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.TrackingRecord, 0, len(f.recs))
	for _, rec := range f.recs {
		out = append(out, rec)
	}
	return out, nil
}

type fakeTrips struct {
	rows []model.TripLog
}

func (f *fakeTrips) Insert(ctx context.Context, t model.TripLog) error { return nil }
func (f *fakeTrips) CloseTrip(ctx context.Context, id, status string, endTime time.Time) error {
	return nil
}
func (f *fakeTrips) ActiveTrip(ctx context.Context, vehicleID string) (model.TripLog, error) {
	for _, row := range f.rows {
		if row.VehicleID == vehicleID && row.Status == model.TripActive {
			return row, nil
		}
	}
	return model.TripLog{}, store.ErrTripNotActive
}
func (f *fakeTrips) ListSince(ctx context.Context, vehicleID string, since time.Time) ([]model.TripLog, error) {
	return f.rows, nil
}
func (f *fakeTrips) ListByDate(ctx context.Context, date string) ([]model.TripLog, error) {
	return f.rows, nil
}

func ptr(v float64) *float64 { return &v }

func testRouter(records *fakeRecords, trips *fakeTrips) *gin.Engine {
	s := NewServer(records, trips, 0, 0)
	r := gin.New()
	r.GET("/fleet", s.FleetHandler())
	r.GET("/vehicle/:id", s.VehicleHandler())
	r.GET("/vehicle/:id/near", s.NearHandler())
	r.GET("/vehicle/:id/trips", s.TripsHandler())
	r.POST("/vehicle/:id/abort", func(c *gin.Context) {
		c.Set("claims", jwt.MapClaims{"sub": "ops-1"})
	}, s.AbortHandler())
	return r
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, want int) []byte {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != want {
		t.Fatalf("%s %s = %d, want %d (body %s)", method, path, w.Code, want, w.Body.String())
	}
	return w.Body.Bytes()
}

func TestFleetLivenessOverride(t *testing.T) {
	now := time.Now()
	records := &fakeRecords{recs: map[string]model.TrackingRecord{
		"bus-1": {VehicleID: "bus-1", Active: true, LastUpdated: now.Add(-10 * time.Second)},
		"bus-2": {VehicleID: "bus-2", Active: true, LastUpdated: now.Add(-6 * time.Minute)},
		"bus-3": {VehicleID: "bus-3", Active: false, LastUpdated: now},
	}}
	r := testRouter(records, &fakeTrips{})

	body := doJSON(t, r, http.MethodGet, "/fleet", http.StatusOK)
	var fleet []struct {
		VehicleID string `json:"vehicleId"`
		Active    bool   `json:"active"`
		Online    bool   `json:"online"`
	}
	if err := json.Unmarshal(body, &fleet); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(fleet) != 3 {
		t.Fatalf("fleet size = %d, want 3", len(fleet))
	}
	wantOnline := map[string]bool{"bus-1": true, "bus-2": false, "bus-3": false}
	for _, v := range fleet {
		if v.Online != wantOnline[v.VehicleID] {
			t.Errorf("%s online = %v, want %v", v.VehicleID, v.Online, wantOnline[v.VehicleID])
		}
	}
}

func TestVehicleDetailUsesTighterThreshold(t *testing.T) {
	// 150s of silence: fresh enough for the roster, stale for the detail view.
	records := &fakeRecords{recs: map[string]model.TrackingRecord{
		"bus-1": {VehicleID: "bus-1", Active: true, LastUpdated: time.Now().Add(-150 * time.Second)},
	}}
	r := testRouter(records, &fakeTrips{})

	body := doJSON(t, r, http.MethodGet, "/vehicle/bus-1", http.StatusOK)
	var v struct {
		Online bool `json:"online"`
	}
	if err := json.Unmarshal(body, &v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if v.Online {
		t.Error("150s-old record online in detail view, want offline at 120s threshold")
	}

	doJSON(t, r, http.MethodGet, "/vehicle/unknown", http.StatusNotFound)
}

func TestNearHandler(t *testing.T) {
	records := &fakeRecords{recs: map[string]model.TrackingRecord{
		"bus-1": {VehicleID: "bus-1", Lat: ptr(11.0168), Lng: ptr(76.9558)},
		"bus-2": {VehicleID: "bus-2"}, // never reported a fix
	}}
	r := testRouter(records, &fakeTrips{})

	cases := []struct {
		name string
		path string
		want bool
	}{
		// ~1.1km north of the vehicle.
		{"inside the alert band", "/vehicle/bus-1/near?lat=11.0268&lng=76.9558", true},
		// ~5.5km away.
		{"too far", "/vehicle/bus-1/near?lat=11.0668&lng=76.9558", false},
		// Same point counts as arrived, not approaching.
		{"at the stop", "/vehicle/bus-1/near?lat=11.0168&lng=76.9558", false},
		{"no position yet", "/vehicle/bus-2/near?lat=11.0268&lng=76.9558", false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			body := doJSON(t, r, http.MethodGet, c.path, http.StatusOK)
			var resp struct {
				Near bool `json:"near"`
			}
			if err := json.Unmarshal(body, &resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Near != c.want {
				t.Errorf("near = %v, want %v", resp.Near, c.want)
			}
		})
	}

	doJSON(t, r, http.MethodGet, "/vehicle/bus-1/near?lat=abc&lng=76.9", http.StatusBadRequest)
	doJSON(t, r, http.MethodGet, "/vehicle/bus-1/near", http.StatusBadRequest)
}

func TestAbortWritesAdminFieldsOnly(t *testing.T) {
	records := &fakeRecords{recs: map[string]model.TrackingRecord{
		"bus-1": {VehicleID: "bus-1", Active: true, Status: model.StatusInTransit},
		"bus-2": {VehicleID: "bus-2", Active: false},
	}}
	r := testRouter(records, &fakeTrips{})

	doJSON(t, r, http.MethodPost, "/vehicle/bus-1/abort", http.StatusOK)

	records.mu.Lock()
	writes := append([]store.Fields(nil), records.writes...)
	records.mu.Unlock()
	if len(writes) != 1 {
		t.Fatalf("writes = %d, want 1", len(writes))
	}
	w := writes[0]
	if w[model.FieldActive] != false {
		t.Errorf("active = %v, want false", w[model.FieldActive])
	}
	if w[model.FieldStatus] != model.StatusAbortedAdmin {
		t.Errorf("status = %v, want %q", w[model.FieldStatus], model.StatusAbortedAdmin)
	}
	if w[model.FieldAbortedBy] != "ops-1" {
		t.Errorf("abortedBy = %v, want ops-1 from the token subject", w[model.FieldAbortedBy])
	}
	if _, ok := w[model.FieldAbortedAt]; !ok {
		t.Error("abortedAt missing")
	}
	// The liveness clock belongs to the driver-side writers.
	if _, ok := w[model.FieldLastUpdated]; ok {
		t.Error("abort must not touch lastUpdated")
	}

	doJSON(t, r, http.MethodPost, "/vehicle/bus-2/abort", http.StatusConflict)
	doJSON(t, r, http.MethodPost, "/vehicle/unknown/abort", http.StatusNotFound)
}

func TestTripsActiveQuery(t *testing.T) {
	records := &fakeRecords{recs: map[string]model.TrackingRecord{}}
	trips := &fakeTrips{rows: []model.TripLog{
		{ID: "t-1", VehicleID: "bus-1", Status: model.TripActive, StartTime: time.Now()},
		{ID: "t-0", VehicleID: "bus-1", Status: model.TripCompleted, StartTime: time.Now().Add(-2 * time.Hour)},
	}}
	r := testRouter(records, trips)

	body := doJSON(t, r, http.MethodGet, "/vehicle/bus-1/trips?active=1", http.StatusOK)
	var trip struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &trip); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if trip.ID != "t-1" {
		t.Errorf("active trip id = %q, want t-1", trip.ID)
	}

	doJSON(t, r, http.MethodGet, "/vehicle/bus-9/trips?active=1", http.StatusNotFound)
}

func TestJWTRoundTrip(t *testing.T) {
	svc := NewJWT([]byte("test-secret"))
	token, err := svc.GenerateToken("admin", time.Hour)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	claims, err := svc.ParseToken(token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims["sub"] != "admin" {
		t.Errorf("sub = %v, want admin", claims["sub"])
	}

	other := NewJWT([]byte("wrong-secret"))
	if _, err := other.ParseToken(token); err == nil {
		t.Error("token verified against the wrong secret")
	}
}

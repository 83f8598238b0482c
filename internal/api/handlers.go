// Package api is the observer/admin HTTP surface: fleet roster and vehicle
// detail with the read-side liveness override, proximity checks, trip
// history, and the remote abort endpoint.
package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"

	"bus-telemetry/internal/geo"
	"bus-telemetry/internal/liveness"
	"bus-telemetry/internal/model"
	"bus-telemetry/internal/store"
)

type Server struct {
	records store.RecordStore
	trips   store.TripStore

	rosterStaleAfter time.Duration
	detailStaleAfter time.Duration
}

func NewServer(records store.RecordStore, trips store.TripStore, rosterStaleAfter, detailStaleAfter time.Duration) *Server {
	if rosterStaleAfter <= 0 {
		rosterStaleAfter = liveness.RosterStaleAfter
	}
	if detailStaleAfter <= 0 {
		detailStaleAfter = liveness.DetailStaleAfter
	}
	return &Server{
		records:          records,
		trips:            trips,
		rosterStaleAfter: rosterStaleAfter,
		detailStaleAfter: detailStaleAfter,
	}
}

// vehicleView is a tracking record annotated with the read-side liveness
// classification. Online is what observers must trust; the stored active
// flag is included only for diagnostics.
type vehicleView struct {
	model.TrackingRecord
	Online bool `json:"online"`
}

func (s *Server) view(rec model.TrackingRecord, staleAfter time.Duration) vehicleView {
	return vehicleView{
		TrackingRecord: rec,
		Online:         liveness.EffectiveActive(rec, time.Now(), staleAfter),
	}
}

// FleetHandler returns the roster with the 300s staleness override applied.
func (s *Server) FleetHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		recs, err := s.records.ReadFleet(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		out := make([]vehicleView, 0, len(recs))
		for _, rec := range recs {
			out = append(out, s.view(rec, s.rosterStaleAfter))
		}
		c.JSON(http.StatusOK, out)
	}
}

// VehicleHandler returns one vehicle with the tighter 120s detail threshold.
func (s *Server) VehicleHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		rec, err := s.records.Read(c.Request.Context(), c.Param("id"))
		if err != nil {
			if errors.Is(err, store.ErrNoRecord) {
				c.JSON(http.StatusNotFound, gin.H{"error": "vehicle not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, s.view(rec, s.detailStaleAfter))
	}
}

// NearHandler classifies the vehicle's distance to a stop. Inside 100m the
// vehicle counts as arrived, not approaching, so "near" is false there.
func (s *Server) NearHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		lat, errLat := strconv.ParseFloat(c.Query("lat"), 64)
		lng, errLng := strconv.ParseFloat(c.Query("lng"), 64)
		if errLat != nil || errLng != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "lat and lng query params required"})
			return
		}
		rec, err := s.records.Read(c.Request.Context(), c.Param("id"))
		if err != nil {
			if errors.Is(err, store.ErrNoRecord) {
				c.JSON(http.StatusNotFound, gin.H{"error": "vehicle not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if !rec.HasPosition() {
			c.JSON(http.StatusOK, gin.H{"near": false, "reason": "no position"})
			return
		}
		d := geo.DistanceKm(*rec.Lat, *rec.Lng, lat, lng)
		c.JSON(http.StatusOK, gin.H{"near": geo.Near(d), "distanceKm": d})
	}
}

// TripsHandler lists trip history: ?active=1 for the vehicle's open trip,
// ?date=YYYY-MM-DD for one service day, otherwise the last 24 hours.
func (s *Server) TripsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var (
			trips []model.TripLog
			err   error
		)
		if c.Query("active") != "" {
			trip, err := s.trips.ActiveTrip(c.Request.Context(), c.Param("id"))
			if errors.Is(err, store.ErrTripNotActive) {
				c.JSON(http.StatusNotFound, gin.H{"error": "no active trip"})
				return
			}
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusOK, trip)
			return
		}
		if date := c.Query("date"); date != "" {
			trips, err = s.trips.ListByDate(c.Request.Context(), date)
		} else {
			trips, err = s.trips.ListSince(c.Request.Context(), c.Param("id"), time.Now().Add(-24*time.Hour))
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, trips)
	}
}

// AbortHandler is the remote actor of the trip state machine: it writes
// the abort field combination out-of-band and relies on the driver-side
// subscription to notice and close the trip. It never touches the trip
// log or the driver-owned fields.
func (s *Server) AbortHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		rec, err := s.records.Read(c.Request.Context(), id)
		if err != nil {
			if errors.Is(err, store.ErrNoRecord) {
				c.JSON(http.StatusNotFound, gin.H{"error": "vehicle not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if !rec.Active {
			c.JSON(http.StatusConflict, gin.H{"error": "no active trip for vehicle"})
			return
		}
		abortedBy := "admin"
		if v, ok := c.Get("claims"); ok {
			if claims, ok := v.(jwt.MapClaims); ok {
				if sub, ok := claims["sub"].(string); ok && sub != "" {
					abortedBy = sub
				}
			}
		}
		err = s.records.MergeWrite(c.Request.Context(), id, store.Fields{
			model.FieldActive:    false,
			model.FieldStatus:    model.StatusAbortedAdmin,
			model.FieldAbortedAt: time.Now(),
			model.FieldAbortedBy: abortedBy,
		})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"aborted": true, "vehicleId": id})
	}
}

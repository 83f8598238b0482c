// Package telemetry contains the per-vehicle write path: the position
// sampler that smooths raw fixes, the persistence gate that bounds the
// write rate, and the heartbeat that keeps the liveness clock moving.
package telemetry

import (
	"math"

	"bus-telemetry/internal/geo"
	"bus-telemetry/internal/model"
)

const speedWindowSize = 3

const mpsToKmh = 3.6

// Sampler converts raw fixes into cleaned readings using a bounded moving
// average over the last three valid speed samples. Position and heading
// pass through unsmoothed. Not safe for concurrent use; it is owned by the
// single pipeline goroutine of its trip.
type Sampler struct {
	window []float64
}

func NewSampler() *Sampler {
	return &Sampler{window: make([]float64, 0, speedWindowSize)}
}

// Clean produces a reading for every fix. A missing or negative sensor
// speed is dropped from the window rather than zero-filled, so one bad
// sample cannot corrupt the running average.
func (s *Sampler) Clean(f geo.Fix) model.CleanedReading {
	if f.SpeedMps != nil && *f.SpeedMps >= 0 {
		s.window = append(s.window, *f.SpeedMps*mpsToKmh)
		if len(s.window) > speedWindowSize {
			s.window = s.window[1:]
		}
	}
	speed := 0.0
	if len(s.window) > 0 {
		sum := 0.0
		for _, v := range s.window {
			sum += v
		}
		speed = math.Max(0, sum/float64(len(s.window)))
	}
	return model.CleanedReading{
		Lat:       f.Lat,
		Lng:       f.Lng,
		SpeedKmh:  math.Round(speed*10) / 10,
		Heading:   f.Heading,
		SampledAt: f.Timestamp,
	}
}

// Reset discards the smoothing window so a finished trip cannot leak speed
// history into the next one.
func (s *Sampler) Reset() {
	s.window = s.window[:0]
}

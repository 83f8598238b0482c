package geo

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Coordinate is a lat/lng waypoint.
type Coordinate struct {
	Lat float64
	Lng float64
}

// SimProvider emits fixes along a fixed sequence of waypoints at a constant
// interval, interpolating position and deriving speed and heading from the
// previous point. It stands in for a GPS device in development and tests.
type SimProvider struct {
	Route      []Coordinate
	Interval   time.Duration
	SpeedMps   float64
	Loop       bool
	dropSpeeds bool
}

// Watch emits along the route. In reduced mode the simulator mimics a
// coarser sensor by omitting the speed reading on every fix.
func (s *SimProvider) Watch(ctx context.Context, opts Options) (<-chan Fix, error) {
	if len(s.Route) < 2 {
		return nil, fmt.Errorf("sim provider needs at least 2 waypoints, got %d", len(s.Route))
	}
	interval := s.Interval
	if interval <= 0 {
		interval = time.Second
	}
	speed := s.SpeedMps
	if speed <= 0 {
		speed = 8.0 // typical urban bus pace
	}
	out := make(chan Fix)
	go func() {
		defer close(out)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		seg := 0
		progress := 0.0 // km into current segment
		cur := s.Route[0]
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				from, to := s.Route[seg], s.Route[seg+1]
				segLen := DistanceKm(from.Lat, from.Lng, to.Lat, to.Lng)
				progress += speed * interval.Seconds() / 1000.0
				for segLen > 0 && progress >= segLen {
					progress -= segLen
					seg++
					if seg >= len(s.Route)-1 {
						if !s.Loop {
							return
						}
						seg = 0
					}
					from, to = s.Route[seg], s.Route[seg+1]
					segLen = DistanceKm(from.Lat, from.Lng, to.Lat, to.Lng)
				}
				frac := 0.0
				if segLen > 0 {
					frac = progress / segLen
				}
				next := Coordinate{
					Lat: from.Lat + (to.Lat-from.Lat)*frac,
					Lng: from.Lng + (to.Lng-from.Lng)*frac,
				}
				f := Fix{
					Lat:       next.Lat,
					Lng:       next.Lng,
					Heading:   bearing(cur, next),
					Accuracy:  accuracyFor(opts.Mode),
					Timestamp: now,
				}
				if opts.Mode == ModeHighAccuracy && !s.dropSpeeds {
					v := speed
					f.SpeedMps = &v
				}
				cur = next
				select {
				case out <- f:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func accuracyFor(m Mode) float64 {
	if m == ModeReduced {
		return 50
	}
	return 5
}

func bearing(from, to Coordinate) float64 {
	toRad := func(d float64) float64 { return d * math.Pi / 180 }
	dLng := toRad(to.Lng - from.Lng)
	y := math.Sin(dLng) * math.Cos(toRad(to.Lat))
	x := math.Cos(toRad(from.Lat))*math.Sin(toRad(to.Lat)) -
		math.Sin(toRad(from.Lat))*math.Cos(toRad(to.Lat))*math.Cos(dLng)
	deg := math.Atan2(y, x) * 180 / math.Pi
	return math.Mod(deg+360, 360)
}

// ParseRoute parses "lat,lng;lat,lng;..." into waypoints.
func ParseRoute(s string) ([]Coordinate, error) {
	var route []Coordinate
	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		pair := strings.SplitN(part, ",", 2)
		if len(pair) != 2 {
			return nil, fmt.Errorf("invalid waypoint %q", part)
		}
		lat, err := strconv.ParseFloat(strings.TrimSpace(pair[0]), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid latitude in %q", part)
		}
		lng, err := strconv.ParseFloat(strings.TrimSpace(pair[1]), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid longitude in %q", part)
		}
		route = append(route, Coordinate{Lat: lat, Lng: lng})
	}
	if len(route) < 2 {
		return nil, fmt.Errorf("route needs at least 2 waypoints, got %d", len(route))
	}
	return route, nil
}

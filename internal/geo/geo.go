// Package geo models the geolocation boundary: a push-stream of raw fixes
// with two accuracy modes, plus great-circle helpers for the read side.
package geo

import (
	"context"
	"log"
	"time"
)

// Mode selects the provider accuracy. The watcher starts in high accuracy
// and downgrades when the stream stalls; a downgrade is a mode switch, not
// a failure.
type Mode int

const (
	ModeHighAccuracy Mode = iota
	ModeReduced
)

func (m Mode) String() string {
	if m == ModeReduced {
		return "reduced"
	}
	return "high-accuracy"
}

// Fix is one raw geolocation sample. SpeedMps is nil when the sensor
// reports no speed; a negative value means the sensor reading is invalid.
type Fix struct {
	Lat       float64
	Lng       float64
	SpeedMps  *float64
	Heading   float64
	Accuracy  float64 // meters, advisory
	Timestamp time.Time
}

// Options configure a watch. Timeout bounds the silence the watcher
// tolerates before switching mode.
type Options struct {
	Mode    Mode
	Timeout time.Duration
}

// Provider supplies a continuous stream of fixes at a provider-determined
// rate. The stream ends when ctx is cancelled or the provider closes it.
type Provider interface {
	Watch(ctx context.Context, opts Options) (<-chan Fix, error)
}

// Watcher wraps a Provider with the accuracy fallback: if no fix arrives
// within the timeout in high-accuracy mode it restarts the watch in
// reduced mode and keeps the outer stream open. The stream never
// terminates on a stall.
type Watcher struct {
	provider Provider
	timeout  time.Duration
}

func NewWatcher(p Provider, timeout time.Duration) *Watcher {
	return &Watcher{provider: p, timeout: timeout}
}

// Start begins watching in high-accuracy mode and returns the merged fix
// stream. The returned channel closes when ctx is done.
func (w *Watcher) Start(ctx context.Context) (<-chan Fix, error) {
	inner, cancel := context.WithCancel(ctx)
	fixes, err := w.provider.Watch(inner, Options{Mode: ModeHighAccuracy, Timeout: w.timeout})
	if err != nil {
		cancel()
		return nil, err
	}
	out := make(chan Fix)
	go func() {
		defer close(out)
		// cancel is reassigned on a mode switch; release whichever
		// inner context is current when the stream winds down.
		defer func() { cancel() }()
		mode := ModeHighAccuracy
		timer := time.NewTimer(w.timeout)
		defer timer.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case f, ok := <-fixes:
				if !ok {
					return
				}
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.timeout)
				select {
				case out <- f:
				case <-ctx.Done():
					return
				}
			case <-timer.C:
				if mode == ModeReduced {
					// Already degraded; keep waiting, the stream must not stop.
					timer.Reset(w.timeout)
					continue
				}
				mode = ModeReduced
				log.Printf("geo watch stalled after %s, switching to %s mode", w.timeout, mode)
				cancel()
				inner, cancel = context.WithCancel(ctx)
				reduced, err := w.provider.Watch(inner, Options{Mode: ModeReduced, Timeout: w.timeout})
				if err != nil {
					log.Printf("geo reduced-mode watch failed: %v", err)
					return
				}
				fixes = reduced
				timer.Reset(w.timeout)
			}
		}
	}()
	return out, nil
}

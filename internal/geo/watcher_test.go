package geo

import (
	"context"
	"sync"
	"testing"
	"time"
)

// stallProvider emits nothing in high-accuracy mode and a steady stream in
// reduced mode, so it exercises the downgrade path.
type stallProvider struct {
	mu      sync.Mutex
	watches []Mode
}

func (p *stallProvider) Watch(ctx context.Context, opts Options) (<-chan Fix, error) {
	p.mu.Lock()
	p.watches = append(p.watches, opts.Mode)
	p.mu.Unlock()

	out := make(chan Fix)
	go func() {
		defer close(out)
		if opts.Mode == ModeHighAccuracy {
			<-ctx.Done()
			return
		}
		ticker := time.NewTicker(5 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case ts := <-ticker.C:
				select {
				case out <- Fix{Lat: 11, Lng: 76, Timestamp: ts}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (p *stallProvider) modes() []Mode {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Mode(nil), p.watches...)
}

func TestWatcherFallsBackOnStall(t *testing.T) {
	provider := &stallProvider{}
	w := NewWatcher(provider, 20*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fixes, err := w.Start(ctx)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	// The first fix can only come from the reduced-mode re-watch.
	select {
	case f, ok := <-fixes:
		if !ok {
			t.Fatal("fix stream closed instead of degrading")
		}
		if f.Lat != 11 {
			t.Fatalf("unexpected fix %+v", f)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no fix after stall, downgrade never happened")
	}

	modes := provider.modes()
	if len(modes) != 2 || modes[0] != ModeHighAccuracy || modes[1] != ModeReduced {
		t.Fatalf("watch modes = %v, want [high-accuracy reduced]", modes)
	}
}

func TestWatcherPassesFixesThrough(t *testing.T) {
	provider := &SimProvider{
		Route: []Coordinate{
			{Lat: 11.0168, Lng: 76.9558},
			{Lat: 11.0190, Lng: 76.9610},
		},
		Interval: 5 * time.Millisecond,
		SpeedMps: 10,
		Loop:     true,
	}
	w := NewWatcher(provider, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fixes, err := w.Start(ctx)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	for i := 0; i < 3; i++ {
		select {
		case f := <-fixes:
			if f.SpeedMps == nil || *f.SpeedMps != 10 {
				t.Fatalf("fix %d missing sensor speed: %+v", i, f)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("fix %d never arrived", i)
		}
	}
}

func TestWatcherClosesOnCancel(t *testing.T) {
	provider := &SimProvider{
		Route:    []Coordinate{{Lat: 0, Lng: 0}, {Lat: 1, Lng: 1}},
		Interval: 5 * time.Millisecond,
	}
	w := NewWatcher(provider, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	fixes, err := w.Start(ctx)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	cancel()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-fixes:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("fix stream not closed after cancel")
		}
	}
}

func TestParseRoute(t *testing.T) {
	cases := []struct {
		name    string
		in      string
		wantLen int
		wantErr bool
	}{
		{"two waypoints", "11.0168,76.9558;11.0190,76.9610", 2, false},
		{"trailing separator", "0,0;1,1;", 2, false},
		{"spaces tolerated", " 0 , 0 ; 1 , 1 ", 2, false},
		{"single waypoint rejected", "11.0,76.9", 0, true},
		{"missing longitude", "11.0;12.0,77.0", 0, true},
		{"garbage latitude", "abc,76.9;11.0,76.9", 0, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, err := ParseRoute(c.in)
			if (err != nil) != c.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, c.wantErr)
			}
			if err == nil && len(got) != c.wantLen {
				t.Fatalf("waypoints = %d, want %d", len(got), c.wantLen)
			}
		})
	}
}

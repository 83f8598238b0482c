package telemetry

import (
	"context"
	"sync"
	"testing"
	"time"

	"bus-telemetry/internal/model"
	"bus-telemetry/internal/store"
)

func TestHeartbeatRefreshesLiveness(t *testing.T) {
	var mu sync.Mutex
	var writes []store.Fields
	records := &fakeRecords{mergeFunc: func(vehicleID string, fields store.Fields) error {
		if vehicleID != "bus-1" {
			t.Errorf("vehicle = %q, want bus-1", vehicleID)
		}
		mu.Lock()
		writes = append(writes, fields)
		mu.Unlock()
		return nil
	}}

	hb := NewHeartbeat(records, "bus-1", 10*time.Millisecond, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		hb.Run(ctx)
	}()

	time.Sleep(120 * time.Millisecond)
	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	if len(writes) < 4 {
		t.Fatalf("heartbeats in 120ms at 10ms period = %d, want at least 4", len(writes))
	}
	for i, w := range writes {
		if w[model.FieldActive] != true {
			t.Errorf("beat %d: active = %v, want true", i, w[model.FieldActive])
		}
		if _, ok := w[model.FieldLastUpdated]; !ok {
			t.Errorf("beat %d: lastUpdated missing", i)
		}
		if len(w) != 2 {
			t.Errorf("beat %d: wrote %d fields, want exactly active and lastUpdated", i, len(w))
		}
	}
}

func TestHeartbeatStopsOnCancel(t *testing.T) {
	var mu sync.Mutex
	count := 0
	records := &fakeRecords{mergeFunc: func(string, store.Fields) error {
		mu.Lock()
		count++
		mu.Unlock()
		return nil
	}}

	hb := NewHeartbeat(records, "bus-1", 5*time.Millisecond, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		hb.Run(ctx)
	}()
	time.Sleep(30 * time.Millisecond)
	cancel()
	<-done

	mu.Lock()
	after := count
	mu.Unlock()
	time.Sleep(30 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if count != after {
		t.Fatalf("heartbeat kept writing after cancel: %d -> %d", after, count)
	}
}

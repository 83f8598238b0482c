// Package trip owns the per-vehicle trip state machine. All mutations,
// whether driver commands or remote-abort signals arriving over the record
// subscription, are serialized through one actor goroutine so no two
// callbacks ever race on lifecycle state.
package trip

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"bus-telemetry/internal/geo"
	"bus-telemetry/internal/metrics"
	"bus-telemetry/internal/model"
	"bus-telemetry/internal/notify"
	"bus-telemetry/internal/store"
	"bus-telemetry/internal/telemetry"
)

type State int

const (
	// StateIdle: no trip running. Completed and aborted trips return the
	// vehicle here; the terminal status lives on the closed trip log row.
	StateIdle State = iota
	StateActive
)

// Lifecycle violations are rejected before any write happens.
var (
	ErrNoVehicle     = errors.New("no vehicle selected")
	ErrAlreadyActive = errors.New("a trip is already active for this vehicle")
	ErrNotActive     = errors.New("no active trip")
)

// Config carries the engine timing knobs.
type Config struct {
	PersistInterval   time.Duration // position write throttle
	HeartbeatInterval time.Duration // liveness refresh period
	GeoWatchTimeout   time.Duration // silence before accuracy downgrade
}

func (c *Config) applyDefaults() {
	if c.PersistInterval <= 0 {
		c.PersistInterval = 5 * time.Second
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 15 * time.Second
	}
	if c.GeoWatchTimeout <= 0 {
		c.GeoWatchTimeout = 10 * time.Second
	}
}

type cmdKind int

const (
	cmdStart cmdKind = iota
	cmdEnd
	cmdDeselect
	cmdBoard
	cmdClearPassengers
	cmdNextStop
	cmdSOS
	cmdAnnounce
)

type command struct {
	kind  cmdKind
	arg   string
	reply chan error
}

type stateInfo struct {
	state  State
	tripID string
}

type Lifecycle struct {
	vehicleID  string
	driverID   string
	driverName string

	records  store.RecordStore
	trips    store.TripStore
	sink     notify.Sink
	provider geo.Provider
	cfg      Config
	metrics  *metrics.Collector

	// OnReading receives every cleaned reading for local display,
	// regardless of whether the persistence gate forwarded it.
	OnReading func(model.CleanedReading)
	// OnAbort is invoked when a remote abort is detected; the driver must
	// see this prominently.
	OnAbort func(model.TrackingRecord)

	cmds    chan command
	queries chan chan stateInfo
	events  chan model.TrackingRecord

	// Everything below is owned by the Run goroutine.
	state         State
	currentTripID string
	sampler       *telemetry.Sampler
	stopWriters   context.CancelFunc
	writers       sync.WaitGroup
	unsubscribe   func()
}

func New(vehicleID, driverID, driverName string, records store.RecordStore, trips store.TripStore, sink notify.Sink, provider geo.Provider, cfg Config, m *metrics.Collector) *Lifecycle {
	cfg.applyDefaults()
	return &Lifecycle{
		vehicleID:  vehicleID,
		driverID:   driverID,
		driverName: driverName,
		records:    records,
		trips:      trips,
		sink:       sink,
		provider:   provider,
		cfg:        cfg,
		metrics:    m,
		cmds:       make(chan command),
		queries:    make(chan chan stateInfo),
		events:     make(chan model.TrackingRecord, 8),
		sampler:    telemetry.NewSampler(),
	}
}

// Run is the actor loop. It returns when ctx is done; an active trip is
// left open on the store (readers infer the outage from staleness), but
// every writer is stopped first.
func (l *Lifecycle) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			l.haltWriters()
			return
		case cmd := <-l.cmds:
			cmd.reply <- l.handle(ctx, cmd)
		case reply := <-l.queries:
			reply <- stateInfo{state: l.state, tripID: l.currentTripID}
		case rec := <-l.events:
			l.handleRecord(ctx, rec)
		}
	}
}

// Start transitions Idle -> Active: claims the vehicle in the trip log,
// marks the record in transit, and enables the position and heartbeat
// writers. A concurrent claim by another session fails with
// store.ErrVehicleBusy.
func (l *Lifecycle) Start(ctx context.Context) error { return l.do(ctx, cmdStart, "") }

// End transitions Active -> Completed.
func (l *Lifecycle) End(ctx context.Context) error { return l.do(ctx, cmdEnd, "") }

// Deselect returns the vehicle to Idle, ending the trip first if one is
// running. Writers are always stopped before the vehicle can be released.
func (l *Lifecycle) Deselect(ctx context.Context) error { return l.do(ctx, cmdDeselect, "") }

// Board increments the passenger count on the record.
func (l *Lifecycle) Board(ctx context.Context) error { return l.do(ctx, cmdBoard, "") }

// ClearPassengers zeroes the passenger count.
func (l *Lifecycle) ClearPassengers(ctx context.Context) error {
	return l.do(ctx, cmdClearPassengers, "")
}

// SetNextStop updates the advisory next stop on the record.
func (l *Lifecycle) SetNextStop(ctx context.Context, name string) error {
	return l.do(ctx, cmdNextStop, name)
}

// SOS emits an emergency notification carrying the last known position.
func (l *Lifecycle) SOS(ctx context.Context) error { return l.do(ctx, cmdSOS, "") }

// Announce emits a driver announcement to the notification sink.
func (l *Lifecycle) Announce(ctx context.Context, message string) error {
	return l.do(ctx, cmdAnnounce, message)
}

// Info reports the current state and trip id.
func (l *Lifecycle) Info(ctx context.Context) (State, string, error) {
	reply := make(chan stateInfo, 1)
	select {
	case l.queries <- reply:
	case <-ctx.Done():
		return StateIdle, "", ctx.Err()
	}
	select {
	case info := <-reply:
		return info.state, info.tripID, nil
	case <-ctx.Done():
		return StateIdle, "", ctx.Err()
	}
}

func (l *Lifecycle) do(ctx context.Context, kind cmdKind, arg string) error {
	reply := make(chan error, 1)
	select {
	case l.cmds <- command{kind: kind, arg: arg, reply: reply}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Lifecycle) handle(ctx context.Context, cmd command) error {
	switch cmd.kind {
	case cmdStart:
		return l.handleStart(ctx)
	case cmdEnd:
		return l.handleEnd(ctx)
	case cmdDeselect:
		return l.handleDeselect(ctx)
	case cmdBoard:
		return l.handleBoard(ctx)
	case cmdClearPassengers:
		return l.mergeOwned(ctx, store.Fields{
			model.FieldPassengerCount: 0,
			model.FieldLastUpdated:    time.Now(),
		})
	case cmdNextStop:
		return l.mergeOwned(ctx, store.Fields{model.FieldNextStop: cmd.arg})
	case cmdSOS:
		return l.handleSOS(ctx)
	case cmdAnnounce:
		if l.vehicleID == "" {
			return ErrNoVehicle
		}
		l.emit(notify.EventAnnouncement, l.currentTripID, cmd.arg)
		return nil
	}
	return nil
}

func (l *Lifecycle) handleStart(ctx context.Context) error {
	if l.vehicleID == "" {
		return ErrNoVehicle
	}
	if l.state == StateActive {
		return ErrAlreadyActive
	}
	now := time.Now()
	t := model.TripLog{
		ID:         uuid.NewString(),
		VehicleID:  l.vehicleID,
		DriverID:   l.driverID,
		DriverName: l.driverName,
		StartTime:  now,
		Status:     model.TripActive,
		Date:       now.Format("2006-01-02"),
	}
	if err := l.trips.Insert(ctx, t); err != nil {
		return err
	}
	err := l.records.MergeWrite(ctx, l.vehicleID, store.Fields{
		model.FieldActive:        true,
		model.FieldStatus:        model.StatusInTransit, // clears any stale abort tag
		model.FieldDriverName:    l.driverName,
		model.FieldCurrentTripID: t.ID,
		model.FieldLastUpdated:   now,
		model.FieldAbortedBy:     "",
	})
	if err != nil {
		// Trip row exists but the record lagged behind; the next gate or
		// heartbeat write converges it.
		log.Printf("record write on start of trip %s: %v", t.ID, err)
	}
	l.state = StateActive
	l.currentTripID = t.ID
	l.startWriters(ctx)
	l.subscribeSelf(ctx)
	l.emit(notify.EventTripStarted, t.ID, "")
	if l.metrics != nil {
		l.metrics.TripsStarted.Inc()
		l.metrics.ActiveTrips.Inc()
	}
	log.Printf("trip %s started for vehicle %s", t.ID, l.vehicleID)
	return nil
}

func (l *Lifecycle) handleEnd(ctx context.Context) error {
	if l.state != StateActive {
		return ErrNotActive
	}
	tripID := l.currentTripID
	l.finish(ctx, model.TripCompleted)
	l.emit(notify.EventTripEnded, tripID, "")
	if l.metrics != nil {
		l.metrics.TripsCompleted.Inc()
		l.metrics.ActiveTrips.Dec()
	}
	log.Printf("trip %s completed for vehicle %s", tripID, l.vehicleID)
	return nil
}

func (l *Lifecycle) handleDeselect(ctx context.Context) error {
	if l.state == StateActive {
		return l.handleEnd(ctx)
	}
	l.haltWriters()
	return nil
}

func (l *Lifecycle) handleBoard(ctx context.Context) error {
	if l.state != StateActive {
		return ErrNotActive
	}
	count := 0
	if rec, err := l.records.Read(ctx, l.vehicleID); err == nil {
		count = rec.PassengerCount
	}
	return l.records.MergeWrite(ctx, l.vehicleID, store.Fields{
		model.FieldPassengerCount: count + 1,
		model.FieldLastUpdated:    time.Now(),
	})
}

func (l *Lifecycle) handleSOS(ctx context.Context) error {
	if l.vehicleID == "" {
		return ErrNoVehicle
	}
	e := notify.Event{
		Type:       notify.EventSOS,
		VehicleID:  l.vehicleID,
		TripID:     l.currentTripID,
		DriverName: l.driverName,
		Timestamp:  time.Now(),
	}
	if rec, err := l.records.Read(ctx, l.vehicleID); err == nil && rec.HasPosition() {
		e.Lat, e.Lng = rec.Lat, rec.Lng
	}
	if l.sink == nil {
		return nil
	}
	return l.sink.Notify(e)
}

func (l *Lifecycle) mergeOwned(ctx context.Context, fields store.Fields) error {
	if l.vehicleID == "" {
		return ErrNoVehicle
	}
	return l.records.MergeWrite(ctx, l.vehicleID, fields)
}

// handleRecord reacts to the vehicle's own tracking record. The abort
// signal is the exact field combination the remote admin writes; anything
// else on the record is noise here. A second delivery after the transition
// finds the actor idle and is a no-op.
func (l *Lifecycle) handleRecord(ctx context.Context, rec model.TrackingRecord) {
	if l.state != StateActive {
		return
	}
	if rec.Status != model.StatusAbortedAdmin || rec.Active {
		return
	}
	tripID := l.currentTripID
	log.Printf("trip %s for vehicle %s aborted remotely by %q", tripID, l.vehicleID, rec.AbortedBy)
	if l.OnAbort != nil {
		l.OnAbort(rec)
	}
	l.finish(ctx, model.TripAborted)
	l.emit(notify.EventTripAborted, tripID, "aborted by "+rec.AbortedBy)
	if l.metrics != nil {
		l.metrics.TripsAborted.Inc()
		l.metrics.ActiveTrips.Dec()
	}
}

// finish closes the current trip with a terminal status. Writers are
// stopped and drained before any state changes so a stale sampler can
// never write against a closed trip or the wrong vehicle.
func (l *Lifecycle) finish(ctx context.Context, outcome string) {
	l.haltWriters()

	now := time.Now()
	if err := l.trips.CloseTrip(ctx, l.currentTripID, outcome, now); err != nil && !errors.Is(err, store.ErrTripNotActive) {
		// Trip log and tracking record can diverge here; there is no
		// repair pass, readers fall back to the staleness override.
		log.Printf("close trip %s: %v", l.currentTripID, err)
	}

	fields := store.Fields{
		model.FieldActive:      false,
		model.FieldLastUpdated: now,
	}
	switch outcome {
	case model.TripAborted:
		// The admin owns the status tag on an abort; the driver side only
		// releases its own fields and resets the passenger count.
		fields[model.FieldPassengerCount] = 0
	default:
		fields[model.FieldStatus] = model.StatusTripEnded
	}
	if err := l.records.MergeWrite(ctx, l.vehicleID, fields); err != nil {
		log.Printf("record write on close of trip %s: %v", l.currentTripID, err)
	}

	l.sampler.Reset()
	l.state = StateIdle
	l.currentTripID = ""
}

func (l *Lifecycle) startWriters(ctx context.Context) {
	wctx, cancel := context.WithCancel(ctx)
	l.stopWriters = cancel

	hb := telemetry.NewHeartbeat(l.records, l.vehicleID, l.cfg.HeartbeatInterval, l.metrics)
	l.writers.Add(1)
	go func() {
		defer l.writers.Done()
		hb.Run(wctx)
	}()

	l.writers.Add(1)
	go func() {
		defer l.writers.Done()
		l.runPipeline(wctx)
	}()
}

// runPipeline is the fix stream: geolocation watch -> sampler -> gate.
func (l *Lifecycle) runPipeline(ctx context.Context) {
	w := geo.NewWatcher(l.provider, l.cfg.GeoWatchTimeout)
	fixes, err := w.Start(ctx)
	if err != nil {
		log.Printf("geo watch for vehicle %s failed: %v", l.vehicleID, err)
		return
	}
	gate := telemetry.NewGate(l.records, l.vehicleID, l.cfg.PersistInterval, l.metrics)
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-fixes:
			if !ok {
				return
			}
			r := l.sampler.Clean(f)
			if l.OnReading != nil {
				l.OnReading(r)
			}
			gate.Offer(ctx, r)
		}
	}
}

func (l *Lifecycle) subscribeSelf(ctx context.Context) {
	unsub, err := l.records.Subscribe(ctx, l.vehicleID, func(rec model.TrackingRecord) {
		select {
		case l.events <- rec:
		case <-ctx.Done():
		}
	})
	if err != nil {
		// Without the subscription a remote abort is only noticed after
		// reconnect; that matches the push-only contract.
		log.Printf("abort subscription for vehicle %s failed: %v", l.vehicleID, err)
		return
	}
	l.unsubscribe = unsub
}

func (l *Lifecycle) haltWriters() {
	if l.stopWriters != nil {
		l.stopWriters()
		l.stopWriters = nil
	}
	l.writers.Wait()
	if l.unsubscribe != nil {
		l.unsubscribe()
		l.unsubscribe = nil
	}
}

func (l *Lifecycle) emit(evtType, tripID, message string) {
	if l.sink == nil {
		return
	}
	err := l.sink.Notify(notify.Event{
		Type:       evtType,
		VehicleID:  l.vehicleID,
		TripID:     tripID,
		DriverName: l.driverName,
		Message:    message,
		Timestamp:  time.Now(),
	})
	if err != nil {
		log.Printf("notify %s for vehicle %s: %v", evtType, l.vehicleID, err)
	}
}

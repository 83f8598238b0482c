package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"bus-telemetry/internal/config"
	"bus-telemetry/internal/geo"
	"bus-telemetry/internal/metrics"
	"bus-telemetry/internal/model"
	"bus-telemetry/internal/notify"
	"bus-telemetry/internal/store/pgstore"
	"bus-telemetry/internal/store/redisstore"
	"bus-telemetry/internal/trip"
)

// Demo loop used when SIM_ROUTE is not set.
const defaultRoute = "11.0168,76.9558;11.0190,76.9610;11.0225,76.9655;11.0251,76.9702;11.0213,76.9630;11.0168,76.9558"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := cfg.RequireVehicle(); err != nil {
		log.Fatalf("config error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("redis ping error: %v", err)
	}
	records := redisstore.New(rdb)

	trips, err := pgstore.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db open error: %v", err)
	}
	defer trips.Close()
	if err := trips.Ping(ctx); err != nil {
		log.Fatalf("db ping error: %v", err)
	}
	if err := trips.EnsureSchema(ctx); err != nil {
		log.Fatalf("db schema error: %v", err)
	}

	var mcol *metrics.Collector
	if cfg.MetricsAddr != "" {
		mcol = metrics.NewCollector(cfg.PersistInterval, cfg.HeartbeatInterval)
	}

	sink, err := notify.NewNATSSink(cfg.NATSURL, "driverd-"+cfg.VehicleID, mcol)
	if err != nil {
		log.Fatalf("nats error: %v", err)
	}
	defer sink.Close()

	var metricsSrv interface{ Shutdown(context.Context) error }
	if mcol != nil {
		metricsSrv = mcol.Serve(cfg.MetricsAddr)
	}

	routeStr := cfg.SimRoute
	if routeStr == "" {
		routeStr = defaultRoute
	}
	route, err := geo.ParseRoute(routeStr)
	if err != nil {
		log.Fatalf("route error: %v", err)
	}
	provider := &geo.SimProvider{
		Route:    route,
		Interval: cfg.SimInterval,
		SpeedMps: cfg.SimSpeedMps,
		Loop:     true,
	}

	lc := trip.New(cfg.VehicleID, cfg.DriverID, cfg.DriverName, records, trips, sink, provider, trip.Config{
		PersistInterval:   cfg.PersistInterval,
		HeartbeatInterval: cfg.HeartbeatInterval,
		GeoWatchTimeout:   cfg.GeoWatchTimeout,
	}, mcol)
	lc.OnAbort = func(rec model.TrackingRecord) {
		log.Printf("*** trip aborted by %q, vehicle %s forcefully ended ***", rec.AbortedBy, cfg.VehicleID)
	}

	lcDone := make(chan struct{})
	go func() {
		defer close(lcDone)
		lc.Run(ctx)
	}()

	if err := lc.Start(ctx); err != nil {
		cancel()
		<-lcDone
		log.Fatalf("start trip for vehicle %s: %v", cfg.VehicleID, err)
	}

	<-quit
	log.Println("shutting down...")

	// End the trip cleanly while the actor is still running; a remote
	// abort may already have returned it to idle.
	endCtx, endCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := lc.End(endCtx); err != nil && err != trip.ErrNotActive {
		log.Printf("end trip: %v", err)
	}
	endCancel()

	cancel()
	<-lcDone

	if metricsSrv != nil {
		shutdownCtx, sc := context.WithTimeout(context.Background(), 3*time.Second)
		defer sc()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	log.Println("shutdown complete")
}

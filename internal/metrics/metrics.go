package metrics

import (
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	reg *prometheus.Registry

	ActiveTrips prometheus.Gauge

	TripsStarted   prometheus.Counter
	TripsCompleted prometheus.Counter
	TripsAborted   prometheus.Counter

	PositionWrites        prometheus.Counter
	PositionWritesDropped prometheus.Counter
	PositionWriteErrs     prometheus.Counter

	Heartbeats    prometheus.Counter
	HeartbeatErrs prometheus.Counter

	NotifyPublished prometheus.Counter
	NotifyErrs      prometheus.Counter
	NotifyConnected prometheus.Gauge

	WriteDuration prometheus.Histogram

	PersistInterval   prometheus.Gauge // seconds
	HeartbeatInterval prometheus.Gauge // seconds
}

func NewCollector(persistInterval, heartbeatInterval time.Duration) *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		ActiveTrips: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "telemetry_active_trips",
			Help: "Number of trips currently active in this process.",
		}),
		TripsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "telemetry_trips_started_total",
			Help: "Total trips started.",
		}),
		TripsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "telemetry_trips_completed_total",
			Help: "Total trips ended normally.",
		}),
		TripsAborted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "telemetry_trips_aborted_total",
			Help: "Total trips force-ended by a remote abort.",
		}),
		PositionWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "telemetry_position_writes_total",
			Help: "Total position readings persisted to the record store.",
		}),
		PositionWritesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "telemetry_position_writes_dropped_total",
			Help: "Total readings dropped by the persistence rate limit.",
		}),
		PositionWriteErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "telemetry_position_write_errors_total",
			Help: "Total failed position writes (logged and swallowed).",
		}),
		Heartbeats: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "telemetry_heartbeats_total",
			Help: "Total liveness heartbeat writes.",
		}),
		HeartbeatErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "telemetry_heartbeat_errors_total",
			Help: "Total failed heartbeat writes.",
		}),
		NotifyPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "telemetry_notify_published_total",
			Help: "Total notification events published.",
		}),
		NotifyErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "telemetry_notify_errors_total",
			Help: "Total notification publish errors.",
		}),
		NotifyConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "telemetry_notify_connected",
			Help: "1 if the notification sink connection is established.",
		}),
		WriteDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "telemetry_record_write_duration_seconds",
			Help:    "Duration of merge-writes to the record store.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
		PersistInterval: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "telemetry_persist_interval_seconds",
			Help: "Configured position persistence interval in seconds.",
		}),
		HeartbeatInterval: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "telemetry_heartbeat_interval_seconds",
			Help: "Configured heartbeat interval in seconds.",
		}),
	}

	reg.MustRegister(
		c.ActiveTrips,
		c.TripsStarted, c.TripsCompleted, c.TripsAborted,
		c.PositionWrites, c.PositionWritesDropped, c.PositionWriteErrs,
		c.Heartbeats, c.HeartbeatErrs,
		c.NotifyPublished, c.NotifyErrs, c.NotifyConnected,
		c.WriteDuration,
		c.PersistInterval, c.HeartbeatInterval,
	)

	c.PersistInterval.Set(persistInterval.Seconds())
	c.HeartbeatInterval.Set(heartbeatInterval.Seconds())

	return c
}

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// Serve starts an HTTP server exposing /metrics on the given address.
func (c *Collector) Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
	}()
	log.Printf("metrics listening on %s", addr)
	return srv
}

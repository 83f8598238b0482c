package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"bus-telemetry/internal/api"
	"bus-telemetry/internal/config"
	"bus-telemetry/internal/metrics"
	"bus-telemetry/internal/notify"
	"bus-telemetry/internal/store/pgstore"
	"bus-telemetry/internal/store/redisstore"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

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
	var metricsSrv *http.Server
	if cfg.MetricsAddr != "" {
		mcol = metrics.NewCollector(cfg.PersistInterval, cfg.HeartbeatInterval)
		metricsSrv = mcol.Serve(cfg.MetricsAddr)
	}

	sink, err := notify.NewNATSSink(cfg.NATSURL, "fleetapi", mcol)
	if err != nil {
		log.Fatalf("nats error: %v", err)
	}
	defer sink.Close()

	server := api.NewServer(records, trips, cfg.RosterStaleAfter, cfg.DetailStaleAfter)
	auth := api.NewJWT([]byte(cfg.JWTSecret))
	router := api.NewRouter(server, auth, sink, cfg.AdminUser, cfg.AdminPass)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		log.Printf("fleet API listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down...")

	shutdownCtx, sc := context.WithTimeout(context.Background(), 10*time.Second)
	defer sc()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown: %v", err)
	}
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	log.Println("shutdown complete")
}

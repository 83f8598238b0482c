package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL string
	RedisAddr   string
	NATSURL     string

	// Driver daemon identity
	VehicleID  string
	DriverID   string
	DriverName string

	// Engine timing
	PersistInterval   time.Duration
	HeartbeatInterval time.Duration
	GeoWatchTimeout   time.Duration

	// Read-side staleness thresholds
	RosterStaleAfter time.Duration
	DetailStaleAfter time.Duration

	// Simulated geolocation for driverd: "lat,lng;lat,lng;..."
	SimRoute    string
	SimInterval time.Duration
	SimSpeedMps float64

	// fleetapi
	HTTPPort  string
	JWTSecret string
	AdminUser string
	AdminPass string

	MetricsAddr string
}

func Load() (*Config, error) {
	// Load .env into environment (ignore if missing)
	_ = godotenv.Load()

	cfg := &Config{}

	// Database URL (trip log store): prefer DATABASE_URL / PG_DSN, else build from PG* vars
	dsn := firstNonEmpty(
		os.Getenv("DATABASE_URL"),
		os.Getenv("PG_DSN"),
	)
	if dsn == "" {
		host := getenvDefault("PGHOST", "127.0.0.1")
		port := getenvDefault("PGPORT", "5432")
		user := getenvDefault("PGUSER", "postgres")
		pass := os.Getenv("PGPASSWORD")
		db := getenvDefault("PGDATABASE", "bus_telemetry")
		sslmode := getenvDefault("PGSSLMODE", "disable")
		if pass != "" {
			cfg.DatabaseURL = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", urlEscape(user), urlEscape(pass), host, port, db, sslmode)
		} else {
			cfg.DatabaseURL = fmt.Sprintf("postgres://%s@%s:%s/%s?sslmode=%s", urlEscape(user), host, port, db, sslmode)
		}
	} else {
		cfg.DatabaseURL = dsn
	}

	cfg.RedisAddr = getenvDefault("REDIS_ADDR", "127.0.0.1:6379")
	cfg.NATSURL = getenvDefault("NATS_URL", "nats://127.0.0.1:4222")

	cfg.VehicleID = strings.TrimSpace(os.Getenv("VEHICLE_ID"))
	cfg.DriverID = strings.TrimSpace(os.Getenv("DRIVER_ID"))
	cfg.DriverName = getenvDefault("DRIVER_NAME", "Unknown Driver")

	var err error
	if cfg.PersistInterval, err = durationMs("PERSIST_INTERVAL_MS", 5000); err != nil {
		return nil, err
	}
	if cfg.HeartbeatInterval, err = durationMs("HEARTBEAT_INTERVAL_MS", 15000); err != nil {
		return nil, err
	}
	if cfg.GeoWatchTimeout, err = durationMs("GEO_TIMEOUT_MS", 10000); err != nil {
		return nil, err
	}
	if cfg.RosterStaleAfter, err = durationSec("ROSTER_STALE_SEC", 300); err != nil {
		return nil, err
	}
	if cfg.DetailStaleAfter, err = durationSec("DETAIL_STALE_SEC", 120); err != nil {
		return nil, err
	}

	cfg.SimRoute = os.Getenv("SIM_ROUTE")
	if cfg.SimInterval, err = durationMs("SIM_INTERVAL_MS", 1000); err != nil {
		return nil, err
	}
	if v := os.Getenv("SIM_SPEED_MPS"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 {
			return nil, fmt.Errorf("invalid SIM_SPEED_MPS: %q", v)
		}
		cfg.SimSpeedMps = f
	} else {
		cfg.SimSpeedMps = 8.0
	}

	cfg.HTTPPort = getenvDefault("HTTP_PORT", "8080")
	cfg.JWTSecret = getenvDefault("JWT_SECRET", "bus-telemetry")
	cfg.AdminUser = getenvDefault("ADMIN_USER", "admin")
	cfg.AdminPass = getenvDefault("ADMIN_PASSWORD", "admin")

	// Metrics listen address (e.g., ":9102"). Empty disables the metrics server.
	cfg.MetricsAddr = os.Getenv("METRICS_ADDR")

	return cfg, nil
}

// RequireVehicle validates the driver daemon identity.
func (c *Config) RequireVehicle() error {
	if c.VehicleID == "" {
		return errors.New("VEHICLE_ID must be set")
	}
	return nil
}

func durationMs(key string, def int) (time.Duration, error) {
	if v := os.Getenv(key); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil || ms <= 0 {
			return 0, fmt.Errorf("invalid %s: %q", key, v)
		}
		return time.Duration(ms) * time.Millisecond, nil
	}
	return time.Duration(def) * time.Millisecond, nil
}

func durationSec(key string, def int) (time.Duration, error) {
	if v := os.Getenv(key); v != "" {
		sec, err := strconv.Atoi(v)
		if err != nil || sec <= 0 {
			return 0, fmt.Errorf("invalid %s: %q", key, v)
		}
		return time.Duration(sec) * time.Second, nil
	}
	return time.Duration(def) * time.Second, nil
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func urlEscape(s string) string {
	// Minimal escape for DSN user/pass with special chars
	r := strings.NewReplacer("@", "%40", ":", "%3A", "/", "%2F", "?", "%3F", "#", "%23")
	return r.Replace(s)
}

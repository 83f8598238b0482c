package notify

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"bus-telemetry/internal/metrics"
)

// NATSSink publishes events on "bus.events.<type>.<vehicle>" subjects.
type NATSSink struct {
	nc      *nats.Conn
	metrics *metrics.Collector
}

func NewNATSSink(url, name string, m *metrics.Collector) (*NATSSink, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.DisconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NotifyConnected.Set(0)
			}
			log.Printf("nats disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NotifyConnected.Set(1)
			}
			log.Printf("nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NotifyConnected.Set(0)
			}
			log.Printf("nats closed")
		}),
	)
	if err != nil {
		return nil, err
	}
	if m != nil {
		m.NotifyConnected.Set(1)
	}
	return &NATSSink{nc: nc, metrics: m}, nil
}

func (s *NATSSink) Close() {
	if s.nc != nil {
		s.nc.Drain()
		s.nc.Close()
	}
}

func (s *NATSSink) Notify(e Event) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	subject := fmt.Sprintf("bus.events.%s.%s", subjectToken(e.Type), subjectToken(e.VehicleID))
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	err = s.nc.Publish(subject, b)
	if s.metrics != nil {
		if err != nil {
			s.metrics.NotifyErrs.Inc()
		} else {
			s.metrics.NotifyPublished.Inc()
		}
	}
	return err
}

func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	// NATS token cannot contain spaces, '>', '*', or trailing '.'
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}

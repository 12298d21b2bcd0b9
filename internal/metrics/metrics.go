// Package metrics exposes the card's operator-facing observability
// surface: per-socket state, frame and byte counters, and drop
// counts by reason, collected with prometheus/client_golang the way
// a production Go service instruments itself rather than rolling a
// bespoke counter type. It is purely observational — nothing here
// ever feeds back into card behavior.
package metrics

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns every metric the card reports and the registry they
// are bound to.
type Collector struct {
	registry *prometheus.Registry

	socketState *prometheus.GaugeVec
	frames      *prometheus.CounterVec
	bytes       *prometheus.CounterVec
	drops       *prometheus.CounterVec
	events      *prometheus.CounterVec

	server *http.Server
}

// New constructs a Collector and registers every metric with its own
// registry (never the global default registry, so multiple Card
// instances in one process — e.g. the demo CLI's loopback harness —
// don't collide).
func New() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		registry: reg,
		socketState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "uthernet2_socket_state",
			Help: "Current Sn_SR value for each socket.",
		}, []string{"socket"}),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "uthernet2_frames_total",
			Help: "Frames synthesized and injected by the virtual services, by kind.",
		}, []string{"kind"}),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "uthernet2_bytes_total",
			Help: "Bytes moved between the guest and host sockets, by direction.",
		}, []string{"direction"}),
		drops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "uthernet2_drops_total",
			Help: "Dropped frames and failed commands, by reason.",
		}, []string{"reason"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "uthernet2_virtual_events_total",
			Help: "Virtual-service events (arp/dhcp/tcp), by category.",
		}, []string{"category"}),
	}

	reg.MustRegister(c.socketState, c.frames, c.bytes, c.drops, c.events)
	return c
}

// SetSocketState records socket n's current Sn_SR value.
func (c *Collector) SetSocketState(socket int, state int) {
	c.socketState.WithLabelValues(socketLabel(socket)).Set(float64(state))
}

// IncFrame increments the frame counter for kind. The card calls it
// once per virtual-service event, with the event's service (arp, dhcp,
// tcp) as kind; TCP ACK, data and RST segments raise no event and are
// not counted.
func (c *Collector) IncFrame(kind string) {
	c.frames.WithLabelValues(kind).Inc()
}

// AddBytes adds n bytes to the counter for direction ("rx" or "tx").
func (c *Collector) AddBytes(direction string, n int) {
	c.bytes.WithLabelValues(direction).Add(float64(n))
}

// IncDrop counts one dropped frame or failed command under reason.
func (c *Collector) IncDrop(reason string) {
	c.drops.WithLabelValues(reason).Inc()
}

// IncEvent counts a virtual-service event, categorized by the text
// before its first colon (e.g. "arp: answered request" -> "arp").
func (c *Collector) IncEvent(msg string) {
	category := msg
	if i := strings.IndexByte(msg, ':'); i >= 0 {
		category = msg[:i]
	}
	c.events.WithLabelValues(category).Inc()
}

func socketLabel(n int) string {
	switch n {
	case 0:
		return "0"
	case 1:
		return "1"
	case 2:
		return "2"
	case 3:
		return "3"
	default:
		return "unknown"
	}
}

// Serve starts the /metrics HTTP endpoint in the background when
// enabled; it is the card's only self-initiated network surface.
// Callers should defer Shutdown.
func (c *Collector) Serve(listen, path string) error {
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{}))
	c.server = &http.Server{Addr: listen, Handler: mux}

	errCh := make(chan error, 1)
	go func() { errCh <- c.server.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-time.After(50 * time.Millisecond):
		return nil
	}
}

// Shutdown stops the metrics HTTP server, if running.
func (c *Collector) Shutdown(ctx context.Context) error {
	if c.server == nil {
		return nil
	}
	return c.server.Shutdown(ctx)
}

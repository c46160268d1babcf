// Package metrics exports relay loop counters in the Prometheus format.
package metrics

import (
	"errors"
	"github.com/fzft/pollrelay/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"net"
	"net/http"
	"time"
)

const namespace = "pollrelay"

// Relay implements relay.Observer on top of Prometheus collectors.
type Relay struct {
	registry *prometheus.Registry

	connections prometheus.Gauge
	accepted    prometheus.Counter
	refused     prometheus.Counter
	closed      prometheus.Counter
	bytes       prometheus.Counter
	iterations  prometheus.Counter
	waitErrors  prometheus.Counter
}

func New() *Relay {
	r := &Relay{
		registry: prometheus.NewRegistry(),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections",
			Help:      "Peers registered with the relay after the last commit.",
		}),
		accepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_accepted_total",
			Help:      "Connections admitted by the relay.",
		}),
		refused: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_refused_total",
			Help:      "Connections dropped at admission because capacity was exceeded.",
		}),
		closed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_closed_total",
			Help:      "Connections removed after a hang up or an I/O error.",
		}),
		bytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relayed_bytes_total",
			Help:      "Bytes written to recipients.",
		}),
		iterations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "loop_iterations_total",
			Help:      "Completed readiness waits.",
		}),
		waitErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wait_errors_total",
			Help:      "Fatal readiness wait failures.",
		}),
	}
	r.registry.MustRegister(r.connections, r.accepted, r.refused, r.closed, r.bytes, r.iterations, r.waitErrors)
	return r
}

func (r *Relay) ConnectionAccepted() {
	r.accepted.Inc()
}

func (r *Relay) ConnectionRefused() {
	r.refused.Inc()
}

func (r *Relay) ConnectionClosed() {
	r.closed.Inc()
}

// Connections sets the gauge from the registry count, so peers closed at shutdown
// or refused at commit never leave it behind.
func (r *Relay) Connections(n int) {
	r.connections.Set(float64(n))
}

func (r *Relay) BytesRelayed(n int) {
	r.bytes.Add(float64(n))
}

func (r *Relay) Iteration() {
	r.iterations.Inc()
}

func (r *Relay) WaitFailed() {
	r.waitErrors.Inc()
}

func (r *Relay) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// ListenAndServe exposes /metrics on addr from a background goroutine. The relay
// loop itself never blocks on it.
func (r *Relay) ListenAndServe(addr string) (*http.Server, net.Addr, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Logger.Error("metrics server error", zap.Error(err))
		}
	}()
	log.Logger.Info("serving metrics", zap.String("addr", ln.Addr().String()))
	return srv, ln.Addr(), nil
}

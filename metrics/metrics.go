// SPDX-License-Identifier: GPL-3.0-or-later

/*
Package metrics exposes the counters of a run to Prometheus.

Collectors live on a private registry so that tests and concurrent
runs do not share state through the global registry.
*/
package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rbmk-project/isochron/errclass"
	"github.com/rbmk-project/isochron/txtstamp"
)

const namespace = "isochron"

// Collectors holds the collectors of a run.
type Collectors struct {
	Registry *prometheus.Registry

	FramesSent         prometheus.Counter
	FramesReceived     prometheus.Counter
	TimestampsReceived *prometheus.CounterVec
	TxTimeDrops        *prometheus.CounterVec
	WakeLatency        prometheus.Histogram
	Outstanding        prometheus.Gauge
}

// New creates and registers the collectors.
func New() *Collectors {
	c := &Collectors{
		Registry: prometheus.NewRegistry(),
		FramesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_sent_total",
			Help:      "Number of frames handed to the kernel.",
		}),
		FramesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Number of test frames received.",
		}),
		TimestampsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tx_timestamps_total",
			Help:      "Number of transmit timestamps by source.",
		}, []string{"source"}),
		TxTimeDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "txtime_drops_total",
			Help:      "Number of frames dropped by the kernel because of their departure time.",
		}, []string{"reason"}),
		WakeLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "wake_lateness_seconds",
			Help:      "Delay between the scheduled and the actual wake up.",
			Buckets:   prometheus.ExponentialBuckets(1e-6, 2, 16),
		}),
		Outstanding: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "unacknowledged_frames",
			Help:      "Number of frames still waiting for a transmit timestamp.",
		}),
	}
	c.Registry.MustRegister(
		c.FramesSent,
		c.FramesReceived,
		c.TimestampsReceived,
		c.TxTimeDrops,
		c.WakeLatency,
		c.Outstanding,
	)
	return c
}

// FrameSent implements sched.Observer.
func (c *Collectors) FrameSent() {
	c.FramesSent.Inc()
}

// TimestampReceived implements sched.Observer.
func (c *Collectors) TimestampReceived(rec *txtstamp.Record) {
	if rec.Drop != txtstamp.DropNone {
		c.TxTimeDrops.WithLabelValues(rec.Drop.String()).Inc()
		return
	}
	if rec.Hardware != 0 {
		c.TimestampsReceived.WithLabelValues("hardware").Inc()
	}
	if rec.Software != 0 {
		c.TimestampsReceived.WithLabelValues("software").Inc()
	}
}

// WakeLateness implements sched.Observer.
func (c *Collectors) WakeLateness(d time.Duration) {
	c.WakeLatency.Observe(d.Seconds())
}

// Unacknowledged implements sched.Observer.
func (c *Collectors) Unacknowledged(n int64) {
	c.Outstanding.Set(float64(n))
}

// FrameReceived counts a received test frame.
func (c *Collectors) FrameReceived() {
	c.FramesReceived.Inc()
}

// Handler returns the HTTP handler exposing the registry.
func (c *Collectors) Handler() http.Handler {
	return promhttp.HandlerFor(c.Registry, promhttp.HandlerOpts{})
}

// Server serves the metrics over HTTP.
type Server struct {
	// Addr is the address we are listening on.
	Addr net.Addr

	server *http.Server
}

// Serve starts serving the collectors on address in the background.
func (c *Collectors) Serve(ctx context.Context, address string, logger *slog.Logger) (*Server, error) {
	listener, err := (&net.ListenConfig{}).Listen(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("%w: metrics listener: %w", errclass.ErrResourceAcquisition, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &Server{
		Addr:   listener.Addr(),
		server: &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second},
	}
	if logger != nil {
		logger.InfoContext(ctx, "metricsServe", slog.String("localAddr", listener.Addr().String()))
	}
	go func() {
		err := srv.server.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) && logger != nil {
			logger.WarnContext(ctx, "metricsServeDone",
				slog.Any("err", err),
				slog.String("errClass", errclass.New(err)),
			)
		}
	}()
	return srv, nil
}

// Close stops the server.
func (s *Server) Close() error {
	return s.server.Close()
}

// Package monitor holds the prometheus metrics of the instrument workers and
// the HTTP endpoint that exposes them.
package monitor

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var (
	// Requests counts executed requests by device, command and error type.
	Requests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "labsync_requests_total",
			Help: "Requests executed by device workers.",
		},
		[]string{"device_id", "cmd", "outcome"},
	)

	// PollTicks counts poll timer firings served by a worker.
	PollTicks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "labsync_poll_ticks_total",
			Help: "Poll timer ticks served.",
		},
		[]string{"device_id"},
	)

	// DroppedResults counts results discarded because the consumer lagged.
	DroppedResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "labsync_dropped_results_total",
			Help: "Results dropped on a full results channel.",
		},
		[]string{"device_id"},
	)

	// Connected is 1 while a device reports CONNECTED.
	Connected = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "labsync_device_connected",
			Help: "Connection state per device.",
		},
		[]string{"device_id"},
	)

	// CacheUpdates counts cache writes that changed a value.
	CacheUpdates = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "labsync_cache_updates_total",
			Help: "Instrument cache values changed.",
		},
		[]string{"device_id"},
	)

	// WireBytes counts bytes exchanged with instruments.
	WireBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "labsync_wire_bytes_total",
			Help: "Bytes written to and read from instruments.",
		},
		[]string{"port", "direction"},
	)

	// MirrorMessages counts cache changes handed to the Redis mirror.
	MirrorMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "labsync_mirror_messages_total",
			Help: "Cache changes mirrored to Redis by outcome.",
		},
		[]string{"outcome"},
	)
)

var registerOnce sync.Once

// Register adds all metrics to reg. Later calls are no-ops.
func Register(reg prometheus.Registerer) {
	registerOnce.Do(func() {
		reg.MustRegister(Requests, PollTicks, DroppedResults, Connected, CacheUpdates, WireBytes, MirrorMessages)
	})
}

// ObserveRequest records one executed request.
func ObserveRequest(device, cmd, outcome string) {
	Requests.WithLabelValues(device, cmd, outcome).Inc()
}

// SetConnected records the connection state of a device.
func SetConnected(device string, up bool) {
	v := 0.0
	if up {
		v = 1
	}
	Connected.WithLabelValues(device).Set(v)
}

// Serve exposes /metrics and /health on addr until ctx is done.
func Serve(ctx context.Context, addr string, log logrus.FieldLogger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()

	log.Infof("metrics server on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

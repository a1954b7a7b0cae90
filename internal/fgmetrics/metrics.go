// Package fgmetrics exposes the Prometheus metrics cmd/fgcore-bridge
// serves over /metrics, retargeted from the teacher's websocket
// connection/broadcast counters onto this module's own domain: sinks,
// channels, the worker pool, and the process's resource usage.
package fgmetrics

import (
	"net/http"
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ChannelsRegistered = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "fgcore_channels_registered",
		Help: "Current number of channels registered on the context",
	})

	SinksRegistered = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "fgcore_sinks_registered",
		Help: "Current number of sinks registered on the context",
	})

	MessagesLogged = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fgcore_messages_logged_total",
		Help: "Total messages logged to a channel, by topic",
	}, []string{"topic"})

	MessagesDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fgcore_messages_dropped_total",
		Help: "Total messages dropped by a sink's bounded queue, by sink kind",
	}, []string{"sink"})

	WSServerClientsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "fgcore_wsserver_clients_active",
		Help: "Current number of connected wsserver clients",
	})

	WSServerSubscriptions = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fgcore_wsserver_subscriptions",
		Help: "Current number of client subscriptions, by channel topic",
	}, []string{"topic"})

	RelayReconnectsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fgcore_relay_reconnects_total",
		Help: "Total relay session reconnect attempts",
	})

	RelayConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "fgcore_relay_connected",
		Help: "Relay session status (1=connected, 0=disconnected)",
	})

	MCAPBytesWritten = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fgcore_mcap_bytes_written_total",
		Help: "Total bytes written to the MCAP sink's output",
	})

	WorkerPoolQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "fgcore_worker_pool_queue_depth",
		Help: "Current number of tasks waiting in the service handler worker pool",
	})

	WorkerPoolDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fgcore_worker_pool_dropped_total",
		Help: "Total tasks dropped because the worker pool queue was full",
	})

	MemoryUsageBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "fgcore_process_memory_bytes",
		Help: "Current process heap usage in bytes",
	})

	GoroutinesActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "fgcore_goroutines_active",
		Help: "Current number of live goroutines",
	})
)

func init() {
	prometheus.MustRegister(
		ChannelsRegistered,
		SinksRegistered,
		MessagesLogged,
		MessagesDropped,
		WSServerClientsActive,
		WSServerSubscriptions,
		RelayReconnectsTotal,
		RelayConnected,
		MCAPBytesWritten,
		WorkerPoolQueueDepth,
		WorkerPoolDropped,
		MemoryUsageBytes,
		GoroutinesActive,
	)
}

// SampleRuntime updates the process-wide gauges from runtime stats.
// Call it on a periodic ticker from the owning application.
func SampleRuntime() {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	MemoryUsageBytes.Set(float64(mem.HeapAlloc))
	GoroutinesActive.Set(float64(runtime.NumGoroutine()))
}

// Handler returns the HTTP handler to mount at /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

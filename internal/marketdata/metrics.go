package marketdata

import "github.com/prometheus/client_golang/prometheus"

var (
	// ConnectionsGauge tracks active market data WebSocket connections.
	ConnectionsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "marketdata_ws_connections",
		Help: "Current number of active market data WebSocket connections.",
	})
	// BroadcastCounter counts broadcast frames, labelled by stream type.
	BroadcastCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "marketdata_broadcasts_total",
		Help: "Total number of market data frames broadcast to subscribers.",
	}, []string{"stream"})
	// SuppressedCounter counts polls suppressed because nothing changed.
	SuppressedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "marketdata_suppressed_total",
		Help: "Total number of poll results suppressed as unchanged.",
	}, []string{"stream"})
	// DroppedCounter counts frames dropped because a client was too slow.
	DroppedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "marketdata_dropped_frames_total",
		Help: "Total number of frames dropped for slow clients.",
	})
	// PollErrors counts failed stream fetches, labelled by stream type.
	PollErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "marketdata_poll_errors_total",
		Help: "Total number of failed market data fetches.",
	}, []string{"stream"})
)

func init() {
	prometheus.MustRegister(ConnectionsGauge, BroadcastCounter, SuppressedCounter, DroppedCounter, PollErrors)
}

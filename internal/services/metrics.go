package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all custom Prometheus metrics for the application
type Metrics struct {
	// Reconciliation metrics
	PollCycles    prometheus.Counter
	PollErrors    *prometheus.CounterVec
	ReplicaWrites *prometheus.CounterVec

	// Fan-out metrics
	BroadcastsSent *prometheus.CounterVec

	// Auth metrics
	AuthFailures *prometheus.CounterVec
}

// InitMetrics initializes the Prometheus metrics and registers a gauge
// that reports active WebSocket connections from the connection manager.
func InitMetrics(connManager *ConnectionManager) *Metrics {
	metrics := &Metrics{
		PollCycles: promauto.NewCounter(prometheus.CounterOpts{
			Name: "julesboard_poll_cycles_total",
			Help: "Total number of reconciliation tick cycles run",
		}),

		PollErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "julesboard_poll_errors_total",
			Help: "Total number of per-session poll failures by kind",
		}, []string{"kind"}), // "transport", "upstream", "store"

		ReplicaWrites: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "julesboard_replica_writes_total",
			Help: "Total number of replica store writes by record type",
		}, []string{"record"}), // "session" or "activities"

		BroadcastsSent: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "julesboard_broadcasts_sent_total",
			Help: "Total number of events delivered to live connections by type",
		}, []string{"type"}),

		AuthFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "julesboard_auth_failures_total",
			Help: "Total number of rejected authentication attempts by path",
		}, []string{"path"}), // "ws" or "http"
	}

	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "julesboard_websocket_connections_current",
			Help: "Current number of active WebSocket connections",
		},
		func() float64 {
			if connManager != nil {
				return float64(connManager.Count())
			}
			return 0
		},
	))

	return metrics
}

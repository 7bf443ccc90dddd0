// Package metrics has the Prometheus metric variables and the optional
// exposition endpoint.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	metricSessions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fwdmail_sessions_total",
			Help: "SMTP sessions and their outcomes.",
		},
		[]string{
			"result", // completed, aborted
		},
	)

	metricMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fwdmail_messages_total",
			Help: "Mail transactions received over SMTP and their outcomes.",
		},
		[]string{
			"result", // accepted, failed, toolarge, malformed
		},
	)

	metricDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fwdmail_deliveries_total",
			Help: "Per-domain delivery attempts by backend.",
		},
		[]string{
			"backend",
			"result", // ok, error
		},
	)
)

// SessionInc counts a finished SMTP session.
func SessionInc(result string) {
	metricSessions.WithLabelValues(result).Inc()
}

// MessageInc counts a completed mail transaction.
func MessageInc(result string) {
	metricMessages.WithLabelValues(result).Inc()
}

// DeliveryInc counts one per-domain delivery attempt.
func DeliveryInc(backend, result string) {
	metricDeliveries.WithLabelValues(backend, result).Inc()
}

// Serve exposes /metrics on addr. It blocks like http.ListenAndServe.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return srv.ListenAndServe()
}

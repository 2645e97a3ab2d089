package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	LoginsBegun      prometheus.Counter
	LoginsCompleted  prometheus.Counter
	LoginsTimedOut   prometheus.Counter
	SessionsCreated  prometheus.Counter
	SessionsDeleted  prometheus.Counter
	RotatorEvictions prometheus.Counter
	RotatorReplays   prometheus.Counter
	WaitSeconds      prometheus.Histogram
}

// New creates and registers all metrics against reg. Pass nil to create
// unregistered metrics (tests).
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		LoginsBegun: factory.NewCounter(prometheus.CounterOpts{
			Name: "inverse_y_logins_begun_total",
			Help: "Total login handshakes started",
		}),
		LoginsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "inverse_y_logins_completed_total",
			Help: "Total login handshakes completed successfully",
		}),
		LoginsTimedOut: factory.NewCounter(prometheus.CounterOpts{
			Name: "inverse_y_logins_timed_out_total",
			Help: "Total login handshakes abandoned on timeout",
		}),
		SessionsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "inverse_y_sessions_created_total",
			Help: "Total sessions created",
		}),
		SessionsDeleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "inverse_y_sessions_deleted_total",
			Help: "Total sessions deleted on logout",
		}),
		RotatorEvictions: factory.NewCounter(prometheus.CounterOpts{
			Name: "inverse_y_rotator_evictions_total",
			Help: "Total rotator session spaces evicted for capacity",
		}),
		RotatorReplays: factory.NewCounter(prometheus.CounterOpts{
			Name: "inverse_y_rotator_replays_rejected_total",
			Help: "Total superseded session identifiers rejected",
		}),
		WaitSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "inverse_y_login_wait_seconds",
			Help:    "Wall time spent waiting for slot completion",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 15, 20, 30},
		}),
	}
}

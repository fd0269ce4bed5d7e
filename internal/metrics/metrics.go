package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Grants = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "housepoints", Name: "grants_total", Help: "Point grants applied",
	}, []string{"type"})
	GrantErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "housepoints", Name: "grant_errors_total", Help: "Point grants rejected or failed",
	}, []string{"type"})
	RecomputeDiffs = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "housepoints", Name: "recompute_diffs_total", Help: "Houses corrected by reconciliation sweeps",
	})
	Rollbacks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "housepoints", Name: "rollbacks_total", Help: "Rollback requests by outcome",
	}, []string{"outcome"})
	ProjectionFallbacks = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "housepoints", Name: "projection_fallbacks_total", Help: "Reads served from live aggregation because projections were stale or missing",
	})
	HandlerErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "housepoints", Name: "handler_errors_total", Help: "HTTP handler errors",
	})
	DBPing = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "housepoints", Name: "db_ping_seconds", Help: "DB ping latency",
		Buckets: prometheus.DefBuckets,
	})
)

func init() {
	prometheus.MustRegister(Grants, GrantErrors, RecomputeDiffs, Rollbacks, ProjectionFallbacks, HandlerErrors, DBPing)
}

func Handler() http.Handler { return promhttp.Handler() }

func ObserveDBPing(d time.Duration) { DBPing.Observe(d.Seconds()) }

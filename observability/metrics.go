package observability

import (
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Skryldev/mcp-user-tools/db"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mcp_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "route", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mcp_http_request_duration_seconds",
		Help:    "Duration of HTTP requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})

	toolInvocations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mcp_tool_invocations_total",
		Help: "Tool invocations by tool and outcome",
	}, []string{"tool", "status"})

	toolDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mcp_tool_duration_seconds",
		Help:    "Duration of tool invocations",
		Buckets: prometheus.DefBuckets,
	}, []string{"tool"})

	dbQueries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mcp_db_queries_total",
		Help: "SQL statements by leading keyword and result",
	}, []string{"statement", "result"})

	dbQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mcp_db_query_duration_seconds",
		Help:    "Duration of SQL statements",
		Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"statement"})
)

// ObserveHTTPRequest records an HTTP request metric.
func ObserveHTTPRequest(method, route, status string, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, status).Inc()
	httpRequestDuration.WithLabelValues(method, route, status).Observe(duration.Seconds())
}

// ObserveTool records one tool invocation. status is "success" or "error".
func ObserveTool(tool, status string, duration time.Duration) {
	toolInvocations.WithLabelValues(tool, status).Inc()
	toolDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

// HTTPMetricsMiddleware instruments requests with Prometheus metrics. The
// route label is the chi route pattern so path parameters do not explode
// cardinality.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		ObserveHTTPRequest(r.Method, route, strconv.Itoa(ww.status), time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// QueryCollector feeds db statement observations into Prometheus.
type QueryCollector struct{}

// RecordQuery implements db.MetricsCollector.
func (QueryCollector) RecordQuery(query string, duration time.Duration, success bool) {
	verb := db.StatementVerb(query)
	result := "success"
	if !success {
		result = "error"
	}
	dbQueries.WithLabelValues(verb, result).Inc()
	dbQueryDuration.WithLabelValues(verb).Observe(duration.Seconds())
}

var _ db.MetricsCollector = QueryCollector{}

// RegisterPoolStats exports the connection pool statistics of sqldb as the
// go_sql_* metrics, labelled with dbName.
func RegisterPoolStats(reg prometheus.Registerer, sqldb *sql.DB, dbName string) error {
	return reg.Register(collectors.NewDBStatsCollector(sqldb, dbName))
}

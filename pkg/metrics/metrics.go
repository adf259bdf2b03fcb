// Package metrics exposes the Prometheus collectors for the session core,
// mirroring the teacher's pkg/metrics: a private registry, an HTTP
// instrumentation wrapper, and Record* helpers per domain concern.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every collector registered by this package.
var Registry = prometheus.NewRegistry()

var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "sessioncore", Subsystem: "http", Name: "inflight_requests",
		Help: "Current number of in-flight HTTP requests.",
	})

	httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sessioncore", Subsystem: "http", Name: "requests_total",
		Help: "Total HTTP requests handled.",
	}, []string{"method", "path", "status"})

	httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "sessioncore", Subsystem: "http", Name: "request_duration_seconds",
		Help: "HTTP request duration.", Buckets: prometheus.ExponentialBuckets(0.005, 2, 10),
	}, []string{"method", "path"})

	sessionTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sessioncore", Subsystem: "session", Name: "transitions_total",
		Help: "Session state machine transitions.",
	}, []string{"type", "transition"})

	settlementAmount = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "sessioncore", Subsystem: "ledger", Name: "settlement_amount",
		Help: "Total settled session amount.", Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
	}, []string{"partial"})

	payoutRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sessioncore", Subsystem: "payout", Name: "runs_total",
		Help: "Payout scheduler outcomes per reader.",
	}, []string{"status"})

	rateLimitRejections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sessioncore", Subsystem: "ratelimit", Name: "rejections_total",
		Help: "Rate limit rejections by category.",
	}, []string{"category"})

	busFanout = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sessioncore", Subsystem: "eventbus", Name: "publish_total",
		Help: "Event bus publish attempts by channel kind and result.",
	}, []string{"kind", "result"})

	acceptRaceLosses = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sessioncore", Subsystem: "presence", Name: "accept_race_losses_total",
		Help: "Accept attempts that lost the reader-presence race.",
	}, []string{"reader_id"})
)

func init() {
	Registry.MustRegister(
		httpInFlight, httpRequests, httpDuration,
		sessionTransitions, settlementAmount, payoutRuns,
		rateLimitRejections, busFanout, acceptRaceLosses,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
}

// Handler exposes the registered collectors for scraping.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// InstrumentHandler wraps next with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)
		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	})
}

// RecordSessionTransition records a session FSM transition.
func RecordSessionTransition(sessionType, transition string) {
	sessionTransitions.WithLabelValues(sessionType, transition).Inc()
}

// RecordSettlement records the settled amount of a completed session.
func RecordSettlement(totalAmount float64, partial bool) {
	label := "false"
	if partial {
		label = "true"
	}
	settlementAmount.WithLabelValues(label).Observe(totalAmount)
}

// RecordPayoutRun records a single reader's payout outcome.
func RecordPayoutRun(status string) {
	payoutRuns.WithLabelValues(status).Inc()
}

// RecordRateLimitRejection records a rejected request by category.
func RecordRateLimitRejection(category string) {
	rateLimitRejections.WithLabelValues(category).Inc()
}

// RecordBusPublish records an event bus publish attempt.
func RecordBusPublish(kind string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	busFanout.WithLabelValues(kind, result).Inc()
}

// RecordAcceptRaceLoss records a losing accept attempt for a reader.
func RecordAcceptRaceLoss(readerID string) {
	acceptRaceLosses.WithLabelValues(readerID).Inc()
}

func canonicalPath(raw string) string {
	if raw == "" || raw == "/" {
		return "/"
	}
	trimmed := strings.Trim(raw, "/")
	parts := strings.Split(trimmed, "/")
	if len(parts) == 0 {
		return "/"
	}
	if len(parts) == 1 {
		return "/" + parts[0]
	}
	// Collapse the resource identifier segment, e.g. /sessions/<id>/accept.
	out := make([]string, 0, len(parts))
	out = append(out, parts[0])
	for i := 1; i < len(parts); i++ {
		if looksLikeID(parts[i]) {
			out = append(out, ":id")
			continue
		}
		out = append(out, parts[i])
	}
	return "/" + strings.Join(out, "/")
}

func looksLikeID(seg string) bool {
	if len(seg) < 8 {
		return false
	}
	hasDigit := false
	for _, r := range seg {
		if r >= '0' && r <= '9' {
			hasDigit = true
		}
	}
	return hasDigit
}

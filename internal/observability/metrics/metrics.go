// Package metrics records orchestrator, settlement and HTTP metrics with the
// Prometheus client and exposes them in the text exposition format.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder implements the recorder interfaces of the agent and settlement
// packages on top of a dedicated Prometheus registry.
type Recorder struct {
	registry *prometheus.Registry

	turnsTotal        *prometheus.CounterVec
	turnDuration      *prometheus.HistogramVec
	intentsTotal      *prometheus.CounterVec
	swapsTotal        *prometheus.CounterVec
	errorsTotal       *prometheus.CounterVec
	settlementsTotal  *prometheus.CounterVec
	settlementPolls   *prometheus.HistogramVec
	httpRequestsTotal *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
}

// NewRecorder creates a recorder with its own registry, including the Go
// runtime and process collectors.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		turnsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voiceswap_turns_total",
				Help: "Total number of conversational turns by action and resulting state",
			},
			[]string{"action", "state"},
		),
		turnDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "voiceswap_turn_duration_seconds",
				Help:    "Time spent handling one transcript",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"action"},
		),
		intentsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voiceswap_intents_total",
				Help: "Parsed intents by action and parser",
			},
			[]string{"action", "parsed_by"},
		),
		swapsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voiceswap_swaps_total",
				Help: "Swap executions by authorization path and outcome",
			},
			[]string{"path", "outcome"},
		),
		errorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voiceswap_errors_total",
				Help: "Errors surfaced to the user by error code",
			},
			[]string{"code"},
		),
		settlementsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voiceswap_settlements_total",
				Help: "Settlement polling results by final status",
			},
			[]string{"status"},
		),
		settlementPolls: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "voiceswap_settlement_attempts",
				Help:    "Number of status polls before a settlement result",
				Buckets: []float64{1, 2, 3, 5, 10, 20, 30},
			},
			[]string{"status"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voiceswap_http_requests_total",
				Help: "Total number of HTTP requests processed",
			},
			[]string{"handler", "method", "code"},
		),
		httpDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "voiceswap_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"handler", "method"},
		),
	}
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// ObserveTurn records a handled transcript.
func (r *Recorder) ObserveTurn(action, state string, duration time.Duration) {
	r.turnsTotal.WithLabelValues(action, state).Inc()
	r.turnDuration.WithLabelValues(action).Observe(duration.Seconds())
}

// ObserveIntent records which parser produced an intent.
func (r *Recorder) ObserveIntent(action, parsedBy string) {
	r.intentsTotal.WithLabelValues(action, parsedBy).Inc()
}

// ObserveSwap records an execution attempt. path is manual or delegated.
func (r *Recorder) ObserveSwap(path, outcome string) {
	r.swapsTotal.WithLabelValues(path, outcome).Inc()
}

// ObserveError records an error spoken to the user.
func (r *Recorder) ObserveError(code string) {
	r.errorsTotal.WithLabelValues(code).Inc()
}

// ObserveSettlement records the end of a polling loop.
func (r *Recorder) ObserveSettlement(status string, attempts int) {
	r.settlementsTotal.WithLabelValues(status).Inc()
	r.settlementPolls.WithLabelValues(status).Observe(float64(attempts))
}

// ObserveHTTPRequest records metrics about an HTTP request lifecycle.
func (r *Recorder) ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	r.httpRequestsTotal.WithLabelValues(handler, method, strconv.Itoa(status)).Inc()
	r.httpDuration.WithLabelValues(handler, method).Observe(duration.Seconds())
}

// Handler exposes the metrics in Prometheus text exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Middleware wraps next and records request count and latency under name.
func (r *Recorder) Middleware(name string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, req)
		r.ObserveHTTPRequest(name, req.Method, rec.status, time.Since(start))
	})
}

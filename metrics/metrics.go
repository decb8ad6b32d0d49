package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chatdesk"

// Outcomes of a generation turn.
const (
	OutcomeSuccess  = "success"
	OutcomeError    = "error"
	OutcomeRedirect = "redirect"
)

// Recorder owns the service's collectors. Each Recorder registers into its
// own registry so tests can build as many as they like.
type Recorder struct {
	registry *prometheus.Registry

	generations  *prometheus.CounterVec
	streamChunks prometheus.Counter
	sessionSaves *prometheus.CounterVec
	strippedImgs prometheus.Counter
	httpRequests *prometheus.CounterVec
}

func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		generations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generations_total",
			Help:      "Settled generation turns by path and outcome.",
		}, []string{"path", "outcome"}),
		streamChunks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_chunks_total",
			Help:      "Text chunks folded into in-flight messages.",
		}),
		sessionSaves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_saves_total",
			Help:      "Session writes by result (ok, degraded, error).",
		}, []string{"result"}),
		strippedImgs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stripped_images_total",
			Help:      "Image payloads dropped by quota-degraded session writes.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"method", "route", "status"}),
	}
	r.registry.MustRegister(
		r.generations,
		r.streamChunks,
		r.sessionSaves,
		r.strippedImgs,
		r.httpRequests,
		collectors.NewGoCollector(),
	)
	return r
}

// A nil *Recorder is valid and records nothing.

func (r *Recorder) Generation(path, outcome string) {
	if r == nil {
		return
	}
	r.generations.WithLabelValues(path, outcome).Inc()
}

func (r *Recorder) StreamChunk() {
	if r == nil {
		return
	}
	r.streamChunks.Inc()
}

func (r *Recorder) SessionSaved(degraded bool, stripped int, err error) {
	if r == nil {
		return
	}
	switch {
	case err != nil:
		r.sessionSaves.WithLabelValues("error").Inc()
	case degraded:
		r.sessionSaves.WithLabelValues("degraded").Inc()
	default:
		r.sessionSaves.WithLabelValues("ok").Inc()
	}
	if stripped > 0 {
		r.strippedImgs.Add(float64(stripped))
	}
}

func (r *Recorder) HTTPRequest(method, route, status string) {
	if r == nil {
		return
	}
	r.httpRequests.WithLabelValues(method, route, status).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

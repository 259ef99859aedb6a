// Package metrics exposes Prometheus counters for authentication events and
// a latency histogram for HTTP requests.
//
// Metric naming follows Prometheus conventions: the examportal_ prefix,
// _total for counters and _seconds for durations.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"go-exam-portal/internal/event"
)

type Recorder struct {
	registry *prometheus.Registry

	authEvents      *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// NewRecorder builds a recorder on its own registry so tests and multiple
// servers in one process do not collide.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		authEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "examportal_auth_events_total",
				Help: "Authentication events by type, role and reason.",
			},
			[]string{"type", "role", "reason"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "examportal_http_request_duration_seconds",
				Help:    "HTTP request latency by method, route pattern and status.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route", "status"},
		),
	}

	r.registry.MustRegister(
		r.authEvents,
		r.requestDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

func (r *Recorder) Record(e event.Event) {
	r.authEvents.WithLabelValues(string(e.Type), string(e.Role), e.Reason).Inc()
}

func (r *Recorder) ObserveRequest(method string, route string, status int, elapsed time.Duration) {
	r.requestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(elapsed.Seconds())
}

// Run consumes bus events until ctx is cancelled.
func (r *Recorder) Run(ctx context.Context, bus event.Bus) {
	events, unsubscribe := bus.Subscribe()
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			r.Record(e)
		}
	}
}

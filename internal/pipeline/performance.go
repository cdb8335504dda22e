package pipeline

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns one registry per server instance so several instances can
// live in one process.
type Metrics struct {
	Registry *prometheus.Registry

	RequestDuration *prometheus.HistogramVec
}

// MetricSources feeds the gauge and counter functions registered with the
// metrics. Any field may be nil.
type MetricSources struct {
	Requests func() int64
	Reloads  func() int64
	Clients  func() int
}

// NewMetrics registers the request histogram and the instance gauges.
func NewMetrics(src MetricSources) *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &Metrics{
		Registry: reg,
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "devserve_request_duration_seconds",
				Help:    "Request duration in seconds by method and status",
				Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"method", "status"},
		),
	}

	if src.Requests != nil {
		factory.NewCounterFunc(prometheus.CounterOpts{
			Name: "devserve_requests_total",
			Help: "Requests served since start",
		}, func() float64 { return float64(src.Requests()) })
	}
	if src.Reloads != nil {
		factory.NewCounterFunc(prometheus.CounterOpts{
			Name: "devserve_reloads_total",
			Help: "Reload notifications triggered by file changes",
		}, func() float64 { return float64(src.Reloads()) })
	}
	if src.Clients != nil {
		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "devserve_livereload_clients",
			Help: "Connected live-reload clients",
		}, func() float64 { return float64(src.Clients()) })
	}
	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

// Performance reports the handling time in X-Response-Time and, when m is
// not nil, in the request duration histogram.
func Performance(m *Metrics) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			tw := &timingWriter{StatusRecorder: NewStatusRecorder(w), start: start}
			next.ServeHTTP(tw, r)
			tw.stamp()
			if m != nil {
				m.RequestDuration.
					WithLabelValues(r.Method, strconv.Itoa(tw.Status)).
					Observe(time.Since(start).Seconds())
			}
		})
	}
}

// timingWriter sets X-Response-Time just before the header is flushed.
type timingWriter struct {
	*StatusRecorder
	start   time.Time
	stamped bool
}

func (t *timingWriter) stamp() {
	if t.stamped {
		return
	}
	t.stamped = true
	elapsed := float64(time.Since(t.start).Microseconds()) / 1000
	t.Header().Set("X-Response-Time", fmt.Sprintf("%.3fms", elapsed))
}

func (t *timingWriter) WriteHeader(code int) {
	t.stamp()
	t.StatusRecorder.WriteHeader(code)
}

func (t *timingWriter) Write(b []byte) (int, error) {
	t.stamp()
	return t.StatusRecorder.Write(b)
}
